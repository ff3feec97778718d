package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/hibiken/asynq"
)

// TaskSessionEvent is the queue task that carries one push message
const TaskSessionEvent = "push:session_event"

// SessionEventPayload is the JSON body of a TaskSessionEvent task
type SessionEventPayload struct {
	Topic string            `json:"topic"`
	Data  map[string]string `json:"data"`
}

// DirectFanout sends every event inline through the sender
type DirectFanout struct {
	sender Sender
	prefix string
}

// NewDirectFanout creates a fanout that calls the provider synchronously
func NewDirectFanout(sender Sender, topicPrefix string) *DirectFanout {
	return &DirectFanout{sender: sender, prefix: topicPrefix}
}

// Publish implements events.PushFanout
func (f *DirectFanout) Publish(ctx context.Context, evt events.Event) error {
	return f.sender.SendToTopic(ctx, Topic(f.prefix, evt.SessionID), evt.PushData())
}

// Enqueuer is the subset of *asynq.Client used to schedule push tasks
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueOptions controls how push tasks are enqueued
type QueueOptions struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// QueueFanout hands events to the asynq queue; a Worker performs the send
type QueueFanout struct {
	client Enqueuer
	prefix string
	opts   QueueOptions
}

// NewQueueFanout creates a queue-backed fanout
func NewQueueFanout(client Enqueuer, topicPrefix string, opts QueueOptions) *QueueFanout {
	if opts.Queue == "" {
		opts.Queue = "push"
	}
	return &QueueFanout{client: client, prefix: topicPrefix, opts: opts}
}

// Publish implements events.PushFanout
func (f *QueueFanout) Publish(ctx context.Context, evt events.Event) error {
	task, err := NewSessionEventTask(Topic(f.prefix, evt.SessionID), evt.PushData())
	if err != nil {
		return err
	}

	taskOpts := []asynq.Option{asynq.Queue(f.opts.Queue)}
	if f.opts.MaxRetry > 0 {
		taskOpts = append(taskOpts, asynq.MaxRetry(f.opts.MaxRetry))
	}
	if f.opts.Timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(f.opts.Timeout))
	}

	if _, err := f.client.EnqueueContext(ctx, task, taskOpts...); err != nil {
		return fmt.Errorf("failed to enqueue push task: %w", err)
	}
	return nil
}

// NewSessionEventTask builds the queue task for one push message
func NewSessionEventTask(topic string, data map[string]string) (*asynq.Task, error) {
	payload, err := json.Marshal(SessionEventPayload{Topic: topic, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode push task: %w", err)
	}
	return asynq.NewTask(TaskSessionEvent, payload), nil
}

// NopFanout drops every event; used when push is disabled
type NopFanout struct{}

func (NopFanout) Publish(context.Context, events.Event) error { return nil }
