package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// WorkerConfig holds the asynq server settings
type WorkerConfig struct {
	Concurrency int
	Queues      map[string]int
}

// Worker consumes push tasks from the queue and sends them
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker creates a push worker bound to the given Redis connection
func NewWorker(redisOpt asynq.RedisConnOpt, cfg WorkerConfig, sender Sender) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = map[string]int{"push": 1}
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		Logger:      zerologAdapter{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn().Err(err).
				Str("task_type", task.Type()).
				Int("retry", retried).
				Int("max_retry", maxRetry).
				Msg("push task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSessionEvent, NewSessionEventHandler(sender))

	return &Worker{server: srv, mux: mux}
}

// Start runs the worker in the background
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start push worker: %w", err)
	}
	log.Info().Msg("Push worker started")
	return nil
}

// Shutdown waits for in-flight tasks and stops the worker
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	log.Info().Msg("Push worker stopped")
}

// NewSessionEventHandler returns the handler for TaskSessionEvent tasks
func NewSessionEventHandler(sender Sender) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p SessionEventPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("malformed push payload: %v: %w", err, asynq.SkipRetry)
		}
		if p.Topic == "" {
			return fmt.Errorf("push payload without topic: %w", asynq.SkipRetry)
		}
		return sender.SendToTopic(ctx, p.Topic, p.Data)
	}
}

// zerologAdapter routes asynq's internal logging to the global logger
type zerologAdapter struct{}

func (zerologAdapter) Debug(args ...interface{}) { log.Debug().Msg(fmt.Sprint(args...)) }
func (zerologAdapter) Info(args ...interface{})  { log.Info().Msg(fmt.Sprint(args...)) }
func (zerologAdapter) Warn(args ...interface{})  { log.Warn().Msg(fmt.Sprint(args...)) }
func (zerologAdapter) Error(args ...interface{}) { log.Error().Msg(fmt.Sprint(args...)) }
func (zerologAdapter) Fatal(args ...interface{}) { log.Fatal().Msg(fmt.Sprint(args...)) }
