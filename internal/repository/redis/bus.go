package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventBus publishes events on a Redis channel so that every node relays
// them to its own connected clients. The publishing node receives its own
// message through the subscription like every other node.
type EventBus struct {
	client  *Client
	channel string
	local   events.EventBus
}

// NewEventBus creates a bus publishing on channel and relaying received
// events to local
func NewEventBus(client *Client, channel string, local events.EventBus) *EventBus {
	return &EventBus{client: client, channel: channel, local: local}
}

// Broadcast implements events.EventBus. When the publish fails the event
// is still delivered to this node's clients.
func (b *EventBus) Broadcast(ctx context.Context, sessionID uuid.UUID, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		localErr := b.local.Broadcast(ctx, sessionID, evt)
		return errors.Join(fmt.Errorf("failed to publish event: %w", err), localErr)
	}
	return nil
}

// Run relays published events to the local bus until ctx is done
func (b *EventBus) Run(ctx context.Context) error {
	sub := b.client.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	log.Info().Str("channel", b.channel).Msg("Event relay subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.relay(ctx, []byte(msg.Payload))
		}
	}
}

func (b *EventBus) relay(ctx context.Context, payload []byte) {
	var evt events.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		log.Warn().Err(err).Str("channel", b.channel).Msg("dropping malformed event")
		return
	}
	if err := b.local.Broadcast(ctx, evt.SessionID, evt); err != nil {
		log.Warn().Err(err).
			Str("session_id", evt.SessionID.String()).
			Str("event_type", string(evt.Type)).
			Msg("failed to relay event")
	}
}
