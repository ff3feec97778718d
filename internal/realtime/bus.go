package realtime

import (
	"context"
	"fmt"

	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LocalBus delivers events to the clients attached to this process's Hub
type LocalBus struct {
	hub *Hub
}

// NewLocalBus creates a new in-process event bus
func NewLocalBus(hub *Hub) *LocalBus {
	return &LocalBus{hub: hub}
}

// Broadcast implements events.EventBus
func (b *LocalBus) Broadcast(ctx context.Context, sessionID uuid.UUID, evt events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EventFrame(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	delivered := b.hub.Broadcast(events.Group(sessionID), payload, uuid.Nil)
	log.Debug().
		Str("session_id", sessionID.String()).
		Str("event_type", string(evt.Type)).
		Int("delivered", delivered).
		Msg("event broadcast")
	return nil
}
