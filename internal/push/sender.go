// Package push mirrors session events to devices through a topic-addressed
// push provider. Delivery is best effort.
package push

import (
	"context"

	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sender is the push provider contract: send a data payload to a topic,
// and manage which device tokens listen on a topic.
type Sender interface {
	SendToTopic(ctx context.Context, topic string, data map[string]string) error
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) error
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) error
}

// Topic returns the push topic of a session
func Topic(prefix string, sessionID uuid.UUID) string {
	return prefix + events.Group(sessionID)
}

// LogSender writes every call to the log instead of a provider. Used in
// development and when no credentials are configured.
type LogSender struct{}

// NewLogSender creates a new log sender
func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) SendToTopic(ctx context.Context, topic string, data map[string]string) error {
	log.Info().
		Str("topic", topic).
		Str("event_type", data["eventType"]).
		Interface("data", data).
		Msg("push message")
	return nil
}

func (s *LogSender) SubscribeToTopic(ctx context.Context, tokens []string, topic string) error {
	log.Info().Str("topic", topic).Int("tokens", len(tokens)).Msg("push subscribe")
	return nil
}

func (s *LogSender) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) error {
	log.Info().Str("topic", topic).Int("tokens", len(tokens)).Msg("push unsubscribe")
	return nil
}
