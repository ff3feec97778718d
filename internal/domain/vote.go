package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Vote is a single user's support for a topic
type Vote struct {
	ID        uuid.UUID `json:"id"`
	TopicID   uuid.UUID `json:"topic_id"`
	UserID    uuid.UUID `json:"user_id"`
	SessionID uuid.UUID `json:"session_id"`
	VotedAt   time.Time `json:"voted_at"`
	Audit
}

// VoteRepository defines the interface for the vote ledger storage.
// Create must return an error wrapping ErrAlreadyExists when a live vote
// for the same (topic, user) pair already exists.
type VoteRepository interface {
	Create(ctx context.Context, vote *Vote) error
	GetLive(ctx context.Context, topicID, userID uuid.UUID) (*Vote, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountLive(ctx context.Context, topicID uuid.UUID) (int, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Vote, error)
}
