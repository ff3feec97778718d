package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TopicStatus represents where a backlog item is in the discussion flow
type TopicStatus string

const (
	TopicToDiscuss  TopicStatus = "ToDiscuss"
	TopicDiscussing TopicStatus = "Discussing"
	TopicDiscussed  TopicStatus = "Discussed"
	TopicArchived   TopicStatus = "Archived"
)

// Valid reports whether s is a known topic status
func (s TopicStatus) Valid() bool {
	switch s {
	case TopicToDiscuss, TopicDiscussing, TopicDiscussed, TopicArchived:
		return true
	}
	return false
}

// Topic is a backlog item submitted for discussion within a session.
// VoteCount is derived from the vote ledger and only written by the
// repository's recompute path.
type Topic struct {
	ID                  uuid.UUID   `json:"id"`
	SessionID           uuid.UUID   `json:"session_id"`
	SubmitterID         uuid.UUID   `json:"submitter_id"`
	Title               string      `json:"title"`
	Description         string      `json:"description,omitempty"`
	Status              TopicStatus `json:"status"`
	VoteCount           int         `json:"vote_count"`
	DisplayOrder        int         `json:"display_order"`
	DiscussionStartedAt *time.Time  `json:"discussion_started_at,omitempty"`
	DiscussionEndedAt   *time.Time  `json:"discussion_ended_at,omitempty"`
	IsAnonymous         bool        `json:"is_anonymous"`
	Audit
}

// TopicInput carries the editable fields of a topic
type TopicInput struct {
	Title        string `json:"title" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=2000"`
	DisplayOrder *int   `json:"display_order,omitempty" validate:"omitempty,min=0"`
	IsAnonymous  bool   `json:"is_anonymous"`
}

// TopicFilter narrows a topic listing
type TopicFilter struct {
	SessionID uuid.UUID
	Statuses  []TopicStatus
}

// TopicRepository defines the interface for topic storage
type TopicRepository interface {
	Create(ctx context.Context, topic *Topic) error
	GetByID(ctx context.Context, id uuid.UUID) (*Topic, error)
	Update(ctx context.Context, topic *Topic) error
	List(ctx context.Context, filter TopicFilter) ([]Topic, error)
	NextDisplayOrder(ctx context.Context, sessionID uuid.UUID) (int, error)
	// RecomputeVoteCount recounts the live votes of a topic, stores the
	// result on the topic and returns it.
	RecomputeVoteCount(ctx context.Context, topicID, actor uuid.UUID, at time.Time) (int, error)
}
