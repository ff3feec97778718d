package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a Lean Coffee session
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "Scheduled"
	SessionInProgress SessionStatus = "InProgress"
	SessionCompleted  SessionStatus = "Completed"
	SessionArchived   SessionStatus = "Archived"
	SessionCancelled  SessionStatus = "Cancelled"
)

// Valid reports whether s is a known session status
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionInProgress, SessionCompleted, SessionArchived, SessionCancelled:
		return true
	}
	return false
}

// Session represents a single Lean Coffee meeting
type Session struct {
	ID                       uuid.UUID     `json:"id"`
	Title                    string        `json:"title"`
	Description              string        `json:"description,omitempty"`
	Status                   SessionStatus `json:"status"`
	FacilitatorID            uuid.UUID     `json:"facilitator_id"`
	ScheduledStartTime       *time.Time    `json:"scheduled_start_time,omitempty"`
	ScheduledEndTime         *time.Time    `json:"scheduled_end_time,omitempty"`
	ActualStartTime          *time.Time    `json:"actual_start_time,omitempty"`
	ActualEndTime            *time.Time    `json:"actual_end_time,omitempty"`
	DefaultTopicDurationMins int           `json:"default_topic_duration_minutes"`
	IsPublic                 bool          `json:"is_public"`
	InviteCode               string        `json:"invite_code,omitempty"`
	Audit
}

// SessionCreate represents session creation data
type SessionCreate struct {
	Title                    string     `json:"title" validate:"required,max=200"`
	Description              string     `json:"description" validate:"max=2000"`
	ScheduledStartTime       *time.Time `json:"scheduled_start_time,omitempty"`
	ScheduledEndTime         *time.Time `json:"scheduled_end_time,omitempty"`
	DefaultTopicDurationMins int        `json:"default_topic_duration_minutes" validate:"omitempty,min=1,max=120"`
	IsPublic                 bool       `json:"is_public"`
}

// SessionBoard is the read model a client loads on (re)connect
type SessionBoard struct {
	Session      Session       `json:"session"`
	Topics       []Topic       `json:"topics"`
	Participants []Participant `json:"participants"`
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByFacilitator(ctx context.Context, facilitatorID uuid.UUID, limit, offset int) ([]Session, error)
	Update(ctx context.Context, session *Session) error
}
