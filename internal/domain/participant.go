package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ParticipantRole represents the role a user plays in a session
type ParticipantRole string

const (
	RoleFacilitator ParticipantRole = "Facilitator"
	RoleParticipant ParticipantRole = "Participant"
	RoleObserver    ParticipantRole = "Observer"
)

// Valid reports whether r is a known role
func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleFacilitator, RoleParticipant, RoleObserver:
		return true
	}
	return false
}

// Participant is a user's membership record in a session.
// At most one row exists per (session, user); rejoining reactivates it.
type Participant struct {
	ID               uuid.UUID       `json:"id"`
	SessionID        uuid.UUID       `json:"session_id"`
	UserID           uuid.UUID       `json:"user_id"`
	Role             ParticipantRole `json:"role"`
	JoinedAt         time.Time       `json:"joined_at"`
	LeftAt           *time.Time      `json:"left_at,omitempty"`
	IsActive         bool            `json:"is_active"`
	IsPushSubscribed bool            `json:"is_push_subscribed"`
	Audit
}

// ParticipantRepository defines the interface for participant storage
type ParticipantRepository interface {
	Create(ctx context.Context, participant *Participant) error
	Get(ctx context.Context, sessionID, userID uuid.UUID) (*Participant, error)
	Update(ctx context.Context, participant *Participant) error
	ListActive(ctx context.Context, sessionID uuid.UUID) ([]Participant, error)
}
