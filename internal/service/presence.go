package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/google/uuid"
)

// PresenceTracker keeps one participant row per (session, user) and
// tracks whether the user is currently in the session.
type PresenceTracker struct {
	sessions     domain.SessionRepository
	participants domain.ParticipantRepository
	now          Clock
}

// NewPresenceTracker creates a new presence tracker
func NewPresenceTracker(sessions domain.SessionRepository, participants domain.ParticipantRepository, now Clock) *PresenceTracker {
	if now == nil {
		now = utcNow
	}
	return &PresenceTracker{sessions: sessions, participants: participants, now: now}
}

// Join is idempotent: an active participant is returned unchanged, an
// inactive one is reactivated. changed reports whether anything was
// written.
func (p *PresenceTracker) Join(ctx context.Context, sessionID, userID uuid.UUID, role domain.ParticipantRole) (*domain.Participant, bool, error) {
	return p.join(ctx, sessionID, userID, role, userID, false)
}

// Add is the explicit add-participant command; an already active
// participant is a conflict.
func (p *PresenceTracker) Add(ctx context.Context, sessionID, userID uuid.UUID, role domain.ParticipantRole, actor uuid.UUID) (*domain.Participant, error) {
	participant, _, err := p.join(ctx, sessionID, userID, role, actor, true)
	return participant, err
}

func (p *PresenceTracker) join(ctx context.Context, sessionID, userID uuid.UUID, role domain.ParticipantRole, actor uuid.UUID, strict bool) (*domain.Participant, bool, error) {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID, "userId": userID}); err != nil {
		return nil, false, err
	}
	if role == "" {
		role = domain.RoleParticipant
	}
	if !role.Valid() {
		return nil, false, domain.NewValidationError("role", "unknown participant role")
	}

	if _, err := p.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, false, lookupError(err, domain.CodeSessionNotFound, "session", sessionID)
	}

	now := p.now()
	existing, err := p.participants.Get(ctx, sessionID, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		participant := &domain.Participant{
			ID:        uuid.New(),
			SessionID: sessionID,
			UserID:    userID,
			Role:      role,
			JoinedAt:  now,
			IsActive:  true,
		}
		participant.Created(actor, now)

		err := p.participants.Create(ctx, participant)
		if err == nil {
			return participant, true, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, false, fmt.Errorf("failed to create participant: %w", err)
		}
		// lost a concurrent join for the same user
		existing, err = p.participants.Get(ctx, sessionID, userID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get participant: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("failed to get participant: %w", err)
	}

	if existing.IsActive {
		if strict {
			return nil, false, domain.NewError(domain.CodeParticipantAlreadyExists, "user %s is already in session %s", userID, sessionID)
		}
		return existing, false, nil
	}

	existing.IsActive = true
	existing.LeftAt = nil
	if strict {
		existing.Role = role
	}
	existing.Touch(actor, now)
	if err := p.participants.Update(ctx, existing); err != nil {
		return nil, false, fmt.Errorf("failed to reactivate participant: %w", err)
	}
	return existing, true, nil
}

// Leave marks the participant inactive. Leaving a session the user is not
// active in is a no-op.
func (p *PresenceTracker) Leave(ctx context.Context, sessionID, userID, actor uuid.UUID) (*domain.Participant, bool, error) {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID, "userId": userID}); err != nil {
		return nil, false, err
	}
	if _, err := p.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, false, lookupError(err, domain.CodeSessionNotFound, "session", sessionID)
	}

	participant, err := p.participants.Get(ctx, sessionID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get participant: %w", err)
	}
	if !participant.IsActive {
		return participant, false, nil
	}

	now := p.now()
	participant.IsActive = false
	participant.LeftAt = &now
	participant.Touch(actor, now)
	if err := p.participants.Update(ctx, participant); err != nil {
		return nil, false, fmt.Errorf("failed to update participant: %w", err)
	}
	return participant, true, nil
}

// Active lists the participants currently in the session
func (p *PresenceTracker) Active(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	if _, err := p.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, lookupError(err, domain.CodeSessionNotFound, "session", sessionID)
	}
	participants, err := p.participants.ListActive(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}
