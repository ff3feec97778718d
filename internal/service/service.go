// Package service holds the Lean Coffee command layer: the vote ledger,
// the presence tracker, the lifecycle manager and the orchestrator that
// sequences them with event dispatch.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/google/uuid"
)

// Clock returns the current time
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// Dispatcher emits events for changes that are already persisted
type Dispatcher interface {
	Dispatch(ctx context.Context, events ...events.Event)
}

// BoardCache is the read-through cache for session boards. Get reports the
// session's cache generation; Set drops the board when an invalidation
// happened since.
type BoardCache interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*domain.SessionBoard, uint64, error)
	Set(ctx context.Context, board *domain.SessionBoard, generation uint64) error
}

// Repositories groups the stores the services work on
type Repositories struct {
	Sessions     domain.SessionRepository
	Topics       domain.TopicRepository
	Votes        domain.VoteRepository
	Participants domain.ParticipantRepository
	Notes        domain.NoteRepository
	Devices      domain.DeviceTokenRepository
}

// lookupError turns a repository miss into the public not-found code and
// wraps anything else.
func lookupError(err error, code domain.ErrorCode, entity string, id uuid.UUID) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewError(code, "%s %s not found", entity, id)
	}
	return fmt.Errorf("failed to get %s: %w", entity, err)
}

// requireIDs rejects nil ids before any store access
func requireIDs(ids map[string]uuid.UUID) error {
	fields := map[string]string{}
	for field, id := range ids {
		if id == uuid.Nil {
			fields[field] = "is required"
		}
	}
	if len(fields) > 0 {
		return domain.NewValidationErrors(fields)
	}
	return nil
}
