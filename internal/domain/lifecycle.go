package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// TransitionPolicy decides whether an entity may leave its terminal states.
// Each entity type carries its own policy so the rule is explicit rather
// than implied by whichever command happens to set the status.
type TransitionPolicy[S ~string] struct {
	Terminal     []S
	LockTerminal bool
}

// IsTerminal reports whether s is one of the policy's terminal states
func (p TransitionPolicy[S]) IsTerminal(s S) bool {
	return slices.Contains(p.Terminal, s)
}

// Allows reports whether from -> to is permitted. Re-applying the current
// status is always allowed.
func (p TransitionPolicy[S]) Allows(from, to S) bool {
	if from == to {
		return true
	}
	return !(p.LockTerminal && p.IsTerminal(from))
}

// DefaultSessionPolicy leaves terminal session states open to the generic
// status command.
func DefaultSessionPolicy() TransitionPolicy[SessionStatus] {
	return TransitionPolicy[SessionStatus]{
		Terminal:     []SessionStatus{SessionCompleted, SessionArchived, SessionCancelled},
		LockTerminal: false,
	}
}

// DefaultTopicPolicy makes Archived a dead end for topics.
func DefaultTopicPolicy() TransitionPolicy[TopicStatus] {
	return TransitionPolicy[TopicStatus]{
		Terminal:     []TopicStatus{TopicArchived},
		LockTerminal: true,
	}
}

// SessionTransition reports an applied session status change
type SessionTransition struct {
	From SessionStatus
	To   SessionStatus
}

// Changed reports whether the status actually moved
func (t SessionTransition) Changed() bool { return t.From != t.To }

// ApplyStatus moves the session to the given status and stamps the
// actual start/end times the first time they are reached.
func (s *Session) ApplyStatus(to SessionStatus, policy TransitionPolicy[SessionStatus], actor uuid.UUID, at time.Time) (SessionTransition, error) {
	if !to.Valid() {
		return SessionTransition{}, NewValidationError("status", "unknown session status")
	}
	if !policy.Allows(s.Status, to) {
		return SessionTransition{}, NewError(CodeInvalidStatusTransition, "session cannot move from %s to %s", s.Status, to)
	}

	tr := SessionTransition{From: s.Status, To: to}
	switch to {
	case SessionInProgress:
		if s.ActualStartTime == nil {
			s.ActualStartTime = &at
		}
	case SessionCompleted:
		if s.ActualEndTime == nil {
			s.ActualEndTime = &at
		}
	}

	s.Status = to
	s.Touch(actor, at)
	return tr, nil
}

// Close completes the session. Unlike ApplyStatus it refuses to run on a
// session that is already Completed.
func (s *Session) Close(policy TransitionPolicy[SessionStatus], actor uuid.UUID, at time.Time) (SessionTransition, error) {
	if s.Status == SessionCompleted {
		return SessionTransition{}, NewError(CodeSessionAlreadyCompleted, "session %s is already completed", s.ID)
	}
	return s.ApplyStatus(SessionCompleted, policy, actor, at)
}

// TopicTransition reports an applied topic status change
type TopicTransition struct {
	From TopicStatus
	To   TopicStatus
}

// Changed reports whether the status actually moved
func (t TopicTransition) Changed() bool { return t.From != t.To }

// ApplyStatus moves the topic to the given status. DiscussionStartedAt is
// stamped once, on the first ToDiscuss -> Discussing move;
// DiscussionEndedAt on every Discussing -> Discussed move.
func (t *Topic) ApplyStatus(to TopicStatus, policy TransitionPolicy[TopicStatus], actor uuid.UUID, at time.Time) (TopicTransition, error) {
	if !to.Valid() {
		return TopicTransition{}, NewValidationError("status", "unknown topic status")
	}
	if !policy.Allows(t.Status, to) {
		return TopicTransition{}, NewError(CodeInvalidStatusTransition, "topic cannot move from %s to %s", t.Status, to)
	}

	tr := TopicTransition{From: t.Status, To: to}
	switch {
	case tr.From == TopicToDiscuss && to == TopicDiscussing:
		if t.DiscussionStartedAt == nil {
			t.DiscussionStartedAt = &at
		}
	case tr.From == TopicDiscussing && to == TopicDiscussed:
		t.DiscussionEndedAt = &at
	}

	t.Status = to
	t.Touch(actor, at)
	return tr, nil
}
