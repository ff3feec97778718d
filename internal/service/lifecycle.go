package service

import (
	"context"
	"fmt"

	"github.com/Rrens/lean-coffee/internal/config"
	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/google/uuid"
)

// Policies configures the session and topic state machines
type Policies struct {
	Session domain.TransitionPolicy[domain.SessionStatus]
	Topic   domain.TransitionPolicy[domain.TopicStatus]
	// SingleDiscussingTopic moves any other Discussing topic of the session
	// to Discussed when a topic starts being discussed.
	SingleDiscussingTopic bool
}

// DefaultPolicies returns the default transition policies
func DefaultPolicies() Policies {
	return Policies{
		Session:               domain.DefaultSessionPolicy(),
		Topic:                 domain.DefaultTopicPolicy(),
		SingleDiscussingTopic: true,
	}
}

// PoliciesFrom applies the configured lock flags to the default tables
func PoliciesFrom(cfg config.LifecycleConfig) Policies {
	p := DefaultPolicies()
	p.Session.LockTerminal = cfg.LockTerminalSession
	p.Topic.LockTerminal = cfg.LockTerminalTopic
	p.SingleDiscussingTopic = cfg.SingleDiscussingTopic
	return p
}

// TopicChange is one persisted topic status transition
type TopicChange struct {
	Topic      domain.Topic
	Transition domain.TopicTransition
}

// Lifecycle applies session and topic status transitions and persists
// them.
type Lifecycle struct {
	sessions domain.SessionRepository
	topics   domain.TopicRepository
	policies Policies
	now      Clock
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle(sessions domain.SessionRepository, topics domain.TopicRepository, policies Policies, now Clock) *Lifecycle {
	if now == nil {
		now = utcNow
	}
	return &Lifecycle{sessions: sessions, topics: topics, policies: policies, now: now}
}

// SetSessionStatus is the generic status change; setting the current
// status again only refreshes the audit stamps.
func (l *Lifecycle) SetSessionStatus(ctx context.Context, sessionID uuid.UUID, status domain.SessionStatus, actor uuid.UUID) (*domain.Session, domain.SessionTransition, error) {
	return l.updateSession(ctx, sessionID, func(s *domain.Session) (domain.SessionTransition, error) {
		return s.ApplyStatus(status, l.policies.Session, actor, l.now())
	})
}

// CloseSession completes the session and fails if it already is
func (l *Lifecycle) CloseSession(ctx context.Context, sessionID, actor uuid.UUID) (*domain.Session, domain.SessionTransition, error) {
	return l.updateSession(ctx, sessionID, func(s *domain.Session) (domain.SessionTransition, error) {
		return s.Close(l.policies.Session, actor, l.now())
	})
}

func (l *Lifecycle) updateSession(ctx context.Context, sessionID uuid.UUID, apply func(*domain.Session) (domain.SessionTransition, error)) (*domain.Session, domain.SessionTransition, error) {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID}); err != nil {
		return nil, domain.SessionTransition{}, err
	}

	session, err := l.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, domain.SessionTransition{}, lookupError(err, domain.CodeSessionNotFound, "session", sessionID)
	}

	tr, err := apply(session)
	if err != nil {
		return nil, domain.SessionTransition{}, err
	}

	if err := l.sessions.Update(ctx, session); err != nil {
		return nil, domain.SessionTransition{}, fmt.Errorf("failed to update session: %w", err)
	}
	return session, tr, nil
}

// SetTopicStatus moves a topic to status. The returned changes list every
// persisted transition in order, including topics that stopped being
// discussed because this one started.
func (l *Lifecycle) SetTopicStatus(ctx context.Context, topicID uuid.UUID, status domain.TopicStatus, actor uuid.UUID) (*domain.Topic, []TopicChange, error) {
	if err := requireIDs(map[string]uuid.UUID{"topicId": topicID}); err != nil {
		return nil, nil, err
	}
	if !status.Valid() {
		return nil, nil, domain.NewValidationError("status", "unknown topic status")
	}

	topic, err := l.topics.GetByID(ctx, topicID)
	if err != nil {
		return nil, nil, lookupError(err, domain.CodeTopicNotFound, "topic", topicID)
	}

	var changes []TopicChange
	if status == domain.TopicDiscussing && topic.Status != domain.TopicDiscussing {
		if !l.policies.Topic.Allows(topic.Status, status) {
			return nil, nil, domain.NewError(domain.CodeInvalidStatusTransition, "topic cannot move from %s to %s", topic.Status, status)
		}
		changes, err = l.endOtherDiscussions(ctx, topic.SessionID, topic.ID, actor)
		if err != nil {
			return nil, nil, err
		}
	}

	change, err := l.applyTopic(ctx, topic, status, actor)
	if err != nil {
		return nil, changes, err
	}
	return topic, append(changes, change), nil
}

// NextTopic ends the current discussion and starts the most voted topic
// still to discuss. Ties go to the lower display order, then the older
// topic. next is nil when nothing is left to discuss.
func (l *Lifecycle) NextTopic(ctx context.Context, sessionID, actor uuid.UUID) (*domain.Topic, []TopicChange, error) {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID}); err != nil {
		return nil, nil, err
	}
	if _, err := l.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, nil, lookupError(err, domain.CodeSessionNotFound, "session", sessionID)
	}

	changes, err := l.endOtherDiscussions(ctx, sessionID, uuid.Nil, actor)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := l.topics.List(ctx, domain.TopicFilter{
		SessionID: sessionID,
		Statuses:  []domain.TopicStatus{domain.TopicToDiscuss},
	})
	if err != nil {
		return nil, changes, fmt.Errorf("failed to list topics: %w", err)
	}
	if len(candidates) == 0 {
		return nil, changes, nil
	}

	// candidates are ordered by display order then creation time
	next := candidates[0]
	for _, t := range candidates[1:] {
		if t.VoteCount > next.VoteCount {
			next = t
		}
	}

	change, err := l.applyTopic(ctx, &next, domain.TopicDiscussing, actor)
	if err != nil {
		return nil, changes, err
	}
	return &next, append(changes, change), nil
}

func (l *Lifecycle) endOtherDiscussions(ctx context.Context, sessionID, keep, actor uuid.UUID) ([]TopicChange, error) {
	if !l.policies.SingleDiscussingTopic && keep != uuid.Nil {
		return nil, nil
	}

	current, err := l.topics.List(ctx, domain.TopicFilter{
		SessionID: sessionID,
		Statuses:  []domain.TopicStatus{domain.TopicDiscussing},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	var changes []TopicChange
	for i := range current {
		if current[i].ID == keep {
			continue
		}
		change, err := l.applyTopic(ctx, &current[i], domain.TopicDiscussed, actor)
		if err != nil {
			return changes, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func (l *Lifecycle) applyTopic(ctx context.Context, topic *domain.Topic, status domain.TopicStatus, actor uuid.UUID) (TopicChange, error) {
	tr, err := topic.ApplyStatus(status, l.policies.Topic, actor, l.now())
	if err != nil {
		return TopicChange{}, err
	}
	if err := l.topics.Update(ctx, topic); err != nil {
		return TopicChange{}, lookupError(err, domain.CodeTopicNotFound, "topic", topic.ID)
	}
	return TopicChange{Topic: *topic, Transition: tr}, nil
}
