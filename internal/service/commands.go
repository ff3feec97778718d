package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultTopicDurationMins = 7
	defaultListLimit         = 20
	maxListLimit             = 100
)

// CommandService sequences every mutating command: validate, persist
// through the ledger/tracker/lifecycle, then dispatch the resulting
// events. Dispatch never affects the command's outcome.
type CommandService struct {
	repos      Repositories
	ledger     *VoteLedger
	presence   *PresenceTracker
	lifecycle  *Lifecycle
	dispatcher Dispatcher
	cache      BoardCache
	order      *sessionSequencer
	now        Clock
}

// Option configures a CommandService
type Option func(*commandOptions)

type commandOptions struct {
	now      Clock
	policies Policies
	cache    BoardCache
}

// WithClock overrides the time source
func WithClock(now Clock) Option {
	return func(o *commandOptions) { o.now = now }
}

// WithPolicies overrides the lifecycle policies
func WithPolicies(p Policies) Option {
	return func(o *commandOptions) { o.policies = p }
}

// WithBoardCache reads boards through cache
func WithBoardCache(cache BoardCache) Option {
	return func(o *commandOptions) { o.cache = cache }
}

// NewCommandService creates a new command service
func NewCommandService(repos Repositories, dispatcher Dispatcher, opts ...Option) *CommandService {
	o := commandOptions{now: utcNow, policies: DefaultPolicies()}
	for _, opt := range opts {
		opt(&o)
	}

	return &CommandService{
		repos:      repos,
		ledger:     NewVoteLedger(repos.Topics, repos.Votes, o.now),
		presence:   NewPresenceTracker(repos.Sessions, repos.Participants, o.now),
		lifecycle:  NewLifecycle(repos.Sessions, repos.Topics, o.policies, o.now),
		dispatcher: dispatcher,
		cache:      o.cache,
		order:      newSessionSequencer(),
		now:        o.now,
	}
}

func (s *CommandService) emit(ctx context.Context, evts ...events.Event) {
	if s.dispatcher == nil || len(evts) == 0 {
		return
	}
	s.dispatcher.Dispatch(ctx, evts...)
}

// sequenced runs persist so that the events of one session are dispatched
// in the order their changes were stored.
func (s *CommandService) sequenced(ctx context.Context, sessionID uuid.UUID, persist func() ([]events.Event, error)) error {
	return s.order.run(sessionID, persist, func(evts []events.Event) {
		s.emit(ctx, evts...)
	})
}

// sessionOfTopic resolves the session a topic belongs to
func (s *CommandService) sessionOfTopic(ctx context.Context, topicID uuid.UUID) (uuid.UUID, error) {
	if err := requireIDs(map[string]uuid.UUID{"topicId": topicID}); err != nil {
		return uuid.Nil, err
	}
	topic, err := s.repos.Topics.GetByID(ctx, topicID)
	if err != nil {
		return uuid.Nil, lookupError(err, domain.CodeTopicNotFound, "topic", topicID)
	}
	return topic.SessionID, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession creates a scheduled session; the creator joins it as its
// facilitator.
func (s *CommandService) CreateSession(ctx context.Context, actor uuid.UUID, input domain.SessionCreate) (*domain.Session, error) {
	if err := requireIDs(map[string]uuid.UUID{"userId": actor}); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domain.NewValidationError("title", "is required")
	}
	if input.ScheduledStartTime != nil && input.ScheduledEndTime != nil && input.ScheduledEndTime.Before(*input.ScheduledStartTime) {
		return nil, domain.NewValidationError("scheduled_end_time", "must not be before scheduled_start_time")
	}

	duration := input.DefaultTopicDurationMins
	if duration == 0 {
		duration = defaultTopicDurationMins
	}

	id := uuid.New()
	now := s.now()
	session := &domain.Session{
		ID:                       id,
		Title:                    title,
		Description:              strings.TrimSpace(input.Description),
		Status:                   domain.SessionScheduled,
		FacilitatorID:            actor,
		ScheduledStartTime:       input.ScheduledStartTime,
		ScheduledEndTime:         input.ScheduledEndTime,
		DefaultTopicDurationMins: duration,
		IsPublic:                 input.IsPublic,
		InviteCode:               strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]),
	}
	session.Created(actor, now)

	if err := s.repos.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if _, _, err := s.presence.join(ctx, session.ID, actor, domain.RoleFacilitator, actor, false); err != nil {
		s.discardSession(ctx, session, actor)
		return nil, fmt.Errorf("failed to add facilitator: %w", err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("facilitator_id", actor.String()).
		Msg("Session created")
	return session, nil
}

// discardSession soft-deletes a session whose creation did not complete
func (s *CommandService) discardSession(ctx context.Context, session *domain.Session, actor uuid.UUID) {
	session.SoftDelete(actor, s.now())
	if err := s.repos.Sessions.Update(context.WithoutCancel(ctx), session); err != nil {
		log.Error().Err(err).
			Str("session_id", session.ID.String()).
			Msg("failed to discard session without facilitator")
	}
}

// GetSession returns one session
func (s *CommandService) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID}); err != nil {
		return nil, err
	}
	session, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, lookupError(err, domain.CodeSessionNotFound, "session", sessionID)
	}
	return session, nil
}

// ListSessions lists the sessions a user facilitates, newest first
func (s *CommandService) ListSessions(ctx context.Context, facilitatorID uuid.UUID, limit, offset int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)

	sessions, err := s.repos.Sessions.ListByFacilitator(ctx, facilitatorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// GetBoard returns the session with its live topics and active
// participants. Topics are grouped by status in flow order, most voted
// first within a status.
func (s *CommandService) GetBoard(ctx context.Context, sessionID uuid.UUID) (*domain.SessionBoard, error) {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID}); err != nil {
		return nil, err
	}

	var generation uint64
	cacheable := false
	if s.cache != nil {
		board, gen, err := s.cache.Get(ctx, sessionID)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("board cache read failed")
		case board != nil:
			return board, nil
		default:
			generation, cacheable = gen, true
		}
	}

	session, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, lookupError(err, domain.CodeSessionNotFound, "session", sessionID)
	}

	topics, err := s.repos.Topics.List(ctx, domain.TopicFilter{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	slices.SortStableFunc(topics, func(a, b domain.Topic) int {
		if c := cmp.Compare(statusRank(a.Status), statusRank(b.Status)); c != 0 {
			return c
		}
		return cmp.Compare(b.VoteCount, a.VoteCount)
	})

	participants, err := s.repos.Participants.ListActive(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	board := &domain.SessionBoard{Session: *session, Topics: topics, Participants: participants}
	if cacheable {
		if err := s.cache.Set(ctx, board, generation); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("board cache write failed")
		}
	}
	return board, nil
}

func statusRank(status domain.TopicStatus) int {
	switch status {
	case domain.TopicDiscussing:
		return 0
	case domain.TopicToDiscuss:
		return 1
	case domain.TopicDiscussed:
		return 2
	}
	return 3
}

// SetSessionStatus changes the session status
func (s *CommandService) SetSessionStatus(ctx context.Context, actor, sessionID uuid.UUID, status domain.SessionStatus) (*domain.Session, error) {
	var session *domain.Session
	err := s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var (
			tr  domain.SessionTransition
			err error
		)
		session, tr, err = s.lifecycle.SetSessionStatus(ctx, sessionID, status, actor)
		if err != nil || !tr.Changed() {
			return nil, err
		}
		return []events.Event{events.NewSessionStatusChanged(session.ID, session.Status, s.now())}, nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// StartSession moves the session to InProgress
func (s *CommandService) StartSession(ctx context.Context, actor, sessionID uuid.UUID) (*domain.Session, error) {
	return s.SetSessionStatus(ctx, actor, sessionID, domain.SessionInProgress)
}

// CloseSession completes the session
func (s *CommandService) CloseSession(ctx context.Context, actor, sessionID uuid.UUID) (*domain.Session, error) {
	var session *domain.Session
	err := s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var err error
		session, _, err = s.lifecycle.CloseSession(ctx, sessionID, actor)
		if err != nil {
			return nil, err
		}
		return []events.Event{events.NewSessionStatusChanged(session.ID, session.Status, s.now())}, nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ---------------------------------------------------------------------------
// Topics
// ---------------------------------------------------------------------------

// StoreTopic creates a topic when topicID is nil and edits it otherwise
func (s *CommandService) StoreTopic(ctx context.Context, actor, sessionID, topicID uuid.UUID, input domain.TopicInput) (*domain.Topic, error) {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID, "userId": actor}); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domain.NewValidationError("title", "is required")
	}
	if input.DisplayOrder != nil && *input.DisplayOrder < 0 {
		return nil, domain.NewValidationError("display_order", "must not be negative")
	}

	var topic *domain.Topic
	err := s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var (
			evt events.Event
			err error
		)
		if topicID == uuid.Nil {
			topic, evt, err = s.addTopic(ctx, actor, sessionID, title, input)
		} else {
			topic, evt, err = s.editTopic(ctx, actor, sessionID, topicID, title, input)
		}
		if err != nil {
			return nil, err
		}
		return []events.Event{evt}, nil
	})
	if err != nil {
		return nil, err
	}
	return topic, nil
}

func (s *CommandService) addTopic(ctx context.Context, actor, sessionID uuid.UUID, title string, input domain.TopicInput) (*domain.Topic, events.Event, error) {
	if _, err := s.repos.Sessions.GetByID(ctx, sessionID); err != nil {
		return nil, events.Event{}, lookupError(err, domain.CodeSessionNotFound, "session", sessionID)
	}

	order := 0
	if input.DisplayOrder != nil {
		order = *input.DisplayOrder
	} else {
		next, err := s.repos.Topics.NextDisplayOrder(ctx, sessionID)
		if err != nil {
			return nil, events.Event{}, fmt.Errorf("failed to get display order: %w", err)
		}
		order = next
	}

	now := s.now()
	topic := &domain.Topic{
		ID:           uuid.New(),
		SessionID:    sessionID,
		SubmitterID:  actor,
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		Status:       domain.TopicToDiscuss,
		DisplayOrder: order,
		IsAnonymous:  input.IsAnonymous,
	}
	topic.Created(actor, now)

	if err := s.repos.Topics.Create(ctx, topic); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, events.Event{}, domain.NewError(domain.CodeSessionNotFound, "session %s not found", sessionID)
		}
		return nil, events.Event{}, fmt.Errorf("failed to create topic: %w", err)
	}

	return topic, events.NewTopicAdded(*topic, now), nil
}

func (s *CommandService) editTopic(ctx context.Context, actor, sessionID, topicID uuid.UUID, title string, input domain.TopicInput) (*domain.Topic, events.Event, error) {
	topic, err := s.repos.Topics.GetByID(ctx, topicID)
	if err != nil {
		return nil, events.Event{}, lookupError(err, domain.CodeTopicNotFound, "topic", topicID)
	}
	if topic.SessionID != sessionID {
		return nil, events.Event{}, domain.NewValidationError("sessionId", "does not match the topic's session")
	}

	now := s.now()
	topic.Title = title
	topic.Description = strings.TrimSpace(input.Description)
	topic.IsAnonymous = input.IsAnonymous
	if input.DisplayOrder != nil {
		topic.DisplayOrder = *input.DisplayOrder
	}
	topic.Touch(actor, now)

	if err := s.repos.Topics.Update(ctx, topic); err != nil {
		return nil, events.Event{}, lookupError(err, domain.CodeTopicNotFound, "topic", topicID)
	}

	return topic, events.NewTopicEdited(*topic, now), nil
}

// DeleteTopic soft-deletes a topic
func (s *CommandService) DeleteTopic(ctx context.Context, actor, topicID uuid.UUID) error {
	sessionID, err := s.sessionOfTopic(ctx, topicID)
	if err != nil {
		return err
	}

	return s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		topic, err := s.repos.Topics.GetByID(ctx, topicID)
		if err != nil {
			return nil, lookupError(err, domain.CodeTopicNotFound, "topic", topicID)
		}

		now := s.now()
		wasCurrent := topic.Status == domain.TopicDiscussing
		topic.SoftDelete(actor, now)
		if err := s.repos.Topics.Update(ctx, topic); err != nil {
			return nil, lookupError(err, domain.CodeTopicNotFound, "topic", topicID)
		}

		evts := []events.Event{events.NewTopicDeleted(topic.SessionID, topic.ID, now)}
		if wasCurrent {
			evts = append(evts, events.NewCurrentTopicChanged(topic.SessionID, nil, now))
		}
		return evts, nil
	})
}

// SetTopicStatus changes a topic's status
func (s *CommandService) SetTopicStatus(ctx context.Context, actor, topicID uuid.UUID, status domain.TopicStatus) (*domain.Topic, error) {
	sessionID, err := s.sessionOfTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	var topic *domain.Topic
	err = s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var (
			changes []TopicChange
			err     error
		)
		topic, changes, err = s.lifecycle.SetTopicStatus(ctx, topicID, status, actor)
		return s.topicChangeEvents(changes), err
	})
	if err != nil {
		return nil, err
	}
	return topic, nil
}

// NextTopic moves the discussion to the most voted remaining topic. The
// returned topic is nil when none is left.
func (s *CommandService) NextTopic(ctx context.Context, actor, sessionID uuid.UUID) (*domain.Topic, error) {
	var next *domain.Topic
	err := s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var (
			changes []TopicChange
			err     error
		)
		next, changes, err = s.lifecycle.NextTopic(ctx, sessionID, actor)
		return s.topicChangeEvents(changes), err
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// topicChangeEvents turns persisted transitions into events. The current
// topic changes when a topic starts being discussed, or when the
// discussed topic stops without a successor.
func (s *CommandService) topicChangeEvents(changes []TopicChange) []events.Event {
	now := s.now()
	var evts []events.Event
	var current *uuid.UUID
	ended := false
	var sessionID uuid.UUID

	for _, c := range changes {
		if !c.Transition.Changed() {
			continue
		}
		sessionID = c.Topic.SessionID
		evts = append(evts, events.NewTopicStatusChanged(c.Topic.SessionID, c.Topic.ID, c.Topic.Status, now))
		switch {
		case c.Transition.To == domain.TopicDiscussing:
			id := c.Topic.ID
			current = &id
		case c.Transition.From == domain.TopicDiscussing:
			ended = true
		}
	}

	if current != nil || ended {
		evts = append(evts, events.NewCurrentTopicChanged(sessionID, current, now))
	}
	return evts
}

// ---------------------------------------------------------------------------
// Votes
// ---------------------------------------------------------------------------

// CastVote records the actor's vote for a topic
func (s *CommandService) CastVote(ctx context.Context, actor, sessionID, topicID uuid.UUID) (VoteResult, error) {
	var result VoteResult
	err := s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var err error
		result, err = s.ledger.Cast(ctx, sessionID, topicID, actor)
		if err != nil {
			return nil, err
		}
		return []events.Event{events.NewVoteCast(result.SessionID, result.TopicID, actor, result.VoteCount, s.now())}, nil
	})
	if err != nil {
		return VoteResult{}, err
	}
	return result, nil
}

// RemoveVote withdraws the actor's vote from a topic
func (s *CommandService) RemoveVote(ctx context.Context, actor, topicID uuid.UUID) (VoteResult, error) {
	sessionID, err := s.sessionOfTopic(ctx, topicID)
	if err != nil {
		return VoteResult{}, err
	}

	var result VoteResult
	err = s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var err error
		result, err = s.ledger.Remove(ctx, topicID, actor)
		if err != nil {
			return nil, err
		}
		return []events.Event{events.NewVoteRemoved(result.SessionID, result.TopicID, actor, result.VoteCount, s.now())}, nil
	})
	if err != nil {
		return VoteResult{}, err
	}
	return result, nil
}

// ListVotes lists the live votes of a session
func (s *CommandService) ListVotes(ctx context.Context, sessionID uuid.UUID) ([]domain.Vote, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	votes, err := s.repos.Votes.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return votes, nil
}

// ---------------------------------------------------------------------------
// Participants
// ---------------------------------------------------------------------------

// JoinSession marks the actor present; joining again is not an error
func (s *CommandService) JoinSession(ctx context.Context, actor, sessionID uuid.UUID) (*domain.Participant, error) {
	var participant *domain.Participant
	err := s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var (
			changed bool
			err     error
		)
		participant, changed, err = s.presence.Join(ctx, sessionID, actor, domain.RoleParticipant)
		if err != nil || !changed {
			return nil, err
		}
		return []events.Event{events.NewParticipantJoined(sessionID, actor, s.now())}, nil
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}

// LeaveSession marks the actor absent
func (s *CommandService) LeaveSession(ctx context.Context, actor, sessionID uuid.UUID) error {
	return s.RemoveParticipant(ctx, actor, sessionID, actor)
}

// AddParticipant adds another user to the session
func (s *CommandService) AddParticipant(ctx context.Context, actor, sessionID, userID uuid.UUID, role domain.ParticipantRole) (*domain.Participant, error) {
	var participant *domain.Participant
	err := s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var err error
		participant, err = s.presence.Add(ctx, sessionID, userID, role, actor)
		if err != nil {
			return nil, err
		}
		return []events.Event{events.NewParticipantJoined(sessionID, userID, s.now())}, nil
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}

// RemoveParticipant marks a user absent
func (s *CommandService) RemoveParticipant(ctx context.Context, actor, sessionID, userID uuid.UUID) error {
	return s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		_, changed, err := s.presence.Leave(ctx, sessionID, userID, actor)
		if err != nil || !changed {
			return nil, err
		}
		return []events.Event{events.NewParticipantLeft(sessionID, userID, s.now())}, nil
	})
}

// ListParticipants lists the active participants
func (s *CommandService) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	return s.presence.Active(ctx, sessionID)
}

// ---------------------------------------------------------------------------
// Notes
// ---------------------------------------------------------------------------

// StoreNote adds a note to the session, optionally tied to a topic
func (s *CommandService) StoreNote(ctx context.Context, actor, sessionID uuid.UUID, input domain.NoteCreate) (*domain.SessionNote, error) {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID, "userId": actor}); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domain.NewValidationError("content", "is required")
	}
	noteType := input.NoteType
	if noteType == "" {
		noteType = domain.NoteGeneral
	}
	if !noteType.Valid() {
		return nil, domain.NewValidationError("note_type", "unknown note type")
	}

	var note *domain.SessionNote
	err := s.sequenced(ctx, sessionID, func() ([]events.Event, error) {
		var err error
		note, err = s.persistNote(ctx, actor, sessionID, content, noteType, input.TopicID)
		if err != nil {
			return nil, err
		}
		return []events.Event{events.NewNoteAdded(*note, note.CreatedAt)}, nil
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (s *CommandService) persistNote(ctx context.Context, actor, sessionID uuid.UUID, content string, noteType domain.NoteType, topicID *uuid.UUID) (*domain.SessionNote, error) {
	if _, err := s.repos.Sessions.GetByID(ctx, sessionID); err != nil {
		return nil, lookupError(err, domain.CodeSessionNotFound, "session", sessionID)
	}
	if topicID != nil {
		topic, err := s.repos.Topics.GetByID(ctx, *topicID)
		if err != nil {
			return nil, lookupError(err, domain.CodeTopicNotFound, "topic", *topicID)
		}
		if topic.SessionID != sessionID {
			return nil, domain.NewValidationError("topic_id", "does not belong to the session")
		}
	}

	now := s.now()
	note := &domain.SessionNote{
		ID:        uuid.New(),
		SessionID: sessionID,
		TopicID:   topicID,
		Content:   content,
		NoteType:  noteType,
		AuthorID:  actor,
	}
	note.Created(actor, now)

	if err := s.repos.Notes.Create(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	return note, nil
}

// ListNotes lists the notes of a session in creation order
func (s *CommandService) ListNotes(ctx context.Context, sessionID uuid.UUID) ([]domain.SessionNote, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	notes, err := s.repos.Notes.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return notes, nil
}
