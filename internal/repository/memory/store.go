// Package memory is an in-process implementation of every repository. It
// enforces the same uniqueness rules as the Postgres schema and backs the
// "memory" database driver used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rrens/lean-coffee/internal/domain"
)

// Store holds all entities behind a single lock
type Store struct {
	mu           sync.RWMutex
	sessions     map[uuid.UUID]domain.Session
	topics       map[uuid.UUID]domain.Topic
	votes        map[uuid.UUID]domain.Vote
	participants map[uuid.UUID]domain.Participant
	notes        map[uuid.UUID]domain.SessionNote
	devices      map[uuid.UUID]domain.DeviceToken
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions:     make(map[uuid.UUID]domain.Session),
		topics:       make(map[uuid.UUID]domain.Topic),
		votes:        make(map[uuid.UUID]domain.Vote),
		participants: make(map[uuid.UUID]domain.Participant),
		notes:        make(map[uuid.UUID]domain.SessionNote),
		devices:      make(map[uuid.UUID]domain.DeviceToken),
	}
}

func notFound(entity string, key any) error {
	return fmt.Errorf("%s %v: %w", entity, key, domain.ErrNotFound)
}

func alreadyExists(entity string, key any) error {
	return fmt.Errorf("%s %v: %w", entity, key, domain.ErrAlreadyExists)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// SessionRepository implements domain.SessionRepository
type SessionRepository struct{ s *Store }

func (s *Store) Sessions() *SessionRepository { return &SessionRepository{s: s} }

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[session.ID]; ok {
		return alreadyExists("session", session.ID)
	}
	r.s.sessions[session.ID] = *session
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	session, ok := r.s.sessions[id]
	if !ok || session.IsDeleted {
		return nil, notFound("session", id)
	}
	return &session, nil
}

func (r *SessionRepository) ListByFacilitator(ctx context.Context, facilitatorID uuid.UUID, limit, offset int) ([]domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sessions := []domain.Session{}
	for _, session := range r.s.sessions {
		if session.FacilitatorID == facilitatorID && !session.IsDeleted {
			sessions = append(sessions, session)
		}
	}
	slices.SortFunc(sessions, func(a, b domain.Session) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 || offset >= len(sessions) {
		return []domain.Session{}, nil
	}
	end := min(offset+limit, len(sessions))
	return sessions[offset:end], nil
}

func (r *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.sessions[session.ID]
	if !ok || current.IsDeleted {
		return notFound("session", session.ID)
	}
	r.s.sessions[session.ID] = *session
	return nil
}

// ---------------------------------------------------------------------------
// Topics
// ---------------------------------------------------------------------------

// TopicRepository implements domain.TopicRepository
type TopicRepository struct{ s *Store }

func (s *Store) Topics() *TopicRepository { return &TopicRepository{s: s} }

func (r *TopicRepository) Create(ctx context.Context, topic *domain.Topic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[topic.SessionID]; !ok {
		return notFound("session", topic.SessionID)
	}
	if _, ok := r.s.topics[topic.ID]; ok {
		return alreadyExists("topic", topic.ID)
	}
	r.s.topics[topic.ID] = *topic
	return nil
}

func (r *TopicRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Topic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	topic, ok := r.s.topics[id]
	if !ok || topic.IsDeleted {
		return nil, notFound("topic", id)
	}
	return &topic, nil
}

// Update keeps the stored vote count; only RecomputeVoteCount writes it.
func (r *TopicRepository) Update(ctx context.Context, topic *domain.Topic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.topics[topic.ID]
	if !ok || current.IsDeleted {
		return notFound("topic", topic.ID)
	}
	updated := *topic
	updated.VoteCount = current.VoteCount
	r.s.topics[topic.ID] = updated
	return nil
}

func (r *TopicRepository) List(ctx context.Context, filter domain.TopicFilter) ([]domain.Topic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	topics := []domain.Topic{}
	for _, topic := range r.s.topics {
		if topic.SessionID != filter.SessionID || topic.IsDeleted {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, topic.Status) {
			continue
		}
		topics = append(topics, topic)
	}
	slices.SortFunc(topics, func(a, b domain.Topic) int {
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder - b.DisplayOrder
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return topics, nil
}

func (r *TopicRepository) NextDisplayOrder(ctx context.Context, sessionID uuid.UUID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	next := 0
	for _, topic := range r.s.topics {
		if topic.SessionID == sessionID && !topic.IsDeleted && topic.DisplayOrder >= next {
			next = topic.DisplayOrder + 1
		}
	}
	return next, nil
}

func (r *TopicRepository) RecomputeVoteCount(ctx context.Context, topicID, actor uuid.UUID, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	topic, ok := r.s.topics[topicID]
	if !ok || topic.IsDeleted {
		return 0, notFound("topic", topicID)
	}
	topic.VoteCount = r.s.countLiveLocked(topicID)
	topic.Touch(actor, at)
	r.s.topics[topicID] = topic
	return topic.VoteCount, nil
}

// ---------------------------------------------------------------------------
// Votes
// ---------------------------------------------------------------------------

// VoteRepository implements domain.VoteRepository
type VoteRepository struct{ s *Store }

func (s *Store) Votes() *VoteRepository { return &VoteRepository{s: s} }

func (s *Store) countLiveLocked(topicID uuid.UUID) int {
	n := 0
	for _, v := range s.votes {
		if v.TopicID == topicID && !v.IsDeleted {
			n++
		}
	}
	return n
}

// Create rejects a second live vote for the same (topic, user), mirroring
// the partial unique index of the Postgres schema.
func (r *VoteRepository) Create(ctx context.Context, vote *domain.Vote) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if topic, ok := r.s.topics[vote.TopicID]; !ok || topic.IsDeleted {
		return notFound("topic", vote.TopicID)
	}
	for _, v := range r.s.votes {
		if v.TopicID == vote.TopicID && v.UserID == vote.UserID && !v.IsDeleted {
			return alreadyExists("vote", vote.TopicID)
		}
	}
	r.s.votes[vote.ID] = *vote
	return nil
}

func (r *VoteRepository) GetLive(ctx context.Context, topicID, userID uuid.UUID) (*domain.Vote, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, v := range r.s.votes {
		if v.TopicID == topicID && v.UserID == userID && !v.IsDeleted {
			return &v, nil
		}
	}
	return nil, notFound("vote", topicID)
}

func (r *VoteRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.votes[id]; !ok {
		return notFound("vote", id)
	}
	delete(r.s.votes, id)
	return nil
}

func (r *VoteRepository) CountLive(ctx context.Context, topicID uuid.UUID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.countLiveLocked(topicID), nil
}

func (r *VoteRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Vote, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	votes := []domain.Vote{}
	for _, v := range r.s.votes {
		if v.SessionID == sessionID && !v.IsDeleted {
			votes = append(votes, v)
		}
	}
	slices.SortFunc(votes, func(a, b domain.Vote) int { return a.VotedAt.Compare(b.VotedAt) })
	return votes, nil
}

// ---------------------------------------------------------------------------
// Participants
// ---------------------------------------------------------------------------

// ParticipantRepository implements domain.ParticipantRepository
type ParticipantRepository struct{ s *Store }

func (s *Store) Participants() *ParticipantRepository { return &ParticipantRepository{s: s} }

func (r *ParticipantRepository) Create(ctx context.Context, p *domain.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[p.SessionID]; !ok {
		return notFound("session", p.SessionID)
	}
	for _, existing := range r.s.participants {
		if existing.SessionID == p.SessionID && existing.UserID == p.UserID && !existing.IsDeleted {
			return alreadyExists("participant", p.UserID)
		}
	}
	r.s.participants[p.ID] = *p
	return nil
}

func (r *ParticipantRepository) Get(ctx context.Context, sessionID, userID uuid.UUID) (*domain.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.participants {
		if p.SessionID == sessionID && p.UserID == userID && !p.IsDeleted {
			return &p, nil
		}
	}
	return nil, notFound("participant", userID)
}

func (r *ParticipantRepository) Update(ctx context.Context, p *domain.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.participants[p.ID]
	if !ok || current.IsDeleted {
		return notFound("participant", p.ID)
	}
	r.s.participants[p.ID] = *p
	return nil
}

func (r *ParticipantRepository) ListActive(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	participants := []domain.Participant{}
	for _, p := range r.s.participants {
		if p.SessionID == sessionID && p.IsActive && !p.IsDeleted {
			participants = append(participants, p)
		}
	}
	slices.SortFunc(participants, func(a, b domain.Participant) int { return a.JoinedAt.Compare(b.JoinedAt) })
	return participants, nil
}

// ---------------------------------------------------------------------------
// Notes
// ---------------------------------------------------------------------------

// NoteRepository implements domain.NoteRepository
type NoteRepository struct{ s *Store }

func (s *Store) Notes() *NoteRepository { return &NoteRepository{s: s} }

func (r *NoteRepository) Create(ctx context.Context, note *domain.SessionNote) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[note.SessionID]; !ok {
		return notFound("session", note.SessionID)
	}
	if note.TopicID != nil {
		if _, ok := r.s.topics[*note.TopicID]; !ok {
			return notFound("topic", *note.TopicID)
		}
	}
	r.s.notes[note.ID] = *note
	return nil
}

func (r *NoteRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.SessionNote, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	notes := []domain.SessionNote{}
	for _, n := range r.s.notes {
		if n.SessionID == sessionID && !n.IsDeleted {
			notes = append(notes, n)
		}
	}
	slices.SortFunc(notes, func(a, b domain.SessionNote) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return notes, nil
}

// ---------------------------------------------------------------------------
// Device tokens
// ---------------------------------------------------------------------------

// DeviceTokenRepository implements domain.DeviceTokenRepository
type DeviceTokenRepository struct{ s *Store }

func (s *Store) Devices() *DeviceTokenRepository { return &DeviceTokenRepository{s: s} }

func (r *DeviceTokenRepository) Upsert(ctx context.Context, device *domain.DeviceToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, d := range r.s.devices {
		if d.UserID == device.UserID && d.Token == device.Token && !d.IsDeleted {
			d.Platform = device.Platform
			d.IsActive = true
			d.Touch(device.CreatedBy, device.CreatedAt)
			r.s.devices[id] = d

			device.ID = d.ID
			device.IsActive = true
			device.Audit = d.Audit
			return nil
		}
	}
	device.IsActive = true
	r.s.devices[device.ID] = *device
	return nil
}

func (r *DeviceTokenRepository) Deactivate(ctx context.Context, userID uuid.UUID, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, d := range r.s.devices {
		if d.UserID == userID && d.Token == token && !d.IsDeleted {
			d.IsActive = false
			d.Touch(userID, time.Now())
			r.s.devices[id] = d
			return nil
		}
	}
	return notFound("device", userID)
}

func (r *DeviceTokenRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.DeviceToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	devices := []domain.DeviceToken{}
	for _, d := range r.s.devices {
		if d.UserID == userID && d.IsActive && !d.IsDeleted {
			devices = append(devices, d)
		}
	}
	slices.SortFunc(devices, func(a, b domain.DeviceToken) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return devices, nil
}
