package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/Rrens/lean-coffee/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingDispatcher collects dispatched events in order
type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evts ...events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evts...)
}

func (d *recordingDispatcher) all() []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]events.Event(nil), d.events...)
}

func (d *recordingDispatcher) types() []events.Type {
	var types []events.Type
	for _, e := range d.all() {
		types = append(types, e.Type)
	}
	return types
}

func (d *recordingDispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}

// tickClock advances one second per reading
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickClock() *tickClock {
	return &tickClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func memoryRepos(store *memory.Store) Repositories {
	return Repositories{
		Sessions:     store.Sessions(),
		Topics:       store.Topics(),
		Votes:        store.Votes(),
		Participants: store.Participants(),
		Notes:        store.Notes(),
		Devices:      store.Devices(),
	}
}

type fixture struct {
	store       *memory.Store
	svc         *CommandService
	dispatched  *recordingDispatcher
	clock       *tickClock
	facilitator uuid.UUID
	session     *domain.Session
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:       memory.NewStore(),
		dispatched:  &recordingDispatcher{},
		clock:       newTickClock(),
		facilitator: uuid.New(),
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.svc = NewCommandService(memoryRepos(f.store), f.dispatched, opts...)

	session, err := f.svc.CreateSession(context.Background(), f.facilitator, domain.SessionCreate{Title: "Team sync"})
	require.NoError(t, err)
	f.session = session
	f.dispatched.reset()
	return f
}

func (f *fixture) addTopic(t *testing.T, title string) *domain.Topic {
	t.Helper()
	topic, err := f.svc.StoreTopic(context.Background(), f.facilitator, f.session.ID, uuid.Nil, domain.TopicInput{Title: title})
	require.NoError(t, err)
	return topic
}

func (f *fixture) topic(t *testing.T, id uuid.UUID) *domain.Topic {
	t.Helper()
	topic, err := f.store.Topics().GetByID(context.Background(), id)
	require.NoError(t, err)
	return topic
}

// MockSender mocks push.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendToTopic(ctx context.Context, topic string, data map[string]string) error {
	args := m.Called(ctx, topic, data)
	return args.Error(0)
}

func (m *MockSender) SubscribeToTopic(ctx context.Context, tokens []string, topic string) error {
	args := m.Called(ctx, tokens, topic)
	return args.Error(0)
}

func (m *MockSender) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) error {
	args := m.Called(ctx, tokens, topic)
	return args.Error(0)
}

// MockEventBus mocks events.EventBus
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Broadcast(ctx context.Context, sessionID uuid.UUID, evt events.Event) error {
	args := m.Called(ctx, sessionID, evt)
	return args.Error(0)
}

// MockPushFanout mocks events.PushFanout
type MockPushFanout struct {
	mock.Mock
}

func (m *MockPushFanout) Publish(ctx context.Context, evt events.Event) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

// MockBoardCache mocks BoardCache
type MockBoardCache struct {
	mock.Mock
}

func (m *MockBoardCache) Get(ctx context.Context, sessionID uuid.UUID) (*domain.SessionBoard, uint64, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Get(1).(uint64), args.Error(2)
	}
	return args.Get(0).(*domain.SessionBoard), args.Get(1).(uint64), args.Error(2)
}

func (m *MockBoardCache) Set(ctx context.Context, board *domain.SessionBoard, generation uint64) error {
	args := m.Called(ctx, board, generation)
	return args.Error(0)
}

// MockBoardInvalidator mocks events.BoardInvalidator
type MockBoardInvalidator struct {
	mock.Mock
}

func (m *MockBoardInvalidator) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}
