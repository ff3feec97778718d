package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBus struct {
	mock.Mock
}

func (m *MockBus) Broadcast(ctx context.Context, sessionID uuid.UUID, event events.Event) error {
	args := m.Called(ctx, sessionID, event)
	return args.Error(0)
}

type MockPush struct {
	mock.Mock
}

func (m *MockPush) Publish(ctx context.Context, event events.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

type panickingBus struct{}

func (panickingBus) Broadcast(context.Context, uuid.UUID, events.Event) error {
	panic("transport exploded")
}

func TestEvent_PushData(t *testing.T) {
	sessionID, topicID, userID := uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

	evt := events.NewVoteCast(sessionID, topicID, userID, 3, at)
	data := evt.PushData()

	assert.Equal(t, "VoteCast", data["eventType"])
	assert.Equal(t, sessionID.String(), data["sessionId"])
	assert.Equal(t, topicID.String(), data["topicId"])
	assert.Equal(t, userID.String(), data["userId"])
	assert.Equal(t, "3", data["voteCount"])
	assert.Equal(t, "2026-05-04T09:30:00Z", data["timestamp"])
	assert.NotContains(t, data, "status")
}

func TestEvent_JSONMatchesPushShape(t *testing.T) {
	sessionID, topicID := uuid.New(), uuid.New()
	evt := events.NewTopicStatusChanged(sessionID, topicID, domain.TopicDiscussing, time.Now())

	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	for key, value := range evt.PushData() {
		if key == "timestamp" {
			continue
		}
		assert.Equal(t, value, decoded[key], key)
	}
}

func TestGroup(t *testing.T) {
	id := uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	assert.Equal(t, "session_1b4e28ba-2fa1-11d2-883f-0016d3cca427", events.Group(id))
}

func TestDispatcher_Dispatch(t *testing.T) {
	sessionID := uuid.New()
	evt := events.NewSessionStatusChanged(sessionID, domain.SessionInProgress, time.Now())

	t.Run("both channels receive the same event", func(t *testing.T) {
		bus, push, cache := new(MockBus), new(MockPush), new(MockInvalidator)
		cache.On("Invalidate", mock.Anything, sessionID).Return(nil)
		bus.On("Broadcast", mock.Anything, sessionID, evt).Return(nil)
		push.On("Publish", mock.Anything, evt).Return(nil)

		d := events.NewDispatcher(bus, push, events.WithBoardInvalidator(cache))
		d.Dispatch(context.Background(), evt)

		bus.AssertExpectations(t)
		push.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("broadcast failure does not stop push", func(t *testing.T) {
		bus, push := new(MockBus), new(MockPush)
		bus.On("Broadcast", mock.Anything, sessionID, evt).Return(errors.New("socket closed"))
		push.On("Publish", mock.Anything, evt).Return(nil)

		d := events.NewDispatcher(bus, push)
		assert.NotPanics(t, func() { d.Dispatch(context.Background(), evt) })

		push.AssertExpectations(t)
	})

	t.Run("panicking bus is contained", func(t *testing.T) {
		push := new(MockPush)
		push.On("Publish", mock.Anything, evt).Return(errors.New("fcm unavailable"))

		d := events.NewDispatcher(panickingBus{}, push)
		assert.NotPanics(t, func() { d.Dispatch(context.Background(), evt) })
	})

	t.Run("canceled caller context still dispatches", func(t *testing.T) {
		bus := new(MockBus)
		bus.On("Broadcast", mock.MatchedBy(func(ctx context.Context) bool {
			return ctx.Err() == nil
		}), sessionID, evt).Return(nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		d := events.NewDispatcher(bus, nil)
		d.Dispatch(ctx, evt)

		bus.AssertExpectations(t)
	})
}
