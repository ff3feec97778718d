package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rrens/lean-coffee/internal/config"
	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/Rrens/lean-coffee/internal/push"
	"github.com/Rrens/lean-coffee/internal/realtime"
	"github.com/Rrens/lean-coffee/internal/repository/memory"
	"github.com/Rrens/lean-coffee/internal/security"
	"github.com/Rrens/lean-coffee/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success          bool              `json:"success"`
	Data             json.RawMessage   `json:"data"`
	Message          string            `json:"message"`
	ErrorCode        string            `json:"errorCode"`
	ValidationErrors map[string]string `json:"validationErrors"`
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	return false, 0, time.Now().Add(time.Minute), nil
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	return false, 0, time.Time{}, errors.New("redis down")
}

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	store *memory.Store
	hub   *realtime.Hub
	jwt   *security.JWTManager
}

func newTestServer(t *testing.T, mutate ...func(*Dependencies)) *testServer {
	t.Helper()

	store := memory.NewStore()
	hub := realtime.NewHub()
	dispatcher := events.NewDispatcher(realtime.NewLocalBus(hub), push.NopFanout{})
	repos := service.Repositories{
		Sessions:     store.Sessions(),
		Topics:       store.Topics(),
		Votes:        store.Votes(),
		Participants: store.Participants(),
		Notes:        store.Notes(),
		Devices:      store.Devices(),
	}
	jwtManager := security.NewJWTManager("test-secret", "lean-coffee", time.Hour)

	deps := Dependencies{
		Commands: service.NewCommandService(repos, dispatcher),
		Devices:  service.NewDeviceService(store.Devices(), store.Participants(), push.NewLogSender(), "", nil),
		Hub:      hub,
		JWT:      jwtManager,
	}
	for _, m := range mutate {
		m(&deps)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			MiddlewareTimeout: 5 * time.Second,
			AllowedOrigins:    []string{"*"},
		},
		Realtime: config.RealtimeConfig{CommandTimeout: 2 * time.Second},
	}

	srv := httptest.NewServer(NewRouter(cfg, deps))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testServer{t: t, srv: srv, store: store, hub: hub, jwt: jwtManager}
}

func (s *testServer) token(userID uuid.UUID) string {
	s.t.Helper()
	token, err := s.jwt.GenerateAccessToken(userID, "tester")
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path string, userID uuid.UUID, body any) (int, envelope) {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp.StatusCode, env
}

func (s *testServer) createSession(facilitator uuid.UUID) domain.Session {
	s.t.Helper()
	status, env := s.do(http.MethodPost, "/api/v1/sessions", facilitator, map[string]any{"title": "Retro"})
	require.Equal(s.t, http.StatusCreated, status)
	var session domain.Session
	require.NoError(s.t, json.Unmarshal(env.Data, &session))
	return session
}

func (s *testServer) createTopic(actor, sessionID uuid.UUID, title string) domain.Topic {
	s.t.Helper()
	status, env := s.do(http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/topics", actor, map[string]any{"title": title})
	require.Equal(s.t, http.StatusCreated, status)
	var topic domain.Topic
	require.NoError(s.t, json.Unmarshal(env.Data, &topic))
	return topic
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(http.MethodGet, "/api/v1/health", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	status, _ = s.do(http.MethodGet, "/api/v1/ready", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(http.MethodGet, "/api/v1/sessions", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	t.Run("rejects when the limiter denies", func(t *testing.T) {
		s := newTestServer(t, func(d *Dependencies) { d.Limiter = denyLimiter{} })
		status, _ := s.do(http.MethodGet, "/api/v1/sessions", uuid.New(), nil)
		assert.Equal(t, http.StatusTooManyRequests, status)
	})

	t.Run("fails open when the limiter errors", func(t *testing.T) {
		s := newTestServer(t, func(d *Dependencies) { d.Limiter = brokenLimiter{} })
		status, _ := s.do(http.MethodGet, "/api/v1/sessions", uuid.New(), nil)
		assert.Equal(t, http.StatusOK, status)
	})
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t)
	facilitator := uuid.New()

	t.Run("validation errors are keyed by json field", func(t *testing.T) {
		status, env := s.do(http.MethodPost, "/api/v1/sessions", facilitator, map[string]any{"description": "no title"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.False(t, env.Success)
		assert.Equal(t, string(domain.CodeValidation), env.ErrorCode)
		assert.Equal(t, "is required", env.ValidationErrors["title"])
	})

	session := s.createSession(facilitator)
	assert.Equal(t, domain.SessionScheduled, session.Status)
	assert.Equal(t, facilitator, session.FacilitatorID)

	t.Run("get and list", func(t *testing.T) {
		status, env := s.do(http.MethodGet, "/api/v1/sessions/"+session.ID.String(), facilitator, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, env.Success)

		status, env = s.do(http.MethodGet, "/api/v1/sessions", facilitator, nil)
		require.Equal(t, http.StatusOK, status)
		var sessions []domain.Session
		require.NoError(t, json.Unmarshal(env.Data, &sessions))
		require.Len(t, sessions, 1)
		assert.Equal(t, session.ID, sessions[0].ID)
	})

	t.Run("unknown session", func(t *testing.T) {
		status, env := s.do(http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), facilitator, nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, string(domain.CodeSessionNotFound), env.ErrorCode)
	})

	t.Run("malformed id", func(t *testing.T) {
		status, env := s.do(http.MethodGet, "/api/v1/sessions/not-a-uuid", facilitator, nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, env.ValidationErrors, "sessionID")
	})

	t.Run("status changes", func(t *testing.T) {
		status, env := s.do(http.MethodPost, "/api/v1/sessions/"+session.ID.String()+"/start", facilitator, nil)
		require.Equal(t, http.StatusOK, status)
		var started domain.Session
		require.NoError(t, json.Unmarshal(env.Data, &started))
		assert.Equal(t, domain.SessionInProgress, started.Status)

		status, env = s.do(http.MethodPut, "/api/v1/sessions/"+session.ID.String()+"/status", facilitator, map[string]any{"status": "Bogus"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(domain.CodeValidation), env.ErrorCode)

		status, env = s.do(http.MethodPost, "/api/v1/sessions/"+session.ID.String()+"/close", facilitator, nil)
		require.Equal(t, http.StatusOK, status)
		var closed domain.Session
		require.NoError(t, json.Unmarshal(env.Data, &closed))
		assert.Equal(t, domain.SessionCompleted, closed.Status)
	})
}

func TestVoteEndpoints(t *testing.T) {
	s := newTestServer(t)
	facilitator, voter := uuid.New(), uuid.New()
	session := s.createSession(facilitator)
	topic := s.createTopic(facilitator, session.ID, "Remote work")
	votePath := "/api/v1/topics/" + topic.ID.String() + "/votes"

	status, env := s.do(http.MethodPost, votePath, voter, map[string]any{"session_id": session.ID})
	require.Equal(t, http.StatusCreated, status)
	var result service.VoteResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result.VoteCount)

	status, env = s.do(http.MethodPost, votePath, voter, map[string]any{"session_id": session.ID})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(domain.CodeVoteAlreadyExists), env.ErrorCode)

	status, env = s.do(http.MethodPost, votePath, voter, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "is required", env.ValidationErrors["session_id"])

	status, env = s.do(http.MethodDelete, votePath, voter, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 0, result.VoteCount)

	status, env = s.do(http.MethodDelete, votePath, voter, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(domain.CodeVoteNotFound), env.ErrorCode)
}

func TestTopicAndBoardEndpoints(t *testing.T) {
	s := newTestServer(t)
	facilitator := uuid.New()
	session := s.createSession(facilitator)
	low := s.createTopic(facilitator, session.ID, "Low")
	high := s.createTopic(facilitator, session.ID, "High")

	status, _ := s.do(http.MethodPost, "/api/v1/topics/"+high.ID.String()+"/votes", uuid.New(), map[string]any{"session_id": session.ID})
	require.Equal(t, http.StatusCreated, status)

	status, env := s.do(http.MethodPut, "/api/v1/sessions/"+session.ID.String()+"/topics/"+low.ID.String(), facilitator, map[string]any{"title": "Low, renamed"})
	require.Equal(t, http.StatusOK, status)
	var edited domain.Topic
	require.NoError(t, json.Unmarshal(env.Data, &edited))
	assert.Equal(t, "Low, renamed", edited.Title)

	status, env = s.do(http.MethodGet, "/api/v1/sessions/"+session.ID.String()+"/board", facilitator, nil)
	require.Equal(t, http.StatusOK, status)
	var board domain.SessionBoard
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board.Topics, 2)
	assert.Equal(t, high.ID, board.Topics[0].ID)
	assert.Len(t, board.Participants, 1)

	status, env = s.do(http.MethodPost, "/api/v1/sessions/"+session.ID.String()+"/next-topic", facilitator, nil)
	require.Equal(t, http.StatusOK, status)
	var current domain.Topic
	require.NoError(t, json.Unmarshal(env.Data, &current))
	assert.Equal(t, high.ID, current.ID)
	assert.Equal(t, domain.TopicDiscussing, current.Status)

	status, env = s.do(http.MethodPut, "/api/v1/topics/"+low.ID.String()+"/status", facilitator, map[string]any{"status": "Discussing"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.TopicDiscussed, s.topic(high.ID).Status)

	status, _ = s.do(http.MethodDelete, "/api/v1/topics/"+low.ID.String(), facilitator, nil)
	require.Equal(t, http.StatusOK, status)
	status, env = s.do(http.MethodDelete, "/api/v1/topics/"+low.ID.String(), facilitator, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(domain.CodeTopicNotFound), env.ErrorCode)
}

func (s *testServer) topic(id uuid.UUID) *domain.Topic {
	s.t.Helper()
	topic, err := s.store.Topics().GetByID(context.Background(), id)
	require.NoError(s.t, err)
	return topic
}

func TestParticipantAndNoteEndpoints(t *testing.T) {
	s := newTestServer(t)
	facilitator, member := uuid.New(), uuid.New()
	session := s.createSession(facilitator)
	base := "/api/v1/sessions/" + session.ID.String()

	status, _ := s.do(http.MethodPost, base+"/join", member, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = s.do(http.MethodPost, base+"/join", member, nil)
	require.Equal(t, http.StatusOK, status)

	status, env := s.do(http.MethodPost, base+"/participants", facilitator, map[string]any{"user_id": member})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(domain.CodeParticipantAlreadyExists), env.ErrorCode)

	status, env = s.do(http.MethodGet, base+"/participants", facilitator, nil)
	require.Equal(t, http.StatusOK, status)
	var participants []domain.Participant
	require.NoError(t, json.Unmarshal(env.Data, &participants))
	assert.Len(t, participants, 2)

	status, _ = s.do(http.MethodDelete, base+"/participants/"+member.String(), facilitator, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(http.MethodPost, base+"/notes", facilitator, map[string]any{"content": "Ship it", "note_type": "Decision"})
	require.Equal(t, http.StatusCreated, status)

	status, env = s.do(http.MethodPost, base+"/notes", facilitator, map[string]any{"content": "x", "note_type": "Gossip"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.ValidationErrors, "note_type")

	status, env = s.do(http.MethodGet, base+"/notes", facilitator, nil)
	require.Equal(t, http.StatusOK, status)
	var notes []domain.SessionNote
	require.NoError(t, json.Unmarshal(env.Data, &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NoteType("Decision"), notes[0].NoteType)
}

func TestDeviceEndpoints(t *testing.T) {
	s := newTestServer(t)
	facilitator := uuid.New()
	session := s.createSession(facilitator)

	status, _ := s.do(http.MethodPost, "/api/v1/devices", facilitator, map[string]any{"token": "tok-1", "platform": "android"})
	require.Equal(t, http.StatusCreated, status)

	status, env := s.do(http.MethodPost, "/api/v1/devices", facilitator, map[string]any{"token": "tok-2", "platform": "symbian"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.ValidationErrors, "platform")

	status, _ = s.do(http.MethodPost, "/api/v1/sessions/"+session.ID.String()+"/push", facilitator, nil)
	require.Equal(t, http.StatusOK, status)
	p, err := s.store.Participants().Get(context.Background(), session.ID, facilitator)
	require.NoError(t, err)
	assert.True(t, p.IsPushSubscribed)

	status, env = s.do(http.MethodPost, "/api/v1/sessions/"+session.ID.String()+"/push", uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(domain.CodeParticipantNotFound), env.ErrorCode)

	status, _ = s.do(http.MethodPost, "/api/v1/devices/deactivate", facilitator, map[string]any{"token": "tok-1"})
	assert.Equal(t, http.StatusOK, status)
	status, env = s.do(http.MethodPost, "/api/v1/devices/deactivate", facilitator, map[string]any{"token": "tok-unknown"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(domain.CodeDeviceNotFound), env.ErrorCode)
}

// ---------------------------------------------------------------------------
// Websocket
// ---------------------------------------------------------------------------

func (s *testServer) dial(userID uuid.UUID) *websocket.Conn {
	s.t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/v1/ws?access_token=" + s.token(userID)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { ws.Close() })

	frame := readFrame(s.t, ws)
	require.Equal(s.t, realtime.FrameConnected, frame.Type)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) realtime.OutboundFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame realtime.OutboundFrame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func sendFrame(t *testing.T, ws *websocket.Conn, in realtime.InboundFrame) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(in))
}

func TestWebSocket_RequiresAuth(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_RoundTrip(t *testing.T) {
	s := newTestServer(t)
	facilitator, member := uuid.New(), uuid.New()
	session := s.createSession(facilitator)
	topic := s.createTopic(facilitator, session.ID, "Roadmap")

	ws := s.dial(member)

	sendFrame(t, ws, realtime.InboundFrame{Action: "joinSession", RequestID: "r1", SessionID: session.ID})

	joined := readFrame(t, ws)
	require.Equal(t, realtime.FrameEvent, joined.Type)
	assert.Equal(t, events.ParticipantJoined, joined.Event.Type)

	result := readFrame(t, ws)
	require.Equal(t, realtime.FrameResult, result.Type)
	assert.Equal(t, "r1", result.RequestID)
	assert.True(t, result.Result.Success)

	// a REST command by another user reaches the websocket member
	status, _ := s.do(http.MethodPost, "/api/v1/topics/"+topic.ID.String()+"/votes", facilitator, map[string]any{"session_id": session.ID})
	require.Equal(t, http.StatusCreated, status)

	cast := readFrame(t, ws)
	require.Equal(t, realtime.FrameEvent, cast.Type)
	assert.Equal(t, events.VoteCast, cast.Event.Type)
	require.NotNil(t, cast.Event.VoteCount)
	assert.Equal(t, 1, *cast.Event.VoteCount)

	// commands over the socket return a CommandResult
	sendFrame(t, ws, realtime.InboundFrame{Action: "castVote", RequestID: "r2", SessionID: session.ID, TopicID: topic.ID})
	assert.Equal(t, events.VoteCast, readFrame(t, ws).Event.Type)
	result = readFrame(t, ws)
	assert.Equal(t, "r2", result.RequestID)
	assert.True(t, result.Result.Success)

	sendFrame(t, ws, realtime.InboundFrame{Action: "castVote", RequestID: "r3", SessionID: session.ID, TopicID: topic.ID})
	result = readFrame(t, ws)
	assert.False(t, result.Result.Success)
	assert.Equal(t, domain.CodeVoteAlreadyExists, result.Result.ErrorCode)

	sendFrame(t, ws, realtime.InboundFrame{Action: "storeTopic", RequestID: "r4", SessionID: session.ID, Payload: json.RawMessage(`{"title":""}`)})
	result = readFrame(t, ws)
	assert.Equal(t, domain.CodeValidation, result.Result.ErrorCode)
	assert.Equal(t, "is required", result.Result.ValidationErrors["title"])

	sendFrame(t, ws, realtime.InboundFrame{Action: "dance", RequestID: "r5"})
	errFrame := readFrame(t, ws)
	assert.Equal(t, realtime.FrameError, errFrame.Type)
	assert.Equal(t, "UNKNOWN_ACTION", errFrame.Code)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{")))
	errFrame = readFrame(t, ws)
	assert.Equal(t, "BAD_FRAME", errFrame.Code)
}

func TestWebSocket_DisconnectLeavesSession(t *testing.T) {
	s := newTestServer(t)
	facilitator, member := uuid.New(), uuid.New()
	session := s.createSession(facilitator)

	first := s.dial(member)
	second := s.dial(member)
	for i, ws := range []*websocket.Conn{first, second} {
		sendFrame(t, ws, realtime.InboundFrame{Action: "joinSession", RequestID: "join", SessionID: session.ID})
		if i == 0 {
			require.Equal(t, realtime.FrameEvent, readFrame(t, ws).Type)
		}
		require.Equal(t, realtime.FrameResult, readFrame(t, ws).Type)
	}

	isActive := func() bool {
		p, err := s.store.Participants().Get(context.Background(), session.ID, member)
		require.NoError(t, err)
		return p.IsActive
	}

	// one tab closing keeps the user present
	require.NoError(t, first.Close())
	assert.Never(t, func() bool { return !isActive() }, 300*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, []uuid.UUID{member}, s.hub.Members(events.Group(session.ID)))

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return !isActive() }, 2*time.Second, 10*time.Millisecond)
}
