package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/Rrens/lean-coffee/internal/api/middleware"
	"github.com/Rrens/lean-coffee/internal/api/response"
	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/Rrens/lean-coffee/internal/realtime"
	"github.com/Rrens/lean-coffee/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Realtime actions accepted over the websocket
const (
	ActionJoinSession      = "joinSession"
	ActionLeaveSession     = "leaveSession"
	ActionGetBoard         = "getBoard"
	ActionStoreTopic       = "storeTopic"
	ActionDeleteTopic      = "deleteTopic"
	ActionCastVote         = "castVote"
	ActionRemoveVote       = "removeVote"
	ActionSetTopicStatus   = "setTopicStatus"
	ActionNextTopic        = "nextTopic"
	ActionSetSessionStatus = "setSessionStatus"
	ActionCloseSession     = "closeSession"
	ActionStoreNote        = "storeNote"
)

// Protocol error codes
const (
	CodeBadFrame      = "BAD_FRAME"
	CodeUnknownAction = "UNKNOWN_ACTION"
)

const defaultCommandTimeout = 5 * time.Second

// WebSocketHandler upgrades authenticated requests and runs the command
// loop of one connection
type WebSocketHandler struct {
	commands       *service.CommandService
	hub            *realtime.Hub
	upgrader       websocket.Upgrader
	opts           realtime.Options
	commandTimeout time.Duration
}

// NewWebSocketHandler creates a new websocket handler. An origin list
// containing "*" accepts every origin.
func NewWebSocketHandler(commands *service.CommandService, hub *realtime.Hub, opts realtime.Options, commandTimeout time.Duration, allowedOrigins []string) *WebSocketHandler {
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	return &WebSocketHandler{
		commands: commands,
		hub:      hub,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
		commandTimeout: commandTimeout,
	}
}

// ServeHTTP handles GET /ws
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConnection(userID, ws, h.opts)
	h.hub.Attach(conn)
	conn.Start()

	s := &wsSession{
		handler: h,
		conn:    conn,
		userID:  userID,
		ctx:     context.WithoutCancel(r.Context()),
		joined:  make(map[uuid.UUID]struct{}),
	}

	logger := log.With().Str("connection_id", conn.ID()).Str("user_id", userID.String()).Logger()
	logger.Debug().Msg("websocket connected")

	if frame, err := json.Marshal(realtime.OutboundFrame{Type: realtime.FrameConnected}); err == nil {
		_ = conn.Send(frame)
	}

	if err := conn.ReadLoop(s.handle); err != nil {
		logger.Debug().Err(err).Msg("websocket read ended")
	}

	conn.Close(websocket.CloseNormalClosure, "")
	s.disconnect()
	logger.Debug().Msg("websocket disconnected")
}

// wsSession is the per-connection state. Only the read loop goroutine
// touches it.
type wsSession struct {
	handler *WebSocketHandler
	conn    *realtime.Connection
	userID  uuid.UUID
	ctx     context.Context
	joined  map[uuid.UUID]struct{}
}

func (s *wsSession) handle(data []byte) {
	var in realtime.InboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		s.sendError("", CodeBadFrame, "malformed frame")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.handler.commandTimeout)
	defer cancel()

	result, handled := s.execute(ctx, in)
	if !handled {
		s.sendError(in.RequestID, CodeUnknownAction, "unknown action: "+in.Action)
		return
	}

	frame, err := realtime.ResultFrame(in, result)
	if err != nil {
		log.Error().Err(err).Str("action", in.Action).Msg("failed to encode result frame")
		return
	}
	_ = s.conn.Send(frame)
}

func (s *wsSession) execute(ctx context.Context, in realtime.InboundFrame) (domain.CommandResult, bool) {
	cmd := s.handler.commands

	switch in.Action {
	case ActionJoinSession:
		return s.join(ctx, in.SessionID), true

	case ActionLeaveSession:
		if in.SessionID != uuid.Nil {
			s.handler.hub.Leave(events.Group(in.SessionID), s.conn)
			delete(s.joined, in.SessionID)
		}
		return domain.NewResult(nil, cmd.LeaveSession(ctx, s.userID, in.SessionID)), true

	case ActionGetBoard:
		return domain.NewResult(cmd.GetBoard(ctx, in.SessionID)), true

	case ActionStoreTopic:
		var input domain.TopicInput
		if err := decodePayload(in.Payload, &input); err != nil {
			return domain.NewResult(nil, err), true
		}
		return domain.NewResult(cmd.StoreTopic(ctx, s.userID, in.SessionID, in.TopicID, input)), true

	case ActionDeleteTopic:
		return domain.NewResult(nil, cmd.DeleteTopic(ctx, s.userID, in.TopicID)), true

	case ActionCastVote:
		return domain.NewResult(cmd.CastVote(ctx, s.userID, in.SessionID, in.TopicID)), true

	case ActionRemoveVote:
		return domain.NewResult(cmd.RemoveVote(ctx, s.userID, in.TopicID)), true

	case ActionSetTopicStatus:
		var req topicStatusRequest
		if err := decodePayload(in.Payload, &req); err != nil {
			return domain.NewResult(nil, err), true
		}
		return domain.NewResult(cmd.SetTopicStatus(ctx, s.userID, in.TopicID, req.Status)), true

	case ActionNextTopic:
		return domain.NewResult(cmd.NextTopic(ctx, s.userID, in.SessionID)), true

	case ActionSetSessionStatus:
		var req sessionStatusRequest
		if err := decodePayload(in.Payload, &req); err != nil {
			return domain.NewResult(nil, err), true
		}
		return domain.NewResult(cmd.SetSessionStatus(ctx, s.userID, in.SessionID, req.Status)), true

	case ActionCloseSession:
		return domain.NewResult(cmd.CloseSession(ctx, s.userID, in.SessionID)), true

	case ActionStoreNote:
		var input domain.NoteCreate
		if err := decodePayload(in.Payload, &input); err != nil {
			return domain.NewResult(nil, err), true
		}
		return domain.NewResult(cmd.StoreNote(ctx, s.userID, in.SessionID, input)), true
	}

	return domain.CommandResult{}, false
}

// join subscribes the connection to the session group before recording
// the participant, so the caller sees its own ParticipantJoined event.
func (s *wsSession) join(ctx context.Context, sessionID uuid.UUID) domain.CommandResult {
	group := events.Group(sessionID)
	if sessionID != uuid.Nil {
		s.handler.hub.Join(group, s.conn)
	}

	participant, err := s.handler.commands.JoinSession(ctx, s.userID, sessionID)
	if err != nil {
		if _, ok := s.joined[sessionID]; !ok && sessionID != uuid.Nil {
			s.handler.hub.Leave(group, s.conn)
		}
		return domain.NewResult(nil, err)
	}

	s.joined[sessionID] = struct{}{}
	return domain.NewResult(participant, nil)
}

// disconnect detaches the connection and marks the user as having left
// every session it no longer has a live connection in.
func (s *wsSession) disconnect() {
	s.handler.hub.Detach(s.conn)

	for sessionID := range s.joined {
		if s.handler.hub.HasUser(events.Group(sessionID), s.userID) {
			continue
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.handler.commandTimeout)
		if err := s.handler.commands.LeaveSession(ctx, s.userID, sessionID); err != nil {
			log.Warn().Err(err).
				Str("session_id", sessionID.String()).
				Str("user_id", s.userID.String()).
				Msg("failed to leave session on disconnect")
		}
		cancel()
	}
}

func (s *wsSession) sendError(requestID, code, message string) {
	frame, err := realtime.ErrorFrame(requestID, code, message)
	if err != nil {
		return
	}
	_ = s.conn.Send(frame)
}

// decodePayload decodes and validates a command payload
func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.NewValidationError("payload", "invalid payload")
	}
	if err := validate.Struct(dst); err != nil {
		return domain.NewValidationErrors(validationFields(err))
	}
	return nil
}
