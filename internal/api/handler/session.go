package handler

import (
	"net/http"
	"strconv"

	"github.com/Rrens/lean-coffee/internal/api/response"
	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/service"
	"github.com/google/uuid"
)

// SessionHandler handles session, participant and note endpoints
type SessionHandler struct {
	commands *service.CommandService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(commands *service.CommandService) *SessionHandler {
	return &SessionHandler{commands: commands}
}

type sessionStatusRequest struct {
	Status domain.SessionStatus `json:"status" validate:"required"`
}

type addParticipantRequest struct {
	UserID uuid.UUID              `json:"user_id" validate:"required"`
	Role   domain.ParticipantRole `json:"role"`
}

// Create handles POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req domain.SessionCreate
	if !decode(w, r, &req) {
		return
	}

	session, err := h.commands.CreateSession(r.Context(), userID, req)
	response.Result(w, r, http.StatusCreated, session, err)
}

// List handles GET /sessions and returns the sessions the caller facilitates
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	sessions, err := h.commands.ListSessions(r.Context(), userID, limit, offset)
	response.Result(w, r, http.StatusOK, sessions, err)
}

// Get handles GET /sessions/{sessionID}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	session, err := h.commands.GetSession(r.Context(), sessionID)
	response.Result(w, r, http.StatusOK, session, err)
}

// Board handles GET /sessions/{sessionID}/board
func (h *SessionHandler) Board(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	board, err := h.commands.GetBoard(r.Context(), sessionID)
	response.Result(w, r, http.StatusOK, board, err)
}

// Start handles POST /sessions/{sessionID}/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	session, err := h.commands.StartSession(r.Context(), userID, sessionID)
	response.Result(w, r, http.StatusOK, session, err)
}

// SetStatus handles PUT /sessions/{sessionID}/status
func (h *SessionHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	var req sessionStatusRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.commands.SetSessionStatus(r.Context(), userID, sessionID, req.Status)
	response.Result(w, r, http.StatusOK, session, err)
}

// Close handles POST /sessions/{sessionID}/close
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	session, err := h.commands.CloseSession(r.Context(), userID, sessionID)
	response.Result(w, r, http.StatusOK, session, err)
}

// NextTopic handles POST /sessions/{sessionID}/next-topic
func (h *SessionHandler) NextTopic(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	topic, err := h.commands.NextTopic(r.Context(), userID, sessionID)
	response.Result(w, r, http.StatusOK, topic, err)
}

// Join handles POST /sessions/{sessionID}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	participant, err := h.commands.JoinSession(r.Context(), userID, sessionID)
	response.Result(w, r, http.StatusOK, participant, err)
}

// Leave handles POST /sessions/{sessionID}/leave
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	err := h.commands.LeaveSession(r.Context(), userID, sessionID)
	response.Result(w, r, http.StatusOK, nil, err)
}

// ListParticipants handles GET /sessions/{sessionID}/participants
func (h *SessionHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	participants, err := h.commands.ListParticipants(r.Context(), sessionID)
	response.Result(w, r, http.StatusOK, participants, err)
}

// AddParticipant handles POST /sessions/{sessionID}/participants
func (h *SessionHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	var req addParticipantRequest
	if !decode(w, r, &req) {
		return
	}

	participant, err := h.commands.AddParticipant(r.Context(), userID, sessionID, req.UserID, req.Role)
	response.Result(w, r, http.StatusCreated, participant, err)
}

// RemoveParticipant handles DELETE /sessions/{sessionID}/participants/{userID}
func (h *SessionHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}
	userID, ok := uuidParam(w, r, "userID")
	if !ok {
		return
	}

	err := h.commands.RemoveParticipant(r.Context(), actor, sessionID, userID)
	response.Result(w, r, http.StatusOK, nil, err)
}

// ListVotes handles GET /sessions/{sessionID}/votes
func (h *SessionHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	votes, err := h.commands.ListVotes(r.Context(), sessionID)
	response.Result(w, r, http.StatusOK, votes, err)
}

// ListNotes handles GET /sessions/{sessionID}/notes
func (h *SessionHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	notes, err := h.commands.ListNotes(r.Context(), sessionID)
	response.Result(w, r, http.StatusOK, notes, err)
}

// StoreNote handles POST /sessions/{sessionID}/notes
func (h *SessionHandler) StoreNote(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	var req domain.NoteCreate
	if !decode(w, r, &req) {
		return
	}

	note, err := h.commands.StoreNote(r.Context(), userID, sessionID, req)
	response.Result(w, r, http.StatusCreated, note, err)
}

func actorAndSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, sessionID, true
}
