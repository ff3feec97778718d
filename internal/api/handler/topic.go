package handler

import (
	"net/http"

	"github.com/Rrens/lean-coffee/internal/api/response"
	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/service"
	"github.com/google/uuid"
)

// TopicHandler handles topic and vote endpoints
type TopicHandler struct {
	commands *service.CommandService
}

// NewTopicHandler creates a new topic handler
func NewTopicHandler(commands *service.CommandService) *TopicHandler {
	return &TopicHandler{commands: commands}
}

type topicStatusRequest struct {
	Status domain.TopicStatus `json:"status" validate:"required"`
}

type castVoteRequest struct {
	SessionID uuid.UUID `json:"session_id" validate:"required"`
}

// Create handles POST /sessions/{sessionID}/topics
func (h *TopicHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	var req domain.TopicInput
	if !decode(w, r, &req) {
		return
	}

	topic, err := h.commands.StoreTopic(r.Context(), userID, sessionID, uuid.Nil, req)
	response.Result(w, r, http.StatusCreated, topic, err)
}

// Update handles PUT /sessions/{sessionID}/topics/{topicID}
func (h *TopicHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}
	topicID, ok := uuidParam(w, r, "topicID")
	if !ok {
		return
	}

	var req domain.TopicInput
	if !decode(w, r, &req) {
		return
	}

	topic, err := h.commands.StoreTopic(r.Context(), userID, sessionID, topicID, req)
	response.Result(w, r, http.StatusOK, topic, err)
}

// Delete handles DELETE /topics/{topicID}
func (h *TopicHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, topicID, ok := actorAndTopic(w, r)
	if !ok {
		return
	}

	err := h.commands.DeleteTopic(r.Context(), userID, topicID)
	response.Result(w, r, http.StatusOK, nil, err)
}

// SetStatus handles PUT /topics/{topicID}/status
func (h *TopicHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, topicID, ok := actorAndTopic(w, r)
	if !ok {
		return
	}

	var req topicStatusRequest
	if !decode(w, r, &req) {
		return
	}

	topic, err := h.commands.SetTopicStatus(r.Context(), userID, topicID, req.Status)
	response.Result(w, r, http.StatusOK, topic, err)
}

// CastVote handles POST /topics/{topicID}/votes
func (h *TopicHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	userID, topicID, ok := actorAndTopic(w, r)
	if !ok {
		return
	}

	var req castVoteRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.commands.CastVote(r.Context(), userID, req.SessionID, topicID)
	response.Result(w, r, http.StatusCreated, result, err)
}

// RemoveVote handles DELETE /topics/{topicID}/votes
func (h *TopicHandler) RemoveVote(w http.ResponseWriter, r *http.Request) {
	userID, topicID, ok := actorAndTopic(w, r)
	if !ok {
		return
	}

	result, err := h.commands.RemoveVote(r.Context(), userID, topicID)
	response.Result(w, r, http.StatusOK, result, err)
}

func actorAndTopic(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	topicID, ok := uuidParam(w, r, "topicID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, topicID, true
}
