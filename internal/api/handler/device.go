package handler

import (
	"net/http"

	"github.com/Rrens/lean-coffee/internal/api/response"
	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/service"
)

// DeviceHandler handles device registration and push subscriptions
type DeviceHandler struct {
	devices *service.DeviceService
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(devices *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

type deactivateDeviceRequest struct {
	Token string `json:"token" validate:"required"`
}

// Register handles POST /devices
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req domain.DeviceRegister
	if !decode(w, r, &req) {
		return
	}

	device, err := h.devices.Register(r.Context(), userID, req)
	response.Result(w, r, http.StatusCreated, device, err)
}

// Deactivate handles POST /devices/deactivate
func (h *DeviceHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req deactivateDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.devices.Deactivate(r.Context(), userID, req.Token)
	response.Result(w, r, http.StatusOK, nil, err)
}

// Subscribe handles POST /sessions/{sessionID}/push
func (h *DeviceHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	err := h.devices.SubscribeToSessionPush(r.Context(), sessionID, userID)
	response.Result(w, r, http.StatusOK, nil, err)
}

// Unsubscribe handles DELETE /sessions/{sessionID}/push
func (h *DeviceHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := actorAndSession(w, r)
	if !ok {
		return
	}

	err := h.devices.UnsubscribeFromSessionPush(r.Context(), sessionID, userID)
	response.Result(w, r, http.StatusOK, nil, err)
}
