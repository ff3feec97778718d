package realtime

import (
	"encoding/json"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/google/uuid"
)

// Outbound frame types
const (
	FrameConnected = "connected"
	FrameEvent     = "event"
	FrameResult    = "result"
	FrameError     = "error"
)

// InboundFrame is a command sent by a client. Action selects the command;
// Payload carries its body.
type InboundFrame struct {
	Action    string          `json:"action"`
	RequestID string          `json:"requestId,omitempty"`
	SessionID uuid.UUID       `json:"sessionId"`
	TopicID   uuid.UUID       `json:"topicId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// OutboundFrame is everything the server writes to a client
type OutboundFrame struct {
	Type      string                `json:"type"`
	RequestID string                `json:"requestId,omitempty"`
	Action    string                `json:"action,omitempty"`
	Event     *events.Event         `json:"event,omitempty"`
	Result    *domain.CommandResult `json:"result,omitempty"`
	Code      string                `json:"code,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// EventFrame encodes an event for delivery to a group
func EventFrame(evt events.Event) ([]byte, error) {
	return json.Marshal(OutboundFrame{Type: FrameEvent, Event: &evt})
}

// ResultFrame encodes the reply to one inbound command
func ResultFrame(in InboundFrame, result domain.CommandResult) ([]byte, error) {
	return json.Marshal(OutboundFrame{
		Type:      FrameResult,
		RequestID: in.RequestID,
		Action:    in.Action,
		Result:    &result,
	})
}

// ErrorFrame encodes a protocol level error (bad JSON, unknown action)
func ErrorFrame(requestID, code, message string) ([]byte, error) {
	return json.Marshal(OutboundFrame{
		Type:      FrameError,
		RequestID: requestID,
		Code:      code,
		Error:     message,
	})
}
