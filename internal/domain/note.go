package domain

import (
	"context"

	"github.com/google/uuid"
)

// NoteType classifies a session note
type NoteType string

const (
	NoteGeneral    NoteType = "General"
	NoteActionItem NoteType = "ActionItem"
	NoteDecision   NoteType = "Decision"
	NoteKeyPoint   NoteType = "KeyPoint"
)

// Valid reports whether t is a known note type
func (t NoteType) Valid() bool {
	switch t {
	case NoteGeneral, NoteActionItem, NoteDecision, NoteKeyPoint:
		return true
	}
	return false
}

// SessionNote is a note taken during a session, optionally tied to a topic
type SessionNote struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	TopicID   *uuid.UUID `json:"topic_id,omitempty"`
	Content   string     `json:"content"`
	NoteType  NoteType   `json:"note_type"`
	AuthorID  uuid.UUID  `json:"author_id"`
	Audit
}

// NoteCreate represents note creation data
type NoteCreate struct {
	TopicID  *uuid.UUID `json:"topic_id,omitempty"`
	Content  string     `json:"content" validate:"required,max=4000"`
	NoteType NoteType   `json:"note_type" validate:"omitempty,oneof=General ActionItem Decision KeyPoint"`
}

// NoteRepository defines the interface for note storage
type NoteRepository interface {
	Create(ctx context.Context, note *SessionNote) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]SessionNote, error)
}
