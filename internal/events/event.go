// Package events defines the single event value emitted per domain change
// and the fanout that feeds it to the realtime and push channels.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/google/uuid"
)

// Type names an event on both channels
type Type string

const (
	ParticipantJoined    Type = "ParticipantJoined"
	ParticipantLeft      Type = "ParticipantLeft"
	TopicAdded           Type = "TopicAdded"
	TopicEdited          Type = "TopicEdited"
	TopicDeleted         Type = "TopicDeleted"
	TopicStatusChanged   Type = "TopicStatusChanged"
	VoteCast             Type = "VoteCast"
	VoteRemoved          Type = "VoteRemoved"
	SessionStatusChanged Type = "SessionStatusChanged"
	CurrentTopicChanged  Type = "CurrentTopicChanged"
	NoteAdded            Type = "NoteAdded"
)

// Event is the canonical payload for one domain change.
type Event struct {
	Type      Type          `json:"eventType"`
	SessionID uuid.UUID     `json:"sessionId"`
	TopicID   *uuid.UUID    `json:"topicId,omitempty"`
	UserID    *uuid.UUID    `json:"userId,omitempty"`
	VoteCount *int          `json:"voteCount,omitempty"`
	Status    string        `json:"status,omitempty"`
	Topic     *domain.Topic `json:"topic,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Group returns the realtime group and push topic name for a session
func Group(sessionID uuid.UUID) string {
	return "session_" + sessionID.String()
}

// Group returns the group the event is addressed to
func (e Event) Group() string {
	return Group(e.SessionID)
}

// PushData flattens the event into the string map a data-only push
// message carries. The embedded topic body is not pushed.
func (e Event) PushData() map[string]string {
	data := map[string]string{
		"eventType": string(e.Type),
		"sessionId": e.SessionID.String(),
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.TopicID != nil {
		data["topicId"] = e.TopicID.String()
	}
	if e.UserID != nil {
		data["userId"] = e.UserID.String()
	}
	if e.VoteCount != nil {
		data["voteCount"] = strconv.Itoa(*e.VoteCount)
	}
	if e.Status != "" {
		data["status"] = e.Status
	}
	return data
}

// EventBus delivers events to clients connected to a session's group
type EventBus interface {
	Broadcast(ctx context.Context, sessionID uuid.UUID, event Event) error
}

// PushFanout mirrors events to devices subscribed to a session's push topic
type PushFanout interface {
	Publish(ctx context.Context, event Event) error
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func base(t Type, sessionID uuid.UUID, at time.Time) Event {
	return Event{Type: t, SessionID: sessionID, Timestamp: at}
}

func ptr[T any](v T) *T { return &v }

func NewParticipantJoined(sessionID, userID uuid.UUID, at time.Time) Event {
	e := base(ParticipantJoined, sessionID, at)
	e.UserID = ptr(userID)
	return e
}

func NewParticipantLeft(sessionID, userID uuid.UUID, at time.Time) Event {
	e := base(ParticipantLeft, sessionID, at)
	e.UserID = ptr(userID)
	return e
}

func NewTopicAdded(topic domain.Topic, at time.Time) Event {
	e := base(TopicAdded, topic.SessionID, at)
	e.TopicID = ptr(topic.ID)
	e.Topic = &topic
	return e
}

func NewTopicEdited(topic domain.Topic, at time.Time) Event {
	e := base(TopicEdited, topic.SessionID, at)
	e.TopicID = ptr(topic.ID)
	e.Topic = &topic
	return e
}

func NewTopicDeleted(sessionID, topicID uuid.UUID, at time.Time) Event {
	e := base(TopicDeleted, sessionID, at)
	e.TopicID = ptr(topicID)
	return e
}

func NewTopicStatusChanged(sessionID, topicID uuid.UUID, status domain.TopicStatus, at time.Time) Event {
	e := base(TopicStatusChanged, sessionID, at)
	e.TopicID = ptr(topicID)
	e.Status = string(status)
	return e
}

func NewCurrentTopicChanged(sessionID uuid.UUID, topicID *uuid.UUID, at time.Time) Event {
	e := base(CurrentTopicChanged, sessionID, at)
	e.TopicID = topicID
	return e
}

func NewVoteCast(sessionID, topicID, userID uuid.UUID, voteCount int, at time.Time) Event {
	e := base(VoteCast, sessionID, at)
	e.TopicID = ptr(topicID)
	e.UserID = ptr(userID)
	e.VoteCount = ptr(voteCount)
	return e
}

func NewVoteRemoved(sessionID, topicID, userID uuid.UUID, voteCount int, at time.Time) Event {
	e := base(VoteRemoved, sessionID, at)
	e.TopicID = ptr(topicID)
	e.UserID = ptr(userID)
	e.VoteCount = ptr(voteCount)
	return e
}

func NewSessionStatusChanged(sessionID uuid.UUID, status domain.SessionStatus, at time.Time) Event {
	e := base(SessionStatusChanged, sessionID, at)
	e.Status = string(status)
	return e
}

func NewNoteAdded(note domain.SessionNote, at time.Time) Event {
	e := base(NoteAdded, note.SessionID, at)
	e.TopicID = note.TopicID
	e.UserID = ptr(note.AuthorID)
	e.Status = string(note.NoteType)
	return e
}
