// Package realtime keeps track of websocket clients and the session groups
// they subscribe to, and fans payloads out to every member of a group.
package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Client is a single live connection as seen by the Hub
type Client interface {
	ID() string
	UserID() uuid.UUID
	Send(payload []byte) error
	Close(code int, reason string)
}

// Hub coordinates clients and logical groups (one group per session).
// A user may hold several clients at once, for example two browser tabs.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]Client              // clientID -> client
	groups      map[string]map[string]Client   // group -> clientID -> client
	memberships map[string]map[string]struct{} // clientID -> groups
}

// NewHub constructs an initialized Hub.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[string]Client),
		groups:      make(map[string]map[string]Client),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Attach registers a client so it can join groups.
func (h *Hub) Attach(c Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	if h.memberships[c.ID()] == nil {
		h.memberships[c.ID()] = make(map[string]struct{})
	}
	h.mu.Unlock()
}

// Detach removes a client and returns the groups it was a member of.
func (h *Hub) Detach(c Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID()]; !ok {
		return nil
	}
	delete(h.clients, c.ID())

	groups := make([]string, 0, len(h.memberships[c.ID()]))
	for group := range h.memberships[c.ID()] {
		groups = append(groups, group)
		h.leaveLocked(group, c.ID())
	}
	delete(h.memberships, c.ID())
	return groups
}

// Join adds the client to the group. It reports false when the client is
// not attached.
func (h *Hub) Join(group string, c Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID()]; !ok {
		return false
	}

	members := h.groups[group]
	if members == nil {
		members = make(map[string]Client)
		h.groups[group] = members
	}
	members[c.ID()] = c

	memberships := h.memberships[c.ID()]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.memberships[c.ID()] = memberships
	}
	memberships[group] = struct{}{}
	return true
}

// Leave removes the client from the group.
func (h *Hub) Leave(group string, c Client) {
	h.mu.Lock()
	h.leaveLocked(group, c.ID())
	h.mu.Unlock()
}

// Broadcast enqueues payload on every member of the group and returns the
// number of clients it was handed to. excludeUserID, when not uuid.Nil,
// skips that user's clients.
//
// The write lock is held for the whole fan-out so two concurrent
// broadcasts to a group reach every member in the same order.
func (h *Hub) Broadcast(group string, payload []byte, excludeUserID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for _, c := range h.groups[group] {
		if excludeUserID != uuid.Nil && c.UserID() == excludeUserID {
			continue
		}
		if err := c.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// HasUser reports whether the user still has a client in the group.
func (h *Hub) HasUser(group string, userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.groups[group] {
		if c.UserID() == userID {
			return true
		}
	}
	return false
}

// Members returns the distinct users connected to the group.
func (h *Hub) Members(group string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{}, len(h.groups[group]))
	users := make([]uuid.UUID, 0, len(h.groups[group]))
	for _, c := range h.groups[group] {
		if _, ok := seen[c.UserID()]; ok {
			continue
		}
		seen[c.UserID()] = struct{}{}
		users = append(users, c.UserID())
	}
	return users
}

// Close terminates all tracked clients and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]Client)
	h.groups = make(map[string]map[string]Client)
	h.memberships = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(1001, "server shutdown")
	}
}

func (h *Hub) leaveLocked(group, clientID string) {
	members := h.groups[group]
	if members == nil {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	if memberships, ok := h.memberships[clientID]; ok {
		delete(memberships, group)
	}
}
