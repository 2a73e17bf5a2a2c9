package socket

import (
	"encoding/json"
	"sync"
	"time"

	"senarai/pkg/logger"
)

// Access is the slice of the repository the hub needs: which rooms a user is
// entitled to on connect, and whether an advisory join is allowed.
type Access interface {
	ListIDsForUser(userID string) ([]string, error)
	CanView(userID, listID string) (bool, error)
}

// Hub is the room registry and broadcast fan-out. Events are published to the
// Broadcast channel after their mutation is durably applied; a single Run
// goroutine consumes them, so every connection observes one total order per
// list. The originator is not excluded from fan-out: it receives its own
// event, which keeps client reconciliation on a single code path.
type Hub struct {
	Broadcast chan Event

	mu       sync.Mutex
	rooms    map[string]map[*Client]time.Time // listID -> member -> joined at
	sessions map[string]map[*Client]bool      // userID -> live sessions
}

func NewHub() *Hub {
	return &Hub{
		Broadcast: make(chan Event, 256),
		rooms:     make(map[string]map[*Client]time.Time),
		sessions:  make(map[string]map[*Client]bool),
	}
}

// Register adds a session to the per-user index. Room membership comes from
// Join (eager-subscribe at connect time, plus share/list lifecycle events).
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[c.UserID] == nil {
		h.sessions[c.UserID] = make(map[*Client]bool)
	}
	h.sessions[c.UserID][c] = true
}

// Join adds a session to a room, idempotently.
func (h *Hub) Join(c *Client, listID string) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	h.joinLocked(c, listID)
	h.mu.Unlock()

	h.broadcastPresence(listID)
}

func (h *Hub) joinLocked(c *Client, listID string) {
	if h.rooms[listID] == nil {
		h.rooms[listID] = make(map[*Client]time.Time)
	}
	if _, ok := h.rooms[listID][c]; ok {
		return
	}
	h.rooms[listID][c] = time.Now()
	c.rooms[listID] = true
}

// Leave removes a session from one room.
func (h *Hub) Leave(c *Client, listID string) {
	h.mu.Lock()
	h.leaveLocked(c, listID)
	h.mu.Unlock()

	h.broadcastPresence(listID)
}

func (h *Hub) leaveLocked(c *Client, listID string) {
	if room, ok := h.rooms[listID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, listID)
		}
	}
	delete(c.rooms, listID)
}

// Remove tears a session out of every room it joined and closes its send
// queue. Safe to call more than once; a broadcast that snapshotted the
// membership before removal simply skips the drained queue.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	left := make([]string, 0, len(c.rooms))
	for listID := range c.rooms {
		left = append(left, listID)
		h.leaveLocked(c, listID)
	}
	if sess, ok := h.sessions[c.UserID]; ok {
		delete(sess, c)
		if len(sess) == 0 {
			delete(h.sessions, c.UserID)
		}
	}
	close(c.Send)
	h.mu.Unlock()

	for _, listID := range left {
		h.broadcastPresence(listID)
	}
}

// MembersOf returns a snapshot of the room's sessions.
func (h *Hub) MembersOf(listID string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := make([]*Client, 0, len(h.rooms[listID]))
	for c := range h.rooms[listID] {
		members = append(members, c)
	}
	return members
}

// Run consumes published events and fans each one out to the room. Share and
// list lifecycle events also maintain room membership so sessions stay
// eager-subscribed without a round trip.
func (h *Hub) Run() {
	for evt := range h.Broadcast {
		payload, err := json.Marshal(evt)
		if err != nil {
			logger.Sugar.Errorf("Error marshalling broadcast event: %v", err)
			continue
		}

		switch evt.Kind {
		case ListCreatedType:
			// The room is empty at creation; the owner's live sessions (other
			// tabs included) join it and receive the event.
			if evt.List != nil {
				h.joinUserSessions(evt.List.OwnerID, evt.ListID)
			}
			h.send(h.MembersOf(evt.ListID), payload)

		case ListSharedType:
			// Grantee sessions join first so one fan-out reaches both the
			// existing members and the newly entitled user.
			if evt.Share != nil {
				h.joinUserSessions(evt.Share.UserID, evt.ListID)
			}
			h.send(h.MembersOf(evt.ListID), payload)

		case ShareRemovedType:
			// The grantee still sees the revocation, then loses the room.
			h.send(h.MembersOf(evt.ListID), payload)
			if evt.Share != nil {
				h.evictUserSessions(evt.Share.UserID, evt.ListID)
			}

		case ListDeletedType:
			h.send(h.MembersOf(evt.ListID), payload)
			h.closeRoom(evt.ListID)

		default:
			h.send(h.MembersOf(evt.ListID), payload)
		}
	}
}

// send delivers a payload to each member. A member whose send buffer is full
// cannot keep up and is dropped rather than allowed to stall the hub.
func (h *Hub) send(members []*Client, payload []byte) {
	for _, c := range members {
		if sent, gone := h.trySend(c, payload); !sent && !gone {
			logger.Sugar.Warnf("Send buffer full for user %s, dropping connection", c.UserID)
			h.Remove(c)
			c.Conn.Close()
		}
	}
}

// trySend enqueues without blocking. The hub mutex orders the send against
// Remove's close of the queue, so a fan-out that snapshotted the membership
// before a disconnect skips the gone session instead of panicking.
func (h *Hub) trySend(c *Client, payload []byte) (sent, gone bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return false, true
	}
	select {
	case c.Send <- payload:
		return true, false
	default:
		return false, false
	}
}

func (h *Hub) joinUserSessions(userID, listID string) {
	h.mu.Lock()
	for c := range h.sessions[userID] {
		h.joinLocked(c, listID)
	}
	h.mu.Unlock()
}

func (h *Hub) evictUserSessions(userID, listID string) {
	h.mu.Lock()
	for c := range h.sessions[userID] {
		h.leaveLocked(c, listID)
	}
	h.mu.Unlock()
}

func (h *Hub) closeRoom(listID string) {
	h.mu.Lock()
	for c := range h.rooms[listID] {
		delete(c.rooms, listID)
	}
	delete(h.rooms, listID)
	h.mu.Unlock()
}

// broadcastPresence tells a room who is in it after a join or leave.
func (h *Hub) broadcastPresence(listID string) {
	h.mu.Lock()
	room := h.rooms[listID]
	members := make([]*Client, 0, len(room))
	statuses := make([]UserStatus, 0, len(room))
	for c, joined := range room {
		members = append(members, c)
		statuses = append(statuses, UserStatus{UserID: c.UserID, JoinedAt: joined})
	}
	h.mu.Unlock()

	if len(members) == 0 {
		return
	}
	payload, err := json.Marshal(Event{Kind: PresenceType, ListID: listID, Users: statuses})
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence event: %v", err)
		return
	}
	for _, c := range members {
		if sent, gone := h.trySend(c, payload); !sent && !gone {
			// Presence is best effort; the pumps deal with stuck clients.
			logger.Sugar.Warnf("Send buffer full for user %s during presence update", c.UserID)
		}
	}
}
