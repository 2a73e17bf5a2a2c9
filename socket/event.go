package socket

import (
	"time"

	"senarai/store"
)

const (
	ItemCreatedType  = "item-created"
	ItemUpdatedType  = "item-updated"
	ItemDeletedType  = "item-deleted"
	ListCreatedType  = "list-created"
	ListUpdatedType  = "list-updated"
	ListDeletedType  = "list-deleted"
	ListSharedType   = "list-shared"
	ShareRemovedType = "share-removed"
	PresenceType     = "presence" // who is currently in the room

	// Advisory client control messages.
	JoinListType  = "join-list"
	LeaveListType = "leave-list"
)

// Event is the one canonical message published per durable mutation. Creates
// and updates carry the full resulting record, deletes the identifier alone.
type Event struct {
	Kind   string            `json:"kind"`
	ListID string            `json:"listId"`
	UserID string            `json:"user_id,omitempty"` // originator
	Item   *store.Item       `json:"item,omitempty"`
	ItemID int64             `json:"itemId,omitempty"`
	List   *store.List       `json:"list,omitempty"`
	Share  *store.ShareGrant `json:"share,omitempty"`
	Users  []UserStatus      `json:"users,omitempty"` // presence only
}

type UserStatus struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// ControlMessage is what clients may send over the socket. Joining is
// advisory: authorization is re-checked per mutation, not per subscription,
// but view access is still verified before adding the session to a room.
type ControlMessage struct {
	Type   string `json:"type"`
	ListID string `json:"listId"`
}
