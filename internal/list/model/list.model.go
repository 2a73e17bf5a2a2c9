package model

import "senarai/store"

type CreateListRequest struct {
	Name string `json:"name"`
}

type UpdateListRequest struct {
	Name string `json:"name"`
}

// ListSummary is one entry of GET /api/lists: the list plus how the caller
// relates to it.
type ListSummary struct {
	store.List
	IsOwner    bool   `json:"is_owner"`
	Permission string `json:"permission"`
}

type ShareRequest struct {
	ListID     string `json:"list_id"`
	Email      string `json:"email"`
	Permission string `json:"permission"`
}

type CreateItemRequest struct {
	ListID   string `json:"list_id"`
	Text     string `json:"text"`
	ParentID *int64 `json:"parent_id"`
}

// UpdateItemRequest carries partial updates; nil fields are left untouched.
type UpdateItemRequest struct {
	Text      *string `json:"text"`
	Completed *bool   `json:"completed"`
	Notes     *string `json:"notes"`
}

// MoveItemRequest describes a drag-drop: the item lands on TargetID. Nest
// makes it the target's child, otherwise it becomes a sibling, before or
// after the target. The new parent is derived from the target and intent.
type MoveItemRequest struct {
	ItemID       int64 `json:"item_id"`
	TargetID     int64 `json:"target_id"`
	Nest         bool  `json:"nest"`
	InsertBefore bool  `json:"insert_before"`
}

type DeleteItemResponse struct {
	ItemID int64 `json:"item_id"`
}
