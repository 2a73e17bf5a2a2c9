package store

import "time"

const (
	PermissionView = "view"
	PermissionEdit = "edit"
)

// Item is one row of a list's tree. Position orders an item among the
// siblings that share its ParentID; it carries no meaning across parents.
type Item struct {
	ID        int64     `json:"id"`
	ListID    string    `json:"list_id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	Notes     string    `json:"notes,omitempty"`
	ParentID  *int64    `json:"parent_id"`
	Position  int64     `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type List struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShareGrant gives UserID view or edit access to a list they don't own.
type ShareGrant struct {
	ListID     string `json:"list_id"`
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
}
