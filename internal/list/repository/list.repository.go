package repository

import (
	"database/sql"
	"errors"
	"sync"

	"senarai/internal/list/model"
	"senarai/internal/ordering"
	"senarai/pkg/apperr"
	"senarai/pkg/logger"
	"senarai/store"
)

const itemColumns = "id, list_id, text, completed, notes, parent_id, position, created_at, updated_at"

// ListRepository applies mutations to Postgres. Position assignment is
// compute-then-commit: the per-list mutex serializes it within one list so
// two concurrent moves cannot pick the same slot, while different lists
// never block each other.
type ListRepository struct {
	DB    *sql.DB
	locks sync.Map // listID -> *sync.Mutex
}

func NewListRepository(db *sql.DB) *ListRepository {
	return &ListRepository{DB: db}
}

func (r *ListRepository) lockList(listID string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(listID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// --- Items ---

func (r *ListRepository) CreateItem(listID, text string, parentID *int64) (*store.Item, error) {
	mu := r.lockList(listID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := r.DB.Begin()
	if err != nil {
		logger.Sugar.Errorf("Failed to begin create for list %s: %v", listID, err)
		return nil, apperr.FromStore(err)
	}
	defer tx.Rollback()

	if parentID != nil {
		var parentList string
		err := tx.QueryRow("SELECT list_id FROM items WHERE id = $1", *parentID).Scan(&parentList)
		if err != nil {
			return nil, apperr.FromStore(err)
		}
		if parentList != listID {
			return nil, apperr.ErrNotFound
		}
	}

	// New items append after the last sibling, one gap out.
	var maxPos sql.NullInt64
	err = tx.QueryRow(
		"SELECT MAX(position) FROM items WHERE list_id = $1 AND parent_id IS NOT DISTINCT FROM $2",
		listID, parentID,
	).Scan(&maxPos)
	if err != nil {
		logger.Sugar.Errorf("Failed to read sibling positions for list %s: %v", listID, err)
		return nil, apperr.FromStore(err)
	}
	position := maxPos.Int64 + ordering.Gap

	item := &store.Item{ListID: listID, Text: text, ParentID: parentID, Position: position}
	err = tx.QueryRow(
		`INSERT INTO items (list_id, text, parent_id, position, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		listID, text, parentID, position,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to insert item into list %s: %v", listID, err)
		return nil, apperr.FromStore(err)
	}

	if err := tx.Commit(); err != nil {
		logger.Sugar.Errorf("Failed to commit create for list %s: %v", listID, err)
		return nil, apperr.FromStore(err)
	}
	return item, nil
}

func (r *ListRepository) GetItem(itemID int64) (*store.Item, error) {
	row := r.DB.QueryRow("SELECT "+itemColumns+" FROM items WHERE id = $1", itemID)
	item, err := scanItem(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to get item %d: %v", itemID, err)
		}
		return nil, apperr.FromStore(err)
	}
	return item, nil
}

func (r *ListRepository) ItemsForList(listID string) ([]store.Item, error) {
	rows, err := r.DB.Query(
		"SELECT "+itemColumns+" FROM items WHERE list_id = $1 ORDER BY parent_id NULLS FIRST, position, id",
		listID,
	)
	if err != nil {
		logger.Sugar.Errorf("Failed to load items for list %s: %v", listID, err)
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()

	items := []store.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperr.FromStore(err)
		}
		items = append(items, *item)
	}
	return items, apperr.FromStore(rows.Err())
}

func (r *ListRepository) UpdateItem(itemID int64, req model.UpdateItemRequest) (*store.Item, error) {
	row := r.DB.QueryRow(
		`UPDATE items SET
			text = COALESCE($2, text),
			completed = COALESCE($3, completed),
			notes = COALESCE($4, notes),
			updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+itemColumns,
		itemID, req.Text, req.Completed, req.Notes,
	)
	item, err := scanItem(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to update item %d: %v", itemID, err)
		}
		return nil, apperr.FromStore(err)
	}
	return item, nil
}

// DeleteItem removes an item; descendants go with it via the parent_id
// cascade.
func (r *ListRepository) DeleteItem(itemID int64) error {
	result, err := r.DB.Exec("DELETE FROM items WHERE id = $1", itemID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete item %d: %v", itemID, err)
		return apperr.FromStore(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.FromStore(err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// MoveItem plans the destination with the ordering engine and commits it in
// one transaction. When the engine reports exhausted headroom the destination
// siblings are renumbered inside the same transaction and the move replanned,
// so a failed rebalance leaves no partial state behind.
func (r *ListRepository) MoveItem(listID string, req model.MoveItemRequest) (*store.Item, error) {
	mu := r.lockList(listID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := r.DB.Begin()
	if err != nil {
		logger.Sugar.Errorf("Failed to begin move for list %s: %v", listID, err)
		return nil, apperr.FromStore(err)
	}
	defer tx.Rollback()

	nodes, err := loadNodes(tx, listID)
	if err != nil {
		return nil, err
	}

	plan, err := ordering.PlanMove(nodes, req.ItemID, req.TargetID, req.Nest, req.InsertBefore)
	if errors.Is(err, ordering.ErrNoHeadroom) {
		nodes, err = rebalanceSiblings(tx, nodes, plan.ParentID, req.ItemID)
		if err != nil {
			return nil, err
		}
		plan, err = ordering.PlanMove(nodes, req.ItemID, req.TargetID, req.Nest, req.InsertBefore)
	}
	if err != nil {
		switch {
		case errors.Is(err, ordering.ErrInvalidMove):
			return nil, apperr.ErrInvalidMove
		case errors.Is(err, ordering.ErrUnknownItem):
			return nil, apperr.ErrNotFound
		default:
			return nil, err
		}
	}

	row := tx.QueryRow(
		`UPDATE items SET parent_id = $2, position = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+itemColumns,
		req.ItemID, plan.ParentID, plan.Position,
	)
	item, err := scanItem(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to move item %d: %v", req.ItemID, err)
		return nil, apperr.FromStore(err)
	}

	if err := tx.Commit(); err != nil {
		logger.Sugar.Errorf("Failed to commit move for list %s: %v", listID, err)
		return nil, apperr.FromStore(err)
	}
	return item, nil
}

func loadNodes(tx *sql.Tx, listID string) ([]ordering.Node, error) {
	rows, err := tx.Query("SELECT id, parent_id, position FROM items WHERE list_id = $1", listID)
	if err != nil {
		logger.Sugar.Errorf("Failed to load tree for list %s: %v", listID, err)
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()

	var nodes []ordering.Node
	for rows.Next() {
		var n ordering.Node
		var parent sql.NullInt64
		if err := rows.Scan(&n.ID, &parent, &n.Position); err != nil {
			return nil, apperr.FromStore(err)
		}
		if parent.Valid {
			p := parent.Int64
			n.ParentID = &p
		}
		nodes = append(nodes, n)
	}
	return nodes, apperr.FromStore(rows.Err())
}

// rebalanceSiblings renumbers parent's children (sans the moving item) at
// even gaps and mirrors the new positions into the in-memory snapshot.
func rebalanceSiblings(tx *sql.Tx, nodes []ordering.Node, parentID *int64, movingID int64) ([]ordering.Node, error) {
	siblings := ordering.Children(nodes, parentID)
	kept := siblings[:0]
	for _, s := range siblings {
		if s.ID != movingID {
			kept = append(kept, s)
		}
	}

	for _, s := range ordering.Rebalance(kept) {
		if _, err := tx.Exec("UPDATE items SET position = $2 WHERE id = $1", s.ID, s.Position); err != nil {
			logger.Sugar.Errorf("Failed to rebalance item %d: %v", s.ID, err)
			return nil, apperr.FromStore(err)
		}
		for i := range nodes {
			if nodes[i].ID == s.ID {
				nodes[i].Position = s.Position
			}
		}
	}
	return nodes, nil
}

// --- Lists ---

func (r *ListRepository) CreateList(id, name, ownerID string) (*store.List, error) {
	list := &store.List{ID: id, Name: name, OwnerID: ownerID}
	err := r.DB.QueryRow(
		`INSERT INTO lists (id, name, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		id, name, ownerID,
	).Scan(&list.CreatedAt, &list.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create list: %v", err)
		return nil, apperr.FromStore(err)
	}
	return list, nil
}

func (r *ListRepository) GetList(listID string) (*store.List, error) {
	list := &store.List{}
	err := r.DB.QueryRow(
		"SELECT id, name, owner_id, created_at, updated_at FROM lists WHERE id = $1", listID,
	).Scan(&list.ID, &list.Name, &list.OwnerID, &list.CreatedAt, &list.UpdatedAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to get list %s: %v", listID, err)
		}
		return nil, apperr.FromStore(err)
	}
	return list, nil
}

func (r *ListRepository) UpdateListName(listID, name, ownerID string) (*store.List, error) {
	list := &store.List{ID: listID, Name: name, OwnerID: ownerID}
	err := r.DB.QueryRow(
		`UPDATE lists SET name = $2, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $3
		 RETURNING created_at, updated_at`,
		listID, name, ownerID,
	).Scan(&list.CreatedAt, &list.UpdatedAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to rename list %s: %v", listID, err)
		}
		return nil, apperr.FromStore(err)
	}
	return list, nil
}

func (r *ListRepository) DeleteList(listID string) error {
	result, err := r.DB.Exec("DELETE FROM lists WHERE id = $1", listID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete list %s: %v", listID, err)
		return apperr.FromStore(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.FromStore(err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *ListRepository) ListsForUser(userID string) ([]model.ListSummary, error) {
	query := `
		SELECT id, name, owner_id, created_at, updated_at, 'edit' AS permission FROM lists WHERE owner_id = $1
		UNION
		SELECT l.id, l.name, l.owner_id, l.created_at, l.updated_at, s.permission
		FROM lists l JOIN shares s ON l.id = s.list_id WHERE s.user_id = $1
		ORDER BY updated_at DESC`
	rows, err := r.DB.Query(query, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get lists for user %s: %v", userID, err)
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()

	summaries := []model.ListSummary{}
	for rows.Next() {
		var s model.ListSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.OwnerID, &s.CreatedAt, &s.UpdatedAt, &s.Permission); err != nil {
			return nil, apperr.FromStore(err)
		}
		s.IsOwner = s.OwnerID == userID
		summaries = append(summaries, s)
	}
	return summaries, apperr.FromStore(rows.Err())
}

// --- Shares / permission oracle ---

func (r *ListRepository) UpsertShare(listID, userID, permission string) error {
	_, err := r.DB.Exec(
		`INSERT INTO shares (list_id, user_id, permission) VALUES ($1, $2, $3)
		 ON CONFLICT (list_id, user_id) DO UPDATE SET permission = $3`,
		listID, userID, permission,
	)
	if err != nil {
		logger.Sugar.Errorf("Failed to share list %s with user %s: %v", listID, userID, err)
	}
	return apperr.FromStore(err)
}

func (r *ListRepository) DeleteShare(listID, userID string) error {
	result, err := r.DB.Exec("DELETE FROM shares WHERE list_id = $1 AND user_id = $2", listID, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to remove share on list %s for user %s: %v", listID, userID, err)
		return apperr.FromStore(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.FromStore(err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// CanEdit is the capability oracle consulted before every mutation: the
// owner, or a grantee with an edit share.
func (r *ListRepository) CanEdit(userID, listID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(
		`SELECT EXISTS(
			SELECT 1 FROM lists WHERE id = $1 AND owner_id = $2
			UNION
			SELECT 1 FROM shares WHERE list_id = $1 AND user_id = $2 AND permission = 'edit'
		)`, listID, userID,
	).Scan(&ok)
	if err != nil {
		logger.Sugar.Errorf("Failed to check edit access for user %s on list %s: %v", userID, listID, err)
		return false, apperr.FromStore(err)
	}
	return ok, nil
}

func (r *ListRepository) CanView(userID, listID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(
		`SELECT EXISTS(
			SELECT 1 FROM lists WHERE id = $1 AND owner_id = $2
			UNION
			SELECT 1 FROM shares WHERE list_id = $1 AND user_id = $2
		)`, listID, userID,
	).Scan(&ok)
	if err != nil {
		logger.Sugar.Errorf("Failed to check view access for user %s on list %s: %v", userID, listID, err)
		return false, apperr.FromStore(err)
	}
	return ok, nil
}

// ListIDsForUser feeds the hub's eager-subscribe at connect time.
func (r *ListRepository) ListIDsForUser(userID string) ([]string, error) {
	rows, err := r.DB.Query(
		`SELECT id FROM lists WHERE owner_id = $1
		 UNION
		 SELECT list_id FROM shares WHERE user_id = $1`, userID,
	)
	if err != nil {
		logger.Sugar.Errorf("Failed to get list ids for user %s: %v", userID, err)
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.FromStore(err)
		}
		ids = append(ids, id)
	}
	return ids, apperr.FromStore(rows.Err())
}

func (r *ListRepository) GetUserByEmail(email string) (string, error) {
	var userID string
	err := r.DB.QueryRow("SELECT id FROM auth.users WHERE email = $1", email).Scan(&userID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to get user by email %s: %v", email, err)
		}
		return "", apperr.FromStore(err)
	}
	return userID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*store.Item, error) {
	item := &store.Item{}
	var parent sql.NullInt64
	err := row.Scan(&item.ID, &item.ListID, &item.Text, &item.Completed, &item.Notes,
		&parent, &item.Position, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		p := parent.Int64
		item.ParentID = &p
	}
	return item, nil
}
