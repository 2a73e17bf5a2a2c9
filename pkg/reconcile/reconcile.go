// Package reconcile merges locally-issued optimistic mutations with the
// server's broadcast stream into one authoritative view of a list. A Machine
// belongs to one connection/session and holds all of its bookkeeping as
// instance state; it expects to run on the session's single event-processing
// goroutine and is not safe for concurrent use.
package reconcile

import (
	"sort"

	"github.com/oklog/ulid/v2"

	"senarai/internal/ordering"
	"senarai/pkg/apperr"
	"senarai/socket"
	"senarai/store"
)

type Kind int

const (
	KindCreate Kind = iota
	KindUpdate
	KindDelete
	KindMove
)

type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusRolledBack
)

// Mutation tracks one optimistic local change from user action until the
// matching server response or broadcast resolves it.
type Mutation struct {
	ID     string // provenance token
	Kind   Kind
	Status Status
	TempID int64 // creates only; negative, never collides with server ids
	ItemID int64 // server id once known

	prev    *store.Item  // snapshot for update/move rollback
	removed []store.Item // snapshot for delete rollback, subtree included
	text    string       // create matching
	parent  *int64       // create matching
}

// Fields carries a partial item update; nil fields are untouched.
type Fields struct {
	Text      *string
	Completed *bool
	Notes     *string
}

type Machine struct {
	listID   string
	items    map[int64]*store.Item
	pending  []*Mutation
	edits    map[int64]map[string]bool // itemID -> fields under active edit
	nextTemp int64
}

func NewMachine(listID string, seed []store.Item) *Machine {
	m := &Machine{listID: listID, nextTemp: -1}
	m.Reset(seed)
	return m
}

// Reset replaces the view with an authoritative snapshot, e.g. the refetch
// after a reconnect. Outstanding optimistic state is discarded: events missed
// during the gap are not replayed, the snapshot is the correctness boundary.
func (m *Machine) Reset(seed []store.Item) {
	m.items = make(map[int64]*store.Item, len(seed))
	for _, it := range seed {
		cp := it
		m.items[it.ID] = &cp
	}
	m.pending = nil
	m.edits = make(map[int64]map[string]bool)
}

// Items returns the tree flattened depth-first, siblings ordered by
// (position, id).
func (m *Machine) Items() []store.Item {
	var out []store.Item
	var walk func(parentID *int64)
	walk = func(parentID *int64) {
		for _, it := range m.Siblings(parentID) {
			out = append(out, it)
			id := it.ID
			walk(&id)
		}
	}
	walk(nil)
	return out
}

// Siblings returns parentID's children in display order.
func (m *Machine) Siblings(parentID *int64) []store.Item {
	var out []store.Item
	for _, it := range m.items {
		if sameParent(it.ParentID, parentID) {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Machine) Get(itemID int64) (store.Item, bool) {
	it, ok := m.items[itemID]
	if !ok {
		return store.Item{}, false
	}
	return *it, true
}

// --- staging: apply the effect locally, then send the request ---

// StageCreate materializes a new item under a temporary identifier, placed
// after the last sibling the way the server will place it.
func (m *Machine) StageCreate(text string, parentID *int64) *Mutation {
	tempID := m.nextTemp
	m.nextTemp--

	m.items[tempID] = &store.Item{
		ID:       tempID,
		ListID:   m.listID,
		Text:     text,
		ParentID: cloneID(parentID),
		Position: ordering.AppendPosition(m.siblingNodes(parentID)),
	}

	mu := &Mutation{
		ID:     ulid.Make().String(),
		Kind:   KindCreate,
		TempID: tempID,
		text:   text,
		parent: cloneID(parentID),
	}
	m.pending = append(m.pending, mu)
	return mu
}

func (m *Machine) StageUpdate(itemID int64, fields Fields) (*Mutation, error) {
	it, ok := m.items[itemID]
	if !ok {
		return nil, apperr.ErrNotFound
	}

	mu := &Mutation{ID: ulid.Make().String(), Kind: KindUpdate, ItemID: itemID, prev: clone(it)}
	if fields.Text != nil {
		it.Text = *fields.Text
	}
	if fields.Completed != nil {
		it.Completed = *fields.Completed
	}
	if fields.Notes != nil {
		it.Notes = *fields.Notes
	}
	m.pending = append(m.pending, mu)
	return mu, nil
}

// StageDelete removes the item and its whole subtree, snapshotting everything
// removed so a failed request can restore it at the original positions.
func (m *Machine) StageDelete(itemID int64) (*Mutation, error) {
	if _, ok := m.items[itemID]; !ok {
		return nil, apperr.ErrNotFound
	}

	mu := &Mutation{ID: ulid.Make().String(), Kind: KindDelete, ItemID: itemID}
	mu.removed = m.removeSubtree(itemID)
	m.pending = append(m.pending, mu)
	return mu, nil
}

// StageMove runs the same ordering engine the server runs, so an illegal move
// is rejected locally before any request is sent and a legal one lands on the
// position the server will confirm.
func (m *Machine) StageMove(itemID, targetID int64, nest, before bool) (*Mutation, error) {
	it, ok := m.items[itemID]
	if !ok {
		return nil, apperr.ErrNotFound
	}

	plan, err := ordering.PlanMove(m.nodes(), itemID, targetID, nest, before)
	if err != nil {
		return nil, err
	}

	mu := &Mutation{ID: ulid.Make().String(), Kind: KindMove, ItemID: itemID, prev: clone(it)}
	it.ParentID = plan.ParentID
	it.Position = plan.Position
	m.pending = append(m.pending, mu)
	return mu, nil
}

// --- resolution: direct response or broadcast, whichever comes first ---

// Confirm resolves a pending mutation with the record from the direct
// response. A no-op if a broadcast already resolved it.
func (m *Machine) Confirm(mu *Mutation, rec *store.Item) {
	if mu.Status != StatusPending {
		return
	}
	mu.Status = StatusConfirmed
	m.finish(mu)

	if rec == nil {
		return
	}
	if mu.Kind == KindCreate {
		m.adoptTemp(mu.TempID, rec)
		mu.ItemID = rec.ID
		return
	}
	m.applyRecord(rec)
}

// ConfirmDelete resolves a pending delete.
func (m *Machine) ConfirmDelete(mu *Mutation) {
	if mu.Status != StatusPending {
		return
	}
	mu.Status = StatusConfirmed
	m.finish(mu)
}

// Fail rolls the optimistic effect back exactly to its pre-mutation value and
// marks the mutation rolled back.
func (m *Machine) Fail(mu *Mutation) {
	if mu.Status != StatusPending {
		return
	}
	mu.Status = StatusRolledBack
	m.finish(mu)

	switch mu.Kind {
	case KindCreate:
		delete(m.items, mu.TempID)
	case KindUpdate, KindMove:
		if mu.prev != nil {
			m.items[mu.prev.ID] = clone(mu.prev)
		}
	case KindDelete:
		for i := range mu.removed {
			m.items[mu.removed[i].ID] = clone(&mu.removed[i])
		}
	}
}

// ApplyEvent folds one broadcast event into the view. Delivery is idempotent:
// replaying an event leaves the state unchanged. Events for pending local
// mutations are matched and adopted; everything else is a genuinely remote
// change applied directly.
func (m *Machine) ApplyEvent(evt socket.Event) {
	if evt.ListID != m.listID {
		return
	}

	switch evt.Kind {
	case socket.ItemCreatedType:
		if evt.Item == nil {
			return
		}
		if _, ok := m.items[evt.Item.ID]; ok {
			// Echo of a create already confirmed by the direct response.
			m.applyRecord(evt.Item)
			return
		}
		if mu := m.matchPendingCreate(evt.Item); mu != nil {
			m.adoptTemp(mu.TempID, evt.Item)
			mu.ItemID = evt.Item.ID
			mu.Status = StatusConfirmed
			m.finish(mu)
			return
		}
		cp := *evt.Item
		m.items[cp.ID] = &cp

	case socket.ItemUpdatedType:
		if evt.Item == nil {
			return
		}
		m.confirmPendingFor(evt.Item.ID, KindUpdate, KindMove)
		m.applyRecord(evt.Item)

	case socket.ItemDeletedType:
		m.confirmPendingFor(evt.ItemID, KindDelete)
		if _, ok := m.items[evt.ItemID]; ok {
			m.removeSubtree(evt.ItemID)
		}
		m.clearEdits(evt.ItemID)

	case socket.ListDeletedType:
		m.Reset(nil)
	}
}

// --- debounced field edits ---

// BeginEdit guards a field while a debounced local edit is in flight so an
// inbound broadcast cannot overwrite the text under the user's cursor.
// Non-conflicting fields of the same event still apply.
func (m *Machine) BeginEdit(itemID int64, field string) {
	if m.edits[itemID] == nil {
		m.edits[itemID] = make(map[string]bool)
	}
	m.edits[itemID][field] = true
}

func (m *Machine) EndEdit(itemID int64, field string) {
	if fields, ok := m.edits[itemID]; ok {
		delete(fields, field)
		if len(fields) == 0 {
			delete(m.edits, itemID)
		}
	}
}

func (m *Machine) clearEdits(itemID int64) {
	delete(m.edits, itemID)
}

// --- internals ---

// applyRecord adopts a server record, keeping locally-edited fields.
func (m *Machine) applyRecord(rec *store.Item) {
	cur, ok := m.items[rec.ID]
	if !ok {
		m.items[rec.ID] = clone(rec)
		return
	}
	guards := m.edits[rec.ID]
	next := *rec
	if guards["text"] {
		next.Text = cur.Text
	}
	if guards["notes"] {
		next.Notes = cur.Notes
	}
	*cur = next
}

// adoptTemp swaps a temporary item for its server record, repointing any
// children that were optimistically created under the temporary id.
func (m *Machine) adoptTemp(tempID int64, rec *store.Item) {
	delete(m.items, tempID)
	m.items[rec.ID] = clone(rec)
	for _, it := range m.items {
		if it.ParentID != nil && *it.ParentID == tempID {
			id := rec.ID
			it.ParentID = &id
		}
	}
	// Creates pending under the temporary parent now reference the real one.
	for _, mu := range m.pending {
		if mu.Kind == KindCreate && mu.parent != nil && *mu.parent == tempID {
			id := rec.ID
			mu.parent = &id
		}
	}
	if fields, ok := m.edits[tempID]; ok {
		delete(m.edits, tempID)
		m.edits[rec.ID] = fields
	}
}

// matchPendingCreate finds an outstanding optimistic create that this
// broadcast most plausibly confirms: same parent, same text.
func (m *Machine) matchPendingCreate(rec *store.Item) *Mutation {
	for _, mu := range m.pending {
		if mu.Kind != KindCreate || mu.Status != StatusPending {
			continue
		}
		if mu.text == rec.Text && sameParent(mu.parent, rec.ParentID) {
			return mu
		}
	}
	return nil
}

func (m *Machine) confirmPendingFor(itemID int64, kinds ...Kind) {
	for _, mu := range m.pending {
		if mu.Status != StatusPending || mu.ItemID != itemID {
			continue
		}
		for _, k := range kinds {
			if mu.Kind == k {
				mu.Status = StatusConfirmed
				m.finish(mu)
				return
			}
		}
	}
}

func (m *Machine) finish(mu *Mutation) {
	for i, p := range m.pending {
		if p == mu {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *Machine) removeSubtree(itemID int64) []store.Item {
	var removed []store.Item
	var walk func(id int64)
	walk = func(id int64) {
		it, ok := m.items[id]
		if !ok {
			return
		}
		removed = append(removed, *it)
		delete(m.items, id)
		for _, child := range m.items {
			if child.ParentID != nil && *child.ParentID == id {
				walk(child.ID)
			}
		}
	}
	walk(itemID)
	return removed
}

func (m *Machine) nodes() []ordering.Node {
	nodes := make([]ordering.Node, 0, len(m.items))
	for _, it := range m.items {
		nodes = append(nodes, ordering.Node{ID: it.ID, ParentID: it.ParentID, Position: it.Position})
	}
	return nodes
}

func (m *Machine) siblingNodes(parentID *int64) []ordering.Node {
	var nodes []ordering.Node
	for _, it := range m.items {
		if sameParent(it.ParentID, parentID) {
			nodes = append(nodes, ordering.Node{ID: it.ID, ParentID: it.ParentID, Position: it.Position})
		}
	}
	return nodes
}

func clone(it *store.Item) *store.Item {
	cp := *it
	cp.ParentID = cloneID(it.ParentID)
	return &cp
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
