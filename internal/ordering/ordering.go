// Package ordering assigns gap-based positions to items in a hierarchical
// list. All functions are pure and deterministic: identical inputs always
// produce identical placements, so the store layer can replay a plan after a
// rebalance inside the same transaction.
package ordering

import (
	"errors"
	"sort"
)

// Gap is the spacing left between adjacent siblings so that later inserts
// can usually take a midpoint without renumbering anyone.
const Gap = 1000

var (
	// ErrInvalidMove is returned when a move would make an item an ancestor
	// of itself (dropping an item into its own subtree).
	ErrInvalidMove = errors.New("ordering: move would create a cycle")
	// ErrNoHeadroom is returned when no integer fits strictly between the two
	// positions that would flank the moved item. The caller rebalances the
	// destination siblings and plans again.
	ErrNoHeadroom = errors.New("ordering: no position headroom between siblings")
	// ErrUnknownItem is returned when the moving item or drop target is not
	// in the supplied snapshot.
	ErrUnknownItem = errors.New("ordering: unknown item")
)

// Node is the minimal view of an item the engine needs.
type Node struct {
	ID       int64
	ParentID *int64
	Position int64
}

// Placement is the computed destination of a move.
type Placement struct {
	ParentID *int64
	Position int64
}

// SortSiblings orders nodes by (position, id). The id tie-break keeps the
// order stable if equal positions ever reach the engine; placements it
// produces never introduce such ties.
func SortSiblings(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Position != nodes[j].Position {
			return nodes[i].Position < nodes[j].Position
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// Children returns parent's children from the snapshot, sorted. A nil
// parentID selects the top level.
func Children(nodes []Node, parentID *int64) []Node {
	var out []Node
	for _, n := range nodes {
		if sameParent(n.ParentID, parentID) {
			out = append(out, n)
		}
	}
	SortSiblings(out)
	return out
}

// AppendPosition returns the position for a new last sibling: one Gap past
// the current tail, or Gap for an empty sibling list.
func AppendPosition(siblings []Node) int64 {
	if len(siblings) == 0 {
		return Gap
	}
	max := siblings[0].Position
	for _, s := range siblings[1:] {
		if s.Position > max {
			max = s.Position
		}
	}
	return max + Gap
}

// Rebalance renumbers siblings Gap, 2*Gap, ... preserving their order.
func Rebalance(siblings []Node) []Node {
	out := make([]Node, len(siblings))
	copy(out, siblings)
	SortSiblings(out)
	for i := range out {
		out[i].Position = Gap * int64(i+1)
	}
	return out
}

// PlanMove computes the (parent, position) for itemID after it is dropped on
// targetID. nest makes it the last child of the target; otherwise it becomes
// a sibling of the target, before or after it. nodes is a snapshot of every
// item in the list.
func PlanMove(nodes []Node, itemID, targetID int64, nest, before bool) (Placement, error) {
	byID := make(map[int64]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	if _, ok := byID[itemID]; !ok {
		return Placement{}, ErrUnknownItem
	}
	target, ok := byID[targetID]
	if !ok {
		return Placement{}, ErrUnknownItem
	}
	if itemID == targetID {
		return Placement{}, ErrInvalidMove
	}

	var parentID *int64
	if nest {
		parentID = &target.ID
	} else {
		parentID = target.ParentID
	}

	// The new parent chain must not pass through the moving item.
	if err := checkCycle(byID, itemID, parentID); err != nil {
		return Placement{}, err
	}

	siblings := Children(nodes, parentID)
	siblings = without(siblings, itemID)

	if nest {
		return Placement{ParentID: parentID, Position: AppendPosition(siblings)}, nil
	}

	pos, err := insertPosition(siblings, targetID, before)
	if err != nil {
		// Report the destination parent so the caller knows which sibling
		// set to rebalance.
		return Placement{ParentID: parentID}, err
	}
	return Placement{ParentID: parentID, Position: pos}, nil
}

// insertPosition picks the position directly before or after the target
// within its (already sorted) sibling list.
func insertPosition(siblings []Node, targetID int64, before bool) (int64, error) {
	idx := -1
	for i, s := range siblings {
		if s.ID == targetID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Target was the moving item's only co-sibling variant that got
		// filtered out; cannot happen for a valid snapshot.
		return 0, ErrUnknownItem
	}

	var prev, next *Node
	if before {
		if idx > 0 {
			prev = &siblings[idx-1]
		}
		next = &siblings[idx]
	} else {
		prev = &siblings[idx]
		if idx+1 < len(siblings) {
			next = &siblings[idx+1]
		}
	}
	return between(prev, next)
}

func between(prev, next *Node) (int64, error) {
	switch {
	case prev == nil && next == nil:
		return Gap, nil
	case prev == nil:
		return next.Position - Gap, nil
	case next == nil:
		return prev.Position + Gap, nil
	default:
		if next.Position-prev.Position >= 2 {
			return prev.Position + (next.Position-prev.Position)/2, nil
		}
		return 0, ErrNoHeadroom
	}
}

// checkCycle walks up from parentID; seeing itemID means the destination is
// inside the moving item's own subtree.
func checkCycle(byID map[int64]Node, itemID int64, parentID *int64) error {
	seen := 0
	for p := parentID; p != nil; {
		if *p == itemID {
			return ErrInvalidMove
		}
		n, ok := byID[*p]
		if !ok {
			return ErrUnknownItem
		}
		p = n.ParentID
		if seen++; seen > len(byID) {
			// Pre-existing cycle in the snapshot; refuse to make it worse.
			return ErrInvalidMove
		}
	}
	return nil
}

func without(nodes []Node, id int64) []Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
