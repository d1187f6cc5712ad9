// Package marker implements the per-slot marking primitive spec.md §4.9
// uses to run set algebra (IntersectWith, SymmetricExceptWith, SetEquals,
// IsSubsetOf, IsProperSubsetOf, IsProperSupersetOf) in
// bounded memory: a single extra pass over the lookup section's existing
// 4-byte marker field, rather than building an auxiliary hash set of one
// side in RAM.
//
// This mirrors how gsfa/store/index's in-memory bucket table reuses a
// fixed-size slot array as working storage instead of allocating a
// separate structure per query; here the reused storage is the 4-byte
// marker field every set-mode lookup slot already carries.
//
// Each of those façade operations wraps an Engine around the *receiver's*
// table (never the argument's), per spec.md §4.9's primitive table:
// UnmarkAll, then TryMark every element of the argument set against the
// receiver, then read back AllMarked (or a per-slot Marker during a
// removeMarked/removeUnmarked pass) to decide what survives.
package marker

import (
	"github.com/rpcpool/diskmap/nodeio"
	"github.com/rpcpool/diskmap/table"
)

// Marked is the nonzero marker value TryMark writes. The field is a
// generic i32, but this engine only ever needs one bit of information per
// slot: was this element found during the current pass.
const Marked int32 = 1

// Engine marks and reads the scratch marker bits of a set-mode table.
type Engine struct {
	Table *table.Table
}

// New wraps t for marker-based algebra. t must be in set mode
// (nodeio.LookupNodeSizeSet).
func New(t *table.Table) *Engine {
	return &Engine{Table: t}
}

// UnmarkAll zeros every slot's marker, the required starting state before
// any algebra pass — spec.md §4.9's unmarkAll.
func (e *Engine) UnmarkAll() error {
	capacity := e.Table.Capacity()
	for slot := int64(0); slot < capacity; slot++ {
		if err := e.Table.SetMarker(slot, 0); err != nil {
			return err
		}
	}
	return nil
}

// TryMark finds hashCode/match in the wrapped table; if present, it marks
// that slot and returns true. Spec.md §4.9's tryMark(K).
func (e *Engine) TryMark(hashCode int32, match func(itemPointer int64) (bool, error)) (bool, error) {
	slot, _, present, err := e.Table.FindSlot(hashCode, match)
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}
	if err := e.Table.SetMarker(slot, Marked); err != nil {
		return false, err
	}
	return true, nil
}

// AllMarked reports whether every live slot in the wrapped table carries a
// nonzero marker — spec.md §4.9's allMarked.
func (e *Engine) AllMarked() (bool, error) {
	allMarked := true
	err := e.Table.Walk(func(_ int64, ih nodeio.ItemHeader) error {
		if !allMarked {
			return nil
		}
		m, err := e.Table.Marker(ih.LookupPointer)
		if err != nil {
			return err
		}
		if m == 0 {
			allMarked = false
		}
		return nil
	})
	return allMarked, err
}

// Marker reads slot's raw marker value, for callers distinguishing
// marked/unmarked per item during a removeMarked/removeUnmarked walk.
func (e *Engine) Marker(slot int64) (int32, error) {
	return e.Table.Marker(slot)
}
