// Package table implements the open-addressed hash table core of spec.md
// §4.2–§4.5: Find, Set, Delete, and growth, journaled through package
// journal and laid out on disk through package nodeio.
//
// The locking shape — one RWMutex guarding the in-memory view of the
// lookup/item sections, held exclusively for any structural change and
// shared for lookups — mirrors store/index.Index's bucketLk, which guards
// that format's in-memory bucket table the same way.
package table

import (
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/diskmap/errs"
	"github.com/rpcpool/diskmap/journal"
	"github.com/rpcpool/diskmap/nodeio"
	"github.com/rpcpool/diskmap/pagecache"
	"github.com/rpcpool/diskmap/platformhash"
)

var log = logging.Logger("diskmap/table")

// maxLoadFactorNumerator/Denominator bound how full the lookup section may
// get (0.7) before a Grow runs, per spec.md §3 invariant 4 / §4.5 / §4.7.
const (
	maxLoadFactorNumerator   = 7
	maxLoadFactorDenominator = 10

	minCapacity = 16
)

// Table is the open-addressed hash table shared by dictionary and set mode.
// LookupNodeSize distinguishes the two: 8 bytes (dictionary, no marker) or
// 12 bytes (set, with a 4-byte marker slot used by package marker).
type Table struct {
	mu sync.RWMutex

	Stream         *pagecache.Stream
	Journal        *journal.Manager
	LookupNodeSize int64
	ReadOnly       bool

	header nodeio.Header

	// orphans counts dead item-node bodies (overwritten Set, deleted
	// Delete) not yet reclaimed by Compact, mirroring spec.md's
	// fragmentation count.
	orphans int64
}

// Open creates a Table over an already-opened stream, replaying any
// interrupted journal operation before returning. A writable stream shorter
// than the header and journal is first initialized as an empty table; a
// read-only one is rejected with errs.ErrInvalidPath.
func Open(s *pagecache.Stream, signature [16]byte, lookupNodeSize int64, readOnly bool, initialCapacityHint int64) (*Table, error) {
	t := &Table{
		Stream:         s,
		LookupNodeSize: lookupNodeSize,
		ReadOnly:       readOnly,
		Journal:        &journal.Manager{Stream: s, LookupNodeSize: lookupNodeSize},
	}

	if s.Size() < nodeio.LookupBase {
		if readOnly {
			return nil, errs.ErrInvalidPath
		}
		initialCapacity := int64(minCapacity)
		if initialCapacityHint > initialCapacity {
			initialCapacity = nextPowerOfTwo(initialCapacityHint)
		}
		if err := t.initEmpty(signature, initialCapacity); err != nil {
			return nil, err
		}
	}

	if !readOnly {
		replayed, err := t.Journal.RecoverOnOpen()
		if err != nil {
			return nil, err
		}
		if replayed {
			log.Infow("recovered from interrupted journal operation")
		}
	} else {
		// A read-only handle cannot heal the file, but it still needs to
		// know whether there's an unresolved operation: refuse to serve a
		// view that might be missing a still-pending write.
		j, valid, err := nodeio.ReadJournal(s)
		if err != nil {
			return nil, err
		}
		if valid && j.Operation != nodeio.OpNone {
			return nil, errs.ErrJournalStuck
		}
	}

	h, err := nodeio.ReadHeader(s)
	if err != nil {
		return nil, err
	}
	t.header = h
	if h.Signature != signature {
		return nil, errs.ErrInvalidSignature
	}
	orphans, err := t.countOrphans()
	if err != nil {
		return nil, err
	}
	t.orphans = orphans
	return t, nil
}

// isLive reports whether the item node at pos is still reachable: its own
// slot (ih.LookupPointer) must currently point back at pos. This is the
// only liveness test used anywhere in the package — deliberately not "is
// ih.LookupPointer zero", since that field is never mutated when an item
// is disowned (see orphan in mutate.go). Liveness is instead derived
// purely from the lookup section's own, already-journal-committed state,
// so it is correct at any point a crash could leave the file in,
// including between a Set/Delete's journal commit and the bookkeeping
// orphan() call that follows it.
func (t *Table) isLive(pos int64, ih nodeio.ItemHeader) (bool, error) {
	slotPointer, err := nodeio.ReadItemPointer(t.Stream, ih.LookupPointer, t.LookupNodeSize)
	if err != nil {
		return false, err
	}
	return slotPointer == pos, nil
}

// countOrphans walks the item section once to recover the fragmentation
// count across a reopen, since it is otherwise only tracked in memory.
func (t *Table) countOrphans() (int64, error) {
	var n int64
	pos := t.header.ItemSectionPointer
	for pos < t.header.EndOfFilePointer {
		ih, err := nodeio.ReadItemHeader(t.Stream, pos)
		if err != nil {
			return 0, err
		}
		live, err := t.isLive(pos, ih)
		if err != nil {
			return 0, err
		}
		if !live {
			n++
		}
		if ih.NextItemPointer <= pos {
			break
		}
		pos = ih.NextItemPointer
	}
	return n, nil
}

func nextPowerOfTwo(n int64) int64 {
	p := int64(minCapacity)
	for p < n {
		p *= 2
	}
	return p
}

func (t *Table) initEmpty(signature [16]byte, initialCapacity int64) error {
	itemSectionPointer := nodeio.ItemSectionPointerFor(initialCapacity, t.LookupNodeSize)
	if err := t.Stream.Truncate(itemSectionPointer); err != nil {
		return err
	}
	h := nodeio.Header{
		Signature:          signature,
		Count:              0,
		Capacity:           initialCapacity,
		ItemSectionPointer: itemSectionPointer,
		EndOfFilePointer:   itemSectionPointer,
	}
	if err := nodeio.WriteHeader(t.Stream, h); err != nil {
		return err
	}
	if err := nodeio.ClearJournal(t.Stream); err != nil {
		return err
	}
	return t.Stream.Flush()
}

// Count returns the number of live entries.
func (t *Table) Count() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.header.Count
}

// Capacity returns the current lookup section capacity.
func (t *Table) Capacity() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.header.Capacity
}

// FragmentationCount returns the number of dead item-node bodies awaiting
// reclamation by Compact — a supplemented diagnostic accessor (SPEC_FULL.md §5).
func (t *Table) FragmentationCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.orphans
}

// FileSize returns the current on-disk size of the map, another
// supplemented diagnostic accessor.
func (t *Table) FileSize() int64 {
	return t.Stream.Size()
}

// found is the result of a probe: the slot a key occupies (if present) or
// the first tombstone/never-occupied slot suitable for insertion.
type found struct {
	slot        int64
	itemPointer int64
	present     bool
}

// probe walks the double-hash chain for hashCode, calling match at each
// live slot to test key equality, and stops at the first free slot.
func (t *Table) probe(hashCode int32, match func(itemPointer int64) (bool, error)) (found, error) {
	first := platformhash.FirstHash(hashCode)
	step := platformhash.CollisionOffset(hashCode)
	capacity := t.header.Capacity
	itemSectionPointer := t.header.ItemSectionPointer

	var firstFree int64 = -1
	for k := uint64(0); k < uint64(capacity); k++ {
		slot := platformhash.ProbeSlot(first, step, k, capacity)
		ptr, err := nodeio.ReadItemPointer(t.Stream, slot, t.LookupNodeSize)
		if err != nil {
			return found{}, err
		}
		if nodeio.IsNeverOccupied(ptr) {
			if firstFree < 0 {
				firstFree = slot
			}
			return found{slot: firstFree, present: false}, nil
		}
		if nodeio.IsTombstoneLike(ptr, itemSectionPointer) {
			if firstFree < 0 {
				firstFree = slot
			}
			continue
		}
		ih, err := nodeio.ReadItemHeader(t.Stream, ptr)
		if err != nil {
			return found{}, err
		}
		if ih.HashCode == hashCode {
			ok, err := match(ptr)
			if err != nil {
				return found{}, err
			}
			if ok {
				return found{slot: slot, itemPointer: ptr, present: true}, nil
			}
		}
	}
	if firstFree >= 0 {
		return found{slot: firstFree, present: false}, nil
	}
	return found{}, fmt.Errorf("diskmap: lookup section exhausted without a free slot")
}

// Find probes for hashCode and reports whether a live item matching match
// exists, returning that item's node offset.
func (t *Table) Find(hashCode int32, match func(itemPointer int64) (bool, error)) (int64, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, err := t.probe(hashCode, match)
	if err != nil {
		return 0, false, err
	}
	return f.itemPointer, f.present, nil
}

// FindSlot is Find but additionally returns the occupied lookup slot index,
// the handle package marker's set-algebra operations need to read and
// write that slot's marker field (set mode only, LookupNodeSize ==
// nodeio.LookupNodeSizeSet).
func (t *Table) FindSlot(hashCode int32, match func(itemPointer int64) (bool, error)) (slot int64, itemPointer int64, present bool, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, err := t.probe(hashCode, match)
	if err != nil {
		return 0, 0, false, err
	}
	return f.slot, f.itemPointer, f.present, nil
}

// Marker reads the 4-byte marker at slot (set mode only).
func (t *Table) Marker(slot int64) (int32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return nodeio.ReadMarker(t.Stream, slot, t.LookupNodeSize)
}

// SetMarker writes the 4-byte marker at slot (set mode only). Markers are
// scratch space for the bounded-memory set-algebra algorithms in package
// marker and are never journaled: they carry no meaning across the
// boundary of a single algebra call, so a crash mid-algorithm simply
// leaves stale marker bits that the next algebra call overwrites before
// reading.
func (t *Table) SetMarker(slot int64, value int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := nodeio.WriteMarker(t.Stream, slot, t.LookupNodeSize, value); err != nil {
		return err
	}
	return t.Stream.Flush()
}

// Walk visits every live item node in item-section order, calling visit
// with each node's offset. Supplemented diagnostic iterator grounded on
// store/index.RawIterator (SPEC_FULL.md §5).
func (t *Table) Walk(visit func(itemPointer int64, h nodeio.ItemHeader) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos := t.header.ItemSectionPointer
	for pos < t.header.EndOfFilePointer {
		ih, err := nodeio.ReadItemHeader(t.Stream, pos)
		if err != nil {
			return err
		}
		live, err := t.isLive(pos, ih)
		if err != nil {
			return err
		}
		if live {
			if err := visit(pos, ih); err != nil {
				return err
			}
		}
		if ih.NextItemPointer <= pos {
			break
		}
		pos = ih.NextItemPointer
	}
	return nil
}

// WalkItems visits every item node in item-section order, live or
// orphaned, calling visit with each node's offset and whether isLive
// reports it reachable. Supplemented diagnostic iterator used by
// cmd/diskmap-cli's verify command (through diskmap.Map.VerifyStructure)
// to follow spec.md §3 invariant 6 (every orphan's bytes stay reachable via
// NextItemPointer until physically reclaimed).
func (t *Table) WalkItems(visit func(itemPointer int64, h nodeio.ItemHeader, live bool) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos := t.header.ItemSectionPointer
	for pos < t.header.EndOfFilePointer {
		ih, err := nodeio.ReadItemHeader(t.Stream, pos)
		if err != nil {
			return err
		}
		live, err := t.isLive(pos, ih)
		if err != nil {
			return err
		}
		if err := visit(pos, ih, live); err != nil {
			return err
		}
		if ih.NextItemPointer <= pos {
			break
		}
		pos = ih.NextItemPointer
	}
	return nil
}
