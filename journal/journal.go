// Package journal writes, reads, validates, and replays the single-slot
// crash journal of spec.md §4.6.
//
// The write-journal / do-work / clear-journal cadence is the same shape as
// store/freelist.FreeList's Put/Flush/Sync cycle and
// store/index.Index.Flush (buffer outstanding work, write it, then make the
// write durable) — except here there is exactly one journal slot instead of
// a pool, because spec.md allows at most one mutation in flight at a time.
package journal

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/diskmap/nodeio"
	"github.com/rpcpool/diskmap/pagecache"
	"github.com/rpcpool/diskmap/platformhash"
)

var log = logging.Logger("diskmap/journal")

// Manager journals and applies the eight mutation primitives of spec.md
// §4.6 against a single open stream.
type Manager struct {
	Stream         *pagecache.Stream
	LookupNodeSize int64
}

// Begin writes the journal record describing the mutation about to run and
// flushes it, per step 1 of spec.md §4.6.
func (m *Manager) Begin(j nodeio.Journal) error {
	if err := nodeio.WriteJournal(m.Stream, j); err != nil {
		return err
	}
	return m.Stream.Flush()
}

// Commit clears the journal back to None and flushes, per step 3.
func (m *Manager) Commit() error {
	if err := nodeio.ClearJournal(m.Stream); err != nil {
		return err
	}
	return m.Stream.Flush()
}

// Run journals j, applies it, and clears the journal — the full
// write-journal/do-work/clear-journal cycle for a single mutation.
func (m *Manager) Run(j nodeio.Journal) error {
	if err := m.Begin(j); err != nil {
		return err
	}
	if err := m.Apply(j); err != nil {
		return err
	}
	return m.Commit()
}

// RecoverOnOpen reads the journal and, if it holds an unresolved
// operation with a valid checksum, replays it. It returns whether a replay
// happened.
func (m *Manager) RecoverOnOpen() (bool, error) {
	j, valid, err := nodeio.ReadJournal(m.Stream)
	if err != nil {
		return false, err
	}
	if !valid {
		// Checksum mismatch: treat as None. A writable handle heals this by
		// rewriting the journal; a read-only one leaves the file untouched
		// and simply proceeds as if there were nothing to replay.
		log.Warnw("journal checksum mismatch, treating as None")
		if err := m.Commit(); err != nil {
			return false, err
		}
		return false, nil
	}
	if j.Operation == nodeio.OpNone {
		return false, nil
	}
	log.Warnw("replaying in-flight journal operation", "operation", j.Operation)
	if err := m.Apply(j); err != nil {
		return false, fmt.Errorf("diskmap: replaying journal operation %d: %w", j.Operation, err)
	}
	if err := m.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Apply performs the data-section writes of operation j. It is idempotent:
// every branch is safe to re-execute from any intermediate point, which is
// what makes RecoverOnOpen's replay correct regardless of how far the
// original, interrupted execution got.
func (m *Manager) Apply(j nodeio.Journal) error {
	switch j.Operation {
	case nodeio.OpNone:
		return nil
	case nodeio.OpSet:
		return m.applySet(j)
	case nodeio.OpDelete:
		return m.applyDelete(j)
	case nodeio.OpGrowLookupSection:
		return m.applyGrowLookupSection(j)
	case nodeio.OpRebuildLookupTable:
		return m.applyRebuildLookupTable(j)
	case nodeio.OpWriteItemNodePointers:
		return nodeio.WriteItemPointers(m.Stream, j.ItemPointer, j.LookupPointer, j.Sync)
	case nodeio.OpTruncate:
		return m.applyTruncate(j)
	case nodeio.OpClear:
		return m.applyClear()
	default:
		return fmt.Errorf("diskmap: unknown journal operation %d", j.Operation)
	}
}

func (m *Manager) applySet(j nodeio.Journal) error {
	if err := nodeio.WriteItemPointer(m.Stream, j.LookupPointer, m.LookupNodeSize, j.ItemPointer); err != nil {
		return err
	}
	ih, err := nodeio.ReadItemHeader(m.Stream, j.ItemPointer)
	if err != nil {
		return err
	}
	h, err := nodeio.ReadHeader(m.Stream)
	if err != nil {
		return err
	}
	if ih.NextItemPointer > h.EndOfFilePointer {
		h.EndOfFilePointer = ih.NextItemPointer
	}
	h.Count = j.Sync
	return nodeio.WriteHeader(m.Stream, h)
}

func (m *Manager) applyDelete(j nodeio.Journal) error {
	if err := nodeio.WriteItemPointer(m.Stream, j.LookupPointer, m.LookupNodeSize, nodeio.Tombstone); err != nil {
		return err
	}
	h, err := nodeio.ReadHeader(m.Stream)
	if err != nil {
		return err
	}
	h.Count = j.Sync
	return nodeio.WriteHeader(m.Stream, h)
}

// applyGrowLookupSection commits the first half of a grow: the caller has
// already physically relocated every live item into the new, larger item
// section at [newItemSectionPointer, newEOF), preserving each item's
// existing LookupPointer (its slot index is unaffected by a capacity
// change — SlotOffset never depends on header.Capacity) and rewriting
// NextItemPointer into a contiguous, orphan-free chain. This step walks
// that already-settled range and, for each relocated item, writes its
// preserved slot to point at the item's new position; it then commits the
// new section pointers and truncates the file to newEOF — whichever
// direction the size moved, so header.EndOfFilePointer and the physical
// file length are never left disagreeing once this commits. Idempotent:
// re-running re-derives the same slot writes from the same, unmodified
// item bytes and re-truncates to the same length.
//
// This intentionally leaves header.Capacity untouched: every relocated
// item is still reachable through its OLD slot, so the table is a fully
// valid, fully functional (if not yet resized) table the instant this
// commits — RebuildLookupTable, a second independent journaled step, is
// what actually grows the lookup section and rehashes into it.
//
// j.LookupPointer carries the new item section pointer, j.ItemPointer the
// new (already compacted) end-of-file pointer.
func (m *Manager) applyGrowLookupSection(j nodeio.Journal) error {
	newItemSectionPointer := j.LookupPointer
	newEOF := j.ItemPointer

	pos := newItemSectionPointer
	for pos < newEOF {
		ih, err := nodeio.ReadItemHeader(m.Stream, pos)
		if err != nil {
			return err
		}
		if err := nodeio.WriteItemPointer(m.Stream, ih.LookupPointer, m.LookupNodeSize, pos); err != nil {
			return err
		}
		if ih.NextItemPointer <= pos {
			break
		}
		pos = ih.NextItemPointer
	}

	h, err := nodeio.ReadHeader(m.Stream)
	if err != nil {
		return err
	}
	h.ItemSectionPointer = newItemSectionPointer
	h.EndOfFilePointer = newEOF
	if err := nodeio.WriteHeader(m.Stream, h); err != nil {
		return err
	}
	return m.Stream.Truncate(newEOF)
}

// applyRebuildLookupTable zeros the lookup section at its new capacity and
// recomputes every item's probe chain from scratch, per spec.md §4.7 step
// 4. It always runs as the second half of a grow, immediately after the
// grow's copy pass and applyGrowLookupSection have left every live item in a
// single contiguous, orphan-free run starting at header.ItemSectionPointer — so
// every node this walks is live by construction, with no liveness check
// needed here.
func (m *Manager) applyRebuildLookupTable(j nodeio.Journal) error {
	newCapacity := j.Sync

	for p := int64(0); p < newCapacity; p++ {
		if err := nodeio.ZeroSlot(m.Stream, p, m.LookupNodeSize); err != nil {
			return err
		}
	}

	h, err := nodeio.ReadHeader(m.Stream)
	if err != nil {
		return err
	}

	pos := h.ItemSectionPointer
	for pos < h.EndOfFilePointer {
		ih, err := nodeio.ReadItemHeader(m.Stream, pos)
		if err != nil {
			return err
		}
		slot, err := m.findEndOfChain(ih.HashCode, h.ItemSectionPointer, newCapacity)
		if err != nil {
			return err
		}
		if err := nodeio.WriteItemPointer(m.Stream, slot, m.LookupNodeSize, pos); err != nil {
			return err
		}
		if err := nodeio.WriteItemPointers(m.Stream, pos, slot, ih.NextItemPointer); err != nil {
			return err
		}
		if ih.NextItemPointer <= pos {
			break
		}
		pos = ih.NextItemPointer
	}

	h.Capacity = newCapacity
	return nodeio.WriteHeader(m.Stream, h)
}

// findEndOfChain probes from a hash code's home slot until it finds a free
// slot (itemPointer < itemSectionPointer): never-occupied or tombstone.
func (m *Manager) findEndOfChain(hashCode int32, itemSectionPointer, capacity int64) (int64, error) {
	first := platformhash.FirstHash(hashCode)
	step := platformhash.CollisionOffset(hashCode)
	for k := uint64(0); ; k++ {
		p := platformhash.ProbeSlot(first, step, k, capacity)
		ptr, err := nodeio.ReadItemPointer(m.Stream, p, m.LookupNodeSize)
		if err != nil {
			return 0, err
		}
		if ptr < itemSectionPointer {
			return p, nil
		}
	}
}

func (m *Manager) applyTruncate(j nodeio.Journal) error {
	newEOF := j.ItemPointer
	h, err := nodeio.ReadHeader(m.Stream)
	if err != nil {
		return err
	}
	h.EndOfFilePointer = newEOF
	if err := nodeio.WriteHeader(m.Stream, h); err != nil {
		return err
	}
	return m.Stream.Truncate(newEOF)
}

func (m *Manager) applyClear() error {
	h, err := nodeio.ReadHeader(m.Stream)
	if err != nil {
		return err
	}
	if err := m.Stream.Truncate(nodeio.LookupBase); err != nil {
		return err
	}
	const emptyCapacity = 16
	itemSectionPointer := nodeio.ItemSectionPointerFor(emptyCapacity, m.LookupNodeSize)
	zeros := make([]byte, itemSectionPointer-nodeio.LookupBase)
	if _, err := m.Stream.WriteAt(zeros, nodeio.LookupBase); err != nil {
		return err
	}
	h.Count = 0
	h.Capacity = emptyCapacity
	h.ItemSectionPointer = itemSectionPointer
	h.EndOfFilePointer = itemSectionPointer
	return nodeio.WriteHeader(m.Stream, h)
}
