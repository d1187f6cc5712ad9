package table

import (
	"github.com/rpcpool/diskmap/errs"
	"github.com/rpcpool/diskmap/nodeio"
)

// appendItem writes a brand-new item node (header + payload) past the
// current committed end-of-file pointer. Because it lands beyond
// header.EndOfFilePointer, it is invisible to any reader and to recovery
// until a journaled commit advances that pointer — the same
// write-before-you-link discipline store/index.Index's append-only
// recordlists use.
func (t *Table) appendItem(slot int64, hashCode int32, payload []byte) (offset int64, err error) {
	offset = t.header.EndOfFilePointer
	ih := nodeio.ItemHeader{
		LookupPointer:   slot,
		NextItemPointer: offset + nodeio.ItemHeaderSize + int64(len(payload)),
		HashCode:        hashCode,
	}
	if err := nodeio.WriteItemHeader(t.Stream, offset, ih); err != nil {
		return 0, err
	}
	if len(payload) > 0 {
		if _, err := t.Stream.WriteAt(payload, offset+nodeio.ItemHeaderSize); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// Set inserts or overwrites the item matching hashCode/match, appending a
// fresh item node carrying payload and journaling the slot flip that makes
// it visible. present reports whether an existing entry was overwritten.
func (t *Table) Set(hashCode int32, match func(itemPointer int64) (bool, error), payload []byte) (present bool, err error) {
	if t.ReadOnly {
		return false, errs.ErrReadOnly
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.probe(hashCode, match)
	if err != nil {
		return false, err
	}

	newOffset, err := t.appendItem(f.slot, hashCode, payload)
	if err != nil {
		return false, err
	}
	if err := t.Stream.Flush(); err != nil {
		return false, err
	}

	newCount := t.header.Count
	if !f.present {
		newCount++
	}

	j := journalOf(nodeio.OpSet, f.slot, newOffset, newCount)
	if err := t.Journal.Run(j); err != nil {
		return false, err
	}

	if f.present {
		// The slot's previous occupant is now unreachable: count it as an
		// orphan (its header is left as is, so Walk/Grow can still step
		// past it) so compaction can reclaim the body later.
		if err := t.orphan(f.itemPointer); err != nil {
			return false, err
		}
	}

	t.header.Count = newCount
	if newOffset+nodeio.ItemHeaderSize+int64(len(payload)) > t.header.EndOfFilePointer {
		t.header.EndOfFilePointer = newOffset + nodeio.ItemHeaderSize + int64(len(payload))
	}

	if t.shouldGrow() {
		if err := t.growLocked(); err != nil {
			return f.present, err
		}
	}
	return f.present, nil
}

// Delete removes the item matching hashCode/match, if present.
func (t *Table) Delete(hashCode int32, match func(itemPointer int64) (bool, error)) (present bool, err error) {
	if t.ReadOnly {
		return false, errs.ErrReadOnly
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.probe(hashCode, match)
	if err != nil {
		return false, err
	}
	if !f.present {
		return false, nil
	}

	newCount := t.header.Count - 1
	j := journalOf(nodeio.OpDelete, f.slot, 0, newCount)
	if err := t.Journal.Run(j); err != nil {
		return false, err
	}
	t.header.Count = newCount

	if err := t.orphan(f.itemPointer); err != nil {
		return false, err
	}
	return true, nil
}

// orphan disowns the item node at offset: its body and header stay
// untouched, so Walk/Grow/Compact can still step past it via its existing
// NextItemPointer to reach later items. There is nothing to write here —
// the already-committed Set/Delete journal entry is what makes the slot
// flip durable, and isLive derives liveness by cross-checking the item's
// own LookupPointer against that slot's current, already-committed
// contents, not from any mutable field on the item itself. A crash
// between that commit and this call leaves nothing inconsistent: the next
// isLive check reads the same committed slot state either way.
func (t *Table) orphan(offset int64) error {
	t.orphans++
	return nil
}

// Clear empties the table back to the minimum capacity of 16, whatever
// capacity hint the file was created with.
func (t *Table) Clear() error {
	if t.ReadOnly {
		return errs.ErrReadOnly
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	j := journalOf(nodeio.OpClear, 0, 0, 0)
	if err := t.Journal.Run(j); err != nil {
		return err
	}
	h, err := nodeio.ReadHeader(t.Stream)
	if err != nil {
		return err
	}
	t.header = h
	t.orphans = 0
	return nil
}

func journalOf(op nodeio.Operation, lookupPointer, itemPointer, sync int64) nodeio.Journal {
	return nodeio.Journal{Operation: op, LookupPointer: lookupPointer, ItemPointer: itemPointer, Sync: sync}
}

// shouldGrow reports whether the lookup section has crossed the 0.7 load
// factor threshold of spec.md §4.5.
func (t *Table) shouldGrow() bool {
	return t.header.Count*maxLoadFactorDenominator > t.header.Capacity*maxLoadFactorNumerator
}
