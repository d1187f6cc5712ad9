package table

import (
	"encoding/binary"

	"github.com/rpcpool/diskmap/nodeio"
)

// defaultGrowthFactor doubles capacity, the same factor
// store/index.Index's bucket table growth and most open-addressing
// implementations in the pack use.
const defaultGrowthFactor = 2

// growLocked relocates every live item into a freshly sized item section,
// then commits the grow as two independently journaled, independently
// idempotent steps per spec.md §4.6/§4.7: GrowLookupSection relinks each
// relocated item's existing lookup slot to its new position and settles
// endOfFilePointer (truncating the file to match, whichever direction the
// size moved), leaving a fully valid table at the OLD capacity; then
// RebuildLookupTable zeroes the lookup section at the new, larger capacity
// and rehashes every item into it. Must be called with t.mu held
// exclusively. Orphaned item bodies are dropped during the copy, so a grow
// also fully compacts the table.
//
// The new item section starts right after the enlarged lookup section, or
// at the old end of file when the old items reach past that point, so the
// copy never overwrites an item it has yet to read. In the second case the
// bytes between the lookup section and the new item section are left
// unused.
func (t *Table) growLocked() error {
	oldItemSectionPointer := t.header.ItemSectionPointer
	oldEOF := t.header.EndOfFilePointer
	newCapacity := t.header.Capacity * defaultGrowthFactor
	newItemSectionPointer := nodeio.ItemSectionPointerFor(newCapacity, t.LookupNodeSize)
	if oldEOF > newItemSectionPointer {
		newItemSectionPointer = oldEOF
	}

	cursor := newItemSectionPointer
	pos := oldItemSectionPointer
	for pos < oldEOF {
		ih, err := nodeio.ReadItemHeader(t.Stream, pos)
		if err != nil {
			return err
		}
		payloadLen := ih.NextItemPointer - pos - nodeio.ItemHeaderSize
		live, err := t.isLive(pos, ih)
		if err != nil {
			return err
		}
		next := ih.NextItemPointer
		if live {
			dst := cursor
			newNext := dst + nodeio.ItemHeaderSize + payloadLen
			if err := t.copyItem(pos, dst, payloadLen, newNext); err != nil {
				return err
			}
			cursor = newNext
		}
		if next <= pos {
			break
		}
		pos = next
	}
	newEOF := cursor

	if err := t.Stream.Flush(); err != nil {
		return err
	}

	growJ := journalOf(nodeio.OpGrowLookupSection, newItemSectionPointer, newEOF, 0)
	if err := t.Journal.Run(growJ); err != nil {
		return err
	}

	rebuildJ := journalOf(nodeio.OpRebuildLookupTable, 0, 0, newCapacity)
	if err := t.Journal.Run(rebuildJ); err != nil {
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

// copyItem relocates a live item's header and payload to dst, rewriting
// NextItemPointer to newNext so the copied item section forms a
// contiguous, orphan-free chain — growth compacts the table as a side
// effect. LookupPointer is carried through unchanged, so
// journal.Manager.applyGrowLookupSection can repoint the item's old slot at
// the copy; the rehash pass in journal.Manager.applyRebuildLookupTable then
// overwrites it with the item's new slot index once probing assigns one.
func (t *Table) copyItem(src, dst, payloadLen, newNext int64) error {
	buf := make([]byte, nodeio.ItemHeaderSize+payloadLen)
	if _, err := t.Stream.ReadAt(buf, src); err != nil {
		return err
	}
	// Patch only the NextItemPointer field (bytes [8:16)) of the copied
	// header; LookupPointer and HashCode pass through untouched.
	binary.LittleEndian.PutUint64(buf[8:16], uint64(newNext))
	_, err := t.Stream.WriteAt(buf, dst)
	return err
}
