package table

import (
	"encoding/binary"

	"github.com/rpcpool/diskmap/errs"
	"github.com/rpcpool/diskmap/nodeio"
)

// Compact reclaims dead item bodies by relocating live items down into
// reclaimed orphan space (spec.md §4.8): a write cursor trails a read
// cursor through the existing physical layout; every orphan it passes over
// simply isn't copied, so its bytes are folded into the gap the next live
// item gets moved into, rather than being skip-linked around and
// permanently stranded. Each relocated item commits with a single
// journaled slot repoint (spec.md §4.8's "copy item2's body into the
// orphan, repoint lookup2"); items already sitting at the write cursor
// (no orphan yet encountered) need no write at all. A trailing orphan span
// is reclaimed by truncating the file to the final cursor position.
func (t *Table) Compact() error {
	if t.ReadOnly {
		return errs.ErrReadOnly
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	count := t.header.Count
	writeCursor := t.header.ItemSectionPointer
	pos := t.header.ItemSectionPointer

	for pos < t.header.EndOfFilePointer {
		ih, err := nodeio.ReadItemHeader(t.Stream, pos)
		if err != nil {
			return err
		}
		next := ih.NextItemPointer
		payloadLen := next - pos - nodeio.ItemHeaderSize
		live, err := t.isLive(pos, ih)
		if err != nil {
			return err
		}
		if live {
			if writeCursor != pos {
				newNext := writeCursor + nodeio.ItemHeaderSize + payloadLen
				if err := t.relocateItem(pos, writeCursor, payloadLen, newNext, ih.LookupPointer, count); err != nil {
					return err
				}
			}
			writeCursor += nodeio.ItemHeaderSize + payloadLen
		}
		if next <= pos {
			break
		}
		pos = next
	}

	newEOF := writeCursor
	if newEOF < t.header.EndOfFilePointer {
		j := journalOf(nodeio.OpTruncate, 0, newEOF, 0)
		if err := t.Journal.Run(j); err != nil {
			return err
		}
	}

	h, err := nodeio.ReadHeader(t.Stream)
	if err != nil {
		return err
	}
	t.header = h
	t.orphans = 0
	return nil
}

// relocateItem copies a live item's header and payload from its current
// offset src down to the already-reclaimed offset dst (dst < src, since
// the write cursor only ever trails the read cursor, so the full read into
// buf before the write is always safe even when the two ranges overlap),
// then commits the move with a single journaled OpSet that repoints the
// item's own lookup slot at dst and carries through the table's unchanged
// live count.
//
// The bytes land at dst before the slot moves, the same write-before-link
// discipline appendItem uses: until the OpSet commits, dst is unreachable
// from any slot, so a crash mid-copy just leaves stale bytes in
// already-orphaned space rather than a torn live node.
func (t *Table) relocateItem(src, dst, payloadLen, newNext, slot, count int64) error {
	buf := make([]byte, nodeio.ItemHeaderSize+payloadLen)
	if _, err := t.Stream.ReadAt(buf, src); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[8:16], uint64(newNext))
	if _, err := t.Stream.WriteAt(buf, dst); err != nil {
		return err
	}
	if err := t.Stream.Flush(); err != nil {
		return err
	}
	j := journalOf(nodeio.OpSet, slot, dst, count)
	return t.Journal.Run(j)
}
