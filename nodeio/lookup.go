package nodeio

import (
	"encoding/binary"

	"github.com/rpcpool/diskmap/pagecache"
)

// LookupSlot is the decoded form of a lookup node: an item pointer and, in
// set mode, its 4-byte marker.
type LookupSlot struct {
	ItemPointer int64
	Marker      int32
}

// SlotOffset returns the byte offset of lookup slot index p.
func SlotOffset(p int64, lookupNodeSize int64) int64 {
	return LookupBase + p*lookupNodeSize
}

// ReadItemPointer reads only the 8-byte item pointer at slot p, the value
// needed by every probe step.
func ReadItemPointer(s *pagecache.Stream, p int64, lookupNodeSize int64) (int64, error) {
	var buf [8]byte
	if _, err := s.ReadAt(buf[:], SlotOffset(p, lookupNodeSize)); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// WriteItemPointer writes only the item pointer at slot p, leaving any
// marker byte (set mode) untouched.
func WriteItemPointer(s *pagecache.Stream, p int64, lookupNodeSize int64, itemPointer int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(itemPointer))
	_, err := s.WriteAt(buf[:], SlotOffset(p, lookupNodeSize))
	return err
}

// ReadMarker reads the 4-byte marker at slot p. Only valid when
// lookupNodeSize == LookupNodeSizeSet.
func ReadMarker(s *pagecache.Stream, p int64, lookupNodeSize int64) (int32, error) {
	var buf [4]byte
	if _, err := s.ReadAt(buf[:], SlotOffset(p, lookupNodeSize)+8); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteMarker writes the 4-byte marker at slot p.
func WriteMarker(s *pagecache.Stream, p int64, lookupNodeSize int64, marker int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(marker))
	_, err := s.WriteAt(buf[:], SlotOffset(p, lookupNodeSize)+8)
	return err
}

// ZeroSlot clears both fields of a lookup slot (used by RebuildLookupTable).
func ZeroSlot(s *pagecache.Stream, p int64, lookupNodeSize int64) error {
	buf := make([]byte, lookupNodeSize)
	_, err := s.WriteAt(buf, SlotOffset(p, lookupNodeSize))
	return err
}

// IsLive reports whether an itemPointer value observed in a lookup slot
// refers to a live item, per spec.md §3's sentinel rules: 0 is never
// occupied, 1 is a tombstone, and anything below itemSectionPointer other
// than those two is treated as equivalent to a tombstone (a defensive
// reading of otherwise-impossible values).
func IsLive(itemPointer, itemSectionPointer int64) bool {
	return itemPointer >= itemSectionPointer
}

// IsNeverOccupied reports the sentinel meaning "this slot has never held a key".
func IsNeverOccupied(itemPointer int64) bool {
	return itemPointer == NeverOccupied
}

// IsTombstoneLike reports whether itemPointer should be treated as a
// tombstone: either the literal tombstone sentinel, or any other value
// below itemSectionPointer that isn't NeverOccupied.
func IsTombstoneLike(itemPointer, itemSectionPointer int64) bool {
	if itemPointer == NeverOccupied {
		return false
	}
	return itemPointer < itemSectionPointer
}
