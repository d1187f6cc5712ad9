// Package nodeio reads and writes the four node types of spec.md §3 at
// their byte-exact offsets: header, journal, lookup slot, and item node.
//
// The binary-layout style here — a fixed struct with a Load/Store pair
// reading and writing exact byte ranges — is grounded on
// compactindexsized.Header.Load/Bytes and BucketHeader.Store/Load.
package nodeio

import (
	"encoding/binary"

	"github.com/rpcpool/diskmap/pagecache"
)

const (
	// HeaderSize is the fixed size of the header node.
	HeaderSize = 48
	// JournalOffset is the byte offset of the journal node.
	JournalOffset = HeaderSize
	// JournalSize is the fixed size of the journal node.
	JournalSize = 32
	// LookupBase is the byte offset of the first lookup slot.
	LookupBase = JournalOffset + JournalSize
	// ItemHeaderSize is the fixed prefix of every item node.
	ItemHeaderSize = 20

	// LookupNodeSizeMap is the per-slot size for dictionary mode.
	LookupNodeSizeMap = 8
	// LookupNodeSizeSet is the per-slot size for set mode (adds a 4-byte marker).
	LookupNodeSizeSet = 12
)

// Special lookup itemPointer sentinels, spec.md §3.
const (
	NeverOccupied int64 = 0
	Tombstone     int64 = 1
)

// Header is the 48-byte header node.
type Header struct {
	Signature          [16]byte
	Count              int64
	Capacity           int64
	ItemSectionPointer int64
	EndOfFilePointer   int64
}

// ItemSectionPointerFor computes the item section offset for a given
// capacity and lookup node size (spec.md invariant 2).
func ItemSectionPointerFor(capacity int64, lookupNodeSize int64) int64 {
	return LookupBase + capacity*lookupNodeSize
}

// ReadHeader loads the header node from offset 0.
func ReadHeader(s *pagecache.Stream) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := s.ReadAt(buf[:], 0); err != nil {
		return Header{}, err
	}
	var h Header
	copy(h.Signature[:], buf[0:16])
	h.Count = int64(binary.LittleEndian.Uint64(buf[16:24]))
	h.Capacity = int64(binary.LittleEndian.Uint64(buf[24:32]))
	h.ItemSectionPointer = int64(binary.LittleEndian.Uint64(buf[32:40]))
	h.EndOfFilePointer = int64(binary.LittleEndian.Uint64(buf[40:48]))
	return h, nil
}

// WriteHeader stores the header node at offset 0.
func WriteHeader(s *pagecache.Stream, h Header) error {
	var buf [HeaderSize]byte
	copy(buf[0:16], h.Signature[:])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.Count))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.Capacity))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.ItemSectionPointer))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.EndOfFilePointer))
	_, err := s.WriteAt(buf[:], 0)
	return err
}
