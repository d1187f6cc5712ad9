package nodeio

import (
	"encoding/binary"

	"github.com/rpcpool/diskmap/pagecache"
)

// ItemHeader is the fixed 20-byte prefix of every item node: the back
// pointer to its owning lookup slot, the absolute offset of the next item
// node, and the key's platform-stable hash code.
type ItemHeader struct {
	LookupPointer   int64
	NextItemPointer int64
	HashCode        int32
}

// ReadItemHeader reads the 20-byte item header at offset.
func ReadItemHeader(s *pagecache.Stream, offset int64) (ItemHeader, error) {
	var buf [ItemHeaderSize]byte
	if _, err := s.ReadAt(buf[:], offset); err != nil {
		return ItemHeader{}, err
	}
	return ItemHeader{
		LookupPointer:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		NextItemPointer: int64(binary.LittleEndian.Uint64(buf[8:16])),
		HashCode:        int32(binary.LittleEndian.Uint32(buf[16:20])),
	}, nil
}

// WriteItemHeader writes the full 20-byte item header at offset.
func WriteItemHeader(s *pagecache.Stream, offset int64, h ItemHeader) error {
	var buf [ItemHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.LookupPointer))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.NextItemPointer))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.HashCode))
	_, err := s.WriteAt(buf[:], offset)
	return err
}

// WriteItemPointers rewrites only the first 16 bytes of an item node — its
// lookupPointer and nextItemPointer — leaving hashCode and the payload
// untouched. This is exactly the journaled WriteItemNodePointers operation
// of spec.md §4.6; the journal also uses it while rebuilding the lookup
// table to record each item's new slot.
func WriteItemPointers(s *pagecache.Stream, offset int64, lookupPointer, nextItemPointer int64) error {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(lookupPointer))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(nextItemPointer))
	_, err := s.WriteAt(buf[:], offset)
	return err
}
