package nodeio

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/rpcpool/diskmap/pagecache"
)

// Operation is one of the eight journal operation codes of spec.md §3.
type Operation int32

const (
	OpNone Operation = iota
	OpSet
	OpDelete
	OpGrowLookupSection
	OpRebuildLookupTable
	OpWriteItemNodePointers
	OpTruncate
	OpClear
)

// Journal is the 32-byte journal node.
type Journal struct {
	Operation     Operation
	LookupPointer int64
	ItemPointer   int64
	Sync          int64
}

func (j Journal) encodeBody() [28]byte {
	var buf [28]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(j.Operation))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(j.LookupPointer))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(j.ItemPointer))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(j.Sync))
	return buf
}

// Checksum returns the CRC-32 of the journal's 28 preceding bytes.
func (j Journal) Checksum() int32 {
	body := j.encodeBody()
	return int32(crc32.ChecksumIEEE(body[:]))
}

// None is the cleared journal value.
var None = Journal{}

// ReadJournal loads the journal node. The second return value is false if
// the stored checksum does not match, in which case the journal must be
// treated as None (spec.md §3: "A journal with a mismatched checksum is
// treated as None").
func ReadJournal(s *pagecache.Stream) (Journal, bool, error) {
	var buf [JournalSize]byte
	if _, err := s.ReadAt(buf[:], JournalOffset); err != nil {
		return Journal{}, false, err
	}
	j := Journal{
		Operation:     Operation(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		LookupPointer: int64(binary.LittleEndian.Uint64(buf[4:12])),
		ItemPointer:   int64(binary.LittleEndian.Uint64(buf[12:20])),
		Sync:          int64(binary.LittleEndian.Uint64(buf[20:28])),
	}
	storedChecksum := int32(binary.LittleEndian.Uint32(buf[28:32]))
	valid := storedChecksum == j.Checksum()
	return j, valid, nil
}

// WriteJournal stores the journal node, computing its checksum.
func WriteJournal(s *pagecache.Stream, j Journal) error {
	var buf [JournalSize]byte
	body := j.encodeBody()
	copy(buf[0:28], body[:])
	binary.LittleEndian.PutUint32(buf[28:32], uint32(j.Checksum()))
	_, err := s.WriteAt(buf[:], JournalOffset)
	return err
}

// ClearJournal writes the None journal record.
func ClearJournal(s *pagecache.Stream) error {
	return WriteJournal(s, None)
}
