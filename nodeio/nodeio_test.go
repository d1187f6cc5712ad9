package nodeio_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/diskmap/nodeio"
	"github.com/rpcpool/diskmap/pagecache"
)

func openStream(t *testing.T) *pagecache.Stream {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodes.bin")
	s, err := pagecache.Open(path, false, pagecache.DefaultCacheSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Truncate(nodeio.ItemSectionPointerFor(16, nodeio.LookupNodeSizeMap)))
	return s
}

func TestHeaderRoundTrip(t *testing.T) {
	s := openStream(t)
	h := nodeio.Header{
		Signature:          [16]byte{1, 2, 3},
		Count:              7,
		Capacity:           16,
		ItemSectionPointer: nodeio.ItemSectionPointerFor(16, nodeio.LookupNodeSizeMap),
		EndOfFilePointer:   nodeio.ItemSectionPointerFor(16, nodeio.LookupNodeSizeMap),
	}
	require.NoError(t, nodeio.WriteHeader(s, h))
	got, err := nodeio.ReadHeader(s)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestJournalChecksumDetectsCorruption(t *testing.T) {
	s := openStream(t)
	j := nodeio.Journal{Operation: nodeio.OpSet, LookupPointer: 3, ItemPointer: 200, Sync: 1}
	require.NoError(t, nodeio.WriteJournal(s, j))

	got, valid, err := nodeio.ReadJournal(s)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, j, got)

	// Corrupt a single byte of the journal body.
	_, err = s.WriteAt([]byte{0xff}, nodeio.JournalOffset+4)
	require.NoError(t, err)
	_, valid, err = nodeio.ReadJournal(s)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestClearJournalWritesNone(t *testing.T) {
	s := openStream(t)
	require.NoError(t, nodeio.WriteJournal(s, nodeio.Journal{Operation: nodeio.OpDelete, LookupPointer: 1}))
	require.NoError(t, nodeio.ClearJournal(s))
	got, valid, err := nodeio.ReadJournal(s)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, nodeio.None, got)
}

func TestLookupSlotItemPointerRoundTrip(t *testing.T) {
	s := openStream(t)
	require.NoError(t, nodeio.WriteItemPointer(s, 5, nodeio.LookupNodeSizeSet, 4096))
	require.NoError(t, nodeio.WriteMarker(s, 5, nodeio.LookupNodeSizeSet, 42))

	ptr, err := nodeio.ReadItemPointer(s, 5, nodeio.LookupNodeSizeSet)
	require.NoError(t, err)
	require.Equal(t, int64(4096), ptr)

	marker, err := nodeio.ReadMarker(s, 5, nodeio.LookupNodeSizeSet)
	require.NoError(t, err)
	require.Equal(t, int32(42), marker)

	require.NoError(t, nodeio.ZeroSlot(s, 5, nodeio.LookupNodeSizeSet))
	ptr, err = nodeio.ReadItemPointer(s, 5, nodeio.LookupNodeSizeSet)
	require.NoError(t, err)
	require.Equal(t, int64(0), ptr)
}

func TestSentinelClassification(t *testing.T) {
	const itemSectionPointer = 1000
	require.True(t, nodeio.IsNeverOccupied(0))
	require.False(t, nodeio.IsTombstoneLike(0, itemSectionPointer))
	require.True(t, nodeio.IsTombstoneLike(1, itemSectionPointer))
	require.True(t, nodeio.IsTombstoneLike(500, itemSectionPointer))
	require.False(t, nodeio.IsLive(500, itemSectionPointer))
	require.True(t, nodeio.IsLive(1000, itemSectionPointer))
}

func TestItemHeaderRoundTrip(t *testing.T) {
	s := openStream(t)
	offset := nodeio.ItemSectionPointerFor(16, nodeio.LookupNodeSizeMap)
	ih := nodeio.ItemHeader{LookupPointer: 3, NextItemPointer: offset + 50, HashCode: -99}
	require.NoError(t, nodeio.WriteItemHeader(s, offset, ih))

	got, err := nodeio.ReadItemHeader(s, offset)
	require.NoError(t, err)
	require.Equal(t, ih, got)

	require.NoError(t, nodeio.WriteItemPointers(s, offset, 0, offset+50))
	got, err = nodeio.ReadItemHeader(s, offset)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.LookupPointer)
	require.Equal(t, ih.HashCode, got.HashCode, "HashCode must survive a WriteItemPointers call")
}
