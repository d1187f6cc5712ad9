package journal_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/diskmap/journal"
	"github.com/rpcpool/diskmap/nodeio"
	"github.com/rpcpool/diskmap/pagecache"
)

func newManager(t *testing.T) *journal.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.bin")
	s, err := pagecache.Open(path, false, pagecache.DefaultCacheSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	itemSectionPointer := nodeio.ItemSectionPointerFor(16, nodeio.LookupNodeSizeMap)
	require.NoError(t, s.Truncate(itemSectionPointer))
	h := nodeio.Header{Capacity: 16, ItemSectionPointer: itemSectionPointer, EndOfFilePointer: itemSectionPointer}
	require.NoError(t, nodeio.WriteHeader(s, h))
	require.NoError(t, nodeio.ClearJournal(s))

	return &journal.Manager{Stream: s, LookupNodeSize: nodeio.LookupNodeSizeMap}
}

func TestRecoverOnOpenIsNoOpWhenJournalClear(t *testing.T) {
	m := newManager(t)
	replayed, err := m.RecoverOnOpen()
	require.NoError(t, err)
	require.False(t, replayed)
}

func TestSetOperationCommitsAndIsVisible(t *testing.T) {
	m := newManager(t)
	h, err := nodeio.ReadHeader(m.Stream)
	require.NoError(t, err)

	itemOffset := h.ItemSectionPointer
	payload := []byte("value")
	ih := nodeio.ItemHeader{LookupPointer: 2, NextItemPointer: itemOffset + nodeio.ItemHeaderSize + int64(len(payload))}
	require.NoError(t, nodeio.WriteItemHeader(m.Stream, itemOffset, ih))
	_, err = m.Stream.WriteAt(payload, itemOffset+nodeio.ItemHeaderSize)
	require.NoError(t, err)

	j := nodeio.Journal{Operation: nodeio.OpSet, LookupPointer: 2, ItemPointer: itemOffset, Sync: 1}
	require.NoError(t, m.Run(j))

	ptr, err := nodeio.ReadItemPointer(m.Stream, 2, nodeio.LookupNodeSizeMap)
	require.NoError(t, err)
	require.Equal(t, itemOffset, ptr)

	h, err = nodeio.ReadHeader(m.Stream)
	require.NoError(t, err)
	require.Equal(t, int64(1), h.Count)
	require.Equal(t, ih.NextItemPointer, h.EndOfFilePointer)

	gotJ, valid, err := nodeio.ReadJournal(m.Stream)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, nodeio.None, gotJ)
}

func TestRecoverOnOpenReplaysInterruptedSet(t *testing.T) {
	m := newManager(t)
	h, err := nodeio.ReadHeader(m.Stream)
	require.NoError(t, err)

	itemOffset := h.ItemSectionPointer
	ih := nodeio.ItemHeader{LookupPointer: 9, NextItemPointer: itemOffset + nodeio.ItemHeaderSize}
	require.NoError(t, nodeio.WriteItemHeader(m.Stream, itemOffset, ih))

	// Simulate a crash that wrote the journal (step 1) but never ran Apply
	// or Commit (steps 2-3).
	j := nodeio.Journal{Operation: nodeio.OpSet, LookupPointer: 9, ItemPointer: itemOffset, Sync: 1}
	require.NoError(t, nodeio.WriteJournal(m.Stream, j))

	replayed, err := m.RecoverOnOpen()
	require.NoError(t, err)
	require.True(t, replayed)

	ptr, err := nodeio.ReadItemPointer(m.Stream, 9, nodeio.LookupNodeSizeMap)
	require.NoError(t, err)
	require.Equal(t, itemOffset, ptr)

	h, err = nodeio.ReadHeader(m.Stream)
	require.NoError(t, err)
	require.Equal(t, int64(1), h.Count)

	_, valid, err := nodeio.ReadJournal(m.Stream)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestRecoverOnOpenIsIdempotentOnDoubleReplay(t *testing.T) {
	m := newManager(t)
	h, err := nodeio.ReadHeader(m.Stream)
	require.NoError(t, err)
	itemOffset := h.ItemSectionPointer
	ih := nodeio.ItemHeader{LookupPointer: 3, NextItemPointer: itemOffset + nodeio.ItemHeaderSize}
	require.NoError(t, nodeio.WriteItemHeader(m.Stream, itemOffset, ih))

	j := nodeio.Journal{Operation: nodeio.OpSet, LookupPointer: 3, ItemPointer: itemOffset, Sync: 1}
	require.NoError(t, nodeio.WriteJournal(m.Stream, j))
	require.NoError(t, m.Apply(j))
	// Re-apply without clearing first, as a second recovery attempt over
	// the same un-committed journal would.
	require.NoError(t, m.Apply(j))

	h, err = nodeio.ReadHeader(m.Stream)
	require.NoError(t, err)
	require.Equal(t, int64(1), h.Count)
}

func TestDeleteOperation(t *testing.T) {
	m := newManager(t)
	require.NoError(t, nodeio.WriteItemPointer(m.Stream, 4, nodeio.LookupNodeSizeMap, 9999))
	h, err := nodeio.ReadHeader(m.Stream)
	require.NoError(t, err)
	h.Count = 1
	require.NoError(t, nodeio.WriteHeader(m.Stream, h))

	j := nodeio.Journal{Operation: nodeio.OpDelete, LookupPointer: 4, Sync: 0}
	require.NoError(t, m.Run(j))

	ptr, err := nodeio.ReadItemPointer(m.Stream, 4, nodeio.LookupNodeSizeMap)
	require.NoError(t, err)
	require.Equal(t, nodeio.Tombstone, ptr)

	h, err = nodeio.ReadHeader(m.Stream)
	require.NoError(t, err)
	require.Equal(t, int64(0), h.Count)
}

func TestClearOperationResetsToEmptyCapacity(t *testing.T) {
	m := newManager(t)
	j := nodeio.Journal{Operation: nodeio.OpClear}
	require.NoError(t, m.Run(j))

	h, err := nodeio.ReadHeader(m.Stream)
	require.NoError(t, err)
	require.Equal(t, int64(0), h.Count)
	require.Equal(t, int64(16), h.Capacity)
	require.Equal(t, nodeio.ItemSectionPointerFor(16, nodeio.LookupNodeSizeMap), h.ItemSectionPointer)
	require.Equal(t, h.ItemSectionPointer, h.EndOfFilePointer)
}

func TestJournalChecksumMismatchTreatedAsNone(t *testing.T) {
	m := newManager(t)
	j := nodeio.Journal{Operation: nodeio.OpSet, LookupPointer: 1, ItemPointer: 500, Sync: 1}
	require.NoError(t, nodeio.WriteJournal(m.Stream, j))
	_, err := m.Stream.WriteAt([]byte{0xff}, nodeio.JournalOffset)
	require.NoError(t, err)

	replayed, err := m.RecoverOnOpen()
	require.NoError(t, err)
	require.False(t, replayed)
}
