package marker_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/diskmap/marker"
	"github.com/rpcpool/diskmap/nodeio"
	"github.com/rpcpool/diskmap/pagecache"
	"github.com/rpcpool/diskmap/platformhash"
	"github.com/rpcpool/diskmap/table"
)

func openSetTable(t *testing.T) *table.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "set.bin")
	s, err := pagecache.Open(path, false, pagecache.DefaultCacheSize)
	require.NoError(t, err)
	tb, err := table.Open(s, [16]byte{3}, nodeio.LookupNodeSizeSet, false, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tb.Stream.Close() })
	return tb
}

func matchKey(tb *table.Table, key string) func(int64) (bool, error) {
	return func(itemPointer int64) (bool, error) {
		buf := make([]byte, len(key))
		if _, err := tb.Stream.ReadAt(buf, itemPointer+nodeio.ItemHeaderSize); err != nil {
			return false, err
		}
		return string(buf) == key, nil
	}
}

func add(t *testing.T, tb *table.Table, key string) {
	t.Helper()
	hashCode := platformhash.Hash([]byte(key))
	_, err := tb.Set(hashCode, matchKey(tb, key), []byte(key))
	require.NoError(t, err)
}

func TestUnmarkAllClearsEveryMarker(t *testing.T) {
	tb := openSetTable(t)
	add(t, tb, "a")
	add(t, tb, "b")
	eng := marker.New(tb)

	hashCode := platformhash.Hash([]byte("a"))
	marked, err := eng.TryMark(hashCode, matchKey(tb, "a"))
	require.NoError(t, err)
	require.True(t, marked)

	slot, _, present, err := tb.FindSlot(hashCode, matchKey(tb, "a"))
	require.NoError(t, err)
	require.True(t, present)

	got, err := eng.Marker(slot)
	require.NoError(t, err)
	require.Equal(t, marker.Marked, got)

	require.NoError(t, eng.UnmarkAll())
	got, err = eng.Marker(slot)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestTryMarkReportsAbsence(t *testing.T) {
	tb := openSetTable(t)
	add(t, tb, "a")
	eng := marker.New(tb)
	require.NoError(t, eng.UnmarkAll())

	hashCode := platformhash.Hash([]byte("missing"))
	marked, err := eng.TryMark(hashCode, matchKey(tb, "missing"))
	require.NoError(t, err)
	require.False(t, marked)
}

func TestAllMarkedRequiresEveryLiveSlot(t *testing.T) {
	tb := openSetTable(t)
	add(t, tb, "a")
	add(t, tb, "b")
	eng := marker.New(tb)
	require.NoError(t, eng.UnmarkAll())

	hA := platformhash.Hash([]byte("a"))
	marked, err := eng.TryMark(hA, matchKey(tb, "a"))
	require.NoError(t, err)
	require.True(t, marked)

	allMarked, err := eng.AllMarked()
	require.NoError(t, err)
	require.False(t, allMarked, "b was never marked")

	hB := platformhash.Hash([]byte("b"))
	marked, err = eng.TryMark(hB, matchKey(tb, "b"))
	require.NoError(t, err)
	require.True(t, marked)

	allMarked, err = eng.AllMarked()
	require.NoError(t, err)
	require.True(t, allMarked)
}

func TestTryMarkPersistsAcrossDistinctSlots(t *testing.T) {
	tb := openSetTable(t)
	add(t, tb, "a")
	add(t, tb, "b")
	eng := marker.New(tb)
	require.NoError(t, eng.UnmarkAll())

	hA := platformhash.Hash([]byte("a"))
	slotA, _, presentA, err := tb.FindSlot(hA, matchKey(tb, "a"))
	require.NoError(t, err)
	require.True(t, presentA)

	hB := platformhash.Hash([]byte("b"))
	slotB, _, presentB, err := tb.FindSlot(hB, matchKey(tb, "b"))
	require.NoError(t, err)
	require.True(t, presentB)

	marked, err := eng.TryMark(hA, matchKey(tb, "a"))
	require.NoError(t, err)
	require.True(t, marked)

	gotA, err := eng.Marker(slotA)
	require.NoError(t, err)
	require.Equal(t, marker.Marked, gotA)

	gotB, err := eng.Marker(slotB)
	require.NoError(t, err)
	require.Zero(t, gotB, "marking a must not mark b's distinct slot")
}
