package diskmap_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/diskmap/diskmap"
	"github.com/rpcpool/diskmap/errs"
	"github.com/rpcpool/diskmap/nodeio"
	"github.com/rpcpool/diskmap/serializer"
)

func openMap(t *testing.T, opts ...diskmap.Option) *diskmap.Map[string, int64] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "m.bin")
	m, err := diskmap.Open[string, int64](path, serializer.KeyString, serializer.Int64, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestSetGetDelete(t *testing.T) {
	m := openMap(t)

	existed, err := m.Set("a", 1)
	require.NoError(t, err)
	require.False(t, existed)

	v, ok, err := m.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), v)

	existed, err = m.Set("a", 2)
	require.NoError(t, err)
	require.True(t, existed)

	v, ok, err = m.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), v)

	removed, err := m.Delete("a")
	require.NoError(t, err)
	require.True(t, removed)

	_, ok, err = m.Get("a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddFailsOnExistingKey(t *testing.T) {
	m := openMap(t)
	require.NoError(t, m.Add("k", 1))
	err := m.Add("k", 2)
	require.ErrorIs(t, err, errs.ErrKeyExists)
}

func TestContainsKey(t *testing.T) {
	m := openMap(t)
	ok, err := m.ContainsKey("missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = m.Set("present", 9)
	require.NoError(t, err)
	ok, err = m.ContainsKey("present")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClearRemovesAllEntries(t *testing.T) {
	m := openMap(t)
	for i := 0; i < 5; i++ {
		_, err := m.Set(fmt.Sprintf("k%d", i), int64(i))
		require.NoError(t, err)
	}
	require.Equal(t, int64(5), m.Count())
	require.NoError(t, m.Clear())
	require.Equal(t, int64(0), m.Count())

	ok, err := m.ContainsKey("k0")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWalkVisitsAllLiveEntries(t *testing.T) {
	m := openMap(t)
	want := map[string]int64{"a": 1, "b": 2, "c": 3}
	for k, v := range want {
		_, err := m.Set(k, v)
		require.NoError(t, err)
	}

	got := map[string]int64{}
	err := m.Walk(func(k string, v int64) error {
		got[k] = v
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestReopenPersistsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.bin")
	var sig [16]byte
	sig[0] = 0x42

	m, err := diskmap.Open[string, int64](path, serializer.KeyString, serializer.Int64, diskmap.WithSignature(sig))
	require.NoError(t, err)
	_, err = m.Set("persisted", 77)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := diskmap.Open[string, int64](path, serializer.KeyString, serializer.Int64, diskmap.WithSignature(sig))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m2.Close() })

	v, ok, err := m2.Get("persisted")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(77), v)
}

func TestOperationsAfterCloseFail(t *testing.T) {
	m := openMap(t)
	require.NoError(t, m.Close())
	_, _, err := m.Get("x")
	require.ErrorIs(t, err, errs.ErrClosed)
}

func TestCompactReducesFragmentation(t *testing.T) {
	m := openMap(t)
	for i := 0; i < 10; i++ {
		_, err := m.Set(fmt.Sprintf("k%d", i), int64(i))
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := m.Delete(fmt.Sprintf("k%d", i))
		require.NoError(t, err)
	}
	require.Greater(t, m.FragmentationCount(), int64(0))
	require.NoError(t, m.Compact())
	require.Equal(t, int64(0), m.FragmentationCount())
}

func TestWithLookupNodeCapacityHintAvoidsEarlyGrowth(t *testing.T) {
	m := openMap(t, diskmap.WithLookupNodeCapacityHint(1000))
	// A hint of 1000 rounds up to 1024 preallocated lookup slots.
	require.Equal(t, nodeio.ItemSectionPointerFor(1024, nodeio.LookupNodeSizeMap), m.FileSize())
}
