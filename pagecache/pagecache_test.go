package pagecache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/diskmap/pagecache"
)

func TestWriteReadAcrossPageBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")
	s, err := pagecache.Open(path, false, pagecache.DefaultCacheSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	data := make([]byte, pagecache.PageSize+128)
	for i := range data {
		data[i] = byte(i)
	}
	off := int64(pagecache.PageSize - 64)
	_, err = s.WriteAt(data, off)
	require.NoError(t, err)

	got := make([]byte, len(data))
	_, err = s.ReadAt(got, off)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFlushPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")
	s, err := pagecache.Open(path, false, pagecache.DefaultCacheSize)
	require.NoError(t, err)

	_, err = s.WriteAt([]byte("durable"), 10)
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	s2, err := pagecache.Open(path, false, pagecache.DefaultCacheSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	got := make([]byte, len("durable"))
	_, err = s2.ReadAt(got, 10)
	require.NoError(t, err)
	require.Equal(t, "durable", string(got))
}

func TestReadOnlyWriteRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")
	require.NoError(t, os.WriteFile(path, []byte("seed"), 0o644))

	s, err := pagecache.Open(path, true, pagecache.DefaultCacheSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.WriteAt([]byte("x"), 0)
	require.ErrorIs(t, err, os.ErrPermission)
}

func TestSmallCacheStillEvictsCorrectly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")
	s, err := pagecache.Open(path, false, 2*pagecache.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 8; i++ {
		off := int64(i) * pagecache.PageSize
		_, err := s.WriteAt([]byte{byte(i)}, off)
		require.NoError(t, err)
	}
	for i := 0; i < 8; i++ {
		off := int64(i) * pagecache.PageSize
		got := make([]byte, 1)
		_, err := s.ReadAt(got, off)
		require.NoError(t, err)
		require.Equal(t, byte(i), got[0])
	}
}

func TestTruncateDropsCachedPagesBeyondLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")
	s, err := pagecache.Open(path, false, pagecache.DefaultCacheSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.WriteAt([]byte("abc"), pagecache.PageSize+5)
	require.NoError(t, err)
	require.NoError(t, s.Truncate(10))
	require.Equal(t, int64(10), s.Size())
}
