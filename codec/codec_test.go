package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/diskmap/codec"
)

func TestBufferReadWriteRoundTrip(t *testing.T) {
	buf := &codec.Buffer{}
	w := codec.NewCursor(buf, 0)

	require.NoError(t, w.WriteUint32(0xdeadbeef))
	require.NoError(t, w.WriteBool(true))
	require.NoError(t, w.WriteInt64(-12345))
	require.NoError(t, w.WriteFloat64(3.14159))
	require.NoError(t, w.WriteBytes([]byte("payload")))

	r := codec.NewCursor(buf, 0)
	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), u32)

	b, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	require.Equal(t, int64(-12345), i64)

	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	require.InDelta(t, 3.14159, f64, 1e-9)

	rest, err := r.ReadBytes(len("payload"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(rest))
}

func TestSerializeToBytes(t *testing.T) {
	b, err := codec.SerializeToBytes(func(w *codec.Cursor) error {
		return w.WriteUint16(42)
	})
	require.NoError(t, err)
	require.Equal(t, []byte{42, 0}, b)
}

func TestBufferGrowsOnWriteAtGap(t *testing.T) {
	buf := &codec.Buffer{}
	_, err := buf.WriteAt([]byte{1, 2, 3}, 5)
	require.NoError(t, err)
	require.Len(t, buf.Bytes(), 8)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 1, 2, 3}, buf.Bytes())
}
