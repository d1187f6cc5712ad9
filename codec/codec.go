// Package codec provides fixed-width little-endian readers and writers over
// a pagecache.Stream, the "byte codec" component of spec.md §4.
//
// Every integer width used by the node formats and the element serializer
// goes through here, the same way compactindexsized.putUintLe/uintLe centralize
// little-endian encode/decode for that format's headers and entries.
package codec

import (
	"encoding/binary"
	"math"
)

// RandomAccess is the positioned read/write surface a Cursor needs. Both
// pagecache.Stream and the in-memory Buffer below (used to serialize a key
// to bytes for hashing, off the actual file) satisfy it.
type RandomAccess interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// Cursor is a sequential read/write position over a RandomAccess. Node I/O
// and the element serializer both build on it instead of tracking raw
// offsets by hand.
type Cursor struct {
	Stream RandomAccess
	Off    int64
}

func NewCursor(s RandomAccess, off int64) *Cursor {
	return &Cursor{Stream: s, Off: off}
}

// Buffer is a growable in-memory RandomAccess, used to serialize a value to
// a byte slice (e.g. to compute a key's platform-stable hash) without
// touching the backing file.
type Buffer struct {
	data []byte
}

func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return 0, nil
	}
	n := copy(p, b.data[off:])
	return n, nil
}

func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:end], p)
	return len(p), nil
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte { return b.data }

// SerializeToBytes runs write against a fresh Buffer and returns the
// resulting bytes.
func SerializeToBytes(write func(w *Cursor) error) ([]byte, error) {
	buf := &Buffer{}
	c := NewCursor(buf, 0)
	if err := write(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Cursor) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := c.Stream.ReadAt(buf, c.Off); err != nil {
		return nil, err
	}
	c.Off += int64(n)
	return buf, nil
}

func (c *Cursor) writeN(buf []byte) error {
	if _, err := c.Stream.WriteAt(buf, c.Off); err != nil {
		return err
	}
	c.Off += int64(len(buf))
	return nil
}

func (c *Cursor) ReadBytes(n int) ([]byte, error) { return c.readN(n) }

func (c *Cursor) WriteBytes(b []byte) error { return c.writeN(b) }

func (c *Cursor) ReadUint8() (uint8, error) {
	b, err := c.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) WriteUint8(v uint8) error { return c.writeN([]byte{v}) }

func (c *Cursor) ReadBool() (bool, error) {
	v, err := c.ReadUint8()
	return v != 0, err
}

func (c *Cursor) WriteBool(v bool) error {
	if v {
		return c.WriteUint8(1)
	}
	return c.WriteUint8(0)
}

func (c *Cursor) ReadUint16() (uint16, error) {
	b, err := c.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *Cursor) WriteUint16(v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return c.writeN(buf[:])
}

func (c *Cursor) ReadUint32() (uint32, error) {
	b, err := c.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *Cursor) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return c.writeN(buf[:])
}

func (c *Cursor) ReadInt32() (int32, error) {
	v, err := c.ReadUint32()
	return int32(v), err
}

func (c *Cursor) WriteInt32(v int32) error { return c.WriteUint32(uint32(v)) }

func (c *Cursor) ReadUint64() (uint64, error) {
	b, err := c.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *Cursor) WriteUint64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return c.writeN(buf[:])
}

func (c *Cursor) ReadInt64() (int64, error) {
	v, err := c.ReadUint64()
	return int64(v), err
}

func (c *Cursor) WriteInt64(v int64) error { return c.WriteUint64(uint64(v)) }

func (c *Cursor) ReadFloat32() (float32, error) {
	v, err := c.ReadUint32()
	return math.Float32frombits(v), err
}

func (c *Cursor) WriteFloat32(v float32) error { return c.WriteUint32(math.Float32bits(v)) }

func (c *Cursor) ReadFloat64() (float64, error) {
	v, err := c.ReadUint64()
	return math.Float64frombits(v), err
}

func (c *Cursor) WriteFloat64(v float64) error { return c.WriteUint64(math.Float64bits(v)) }
