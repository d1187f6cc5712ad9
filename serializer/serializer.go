// Package serializer implements the element (de)serialization contract of
// spec.md §4.1: a statically composed "serializer trait" standing in for
// the reflection-based (de)serialization the original engine used to pick
// at runtime (spec.md §9, "Reflection-based serialization").
//
// Every primitive shape spec.md names (booleans, the signed/unsigned integer
// widths, floats, decimal, char, string, date-time, GUID) has a built-in
// Codec. A homogeneous slice of any of those gets one via SliceCodec. A user
// type satisfying SelfCodec/SelfDecoder is wired in explicitly by the
// caller at container construction — mirroring the gsfa
// store/primary.PrimaryStorage contract, which is likewise a small
// interface supplied by the caller rather than discovered by reflection —
// instead of being looked up by name.
package serializer

import (
	"time"

	"github.com/rpcpool/diskmap/codec"
)

// Codec converts a value of type T to and from the byte stream backing a
// node's key or value payload.
type Codec[T any] interface {
	Write(w *codec.Cursor, v T) error
	Read(r *codec.Cursor) (T, error)
}

// SelfCodec lets a user type serialize itself against a stream instead of
// supplying a standalone Codec — the "instance write/read against a
// stream" shape from spec.md §4.1.
type SelfCodec interface {
	WriteSelf(w *codec.Cursor) error
}

// SelfDecoder is the read half of SelfCodec, implemented on a pointer
// receiver paired with a zero-value constructor.
type SelfDecoder interface {
	ReadSelf(r *codec.Cursor) error
}

// FromSelf builds a Codec[T] for a user type whose pointer implements both
// SelfCodec and SelfDecoder with a working zero value.
func FromSelf[T any, PT interface {
	*T
	SelfCodec
	SelfDecoder
}]() Codec[T] {
	return selfCodec[T, PT]{}
}

type selfCodec[T any, PT interface {
	*T
	SelfCodec
	SelfDecoder
}] struct{}

func (selfCodec[T, PT]) Write(w *codec.Cursor, v T) error {
	p := PT(&v)
	return p.WriteSelf(w)
}

func (selfCodec[T, PT]) Read(r *codec.Cursor) (T, error) {
	var v T
	p := PT(&v)
	err := p.ReadSelf(r)
	return v, err
}

// --- scalar primitives -----------------------------------------------------

type boolCodec struct{}

func (boolCodec) Write(w *codec.Cursor, v bool) error { return w.WriteBool(v) }
func (boolCodec) Read(r *codec.Cursor) (bool, error)  { return r.ReadBool() }

// Bool is the Codec for the boolean primitive.
var Bool Codec[bool] = boolCodec{}

type int8Codec struct{}

func (int8Codec) Write(w *codec.Cursor, v int8) error { return w.WriteUint8(uint8(v)) }
func (int8Codec) Read(r *codec.Cursor) (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

var Int8 Codec[int8] = int8Codec{}

type uint8Codec struct{}

func (uint8Codec) Write(w *codec.Cursor, v uint8) error { return w.WriteUint8(v) }
func (uint8Codec) Read(r *codec.Cursor) (uint8, error)  { return r.ReadUint8() }

var Uint8 Codec[uint8] = uint8Codec{}

type int16Codec struct{}

func (int16Codec) Write(w *codec.Cursor, v int16) error { return w.WriteUint16(uint16(v)) }
func (int16Codec) Read(r *codec.Cursor) (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

var Int16 Codec[int16] = int16Codec{}

type uint16Codec struct{}

func (uint16Codec) Write(w *codec.Cursor, v uint16) error { return w.WriteUint16(v) }
func (uint16Codec) Read(r *codec.Cursor) (uint16, error)  { return r.ReadUint16() }

var Uint16 Codec[uint16] = uint16Codec{}

type int32Codec struct{}

func (int32Codec) Write(w *codec.Cursor, v int32) error { return w.WriteInt32(v) }
func (int32Codec) Read(r *codec.Cursor) (int32, error)  { return r.ReadInt32() }

var Int32 Codec[int32] = int32Codec{}

type uint32Codec struct{}

func (uint32Codec) Write(w *codec.Cursor, v uint32) error { return w.WriteUint32(v) }
func (uint32Codec) Read(r *codec.Cursor) (uint32, error)  { return r.ReadUint32() }

var Uint32 Codec[uint32] = uint32Codec{}

type int64Codec struct{}

func (int64Codec) Write(w *codec.Cursor, v int64) error { return w.WriteInt64(v) }
func (int64Codec) Read(r *codec.Cursor) (int64, error)  { return r.ReadInt64() }

var Int64 Codec[int64] = int64Codec{}

type uint64Codec struct{}

func (uint64Codec) Write(w *codec.Cursor, v uint64) error { return w.WriteUint64(v) }
func (uint64Codec) Read(r *codec.Cursor) (uint64, error)  { return r.ReadUint64() }

var Uint64 Codec[uint64] = uint64Codec{}

type float32Codec struct{}

func (float32Codec) Write(w *codec.Cursor, v float32) error { return w.WriteFloat32(v) }
func (float32Codec) Read(r *codec.Cursor) (float32, error)  { return r.ReadFloat32() }

var Float32 Codec[float32] = float32Codec{}

type float64Codec struct{}

func (float64Codec) Write(w *codec.Cursor, v float64) error { return w.WriteFloat64(v) }
func (float64Codec) Read(r *codec.Cursor) (float64, error)  { return r.ReadFloat64() }

var Float64 Codec[float64] = float64Codec{}

// Char is a UTF-16 code unit, spec.md's 16-bit char primitive.
type Char uint16

type charCodec struct{}

func (charCodec) Write(w *codec.Cursor, v Char) error { return w.WriteUint16(uint16(v)) }
func (charCodec) Read(r *codec.Cursor) (Char, error) {
	v, err := r.ReadUint16()
	return Char(v), err
}

var CharCodec Codec[Char] = charCodec{}

// Decimal is the 16-byte decimal primitive; its internal representation is
// opaque to this package (callers round-trip it through whatever .NET-style
// decimal layout their V type needs).
type Decimal [16]byte

type decimalCodec struct{}

func (decimalCodec) Write(w *codec.Cursor, v Decimal) error { return w.WriteBytes(v[:]) }
func (decimalCodec) Read(r *codec.Cursor) (Decimal, error) {
	var v Decimal
	b, err := r.ReadBytes(16)
	if err != nil {
		return v, err
	}
	copy(v[:], b)
	return v, nil
}

var DecimalCodec Codec[Decimal] = decimalCodec{}

// GUID is the 16-byte GUID primitive, stored in RFC-4122 byte order.
type GUID [16]byte

type guidCodec struct{}

func (guidCodec) Write(w *codec.Cursor, v GUID) error { return w.WriteBytes(v[:]) }
func (guidCodec) Read(r *codec.Cursor) (GUID, error) {
	var v GUID
	b, err := r.ReadBytes(16)
	if err != nil {
		return v, err
	}
	copy(v[:], b)
	return v, nil
}

var GUIDCodec Codec[GUID] = guidCodec{}

// DateTime is a 1-byte kind tag plus 8-byte ticks, per spec.md §4.1.
type DateTime struct {
	Kind  uint8
	Ticks int64
}

// ToTime converts Ticks (100ns units since 0001-01-01, .NET convention) to a
// time.Time in UTC. Kind is preserved only for round-tripping.
func (d DateTime) ToTime() time.Time {
	const ticksPerSecond = 10_000_000
	const epochOffsetSeconds = 62_135_596_800 // seconds from 0001-01-01 to 1970-01-01
	secs := d.Ticks/ticksPerSecond - epochOffsetSeconds
	nanos := (d.Ticks % ticksPerSecond) * 100
	return time.Unix(secs, nanos).UTC()
}

// FromTime builds a DateTime from a time.Time, kind 0 (Unspecified).
func FromTime(t time.Time) DateTime {
	const ticksPerSecond = 10_000_000
	const epochOffsetSeconds = 62_135_596_800
	t = t.UTC()
	ticks := (t.Unix()+epochOffsetSeconds)*ticksPerSecond + int64(t.Nanosecond())/100
	return DateTime{Kind: 0, Ticks: ticks}
}

type dateTimeCodec struct{}

func (dateTimeCodec) Write(w *codec.Cursor, v DateTime) error {
	if err := w.WriteUint8(v.Kind); err != nil {
		return err
	}
	return w.WriteInt64(v.Ticks)
}

func (dateTimeCodec) Read(r *codec.Cursor) (DateTime, error) {
	var v DateTime
	kind, err := r.ReadUint8()
	if err != nil {
		return v, err
	}
	ticks, err := r.ReadInt64()
	if err != nil {
		return v, err
	}
	return DateTime{Kind: kind, Ticks: ticks}, nil
}

var DateTimeCodec Codec[DateTime] = dateTimeCodec{}

// --- string: written unconditionally, plus a trailing isNull flag only
// when the string is empty, to distinguish "" from a null string. -------

type stringCodec struct{}

func (stringCodec) Write(w *codec.Cursor, v string) error {
	b := []byte(v)
	if err := writeVarLen(w, len(b)); err != nil {
		return err
	}
	if err := w.WriteBytes(b); err != nil {
		return err
	}
	if len(b) == 0 {
		// Empty strings carry an extra isNull boolean so that "" and a null
		// string are distinguishable on read-back.
		return w.WriteBool(false)
	}
	return nil
}

func (stringCodec) Read(r *codec.Cursor) (string, error) {
	n, err := readVarLen(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		if _, err := r.ReadBool(); err != nil {
			return "", err
		}
		return "", nil
	}
	b, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var String Codec[string] = stringCodec{}

// keyStringCodec omits the isNull suffix stringCodec appends for empty
// values: map/set keys are never null, so there is nothing to disambiguate.
// This is also what makes the hash of an empty string key equal the CRC-32
// of a single zero length byte (spec.md §8): the isNull suffix, which only
// string values ever carry, never enters a key's serialized form.
type keyStringCodec struct{}

func (keyStringCodec) Write(w *codec.Cursor, v string) error {
	b := []byte(v)
	if err := writeVarLen(w, len(b)); err != nil {
		return err
	}
	return w.WriteBytes(b)
}

func (keyStringCodec) Read(r *codec.Cursor) (string, error) {
	n, err := readVarLen(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// KeyString is the Codec to use for a string-typed K.
var KeyString Codec[string] = keyStringCodec{}

// writeVarLen/readVarLen implement the 7-bit length prefix: each byte
// carries 7 bits of length and a high continuation bit, least-significant
// group first, matching the length-prefixed string encoding spec.md
// references.
func writeVarLen(w *codec.Cursor, n int) error {
	u := uint64(n)
	for {
		b := byte(u & 0x7F)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		if err := w.WriteUint8(b); err != nil {
			return err
		}
		if u == 0 {
			break
		}
	}
	return nil
}

func readVarLen(r *codec.Cursor) (int, error) {
	var u uint64
	var shift uint
	for {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		u |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return int(u), nil
}

// --- homogeneous sequences: a 32-bit little-endian count followed by that
// many serialized elements. ------------------------------------------------

// SliceCodec builds a Codec for a homogeneous []T from a Codec[T].
func SliceCodec[T any](elem Codec[T]) Codec[[]T] {
	return sliceCodec[T]{elem: elem}
}

type sliceCodec[T any] struct{ elem Codec[T] }

func (s sliceCodec[T]) Write(w *codec.Cursor, v []T) error {
	if err := w.WriteUint32(uint32(len(v))); err != nil {
		return err
	}
	for _, e := range v {
		if err := s.elem.Write(w, e); err != nil {
			return err
		}
	}
	return nil
}

func (s sliceCodec[T]) Read(r *codec.Cursor) ([]T, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := s.elem.Read(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
