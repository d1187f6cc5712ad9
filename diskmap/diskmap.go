// Package diskmap is the dictionary façade over package table: a
// file-backed map[K]V with crash-recoverable mutation, laid out as the
// open-addressed hash table spec.md describes.
//
// Construction follows the functional-options shape store/index.Open's
// call sites use for an optional file cache and GC knobs, adapted here to
// cache size, read-only mode, and the header signature.
package diskmap

import (
	"os"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/diskmap/codec"
	"github.com/rpcpool/diskmap/errs"
	"github.com/rpcpool/diskmap/nodeio"
	"github.com/rpcpool/diskmap/pagecache"
	"github.com/rpcpool/diskmap/platformhash"
	"github.com/rpcpool/diskmap/serializer"
	"github.com/rpcpool/diskmap/table"
)

var log = logging.Logger("diskmap")

// Map is a file-backed associative container from K to V.
type Map[K comparable, V any] struct {
	table      *table.Table
	keyCodec   serializer.Codec[K]
	valueCodec serializer.Codec[V]
	closed     bool
}

// Open opens (or creates) the map at path. keyCodec and valueCodec supply
// the element serializer contract of spec.md §4.1 for K and V
// respectively; use serializer.KeyString, serializer.Int64, FromSelf, or a
// caller-written Codec.
func Open[K comparable, V any](path string, keyCodec serializer.Codec[K], valueCodec serializer.Codec[V], opts ...Option) (*Map[K, V], error) {
	if path == "" {
		return nil, errs.ErrInvalidPath
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	stream, err := pagecache.Open(path, cfg.readOnly, cfg.cacheBytes)
	if err != nil {
		return nil, err
	}

	signature := cfg.signature
	if isNew && !cfg.hasSig {
		signature = randomSignature()
	}

	t, err := table.Open(stream, signature, nodeio.LookupNodeSizeMap, cfg.readOnly, cfg.capacityHint)
	if err != nil {
		stream.Close()
		return nil, err
	}

	log.Infow("opened map", "path", path, "readOnly", cfg.readOnly, "count", t.Count())
	return &Map[K, V]{table: t, keyCodec: keyCodec, valueCodec: valueCodec}, nil
}

func (m *Map[K, V]) hashKey(k K) (int32, []byte, error) {
	b, err := codec.SerializeToBytes(func(w *codec.Cursor) error {
		return m.keyCodec.Write(w, k)
	})
	if err != nil {
		return 0, nil, err
	}
	return platformhash.Hash(b), b, nil
}

// matchKey builds a probe predicate that decodes the candidate item's key
// straight off the backing stream and compares it against want.
func (m *Map[K, V]) matchKey(want K) func(itemPointer int64) (bool, error) {
	return func(itemPointer int64) (bool, error) {
		r := codec.NewCursor(m.table.Stream, itemPointer+nodeio.ItemHeaderSize)
		got, err := m.keyCodec.Read(r)
		if err != nil {
			return false, err
		}
		return got == want, nil
	}
}

func (m *Map[K, V]) readValueAt(itemPointer int64) (V, error) {
	r := codec.NewCursor(m.table.Stream, itemPointer+nodeio.ItemHeaderSize)
	var zero V
	if _, err := m.keyCodec.Read(r); err != nil {
		return zero, err
	}
	return m.valueCodec.Read(r)
}

// Get returns the value for k, if present.
func (m *Map[K, V]) Get(k K) (V, bool, error) {
	var zero V
	if m.closed {
		return zero, false, errs.ErrClosed
	}
	hashCode, _, err := m.hashKey(k)
	if err != nil {
		return zero, false, err
	}
	itemPointer, present, err := m.table.Find(hashCode, m.matchKey(k))
	if err != nil || !present {
		return zero, false, err
	}
	v, err := m.readValueAt(itemPointer)
	return v, true, err
}

// ContainsKey reports whether k is present, without decoding its value.
func (m *Map[K, V]) ContainsKey(k K) (bool, error) {
	if m.closed {
		return false, errs.ErrClosed
	}
	hashCode, _, err := m.hashKey(k)
	if err != nil {
		return false, err
	}
	_, present, err := m.table.Find(hashCode, m.matchKey(k))
	return present, err
}

// Set inserts or overwrites the value for k, reporting whether a previous
// value was overwritten.
func (m *Map[K, V]) Set(k K, v V) (existed bool, err error) {
	if m.closed {
		return false, errs.ErrClosed
	}
	hashCode, keyBytes, err := m.hashKey(k)
	if err != nil {
		return false, err
	}
	payload, err := codec.SerializeToBytes(func(w *codec.Cursor) error {
		if err := w.WriteBytes(keyBytes); err != nil {
			return err
		}
		return m.valueCodec.Write(w, v)
	})
	if err != nil {
		return false, err
	}
	return m.table.Set(hashCode, m.matchKey(k), payload)
}

// Add inserts k/v, failing with errs.ErrKeyExists and leaving the stored
// value unchanged if k is already present — the indexer-distinct-from-
// overwrite half of spec.md's Set operation.
func (m *Map[K, V]) Add(k K, v V) error {
	present, err := m.ContainsKey(k)
	if err != nil {
		return err
	}
	if present {
		return errs.ErrKeyExists
	}
	_, err = m.Set(k, v)
	return err
}

// Delete removes k, reporting whether it was present.
func (m *Map[K, V]) Delete(k K) (existed bool, err error) {
	if m.closed {
		return false, errs.ErrClosed
	}
	hashCode, _, err := m.hashKey(k)
	if err != nil {
		return false, err
	}
	return m.table.Delete(hashCode, m.matchKey(k))
}

// Clear empties the map.
func (m *Map[K, V]) Clear() error {
	if m.closed {
		return errs.ErrClosed
	}
	return m.table.Clear()
}

// Compact reclaims orphaned item bodies by relocating every live item down
// into reclaimed orphan space and truncating the trailing slack.
func (m *Map[K, V]) Compact() error {
	if m.closed {
		return errs.ErrClosed
	}
	return m.table.Compact()
}

// Count returns the number of live entries.
func (m *Map[K, V]) Count() int64 { return m.table.Count() }

// FragmentationCount returns the number of dead item bodies awaiting
// reclamation.
func (m *Map[K, V]) FragmentationCount() int64 { return m.table.FragmentationCount() }

// FileSize returns the current on-disk size.
func (m *Map[K, V]) FileSize() int64 { return m.table.FileSize() }

// Walk visits every live key/value pair. Iteration order is item-append
// order, not key order.
func (m *Map[K, V]) Walk(visit func(k K, v V) error) error {
	if m.closed {
		return errs.ErrClosed
	}
	return m.table.Walk(func(itemPointer int64, _ nodeio.ItemHeader) error {
		r := codec.NewCursor(m.table.Stream, itemPointer+nodeio.ItemHeaderSize)
		k, err := m.keyCodec.Read(r)
		if err != nil {
			return err
		}
		v, err := m.valueCodec.Read(r)
		if err != nil {
			return err
		}
		return visit(k, v)
	})
}

// VerifyStructure walks every item node, live and orphaned, and reports how
// many of each it found, following nextItemPointer through every orphan
// (spec.md §3 invariant 6); the live count should always agree with
// Count(). The walk stops without an error at a node whose nextItemPointer
// does not move forward, and it does not check that the chain ends exactly
// at endOfFilePointer.
func (m *Map[K, V]) VerifyStructure() (live int64, orphaned int64, err error) {
	if m.closed {
		return 0, 0, errs.ErrClosed
	}
	err = m.table.WalkItems(func(_ int64, _ nodeio.ItemHeader, isLive bool) error {
		if isLive {
			live++
		} else {
			orphaned++
		}
		return nil
	})
	return live, orphaned, err
}

// Close flushes and releases the backing file.
func (m *Map[K, V]) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.table.Stream.Close()
}
