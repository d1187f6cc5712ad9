// Package diskset is the set façade over package table, sharing the same
// node formats and journal as diskmap but opened with
// nodeio.LookupNodeSizeSet so each lookup slot also carries the 4-byte
// marker field package marker's set-algebra operations use.
package diskset

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

var log = logging.Logger("diskset")

// Set is a file-backed set of K.
type Set[K comparable] struct {
	table    *table.Table
	keyCodec serializer.Codec[K]
	closed   bool
}

// Open opens (or creates) the set at path.
func Open[K comparable](path string, keyCodec serializer.Codec[K], opts ...Option) (*Set[K], error) {
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

	t, err := table.Open(stream, signature, nodeio.LookupNodeSizeSet, cfg.readOnly, cfg.capacityHint)
	if err != nil {
		stream.Close()
		return nil, err
	}

	log.Infow("opened set", "path", path, "readOnly", cfg.readOnly, "count", t.Count())
	return &Set[K]{table: t, keyCodec: keyCodec}, nil
}

func (s *Set[K]) hashKey(k K) (int32, []byte, error) {
	b, err := codec.SerializeToBytes(func(w *codec.Cursor) error {
		return s.keyCodec.Write(w, k)
	})
	if err != nil {
		return 0, nil, err
	}
	return platformhash.Hash(b), b, nil
}

func (s *Set[K]) matchKey(want K) func(itemPointer int64) (bool, error) {
	return func(itemPointer int64) (bool, error) {
		r := codec.NewCursor(s.table.Stream, itemPointer+nodeio.ItemHeaderSize)
		got, err := s.keyCodec.Read(r)
		if err != nil {
			return false, err
		}
		return got == want, nil
	}
}

// Contains reports whether k is a member.
func (s *Set[K]) Contains(k K) (bool, error) {
	if s.closed {
		return false, errs.ErrClosed
	}
	hashCode, _, err := s.hashKey(k)
	if err != nil {
		return false, err
	}
	_, present, err := s.table.Find(hashCode, s.matchKey(k))
	return present, err
}

// Add inserts k, reporting whether it was newly added.
func (s *Set[K]) Add(k K) (added bool, err error) {
	if s.closed {
		return false, errs.ErrClosed
	}
	hashCode, keyBytes, err := s.hashKey(k)
	if err != nil {
		return false, err
	}
	existed, err := s.table.Set(hashCode, s.matchKey(k), keyBytes)
	if err != nil {
		return false, err
	}
	return !existed, nil
}

// Remove deletes k, reporting whether it was present.
func (s *Set[K]) Remove(k K) (removed bool, err error) {
	if s.closed {
		return false, errs.ErrClosed
	}
	hashCode, _, err := s.hashKey(k)
	if err != nil {
		return false, err
	}
	return s.table.Delete(hashCode, s.matchKey(k))
}

// Clear empties the set.
func (s *Set[K]) Clear() error {
	if s.closed {
		return errs.ErrClosed
	}
	return s.table.Clear()
}

// Compact reclaims orphaned item bodies by relocating every live item down
// into reclaimed orphan space and truncating the trailing slack.
func (s *Set[K]) Compact() error {
	if s.closed {
		return errs.ErrClosed
	}
	return s.table.Compact()
}

// Count returns the number of members.
func (s *Set[K]) Count() int64 { return s.table.Count() }

// FragmentationCount returns the number of dead item bodies awaiting
// reclamation.
func (s *Set[K]) FragmentationCount() int64 { return s.table.FragmentationCount() }

// FileSize returns the current on-disk size.
func (s *Set[K]) FileSize() int64 { return s.table.FileSize() }

// Walk visits every member.
func (s *Set[K]) Walk(visit func(k K) error) error {
	if s.closed {
		return errs.ErrClosed
	}
	return s.table.Walk(func(itemPointer int64, _ nodeio.ItemHeader) error {
		r := codec.NewCursor(s.table.Stream, itemPointer+nodeio.ItemHeaderSize)
		k, err := s.keyCodec.Read(r)
		if err != nil {
			return err
		}
		return visit(k)
	})
}

// Close flushes and releases the backing file.
func (s *Set[K]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.table.Stream.Close()
}
