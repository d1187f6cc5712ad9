package diskmap

import (
	"github.com/google/uuid"

	"github.com/rpcpool/diskmap/errs"
	"github.com/rpcpool/diskmap/pagecache"
)

type config struct {
	cacheBytes   int
	readOnly     bool
	signature    [16]byte
	hasSig       bool
	capacityHint int64
}

func defaultConfig() *config {
	return &config{cacheBytes: pagecache.DefaultCacheSize}
}

// Option configures Open, the same functional-options shape
// store/index.Open's sibling constructors in the pack use for optional
// knobs instead of a sprawling parameter list.
type Option func(*config)

// WithCacheSize overrides the page cache's byte budget.
func WithCacheSize(bytes int) Option {
	return func(c *config) { c.cacheBytes = bytes }
}

// WithReadOnly opens the map without permitting mutation. A read-only
// handle that finds an unresolved journal operation fails with
// errs.ErrJournalStuck rather than healing the file.
func WithReadOnly(readOnly bool) Option {
	return func(c *config) { c.readOnly = readOnly }
}

// WithSignature pins the 16-byte header signature a new file is created
// with (and an existing file is validated against). If omitted, a fresh
// random UUID is used for a new file.
func WithSignature(sig [16]byte) Option {
	return func(c *config) { c.signature = sig; c.hasSig = true }
}

// WithSignatureBytes is WithSignature for a caller holding a []byte of at
// most 16 bytes (e.g. a format version string), zero-padded.
func WithSignatureBytes(b []byte) (Option, error) {
	if len(b) > 16 {
		return nil, errs.ErrInvalidSignature
	}
	var sig [16]byte
	copy(sig[:], b)
	return WithSignature(sig), nil
}

// WithLookupNodeCapacityHint preallocates a larger-than-default initial
// lookup section (rounded up to a power of two) for a new file, avoiding
// the early growth passes an expected-size-in-advance workload would
// otherwise pay for.
func WithLookupNodeCapacityHint(entries int64) Option {
	return func(c *config) { c.capacityHint = entries }
}

func randomSignature() [16]byte {
	id := uuid.New()
	var sig [16]byte
	copy(sig[:], id[:])
	return sig
}
