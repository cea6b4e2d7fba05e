package ports

import "time"

// StoragePort is the authoritative backing store for reducer state, leases,
// and circuit snapshots. Writes are compare-and-set by version: a Put with a
// version that is not exactly one past the stored version fails with a
// version mismatch, which is how concurrent writers are serialized.
type StoragePort interface {
	// Get returns the value and its current version. A missing key reports
	// exists=false with a nil error.
	Get(key string) (value []byte, version int64, exists bool, err error)

	// Put stores value at the given version. Version 1 creates the key; any
	// other version must be previous+1 or the write is rejected.
	Put(key string, value []byte, version int64) error

	// PutWithTTL behaves like Put and additionally expires the key.
	PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error

	Delete(key string) error
	Exists(key string) (bool, error)

	ListByPrefix(prefix string) ([]KeyValueVersion, error)
	CountPrefix(prefix string) (int, error)

	Close() error
}

type KeyValueVersion struct {
	Key     string
	Value   []byte
	Version int64
}
