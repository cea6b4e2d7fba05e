package storage

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

// BadgerStore is the durable StoragePort. Versions are stored in the first
// eight bytes of each value so compare-and-set stays a single badger
// transaction.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

func NewBadgerStore(dataDir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.NewStorageError("open", dataDir, err)
	}

	return &BadgerStore{
		db:     db,
		logger: logger.With("component", "storage", "type", "badger"),
	}, nil
}

func (s *BadgerStore) Get(key string) ([]byte, int64, bool, error) {
	var value []byte
	var version int64
	var exists bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value, version = decodeVersioned(raw)
		exists = true
		return nil
	})
	if err != nil {
		s.logger.Error("badger read failed", "key", key, "error", err.Error())
		return nil, 0, false, domain.NewStorageError("get", key, err)
	}

	return value, version, exists, nil
}

func (s *BadgerStore) Put(key string, value []byte, version int64) error {
	return s.putEntry(key, value, version, 0)
}

func (s *BadgerStore) PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error {
	return s.putEntry(key, value, version, ttl)
}

func (s *BadgerStore) putEntry(key string, value []byte, version int64, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		current := int64(0)
		item, err := txn.Get([]byte(key))
		if err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			_, current = decodeVersioned(raw)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if version != current+1 {
			return domain.NewVersionMismatchError(key, current+1, version)
		}

		entry := badger.NewEntry([]byte(key), encodeVersioned(value, version))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})

	if err != nil {
		if domain.IsVersionMismatch(err) {
			return err
		}
		s.logger.Error("badger write failed", "key", key, "error", err.Error())
		return domain.NewStorageError("put", key, err)
	}
	return nil
}

func (s *BadgerStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return domain.NewStorageError("delete", key, err)
	}
	return nil
}

func (s *BadgerStore) Exists(key string) (bool, error) {
	_, _, exists, err := s.Get(key)
	return exists, err
}

func (s *BadgerStore) ListByPrefix(prefix string) ([]ports.KeyValueVersion, error) {
	var results []ports.KeyValueVersion

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			value, version := decodeVersioned(raw)
			results = append(results, ports.KeyValueVersion{
				Key:     string(key),
				Value:   value,
				Version: version,
			})
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStorageError("list", prefix, err)
	}

	s.logger.Debug("storage list completed", "prefix", prefix, "count", len(results))
	return results, nil
}

func (s *BadgerStore) CountPrefix(prefix string) (int, error) {
	results, err := s.ListByPrefix(prefix)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

func (s *BadgerStore) Close() error {
	s.logger.Info("closing badger store")
	return s.db.Close()
}

func encodeVersioned(value []byte, version int64) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(version))
	copy(buf[8:], value)
	return buf
}

func decodeVersioned(raw []byte) ([]byte, int64) {
	if len(raw) < 8 {
		return raw, 0
	}
	version := int64(binary.BigEndian.Uint64(raw[:8]))
	value := make([]byte, len(raw)-8)
	copy(value, raw[8:])
	return value, version
}
