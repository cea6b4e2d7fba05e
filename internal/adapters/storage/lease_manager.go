package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
	"github.com/raybeam/relay/internal/xjson"
)

// LeaseManager is the store-backed implementation of ports.LeaseManagerPort.
// Records are serialized per resource and every write is a version CAS, so
// concurrent acquirers racing for the same resource are serialized by the
// store: the loser sees a version mismatch and re-reads.
//
// A released lease keeps its record with an empty holder so the epoch stays
// monotonic across successive owners of the same resource.
type LeaseManager struct {
	storage ports.StoragePort
	backoff time.Duration
	logger  *slog.Logger

	mu    sync.RWMutex
	index map[string]string // lease id -> resource id
}

// NewLeaseManager builds a manager that polls every acquireBackoff while a
// resource is contended; zero or negative picks a 50ms default.
func NewLeaseManager(storage ports.StoragePort, acquireBackoff time.Duration, logger *slog.Logger) *LeaseManager {
	if logger == nil {
		logger = slog.Default()
	}
	if acquireBackoff <= 0 {
		acquireBackoff = 50 * time.Millisecond
	}
	return &LeaseManager{
		storage: storage,
		backoff: acquireBackoff,
		logger:  logger.With("component", "lease-manager"),
		index:   make(map[string]string),
	}
}

func (m *LeaseManager) Acquire(ctx context.Context, resourceID, holder string, ttl time.Duration) (*domain.Lease, error) {
	if resourceID == "" || holder == "" {
		return nil, domain.NewValidationError("lease", "resource_id and holder cannot be empty")
	}

	for {
		lease, err := m.tryAcquire(resourceID, holder, ttl)
		if err == nil {
			m.mu.Lock()
			m.index[lease.LeaseID] = resourceID
			m.mu.Unlock()

			m.logger.Debug("lease acquired",
				"resource_id", resourceID,
				"holder", holder,
				"epoch", lease.Epoch,
			)
			return lease, nil
		}
		if !domain.IsLeaseConflict(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			m.logger.Debug("lease acquisition timed out", "resource_id", resourceID, "holder", holder)
			return nil, domain.ErrLeaseConflict
		case <-time.After(m.backoff):
		}
	}
}

func (m *LeaseManager) tryAcquire(resourceID, holder string, ttl time.Duration) (*domain.Lease, error) {
	key := domain.LeaseKey(resourceID)
	record, version, exists, err := m.readRecord(key)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if exists && record.Holder != "" && record.ExpiresAt.After(now) {
		return nil, domain.ErrLeaseConflict
	}

	lease := domain.Lease{
		LeaseID:    uuid.New().String(),
		ResourceID: resourceID,
		Holder:     holder,
		Epoch:      0,
		AcquiredAt: now,
		RenewedAt:  now,
		ExpiresAt:  now.Add(ttl),
		TTL:        ttl,
	}
	if exists {
		lease.Epoch = record.Epoch + 1
	}

	if err := m.writeRecord(key, &lease, version+1); err != nil {
		if domain.IsVersionMismatch(err) {
			// Lost the race; the caller re-reads and retries.
			return nil, domain.ErrLeaseConflict
		}
		return nil, err
	}
	return &lease, nil
}

func (m *LeaseManager) Renew(leaseID string, epoch int64, ttl time.Duration) (*domain.Lease, error) {
	record, version, err := m.findByLeaseID(leaseID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrLeaseExpired
	}
	if record.Epoch != epoch || record.Holder == "" {
		return nil, domain.ErrFenced
	}

	now := time.Now().UTC()
	if record.ExpiresAt.Before(now) {
		return nil, domain.ErrLeaseExpired
	}

	record.RenewedAt = now
	record.ExpiresAt = now.Add(ttl)
	record.TTL = ttl

	if err := m.writeRecord(domain.LeaseKey(record.ResourceID), record, version+1); err != nil {
		if domain.IsVersionMismatch(err) {
			return nil, domain.ErrFenced
		}
		return nil, err
	}

	m.logger.Debug("lease renewed", "resource_id", record.ResourceID, "epoch", record.Epoch)
	return record, nil
}

func (m *LeaseManager) Validate(leaseID string, epoch int64, resourceID string) (bool, error) {
	record, _, exists, err := m.readRecord(domain.LeaseKey(resourceID))
	if err != nil {
		return false, err
	}
	if !exists || record.Holder == "" {
		return false, nil
	}
	if record.LeaseID != leaseID || record.Epoch != epoch {
		return false, nil
	}
	return record.ExpiresAt.After(time.Now().UTC()), nil
}

func (m *LeaseManager) Release(leaseID string, epoch int64) error {
	record, version, err := m.findByLeaseID(leaseID)
	if err != nil {
		return err
	}
	if record == nil || record.Epoch != epoch || record.Holder == "" {
		// Already released or fenced out: a no-op, not an error.
		return nil
	}

	record.Holder = ""
	record.ExpiresAt = time.Now().UTC()

	if err := m.writeRecord(domain.LeaseKey(record.ResourceID), record, version+1); err != nil {
		if domain.IsVersionMismatch(err) {
			return nil
		}
		return err
	}

	m.mu.Lock()
	delete(m.index, leaseID)
	m.mu.Unlock()

	m.logger.Debug("lease released", "resource_id", record.ResourceID, "epoch", epoch)
	return nil
}

func (m *LeaseManager) Get(resourceID string) (*domain.Lease, bool, error) {
	record, _, exists, err := m.readRecord(domain.LeaseKey(resourceID))
	if err != nil {
		return nil, false, err
	}
	if !exists || record.Holder == "" || record.IsExpired() {
		return nil, false, nil
	}
	return record, true, nil
}

func (m *LeaseManager) ActiveLeases() ([]domain.Lease, error) {
	entries, err := m.storage.ListByPrefix(domain.LeaseKeyPrefix)
	if err != nil {
		return nil, err
	}

	var active []domain.Lease
	for _, entry := range entries {
		var record domain.Lease
		if err := xjson.Unmarshal(entry.Value, &record); err != nil {
			m.logger.Warn("skipping corrupt lease record", "key", entry.Key, "error", err.Error())
			continue
		}
		if record.Holder != "" && !record.IsExpired() {
			active = append(active, record)
		}
	}
	return active, nil
}

func (m *LeaseManager) readRecord(key string) (*domain.Lease, int64, bool, error) {
	value, version, exists, err := m.storage.Get(key)
	if err != nil {
		return nil, 0, false, err
	}
	if !exists || len(value) == 0 {
		return nil, version, false, nil
	}

	var record domain.Lease
	if err := xjson.Unmarshal(value, &record); err != nil {
		return nil, version, false, domain.NewStorageError("decode", key, err)
	}
	return &record, version, true, nil
}

func (m *LeaseManager) writeRecord(key string, lease *domain.Lease, version int64) error {
	payload, err := xjson.Marshal(lease)
	if err != nil {
		return domain.NewStorageError("encode", key, err)
	}
	return m.storage.Put(key, payload, version)
}

// findByLeaseID resolves a lease id to its record, consulting the in-memory
// index first and falling back to a prefix scan after a restart.
func (m *LeaseManager) findByLeaseID(leaseID string) (*domain.Lease, int64, error) {
	m.mu.RLock()
	resourceID, ok := m.index[leaseID]
	m.mu.RUnlock()

	if ok {
		record, version, exists, err := m.readRecord(domain.LeaseKey(resourceID))
		if err != nil {
			return nil, 0, err
		}
		if exists && record.LeaseID == leaseID {
			return record, version, nil
		}
	}

	entries, err := m.storage.ListByPrefix(domain.LeaseKeyPrefix)
	if err != nil {
		return nil, 0, err
	}
	for _, entry := range entries {
		var record domain.Lease
		if err := xjson.Unmarshal(entry.Value, &record); err != nil {
			continue
		}
		if record.LeaseID == leaseID {
			m.mu.Lock()
			m.index[leaseID] = record.ResourceID
			m.mu.Unlock()
			return &record, entry.Version, nil
		}
	}
	return nil, 0, nil
}
