package ports

import (
	"context"
	"time"

	"github.com/raybeam/relay/internal/domain"
)

// LeaseManagerPort issues and validates the ownership tokens that fence
// concurrent writers. Exactly one valid holder exists per resource at a time;
// TTL expiry is the only way a lease is reclaimed from a crashed holder.
type LeaseManagerPort interface {
	// Acquire takes ownership of resourceID. It fails with ErrLeaseConflict
	// while an unexpired lease is held by someone else. On success the epoch
	// is the previous epoch + 1, or 0 if the resource was never leased. The
	// context bounds how long acquisition may block on contention.
	Acquire(ctx context.Context, resourceID, holder string, ttl time.Duration) (*domain.Lease, error)

	// Renew extends the TTL if (leaseID, epoch) is still the current lease.
	// Returns ErrLeaseExpired when the lease is gone and ErrFenced when a
	// newer epoch has superseded it.
	Renew(leaseID string, epoch int64, ttl time.Duration) (*domain.Lease, error)

	// Validate is the fencing check the dispatcher runs before every
	// execution attempt.
	Validate(leaseID string, epoch int64, resourceID string) (bool, error)

	// Release is idempotent: releasing an already-released or fenced-out
	// lease is a no-op, not an error.
	Release(leaseID string, epoch int64) error

	// Get fetches the current lease for a resource, if any.
	Get(resourceID string) (*domain.Lease, bool, error)

	// ActiveLeases lists all unexpired leases, for health snapshots.
	ActiveLeases() ([]domain.Lease, error)
}
