package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

// Renewer keeps a held lease alive by renewing it at a fraction of its TTL.
// There is no heartbeat side-channel: if the holder stalls past the TTL the
// lease is simply lost and the next renewal reports fenced or expired.
type Renewer struct {
	leases ports.LeaseManagerPort
	logger *slog.Logger
}

func NewRenewer(leases ports.LeaseManagerPort, logger *slog.Logger) *Renewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renewer{
		leases: leases,
		logger: logger.With("component", "lease-renewer"),
	}
}

// KeepAlive renews lease until ctx is cancelled or the lease is lost. The
// returned channel closes if ownership is lost before cancellation, letting
// the holder stop work it can no longer fence.
func (r *Renewer) KeepAlive(ctx context.Context, lease *domain.Lease, fraction float64) <-chan struct{} {
	lost := make(chan struct{})
	if fraction <= 0 || fraction >= 1 {
		fraction = 0.5
	}

	go func() {
		interval := time.Duration(float64(lease.TTL) * fraction)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewed, err := r.leases.Renew(lease.LeaseID, lease.Epoch, lease.TTL)
				if err != nil {
					r.logger.Warn("lease renewal failed, ownership lost",
						"resource_id", lease.ResourceID,
						"epoch", lease.Epoch,
						"error", err.Error(),
					)
					close(lost)
					return
				}
				lease.ExpiresAt = renewed.ExpiresAt
				lease.RenewedAt = renewed.RenewedAt
			}
		}
	}()

	return lost
}
