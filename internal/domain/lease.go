package domain

import (
	"fmt"
	"time"
)

// Lease is an ownership token granting exclusive write access to a resource
// for a bounded time. Epoch increases monotonically per resource every time
// ownership changes; a write bearing a stale epoch is fenced.
type Lease struct {
	LeaseID    string        `json:"lease_id"`
	ResourceID string        `json:"resource_id"`
	Holder     string        `json:"holder"`
	Epoch      int64         `json:"epoch"`
	AcquiredAt time.Time     `json:"acquired_at"`
	RenewedAt  time.Time     `json:"renewed_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	TTL        time.Duration `json:"ttl"`
}

func (l *Lease) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}

func (l *Lease) Validate() error {
	if l.LeaseID == "" {
		return NewValidationError("lease", "lease_id cannot be empty")
	}
	if l.ResourceID == "" {
		return NewValidationError("lease", "resource_id cannot be empty")
	}
	if l.Holder == "" {
		return NewValidationError("lease", "holder cannot be empty")
	}
	if l.Epoch < 0 {
		return NewValidationError("lease", fmt.Sprintf("epoch cannot be negative: %d", l.Epoch))
	}
	if l.ExpiresAt.Before(l.AcquiredAt) {
		return NewValidationError("lease", "expires_at must be after acquired_at")
	}
	return nil
}
