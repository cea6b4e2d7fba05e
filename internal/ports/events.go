package ports

import (
	"context"

	"github.com/raybeam/relay/internal/domain"
)

// EventPredicate filters envelopes for a subscription.
type EventPredicate func(domain.Envelope) bool

// EventHandler consumes a matching envelope on the subscriber's goroutine.
type EventHandler func(domain.Envelope)

// EventBusPort is the correlation-tracked message channel connecting the core
// to external collaborators. Publish is fire-and-forget: the core never
// blocks on subscriber processing, and a slow subscriber loses events rather
// than stalling dispatch.
type EventBusPort interface {
	Start(ctx context.Context) error
	Stop() error

	Publish(envelope domain.Envelope)
	Subscribe(predicate EventPredicate, handler EventHandler) (unsubscribe func(), err error)
}
