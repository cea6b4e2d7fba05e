package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

// Bus is the in-process event channel connecting the core to external
// collaborators. Each subscriber drains its own buffered channel on a
// dedicated goroutine; Publish never blocks on subscriber processing, and a
// full subscriber buffer drops the envelope with a warning rather than
// stalling the publisher.
type Bus struct {
	logger     *slog.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriber struct {
	id        string
	predicate ports.EventPredicate
	handler   ports.EventHandler
	ch        chan domain.Envelope
	done      chan struct{}
}

func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}

	return &Bus{
		logger:      logger.With("component", "event-bus"),
		bufferSize:  bufferSize,
		subscribers: make(map[string]*subscriber),
	}
}

func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return domain.ErrAlreadyStarted
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.running = true
	b.logger.Debug("event bus started")
	return nil
}

func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return domain.ErrNotStarted
	}

	b.cancel()
	for _, sub := range b.subscribers {
		close(sub.ch)
		<-sub.done
	}
	b.subscribers = make(map[string]*subscriber)
	b.running = false

	b.logger.Debug("event bus stopped")
	return nil
}

// Publish delivers envelope to every matching subscriber. Fire-and-forget:
// errors and slow consumers are the subscriber's problem, not the core's.
func (b *Bus) Publish(envelope domain.Envelope) {
	if envelope.EnvelopeID == "" {
		envelope.EnvelopeID = uuid.New().String()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.running {
		return
	}

	for _, sub := range b.subscribers {
		if sub.predicate != nil && !sub.predicate(envelope) {
			continue
		}
		select {
		case sub.ch <- envelope:
		default:
			b.logger.Warn("subscriber buffer full, dropping envelope",
				"subscriber", sub.id,
				"operation", envelope.Operation,
				"correlation_id", envelope.CorrelationID,
			)
		}
	}
}

func (b *Bus) Subscribe(predicate ports.EventPredicate, handler ports.EventHandler) (func(), error) {
	if handler == nil {
		return nil, domain.NewValidationError("event-bus", "handler cannot be nil")
	}

	sub := &subscriber{
		id:        uuid.New().String(),
		predicate: predicate,
		handler:   handler,
		ch:        make(chan domain.Envelope, b.bufferSize),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		for envelope := range sub.ch {
			sub.handler(envelope)
		}
	}()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[sub.id]; ok {
			delete(b.subscribers, sub.id)
			close(existing.ch)
			<-existing.done
		}
	}

	b.logger.Debug("subscriber added", "subscriber", sub.id)
	return unsubscribe, nil
}
