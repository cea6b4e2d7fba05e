package circuit_breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
	"github.com/raybeam/relay/internal/xjson"
)

// Provider owns one breaker per resource name, all sharing a default config.
type Provider struct {
	mu       sync.RWMutex
	breakers map[string]ports.CircuitBreaker
	config   domain.CircuitBreakerConfig
	logger   *slog.Logger

	store  ports.StoragePort
	bus    ports.EventBusPort
	nodeID string
}

func NewProvider(config domain.CircuitBreakerConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		breakers: make(map[string]ports.CircuitBreaker),
		config:   config,
		logger:   logger.With("component", "circuit-breaker-provider"),
	}
}

// WithSnapshots makes every breaker state change observable beyond the
// process: the breaker's metrics are persisted under its circuit key and the
// transition is announced on the bus. Either sink may be nil. Must be called
// before the first GetCircuitBreaker.
func (p *Provider) WithSnapshots(store ports.StoragePort, bus ports.EventBusPort, nodeID string) *Provider {
	p.store = store
	p.bus = bus
	p.nodeID = nodeID
	return p
}

func (p *Provider) GetCircuitBreaker(name string) ports.CircuitBreaker {
	p.mu.RLock()
	breaker, exists := p.breakers[name]
	p.mu.RUnlock()

	if exists {
		return breaker
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.breakers[name]; exists {
		return existing
	}

	var hook StateChangeHook
	if p.store != nil || p.bus != nil {
		hook = p.onStateChange
	}
	breaker = NewCircuitBreakerWithHook(name, p.config, hook, p.logger)
	p.breakers[name] = breaker

	p.logger.Info("created circuit breaker",
		"name", name,
		"failure_threshold", p.config.FailureThreshold,
		"success_threshold", p.config.SuccessThreshold,
		"reset_timeout", p.config.ResetTimeout,
		"max_trial_calls", p.config.MaxTrialCalls)

	return breaker
}

func (p *Provider) GetAllMetrics() map[string]ports.CircuitBreakerMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	metrics := make(map[string]ports.CircuitBreakerMetrics)
	for name, breaker := range p.breakers {
		metrics[name] = breaker.Metrics()
	}

	return metrics
}

func (p *Provider) onStateChange(name string, from, to ports.CircuitBreakerState) {
	if p.bus != nil {
		p.bus.Publish(domain.Envelope{
			EnvelopeID: uuid.New().String(),
			SourceNode: p.nodeID,
			Operation:  domain.OpCircuitStateChanged,
			Payload: map[string]interface{}{
				"resource": name,
				"from":     from.String(),
				"to":       to.String(),
			},
			Success:   to == ports.StateClosed,
			EmittedAt: time.Now().UTC(),
		})
	}
	if p.store != nil {
		p.persistSnapshot(name)
	}
}

func (p *Provider) persistSnapshot(name string) {
	p.mu.RLock()
	breaker, exists := p.breakers[name]
	p.mu.RUnlock()
	if !exists {
		return
	}

	data, err := xjson.Marshal(breaker.Metrics())
	if err != nil {
		p.logger.Error("circuit snapshot marshal failed", "name", name, "error", err.Error())
		return
	}

	key := domain.CircuitKey(name)
	for attempt := 0; attempt < 3; attempt++ {
		_, version, _, err := p.store.Get(key)
		if err != nil {
			p.logger.Warn("circuit snapshot read failed", "name", name, "error", err.Error())
			return
		}
		err = p.store.Put(key, data, version+1)
		if err == nil {
			return
		}
		if !domain.IsVersionMismatch(err) {
			p.logger.Warn("circuit snapshot write failed", "name", name, "error", err.Error())
			return
		}
	}
	p.logger.Warn("circuit snapshot lost to contention", "name", name)
}
