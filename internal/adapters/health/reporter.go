package health

import (
	"log/slog"
	"sync"

	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

// Snapshot is the pull-based status view the core exposes. Nothing here is
// pushed anywhere; collaborators poll.
type Snapshot struct {
	Workflows     []WorkflowHealth                        `json:"workflows"`
	ActiveLeases  []domain.Lease                          `json:"active_leases"`
	CircuitStates map[string]ports.CircuitBreakerMetrics `json:"circuit_states"`
	LastOutcomes  []domain.Outcome                        `json:"last_outcomes"`
}

type WorkflowHealth struct {
	ExecutionID string                `json:"execution_id"`
	Workflow    string                `json:"workflow"`
	Status      domain.WorkflowStatus `json:"status"`
	LastError   string                `json:"last_error,omitempty"`
}

// WorkflowLister is satisfied by the orchestrator.
type WorkflowLister interface {
	Records() ([]domain.WorkflowRecord, error)
}

// Reporter aggregates workflow status, lease state, circuit metrics, and a
// bounded ring of recent action outcomes.
type Reporter struct {
	workflows WorkflowLister
	leases    ports.LeaseManagerPort
	breakers  ports.CircuitBreakerProvider
	logger    *slog.Logger

	mu       sync.Mutex
	outcomes []domain.Outcome
	next     int
	filled   bool
}

func NewReporter(workflows WorkflowLister, leases ports.LeaseManagerPort, breakers ports.CircuitBreakerProvider, historySize int, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if historySize <= 0 {
		historySize = 64
	}

	return &Reporter{
		workflows: workflows,
		leases:    leases,
		breakers:  breakers,
		logger:    logger.With("component", "health-reporter"),
		outcomes:  make([]domain.Outcome, historySize),
	}
}

// ObserveCompletion feeds the outcome ring. Wired as a bus subscriber on
// action completion envelopes.
func (r *Reporter) ObserveCompletion(envelope domain.Envelope) {
	if envelope.Operation != domain.OpActionCompleted {
		return
	}

	outcome := domain.Outcome{
		CorrelationID: envelope.CorrelationID,
		CompletedAt:   envelope.EmittedAt,
		Error:         envelope.Error,
	}
	if actionID, ok := envelope.Payload["action_id"].(string); ok {
		outcome.ActionID = actionID
	}
	if status, ok := envelope.Payload["status"].(string); ok {
		outcome.Status = domain.OutcomeStatus(status)
	}
	if terminal, ok := envelope.Payload["terminal"].(bool); ok {
		outcome.Terminal = terminal
	}

	r.mu.Lock()
	r.outcomes[r.next] = outcome
	r.next = (r.next + 1) % len(r.outcomes)
	if r.next == 0 {
		r.filled = true
	}
	r.mu.Unlock()
}

func (r *Reporter) Snapshot() Snapshot {
	snapshot := Snapshot{
		CircuitStates: r.breakers.GetAllMetrics(),
		LastOutcomes:  r.recentOutcomes(),
	}

	if records, err := r.workflows.Records(); err == nil {
		for _, record := range records {
			snapshot.Workflows = append(snapshot.Workflows, WorkflowHealth{
				ExecutionID: record.ExecutionID,
				Workflow:    record.Definition.Name,
				Status:      record.Status,
				LastError:   record.LastError,
			})
		}
	} else {
		r.logger.Warn("failed to list workflow records", "error", err.Error())
	}

	if leases, err := r.leases.ActiveLeases(); err == nil {
		snapshot.ActiveLeases = leases
	} else {
		r.logger.Warn("failed to list active leases", "error", err.Error())
	}

	return snapshot
}

// recentOutcomes returns the ring's contents oldest-first.
func (r *Reporter) recentOutcomes() []domain.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.outcomes)
	var ordered []domain.Outcome
	if r.filled {
		ordered = make([]domain.Outcome, 0, size)
		for i := 0; i < size; i++ {
			ordered = append(ordered, r.outcomes[(r.next+i)%size])
		}
	} else {
		ordered = make([]domain.Outcome, r.next)
		copy(ordered, r.outcomes[:r.next])
	}
	return ordered
}
