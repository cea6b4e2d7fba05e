package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"dario.cat/mergo"
	"github.com/raybeam/relay/internal/domain"
)

// runSequential dispatches steps one at a time; each step's completion signal
// triggers the next. A terminal failure halts scheduling of further steps.
func (o *Orchestrator) runSequential(ctx context.Context, exec *execution, payload map[string]interface{}) domain.WorkflowStatus {
	current := payload
	for _, step := range exec.record.Definition.Steps {
		if ctx.Err() != nil {
			return domain.WorkflowStatusAborted
		}

		result := o.runStep(ctx, exec, step, current)
		switch result.Outcome.Status {
		case domain.OutcomeSuccess:
			current = mergePayload(current, result.Outcome.Result)
		case domain.OutcomeSkipped:
			// Complete-with-warning: the workflow progresses past the step.
		default:
			return domain.WorkflowStatusFailed
		}
	}
	return domain.WorkflowStatusCompleted
}

// runParallel dispatches all steps concurrently. Completion is tracked with a
// counter gated on the total step count; no ordering exists among siblings.
func (o *Orchestrator) runParallel(ctx context.Context, exec *execution, payload map[string]interface{}) domain.WorkflowStatus {
	steps := exec.record.Definition.Steps
	total := int64(len(steps))

	var completed int64
	var wg sync.WaitGroup
	results := make([]domain.StepResult, len(steps))

	for i, step := range steps {
		wg.Add(1)
		go func(idx int, step domain.StepDefinition) {
			defer wg.Done()
			results[idx] = o.runStep(ctx, exec, step, payload)
			atomic.AddInt64(&completed, 1)
		}(i, step)
	}

	wg.Wait()
	if atomic.LoadInt64(&completed) != total {
		// The counter and the wait group disagree only under a bug.
		o.logger.Error("parallel completion counter mismatch",
			"execution_id", exec.record.ExecutionID,
			"completed", atomic.LoadInt64(&completed),
			"total", total,
		)
	}

	if ctx.Err() != nil {
		return domain.WorkflowStatusAborted
	}
	return domain.AggregateStatus(results)
}

// runPipeline chains steps as producer/consumer stages. Each stage starts
// processing as soon as its upstream's first output is available. The input
// stream is the payload's "items" list when present, otherwise the payload
// itself as a single item.
func (o *Orchestrator) runPipeline(ctx context.Context, exec *execution, payload map[string]interface{}) domain.WorkflowStatus {
	steps := exec.record.Definition.Steps
	skip := exec.record.Definition.Recovery == domain.RecoverySkip

	pipelineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	source := make(chan map[string]interface{}, 1)
	go func() {
		defer close(source)
		for _, item := range streamItems(payload) {
			select {
			case source <- item:
			case <-pipelineCtx.Done():
				return
			}
		}
	}()

	var failed atomic.Bool
	var wg sync.WaitGroup

	upstream := source
	for _, step := range steps {
		downstream := make(chan map[string]interface{}, 1)
		wg.Add(1)

		go func(step domain.StepDefinition, in <-chan map[string]interface{}, out chan<- map[string]interface{}) {
			defer wg.Done()
			defer close(out)

			for item := range in {
				result := o.runStep(pipelineCtx, exec, step, item)
				switch result.Outcome.Status {
				case domain.OutcomeSuccess:
					item = mergePayload(item, result.Outcome.Result)
				case domain.OutcomeSkipped:
					// Forward the item unchanged past the failed stage.
				default:
					failed.Store(true)
					if !skip {
						cancel()
						return
					}
				}

				select {
				case out <- item:
				case <-pipelineCtx.Done():
					return
				}
			}
		}(step, upstream, downstream)

		upstream = downstream
	}

	// Drain the final stage so every item flows through the whole chain.
	for range upstream {
	}
	wg.Wait()

	if ctx.Err() != nil {
		return domain.WorkflowStatusAborted
	}
	if failed.Load() && !skip {
		return domain.WorkflowStatusFailed
	}
	return domain.WorkflowStatusCompleted
}

// runScatterGather fans the scattered steps out concurrently, waits for a
// quorum of successes (all of them when quorum is 0), then runs the join
// step over the merged results. Stragglers past the quorum still complete and
// release their leases, but they do not gate the join.
func (o *Orchestrator) runScatterGather(ctx context.Context, exec *execution, payload map[string]interface{}) domain.WorkflowStatus {
	def := exec.record.Definition
	scattered := def.Steps[:len(def.Steps)-1]
	join := def.Steps[len(def.Steps)-1]

	quorum := def.Quorum
	if quorum <= 0 || quorum > len(scattered) {
		quorum = len(scattered)
	}

	outcomes := make(chan domain.StepResult, len(scattered))
	var wg sync.WaitGroup
	for _, step := range scattered {
		wg.Add(1)
		go func(step domain.StepDefinition) {
			defer wg.Done()
			outcomes <- o.runStep(ctx, exec, step, payload)
		}(step)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	successes := 0
	received := 0
	anyTerminal := false
	merged := clonePayload(payload)
	if merged == nil {
		merged = make(map[string]interface{})
	}

	for result := range outcomes {
		received++
		switch result.Outcome.Status {
		case domain.OutcomeSuccess:
			successes++
			if err := mergo.Merge(&merged, result.Outcome.Result, mergo.WithOverride); err != nil {
				o.logger.Warn("failed to merge scatter result",
					"execution_id", exec.record.ExecutionID,
					"step", result.Step,
					"error", err.Error(),
				)
			}
		case domain.OutcomeSkipped:
		default:
			anyTerminal = true
		}

		if successes >= quorum {
			break
		}
		// Not enough outstanding steps left to ever reach quorum.
		if successes+(len(scattered)-received) < quorum {
			break
		}
	}

	// Stragglers keep draining in the background; their results are still
	// recorded by runStep and their leases released.
	go func() {
		for range outcomes {
		}
	}()

	if ctx.Err() != nil {
		return domain.WorkflowStatusAborted
	}
	if successes < quorum {
		o.logger.Error("scatter quorum not reached",
			"execution_id", exec.record.ExecutionID,
			"quorum", quorum,
			"successes", successes,
		)
		return domain.WorkflowStatusFailed
	}
	if anyTerminal && def.Recovery == domain.RecoveryAbort {
		return domain.WorkflowStatusFailed
	}

	joinResult := o.runStep(ctx, exec, join, merged)
	if !joinResult.Outcome.Succeeded() {
		return domain.WorkflowStatusFailed
	}
	return domain.WorkflowStatusCompleted
}

// mergePayload overlays overlay onto base without mutating either.
func mergePayload(base, overlay map[string]interface{}) map[string]interface{} {
	if base == nil && overlay == nil {
		return nil
	}

	merged := clonePayload(base)
	if merged == nil {
		merged = make(map[string]interface{})
	}
	if err := mergo.Merge(&merged, overlay, mergo.WithOverride); err != nil {
		// Merge only fails on type mismatches; the overlay wins wholesale.
		for k, v := range overlay {
			merged[k] = v
		}
	}
	return merged
}

func streamItems(payload map[string]interface{}) []map[string]interface{} {
	raw, ok := payload["items"]
	if !ok {
		return []map[string]interface{}{payload}
	}

	list, ok := raw.([]interface{})
	if !ok {
		return []map[string]interface{}{payload}
	}

	items := make([]map[string]interface{}, 0, len(list))
	for _, entry := range list {
		if item, ok := entry.(map[string]interface{}); ok {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return []map[string]interface{}{payload}
	}
	return items
}
