package delegator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sonatahq/sonata/internal/logging"
	"github.com/sonatahq/sonata/pkg/models"
)

// RunFunc executes one subtask against its selected service and settles
// with a result; infrastructure failures are folded into a failed result
// rather than surfaced as errors.
type RunFunc func(ctx context.Context, task models.Task) models.TaskResult

// CompositeResult is the settled outcome of a composite task: the overall
// verdict, the merged payload of successful subtasks, and every individual
// subtask result keyed by subtask ID.
type CompositeResult struct {
	// TaskID is the composite task's ID.
	TaskID string `json:"task_id"`
	// Success is the overall verdict. Non-critical subtask failures do not
	// fail the composite.
	Success bool `json:"success"`
	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`
	// Payload is the merge of all successful subtask payloads, later
	// subtasks overwriting earlier ones on key collision.
	Payload map[string]any `json:"payload,omitempty"`
	// Subtasks holds every settled subtask result by subtask ID. Skipped
	// subtasks appear with status "skipped".
	Subtasks map[string]models.TaskResult `json:"subtasks"`
	// Incomplete lists subtask IDs that could not run because their
	// dependencies never settled successfully (conditional aggregation).
	Incomplete []string `json:"incomplete,omitempty"`
}

// CompositeExecutor runs composite tasks under their aggregation strategy.
type CompositeExecutor struct {
	run    RunFunc
	logger logging.Logger
}

// NewCompositeExecutor creates an executor dispatching subtasks through
// run; logger may be nil.
func NewCompositeExecutor(run RunFunc, logger logging.Logger) *CompositeExecutor {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &CompositeExecutor{run: run, logger: logger}
}

// Execute runs the composite's subtasks per its aggregation strategy.
func (e *CompositeExecutor) Execute(ctx context.Context, composite models.CompositeTask) CompositeResult {
	if !composite.Aggregation.Valid() {
		return CompositeResult{
			TaskID:   composite.ID,
			Error:    fmt.Sprintf("unknown aggregation strategy %q", composite.Aggregation),
			Subtasks: map[string]models.TaskResult{},
		}
	}

	switch composite.Aggregation {
	case models.AggregationParallel:
		return e.executeParallel(ctx, composite)
	case models.AggregationConditional:
		return e.executeConditional(ctx, composite)
	default:
		return e.executeSequential(ctx, composite)
	}
}

// executeSequential runs subtasks in declared order, aborting at the first
// critical failure and carrying the results settled so far.
func (e *CompositeExecutor) executeSequential(ctx context.Context, composite models.CompositeTask) CompositeResult {
	results := make(map[string]models.TaskResult, len(composite.Subtasks))

	for _, sub := range composite.Subtasks {
		res := e.run(ctx, sub)
		results[sub.ID] = res
		if !res.Success && sub.Critical {
			return CompositeResult{
				TaskID:   composite.ID,
				Error:    fmt.Sprintf("critical subtask %s failed: %s", sub.ID, res.Error),
				Subtasks: results,
			}
		}
	}
	return e.settle(composite, results, nil)
}

// executeParallel fans all subtasks out concurrently and waits for every
// one to settle. Every subtask is always attempted.
func (e *CompositeExecutor) executeParallel(ctx context.Context, composite models.CompositeTask) CompositeResult {
	type settled struct {
		id     string
		result models.TaskResult
	}
	ch := make(chan settled, len(composite.Subtasks))

	var wg sync.WaitGroup
	for _, sub := range composite.Subtasks {
		wg.Add(1)
		go func(sub models.Task) {
			defer wg.Done()
			ch <- settled{id: sub.ID, result: e.run(ctx, sub)}
		}(sub)
	}
	wg.Wait()
	close(ch)

	results := make(map[string]models.TaskResult, len(composite.Subtasks))
	for s := range ch {
		results[s.id] = s.result
	}

	for _, sub := range composite.Subtasks {
		if res := results[sub.ID]; !res.Success && sub.Critical {
			return CompositeResult{
				TaskID:   composite.ID,
				Error:    fmt.Sprintf("critical subtask %s failed: %s", sub.ID, res.Error),
				Subtasks: results,
			}
		}
	}
	return e.settle(composite, results, nil)
}

// executeConditional runs subtasks topologically as their dependencies
// settle successfully. A subtask behind a failed dependency is skipped when
// flagged for it; otherwise it stays unresolved and is reported incomplete
// once no further progress is possible.
func (e *CompositeExecutor) executeConditional(ctx context.Context, composite models.CompositeTask) CompositeResult {
	results := make(map[string]models.TaskResult, len(composite.Subtasks))

	for {
		progressed := false
		for _, sub := range composite.Subtasks {
			if _, done := results[sub.ID]; done {
				continue
			}

			deps := dependenciesOf(composite, sub)
			allSettled, anyFailed := true, false
			for _, dep := range deps {
				res, ok := results[dep]
				if !ok {
					allSettled = false
					break
				}
				if !res.Success {
					anyFailed = true
				}
			}
			if !allSettled {
				continue
			}

			if anyFailed {
				if !sub.SkipOnDependencyFailure {
					continue
				}
				results[sub.ID] = models.TaskResult{
					TaskID: sub.ID,
					Status: models.StatusSkipped,
					Error:  "skipped: dependency failed",
				}
				progressed = true
				continue
			}

			res := e.run(ctx, sub)
			results[sub.ID] = res
			progressed = true
			if !res.Success && sub.Critical {
				return CompositeResult{
					TaskID:     composite.ID,
					Error:      fmt.Sprintf("critical subtask %s failed: %s", sub.ID, res.Error),
					Subtasks:   results,
					Incomplete: unresolved(composite, results),
				}
			}
		}
		if !progressed {
			break
		}
	}

	return e.settle(composite, results, unresolved(composite, results))
}

// settle assembles the overall result: merged successful payloads in
// subtask declaration order, success unless a critical subtask failed.
func (e *CompositeExecutor) settle(composite models.CompositeTask, results map[string]models.TaskResult, incomplete []string) CompositeResult {
	payloads := make([]map[string]any, 0, len(composite.Subtasks))
	failures := 0
	for _, sub := range composite.Subtasks {
		res, ok := results[sub.ID]
		if !ok {
			continue
		}
		if res.Success {
			payloads = append(payloads, res.Payload)
		} else if res.Status != models.StatusSkipped {
			failures++
		}
	}

	if failures > 0 {
		e.logger.Debug("composite settled with absorbed failures",
			"task_id", composite.ID, "failures", failures)
	}
	return CompositeResult{
		TaskID:     composite.ID,
		Success:    true,
		Payload:    models.MergePayloads(payloads...),
		Subtasks:   results,
		Incomplete: incomplete,
	}
}

// dependenciesOf resolves a subtask's dependencies: the composite's
// dependency map wins, the subtask's own declaration is the fallback.
func dependenciesOf(composite models.CompositeTask, sub models.Task) []string {
	if deps, ok := composite.Dependencies[sub.ID]; ok {
		return deps
	}
	return sub.DependsOn
}

func unresolved(composite models.CompositeTask, results map[string]models.TaskResult) []string {
	var ids []string
	for _, sub := range composite.Subtasks {
		if _, ok := results[sub.ID]; !ok {
			ids = append(ids, sub.ID)
		}
	}
	return ids
}
