package delegator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonatahq/sonata/pkg/models"
)

// fakeRunner settles each subtask from a canned verdict and counts runs.
func fakeRunner(fail map[string]bool, runs *atomic.Int32) RunFunc {
	return func(_ context.Context, task models.Task) models.TaskResult {
		if runs != nil {
			runs.Add(1)
		}
		if fail[task.ID] {
			return models.FailureResult(task.ID, errors.New("forced failure"), "svc", time.Now())
		}
		return models.SuccessResult(task.ID, map[string]any{task.ID: "done", "shared": task.ID}, "svc", time.Now())
	}
}

func subtask(id string, critical bool, deps ...string) models.Task {
	return models.Task{ID: id, Type: "text-generation", Critical: critical, DependsOn: deps}
}

func TestSequentialHaltsOnCriticalFailure(t *testing.T) {
	var runs atomic.Int32
	exec := NewCompositeExecutor(fakeRunner(map[string]bool{"s2": true}, &runs), nil)

	composite := models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: models.AggregationSequential,
		Subtasks:    []models.Task{subtask("s1", false), subtask("s2", true), subtask("s3", false)},
	}
	res := exec.Execute(context.Background(), composite)

	if res.Success {
		t.Error("critical failure must fail the composite")
	}
	if runs.Load() != 2 {
		t.Errorf("ran %d subtasks, want halt after the critical failure", runs.Load())
	}
	if len(res.Subtasks) != 2 {
		t.Errorf("expected partial results for the 2 attempted subtasks, got %d", len(res.Subtasks))
	}
	if !strings.Contains(res.Error, "s2") {
		t.Errorf("error should name the failing subtask: %q", res.Error)
	}
}

func TestSequentialAbsorbsNonCriticalFailure(t *testing.T) {
	exec := NewCompositeExecutor(fakeRunner(map[string]bool{"s2": true}, nil), nil)

	composite := models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: models.AggregationSequential,
		Subtasks:    []models.Task{subtask("s1", false), subtask("s2", false), subtask("s3", false)},
	}
	res := exec.Execute(context.Background(), composite)

	if !res.Success {
		t.Fatal("non-critical failure must not fail the composite")
	}
	if res.Subtasks["s2"].Success {
		t.Error("failed subtask result should be carried as a failure")
	}
	if _, ok := res.Payload["s2"]; ok {
		t.Error("failed subtask payload must not be merged")
	}
	if res.Payload["s1"] != "done" || res.Payload["s3"] != "done" {
		t.Errorf("successful payloads missing from merge: %v", res.Payload)
	}
}

func TestSequentialMergeLaterKeysWin(t *testing.T) {
	exec := NewCompositeExecutor(fakeRunner(nil, nil), nil)

	composite := models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: models.AggregationSequential,
		Subtasks:    []models.Task{subtask("s1", false), subtask("s2", false)},
	}
	res := exec.Execute(context.Background(), composite)

	if res.Payload["shared"] != "s2" {
		t.Errorf("shared key = %v, want later subtask to overwrite earlier", res.Payload["shared"])
	}
}

func TestParallelAttemptsEverySubtask(t *testing.T) {
	var runs atomic.Int32
	exec := NewCompositeExecutor(fakeRunner(map[string]bool{"s1": true}, &runs), nil)

	composite := models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: models.AggregationParallel,
		Subtasks:    []models.Task{subtask("s1", false), subtask("s2", false), subtask("s3", false)},
	}
	res := exec.Execute(context.Background(), composite)

	if !res.Success {
		t.Error("one non-critical failure must not fail a parallel composite")
	}
	if runs.Load() != 3 {
		t.Errorf("ran %d subtasks, want all 3 attempted", runs.Load())
	}
	failed := res.Subtasks["s1"]
	if failed.Success || failed.Error == "" {
		t.Errorf("failed subtask's error must be carried in the results: %+v", failed)
	}
}

func TestParallelCriticalFailureCarriesAllResults(t *testing.T) {
	exec := NewCompositeExecutor(fakeRunner(map[string]bool{"s2": true}, nil), nil)

	composite := models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: models.AggregationParallel,
		Subtasks:    []models.Task{subtask("s1", false), subtask("s2", true), subtask("s3", false)},
	}
	res := exec.Execute(context.Background(), composite)

	if res.Success {
		t.Error("critical failure must fail the composite")
	}
	if len(res.Subtasks) != 3 {
		t.Errorf("parallel failure must still carry all %d results, got %d", 3, len(res.Subtasks))
	}
}

func TestConditionalTopologicalExecution(t *testing.T) {
	var order []string
	run := func(_ context.Context, task models.Task) models.TaskResult {
		order = append(order, task.ID)
		return models.SuccessResult(task.ID, nil, "svc", time.Now())
	}
	exec := NewCompositeExecutor(run, nil)

	// Declared out of dependency order on purpose.
	composite := models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: models.AggregationConditional,
		Subtasks:    []models.Task{subtask("s3", false, "s2"), subtask("s2", false, "s1"), subtask("s1", false)},
	}
	res := exec.Execute(context.Background(), composite)

	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	want := []string{"s1", "s2", "s3"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
	if len(res.Incomplete) != 0 {
		t.Errorf("nothing should be incomplete: %v", res.Incomplete)
	}
}

func TestConditionalSkipAndIncomplete(t *testing.T) {
	exec := NewCompositeExecutor(fakeRunner(map[string]bool{"s1": true}, nil), nil)

	skippable := subtask("s2", false, "s1")
	skippable.SkipOnDependencyFailure = true

	composite := models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: models.AggregationConditional,
		Subtasks:    []models.Task{subtask("s1", false), skippable, subtask("s3", false, "s1")},
	}
	res := exec.Execute(context.Background(), composite)

	if !res.Success {
		t.Fatalf("non-critical failure must not fail the composite: %s", res.Error)
	}
	if res.Subtasks["s2"].Status != models.StatusSkipped {
		t.Errorf("s2 status = %s, want skipped", res.Subtasks["s2"].Status)
	}
	if len(res.Incomplete) != 1 || res.Incomplete[0] != "s3" {
		t.Errorf("incomplete = %v, want [s3]", res.Incomplete)
	}
}

func TestConditionalCriticalFailureAborts(t *testing.T) {
	exec := NewCompositeExecutor(fakeRunner(map[string]bool{"s1": true}, nil), nil)

	composite := models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: models.AggregationConditional,
		Subtasks:    []models.Task{subtask("s1", true), subtask("s2", false, "s1")},
	}
	res := exec.Execute(context.Background(), composite)

	if res.Success {
		t.Error("critical failure must fail the composite")
	}
	if len(res.Incomplete) != 1 || res.Incomplete[0] != "s2" {
		t.Errorf("incomplete = %v, want [s2]", res.Incomplete)
	}
}

func TestUnknownAggregationRejected(t *testing.T) {
	exec := NewCompositeExecutor(fakeRunner(nil, nil), nil)

	res := exec.Execute(context.Background(), models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: "round-robin",
		Subtasks:    []models.Task{subtask("s1", false)},
	})
	if res.Success || res.Error == "" {
		t.Error("unknown aggregation must settle as a failure")
	}
}

// The composite dependency map overrides per-subtask declarations.
func TestConditionalDependencyMapWins(t *testing.T) {
	var order []string
	run := func(_ context.Context, task models.Task) models.TaskResult {
		order = append(order, task.ID)
		return models.SuccessResult(task.ID, nil, "svc", time.Now())
	}
	exec := NewCompositeExecutor(run, nil)

	composite := models.CompositeTask{
		Task:        models.Task{ID: "c1"},
		Aggregation: models.AggregationConditional,
		Subtasks:    []models.Task{subtask("s2", false), subtask("s1", false)},
		Dependencies: map[string][]string{
			"s2": {"s1"},
		},
	}
	res := exec.Execute(context.Background(), composite)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if order[0] != "s1" || order[1] != "s2" {
		t.Errorf("order = %v, want map-driven [s1 s2]", order)
	}
}
