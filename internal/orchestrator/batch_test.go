package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/sonatahq/sonata/pkg/models"
)

func TestExecuteBatchRunsInPriorityOrder(t *testing.T) {
	svc := &fakeService{id: "lang", caps: capFor("text-generation")}
	o, _ := newTestOrchestrator(t, svc)

	tasks := []models.Task{
		{ID: "low", Type: "text-generation", Priority: 2},
		{ID: "high", Type: "text-generation", Priority: 9},
		{ID: "mid", Type: "text-generation", Priority: 5},
	}
	results := o.ExecuteBatch(context.Background(), tasks, 1)

	if len(results) != 3 {
		t.Fatalf("settled %d tasks, want 3", len(results))
	}
	for id, res := range results {
		if !res.Success {
			t.Errorf("task %s failed: %s", id, res.Error)
		}
	}

	want := []string{"high", "mid", "low"}
	got := svc.seenIDs()
	if len(got) != len(want) {
		t.Fatalf("executed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order %v, want %v", got, want)
		}
	}
}

func TestExecuteBatchSettlesPlanningFailures(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeService{id: "lang", caps: capFor("text-generation")})

	results := o.ExecuteBatch(context.Background(), []models.Task{
		{ID: "ok", Type: "text-generation", Priority: 5},
		{ID: "orphan", Type: "audio-analysis", Priority: 5},
	}, 2)

	if len(results) != 2 {
		t.Fatalf("settled %d tasks, want every task settled", len(results))
	}
	if !results["ok"].Success {
		t.Errorf("plannable task failed: %s", results["ok"].Error)
	}
	orphan := results["orphan"]
	if orphan.Success {
		t.Error("unplannable task must settle as a failure")
	}
	if !strings.Contains(orphan.Error, "no capable service") {
		t.Errorf("error = %q, want the planning failure carried into the result", orphan.Error)
	}
}

func TestExecuteBatchAssignsMissingIDs(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeService{id: "lang", caps: capFor("text-generation")})

	results := o.ExecuteBatch(context.Background(), []models.Task{
		{Type: "text-generation", Priority: 5},
		{Type: "text-generation", Priority: 5},
	}, 1)

	if len(results) != 2 {
		t.Fatalf("settled %d tasks, want 2 distinct ids", len(results))
	}
	for id, res := range results {
		if id == "" {
			t.Error("task settled under an empty id")
		}
		if !res.Success {
			t.Errorf("task %s failed: %s", id, res.Error)
		}
	}
}
