package orchestrator

import (
	"errors"
	"testing"

	"github.com/sonatahq/sonata/internal/delegator"
	"github.com/sonatahq/sonata/internal/registry"
	"github.com/sonatahq/sonata/pkg/models"
)

func testSelector(taskTypes ...string) (*registry.Registry, *delegator.Selector) {
	reg := registry.New()
	var caps []models.ModelCapability
	for _, tt := range taskTypes {
		caps = append(caps, models.ModelCapability{TaskType: tt, Confidence: 0.9})
	}
	reg.Register("svc-1", caps)
	return reg, delegator.NewSelector(reg, delegator.SpecialistRule{}, nil)
}

func TestPlanSingleNode(t *testing.T) {
	_, sel := testSelector("text-generation")
	p := NewPlanner(sel)

	task := models.Task{ID: "t1", Type: "text-generation"}
	plan, err := p.BuildPlan(task, AnalyzeTask(task))
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Chain.Nodes) != 1 {
		t.Fatalf("expected single-node chain, got %d nodes", len(plan.Chain.Nodes))
	}
	node := plan.Chain.Nodes[0]
	if node.ServiceID != "svc-1" || node.TaskType != "text-generation" {
		t.Errorf("node = %+v", node)
	}
	if plan.Parallelization != ParallelizationFull {
		t.Errorf("parallelization = %s, want full for a single parallel node", plan.Parallelization)
	}
}

func TestPlanDecomposesComplexAudioTask(t *testing.T) {
	_, sel := testSelector("feature-extraction", "transcription", "audio-analysis")
	p := NewPlanner(sel)

	task := models.Task{ID: "t1", Type: "audio-analysis", Critical: true}
	analysis := AnalyzeTask(task)
	analysis.Complexity = 9 // force decomposition

	plan, err := p.BuildPlan(task, analysis)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Chain.Nodes) != 3 {
		t.Fatalf("expected 3 subtask nodes, got %d", len(plan.Chain.Nodes))
	}
	if len(plan.Subtasks) != 3 {
		t.Fatalf("expected subtasks aligned with nodes, got %d", len(plan.Subtasks))
	}

	// The verdict node depends on both leaves.
	deps := plan.Chain.Dependencies["t1-verdict"]
	if len(deps) != 2 {
		t.Errorf("verdict dependencies = %v, want both leaves", deps)
	}
	if err := plan.Chain.Validate(); err != nil {
		t.Errorf("planned chain must validate: %v", err)
	}
	// Two parallel leaves plus a dependent node: selective.
	if plan.Parallelization != ParallelizationSelective {
		t.Errorf("parallelization = %s, want selective", plan.Parallelization)
	}
	if len(plan.Chain.EntryPoints) != 2 || len(plan.Chain.ExitPoints) != 1 {
		t.Errorf("entries = %v, exits = %v", plan.Chain.EntryPoints, plan.Chain.ExitPoints)
	}
}

func TestPlanFailsWithoutCapableService(t *testing.T) {
	_, sel := testSelector("summarization")
	p := NewPlanner(sel)

	task := models.Task{ID: "t1", Type: "text-generation"}
	if _, err := p.BuildPlan(task, AnalyzeTask(task)); !errors.Is(err, delegator.ErrNoCapableService) {
		t.Errorf("expected ErrNoCapableService, got %v", err)
	}
}
