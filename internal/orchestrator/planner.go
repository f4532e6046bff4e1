package orchestrator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sonatahq/sonata/internal/delegator"
	"github.com/sonatahq/sonata/pkg/models"
)

// Parallelization describes how much of a plan's chain can run concurrently.
type Parallelization string

const (
	// ParallelizationFull means every node is parallel-capable.
	ParallelizationFull Parallelization = "full"
	// ParallelizationSelective means only some nodes are parallel-capable.
	ParallelizationSelective Parallelization = "selective"
	// ParallelizationNone means the chain is strictly sequential.
	ParallelizationNone Parallelization = "none"
)

// decomposeThreshold is the complexity above which a task is split into
// subtasks.
const decomposeThreshold = 7

// Plan binds a task to a validated service chain. Multi-node plans carry
// the composite task derived from the chain.
type Plan struct {
	// Chain is the dependency graph of service-bound nodes.
	Chain models.ModelChain
	// Subtasks holds the decomposed subtasks for multi-node plans, aligned
	// with Chain.Nodes; nil for single-node plans.
	Subtasks []models.Task
	// Parallelization is the chain-wide concurrency verdict.
	Parallelization Parallelization
}

// Planner builds execution plans, asking the selector to bind each node to
// a service.
type Planner struct {
	selector *delegator.Selector
}

// NewPlanner creates a planner over the given selector.
func NewPlanner(selector *delegator.Selector) *Planner {
	return &Planner{selector: selector}
}

// BuildPlan produces the execution plan for a task: complex tasks are
// decomposed into a rule-based, per-domain subtask set with dependency
// edges, everything else becomes a single-node chain.
func (p *Planner) BuildPlan(task models.Task, analysis TaskAnalysis) (Plan, error) {
	if analysis.Complexity > decomposeThreshold {
		return p.compositePlan(task, analysis)
	}
	return p.singleNodePlan(task)
}

func (p *Planner) singleNodePlan(task models.Task) (Plan, error) {
	sel, err := p.selector.SelectServiceForTask(task)
	if err != nil {
		return Plan{}, err
	}

	node := models.ModelChainNode{
		ID:               task.ID,
		ServiceID:        sel.ServiceID,
		TaskType:         task.Type,
		FallbackServices: sel.Fallbacks,
		Parallel:         true,
		Priority:         task.Priority,
	}
	chain := models.ModelChain{
		ID:          "chain-" + shortID(),
		Nodes:       []models.ModelChainNode{node},
		EntryPoints: []string{node.ID},
		ExitPoints:  []string{node.ID},
	}
	if err := chain.Validate(); err != nil {
		return Plan{}, err
	}
	return Plan{Chain: chain, Parallelization: parallelization(chain)}, nil
}

func (p *Planner) compositePlan(task models.Task, analysis TaskAnalysis) (Plan, error) {
	subtasks := decompose(task, analysis)

	chain := models.ModelChain{
		ID:           "chain-" + shortID(),
		Dependencies: make(map[string][]string, len(subtasks)),
	}
	for _, sub := range subtasks {
		sel, err := p.selector.SelectServiceForTask(sub)
		if err != nil {
			return Plan{}, fmt.Errorf("planning subtask %s: %w", sub.ID, err)
		}
		chain.Nodes = append(chain.Nodes, models.ModelChainNode{
			ID:               sub.ID,
			ServiceID:        sel.ServiceID,
			TaskType:         sub.Type,
			FallbackServices: sel.Fallbacks,
			Parallel:         len(sub.DependsOn) == 0,
			Priority:         task.Priority,
		})
		if len(sub.DependsOn) > 0 {
			chain.Dependencies[sub.ID] = sub.DependsOn
		} else {
			chain.EntryPoints = append(chain.EntryPoints, sub.ID)
		}
	}
	for _, n := range chain.Nodes {
		if !isDependedOn(chain, n.ID) {
			chain.ExitPoints = append(chain.ExitPoints, n.ID)
		}
	}
	if err := chain.Validate(); err != nil {
		return Plan{}, err
	}
	return Plan{Chain: chain, Subtasks: subtasks, Parallelization: parallelization(chain)}, nil
}

// decompose splits a complex task into a small fixed per-domain subtask
// set. Subtask payloads share the parent payload; per-node input extraction
// happens at preparation time.
func decompose(task models.Task, analysis TaskAnalysis) []models.Task {
	sub := func(suffix, taskType string, critical bool, deps ...string) models.Task {
		return models.Task{
			ID:        task.ID + "-" + suffix,
			Type:      taskType,
			Payload:   task.Payload,
			Context:   task.Context,
			Priority:  task.Priority,
			Critical:  critical,
			DependsOn: deps,
			CreatedAt: task.CreatedAt,
		}
	}

	switch {
	case analysis.AudioRelated:
		features := sub("features", "feature-extraction", true)
		transcript := sub("transcript", "transcription", true)
		verdict := sub("verdict", "audio-analysis", true, features.ID, transcript.ID)
		return []models.Task{features, transcript, verdict}
	case analysis.PatternRelated:
		extract := sub("extract", "feature-extraction", true)
		classify := sub("classify", "pattern-recognition", true, extract.ID)
		summary := sub("summary", "summarization", false, classify.ID)
		return []models.Task{extract, classify, summary}
	default:
		draft := sub("draft", "text-generation", true)
		refine := sub("refine", "text-generation", true, draft.ID)
		summary := sub("summary", "summarization", false, refine.ID)
		return []models.Task{draft, refine, summary}
	}
}

// parallelization reports full when every node is parallel-capable,
// selective when only some are, none otherwise.
func parallelization(chain models.ModelChain) Parallelization {
	parallel := 0
	for _, n := range chain.Nodes {
		if n.Parallel {
			parallel++
		}
	}
	switch parallel {
	case len(chain.Nodes):
		return ParallelizationFull
	case 0:
		return ParallelizationNone
	default:
		return ParallelizationSelective
	}
}

func isDependedOn(chain models.ModelChain, id string) bool {
	for _, deps := range chain.Dependencies {
		for _, dep := range deps {
			if dep == id {
				return true
			}
		}
	}
	return false
}

// shortID returns the 8-char prefix of a fresh UUID.
func shortID() string {
	return uuid.NewString()[:8]
}
