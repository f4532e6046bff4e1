package models

import (
	"errors"
	"fmt"
)

// ErrChainCycle indicates a circular dependency was found in a model chain.
var ErrChainCycle = errors.New("circular dependency detected in model chain")

// ModelChainNode binds one subtask to a selected service inside a chain.
type ModelChainNode struct {
	// ID is the node identifier, unique within the chain.
	ID string `json:"id"`
	// ServiceID is the service selected to execute this node.
	ServiceID string `json:"service_id"`
	// TaskType is the task-type tag for this node.
	TaskType string `json:"task_type"`
	// Inputs names the payload keys this node consumes.
	Inputs []string `json:"inputs,omitempty"`
	// Outputs names the payload keys this node produces.
	Outputs []string `json:"outputs,omitempty"`
	// FallbackServices lists alternate services tried if ServiceID fails.
	FallbackServices []string `json:"fallback_services,omitempty"`
	// Parallel indicates the node may run concurrently with its siblings.
	Parallel bool `json:"parallel"`
	// Priority is the scheduling priority inherited from the task.
	Priority int `json:"priority"`
}

// ModelChain is a small dependency graph of subtasks bound to services.
// Dependencies maps node ID to the node IDs it depends on and must be
// acyclic; Validate enforces this.
type ModelChain struct {
	// ID is the chain identifier.
	ID string `json:"id"`
	// Nodes holds the chain's nodes.
	Nodes []ModelChainNode `json:"nodes"`
	// EntryPoints lists node IDs with no dependencies.
	EntryPoints []string `json:"entry_points"`
	// ExitPoints lists node IDs nothing depends on.
	ExitPoints []string `json:"exit_points"`
	// Dependencies maps node ID to the node IDs it depends on.
	Dependencies map[string][]string `json:"dependencies,omitempty"`
}

// Node returns the node with the given ID, or nil if absent.
func (c *ModelChain) Node(id string) *ModelChainNode {
	for i := range c.Nodes {
		if c.Nodes[i].ID == id {
			return &c.Nodes[i]
		}
	}
	return nil
}

// Validate checks that every dependency references a known node and that the
// dependency map is acyclic. Cycle detection uses depth-first search with
// coloring to find back edges.
func (c *ModelChain) Validate() error {
	ids := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		ids[n.ID] = true
	}
	for id, deps := range c.Dependencies {
		if !ids[id] {
			return fmt.Errorf("chain dependency references unknown node %s", id)
		}
		for _, dep := range deps {
			if !ids[dep] {
				return fmt.Errorf("node %s depends on unknown node %s", id, dep)
			}
		}
	}

	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(c.Nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range c.Dependencies[id] {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, n := range c.Nodes {
		if colors[n.ID] == 0 && visit(n.ID) {
			return ErrChainCycle
		}
	}
	return nil
}
