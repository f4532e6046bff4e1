package models

import (
	"errors"
	"testing"
)

func TestChainValidateAcyclic(t *testing.T) {
	chain := &ModelChain{
		ID: "chain-1",
		Nodes: []ModelChainNode{
			{ID: "a", ServiceID: "svc-a"},
			{ID: "b", ServiceID: "svc-b"},
			{ID: "c", ServiceID: "svc-c"},
		},
		Dependencies: map[string][]string{
			"b": {"a"},
			"c": {"a", "b"},
		},
	}

	if err := chain.Validate(); err != nil {
		t.Fatalf("expected valid chain, got %v", err)
	}
}

func TestChainValidateCycle(t *testing.T) {
	chain := &ModelChain{
		ID: "chain-2",
		Nodes: []ModelChainNode{
			{ID: "a"},
			{ID: "b"},
		},
		Dependencies: map[string][]string{
			"a": {"b"},
			"b": {"a"},
		},
	}

	if err := chain.Validate(); !errors.Is(err, ErrChainCycle) {
		t.Fatalf("expected ErrChainCycle, got %v", err)
	}
}

func TestChainValidateUnknownDependency(t *testing.T) {
	chain := &ModelChain{
		ID:           "chain-3",
		Nodes:        []ModelChainNode{{ID: "a"}},
		Dependencies: map[string][]string{"a": {"ghost"}},
	}

	if err := chain.Validate(); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestChainNodeLookup(t *testing.T) {
	chain := &ModelChain{Nodes: []ModelChainNode{{ID: "a"}, {ID: "b"}}}

	if n := chain.Node("b"); n == nil || n.ID != "b" {
		t.Fatalf("expected node b, got %+v", n)
	}
	if n := chain.Node("missing"); n != nil {
		t.Fatalf("expected nil for missing node, got %+v", n)
	}
}
