package models

import (
	"errors"
	"testing"
	"time"
)

// timeNowMinus returns a start time slightly in the past so durations are positive.
func timeNowMinus() time.Time { return time.Now().Add(-10 * time.Millisecond) }

func TestMergePayloadsLaterWins(t *testing.T) {
	merged := MergePayloads(
		map[string]any{"a": 1, "b": "first"},
		map[string]any{"b": "second", "c": true},
	)

	if merged["a"] != 1 {
		t.Errorf("expected a=1, got %v", merged["a"])
	}
	if merged["b"] != "second" {
		t.Errorf("later key should overwrite earlier, got %v", merged["b"])
	}
	if merged["c"] != true {
		t.Errorf("expected c=true, got %v", merged["c"])
	}
}

func TestAggregationStrategyValid(t *testing.T) {
	tests := []struct {
		strategy AggregationStrategy
		want     bool
	}{
		{AggregationSequential, true},
		{AggregationParallel, true},
		{AggregationConditional, true},
		{AggregationStrategy("random"), false},
		{AggregationStrategy(""), false},
	}

	for _, tt := range tests {
		if got := tt.strategy.Valid(); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.strategy, got, tt.want)
		}
	}
}

func TestFailureResult(t *testing.T) {
	res := FailureResult("task-1", errors.New("boom"), "svc-a", timeNowMinus())
	if res.Success || res.Status != StatusError {
		t.Errorf("expected error status, got %+v", res)
	}
	if res.Error != "boom" {
		t.Errorf("expected error message carried, got %q", res.Error)
	}
	if res.Metadata.ServiceID != "svc-a" {
		t.Errorf("expected service attribution, got %q", res.Metadata.ServiceID)
	}
}

func TestSuccessResult(t *testing.T) {
	res := SuccessResult("task-2", map[string]any{"out": 1}, "svc-b", timeNowMinus())
	if !res.Success || res.Status != StatusSuccess {
		t.Errorf("expected success status, got %+v", res)
	}
	if res.Payload["out"] != 1 {
		t.Errorf("expected payload carried, got %v", res.Payload)
	}
	if res.Metadata.Duration <= 0 {
		t.Errorf("expected positive duration, got %v", res.Metadata.Duration)
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !r.Valid() {
			t.Errorf("expected %q to be valid", r)
		}
	}
	if Role("operator").Valid() {
		t.Error("unknown role should be invalid")
	}
}
