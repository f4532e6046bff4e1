// Package delegator scores candidate services for tasks, schedules queued
// work by priority and readiness, and executes composite tasks under
// sequential, parallel, or conditional aggregation.
package delegator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sonatahq/sonata/internal/logging"
	"github.com/sonatahq/sonata/internal/registry"
	"github.com/sonatahq/sonata/pkg/models"
)

// ErrNoCapableService is returned when no registered service can serve a
// task's type.
var ErrNoCapableService = errors.New("no capable service")

// Score blend weights for live performance data.
const (
	successWeight = 0.4
	latencyWeight = 0.3
	errorWeight   = 0.3
	// maxBlendWeight caps how much live performance can displace declared
	// confidence, reached at 100 samples.
	maxBlendWeight = 0.8
	// specializationBoost multiplies the score of a matching specialization.
	specializationBoost = 1.2
)

// SpecialistRule is the deterministic selection override for designated
// task classes: those types always go to the named specialist when it is
// registered, before generic scoring runs.
type SpecialistRule struct {
	// TaskTypes lists the task types claimed by the specialist.
	TaskTypes []string
	// ServiceID is the specialist service.
	ServiceID string
	// Fallback is the single named fallback offered with the override.
	Fallback string
	// Confidence is the fixed confidence reported for overridden selections.
	Confidence float64
}

func (r SpecialistRule) claims(taskType string) bool {
	for _, t := range r.TaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// Selection is the outcome of service selection: a primary service plus
// ranked fallbacks.
type Selection struct {
	// ServiceID is the chosen primary service.
	ServiceID string
	// Confidence is the score of the primary selection.
	Confidence float64
	// Fallbacks are the next-best services, best first, at most two for
	// scored selections and at most one for specialist overrides.
	Fallbacks []string
	// EstimatedLatency is the primary's declared baseline latency.
	EstimatedLatency time.Duration
}

// Selector chooses services for tasks against the capability registry.
type Selector struct {
	registry   *registry.Registry
	specialist SpecialistRule
	logger     logging.Logger
}

// NewSelector creates a selector. The specialist rule may be zero-valued to
// disable the override; logger may be nil.
func NewSelector(reg *registry.Registry, specialist SpecialistRule, logger logging.Logger) *Selector {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Selector{registry: reg, specialist: specialist, logger: logger}
}

// SelectServiceForTask picks the best service for the task's type. The
// specialist override is evaluated first; otherwise candidates are scored
// from declared confidence blended with live performance, and the top
// candidate is returned with up to two fallbacks. Selection is
// deterministic for identical registry state.
func (s *Selector) SelectServiceForTask(task models.Task) (Selection, error) {
	if sel, ok := s.specialistOverride(task); ok {
		return sel, nil
	}

	candidates := s.registry.CandidatesFor(task.Type)
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("%w for task type %q", ErrNoCapableService, task.Type)
	}

	type scored struct {
		candidate registry.Candidate
		score     float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{candidate: c, score: scoreCandidate(task, c)})
	}

	// Service id is the secondary key so equal scores rank deterministically.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].candidate.ServiceID < ranked[j].candidate.ServiceID
	})

	primary := ranked[0]
	sel := Selection{
		ServiceID:        primary.candidate.ServiceID,
		Confidence:       primary.score,
		EstimatedLatency: primary.candidate.Capability.AverageLatency,
	}
	for _, r := range ranked[1:] {
		if len(sel.Fallbacks) == 2 {
			break
		}
		sel.Fallbacks = append(sel.Fallbacks, r.candidate.ServiceID)
	}

	s.logger.Debug("service selected",
		"task_type", task.Type, "service_id", sel.ServiceID,
		"score", sel.Confidence, "fallbacks", len(sel.Fallbacks))
	return sel, nil
}

// specialistOverride routes designated task classes straight to the
// configured specialist when it is registered for the type.
func (s *Selector) specialistOverride(task models.Task) (Selection, bool) {
	if s.specialist.ServiceID == "" || !s.specialist.claims(task.Type) {
		return Selection{}, false
	}
	cap, ok := s.registry.Capability(s.specialist.ServiceID, task.Type)
	if !ok {
		return Selection{}, false
	}

	sel := Selection{
		ServiceID:        s.specialist.ServiceID,
		Confidence:       s.specialist.Confidence,
		EstimatedLatency: cap.AverageLatency,
	}
	if fb := s.specialist.Fallback; fb != "" {
		if _, ok := s.registry.Capability(fb, task.Type); ok {
			sel.Fallbacks = []string{fb}
		}
	}
	return sel, true
}

// scoreCandidate computes the candidate's score: declared confidence,
// blended with a live performance score once outcomes exist, boosted when
// the task payload matches a declared specialization.
func scoreCandidate(task models.Task, c registry.Candidate) float64 {
	score := c.Capability.Confidence

	if perf := c.Performance; perf != nil && perf.SampleSize > 0 {
		latencyRatio := 1.0
		if perf.AverageLatency > 0 {
			latencyRatio = float64(c.Capability.AverageLatency) / float64(perf.AverageLatency)
			if latencyRatio > 1 {
				latencyRatio = 1
			}
		}
		perfScore := successWeight*perf.SuccessRate +
			latencyWeight*latencyRatio +
			errorWeight*(1-perf.ErrorRate)

		weight := float64(perf.SampleSize) / 100
		if weight > maxBlendWeight {
			weight = maxBlendWeight
		}
		score = score*(1-weight) + perfScore*weight
	}

	if matchesSpecialization(task, c.Capability) {
		score *= specializationBoost
	}
	return score
}

// matchesSpecialization reports whether the task payload carries one of the
// capability's declared specialization tags, either as a key or as a string
// value.
func matchesSpecialization(task models.Task, cap models.ModelCapability) bool {
	if len(cap.Specializations) == 0 || len(task.Payload) == 0 {
		return false
	}
	for key, value := range task.Payload {
		if cap.HasSpecialization(key) {
			return true
		}
		if s, ok := value.(string); ok && cap.HasSpecialization(s) {
			return true
		}
	}
	return false
}
