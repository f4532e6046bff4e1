// Package registry holds per-service declared capabilities and live
// performance metrics, plus the service directory used to resolve service
// IDs to running backends.
package registry

import (
	"sync"
	"time"

	"github.com/sonatahq/sonata/pkg/models"
)

// emaAlpha is the smoothing factor for all performance moving averages.
const emaAlpha = 0.2

// Candidate pairs a service's declared capability for a task type with its
// live performance metrics, if any outcomes have been recorded.
type Candidate struct {
	// ServiceID identifies the candidate service.
	ServiceID string
	// Capability is the declared capability matching the task type.
	Capability models.ModelCapability
	// Performance is the live metrics for the pair; nil when no outcome
	// has been recorded yet.
	Performance *models.ModelPerformanceMetrics
}

// Registry tracks capabilities and performance per service. It is safe for
// concurrent use.
type Registry struct {
	mu sync.RWMutex
	// capabilities maps service ID -> task type -> declared capability.
	capabilities map[string]map[string]models.ModelCapability
	// performance maps service ID -> task type -> live metrics.
	performance map[string]map[string]*models.ModelPerformanceMetrics
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		capabilities: make(map[string]map[string]models.ModelCapability),
		performance:  make(map[string]map[string]*models.ModelPerformanceMetrics),
	}
}

// Register records the declared capabilities for a service, replacing any
// previous declaration for the same task types. Performance history is
// kept across re-registration.
func (r *Registry) Register(serviceID string, capabilities []models.ModelCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.capabilities[serviceID]; !ok {
		r.capabilities[serviceID] = make(map[string]models.ModelCapability, len(capabilities))
	}
	for _, c := range capabilities {
		r.capabilities[serviceID][c.TaskType] = c
	}
}

// Capability returns the declared capability for the pair, if any.
func (r *Registry) Capability(serviceID, taskType string) (models.ModelCapability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[serviceID][taskType]
	return c, ok
}

// RecordOutcome folds one execution outcome into the pair's exponential
// moving averages: rate' = rate*(1-α) + outcome*α, latency' =
// latency*(1-α) + observed*α, with α = 0.2. SampleSize increments by one.
// The first outcome seeds the averages directly.
func (r *Registry) RecordOutcome(serviceID, taskType string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.performance[serviceID]; !ok {
		r.performance[serviceID] = make(map[string]*models.ModelPerformanceMetrics)
	}

	m, ok := r.performance[serviceID][taskType]
	if !ok {
		m = &models.ModelPerformanceMetrics{TaskType: taskType}
		if success {
			m.SuccessRate = 1
		} else {
			m.ErrorRate = 1
		}
		m.AverageLatency = latency
		m.SampleSize = 1
		m.LastUpdated = time.Now()
		r.performance[serviceID][taskType] = m
		return
	}

	successValue, errorValue := 0.0, 1.0
	if success {
		successValue, errorValue = 1.0, 0.0
	}
	m.SuccessRate = m.SuccessRate*(1-emaAlpha) + successValue*emaAlpha
	m.ErrorRate = m.ErrorRate*(1-emaAlpha) + errorValue*emaAlpha
	m.AverageLatency = time.Duration(float64(m.AverageLatency)*(1-emaAlpha) + float64(latency)*emaAlpha)
	m.SampleSize++
	m.LastUpdated = time.Now()
}

// Performance returns a copy of the live metrics for the pair, if any.
func (r *Registry) Performance(serviceID, taskType string) (models.ModelPerformanceMetrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.performance[serviceID][taskType]
	if !ok {
		return models.ModelPerformanceMetrics{}, false
	}
	return *m, true
}

// CandidatesFor returns every registered service with a declared capability
// for the task type. A service with no matching capability is simply not a
// candidate; that is not an error at this layer.
func (r *Registry) CandidatesFor(taskType string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []Candidate
	for serviceID, caps := range r.capabilities {
		c, ok := caps[taskType]
		if !ok {
			continue
		}
		cand := Candidate{ServiceID: serviceID, Capability: c}
		if m, ok := r.performance[serviceID][taskType]; ok {
			cp := *m
			cand.Performance = &cp
		}
		candidates = append(candidates, cand)
	}
	return candidates
}

// ServiceIDs returns the IDs of all services with registered capabilities.
func (r *Registry) ServiceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.capabilities))
	for id := range r.capabilities {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns all live metrics grouped by service ID. Used by status
// reporting and bottleneck analysis.
func (r *Registry) Snapshot() map[string][]models.ModelPerformanceMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]models.ModelPerformanceMetrics, len(r.performance))
	for serviceID, byType := range r.performance {
		for _, m := range byType {
			out[serviceID] = append(out[serviceID], *m)
		}
	}
	return out
}
