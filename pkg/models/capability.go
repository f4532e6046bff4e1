package models

import "time"

// ResourceRequirements describes the resources a capability needs.
type ResourceRequirements struct {
	// MemoryBytes is the expected peak memory footprint.
	MemoryBytes int64 `json:"memory_bytes"`
	// ComputeUnits is an abstract measure of compute demand.
	ComputeUnits float64 `json:"compute_units"`
}

// ModelCapability is a declared (task type, confidence, specialization)
// tuple a service advertises. Confidence is in [0, 1].
type ModelCapability struct {
	// TaskType is the task-type tag this capability serves.
	TaskType string `json:"task_type"`
	// Confidence is the service's self-declared fitness for the task type.
	Confidence float64 `json:"confidence"`
	// Specializations lists payload tags the service is particularly good at.
	Specializations []string `json:"specializations,omitempty"`
	// Resources describes the resource needs of this capability.
	Resources ResourceRequirements `json:"resources"`
	// AverageLatency is the service's declared baseline latency.
	AverageLatency time.Duration `json:"average_latency"`
}

// HasSpecialization returns true if the capability declares the given tag.
func (c ModelCapability) HasSpecialization(tag string) bool {
	for _, s := range c.Specializations {
		if s == tag {
			return true
		}
	}
	return false
}

// ModelPerformanceMetrics holds live, exponentially smoothed performance
// data for one (service, task type) pair. SuccessRate and ErrorRate are
// each their own EMA and need not sum to exactly 1, but both are updated
// together per outcome.
type ModelPerformanceMetrics struct {
	// TaskType is the task-type tag these metrics describe.
	TaskType string `json:"task_type"`
	// SuccessRate is the smoothed success ratio in [0, 1].
	SuccessRate float64 `json:"success_rate"`
	// ErrorRate is the smoothed failure ratio in [0, 1].
	ErrorRate float64 `json:"error_rate"`
	// AverageLatency is the smoothed observed latency.
	AverageLatency time.Duration `json:"average_latency"`
	// SampleSize is the number of outcomes recorded.
	SampleSize int `json:"sample_size"`
	// LastUpdated is when the last outcome was recorded.
	LastUpdated time.Time `json:"last_updated"`
}
