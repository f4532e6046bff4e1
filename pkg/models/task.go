package models

import "time"

// ResultStatus represents the terminal state of a task execution.
type ResultStatus string

const (
	// StatusSuccess indicates the task completed successfully.
	StatusSuccess ResultStatus = "success"
	// StatusError indicates the task failed.
	StatusError ResultStatus = "error"
	// StatusSkipped indicates the task was marked processed without running
	// because a dependency failed.
	StatusSkipped ResultStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s ResultStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}

// AggregationStrategy controls how the subtasks of a composite task are
// executed and how their results are combined.
type AggregationStrategy string

const (
	// AggregationSequential runs subtasks in declared order, stopping at the
	// first critical failure.
	AggregationSequential AggregationStrategy = "sequential"
	// AggregationParallel fans out all subtasks concurrently and waits for
	// every one to settle.
	AggregationParallel AggregationStrategy = "parallel"
	// AggregationConditional executes subtasks topologically as their
	// dependencies are satisfied.
	AggregationConditional AggregationStrategy = "conditional"
)

// Valid returns true if the strategy is a known value.
func (a AggregationStrategy) Valid() bool {
	switch a {
	case AggregationSequential, AggregationParallel, AggregationConditional:
		return true
	default:
		return false
	}
}

// Task represents a unit of work routed to a backend model service.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Type is the task-type tag used for capability matching (e.g.
	// "audio-analysis", "transcription", "text-generation").
	Type string `json:"type"`
	// Payload carries the task input data.
	Payload map[string]any `json:"payload,omitempty"`
	// Priority is the scheduling priority, 1 (lowest) to 10 (highest).
	Priority int `json:"priority"`
	// Context carries optional per-task context handed to the service.
	Context map[string]any `json:"context,omitempty"`
	// Timeout is an advisory execution budget. Zero means no budget.
	Timeout time.Duration `json:"timeout,omitempty"`
	// MaxRetries bounds same-service retries before fallback is attempted.
	MaxRetries int `json:"max_retries,omitempty"`
	// ServiceType is an optional hint naming the preferred service class.
	ServiceType string `json:"service_type,omitempty"`
	// DependsOn lists subtask IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Critical marks a subtask whose failure fails the whole composite.
	Critical bool `json:"critical,omitempty"`
	// SkipOnDependencyFailure marks a subtask that is skipped rather than
	// failed when one of its dependencies fails (conditional aggregation).
	SkipOnDependencyFailure bool `json:"skip_on_dependency_failure,omitempty"`
	// Deadline is an optional absolute scheduling deadline.
	Deadline *time.Time `json:"deadline,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
}

// ResultMetadata carries execution metadata attached to a TaskResult.
type ResultMetadata struct {
	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`
	// Timestamp is when the result was produced.
	Timestamp time.Time `json:"timestamp"`
	// ServiceID is the service that produced the result.
	ServiceID string `json:"service_id,omitempty"`
}

// TaskResult represents the outcome of executing a task.
type TaskResult struct {
	// TaskID is the ID of the originating task.
	TaskID string `json:"task_id"`
	// Success indicates whether the task completed successfully.
	Success bool `json:"success"`
	// Status is "success" or "error", mirroring Success.
	Status ResultStatus `json:"status"`
	// Payload carries the task output data.
	Payload map[string]any `json:"payload,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// Metadata carries execution timing and attribution.
	Metadata ResultMetadata `json:"metadata"`
}

// CompositeTask is a task decomposed into dependent subtasks executed under
// an aggregation strategy. Dependencies is keyed by subtask ID and lists the
// subtask IDs it depends on; it is consulted for conditional aggregation
// (sequential uses declaration order, parallel ignores it).
type CompositeTask struct {
	Task
	// Subtasks is the ordered list of subtasks.
	Subtasks []Task `json:"subtasks"`
	// Aggregation selects the execution strategy.
	Aggregation AggregationStrategy `json:"aggregation"`
	// Dependencies maps subtask ID to the subtask IDs it depends on.
	Dependencies map[string][]string `json:"dependencies,omitempty"`
}

// MergePayloads combines result payloads in order; later keys overwrite
// earlier keys on collision.
func MergePayloads(payloads ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, p := range payloads {
		for k, v := range p {
			merged[k] = v
		}
	}
	return merged
}

// SuccessResult builds a success-status result for the given task.
func SuccessResult(taskID string, payload map[string]any, serviceID string, started time.Time) TaskResult {
	return TaskResult{
		TaskID:  taskID,
		Success: true,
		Status:  StatusSuccess,
		Payload: payload,
		Metadata: ResultMetadata{
			Duration:  time.Since(started),
			Timestamp: time.Now(),
			ServiceID: serviceID,
		},
	}
}

// FailureResult builds an error-status result for the given task.
func FailureResult(taskID string, err error, serviceID string, started time.Time) TaskResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return TaskResult{
		TaskID:  taskID,
		Success: false,
		Status:  StatusError,
		Error:   msg,
		Metadata: ResultMetadata{
			Duration:  time.Since(started),
			Timestamp: time.Now(),
			ServiceID: serviceID,
		},
	}
}
