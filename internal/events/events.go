// Package events provides the typed event stream emitted by the
// orchestration core for observability collaborators (UIs, notifiers).
package events

import (
	"time"
)

// Type represents the kind of an emitted event.
type Type string

const (
	// TypeServiceLoaded indicates a backend service was registered.
	TypeServiceLoaded Type = "service_loaded"
	// TypeTaskStarted indicates a task has started execution.
	TypeTaskStarted Type = "task_started"
	// TypeTaskCompleted indicates a task completed successfully.
	TypeTaskCompleted Type = "task_completed"
	// TypeTaskFailed indicates a task failed.
	TypeTaskFailed Type = "task_failed"
	// TypeMemoryOptimized indicates a context compression pass ran.
	TypeMemoryOptimized Type = "memory_optimized"
	// TypeResourcePressure indicates a context approached its token budget
	// or was spilled to disk.
	TypeResourcePressure Type = "resource_pressure"
	// TypeContextCleanup indicates an entity's context was removed.
	TypeContextCleanup Type = "context_cleanup"
	// TypeBottleneckDetected indicates a (service, task type) pair exceeded
	// the bottleneck impact threshold.
	TypeBottleneckDetected Type = "bottleneck_detected"
	// TypeError indicates a recoverable error was observed.
	TypeError Type = "error"
)

// Event is a tagged observability payload. Only Type and Timestamp are
// always set; the remaining fields are populated where relevant.
type Event struct {
	// Type is the kind of event.
	Type Type
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// ServiceID is the ID of the related service, if applicable.
	ServiceID string
	// EntityID is the ID of the related conversation entity, if applicable.
	EntityID string
	// Message provides additional human-readable context.
	Message string
	// Error contains error details for failure events.
	Error error
	// Metrics carries numeric details (token counts, impact scores, sizes).
	Metrics map[string]float64
}

// New builds an event of the given type stamped with the current time.
func New(t Type) Event {
	return Event{Type: t, Timestamp: time.Now()}
}
