package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/sonatahq/sonata/pkg/models"
)

// MockService is a deterministic canned backend for tests and the demo
// path: it succeeds for its configured task types and echoes the task back
// in its payload.
type MockService struct {
	id    string
	caps  []models.ModelCapability
	delay time.Duration
	// FailTypes lists task types this mock fails on.
	FailTypes map[string]bool
}

// NewMockService creates a mock serving the given task types at 0.8
// confidence each.
func NewMockService(id string, taskTypes ...string) *MockService {
	caps := make([]models.ModelCapability, 0, len(taskTypes))
	for _, tt := range taskTypes {
		caps = append(caps, models.ModelCapability{
			TaskType:       tt,
			Confidence:     0.8,
			AverageLatency: 10 * time.Millisecond,
		})
	}
	return &MockService{id: id, caps: caps, FailTypes: make(map[string]bool)}
}

// WithDelay makes every execution sleep for d first.
func (s *MockService) WithDelay(d time.Duration) *MockService {
	s.delay = d
	return s
}

// ID implements Service.
func (s *MockService) ID() string { return s.id }

// GetCapabilities implements CapabilityProvider.
func (s *MockService) GetCapabilities() []models.ModelCapability { return s.caps }

// ExecuteTask implements Service.
func (s *MockService) ExecuteTask(_ context.Context, task models.Task) (models.TaskResult, error) {
	started := time.Now()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.FailTypes[task.Type] {
		return models.FailureResult(task.ID, fmt.Errorf("mock failure for %s", task.Type), s.id, started), nil
	}
	payload := map[string]any{
		"echo":      task.Type,
		"service":   s.id,
		"processed": true,
	}
	return models.SuccessResult(task.ID, payload, s.id, started), nil
}
