package orchestrator

import (
	"sync"
	"time"

	"github.com/sonatahq/sonata/pkg/models"
)

// FeedbackSample is one execution observation feeding bottleneck analysis.
type FeedbackSample struct {
	// ServiceID is the service that executed the work.
	ServiceID string `json:"service_id"`
	// TaskType is the executed task type.
	TaskType string `json:"task_type"`
	// Latency is the observed execution time.
	Latency time.Duration `json:"latency"`
	// Success is the execution verdict.
	Success bool `json:"success"`
	// ResourceUtilization is the service-reported utilization in [0, 1],
	// zero when unreported.
	ResourceUtilization float64 `json:"resource_utilization"`
	// Timestamp is when the sample was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// History retains bounded execution history per task id and a bounded
// global window of feedback samples.
type History struct {
	mu sync.Mutex
	// results maps task id to its most recent results, oldest first.
	results    map[string][]models.TaskResult
	perTask    int
	feedback   []FeedbackSample
	maxSamples int
}

// NewHistory creates a history bounded to perTask results per task id and
// maxSamples feedback samples overall. Non-positive bounds fall back to 10
// and 1000.
func NewHistory(perTask, maxSamples int) *History {
	if perTask <= 0 {
		perTask = 10
	}
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &History{
		results:    make(map[string][]models.TaskResult),
		perTask:    perTask,
		maxSamples: maxSamples,
	}
}

// Append records a result, dropping the oldest when the per-task bound is
// reached.
func (h *History) Append(result models.TaskResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.results[result.TaskID], result)
	if len(list) > h.perTask {
		list = list[len(list)-h.perTask:]
	}
	h.results[result.TaskID] = list
}

// ResultsFor returns a copy of the retained results for a task id, oldest
// first.
func (h *History) ResultsFor(taskID string) []models.TaskResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.results[taskID]
	out := make([]models.TaskResult, len(list))
	copy(out, list)
	return out
}

// Record adds a feedback sample, dropping the oldest when the global bound
// is reached.
func (h *History) Record(sample FeedbackSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.feedback = append(h.feedback, sample)
	if len(h.feedback) > h.maxSamples {
		h.feedback = h.feedback[len(h.feedback)-h.maxSamples:]
	}
}

// Samples returns a copy of the current feedback window, oldest first.
func (h *History) Samples() []FeedbackSample {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]FeedbackSample, len(h.feedback))
	copy(out, h.feedback)
	return out
}
