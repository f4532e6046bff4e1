package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/sonatahq/sonata/internal/events"
	"github.com/sonatahq/sonata/internal/logging"
)

const (
	// minSamplesPerPair is the minimum feedback samples a (service, task
	// type) pair needs before it is analyzed.
	minSamplesPerPair = 5
	// latencyCeiling normalizes average latency into [0, 1].
	latencyCeiling = 5 * time.Second
	// impactThreshold is the impact above which a pair is flagged.
	impactThreshold = 0.5
)

// Impact factor weights.
const (
	latencyFactorWeight     = 0.4
	errorFactorWeight       = 0.4
	utilizationFactorWeight = 0.2
)

// BottleneckFinding is one flagged (service, task type) pair with the
// factor breakdown and remediation hints.
type BottleneckFinding struct {
	// ServiceID and TaskType identify the flagged pair.
	ServiceID string `json:"service_id"`
	TaskType  string `json:"task_type"`
	// Impact is the weighted severity in [0, 1].
	Impact float64 `json:"impact"`
	// AvgLatency is the mean latency over the analyzed samples.
	AvgLatency time.Duration `json:"avg_latency"`
	// ErrorRate is the failure fraction over the analyzed samples.
	ErrorRate float64 `json:"error_rate"`
	// ResourceUtilization is the mean reported utilization.
	ResourceUtilization float64 `json:"resource_utilization"`
	// Recommendations describe how to relieve the dominant factor.
	Recommendations []string `json:"recommendations"`
	// DetectedAt is when the finding was produced.
	DetectedAt time.Time `json:"detected_at"`
}

// BottleneckDetector periodically analyzes the feedback window for
// systemically slow or failing (service, task type) pairs. Findings are
// cached per pair, newer runs overwriting stale entries.
type BottleneckDetector struct {
	mu       sync.Mutex
	history  *History
	findings map[string]BottleneckFinding
	interval time.Duration
	lastRun  time.Time

	emitter *events.Emitter
	logger  logging.Logger
}

// NewBottleneckDetector creates a detector over the history's feedback
// window. A non-positive interval falls back to one hour; emitter and
// logger may be nil.
func NewBottleneckDetector(history *History, interval time.Duration, emitter *events.Emitter, logger logging.Logger) *BottleneckDetector {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &BottleneckDetector{
		history:  history,
		findings: make(map[string]BottleneckFinding),
		interval: interval,
		emitter:  emitter,
		logger:   logger,
	}
}

// MaybeDetect runs detection when the interval has elapsed since the last
// run (the first call always runs). Best effort: it never blocks task
// execution beyond the analysis itself.
func (d *BottleneckDetector) MaybeDetect() {
	d.mu.Lock()
	due := d.lastRun.IsZero() || time.Since(d.lastRun) >= d.interval
	if due {
		d.lastRun = time.Now()
	}
	d.mu.Unlock()

	if due {
		d.Detect()
	}
}

// Detect analyzes the current feedback window and refreshes the findings
// cache. Pairs with fewer than 5 samples are ignored.
func (d *BottleneckDetector) Detect() []BottleneckFinding {
	type acc struct {
		serviceID, taskType string
		latencySum          time.Duration
		utilizationSum      float64
		failures, count     int
	}
	groups := make(map[string]*acc)
	for _, s := range d.history.Samples() {
		key := s.ServiceID + "/" + s.TaskType
		g, ok := groups[key]
		if !ok {
			g = &acc{serviceID: s.ServiceID, taskType: s.TaskType}
			groups[key] = g
		}
		g.latencySum += s.Latency
		g.utilizationSum += s.ResourceUtilization
		if !s.Success {
			g.failures++
		}
		g.count++
	}

	var flagged []BottleneckFinding
	for key, g := range groups {
		if g.count < minSamplesPerPair {
			continue
		}

		avgLatency := g.latencySum / time.Duration(g.count)
		errorRate := float64(g.failures) / float64(g.count)
		utilization := g.utilizationSum / float64(g.count)

		latencyFactor := float64(avgLatency) / float64(latencyCeiling)
		if latencyFactor > 1 {
			latencyFactor = 1
		}
		impact := latencyFactorWeight*latencyFactor +
			errorFactorWeight*errorRate +
			utilizationFactorWeight*utilization
		if impact <= impactThreshold {
			d.mu.Lock()
			delete(d.findings, key)
			d.mu.Unlock()
			continue
		}

		finding := BottleneckFinding{
			ServiceID:           g.serviceID,
			TaskType:            g.taskType,
			Impact:              impact,
			AvgLatency:          avgLatency,
			ErrorRate:           errorRate,
			ResourceUtilization: utilization,
			Recommendations:     recommend(latencyFactor, errorRate, utilization),
			DetectedAt:          time.Now(),
		}
		d.mu.Lock()
		d.findings[key] = finding
		d.mu.Unlock()
		flagged = append(flagged, finding)

		d.logger.Warn("bottleneck detected",
			"service_id", g.serviceID, "task_type", g.taskType,
			"impact", impact, "avg_latency", avgLatency, "error_rate", errorRate)
		if d.emitter != nil {
			ev := events.New(events.TypeBottleneckDetected)
			ev.ServiceID = g.serviceID
			ev.Message = fmt.Sprintf("task type %s impact %.2f", g.taskType, impact)
			ev.Metrics = map[string]float64{
				"impact":     impact,
				"error_rate": errorRate,
				"latency_ms": float64(avgLatency.Milliseconds()),
			}
			d.emitter.Emit(ev)
		}
	}
	return flagged
}

// Findings returns the cached findings from the most recent runs.
func (d *BottleneckDetector) Findings() []BottleneckFinding {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]BottleneckFinding, 0, len(d.findings))
	for _, f := range d.findings {
		out = append(out, f)
	}
	return out
}

// recommend derives remediation hints from the dominant impact factor.
func recommend(latencyFactor, errorRate, utilization float64) []string {
	var recs []string
	latencyWeighted := latencyFactorWeight * latencyFactor
	errorWeighted := errorFactorWeight * errorRate
	utilizationWeighted := utilizationFactorWeight * utilization

	switch {
	case latencyWeighted >= errorWeighted && latencyWeighted >= utilizationWeighted:
		recs = append(recs,
			"latency dominates: consider routing this task type to a faster service or raising its cache TTL")
	case errorWeighted >= latencyWeighted && errorWeighted >= utilizationWeighted:
		recs = append(recs,
			"error rate dominates: review recent failures for this pair and consider demoting the service in selection")
	default:
		recs = append(recs,
			"resource utilization dominates: reduce concurrent load on this service or scale its capacity")
	}
	if errorRate > 0.5 {
		recs = append(recs, "more than half of recent executions failed; verify the service is healthy")
	}
	return recs
}
