package orchestrator

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sonatahq/sonata/internal/events"
)

func feed(h *History, serviceID, taskType string, count int, latency time.Duration, failures int, utilization float64) {
	for i := 0; i < count; i++ {
		h.Record(FeedbackSample{
			ServiceID:           serviceID,
			TaskType:            taskType,
			Latency:             latency,
			Success:             i >= failures,
			ResourceUtilization: utilization,
			Timestamp:           time.Now(),
		})
	}
}

func TestDetectFlagsHighImpactPair(t *testing.T) {
	h := NewHistory(10, 1000)
	// avgLatency 2.5s -> latency factor 0.5; errorRate 0.6; utilization 0.5.
	// impact = 0.4*0.5 + 0.4*0.6 + 0.2*0.5 = 0.54 > 0.5.
	feed(h, "slow-svc", "transcription", 10, 2500*time.Millisecond, 6, 0.5)

	emitter := events.NewEmitter(16)
	defer emitter.Close()
	d := NewBottleneckDetector(h, time.Hour, emitter, nil)

	flagged := d.Detect()
	if len(flagged) != 1 {
		t.Fatalf("flagged %d pairs, want 1", len(flagged))
	}
	f := flagged[0]
	if f.ServiceID != "slow-svc" || f.TaskType != "transcription" {
		t.Errorf("flagged pair = %s/%s", f.ServiceID, f.TaskType)
	}
	if math.Abs(f.Impact-0.54) > 1e-9 {
		t.Errorf("impact = %v, want 0.54", f.Impact)
	}
	// Error rate is the dominant weighted factor here.
	if len(f.Recommendations) == 0 || !strings.Contains(f.Recommendations[0], "error rate") {
		t.Errorf("recommendations = %v, want error-rate guidance first", f.Recommendations)
	}

	select {
	case ev := <-emitter.Events():
		if ev.Type != events.TypeBottleneckDetected || ev.ServiceID != "slow-svc" {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Error("expected a bottleneck event")
	}
}

func TestDetectIgnoresSmallSamples(t *testing.T) {
	h := NewHistory(10, 1000)
	feed(h, "svc", "x", 4, 10*time.Second, 4, 1.0) // terrible, but only 4 samples

	d := NewBottleneckDetector(h, time.Hour, nil, nil)
	if flagged := d.Detect(); len(flagged) != 0 {
		t.Errorf("flagged %d pairs from under-sampled data, want 0", len(flagged))
	}
}

func TestDetectBelowThresholdNotFlagged(t *testing.T) {
	h := NewHistory(10, 1000)
	// impact = 0.4*0.1 + 0.4*0 + 0.2*0.2 = 0.08.
	feed(h, "fast-svc", "x", 10, 500*time.Millisecond, 0, 0.2)

	d := NewBottleneckDetector(h, time.Hour, nil, nil)
	if flagged := d.Detect(); len(flagged) != 0 {
		t.Errorf("flagged healthy pair: %+v", flagged)
	}
	if len(d.Findings()) != 0 {
		t.Error("findings cache should stay empty")
	}
}

func TestDetectRefreshesCachedFindings(t *testing.T) {
	h := NewHistory(10, 1000)
	feed(h, "svc", "x", 10, 6*time.Second, 10, 1.0)

	d := NewBottleneckDetector(h, time.Hour, nil, nil)
	d.Detect()
	if len(d.Findings()) != 1 {
		t.Fatal("expected a cached finding")
	}
	first := d.Findings()[0]

	// Same pair re-analyzed on top of healthier samples: the new finding
	// overwrites the stale one, or clears it once impact drops.
	feed(h, "svc", "x", 990, time.Millisecond, 0, 0)
	d.Detect()
	findings := d.Findings()
	if len(findings) == 1 && findings[0].Impact >= first.Impact {
		t.Errorf("stale finding not overwritten: old %v new %v", first.Impact, findings[0].Impact)
	}
}

func TestMaybeDetectHonorsInterval(t *testing.T) {
	h := NewHistory(10, 1000)
	feed(h, "svc", "x", 10, 6*time.Second, 10, 1.0)

	d := NewBottleneckDetector(h, time.Hour, nil, nil)
	d.MaybeDetect() // first call always runs
	if len(d.Findings()) != 1 {
		t.Fatal("first check should run detection")
	}

	// Within the interval the cache is served, not recomputed.
	feed(h, "other", "y", 10, 6*time.Second, 10, 1.0)
	d.MaybeDetect()
	if len(d.Findings()) != 1 {
		t.Error("detection ran again before the interval elapsed")
	}
}
