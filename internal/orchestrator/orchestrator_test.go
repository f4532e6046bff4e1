package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sonatahq/sonata/internal/contextcache"
	"github.com/sonatahq/sonata/internal/delegator"
	"github.com/sonatahq/sonata/internal/registry"
	"github.com/sonatahq/sonata/internal/transform"
	"github.com/sonatahq/sonata/pkg/models"
)

// fakeService is a canned backend for pipeline tests. It records every task
// it receives.
type fakeService struct {
	id      string
	caps    []models.ModelCapability
	fail    bool
	delay   time.Duration
	payload map[string]any

	mu   sync.Mutex
	seen []models.Task
}

func (f *fakeService) ID() string { return f.id }

func (f *fakeService) GetCapabilities() []models.ModelCapability { return f.caps }

func (f *fakeService) ExecuteTask(_ context.Context, task models.Task) (models.TaskResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, task)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return models.TaskResult{}, errors.New("service unavailable")
	}
	payload := f.payload
	if payload == nil {
		payload = map[string]any{task.Type: "ok", "service": f.id}
	}
	return models.SuccessResult(task.ID, payload, f.id, time.Now()), nil
}

// received returns the recorded task with the given ID, if any.
func (f *fakeService) received(taskID string) (models.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.seen {
		if task.ID == taskID {
			return task, true
		}
	}
	return models.Task{}, false
}

// seenIDs returns the IDs of all recorded tasks in arrival order.
func (f *fakeService) seenIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.seen))
	for i, task := range f.seen {
		ids[i] = task.ID
	}
	return ids
}

func capFor(taskTypes ...string) []models.ModelCapability {
	var caps []models.ModelCapability
	for _, tt := range taskTypes {
		caps = append(caps, models.ModelCapability{TaskType: tt, Confidence: 0.9, AverageLatency: 100 * time.Millisecond})
	}
	return caps
}

func newTestOrchestrator(t *testing.T, services ...*fakeService) (*Orchestrator, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	dir := registry.NewDirectory(reg, nil, nil, nil)
	for _, svc := range services {
		if err := dir.RegisterService(svc); err != nil {
			t.Fatal(err)
		}
	}
	sel := delegator.NewSelector(reg, delegator.SpecialistRule{}, nil)
	o := New(Dependencies{
		Registry:  reg,
		Directory: dir,
		Selector:  sel,
		History:   NewHistory(10, 1000),
	})
	return o, reg
}

func TestExecuteTaskSingleNode(t *testing.T) {
	o, reg := newTestOrchestrator(t, &fakeService{id: "lang", caps: capFor("text-generation")})

	res, err := o.ExecuteTask(context.Background(), models.Task{Type: "text-generation"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Payload["service"] != "lang" {
		t.Errorf("payload = %v", res.Payload)
	}
	if res.ServicesUsed["lang"] != 1 {
		t.Errorf("services used = %v, want lang once", res.ServicesUsed)
	}
	for _, stage := range []string{"analyze", "plan", "prepare", "execute", "record"} {
		if _, ok := res.StageTimings[stage]; !ok {
			t.Errorf("missing stage timing %q", stage)
		}
	}

	// The execution outcome must feed the registry's live metrics.
	perf, ok := reg.Performance("lang", "text-generation")
	if !ok || perf.SampleSize != 1 || perf.SuccessRate != 1 {
		t.Errorf("performance not recorded: %+v (ok=%v)", perf, ok)
	}
}

func TestExecuteTaskNoCapableService(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeService{id: "lang", caps: capFor("summarization")})

	_, err := o.ExecuteTask(context.Background(), models.Task{Type: "audio-analysis"})
	if !errors.Is(err, delegator.ErrNoCapableService) {
		t.Errorf("expected ErrNoCapableService, got %v", err)
	}
}

func TestExecuteTaskFallbackChain(t *testing.T) {
	primary := &fakeService{id: "alpha", caps: capFor("summarization"), fail: true}
	backup := &fakeService{id: "beta", caps: capFor("summarization")}
	o, _ := newTestOrchestrator(t, primary, backup)

	res, err := o.ExecuteTask(context.Background(), models.Task{Type: "summarization"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("fallback should have rescued the task: %s", res.Error)
	}
	if res.Metadata.ServiceID != "beta" {
		t.Errorf("result from %s, want the fallback service", res.Metadata.ServiceID)
	}
	if res.ServicesUsed["alpha"] == 0 || res.ServicesUsed["beta"] == 0 {
		t.Errorf("both services should have been attempted: %v", res.ServicesUsed)
	}
}

func TestExecuteTaskExhaustedFallbacksSettleAsFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t,
		&fakeService{id: "alpha", caps: capFor("summarization"), fail: true},
		&fakeService{id: "beta", caps: capFor("summarization"), fail: true},
	)

	res, err := o.ExecuteTask(context.Background(), models.Task{Type: "summarization"})
	if err != nil {
		t.Fatalf("terminal failure must be returned, not thrown: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure after exhausting all services")
	}
	if !strings.Contains(res.Error, "alpha") || !strings.Contains(res.Error, "beta") {
		t.Errorf("failure should list every attempted service: %q", res.Error)
	}
}

func TestExecuteTaskAdvisoryTimeout(t *testing.T) {
	o, _ := newTestOrchestrator(t,
		&fakeService{id: "slow", caps: capFor("summarization"), delay: 200 * time.Millisecond},
	)

	start := time.Now()
	res, err := o.ExecuteTask(context.Background(), models.Task{
		Type:    "summarization",
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected a timeout-flavored failure")
	}
	if !strings.Contains(res.Error, "timeout") {
		t.Errorf("error = %q, want timeout flavor", res.Error)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("orchestrator kept waiting past the advisory budget")
	}
}

func TestExecuteTaskCompositeDecomposition(t *testing.T) {
	audio := &fakeService{id: "gama-audio", caps: capFor("feature-extraction", "transcription", "audio-analysis")}
	o, _ := newTestOrchestrator(t, audio)

	task := models.Task{
		ID:       "big",
		Type:     "audio-analysis",
		Critical: true,
		Payload:  map[string]any{"samples": strings.Repeat("x", 8000)},
		Context:  map[string]any{"history": strings.Repeat("y", 8000)},
	}
	res, err := o.ExecuteTask(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("composite failed: %s", res.Error)
	}
	if len(res.Subtasks) != 3 {
		t.Fatalf("expected 3 subtask results, got %d", len(res.Subtasks))
	}
	for _, id := range []string{"big-features", "big-transcript", "big-verdict"} {
		sub, ok := res.Subtasks[id]
		if !ok || !sub.Success {
			t.Errorf("subtask %s missing or failed: %+v", id, sub)
		}
	}
	if res.Parallelization != ParallelizationSelective {
		t.Errorf("parallelization = %s, want selective", res.Parallelization)
	}
	if res.ServicesUsed["gama-audio"] != 3 {
		t.Errorf("services used = %v, want 3 executions", res.ServicesUsed)
	}
	if res.Metadata.Duration <= 0 {
		t.Error("composite result must carry its execution duration")
	}
}

func TestExecuteTaskCompositeCrossServiceHandoff(t *testing.T) {
	extractor := &fakeService{
		id:      "feat-svc",
		caps:    capFor("feature-extraction"),
		payload: map[string]any{"features": "raw-vectors", "frame_count": 10},
	}
	audio := &fakeService{id: "gama-audio", caps: capFor("transcription", "audio-analysis")}

	reg := registry.New()
	dir := registry.NewDirectory(reg, nil, nil, nil)
	for _, svc := range []*fakeService{extractor, audio} {
		if err := dir.RegisterService(svc); err != nil {
			t.Fatal(err)
		}
	}

	// Raw feature vectors are dropped when the payload crosses into the
	// analysis service; everything else passes with a provenance stamp.
	transforms := transform.NewRegistry(nil)
	transforms.Register("feature-extraction", "audio-analysis",
		transform.NewBuilder("feature-extraction", "audio-analysis").
			Drop("features").
			WithProvenance().
			Build())

	cache := contextcache.New(1<<20, time.Minute, 0, nil)
	defer cache.Close()

	o := New(Dependencies{
		Registry:   reg,
		Directory:  dir,
		Selector:   delegator.NewSelector(reg, delegator.SpecialistRule{}, nil),
		Cache:      cache,
		Transforms: transforms,
		History:    NewHistory(10, 1000),
	})

	task := models.Task{
		ID:       "handoff",
		Type:     "audio-analysis",
		Critical: true,
		Payload:  map[string]any{"samples": strings.Repeat("x", 8000)},
		Context:  map[string]any{"history": strings.Repeat("y", 8000)},
	}
	res, err := o.ExecuteTask(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("composite failed: %s", res.Error)
	}

	verdict, ok := audio.received("handoff-verdict")
	if !ok {
		t.Fatal("analysis service never received the verdict subtask")
	}
	if _, leaked := verdict.Payload["features"]; leaked {
		t.Error("raw feature vectors crossed the service boundary untransformed")
	}
	if verdict.Payload["frame_count"] != 10 {
		t.Errorf("frame_count = %v, want the extractor's output fed through", verdict.Payload["frame_count"])
	}
	if _, stamped := verdict.Payload["_provenance"]; !stamped {
		t.Error("transformed payload must carry its provenance stamp")
	}
	// The same-service handoff from the transcript subtask is not adapted.
	if verdict.Payload["transcription"] != "ok" {
		t.Errorf("transcription = %v, want the transcript's payload fed through unchanged", verdict.Payload["transcription"])
	}
}

func TestExecuteTaskPreparesContextThroughCache(t *testing.T) {
	cache := contextcache.New(1<<20, time.Minute, 0, nil)
	defer cache.Close()

	fetches := 0
	reg := registry.New()
	dir := registry.NewDirectory(reg, nil, nil, nil)
	if err := dir.RegisterService(&fakeService{id: "lang", caps: capFor("text-generation")}); err != nil {
		t.Fatal(err)
	}
	o := New(Dependencies{
		Registry:  reg,
		Directory: dir,
		Selector:  delegator.NewSelector(reg, delegator.SpecialistRule{}, nil),
		Cache:     cache,
		ContextFetcher: func(serviceID string) (map[string]any, error) {
			fetches++
			return map[string]any{"service": serviceID, "recent": "context"}, nil
		},
	})

	for i := 0; i < 3; i++ {
		if _, err := o.ExecuteTask(context.Background(), models.Task{Type: "text-generation"}); err != nil {
			t.Fatal(err)
		}
	}
	if fetches != 1 {
		t.Errorf("fetched %d times, want context served from cache after the first run", fetches)
	}
}

func TestExecuteTaskRecordsHistory(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeService{id: "lang", caps: capFor("text-generation")})

	task := models.Task{ID: "t-hist", Type: "text-generation"}
	if _, err := o.ExecuteTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	if results := o.History().ResultsFor("t-hist"); len(results) != 1 {
		t.Errorf("history has %d results, want 1", len(results))
	}
	if samples := o.History().Samples(); len(samples) != 1 || samples[0].ServiceID != "lang" {
		t.Errorf("feedback samples = %+v", samples)
	}
}
