package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonatahq/sonata/internal/backend"
	"github.com/sonatahq/sonata/internal/contextcache"
	"github.com/sonatahq/sonata/internal/delegator"
	"github.com/sonatahq/sonata/internal/events"
	"github.com/sonatahq/sonata/internal/logging"
	"github.com/sonatahq/sonata/internal/registry"
	"github.com/sonatahq/sonata/internal/transform"
	"github.com/sonatahq/sonata/pkg/models"
)

// ContextFetcher produces the context view for a service on a cache miss.
type ContextFetcher func(serviceID string) (map[string]any, error)

// Result is the enriched outcome of one orchestrated execution: the task
// verdict plus analysis, per-stage timings, and per-service usage.
type Result struct {
	models.TaskResult
	// Analysis is the classification the plan was built from.
	Analysis TaskAnalysis `json:"analysis"`
	// Parallelization is the chain-wide concurrency verdict.
	Parallelization Parallelization `json:"parallelization"`
	// Subtasks holds individual results for composite executions.
	Subtasks map[string]models.TaskResult `json:"subtasks,omitempty"`
	// Incomplete lists subtasks that never became runnable.
	Incomplete []string `json:"incomplete,omitempty"`
	// StageTimings maps pipeline stage name to its duration.
	StageTimings map[string]time.Duration `json:"stage_timings"`
	// ServicesUsed counts executions per service id.
	ServicesUsed map[string]int `json:"services_used"`
}

// Dependencies wires an Orchestrator. Registry, Directory, and Selector are
// required; the rest may be nil (caching, context preparation, events, and
// bottleneck detection degrade to no-ops).
type Dependencies struct {
	Registry       *registry.Registry
	Directory      *registry.Directory
	Selector       *delegator.Selector
	Cache          *contextcache.Cache
	ContextFetcher ContextFetcher
	Transforms     *transform.Registry
	History        *History
	Detector       *BottleneckDetector
	Emitter        *events.Emitter
	Logger         logging.Logger
}

// Orchestrator drives the execute pipeline: analyze, plan, prepare,
// execute, record.
type Orchestrator struct {
	registry   *registry.Registry
	directory  *registry.Directory
	planner    *Planner
	cache      *contextcache.Cache
	fetch      ContextFetcher
	transforms *transform.Registry
	history    *History
	detector   *BottleneckDetector
	emitter    *events.Emitter
	logger     logging.Logger
}

// New creates an orchestrator from its dependencies.
func New(deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NoOp{}
	}
	history := deps.History
	if history == nil {
		history = NewHistory(0, 0)
	}
	transforms := deps.Transforms
	if transforms == nil {
		transforms = transform.NewRegistry(logger)
	}
	return &Orchestrator{
		registry:   deps.Registry,
		directory:  deps.Directory,
		planner:    NewPlanner(deps.Selector),
		cache:      deps.Cache,
		fetch:      deps.ContextFetcher,
		transforms: transforms,
		history:    history,
		detector:   deps.Detector,
		emitter:    deps.Emitter,
		logger:     logger,
	}
}

// ExecuteTask runs the full pipeline for one task. Selection failures
// (no capable service) surface as errors; execution failures settle into
// the returned result.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task models.Task) (Result, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	timings := make(map[string]time.Duration, 5)
	usage := &usageCounter{counts: make(map[string]int)}

	stage := time.Now()
	analysis := AnalyzeTask(task)
	timings["analyze"] = time.Since(stage)

	stage = time.Now()
	plan, err := o.planner.BuildPlan(task, analysis)
	timings["plan"] = time.Since(stage)
	if err != nil {
		return Result{}, fmt.Errorf("planning task %s: %w", task.ID, err)
	}

	stage = time.Now()
	contexts := o.prepareContexts(plan)
	subtasks := prepareSubtasks(plan, contexts)
	timings["prepare"] = time.Since(stage)

	stage = time.Now()
	var result Result
	if len(plan.Chain.Nodes) == 1 {
		node := plan.Chain.Nodes[0]
		taskWithContext := withContext(task, contexts[node.ServiceID])
		result = Result{TaskResult: o.executeNode(ctx, taskWithContext, node, analysis, usage)}
	} else {
		result = o.executeComposite(ctx, task, plan, subtasks, analysis, usage)
	}
	timings["execute"] = time.Since(stage)

	stage = time.Now()
	o.record(result.TaskResult)
	timings["record"] = time.Since(stage)

	result.Analysis = analysis
	result.Parallelization = plan.Parallelization
	result.StageTimings = timings
	result.ServicesUsed = usage.snapshot()
	return result, nil
}

// History exposes the execution history for status reporting.
func (o *Orchestrator) History() *History { return o.history }

// Bottlenecks returns the cached bottleneck findings, empty when detection
// is disabled.
func (o *Orchestrator) Bottlenecks() []BottleneckFinding {
	if o.detector == nil {
		return nil
	}
	return o.detector.Findings()
}

// prepareContexts fetches the per-service context view for every chain
// node through the cache. Fetch failures are logged and swallowed: a node
// simply runs without prepared context.
func (o *Orchestrator) prepareContexts(plan Plan) map[string]map[string]any {
	contexts := make(map[string]map[string]any)
	if o.cache == nil || o.fetch == nil {
		return contexts
	}
	for _, node := range plan.Chain.Nodes {
		if _, ok := contexts[node.ServiceID]; ok {
			continue
		}
		serviceID := node.ServiceID
		view, err := o.cache.GetOrCompute(
			contextcache.ServiceKey(serviceID, "recent"),
			func() (map[string]any, error) { return o.fetch(serviceID) },
		)
		if err != nil {
			o.logger.Warn("context preparation failed", "service_id", serviceID, "error", err)
			continue
		}
		contexts[serviceID] = view
	}
	return contexts
}

// prepareSubtasks assembles the composite subtasks: per-node input
// extraction from the parent payload plus the prepared service context.
func prepareSubtasks(plan Plan, contexts map[string]map[string]any) []models.Task {
	if len(plan.Subtasks) == 0 {
		return nil
	}
	prepared := make([]models.Task, len(plan.Subtasks))
	for i, sub := range plan.Subtasks {
		node := plan.Chain.Node(sub.ID)
		if node == nil {
			prepared[i] = sub
			continue
		}
		if len(node.Inputs) > 0 {
			extracted := make(map[string]any, len(node.Inputs))
			for _, key := range node.Inputs {
				if v, ok := sub.Payload[key]; ok {
					extracted[key] = v
				}
			}
			sub.Payload = extracted
		}
		prepared[i] = withContext(sub, contexts[node.ServiceID])
	}
	return prepared
}

// executeComposite runs a multi-node plan through composite execution,
// with the aggregation strategy derived from the parallelization verdict.
// Each subtask is fed the payloads of its successfully settled dependencies,
// adapted through the transform registry when the handoff crosses a service
// boundary.
func (o *Orchestrator) executeComposite(ctx context.Context, task models.Task, plan Plan, subtasks []models.Task, analysis TaskAnalysis, usage *usageCounter) Result {
	started := time.Now()
	settled := &settledResults{results: make(map[string]models.TaskResult, len(subtasks))}

	run := func(ctx context.Context, sub models.Task) models.TaskResult {
		node := plan.Chain.Node(sub.ID)
		if node == nil {
			return models.FailureResult(sub.ID, fmt.Errorf("no chain node for subtask %s", sub.ID), "", time.Now())
		}
		sub = o.feedDependencies(sub, *node, plan, settled)
		res := o.executeNode(ctx, sub, *node, analysis, usage)
		settled.set(sub.ID, res)
		return res
	}
	executor := delegator.NewCompositeExecutor(run, o.logger)

	composite := models.CompositeTask{
		Task:         task,
		Subtasks:     subtasks,
		Aggregation:  aggregationFor(plan.Parallelization),
		Dependencies: plan.Chain.Dependencies,
	}
	outcome := executor.Execute(ctx, composite)

	overall := models.TaskResult{
		TaskID:  task.ID,
		Success: outcome.Success,
		Status:  models.StatusSuccess,
		Payload: outcome.Payload,
		Error:   outcome.Error,
		Metadata: models.ResultMetadata{
			Duration:  time.Since(started),
			Timestamp: time.Now(),
		},
	}
	if !outcome.Success {
		overall.Status = models.StatusError
	}
	return Result{
		TaskResult: overall,
		Subtasks:   outcome.Subtasks,
		Incomplete: outcome.Incomplete,
	}
}

// feedDependencies merges the payloads of the subtask's successfully
// settled dependencies into its own, earlier dependencies first and the
// subtask's own keys winning on collision. A payload produced by a
// different service than the one about to consume it is adapted through
// the transform registry first.
func (o *Orchestrator) feedDependencies(sub models.Task, node models.ModelChainNode, plan Plan, settled *settledResults) models.Task {
	deps := plan.Chain.Dependencies[sub.ID]
	if len(deps) == 0 {
		return sub
	}

	var upstream []map[string]any
	for _, dep := range deps {
		res, ok := settled.get(dep)
		if !ok || !res.Success || len(res.Payload) == 0 {
			continue
		}
		payload := res.Payload
		if depNode := plan.Chain.Node(dep); depNode != nil && depNode.ServiceID != node.ServiceID {
			payload = o.adaptPayload(depNode.TaskType, node.TaskType, payload)
		}
		upstream = append(upstream, payload)
	}
	if len(upstream) == 0 {
		return sub
	}

	sub.Payload = models.MergePayloads(append(upstream, sub.Payload)...)
	return sub
}

// adaptPayload runs one cross-service payload handoff through the
// transform registry, memoized in the context cache under a
// (source, target, content hash) key.
func (o *Orchestrator) adaptPayload(sourceType, targetType string, payload map[string]any) map[string]any {
	if o.cache == nil {
		return o.transforms.Transform(sourceType, targetType, payload)
	}
	adapted, err := o.cache.GetOrCompute(
		contextcache.TransformKey(sourceType, targetType, payload),
		func() (map[string]any, error) {
			return o.transforms.Transform(sourceType, targetType, payload), nil
		},
	)
	if err != nil {
		return payload
	}
	return adapted
}

// settledResults collects subtask outcomes across concurrent fan-out so
// later subtasks can consume their dependencies' payloads.
type settledResults struct {
	mu      sync.Mutex
	results map[string]models.TaskResult
}

func (s *settledResults) set(id string, res models.TaskResult) {
	s.mu.Lock()
	s.results[id] = res
	s.mu.Unlock()
}

func (s *settledResults) get(id string) (models.TaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[id]
	return res, ok
}

// aggregationFor maps the chain's parallelization verdict to an execution
// strategy: fully parallel chains fan out, mixed chains run conditionally
// on their dependency edges, sequential chains run in order.
func aggregationFor(p Parallelization) models.AggregationStrategy {
	switch p {
	case ParallelizationFull:
		return models.AggregationParallel
	case ParallelizationSelective:
		return models.AggregationConditional
	default:
		return models.AggregationSequential
	}
}

// executeNode runs one node: the primary service with bounded same-service
// retries, then each declared fallback. Exhausting all of them settles into
// a terminal failure naming every service attempted.
func (o *Orchestrator) executeNode(ctx context.Context, task models.Task, node models.ModelChainNode, analysis TaskAnalysis, usage *usageCounter) models.TaskResult {
	services := append([]string{node.ServiceID}, node.FallbackServices...)
	retries := retryBudget(task, analysis)

	var attempted []string
	var lastErr string
	for _, serviceID := range services {
		for attempt := 0; attempt <= retries; attempt++ {
			attempted = append(attempted, serviceID)
			res := o.attemptService(ctx, task, serviceID, usage)
			if res.Success {
				return res
			}
			lastErr = res.Error
		}
		o.logger.Warn("service failed, trying fallback",
			"task_id", task.ID, "service_id", serviceID, "error", lastErr)
	}

	err := fmt.Errorf("all services failed for task %s (attempted %v): %s", task.ID, attempted, lastErr)
	return models.FailureResult(task.ID, err, node.ServiceID, time.Now())
}

// retryBudget derives the same-service retry count: an explicit MaxRetries
// wins, otherwise high-priority or complex work earns one retry.
func retryBudget(task models.Task, analysis TaskAnalysis) int {
	if task.MaxRetries > 0 {
		return task.MaxRetries
	}
	if task.Priority >= 8 || analysis.Complexity > decomposeThreshold {
		return 1
	}
	return 0
}

// attemptService executes the task on one service, enforcing the advisory
// timeout and recording the outcome in the registry and feedback window.
func (o *Orchestrator) attemptService(ctx context.Context, task models.Task, serviceID string, usage *usageCounter) models.TaskResult {
	started := time.Now()
	o.emitTaskEvent(events.TypeTaskStarted, task.ID, serviceID, nil)

	svc, err := o.directory.GetService(serviceID)
	if err != nil {
		res := models.FailureResult(task.ID, err, serviceID, started)
		o.emitTaskEvent(events.TypeTaskFailed, task.ID, serviceID, err)
		return res
	}

	usage.bump(serviceID)
	res := o.invoke(ctx, svc, task)
	latency := time.Since(started)

	o.registry.RecordOutcome(serviceID, task.Type, res.Success, latency)
	o.history.Record(FeedbackSample{
		ServiceID:           serviceID,
		TaskType:            task.Type,
		Latency:             latency,
		Success:             res.Success,
		ResourceUtilization: utilizationOf(res),
		Timestamp:           time.Now(),
	})

	if res.Success {
		o.emitTaskEvent(events.TypeTaskCompleted, task.ID, serviceID, nil)
	} else {
		o.emitTaskEvent(events.TypeTaskFailed, task.ID, serviceID, fmt.Errorf("%s", res.Error))
	}
	return res
}

// invoke calls the service, honoring the task's advisory timeout: when the
// budget elapses the orchestrator stops waiting and reports a timeout
// failure without forcibly cancelling the in-flight call.
func (o *Orchestrator) invoke(ctx context.Context, svc backend.Service, task models.Task) models.TaskResult {
	started := time.Now()
	run := func() models.TaskResult {
		res, err := svc.ExecuteTask(ctx, task)
		if err != nil {
			return models.FailureResult(task.ID, err, svc.ID(), started)
		}
		return res
	}
	if task.Timeout <= 0 {
		return run()
	}

	done := make(chan models.TaskResult, 1)
	go func() { done <- run() }()

	select {
	case res := <-done:
		return res
	case <-time.After(task.Timeout):
		err := fmt.Errorf("timeout after %s waiting for service %s", task.Timeout, svc.ID())
		return models.FailureResult(task.ID, err, svc.ID(), started)
	case <-ctx.Done():
		return models.FailureResult(task.ID, ctx.Err(), svc.ID(), started)
	}
}

// record appends to the bounded history and triggers the periodic
// bottleneck check.
func (o *Orchestrator) record(result models.TaskResult) {
	o.history.Append(result)
	if o.detector != nil {
		o.detector.MaybeDetect()
	}
}

func (o *Orchestrator) emitTaskEvent(t events.Type, taskID, serviceID string, err error) {
	if o.emitter == nil {
		return
	}
	ev := events.New(t)
	ev.TaskID = taskID
	ev.ServiceID = serviceID
	ev.Error = err
	o.emitter.Emit(ev)
}

// utilizationOf reads the service-reported utilization from the result
// payload, zero when unreported.
func utilizationOf(res models.TaskResult) float64 {
	if v, ok := res.Payload["resource_utilization"].(float64); ok {
		return v
	}
	return 0
}

// withContext returns the task with the prepared context merged over its
// own. Nil prepared context leaves the task untouched.
func withContext(task models.Task, prepared map[string]any) models.Task {
	if len(prepared) == 0 {
		return task
	}
	merged := make(map[string]any, len(prepared)+len(task.Context))
	for k, v := range prepared {
		merged[k] = v
	}
	for k, v := range task.Context {
		merged[k] = v
	}
	task.Context = merged
	return task
}

// usageCounter tracks per-service execution counts across concurrent
// subtask fan-out.
type usageCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (u *usageCounter) bump(serviceID string) {
	u.mu.Lock()
	u.counts[serviceID]++
	u.mu.Unlock()
}

func (u *usageCounter) snapshot() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]int, len(u.counts))
	for k, v := range u.counts {
		out[k] = v
	}
	return out
}
