package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sonatahq/sonata/internal/backend"
	"github.com/sonatahq/sonata/internal/config"
	"github.com/sonatahq/sonata/internal/contextcache"
	"github.com/sonatahq/sonata/internal/contextstore"
	"github.com/sonatahq/sonata/internal/delegator"
	"github.com/sonatahq/sonata/internal/events"
	"github.com/sonatahq/sonata/internal/logging"
	"github.com/sonatahq/sonata/internal/orchestrator"
	"github.com/sonatahq/sonata/internal/registry"
	"github.com/sonatahq/sonata/internal/state"
	"github.com/sonatahq/sonata/internal/transform"
	"github.com/sonatahq/sonata/pkg/models"
)

var (
	runTaskType string
	runPayload  string
	runPriority int
	runTimeout  time.Duration
	runEntity   string
	runBatch    string
	runWorkers  int
	runMock     bool
	runVerbose  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one task through the orchestration pipeline",
	Long: `Execute a task: analyze it, plan a service chain, prepare context,
run it (with fallbacks), and print the enriched result.

Examples:
  sonata run --type text-generation --payload '{"prompt":"write a haiku"}'
  sonata run --type transcription --payload '{"audio":[0.1,0.2]}' --priority 8
  sonata run --type summarization --payload '{"text":"..."}' --entity session-1
  sonata run --batch tasks.yaml --workers 4`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTaskType, "type", "", "Task type (e.g. text-generation, transcription)")
	runCmd.Flags().StringVar(&runPayload, "payload", "{}", "Task payload as JSON")
	runCmd.Flags().IntVar(&runPriority, "priority", 5, "Scheduling priority, 1-10")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Advisory execution budget (0 = none)")
	runCmd.Flags().StringVar(&runEntity, "entity", "", "Conversation entity id to record this exchange under")
	runCmd.Flags().StringVar(&runBatch, "batch", "", "YAML file listing tasks to run through the scheduling queue")
	runCmd.Flags().IntVar(&runWorkers, "workers", 2, "Worker count for batch execution")
	runCmd.Flags().BoolVar(&runMock, "mock", false, "Use the mock language backend instead of the Anthropic API")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Print emitted events")
}

// core bundles the wired subsystems behind one run.
type core struct {
	cfg          *config.Config
	orchestrator *orchestrator.Orchestrator
	store        *contextstore.Store
	cache        *contextcache.Cache
	emitter      *events.Emitter
	db           *state.DB
	watcher      *registry.TableWatcher
}

func (c *core) close() {
	if c.watcher != nil {
		c.watcher.Close()
	}
	c.store.Close()
	c.cache.Close()
	c.emitter.Close()
	if c.db != nil {
		c.db.Close()
	}
}

// buildCore wires config, persistence, registry, backends, delegation, and
// the orchestrator. Persistence failures degrade to memory-only operation.
func buildCore(logger logging.Logger) (*core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	emitter := events.NewEmitter(100)

	dbPath := cfg.State.DBPath
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	var blobs state.BlobStore
	db, err := state.Open(dbPath)
	if err != nil {
		logger.Warn("state database unavailable, running memory-only", "error", err)
	} else {
		blobs = db
	}

	static := registry.DefaultStaticTable()
	if path := cfg.Registry.StaticTablePath; path != "" {
		loaded, err := registry.LoadStaticTable(path)
		if err != nil {
			return nil, fmt.Errorf("loading capability table: %w", err)
		}
		static = loaded
	}

	reg := registry.New()
	dir := registry.NewDirectory(reg, static, emitter, logger)

	if err := dir.RegisterService(backend.NewAudioService("")); err != nil {
		return nil, fmt.Errorf("registering audio service: %w", err)
	}
	if runMock {
		mock := backend.NewMockService("anthropic-language",
			"text-generation", "summarization", "pattern-recognition")
		if err := dir.RegisterService(mock); err != nil {
			return nil, fmt.Errorf("registering mock service: %w", err)
		}
	} else {
		lang, err := backend.NewLanguageService(backend.LanguageConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        cfg.Anthropic.APIKey,
			UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			logger.Warn("language backend unavailable", "error", err)
		} else if err := dir.RegisterService(lang); err != nil {
			return nil, fmt.Errorf("registering language service: %w", err)
		}
	}

	var watcher *registry.TableWatcher
	if cfg.Registry.WatchStaticTable && cfg.Registry.StaticTablePath != "" {
		watcher, err = registry.WatchStaticTable(cfg.Registry.StaticTablePath, dir, logger)
		if err != nil {
			logger.Warn("capability table watch failed", "error", err)
		}
	}

	cache := contextcache.New(cfg.Cache.MaxSizeBytes, cfg.Cache.TTL, cfg.Cache.PruneInterval, logger)
	store := contextstore.New(blobs, emitter, logger, contextstore.Config{
		OptimizeThreshold: cfg.ContextStore.OptimizeThreshold,
		OverflowIdle:      cfg.ContextStore.OverflowIdle,
	})

	selector := delegator.NewSelector(reg, delegator.SpecialistRule{
		TaskTypes:  cfg.Delegation.SpecialistTaskTypes,
		ServiceID:  cfg.Delegation.SpecialistServiceID,
		Fallback:   cfg.Delegation.SpecialistFallbackID,
		Confidence: 0.95,
	}, logger)

	history := orchestrator.NewHistory(cfg.Orchestrator.HistoryPerTask, cfg.Orchestrator.FeedbackLimit)
	detector := orchestrator.NewBottleneckDetector(history, cfg.Orchestrator.BottleneckInterval, emitter, logger)

	orch := orchestrator.New(orchestrator.Dependencies{
		Registry:  reg,
		Directory: dir,
		Selector:  selector,
		Cache:     cache,
		ContextFetcher: func(serviceID string) (map[string]any, error) {
			return serviceContextView(reg, serviceID), nil
		},
		Transforms: defaultTransforms(logger),
		History:    history,
		Detector:   detector,
		Emitter:    emitter,
		Logger:     logger,
	})

	return &core{
		cfg:          cfg,
		orchestrator: orch,
		store:        store,
		cache:        cache,
		emitter:      emitter,
		db:           db,
		watcher:      watcher,
	}, nil
}

// defaultTransforms wires the cross-service payload handoffs between the
// built-in backends: raw audio artifacts stay on the audio side, text-bearing
// keys flow to the language services.
func defaultTransforms(logger logging.Logger) *transform.Registry {
	r := transform.NewRegistry(logger)
	r.Register("feature-extraction", transform.Wildcard,
		transform.NewBuilder("feature-extraction", transform.Wildcard).
			Drop("features").
			WithProvenance().
			Build())
	r.Register("transcription", "summarization",
		transform.NewBuilder("transcription", "summarization").
			Keep("transcription", "word_count", "duration").
			WithProvenance().
			Build())
	r.Register("transcription", "text-generation",
		transform.NewBuilder("transcription", "text-generation").
			Keep("transcription", "word_count", "duration").
			WithProvenance().
			Build())
	return r
}

// serviceContextView assembles the cacheable context view for one service:
// its live metrics snapshot at preparation time.
func serviceContextView(reg *registry.Registry, serviceID string) map[string]any {
	view := map[string]any{
		"service_id":  serviceID,
		"prepared_at": time.Now().Format(time.RFC3339),
	}
	for _, m := range reg.Snapshot()[serviceID] {
		view["perf_"+m.TaskType] = map[string]any{
			"success_rate": m.SuccessRate,
			"latency_ms":   m.AverageLatency.Milliseconds(),
			"samples":      m.SampleSize,
		}
	}
	return view
}

func runRun(cmd *cobra.Command, args []string) error {
	if runBatch == "" && runTaskType == "" {
		return fmt.Errorf("either --type or --batch is required")
	}

	logger := logging.Default("sonata")

	c, err := buildCore(logger)
	if err != nil {
		return err
	}
	defer c.close()

	if runVerbose {
		go printEvents(c.emitter)
	}

	if runBatch != "" {
		tasks, err := loadBatchTasks(runBatch)
		if err != nil {
			return err
		}
		results := c.orchestrator.ExecuteBatch(context.Background(), tasks, runWorkers)
		printBatchResults(results)
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(runPayload), &payload); err != nil {
		return fmt.Errorf("parsing --payload: %w", err)
	}

	task := models.Task{
		Type:     runTaskType,
		Payload:  payload,
		Priority: runPriority,
		Timeout:  runTimeout,
	}

	if runEntity != "" {
		recordPromptMessage(c, payload)
	}

	result, err := c.orchestrator.ExecuteTask(context.Background(), task)
	if err != nil {
		return err
	}

	if runEntity != "" {
		recordResultMessage(c, result)
	}

	printResult(result)
	return nil
}

// recordPromptMessage appends the caller's input to the entity's bounded
// conversation context, initializing it on first use.
func recordPromptMessage(c *core, payload map[string]any) {
	text, ok := payload["prompt"].(string)
	if !ok {
		if text, ok = payload["text"].(string); !ok {
			return
		}
	}
	if _, exists := c.store.GetContext(runEntity); !exists {
		constraints := models.ModelConstraints{ContextWindow: c.cfg.ContextStore.DefaultContextWindow}
		if err := c.store.Initialize(runEntity, constraints); err != nil {
			return
		}
	}
	c.store.AddMessage(runEntity, models.RoleUser, text)
}

func recordResultMessage(c *core, result orchestrator.Result) {
	if text, ok := result.Payload["text"].(string); ok && text != "" {
		c.store.AddMessage(runEntity, models.RoleAssistant, text)
	}
}

func printResult(result orchestrator.Result) {
	if result.Success {
		color.Green("✓ task %s succeeded", result.TaskID)
	} else {
		color.Red("✗ task %s failed: %s", result.TaskID, result.Error)
	}

	fmt.Printf("\nComplexity: %d  Parallelization: %s\n", result.Analysis.Complexity, result.Parallelization)

	if len(result.Payload) > 0 {
		pretty, err := json.MarshalIndent(result.Payload, "", "  ")
		if err == nil {
			fmt.Printf("\nPayload:\n%s\n", pretty)
		}
	}

	if len(result.Subtasks) > 0 {
		fmt.Println("\nSubtasks:")
		ids := make([]string, 0, len(result.Subtasks))
		for id := range result.Subtasks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			sub := result.Subtasks[id]
			mark := color.GreenString("✓")
			if !sub.Success {
				mark = color.RedString("✗")
			}
			fmt.Printf("  %s %s (%s)\n", mark, id, sub.Status)
		}
	}
	if len(result.Incomplete) > 0 {
		color.Yellow("Incomplete: %v", result.Incomplete)
	}

	fmt.Println("\nStage timings:")
	for _, stage := range []string{"analyze", "plan", "prepare", "execute", "record"} {
		fmt.Printf("  %-8s %s\n", stage, result.StageTimings[stage])
	}

	if len(result.ServicesUsed) > 0 {
		fmt.Println("\nServices used:")
		for id, count := range result.ServicesUsed {
			fmt.Printf("  %s ×%d\n", id, count)
		}
	}
}

// batchEntry is the YAML shape of one task in a batch file.
type batchEntry struct {
	ID        string         `yaml:"id"`
	Type      string         `yaml:"type"`
	Priority  int            `yaml:"priority"`
	Payload   map[string]any `yaml:"payload"`
	Timeout   string         `yaml:"timeout"`
	DependsOn []string       `yaml:"depends_on"`
}

// loadBatchTasks reads a YAML list of task descriptions:
//
//	- id: summarize-report
//	  type: summarization
//	  priority: 8
//	  timeout: 30s
//	  payload:
//	    text: ...
func loadBatchTasks(path string) ([]models.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var entries []batchEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("batch file %s lists no tasks", path)
	}

	tasks := make([]models.Task, 0, len(entries))
	for i, e := range entries {
		if e.Type == "" {
			return nil, fmt.Errorf("batch entry %d has no type", i)
		}
		priority := e.Priority
		if priority == 0 {
			priority = 5
		}
		var timeout time.Duration
		if e.Timeout != "" {
			timeout, err = time.ParseDuration(e.Timeout)
			if err != nil {
				return nil, fmt.Errorf("batch entry %d timeout: %w", i, err)
			}
		}
		tasks = append(tasks, models.Task{
			ID:        e.ID,
			Type:      e.Type,
			Payload:   e.Payload,
			Priority:  priority,
			Timeout:   timeout,
			DependsOn: e.DependsOn,
		})
	}
	return tasks, nil
}

func printBatchResults(results map[string]orchestrator.Result) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	succeeded := 0
	for _, id := range ids {
		res := results[id]
		if res.Success {
			succeeded++
			color.Green("✓ %s (%s)", id, res.Metadata.Duration.Round(time.Millisecond))
		} else {
			color.Red("✗ %s: %s", id, res.Error)
		}
	}
	fmt.Printf("\n%d/%d tasks succeeded\n", succeeded, len(ids))
}

func printEvents(emitter *events.Emitter) {
	for ev := range emitter.Events() {
		line := fmt.Sprintf("[%s] %s", ev.Timestamp.Format("15:04:05.000"), ev.Type)
		if ev.ServiceID != "" {
			line += " service=" + ev.ServiceID
		}
		if ev.TaskID != "" {
			line += " task=" + ev.TaskID
		}
		if ev.Message != "" {
			line += " " + ev.Message
		}
		fmt.Println(color.CyanString(line))
	}
}
