package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonatahq/sonata/internal/delegator"
	"github.com/sonatahq/sonata/pkg/models"
)

// ExecuteBatch runs a set of tasks through the scheduling queue with a
// fixed pool of workers. Admission order is priority descending, then
// earliest deadline, then submission order; a task whose declared
// dependency is currently executing is held back until that execution
// completes. Every task settles into the returned map keyed by task ID,
// planning failures included.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, tasks []models.Task, workers int) map[string]Result {
	if workers < 1 {
		workers = 1
	}

	queue := delegator.NewQueue()
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = uuid.NewString()
		}
		queue.Schedule(tasks[i], tasks[i].Priority)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]Result, len(tasks))
		wg      sync.WaitGroup
	)
	completions := make(chan struct{}, len(tasks)+workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := queue.Next()
				if !ok {
					if queue.Len() == 0 || ctx.Err() != nil {
						// Forward the wake-up so the remaining held-back
						// workers also drain and exit.
						select {
						case completions <- struct{}{}:
						default:
						}
						return
					}
					select {
					case <-completions:
					case <-ctx.Done():
					}
					continue
				}

				res, err := o.ExecuteTask(ctx, task)
				if err != nil {
					res = Result{TaskResult: models.FailureResult(task.ID, err, "", time.Now())}
				}

				mu.Lock()
				results[task.ID] = res
				mu.Unlock()

				queue.Complete(task.ID)
				select {
				case completions <- struct{}{}:
				default:
				}
			}
		}()
	}
	wg.Wait()
	return results
}
