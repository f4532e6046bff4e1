package delegator

import (
	"container/heap"
	"sync"

	"github.com/sonatahq/sonata/pkg/models"
)

// Queue is a priority scheduling queue. Ordering is priority descending,
// then deadline ascending for deadline-bearing tasks, with deadline-bearing
// tasks ranked ahead of tasks without one. A task is ready when none of its
// declared dependencies are currently in flight.
type Queue struct {
	mu       sync.Mutex
	heap     taskHeap
	inFlight map[string]bool
	seq      uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{inFlight: make(map[string]bool)}
}

// Schedule inserts the task with the given priority, overriding the task's
// own Priority field.
func (q *Queue) Schedule(task models.Task, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task.Priority = priority
	q.seq++
	heap.Push(&q.heap, &queued{task: task, seq: q.seq})
}

// Next returns the highest-priority ready task and marks it in flight.
// Returns false when no queued task is ready.
func (q *Queue) Next() (models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Blocked tasks keep their position: pop until a ready task surfaces,
	// then push the blocked prefix back.
	var blocked []*queued
	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*queued)
		if q.readyLocked(item.task) {
			for _, b := range blocked {
				heap.Push(&q.heap, b)
			}
			q.inFlight[item.task.ID] = true
			return item.task, true
		}
		blocked = append(blocked, item)
	}
	for _, b := range blocked {
		heap.Push(&q.heap, b)
	}
	return models.Task{}, false
}

// Complete clears the in-flight mark for a task, unblocking its dependents.
func (q *Queue) Complete(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, taskID)
}

// Len returns the number of queued (not in-flight) tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func (q *Queue) readyLocked(task models.Task) bool {
	for _, dep := range task.DependsOn {
		if q.inFlight[dep] {
			return false
		}
	}
	return true
}

type queued struct {
	task models.Task
	seq  uint64
}

type taskHeap []*queued

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	aDeadline, bDeadline := a.task.Deadline, b.task.Deadline
	switch {
	case aDeadline != nil && bDeadline != nil:
		if !aDeadline.Equal(*bDeadline) {
			return aDeadline.Before(*bDeadline)
		}
	case aDeadline != nil:
		return true
	case bDeadline != nil:
		return false
	}
	// FIFO within equal ordering keys.
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queued)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
