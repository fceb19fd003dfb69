package queue

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/homefox/homefox/pkg/task"
)

// PriorityQueue orders pending tasks by (priority desc, created_at asc).
// A side map provides O(1) lookup by id. Tasks cancelled while queued stay in
// the heap as tombstones and are discarded at pop. All mutating operations
// are serialized by one mutex; the queue never blocks.
type PriorityQueue struct {
	mu    sync.Mutex
	items taskHeap
	byID  map[string]*task.Task
	seq   uint64 // FIFO tie-break for identical timestamps

	submitted uint64
	purged    uint64
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{byID: make(map[string]*task.Task)}
}

// Enqueue inserts a pending task. Re-enqueueing the same task (after a
// scheduler rejection, which pops the heap entry but keeps the task tracked)
// restores its heap entry; a different task with a known id is rejected.
func (q *PriorityQueue) Enqueue(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if tracked, exists := q.byID[t.ID]; exists {
		if tracked != t {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		q.seq++
		heap.Push(&q.items, &heapItem{task: t, seq: q.seq})
		return nil
	}
	q.byID[t.ID] = t
	q.seq++
	heap.Push(&q.items, &heapItem{task: t, seq: q.seq})
	q.submitted++
	return nil
}

// Dequeue pops the highest-priority task that is still pending. Tombstones
// (tasks cancelled or purged while queued) are discarded and the pop retried.
// Returns nil when the queue holds no pending task.
func (q *PriorityQueue) Dequeue() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() > 0 {
		item := heap.Pop(&q.items).(*heapItem)
		t, known := q.byID[item.task.ID]
		if !known || t.CurrentStatus() != task.StatusPending {
			continue // tombstone
		}
		return t
	}
	return nil
}

// GetByID returns the task with the given id, or nil.
func (q *PriorityQueue) GetByID(taskID string) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.byID[taskID]
}

// Cancel transitions a Pending or Running task to Cancelled. Running tasks
// additionally need their scheduler handle cancelled; the caller (agent
// facade) propagates that. Returns false when the task is unknown or not
// cancellable.
func (q *PriorityQueue) Cancel(taskID string) bool {
	q.mu.Lock()
	t, exists := q.byID[taskID]
	q.mu.Unlock()
	if !exists || !t.Cancellable() {
		return false
	}
	// Transition outside the queue lock: TransitionTo takes the task lock.
	return t.TransitionTo(task.StatusCancelled, "cancelled by request") == nil
}

// RemoveCompleted purges terminal tasks from the side map and returns how
// many were removed. Their heap entries become tombstones.
func (q *PriorityQueue) RemoveCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, t := range q.byID {
		if t.IsTerminal() {
			delete(q.byID, id)
			removed++
		}
	}
	q.purged += uint64(removed)
	return removed
}

// Size returns the number of pending tasks.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, t := range q.byID {
		if t.CurrentStatus() == task.StatusPending {
			n++
		}
	}
	return n
}

// ListAll returns a snapshot of every known task.
func (q *PriorityQueue) ListAll() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := make([]*task.Task, 0, len(q.byID))
	for _, t := range q.byID {
		all = append(all, t.Snapshot())
	}
	return all
}

// GetStatistics returns a snapshot of queue counters.
func (q *PriorityQueue) GetStatistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Statistics{
		ByStatus:  make(map[string]int),
		ByType:    make(map[string]int),
		Total:     len(q.byID),
		Submitted: q.submitted,
		Purged:    q.purged,
	}
	for _, t := range q.byID {
		status := t.CurrentStatus()
		stats.ByStatus[string(status)]++
		stats.ByType[string(t.Type)]++
		if status == task.StatusPending {
			stats.Pending++
		}
	}
	return stats
}

// heapItem pairs a task with its insertion sequence number for FIFO
// tie-breaking among equal priorities.
type heapItem struct {
	task *task.Task
	seq  uint64
}

type taskHeap []*heapItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
		return a.task.CreatedAt.Before(b.task.CreatedAt)
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
