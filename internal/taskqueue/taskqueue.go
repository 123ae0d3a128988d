// Package taskqueue implements the bounded-admission priority queue that
// sits between Orchestrator.Spawn and the agent runner. Higher-priority
// tasks are dequeued first; tasks of equal priority are served in arrival
// order, using a monotonic sequence counter as the tiebreak the same way
// worktree.Manager mints unique branch names.
package taskqueue

import (
	"container/heap"
	"sync"
	"time"
)

// Priority orders tasks within the queue. Higher values are served first.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Urgent
)

// Task is one pending admission request.
type Task struct {
	AgentID     string
	Text        string
	Priority    Priority
	EnqueuedAt  time.Time
	seq         uint64
}

// Queue is a thread-safe priority queue bounded by a maximum concurrent
// active-run count. Enqueue/TryDequeue/MarkDone maintain the invariant
// 0 <= ActiveCount() <= MaxConcurrent.
type Queue struct {
	mu            sync.Mutex
	items         taskHeap
	activeCount   int
	maxConcurrent int
	nextSeq       uint64
}

// New returns a Queue that admits at most maxConcurrent tasks at once.
// maxConcurrent <= 0 is treated as 1.
func New(maxConcurrent int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{maxConcurrent: maxConcurrent}
}

// Enqueue adds a task to the queue. It never blocks.
func (q *Queue) Enqueue(agentID, text string, p Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := &Task{
		AgentID:    agentID,
		Text:       text,
		Priority:   p,
		EnqueuedAt: time.Now(),
		seq:        q.nextSeq,
	}
	q.nextSeq++
	heap.Push(&q.items, t)
}

// TryDequeue pops the highest-priority, oldest-enqueued task if there is
// free admission capacity. It returns (nil, false) when the queue is empty
// or the active-run budget is exhausted; it does not block.
func (q *Queue) TryDequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.activeCount >= q.maxConcurrent || q.items.Len() == 0 {
		return nil, false
	}
	t := heap.Pop(&q.items).(*Task)
	q.activeCount++
	return t, true
}

// MarkDone releases one admission slot. Call exactly once per task that
// was handed out by TryDequeue, regardless of how the run ended.
func (q *Queue) MarkDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.activeCount > 0 {
		q.activeCount--
	}
}

// ActiveCount returns the number of tasks currently checked out via
// TryDequeue and not yet released with MarkDone.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeCount
}

// Len returns the number of tasks still waiting for admission.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// taskHeap implements container/heap.Interface, ordering by priority
// (descending) then sequence number (ascending, FIFO within a priority).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
