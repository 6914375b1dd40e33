package schedule

import (
	"container/heap"
	"time"
)

// ReadyQueue ranks eligible tasks by priority descending, then next-run time
// ascending, then agent id. The queue is rebuilt each tick from the table;
// it never owns task state.
type ReadyQueue struct {
	h taskHeap
}

// taskLess is the single source of truth for dispatch order.
func taskLess(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.NextRunTime.Equal(b.NextRunTime) {
		return a.NextRunTime.Before(b.NextRunTime)
	}
	return a.AgentID < b.AgentID
}

// BuildReady collects the tasks eligible at now, excluding agents already in
// flight, and returns them as a heap ready for ordered popping.
func BuildReady(tb *Table, now time.Time, running map[string]struct{}) *ReadyQueue {
	q := &ReadyQueue{}
	for _, t := range tb.tasks {
		if !t.Eligible(now) {
			continue
		}
		if _, inFlight := running[t.AgentID]; inFlight {
			continue
		}
		q.h = append(q.h, t)
	}
	heap.Init(&q.h)
	return q
}

// Pop removes and returns the highest-ranked task, or nil when empty.
func (q *ReadyQueue) Pop() *Task {
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Task)
}

// PopN removes and returns up to n tasks in dispatch order.
func (q *ReadyQueue) PopN(n int) []*Task {
	if n <= 0 {
		return nil
	}
	out := make([]*Task, 0, n)
	for len(out) < n {
		t := q.Pop()
		if t == nil {
			break
		}
		out = append(out, t)
	}
	return out
}

// Len returns the number of queued tasks.
func (q *ReadyQueue) Len() int { return len(q.h) }

// taskHeap implements heap.Interface over tasks using taskLess.
type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return taskLess(h[i], h[j]) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
