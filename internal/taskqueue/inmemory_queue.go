package taskqueue

import "context"

const defaultCapacity = 1024

// InMemoryQueue buffers run and resume tasks in a channel. Tasks do not
// survive a process restart; use RedisQueue when durability matters.
type InMemoryQueue struct {
	tasks chan Task
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a queue holding up to capacity pending tasks.
// Non-positive capacities fall back to a default of 1024.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &InMemoryQueue{tasks: make(chan Task, capacity)}
}

// Enqueue adds t, blocking while the queue is full.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.tasks <- t:
		return nil
	}
}

// Dequeue blocks until a task is available or ctx is cancelled.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t := <-q.tasks:
		return &t, nil
	}
}

// Len reports the number of buffered tasks.
func (q *InMemoryQueue) Len() int { return len(q.tasks) }
