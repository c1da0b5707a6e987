// Package dispatch delivers token SMS after registration commits. Jobs wait
// in a queue until their delay has passed; workers re-check the message and
// voter before calling the provider.
package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"votegate/internal/gate/models"
)

// Queue holds pending jobs ordered by NotBefore.
type Queue interface {
	Enqueue(ctx context.Context, job models.SMSJob) error
	// Dequeue claims the earliest job due at now. ok is false when no job
	// is due.
	Dequeue(ctx context.Context, now time.Time) (job models.SMSJob, ok bool, err error)
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is an in-process queue used when Redis is not configured.
// Jobs are lost on restart.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs jobHeap
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job models.SMSJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.jobs, job)
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, now time.Time) (models.SMSJob, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 || !q.jobs[0].Due(now) {
		return models.SMSJob{}, false, nil
	}
	return heap.Pop(&q.jobs).(models.SMSJob), true, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

type jobHeap []models.SMSJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	return h[i].NotBefore.Before(h[j].NotBefore)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(models.SMSJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = models.SMSJob{}
	*h = old[:n-1]
	return job
}
