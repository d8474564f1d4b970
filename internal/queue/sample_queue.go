// Package queue provides the unbounded sample FIFO that sits between encoder
// callbacks and the merge engine.
package queue

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
)

// SampleQueue is a multi-producer, single-consumer FIFO of samples.
//
// Push never blocks on the consumer and never fails. PeekTimestamp and Pop
// are meant for exactly one consumer goroutine.
type SampleQueue struct {
	mu    sync.Mutex
	items *linkedlistqueue.Queue
}

// New creates an empty queue.
func New() *SampleQueue {
	return &SampleQueue{
		items: linkedlistqueue.New(),
	}
}

// Push appends a sample at the tail.
func (q *SampleQueue) Push(sample core.Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Enqueue(sample)
}

// PeekTimestamp returns the PTS of the head sample without removing it.
// The boolean is false when the queue is empty.
func (q *SampleQueue) PeekTimestamp() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.items.Peek()
	if !ok {
		return 0, false
	}
	return v.(core.Sample).PTS, true
}

// Pop removes and returns the head sample.
func (q *SampleQueue) Pop() (core.Sample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.items.Dequeue()
	if !ok {
		return core.Sample{}, false
	}
	return v.(core.Sample), true
}

// Len returns the number of pending samples.
func (q *SampleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

// Clear discards every pending sample and returns how many were dropped.
func (q *SampleQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Size()
	q.items.Clear()
	return n
}
