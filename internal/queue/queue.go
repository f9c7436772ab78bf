// Package queue holds the pages waiting for airtime.
package queue

import (
	"sync"

	"github.com/USA-RedDragon/dapnet-tx/internal/pocsag"
)

// Queue is a FIFO of pages that also allows putting a page back at the head.
// It is safe for concurrent use by ingestion and the scheduler tick.
type Queue struct {
	mu    sync.Mutex
	items []*pocsag.Message
}

func New() *Queue {
	return &Queue{}
}

// Push appends msg to the tail.
func (q *Queue) Push(msg *pocsag.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
}

// PushFront reinserts msg at the head so it is the next one popped.
func (q *Queue) PushFront(msg *pocsag.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = msg
}

// Pop removes and returns the head. It returns false when the queue is empty.
func (q *Queue) Pop() (*pocsag.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Drop the consumed backing array.
		q.items = nil
	}
	return msg, true
}

func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards all pending pages and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
