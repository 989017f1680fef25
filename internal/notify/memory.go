package notify

import (
	"context"
	"sync"
)

// InMemoryQueue is the test-time queue. A bounded buffer keeps the
// best-effort contract honest: overflow drops the message instead of
// blocking the producer.
type InMemoryQueue struct {
	mu       sync.Mutex
	messages []Message
	capacity int
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{capacity: 1024}
}

func (q *InMemoryQueue) Enqueue(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) >= q.capacity {
		return nil
	}
	q.messages = append(q.messages, msg)
	return nil
}

func (q *InMemoryQueue) Dequeue(_ context.Context) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil, nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return &msg, nil
}

// Pending returns a snapshot of queued messages. Test helper.
func (q *InMemoryQueue) Pending() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message{}, q.messages...)
}
