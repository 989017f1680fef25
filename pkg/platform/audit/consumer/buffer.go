package consumer

import "sync"

// RingBuffer is a bounded, thread-safe staging buffer for security events
// awaiting forwarding. When full, the oldest events are shed to make room.
type RingBuffer struct {
	mu       sync.Mutex
	events   []Envelope
	head     int
	tail     int
	count    int
	capacity int
	dropped  int64
}

// NewRingBuffer creates a buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 10000
	}
	return &RingBuffer{
		events:   make([]Envelope, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an event, shedding the oldest when the buffer is full.
func (b *RingBuffer) Enqueue(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
	}
	b.events[b.head] = env
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// DequeueBatch removes up to n events in arrival order.
func (b *RingBuffer) DequeueBatch(n int) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}
	batch := make([]Envelope, n)
	for i := range batch {
		batch[i] = b.events[b.tail]
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return batch
}

// Len returns the number of buffered events.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of shed events.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
