package internal

import "sync"

// DefaultQueueSize bounds the number of undrained messages
const DefaultQueueSize = 1024

// MessageQueue is the bounded hand-off between the subscription callback and the
// relay loop. When full, the oldest message is dropped; the polling fallback picks up
// any claim lost that way.
type MessageQueue struct {
	mu       sync.Mutex
	items    []Message
	capacity int
	dropped  uint64
	onDrop   func(Message)
}

// NewMessageQueue creates a queue with the given capacity (minimum 1)
func NewMessageQueue(capacity int, onDrop func(Message)) *MessageQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &MessageQueue{
		items:    make([]Message, 0, capacity),
		capacity: capacity,
		onDrop:   onDrop,
	}
}

// Push appends a message without blocking
func (q *MessageQueue) Push(msg Message) {
	q.mu.Lock()
	var dropped *Message
	if len(q.items) == q.capacity {
		oldest := q.items[0]
		dropped = &oldest
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped++
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	if dropped != nil && q.onDrop != nil {
		q.onDrop(*dropped)
	}
}

// Drain removes and returns every buffered message in arrival order
func (q *MessageQueue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := make([]Message, len(q.items))
	copy(out, q.items)
	q.items = q.items[:0]
	return out
}

// Len returns the number of buffered messages
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many messages were discarded because the queue was full
func (q *MessageQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
