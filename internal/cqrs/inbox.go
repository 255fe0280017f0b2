package cqrs

import "sync"

// inbox is an unbounded FIFO ring of events. Push never blocks, so a saga step
// that publishes back into its own shard cannot deadlock.
type inbox struct {
	mu     sync.Mutex
	events []Event
	head   int // next write position
	tail   int // next read position
	count  int
	notify chan struct{}
}

func newInbox(capacity int) *inbox {
	if capacity <= 0 {
		capacity = 64
	}
	return &inbox{
		events: make([]Event, capacity),
		notify: make(chan struct{}, 1),
	}
}

func (q *inbox) Push(e Event) {
	q.mu.Lock()
	if q.count == len(q.events) {
		q.grow()
	}
	q.events[q.head] = e
	q.head = (q.head + 1) % len(q.events)
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// grow doubles capacity, unrolling the ring so tail starts at zero.
func (q *inbox) grow() {
	next := make([]Event, len(q.events)*2)
	for i := 0; i < q.count; i++ {
		next[i] = q.events[(q.tail+i)%len(q.events)]
	}
	q.events = next
	q.tail = 0
	q.head = q.count
}

// DequeueBatch removes up to n events in FIFO order.
func (q *inbox) DequeueBatch(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n > q.count {
		n = q.count
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = q.events[q.tail]
		q.events[q.tail] = Event{}
		q.tail = (q.tail + 1) % len(q.events)
	}
	q.count -= n
	return out
}

func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
