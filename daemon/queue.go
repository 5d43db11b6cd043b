package daemon

import (
	"log/slog"
	"sync"

	"github.com/mountlink/mountlink/logging"
)

// Queue is a thread-safe dedup queue of download ids with a priority lane.
// Pop drains the priority lane first, then FIFO order.
type Queue struct {
	mu       sync.Mutex
	set      map[int64]struct{}
	priority []int64
	order    []int64
	notify   chan struct{} // signaled when items are added
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		set:    make(map[int64]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Push adds an id. Already-queued ids are a no-op.
func (q *Queue) Push(id int64) {
	q.mu.Lock()
	if _, exists := q.set[id]; exists {
		q.mu.Unlock()
		if logging.Enabled(slog.LevelDebug) {
			logging.Sub("queue").Debug("push dedup", "id", id)
		}
		return
	}
	q.set[id] = struct{}{}
	q.order = append(q.order, id)
	newLen := len(q.order) + len(q.priority)
	q.mu.Unlock()

	if logging.Enabled(slog.LevelDebug) {
		logging.Sub("queue").Debug("push", "id", id, "queueLen", newLen)
	}
	q.signal()
}

// PushMany adds multiple ids, deduplicating against the queue and each other.
func (q *Queue) PushMany(ids []int64) {
	q.mu.Lock()
	added := 0
	for _, id := range ids {
		if _, exists := q.set[id]; exists {
			continue
		}
		q.set[id] = struct{}{}
		q.order = append(q.order, id)
		added++
	}
	q.mu.Unlock()

	if added > 0 {
		q.signal()
	}
}

// PushPriority adds an id to the priority lane. An id already waiting in the
// normal lane is promoted.
func (q *Queue) PushPriority(id int64) {
	q.mu.Lock()
	if _, exists := q.set[id]; exists {
		// Promote from the normal lane if present there.
		for i, other := range q.order {
			if other == id {
				q.order = append(q.order[:i], q.order[i+1:]...)
				q.priority = append(q.priority, id)
				break
			}
		}
		q.mu.Unlock()
		q.signal()
		return
	}
	q.set[id] = struct{}{}
	q.priority = append(q.priority, id)
	q.mu.Unlock()

	q.signal()
}

// Pop removes and returns the next id, blocking until one is available or
// the done channel is closed. Returns (0, false) when done.
func (q *Queue) Pop(done <-chan struct{}) (int64, bool) {
	for {
		q.mu.Lock()
		if len(q.priority) > 0 {
			id := q.priority[0]
			q.priority = q.priority[1:]
			delete(q.set, id)
			q.mu.Unlock()
			return id, true
		}
		if len(q.order) > 0 {
			id := q.order[0]
			q.order = q.order[1:]
			delete(q.set, id)
			q.mu.Unlock()
			return id, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			logging.Sub("queue").Debug("pop cancelled")
			return 0, false
		case <-q.notify:
			// Loop back to re-check.
		}
	}
}

// Has checks whether an id is waiting in either lane.
func (q *Queue) Has(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.set[id]
	return exists
}

// Len returns the number of waiting ids across both lanes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority) + len(q.order)
}

// Drain removes and returns all waiting ids, priority lane first.
func (q *Queue) Drain() []int64 {
	q.mu.Lock()
	out := append(q.priority, q.order...)
	q.priority = nil
	q.order = nil
	q.set = make(map[int64]struct{})
	q.mu.Unlock()
	return out
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
