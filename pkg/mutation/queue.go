package mutation

import (
	"context"
	"sync"
)

// keyedQueue runs holders of the same key one at a time, in arrival order.
// Different keys never wait on each other.
type keyedQueue struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{queues: make(map[string][]chan struct{})}
}

// acquire waits for the turn of key. The returned release must be called
// exactly once.
func (q *keyedQueue) acquire(ctx context.Context, key string) (func(), error) {
	turn := make(chan struct{})

	q.mu.Lock()
	waiting := q.queues[key]
	q.queues[key] = append(waiting, turn)
	if len(waiting) == 0 {
		close(turn)
	}
	q.mu.Unlock()

	select {
	case <-turn:
	case <-ctx.Done():
		q.leave(key, turn)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { q.leave(key, turn) }) }, nil
}

// leave removes turn from the queue of key and wakes the next holder when
// turn was at the head.
func (q *keyedQueue) leave(key string, turn chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	waiting := q.queues[key]
	for i, ch := range waiting {
		if ch != turn {
			continue
		}
		waiting = append(waiting[:i:i], waiting[i+1:]...)
		if len(waiting) == 0 {
			delete(q.queues, key)
			return
		}
		q.queues[key] = waiting
		if i == 0 {
			close(waiting[0])
		}
		return
	}
}

// depth returns how many holders are queued on key, running one included.
func (q *keyedQueue) depth(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[key])
}
