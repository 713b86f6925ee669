package board

import "sync"

// queue runs jobs one at a time per key, in submission order. Jobs
// for different keys run in parallel. A key's worker goroutine exists
// only while that key has work.
type queue struct {
	mu      sync.Mutex
	pending map[string][]func()
	running map[string]bool
}

func newQueue() *queue {
	return &queue{
		pending: make(map[string][]func()),
		running: make(map[string]bool),
	}
}

// submit appends fn to the key's backlog and starts a drainer if none
// is active for that key. It never blocks on the job itself.
func (q *queue) submit(key string, fn func()) {
	q.mu.Lock()
	q.pending[key] = append(q.pending[key], fn)
	if q.running[key] {
		q.mu.Unlock()
		return
	}
	q.running[key] = true
	q.mu.Unlock()
	go q.drain(key)
}

func (q *queue) drain(key string) {
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			q.running[key] = false
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		fn := jobs[0]
		q.pending[key] = jobs[1:]
		q.mu.Unlock()
		fn()
	}
}
