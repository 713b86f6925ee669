package board

import (
	"sync"
	"testing"
	"time"
)

func TestQueueFIFOPerKey(t *testing.T) {
	q := newQueue()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		q.submit("k", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	done := make(chan struct{})
	q.submit("k", func() { close(done) })
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d jobs, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("job %d ran at position %d", v, i)
		}
	}
}

func TestQueueKeysRunInParallel(t *testing.T) {
	q := newQueue()

	release := make(chan struct{})
	blocked := make(chan struct{})
	q.submit("a", func() {
		close(blocked)
		<-release
	})
	<-blocked

	done := make(chan struct{})
	q.submit("b", func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job on key b waited behind key a")
	}
	close(release)
}

func TestQueueIdlesAfterDrain(t *testing.T) {
	q := newQueue()

	for round := 0; round < 3; round++ {
		done := make(chan struct{})
		q.submit("k", func() { close(done) })
		<-done
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		q.mu.Lock()
		idle := len(q.running) == 0 && len(q.pending) == 0
		q.mu.Unlock()
		if idle {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("queue kept worker state after draining")
		}
		time.Sleep(time.Millisecond)
	}
}
