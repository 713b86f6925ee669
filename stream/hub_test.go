package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	h := NewHub(nil)
	a := h.register()
	b := h.register()

	h.Publish(TypeTaskCreated, EntityTask, map[string]string{"id": "t1"})

	for name, c := range map[string]*client{"a": a, "b": b} {
		select {
		case data := <-c.ch:
			var evt Event
			if err := json.Unmarshal(data, &evt); err != nil {
				t.Fatalf("viewer %s: unmarshal: %v", name, err)
			}
			if evt.Type != TypeTaskCreated || evt.Entity != EntityTask {
				t.Errorf("viewer %s: envelope = %q/%q", name, evt.Type, evt.Entity)
			}
			if evt.Timestamp.IsZero() {
				t.Errorf("viewer %s: timestamp not set", name)
			}
		default:
			t.Errorf("viewer %s received nothing", name)
		}
	}
}

func TestPublishPrunesFullViewer(t *testing.T) {
	h := NewHub(nil)
	stuck := h.register()
	healthy := h.register()

	// Fill the stuck viewer's buffer so the next push cannot land.
	for i := 0; i < cap(stuck.ch); i++ {
		stuck.ch <- []byte("{}")
	}

	h.Publish(TypeTaskUpdated, EntityTask, map[string]string{"id": "t1"})

	if h.Viewers() != 1 {
		t.Fatalf("Viewers = %d, want 1 after pruning", h.Viewers())
	}

	select {
	case data := <-healthy.ch:
		if !strings.Contains(string(data), TypeTaskUpdated) {
			t.Errorf("healthy viewer got %s", data)
		}
	default:
		t.Error("healthy viewer missed the event that pruned its neighbor")
	}

	// The pruned channel drains its backlog and then reports closed.
	drained := 0
	closed := false
	for {
		if _, open := <-stuck.ch; !open {
			closed = true
			break
		}
		drained++
	}
	if !closed {
		t.Error("pruned channel was not closed")
	}
	if drained != cap(stuck.ch) {
		t.Errorf("drained %d buffered events, want %d", drained, cap(stuck.ch))
	}
}

func TestServeSSE(t *testing.T) {
	h := NewHub(nil)
	server := httptest.NewServer(http.HandlerFunc(h.ServeSSE))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read connected event: %v", err)
	}
	if !strings.Contains(line, `"connected"`) {
		t.Fatalf("first event = %q, want connected", line)
	}

	// The viewer is registered once the connected event arrives.
	h.Publish(TypeCommentAdded, EntityComment, map[string]string{"id": "c1"})

	deadline := time.After(2 * time.Second)
	eventCh := make(chan string, 1)
	go func() {
		for {
			l, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(l, "data: ") && strings.Contains(l, TypeCommentAdded) {
				eventCh <- l
				return
			}
		}
	}()

	select {
	case line := <-eventCh:
		var evt Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if evt.Entity != EntityComment {
			t.Errorf("entity = %q, want comment", evt.Entity)
		}
	case <-deadline:
		t.Fatal("published event never reached the SSE stream")
	}
}
