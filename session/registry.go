// Package session tracks live agent sessions per task. All state is
// process-local: a restart loses spawn and working indicators, and the
// board relearns them as sessions next touch it.
package session

import (
	"sort"
	"sync"
	"time"
)

// Handle is a snapshot of one (task, agent) session slot.
type Handle struct {
	TaskID       string    `json:"task_id"`
	Agent        string    `json:"agent"`
	Generation   int       `json:"generation"`
	Spawned      bool      `json:"spawned"`
	Working      bool      `json:"working"`
	SessionRef   string    `json:"session_ref,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

type key struct {
	taskID string
	agent  string
}

// Registry tracks session handles keyed by (task, agent). The compound
// key is load-bearing: one agent holds independent handles on
// different tasks. Handles are superseded, never deleted.
type Registry struct {
	mu      sync.Mutex
	handles map[key]*Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[key]*Handle)}
}

func (r *Registry) ensureLocked(taskID, agent string) *Handle {
	k := key{taskID: taskID, agent: agent}
	h, ok := r.handles[k]
	if !ok {
		h = &Handle{TaskID: taskID, Agent: agent}
		r.handles[k] = h
	}
	return h
}

// Ensure returns the current handle for (taskID, agent), creating it
// when absent. Concurrent callers observe the same logical handle.
func (r *Registry) Ensure(taskID, agent string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.ensureLocked(taskID, agent)
}

// MarkSpawned records a successful spawn. It reports false when the
// generation no longer matches: the handle was superseded while the
// spawn was in flight and the result is discarded.
func (r *Registry) MarkSpawned(taskID, agent string, generation int, sessionRef string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.ensureLocked(taskID, agent)
	if h.Generation != generation {
		return false
	}
	h.Spawned = true
	h.Working = true
	h.SessionRef = sessionRef
	h.LastActivity = time.Now().UTC()
	return true
}

// MarkWorking flips the working indicator on.
func (r *Registry) MarkWorking(taskID, agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.ensureLocked(taskID, agent)
	h.Working = true
	h.LastActivity = time.Now().UTC()
}

// ClearWorking flips the working indicator off. Absent handles stay
// absent: an agent commenting on a task it was never spawned on does
// not create one.
func (r *Registry) ClearWorking(taskID, agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[key{taskID: taskID, agent: agent}]; ok {
		h.Working = false
		h.LastActivity = time.Now().UTC()
	}
}

// IsSpawned reports whether the current-generation handle has a live
// spawn recorded.
func (r *Registry) IsSpawned(taskID, agent string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key{taskID: taskID, agent: agent}]
	return ok && h.Spawned
}

// SessionRef returns the handle's session reference, if spawned.
func (r *Registry) SessionRef(taskID, agent string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key{taskID: taskID, agent: agent}]
	if !ok || !h.Spawned || h.SessionRef == "" {
		return "", false
	}
	return h.SessionRef, true
}

// Supersede invalidates the current handle for (taskID, agent): the
// generation advances and spawn state clears, so a newer assignment
// may spawn fresh while in-flight results against the old generation
// are ignored.
func (r *Registry) Supersede(taskID, agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key{taskID: taskID, agent: agent}]
	if !ok {
		return
	}
	h.Generation++
	h.Spawned = false
	h.Working = false
	h.SessionRef = ""
	h.LastActivity = time.Now().UTC()
}

// StopAll tears down every handle on the task: working indicators
// drop and spawn state resets, so the task spawns fresh if reopened.
// It returns the agents that were working.
func (r *Registry) StopAll(taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stopped []string
	for k, h := range r.handles {
		if k.taskID != taskID {
			continue
		}
		if h.Working {
			stopped = append(stopped, k.agent)
		}
		h.Generation++
		h.Spawned = false
		h.Working = false
		h.SessionRef = ""
		h.LastActivity = time.Now().UTC()
	}
	sort.Strings(stopped)
	return stopped
}

// WorkingAgents returns the agents currently working on the task, in
// stable order.
func (r *Registry) WorkingAgents(taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var working []string
	for k, h := range r.handles {
		if k.taskID == taskID && h.Working {
			working = append(working, k.agent)
		}
	}
	sort.Strings(working)
	return working
}
