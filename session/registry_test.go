package session

import (
	"reflect"
	"sync"
	"testing"
)

func TestEnsureIsIdempotent(t *testing.T) {
	r := NewRegistry()

	first := r.Ensure("t1", "Architect")
	if first.Spawned || first.Working || first.Generation != 0 {
		t.Errorf("fresh handle = %+v", first)
	}

	r.MarkWorking("t1", "Architect")
	second := r.Ensure("t1", "Architect")
	if !second.Working {
		t.Error("Ensure returned a different handle: working flag lost")
	}
}

func TestEnsureConcurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Ensure("t1", "Architect")
		}()
	}
	wg.Wait()

	h := r.Ensure("t1", "Architect")
	if h.Generation != 0 {
		t.Errorf("Generation = %d after concurrent Ensure, want 0", h.Generation)
	}
}

func TestCompoundKey(t *testing.T) {
	r := NewRegistry()

	r.MarkSpawned("t1", "Architect", 0, "sess-1")
	if r.IsSpawned("t2", "Architect") {
		t.Error("spawn on t1 leaked to t2 for the same agent")
	}
	if r.IsSpawned("t1", "Code Reviewer") {
		t.Error("spawn for Architect leaked to Code Reviewer")
	}
}

func TestMarkSpawned(t *testing.T) {
	r := NewRegistry()

	h := r.Ensure("t1", "Architect")
	if !r.MarkSpawned("t1", "Architect", h.Generation, "sess-1") {
		t.Fatal("MarkSpawned rejected current generation")
	}
	if !r.IsSpawned("t1", "Architect") {
		t.Error("IsSpawned = false after MarkSpawned")
	}
	got := r.Ensure("t1", "Architect")
	if !got.Working || got.SessionRef != "sess-1" {
		t.Errorf("handle after spawn = %+v", got)
	}
	ref, ok := r.SessionRef("t1", "Architect")
	if !ok || ref != "sess-1" {
		t.Errorf("SessionRef = %q, %v", ref, ok)
	}
}

func TestSupersedeInvalidatesInFlightSpawn(t *testing.T) {
	r := NewRegistry()

	h := r.Ensure("t1", "Architect")
	r.Supersede("t1", "Architect")

	if r.MarkSpawned("t1", "Architect", h.Generation, "stale-sess") {
		t.Error("MarkSpawned accepted a superseded generation")
	}
	if r.IsSpawned("t1", "Architect") {
		t.Error("stale spawn result stuck to the new handle")
	}

	fresh := r.Ensure("t1", "Architect")
	if fresh.Generation != h.Generation+1 {
		t.Errorf("Generation = %d, want %d", fresh.Generation, h.Generation+1)
	}
	if !r.MarkSpawned("t1", "Architect", fresh.Generation, "new-sess") {
		t.Error("MarkSpawned rejected the fresh generation")
	}
}

func TestSupersedeClearsSpawnState(t *testing.T) {
	r := NewRegistry()

	h := r.Ensure("t1", "Architect")
	r.MarkSpawned("t1", "Architect", h.Generation, "sess-1")
	r.Supersede("t1", "Architect")

	if r.IsSpawned("t1", "Architect") {
		t.Error("IsSpawned = true after Supersede")
	}
	if _, ok := r.SessionRef("t1", "Architect"); ok {
		t.Error("SessionRef survived Supersede")
	}
}

func TestClearWorking(t *testing.T) {
	r := NewRegistry()

	h := r.Ensure("t1", "Architect")
	r.MarkSpawned("t1", "Architect", h.Generation, "sess-1")
	r.ClearWorking("t1", "Architect")

	got := r.Ensure("t1", "Architect")
	if got.Working {
		t.Error("Working = true after ClearWorking")
	}
	if !got.Spawned {
		t.Error("ClearWorking should not clear the spawned flag")
	}

	// Clearing an unknown handle must not create it.
	r.ClearWorking("t9", "Architect")
	if len(r.WorkingAgents("t9")) != 0 {
		t.Error("ClearWorking created a handle")
	}
}

func TestStopAllAndWorkingAgents(t *testing.T) {
	r := NewRegistry()

	h := r.Ensure("t1", "Code Reviewer")
	r.MarkSpawned("t1", "Code Reviewer", h.Generation, "sess-1")
	r.MarkWorking("t1", "Architect")
	r.MarkWorking("t2", "Architect")

	if got := r.WorkingAgents("t1"); !reflect.DeepEqual(got, []string{"Architect", "Code Reviewer"}) {
		t.Errorf("WorkingAgents(t1) = %v", got)
	}

	stopped := r.StopAll("t1")
	if !reflect.DeepEqual(stopped, []string{"Architect", "Code Reviewer"}) {
		t.Errorf("StopAll(t1) = %v", stopped)
	}
	if got := r.WorkingAgents("t1"); len(got) != 0 {
		t.Errorf("WorkingAgents(t1) after StopAll = %v", got)
	}
	if r.IsSpawned("t1", "Code Reviewer") {
		t.Error("spawn state survived StopAll; reopening would reuse a dead session")
	}
	if got := r.WorkingAgents("t2"); !reflect.DeepEqual(got, []string{"Architect"}) {
		t.Errorf("WorkingAgents(t2) = %v, StopAll must not cross tasks", got)
	}
}
