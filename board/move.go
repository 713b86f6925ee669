package board

import (
	"context"
	"errors"
	"fmt"

	"taskdeck/agent"
	"taskdeck/gateway"
	"taskdeck/task"
)

// MoveRequest asks for a status transition. Actor is required so the
// done rule and working indicators can tell humans from agents apart.
type MoveRequest struct {
	Status task.Status `json:"status"`
	Actor  string      `json:"actor"`
	Reason string      `json:"reason,omitempty"`
}

// MoveTask applies a status transition with its side effects: the
// automatic completion or blocker item, working-indicator updates,
// and agent session spawn or teardown. The returned view reflects the
// committed transition; gateway calls continue on the task's queue
// after it commits, so a gateway failure never rolls the move back.
func (o *Orchestrator) MoveTask(id string, req MoveRequest) (*TaskView, error) {
	if !req.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", req.Status, ErrValidation)
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("actor is required: %w", ErrValidation)
	}
	if !o.knownActor(req.Actor) {
		return nil, fmt.Errorf("unknown actor %q: %w", req.Actor, ErrValidation)
	}

	type result struct {
		v   *TaskView
		err error
	}
	ch := make(chan result, 1)
	o.queue.submit(id, func() {
		v, after, err := o.applyMove(id, req)
		ch <- result{v, err}
		if after != nil {
			after()
		}
	})
	r := <-ch
	return r.v, r.err
}

// applyMove runs on the task's queue. It returns the follow-up side
// effect (spawn or farewell) to run after the caller has been
// answered, still on the same queue.
func (o *Orchestrator) applyMove(id string, req MoveRequest) (*TaskView, func(), error) {
	t, err := o.store.GetTask(id)
	if err != nil {
		return nil, nil, err
	}
	if t.Status == req.Status {
		// Nothing to do; re-announce so late viewers converge.
		v := o.view(t)
		o.bus.Publish("task_updated", "task", v)
		return v, nil, nil
	}
	if req.Status == task.StatusDone && req.Actor != o.human {
		return nil, nil, fmt.Errorf("only %s can move tasks to done: %w", o.human, ErrConflict)
	}
	if t.Status == task.StatusBlocked && req.Status != task.StatusInProgress {
		return nil, nil, fmt.Errorf("blocked tasks must return to %s first: %w", task.StatusInProgress, ErrConflict)
	}

	from := t.Status
	t.Status = req.Status
	if err := o.store.UpdateTask(t); err != nil {
		return nil, nil, err
	}
	o.logActivity(id, req.Actor, "moved", fmt.Sprintf("%s to %s", from, req.Status))
	v := o.view(t)
	o.bus.Publish("task_updated", "task", v)

	var after func()
	switch req.Status {
	case task.StatusReview:
		o.addTransitionItem(t, task.ItemCompletion, req.Actor, req.Reason,
			fmt.Sprintf("Ready for review: %s", t.Title))
		o.stopActorWork(id, req.Actor)
	case task.StatusBlocked:
		o.addTransitionItem(t, task.ItemBlocker, req.Actor, req.Reason,
			fmt.Sprintf("Blocked: %s (no reason given)", t.Title))
		o.stopActorWork(id, req.Actor)
	case task.StatusDone:
		// Capture the assignee's session ref before teardown resets it.
		after = o.farewellFunc(t, req.Actor)
		stopped := o.sessions.StopAll(id)
		o.bus.Publish("work_stopped", "work", map[string]any{"task_id": id, "agents": stopped})
	case task.StatusInProgress:
		after = o.spawnFunc(t)
	}
	return v, after, nil
}

// addTransitionItem records the review or blocker item a transition
// produces. The move is already committed, so a storage error here is
// logged rather than surfaced.
func (o *Orchestrator) addTransitionItem(t *task.Task, kind task.ItemKind, actor, reason, fallback string) {
	body := reason
	if body == "" {
		body = fallback
	}
	item := &task.ActionItem{TaskID: t.ID, Kind: kind, Author: actor, Body: body}
	if _, err := o.store.AddItem(item); err != nil {
		o.logger.Error("add transition item", "task", t.ID, "kind", kind, "error", err)
		return
	}
	o.bus.Publish("action_item_added", "action_item", item)
}

// stopActorWork clears the working flag when an agent hands a task
// off review- or blocked-ward. Human actors have no indicator.
func (o *Orchestrator) stopActorWork(taskID, actor string) {
	if id, ok := o.isAgent(actor); ok {
		o.sessions.ClearWorking(taskID, id.Name)
		o.bus.Publish("work_stopped", "work", map[string]any{"task_id": taskID, "agents": []string{id.Name}})
	}
}

// spawnFunc decides, while still holding the task's turn on the
// queue, whether entering in_progress should start the assignee's
// session. The returned func performs the gateway call.
func (o *Orchestrator) spawnFunc(t *task.Task) func() {
	if !o.gatewayOn {
		return nil
	}
	id, ok := o.isAgent(t.AssignedTo)
	if !ok {
		return nil
	}
	h := o.sessions.Ensure(t.ID, id.Name)
	if h.Spawned {
		return nil
	}
	snapshot := *t
	gen := h.Generation
	return func() { o.spawnAssignee(&snapshot, id, gen) }
}

// spawnAssignee runs on the task's queue after the move has been
// answered. Terminal failure is reported as a System comment on the
// task; the committed transition stands either way.
func (o *Orchestrator) spawnAssignee(t *task.Task, who agent.Identity, gen int) {
	ctx := context.Background()
	recent, err := o.store.RecentComments(t.ID, recentContextComments)
	if err != nil {
		o.logger.Error("load comment context", "task", t.ID, "error", err)
	}
	prompt, err := o.composer.AssignmentPrompt(who, t, recent)
	if err != nil {
		o.logger.Error("compose assignment prompt", "task", t.ID, "agent", who.Name, "error", err)
		return
	}
	sess, err := o.gw.Spawn(ctx, gateway.SpawnRequest{
		AgentID: who.ID,
		Prompt:  prompt,
		Label:   "task-" + t.ID,
		Cleanup: "keep",
	})
	if err != nil {
		o.logger.Error("spawn assignee", "task", t.ID, "agent", who.Name, "error", err)
		o.postSystemComment(t.ID, fmt.Sprintf(
			"⚠️ Could not start **%s** for this task (%s). The move went through; move the task again or mention the agent to retry.",
			who.Name, failureReason(err)))
		return
	}
	if !o.sessions.MarkSpawned(t.ID, who.Name, gen, sess.Ref) {
		o.logger.Warn("spawn superseded by reassignment", "task", t.ID, "agent", who.Name, "session", sess.Ref)
		return
	}
	o.bus.Publish("work_started", "work", map[string]any{"task_id": t.ID, "agents": []string{who.Name}})
	o.postSystemComment(t.ID, fmt.Sprintf(
		"🤖 **%s** agent spawned automatically.\n\nSession: `%s`\n\nComment on this task and the agent will pick it up.",
		who.Name, sess.Ref))
}

// farewellFunc notifies the assignee's live session that the task was
// completed, then lets the handle teardown from StopAll stand.
func (o *Orchestrator) farewellFunc(t *task.Task, actor string) func() {
	if !o.gatewayOn {
		return nil
	}
	who, ok := o.isAgent(t.AssignedTo)
	if !ok {
		return nil
	}
	ref, ok := o.sessions.SessionRef(t.ID, who.Name)
	if !ok {
		return nil
	}
	taskID, title := t.ID, t.Title
	return func() {
		msg := fmt.Sprintf("✅ Task #%s (%s) was marked done by %s. You can stand down.", taskID, title, actor)
		if err := o.gw.Send(context.Background(), ref, msg); err != nil {
			o.logger.Warn("farewell send", "task", taskID, "agent", who.Name, "error", err)
		}
	}
}

// failureReason reduces a gateway error to its classification for
// display in a System comment.
func failureReason(err error) string {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		return string(gerr.Reason)
	}
	return err.Error()
}
