package board

import (
	"context"
	"fmt"
	"strings"

	"taskdeck/agent"
	"taskdeck/gateway"
	"taskdeck/task"
)

// CommentRequest carries a new comment. ReplyTo references must name
// existing comments on the same task.
type CommentRequest struct {
	Author  string   `json:"author"`
	Body    string   `json:"body"`
	ReplyTo []string `json:"reply_to,omitempty"`
}

// AddComment persists a comment and runs the conversational side
// effects: an agent author stops counting as working, explicitly
// mentioned agents are spawned or pinged, and a mention-free human
// comment is forwarded to the assignee's live session. Side effects
// run on the task's queue after the comment commits; none of their
// failures unwinds the comment.
func (o *Orchestrator) AddComment(taskID string, req CommentRequest) (*task.Comment, error) {
	if req.Author == "" {
		return nil, fmt.Errorf("author is required: %w", ErrValidation)
	}
	if !o.knownActor(req.Author) {
		return nil, fmt.Errorf("unknown author %q: %w", req.Author, ErrValidation)
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, fmt.Errorf("body is required: %w", ErrValidation)
	}

	type result struct {
		c   *task.Comment
		err error
	}
	ch := make(chan result, 1)
	o.queue.submit(taskID, func() {
		c, after, err := o.applyComment(taskID, req)
		ch <- result{c, err}
		if after != nil {
			after()
		}
	})
	r := <-ch
	return r.c, r.err
}

func (o *Orchestrator) applyComment(taskID string, req CommentRequest) (*task.Comment, func(), error) {
	t, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	for _, ref := range req.ReplyTo {
		parent, err := o.store.GetComment(ref)
		if err != nil || parent.TaskID != taskID {
			return nil, nil, fmt.Errorf("reply_to %q is not a comment on this task: %w", ref, ErrValidation)
		}
	}

	c := &task.Comment{TaskID: taskID, Author: req.Author, Body: req.Body, ReplyTo: req.ReplyTo}
	if _, err := o.store.AddComment(c); err != nil {
		return nil, nil, err
	}

	// Any comment from an agent means it has reported in and is no
	// longer thinking.
	if who, ok := o.isAgent(req.Author); ok {
		o.sessions.ClearWorking(taskID, who.Name)
		o.bus.Publish("work_stopped", "work", map[string]any{"task_id": taskID, "agents": []string{who.Name}})
	}
	o.bus.Publish("comment_added", "comment", c)

	after := o.commentFollowUp(t, c)
	return c, after, nil
}

// commentFollowUp picks the gateway side effect a committed comment
// triggers. Mentioned agents are notified; absent mentions, a human
// comment is relayed to the assignee's live session. The assignee is
// never spawned merely because someone else was mentioned.
func (o *Orchestrator) commentFollowUp(t *task.Task, c *task.Comment) func() {
	if !o.gatewayOn {
		return nil
	}
	mentioned := o.mentionTargets(c)
	if len(mentioned) > 0 {
		snapshot := *t
		return func() {
			for _, who := range mentioned {
				o.notifyMention(&snapshot, who, c)
			}
		}
	}
	if c.Author != o.human {
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
	taskID, body := t.ID, c.Body
	return func() {
		msg := fmt.Sprintf("💬 %s replied on task #%s:\n\n%s", o.human, taskID, body)
		if err := o.gw.Send(context.Background(), ref, msg); err != nil {
			// Relay only. A dead session is respawned by a move or an
			// explicit mention, not here.
			o.logger.Warn("forward reply", "task", taskID, "agent", who.Name, "error", err)
		}
	}
}

// mentionTargets resolves the comment's mentions, dropping
// self-mentions.
func (o *Orchestrator) mentionTargets(c *task.Comment) []agent.Identity {
	all := o.roster.Mentions(c.Body)
	targets := all[:0]
	for _, who := range all {
		if who.Name == c.Author {
			continue
		}
		targets = append(targets, who)
	}
	return targets
}

// notifyMention reaches one tagged agent: a live session gets the
// comment relayed, otherwise a fresh mention session is spawned with
// a delete-on-exit label.
func (o *Orchestrator) notifyMention(t *task.Task, who agent.Identity, c *task.Comment) {
	ctx := context.Background()
	if ref, ok := o.sessions.SessionRef(t.ID, who.Name); ok {
		msg := fmt.Sprintf("📢 %s tagged you on task #%s:\n\n%s", c.Author, t.ID, c.Body)
		if err := o.gw.Send(ctx, ref, msg); err != nil {
			o.logger.Warn("relay mention", "task", t.ID, "agent", who.Name, "error", err)
			return
		}
		o.sessions.MarkWorking(t.ID, who.Name)
		o.bus.Publish("work_started", "work", map[string]any{"task_id": t.ID, "agents": []string{who.Name}})
		return
	}

	h := o.sessions.Ensure(t.ID, who.Name)
	prior, err := o.store.RecentComments(t.ID, recentContextComments)
	if err != nil {
		o.logger.Error("load comment context", "task", t.ID, "error", err)
	}
	prior = withoutComment(prior, c.ID)
	prompt, err := o.composer.MentionPrompt(who, t, c.Author, c.Body, prior)
	if err != nil {
		o.logger.Error("compose mention prompt", "task", t.ID, "agent", who.Name, "error", err)
		return
	}
	sess, err := o.gw.Spawn(ctx, gateway.SpawnRequest{
		AgentID: who.ID,
		Prompt:  prompt,
		Label:   fmt.Sprintf("task-%s-mention-%s", t.ID, who.ID),
		Cleanup: "delete",
	})
	if err != nil {
		o.logger.Error("spawn mentioned agent", "task", t.ID, "agent", who.Name, "error", err)
		o.postSystemComment(t.ID, fmt.Sprintf(
			"⚠️ Could not reach **%s** (%s). Mention them again to retry.",
			who.Name, failureReason(err)))
		return
	}
	if !o.sessions.MarkSpawned(t.ID, who.Name, h.Generation, sess.Ref) {
		o.logger.Warn("mention spawn superseded", "task", t.ID, "agent", who.Name, "session", sess.Ref)
		return
	}
	o.bus.Publish("work_started", "work", map[string]any{"task_id": t.ID, "agents": []string{who.Name}})
	o.postSystemComment(t.ID, fmt.Sprintf(
		"📢 **%s** was tagged by %s and is looking at this task.", who.Name, c.Author))
}

func withoutComment(comments []*task.Comment, id string) []*task.Comment {
	out := comments[:0]
	for _, c := range comments {
		if c.ID == id {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DeleteComment removes a comment and broadcasts a tombstone carrying
// only the ids, so viewers can drop it without a refetch.
func (o *Orchestrator) DeleteComment(taskID, commentID string) error {
	ch := make(chan error, 1)
	o.queue.submit(taskID, func() {
		c, err := o.store.GetComment(commentID)
		if err != nil {
			ch <- err
			return
		}
		if c.TaskID != taskID {
			ch <- fmt.Errorf("comment %s: %w", commentID, task.ErrNotFound)
			return
		}
		if err := o.store.DeleteComment(commentID); err != nil {
			ch <- err
			return
		}
		o.bus.Publish("comment_deleted", "comment", map[string]string{
			"task_id":    taskID,
			"comment_id": commentID,
		})
		ch <- nil
	})
	return <-ch
}
