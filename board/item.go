package board

import (
	"fmt"

	"taskdeck/task"
)

// ItemRequest creates an action item by hand, as opposed to the ones
// transitions mint automatically. Kind defaults to question.
type ItemRequest struct {
	Kind      task.ItemKind `json:"kind,omitempty"`
	Author    string        `json:"author"`
	Body      string        `json:"body"`
	CommentID string        `json:"comment_id,omitempty"`
}

func (o *Orchestrator) AddActionItem(taskID string, req ItemRequest) (*task.ActionItem, error) {
	kind := req.Kind
	if kind == "" {
		kind = task.ItemQuestion
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown item kind %q: %w", kind, ErrValidation)
	}
	if req.Author == "" || !o.knownActor(req.Author) {
		return nil, fmt.Errorf("unknown author %q: %w", req.Author, ErrValidation)
	}
	if req.Body == "" {
		return nil, fmt.Errorf("body is required: %w", ErrValidation)
	}

	type result struct {
		item *task.ActionItem
		err  error
	}
	ch := make(chan result, 1)
	o.queue.submit(taskID, func() {
		if _, err := o.store.GetTask(taskID); err != nil {
			ch <- result{nil, err}
			return
		}
		if req.CommentID != "" {
			c, err := o.store.GetComment(req.CommentID)
			if err != nil || c.TaskID != taskID {
				ch <- result{nil, fmt.Errorf("comment_id %q is not a comment on this task: %w", req.CommentID, ErrValidation)}
				return
			}
		}
		item := &task.ActionItem{
			TaskID:    taskID,
			Kind:      kind,
			Author:    req.Author,
			Body:      req.Body,
			CommentID: req.CommentID,
		}
		if _, err := o.store.AddItem(item); err != nil {
			ch <- result{nil, err}
			return
		}
		o.bus.Publish("action_item_added", "action_item", item)
		ch <- result{item, nil}
	})
	r := <-ch
	return r.item, r.err
}

// mutateItem looks the item up to find its task queue, then applies fn
// on that queue. fn must refetch nothing; it gets the fresh item.
func (o *Orchestrator) mutateItem(itemID string, fn func(*task.ActionItem) (*task.ActionItem, error)) (*task.ActionItem, error) {
	it, err := o.store.GetItem(itemID)
	if err != nil {
		return nil, err
	}
	type result struct {
		item *task.ActionItem
		err  error
	}
	ch := make(chan result, 1)
	o.queue.submit(it.TaskID, func() {
		fresh, err := o.store.GetItem(itemID)
		if err != nil {
			ch <- result{nil, err}
			return
		}
		updated, err := fn(fresh)
		ch <- result{updated, err}
	})
	r := <-ch
	return r.item, r.err
}

// ResolveActionItem closes an item with an optional resolver identity
// and note. Resolving an already resolved item is a no-op that
// re-broadcasts.
func (o *Orchestrator) ResolveActionItem(itemID, resolver, note string) (*task.ActionItem, error) {
	if resolver != "" && !o.knownActor(resolver) {
		return nil, fmt.Errorf("unknown resolver %q: %w", resolver, ErrValidation)
	}
	return o.mutateItem(itemID, func(it *task.ActionItem) (*task.ActionItem, error) {
		updated, err := o.store.ResolveItem(itemID, resolver, note)
		if err != nil {
			return nil, err
		}
		o.bus.Publish("action_item_resolved", "action_item", updated)
		return updated, nil
	})
}

func (o *Orchestrator) ArchiveActionItem(itemID string) (*task.ActionItem, error) {
	return o.mutateItem(itemID, func(it *task.ActionItem) (*task.ActionItem, error) {
		updated, err := o.store.ArchiveItem(itemID, true)
		if err != nil {
			return nil, err
		}
		o.bus.Publish("action_item_archived", "action_item", updated)
		return updated, nil
	})
}

func (o *Orchestrator) UnarchiveActionItem(itemID string) (*task.ActionItem, error) {
	return o.mutateItem(itemID, func(it *task.ActionItem) (*task.ActionItem, error) {
		updated, err := o.store.ArchiveItem(itemID, false)
		if err != nil {
			return nil, err
		}
		o.bus.Publish("action_item_unarchived", "action_item", updated)
		return updated, nil
	})
}

func (o *Orchestrator) DeleteActionItem(itemID string) error {
	_, err := o.mutateItem(itemID, func(it *task.ActionItem) (*task.ActionItem, error) {
		if err := o.store.DeleteItem(itemID); err != nil {
			return nil, err
		}
		o.bus.Publish("action_item_deleted", "action_item", map[string]string{
			"task_id": it.TaskID,
			"item_id": itemID,
		})
		return it, nil
	})
	return err
}

// StartWork flips an agent's working indicator on by hand. Agents call
// this when they begin; the board shows it immediately. Registry only,
// nothing persists.
func (o *Orchestrator) StartWork(taskID, agentName string) error {
	who, ok := o.isAgent(agentName)
	if !ok {
		return fmt.Errorf("unknown agent %q: %w", agentName, ErrValidation)
	}
	ch := make(chan error, 1)
	o.queue.submit(taskID, func() {
		if _, err := o.store.GetTask(taskID); err != nil {
			ch <- err
			return
		}
		o.sessions.MarkWorking(taskID, who.Name)
		o.bus.Publish("work_started", "work", map[string]any{"task_id": taskID, "agents": []string{who.Name}})
		ch <- nil
	})
	return <-ch
}

// StopWork flips an agent's working indicator off by hand.
func (o *Orchestrator) StopWork(taskID, agentName string) error {
	who, ok := o.isAgent(agentName)
	if !ok {
		return fmt.Errorf("unknown agent %q: %w", agentName, ErrValidation)
	}
	ch := make(chan error, 1)
	o.queue.submit(taskID, func() {
		if _, err := o.store.GetTask(taskID); err != nil {
			ch <- err
			return
		}
		o.sessions.ClearWorking(taskID, who.Name)
		o.bus.Publish("work_stopped", "work", map[string]any{"task_id": taskID, "agents": []string{who.Name}})
		ch <- nil
	})
	return <-ch
}
