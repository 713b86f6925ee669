// Package board implements the orchestration core for the task
// board: the status state machine, automatic action items, agent
// session lifecycle, and event fan-out. Every mutation of a task is
// serialized through a per-task queue so transitions, comments, and
// spawn bookkeeping for one task never interleave, while separate
// tasks proceed in parallel.
package board

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskdeck/agent"
	"taskdeck/gateway"
	"taskdeck/session"
	"taskdeck/task"
)

// SystemAuthor attributes comments the orchestrator writes itself.
const SystemAuthor = "System"

// recentContextComments is how much comment history an assignment
// prompt carries.
const recentContextComments = 5

// Gateway is the slice of the session gateway the orchestrator uses.
// *gateway.Client satisfies it.
type Gateway interface {
	Spawn(ctx context.Context, req gateway.SpawnRequest) (*gateway.Session, error)
	Send(ctx context.Context, sessionRef, message string) error
}

// Broadcaster receives every committed change for live viewers.
// *stream.Hub satisfies it.
type Broadcaster interface {
	Publish(eventType, entity string, payload any)
}

// Config collects the orchestrator's collaborators.
type Config struct {
	Store     task.Store
	Roster    *agent.Roster
	Composer  *agent.Composer
	Sessions  *session.Registry
	Gateway   Gateway
	GatewayOn bool
	Bus       Broadcaster
	Logger    *slog.Logger

	// HumanName is the single actor allowed to complete tasks.
	HumanName string
}

// Orchestrator owns all task mutations. Handlers call its methods;
// nothing else writes to the store.
type Orchestrator struct {
	store     task.Store
	roster    *agent.Roster
	composer  *agent.Composer
	sessions  *session.Registry
	gw        Gateway
	gatewayOn bool
	bus       Broadcaster
	logger    *slog.Logger
	human     string
	queue     *queue
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	human := cfg.HumanName
	if human == "" {
		human = "User"
	}
	return &Orchestrator{
		store:     cfg.Store,
		roster:    cfg.Roster,
		composer:  cfg.Composer,
		sessions:  cfg.Sessions,
		gw:        cfg.Gateway,
		gatewayOn: cfg.GatewayOn && cfg.Gateway != nil,
		bus:       cfg.Bus,
		logger:    logger,
		human:     human,
		queue:     newQueue(),
	}
}

// TaskView is a task decorated with the agents currently working it.
type TaskView struct {
	*task.Task
	Working []string `json:"working"`
}

func (o *Orchestrator) view(t *task.Task) *TaskView {
	working := o.sessions.WorkingAgents(t.ID)
	if working == nil {
		working = []string{}
	}
	return &TaskView{Task: t, Working: working}
}

func (o *Orchestrator) views(tasks []*task.Task) []*TaskView {
	out := make([]*TaskView, len(tasks))
	for i, t := range tasks {
		out[i] = o.view(t)
	}
	return out
}

// knownActor reports whether name is the human or a roster agent.
func (o *Orchestrator) knownActor(name string) bool {
	if name == o.human {
		return true
	}
	_, ok := o.roster.Lookup(name)
	return ok
}

func (o *Orchestrator) isAgent(name string) (agent.Identity, bool) {
	return o.roster.Lookup(name)
}

// validAssignee permits roster agents, the human, or nobody.
func (o *Orchestrator) validAssignee(name string) bool {
	if name == "" || name == o.human {
		return true
	}
	_, ok := o.roster.Lookup(name)
	return ok
}

func (o *Orchestrator) logActivity(taskID, actor, action, details string) {
	a := &task.Activity{TaskID: taskID, Actor: actor, Action: action, Details: details}
	if err := o.store.AddActivity(a); err != nil {
		o.logger.Error("record activity", "task", taskID, "action", action, "error", err)
	}
}

// postSystemComment persists and broadcasts an orchestrator-authored
// comment. Must run on the task's queue.
func (o *Orchestrator) postSystemComment(taskID, body string) {
	c := &task.Comment{TaskID: taskID, Author: SystemAuthor, Body: body}
	if _, err := o.store.AddComment(c); err != nil {
		o.logger.Error("post system comment", "task", taskID, "error", err)
		return
	}
	o.bus.Publish("comment_added", "comment", c)
}

// CreateTaskRequest carries the fields a caller may set at creation.
// Status transitions after creation go through MoveTask only.
type CreateTaskRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      task.Status    `json:"status,omitempty"`
	Priority    *task.Priority `json:"priority,omitempty"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	Rank        float64        `json:"rank,omitempty"`
	DueDate     *time.Time     `json:"due_date,omitempty"`
	Actor       string         `json:"actor,omitempty"`
}

func (o *Orchestrator) CreateTask(req CreateTaskRequest) (*TaskView, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("title is required: %w", ErrValidation)
	}
	if req.Status != "" && !req.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", req.Status, ErrValidation)
	}
	if !o.validAssignee(req.AssignedTo) {
		return nil, fmt.Errorf("unknown assignee %q: %w", req.AssignedTo, ErrValidation)
	}
	actor := req.Actor
	if actor == "" {
		actor = o.human
	}
	if !o.knownActor(actor) {
		return nil, fmt.Errorf("unknown actor %q: %w", actor, ErrValidation)
	}

	t := &task.Task{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      req.Status,
		Priority:    task.PriorityMedium,
		AssignedTo:  req.AssignedTo,
		Rank:        req.Rank,
		DueDate:     req.DueDate,
	}
	if req.Priority != nil {
		if *req.Priority < task.PriorityLow || *req.Priority > task.PriorityCritical {
			return nil, fmt.Errorf("priority out of range: %w", ErrValidation)
		}
		t.Priority = *req.Priority
	}
	if _, err := o.store.CreateTask(t); err != nil {
		return nil, err
	}
	o.logActivity(t.ID, actor, "created", t.Title)
	v := o.view(t)
	o.bus.Publish("task_created", "task", v)
	return v, nil
}

func (o *Orchestrator) GetTask(id string) (*TaskView, error) {
	t, err := o.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	return o.view(t), nil
}

func (o *Orchestrator) ListTasks(f task.Filter) ([]*TaskView, error) {
	tasks, err := o.store.ListTasks(f)
	if err != nil {
		return nil, err
	}
	return o.views(tasks), nil
}

// UpdateTaskRequest carries optional field updates. Nil means leave
// unchanged. Status is rejected here so every transition flows
// through MoveTask and its side effects.
type UpdateTaskRequest struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Status      *task.Status   `json:"status,omitempty"`
	Priority    *task.Priority `json:"priority,omitempty"`
	AssignedTo  *string        `json:"assigned_to,omitempty"`
	Rank        *float64       `json:"rank,omitempty"`
	DueDate     *time.Time     `json:"due_date,omitempty"`
	Actor       string         `json:"actor,omitempty"`
}

func (o *Orchestrator) UpdateTask(id string, req UpdateTaskRequest) (*TaskView, error) {
	if req.Status != nil {
		return nil, fmt.Errorf("status changes go through the move endpoint: %w", ErrValidation)
	}
	if req.AssignedTo != nil && !o.validAssignee(*req.AssignedTo) {
		return nil, fmt.Errorf("unknown assignee %q: %w", *req.AssignedTo, ErrValidation)
	}
	if req.Priority != nil && (*req.Priority < task.PriorityLow || *req.Priority > task.PriorityCritical) {
		return nil, fmt.Errorf("priority out of range: %w", ErrValidation)
	}
	actor := req.Actor
	if actor == "" {
		actor = o.human
	}
	if !o.knownActor(actor) {
		return nil, fmt.Errorf("unknown actor %q: %w", actor, ErrValidation)
	}

	type result struct {
		v   *TaskView
		err error
	}
	ch := make(chan result, 1)
	o.queue.submit(id, func() {
		v, err := o.applyUpdate(id, actor, req)
		ch <- result{v, err}
	})
	r := <-ch
	return r.v, r.err
}

func (o *Orchestrator) applyUpdate(id, actor string, req UpdateTaskRequest) (*TaskView, error) {
	t, err := o.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	var changes []string
	if req.Title != nil && *req.Title != t.Title {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, fmt.Errorf("title is required: %w", ErrValidation)
		}
		t.Title = strings.TrimSpace(*req.Title)
		changes = append(changes, "title")
	}
	if req.Description != nil && *req.Description != t.Description {
		t.Description = *req.Description
		changes = append(changes, "description")
	}
	if req.Priority != nil && *req.Priority != t.Priority {
		t.Priority = *req.Priority
		changes = append(changes, "priority")
	}
	if req.Rank != nil && *req.Rank != t.Rank {
		t.Rank = *req.Rank
		changes = append(changes, "rank")
	}
	if req.DueDate != nil {
		t.DueDate = req.DueDate
		changes = append(changes, "due date")
	}
	reassigned := false
	oldAssignee := t.AssignedTo
	if req.AssignedTo != nil && *req.AssignedTo != t.AssignedTo {
		t.AssignedTo = *req.AssignedTo
		reassigned = true
		changes = append(changes, fmt.Sprintf("assignee %s", displayAssignee(t.AssignedTo)))
	}
	if len(changes) == 0 {
		return o.view(t), nil
	}
	if err := o.store.UpdateTask(t); err != nil {
		return nil, err
	}
	if reassigned {
		// Invalidate the old assignee's handle so an in-flight spawn
		// for it cannot register a stale session.
		if _, ok := o.isAgent(oldAssignee); ok {
			o.sessions.Supersede(id, oldAssignee)
		}
	}
	o.logActivity(id, actor, "updated", strings.Join(changes, ", "))
	v := o.view(t)
	o.bus.Publish("task_updated", "task", v)
	return v, nil
}

func displayAssignee(name string) string {
	if name == "" {
		return "nobody"
	}
	return name
}

func (o *Orchestrator) DeleteTask(id, actor string) error {
	if actor == "" {
		actor = o.human
	}
	if !o.knownActor(actor) {
		return fmt.Errorf("unknown actor %q: %w", actor, ErrValidation)
	}
	ch := make(chan error, 1)
	o.queue.submit(id, func() {
		t, err := o.store.GetTask(id)
		if err != nil {
			ch <- err
			return
		}
		if err := o.store.DeleteTask(id); err != nil {
			ch <- err
			return
		}
		o.sessions.StopAll(id)
		o.logger.Info("task deleted", "task", id, "title", t.Title, "actor", actor)
		o.bus.Publish("task_deleted", "task", map[string]string{"task_id": id})
		ch <- nil
	})
	return <-ch
}

// Comments returns a task's full comment history, oldest first.
func (o *Orchestrator) Comments(taskID string) ([]*task.Comment, error) {
	if _, err := o.store.GetTask(taskID); err != nil {
		return nil, err
	}
	return o.store.ListComments(taskID)
}

// Items returns a task's action items, optionally filtered.
func (o *Orchestrator) Items(taskID string, f task.ItemFilter) ([]*task.ActionItem, error) {
	if _, err := o.store.GetTask(taskID); err != nil {
		return nil, err
	}
	return o.store.ListItems(taskID, f)
}

// Activity returns the most recent activity entries, newest first.
func (o *Orchestrator) Activity(limit int) ([]*task.Activity, error) {
	return o.store.ListActivity(limit)
}

// Roster exposes the configured agents.
func (o *Orchestrator) Roster() []agent.Identity {
	return o.roster.All()
}

// AgentTasks lists a member's open work: tasks assigned to it that
// are not done or blocked.
func (o *Orchestrator) AgentTasks(name string) ([]*TaskView, error) {
	if !o.knownActor(name) {
		return nil, fmt.Errorf("unknown agent %q: %w", name, ErrValidation)
	}
	tasks, err := o.store.ListTasks(task.Filter{AssignedTo: name})
	if err != nil {
		return nil, err
	}
	open := tasks[:0]
	for _, t := range tasks {
		if t.Status == task.StatusDone || t.Status == task.StatusBlocked {
			continue
		}
		open = append(open, t)
	}
	return o.views(open), nil
}
