// Package task defines the board's domain model and persistence:
// tasks, their comment threads, action items, and the activity log.
package task

import (
	"errors"
	"time"
)

// ErrNotFound is wrapped by store methods when the requested row does
// not exist. Callers classify with errors.Is.
var ErrNotFound = errors.New("not found")

// Status represents a task's column on the board.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// Statuses lists every valid status in board order.
var Statuses = []Status{StatusBacklog, StatusInProgress, StatusReview, StatusDone, StatusBlocked}

// Valid reports whether s is one of the board statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Priority determines task ordering within a column.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityMedium   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// Task is a card on the board, owned by a human or an agent.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	AssignedTo  string     `json:"assigned_to,omitempty"` // agent display name, empty = unassigned
	Rank        float64    `json:"rank"`                  // custom sort position within a column
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Comment is one immutable entry in a task's discussion thread.
// Deleting a comment removes the row; history is otherwise append-only.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Author    string    `json:"author"` // human name, "System", or a roster agent
	Body      string    `json:"body"`
	ReplyTo   []string  `json:"reply_to,omitempty"` // prior comment IDs within the same task
	CreatedAt time.Time `json:"created_at"`
}

// ItemKind classifies an action item.
type ItemKind string

const (
	ItemQuestion   ItemKind = "question"
	ItemCompletion ItemKind = "completion"
	ItemBlocker    ItemKind = "blocker"
)

// Valid reports whether k is a known action item kind.
func (k ItemKind) Valid() bool {
	return k == ItemQuestion || k == ItemCompletion || k == ItemBlocker
}

// ActionItem is a followup attached to a task. Completion and blocker
// items are created automatically on status transitions; questions are
// raised explicitly.
type ActionItem struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	Kind       ItemKind   `json:"kind"`
	Author     string     `json:"author"`
	Body       string     `json:"body"`
	CommentID  string     `json:"comment_id,omitempty"` // originating comment, if any
	Resolved   bool       `json:"resolved"`
	Resolver   string     `json:"resolver,omitempty"`
	Note       string     `json:"note,omitempty"` // resolution note
	Archived   bool       `json:"archived"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Activity is one append-only audit row describing a board mutation.
type Activity struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which tasks are returned by ListTasks.
type Filter struct {
	Status     *Status `json:"status,omitempty"`
	AssignedTo string  `json:"assigned_to,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

// ItemFilter controls which action items are returned by ListItems.
// Nil pointers mean "either".
type ItemFilter struct {
	Resolved *bool
	Archived *bool
}

// Store persists and retrieves board state.
type Store interface {
	// CreateTask persists a new task and returns its assigned ID.
	CreateTask(t *Task) (string, error)

	// GetTask retrieves a task by ID.
	GetTask(id string) (*Task, error)

	// UpdateTask saves changes to an existing task.
	UpdateTask(t *Task) error

	// ListTasks returns tasks matching the given filter, ordered by rank.
	ListTasks(filter Filter) ([]*Task, error)

	// DeleteTask removes a task and everything attached to it.
	DeleteTask(id string) error

	// AddComment appends a comment to a task's thread.
	AddComment(c *Comment) (string, error)

	// GetComment retrieves a single comment by ID.
	GetComment(id string) (*Comment, error)

	// ListComments returns a task's comments in chronological order.
	ListComments(taskID string) ([]*Comment, error)

	// RecentComments returns up to n of the newest comments on a task,
	// oldest first, for use as spawn context.
	RecentComments(taskID string, n int) ([]*Comment, error)

	// DeleteComment removes a comment by ID.
	DeleteComment(id string) error

	// AddItem appends an action item to a task.
	AddItem(it *ActionItem) (string, error)

	// GetItem retrieves a single action item by ID.
	GetItem(id string) (*ActionItem, error)

	// ListItems returns a task's action items, oldest first.
	ListItems(taskID string, filter ItemFilter) ([]*ActionItem, error)

	// ResolveItem marks an item resolved with an optional note.
	ResolveItem(id, resolver, note string) (*ActionItem, error)

	// ArchiveItem sets an item's archived flag.
	ArchiveItem(id string, archived bool) (*ActionItem, error)

	// DeleteItem removes an action item by ID.
	DeleteItem(id string) error

	// AddActivity appends an audit row.
	AddActivity(a *Activity) error

	// ListActivity returns the newest activity rows, most recent first.
	ListActivity(limit int) ([]*Activity, error)
}
