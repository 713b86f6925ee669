package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGo-free SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 1,
	assigned_to TEXT NOT NULL DEFAULT '',
	rank        REAL NOT NULL DEFAULT 0,
	due_date    TIMESTAMP,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to);

CREATE TABLE IF NOT EXISTS comments (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	author     TEXT NOT NULL,
	body       TEXT NOT NULL,
	reply_to   TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id);

CREATE TABLE IF NOT EXISTS action_items (
	id          TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	author      TEXT NOT NULL,
	body        TEXT NOT NULL,
	comment_id  TEXT NOT NULL DEFAULT '',
	resolved    INTEGER NOT NULL DEFAULT 0,
	resolver    TEXT NOT NULL DEFAULT '',
	note        TEXT NOT NULL DEFAULT '',
	archived    INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_items_task ON action_items(task_id);

CREATE TABLE IF NOT EXISTS activity (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	action     TEXT NOT NULL,
	actor      TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_created ON activity(created_at);
`

// SQLiteStore is a Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at
// the given path and ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func newID() string {
	return uuid.NewString()
}

// CreateTask persists a new task, assigning an ID, timestamps, and a
// default rank when unset.
func (s *SQLiteStore) CreateTask(t *Task) (string, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusBacklog
	}
	if t.Rank == 0 {
		t.Rank = float64(now.UnixMilli())
	}

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, title, description, status, priority, assigned_to, rank, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), int(t.Priority), t.AssignedTo,
		t.Rank, nullTime(t.DueDate), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, status, priority, assigned_to, rank, due_date, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask saves changes to an existing task.
func (s *SQLiteStore) UpdateTask(t *Task) error {
	t.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE tasks
		SET title = ?, description = ?, status = ?, priority = ?, assigned_to = ?, rank = ?, due_date = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, string(t.Status), int(t.Priority), t.AssignedTo,
		t.Rank, nullTime(t.DueDate), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// ListTasks returns tasks matching the filter, ordered by rank.
func (s *SQLiteStore) ListTasks(filter Filter) ([]*Task, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, title, description, status, priority, assigned_to, rank, due_date, created_at, updated_at
		FROM tasks WHERE 1=1`)
	var args []any

	if filter.Status != nil {
		sb.WriteString(" AND status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.AssignedTo != "" {
		sb.WriteString(" AND assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	sb.WriteString(" ORDER BY rank ASC, created_at ASC")
	if filter.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			sb.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task together with its comments, action items,
// and activity rows.
func (s *SQLiteStore) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	for _, q := range []string{
		`DELETE FROM comments WHERE task_id = ?`,
		`DELETE FROM action_items WHERE task_id = ?`,
		`DELETE FROM activity WHERE task_id = ?`,
	} {
		if _, err := s.db.Exec(q, id); err != nil {
			return fmt.Errorf("delete task rows: %w", err)
		}
	}
	return nil
}

// AddComment appends a comment to a task's thread.
func (s *SQLiteStore) AddComment(c *Comment) (string, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = time.Now().UTC()

	replyTo, _ := json.Marshal(c.ReplyTo)
	_, err := s.db.Exec(`
		INSERT INTO comments (id, task_id, author, body, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.Author, c.Body, string(replyTo), c.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert comment: %w", err)
	}
	return c.ID, nil
}

// GetComment retrieves a single comment by ID.
func (s *SQLiteStore) GetComment(id string) (*Comment, error) {
	row := s.db.QueryRow(`
		SELECT id, task_id, author, body, reply_to, created_at
		FROM comments WHERE id = ?`, id)
	c, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

// ListComments returns a task's comments in chronological order.
func (s *SQLiteStore) ListComments(taskID string) ([]*Comment, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, author, body, reply_to, created_at
		FROM comments WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// RecentComments returns up to n of the newest comments on a task,
// oldest first.
func (s *SQLiteStore) RecentComments(taskID string, n int) ([]*Comment, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, task_id, author, body, reply_to, created_at
		FROM comments WHERE task_id = ? ORDER BY created_at DESC LIMIT %d`, n), taskID)
	if err != nil {
		return nil, fmt.Errorf("recent comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(comments)-1; i < j; i, j = i+1, j-1 {
		comments[i], comments[j] = comments[j], comments[i]
	}
	return comments, nil
}

// DeleteComment removes a comment by ID.
func (s *SQLiteStore) DeleteComment(id string) error {
	res, err := s.db.Exec(`DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddItem appends an action item to a task.
func (s *SQLiteStore) AddItem(it *ActionItem) (string, error) {
	if it.ID == "" {
		it.ID = newID()
	}
	it.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO action_items (id, task_id, kind, author, body, comment_id, resolved, resolver, note, archived, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.TaskID, string(it.Kind), it.Author, it.Body, it.CommentID,
		it.Resolved, it.Resolver, it.Note, it.Archived, it.CreatedAt, nullTime(it.ResolvedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert action item: %w", err)
	}
	return it.ID, nil
}

// GetItem retrieves a single action item by ID.
func (s *SQLiteStore) GetItem(id string) (*ActionItem, error) {
	row := s.db.QueryRow(`
		SELECT id, task_id, kind, author, body, comment_id, resolved, resolver, note, archived, created_at, resolved_at
		FROM action_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get action item: %w", err)
	}
	return it, nil
}

// ListItems returns a task's action items, oldest first.
func (s *SQLiteStore) ListItems(taskID string, filter ItemFilter) ([]*ActionItem, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, task_id, kind, author, body, comment_id, resolved, resolver, note, archived, created_at, resolved_at
		FROM action_items WHERE task_id = ?`)
	args := []any{taskID}

	if filter.Resolved != nil {
		sb.WriteString(" AND resolved = ?")
		args = append(args, *filter.Resolved)
	}
	if filter.Archived != nil {
		sb.WriteString(" AND archived = ?")
		args = append(args, *filter.Archived)
	}
	sb.WriteString(" ORDER BY created_at ASC")

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	defer rows.Close()

	var items []*ActionItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ResolveItem marks an item resolved and returns the updated row.
func (s *SQLiteStore) ResolveItem(id, resolver, note string) (*ActionItem, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE action_items SET resolved = 1, resolver = ?, note = ?, resolved_at = ?
		WHERE id = ?`, resolver, note, now, id)
	if err != nil {
		return nil, fmt.Errorf("resolve action item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve action item: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("action item %s: %w", id, ErrNotFound)
	}
	return s.GetItem(id)
}

// ArchiveItem sets an item's archived flag and returns the updated row.
func (s *SQLiteStore) ArchiveItem(id string, archived bool) (*ActionItem, error) {
	res, err := s.db.Exec(`UPDATE action_items SET archived = ? WHERE id = ?`, archived, id)
	if err != nil {
		return nil, fmt.Errorf("archive action item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("archive action item: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("action item %s: %w", id, ErrNotFound)
	}
	return s.GetItem(id)
}

// DeleteItem removes an action item by ID.
func (s *SQLiteStore) DeleteItem(id string) error {
	res, err := s.db.Exec(`DELETE FROM action_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete action item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete action item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("action item %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddActivity appends an audit row.
func (s *SQLiteStore) AddActivity(a *Activity) error {
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO activity (id, task_id, action, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.Action, a.Actor, a.Details, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest activity rows, most recent first.
func (s *SQLiteStore) ListActivity(limit int) ([]*Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, task_id, action, actor, details, created_at
		FROM activity ORDER BY created_at DESC LIMIT %d`, limit))
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []*Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Action, &a.Actor, &a.Details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, &a)
	}
	return entries, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status string
	var priority int
	var dueDate sql.NullTime
	err := s.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.AssignedTo,
		&t.Rank, &dueDate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	return &t, nil
}

func scanComment(s scanner) (*Comment, error) {
	var c Comment
	var replyTo sql.NullString
	err := s.Scan(&c.ID, &c.TaskID, &c.Author, &c.Body, &replyTo, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if replyTo.Valid && replyTo.String != "" && replyTo.String != "null" {
		if err := json.Unmarshal([]byte(replyTo.String), &c.ReplyTo); err != nil {
			return nil, fmt.Errorf("decode reply_to: %w", err)
		}
	}
	return &c, nil
}

func scanItem(s scanner) (*ActionItem, error) {
	var it ActionItem
	var kind string
	var resolvedAt sql.NullTime
	err := s.Scan(&it.ID, &it.TaskID, &kind, &it.Author, &it.Body, &it.CommentID,
		&it.Resolved, &it.Resolver, &it.Note, &it.Archived, &it.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	it.Kind = ItemKind(kind)
	if resolvedAt.Valid {
		r := resolvedAt.Time
		it.ResolvedAt = &r
	}
	return &it, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
