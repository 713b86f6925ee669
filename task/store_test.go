package task

import (
	"errors"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "taskdeck-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)

	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tk := &Task{
		Title:       "Harden login flow",
		Description: "Rate limit and lockout",
		Priority:    PriorityHigh,
		AssignedTo:  "Architect",
		DueDate:     &due,
	}
	id, err := store.CreateTask(tk)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if id == "" {
		t.Fatal("CreateTask returned empty ID")
	}
	if tk.Status != StatusBacklog {
		t.Errorf("Status = %q, want default %q", tk.Status, StatusBacklog)
	}
	if tk.Rank == 0 {
		t.Error("Rank not defaulted")
	}

	got, err := store.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != tk.Title {
		t.Errorf("Title = %q, want %q", got.Title, tk.Title)
	}
	if got.AssignedTo != "Architect" {
		t.Errorf("AssignedTo = %q, want %q", got.AssignedTo, "Architect")
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("DueDate = %v, want %v", got.DueDate, due)
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetTask("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask error = %v, want ErrNotFound", err)
	}
	if err := store.UpdateTask(&Task{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTask error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteTask("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteTask error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetComment("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetComment error = %v, want ErrNotFound", err)
	}
	if _, err := store.ResolveItem("missing", "User", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveItem error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_UpdateAndList(t *testing.T) {
	store := newTestStore(t)

	first := &Task{Title: "first"}
	second := &Task{Title: "second", AssignedTo: "Code Reviewer"}
	if _, err := store.CreateTask(first); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.CreateTask(second); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	first.Status = StatusInProgress
	first.Rank = 1 // sort before second
	if err := store.UpdateTask(first); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	all, err := store.ListTasks(Filter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListTasks returned %d tasks, want 2", len(all))
	}
	if all[0].ID != first.ID {
		t.Errorf("rank ordering: first task = %q, want %q", all[0].Title, first.Title)
	}

	inProgress := StatusInProgress
	filtered, err := store.ListTasks(Filter{Status: &inProgress})
	if err != nil {
		t.Fatalf("ListTasks filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != first.ID {
		t.Errorf("status filter returned %d tasks", len(filtered))
	}

	assigned, err := store.ListTasks(Filter{AssignedTo: "Code Reviewer"})
	if err != nil {
		t.Fatalf("ListTasks assigned: %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != second.ID {
		t.Errorf("assignee filter returned %d tasks", len(assigned))
	}
}

func TestSQLiteStore_Comments(t *testing.T) {
	store := newTestStore(t)

	tk := &Task{Title: "thread"}
	taskID, err := store.CreateTask(tk)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	var ids []string
	for _, body := range []string{"one", "two", "three"} {
		c := &Comment{TaskID: taskID, Author: "User", Body: body}
		id, err := store.AddComment(c)
		if err != nil {
			t.Fatalf("AddComment: %v", err)
		}
		ids = append(ids, id)
	}

	reply := &Comment{TaskID: taskID, Author: "Architect", Body: "re: one and two", ReplyTo: []string{ids[0], ids[1]}}
	if _, err := store.AddComment(reply); err != nil {
		t.Fatalf("AddComment reply: %v", err)
	}

	comments, err := store.ListComments(taskID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 4 {
		t.Fatalf("ListComments returned %d, want 4", len(comments))
	}
	if comments[0].Body != "one" || comments[3].Body != "re: one and two" {
		t.Errorf("comments out of order: %q ... %q", comments[0].Body, comments[3].Body)
	}
	if len(comments[3].ReplyTo) != 2 || comments[3].ReplyTo[0] != ids[0] {
		t.Errorf("ReplyTo = %v, want [%s %s]", comments[3].ReplyTo, ids[0], ids[1])
	}

	recent, err := store.RecentComments(taskID, 2)
	if err != nil {
		t.Fatalf("RecentComments: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("RecentComments returned %d, want 2", len(recent))
	}
	if recent[0].Body != "three" || recent[1].Body != "re: one and two" {
		t.Errorf("RecentComments order = %q, %q", recent[0].Body, recent[1].Body)
	}

	if err := store.DeleteComment(ids[1]); err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}
	if _, err := store.GetComment(ids[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetComment after delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ActionItems(t *testing.T) {
	store := newTestStore(t)

	taskID, err := store.CreateTask(&Task{Title: "items"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	q := &ActionItem{TaskID: taskID, Kind: ItemQuestion, Author: "Architect", Body: "which DB?"}
	qID, err := store.AddItem(q)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	b := &ActionItem{TaskID: taskID, Kind: ItemBlocker, Author: "System", Body: "Blocked: waiting on creds"}
	bID, err := store.AddItem(b)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	resolved, err := store.ResolveItem(qID, "User", "use sqlite")
	if err != nil {
		t.Fatalf("ResolveItem: %v", err)
	}
	if !resolved.Resolved || resolved.Resolver != "User" || resolved.Note != "use sqlite" {
		t.Errorf("ResolveItem = %+v", resolved)
	}
	if resolved.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}

	open := false
	openItems, err := store.ListItems(taskID, ItemFilter{Resolved: &open})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(openItems) != 1 || openItems[0].ID != bID {
		t.Errorf("open items = %d, want just the blocker", len(openItems))
	}

	archived, err := store.ArchiveItem(qID, true)
	if err != nil {
		t.Fatalf("ArchiveItem: %v", err)
	}
	if !archived.Archived {
		t.Error("Archived flag not set")
	}

	wantArchived := true
	archList, err := store.ListItems(taskID, ItemFilter{Archived: &wantArchived})
	if err != nil {
		t.Fatalf("ListItems archived: %v", err)
	}
	if len(archList) != 1 || archList[0].ID != qID {
		t.Errorf("archived items = %d, want 1", len(archList))
	}

	if err := store.DeleteItem(bID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := store.GetItem(bID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetItem after delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_DeleteTaskCascades(t *testing.T) {
	store := newTestStore(t)

	taskID, err := store.CreateTask(&Task{Title: "doomed"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.AddComment(&Comment{TaskID: taskID, Author: "User", Body: "bye"}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, err := store.AddItem(&ActionItem{TaskID: taskID, Kind: ItemQuestion, Author: "User", Body: "?"}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	if err := store.DeleteTask(taskID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	comments, err := store.ListComments(taskID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 0 {
		t.Errorf("comments survived delete: %d", len(comments))
	}
	items, err := store.ListItems(taskID, ItemFilter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items survived delete: %d", len(items))
	}
}

func TestSQLiteStore_Activity(t *testing.T) {
	store := newTestStore(t)

	taskID, err := store.CreateTask(&Task{Title: "audited"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	for _, action := range []string{"created", "moved", "commented"} {
		if err := store.AddActivity(&Activity{TaskID: taskID, Action: action, Actor: "User"}); err != nil {
			t.Fatalf("AddActivity: %v", err)
		}
	}

	entries, err := store.ListActivity(2)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListActivity returned %d, want 2", len(entries))
	}
	if entries[0].Action != "commented" {
		t.Errorf("newest entry = %q, want %q", entries[0].Action, "commented")
	}
}
