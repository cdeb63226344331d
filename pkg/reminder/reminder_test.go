package reminder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dotsetgreg/taskmind/pkg/memory"
	"github.com/dotsetgreg/taskmind/pkg/store"
)

func putTodo(t *testing.T, st *store.MemStore, userID, key string, todo memory.Todo) {
	t.Helper()
	value, err := json.Marshal(todo)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ns := store.Namespace{Category: store.CategoryTodo, Qualifier: "general", UserID: userID}
	if err := st.Put(context.Background(), ns, key, value); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestNewRejectsBadCron(t *testing.T) {
	if _, err := New(store.NewMemStore(), "not a cron"); err == nil {
		t.Fatal("expected error for invalid cron")
	}
	if _, err := New(store.NewMemStore(), "*/30 * * * *"); err != nil {
		t.Fatalf("valid cron rejected: %v", err)
	}
}

func TestSweepCountsOverdue(t *testing.T) {
	st := store.NewMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	putTodo(t, st, "asis", "doc-1", memory.Todo{Task: "overdue open", Deadline: &past, Status: memory.StatusNotStarted})
	putTodo(t, st, "asis", "doc-2", memory.Todo{Task: "overdue done", Deadline: &past, Status: memory.StatusDone})
	putTodo(t, st, "asis", "doc-3", memory.Todo{Task: "not yet due", Deadline: &future, Status: memory.StatusInProgress})
	putTodo(t, st, "asis", "doc-4", memory.Todo{Task: "no deadline", Status: memory.StatusNotStarted})
	putTodo(t, st, "other", "doc-5", memory.Todo{Task: "another user", Deadline: &past, Status: memory.StatusInProgress})

	sweeper, err := New(st, "*/30 * * * *")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sweeper.now = func() time.Time { return now }

	overdue, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if overdue != 2 {
		t.Fatalf("overdue = %d, want 2", overdue)
	}
}

func TestSweepEmptyStore(t *testing.T) {
	sweeper, err := New(store.NewMemStore(), "* * * * *")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	overdue, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if overdue != 0 {
		t.Fatalf("overdue = %d, want 0", overdue)
	}
}
