// Package reminder periodically scans todo memories and flags overdue
// items so operators can see users with stalled tasks.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/taskmind/pkg/logger"
	"github.com/dotsetgreg/taskmind/pkg/memory"
	"github.com/dotsetgreg/taskmind/pkg/store"
)

// Sweeper walks every populated todo namespace on a cron schedule.
type Sweeper struct {
	store store.NamespaceLister
	cron  string
	now   func() time.Time
}

// New builds a sweeper. The store must also implement store.Store; the
// lister half finds namespaces, the store half reads them.
func New(st store.NamespaceLister, cron string) (*Sweeper, error) {
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("invalid cron expression %q", cron)
	}
	return &Sweeper{store: st, cron: cron, now: time.Now}, nil
}

// Run sweeps on the configured schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next, err := gronx.NextTick(s.cron, false)
		if err != nil {
			return fmt.Errorf("compute next tick: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}

		overdue, err := s.Sweep(ctx)
		if err != nil {
			logger.ErrorCF("reminder", "sweep failed", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		logger.InfoCF("reminder", "sweep complete", map[string]interface{}{
			"overdue": overdue,
		})
	}
}

// Sweep scans all todo namespaces once and returns how many items are
// past their deadline and still open.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	reader, ok := s.store.(store.Store)
	if !ok {
		return 0, fmt.Errorf("namespace lister does not expose record reads")
	}

	namespaces, err := s.store.Namespaces(ctx, store.CategoryTodo)
	if err != nil {
		return 0, fmt.Errorf("list todo namespaces: %w", err)
	}

	now := s.now()
	overdue := 0
	for _, ns := range namespaces {
		records, err := reader.Search(ctx, ns)
		if err != nil {
			return overdue, fmt.Errorf("scan %s/%s: %w", ns.Qualifier, ns.UserID, err)
		}
		for _, rec := range records {
			var todo memory.Todo
			if err := json.Unmarshal(rec.Value, &todo); err != nil {
				continue
			}
			if !isOverdue(todo, now) {
				continue
			}
			overdue++
			logger.WarnCF("reminder", "todo overdue", map[string]interface{}{
				"user_id":  ns.UserID,
				"task":     todo.Task,
				"deadline": todo.Deadline.Format(time.RFC3339),
			})
		}
	}
	return overdue, nil
}

func isOverdue(todo memory.Todo, now time.Time) bool {
	if todo.Deadline == nil || todo.Deadline.After(now) {
		return false
	}
	return todo.Status != memory.StatusDone && todo.Status != memory.StatusArchived
}
