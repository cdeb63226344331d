package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dotsetgreg/taskmind/pkg/extract"
	"github.com/dotsetgreg/taskmind/pkg/logger"
	"github.com/dotsetgreg/taskmind/pkg/memory"
	"github.com/dotsetgreg/taskmind/pkg/providers"
	"github.com/dotsetgreg/taskmind/pkg/store"
)

// Update nodes reconcile one memory category against the conversation
// and persist the result. Each returns the confirmation text fed back to
// the responder and the number of writes performed. The transcript
// passed in ends with the assistant message that requested the update;
// the nodes reconcile against everything before it.

func (l *Loop) updateProfile(ctx context.Context, userID string, msgs []providers.Message) (string, int, error) {
	ns := l.namespace(store.CategoryProfile, userID)
	existing, err := l.loadExisting(ctx, ns, memory.ProfileSchemaName)
	if err != nil {
		return "", 0, err
	}

	ops, err := l.extractor.Extract(ctx, msgs[:len(msgs)-1], existing, extract.Schema{
		Name:        memory.ProfileSchemaName,
		Description: "General information about the user.",
		InputSchema: l.profileSchema,
	}, false, nil)
	if err != nil {
		return "", 0, err
	}

	n, err := l.persistOps(ctx, ns, ops)
	if err != nil {
		return "", 0, err
	}
	logger.InfoCF("agent", "profile reconciled", map[string]interface{}{
		"user_id": userID,
		"writes":  n,
	})
	return "updated profile", n, nil
}

func (l *Loop) updateTodos(ctx context.Context, userID string, msgs []providers.Message) (string, int, error) {
	ns := l.namespace(store.CategoryTodo, userID)
	existing, err := l.loadExisting(ctx, ns, memory.TodoSchemaName)
	if err != nil {
		return "", 0, err
	}

	var invocations []extract.Invocation
	ops, err := l.extractor.Extract(ctx, msgs[:len(msgs)-1], existing, extract.Schema{
		Name:        memory.TodoSchemaName,
		Description: "A task the user wants to track, with optional deadline and solutions.",
		InputSchema: l.todoSchema,
	}, true, func(inv extract.Invocation) {
		invocations = append(invocations, inv)
	})
	if err != nil {
		return "", 0, err
	}

	n, err := l.persistOps(ctx, ns, ops)
	if err != nil {
		return "", 0, err
	}
	logger.InfoCF("agent", "todos reconciled", map[string]interface{}{
		"user_id": userID,
		"writes":  n,
	})

	if summary := extract.Summarize(invocations, memory.TodoSchemaName); summary != "" {
		return summary, n, nil
	}
	return "updated todo list", n, nil
}

func (l *Loop) updateInstructions(ctx context.Context, userID string, msgs []providers.Message) (string, int, error) {
	ns := l.namespace(store.CategoryInstructions, userID)

	current := ""
	rec, err := l.store.Get(ctx, ns, memory.InstructionsKey)
	switch {
	case err == nil:
		var inst memory.Instructions
		if err := json.Unmarshal(rec.Value, &inst); err == nil {
			current = inst.Memory
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return "", 0, fmt.Errorf("load instructions: %w", err)
	}

	prompt := append([]providers.Message{{Role: "system", Content: renderInstructionsPrompt(current)}}, msgs[:len(msgs)-1]...)
	prompt = append(prompt, providers.Message{Role: "user", Content: instructionsUpdateRequest})

	resp, err := l.provider.Chat(ctx, prompt, nil, l.cfg.Model, map[string]interface{}{
		providers.OptionTemperature: 0.0,
	})
	if err != nil {
		return "", 0, fmt.Errorf("instructions call: %w", err)
	}

	value, err := json.Marshal(memory.Instructions{Memory: resp.Content})
	if err != nil {
		return "", 0, err
	}
	if err := l.store.Put(ctx, ns, memory.InstructionsKey, value); err != nil {
		return "", 0, fmt.Errorf("persist instructions: %w", err)
	}
	l.metrics.RecordMemoryUpdate()

	logger.InfoCF("agent", "instructions overwritten", map[string]interface{}{
		"user_id": userID,
	})
	return "updated instructions", 1, nil
}

// loadExisting maps stored records into extractor input, keeping nil for
// an empty namespace so the extractor knows there is nothing to merge.
func (l *Loop) loadExisting(ctx context.Context, ns store.Namespace, schemaName string) ([]extract.Record, error) {
	records, err := l.store.Search(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("load %s memories: %w", ns.Category, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	existing := make([]extract.Record, 0, len(records))
	for _, r := range records {
		existing = append(existing, extract.Record{ID: r.Key, Schema: schemaName, Value: r.Value})
	}
	return existing, nil
}

// persistOps writes create and patch operations, skipping no-ops.
// Creates get a fresh document key.
func (l *Loop) persistOps(ctx context.Context, ns store.Namespace, ops []extract.DocumentOp) (int, error) {
	n := 0
	for _, op := range ops {
		if op.Kind == extract.OpNoop {
			continue
		}
		key := op.DocID
		if key == "" {
			key = "doc-" + uuid.NewString()
		}
		if err := l.store.Put(ctx, ns, key, op.Value); err != nil {
			return n, fmt.Errorf("persist %s document %s: %w", ns.Category, key, err)
		}
		l.metrics.RecordMemoryUpdate()
		n++
	}
	return n, nil
}
