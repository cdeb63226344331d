// Package agent implements the turn loop: respond to the user, route the
// reply, run the requested memory update, and feed the confirmation back
// into the conversation until the responder settles on a final answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/taskmind/pkg/extract"
	"github.com/dotsetgreg/taskmind/pkg/logger"
	"github.com/dotsetgreg/taskmind/pkg/memory"
	"github.com/dotsetgreg/taskmind/pkg/metrics"
	"github.com/dotsetgreg/taskmind/pkg/providers"
	"github.com/dotsetgreg/taskmind/pkg/store"
)

const defaultMaxUpdateIterations = 8

// Extractor is the reconciliation capability the update nodes depend on.
type Extractor interface {
	Extract(ctx context.Context, messages []providers.Message, existing []extract.Record, schema extract.Schema, allowInsert bool, obs extract.Observer) ([]extract.DocumentOp, error)
}

// Config tunes one Loop instance.
type Config struct {
	// Model overrides the provider default when non-empty.
	Model string
	// RoleDescription replaces the default persona in the system prompt.
	RoleDescription string
	// Qualifier scopes all memory namespaces, so several assistants can
	// share one store without colliding.
	Qualifier string
	// MaxUpdateIterations caps respond/update cycles per turn. Zero
	// means the package default.
	MaxUpdateIterations int
	// TodoBlockLimit caps how many todos are rendered into the system
	// prompt. Zero means unlimited.
	TodoBlockLimit int
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	// Reply is the final assistant text for the user.
	Reply string `json:"reply"`
	// Messages is the full transcript including intermediate tool
	// traffic, suitable for carrying into the next turn.
	Messages []providers.Message `json:"messages"`
	// MemoryUpdates counts persisted memory writes during this turn.
	MemoryUpdates int `json:"memory_updates"`
}

// Loop wires the responder, extractor, store and metrics into the
// per-turn state machine.
type Loop struct {
	store     store.Store
	provider  providers.LLMProvider
	extractor Extractor
	metrics   *metrics.Aggregator
	cfg       Config
	now       func() time.Time

	profileSchema map[string]interface{}
	todoSchema    map[string]interface{}
}

func NewLoop(st store.Store, provider providers.LLMProvider, extractor Extractor, agg *metrics.Aggregator, cfg Config) *Loop {
	if cfg.MaxUpdateIterations <= 0 {
		cfg.MaxUpdateIterations = defaultMaxUpdateIterations
	}
	if cfg.Qualifier == "" {
		cfg.Qualifier = "general"
	}
	return &Loop{
		store:         st,
		provider:      provider,
		extractor:     extractor,
		metrics:       agg,
		cfg:           cfg,
		now:           time.Now,
		profileSchema: providers.GenerateSchema[memory.Profile](),
		todoSchema:    providers.GenerateSchema[memory.Todo](),
	}
}

type updateMemoryInput struct {
	UpdateType string `json:"update_type" jsonschema:"enum=user,enum=todo,enum=instructions" jsonschema_description:"Which memory to update: user profile, todo list, or update instructions."`
}

var updateMemorySchema = providers.GenerateSchema[updateMemoryInput]()

// Process runs one full turn for userID. messages is the transcript so
// far, ending with the newest user message. The returned transcript
// includes every intermediate assistant and tool message produced while
// settling the turn.
func (l *Loop) Process(ctx context.Context, userID string, messages []providers.Message) (*TurnResult, error) {
	msgs := append([]providers.Message(nil), messages...)
	updates := 0

	for i := 0; ; i++ {
		if i >= l.cfg.MaxUpdateIterations {
			l.metrics.RecordError()
			return nil, fmt.Errorf("turn exceeded %d update iterations for user %s", l.cfg.MaxUpdateIterations, userID)
		}

		reply, err := l.respond(ctx, userID, msgs)
		if err != nil {
			l.metrics.RecordError()
			return nil, err
		}
		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})

		target, err := route(reply)
		if err != nil {
			l.metrics.RecordError()
			return nil, fmt.Errorf("route reply for user %s: %w", userID, err)
		}
		if target == routeEnd {
			logger.InfoCF("agent", "turn complete", map[string]interface{}{
				"user_id":    userID,
				"iterations": i + 1,
				"updates":    updates,
			})
			return &TurnResult{Reply: reply.Content, Messages: msgs, MemoryUpdates: updates}, nil
		}

		logger.DebugCF("agent", "routing update", map[string]interface{}{
			"user_id": userID,
			"target":  target.String(),
		})

		var confirmation string
		var n int
		switch target {
		case routeProfile:
			confirmation, n, err = l.updateProfile(ctx, userID, msgs)
		case routeTodos:
			confirmation, n, err = l.updateTodos(ctx, userID, msgs)
		case routeInstructions:
			confirmation, n, err = l.updateInstructions(ctx, userID, msgs)
		}
		if err != nil {
			l.metrics.RecordError()
			return nil, fmt.Errorf("%s for user %s: %w", target, userID, err)
		}
		updates += n

		msgs = append(msgs, providers.Message{
			Role:       "tool",
			Content:    confirmation,
			ToolCallID: reply.ToolCalls[0].ID,
		})
	}
}

// respond loads all three memory namespaces concurrently, renders them
// into the system prompt, and asks the model for the next reply.
func (l *Loop) respond(ctx context.Context, userID string, msgs []providers.Message) (*providers.LLMResponse, error) {
	start := l.now()

	var (
		wg                    sync.WaitGroup
		profileRecs, todoRecs []store.Record
		instructionsRec       store.Record
		errs                  [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		profileRecs, errs[0] = l.store.Search(ctx, l.namespace(store.CategoryProfile, userID))
	}()
	go func() {
		defer wg.Done()
		todoRecs, errs[1] = l.store.Search(ctx, l.namespace(store.CategoryTodo, userID))
	}()
	go func() {
		defer wg.Done()
		rec, err := l.store.Get(ctx, l.namespace(store.CategoryInstructions, userID), memory.InstructionsKey)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			errs[2] = err
			return
		}
		instructionsRec = rec
	}()
	wg.Wait()

	if err := errors.Join(errs[:]...); err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}

	system := renderResponderPrompt(
		l.cfg.RoleDescription,
		renderProfile(profileRecs),
		renderTodos(todoRecs, l.cfg.TodoBlockLimit),
		renderInstructions(instructionsRec),
	)
	prompt := append([]providers.Message{{Role: "system", Content: system}}, msgs...)

	tools := []providers.ToolDefinition{{
		Name:        updateMemoryTool,
		Description: "Request an update to long-term memory for the current user.",
		InputSchema: updateMemorySchema,
	}}
	options := map[string]interface{}{
		providers.OptionParallelToolCalls: false,
	}

	resp, err := l.provider.Chat(ctx, prompt, tools, l.cfg.Model, options)
	if err != nil {
		return nil, fmt.Errorf("responder call: %w", err)
	}
	l.metrics.RecordRequest(l.now().Sub(start))
	return resp, nil
}

func (l *Loop) namespace(category store.Category, userID string) store.Namespace {
	return store.Namespace{Category: category, Qualifier: l.cfg.Qualifier, UserID: userID}
}

func renderProfile(records []store.Record) string {
	if len(records) == 0 {
		return ""
	}
	// A user has a single profile document; older extra documents are
	// shadowed, not merged.
	return string(records[0].Value)
}

func renderTodos(records []store.Record, limit int) string {
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	var b strings.Builder
	for _, r := range records {
		var todo memory.Todo
		if err := json.Unmarshal(r.Value, &todo); err != nil {
			fmt.Fprintf(&b, "- %s\n", string(r.Value))
			continue
		}
		fmt.Fprintf(&b, "- %s (status: %s)\n", todo.Task, todo.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderInstructions(rec store.Record) string {
	if len(rec.Value) == 0 {
		return ""
	}
	var inst memory.Instructions
	if err := json.Unmarshal(rec.Value, &inst); err != nil {
		return string(rec.Value)
	}
	return inst.Memory
}
