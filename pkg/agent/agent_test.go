package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/taskmind/pkg/extract"
	"github.com/dotsetgreg/taskmind/pkg/memory"
	"github.com/dotsetgreg/taskmind/pkg/metrics"
	"github.com/dotsetgreg/taskmind/pkg/providers"
	"github.com/dotsetgreg/taskmind/pkg/store"
)

// scriptedProvider replays canned responses in order and records every
// call it receives.
type scriptedProvider struct {
	responses []*providers.LLMResponse
	calls     []scriptedCall
}

type scriptedCall struct {
	messages []providers.Message
	tools    []providers.ToolDefinition
	options  map[string]interface{}
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	p.calls = append(p.calls, scriptedCall{messages: messages, tools: tools, options: options})
	if len(p.responses) == 0 {
		return nil, errors.New("scripted provider exhausted")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "scripted" }

type scriptedExtractor struct {
	ops         []extract.DocumentOp
	invocations []extract.Invocation
	err         error

	gotExisting []extract.Record
	gotSchema   extract.Schema
	gotInsert   bool
}

func (e *scriptedExtractor) Extract(ctx context.Context, messages []providers.Message, existing []extract.Record, schema extract.Schema, allowInsert bool, obs extract.Observer) ([]extract.DocumentOp, error) {
	e.gotExisting = existing
	e.gotSchema = schema
	e.gotInsert = allowInsert
	if e.err != nil {
		return nil, e.err
	}
	if obs != nil {
		for _, inv := range e.invocations {
			obs(inv)
		}
	}
	return e.ops, nil
}

func textReply(s string) *providers.LLMResponse {
	return &providers.LLMResponse{Content: s}
}

func updateReply(updateType string) *providers.LLMResponse {
	return &providers.LLMResponse{ToolCalls: []providers.ToolCall{{
		ID:        "tc-" + updateType,
		Name:      updateMemoryTool,
		Arguments: map[string]interface{}{"update_type": updateType},
	}}}
}

func newTestLoop(provider providers.LLMProvider, ex Extractor) (*Loop, *store.MemStore, *metrics.Aggregator) {
	st := store.NewMemStore()
	agg := metrics.NewAggregator()
	loop := NewLoop(st, provider, ex, agg, Config{Qualifier: "general"})
	return loop, st, agg
}

func TestRoute(t *testing.T) {
	cases := []struct {
		name    string
		reply   *providers.LLMResponse
		want    routeTarget
		wantErr bool
	}{
		{"plain text", textReply("hello"), routeEnd, false},
		{"user", updateReply("user"), routeProfile, false},
		{"todo", updateReply("todo"), routeTodos, false},
		{"instructions", updateReply("instructions"), routeInstructions, false},
		{"unknown type", updateReply("bogus"), routeEnd, true},
		{"foreign tool", &providers.LLMResponse{ToolCalls: []providers.ToolCall{{Name: "other"}}}, routeEnd, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := route(tc.reply)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("route: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProcessPlainTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{textReply("Hi Asis! Nice to meet you.")}}
	loop, _, agg := newTestLoop(provider, &scriptedExtractor{})

	result, err := loop.Process(context.Background(), "asis", []providers.Message{{Role: "user", Content: "Hello"}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Reply != "Hi Asis! Nice to meet you." {
		t.Fatalf("unexpected reply %q", result.Reply)
	}
	if result.MemoryUpdates != 0 {
		t.Fatalf("expected no updates, got %d", result.MemoryUpdates)
	}

	snap := agg.Stats()
	if snap.RequestsTotal != 1 || snap.ErrorsTotal != 0 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}

	// The responder sees the memory-laden system prompt plus the tool.
	call := provider.calls[0]
	if call.messages[0].Role != "system" || !strings.Contains(call.messages[0].Content, "<user_profile>") {
		t.Fatalf("missing system prompt: %+v", call.messages[0])
	}
	if len(call.tools) != 1 || call.tools[0].Name != updateMemoryTool {
		t.Fatalf("unexpected tools: %+v", call.tools)
	}
	if parallel, ok := call.options[providers.OptionParallelToolCalls].(bool); !ok || parallel {
		t.Fatalf("parallel tool calls not disabled: %v", call.options)
	}
}

func TestProcessTodoUpdate(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		updateReply("todo"),
		textReply("Added the marathon to your list."),
	}}
	todoJSON := map[string]interface{}{"task": "train for marathon", "status": "not started"}
	ex := &scriptedExtractor{
		ops:         []extract.DocumentOp{{Kind: extract.OpCreate, Value: mustJSON(todoJSON)}},
		invocations: []extract.Invocation{{Tool: memory.TodoSchemaName, Args: todoJSON}},
	}
	loop, st, agg := newTestLoop(provider, ex)

	result, err := loop.Process(context.Background(), "asis", []providers.Message{{Role: "user", Content: "I need to train for a marathon"}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Reply != "Added the marathon to your list." {
		t.Fatalf("unexpected reply %q", result.Reply)
	}
	if result.MemoryUpdates != 1 {
		t.Fatalf("expected 1 update, got %d", result.MemoryUpdates)
	}
	if !ex.gotInsert {
		t.Fatal("todo extraction must allow inserts")
	}
	if ex.gotExisting != nil {
		t.Fatalf("expected nil existing for empty namespace, got %+v", ex.gotExisting)
	}

	records, err := st.Search(context.Background(), store.Namespace{Category: store.CategoryTodo, Qualifier: "general", UserID: "asis"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(records) != 1 || !strings.HasPrefix(records[0].Key, "doc-") {
		t.Fatalf("unexpected records: %+v", records)
	}

	// The extractor summary travels back as the tool result.
	toolMsg := result.Messages[2]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "tc-todo" {
		t.Fatalf("unexpected tool message: %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, "New ToDo created:") {
		t.Fatalf("unexpected confirmation: %q", toolMsg.Content)
	}

	snap := agg.Stats()
	if snap.RequestsTotal != 2 || snap.MemoryUpdates != 1 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}
}

func TestProcessProfilePatchKeepsKey(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		updateReply("user"),
		textReply("Got it."),
	}}
	ex := &scriptedExtractor{ops: []extract.DocumentOp{{
		DocID: "doc-existing",
		Kind:  extract.OpPatch,
		Value: json.RawMessage(`{"name":"Asis","location":"Chennai"}`),
	}}}
	loop, st, _ := newTestLoop(provider, ex)

	ns := store.Namespace{Category: store.CategoryProfile, Qualifier: "general", UserID: "asis"}
	if err := st.Put(context.Background(), ns, "doc-existing", json.RawMessage(`{"name":"Asis"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := loop.Process(context.Background(), "asis", []providers.Message{{Role: "user", Content: "I moved to Chennai"}}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if ex.gotInsert {
		t.Fatal("profile extraction must not allow inserts")
	}
	if len(ex.gotExisting) != 1 || ex.gotExisting[0].ID != "doc-existing" {
		t.Fatalf("unexpected existing: %+v", ex.gotExisting)
	}

	records, _ := st.Search(context.Background(), ns)
	if len(records) != 1 || records[0].Key != "doc-existing" {
		t.Fatalf("profile key not preserved: %+v", records)
	}
	if !strings.Contains(string(records[0].Value), "Chennai") {
		t.Fatalf("profile not patched: %s", records[0].Value)
	}
}

func TestProcessInstructionsOverwrite(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		updateReply("instructions"),
		textReply("Always add deadlines when creating todos."),
		textReply("Noted, I'll include deadlines from now on."),
	}}
	loop, st, agg := newTestLoop(provider, &scriptedExtractor{})

	ns := store.Namespace{Category: store.CategoryInstructions, Qualifier: "general", UserID: "asis"}
	seed := mustJSON(memory.Instructions{Memory: "old preferences"})
	if err := st.Put(context.Background(), ns, memory.InstructionsKey, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := loop.Process(context.Background(), "asis", []providers.Message{{Role: "user", Content: "Please always include deadlines"}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.MemoryUpdates != 1 {
		t.Fatalf("expected 1 update, got %d", result.MemoryUpdates)
	}

	rec, err := st.Get(context.Background(), ns, memory.InstructionsKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var inst memory.Instructions
	if err := json.Unmarshal(rec.Value, &inst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inst.Memory != "Always add deadlines when creating todos." {
		t.Fatalf("instructions not overwritten: %q", inst.Memory)
	}

	// The reflection call carries the previous instructions and the
	// closing update request.
	reflection := provider.calls[1]
	if !strings.Contains(reflection.messages[0].Content, "old preferences") {
		t.Fatalf("reflection prompt missing current instructions:\n%s", reflection.messages[0].Content)
	}
	last := reflection.messages[len(reflection.messages)-1]
	if last.Role != "user" || last.Content != instructionsUpdateRequest {
		t.Fatalf("unexpected closing message: %+v", last)
	}

	snap := agg.Stats()
	if snap.MemoryUpdates != 1 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}
}

func TestProcessUnknownDirectiveIsFatal(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{updateReply("everything")}}
	loop, _, agg := newTestLoop(provider, &scriptedExtractor{})

	_, err := loop.Process(context.Background(), "asis", []providers.Message{{Role: "user", Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "unknown update_type") {
		t.Fatalf("expected routing fault, got %v", err)
	}
	if agg.Stats().ErrorsTotal != 1 {
		t.Fatalf("routing fault not counted: %+v", agg.Stats())
	}
}

func TestProcessIterationCap(t *testing.T) {
	responses := make([]*providers.LLMResponse, 0, 8)
	for i := 0; i < 8; i++ {
		responses = append(responses, updateReply("todo"))
	}
	provider := &scriptedProvider{responses: responses}
	ex := &scriptedExtractor{ops: []extract.DocumentOp{{Kind: extract.OpCreate, Value: json.RawMessage(`{"task":"x","status":"not started"}`)}}}
	loop, _, _ := newTestLoop(provider, ex)

	_, err := loop.Process(context.Background(), "asis", []providers.Message{{Role: "user", Content: "loop forever"}})
	if err == nil || !strings.Contains(err.Error(), "update iterations") {
		t.Fatalf("expected iteration cap, got %v", err)
	}
}

func TestProcessExtractorFailureCountsError(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{updateReply("todo")}}
	loop, _, agg := newTestLoop(provider, &scriptedExtractor{err: errors.New("extraction blew up")})

	_, err := loop.Process(context.Background(), "asis", []providers.Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if agg.Stats().ErrorsTotal != 1 {
		t.Fatalf("extractor failure not counted: %+v", agg.Stats())
	}
}

func TestResponderPromptRendersMemories(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{textReply("ok")}}
	loop, st, _ := newTestLoop(provider, &scriptedExtractor{})

	ctx := context.Background()
	profileNS := store.Namespace{Category: store.CategoryProfile, Qualifier: "general", UserID: "asis"}
	todoNS := store.Namespace{Category: store.CategoryTodo, Qualifier: "general", UserID: "asis"}
	instNS := store.Namespace{Category: store.CategoryInstructions, Qualifier: "general", UserID: "asis"}
	if err := st.Put(ctx, profileNS, "doc-1", json.RawMessage(`{"name":"Asis"}`)); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	if err := st.Put(ctx, todoNS, "doc-2", mustJSON(memory.Todo{Task: "book flights", Status: memory.StatusNotStarted})); err != nil {
		t.Fatalf("seed todo: %v", err)
	}
	if err := st.Put(ctx, instNS, memory.InstructionsKey, mustJSON(memory.Instructions{Memory: "keep it short"})); err != nil {
		t.Fatalf("seed instructions: %v", err)
	}

	if _, err := loop.Process(ctx, "asis", []providers.Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("process: %v", err)
	}

	system := provider.calls[0].messages[0].Content
	for _, want := range []string{`"name":"Asis"`, "book flights (status: not started)", "keep it short"} {
		if !strings.Contains(system, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, system)
		}
	}
}

func TestSessionStore(t *testing.T) {
	sessions := NewSessionStore()
	if got := sessions.History("asis"); got != nil {
		t.Fatalf("expected nil history, got %+v", got)
	}

	msgs := []providers.Message{{Role: "user", Content: "hi"}}
	sessions.Replace("asis", msgs)
	got := sessions.History("asis")
	if len(got) != 1 || got[0].Content != "hi" {
		t.Fatalf("unexpected history: %+v", got)
	}

	// Mutating the returned copy never leaks back.
	got[0].Content = "tampered"
	if sessions.History("asis")[0].Content != "hi" {
		t.Fatal("history copy leaked")
	}

	sessions.Clear("asis")
	if sessions.History("asis") != nil {
		t.Fatal("history survived clear")
	}
}

// slowStore delays reads so latency accounting is observable.
type slowStore struct {
	*store.MemStore
	delay time.Duration
}

func (s slowStore) Search(ctx context.Context, ns store.Namespace) ([]store.Record, error) {
	time.Sleep(s.delay)
	return s.MemStore.Search(ctx, ns)
}

func TestLatencyCoversMemoryLoads(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{textReply("ok")}}
	agg := metrics.NewAggregator()
	st := slowStore{MemStore: store.NewMemStore(), delay: 20 * time.Millisecond}
	loop := NewLoop(st, provider, &scriptedExtractor{}, agg, Config{Qualifier: "general"})

	if _, err := loop.Process(context.Background(), "asis", []providers.Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("process: %v", err)
	}

	// The sample must include the store reads, not just the model call.
	if snap := agg.Stats(); snap.AvgResponseTime < 0.02 {
		t.Fatalf("recorded latency %.4fs excludes memory loads", snap.AvgResponseTime)
	}
}

// TestMemoryScenario walks three sequential turns against one store:
// profile creation, todo creation, then an instructions overwrite.
func TestMemoryScenario(t *testing.T) {
	st := store.NewMemStore()
	agg := metrics.NewAggregator()
	ctx := context.Background()

	turn := func(provider *scriptedProvider, ex Extractor, text string) *TurnResult {
		t.Helper()
		loop := NewLoop(st, provider, ex, agg, Config{Qualifier: "general"})
		result, err := loop.Process(ctx, "asis", []providers.Message{{Role: "user", Content: text}})
		if err != nil {
			t.Fatalf("process %q: %v", text, err)
		}
		return result
	}

	// Turn 1: personal information creates a profile document.
	turn(
		&scriptedProvider{responses: []*providers.LLMResponse{
			updateReply("user"),
			textReply("Nice to meet you, Asis!"),
		}},
		&scriptedExtractor{ops: []extract.DocumentOp{{
			Kind:  extract.OpCreate,
			Value: json.RawMessage(`{"name":"Asis","interests":["running"]}`),
		}}},
		"My name is Asis, I run marathons",
	)

	profileNS := store.Namespace{Category: store.CategoryProfile, Qualifier: "general", UserID: "asis"}
	profiles, _ := st.Search(ctx, profileNS)
	if len(profiles) != 1 || !strings.Contains(string(profiles[0].Value), "Asis") {
		t.Fatalf("profile not created: %+v", profiles)
	}

	// Turn 2: a task lands in the todo namespace, not the profile.
	turn(
		&scriptedProvider{responses: []*providers.LLMResponse{
			updateReply("todo"),
			textReply("Added marathon training."),
		}},
		&scriptedExtractor{ops: []extract.DocumentOp{{
			Kind:  extract.OpCreate,
			Value: json.RawMessage(`{"task":"train for marathon","status":"not started"}`),
		}}},
		"I need to train for a marathon in 3 months",
	)

	todoNS := store.Namespace{Category: store.CategoryTodo, Qualifier: "general", UserID: "asis"}
	todos, _ := st.Search(ctx, todoNS)
	if len(todos) != 1 {
		t.Fatalf("todo not created: %+v", todos)
	}
	if profiles, _ = st.Search(ctx, profileNS); len(profiles) != 1 {
		t.Fatalf("profile namespace polluted: %+v", profiles)
	}

	// Turn 3: preferences overwrite the instructions record completely.
	instNS := store.Namespace{Category: store.CategoryInstructions, Qualifier: "general", UserID: "asis"}
	seed := mustJSON(memory.Instructions{Memory: "old text that must vanish"})
	if err := st.Put(ctx, instNS, memory.InstructionsKey, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	turn(
		&scriptedProvider{responses: []*providers.LLMResponse{
			updateReply("instructions"),
			textReply("Focus todos on sports and family."),
			textReply("Understood."),
		}},
		&scriptedExtractor{},
		"Focus todos on sports and family",
	)

	rec, err := st.Get(ctx, instNS, memory.InstructionsKey)
	if err != nil {
		t.Fatalf("get instructions: %v", err)
	}
	var inst memory.Instructions
	if err := json.Unmarshal(rec.Value, &inst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inst.Memory != "Focus todos on sports and family." {
		t.Fatalf("instructions not overwritten: %q", inst.Memory)
	}
	if strings.Contains(inst.Memory, "old text") {
		t.Fatalf("stale instructions survive: %q", inst.Memory)
	}

	if snap := agg.Stats(); snap.MemoryUpdates != 3 {
		t.Fatalf("unexpected update count: %+v", snap)
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal fixture: %v", err))
	}
	return data
}
