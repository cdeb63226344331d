// Package gateway exposes the assistant over HTTP: a chat endpoint,
// read-only memory views, health and metrics, and a websocket channel
// for interactive clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dotsetgreg/taskmind/pkg/agent"
	"github.com/dotsetgreg/taskmind/pkg/health"
	"github.com/dotsetgreg/taskmind/pkg/logger"
	"github.com/dotsetgreg/taskmind/pkg/memory"
	"github.com/dotsetgreg/taskmind/pkg/metrics"
	"github.com/dotsetgreg/taskmind/pkg/providers"
	"github.com/dotsetgreg/taskmind/pkg/store"
)

const maxUserIDLen = 128

// Processor runs one conversational turn. *agent.Loop satisfies it.
type Processor interface {
	Process(ctx context.Context, userID string, messages []providers.Message) (*agent.TurnResult, error)
}

// Gateway is the HTTP surface of the service.
type Gateway struct {
	processor Processor
	sessions  *agent.SessionStore
	store     store.Store
	metrics   *metrics.Aggregator
	qualifier string
}

func New(processor Processor, sessions *agent.SessionStore, st store.Store, agg *metrics.Aggregator, qualifier string) *Gateway {
	if qualifier == "" {
		qualifier = "general"
	}
	return &Gateway{
		processor: processor,
		sessions:  sessions,
		store:     st,
		metrics:   agg,
		qualifier: qualifier,
	}
}

// Handler builds the route table.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", g.handleChat)
	mux.HandleFunc("GET /memories/profile/{user_id}", g.handleProfile)
	mux.HandleFunc("POST /memories/profile/{user_id}", g.handlePutProfile)
	mux.HandleFunc("GET /memories/todos/{user_id}", g.handleTodos)
	mux.HandleFunc("POST /memories/todos/{user_id}", g.handlePutTodos)
	mux.HandleFunc("GET /memories/instructions/{user_id}", g.handleInstructions)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /metrics", g.handleMetrics)
	mux.HandleFunc("GET /ws", g.handleWebSocket)
	return allowCORS(logRequests(mux))
}

// Serve blocks until ctx is cancelled, then shuts the server down.
func (g *Gateway) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("gateway", "listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type chatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Reply         string `json:"reply"`
	SessionID     string `json:"session_id"`
	UserID        string `json:"user_id"`
	MemoryUpdates int    `json:"memory_updates"`
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateUserID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	resp, err := g.runTurn(r.Context(), req.UserID, req.SessionID, req.Message)
	if err != nil {
		logger.ErrorCF("gateway", "chat turn failed", map[string]interface{}{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runTurn threads the stored session through the processor and persists
// the updated transcript. An empty sessionID starts a fresh session under
// a generated id, which the response echoes so clients can continue it.
func (g *Gateway) runTurn(ctx context.Context, userID, sessionID, message string) (*chatResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	msgs := append(g.sessions.History(sessionID), providers.Message{Role: "user", Content: message})
	result, err := g.processor.Process(ctx, userID, msgs)
	if err != nil {
		return nil, err
	}
	g.sessions.Replace(sessionID, result.Messages)
	return &chatResponse{
		Reply:         result.Reply,
		SessionID:     sessionID,
		UserID:        userID,
		MemoryUpdates: result.MemoryUpdates,
	}, nil
}

func (g *Gateway) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if err := validateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ns := store.Namespace{Category: store.CategoryProfile, Qualifier: g.qualifier, UserID: userID}
	records, err := g.store.Search(r.Context(), ns)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"profile": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profile": json.RawMessage(records[0].Value)})
}

func (g *Gateway) handleTodos(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if err := validateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ns := store.Namespace{Category: store.CategoryTodo, Qualifier: g.qualifier, UserID: userID}
	records, err := g.store.Search(r.Context(), ns)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	type todoItem struct {
		ID   string          `json:"id"`
		Todo json.RawMessage `json:"todo"`
	}
	items := make([]todoItem, 0, len(records))
	for _, rec := range records {
		items = append(items, todoItem{ID: rec.Key, Todo: rec.Value})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"todos": items})
}

// Fixed keys for direct memory injection. Writes land at a stable key so
// repeated injections overwrite instead of accumulating.
const (
	injectedProfileKey = "user_profile"
	injectedTodosKey   = "user_todos"
)

func (g *Gateway) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	g.putMemory(w, r, store.CategoryProfile, injectedProfileKey)
}

func (g *Gateway) handlePutTodos(w http.ResponseWriter, r *http.Request) {
	g.putMemory(w, r, store.CategoryTodo, injectedTodosKey)
}

// putMemory writes a caller-supplied document directly into the user's
// namespace, bypassing the agent loop.
func (g *Gateway) putMemory(w http.ResponseWriter, r *http.Request, category store.Category, key string) {
	userID := r.PathValue("user_id")
	if err := validateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var data json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ns := store.Namespace{Category: category, Qualifier: g.qualifier, UserID: userID}
	if err := g.store.Put(r.Context(), ns, key, data); err != nil {
		logger.ErrorCF("gateway", "memory injection failed", map[string]interface{}{
			"user_id":  userID,
			"category": string(category),
			"error":    err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"data":    data,
	})
}

func (g *Gateway) handleInstructions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if err := validateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ns := store.Namespace{Category: store.CategoryInstructions, Qualifier: g.qualifier, UserID: userID}
	rec, err := g.store.Get(r.Context(), ns, memory.InstructionsKey)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"instructions": ""})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	var inst memory.Instructions
	if err := json.Unmarshal(rec.Value, &inst); err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt instructions record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"instructions": inst.Memory})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := health.Check(r.Context(), g.store, g.metrics)
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.metrics.Stats())
}

func validateUserID(userID string) error {
	if userID == "" {
		return errors.New("user_id must not be empty")
	}
	if len(userID) > maxUserIDLen {
		return fmt.Errorf("user_id exceeds %d characters", maxUserIDLen)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// allowCORS is deliberately permissive; deployments that need origin
// restrictions put a proxy in front.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.DebugCF("gateway", "request", map[string]interface{}{
			"method":  r.Method,
			"path":    r.URL.Path,
			"elapsed": time.Since(start).String(),
		})
	})
}
