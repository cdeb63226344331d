// Package extract reconciles free-text conversation against existing
// structured records, producing create/patch/no-op document operations.
//
// The extractor offers the model two tools: the document schema itself
// (for brand-new documents) and PatchDoc (for revising an existing one).
// Every tool invocation is optionally mirrored to an Observer so callers
// can synthesize a faithful summary of what the extractor actually did.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/taskmind/pkg/providers"
)

// Record is an existing document handed to the extractor for matching.
type Record struct {
	ID     string
	Schema string
	Value  json.RawMessage
}

// OpKind classifies a document operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpPatch  OpKind = "patch"
	OpNoop   OpKind = "no_op"
)

// DocumentOp is one reconciliation decision. DocID is empty for creates,
// meaning the caller assigns a fresh id. Value is nil for no-ops.
type DocumentOp struct {
	DocID string
	Kind  OpKind
	Value json.RawMessage
}

// Invocation is a raw extractor tool call, surfaced via Observer.
type Invocation struct {
	Tool string
	Args map[string]interface{}
}

// Observer receives every tool invocation the extractor makes, in order.
type Observer func(Invocation)

// Schema describes the document type being reconciled.
type Schema struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// patchDocInput revises one existing document. The model returns the full
// updated document rather than a diff; no_changes signals that the
// existing document already reflects the conversation.
type patchDocInput struct {
	JSONDocID       string                 `json:"json_doc_id" jsonschema_description:"ID of the existing document being revised."`
	PlannedEdits    string                 `json:"planned_edits" jsonschema_description:"Short plan describing what is being changed and why, or why nothing needs to change."`
	UpdatedDocument map[string]interface{} `json:"updated_document,omitempty" jsonschema_description:"The complete updated document. Omit when no_changes is true."`
	NoChanges       bool                   `json:"no_changes,omitempty" jsonschema_description:"True when the existing document already captures everything relevant."`
}

const patchDocToolName = "PatchDoc"

var patchDocSchema = providers.GenerateSchema[patchDocInput]()

const reconcileInstruction = `Reflect on the conversation below and use the provided tools to keep the stored %s documents accurate.

Current time: %s.

Existing documents, as (id, content) pairs:
%s

Use %s to record a new document. Use PatchDoc to revise an existing document by id, returning the complete updated content; set no_changes when an existing document already reflects the conversation. Keep information that is not contradicted by the conversation.`

const noExistingDocs = "(no existing documents - there is nothing to merge against)"

// Extractor drives document reconciliation through an LLM provider.
type Extractor struct {
	provider providers.LLMProvider
	model    string
	now      func() time.Time
}

func New(provider providers.LLMProvider, model string) *Extractor {
	return &Extractor{provider: provider, model: model, now: time.Now}
}

// Extract reconciles messages against existing records.
//
// existing must be nil - not an empty slice - when there are no records,
// so the prompt distinguishes "nothing to merge against" from "merge
// against empty set". allowInsert permits new documents even when the
// conversation never asked for one explicitly.
func (e *Extractor) Extract(ctx context.Context, messages []providers.Message, existing []Record, schema Schema, allowInsert bool, obs Observer) ([]DocumentOp, error) {
	tools := []providers.ToolDefinition{{
		Name:        schema.Name,
		Description: schema.Description,
		InputSchema: schema.InputSchema,
	}}
	if existing != nil {
		tools = append(tools, providers.ToolDefinition{
			Name:        patchDocToolName,
			Description: "Revise an existing document, or confirm it needs no changes.",
			InputSchema: patchDocSchema,
		})
	}

	system := fmt.Sprintf(reconcileInstruction,
		schema.Name,
		e.now().Format(time.RFC3339),
		formatExisting(existing),
		schema.Name,
	)

	options := map[string]interface{}{
		providers.OptionTemperature: 0.0,
	}
	if !allowInsert && existing != nil {
		// Single-document schemas must converge on the stored record.
		options[providers.OptionToolChoice] = patchDocToolName
	}

	prompt := append([]providers.Message{{Role: "system", Content: system}}, flattenForExtraction(messages)...)
	resp, err := e.provider.Chat(ctx, prompt, tools, e.model, options)
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	var ops []DocumentOp
	for _, tc := range resp.ToolCalls {
		if obs != nil {
			obs(Invocation{Tool: tc.Name, Args: tc.Arguments})
		}

		switch tc.Name {
		case patchDocToolName:
			op, err := patchOpFromArgs(tc.Arguments)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		case schema.Name:
			value, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encode created document: %w", err)
			}
			ops = append(ops, DocumentOp{Kind: OpCreate, Value: value})
		default:
			return nil, fmt.Errorf("extractor called unknown tool %q", tc.Name)
		}
	}
	return ops, nil
}

func patchOpFromArgs(args map[string]interface{}) (DocumentOp, error) {
	docID, _ := args["json_doc_id"].(string)
	if docID == "" {
		return DocumentOp{}, fmt.Errorf("PatchDoc call missing json_doc_id")
	}

	noChanges, _ := args["no_changes"].(bool)
	updated, hasDoc := args["updated_document"].(map[string]interface{})
	if noChanges || !hasDoc {
		return DocumentOp{DocID: docID, Kind: OpNoop}, nil
	}

	value, err := json.Marshal(updated)
	if err != nil {
		return DocumentOp{}, fmt.Errorf("encode patched document: %w", err)
	}
	return DocumentOp{DocID: docID, Kind: OpPatch, Value: value}, nil
}

func formatExisting(existing []Record) string {
	if existing == nil {
		return noExistingDocs
	}
	var b strings.Builder
	for _, r := range existing {
		fmt.Fprintf(&b, "- id=%s: %s\n", r.ID, string(r.Value))
	}
	return strings.TrimRight(b.String(), "\n")
}

// flattenForExtraction renders the conversation as plain user/assistant
// turns. Tool plumbing from the outer loop (directives, confirmations)
// would only confuse the extractor, so it is collapsed to text.
func flattenForExtraction(messages []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user", "assistant":
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, providers.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}
