// Package providers abstracts the language model behind a small provider
// interface so the turn loop and extractor never see a vendor SDK.
package providers

import "context"

// Message is the provider-agnostic conversation message.
// Role is one of "system", "user", "assistant", "tool".
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one structured tool invocation emitted by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model. InputSchema is a
// JSON schema object ("type", "properties", "required").
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// LLMResponse is the model's reply: free text, tool calls, or both.
type LLMResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Chat call options understood by providers. Unknown keys are ignored.
const (
	OptionMaxTokens         = "max_tokens"
	OptionTemperature       = "temperature"
	OptionToolChoice        = "tool_choice" // tool name to force, or "auto"
	OptionParallelToolCalls = "parallel_tool_calls"
)

// LLMProvider is the responder capability consumed by the turn loop.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}
