package providers

import "context"

// Message is the OpenAI-compatible chat message shape shared by every
// concrete provider's wire format, the agent loop, and session storage.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// FunctionCall carries the raw (still-JSON-encoded) arguments string as
// returned by the provider, alongside the already-decoded Arguments map on
// the owning ToolCall.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a single function call requested by the model.
type ToolCall struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function *FunctionCall          `json:"function,omitempty"`
	Name     string                 `json:"-"`
	Arguments map[string]interface{} `json:"-"`
}

// ToolDefinition is the OpenAI-compatible function-tool schema sent to the
// provider on every chat call.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes one callable tool.
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UsageInfo reports token accounting for a single chat call, when the
// provider returns it.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is a provider's normalized reply to a Chat call.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *UsageInfo
}

// LLMProvider is satisfied by every concrete backend (OpenAI, Anthropic,
// Google, and OpenAI-compatible gateways) as well as by the ReliableProvider
// and FailoverProvider wrappers that compose over them.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

// AssistantMessageFromResponse builds the assistant-role message to append
// to history after a Chat call, carrying along any requested tool calls.
func AssistantMessageFromResponse(resp *LLMResponse) Message {
	return Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
}

// ToolResultMessage builds the tool-role message reporting a tool call's
// result back to the model, correlated by toolCallID.
func ToolResultMessage(toolCallID, content string) Message {
	return Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: toolCallID,
	}
}
