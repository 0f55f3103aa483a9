// Package llm calls OpenAI-style chat completion endpoints with retry,
// a global FIFO concurrency cap, and cancellable in-flight requests.
package llm

import "encoding/json"

// Message is one chat turn. Content carries plain text; Parts, when
// non-empty, replaces it with structured multimodal content on the
// wire.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"` // "text", "image_url", "file"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	File     *FilePart `json:"file,omitempty"`
}

// ImageURL carries an image as a URL or data: URL.
type ImageURL struct {
	URL string `json:"url"`
}

// FilePart carries a document as base64 file data.
type FilePart struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ToolCall is a function invocation requested by the assistant.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a callable tool in OpenAI function schema.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another call's usage.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ChatRequest is the input to Client.Chat.
type ChatRequest struct {
	ServiceID  string
	AgentID    string // for event attribution only
	Messages   []Message
	Tools      []ToolDefinition
	ToolChoice string // "", "auto", "none", "required"
}

// ChatResponse is the parsed result of one completed call.
type ChatResponse struct {
	Message      Message `json:"message"`
	Usage        *Usage  `json:"usage,omitempty"`
	FinishReason string  `json:"finish_reason"`
}

// EstimateTokens applies the runtime's length/4 heuristic plus a fixed
// per-message overhead. It intentionally over-counts structured parts
// by measuring their JSON form.
func EstimateTokens(msgs []Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += len(m.Content) / 4
		for _, p := range m.Parts {
			if p.Text != "" {
				total += len(p.Text) / 4
				continue
			}
			if raw, err := json.Marshal(p); err == nil {
				total += len(raw) / 4
			}
		}
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) / 4
			if raw, err := json.Marshal(tc.Arguments); err == nil {
				total += len(raw) / 4
			}
		}
	}
	return total
}
