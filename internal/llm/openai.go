package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/hivemind/internal/config"
)

// Wire structs for the OpenAI chat completions schema.

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// doChat executes exactly one HTTP attempt.
func (c *Client) doChat(ctx context.Context, svc config.ServiceConfig, req ChatRequest) (*ChatResponse, error) {
	body := map[string]any{
		"model":    svc.Model,
		"messages": toWireMessages(req.Messages),
	}
	if svc.MaxTokens > 0 {
		body["max_tokens"] = svc.MaxTokens
	}
	if svc.Temperature != nil {
		body["temperature"] = *svc.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]wireTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			var wt wireTool
			wt.Type = "function"
			wt.Function.Name = t.Name
			wt.Function.Description = t.Description
			wt.Function.Parameters = t.Parameters
			tools = append(tools, wt)
		}
		body["tools"] = tools
		choice := req.ToolChoice
		if choice == "" {
			choice = "auto"
		}
		body["tool_choice"] = choice
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(svc.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if svc.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+svc.APIKey)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if wire.Error != nil {
		return nil, &HTTPError{Status: resp.StatusCode, Body: wire.Error.Message}
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}

	choice := wire.Choices[0]
	out := &ChatResponse{
		FinishReason: choice.FinishReason,
		Usage:        wire.Usage,
	}
	out.Message = Message{Role: "assistant"}
	if s, ok := choice.Message.Content.(string); ok {
		out.Message.Content = s
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      strings.TrimSpace(tc.Function.Name),
			Arguments: args,
		})
	}
	if len(out.Message.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}

// toWireMessages converts runtime messages to the wire schema:
// multimodal parts become a content array, tool calls are re-encoded
// with string arguments.
func toWireMessages(msgs []Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: m.Role, ToolCallID: m.ToolCallID, Name: m.Name}
		if len(m.Parts) > 0 {
			wm.Content = m.Parts
		} else {
			wm.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}
