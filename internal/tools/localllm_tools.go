package tools

import (
	"context"

	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/llm"
)

// LocalChatter is the inference interface the local path uses; the llm
// client satisfies it.
type LocalChatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// LocalServiceID is the reserved service id for the local model.
const LocalServiceID = "localllm"

// localChatTool routes a one-shot completion to a locally hosted model.
// Disabled deployments answer localllm_not_ready so agents can fall
// back to delegation.
type localChatTool struct {
	cfg     config.LocalLLMConfig
	chatter LocalChatter
}

func (t *localChatTool) Name() string  { return "localllm_chat" }
func (t *localChatTool) Group() string { return GroupLocalLLM }
func (t *localChatTool) Description() string {
	return "Run a chat completion on the locally hosted model. Cheaper and private, but less capable."
}
func (t *localChatTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"messages": map[string]any{
			"type": "array",
			"items": objectSchema(map[string]any{
				"role":    map[string]any{"type": "string", "enum": []string{"system", "user", "assistant"}},
				"content": map[string]any{"type": "string"},
			}, "role", "content"),
		},
	}, "messages")
}

func (t *localChatTool) Execute(ctx context.Context, args map[string]any) *Result {
	// Enabled without a base URL is not ready: there is no local
	// endpoint to resolve, and falling through would silently route
	// the call to the default cloud service.
	if !t.cfg.Enabled || t.cfg.BaseURL == "" || t.chatter == nil {
		return ErrorResult(fault.LocalLLMNotReady, "local model is not configured")
	}
	raw, ok := args["messages"].([]any)
	if !ok || len(raw) == 0 {
		return ErrorResult(fault.MissingParameter, "messages must be a non-empty array")
	}
	msgs := make([]llm.Message, 0, len(raw))
	for _, it := range raw {
		m, ok := it.(map[string]any)
		if !ok {
			return ErrorResult(fault.MissingParameter, "messages entries must be objects")
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		if role == "" || content == "" {
			return ErrorResult(fault.MissingParameter, "each message requires role and content")
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}

	resp, err := t.chatter.Chat(ctx, llm.ChatRequest{
		ServiceID: LocalServiceID,
		Messages:  msgs,
	})
	if err != nil {
		if fault.CodeOf(err) != "" {
			return FaultResult(err)
		}
		return ErrorResult(fault.LocalLLMNotReady, "local model unavailable: %v", err)
	}
	return JSONResult(map[string]any{"content": resp.Message.Content})
}
