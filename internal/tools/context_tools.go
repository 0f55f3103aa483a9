package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/hivemind/internal/conversation"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

// ContextReporter exposes the caller's conversation usage. Implemented
// by the conversation manager.
type ContextReporter interface {
	GetStatus(agentID string) conversation.Status
}

type contextStatusTool struct {
	reporter ContextReporter
}

func (t *contextStatusTool) Name() string  { return "get_context_status" }
func (t *contextStatusTool) Group() string { return GroupOrg }
func (t *contextStatusTool) Description() string {
	return "Report how much of your conversation context window is used. When usage is high, summarize and wrap up."
}
func (t *contextStatusTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *contextStatusTool) Execute(ctx context.Context, _ map[string]any) *Result {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return ErrorResult(fault.AccessDenied, "no calling agent bound to this request")
	}
	st := t.reporter.GetStatus(caller.AgentID)
	return JSONResult(map[string]any{
		"estimatedTokens": st.EstimatedTokens,
		"limit":           st.Limit,
		"usage":           fmt.Sprintf("%.0f%%", st.Ratio*100),
	})
}
