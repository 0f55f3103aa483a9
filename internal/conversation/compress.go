package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/hivemind/internal/llm"
)

// MaybeCompress compacts the oldest turns into a single system summary
// when the token estimate exceeds the configured fraction of the
// limit. The most recent retained turns stay verbatim and tool-call /
// tool-result groups are never split.
func (m *Manager) MaybeCompress(ctx context.Context, agentID string) error {
	h := m.get(agentID)

	m.mu.Lock()
	if h.Limit <= 0 || float64(h.estimate) < m.ratio*float64(h.Limit) {
		m.mu.Unlock()
		return nil
	}
	msgs := make([]llm.Message, len(h.Messages))
	copy(msgs, h.Messages)
	m.mu.Unlock()

	start := 0
	var prevSummary string
	if len(msgs) > 0 && msgs[0].Role == "system" {
		prevSummary = msgs[0].Content
		start = 1
	}

	cut := len(msgs) - m.retained
	if cut <= start {
		return nil // nothing old enough to fold away
	}
	cut = alignCut(msgs, start, cut)
	if cut <= start {
		return nil
	}

	head := msgs[start:cut]
	summary := m.summarize(ctx, prevSummary, head)

	compacted := make([]llm.Message, 0, 1+len(msgs)-cut)
	compacted = append(compacted, llm.Message{Role: "system", Content: summary})
	compacted = append(compacted, msgs[cut:]...)

	m.mu.Lock()
	h.Messages = compacted
	h.estimate = llm.EstimateTokens(compacted)
	h.dirty = true
	m.mu.Unlock()

	m.logger.Info("conversation compressed",
		"agent", agentID, "folded", len(head), "kept", len(compacted)-1, "tokens", h.estimate)
	return nil
}

// alignCut moves a cut point so it never lands inside an assistant
// tool-call group: a tool turn, or the assistant turn owning pending
// tool results, always stays with its group.
func alignCut(msgs []llm.Message, start, cut int) int {
	for cut > start && msgs[cut].Role == "tool" {
		cut--
	}
	// If the turn now at the cut is an assistant with tool calls whose
	// results follow it, keep the whole group in the tail.
	if cut > start && msgs[cut].Role == "assistant" && len(msgs[cut].ToolCalls) > 0 {
		return cut
	}
	return cut
}

// summarize runs the injected summarizer, falling back to a
// deterministic digest when none is configured or it fails.
func (m *Manager) summarize(ctx context.Context, prevSummary string, head []llm.Message) string {
	if m.summarizer != nil {
		var span []llm.Message
		if prevSummary != "" {
			span = append(span, llm.Message{Role: "system", Content: prevSummary})
		}
		span = append(span, head...)
		if s, err := m.summarizer.Summarize(ctx, span); err == nil && s != "" {
			return "Conversation summary (older turns were compacted):\n" + s
		} else if err != nil {
			m.logger.Warn("summarizer failed, using digest", "error", err)
		}
	}
	return digestSummary(prevSummary, head)
}

// digestSummary is the non-LLM fallback: the first line of each folded
// turn, truncated.
func digestSummary(prevSummary string, head []llm.Message) string {
	var b strings.Builder
	b.WriteString("Conversation summary (older turns were compacted):\n")
	if prevSummary != "" {
		b.WriteString(strings.TrimPrefix(prevSummary, "Conversation summary (older turns were compacted):\n"))
		b.WriteString("\n")
	}
	for _, msg := range head {
		line := msg.Content
		if line == "" && len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			line = "called " + strings.Join(names, ", ")
		}
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		if len(line) > 160 {
			line = line[:160] + "..."
		}
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", msg.Role, line)
	}
	return b.String()
}
