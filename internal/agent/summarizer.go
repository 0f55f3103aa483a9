package agent

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/hivemind/internal/llm"
)

// Summarizer condenses folded conversation turns with a short LLM call
// on the naming service (cheap, small model). It satisfies
// conversation.Summarizer.
type Summarizer struct {
	client *llm.Client
}

// NewSummarizer wires the LLM-backed summarizer.
func NewSummarizer(client *llm.Client) *Summarizer {
	return &Summarizer{client: client}
}

const summaryPrompt = "Condense the following conversation into a compact summary. " +
	"Keep decisions, delegated work, artifact references and open questions. Plain text, no preamble."

func (s *Summarizer) Summarize(ctx context.Context, msgs []llm.Message) (string, error) {
	var b strings.Builder
	for _, m := range msgs {
		line := m.Content
		if line == "" && len(m.ToolCalls) > 0 {
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, tc.Name)
			}
			line = "(called " + strings.Join(names, ", ") + ")"
		}
		if line == "" {
			continue
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(line)
		b.WriteString("\n")
	}

	resp, err := s.client.Chat(ctx, llm.ChatRequest{
		ServiceID: s.client.NamingServiceID(),
		Messages: []llm.Message{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
