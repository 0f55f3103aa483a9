package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/nextlevelbuilder/hivemind/internal/llm"
)

// namer assigns human-readable agent names with a short LLM call. The
// call is best effort: any failure falls back to a deterministic name
// derived from the role and agent id.
type namer struct {
	client *llm.Client
	logger *slog.Logger
}

func newNamer(client *llm.Client, logger *slog.Logger) *namer {
	return &namer{client: client, logger: logger}
}

const namingPrompt = "You name newly hired staff. Reply with a single short first name " +
	"(one word, letters only) fitting the role and task. No punctuation, no explanation."

func (n *namer) Generate(ctx context.Context, agentID, roleName, objective string) string {
	fallback := fallbackName(roleName, agentID)
	if n.client == nil {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := n.client.Chat(ctx, llm.ChatRequest{
		ServiceID: n.client.NamingServiceID(),
		AgentID:   agentID,
		Messages: []llm.Message{
			{Role: "system", Content: namingPrompt},
			{Role: "user", Content: "Role: " + roleName + "\nTask: " + objective},
		},
	})
	if err != nil {
		n.logger.Debug("naming call failed, using fallback", "agent", agentID, "error", err)
		return fallback
	}
	if name := sanitizeName(resp.Message.Content); name != "" {
		return name
	}
	return fallback
}

// sanitizeName keeps the first word and strips everything that is not a
// letter. Overlong or empty results are rejected.
func sanitizeName(raw string) string {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range fields[0] {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" || len(name) > 24 {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// fallbackName is deterministic: kebab-cased role plus a short id tail.
func fallbackName(roleName, agentID string) string {
	role := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(roleName), " ", "-"))
	if role == "" {
		role = "agent"
	}
	tail := agentID
	if len(tail) > 8 {
		tail = tail[:8]
	}
	return role + "-" + tail
}
