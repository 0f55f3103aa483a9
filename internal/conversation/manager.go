// Package conversation maintains per-agent chat histories, token
// accounting, compression, and disk snapshots.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/hivemind/internal/llm"
)

// Summarizer condenses a span of turns into summary text. The LLM-
// backed implementation lives in the agent package; tests inject a
// deterministic one.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []llm.Message) (string, error)
}

// Status reports context usage for one agent.
type Status struct {
	EstimatedTokens int     `json:"estimatedTokens"`
	Limit           int     `json:"limit"`
	Ratio           float64 `json:"ratio"`
}

// history is one agent's conversation state.
type history struct {
	AgentID  string        `json:"agentId"`
	Messages []llm.Message `json:"messages"`
	Limit    int           `json:"limit"`
	Updated  time.Time     `json:"updated"`

	estimate int
	dirty    bool
}

// Manager owns all agent conversations. Mutations for one agent are
// already serialized by the single-in-flight processing rule; the
// internal lock only protects the map across agents.
type Manager struct {
	mu         sync.RWMutex
	histories  map[string]*history
	dir        string
	summarizer Summarizer
	logger     *slog.Logger

	// Compression knobs.
	ratio        float64
	retained     int
	defaultLimit int
}

// Options configures a Manager.
type Options struct {
	Dir              string
	Summarizer       Summarizer
	CompressionRatio float64 // default 0.7
	RetainedTurns    int     // default 8
	DefaultLimit     int     // default 128000
	Logger           *slog.Logger
}

// NewManager creates the snapshot directory and restores any existing
// snapshots.
func NewManager(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CompressionRatio <= 0 || opts.CompressionRatio >= 1 {
		opts.CompressionRatio = 0.7
	}
	if opts.RetainedTurns <= 0 {
		opts.RetainedTurns = 8
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 128000
	}
	m := &Manager{
		histories:    make(map[string]*history),
		dir:          opts.Dir,
		summarizer:   opts.Summarizer,
		logger:       opts.Logger,
		ratio:        opts.CompressionRatio,
		retained:     opts.RetainedTurns,
		defaultLimit: opts.DefaultLimit,
	}
	if m.dir != "" {
		if err := os.MkdirAll(m.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create conversations dir: %w", err)
		}
		m.restore()
	}
	return m, nil
}

func (m *Manager) restore() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var h history
		if err := json.Unmarshal(data, &h); err != nil {
			m.logger.Warn("conversation snapshot unreadable", "file", e.Name(), "error", err)
			continue
		}
		h.estimate = llm.EstimateTokens(h.Messages)
		m.histories[h.AgentID] = &h
	}
	if len(m.histories) > 0 {
		m.logger.Info("conversations restored", "count", len(m.histories))
	}
}

func (m *Manager) get(agentID string) *history {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histories[agentID]
	if !ok {
		h = &history{AgentID: agentID, Limit: m.defaultLimit}
		m.histories[agentID] = h
	}
	return h
}

// SetLimit binds an agent's context window (from its LLM service).
func (m *Manager) SetLimit(agentID string, limit int) {
	h := m.get(agentID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 {
		h.Limit = limit
	}
}

func (m *Manager) append(agentID string, msg llm.Message) {
	h := m.get(agentID)
	m.mu.Lock()
	defer m.mu.Unlock()
	h.Messages = append(h.Messages, msg)
	h.estimate = llm.EstimateTokens(h.Messages)
	h.Updated = time.Now().UTC()
	h.dirty = true
}

// AppendUser appends a plain user turn.
func (m *Manager) AppendUser(agentID, text string) {
	m.append(agentID, llm.Message{Role: "user", Content: text})
}

// AppendUserParts appends a multimodal user turn.
func (m *Manager) AppendUserParts(agentID string, parts []llm.ContentPart) {
	m.append(agentID, llm.Message{Role: "user", Parts: parts})
}

// AppendAssistant appends an assistant turn, with tool calls when the
// model requested any.
func (m *Manager) AppendAssistant(agentID, content string, toolCalls []llm.ToolCall) {
	m.append(agentID, llm.Message{Role: "assistant", Content: content, ToolCalls: toolCalls})
}

// AppendToolResult appends a tool result turn answering an earlier
// assistant tool call.
func (m *Manager) AppendToolResult(agentID, toolCallID, name, content string) {
	m.append(agentID, llm.Message{Role: "tool", Content: content, ToolCallID: toolCallID, Name: name})
}

// GetMessages returns a copy of the agent's history.
func (m *Manager) GetMessages(agentID string) []llm.Message {
	h := m.get(agentID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]llm.Message, len(h.Messages))
	copy(out, h.Messages)
	return out
}

// GetStatus reports the agent's context usage.
func (m *Manager) GetStatus(agentID string) Status {
	h := m.get(agentID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{EstimatedTokens: h.estimate, Limit: h.Limit}
	if h.Limit > 0 {
		st.Ratio = float64(h.estimate) / float64(h.Limit)
	}
	return st
}
