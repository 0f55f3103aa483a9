package conversation

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Snapshot writes one agent's conversation to disk (temp + rename).
func (m *Manager) Snapshot(agentID string) error {
	if m.dir == "" {
		return nil
	}
	h := m.get(agentID)

	m.mu.Lock()
	data, err := json.MarshalIndent(h, "", "  ")
	h.dirty = false
	m.mu.Unlock()
	if err != nil {
		return err
	}

	path := filepath.Join(m.dir, agentID+".json")
	tmp, err := os.CreateTemp(m.dir, ".conv-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// SnapshotAll flushes every dirty conversation.
func (m *Manager) SnapshotAll() {
	m.mu.RLock()
	var ids []string
	for id, h := range m.histories {
		if h.dirty {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Snapshot(id); err != nil {
			m.logger.Warn("conversation snapshot failed", "agent", id, "error", err)
		}
	}
}

// Run flushes dirty conversations on the given interval until ctx is
// done, then performs one final flush.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.SnapshotAll()
			return
		case <-ticker.C:
			m.SnapshotAll()
		}
	}
}
