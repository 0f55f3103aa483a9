// Package workspace implements per-task file sandboxes rooted at
// <workspacesDir>/<taskId>/.
//
// Every relative path is canonicalized against the workspace root and
// rejected when it escapes. Workspaces are created lazily: only writes
// create directories.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

// Manager owns the workspaces directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

// Info summarizes a workspace tree.
type Info struct {
	FileCount    int       `json:"fileCount"`
	DirCount     int       `json:"dirCount"`
	TotalSize    int64     `json:"totalSize"`
	LastModified time.Time `json:"lastModified"`
}

// NewManager creates the workspaces root directory if needed.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspaces dir: %w", err)
	}
	return &Manager{root: root, logger: logger}, nil
}

var driveRe = regexp.MustCompile(`^[a-zA-Z]:[/\\]`)

// taskDir returns the directory for a task id, rejecting ids that could
// themselves escape the root.
func (m *Manager) taskDir(taskID string) (string, error) {
	if taskID == "" {
		return "", fault.New(fault.WorkspaceNotBound, "no task id bound")
	}
	if strings.ContainsAny(taskID, "/\\") || taskID == "." || taskID == ".." {
		return "", fault.New(fault.InvalidPath, "invalid task id %q", taskID)
	}
	return filepath.Join(m.root, taskID), nil
}

// resolve validates relPath against the workspace for taskID and
// returns the absolute path. It never creates anything.
func (m *Manager) resolve(taskID, relPath string) (string, error) {
	dir, err := m.taskDir(taskID)
	if err != nil {
		return "", err
	}
	if relPath == "" {
		relPath = "."
	}
	if filepath.IsAbs(relPath) || driveRe.MatchString(relPath) || strings.HasPrefix(relPath, "\\") {
		m.logger.Warn("security.path_escape", "task", taskID, "path", relPath)
		return "", fault.New(fault.PathTraversalBlocked, "absolute paths are not allowed")
	}
	cleaned := filepath.Clean(filepath.Join(dir, filepath.FromSlash(relPath)))
	if cleaned != dir && !strings.HasPrefix(cleaned, dir+string(filepath.Separator)) {
		m.logger.Warn("security.path_escape", "task", taskID, "path", relPath)
		return "", fault.New(fault.PathTraversalBlocked, "path escapes the workspace")
	}
	// Canonicalize through symlinks for paths that already exist so a
	// planted link cannot point outside the workspace.
	if real, err := filepath.EvalSymlinks(cleaned); err == nil {
		dirReal, derr := filepath.EvalSymlinks(dir)
		if derr != nil {
			dirReal = dir
		}
		if real != dirReal && !strings.HasPrefix(real, dirReal+string(filepath.Separator)) {
			m.logger.Warn("security.symlink_escape", "task", taskID, "path", relPath, "resolved", real)
			return "", fault.New(fault.PathTraversalBlocked, "path escapes the workspace")
		}
	}
	return cleaned, nil
}

// GetWorkspace returns the workspace path and whether it exists on
// disk. It never creates the directory.
func (m *Manager) GetWorkspace(taskID string) (string, bool, error) {
	dir, err := m.taskDir(taskID)
	if err != nil {
		return "", false, err
	}
	info, statErr := os.Stat(dir)
	return dir, statErr == nil && info.IsDir(), nil
}

// CreateWorkspace eagerly creates the workspace directory.
func (m *Manager) CreateWorkspace(taskID string) (string, error) {
	dir, err := m.taskDir(taskID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", taskID, err)
	}
	return dir, nil
}

// ReadFile reads a file inside the workspace.
func (m *Manager) ReadFile(taskID, relPath string) ([]byte, error) {
	p, err := m.resolve(taskID, relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.New(fault.FileNotFound, "file %s not found", relPath)
		}
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}
	return data, nil
}

// WriteFile writes content, creating the workspace and any missing
// parent directories. Writes go through a temp file + rename.
func (m *Manager) WriteFile(taskID, relPath string, content []byte) error {
	p, err := m.resolve(taskID, relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create parents for %s: %w", relPath, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".ws-*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	return os.Rename(tmpPath, p)
}

// ListFiles lists a directory. A never-written workspace yields an
// empty list, not an error.
func (m *Manager) ListFiles(taskID, relPath string) ([]FileEntry, error) {
	p, err := m.resolve(taskID, relPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		if os.IsNotExist(err) {
			return []FileEntry{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", relPath, err)
	}
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		fe := FileEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			fe.Size = info.Size()
		}
		out = append(out, fe)
	}
	return out, nil
}

// GetWorkspaceInfo walks the tree and summarizes it.
func (m *Manager) GetWorkspaceInfo(taskID string) (*Info, error) {
	dir, err := m.taskDir(taskID)
	if err != nil {
		return nil, err
	}
	info := &Info{}
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == dir {
			return nil
		}
		if d.IsDir() {
			info.DirCount++
			return nil
		}
		info.FileCount++
		if fi, err := d.Info(); err == nil {
			info.TotalSize += fi.Size()
			if fi.ModTime().After(info.LastModified) {
				info.LastModified = fi.ModTime()
			}
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return nil, walkErr
	}
	return info, nil
}
