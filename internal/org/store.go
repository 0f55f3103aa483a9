package org

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is a write-through JSON store: every mutation rewrites the
// entity file atomically, in-memory caches stay consistent with disk.
type Store struct {
	mu     sync.RWMutex
	dir    string
	roles  map[string]*Role
	agents map[string]*Agent
	logger *slog.Logger
}

// NewStore loads (or initializes) the org directory.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create org dir: %w", err)
	}
	s := &Store{
		dir:    dir,
		roles:  make(map[string]*Role),
		agents: make(map[string]*Agent),
		logger: logger,
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadAll() error {
	if err := loadJSON(filepath.Join(s.dir, "roles.json"), &s.roles); err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	if err := loadJSON(filepath.Join(s.dir, "agents.json"), &s.agents); err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	return nil
}

func loadJSON[T any](path string, dst *map[string]*T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, dst)
}

func (s *Store) persistRoles() error {
	return writeAtomic(filepath.Join(s.dir, "roles.json"), s.roles)
}

func (s *Store) persistAgents() error {
	return writeAtomic(filepath.Join(s.dir, "agents.json"), s.agents)
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".org-*.tmp")
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

// CreateRoleRequest is the input to CreateRole.
type CreateRoleRequest struct {
	Name             string
	Description      string
	RolePrompt       string
	OrgPrompt        string
	ToolGroups       []string
	PreferredService string
	CreatedBy        string
}

// CreateRole persists a new role and returns it.
func (s *Store) CreateRole(req CreateRoleRequest) (*Role, error) {
	if req.Name == "" || req.RolePrompt == "" {
		return nil, fmt.Errorf("role name and rolePrompt are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	role := &Role{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Description:      req.Description,
		RolePrompt:       req.RolePrompt,
		OrgPrompt:        req.OrgPrompt,
		ToolGroups:       req.ToolGroups,
		PreferredService: req.PreferredService,
		CreatedBy:        req.CreatedBy,
		CreatedAt:        time.Now().UTC(),
	}
	s.roles[role.ID] = role
	if err := s.persistRoles(); err != nil {
		delete(s.roles, role.ID)
		return nil, fmt.Errorf("persist role: %w", err)
	}
	s.logger.Info("role created", "id", role.ID, "name", role.Name, "by", role.CreatedBy)
	return role, nil
}

// GetRole returns a role by id, or nil.
func (s *Store) GetRole(id string) *Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[id]
}

// FindRoleByName returns the first role with the given name, or nil.
func (s *Store) FindRoleByName(name string) *Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// ListRoles returns all roles sorted by creation time.
func (s *Store) ListRoles() []*Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UpdateRole updates the mutable description fields only. Prompts and
// permissions are immutable after creation.
func (s *Store) UpdateRole(id, name, description string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s not found", id)
	}
	if name != "" {
		role.Name = name
	}
	if description != "" {
		role.Description = description
	}
	if err := s.persistRoles(); err != nil {
		return nil, fmt.Errorf("persist role: %w", err)
	}
	return role, nil
}

// CreateAgentRequest is the input to CreateAgent.
type CreateAgentRequest struct {
	ID         string // empty = new uuid; bootstrap passes reserved ids
	RoleID     string
	ParentID   string
	CustomName string
	TaskID     string
	TaskBrief  *TaskBrief
}

// CreateAgent persists a new agent record. Every agent except the
// sentinels must name an existing parent.
func (s *Store) CreateAgent(req CreateAgentRequest) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if id != UserID && id != RootID {
		parent, ok := s.agents[req.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent agent %q does not exist", req.ParentID)
		}
		if parent.Status != StatusActive {
			return nil, fmt.Errorf("parent agent %q is terminated", req.ParentID)
		}
	}
	if _, exists := s.agents[id]; exists {
		return nil, fmt.Errorf("agent %q already exists", id)
	}

	now := time.Now().UTC()
	agent := &Agent{
		ID:           id,
		RoleID:       req.RoleID,
		Name:         req.CustomName,
		ParentID:     req.ParentID,
		Status:       StatusActive,
		TaskID:       req.TaskID,
		TaskBrief:    req.TaskBrief,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.agents[id] = agent
	if err := s.persistAgents(); err != nil {
		delete(s.agents, id)
		return nil, fmt.Errorf("persist agent: %w", err)
	}
	return agent, nil
}

// GetAgent returns an agent by id, or nil.
func (s *Store) GetAgent(id string) *Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents[id]
}

// ListAgents returns all agents sorted by creation time.
func (s *Store) ListAgents() []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SetAgentName updates the custom name after the naming call resolves.
func (s *Store) SetAgentName(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s not found", id)
	}
	a.Name = name
	return s.persistAgents()
}

// TouchAgent bumps the last-activity timestamp.
func (s *Store) TouchAgent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		a.LastActiveAt = time.Now().UTC()
		// Activity timestamps are not worth an fsync each; they ride
		// along with the next mutation's persist.
	}
}

// MarkTerminated flips an agent to terminated, clears its task brief,
// and appends to the termination log.
func (s *Store) MarkTerminated(id, reason, terminatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s not found", id)
	}
	a.Status = StatusTerminated
	a.TaskBrief = nil
	if err := s.persistAgents(); err != nil {
		return fmt.Errorf("persist agent: %w", err)
	}
	rec := Termination{AgentID: id, Reason: reason, TerminatedBy: terminatedBy, At: time.Now().UTC()}
	if err := s.appendTermination(rec); err != nil {
		s.logger.Warn("termination log append failed", "agent", id, "error", err)
	}
	return nil
}

func (s *Store) appendTermination(rec Termination) error {
	f, err := os.OpenFile(filepath.Join(s.dir, "terminations.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// GetChildrenOf returns the direct children of an agent.
func (s *Store) GetChildrenOf(id string) []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Agent
	for _, a := range s.agents {
		if a.ParentID == id {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Descendants returns all transitive descendants of an agent in
// post-order (deepest first), the order cascade termination uses.
func (s *Store) Descendants(id string) []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	children := make(map[string][]*Agent)
	for _, a := range s.agents {
		if a.ParentID != "" {
			children[a.ParentID] = append(children[a.ParentID], a)
		}
	}
	var out []*Agent
	var walk func(string)
	walk = func(cur string) {
		kids := children[cur]
		sort.Slice(kids, func(i, j int) bool { return kids[i].CreatedAt.Before(kids[j].CreatedAt) })
		for _, c := range kids {
			walk(c.ID)
			out = append(out, c)
		}
	}
	walk(id)
	return out
}

// GetOrgTree returns the nested agent tree rooted at root.
func (s *Store) GetOrgTree() *TreeNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, ok := s.agents[RootID]
	if !ok {
		return nil
	}
	children := make(map[string][]*Agent)
	for _, a := range s.agents {
		if a.ParentID != "" {
			children[a.ParentID] = append(children[a.ParentID], a)
		}
	}
	var build func(a *Agent) *TreeNode
	build = func(a *Agent) *TreeNode {
		node := &TreeNode{Agent: a}
		kids := children[a.ID]
		sort.Slice(kids, func(i, j int) bool { return kids[i].CreatedAt.Before(kids[j].CreatedAt) })
		for _, c := range kids {
			node.Children = append(node.Children, build(c))
		}
		return node
	}
	return build(root)
}

// SetTaskBrief binds (or clears) a task brief on an agent.
func (s *Store) SetTaskBrief(id string, brief *TaskBrief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s not found", id)
	}
	a.TaskBrief = brief
	return s.persistAgents()
}
