package org

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	// Seed the sentinels the way bootstrap does.
	if _, err := s.CreateAgent(CreateAgentRequest{ID: UserID}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := s.CreateAgent(CreateAgentRequest{ID: RootID}); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	return s
}

func TestRoleLifecycle(t *testing.T) {
	s := newTestStore(t)

	role, err := s.CreateRole(CreateRoleRequest{Name: "planner", RolePrompt: "You plan.", CreatedBy: RootID})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if s.GetRole(role.ID) == nil {
		t.Fatal("GetRole returned nil")
	}
	if s.FindRoleByName("planner") == nil {
		t.Fatal("FindRoleByName returned nil")
	}
	if s.FindRoleByName("ghost") != nil {
		t.Fatal("FindRoleByName found nonexistent role")
	}

	// Only description fields are mutable.
	updated, err := s.UpdateRole(role.ID, "planner-v2", "plans things")
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if updated.Name != "planner-v2" || updated.Description != "plans things" {
		t.Errorf("updated = %+v", updated)
	}
	if updated.RolePrompt != "You plan." {
		t.Error("rolePrompt changed on update")
	}
}

func TestAgentParentValidation(t *testing.T) {
	s := newTestStore(t)
	role, _ := s.CreateRole(CreateRoleRequest{Name: "r", RolePrompt: "p"})

	if _, err := s.CreateAgent(CreateAgentRequest{RoleID: role.ID, ParentID: "ghost"}); err == nil {
		t.Error("agent created with nonexistent parent")
	}
	a, err := s.CreateAgent(CreateAgentRequest{RoleID: role.ID, ParentID: RootID})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if a.Status != StatusActive {
		t.Errorf("status = %s", a.Status)
	}

	// Terminated parents cannot spawn.
	if err := s.MarkTerminated(a.ID, "test", RootID); err != nil {
		t.Fatalf("MarkTerminated: %v", err)
	}
	if _, err := s.CreateAgent(CreateAgentRequest{RoleID: role.ID, ParentID: a.ID}); err == nil {
		t.Error("terminated parent accepted")
	}
}

func TestMarkTerminatedClearsBriefAndLogs(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.CreateAgent(CreateAgentRequest{ID: RootID})
	role, _ := s.CreateRole(CreateRoleRequest{Name: "r", RolePrompt: "p"})
	a, _ := s.CreateAgent(CreateAgentRequest{
		RoleID:    role.ID,
		ParentID:  RootID,
		TaskBrief: &TaskBrief{Objective: "x", CompletionCriteria: "y"},
	})

	if err := s.MarkTerminated(a.ID, "done", RootID); err != nil {
		t.Fatalf("MarkTerminated: %v", err)
	}
	got := s.GetAgent(a.ID)
	if got.Status != StatusTerminated {
		t.Errorf("status = %s", got.Status)
	}
	if got.TaskBrief != nil {
		t.Error("task brief not cleared")
	}

	log, err := os.ReadFile(filepath.Join(dir, "terminations.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(log), a.ID) || !strings.Contains(string(log), `"done"`) {
		t.Errorf("log = %s", log)
	}
}

func TestDescendantsPostOrder(t *testing.T) {
	s := newTestStore(t)
	role, _ := s.CreateRole(CreateRoleRequest{Name: "r", RolePrompt: "p"})
	c1, _ := s.CreateAgent(CreateAgentRequest{RoleID: role.ID, ParentID: RootID})
	c2, _ := s.CreateAgent(CreateAgentRequest{RoleID: role.ID, ParentID: RootID})
	g, _ := s.CreateAgent(CreateAgentRequest{RoleID: role.ID, ParentID: c1.ID})

	desc := s.Descendants(RootID)
	if len(desc) != 3 {
		t.Fatalf("descendants = %d, want 3", len(desc))
	}
	// Post-order: grandchild before its parent.
	idx := map[string]int{}
	for i, a := range desc {
		idx[a.ID] = i
	}
	if idx[g.ID] > idx[c1.ID] {
		t.Error("grandchild ordered after its parent")
	}
	if _, ok := idx[c2.ID]; !ok {
		t.Error("sibling missing from descendants")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s1, _ := NewStore(dir, nil)
	s1.CreateAgent(CreateAgentRequest{ID: RootID})
	role, _ := s1.CreateRole(CreateRoleRequest{Name: "r", RolePrompt: "p"})
	a, _ := s1.CreateAgent(CreateAgentRequest{RoleID: role.ID, ParentID: RootID, CustomName: "swift-falcon"})

	// A fresh store over the same directory sees everything.
	s2, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if s2.GetRole(role.ID) == nil {
		t.Error("role lost across restart")
	}
	got := s2.GetAgent(a.ID)
	if got == nil || got.Name != "swift-falcon" {
		t.Errorf("agent = %+v", got)
	}
}

func TestGetOrgTree(t *testing.T) {
	s := newTestStore(t)
	role, _ := s.CreateRole(CreateRoleRequest{Name: "r", RolePrompt: "p"})
	c1, _ := s.CreateAgent(CreateAgentRequest{RoleID: role.ID, ParentID: RootID})
	s.CreateAgent(CreateAgentRequest{RoleID: role.ID, ParentID: c1.ID})

	tree := s.GetOrgTree()
	if tree == nil || tree.Agent.ID != RootID {
		t.Fatalf("tree root = %+v", tree)
	}
	if len(tree.Children) != 1 || tree.Children[0].Agent.ID != c1.ID {
		t.Fatalf("children = %+v", tree.Children)
	}
	if len(tree.Children[0].Children) != 1 {
		t.Error("grandchild missing")
	}
}
