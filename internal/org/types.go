// Package org persists roles, agent metadata, the parent/child tree,
// and the termination log.
package org

import "time"

// Reserved sentinel agent ids. Both always exist; "user" is the human
// endpoint, "root" the top of the agent tree.
const (
	UserID = "user"
	RootID = "root"
)

// Agent status values (lifecycle, not compute status).
const (
	StatusActive     = "active"
	StatusTerminated = "terminated"
)

// Role is a reusable agent template.
type Role struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	RolePrompt       string    `json:"rolePrompt"`
	OrgPrompt        string    `json:"orgPrompt,omitempty"`
	ToolGroups       []string  `json:"toolGroups,omitempty"` // nil = all groups
	PreferredService string    `json:"preferredService,omitempty"`
	CreatedBy        string    `json:"createdBy,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// TaskBrief is the five-field delegation contract handed to a child at
// spawn.
type TaskBrief struct {
	Objective          string   `json:"objective"`
	Constraints        []string `json:"constraints"`
	Inputs             string   `json:"inputs"`
	Outputs            string   `json:"outputs"`
	CompletionCriteria string   `json:"completion_criteria"`
}

// Agent is the persistent record of a running agent instance.
type Agent struct {
	ID           string     `json:"id"`
	RoleID       string     `json:"roleId"`
	Name         string     `json:"name,omitempty"` // human-readable custom name
	ParentID     string     `json:"parentId,omitempty"`
	Status       string     `json:"status"`
	TaskID       string     `json:"taskId,omitempty"`
	TaskBrief    *TaskBrief `json:"taskBrief,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActiveAt time.Time  `json:"lastActiveAt"`
}

// Termination is one line of the terminations log.
type Termination struct {
	AgentID      string    `json:"agentId"`
	Reason       string    `json:"reason,omitempty"`
	TerminatedBy string    `json:"terminatedBy,omitempty"`
	At           time.Time `json:"at"`
}

// TreeNode is one node of the nested org tree.
type TreeNode struct {
	Agent    *Agent      `json:"agent"`
	Children []*TreeNode `json:"children,omitempty"`
}
