package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/hivemind/internal/conversation"
	"github.com/nextlevelbuilder/hivemind/internal/org"
)

// contextHintThreshold is the usage ratio above which the system prompt
// tells the agent to wrap up.
const contextHintThreshold = 0.8

// ContextBuilder assembles the system prompt for one LLM turn.
type ContextBuilder struct {
	org  *org.Store
	conv *conversation.Manager
}

// NewContextBuilder wires the builder.
func NewContextBuilder(store *org.Store, conv *conversation.Manager) *ContextBuilder {
	return &ContextBuilder{org: store, conv: conv}
}

// BuildSystemPrompt concatenates role prompt, org prompt, runtime
// facts, the task brief, the contact list, and a context-pressure hint.
func (b *ContextBuilder) BuildSystemPrompt(a *org.Agent) string {
	var sb strings.Builder

	role := b.org.GetRole(a.RoleID)
	if role != nil && role.RolePrompt != "" {
		sb.WriteString(role.RolePrompt)
		sb.WriteString("\n\n")
	}
	if orgPrompt := b.resolveOrgPrompt(a, role); orgPrompt != "" {
		sb.WriteString(orgPrompt)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## About you\n")
	fmt.Fprintf(&sb, "- Agent id: %s\n", a.ID)
	if a.Name != "" {
		fmt.Fprintf(&sb, "- Name: %s\n", a.Name)
	}
	if role != nil {
		fmt.Fprintf(&sb, "- Role: %s\n", role.Name)
	}
	if a.ParentID != "" {
		fmt.Fprintf(&sb, "- Parent: %s\n", a.ParentID)
	}
	if a.TaskID != "" {
		fmt.Fprintf(&sb, "- Task id: %s\n", a.TaskID)
	}
	fmt.Fprintf(&sb, "- Current time: %s\n", time.Now().UTC().Format(time.RFC3339))

	if a.TaskBrief != nil {
		sb.WriteString("\n【Task Brief】\n")
		fmt.Fprintf(&sb, "Objective: %s\n", a.TaskBrief.Objective)
		sb.WriteString("Constraints:\n")
		for _, c := range a.TaskBrief.Constraints {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		fmt.Fprintf(&sb, "Inputs: %s\n", a.TaskBrief.Inputs)
		fmt.Fprintf(&sb, "Outputs: %s\n", a.TaskBrief.Outputs)
		fmt.Fprintf(&sb, "Completion criteria: %s\n", a.TaskBrief.CompletionCriteria)
	}

	if contacts := b.contacts(a); len(contacts) > 0 {
		sb.WriteString("\n## Contacts\nYou can send_message to:\n")
		for _, c := range contacts {
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	}

	if st := b.conv.GetStatus(a.ID); st.Ratio >= contextHintThreshold {
		fmt.Fprintf(&sb,
			"\n## Context pressure\nYour conversation is at %.0f%% of its context window. "+
				"Summarize your findings, report to your parent, and stop starting new work.\n",
			st.Ratio*100)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// resolveOrgPrompt returns the role's org prompt, walking up the parent
// chain when the role carries none.
func (b *ContextBuilder) resolveOrgPrompt(a *org.Agent, role *org.Role) string {
	if role != nil && role.OrgPrompt != "" {
		return role.OrgPrompt
	}
	cur := a
	for cur != nil && cur.ParentID != "" {
		parent := b.org.GetAgent(cur.ParentID)
		if parent == nil {
			return ""
		}
		if pr := b.org.GetRole(parent.RoleID); pr != nil && pr.OrgPrompt != "" {
			return pr.OrgPrompt
		}
		cur = parent
	}
	return ""
}

// contacts lists the peers an agent may message: its parent, its live
// children, and for root the user.
func (b *ContextBuilder) contacts(a *org.Agent) []string {
	var out []string
	describe := func(id string) string {
		if id == org.UserID {
			return "- user (the human you ultimately work for)"
		}
		peer := b.org.GetAgent(id)
		if peer == nil {
			return ""
		}
		roleName := ""
		if r := b.org.GetRole(peer.RoleID); r != nil {
			roleName = r.Name
		}
		name := peer.Name
		if name == "" {
			name = id
		}
		return fmt.Sprintf("- %s (%s, role: %s)", id, name, roleName)
	}

	if a.ParentID != "" {
		if line := describe(a.ParentID); line != "" {
			out = append(out, line+" [your parent]")
		}
	}
	if a.ID == org.RootID {
		out = append(out, describe(org.UserID))
	}
	for _, child := range b.org.GetChildrenOf(a.ID) {
		if child.Status != org.StatusActive {
			continue
		}
		if line := describe(child.ID); line != "" {
			out = append(out, line)
		}
	}
	return out
}
