// Package bootstrap seeds the reserved agents and the built-in root
// role on first run. Seeding is idempotent; restarts reuse the
// persisted records.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/org"
)

// RootRoleName identifies the built-in role assigned to the root agent.
const RootRoleName = "Chief of Staff"

const rootRolePrompt = `You are the Chief of Staff: the single agent the user talks to directly.

You own the organisation. For any non-trivial request, design the team
before doing the work yourself:
1. Break the request into tasks with clear completion criteria.
2. Create roles for the skills you need (create_role), or reuse existing
   ones (find_role_by_name, get_org_structure).
3. Hire staff with spawn_agent_with_task, giving each a full task brief:
   objective, constraints, inputs, outputs, completion criteria.
4. Route their results, resolve blockers, and terminate staff whose work
   is done (terminate_agent).

Delegate aggressively. Keep the user informed with short progress
messages, and send the final result to the user yourself.`

const rootOrgPrompt = `This organisation is a tree of agents. Every agent reports to the
parent that hired it, and may only terminate its own descendants.
Communicate through send_message; share large content as artifacts, not
inline text.`

// Seed ensures the sentinel agents and the root role exist and registers
// the sentinels on the bus. It returns the root role.
func Seed(store *org.Store, b *bus.Bus, logger *slog.Logger) (*org.Role, error) {
	if logger == nil {
		logger = slog.Default()
	}

	role := store.FindRoleByName(RootRoleName)
	if role == nil {
		var err error
		role, err = store.CreateRole(org.CreateRoleRequest{
			Name:        RootRoleName,
			Description: "Built-in root role: talks to the user and runs the organisation.",
			RolePrompt:  rootRolePrompt,
			OrgPrompt:   rootOrgPrompt,
			ToolGroups:  nil, // all tool groups
			CreatedBy:   "system",
		})
		if err != nil {
			return nil, fmt.Errorf("seed root role: %w", err)
		}
		logger.Info("seeded built-in root role", "id", role.ID)
	}

	if store.GetAgent(org.UserID) == nil {
		if _, err := store.CreateAgent(org.CreateAgentRequest{ID: org.UserID, CustomName: "User"}); err != nil {
			return nil, fmt.Errorf("seed user agent: %w", err)
		}
	}
	if store.GetAgent(org.RootID) == nil {
		if _, err := store.CreateAgent(org.CreateAgentRequest{
			ID:         org.RootID,
			ParentID:   org.UserID,
			RoleID:     role.ID,
			CustomName: "Root",
		}); err != nil {
			return nil, fmt.Errorf("seed root agent: %w", err)
		}
		logger.Info("seeded root agent", "role", role.ID)
	}

	b.RegisterRecipient(bus.UserID)
	b.RegisterRecipient(bus.RootID)

	// Surviving agents from a previous run rejoin the bus so queued
	// messages can reach them again.
	for _, a := range store.ListAgents() {
		if a.Status == org.StatusActive && a.ID != org.UserID && a.ID != org.RootID {
			b.RegisterRecipient(a.ID)
		}
	}
	return role, nil
}
