package tools

import (
	"context"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/org"
)

// Tool group ids a role may grant.
const (
	GroupOrg       = "org"
	GroupLifecycle = "lifecycle"
	GroupMessaging = "messaging"
	GroupArtifacts = "artifacts"
	GroupWorkspace = "workspace"
	GroupSandbox   = "sandbox"
	GroupLocalLLM  = "localllm"
)

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// findRoleTool resolves a role by display name.
type findRoleTool struct {
	store *org.Store
}

func (t *findRoleTool) Name() string  { return "find_role_by_name" }
func (t *findRoleTool) Group() string { return GroupOrg }
func (t *findRoleTool) Description() string {
	return "Find an existing role by its exact display name. Returns the role, or null if none exists."
}
func (t *findRoleTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"name": map[string]any{"type": "string", "description": "Exact role name to look up"},
	}, "name")
}

func (t *findRoleTool) Execute(_ context.Context, args map[string]any) *Result {
	name, errRes := stringArg(args, "name")
	if errRes != nil {
		return errRes
	}
	role := t.store.FindRoleByName(name)
	if role == nil {
		return JSONResult(map[string]any{"role": nil})
	}
	return JSONResult(map[string]any{"role": role})
}

// createRoleTool persists a new role. An omitted orgPrompt is inherited
// from the caller's own role so an org architecture propagates down the
// tree.
type createRoleTool struct {
	store *org.Store
}

func (t *createRoleTool) Name() string  { return "create_role" }
func (t *createRoleTool) Group() string { return GroupOrg }
func (t *createRoleTool) Description() string {
	return "Create a reusable agent role with a system prompt. Use find_role_by_name first to avoid duplicates."
}
func (t *createRoleTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"name":       map[string]any{"type": "string", "description": "Short display name, e.g. 'Research Analyst'"},
		"rolePrompt": map[string]any{"type": "string", "description": "System instructions for agents holding this role"},
		"orgPrompt":  map[string]any{"type": "string", "description": "Optional org-architecture prompt; inherited from your role if omitted"},
		"toolGroups": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Tool group ids this role may use; omit for all",
		},
		"preferredService": map[string]any{"type": "string", "description": "Optional LLM service id for agents of this role"},
	}, "name", "rolePrompt")
}

func (t *createRoleTool) Execute(ctx context.Context, args map[string]any) *Result {
	name, errRes := stringArg(args, "name")
	if errRes != nil {
		return errRes
	}
	rolePrompt, errRes := stringArg(args, "rolePrompt")
	if errRes != nil {
		return errRes
	}
	toolGroups, ok := stringList(args["toolGroups"])
	if !ok {
		return ErrorResult(fault.MissingParameter, "toolGroups must be an array of strings")
	}

	orgPrompt := optionalString(args, "orgPrompt")
	caller, _ := CallerFrom(ctx)
	if orgPrompt == "" && caller.RoleID != "" {
		if own := t.store.GetRole(caller.RoleID); own != nil {
			orgPrompt = own.OrgPrompt
		}
	}

	role, err := t.store.CreateRole(org.CreateRoleRequest{
		Name:             name,
		RolePrompt:       rolePrompt,
		OrgPrompt:        orgPrompt,
		ToolGroups:       toolGroups,
		PreferredService: optionalString(args, "preferredService"),
		CreatedBy:        caller.AgentID,
	})
	if err != nil {
		return ErrorResult(fault.ProcessingFailed, "create role: %v", err)
	}
	return JSONResult(map[string]any{"role": role})
}

// orgStructureTool renders the current organisation: every role with
// the live agents holding it.
type orgStructureTool struct {
	store *org.Store
}

func (t *orgStructureTool) Name() string  { return "get_org_structure" }
func (t *orgStructureTool) Group() string { return GroupOrg }
func (t *orgStructureTool) Description() string {
	return "List all roles and the active agents holding each, plus the agent tree."
}
func (t *orgStructureTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *orgStructureTool) Execute(_ context.Context, _ map[string]any) *Result {
	type agentRef struct {
		ID   string `json:"id"`
		Name string `json:"name,omitempty"`
	}
	type roleEntry struct {
		ID     string     `json:"id"`
		Name   string     `json:"name"`
		Agents []agentRef `json:"agents"`
	}

	byRole := map[string][]agentRef{}
	for _, a := range t.store.ListAgents() {
		if a.Status != org.StatusActive {
			continue
		}
		byRole[a.RoleID] = append(byRole[a.RoleID], agentRef{ID: a.ID, Name: a.Name})
	}
	roles := make([]roleEntry, 0)
	for _, r := range t.store.ListRoles() {
		agents := byRole[r.ID]
		if agents == nil {
			agents = []agentRef{}
		}
		roles = append(roles, roleEntry{ID: r.ID, Name: r.Name, Agents: agents})
	}
	return JSONResult(map[string]any{
		"roles": roles,
		"tree":  t.store.GetOrgTree(),
	})
}
