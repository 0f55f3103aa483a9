package tools

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/org"
)

// Spawner creates a live child agent with a task brief. Implemented by
// the agent manager.
type Spawner interface {
	SpawnWithTask(ctx context.Context, parentID string, req SpawnRequest) (*org.Agent, error)
}

// SpawnRequest carries the delegation contract for a new agent.
type SpawnRequest struct {
	RoleID         string
	TaskBrief      org.TaskBrief
	InitialMessage string
}

// Terminator tears down an agent subtree. Implemented by the agent
// manager; it enforces the ancestor permission and returns the ids it
// terminated, deepest first.
type Terminator interface {
	Terminate(ctx context.Context, callerID, targetID, reason string) ([]string, error)
}

// spawnTool creates a child agent bound to a task brief.
type spawnTool struct {
	spawner Spawner
}

func (t *spawnTool) Name() string  { return "spawn_agent_with_task" }
func (t *spawnTool) Group() string { return GroupLifecycle }
func (t *spawnTool) Description() string {
	return "Spawn a child agent with a role and a complete task brief, and send it an initial message. Returns the new agent's id."
}
func (t *spawnTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"roleId": map[string]any{"type": "string", "description": "Id of an existing role"},
		"taskBrief": objectSchema(map[string]any{
			"objective":           map[string]any{"type": "string", "description": "What the child must achieve"},
			"constraints":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"inputs":              map[string]any{"type": "string", "description": "What the child is given"},
			"outputs":             map[string]any{"type": "string", "description": "What the child must produce"},
			"completion_criteria": map[string]any{"type": "string", "description": "How done is judged"},
		}, "objective", "constraints", "inputs", "outputs", "completion_criteria"),
		"initialMessage": map[string]any{"type": "string", "description": "First message delivered to the child"},
	}, "roleId", "taskBrief", "initialMessage")
}

func (t *spawnTool) Execute(ctx context.Context, args map[string]any) *Result {
	roleID, errRes := stringArg(args, "roleId")
	if errRes != nil {
		return errRes
	}
	initial, errRes := stringArg(args, "initialMessage")
	if errRes != nil {
		return errRes
	}
	rawBrief, errRes := objectArg(args, "taskBrief")
	if errRes != nil {
		return errRes
	}
	brief, briefErr := parseTaskBrief(rawBrief)
	if briefErr != nil {
		return briefErr
	}

	caller, ok := CallerFrom(ctx)
	if !ok {
		return ErrorResult(fault.AccessDenied, "no calling agent bound to this request")
	}
	child, err := t.spawner.SpawnWithTask(ctx, caller.AgentID, SpawnRequest{
		RoleID:         roleID,
		TaskBrief:      *brief,
		InitialMessage: initial,
	})
	if err != nil {
		return FaultResult(err)
	}
	return JSONResult(map[string]any{
		"agentId": child.ID,
		"name":    child.Name,
		"taskId":  child.TaskID,
	})
}

// parseTaskBrief validates the five-field contract. Every field is
// required; constraints must be a string array (empty allowed).
func parseTaskBrief(raw map[string]any) (*org.TaskBrief, *Result) {
	get := func(key string) (string, bool) {
		s, ok := raw[key].(string)
		return strings.TrimSpace(s), ok && strings.TrimSpace(s) != ""
	}
	objective, ok1 := get("objective")
	inputs, ok2 := get("inputs")
	outputs, ok3 := get("outputs")
	criteria, ok4 := get("completion_criteria")
	constraints, ok5 := stringList(raw["constraints"])
	_, present := raw["constraints"]

	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !present {
		return nil, ErrorResult(fault.InvalidTaskBrief,
			"taskBrief requires objective, constraints[], inputs, outputs, completion_criteria")
	}
	return &org.TaskBrief{
		Objective:          objective,
		Constraints:        constraints,
		Inputs:             inputs,
		Outputs:            outputs,
		CompletionCriteria: criteria,
	}, nil
}

// terminateTool tears down a descendant subtree.
type terminateTool struct {
	terminator Terminator
}

func (t *terminateTool) Name() string  { return "terminate_agent" }
func (t *terminateTool) Group() string { return GroupLifecycle }
func (t *terminateTool) Description() string {
	return "Terminate one of your descendant agents and its whole subtree. Pending work for the subtree is dropped."
}
func (t *terminateTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"agentId": map[string]any{"type": "string", "description": "Id of the agent to terminate; must be your descendant"},
		"reason":  map[string]any{"type": "string", "description": "Why the agent is being terminated"},
	}, "agentId")
}

func (t *terminateTool) Execute(ctx context.Context, args map[string]any) *Result {
	target, errRes := stringArg(args, "agentId")
	if errRes != nil {
		return errRes
	}
	caller, ok := CallerFrom(ctx)
	if !ok {
		return ErrorResult(fault.AccessDenied, "no calling agent bound to this request")
	}
	terminated, err := t.terminator.Terminate(ctx, caller.AgentID, target, optionalString(args, "reason"))
	if err != nil {
		return FaultResult(err)
	}
	return JSONResult(map[string]any{
		"terminated": terminated,
		"count":      len(terminated),
	})
}
