package tools

import (
	"context"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
)

// Workspace tools operate on the caller's bound task workspace. Agents
// without a task id get workspace_not_bound.

type readFileTool struct {
	ws *workspace.Manager
}

func (t *readFileTool) Name() string  { return "read_workspace_file" }
func (t *readFileTool) Group() string { return GroupWorkspace }
func (t *readFileTool) Description() string {
	return "Read a file from your task workspace by relative path."
}
func (t *readFileTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": "Path relative to the workspace root"},
	}, "path")
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, errRes := stringArg(args, "path")
	if errRes != nil {
		return errRes
	}
	caller, _ := CallerFrom(ctx)
	data, err := t.ws.ReadFile(caller.TaskID, path)
	if err != nil {
		return FaultResult(err)
	}
	return JSONResult(map[string]any{"path": path, "content": string(data)})
}

type writeFileTool struct {
	ws *workspace.Manager
}

func (t *writeFileTool) Name() string  { return "write_workspace_file" }
func (t *writeFileTool) Group() string { return GroupWorkspace }
func (t *writeFileTool) Description() string {
	return "Write a file into your task workspace. Parent directories are created as needed."
}
func (t *writeFileTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"path":    map[string]any{"type": "string", "description": "Path relative to the workspace root"},
		"content": map[string]any{"type": "string"},
	}, "path", "content")
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, errRes := stringArg(args, "path")
	if errRes != nil {
		return errRes
	}
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult(fault.MissingParameter, "parameter %q must be a string", "content")
	}
	caller, _ := CallerFrom(ctx)
	if err := t.ws.WriteFile(caller.TaskID, path, []byte(content)); err != nil {
		return FaultResult(err)
	}
	return JSONResult(map[string]any{"path": path, "bytes": len(content)})
}

type listFilesTool struct {
	ws *workspace.Manager
}

func (t *listFilesTool) Name() string  { return "list_workspace_files" }
func (t *listFilesTool) Group() string { return GroupWorkspace }
func (t *listFilesTool) Description() string {
	return "List entries in a directory of your task workspace. Defaults to the workspace root."
}
func (t *listFilesTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": "Directory relative to the workspace root; '.' for the root"},
	})
}

func (t *listFilesTool) Execute(ctx context.Context, args map[string]any) *Result {
	path := optionalString(args, "path")
	if path == "" {
		path = "."
	}
	caller, _ := CallerFrom(ctx)
	entries, err := t.ws.ListFiles(caller.TaskID, path)
	if err != nil {
		return FaultResult(err)
	}
	info, _ := t.ws.GetWorkspaceInfo(caller.TaskID)
	return JSONResult(map[string]any{"path": path, "entries": entries, "info": info})
}
