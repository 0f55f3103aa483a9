package tools

import (
	"github.com/nextlevelbuilder/hivemind/internal/artifacts"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/org"
	"github.com/nextlevelbuilder/hivemind/internal/sandbox"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
)

// Deps wires the built-in catalogue to the rest of the runtime.
type Deps struct {
	Org        *org.Store
	Bus        *bus.Bus
	Artifacts  *artifacts.Store
	Workspaces *workspace.Manager
	Sandbox    *sandbox.Runner
	Spawner    Spawner
	Terminator Terminator
	Reporter   ContextReporter
	LocalLLM   config.LocalLLMConfig
	LocalChat  LocalChatter
}

// RegisterBuiltins installs the fixed tool catalogue.
func RegisterBuiltins(r *Registry, d Deps) {
	r.Register(&findRoleTool{store: d.Org})
	r.Register(&createRoleTool{store: d.Org})
	r.Register(&orgStructureTool{store: d.Org})
	r.Register(&spawnTool{spawner: d.Spawner})
	r.Register(&terminateTool{terminator: d.Terminator})
	r.Register(&sendMessageTool{bus: d.Bus})
	r.Register(&putArtifactTool{store: d.Artifacts})
	r.Register(&getArtifactTool{store: d.Artifacts})
	r.Register(&readFileTool{ws: d.Workspaces})
	r.Register(&writeFileTool{ws: d.Workspaces})
	r.Register(&listFilesTool{ws: d.Workspaces})
	r.Register(&contextStatusTool{reporter: d.Reporter})
	if d.Sandbox != nil {
		r.Register(&runJavascriptTool{runner: d.Sandbox, store: d.Artifacts})
	}
	r.Register(&localChatTool{cfg: d.LocalLLM, chatter: d.LocalChat})
}
