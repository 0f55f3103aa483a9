package tools

import (
	"context"

	"github.com/nextlevelbuilder/hivemind/internal/artifacts"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/sandbox"
)

// runJavascriptTool executes a script in the embedded sandbox. Canvases
// drawn by the script are persisted as image artifacts and their refs
// returned alongside the result.
type runJavascriptTool struct {
	runner *sandbox.Runner
	store  *artifacts.Store
}

func (t *runJavascriptTool) Name() string  { return "run_javascript" }
func (t *runJavascriptTool) Group() string { return GroupSandbox }
func (t *runJavascriptTool) Description() string {
	return "Run a JavaScript snippet in an isolated sandbox. No network or filesystem access. " +
		"getCanvas(w, h) returns a drawable bitmap (setPixel, fillRect) that is saved as a PNG artifact. " +
		"The value of the final expression is the result; console.log output is captured."
}
func (t *runJavascriptTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"code":  map[string]any{"type": "string", "description": "JavaScript source to execute"},
		"input": map[string]any{"description": "Optional JSON value bound to the global `input`"},
	}, "code")
}

func (t *runJavascriptTool) Execute(ctx context.Context, args map[string]any) *Result {
	code, errRes := stringArg(args, "code")
	if errRes != nil {
		return errRes
	}
	res, err := t.runner.Run(ctx, code, args["input"])
	if err != nil {
		return FaultResult(err)
	}

	refs := make([]string, 0, len(res.Canvas))
	for _, png := range res.Canvas {
		ref, putErr := t.store.Put("image", png, artifacts.PutOptions{
			Meta: map[string]any{"source": "run_javascript"},
		})
		if putErr != nil {
			return ErrorResult(fault.ProcessingFailed, "persist canvas: %v", putErr)
		}
		refs = append(refs, ref)
	}

	body := map[string]any{"result": res.Value}
	if len(res.Console) > 0 {
		body["console"] = res.Console
	}
	if len(refs) > 0 {
		body["artifactIds"] = refs
	}
	out := JSONResult(body)
	out.ArtifactRefs = refs
	return out
}
