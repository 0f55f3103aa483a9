package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/hivemind/internal/artifacts"
	"github.com/nextlevelbuilder/hivemind/internal/content"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

// putArtifactTool stores content and returns its reference.
type putArtifactTool struct {
	store *artifacts.Store
}

func (t *putArtifactTool) Name() string  { return "put_artifact" }
func (t *putArtifactTool) Group() string { return GroupArtifacts }
func (t *putArtifactTool) Description() string {
	return "Store content as a durable artifact and get back an artifact: reference to share with other agents."
}
func (t *putArtifactTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"type":    map[string]any{"type": "string", "description": "Artifact kind, e.g. 'text', 'json', 'report'"},
		"content": map[string]any{"description": "String or JSON content to store"},
		"name":    map[string]any{"type": "string", "description": "Optional filename recorded in metadata"},
		"meta":    map[string]any{"type": "object", "description": "Optional free-form metadata"},
	}, "type", "content")
}

func (t *putArtifactTool) Execute(_ context.Context, args map[string]any) *Result {
	typ, errRes := stringArg(args, "type")
	if errRes != nil {
		return errRes
	}
	content, ok := args["content"]
	if !ok || content == nil {
		return ErrorResult(fault.MissingParameter, "missing required parameter %q", "content")
	}
	meta, _ := args["meta"].(map[string]any)
	if name := optionalString(args, "name"); name != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["filename"] = name
	}

	ref, err := t.store.Put(typ, content, artifacts.PutOptions{Meta: meta})
	if err != nil {
		return ErrorResult(fault.ProcessingFailed, "store artifact: %v", err)
	}
	return &Result{
		ForLLM:       fmt.Sprintf(`{"artifactIds":[%q]}`, ref),
		ArtifactRefs: []string{ref},
	}
}

// getArtifactTool reads an artifact back. Binary payloads are described
// rather than inlined; the bytes never enter the conversation as text.
type getArtifactTool struct {
	store *artifacts.Store
}

func (t *getArtifactTool) Name() string  { return "get_artifact" }
func (t *getArtifactTool) Group() string { return GroupArtifacts }
func (t *getArtifactTool) Description() string {
	return "Read a stored artifact by its artifact: reference. Text content is returned inline; binary content is described."
}
func (t *getArtifactTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"ref": map[string]any{"type": "string", "description": "The artifact: reference"},
	}, "ref")
}

func (t *getArtifactTool) Execute(_ context.Context, args map[string]any) *Result {
	ref, errRes := stringArg(args, "ref")
	if errRes != nil {
		return errRes
	}
	a, err := t.store.Get(ref)
	if err != nil {
		return ErrorResult(fault.ProcessingFailed, "read artifact: %v", err)
	}
	if a == nil {
		return ErrorResult(fault.ArtifactNotFound, "no artifact for %q", ref)
	}

	// Tool results are always text, so binary artifacts are routed the
	// same way the content router treats a text-only service: a short
	// description, never the bytes.
	if a.IsBinary {
		name, _ := a.Meta["filename"].(string)
		return JSONResult(map[string]any{
			"artifactRef": artifacts.MakeRef(a.ID),
			"type":        a.Type,
			"isBinary":    true,
			"mimeType":    a.MimeType,
			"sizeBytes":   len(a.Raw),
			"meta":        a.Meta,
			"routing":     "text",
			"content":     content.UnreadableDescription(name, a),
		})
	}
	return JSONResult(map[string]any{
		"artifactRef": artifacts.MakeRef(a.ID),
		"type":        a.Type,
		"routing":     "text",
		"content":     a.Content,
		"meta":        a.Meta,
		"createdAt":   a.CreatedAt,
	})
}
