// Package content expands message attachments into LLM content parts,
// routing each artifact by the target service's input capabilities.
package content

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/hivemind/internal/artifacts"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/llm"
)

// Router converts bus attachments into llm content parts. Binary
// payloads only ever reach the model when the service declares the
// matching modality; otherwise a short textual placeholder is sent so
// the agent still learns the attachment exists.
type Router struct {
	store  *artifacts.Store
	logger *slog.Logger
}

// NewRouter builds a Router over the artifact store.
func NewRouter(store *artifacts.Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: store, logger: logger}
}

// ModalityFor maps a mime type to the capability required to send the
// raw bytes to a model.
func ModalityFor(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "vision"
	case strings.HasPrefix(mime, "audio/"):
		return "audio"
	case strings.HasPrefix(mime, "video/"):
		return "video"
	case mime == "application/pdf":
		return "file"
	default:
		return "file"
	}
}

// Expand renders a message text plus its attachments as content parts
// for the given service. Text artifacts are inlined; binary artifacts
// become image_url or file parts when the service supports them and a
// placeholder note otherwise. The placeholder never embeds the bytes.
func (r *Router) Expand(text string, atts []bus.Attachment, caps config.Capabilities) []llm.ContentPart {
	parts := make([]llm.ContentPart, 0, 1+len(atts))
	if text != "" {
		parts = append(parts, llm.TextPart(text))
	}
	for _, att := range atts {
		parts = append(parts, r.expandOne(att, caps))
	}
	if len(parts) == 0 {
		parts = append(parts, llm.TextPart(""))
	}
	return parts
}

func (r *Router) expandOne(att bus.Attachment, caps config.Capabilities) llm.ContentPart {
	a, err := r.store.Get(att.ArtifactRef)
	if err != nil {
		r.logger.Warn("attachment read failed", "ref", att.ArtifactRef, "error", err)
		return llm.TextPart(fmt.Sprintf("[Attachment unavailable] %s (%s)", att.Filename, att.ArtifactRef))
	}
	if a == nil {
		return llm.TextPart(fmt.Sprintf("[Attachment not found] %s (%s)", att.Filename, att.ArtifactRef))
	}

	if !a.IsBinary {
		return llm.TextPart(textArtifactBody(att, a))
	}

	modality := ModalityFor(a.MimeType)
	if !caps.Supports(modality) {
		return llm.TextPart(unreadableNote(att, a))
	}

	encoded := base64.StdEncoding.EncodeToString(a.Raw)
	switch modality {
	case "vision":
		return llm.ContentPart{
			Type:     "image_url",
			ImageURL: &llm.ImageURL{URL: "data:" + a.MimeType + ";base64," + encoded},
		}
	default:
		return llm.ContentPart{
			Type: "file",
			File: &llm.FilePart{
				Filename: attachmentName(att, a),
				FileData: "data:" + a.MimeType + ";base64," + encoded,
			},
		}
	}
}

// textArtifactBody inlines a text or JSON artifact with a small header
// so the model can refer back to it.
func textArtifactBody(att bus.Attachment, a *artifacts.Artifact) string {
	body := ""
	switch c := a.Content.(type) {
	case string:
		body = c
	default:
		body = fmt.Sprintf("%v", c)
	}
	return fmt.Sprintf("[Attachment] %s (%s)\n%s", attachmentName(att, a), artifacts.MakeRef(a.ID), body)
}

// unreadableNote is the placeholder sent when the service cannot
// consume the modality. It stays short regardless of artifact size.
func unreadableNote(att bus.Attachment, a *artifacts.Artifact) string {
	return UnreadableDescription(attachmentName(att, a), a)
}

// UnreadableDescription renders the text placeholder for a binary
// artifact the current model cannot consume. The bytes never appear in
// the output.
func UnreadableDescription(name string, a *artifacts.Artifact) string {
	if name == "" {
		name = a.ID
	}
	return fmt.Sprintf(
		"[Cannot read] %s (%s)\nType: %s\nCurrent model does not support this type. Use tools to process it, or forward it to an agent whose model can.",
		name, artifacts.MakeRef(a.ID), artifacts.FriendlyTypeName(a.MimeType))
}

func attachmentName(att bus.Attachment, a *artifacts.Artifact) string {
	if att.Filename != "" {
		return att.Filename
	}
	if name, ok := a.Meta["filename"].(string); ok && name != "" {
		return name
	}
	return a.ID
}
