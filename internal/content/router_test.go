package content

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/hivemind/internal/artifacts"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, bytes.Repeat([]byte{0x42}, 256)...)

func newRouter(t *testing.T) (*Router, *artifacts.Store) {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewRouter(store, nil), store
}

func TestExpandImageForVisionService(t *testing.T) {
	r, store := newRouter(t)
	ref, err := store.Put("image", pngBytes, artifacts.PutOptions{})
	if err != nil {
		t.Fatal(err)
	}

	parts := r.Expand("look at this", []bus.Attachment{{Type: "image", ArtifactRef: ref, Filename: "chart.png"}},
		config.Capabilities{Input: []string{"vision"}})

	if len(parts) != 2 {
		t.Fatalf("parts = %d", len(parts))
	}
	if parts[0].Type != "text" || parts[0].Text != "look at this" {
		t.Errorf("text part = %+v", parts[0])
	}
	img := parts[1]
	if img.Type != "image_url" || img.ImageURL == nil {
		t.Fatalf("image part = %+v", img)
	}
	if !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("url prefix = %q", img.ImageURL.URL[:40])
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(img.ImageURL.URL, "data:image/png;base64,"))
	if err != nil || !bytes.Equal(raw, pngBytes) {
		t.Error("data url does not round-trip the bytes")
	}
}

func TestExpandImageWithoutVisionFallsBackToNote(t *testing.T) {
	r, store := newRouter(t)
	ref, _ := store.Put("image", pngBytes, artifacts.PutOptions{})

	parts := r.Expand("", []bus.Attachment{{Type: "image", ArtifactRef: ref, Filename: "chart.png"}},
		config.Capabilities{})

	if len(parts) != 1 || parts[0].Type != "text" {
		t.Fatalf("parts = %+v", parts)
	}
	note := parts[0].Text
	if !strings.HasPrefix(note, "[Cannot read] chart.png (artifact:") {
		t.Errorf("note = %q", note)
	}
	if !strings.Contains(note, "Type: Image (png)") {
		t.Errorf("note = %q", note)
	}
	// The placeholder must not smuggle the payload in any encoding.
	if strings.Contains(note, base64.StdEncoding.EncodeToString(pngBytes)) {
		t.Error("note embeds base64 body")
	}
	if len(note) >= base64.StdEncoding.EncodedLen(len(pngBytes)) {
		t.Errorf("note length %d not shorter than encoded payload", len(note))
	}
}

func TestExpandPDFUsesFilePart(t *testing.T) {
	r, store := newRouter(t)
	pdf := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte{0x00}, 64)...)
	ref, _ := store.Put("document", pdf, artifacts.PutOptions{})

	parts := r.Expand("", []bus.Attachment{{Type: "file", ArtifactRef: ref, Filename: "report.pdf"}},
		config.Capabilities{Input: []string{"file"}})

	if len(parts) != 1 || parts[0].Type != "file" || parts[0].File == nil {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[0].File.Filename != "report.pdf" {
		t.Errorf("filename = %q", parts[0].File.Filename)
	}
	if !strings.HasPrefix(parts[0].File.FileData, "data:application/pdf;base64,") {
		t.Errorf("file data prefix = %q", parts[0].File.FileData[:40])
	}
}

func TestExpandTextArtifactInlined(t *testing.T) {
	r, store := newRouter(t)
	ref, _ := store.Put("text", "the quarterly numbers", artifacts.PutOptions{})

	parts := r.Expand("see attached", []bus.Attachment{{Type: "text", ArtifactRef: ref, Filename: "notes.txt"}},
		config.Capabilities{})

	if len(parts) != 2 {
		t.Fatalf("parts = %d", len(parts))
	}
	if !strings.Contains(parts[1].Text, "the quarterly numbers") {
		t.Errorf("inline = %q", parts[1].Text)
	}
	if !strings.Contains(parts[1].Text, "notes.txt") {
		t.Errorf("inline = %q", parts[1].Text)
	}
}

func TestExpandMissingArtifact(t *testing.T) {
	r, _ := newRouter(t)
	parts := r.Expand("", []bus.Attachment{{ArtifactRef: "artifact:00000000-0000-0000-0000-000000000000", Filename: "gone.bin"}},
		config.Capabilities{Input: []string{"vision"}})
	if len(parts) != 1 || !strings.Contains(parts[0].Text, "not found") {
		t.Errorf("parts = %+v", parts)
	}
}

func TestModalityFor(t *testing.T) {
	cases := map[string]string{
		"image/png":       "vision",
		"image/jpeg":      "vision",
		"audio/wav":       "audio",
		"video/mp4":       "video",
		"application/pdf": "file",
		"application/zip": "file",
	}
	for mime, want := range cases {
		if got := ModalityFor(mime); got != want {
			t.Errorf("ModalityFor(%s) = %s, want %s", mime, got, want)
		}
	}
}
