// Package artifacts implements the content-addressed artifact store.
//
// Each artifact is one data file plus one ".meta" JSON sidecar under a
// single directory. Artifacts are immutable: the core never rewrites or
// deletes them.
package artifacts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RefPrefix is the opaque reference scheme for stored artifacts.
const RefPrefix = "artifact:"

// Artifact is the materialized form returned by Get.
type Artifact struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   any            `json:"content,omitempty"` // parsed JSON for structured artifacts
	Raw       []byte         `json:"-"`                 // raw bytes for binary artifacts
	Meta      map[string]any `json:"meta,omitempty"`
	IsBinary  bool           `json:"isBinary"`
	MimeType  string         `json:"mimeType,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// metaRecord is the on-disk sidecar format.
type metaRecord struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	File      string         `json:"file"`
	Meta      map[string]any `json:"meta,omitempty"`
	IsBinary  bool           `json:"isBinary"`
	MimeType  string         `json:"mimeType,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Store persists artifacts under a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the artifact directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// MakeRef builds the opaque reference for an artifact id.
func MakeRef(id string) string { return RefPrefix + id }

// ParseRef extracts the artifact id from a reference. Bare uuids are
// accepted too so LLM-mangled refs still resolve.
func ParseRef(ref string) (string, bool) {
	id := strings.TrimPrefix(strings.TrimSpace(ref), RefPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// PutOptions carries optional metadata for Put.
type PutOptions struct {
	Meta      map[string]any
	MessageID string
}

// Put stores content of the given type and returns its reference.
//
// []byte content goes through binary detection; everything else is
// marshalled as JSON. The data file and sidecar are written atomically
// (temp + rename).
func (s *Store) Put(typ string, content any, opts PutOptions) (string, error) {
	id := uuid.NewString()
	meta := opts.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	var data []byte
	isBinary := false
	mimeType := ""

	switch c := content.(type) {
	case []byte:
		data = c
		isBinary, mimeType = DetectBinary(c)
		if !isBinary {
			mimeType = textMimeFor(typ)
		}
	case string:
		data = []byte(c)
		mimeType = textMimeFor(typ)
	default:
		var err error
		data, err = json.MarshalIndent(content, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal artifact content: %w", err)
		}
		mimeType = "application/json"
	}
	if m, ok := meta["mimeType"].(string); ok && m != "" {
		mimeType = m
	}
	meta["size"] = len(data)
	if mimeType != "" {
		meta["mimeType"] = mimeType
	}

	ext := extensionFor(typ, content, mimeType)
	file := id + ext

	if err := writeAtomic(filepath.Join(s.dir, file), data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	rec := metaRecord{
		ID:        id,
		Type:      typ,
		File:      file,
		Meta:      meta,
		IsBinary:  isBinary,
		MimeType:  mimeType,
		MessageID: opts.MessageID,
		CreatedAt: time.Now().UTC(),
	}
	sidecar, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact meta: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.dir, id+".meta"), sidecar); err != nil {
		return "", fmt.Errorf("write artifact meta: %w", err)
	}

	s.logger.Debug("artifact stored", "id", id, "type", typ, "binary", isBinary, "size", len(data))
	return MakeRef(id), nil
}

// Get resolves a reference. A missing sidecar means artifact-not-found
// and returns (nil, nil).
func (s *Store) Get(ref string) (*Artifact, error) {
	id, ok := ParseRef(ref)
	if !ok {
		return nil, nil
	}
	sidecar, err := os.ReadFile(filepath.Join(s.dir, id+".meta"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact meta: %w", err)
	}
	var rec metaRecord
	if err := json.Unmarshal(sidecar, &rec); err != nil {
		return nil, fmt.Errorf("parse artifact meta %s: %w", id, err)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, rec.File))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact data: %w", err)
	}

	a := &Artifact{
		ID:        rec.ID,
		Type:      rec.Type,
		Meta:      rec.Meta,
		IsBinary:  rec.IsBinary,
		MimeType:  rec.MimeType,
		MessageID: rec.MessageID,
		CreatedAt: rec.CreatedAt,
	}
	if rec.IsBinary {
		a.Raw = data
		return a, nil
	}
	if rec.MimeType == "application/json" || rec.Type == "json" {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			a.Content = v
			return a, nil
		}
	}
	a.Content = string(data)
	return a, nil
}

// UploadedFile is the result of SaveUploadedFile.
type UploadedFile struct {
	Ref      string         `json:"ref"`
	Metadata map[string]any `json:"metadata"`
}

// SaveUploadedFile stores raw uploaded bytes, preserving the original
// filename and resolving a generic mime type from its extension.
func (s *Store) SaveUploadedFile(data []byte, typ, filename, mimeType string) (*UploadedFile, error) {
	if mimeType == "" || mimeType == "application/octet-stream" {
		if resolved := MimeFromFilename(filename); resolved != "" {
			mimeType = resolved
		}
	}
	meta := map[string]any{}
	if filename != "" {
		meta["filename"] = filename
	}
	if mimeType != "" {
		meta["mimeType"] = mimeType
	}
	ref, err := s.Put(typ, data, PutOptions{Meta: meta})
	if err != nil {
		return nil, err
	}
	return &UploadedFile{Ref: ref, Metadata: meta}, nil
}

// extensionFor picks the data-file extension: mime mapping first, then
// ".json" for structured content, ".bin" as the fallback.
func extensionFor(typ string, content any, mimeType string) string {
	if ext := extForMime(mimeType); ext != "" {
		return ext
	}
	switch content.(type) {
	case []byte:
		return ".bin"
	case string:
		if typ == "json" {
			return ".json"
		}
		return ".txt"
	default:
		return ".json"
	}
}

func textMimeFor(typ string) string {
	if strings.Contains(typ, "/") {
		return typ
	}
	switch typ {
	case "json":
		return "application/json"
	case "html":
		return "text/html"
	case "markdown", "md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
