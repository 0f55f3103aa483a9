package artifacts

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// magic signatures checked before falling back to the text heuristic.
var signatures = []struct {
	prefix []byte
	mime   string
}{
	{[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, "image/png"},
	{[]byte{0xff, 0xd8, 0xff}, "image/jpeg"},
	{[]byte("GIF87a"), "image/gif"},
	{[]byte("GIF89a"), "image/gif"},
	{[]byte("%PDF-"), "application/pdf"},
	{[]byte("PK\x03\x04"), "application/zip"},
	{[]byte("\x1f\x8b"), "application/gzip"},
	{[]byte("OggS"), "audio/ogg"},
	{[]byte("ID3"), "audio/mpeg"},
	{[]byte("fLaC"), "audio/flac"},
	{[]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}, "video/mp4"},
	{[]byte{0x00, 0x00, 0x00, 0x20, 'f', 't', 'y', 'p'}, "video/mp4"},
	{[]byte{0x1a, 0x45, 0xdf, 0xa3}, "video/webm"},
}

// DetectBinary classifies raw bytes. It returns whether the content is
// binary and, when recognised by signature, its mime type.
//
// Heuristic for unrecognised data: any NUL byte, or invalid UTF-8 with a
// high share of non-printable bytes, means binary.
func DetectBinary(data []byte) (bool, string) {
	if len(data) == 0 {
		return false, ""
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return true, sig.mime
		}
	}
	// RIFF container: WAV or WEBP depending on the format tag.
	if bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 {
		switch string(data[8:12]) {
		case "WAVE":
			return true, "audio/wav"
		case "WEBP":
			return true, "image/webp"
		}
	}

	sample := data
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return true, "application/octet-stream"
	}
	if utf8.Valid(sample) {
		return false, ""
	}
	nonPrint := 0
	for _, b := range sample {
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			nonPrint++
		}
	}
	if nonPrint*10 > len(sample) {
		return true, "application/octet-stream"
	}
	return false, ""
}

var mimeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".json": "application/json",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".csv":  "text/csv",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// MimeFromFilename resolves a specific mime type from a filename
// extension, or "" when unknown.
func MimeFromFilename(name string) string {
	return mimeByExt[strings.ToLower(filepath.Ext(name))]
}

// extForMime is the inverse mapping used when choosing data-file names.
func extForMime(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "application/zip":
		return ".zip"
	case "application/gzip":
		return ".gz"
	case "application/json":
		return ".json"
	case "text/plain":
		return ".txt"
	case "text/markdown":
		return ".md"
	case "text/html":
		return ".html"
	case "text/csv":
		return ".csv"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/flac":
		return ".flac"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ""
	}
}

// FriendlyTypeName renders a mime type for user-facing fallback text.
func FriendlyTypeName(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "Image (" + strings.TrimPrefix(mime, "image/") + ")"
	case strings.HasPrefix(mime, "audio/"):
		return "Audio (" + strings.TrimPrefix(mime, "audio/") + ")"
	case strings.HasPrefix(mime, "video/"):
		return "Video (" + strings.TrimPrefix(mime, "video/") + ")"
	case mime == "application/pdf":
		return "PDF document"
	case mime == "":
		return "Binary data"
	default:
		return mime
	}
}
