// Package fault defines the structured error values surfaced by the
// runtime. Codes are stable identifiers consumed by tools, the gateway,
// and tests; they are part of the public contract.
package fault

import (
	"errors"
	"fmt"
)

// Validation codes.
const (
	MissingParameter       = "missing_parameter"
	InvalidPath            = "invalid_path"
	InvalidTaskBrief       = "invalid_task_brief"
	InvalidRoute           = "invalid_route"
	QuickRepliesTooMany    = "quickReplies_too_many"
	QuickRepliesInvalid    = "quickReplies_invalid_type"
	QuickRepliesEmpty      = "quickReplies_empty_string"
	UnknownRecipient       = "unknown_recipient"
	UnknownTool            = "unknown_tool"
	BlockedCode            = "blocked_code"
)

// Permission codes.
const (
	NotChildAgent        = "not_child_agent"
	PathTraversalBlocked = "path_traversal_blocked"
	AccessDenied         = "access_denied"
)

// Resource codes. The connection codes are reserved for tool modules
// that hold stateful remote connections.
const (
	ArtifactNotFound      = "artifact_not_found"
	FileNotFound          = "file_not_found"
	WorkspaceNotBound     = "workspace_not_bound"
	ConnectionNotFound    = "connection_not_found"
	MaxConnectionsReached = "max_connections_reached"
)

// External codes.
const (
	LLMCallFailed        = "llm_call_failed"
	LLMCallAborted       = "llm_call_aborted"
	ContextLimitExceeded = "context_limit_exceeded"
	NetworkError         = "network_error"
	APIError             = "api_error"
	LocalLLMNotReady     = "localllm_not_ready"
)

// Control and fatal codes.
const (
	MaxToolRoundsExceeded = "max_tool_rounds_exceeded"
	AlreadyStopped        = "already_stopped"
	ProcessingFailed      = "agent_message_processing_failed"
)

// Error is a structured runtime error with a stable code.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with a code and formatted message.
func New(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// CodeOf extracts the stable code from an error, or "" when it carries
// none.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool { return CodeOf(err) == code }
