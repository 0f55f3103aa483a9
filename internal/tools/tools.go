// Package tools declares the tool catalogue exposed to agents and
// dispatches assistant tool calls against it.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

// Result is what a tool hands back to the conversation. ForLLM is the
// serialized body appended as the tool turn; IsError marks structured
// failures so callers can log them. ArtifactRefs lists any artifacts
// the tool produced as a side effect.
type Result struct {
	ForLLM       string
	IsError      bool
	ArtifactRefs []string
}

// TextResult wraps plain text.
func TextResult(text string) *Result {
	return &Result{ForLLM: text}
}

// JSONResult serializes a structured success value.
func JSONResult(v any) *Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(fault.ProcessingFailed, "serialize result: %v", err)
	}
	return &Result{ForLLM: string(raw)}
}

// ErrorResult builds the structured error body every failing tool
// returns. Errors never propagate to the dispatch layer as Go errors
// unless they are internal faults.
func ErrorResult(code string, format string, args ...any) *Result {
	body, _ := json.Marshal(map[string]string{
		"error":   code,
		"message": fmt.Sprintf(format, args...),
	})
	return &Result{ForLLM: string(body), IsError: true}
}

// FaultResult converts a fault error into a structured tool error.
func FaultResult(err error) *Result {
	code := fault.CodeOf(err)
	if code == "" {
		code = fault.ProcessingFailed
	}
	msg := err.Error()
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Message != "" {
		msg = fe.Message
	}
	return ErrorResult(code, "%s", msg)
}

// Tool is one callable catalogue entry.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Group() string
	Execute(ctx context.Context, args map[string]any) *Result
}

// Caller identifies the agent making a tool call; it travels on the
// context so tools can enforce permissions.
type Caller struct {
	AgentID string
	TaskID  string
	RoleID  string
}

type callerKey struct{}

// WithCaller binds the calling agent to the context.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom extracts the calling agent, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// argument extraction helpers; missing or mistyped values surface as
// missing_parameter per the dispatch contract.

func stringArg(args map[string]any, key string) (string, *Result) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", ErrorResult(fault.MissingParameter, "missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", ErrorResult(fault.MissingParameter, "parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func objectArg(args map[string]any, key string) (map[string]any, *Result) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, ErrorResult(fault.MissingParameter, "missing required parameter %q", key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrorResult(fault.MissingParameter, "parameter %q must be an object", key)
	}
	return m, nil
}

func stringList(v any) ([]string, bool) {
	switch vv := v.(type) {
	case nil:
		return nil, true
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, it := range vv {
			s, ok := it.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
