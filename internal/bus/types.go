// Package bus implements per-recipient FIFO message queues with
// scheduled delivery, plus the event hub used to broadcast runtime
// events to WebSocket clients.
package bus

import (
	"time"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

// MessageType tags a payload with a validated schema. Empty means
// "general".
type MessageType string

const (
	TypeGeneral               MessageType = "general"
	TypeTaskAssignment        MessageType = "task_assignment"
	TypeIntroductionRequest   MessageType = "introduction_request"
	TypeIntroductionResponse  MessageType = "introduction_response"
	TypeCollaborationRequest  MessageType = "collaboration_request"
	TypeCollaborationResponse MessageType = "collaboration_response"
	TypeStatusReport          MessageType = "status_report"
)

// Attachment references a stored artifact inside a payload.
type Attachment struct {
	Type        string `json:"type"`
	ArtifactRef string `json:"artifactRef"`
	Filename    string `json:"filename,omitempty"`
}

// Payload is the structured body of a bus message.
type Payload struct {
	Text         string         `json:"text,omitempty"`
	QuickReplies []string       `json:"quickReplies,omitempty"`
	Attachments  []Attachment   `json:"attachments,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"` // type-specific fields
}

// Message is a bus envelope.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Payload   Payload     `json:"payload"`
	TaskID    string      `json:"taskId,omitempty"`
	Type      MessageType `json:"message_type,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	DeliverAt time.Time   `json:"deliverAt,omitempty"`
}

// MaxQuickReplies bounds the quickReplies array.
const MaxQuickReplies = 10

// ValidateQuickReplies checks a raw quickReplies value as it arrives
// from a tool call: it must be an array of at most 10 non-empty
// strings. nil is valid (no quick replies).
func ValidateQuickReplies(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	var items []any
	switch vv := v.(type) {
	case []any:
		items = vv
	case []string:
		items = make([]any, len(vv))
		for i, s := range vv {
			items[i] = s
		}
	default:
		return nil, fault.New(fault.QuickRepliesInvalid, "quickReplies must be an array of strings")
	}
	if len(items) > MaxQuickReplies {
		return nil, fault.New(fault.QuickRepliesTooMany, "quickReplies has %d entries, max %d", len(items), MaxQuickReplies)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fault.New(fault.QuickRepliesInvalid, "quickReplies entries must be strings")
		}
		if s == "" {
			return nil, fault.New(fault.QuickRepliesEmpty, "quickReplies entries must be non-empty")
		}
		out = append(out, s)
	}
	return out, nil
}

// validateTyped checks a payload against its declared message type.
// Every non-general variant requires text; responses additionally
// reference the request they answer via extra.inReplyTo when present.
func validateTyped(typ MessageType, p Payload) error {
	switch typ {
	case "", TypeGeneral:
		return nil
	case TypeTaskAssignment, TypeIntroductionRequest, TypeIntroductionResponse,
		TypeCollaborationRequest, TypeCollaborationResponse, TypeStatusReport:
		if p.Text == "" {
			return fault.New(fault.MissingParameter, "%s payload requires text", typ)
		}
		return nil
	default:
		return fault.New(fault.MissingParameter, "unknown message_type %q", typ)
	}
}
