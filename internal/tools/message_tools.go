package tools

import (
	"context"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

// sendMessageTool enqueues a message from the calling agent.
type sendMessageTool struct {
	bus *bus.Bus
}

func (t *sendMessageTool) Name() string  { return "send_message" }
func (t *sendMessageTool) Group() string { return GroupMessaging }
func (t *sendMessageTool) Description() string {
	return "Send a message to another agent or to the user. Attachments reference stored artifacts."
}
func (t *sendMessageTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"to": map[string]any{"type": "string", "description": "Recipient agent id, or 'user'"},
		"payload": objectSchema(map[string]any{
			"text": map[string]any{"type": "string"},
			"quickReplies": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Up to 10 suggested replies, only meaningful when messaging the user",
			},
			"attachments": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"type":        map[string]any{"type": "string"},
					"artifactRef": map[string]any{"type": "string"},
					"filename":    map[string]any{"type": "string"},
				}, "artifactRef"),
			},
		}, "text"),
		"messageType": map[string]any{
			"type": "string",
			"enum": []string{
				string(bus.TypeGeneral), string(bus.TypeTaskAssignment),
				string(bus.TypeIntroductionRequest), string(bus.TypeIntroductionResponse),
				string(bus.TypeCollaborationRequest), string(bus.TypeCollaborationResponse),
				string(bus.TypeStatusReport),
			},
		},
	}, "to", "payload")
}

func (t *sendMessageTool) Execute(ctx context.Context, args map[string]any) *Result {
	to, errRes := stringArg(args, "to")
	if errRes != nil {
		return errRes
	}
	rawPayload, errRes := objectArg(args, "payload")
	if errRes != nil {
		return errRes
	}
	text, errRes := stringArg(rawPayload, "text")
	if errRes != nil {
		return errRes
	}
	quickReplies, err := bus.ValidateQuickReplies(rawPayload["quickReplies"])
	if err != nil {
		return FaultResult(err)
	}
	attachments, attErr := parseAttachments(rawPayload["attachments"])
	if attErr != nil {
		return attErr
	}

	caller, ok := CallerFrom(ctx)
	if !ok {
		return ErrorResult(fault.AccessDenied, "no calling agent bound to this request")
	}
	id, err := t.bus.Send(bus.SendRequest{
		From: caller.AgentID,
		To:   to,
		Payload: bus.Payload{
			Text:         text,
			QuickReplies: quickReplies,
			Attachments:  attachments,
		},
		TaskID: caller.TaskID,
		Type:   bus.MessageType(optionalString(args, "messageType")),
	})
	if err != nil {
		return FaultResult(err)
	}
	return JSONResult(map[string]any{"messageId": id})
}

func parseAttachments(v any) ([]bus.Attachment, *Result) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, ErrorResult(fault.MissingParameter, "attachments must be an array")
	}
	out := make([]bus.Attachment, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, ErrorResult(fault.MissingParameter, "attachments entries must be objects")
		}
		ref, _ := m["artifactRef"].(string)
		if ref == "" {
			return nil, ErrorResult(fault.MissingParameter, "attachment requires artifactRef")
		}
		out = append(out, bus.Attachment{
			Type:        optionalString(m, "type"),
			ArtifactRef: ref,
			Filename:    optionalString(m, "filename"),
		})
	}
	return out, nil
}
