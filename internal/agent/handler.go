package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/content"
	"github.com/nextlevelbuilder/hivemind/internal/conversation"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/llm"
	"github.com/nextlevelbuilder/hivemind/internal/org"
	"github.com/nextlevelbuilder/hivemind/internal/tools"
	"github.com/nextlevelbuilder/hivemind/pkg/protocol"
)

// Handler runs the per-message interaction loop: build context, call
// the model, dispatch tool calls, iterate until the model answers with
// plain content or the round budget runs out.
type Handler struct {
	mgr      *Manager
	conv     *conversation.Manager
	client   *llm.Client
	registry *tools.Registry
	builder  *ContextBuilder
	router   *content.Router
	org      *org.Store
	bus      *bus.Bus
	events   bus.EventPublisher

	maxToolRounds int
	logger        *slog.Logger
}

// NewHandler wires the interaction loop.
func NewHandler(mgr *Manager, conv *conversation.Manager, client *llm.Client, registry *tools.Registry, builder *ContextBuilder, router *content.Router, store *org.Store, b *bus.Bus, events bus.EventPublisher, maxToolRounds int, logger *slog.Logger) *Handler {
	if maxToolRounds <= 0 {
		maxToolRounds = 24
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		mgr:           mgr,
		conv:          conv,
		client:        client,
		registry:      registry,
		builder:       builder,
		router:        router,
		org:           store,
		bus:           b,
		events:        events,
		maxToolRounds: maxToolRounds,
		logger:        logger,
	}
}

// Handle processes exactly one inbound message for agent a. The caller
// has already moved the agent to processing; Handle manages the
// processing/waiting_llm transitions in between.
func (h *Handler) Handle(ctx context.Context, a *org.Agent, msg *bus.Message) error {
	role := h.org.GetRole(a.RoleID)
	serviceID := ""
	var toolGroups []string
	if role != nil {
		serviceID = role.PreferredService
		toolGroups = role.ToolGroups
	}
	resolvedID, svc, ok := h.client.Resolve(serviceID)
	if !ok {
		return fault.New(fault.LLMCallFailed, "no LLM service configured")
	}
	if svc.ContextWindow > 0 {
		h.conv.SetLimit(a.ID, svc.ContextWindow)
	}

	h.appendInbound(a.ID, msg, svc.Capabilities)
	h.org.TouchAgent(a.ID)
	h.emit(protocol.EventRunStarted, protocol.RunPayload{AgentID: a.ID, MessageID: msg.ID})

	ctx = tools.WithCaller(ctx, tools.Caller{AgentID: a.ID, TaskID: a.TaskID, RoleID: a.RoleID})
	defs := h.registry.Definitions(toolGroups)

	for round := 0; ; round++ {
		if round >= h.maxToolRounds {
			h.logger.Warn("tool round budget exhausted", "agent", a.ID, "rounds", round)
			h.notifyParent(a, fmt.Sprintf(
				"Agent %s stopped after %d tool rounds without finishing (max_tool_rounds_exceeded).",
				a.ID, round))
			h.emit(protocol.EventRunFailed, protocol.RunPayload{
				AgentID: a.ID, MessageID: msg.ID, Error: fault.MaxToolRoundsExceeded,
			})
			return fault.New(fault.MaxToolRoundsExceeded, "agent %s exceeded %d tool rounds", a.ID, h.maxToolRounds)
		}

		if err := h.conv.MaybeCompress(ctx, a.ID); err != nil {
			h.logger.Warn("compression failed", "agent", a.ID, "error", err)
		}
		system := llm.Message{Role: "system", Content: h.builder.BuildSystemPrompt(a)}
		messages := append([]llm.Message{system}, h.conv.GetMessages(a.ID)...)

		h.mgr.SetStatus(a.ID, StatusWaitingLLM)
		resp, err := h.client.Chat(ctx, llm.ChatRequest{
			ServiceID: resolvedID,
			AgentID:   a.ID,
			Messages:  messages,
			Tools:     defs,
		})
		if err != nil {
			// Nothing from this round is committed; the history stays
			// consistent at the previous turn boundary. On abort the
			// manager already parked the agent in stopping/stopped, so
			// the status is left alone.
			if !fault.Is(err, fault.LLMCallAborted) {
				h.mgr.SetStatus(a.ID, StatusProcessing)
				h.notifyParent(a, fmt.Sprintf("Agent %s failed to process a message: %v", a.ID, err))
			}
			h.emit(protocol.EventRunFailed, protocol.RunPayload{AgentID: a.ID, MessageID: msg.ID, Error: err.Error()})
			return err
		}
		h.mgr.SetStatus(a.ID, StatusProcessing)

		if len(resp.Message.ToolCalls) == 0 {
			h.conv.AppendAssistant(a.ID, resp.Message.Content, nil)
			h.emit(protocol.EventRunCompleted, protocol.RunPayload{AgentID: a.ID, MessageID: msg.ID})
			return nil
		}

		// The assistant turn is committed first; every tool call then
		// gets a result turn, aborted ones included, so tool pairings
		// stay intact.
		h.conv.AppendAssistant(a.ID, resp.Message.Content, resp.Message.ToolCalls)
		var aborted error
		for _, call := range resp.Message.ToolCalls {
			var res *tools.Result
			if aborted != nil {
				res = tools.ErrorResult(fault.LLMCallAborted, "skipped: agent run was aborted")
			} else if err := ctx.Err(); err != nil {
				aborted = err
				res = tools.ErrorResult(fault.LLMCallAborted, "skipped: agent run was aborted")
			} else {
				h.emit(protocol.EventToolCall, protocol.ToolEventPayload{AgentID: a.ID, Name: call.Name, CallID: call.ID})
				res = h.registry.Execute(ctx, call, toolGroups)
				h.emit(protocol.EventToolResult, protocol.ToolEventPayload{
					AgentID: a.ID, Name: call.Name, CallID: call.ID, IsError: res.IsError,
				})
			}
			h.conv.AppendToolResult(a.ID, call.ID, call.Name, res.ForLLM)
		}
		if aborted != nil {
			err := fault.Wrap(fault.LLMCallAborted, aborted)
			h.emit(protocol.EventRunFailed, protocol.RunPayload{AgentID: a.ID, MessageID: msg.ID, Error: err.Error()})
			return err
		}
	}
}

// appendInbound records the inbound message as a user turn, expanding
// attachments into content parts for the agent's service.
func (h *Handler) appendInbound(agentID string, msg *bus.Message, caps config.Capabilities) {
	text := fmt.Sprintf("[Message from %s]", msg.From)
	if msg.Type != "" && msg.Type != bus.TypeGeneral {
		text = fmt.Sprintf("[%s from %s]", msg.Type, msg.From)
	}
	text += "\n" + msg.Payload.Text

	if len(msg.Payload.Attachments) == 0 {
		h.conv.AppendUser(agentID, text)
		return
	}
	parts := h.router.Expand(text, msg.Payload.Attachments, caps)
	h.conv.AppendUserParts(agentID, parts)
}

// notifyParent sends a best-effort status report up the tree. Errors
// are logged, not propagated; the parent may already be gone.
func (h *Handler) notifyParent(a *org.Agent, text string) {
	if a.ParentID == "" {
		return
	}
	if _, err := h.bus.Send(bus.SendRequest{
		From:    a.ID,
		To:      a.ParentID,
		Payload: bus.Payload{Text: text},
		TaskID:  a.TaskID,
		Type:    bus.TypeStatusReport,
	}); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("parent notification failed", "agent", a.ID, "parent", a.ParentID, "error", err)
	}
}

func (h *Handler) emit(name string, payload any) {
	if h.events != nil {
		h.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}
