// Package agent drives live agent instances: lifecycle, the scheduler
// loop, and the per-message LLM interaction.
package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/conversation"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/llm"
	"github.com/nextlevelbuilder/hivemind/internal/org"
	"github.com/nextlevelbuilder/hivemind/internal/tools"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
	"github.com/nextlevelbuilder/hivemind/pkg/protocol"
)

// Compute status values. Distinct from the persistent lifecycle status
// in the org store: compute status tracks what the live instance is
// doing right now.
const (
	StatusIdle        = "idle"
	StatusProcessing  = "processing"
	StatusWaitingLLM  = "waiting_llm"
	StatusStopping    = "stopping"
	StatusStopped     = "stopped"
	StatusTerminating = "terminating"
)

// legalTransitions is the compute-status state machine. Illegal
// transitions are ignored with a warning rather than failing the
// caller.
var legalTransitions = map[string][]string{
	StatusIdle:       {StatusProcessing, StatusTerminating},
	StatusProcessing: {StatusWaitingLLM, StatusIdle, StatusStopping, StatusTerminating},
	StatusWaitingLLM: {StatusProcessing, StatusStopping, StatusTerminating},
	StatusStopping:   {StatusStopped, StatusTerminating},
	StatusStopped:    {StatusIdle, StatusTerminating},
}

// Manager owns the live agent registry: compute statuses, in-flight
// cancellation, spawn and terminate. It implements tools.Spawner and
// tools.Terminator.
type Manager struct {
	mu      sync.Mutex
	status  map[string]string
	cancels map[string]context.CancelFunc

	org    *org.Store
	bus    *bus.Bus
	conv   *conversation.Manager
	ws     *workspace.Manager
	llm    *llm.Client
	events bus.EventPublisher
	namer  *namer
	logger *slog.Logger
}

// NewManager wires the lifecycle manager. events may be nil.
func NewManager(store *org.Store, b *bus.Bus, conv *conversation.Manager, ws *workspace.Manager, client *llm.Client, events bus.EventPublisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		status:  make(map[string]string),
		cancels: make(map[string]context.CancelFunc),
		org:     store,
		bus:     b,
		conv:    conv,
		ws:      ws,
		llm:     client,
		events:  events,
		namer:   newNamer(client, logger),
		logger:  logger,
	}
}

// Status returns the compute status, defaulting to idle for agents the
// manager has not touched yet.
func (m *Manager) Status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.status[id]; ok {
		return s
	}
	return StatusIdle
}

// SetStatus applies a transition, ignoring illegal ones with a warning.
// It reports whether the transition was applied.
func (m *Manager) SetStatus(id, next string) bool {
	m.mu.Lock()
	cur, ok := m.status[id]
	if !ok {
		cur = StatusIdle
	}
	if !transitionAllowed(cur, next) {
		m.mu.Unlock()
		m.logger.Warn("illegal status transition ignored", "agent", id, "from", cur, "to", next)
		return false
	}
	m.status[id] = next
	m.mu.Unlock()

	m.emit(protocol.EventAgentStatus, protocol.AgentStatusPayload{AgentID: id, Status: next})
	return true
}

func transitionAllowed(cur, next string) bool {
	if cur == next {
		return true
	}
	for _, allowed := range legalTransitions[cur] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BeginWork registers a cancellable context for one processing run.
// The returned context is cancelled by AbortLlmCall and Terminate.
func (m *Manager) BeginWork(ctx context.Context, id string) (context.Context, context.CancelFunc) {
	workCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()
	return workCtx, func() {
		cancel()
		m.mu.Lock()
		if m.cancels[id] != nil {
			delete(m.cancels, id)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) cancelWork(id string) {
	m.mu.Lock()
	cancel := m.cancels[id]
	delete(m.cancels, id)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SpawnWithTask creates a child agent bound to a task brief, names it,
// allocates a workspace when the parent is root, registers it on the
// bus, and delivers the initial message as a task assignment.
func (m *Manager) SpawnWithTask(ctx context.Context, parentID string, req tools.SpawnRequest) (*org.Agent, error) {
	role := m.org.GetRole(req.RoleID)
	if role == nil {
		return nil, fault.New(fault.MissingParameter, "role %q does not exist", req.RoleID)
	}
	parent := m.org.GetAgent(parentID)
	if parent == nil {
		return nil, fault.New(fault.UnknownRecipient, "parent agent %q does not exist", parentID)
	}

	// Root's direct children start a fresh task; everyone else works
	// inside the parent's task.
	taskID := parent.TaskID
	if parentID == org.RootID {
		taskID = uuid.NewString()
	}

	child, err := m.org.CreateAgent(org.CreateAgentRequest{
		RoleID:    req.RoleID,
		ParentID:  parentID,
		TaskID:    taskID,
		TaskBrief: &req.TaskBrief,
	})
	if err != nil {
		return nil, fault.Wrap(fault.ProcessingFailed, err)
	}

	name := m.namer.Generate(ctx, child.ID, role.Name, req.TaskBrief.Objective)
	if err := m.org.SetAgentName(child.ID, name); err == nil {
		child.Name = name
	}

	if parentID == org.RootID {
		if _, err := m.ws.CreateWorkspace(taskID); err != nil {
			m.logger.Warn("workspace allocation failed", "task", taskID, "error", err)
		}
	}

	m.bus.RegisterRecipient(child.ID)
	if _, svc, ok := m.llm.Resolve(role.PreferredService); ok && svc.ContextWindow > 0 {
		m.conv.SetLimit(child.ID, svc.ContextWindow)
	}
	m.mu.Lock()
	m.status[child.ID] = StatusIdle
	m.mu.Unlock()

	m.emit(protocol.EventAgentSpawned, map[string]any{
		"agentId": child.ID, "name": child.Name, "roleId": role.ID, "parentId": parentID, "taskId": taskID,
	})
	m.logger.Info("agent spawned",
		"agent", child.ID, "name", child.Name, "role", role.Name, "parent", parentID, "task", taskID)

	if req.InitialMessage != "" {
		if _, err := m.bus.Send(bus.SendRequest{
			From:    parentID,
			To:      child.ID,
			Payload: bus.Payload{Text: req.InitialMessage},
			TaskID:  taskID,
			Type:    bus.TypeTaskAssignment,
		}); err != nil {
			m.logger.Warn("initial message not delivered", "agent", child.ID, "error", err)
		}
	}
	return child, nil
}

// Terminate tears down target and its whole subtree, deepest first.
// The caller must be a proper ancestor of the target. Conversations are
// retained for audit; queues and live state are removed.
func (m *Manager) Terminate(ctx context.Context, callerID, targetID, reason string) ([]string, error) {
	target := m.org.GetAgent(targetID)
	if target == nil || target.Status != org.StatusActive {
		return nil, fault.New(fault.UnknownRecipient, "agent %q does not exist or is already terminated", targetID)
	}
	if !m.isAncestor(callerID, targetID) {
		return nil, fault.New(fault.NotChildAgent, "agent %q is not a descendant of %q", targetID, callerID)
	}

	// Post-order: grandchildren before children before the target, so
	// no terminated agent ever has a live descendant.
	victims := append(m.org.Descendants(targetID), target)

	terminated := make([]string, 0, len(victims))
	for _, v := range victims {
		m.mu.Lock()
		m.status[v.ID] = StatusTerminating
		m.mu.Unlock()
		m.emit(protocol.EventAgentStatus, protocol.AgentStatusPayload{AgentID: v.ID, Status: StatusTerminating})

		m.cancelWork(v.ID)
		dropped := m.bus.AbortPending(v.ID)
		m.bus.UnregisterRecipient(v.ID)
		if err := m.org.MarkTerminated(v.ID, reason, callerID); err != nil {
			m.logger.Error("terminate persist failed", "agent", v.ID, "error", err)
		}
		m.conv.Snapshot(v.ID)

		m.mu.Lock()
		delete(m.status, v.ID)
		m.mu.Unlock()

		m.emit(protocol.EventTerminated, map[string]any{
			"agentId": v.ID, "reason": reason, "by": callerID, "droppedMessages": dropped,
		})
		m.logger.Info("agent terminated", "agent", v.ID, "by", callerID, "reason", reason)
		terminated = append(terminated, v.ID)
	}
	return terminated, nil
}

// AbortLlmCall stops the agent's current run: cancels the in-flight
// LLM call or tool, drops pending inbox messages, and parks the agent
// in stopped. With cascade, descendants are aborted too.
func (m *Manager) AbortLlmCall(id string, cascade bool) error {
	a := m.org.GetAgent(id)
	if a == nil || a.Status != org.StatusActive {
		return fault.New(fault.UnknownRecipient, "agent %q does not exist", id)
	}

	targets := []*org.Agent{a}
	if cascade {
		targets = append(targets, m.org.Descendants(id)...)
	}

	aborted := false
	for _, t := range targets {
		cur := m.Status(t.ID)
		if cur != StatusProcessing && cur != StatusWaitingLLM {
			m.bus.AbortPending(t.ID)
			continue
		}
		m.SetStatus(t.ID, StatusStopping)
		m.cancelWork(t.ID)
		m.bus.AbortPending(t.ID)
		m.SetStatus(t.ID, StatusStopped)
		m.emit(protocol.EventAgentHalted, protocol.AgentStatusPayload{AgentID: t.ID, Status: StatusStopped})
		m.logger.Info("agent aborted", "agent", t.ID, "cascade", cascade)
		aborted = true
	}
	if !aborted {
		return fault.New(fault.AlreadyStopped, "agent %q has no run in flight", id)
	}
	return nil
}

// isAncestor reports whether ancestorID appears on targetID's parent
// chain. An agent is not its own ancestor.
func (m *Manager) isAncestor(ancestorID, targetID string) bool {
	cur := m.org.GetAgent(targetID)
	for cur != nil && cur.ParentID != "" {
		if cur.ParentID == ancestorID {
			return true
		}
		cur = m.org.GetAgent(cur.ParentID)
	}
	return false
}

func (m *Manager) emit(name string, payload any) {
	if m.events != nil {
		m.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}
