package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/org"
)

// Processor is the scheduler loop: it scans idle agents with
// deliverable messages and dispatches at most one worker per agent,
// bounded by a global pool.
type Processor struct {
	bus     *bus.Bus
	org     *org.Store
	mgr     *Manager
	handler *Handler
	pool    chan struct{}
	idle    time.Duration
	logger  *slog.Logger
}

// NewProcessor builds the scheduler. maxConcurrent bounds simultaneous
// worker tasks across all agents.
func NewProcessor(b *bus.Bus, store *org.Store, mgr *Manager, handler *Handler, maxConcurrent int, logger *slog.Logger) *Processor {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		bus:     b,
		org:     store,
		mgr:     mgr,
		handler: handler,
		pool:    make(chan struct{}, maxConcurrent),
		idle:    20 * time.Millisecond,
		logger:  logger,
	}
}

// Run drives the loop until ctx is done.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("message processor started", "workers", cap(p.pool))
	for {
		if ctx.Err() != nil {
			p.logger.Info("message processor stopped")
			return
		}
		if !p.dispatchOnce(ctx) {
			select {
			case <-ctx.Done():
			case <-time.After(p.idle):
			}
		}
	}
}

// dispatchOnce scans for runnable agents and dispatches workers while
// pool capacity lasts. It reports whether any work was started.
func (p *Processor) dispatchOnce(ctx context.Context) bool {
	started := false
	for _, a := range p.org.ListAgents() {
		if a.ID == org.UserID || a.Status != org.StatusActive {
			continue
		}
		if !p.bus.HasDeliverable(a.ID) {
			continue
		}
		st := p.mgr.Status(a.ID)
		if st == StatusStopped {
			// A stopped agent is revived by its next message.
			p.mgr.SetStatus(a.ID, StatusIdle)
			st = StatusIdle
		}
		if st != StatusIdle {
			continue
		}
		select {
		case p.pool <- struct{}{}:
		default:
			return started // pool full; try again next pass
		}
		// The idle→processing gate enforces single-in-flight: a second
		// scan sees processing and skips the agent.
		if !p.mgr.SetStatus(a.ID, StatusProcessing) {
			<-p.pool
			continue
		}
		msg := p.bus.ReceiveNext(a.ID)
		if msg == nil {
			p.mgr.SetStatus(a.ID, StatusIdle)
			<-p.pool
			continue
		}
		started = true
		go p.work(ctx, a, msg)
	}
	return started
}

// work delivers one message to the agent's handler and returns the
// agent to idle. Panics are contained here: the agent survives, the
// parent is told.
func (p *Processor) work(ctx context.Context, a *org.Agent, msg *bus.Message) {
	defer func() { <-p.pool }()

	workCtx, done := p.mgr.BeginWork(ctx, a.ID)
	defer done()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("agent handler panicked", "agent", a.ID, "message", msg.ID, "panic", r)
			p.notifyParentOfPanic(a, r)
		}
		// Terminated agents keep their terminal state; stopped agents
		// stay parked until the next message.
		switch p.mgr.Status(a.ID) {
		case StatusProcessing, StatusWaitingLLM:
			p.mgr.SetStatus(a.ID, StatusIdle)
		}
	}()

	if err := p.handler.Handle(workCtx, a, msg); err != nil {
		p.logger.Warn("message processing failed",
			"agent", a.ID, "message", msg.ID, "code", fault.CodeOf(err), "error", err)
	}
}

func (p *Processor) notifyParentOfPanic(a *org.Agent, r any) {
	if a.ParentID == "" {
		return
	}
	p.bus.Send(bus.SendRequest{
		From: a.ID,
		To:   a.ParentID,
		Payload: bus.Payload{
			Text: fmt.Sprintf("Agent %s hit an internal error (%s: %v) and dropped the message it was handling.",
				a.ID, fault.ProcessingFailed, r),
		},
		TaskID: a.TaskID,
		Type:   bus.TypeStatusReport,
	})
}
