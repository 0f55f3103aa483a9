// Package schedule delivers configured recurring messages through the
// bus on cron expressions.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/pkg/protocol"
)

// Runner evaluates cron schedules once per minute and enqueues the
// matching messages as if the user had sent them.
type Runner struct {
	bus       *bus.Bus
	events    bus.EventPublisher
	schedules []config.ScheduleConfig
	cron      *gronx.Gronx
	logger    *slog.Logger
	tick      time.Duration
}

// NewRunner validates the configured expressions and drops invalid
// ones with a logged error.
func NewRunner(b *bus.Bus, events bus.EventPublisher, schedules []config.ScheduleConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	cron := gronx.New()
	valid := make([]config.ScheduleConfig, 0, len(schedules))
	for _, s := range schedules {
		if !cron.IsValid(s.Cron) {
			logger.Error("invalid cron expression dropped", "cron", s.Cron, "to", s.To)
			continue
		}
		if s.To == "" || s.Text == "" {
			logger.Error("schedule requires to and text", "cron", s.Cron)
			continue
		}
		valid = append(valid, s)
	}
	return &Runner{
		bus:       b,
		events:    events,
		schedules: valid,
		cron:      cron,
		logger:    logger,
		tick:      time.Minute,
	}
}

// Run fires due schedules until ctx is done. Ticks align to minute
// boundaries so an expression fires at most once per minute.
func (r *Runner) Run(ctx context.Context) {
	if len(r.schedules) == 0 {
		return
	}
	r.logger.Info("schedule runner started", "schedules", len(r.schedules))

	// Align the first tick to the next minute boundary.
	now := time.Now()
	first := now.Truncate(r.tick).Add(r.tick)
	timer := time.NewTimer(first.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case at := <-timer.C:
			r.fireDue(at)
			timer.Reset(r.tick)
		}
	}
}

func (r *Runner) fireDue(at time.Time) {
	for _, s := range r.schedules {
		due, err := r.cron.IsDue(s.Cron, at)
		if err != nil || !due {
			continue
		}
		id, err := r.bus.Send(bus.SendRequest{
			From:    bus.UserID,
			To:      s.To,
			Payload: bus.Payload{Text: s.Text},
		})
		if err != nil {
			r.logger.Warn("scheduled message not delivered", "cron", s.Cron, "to", s.To, "error", err)
			continue
		}
		r.logger.Info("scheduled message fired", "cron", s.Cron, "to", s.To, "message", id)
		if r.events != nil {
			r.events.Broadcast(bus.Event{Name: protocol.EventSchedule, Payload: map[string]any{
				"cron": s.Cron, "to": s.To, "messageId": id,
			}})
		}
	}
}
