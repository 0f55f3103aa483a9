package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/pkg/protocol"
)

// Client calls chat completion endpoints selected by service id.
//
// A single weighted semaphore caps concurrency across all services
// with FIFO admission; each service may additionally carry an RPM
// limiter.
type Client struct {
	cfg      config.ServicesConfig
	httpc    *http.Client
	sem      *semaphore.Weighted
	limiters map[string]*rate.Limiter
	events   bus.EventPublisher
	logger   *slog.Logger
}

// NewClient builds a client from the services config. events may be
// nil; retry/failure events are then dropped.
func NewClient(cfg config.ServicesConfig, concurrency int, events bus.EventPublisher, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	limiters := make(map[string]*rate.Limiter)
	for id, svc := range cfg.Endpoints {
		if svc.RPM > 0 {
			limiters[id] = rate.NewLimiter(rate.Limit(float64(svc.RPM)/60.0), 1)
		}
	}
	return &Client{
		cfg:      cfg,
		httpc:    &http.Client{},
		sem:      semaphore.NewWeighted(int64(concurrency)),
		limiters: limiters,
		events:   events,
		logger:   logger,
	}
}

// Resolve maps a service id (possibly empty) to its config. Unknown
// ids fall back to the default service.
func (c *Client) Resolve(serviceID string) (string, config.ServiceConfig, bool) {
	if serviceID == "" {
		serviceID = c.cfg.Default
	}
	svc, ok := c.cfg.Endpoints[serviceID]
	if !ok && serviceID != c.cfg.Default {
		serviceID = c.cfg.Default
		svc, ok = c.cfg.Endpoints[serviceID]
	}
	return serviceID, svc, ok
}

// NamingServiceID returns the service used for short naming calls.
func (c *Client) NamingServiceID() string {
	if c.cfg.Naming != "" {
		return c.cfg.Naming
	}
	return c.cfg.Default
}

// Chat performs one tool-calling chat completion with retry and the
// global concurrency cap. Cancelling ctx aborts the in-flight HTTP
// request and surfaces llm_call_aborted.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	serviceID, svc, ok := c.Resolve(req.ServiceID)
	if !ok {
		return nil, fault.New(fault.LLMCallFailed, "no LLM service configured")
	}

	tracer := otel.Tracer("hivemind/llm")
	ctx, span := tracer.Start(ctx, "llm.chat")
	span.SetAttributes(
		attribute.String("llm.service", serviceID),
		attribute.String("llm.model", svc.Model),
		attribute.Int("llm.messages", len(req.Messages)),
	)
	defer span.End()

	if lim := c.limiters[serviceID]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, c.abortOr(err, serviceID, req.AgentID)
		}
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, c.abortOr(err, serviceID, req.AgentID)
	}
	defer c.sem.Release(1)

	retryCfg := DefaultRetryConfig()
	if svc.MaxAttempts > 0 {
		retryCfg.MaxAttempts = svc.MaxAttempts
	}
	if svc.AttemptTimeout > 0 {
		retryCfg.AttemptTimeout = time.Duration(svc.AttemptTimeout) * time.Second
	}

	start := time.Now()
	resp, err := RetryDo(ctx, retryCfg, func(attemptCtx context.Context) (*ChatResponse, error) {
		return c.doChat(attemptCtx, svc, req)
	}, func(attempt int, attemptErr error, delay time.Duration) {
		c.logger.Warn("llm retry scheduled",
			"service", serviceID, "agent", req.AgentID,
			"attempt", attempt, "delay", delay, "error", attemptErr)
		c.emit(protocol.EventLLMRetry, protocol.LLMRetryPayload{
			AgentID: req.AgentID, Service: serviceID, Attempt: attempt, Error: attemptErr.Error(),
		})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		final := c.classify(err, serviceID, req.AgentID)
		if !fault.Is(final, fault.LLMCallAborted) {
			c.emit(protocol.EventLLMFailed, protocol.LLMRetryPayload{
				AgentID: req.AgentID, Service: serviceID, Attempt: retryCfg.MaxAttempts, Error: err.Error(),
			})
		}
		return nil, final
	}

	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("llm.tokens.total", resp.Usage.TotalTokens))
	}
	c.logger.Debug("llm call completed",
		"service", serviceID, "agent", req.AgentID,
		"duration", time.Since(start), "finish", resp.FinishReason,
		"tool_calls", len(resp.Message.ToolCalls))
	return resp, nil
}

// classify folds a raw error into the stable external-error taxonomy.
func (c *Client) classify(err error, serviceID, agentID string) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fault.Wrap(fault.LLMCallAborted, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fault.Wrap(fault.NetworkError, err)
	}
	var he *HTTPError
	if errors.As(err, &he) {
		if he.Status >= 400 && he.Status < 500 && he.Status != http.StatusTooManyRequests {
			return fault.Wrap(fault.APIError, err)
		}
		return fault.Wrap(fault.LLMCallFailed, err)
	}
	return fault.Wrap(fault.NetworkError, err)
}

func (c *Client) abortOr(err error, serviceID, agentID string) error {
	if errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.LLMCallAborted, err)
	}
	return fault.Wrap(fault.LLMCallFailed, err)
}

func (c *Client) emit(name string, payload any) {
	if c.events != nil {
		c.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}
