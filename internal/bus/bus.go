package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

// UserID and RootID are the reserved sentinel agents.
const (
	UserID = "user"
	RootID = "root"
)

// Recorder receives a copy of every accepted message, for audit.
type Recorder interface {
	Record(msg *Message)
}

// Bus holds one unbounded FIFO queue per registered recipient.
type Bus struct {
	mu       sync.Mutex
	queues   map[string][]*Message
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an empty bus. recorder may be nil.
func New(recorder Recorder, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queues:   make(map[string][]*Message),
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// SendRequest is the input to Send.
type SendRequest struct {
	From      string
	To        string
	Payload   Payload
	TaskID    string
	Type      MessageType
	DeliverAt time.Time
}

// Send validates and enqueues a message, returning its id.
//
// Failure modes are structured errors, not panics: unknown_recipient
// when `to` is not registered, invalid_route for a user→user loop.
func (b *Bus) Send(req SendRequest) (string, error) {
	if req.To == "" {
		return "", fault.New(fault.MissingParameter, "recipient is required")
	}
	if req.From == UserID && req.To == UserID {
		return "", fault.New(fault.InvalidRoute, "user may not message itself")
	}
	if err := validateTyped(req.Type, req.Payload); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[req.To]; !ok {
		return "", fault.New(fault.UnknownRecipient, "recipient %q is not registered", req.To)
	}

	now := b.now().UTC()
	msg := &Message{
		ID:        uuid.NewString(),
		From:      req.From,
		To:        req.To,
		Payload:   req.Payload,
		TaskID:    req.TaskID,
		Type:      req.Type,
		CreatedAt: now,
		DeliverAt: req.DeliverAt,
	}
	// deliverAt in the past (or unset) means deliverable immediately.
	if msg.DeliverAt.Before(now) {
		msg.DeliverAt = now
	}

	b.queues[req.To] = append(b.queues[req.To], msg)
	if b.recorder != nil {
		b.recorder.Record(msg)
	}
	b.logger.Debug("message enqueued", "id", msg.ID, "from", msg.From, "to", msg.To, "type", msg.Type)
	return msg.ID, nil
}

// ReceiveNext pops the oldest deliverable message for a recipient, or
// nil when the queue is empty or its head is still scheduled. A delayed
// head hides the whole queue until its time (strict FIFO).
func (b *Bus) ReceiveNext(recipientID string) *Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[recipientID]
	if len(q) == 0 {
		return nil
	}
	head := q[0]
	if head.DeliverAt.After(b.now().UTC()) {
		return nil
	}
	b.queues[recipientID] = q[1:]
	return head
}

// PeekQueueDepth returns the number of pending messages, delayed ones
// included.
func (b *Bus) PeekQueueDepth(recipientID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[recipientID])
}

// HasDeliverable reports whether the recipient has a deliverable head.
func (b *Bus) HasDeliverable(recipientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[recipientID]
	return len(q) > 0 && !q[0].DeliverAt.After(b.now().UTC())
}

// AbortPending drops all pending messages for a recipient. Used during
// termination and abort.
func (b *Bus) AbortPending(recipientID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queues[recipientID])
	if _, ok := b.queues[recipientID]; ok {
		b.queues[recipientID] = nil
	}
	if n > 0 {
		b.logger.Debug("pending messages dropped", "recipient", recipientID, "count", n)
	}
	return n
}

// RegisterRecipient creates the queue for an id. Registering twice is
// a no-op and preserves pending messages.
func (b *Bus) RegisterRecipient(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[id]; !ok {
		b.queues[id] = nil
	}
}

// UnregisterRecipient removes the queue and everything pending on it.
// Subsequent sends to the id fail with unknown_recipient.
func (b *Bus) UnregisterRecipient(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, id)
}

// Registered reports whether the id currently has a queue.
func (b *Bus) Registered(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[id]
	return ok
}

// Recipients returns the currently registered ids.
func (b *Bus) Recipients() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.queues))
	for id := range b.queues {
		out = append(out, id)
	}
	return out
}
