package bus

import "sync"

// Event is a server-side event broadcast to subscribers (WS clients,
// the schedule runner, tests).
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles one broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription so components
// do not depend on the concrete hub.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// EventHub fans events out to all subscribers. Handlers run on the
// broadcaster's goroutine and must not block.
type EventHub struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{handlers: make(map[string]EventHandler)}
}

func (h *EventHub) Subscribe(id string, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[id] = handler
}

func (h *EventHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, id)
}

func (h *EventHub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, handler := range h.handlers {
		handler(event)
	}
}
