// Package progress provides the per-run status event bus.
//
// Agents publish status updates while they work; the streaming runner (and
// any other observer) subscribes to forward them to the client. The bus is a
// request-scoped value, not a process global, so concurrent runs never see
// each other's events.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Update is one status event emitted by an agent.
type Update struct {
	Agent     string    `json:"agent"`
	Ticker    string    `json:"ticker,omitempty"`
	Status    string    `json:"status"`
	Analysis  string    `json:"analysis,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives updates. Handlers must not block: dispatch happens
// synchronously on the producer's goroutine.
type Handler func(Update)

// Bus fans out agent status updates to registered handlers.
//
// Events from a single producer goroutine reach every handler in emission
// order. Cross-producer ordering is best-effort. A panicking handler is
// recovered and never affects its peers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	log      zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[int]Handler),
		log:      log.With().Str("component", "progress").Logger(),
	}
}

// Register subscribes a handler and returns its registration id.
func (b *Bus) Register(h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return id
}

// Unregister removes a handler. After Unregister returns, at most one
// in-flight dispatch (started before the call) may still reach the handler.
func (b *Bus) Unregister(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// UpdateStatus emits a status event to all registered handlers.
func (b *Bus) UpdateStatus(agent, ticker, status, analysis string) {
	update := Update{
		Agent:     agent,
		Ticker:    ticker,
		Status:    status,
		Analysis:  analysis,
		Timestamp: time.Now().UTC(),
	}

	// Snapshot under the read lock so a handler can unregister itself (or
	// others) without deadlocking.
	b.mu.RLock()
	snapshot := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		b.dispatch(h, update)
	}
}

func (b *Bus) dispatch(h Handler, update Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("agent", update.Agent).
				Msg("Progress handler panicked")
		}
	}()
	h(update)
}
