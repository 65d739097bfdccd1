package engine

import (
	"log/slog"
	"sync"
)

// State is the orchestrator's externally-visible state.
type State string

// Orchestrator states.
const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
	StateOffline State = "offline"
)

// Progress reports per-record advancement through a sync pass.
type Progress struct {
	Completed int
	Total     int
	Current   string // local id of the record just processed
}

// Event is one item on the engine's status stream: a state transition, a
// progress tick, or both.
type Event struct {
	State    State
	Progress *Progress // nil for pure state transitions
}

// subscriberBufSize bounds each subscriber channel. Slow subscribers drop
// events rather than block the orchestrator.
const subscriberBufSize = 64

// broadcaster fans events out to subscriber channels without ever blocking
// the sender. Subscribers that fall behind lose events; the stream is a UI
// feed, not a durable log.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. Unsubscribing closes the channel.
func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, subscriberBufSize)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// publish delivers an event to every subscriber, dropping on full buffers.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropping event for slow subscriber", slog.Int("subscriber", id))
		}
	}
}
