package store

import (
	"context"
	"log/slog"
	"sync"

	"ticket-backoffice/models"
)

// changeHub fans out "tickets of this event changed" signals to subscribers.
// Signals coalesce: a subscriber that is busy reloading sees at most one
// pending signal, which is enough because every reload reads a full snapshot.
type changeHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan struct{}
}

func newChangeHub() *changeHub {
	return &changeHub{subs: make(map[string]map[int]chan struct{})}
}

func (h *changeHub) subscribe(eventID string) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan struct{}, 1)
	id := h.nextID
	h.nextID++
	if h.subs[eventID] == nil {
		h.subs[eventID] = make(map[int]chan struct{})
	}
	h.subs[eventID][id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[eventID], id)
		if len(h.subs[eventID]) == 0 {
			delete(h.subs, eventID)
		}
	}
}

func (h *changeHub) notify(eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[eventID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// notifyAll signals every subscriber, for changes whose event is unknown.
func (h *changeHub) notifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for _, ch := range subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (h *changeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

type snapshotLoader func(ctx context.Context) ([]models.Ticket, error)

// runSubscription delivers an initial snapshot and one per change signal
// until ctx is done, then closes out.
func runSubscription(ctx context.Context, eventID string, signals <-chan struct{}, unsubscribe func(), load snapshotLoader, out chan<- TicketSnapshot) {
	defer close(out)
	defer unsubscribe()

	deliver := func() bool {
		tickets, err := load(ctx)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			slog.Warn("ticket snapshot load failed", "eventID", eventID, "error", err)
		}
		select {
		case out <- TicketSnapshot{Tickets: tickets, Err: err}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !deliver() {
		return
	}
	for {
		select {
		case <-signals:
			if !deliver() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
