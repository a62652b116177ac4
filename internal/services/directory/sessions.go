package directory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/internal/store"
	"ticket-backoffice/monitoring"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type session struct {
	dir      *Directory
	lastSeen time.Time
}

// Sessions keeps server-side directories for remote operators. Sessions not
// touched for the idle TTL are closed by Run.
type Sessions struct {
	tickets  store.TicketStore
	resolver *Resolver
	pageSize int
	idle     time.Duration
	clock    clockwork.Clock

	mu    sync.Mutex
	items map[string]*session
}

func NewSessions(tickets store.TicketStore, resolver *Resolver, pageSize int, idle time.Duration, clock clockwork.Clock) *Sessions {
	if idle <= 0 {
		idle = 15 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sessions{
		tickets:  tickets,
		resolver: resolver,
		pageSize: pageSize,
		idle:     idle,
		clock:    clock,
		items:    make(map[string]*session),
	}
}

// Create opens a directory for eventID and registers it.
func (s *Sessions) Create(ctx context.Context, eventID string, live bool) (string, *Directory, error) {
	d := New(s.tickets, s.resolver, Options{EventID: eventID, PageSize: s.pageSize, ForceLive: live})
	if err := d.Open(ctx); err != nil {
		d.Close()
		return "", nil, err
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.items[id] = &session{dir: d, lastSeen: s.clock.Now()}
	n := len(s.items)
	s.mu.Unlock()

	monitoring.SetDirectorySessions(n)
	slog.Info("Directory session opened", "session_id", id, "event_id", eventID, "live", live)
	return id, d, nil
}

// Get returns the session's directory and marks it as used.
func (s *Sessions) Get(id string) (*Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.items[id]
	if !ok {
		return nil, status.ErrSessionNotFound
	}
	sess.lastSeen = s.clock.Now()
	return sess.dir, nil
}

func (s *Sessions) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.items[id]
	delete(s.items, id)
	n := len(s.items)
	s.mu.Unlock()

	if !ok {
		return status.ErrSessionNotFound
	}
	sess.dir.Close()
	monitoring.SetDirectorySessions(n)
	slog.Info("Directory session closed", "session_id", id)
	return nil
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// were closed.
func (s *Sessions) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	var stale []*Directory
	for id, sess := range s.items {
		if now.Sub(sess.lastSeen) > s.idle {
			stale = append(stale, sess.dir)
			delete(s.items, id)
			slog.Info("Directory session expired", "session_id", id, "event_id", sess.dir.EventID())
		}
	}
	n := len(s.items)
	s.mu.Unlock()

	for _, d := range stale {
		d.Close()
	}
	monitoring.SetDirectorySessions(n)
	return len(stale)
}

// Run sweeps idle sessions until ctx is done, then closes every session.
func (s *Sessions) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.CloseAll()
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}

func (s *Sessions) CloseAll() {
	s.mu.Lock()
	items := s.items
	s.items = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range items {
		sess.dir.Close()
	}
	monitoring.SetDirectorySessions(0)
}
