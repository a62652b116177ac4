package directory

import (
	"context"
	"testing"
	"time"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/internal/store"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_CreateGetClose(t *testing.T) {
	s := store.NewMemoryStore()
	seedEvent(s, "ev1", 3)
	sessions := NewSessions(s, NewResolver(s), 2, time.Minute, clockwork.NewFakeClock())
	ctx := context.Background()

	id, d, err := sessions.Create(ctx, "ev1", false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"T02", "T01"}, recordIDs(d.View().Records))

	got, err := sessions.Get(id)
	require.NoError(t, err)
	assert.Same(t, d, got)

	require.NoError(t, sessions.Close(id))
	_, err = sessions.Get(id)
	assert.ErrorIs(t, err, status.ErrSessionNotFound)
	assert.ErrorIs(t, sessions.Close(id), status.ErrSessionNotFound)
}

func TestSessions_SweepClosesIdle(t *testing.T) {
	s := store.NewMemoryStore()
	seedEvent(s, "ev1", 3)
	clock := clockwork.NewFakeClock()
	sessions := NewSessions(s, NewResolver(s), 2, 10*time.Minute, clock)
	ctx := context.Background()

	idle, _, err := sessions.Create(ctx, "ev1", true)
	require.NoError(t, err)
	active, _, err := sessions.Create(ctx, "ev1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Subscribers())

	clock.Advance(6 * time.Minute)
	_, err = sessions.Get(active)
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, sessions.Sweep())
	_, err = sessions.Get(idle)
	assert.ErrorIs(t, err, status.ErrSessionNotFound)
	_, err = sessions.Get(active)
	assert.NoError(t, err)
	assert.Eventually(t, func() bool { return s.Subscribers() == 0 }, waitFor, tick, "expired live session released its subscription")
}

func TestSessions_RunClosesAllOnShutdown(t *testing.T) {
	s := store.NewMemoryStore()
	seedEvent(s, "ev1", 1)
	clock := clockwork.NewFakeClock()
	sessions := NewSessions(s, NewResolver(s), 2, time.Minute, clock)

	_, _, err := sessions.Create(context.Background(), "ev1", true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sessions.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
	assert.Equal(t, 0, sessions.Len())
	assert.Eventually(t, func() bool { return s.Subscribers() == 0 }, waitFor, tick)
}

func TestSessions_CreateFailsOnStoreError(t *testing.T) {
	s := store.NewMemoryStore()
	tickets := &failingTickets{TicketStore: s}
	tickets.setFail(status.ErrTransientIO)
	sessions := NewSessions(tickets, NewResolver(s), 2, time.Minute, nil)

	_, _, err := sessions.Create(context.Background(), "ev1", false)
	assert.ErrorIs(t, err, status.ErrTransientIO)
	assert.Equal(t, 0, sessions.Len())
}
