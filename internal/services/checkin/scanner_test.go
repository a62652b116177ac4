package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/internal/store"
	"ticket-backoffice/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settle = 2 * time.Second

func unlocked(s *Scanner) func() bool {
	return func() bool {
		locked, _ := s.Locked()
		return !locked
	}
}

func TestScanner_JaneDoe(t *testing.T) {
	s := store.NewMemoryStore()
	seedJane(s)
	clock := clockwork.NewFakeClockAt(doorTime)

	var reported []models.CheckInResult
	scanner := NewScanner("door-1", NewMachine(s, s, nil, clock), nil, clock, settle, func(r models.CheckInResult) {
		reported = append(reported, r)
	})
	ctx := context.Background()

	result, accepted := scanner.HandleDecode(ctx, "T1")
	require.True(t, accepted)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "Jane Doe", result.AssistantName)

	locked, unlockAt := scanner.Locked()
	assert.True(t, locked)
	assert.Equal(t, doorTime.Add(settle), unlockAt)

	// same code again inside the settle window
	calls := s.Calls.Load()
	clock.Advance(500 * time.Millisecond)
	_, accepted = scanner.HandleDecode(ctx, "T1")
	assert.False(t, accepted)
	assert.Equal(t, calls, s.Calls.Load(), "dropped scan must not reach the store")

	clock.Advance(settle)
	require.Eventually(t, unlocked(scanner), time.Second, 5*time.Millisecond)

	result, accepted = scanner.HandleDecode(ctx, "T1")
	require.True(t, accepted)
	assert.Equal(t, models.OutcomeAlreadyProcessed, result.Outcome)
	assert.Equal(t, "Jane Doe", result.AssistantName)

	ticket, err := s.GetTicket(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusJoined, ticket.Status)
	assert.True(t, doorTime.Equal(*ticket.CheckedInAt))

	require.Len(t, reported, 2)
	assert.Equal(t, models.OutcomeSuccess, reported[0].Outcome)
	assert.Equal(t, models.OutcomeAlreadyProcessed, reported[1].Outcome)
}

func TestScanner_InvalidCodeNeverQueriesStore(t *testing.T) {
	s := store.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	scanner := NewScanner("door-1", NewMachine(s, s, nil, clock), nil, clock, settle, nil)

	result, accepted := scanner.HandleDecode(context.Background(), "not a ticket!")
	assert.True(t, accepted)
	assert.Equal(t, models.OutcomeNotFound, result.Outcome)
	assert.Equal(t, int64(0), s.Calls.Load())

	locked, _ := scanner.Locked()
	assert.True(t, locked, "invalid codes still settle")
}

// slowChecker blocks inside CheckIn until released.
type slowChecker struct {
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (c *slowChecker) CheckIn(ctx context.Context, id string) models.CheckInResult {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	c.entered <- struct{}{}
	<-c.release
	return models.CheckInResult{Outcome: models.OutcomeSuccess, TicketID: id}
}

func TestScanner_LockedWhileInFlight(t *testing.T) {
	checker := &slowChecker{entered: make(chan struct{}, 1), release: make(chan struct{})}
	clock := clockwork.NewFakeClock()
	scanner := NewScanner("door-1", checker, nil, clock, settle, nil)
	ctx := context.Background()

	done := make(chan bool, 1)
	go func() {
		_, accepted := scanner.HandleDecode(ctx, "T1")
		done <- accepted
	}()
	<-checker.entered

	locked, unlockAt := scanner.Locked()
	assert.True(t, locked)
	assert.True(t, unlockAt.IsZero())

	_, accepted := scanner.HandleDecode(ctx, "T2")
	assert.False(t, accepted)

	close(checker.release)
	assert.True(t, <-done)
	assert.Equal(t, 1, checker.calls)
}

func TestScanner_DecodeErrorKeepsState(t *testing.T) {
	s := store.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	scanner := NewScanner("door-1", NewMachine(s, s, nil, clock), nil, clock, settle, nil)

	scanner.HandleDecodeError(errors.New("camera: frame timeout"))

	locked, _ := scanner.Locked()
	assert.False(t, locked)
	assert.Equal(t, int64(0), s.Calls.Load())
}

func TestScannerPool_IndependentLocks(t *testing.T) {
	s := store.NewMemoryStore()
	seedJane(s)
	s.PutTicket(models.Ticket{ID: "T2", EventID: "ev1", AssistantID: "a1", Status: models.StatusEnabled})
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	byScanner := map[string]int{}
	pool := NewScannerPool(NewMachine(s, s, nil, clock), nil, clock, settle, 0, func(id string, _ models.CheckInResult) {
		mu.Lock()
		byScanner[id]++
		mu.Unlock()
	})
	ctx := context.Background()

	_, accepted := pool.Get("door-1").HandleDecode(ctx, "T1")
	assert.True(t, accepted)
	_, accepted = pool.Get("door-2").HandleDecode(ctx, "T2")
	assert.True(t, accepted, "a locked scanner does not block its neighbours")
	_, accepted = pool.Get("door-1").HandleDecode(ctx, "T2")
	assert.False(t, accepted)

	assert.Same(t, pool.Get("door-1"), pool.Get("door-1"))
	assert.Equal(t, 2, pool.Len())
	assert.Equal(t, map[string]int{"door-1": 1, "door-2": 1}, byScanner)
}

// codeBook accepts a single code per ticket.
type codeBook struct {
	codes map[string]string
	err   error
}

func (b codeBook) Verify(_ context.Context, ticketID, code string) error {
	if b.err != nil {
		return b.err
	}
	if code == "" || b.codes[ticketID] != code {
		return status.ErrInvalidCode
	}
	return nil
}

func TestScanner_RejectsForgedCode(t *testing.T) {
	s := store.NewMemoryStore()
	seedJane(s)
	clock := clockwork.NewFakeClockAt(doorTime)
	book := codeBook{codes: map[string]string{"T1": "A1B2C3"}}
	ctx := context.Background()

	scanner := NewScanner("door-1", NewMachine(s, s, nil, clock), book, clock, settle, nil)
	result, accepted := scanner.HandleDecode(ctx, "https://tickets.example.com/verify?ticket=T1&code=FORGED")
	require.True(t, accepted)
	assert.Equal(t, models.OutcomeNotFound, result.Outcome)
	assert.Equal(t, "invalid code", result.Message)
	assert.Equal(t, int64(0), s.Calls.Load(), "forged codes never reach the store")

	clock.Advance(settle + time.Millisecond)
	require.Eventually(t, unlocked(scanner), time.Second, 5*time.Millisecond)

	result, accepted = scanner.HandleDecode(ctx, "https://tickets.example.com/verify?ticket=T1&code=A1B2C3")
	require.True(t, accepted)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "Jane Doe", result.AssistantName)
}

func TestScanner_VerifierUnavailable(t *testing.T) {
	s := store.NewMemoryStore()
	seedJane(s)
	clock := clockwork.NewFakeClock()
	book := codeBook{err: status.ErrTransientIO}

	scanner := NewScanner("door-1", NewMachine(s, s, nil, clock), book, clock, settle, nil)
	result, accepted := scanner.HandleDecode(context.Background(), "https://tickets.example.com/verify?ticket=T1&code=A1B2C3")
	require.True(t, accepted)
	assert.Equal(t, models.OutcomeError, result.Outcome)
	assert.Equal(t, int64(0), s.Calls.Load())

	ticket, err := s.GetTicket(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnabled, ticket.Status)
}

func TestScannerPool_SweepEvictsIdleScanners(t *testing.T) {
	s := store.NewMemoryStore()
	seedJane(s)
	clock := clockwork.NewFakeClockAt(doorTime)
	pool := NewScannerPool(NewMachine(s, s, nil, clock), nil, clock, settle, time.Minute, nil)
	ctx := context.Background()

	pool.Get("door-1")
	busy := pool.Get("door-2")
	clock.Advance(30 * time.Second)
	pool.Get("door-1")

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, pool.Sweep(), "door-2 idle for 75s")
	assert.Equal(t, 1, pool.Len())
	assert.NotSame(t, busy, pool.Get("door-2"), "evicted scanner starts fresh")

	door1 := pool.Get("door-1")
	_, accepted := door1.HandleDecode(ctx, "T1")
	require.True(t, accepted)
	clock.Advance(2 * time.Minute)
	require.Eventually(t, unlocked(door1), time.Second, 5*time.Millisecond)
	pool.Get("door-3")
	assert.Equal(t, 2, pool.Sweep())
	assert.Equal(t, 1, pool.Len(), "only the scanner seen just now is kept")
}

func TestScannerPool_SweepKeepsScannerInFlight(t *testing.T) {
	checker := &slowChecker{entered: make(chan struct{}, 1), release: make(chan struct{})}
	clock := clockwork.NewFakeClock()
	pool := NewScannerPool(checker, nil, clock, settle, time.Minute, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Get("door-1").HandleDecode(context.Background(), "T1")
	}()
	<-checker.entered

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 0, pool.Sweep())
	assert.Equal(t, 1, pool.Len())

	close(checker.release)
	<-done
}

func TestExtractTicketID(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantID   string
		wantCode string
	}{
		{"raw id", "abc123XYZ", "abc123XYZ", ""},
		{"raw uuid", " 6f1c2c1e-1b2a-4c1f-9a55-2f0b7c3d9e10 ", "6f1c2c1e-1b2a-4c1f-9a55-2f0b7c3d9e10", ""},
		{"ticket query", "https://tickets.example.com/v?ticket=T-77&x=1", "T-77", ""},
		{"ticket and code", "https://tickets.example.com/verify?code=A1B2C3&ticket=T76", "T76", "A1B2C3"},
		{"id query", "https://tickets.example.com/v?id=T78", "T78", ""},
		{"last path segment", "https://tickets.example.com/t/T79/?code=FF00", "T79", "FF00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, code, err := ExtractTicketID(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantCode, code)
		})
	}

	for _, bad := range []string{"", "   ", "two words", "https://tickets.example.com/", "T1;DROP"} {
		_, _, err := ExtractTicketID(bad)
		assert.ErrorIs(t, err, status.ErrInvalidCode, bad)
	}
}
