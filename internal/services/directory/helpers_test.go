package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ticket-backoffice/internal/store"
	"ticket-backoffice/models"
)

var baseTime = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// seedEvent stores n tickets for eventID, each with its own assistant,
// created one minute apart.
func seedEvent(s *store.MemoryStore, eventID string, n int) []models.Ticket {
	s.PutNamed(store.CollectionPhases, models.NamedEntity{ID: "p1", Name: "Early Bird"})
	s.PutNamed(store.CollectionLocalities, models.NamedEntity{ID: "l1", Name: "General"})

	tickets := make([]models.Ticket, 0, n)
	for i := 0; i < n; i++ {
		a := models.Assistant{
			ID:                fmt.Sprintf("a%02d", i),
			Name:              fmt.Sprintf("Guest %02d", i),
			Email:             fmt.Sprintf("guest%02d@example.com", i),
			IdentificationNum: fmt.Sprintf("9%04d", i),
		}
		s.PutAssistant(a)
		t := models.Ticket{
			ID:          fmt.Sprintf("T%02d", i),
			EventID:     eventID,
			AssistantID: a.ID,
			PhaseID:     "p1",
			LocalityID:  "l1",
			TicketType:  models.TicketStandard,
			Status:      models.StatusEnabled,
			CreatedAt:   baseTime.Add(time.Duration(i) * time.Minute),
		}
		s.PutTicket(t)
		tickets = append(tickets, t)
	}
	return tickets
}

func recordIDs(records []models.EnrichedTicketRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// gatedRelations blocks the first FindAssistants call until release is closed.
type gatedRelations struct {
	store.RelationStore
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newGatedRelations(inner store.RelationStore) *gatedRelations {
	return &gatedRelations{RelationStore: inner, release: make(chan struct{}), entered: make(chan struct{})}
}

func (g *gatedRelations) FindAssistants(ctx context.Context, ids []string) (map[string]*models.Assistant, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.RelationStore.FindAssistants(ctx, ids)
}

// failingTickets fails QueryTickets while fail is set.
type failingTickets struct {
	store.TicketStore
	mu   sync.Mutex
	fail error
}

func (f *failingTickets) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *failingTickets) QueryTickets(ctx context.Context, q store.TicketQuery) (*store.Page, error) {
	f.mu.Lock()
	err := f.fail
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.TicketStore.QueryTickets(ctx, q)
}

// blockingTickets holds QueryTickets until release is closed.
type blockingTickets struct {
	store.TicketStore
	release chan struct{}
	entered chan struct{}
}

func (b *blockingTickets) QueryTickets(ctx context.Context, q store.TicketQuery) (*store.Page, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.TicketStore.QueryTickets(ctx, q)
}
