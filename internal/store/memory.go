package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/models"

	"github.com/google/uuid"
)

// MemoryStore keeps every collection in process memory. It backs
// STORE_BACKEND=memory and the service tests.
type MemoryStore struct {
	mu         sync.RWMutex
	tickets    map[string]models.Ticket
	assistants map[string]models.Assistant
	named      map[Collection]map[string]models.NamedEntity

	hub *changeHub
	now func() time.Time

	// Calls counts every store round trip, for tests asserting that no
	// request was issued.
	Calls atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:    make(map[string]models.Ticket),
		assistants: make(map[string]models.Assistant),
		named: map[Collection]map[string]models.NamedEntity{
			CollectionPhases:     {},
			CollectionLocalities: {},
			CollectionPromoters:  {},
		},
		hub: newChangeHub(),
		now: time.Now,
	}
}

// PutTicket inserts or replaces a ticket verbatim and notifies subscribers.
func (s *MemoryStore) PutTicket(t models.Ticket) {
	s.mu.Lock()
	s.tickets[t.ID] = t
	s.mu.Unlock()
	s.hub.notify(t.EventID)
}

func (s *MemoryStore) PutAssistant(a models.Assistant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistants[a.ID] = a
}

func (s *MemoryStore) PutNamed(c Collection, e models.NamedEntity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.named[c][e.ID] = e
}

func (s *MemoryStore) Subscribers() int {
	return s.hub.count()
}

func (s *MemoryStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) QueryTickets(ctx context.Context, q TicketQuery) (*Page, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		return nil, status.ErrInvalidInput
	}
	after, err := DecodeCursor(q.After)
	if err != nil {
		return nil, err
	}

	all := s.sortedTickets(q.EventID, q.Direction)
	items := make([]models.Ticket, 0, q.Limit+1)
	for _, t := range all {
		if after != nil && !after.After(t, q.Direction) {
			continue
		}
		items = append(items, t)
		if len(items) > q.Limit {
			break
		}
	}
	return pageFrom(items, q.Limit), nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, eventID string, dir Direction) ([]models.Ticket, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.sortedTickets(eventID, dir), nil
}

func (s *MemoryStore) SubscribeTickets(ctx context.Context, eventID string, dir Direction) (<-chan TicketSnapshot, error) {
	signals, unsubscribe := s.hub.subscribe(eventID)
	out := make(chan TicketSnapshot, 1)
	go runSubscription(ctx, eventID, signals, unsubscribe, func(ctx context.Context) ([]models.Ticket, error) {
		return s.ListTickets(ctx, eventID, dir)
	}, out)
	return out, nil
}

func (s *MemoryStore) UpdateTicketStatus(ctx context.Context, id string, patch StatusPatch, expect models.TicketStatus) error {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	t, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		return status.ErrNotFound
	}
	if t.Status != expect {
		s.mu.Unlock()
		return status.ErrPreconditionFailed
	}
	t.Status = patch.Status
	t.CheckedInAt = patch.CheckedInAt
	t.UpdatedAt = s.now()
	s.tickets[id] = t
	s.mu.Unlock()

	s.hub.notify(t.EventID)
	return nil
}

func (s *MemoryStore) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assistants[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) GetNamed(ctx context.Context, c Collection, id string) (*models.NamedEntity, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.named[c][id]
	if !ok {
		return nil, status.ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) FindAssistants(ctx context.Context, ids []string) (map[string]*models.Assistant, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.Assistant)
	for _, id := range dedup(ids) {
		if a, ok := s.assistants[id]; ok {
			out[id] = &a
		}
	}
	return out, nil
}

func (s *MemoryStore) FindNamed(ctx context.Context, c Collection, ids []string) (map[string]*models.NamedEntity, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.NamedEntity)
	for _, id := range dedup(ids) {
		if e, ok := s.named[c][id]; ok {
			out[id] = &e
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateNamed(ctx context.Context, c Collection, e *models.NamedEntity) error {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !isNamedCollection(c) {
		return fmt.Errorf("%w: %s is not a named collection", status.ErrInvalidInput, c)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.PutNamed(c, *e)
	return nil
}

func (s *MemoryStore) CreateRegistration(ctx context.Context, a *models.Assistant, t *models.Ticket) error {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	if _, ok := s.tickets[t.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: ticket %s already exists", status.ErrPreconditionFailed, t.ID)
	}
	a.CreatedAt, a.UpdatedAt = now, now
	t.AssistantID = a.ID
	t.CreatedAt, t.UpdatedAt = now, now
	s.assistants[a.ID] = *a
	s.tickets[t.ID] = *t
	s.mu.Unlock()

	s.hub.notify(t.EventID)
	return nil
}

func (s *MemoryStore) UpdateTicketDetails(ctx context.Context, id string, edit models.TicketEdit) (*models.Ticket, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	t, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		return nil, status.ErrNotFound
	}
	applyEdit(&t, edit)
	t.UpdatedAt = s.now()
	s.tickets[id] = t
	s.mu.Unlock()

	s.hub.notify(t.EventID)
	return &t, nil
}

func (s *MemoryStore) DeleteTicket(ctx context.Context, id string) (*models.Ticket, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	t, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		return nil, status.ErrNotFound
	}
	delete(s.tickets, id)
	delete(s.assistants, t.AssistantID)
	s.mu.Unlock()

	s.hub.notify(t.EventID)
	return &t, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) sortedTickets(eventID string, dir Direction) []models.Ticket {
	s.mu.RLock()
	out := make([]models.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		cmp := compareTicketPosition(out[i], out[j].CreatedAt, out[j].ID)
		if dir == Descending {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}

func applyEdit(t *models.Ticket, edit models.TicketEdit) {
	if edit.PhaseID != nil {
		t.PhaseID = *edit.PhaseID
	}
	if edit.LocalityID != nil {
		t.LocalityID = *edit.LocalityID
	}
	if edit.PromoterID != nil {
		t.PromoterID = *edit.PromoterID
	}
	if edit.TicketType != nil {
		t.TicketType = *edit.TicketType
	}
	if edit.Price != nil {
		t.Price = *edit.Price
	}
}
