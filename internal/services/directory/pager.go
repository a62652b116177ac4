package directory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/internal/store"
	"ticket-backoffice/models"
	"ticket-backoffice/monitoring"
)

// PageState is what the presentation layer renders for the paginated source.
type PageState struct {
	Records   []models.EnrichedTicketRecord `json:"records"`
	PageIndex int                           `json:"page_index"`
	HasMore   bool                          `json:"has_more"`
	CanGoBack bool                          `json:"can_go_back"`
	Loading   bool                          `json:"loading"`
	IsError   bool                          `json:"is_error"`
	Err       error                         `json:"-"`
}

// position is the part of the pager state a failed move rolls back.
type position struct {
	cursor    string
	history   []string
	pageIndex int
}

// Pager walks an event's tickets newest first, one page at a time, keeping a
// stack of the cursors it came through so it can step back without
// re-querying from the start.
type Pager struct {
	tickets  store.TicketStore
	resolver *Resolver
	eventID  string
	pageSize int

	mu         sync.Mutex
	pos        position
	trailing   string
	predicates Filters
	records    []models.EnrichedTicketRecord
	hasMore    bool
	inFlight   bool
	isError    bool
	err        error
	generation uint64
	closed     bool
}

func NewPager(tickets store.TicketStore, resolver *Resolver, eventID string, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Pager{
		tickets:  tickets,
		resolver: resolver,
		eventID:  eventID,
		pageSize: pageSize,
		pos:      position{pageIndex: 1},
	}
}

// Load (re)fetches the page at the current cursor.
func (p *Pager) Load(ctx context.Context) error {
	return p.move(ctx, func() error { return nil })
}

// Next advances one page. It fails with status.ErrNoMorePages on the last page.
func (p *Pager) Next(ctx context.Context) error {
	return p.move(ctx, func() error {
		if !p.hasMore {
			return status.ErrNoMorePages
		}
		p.pos.history = append(p.pos.history, p.pos.cursor)
		p.pos.cursor = p.trailing
		p.pos.pageIndex++
		return nil
	})
}

// Prev steps back one page; on the first page it reloads the first page.
func (p *Pager) Prev(ctx context.Context) error {
	return p.move(ctx, func() error {
		if n := len(p.pos.history); n > 0 {
			p.pos.cursor = p.pos.history[n-1]
			p.pos.history = p.pos.history[:n-1]
		} else {
			p.pos.cursor = ""
		}
		if p.pos.pageIndex > 1 {
			p.pos.pageIndex--
		}
		return nil
	})
}

// Reset returns to the first page and discards any in-flight result.
func (p *Pager) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Pager) resetLocked() {
	p.generation++
	p.pos = position{pageIndex: 1}
	p.trailing = ""
	p.records = nil
	p.hasMore = false
	p.inFlight = false
	p.isError = false
	p.err = nil
}

// SetPredicates records the search predicates and resets when they change,
// since cursors are not stable across predicate sets. Predicates do not
// constrain the store query. Returns true when a reset happened.
func (p *Pager) SetPredicates(f Filters) bool {
	f = f.normalized()
	p.mu.Lock()
	defer p.mu.Unlock()
	if f == p.predicates {
		return false
	}
	p.predicates = f
	p.resetLocked()
	return true
}

func (p *Pager) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	records := make([]models.EnrichedTicketRecord, len(p.records))
	copy(records, p.records)
	return PageState{
		Records:   records,
		PageIndex: p.pos.pageIndex,
		HasMore:   p.hasMore,
		CanGoBack: p.pos.pageIndex > 1,
		Loading:   p.inFlight,
		IsError:   p.isError,
		Err:       p.err,
	}
}

// Close abandons in-flight requests; later calls fail with status.ErrClosed.
func (p *Pager) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.generation++
	p.inFlight = false
}

func (p *Pager) move(ctx context.Context, step func() error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return status.ErrClosed
	}
	if p.inFlight {
		p.mu.Unlock()
		return status.ErrFetchInFlight
	}
	saved := position{cursor: p.pos.cursor, history: append([]string(nil), p.pos.history...), pageIndex: p.pos.pageIndex}
	savedTrailing, savedHasMore := p.trailing, p.hasMore
	if err := step(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.inFlight = true
	gen := p.generation
	cursor := p.pos.cursor
	p.mu.Unlock()

	records, page, err := p.fetch(ctx, cursor)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		// reset or closed while fetching
		return context.Canceled
	}
	p.inFlight = false

	if err != nil {
		// the page we stayed on still has its successor, so the move can be retried
		p.pos = saved
		p.trailing = savedTrailing
		p.hasMore = savedHasMore
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		slog.Error("Ticket page query failed", "eventID", p.eventID, "pageIndex", saved.pageIndex, "error", err)
		p.isError = true
		p.err = err
		p.records = nil
		return err
	}

	p.isError = false
	p.err = nil
	p.records = records
	p.hasMore = page.HasMore
	p.trailing = page.Trailing
	return nil
}

func (p *Pager) fetch(ctx context.Context, cursor string) ([]models.EnrichedTicketRecord, *store.Page, error) {
	start := time.Now()
	page, err := p.tickets.QueryTickets(ctx, store.TicketQuery{
		EventID:   p.eventID,
		Direction: store.Descending,
		Limit:     p.pageSize,
		After:     cursor,
	})
	monitoring.ObserveStoreQuery("page", time.Since(start))
	if err != nil {
		return nil, nil, err
	}

	records, err := p.resolver.EnrichAll(ctx, page.Items)
	if err != nil {
		return nil, nil, err
	}
	return records, page, nil
}
