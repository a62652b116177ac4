// Package directory presents an event's tickets to back-office operators.
//
// A Directory owns one Pager and, while any search predicate is set or live
// mode was requested, one LiveView. View merges whichever source is active
// with the filter and sort state into one list.
package directory

import (
	"context"
	"sync"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/internal/store"
	"ticket-backoffice/models"
)

type Options struct {
	EventID  string
	PageSize int
	// ForceLive keeps the live source active even without predicates.
	ForceLive bool
}

// View is one render of the directory.
type View struct {
	Source    SourceKind                    `json:"source"`
	Records   []models.EnrichedTicketRecord `json:"records"`
	Total     int                           `json:"total"`
	PageIndex int                           `json:"page_index"`
	HasMore   bool                          `json:"has_more"`
	CanGoBack bool                          `json:"can_go_back"`
	Loading   bool                          `json:"loading"`
	IsError   bool                          `json:"is_error"`
	Error     string                        `json:"error,omitempty"`
	Filters   Filters                       `json:"filters"`
	Sort      SortState                     `json:"sort"`
}

type Directory struct {
	tickets   store.TicketStore
	resolver  *Resolver
	eventID   string
	forceLive bool
	pager     *Pager

	// base scopes the live subscription to the directory, not to the
	// request that happened to open it.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	filters Filters
	sort    SortState
	live    *LiveView
	closed  bool
}

func New(tickets store.TicketStore, resolver *Resolver, opts Options) *Directory {
	base, cancel := context.WithCancel(context.Background())
	return &Directory{
		tickets:   tickets,
		resolver:  resolver,
		eventID:   opts.EventID,
		forceLive: opts.ForceLive,
		pager:     NewPager(tickets, resolver, opts.EventID, opts.PageSize),
		base:      base,
		cancel:    cancel,
		sort:      DefaultSort,
	}
}

func (d *Directory) EventID() string { return d.eventID }

// Open loads the first page, or opens the live source in live mode.
func (d *Directory) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return status.ErrClosed
	}
	live := d.liveActiveLocked()
	d.mu.Unlock()

	if live {
		return d.ensureLive()
	}
	return d.pager.Load(ctx)
}

// SetFilters replaces the search predicates. A change resets pagination;
// the live source opens the moment any predicate is set and closes when
// all are cleared. The sort selection is kept.
func (d *Directory) SetFilters(ctx context.Context, f Filters) error {
	f = f.normalized()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return status.ErrClosed
	}
	if f == d.filters {
		d.mu.Unlock()
		return nil
	}
	d.filters = f
	live := d.liveActiveLocked()
	var stale *LiveView
	if !live && d.live != nil {
		stale, d.live = d.live, nil
	}
	d.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	reset := d.pager.SetPredicates(f)
	if live {
		return d.ensureLive()
	}
	if reset {
		return d.pager.Load(ctx)
	}
	return nil
}

func (d *Directory) Filters() Filters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filters
}

// ToggleSort applies SortState.Toggle to the current sort.
func (d *Directory) ToggleSort(key SortKey) SortState {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sort = d.sort.Toggle(key)
	return d.sort
}

func (d *Directory) SetSort(s SortState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sort = s
}

func (d *Directory) Next(ctx context.Context) error {
	if !d.usingPagination() {
		return status.ErrNoMorePages
	}
	return d.pager.Next(ctx)
}

func (d *Directory) Prev(ctx context.Context) error {
	if !d.usingPagination() {
		return status.ErrNoMorePages
	}
	return d.pager.Prev(ctx)
}

// Reload refetches the active source: the current page, or nothing for the
// live source, which is always current.
func (d *Directory) Reload(ctx context.Context) error {
	if !d.usingPagination() {
		return d.ensureLive()
	}
	return d.pager.Load(ctx)
}

// Source returns the active source as a tagged variant.
func (d *Directory) Source() Source {
	d.mu.Lock()
	live := d.live
	d.mu.Unlock()

	if live != nil {
		return Live{Snapshot: live.State()}
	}
	return Paginated{Page: d.pager.State()}
}

// Updated signals when the live source publishes; nil in pagination mode.
func (d *Directory) Updated() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live == nil {
		return nil
	}
	return d.live.Updated()
}

// View filters and sorts the active source.
func (d *Directory) View() View {
	d.mu.Lock()
	filters, sortState := d.filters, d.sort
	d.mu.Unlock()

	src := d.Source()
	records := Sort(Apply(src.Records(), filters), sortState)
	view := View{
		Source:  src.Kind(),
		Records: records,
		Total:   len(records),
		Filters: filters,
		Sort:    sortState,
	}

	switch s := src.(type) {
	case Paginated:
		view.PageIndex = s.Page.PageIndex
		view.HasMore = s.Page.HasMore
		view.CanGoBack = s.Page.CanGoBack
		view.Loading = s.Page.Loading
		view.IsError = s.Page.IsError
		if s.Page.Err != nil {
			view.Error = s.Page.Err.Error()
		}
	case Live:
		view.PageIndex = 1
		view.Loading = s.Snapshot.Loading
		view.IsError = s.Snapshot.IsError
		if s.Snapshot.Err != nil {
			view.Error = s.Snapshot.Err.Error()
		}
	}
	if view.IsError {
		view.Records = []models.EnrichedTicketRecord{}
		view.Total = 0
	}
	return view
}

// Close releases the live subscription and abandons in-flight requests.
func (d *Directory) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	live := d.live
	d.live = nil
	d.mu.Unlock()

	if live != nil {
		live.Close()
	}
	d.pager.Close()
	d.cancel()
}

func (d *Directory) usingPagination() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.liveActiveLocked()
}

func (d *Directory) liveActiveLocked() bool {
	return d.forceLive || !UsingPagination(d.filters)
}

func (d *Directory) ensureLive() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return status.ErrClosed
	}
	if d.live != nil {
		d.mu.Unlock()
		return nil
	}
	live := NewLiveView(d.tickets, d.resolver, d.eventID)
	d.live = live
	d.mu.Unlock()

	if err := live.Open(d.base); err != nil {
		d.mu.Lock()
		if d.live == live {
			d.live = nil
		}
		d.mu.Unlock()
		return err
	}
	return nil
}
