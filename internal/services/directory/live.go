package directory

import (
	"context"
	"log/slog"
	"sync"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/internal/store"
	"ticket-backoffice/models"
	"ticket-backoffice/monitoring"
)

// LiveState is the latest published snapshot of a LiveView.
type LiveState struct {
	Records []models.EnrichedTicketRecord `json:"records"`
	Loading bool                          `json:"loading"`
	IsError bool                          `json:"is_error"`
	Err     error                         `json:"-"`
	Seq     uint64                        `json:"seq"`
}

// LiveView keeps every ticket of an event enriched and current. Each store
// snapshot is enriched on its own goroutine and tagged with a sequence
// number; a result is published only if no newer snapshot has been
// published already.
type LiveView struct {
	tickets  store.TicketStore
	resolver *Resolver
	eventID  string

	mu        sync.Mutex
	records   []models.EnrichedTicketRecord
	loading   bool
	err       error
	published uint64
	received  uint64
	opened    bool
	closed    bool
	cancel    context.CancelFunc
	updated   chan struct{}
}

func NewLiveView(tickets store.TicketStore, resolver *Resolver, eventID string) *LiveView {
	return &LiveView{
		tickets:  tickets,
		resolver: resolver,
		eventID:  eventID,
		loading:  true,
		updated:  make(chan struct{}, 1),
	}
}

// Open starts the subscription. It is a no-op on an already open view.
func (v *LiveView) Open(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return status.ErrClosed
	}
	if v.opened {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	snapshots, err := v.tickets.SubscribeTickets(ctx, v.eventID, store.Ascending)
	if err != nil {
		cancel()
		return err
	}
	v.opened = true
	v.cancel = cancel
	monitoring.LiveViewOpened()

	go v.run(ctx, snapshots)
	return nil
}

func (v *LiveView) run(ctx context.Context, snapshots <-chan store.TicketSnapshot) {
	for snap := range snapshots {
		v.mu.Lock()
		v.received++
		seq := v.received
		v.mu.Unlock()

		go v.process(ctx, seq, snap)
	}
}

func (v *LiveView) process(ctx context.Context, seq uint64, snap store.TicketSnapshot) {
	var records []models.EnrichedTicketRecord
	if snap.Err == nil {
		enriched, err := v.resolver.EnrichAll(ctx, snap.Tickets)
		if err != nil {
			return
		}
		records = enriched
	}

	v.mu.Lock()
	if v.closed || ctx.Err() != nil || seq <= v.published {
		v.mu.Unlock()
		return
	}
	v.published = seq
	v.loading = false
	if snap.Err != nil {
		slog.Warn("Live ticket snapshot failed", "eventID", v.eventID, "seq", seq, "error", snap.Err)
		v.err = snap.Err
		v.records = nil
	} else {
		v.err = nil
		v.records = records
	}
	v.mu.Unlock()

	select {
	case v.updated <- struct{}{}:
	default:
	}
}

func (v *LiveView) State() LiveState {
	v.mu.Lock()
	defer v.mu.Unlock()
	records := make([]models.EnrichedTicketRecord, len(v.records))
	copy(records, v.records)
	return LiveState{
		Records: records,
		Loading: v.loading,
		IsError: v.err != nil,
		Err:     v.err,
		Seq:     v.published,
	}
}

// Updated signals after every publication. Signals coalesce.
func (v *LiveView) Updated() <-chan struct{} {
	return v.updated
}

// Close cancels the subscription. Enrichment passes still running are
// discarded when they finish.
func (v *LiveView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	if v.opened {
		v.cancel()
		monitoring.LiveViewClosed()
	}
}
