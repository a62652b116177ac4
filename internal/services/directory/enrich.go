package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/internal/store"
	"ticket-backoffice/models"
	"ticket-backoffice/monitoring"

	"golang.org/x/sync/errgroup"
)

const (
	relationAssistant = "assistant"
	relationPhase     = "phase"
	relationLocality  = "locality"
	relationPromoter  = "promoter"
)

// Resolver joins tickets against their related entities. A relation that
// cannot be resolved leaves the models.Unknown sentinel in its display
// fields; it never fails the record.
type Resolver struct {
	relations store.RelationStore
}

func NewResolver(relations store.RelationStore) *Resolver {
	return &Resolver{relations: relations}
}

// Enrich resolves the four relations of one ticket in parallel.
// Only cancellation of ctx is returned as an error.
func (r *Resolver) Enrich(ctx context.Context, t models.Ticket) (models.EnrichedTicketRecord, error) {
	start := time.Now()
	rec := models.NewEnrichedTicketRecord(t)

	var (
		assistant                 *models.Assistant
		phase, locality, promoter *models.NamedEntity
	)

	g, gctx := errgroup.WithContext(ctx)
	if t.AssistantID != "" {
		g.Go(func() error {
			a, err := r.relations.GetAssistant(gctx, t.AssistantID)
			if err != nil {
				r.miss(relationAssistant, t.ID, t.AssistantID, err)
				return nil
			}
			assistant = a
			return nil
		})
	}
	named := []struct {
		relation string
		c        store.Collection
		id       string
		dst      **models.NamedEntity
	}{
		{relationPhase, store.CollectionPhases, t.PhaseID, &phase},
		{relationLocality, store.CollectionLocalities, t.LocalityID, &locality},
		{relationPromoter, store.CollectionPromoters, t.PromoterID, &promoter},
	}
	for _, n := range named {
		if n.id == "" {
			continue
		}
		g.Go(func() error {
			e, err := r.relations.GetNamed(gctx, n.c, n.id)
			if err != nil {
				r.miss(n.relation, t.ID, n.id, err)
				return nil
			}
			*n.dst = e
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return rec, err
	}

	applyAssistant(&rec, assistant)
	rec.PhaseName = nameOf(phase)
	rec.LocalityName = nameOf(locality)
	rec.PromoterName = nameOf(promoter)

	monitoring.ObserveEnrichment("single", time.Since(start))
	return rec, nil
}

// EnrichAll is the batch form of Enrich: ids are deduplicated per relation
// and each relation costs one round trip for the whole slice. The output
// keeps the input order.
func (r *Resolver) EnrichAll(ctx context.Context, tickets []models.Ticket) ([]models.EnrichedTicketRecord, error) {
	start := time.Now()
	if len(tickets) == 0 {
		return []models.EnrichedTicketRecord{}, ctx.Err()
	}

	var assistantIDs, phaseIDs, localityIDs, promoterIDs idSet
	for _, t := range tickets {
		assistantIDs.add(t.AssistantID)
		phaseIDs.add(t.PhaseID)
		localityIDs.add(t.LocalityID)
		promoterIDs.add(t.PromoterID)
	}

	var (
		assistants                    map[string]*models.Assistant
		phases, localities, promoters map[string]*models.NamedEntity
	)

	g, gctx := errgroup.WithContext(ctx)
	if len(assistantIDs.ids) > 0 {
		g.Go(func() error {
			found, err := r.relations.FindAssistants(gctx, assistantIDs.ids)
			if err != nil {
				slog.Warn("Batch assistant lookup failed", "count", len(assistantIDs.ids), "error", err)
				return nil
			}
			assistants = found
			return nil
		})
	}
	batches := []struct {
		c   store.Collection
		ids []string
		dst *map[string]*models.NamedEntity
	}{
		{store.CollectionPhases, phaseIDs.ids, &phases},
		{store.CollectionLocalities, localityIDs.ids, &localities},
		{store.CollectionPromoters, promoterIDs.ids, &promoters},
	}
	for _, b := range batches {
		if len(b.ids) == 0 {
			continue
		}
		g.Go(func() error {
			found, err := r.relations.FindNamed(gctx, b.c, b.ids)
			if err != nil {
				slog.Warn("Batch relation lookup failed", "collection", b.c, "count", len(b.ids), "error", err)
				return nil
			}
			*b.dst = found
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]models.EnrichedTicketRecord, len(tickets))
	for i, t := range tickets {
		rec := models.NewEnrichedTicketRecord(t)

		a := assistants[t.AssistantID]
		if a == nil && t.AssistantID != "" {
			monitoring.TrackEnrichmentMiss(relationAssistant)
		}
		applyAssistant(&rec, a)
		rec.PhaseName = lookupName(phases, t.PhaseID, relationPhase)
		rec.LocalityName = lookupName(localities, t.LocalityID, relationLocality)
		rec.PromoterName = lookupName(promoters, t.PromoterID, relationPromoter)
		out[i] = rec
	}

	monitoring.ObserveEnrichment("batch", time.Since(start))
	return out, nil
}

func (r *Resolver) miss(relation, ticketID, id string, err error) {
	monitoring.TrackEnrichmentMiss(relation)
	if errors.Is(err, status.ErrNotFound) || errors.Is(err, context.Canceled) {
		return
	}
	slog.Warn("Relation lookup failed", "relation", relation, "ticketID", ticketID, "id", id, "error", err)
}

func applyAssistant(rec *models.EnrichedTicketRecord, a *models.Assistant) {
	if a == nil {
		return
	}
	rec.AssistantName = orUnknown(a.Name)
	rec.AssistantEmail = orUnknown(a.Email)
	rec.PhoneNumber = orUnknown(a.Phone)
	rec.IDNumber = orUnknown(a.IdentificationNum)
}

func lookupName(found map[string]*models.NamedEntity, id, relation string) string {
	if id == "" {
		return models.Unknown
	}
	e, ok := found[id]
	if !ok {
		monitoring.TrackEnrichmentMiss(relation)
		return models.Unknown
	}
	return orUnknown(e.Name)
}

func nameOf(e *models.NamedEntity) string {
	if e == nil {
		return models.Unknown
	}
	return orUnknown(e.Name)
}

func orUnknown(s string) string {
	if s == "" {
		return models.Unknown
	}
	return s
}

// idSet collects distinct non-empty ids in first-seen order.
type idSet struct {
	seen map[string]struct{}
	ids  []string
}

func (s *idSet) add(id string) {
	if id == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
}
