package directory

import "ticket-backoffice/models"

type SourceKind string

const (
	SourcePaginated SourceKind = "paginated"
	SourceLive      SourceKind = "live"
)

// Source is the unified record source: exactly one of Paginated or Live.
type Source interface {
	Kind() SourceKind
	Records() []models.EnrichedTicketRecord
	sealed()
}

type Paginated struct {
	Page PageState
}

func (Paginated) Kind() SourceKind                         { return SourcePaginated }
func (s Paginated) Records() []models.EnrichedTicketRecord { return s.Page.Records }
func (Paginated) sealed()                                  {}

type Live struct {
	Snapshot LiveState
}

func (Live) Kind() SourceKind                         { return SourceLive }
func (s Live) Records() []models.EnrichedTicketRecord { return s.Snapshot.Records }
func (Live) sealed()                                  {}
