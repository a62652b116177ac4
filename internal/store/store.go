// Package store is the record store client used by the ticket directory and
// the check-in flow. Backends: PocketBase (default), MongoDB and an in-memory
// store for development and tests.
package store

import (
	"context"
	"log/slog"
	"time"

	"ticket-backoffice/models"

	"github.com/shopspring/decimal"
)

type Collection string

const (
	CollectionTickets    Collection = "tickets"
	CollectionAssistants Collection = "assistants"
	CollectionPhases     Collection = "phases"
	CollectionLocalities Collection = "localities"
	CollectionPromoters  Collection = "promoters"
)

type Direction int

const (
	Descending Direction = iota
	Ascending
)

// TicketQuery asks for Limit tickets of one event ordered by creation time,
// starting strictly after the After cursor ("" starts from the beginning).
type TicketQuery struct {
	EventID   string
	Direction Direction
	Limit     int
	After     string
}

type Page struct {
	Items    []models.Ticket
	Trailing string
	HasMore  bool
}

// TicketSnapshot is one full materialization of an event's tickets.
type TicketSnapshot struct {
	Tickets []models.Ticket
	Err     error
}

// StatusPatch is the only mutation the check-in flow issues.
type StatusPatch struct {
	Status      models.TicketStatus
	CheckedInAt *time.Time
}

type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	QueryTickets(ctx context.Context, q TicketQuery) (*Page, error)
	ListTickets(ctx context.Context, eventID string, dir Direction) ([]models.Ticket, error)
	// SubscribeTickets delivers a full snapshot on open and after every change
	// to the event's tickets. The channel closes when ctx is done.
	SubscribeTickets(ctx context.Context, eventID string, dir Direction) (<-chan TicketSnapshot, error)
	// UpdateTicketStatus applies patch only if the ticket currently has status
	// expect. Returns status.ErrPreconditionFailed or status.ErrNotFound.
	UpdateTicketStatus(ctx context.Context, id string, patch StatusPatch, expect models.TicketStatus) error
}

type RelationStore interface {
	GetAssistant(ctx context.Context, id string) (*models.Assistant, error)
	GetNamed(ctx context.Context, c Collection, id string) (*models.NamedEntity, error)
	// FindAssistants and FindNamed omit ids that do not exist.
	FindAssistants(ctx context.Context, ids []string) (map[string]*models.Assistant, error)
	FindNamed(ctx context.Context, c Collection, ids []string) (map[string]*models.NamedEntity, error)
}

type AdminStore interface {
	CreateNamed(ctx context.Context, c Collection, e *models.NamedEntity) error
	// CreateRegistration stores an assistant and its ticket together: either
	// both exist afterwards or neither does. t.AssistantID is set from a.
	CreateRegistration(ctx context.Context, a *models.Assistant, t *models.Ticket) error
	UpdateTicketDetails(ctx context.Context, id string, edit models.TicketEdit) (*models.Ticket, error)
	// DeleteTicket removes the ticket and its assistant, returning the deleted ticket.
	DeleteTicket(ctx context.Context, id string) (*models.Ticket, error)
}

type Store interface {
	TicketStore
	RelationStore
	AdminStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func isNamedCollection(c Collection) bool {
	switch c {
	case CollectionPhases, CollectionLocalities, CollectionPromoters:
		return true
	}
	return false
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Prices are persisted as decimal strings; the empty string is no price.
func formatPrice(p decimal.NullDecimal) string {
	if !p.Valid {
		return ""
	}
	return p.Decimal.String()
}

func parsePrice(ticketID, raw string) decimal.NullDecimal {
	if raw == "" {
		return decimal.NullDecimal{}
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("Ticket has unparsable price", "ticketID", ticketID, "price", raw)
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(price)
}
