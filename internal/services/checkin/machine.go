// Package checkin performs the enabled → joined transition when a ticket QR
// code is scanned at the door.
package checkin

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/internal/store"
	"ticket-backoffice/models"
	"ticket-backoffice/monitoring"
	"ticket-backoffice/utils"

	"github.com/jonboulle/clockwork"
)

// Listener is told about every successful check-in.
type Listener interface {
	CheckedIn(ctx context.Context, result models.CheckInResult)
}

type Machine struct {
	tickets   store.TicketStore
	relations store.RelationStore
	breaker   *utils.CircuitBreaker
	clock     clockwork.Clock
	listeners []Listener
}

// NewBreaker returns a breaker that only counts transient store failures.
func NewBreaker(settings utils.BreakerSettings) *utils.CircuitBreaker {
	settings.IsFailure = func(err error) bool {
		return errors.Is(err, status.ErrTransientIO)
	}
	return utils.NewCircuitBreaker("checkin-store", settings)
}

func NewMachine(tickets store.TicketStore, relations store.RelationStore, breaker *utils.CircuitBreaker, clock clockwork.Clock, listeners ...Listener) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if breaker == nil {
		breaker = NewBreaker(utils.BreakerSettings{Clock: clock})
	}
	return &Machine{
		tickets:   tickets,
		relations: relations,
		breaker:   breaker,
		clock:     clock,
		listeners: listeners,
	}
}

// CheckIn moves the ticket from enabled to joined. A ticket is transitioned at
// most once no matter how many times, or how concurrently, it is scanned.
func (m *Machine) CheckIn(ctx context.Context, ticketID string) models.CheckInResult {
	ticketID = strings.TrimSpace(ticketID)
	result := m.checkIn(ctx, ticketID)
	result.TicketID = ticketID

	monitoring.TrackCheckIn(string(result.Outcome))
	slog.Info("Check-in processed", "ticket_id", ticketID, "outcome", result.Outcome, "event_id", result.EventID)

	if result.Outcome == models.OutcomeSuccess {
		for _, l := range m.listeners {
			l.CheckedIn(ctx, result)
		}
	}
	return result
}

func (m *Machine) checkIn(ctx context.Context, ticketID string) models.CheckInResult {
	if ticketID == "" {
		return invalidCode()
	}

	ticket, err := m.getTicket(ctx, ticketID)
	if errors.Is(err, status.ErrNotFound) {
		return invalidCode()
	}
	if err != nil {
		return failed(ticketID, err)
	}

	if ticket.Status == models.StatusJoined {
		return models.CheckInResult{
			Outcome:       models.OutcomeAlreadyProcessed,
			EventID:       ticket.EventID,
			AssistantName: m.assistantName(ctx, ticket.AssistantID),
			CheckedInAt:   ticket.CheckedInAt,
			Message:       "ticket already checked in",
		}
	}

	now := m.clock.Now().UTC()
	patch := store.StatusPatch{Status: models.StatusJoined, CheckedInAt: &now}
	_, err = m.breaker.Execute(ctx, func() (any, error) {
		return nil, m.tickets.UpdateTicketStatus(ctx, ticketID, patch, models.StatusEnabled)
	})

	switch {
	case err == nil:
		return models.CheckInResult{
			Outcome:       models.OutcomeSuccess,
			EventID:       ticket.EventID,
			AssistantName: m.assistantName(ctx, ticket.AssistantID),
			CheckedInAt:   &now,
		}
	case errors.Is(err, status.ErrPreconditionFailed):
		// lost the race to another scan
		return models.CheckInResult{
			Outcome:       models.OutcomeAlreadyProcessed,
			EventID:       ticket.EventID,
			AssistantName: m.assistantName(ctx, ticket.AssistantID),
			Message:       "ticket already checked in",
		}
	case errors.Is(err, status.ErrNotFound):
		return invalidCode()
	default:
		return failed(ticketID, err)
	}
}

func (m *Machine) getTicket(ctx context.Context, id string) (*models.Ticket, error) {
	v, err := m.breaker.Execute(ctx, func() (any, error) {
		return m.tickets.GetTicket(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Ticket), nil
}

func (m *Machine) assistantName(ctx context.Context, id string) string {
	if id == "" {
		return models.Unknown
	}
	a, err := m.relations.GetAssistant(ctx, id)
	if err != nil {
		if !errors.Is(err, status.ErrNotFound) {
			slog.Warn("Failed to resolve assistant for check-in", "assistant_id", id, "error", err)
		}
		return models.Unknown
	}
	if strings.TrimSpace(a.Name) == "" {
		return models.Unknown
	}
	return a.Name
}

func invalidCode() models.CheckInResult {
	return models.CheckInResult{Outcome: models.OutcomeNotFound, Message: "invalid code"}
}

func failed(ticketID string, err error) models.CheckInResult {
	slog.Error("Check-in failed", "ticket_id", ticketID, "error", err)
	return models.CheckInResult{Outcome: models.OutcomeError, Message: "check-in could not be completed, try again"}
}
