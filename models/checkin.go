package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CheckInOutcome string

const (
	OutcomeSuccess          CheckInOutcome = "success"
	OutcomeAlreadyProcessed CheckInOutcome = "already_processed"
	OutcomeNotFound         CheckInOutcome = "not_found"
	OutcomeError            CheckInOutcome = "error"
)

type CheckInResult struct {
	Outcome       CheckInOutcome `json:"status"`
	TicketID      string         `json:"ticket_id"`
	EventID       string         `json:"event_id,omitempty"`
	AssistantName string         `json:"assistant_name,omitempty"`
	CheckedInAt   *time.Time     `json:"checked_in_at,omitempty"`
	Message       string         `json:"message,omitempty"`
}

type Registration struct {
	EventID            string              `json:"event_id"`
	Name               string              `json:"name"`
	Email              string              `json:"email"`
	Phone              string              `json:"phone"`
	IdentificationNum  string              `json:"identification_number"`
	IdentificationType string              `json:"identification_type"`
	PhaseID            string              `json:"phase_id"`
	LocalityID         string              `json:"locality_id"`
	PromoterID         string              `json:"promoter_id,omitempty"`
	TicketType         TicketType          `json:"ticket_type"`
	Price              decimal.NullDecimal `json:"price"`
}

type AttendanceStats struct {
	EventID     string    `json:"event_id"`
	CheckedIn   int64     `json:"checked_in"`
	LastUpdated time.Time `json:"last_updated"`
}
