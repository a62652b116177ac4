package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unknown is displayed in place of any related field that cannot be resolved.
const Unknown = "—"

type TicketStatus string

const (
	StatusEnabled TicketStatus = "enabled"
	StatusJoined  TicketStatus = "joined"
)

type TicketType string

const (
	TicketStandard TicketType = "standard"
	TicketCourtesy TicketType = "courtesy"
)

func (t TicketType) Valid() bool {
	return t == TicketStandard || t == TicketCourtesy
}

type Ticket struct {
	ID          string              `json:"id"`
	EventID     string              `json:"event_id"`
	AssistantID string              `json:"assistant_id"`
	PhaseID     string              `json:"phase_id"`
	LocalityID  string              `json:"locality_id"`
	PromoterID  string              `json:"promoter_id,omitempty"`
	TicketType  TicketType          `json:"ticket_type"`
	Price       decimal.NullDecimal `json:"price"`
	QRCode      string              `json:"qr_code"`
	Status      TicketStatus        `json:"status"` // enabled, joined
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CheckedInAt *time.Time          `json:"checked_in_at"`
}

// Consistent reports whether CheckedInAt is set exactly when the ticket is joined.
func (t *Ticket) Consistent() bool {
	return (t.Status == StatusJoined) == (t.CheckedInAt != nil)
}

type Assistant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone"`
	IdentificationNum  string    `json:"identification_number"`
	IdentificationType string    `json:"identification_type"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NamedEntity covers phases, localities and promoters; only the name is displayed.
type NamedEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EnrichedTicketRecord is the display projection of a Ticket. It is never persisted.
type EnrichedTicketRecord struct {
	Ticket

	AssistantName  string `json:"assistant_name"`
	AssistantEmail string `json:"assistant_email"`
	PhoneNumber    string `json:"phone_number"`
	IDNumber       string `json:"id_number"`
	PhaseName      string `json:"phase_name"`
	LocalityName   string `json:"locality_name"`
	PromoterName   string `json:"promoter_name"`
}

// NewEnrichedTicketRecord returns a record with every display field set to Unknown.
func NewEnrichedTicketRecord(t Ticket) EnrichedTicketRecord {
	return EnrichedTicketRecord{
		Ticket:         t,
		AssistantName:  Unknown,
		AssistantEmail: Unknown,
		PhoneNumber:    Unknown,
		IDNumber:       Unknown,
		PhaseName:      Unknown,
		LocalityName:   Unknown,
		PromoterName:   Unknown,
	}
}

// TicketEdit carries the administratively editable fields. Nil fields are left untouched.
type TicketEdit struct {
	PhaseID    *string              `json:"phase_id,omitempty"`
	LocalityID *string              `json:"locality_id,omitempty"`
	PromoterID *string              `json:"promoter_id,omitempty"`
	TicketType *TicketType          `json:"ticket_type,omitempty"`
	Price      *decimal.NullDecimal `json:"price,omitempty"`
}
