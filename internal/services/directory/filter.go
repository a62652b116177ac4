package directory

import (
	"strings"

	"ticket-backoffice/models"
)

// Filters are the free-text search predicates of the directory. They cannot
// be expressed as store queries, so any non-empty predicate switches the
// directory to the live source and is applied client-side.
type Filters struct {
	Name     string `json:"name"`
	IDNumber string `json:"id_number"`
	TicketID string `json:"ticket_id"`
}

func (f Filters) normalized() Filters {
	return Filters{
		Name:     strings.TrimSpace(f.Name),
		IDNumber: strings.TrimSpace(f.IDNumber),
		TicketID: strings.TrimSpace(f.TicketID),
	}
}

func (f Filters) Empty() bool {
	n := f.normalized()
	return n.Name == "" && n.IDNumber == "" && n.TicketID == ""
}

// UsingPagination reports whether the paginated source serves f.
func UsingPagination(f Filters) bool {
	return f.Empty()
}

// Matches applies every non-empty predicate conjunctively: case-insensitive
// substring on assistant name and ticket id, plain substring on the
// identification number.
func (f Filters) Matches(r models.EnrichedTicketRecord) bool {
	n := f.normalized()
	if n.Name != "" && !strings.Contains(strings.ToLower(r.AssistantName), strings.ToLower(n.Name)) {
		return false
	}
	if n.IDNumber != "" && !strings.Contains(r.IDNumber, n.IDNumber) {
		return false
	}
	if n.TicketID != "" && !strings.Contains(strings.ToLower(r.ID), strings.ToLower(n.TicketID)) {
		return false
	}
	return true
}

// Apply returns the records matching f, in their original order.
func Apply(records []models.EnrichedTicketRecord, f Filters) []models.EnrichedTicketRecord {
	if f.Empty() {
		return records
	}
	out := make([]models.EnrichedTicketRecord, 0, len(records))
	for _, r := range records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
