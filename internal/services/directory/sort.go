package directory

import (
	"cmp"
	"sort"
	"strings"
	"time"

	"ticket-backoffice/models"
)

type SortKey string

const (
	SortID             SortKey = "id"
	SortCreatedAt      SortKey = "created_at"
	SortUpdatedAt      SortKey = "updated_at"
	SortCheckedInAt    SortKey = "checked_in_at"
	SortAssistantName  SortKey = "assistant_name"
	SortAssistantEmail SortKey = "assistant_email"
	SortPhoneNumber    SortKey = "phone_number"
	SortIDNumber       SortKey = "id_number"
	SortPhaseName      SortKey = "phase_name"
	SortLocalityName   SortKey = "locality_name"
	SortPromoterName   SortKey = "promoter_name"
	SortStatus         SortKey = "status"
	SortTicketType     SortKey = "ticket_type"
	SortPrice          SortKey = "price"
)

var sortKeys = map[SortKey]bool{
	SortID: true, SortCreatedAt: true, SortUpdatedAt: true, SortCheckedInAt: true,
	SortAssistantName: true, SortAssistantEmail: true, SortPhoneNumber: true, SortIDNumber: true,
	SortPhaseName: true, SortLocalityName: true, SortPromoterName: true,
	SortStatus: true, SortTicketType: true, SortPrice: true,
}

func ParseSortKey(s string) (SortKey, bool) {
	k := SortKey(strings.ToLower(strings.TrimSpace(s)))
	return k, sortKeys[k]
}

type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

type SortState struct {
	Key       SortKey       `json:"key"`
	Direction SortDirection `json:"direction"`
}

// DefaultSort matches the store's paginated order.
var DefaultSort = SortState{Key: SortCreatedAt, Direction: Descending}

// Toggle flips the direction when key is already selected and otherwise
// selects key ascending.
func (s SortState) Toggle(key SortKey) SortState {
	if s.Key == key {
		if s.Direction == Ascending {
			return SortState{Key: key, Direction: Descending}
		}
		return SortState{Key: key, Direction: Ascending}
	}
	return SortState{Key: key, Direction: Ascending}
}

// sortValue is a field normalized to a comparable primitive. Absent values
// compare equal to each other and before anything present.
type sortValue struct {
	absent bool
	isNum  bool
	num    float64
	str    string
}

func compareValues(a, b sortValue) int {
	switch {
	case a.absent && b.absent:
		return 0
	case a.absent:
		return -1
	case b.absent:
		return 1
	case a.isNum && b.isNum:
		return cmp.Compare(a.num, b.num)
	}
	return strings.Compare(a.str, b.str)
}

func stringValue(s string) sortValue {
	if s == "" || s == models.Unknown {
		return sortValue{absent: true}
	}
	return sortValue{str: strings.ToLower(s)}
}

func timeValue(t time.Time) sortValue {
	if t.IsZero() {
		return sortValue{absent: true}
	}
	return sortValue{isNum: true, num: float64(t.UnixMilli())}
}

func normalize(r models.EnrichedTicketRecord, key SortKey) sortValue {
	switch key {
	case SortID:
		return stringValue(r.ID)
	case SortCreatedAt:
		return timeValue(r.CreatedAt)
	case SortUpdatedAt:
		return timeValue(r.UpdatedAt)
	case SortCheckedInAt:
		if r.CheckedInAt == nil {
			return sortValue{absent: true}
		}
		return timeValue(*r.CheckedInAt)
	case SortAssistantName:
		return stringValue(r.AssistantName)
	case SortAssistantEmail:
		return stringValue(r.AssistantEmail)
	case SortPhoneNumber:
		return stringValue(r.PhoneNumber)
	case SortIDNumber:
		return stringValue(r.IDNumber)
	case SortPhaseName:
		return stringValue(r.PhaseName)
	case SortLocalityName:
		return stringValue(r.LocalityName)
	case SortPromoterName:
		return stringValue(r.PromoterName)
	case SortStatus:
		return stringValue(string(r.Status))
	case SortTicketType:
		return stringValue(string(r.TicketType))
	case SortPrice:
		if !r.Price.Valid {
			return sortValue{absent: true}
		}
		return sortValue{isNum: true, num: r.Price.Decimal.InexactFloat64()}
	}
	return sortValue{absent: true}
}

// Sort returns a sorted copy of records. Equal values keep their relative order.
func Sort(records []models.EnrichedTicketRecord, state SortState) []models.EnrichedTicketRecord {
	if state.Key == "" {
		out := make([]models.EnrichedTicketRecord, len(records))
		copy(out, records)
		return out
	}

	values := make([]sortValue, len(records))
	idx := make([]int, len(records))
	for i := range records {
		values[i] = normalize(records[i], state.Key)
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		c := compareValues(values[idx[i]], values[idx[j]])
		if state.Direction == Descending {
			return c > 0
		}
		return c < 0
	})

	out := make([]models.EnrichedTicketRecord, len(records))
	for i, k := range idx {
		out[i] = records[k]
	}
	return out
}
