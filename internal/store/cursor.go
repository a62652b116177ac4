package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/models"
)

// Cursor points at the last ticket of a page. Tickets are ordered by
// created_at with the id as tie-break, so the pair identifies a unique position.
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func CursorFor(t models.Ticket) Cursor {
	return Cursor{CreatedAt: t.CreatedAt.UTC(), ID: t.ID}
}

func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by Encode. The empty token yields a nil cursor.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", status.ErrInvalidInput)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil || c.ID == "" {
		return nil, fmt.Errorf("%w: malformed cursor", status.ErrInvalidInput)
	}
	return &c, nil
}

// After reports whether t comes strictly after the cursor in direction dir.
func (c Cursor) After(t models.Ticket, dir Direction) bool {
	cmp := compareTicketPosition(t, c.CreatedAt, c.ID)
	if dir == Descending {
		return cmp < 0
	}
	return cmp > 0
}

func compareTicketPosition(t models.Ticket, createdAt time.Time, id string) int {
	switch {
	case t.CreatedAt.Before(createdAt):
		return -1
	case t.CreatedAt.After(createdAt):
		return 1
	case t.ID < id:
		return -1
	case t.ID > id:
		return 1
	}
	return 0
}

// pageFrom trims an over-fetched result (limit+1 rows) into a Page.
func pageFrom(items []models.Ticket, limit int) *Page {
	page := &Page{}
	if len(items) > limit {
		page.HasMore = true
		items = items[:limit]
	}
	page.Items = items
	if len(items) > 0 {
		page.Trailing = CursorFor(items[len(items)-1]).Encode()
	}
	return page
}
