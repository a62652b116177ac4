package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

// PocketBaseStore reads and writes the directory collections through the
// embedded PocketBase app. Ticket subscriptions are fed by the app's record
// hooks, so writes made through the admin UI reach live views too.
type PocketBaseStore struct {
	app core.App
	hub *changeHub
}

func NewPocketBaseStore(app core.App) *PocketBaseStore {
	s := &PocketBaseStore{app: app, hub: newChangeHub()}

	notify := func(e *core.RecordEvent) error {
		s.hub.notify(e.Record.GetString("event_id"))
		return e.Next()
	}
	app.OnRecordAfterCreateSuccess(string(CollectionTickets)).BindFunc(notify)
	app.OnRecordAfterUpdateSuccess(string(CollectionTickets)).BindFunc(notify)
	app.OnRecordAfterDeleteSuccess(string(CollectionTickets)).BindFunc(notify)

	return s
}

func (s *PocketBaseStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	record, err := s.findRecord(ctx, s.app, CollectionTickets, id)
	if err != nil {
		return nil, err
	}
	t := ticketFromRecord(record)
	return &t, nil
}

func (s *PocketBaseStore) QueryTickets(ctx context.Context, q TicketQuery) (*Page, error) {
	if q.Limit <= 0 {
		return nil, status.ErrInvalidInput
	}
	after, err := DecodeCursor(q.After)
	if err != nil {
		return nil, err
	}

	query := s.app.RecordQuery(string(CollectionTickets)).
		WithContext(ctx).
		AndWhere(dbx.HashExp{"event_id": q.EventID})
	if after != nil {
		op := "<"
		if q.Direction == Ascending {
			op = ">"
		}
		query = query.AndWhere(dbx.NewExp(
			fmt.Sprintf("([[created]] %s {:cursorCreated} OR ([[created]] = {:cursorCreated} AND [[id]] %s {:cursorId}))", op, op),
			dbx.Params{
				"cursorCreated": after.CreatedAt.UTC().Format(types.DefaultDateLayout),
				"cursorId":      after.ID,
			},
		))
	}

	records := []*core.Record{}
	err = query.
		OrderBy(orderTerms(q.Direction)...).
		Limit(int64(q.Limit + 1)).
		All(&records)
	if err != nil {
		return nil, transient(err)
	}

	items := make([]models.Ticket, 0, len(records))
	for _, record := range records {
		items = append(items, ticketFromRecord(record))
	}
	return pageFrom(items, q.Limit), nil
}

func (s *PocketBaseStore) ListTickets(ctx context.Context, eventID string, dir Direction) ([]models.Ticket, error) {
	records := []*core.Record{}
	err := s.app.RecordQuery(string(CollectionTickets)).
		WithContext(ctx).
		AndWhere(dbx.HashExp{"event_id": eventID}).
		OrderBy(orderTerms(dir)...).
		All(&records)
	if err != nil {
		return nil, transient(err)
	}

	tickets := make([]models.Ticket, 0, len(records))
	for _, record := range records {
		tickets = append(tickets, ticketFromRecord(record))
	}
	return tickets, nil
}

func (s *PocketBaseStore) SubscribeTickets(ctx context.Context, eventID string, dir Direction) (<-chan TicketSnapshot, error) {
	signals, unsubscribe := s.hub.subscribe(eventID)
	out := make(chan TicketSnapshot, 1)
	go runSubscription(ctx, eventID, signals, unsubscribe, func(ctx context.Context) ([]models.Ticket, error) {
		return s.ListTickets(ctx, eventID, dir)
	}, out)
	return out, nil
}

func (s *PocketBaseStore) UpdateTicketStatus(ctx context.Context, id string, patch StatusPatch, expect models.TicketStatus) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		record, err := s.findRecord(ctx, txApp, CollectionTickets, id)
		if err != nil {
			return err
		}
		if record.GetString("status") != string(expect) {
			return status.ErrPreconditionFailed
		}

		record.Set("status", string(patch.Status))
		if patch.CheckedInAt != nil {
			record.Set("checked_in_at", patch.CheckedInAt.UTC())
		} else {
			record.Set("checked_in_at", "")
		}
		if err := txApp.SaveWithContext(ctx, record); err != nil {
			return transient(err)
		}
		return nil
	})
}

func (s *PocketBaseStore) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	record, err := s.findRecord(ctx, s.app, CollectionAssistants, id)
	if err != nil {
		return nil, err
	}
	a := assistantFromRecord(record)
	return &a, nil
}

func (s *PocketBaseStore) GetNamed(ctx context.Context, c Collection, id string) (*models.NamedEntity, error) {
	if !isNamedCollection(c) {
		return nil, fmt.Errorf("%w: %s is not a named collection", status.ErrInvalidInput, c)
	}
	record, err := s.findRecord(ctx, s.app, c, id)
	if err != nil {
		return nil, err
	}
	return &models.NamedEntity{ID: record.Id, Name: record.GetString("name")}, nil
}

func (s *PocketBaseStore) FindAssistants(ctx context.Context, ids []string) (map[string]*models.Assistant, error) {
	records, err := s.findRecords(ctx, CollectionAssistants, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Assistant, len(records))
	for _, record := range records {
		a := assistantFromRecord(record)
		out[a.ID] = &a
	}
	return out, nil
}

func (s *PocketBaseStore) FindNamed(ctx context.Context, c Collection, ids []string) (map[string]*models.NamedEntity, error) {
	if !isNamedCollection(c) {
		return nil, fmt.Errorf("%w: %s is not a named collection", status.ErrInvalidInput, c)
	}
	records, err := s.findRecords(ctx, c, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.NamedEntity, len(records))
	for _, record := range records {
		out[record.Id] = &models.NamedEntity{ID: record.Id, Name: record.GetString("name")}
	}
	return out, nil
}

func (s *PocketBaseStore) CreateNamed(ctx context.Context, c Collection, e *models.NamedEntity) error {
	if !isNamedCollection(c) {
		return fmt.Errorf("%w: %s is not a named collection", status.ErrInvalidInput, c)
	}
	collection, err := s.app.FindCollectionByNameOrId(string(c))
	if err != nil {
		return transient(err)
	}

	record := core.NewRecord(collection)
	if e.ID != "" {
		record.Id = e.ID
	}
	record.Set("name", e.Name)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return transient(err)
	}
	e.ID = record.Id
	return nil
}

// CreateRegistration saves both records in one transaction.
func (s *PocketBaseStore) CreateRegistration(ctx context.Context, a *models.Assistant, t *models.Ticket) error {
	created := *a
	err := s.app.RunInTransaction(func(txApp core.App) error {
		if err := saveAssistant(ctx, txApp, &created); err != nil {
			return err
		}
		t.AssistantID = created.ID
		return saveTicket(ctx, txApp, t)
	})
	if err != nil {
		return err
	}
	*a = created
	return nil
}

func saveAssistant(ctx context.Context, app core.App, a *models.Assistant) error {
	collection, err := app.FindCollectionByNameOrId(string(CollectionAssistants))
	if err != nil {
		return transient(err)
	}

	record := core.NewRecord(collection)
	if a.ID != "" {
		record.Id = a.ID
	}
	record.Set("name", a.Name)
	record.Set("email", a.Email)
	record.Set("phone", a.Phone)
	record.Set("identification_number", a.IdentificationNum)
	record.Set("identification_type", a.IdentificationType)
	if err := app.SaveWithContext(ctx, record); err != nil {
		return transient(err)
	}

	*a = assistantFromRecord(record)
	return nil
}

func saveTicket(ctx context.Context, app core.App, t *models.Ticket) error {
	collection, err := app.FindCollectionByNameOrId(string(CollectionTickets))
	if err != nil {
		return transient(err)
	}

	record := core.NewRecord(collection)
	if t.ID != "" {
		record.Id = t.ID
	}
	record.Set("event_id", t.EventID)
	record.Set("assistant_id", t.AssistantID)
	record.Set("qr_code", t.QRCode)
	record.Set("status", string(t.Status))
	if t.CheckedInAt != nil {
		record.Set("checked_in_at", t.CheckedInAt.UTC())
	}
	setTicketDetails(record, models.TicketEdit{
		PhaseID:    &t.PhaseID,
		LocalityID: &t.LocalityID,
		PromoterID: &t.PromoterID,
		TicketType: &t.TicketType,
		Price:      &t.Price,
	})
	if err := app.SaveWithContext(ctx, record); err != nil {
		return transient(err)
	}

	*t = ticketFromRecord(record)
	return nil
}

func (s *PocketBaseStore) UpdateTicketDetails(ctx context.Context, id string, edit models.TicketEdit) (*models.Ticket, error) {
	record, err := s.findRecord(ctx, s.app, CollectionTickets, id)
	if err != nil {
		return nil, err
	}
	setTicketDetails(record, edit)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return nil, transient(err)
	}
	t := ticketFromRecord(record)
	return &t, nil
}

func (s *PocketBaseStore) DeleteTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var deleted models.Ticket
	err := s.app.RunInTransaction(func(txApp core.App) error {
		record, err := s.findRecord(ctx, txApp, CollectionTickets, id)
		if err != nil {
			return err
		}
		deleted = ticketFromRecord(record)
		if err := txApp.DeleteWithContext(ctx, record); err != nil {
			return transient(err)
		}

		assistant, err := s.findRecord(ctx, txApp, CollectionAssistants, deleted.AssistantID)
		if errors.Is(err, status.ErrNotFound) {
			slog.Warn("Deleted ticket had no assistant", "ticketID", id, "assistantID", deleted.AssistantID)
			return nil
		}
		if err != nil {
			return err
		}
		if err := txApp.DeleteWithContext(ctx, assistant); err != nil {
			return transient(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

func (s *PocketBaseStore) Ping(ctx context.Context) error {
	if _, err := s.app.DB().NewQuery("SELECT 1").WithContext(ctx).Execute(); err != nil {
		return transient(err)
	}
	return nil
}

// Close is a no-op: the app lifecycle belongs to the caller.
func (s *PocketBaseStore) Close(ctx context.Context) error {
	return nil
}

func (s *PocketBaseStore) findRecord(ctx context.Context, app core.App, c Collection, id string) (*core.Record, error) {
	if id == "" {
		return nil, status.ErrNotFound
	}
	record := &core.Record{}
	err := app.RecordQuery(string(c)).
		WithContext(ctx).
		AndWhere(dbx.HashExp{"id": id}).
		Limit(1).
		One(record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrNotFound
	}
	if err != nil {
		return nil, transient(err)
	}
	return record, nil
}

func (s *PocketBaseStore) findRecords(ctx context.Context, c Collection, ids []string) ([]*core.Record, error) {
	ids = dedup(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	records := []*core.Record{}
	err := s.app.RecordQuery(string(c)).
		WithContext(ctx).
		AndWhere(dbx.In("id", values...)).
		All(&records)
	if err != nil {
		return nil, transient(err)
	}
	return records, nil
}

func orderTerms(dir Direction) []string {
	if dir == Ascending {
		return []string{"created ASC", "id ASC"}
	}
	return []string{"created DESC", "id DESC"}
}

func setTicketDetails(record *core.Record, edit models.TicketEdit) {
	if edit.PhaseID != nil {
		record.Set("phase_id", *edit.PhaseID)
	}
	if edit.LocalityID != nil {
		record.Set("locality_id", *edit.LocalityID)
	}
	if edit.PromoterID != nil {
		record.Set("promoter_id", *edit.PromoterID)
	}
	if edit.TicketType != nil {
		record.Set("ticket_type", string(*edit.TicketType))
	}
	if edit.Price != nil {
		record.Set("price", formatPrice(*edit.Price))
	}
}

func ticketFromRecord(record *core.Record) models.Ticket {
	t := models.Ticket{
		ID:          record.Id,
		EventID:     record.GetString("event_id"),
		AssistantID: record.GetString("assistant_id"),
		PhaseID:     record.GetString("phase_id"),
		LocalityID:  record.GetString("locality_id"),
		PromoterID:  record.GetString("promoter_id"),
		TicketType:  models.TicketType(record.GetString("ticket_type")),
		QRCode:      record.GetString("qr_code"),
		Status:      models.TicketStatus(record.GetString("status")),
		CreatedAt:   record.GetDateTime("created").Time(),
		UpdatedAt:   record.GetDateTime("updated").Time(),
	}
	t.Price = parsePrice(record.Id, record.GetString("price"))
	if checkedIn := record.GetDateTime("checked_in_at"); !checkedIn.IsZero() {
		at := checkedIn.Time()
		t.CheckedInAt = &at
	}
	return t
}

func assistantFromRecord(record *core.Record) models.Assistant {
	return models.Assistant{
		ID:                 record.Id,
		Name:               record.GetString("name"),
		Email:              record.GetString("email"),
		Phone:              record.GetString("phone"),
		IdentificationNum:  record.GetString("identification_number"),
		IdentificationType: record.GetString("identification_type"),
		CreatedAt:          record.GetDateTime("created").Time(),
		UpdatedAt:          record.GetDateTime("updated").Time(),
	}
}

// transient marks backend failures the caller may retry.
func transient(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", status.ErrTransientIO, err)
}

var _ Store = (*PocketBaseStore)(nil)
var _ Store = (*MemoryStore)(nil)
