package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/internal/store"
	"ticket-backoffice/models"
	"ticket-backoffice/utils"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// QRIssuer hands out the opaque reference printed into a ticket's QR code,
// checks scanned codes against it and removes it when the ticket is deleted.
type QRIssuer interface {
	Issue(ctx context.Context, ticketID string) (string, error)
	// Verify returns status.ErrInvalidCode when code does not belong to the
	// ticket, or when the ticket's code was revoked.
	Verify(ctx context.Context, ticketID, code string) error
	Revoke(ctx context.Context, ticketID string) error
}

// URLIssuer issues verification URLs of the form <base>?ticket=<id>&code=<code>.
// Only a bcrypt hash of the code is kept in Redis.
type URLIssuer struct {
	Redis   redis.Cmdable
	BaseURL string
	// RequireCode rejects scans that carry a bare ticket id and no code.
	RequireCode bool
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int
}

func NewURLIssuer(redisClient redis.Cmdable, baseURL string) *URLIssuer {
	return &URLIssuer{Redis: redisClient, BaseURL: strings.TrimRight(baseURL, "?")}
}

func qrKey(ticketID string) string { return "qr:" + ticketID }

func (i *URLIssuer) Issue(ctx context.Context, ticketID string) (string, error) {
	code, err := utils.GenerateCode(6)
	if err != nil {
		return "", fmt.Errorf("generate qr code: %w", err)
	}
	hash, err := utils.GenerateHash(code, i.HashCost)
	if err != nil {
		return "", fmt.Errorf("hash qr code: %w", err)
	}
	if err := i.Redis.Set(ctx, qrKey(ticketID), hash, 0).Err(); err != nil {
		return "", fmt.Errorf("store qr code: %w", err)
	}

	q := url.Values{}
	q.Set("ticket", ticketID)
	q.Set("code", code)
	return i.BaseURL + "?" + q.Encode(), nil
}

func (i *URLIssuer) Verify(ctx context.Context, ticketID, code string) error {
	if code == "" {
		if i.RequireCode {
			return status.ErrInvalidCode
		}
		return nil
	}

	hash, err := i.Redis.Get(ctx, qrKey(ticketID)).Result()
	if errors.Is(err, redis.Nil) {
		return status.ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("%w: load qr code: %v", status.ErrTransientIO, err)
	}
	if !utils.CompareHash(hash, code) {
		return status.ErrInvalidCode
	}
	return nil
}

func (i *URLIssuer) Revoke(ctx context.Context, ticketID string) error {
	return i.Redis.Del(ctx, qrKey(ticketID)).Err()
}

type Invalidator interface {
	Invalidate(ctx context.Context, c store.Collection, id string)
}

// RegistryService registers attendees and performs administrative edits and
// deletes. It never touches ticket status.
type RegistryService struct {
	store store.AdminStore
	qr    QRIssuer
	cache Invalidator
}

func NewRegistryService(s store.AdminStore, qr QRIssuer, cache Invalidator) *RegistryService {
	return &RegistryService{store: s, qr: qr, cache: cache}
}

func (s *RegistryService) Register(ctx context.Context, reg models.Registration) (*models.Ticket, error) {
	if err := validateRegistration(&reg); err != nil {
		return nil, err
	}

	ticketID, err := newTicketID()
	if err != nil {
		return nil, err
	}
	qr, err := s.qr.Issue(ctx, ticketID)
	if err != nil {
		slog.Error("Failed to issue QR code", "error", err, "ticket_id", ticketID)
		return nil, err
	}

	assistant := &models.Assistant{
		Name:               reg.Name,
		Email:              reg.Email,
		Phone:              reg.Phone,
		IdentificationNum:  reg.IdentificationNum,
		IdentificationType: reg.IdentificationType,
	}
	ticket := &models.Ticket{
		ID:         ticketID,
		EventID:    reg.EventID,
		PhaseID:    reg.PhaseID,
		LocalityID: reg.LocalityID,
		PromoterID: reg.PromoterID,
		TicketType: reg.TicketType,
		Price:      reg.Price,
		QRCode:     qr,
		Status:     models.StatusEnabled,
	}
	if err := s.store.CreateRegistration(ctx, assistant, ticket); err != nil {
		s.revoke(ctx, ticketID)
		slog.Error("Failed to create registration", "error", err, "ticket_id", ticketID)
		return nil, fmt.Errorf("create registration: %w", err)
	}

	slog.Info("Attendee registered", "ticket_id", ticket.ID, "event_id", ticket.EventID, "assistant_id", assistant.ID)
	return ticket, nil
}

// Update edits relational fields and price. Switching a ticket to courtesy
// clears its price.
func (s *RegistryService) Update(ctx context.Context, ticketID string, edit models.TicketEdit) (*models.Ticket, error) {
	if edit.TicketType != nil && !edit.TicketType.Valid() {
		return nil, fmt.Errorf("%w: ticket_type %q", status.ErrInvalidInput, *edit.TicketType)
	}
	if edit.TicketType != nil && *edit.TicketType == models.TicketCourtesy {
		edit.Price = &decimal.NullDecimal{}
	}
	if edit.Price != nil && edit.Price.Valid && edit.Price.Decimal.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", status.ErrInvalidInput)
	}
	for field, v := range map[string]*string{"phase_id": edit.PhaseID, "locality_id": edit.LocalityID} {
		if v != nil && strings.TrimSpace(*v) == "" {
			return nil, fmt.Errorf("%w: %s is required", status.ErrInvalidInput, field)
		}
	}

	ticket, err := s.store.UpdateTicketDetails(ctx, ticketID, edit)
	if err != nil {
		return nil, err
	}
	slog.Info("Ticket updated", "ticket_id", ticketID)
	return ticket, nil
}

// Delete removes the ticket, its assistant and its QR code.
func (s *RegistryService) Delete(ctx context.Context, ticketID string) error {
	ticket, err := s.store.DeleteTicket(ctx, ticketID)
	if err != nil {
		return err
	}

	s.revoke(ctx, ticket.ID)
	if s.cache != nil && ticket.AssistantID != "" {
		s.cache.Invalidate(ctx, store.CollectionAssistants, ticket.AssistantID)
	}

	slog.Info("Ticket deleted", "ticket_id", ticket.ID, "event_id", ticket.EventID, "assistant_id", ticket.AssistantID)
	return nil
}

func (s *RegistryService) revoke(ctx context.Context, ticketID string) {
	if err := s.qr.Revoke(ctx, ticketID); err != nil {
		slog.Warn("Failed to revoke QR code", "error", err, "ticket_id", ticketID)
	}
}

func validateRegistration(reg *models.Registration) error {
	reg.EventID = strings.TrimSpace(reg.EventID)
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.TrimSpace(reg.Email)

	var problems []string
	for _, f := range []struct{ name, value string }{
		{"event_id", reg.EventID},
		{"name", reg.Name},
		{"phase_id", reg.PhaseID},
		{"locality_id", reg.LocalityID},
	} {
		if strings.TrimSpace(f.value) == "" {
			problems = append(problems, f.name+" is required")
		}
	}
	if reg.Email != "" {
		if _, err := mail.ParseAddress(reg.Email); err != nil {
			problems = append(problems, "email is invalid")
		}
	}

	if reg.TicketType == "" {
		reg.TicketType = models.TicketStandard
	}
	switch {
	case !reg.TicketType.Valid():
		problems = append(problems, fmt.Sprintf("ticket_type %q is invalid", reg.TicketType))
	case reg.TicketType == models.TicketCourtesy:
		reg.Price = decimal.NullDecimal{}
	case reg.Price.Valid && reg.Price.Decimal.IsNegative():
		problems = append(problems, "price must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", status.ErrInvalidInput, strings.Join(problems, ", "))
	}
	return nil
}

// newTicketID returns 15 lowercase hex characters, which every store backend
// accepts as a record id.
func newTicketID() (string, error) {
	code, err := utils.GenerateCode(8)
	if err != nil {
		return "", errors.Join(status.ErrTransientIO, err)
	}
	return strings.ToLower(code)[:15], nil
}
