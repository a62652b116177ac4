package handlers

import (
	"net/http"

	"ticket-backoffice/internal/services"
	"ticket-backoffice/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AdminHandler struct {
	registry   *services.RegistryService
	attendance *services.AttendanceService
}

func NewAdminHandler(registry *services.RegistryService, attendance *services.AttendanceService) *AdminHandler {
	return &AdminHandler{
		registry:   registry,
		attendance: attendance,
	}
}

// RegisterTicket - Register an attendee and issue their ticket
func (h *AdminHandler) RegisterTicket(e *core.RequestEvent) error {
	var req models.Registration
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ticket, err := h.registry.Register(e.Request.Context(), req)
	if err != nil {
		return apiError("Failed to register attendee", err)
	}

	return e.JSON(http.StatusCreated, ticket)
}

// UpdateTicket - Edit relational fields or price of a ticket
func (h *AdminHandler) UpdateTicket(e *core.RequestEvent) error {
	var edit models.TicketEdit
	if err := e.BindBody(&edit); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ticket, err := h.registry.Update(e.Request.Context(), e.Request.PathValue("ticketId"), edit)
	if err != nil {
		return apiError("Failed to update ticket", err)
	}

	return e.JSON(http.StatusOK, ticket)
}

// DeleteTicket - Delete a ticket together with its assistant and QR code
func (h *AdminHandler) DeleteTicket(e *core.RequestEvent) error {
	if err := h.registry.Delete(e.Request.Context(), e.Request.PathValue("ticketId")); err != nil {
		return apiError("Failed to delete ticket", err)
	}
	return e.NoContent(http.StatusNoContent)
}

// GetAttendance - Door dashboard counters for one event
func (h *AdminHandler) GetAttendance(e *core.RequestEvent) error {
	stats, err := h.attendance.Stats(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return apis.NewBadRequestError("Failed to get attendance", err)
	}
	return e.JSON(http.StatusOK, stats)
}
