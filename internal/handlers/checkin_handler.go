package handlers

import (
	"errors"
	"net/http"

	"ticket-backoffice/internal/services/checkin"
	"ticket-backoffice/security"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type CheckInHandler struct {
	scanners *checkin.ScannerPool
}

func NewCheckInHandler(scanners *checkin.ScannerPool) *CheckInHandler {
	return &CheckInHandler{scanners: scanners}
}

// Scan - A scanner decoded a QR code
func (h *CheckInHandler) Scan(e *core.RequestEvent) error {
	var req struct {
		ScannerID string `json:"scanner_id"`
		Code      string `json:"code"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	scanner := h.scanners.Get(security.ScannerID(e, req.ScannerID))
	result, accepted := scanner.HandleDecode(e.Request.Context(), req.Code)
	if !accepted {
		return e.JSON(http.StatusAccepted, map[string]any{"dropped": true})
	}

	return e.JSON(http.StatusOK, result)
}

// DecodeError - A scanner failed to decode a frame
func (h *CheckInHandler) DecodeError(e *core.RequestEvent) error {
	var req struct {
		ScannerID string `json:"scanner_id"`
		Error     string `json:"error"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	h.scanners.Get(security.ScannerID(e, req.ScannerID)).HandleDecodeError(errors.New(req.Error))
	return e.NoContent(http.StatusNoContent)
}
