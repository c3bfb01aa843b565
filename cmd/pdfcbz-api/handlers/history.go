package handlers

import (
	"net/http"

	"github.com/spherical/pdfcbz/internal/app"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/observability"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// HistoryHandler serves the conversion ledger.
type HistoryHandler struct {
	logger *observability.Logger
	app    *app.App
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(logger *observability.Logger, a *app.App) *HistoryHandler {
	return &HistoryHandler{
		logger: logger.WithComponent("api-history"),
		app:    a,
	}
}

// HistoryResponse is the body of GET /v1/history.
type HistoryResponse struct {
	Enabled bool                      `json:"enabled"`
	Records []domain.ConversionRecord `json:"records"`
}

// List handles GET /v1/history?limit=N.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	if limit <= 0 || limit > maxHistoryLimit {
		writeDomainError(w, log, domain.ValidationError("limit must be between 1 and 500", nil))
		return
	}

	records, err := h.app.Service.History(r.Context(), limit)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	if records == nil {
		records = []domain.ConversionRecord{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Enabled: h.app.Ledger != nil,
		Records: records,
	})
}
