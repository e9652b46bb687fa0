package resolution

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

// Handler wires HTTP endpoints for resolutions.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs resolution handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers resolution routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock/{id}/resolutions", h.handleResolve)
	r.Get("/stock/{id}/resolutions", h.handleListForStock)
	r.Get("/transactions/{id}/resolutions", h.handleListForTransaction)
}

type resolveRequest struct {
	ResolutionType    Type             `json:"resolutionType" validate:"required,oneof=ACKNOWLEDGE_LOSS COUNTING_ERROR FOUND_ITEMS REPORT_THEFT ACCEPT_SURPLUS RETURN_TO_SENDER"`
	Notes             string           `json:"notes" validate:"max=1000"`
	CorrectedQuantity *decimal.Decimal `json:"correctedQuantity"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Resolve(r.Context(), ResolveInput{
		StockRecordID:     id,
		Type:              req.ResolutionType,
		Notes:             req.Notes,
		CorrectedQuantity: req.CorrectedQuantity,
		Actor:             shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "resolve failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) handleListForStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListForStock(r.Context(), id)
	if err != nil {
		h.fail(w, "list resolutions failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resolutions": list})
}

func (h *Handler) handleListForTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListForTransaction(r.Context(), id)
	if err != nil {
		h.fail(w, "list resolutions failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resolutions": list})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if shared.UserSafeMessage(err) == "internal error" {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
