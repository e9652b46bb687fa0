package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

// Handler wires HTTP endpoints for stock records and the movement ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.handleListStock)
	r.Get("/stock/summary", h.handleSummary)
	r.Get("/stock/{id}", h.handleGetStock)
	r.Post("/stock/inbound", h.handleInbound)
	r.Post("/stock/consume", h.handleConsume)
	r.Get("/ledger", h.handleHistory)
	r.Get("/ledger/discrepancies", h.handleDiscrepancies)
	r.Get("/ledger/reconcile", h.handleReconcile)
	r.Get("/ledger/reconcile/recent", h.handleReconcileRecent)
}

type inboundRequest struct {
	Holder     party.Party     `json:"holder" validate:"required"`
	ItemTypeID uuid.UUID       `json:"itemTypeId" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	Notes      string          `json:"notes" validate:"max=500"`
}

type consumeRequest struct {
	Equipment  party.Party     `json:"equipment" validate:"required"`
	ItemTypeID uuid.UUID       `json:"itemTypeId" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	Notes      string          `json:"notes" validate:"max=500"`
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.ReceiveInbound(r.Context(), InboundInput{
		Holder:     req.Holder,
		ItemTypeID: req.ItemTypeID,
		Quantity:   req.Quantity,
		Notes:      req.Notes,
		Actor:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "receive inbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Consume(r.Context(), ConsumeInput{
		Holder:     req.Equipment,
		ItemTypeID: req.ItemTypeID,
		Quantity:   req.Quantity,
		Notes:      req.Notes,
		Actor:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "consume failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"movements": entries})
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.GetStock(r.Context(), id)
	if err != nil {
		h.fail(w, "get stock failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	var (
		filter StockFilter
		err    error
	)
	if filter.Holder, err = httpx.QueryParty(r, "holder"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.ItemTypeID, err = httpx.QueryUUID(r, "itemTypeId"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.TransactionID, err = httpx.QueryUUID(r, "transactionId"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Status = StockStatus(r.URL.Query().Get("status"))
	filter.OnlyFlagged = r.URL.Query().Get("flagged") == "true"

	recs, err := h.service.ListStock(r.Context(), filter)
	if err != nil {
		h.fail(w, "list stock failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	holder, err := httpx.QueryParty(r, "holder")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.Summary(r.Context(), holder)
	if err != nil {
		h.fail(w, "stock summary failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"holder": holder, "lines": lines})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMovementFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.fail(w, "ledger history failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": entries})
}

func (h *Handler) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMovementFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Discrepancies(r.Context(), filter)
	if err != nil {
		h.fail(w, "discrepancy report failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": entries})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	holder, err := httpx.QueryParty(r, "holder")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemTypeID, err := httpx.QueryUUID(r, "itemTypeId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Reconcile(r.Context(), holder, itemTypeID)
	if err != nil {
		h.fail(w, "reconcile failed", err)
		return
	}
	if !rec.Balanced {
		h.logger.Warn("ledger out of balance",
			slog.String("holder", holder.String()),
			slog.String("item_type_id", itemTypeID.String()),
			slog.String("ledger", rec.LedgerBalance.String()),
			slog.String("stock", rec.StockBalance.String()))
	}
	httpx.JSON(w, http.StatusOK, rec)
}

// recentWindow is the default look-back of the recent reconciliation report.
const recentWindow = 24 * time.Hour

func (h *Handler) handleReconcileRecent(w http.ResponseWriter, r *http.Request) {
	since, err := httpx.QueryTime(r, "since", false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if since.IsZero() {
		since = time.Now().Add(-recentWindow)
	}
	results, err := h.service.ReconcileSince(r.Context(), since)
	if err != nil {
		h.fail(w, "recent reconcile failed", err)
		return
	}
	unbalanced := 0
	for _, rc := range results {
		if !rc.Balanced {
			unbalanced++
		}
	}
	if unbalanced > 0 {
		h.logger.Warn("ledger out of balance", slog.Int("pairs", unbalanced), slog.Time("since", since))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"since": since, "results": results, "unbalanced": unbalanced})
}

func parseMovementFilter(r *http.Request) (MovementFilter, error) {
	var (
		filter MovementFilter
		err    error
	)
	if filter.TransactionID, err = httpx.QueryUUID(r, "transactionId"); err != nil {
		return filter, err
	}
	if filter.StockRecordID, err = httpx.QueryUUID(r, "stockRecordId"); err != nil {
		return filter, err
	}
	if filter.Holder, err = httpx.QueryParty(r, "holder"); err != nil {
		return filter, err
	}
	if filter.ItemTypeID, err = httpx.QueryUUID(r, "itemTypeId"); err != nil {
		return filter, err
	}
	if filter.From, err = httpx.QueryTime(r, "from", false); err != nil {
		return filter, err
	}
	if filter.To, err = httpx.QueryTime(r, "to", true); err != nil {
		return filter, err
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		return filter, err
	}
	filter.Type = MovementType(r.URL.Query().Get("type"))
	return filter, nil
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if shared.UserSafeMessage(err) == "internal error" {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
