package transfer

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

// Handler wires HTTP endpoints for transactions and batch validation.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers transaction routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transactions", h.handleList)
	r.Post("/transactions", h.handleCreate)
	r.Get("/transactions/{id}", h.handleGet)
	r.Post("/transactions/{id}/dispatch", h.handleDispatch)
	r.Post("/transactions/{id}/accept", h.handleAccept)
	r.Post("/transactions/{id}/reject", h.handleReject)
	r.Get("/batches/{number}", h.handleGetBatch)
	r.Post("/batches/validate", h.handleValidateBatch)
}

type itemRequest struct {
	ItemTypeID uuid.UUID       `json:"itemTypeId" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type createRequest struct {
	Sender          party.Party   `json:"sender" validate:"required"`
	Receiver        party.Party   `json:"receiver" validate:"required"`
	Initiator       party.Party   `json:"initiator"`
	BatchNumber     *int64        `json:"batchNumber" validate:"omitempty,gt=0"`
	Purpose         string        `json:"purpose" validate:"max=255"`
	TransactionDate *time.Time    `json:"transactionDate"`
	Items           []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type receivedRequest struct {
	TransactionItemID uuid.UUID       `json:"transactionItemId" validate:"required"`
	ReceivedQuantity  decimal.Decimal `json:"receivedQuantity" validate:"gte=0"`
}

type acceptRequest struct {
	Items   []receivedRequest `json:"items" validate:"required,min=1,dive"`
	Comment string            `json:"comment" validate:"max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type validateBatchRequest struct {
	BatchNumber       int64     `json:"batchNumber" validate:"gt=0"`
	RequestingPartyID uuid.UUID `json:"requestingPartyId" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		Sender:         req.Sender,
		Receiver:       req.Receiver,
		Initiator:      req.Initiator,
		BatchNumber:    req.BatchNumber,
		Purpose:        req.Purpose,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Actor:          shared.ActorFromContext(r.Context()),
	}
	if req.TransactionDate != nil {
		input.TransactionDate = req.TransactionDate.UTC()
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{ItemTypeID: item.ItemTypeID, Quantity: item.Quantity})
	}
	t, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, "create transaction failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get transaction failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || number <= 0 {
		httpx.RespondError(w, ErrInvalidBatchNumber)
		return
	}
	t, err := h.service.GetByBatch(r.Context(), number)
	if err != nil {
		h.fail(w, "get batch failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		filter ListFilter
		err    error
	)
	if filter.Party, err = httpx.QueryParty(r, "party"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, err = httpx.QueryTime(r, "from", false); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = httpx.QueryTime(r, "to", true); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Status = Status(r.URL.Query().Get("status"))

	txs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list transactions failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Dispatch(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "dispatch transaction failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req acceptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := AcceptInput{
		TransactionID: id,
		Comment:       req.Comment,
		Actor:         shared.ActorFromContext(r.Context()),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ReceivedItem{
			TransactionItemID: item.TransactionItemID,
			ReceivedQuantity:  item.ReceivedQuantity,
		})
	}
	t, err := h.service.Accept(r.Context(), input)
	if err != nil {
		h.fail(w, "accept transaction failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Reject(r.Context(), RejectInput{
		TransactionID: id,
		Reason:        req.Reason,
		Actor:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "reject transaction failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req validateBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ValidateBatch(r.Context(), req.BatchNumber, req.RequestingPartyID)
	if err != nil {
		h.fail(w, "validate batch failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if shared.UserSafeMessage(err) == "internal error" {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
