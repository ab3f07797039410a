package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/padma-erp/padma-erp/internal/platform/httpx"
	"github.com/padma-erp/padma-erp/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/card", h.handleStockCard)
	r.Post("/adjustments", h.handleAdjustment)
}

type adjustmentRequest struct {
	Code        string `json:"code"`
	WarehouseID int64  `json:"warehouseId" validate:"required,gt=0"`
	ProductID   int64  `json:"productId" validate:"required,gt=0"`
	Qty         int64  `json:"qty" validate:"required"`
	UnitCost    string `json:"unitCost"`
	Note        string `json:"note"`
}

type stockCardEntryResponse struct {
	TxCode      string    `json:"txCode"`
	TxType      string    `json:"txType"`
	PostedAt    time.Time `json:"postedAt"`
	QtyIn       int64     `json:"qtyIn"`
	QtyOut      int64     `json:"qtyOut"`
	BalanceQty  int64     `json:"balanceQty"`
	UnitCost    string    `json:"unitCost"`
	BalanceCost string    `json:"balanceCost"`
	Note        string    `json:"note,omitempty"`
}

func toCardResponse(entry StockCardEntry) stockCardEntryResponse {
	return stockCardEntryResponse{
		TxCode:      entry.TxCode,
		TxType:      string(entry.TxType),
		PostedAt:    entry.PostedAt,
		QtyIn:       entry.QtyIn,
		QtyOut:      entry.QtyOut,
		BalanceQty:  entry.BalanceQty,
		UnitCost:    entry.UnitCost.String(),
		BalanceCost: entry.BalanceCost.String(),
		Note:        entry.Note,
	}
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	warehouseID, err := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id is required")
		return
	}
	productID, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id is required")
		return
	}
	filter := StockCardFilter{WarehouseID: warehouseID, ProductID: productID, Limit: 500}
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
	}
	if to := q.Get("to"); to != "" {
		toTime, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = toTime.Add(24*time.Hour - time.Nanosecond)
	}

	entries, err := h.service.GetStockCard(r.Context(), filter)
	if err != nil {
		h.logger.Error("stock card lookup failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]stockCardEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toCardResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitCost := decimal.Zero
	if req.UnitCost != "" {
		parsed, err := decimal.NewFromString(req.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unitCost must be a decimal number")
			return
		}
		unitCost = parsed
	}
	actor := shared.ActorFromContext(r.Context())
	if actor.ID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return
	}

	entry, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		Code:        req.Code,
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		Qty:         req.Qty,
		UnitCost:    unitCost,
		Note:        req.Note,
		ActorID:     actor.ID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNegativeStock):
			httpx.Problem(w, http.StatusConflict, "Negative Stock", err.Error())
		case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		case errors.Is(err, shared.ErrIdempotencyConflict):
			httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
		default:
			h.logger.Error("adjustment failed", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, toCardResponse(entry))
}
