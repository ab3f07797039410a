package procurement

import (
	"context"
	"encoding/json"
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

// Handler wires HTTP endpoints for the procurement module.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	cache        *Cache
	validate     *validator.Validate
	hubWarehouse int64
}

// NewHandler constructs the procurement handler. hubWarehouse is the default
// receiving warehouse when the request does not name one; cache may be nil.
func NewHandler(logger *slog.Logger, service *Service, cache *Cache, hubWarehouse int64) *Handler {
	return &Handler{logger: logger, service: service, cache: cache, validate: validator.New(), hubWarehouse: hubWarehouse}
}

func (h *Handler) bumpCache(ctx context.Context) {
	if err := h.cache.Bump(ctx); err != nil {
		h.logger.Warn("cache bump failed", slog.Any("error", err))
	}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/pos", h.handleCreate)
	r.Get("/pos", h.handleList)
	r.Get("/pos/{id}", h.handleGet)
	r.Delete("/pos/{id}", h.handleDelete)
	r.Post("/pos/{id}/status", h.handleChangeStatus)
	r.Post("/pos/{id}/receive", h.handleReceive)
}

type poItemRequest struct {
	ProductID     int64  `json:"productId" validate:"required,gt=0"`
	ChinaPrice    string `json:"chinaPrice" validate:"required"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	LostItemPrice string `json:"lostItemPrice"`
	ShippingCost  string `json:"shippingCost"`
	UnitWeight    string `json:"unitWeight"`
	ExtraWeight   string `json:"extraWeight"`
}

type createPORequest struct {
	SupplierID        int64           `json:"supplierId" validate:"required,gt=0"`
	ExchangeRate      string          `json:"exchangeRate" validate:"required"`
	ShippingCost      string          `json:"shippingCost"`
	TotalShippingCost string          `json:"totalShippingCost"`
	ExtraCostGlobal   string          `json:"extraCostGlobal"`
	Note              string          `json:"note"`
	Items             []poItemRequest `json:"items" validate:"required,min=1,dive"`
}

type changeStatusRequest struct {
	Status  string `json:"status" validate:"required"`
	Comment string `json:"comment"`
}

type receiveLineRequest struct {
	ItemID           int64 `json:"itemId" validate:"required,gt=0"`
	ReceivedQuantity int64 `json:"receivedQuantity" validate:"gte=0"`
	StockedQuantity  int64 `json:"stockedQuantity" validate:"gte=0"`
}

type receiveRequest struct {
	WarehouseID int64                `json:"warehouseId"`
	Lines       []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type poItemResponse struct {
	ID               int64  `json:"id"`
	ProductID        int64  `json:"productId"`
	ChinaPrice       string `json:"chinaPrice"`
	Quantity         int64  `json:"quantity"`
	ReceivedQuantity int64  `json:"receivedQuantity"`
	StockedQuantity  int64  `json:"stockedQuantity"`
	LostQuantity     int64  `json:"lostQuantity"`
	LostItemPrice    string `json:"lostItemPrice"`
	ShippingCost     string `json:"shippingCost"`
	UnitWeight       string `json:"unitWeight"`
	ExtraWeight      string `json:"extraWeight"`
}

type costSummaryResponse struct {
	TotalQuantity            int64   `json:"totalQuantity"`
	TotalReceivedQuantity    int64   `json:"totalReceivedQuantity"`
	TotalLostQuantity        int64   `json:"totalLostQuantity"`
	EffectiveQuantity        int64   `json:"effectiveQuantity"`
	TotalSourceCost          string  `json:"totalSourceCost"`
	TotalSourceCostBDT       string  `json:"totalSourceCostBdt"`
	TotalLostValue           string  `json:"totalLostValue"`
	TotalLandedCost          string  `json:"totalLandedCost"`
	AverageLandedCostPerUnit string  `json:"averageLandedCostPerUnit"`
	LostPercentage           float64 `json:"lostPercentage"`
}

type statusLogResponse struct {
	OldStatus string    `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	ChangedBy int64     `json:"changedBy"`
	Comment   string    `json:"comment,omitempty"`
	At        time.Time `json:"at"`
}

type poResponse struct {
	ID                 int64      `json:"id"`
	PONumber           string     `json:"poNumber"`
	SupplierID         int64      `json:"supplierId"`
	Status             string     `json:"status"`
	ExchangeRate       string     `json:"exchangeRate"`
	TotalAmount        string     `json:"totalAmount"`
	ShippingCost       string     `json:"shippingCost"`
	TotalShippingCost  string     `json:"totalShippingCost"`
	ExtraCostGlobal    string     `json:"extraCostGlobal"`
	TotalWeight        string     `json:"totalWeight"`
	RefundAmount       string     `json:"refundAmount"`
	CreditNoteNumber   string     `json:"creditNoteNumber,omitempty"`
	RefundAutoCredited bool       `json:"refundAutoCredited"`
	RefundedAt         *time.Time `json:"refundedAt,omitempty"`
	Note               string     `json:"note,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

type receiveResponse struct {
	LostPercentage   float64             `json:"lostPercentage"`
	RefundAmount     string              `json:"refundAmount"`
	CreditNoteNumber string              `json:"creditNoteNumber,omitempty"`
	AutoCredited     bool                `json:"autoCredited"`
	Summary          costSummaryResponse `json:"summary"`
}

func toPOResponse(po PurchaseOrder) poResponse {
	resp := poResponse{
		ID:                 po.ID,
		PONumber:           po.PONumber,
		SupplierID:         po.SupplierID,
		Status:             string(po.Status),
		ExchangeRate:       po.ExchangeRate.String(),
		TotalAmount:        po.TotalAmount.String(),
		ShippingCost:       po.ShippingCost.String(),
		TotalShippingCost:  po.TotalShippingCost.String(),
		ExtraCostGlobal:    po.ExtraCostGlobal.String(),
		TotalWeight:        po.TotalWeight.String(),
		RefundAmount:       po.RefundAmount.String(),
		CreditNoteNumber:   po.CreditNoteNumber,
		RefundAutoCredited: po.RefundAutoCredited,
		Note:               po.Note,
		CreatedAt:          po.CreatedAt,
	}
	if !po.RefundedAt.IsZero() {
		at := po.RefundedAt
		resp.RefundedAt = &at
	}
	return resp
}

func toSummaryResponse(s CostSummary) costSummaryResponse {
	return costSummaryResponse{
		TotalQuantity:            s.TotalQuantity,
		TotalReceivedQuantity:    s.TotalReceivedQuantity,
		TotalLostQuantity:        s.TotalLostQuantity,
		EffectiveQuantity:        s.EffectiveQuantity,
		TotalSourceCost:          s.TotalSourceCost.String(),
		TotalSourceCostBDT:       s.TotalSourceCostBDT.String(),
		TotalLostValue:           s.TotalLostValue.String(),
		TotalLandedCost:          s.TotalLandedCost.String(),
		AverageLandedCostPerUnit: s.AverageLandedCostPerUnit.Round(4).String(),
		LostPercentage:           s.LostPercentage,
	}
}

func parseDecimalField(value, name string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, errors.New(name + " must be a decimal number")
	}
	return parsed, nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreatePOInput{SupplierID: req.SupplierID, Note: req.Note}
	var err error
	if input.ExchangeRate, err = parseDecimalField(req.ExchangeRate, "exchangeRate"); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if input.ShippingCost, err = parseDecimalField(req.ShippingCost, "shippingCost"); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if input.TotalShippingCost, err = parseDecimalField(req.TotalShippingCost, "totalShippingCost"); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if input.ExtraCostGlobal, err = parseDecimalField(req.ExtraCostGlobal, "extraCostGlobal"); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	for _, item := range req.Items {
		line := POItemInput{ProductID: item.ProductID, Quantity: item.Quantity}
		if line.ChinaPrice, err = parseDecimalField(item.ChinaPrice, "chinaPrice"); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		if line.LostItemPrice, err = parseDecimalField(item.LostItemPrice, "lostItemPrice"); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		if line.ShippingCost, err = parseDecimalField(item.ShippingCost, "shippingCost"); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		if line.UnitWeight, err = parseDecimalField(item.UnitWeight, "unitWeight"); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		if line.ExtraWeight, err = parseDecimalField(item.ExtraWeight, "extraWeight"); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		input.Items = append(input.Items, line)
	}

	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.bumpCache(r.Context())
	httpx.JSON(w, http.StatusCreated, toPOResponse(po))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.ParsePagination(q.Get("page"), q.Get("per_page"))
	filters := ListFilters{
		Status:  q.Get("status"),
		Search:  q.Get("q"),
		SortBy:  q.Get("sort_by"),
		SortDir: q.Get("sort_dir"),
	}
	if supplier := q.Get("supplier_id"); supplier != "" {
		id, err := strconv.ParseInt(supplier, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "supplier_id must be an integer")
			return
		}
		filters.SupplierID = id
	}
	if filters.Status != "" && !ValidStatus(POStatus(filters.Status)) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status filter")
		return
	}

	items, total, err := h.service.ListPurchaseOrders(r.Context(), page.Limit(), page.Offset(), filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"id":          item.ID,
			"poNumber":    item.PONumber,
			"supplierId":  item.SupplierID,
			"status":      string(item.Status),
			"totalAmount": item.TotalAmount.String(),
			"createdAt":   item.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      out,
		"pagination": shared.NewPagination(page.Page, page.PerPage, total),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	key, err := h.cache.DetailKey(r.Context(), id)
	if err != nil {
		h.logger.Warn("cache unavailable", slog.Any("error", err))
	}
	var cached json.RawMessage
	if key != "" {
		err = h.cache.FetchJSON(r.Context(), key, &cached, func(ctx context.Context) (any, error) {
			detail, err := h.service.GetPurchaseOrder(ctx, id)
			if err != nil {
				return nil, err
			}
			return buildDetailPayload(detail), nil
		})
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, cached)
		return
	}

	detail, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, buildDetailPayload(detail))
}

func buildDetailPayload(detail PODetail) map[string]any {
	items := make([]poItemResponse, 0, len(detail.Items))
	for _, item := range detail.Items {
		items = append(items, poItemResponse{
			ID:               item.ID,
			ProductID:        item.ProductID,
			ChinaPrice:       item.ChinaPrice.String(),
			Quantity:         item.Quantity,
			ReceivedQuantity: item.ReceivedQuantity,
			StockedQuantity:  item.StockedQuantity,
			LostQuantity:     item.LostQuantity,
			LostItemPrice:    item.LostItemPrice.String(),
			ShippingCost:     item.ShippingCost.String(),
			UnitWeight:       item.UnitWeight.String(),
			ExtraWeight:      item.ExtraWeight.String(),
		})
	}
	history := make([]statusLogResponse, 0, len(detail.History))
	for _, log := range detail.History {
		history = append(history, statusLogResponse{
			OldStatus: string(log.OldStatus),
			NewStatus: string(log.NewStatus),
			ChangedBy: log.ChangedBy,
			Comment:   log.Comment,
			At:        log.At,
		})
	}
	allowed := make([]string, 0, 3)
	for _, next := range AllowedTransitions(detail.Order.Status) {
		allowed = append(allowed, string(next))
	}
	return map[string]any{
		"order":              toPOResponse(detail.Order),
		"items":              items,
		"summary":            toSummaryResponse(detail.Summary),
		"history":            history,
		"allowedTransitions": allowed,
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	if err := h.service.DeletePurchaseOrder(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	h.bumpCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	var req changeStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.ChangeStatus(r.Context(), id, POStatus(req.Status), req.Comment); err != nil {
		h.respondError(w, err)
		return
	}
	h.bumpCache(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReceiveInput{WarehouseID: req.WarehouseID}
	if input.WarehouseID == 0 {
		input.WarehouseID = h.hubWarehouse
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLineInput{
			ItemID:           line.ItemID,
			ReceivedQuantity: line.ReceivedQuantity,
			StockedQuantity:  line.StockedQuantity,
		})
	}

	result, err := h.service.ReceiveItems(r.Context(), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.bumpCache(r.Context())
	httpx.JSON(w, http.StatusOK, receiveResponse{
		LostPercentage:   result.LostPercentage,
		RefundAmount:     result.RefundAmount.String(),
		CreditNoteNumber: result.CreditNoteNumber,
		AutoCredited:     result.AutoCredited,
		Summary:          toSummaryResponse(result.Summary),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrAlreadyRefunded), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Already Processed", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("procurement request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
