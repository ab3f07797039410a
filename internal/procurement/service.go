package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/padma-erp/padma-erp/internal/inventory"
	"github.com/padma-erp/padma-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error)
	ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error)
	ListStatusLogs(ctx context.Context, poID int64) ([]StatusLog, error)
}

// InventoryPort exposes required inventory integration.
type InventoryPort interface {
	PostInbound(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records business metrics for status transitions.
type MetricsPort interface {
	ObserveTransition(from, to POStatus)
}

// QueuePort enqueues background work for refunds above the auto-credit
// threshold.
type QueuePort interface {
	EnqueueRefundReview(ctx context.Context, payload RefundReviewPayload) error
}

// RefundReviewPayload describes a refund that needs manual review.
type RefundReviewPayload struct {
	POID           int64   `json:"po_id"`
	PONumber       string  `json:"po_number"`
	RefundAmount   string  `json:"refund_amount"`
	LostPercentage float64 `json:"lost_percentage"`
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	integration IntegrationHandler
	queue       QueuePort
	metrics     MetricsPort
	now         func() time.Time
}

// NewService constructs the procurement service. All collaborators besides
// repo are optional; nil ports are skipped.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort, idem *shared.IdempotencyStore, integration IntegrationHandler, queue QueuePort, metrics MetricsPort) *Service {
	return &Service{
		repo:        repo,
		inventory:   inv,
		audit:       audit,
		idempotency: idem,
		integration: integration,
		queue:       queue,
		metrics:     metrics,
		now:         time.Now,
	}
}

// POItemInput describes one order line at creation.
type POItemInput struct {
	ProductID     int64
	ChinaPrice    decimal.Decimal
	Quantity      int64
	LostItemPrice decimal.Decimal
	ShippingCost  decimal.Decimal
	UnitWeight    decimal.Decimal
	ExtraWeight   decimal.Decimal
}

// CreatePOInput describes creation payload.
type CreatePOInput struct {
	SupplierID        int64
	ExchangeRate      decimal.Decimal
	ShippingCost      decimal.Decimal
	TotalShippingCost decimal.Decimal
	ExtraCostGlobal   decimal.Decimal
	Note              string
	Items             []POItemInput
}

// CreatePurchaseOrder persists the order and its items in draft status. The
// PO number is derived from the assigned id and the creation date inside the
// same transaction, and is immutable from then on.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if len(input.Items) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	if !input.ExchangeRate.IsPositive() {
		return PurchaseOrder{}, fmt.Errorf("%w: exchange rate must be positive", ErrValidation)
	}
	for _, item := range input.Items {
		if item.ProductID == 0 || item.Quantity <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: item requires product and positive quantity", ErrValidation)
		}
		if item.ChinaPrice.IsNegative() {
			return PurchaseOrder{}, fmt.Errorf("%w: item price must not be negative", ErrValidation)
		}
	}

	now := s.now()
	totalWeight := decimal.Zero
	sourceCost := decimal.Zero
	for _, item := range input.Items {
		qty := decimal.NewFromInt(item.Quantity)
		totalWeight = totalWeight.Add(item.UnitWeight.Mul(qty)).Add(item.ExtraWeight)
		sourceCost = sourceCost.Add(item.ChinaPrice.Mul(qty))
	}
	po := PurchaseOrder{
		SupplierID:        input.SupplierID,
		Status:            StatusDraft,
		ExchangeRate:      input.ExchangeRate,
		TotalAmount:       sourceCost.Mul(input.ExchangeRate),
		ShippingCost:      input.ShippingCost,
		TotalShippingCost: input.TotalShippingCost,
		ExtraCostGlobal:   input.ExtraCostGlobal,
		TotalWeight:       totalWeight,
		Note:              input.Note,
		CreatedAt:         now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		po.PONumber = GenerateOrderNumber(id, now)
		if err := tx.SetPONumber(ctx, id, po.PONumber); err != nil {
			return err
		}
		for _, item := range input.Items {
			line := PurchaseOrderItem{
				PONumber:      po.PONumber,
				ProductID:     item.ProductID,
				ChinaPrice:    item.ChinaPrice,
				Quantity:      item.Quantity,
				LostItemPrice: item.LostItemPrice,
				ShippingCost:  item.ShippingCost,
				UnitWeight:    item.UnitWeight,
				ExtraWeight:   item.ExtraWeight,
			}
			if err := tx.InsertItem(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_CREATE", po.ID, map[string]any{"number": po.PONumber})
	return po, nil
}

// ChangeStatus applies a status transition. The transition is validated
// before and inside the transaction, so concurrent updates fail with
// ErrInvalidTransition instead of silently overwriting each other.
func (s *Service) ChangeStatus(ctx context.Context, poID int64, target POStatus, comment string) error {
	if !ValidStatus(target) {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}
	po, _, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	if !CanTransition(po.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, po.Status, target)
	}
	actor := shared.ActorFromContext(ctx)
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
		}
		if err := tx.UpdatePOStatus(ctx, poID, target); err != nil {
			return err
		}
		return tx.InsertStatusLog(ctx, StatusLog{
			POID:      poID,
			OldStatus: current.Status,
			NewStatus: target,
			ChangedBy: actor.ID,
			Comment:   comment,
			At:        now,
		})
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ObserveTransition(po.Status, target)
	}
	s.recordAudit(ctx, "PO_STATUS", poID, map[string]any{
		"number": po.PONumber,
		"from":   string(po.Status),
		"to":     string(target),
	})
	return nil
}

// ReceiveLineInput carries receiving figures for one item.
type ReceiveLineInput struct {
	ItemID           int64
	ReceivedQuantity int64
	// StockedQuantity defaults to ReceivedQuantity when zero.
	StockedQuantity int64
}

// ReceiveInput describes a receiving request for an order.
type ReceiveInput struct {
	WarehouseID int64
	Lines       []ReceiveLineInput
}

// ReceiveResult reports the refund outcome of a receiving.
type ReceiveResult struct {
	LostPercentage   float64
	RefundAmount     decimal.Decimal
	CreditNoteNumber string
	AutoCredited     bool
	Summary          CostSummary
}

// ReceiveItems records received and lost quantities, recomputes the refund
// and, when the shortfall is within the auto-credit threshold, credits it in
// the same transaction. Stocked units are posted to inventory at the average
// landed unit cost. Shortfalls above the threshold are queued for manual
// review instead of being credited.
func (s *Service) ReceiveItems(ctx context.Context, poID int64, input ReceiveInput) (ReceiveResult, error) {
	if len(input.Lines) == 0 {
		return ReceiveResult{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	po, items, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return ReceiveResult{}, err
	}
	if po.Status != StatusInTransitBogura && po.Status != StatusReceivedHub {
		return ReceiveResult{}, fmt.Errorf("%w: order not receivable in status %s", ErrInvalidTransition, po.Status)
	}
	if !po.RefundedAt.IsZero() {
		return ReceiveResult{}, ErrAlreadyRefunded
	}

	byID := make(map[int64]*PurchaseOrderItem, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}
	// Every item must be covered, otherwise omitted lines would count as
	// fully lost in the refund below.
	covered := make(map[int64]bool, len(input.Lines))
	for _, line := range input.Lines {
		covered[line.ItemID] = true
	}
	for id := range byID {
		if !covered[id] {
			return ReceiveResult{}, fmt.Errorf("%w: missing receiving line for item %d", ErrValidation, id)
		}
	}
	for _, line := range input.Lines {
		item, ok := byID[line.ItemID]
		if !ok {
			return ReceiveResult{}, fmt.Errorf("%w: unknown item %d", ErrValidation, line.ItemID)
		}
		if line.ReceivedQuantity < 0 {
			return ReceiveResult{}, fmt.Errorf("%w: received quantity must not be negative", ErrValidation)
		}
		if line.ReceivedQuantity > item.Quantity {
			return ReceiveResult{}, fmt.Errorf("%w: received %d exceeds ordered %d for item %d",
				ErrValidation, line.ReceivedQuantity, item.Quantity, line.ItemID)
		}
		stocked := line.StockedQuantity
		if stocked == 0 {
			stocked = line.ReceivedQuantity
		}
		if stocked > line.ReceivedQuantity {
			return ReceiveResult{}, fmt.Errorf("%w: stocked %d exceeds received %d for item %d",
				ErrValidation, stocked, line.ReceivedQuantity, line.ItemID)
		}
		item.ReceivedQuantity = line.ReceivedQuantity
		item.StockedQuantity = stocked
		item.LostQuantity = item.Quantity - line.ReceivedQuantity
	}

	now := s.now()
	summary := BuildCostSummary(po, items)
	refund := CalculateRefundAmount(items, po.ExchangeRate)
	result := ReceiveResult{
		LostPercentage: summary.LostPercentage,
		RefundAmount:   refund,
		Summary:        summary,
	}
	if refund.IsPositive() && ShouldAutoCreditRefund(summary.LostPercentage) {
		result.AutoCredited = true
		result.CreditNoteNumber = GenerateCreditNoteNumber(po.PONumber, now)
	}

	insertedKey := false
	refundKey := fmt.Sprintf("REFUND:%s", po.PONumber)
	if result.AutoCredited && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, refundKey, "procurement.refund"); err != nil {
			return ReceiveResult{}, err
		}
		insertedKey = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, item := range items {
			if err := tx.UpdateItemReceipt(ctx, item.ID, item.ReceivedQuantity, item.StockedQuantity, item.LostQuantity); err != nil {
				return err
			}
		}
		if result.AutoCredited {
			if err := tx.ApplyRefund(ctx, poID, RefundUpdate{
				Amount:           refund,
				CreditNoteNumber: result.CreditNoteNumber,
				AutoCredited:     true,
				RefundedAt:       now,
			}); err != nil {
				return err
			}
		}
		if s.inventory == nil || input.WarehouseID == 0 {
			return nil
		}
		unitCost := summary.AverageLandedCostPerUnit.Round(4)
		for _, item := range items {
			if item.StockedQuantity <= 0 {
				continue
			}
			refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("PO:%d:%d", po.ID, item.ID)))
			_, err := s.inventory.PostInbound(ctx, inventory.InboundInput{
				Code:        fmt.Sprintf("PO-RCV-%s-%d", po.PONumber, item.ID),
				WarehouseID: input.WarehouseID,
				ProductID:   item.ProductID,
				Qty:         item.StockedQuantity,
				UnitCost:    unitCost,
				Note:        fmt.Sprintf("Receiving %s", po.PONumber),
				ActorID:     shared.ActorFromContext(ctx).ID,
				RefModule:   "PROCUREMENT",
				RefID:       refID.String(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, refundKey)
		}
		return ReceiveResult{}, err
	}

	s.recordAudit(ctx, "PO_RECEIVE", poID, map[string]any{
		"number":        po.PONumber,
		"lost_pct":      summary.LostPercentage,
		"refund":        refund.String(),
		"auto_credited": result.AutoCredited,
	})
	if result.AutoCredited && s.integration != nil {
		_ = s.integration.HandleRefundCredited(ctx, RefundCreditedEvent{
			POID:             po.ID,
			PONumber:         po.PONumber,
			CreditNoteNumber: result.CreditNoteNumber,
			Amount:           refund,
			LostPercentage:   summary.LostPercentage,
			CreditedAt:       now,
		})
	}
	if !result.AutoCredited && refund.IsPositive() && s.queue != nil {
		if err := s.queue.EnqueueRefundReview(ctx, RefundReviewPayload{
			POID:           po.ID,
			PONumber:       po.PONumber,
			RefundAmount:   refund.String(),
			LostPercentage: summary.LostPercentage,
		}); err != nil {
			s.recordAudit(ctx, "PO_REFUND_QUEUE_FAIL", poID, map[string]any{"error": err.Error()})
		}
	}
	return result, nil
}

// PODetail bundles an order with its items, derived figures and history.
type PODetail struct {
	Order   PurchaseOrder
	Items   []PurchaseOrderItem
	Summary CostSummary
	History []StatusLog
}

// GetPurchaseOrder loads an order with derived cost figures and its status
// history.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PODetail, error) {
	po, items, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return PODetail{}, err
	}
	history, err := s.repo.ListStatusLogs(ctx, id)
	if err != nil {
		return PODetail{}, err
	}
	return PODetail{
		Order:   po,
		Items:   items,
		Summary: BuildCostSummary(po, items),
		History: history,
	}, nil
}

// ListPurchaseOrders returns a filtered page of orders and the total count.
func (s *Service) ListPurchaseOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListPOs(ctx, limit, offset, filters)
}

// DeletePurchaseOrder tombstones a draft order. Items are kept since
// deletes are soft and never cascade.
func (s *Service) DeletePurchaseOrder(ctx context.Context, id int64) error {
	po, _, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return err
	}
	if po.Status != StatusDraft {
		return fmt.Errorf("%w: only draft orders can be deleted", ErrValidation)
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SoftDeletePO(ctx, id, now)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_DELETE", id, map[string]any{"number": po.PONumber})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx).ID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
