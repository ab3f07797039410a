package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/padma-erp/padma-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	allowNeg    bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, allowNeg: cfg.AllowNegativeStock}
}

// PostInbound posts an inbound movement, typically a purchase order
// receiving stocked at landed cost.
func (s *Service) PostInbound(ctx context.Context, input InboundInput) (StockCardEntry, error) {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return StockCardEntry{}, errors.New("inventory: warehouse and product required")
	}
	if input.Qty <= 0 {
		return StockCardEntry{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return StockCardEntry{}, ErrInvalidUnitCost
	}
	return s.postMovement(ctx, movementParams{
		Code:        input.Code,
		WarehouseID: input.WarehouseID,
		ProductID:   input.ProductID,
		QtyChange:   input.Qty,
		UnitCost:    input.UnitCost,
		TxType:      TransactionTypeIn,
		Note:        input.Note,
		ActorID:     input.ActorID,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
	})
}

// PostAdjustment posts an adjustment which may be positive or negative.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (StockCardEntry, error) {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return StockCardEntry{}, errors.New("inventory: warehouse and product required")
	}
	if input.Qty == 0 {
		return StockCardEntry{}, ErrInvalidQuantity
	}
	if input.Qty > 0 && input.UnitCost.IsNegative() {
		return StockCardEntry{}, ErrInvalidUnitCost
	}
	return s.postMovement(ctx, movementParams{
		Code:        input.Code,
		WarehouseID: input.WarehouseID,
		ProductID:   input.ProductID,
		QtyChange:   input.Qty,
		UnitCost:    input.UnitCost,
		TxType:      TransactionTypeAdjust,
		Note:        input.Note,
		ActorID:     input.ActorID,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
	})
}

// GetStockCard lists stock card entries.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.WarehouseID == 0 || filter.ProductID == 0 {
		return nil, errors.New("inventory: warehouse and product required")
	}
	return s.repo.GetStockCard(ctx, filter)
}

type movementParams struct {
	Code        string
	WarehouseID int64
	ProductID   int64
	QtyChange   int64
	UnitCost    decimal.Decimal
	TxType      TransactionType
	Note        string
	ActorID     int64
	RefModule   string
	RefID       string
}

func (s *Service) postMovement(ctx context.Context, params movementParams) (StockCardEntry, error) {
	now := time.Now().UTC()
	code := params.Code
	if code == "" {
		code = fmt.Sprintf("INV-%d", now.UnixNano())
	}
	if params.RefID != "" {
		if _, err := uuid.Parse(params.RefID); err != nil {
			return StockCardEntry{}, fmt.Errorf("inventory: invalid ref id: %w", err)
		}
	}
	key := fmt.Sprintf("%s:%s:%d:%d", params.TxType, code, params.WarehouseID, params.ProductID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return StockCardEntry{}, err
		}
		insertedKey = true
	}

	var card StockCardEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, params.WarehouseID, params.ProductID)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return err
		}
		if errors.Is(err, ErrBalanceNotFound) {
			balance = Balance{WarehouseID: params.WarehouseID, ProductID: params.ProductID, AvgCost: decimal.Zero}
		}
		newQty := balance.Qty + params.QtyChange
		if !s.allowNeg && newQty < 0 {
			return ErrNegativeStock
		}
		var unitCost, newAvg decimal.Decimal
		if params.QtyChange > 0 {
			unitCost = params.UnitCost
			totalCost := balance.AvgCost.Mul(decimal.NewFromInt(balance.Qty)).
				Add(unitCost.Mul(decimal.NewFromInt(params.QtyChange)))
			if newQty != 0 {
				newAvg = totalCost.Div(decimal.NewFromInt(newQty))
			}
		} else {
			// Outbound adjustments leave the average untouched.
			unitCost = balance.AvgCost
			newAvg = balance.AvgCost
			if newQty == 0 {
				newAvg = decimal.Zero
			}
		}
		txID, err := tx.InsertTransaction(ctx, Transaction{
			Code:        code,
			Type:        params.TxType,
			WarehouseID: params.WarehouseID,
			RefModule:   params.RefModule,
			RefID:       params.RefID,
			Note:        params.Note,
			PostedAt:    now,
			CreatedBy:   params.ActorID,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertTransactionLine(ctx, TransactionLine{
			TransactionID: txID,
			ProductID:     params.ProductID,
			Qty:           params.QtyChange,
			UnitCost:      unitCost,
		}); err != nil {
			return err
		}
		balance.Qty = newQty
		balance.AvgCost = newAvg
		if err := tx.UpsertBalance(ctx, balance); err != nil {
			return err
		}
		card = StockCardEntry{
			TxCode:      code,
			TxType:      params.TxType,
			PostedAt:    now,
			QtyIn:       max(params.QtyChange, 0),
			QtyOut:      max(-params.QtyChange, 0),
			BalanceQty:  newQty,
			UnitCost:    unitCost,
			BalanceCost: newAvg,
			Note:        params.Note,
		}
		return tx.InsertCardEntry(ctx, card, params.WarehouseID, params.ProductID, txID)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return StockCardEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  params.ActorID,
			Action:   fmt.Sprintf("inventory:%s", params.TxType),
			Entity:   "inventory_tx",
			EntityID: fmt.Sprintf("%s:%d", params.TxType, params.ProductID),
			Meta: map[string]any{
				"warehouse_id": params.WarehouseID,
				"product_id":   params.ProductID,
				"qty":          params.QtyChange,
				"note":         params.Note,
			},
		})
	}
	return card, nil
}
