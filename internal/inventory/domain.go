package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypeIn represents an inbound movement.
	TransactionTypeIn TransactionType = "IN"
	// TransactionTypeAdjust indicates manual adjustments.
	TransactionTypeAdjust TransactionType = "ADJUST"
)

// Transaction models the header of an inventory transaction.
type Transaction struct {
	ID          int64
	Code        string
	Type        TransactionType
	WarehouseID int64
	RefModule   string
	RefID       string
	Note        string
	PostedAt    time.Time
	CreatedBy   int64
	CreatedAt   time.Time
}

// TransactionLine models each product movement line.
type TransactionLine struct {
	ID            int64
	TransactionID int64
	ProductID     int64
	Qty           int64
	UnitCost      decimal.Decimal
}

// Balance summarises stock in warehouse per product. AvgCost is the moving
// average landed cost per unit.
type Balance struct {
	WarehouseID int64
	ProductID   int64
	Qty         int64
	AvgCost     decimal.Decimal
	UpdatedAt   time.Time
}

// StockCardEntry describes an inventory card entry for reports.
type StockCardEntry struct {
	TxCode      string
	TxType      TransactionType
	PostedAt    time.Time
	QtyIn       int64
	QtyOut      int64
	BalanceQty  int64
	UnitCost    decimal.Decimal
	BalanceCost decimal.Decimal
	Note        string
}

// InboundInput is used when procurement stocks received goods into the hub.
type InboundInput struct {
	Code        string
	WarehouseID int64
	ProductID   int64
	Qty         int64
	UnitCost    decimal.Decimal
	Note        string
	ActorID     int64
	RefModule   string
	RefID       string
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	Code        string
	WarehouseID int64
	ProductID   int64
	Qty         int64
	UnitCost    decimal.Decimal
	Note        string
	ActorID     int64
	RefModule   string
	RefID       string
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	WarehouseID int64
	ProductID   int64
	From        time.Time
	To          time.Time
	Limit       int
}

// ErrNegativeStock triggered when a movement would result in negative qty.
var ErrNegativeStock = errors.New("inventory: negative stock not allowed")

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")

// ErrInvalidUnitCost indicates invalid cost value.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrBalanceNotFound indicates no balance row exists yet.
var ErrBalanceNotFound = errors.New("inventory: balance not found")
