package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses. Orders move strictly forward through the
// import pipeline (China supplier -> BD border -> Bogura hub) and end in one
// of the terminal statuses.
type POStatus string

const (
	StatusDraft              POStatus = "draft"
	StatusPaymentConfirmed   POStatus = "payment_confirmed"
	StatusSupplierDispatched POStatus = "supplier_dispatched"
	StatusWarehouseReceived  POStatus = "warehouse_received"
	StatusShippedBD          POStatus = "shipped_bd"
	StatusArrivedBD          POStatus = "arrived_bd"
	StatusInTransitBogura    POStatus = "in_transit_bogura"
	StatusReceivedHub        POStatus = "received_hub"
	StatusPartiallyCompleted POStatus = "partially_completed"
	StatusCompleted          POStatus = "completed"
	StatusLost               POStatus = "lost"
)

// PurchaseOrder is the aggregate root. PONumber is stamped once at creation
// from the creation date and never changes afterwards.
type PurchaseOrder struct {
	ID         int64
	PONumber   string
	SupplierID int64
	Status     POStatus

	// ExchangeRate converts the source currency (CNY) into the settlement
	// currency (BDT).
	ExchangeRate      decimal.Decimal
	TotalAmount       decimal.Decimal
	ShippingCost      decimal.Decimal
	TotalShippingCost decimal.Decimal
	ExtraCostGlobal   decimal.Decimal
	TotalWeight       decimal.Decimal

	RefundAmount       decimal.Decimal
	CreditNoteNumber   string
	RefundAutoCredited bool
	RefundedAt         time.Time

	Note      string
	CreatedAt time.Time
	DeletedAt time.Time
}

// Deleted reports whether the order carries a soft-delete tombstone.
func (po PurchaseOrder) Deleted() bool {
	return !po.DeletedAt.IsZero()
}

// PurchaseOrderItem belongs to exactly one order, referenced by the order's
// PO number rather than a foreign key. Quantities are whole units.
type PurchaseOrderItem struct {
	ID        int64
	PONumber  string
	ProductID int64

	// ChinaPrice is the unit cost in the source currency.
	ChinaPrice decimal.Decimal

	Quantity         int64
	ReceivedQuantity int64
	StockedQuantity  int64
	LostQuantity     int64

	// LostItemPrice is the per-unit compensation cost for lost goods.
	LostItemPrice decimal.Decimal
	ShippingCost  decimal.Decimal
	UnitWeight    decimal.Decimal
	ExtraWeight   decimal.Decimal
}

// StatusLog is one row of the append-only transition history.
type StatusLog struct {
	ID        int64
	POID      int64
	OldStatus POStatus
	NewStatus POStatus
	ChangedBy int64
	Comment   string
	At        time.Time
}

// ListFilters narrows purchase order listings.
type ListFilters struct {
	Status     string
	SupplierID int64
	Search     string
	SortBy     string
	SortDir    string
}

// POListItem is a listing row with the aggregate totals the index page needs.
type POListItem struct {
	ID          int64
	PONumber    string
	SupplierID  int64
	Status      POStatus
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
}

var (
	// ErrInvalidTransition occurs when the requested target status is not
	// reachable from the current status.
	ErrInvalidTransition = errors.New("procurement: invalid state transition")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrAlreadyRefunded occurs when a refund is applied twice.
	ErrAlreadyRefunded = errors.New("procurement: refund already credited")
)
