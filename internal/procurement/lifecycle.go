package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AutoCreditThresholdPct is the fixed business rule: shortfalls up to this
// percentage of the ordered quantity are credited back automatically,
// anything above requires manual review.
const AutoCreditThresholdPct = 10.0

// transitions is the adjacency list of the status state machine. Statuses
// without an entry are terminal. The "lost" escape hatch exists on every
// non-terminal status because a shipment can be written off at any leg.
var transitions = map[POStatus][]POStatus{
	StatusDraft:              {StatusPaymentConfirmed, StatusLost},
	StatusPaymentConfirmed:   {StatusSupplierDispatched, StatusLost},
	StatusSupplierDispatched: {StatusWarehouseReceived, StatusLost},
	StatusWarehouseReceived:  {StatusShippedBD, StatusLost},
	StatusShippedBD:          {StatusArrivedBD, StatusLost},
	StatusArrivedBD:          {StatusInTransitBogura, StatusLost},
	StatusInTransitBogura:    {StatusReceivedHub, StatusPartiallyCompleted, StatusLost},
	StatusReceivedHub:        {StatusCompleted, StatusLost},
}

// CanTransition reports whether target is directly reachable from current.
// Pure function over the two status values; unknown statuses never match.
func CanTransition(current, target POStatus) bool {
	for _, next := range transitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the targets reachable from current.
func AllowedTransitions(current POStatus) []POStatus {
	return append([]POStatus(nil), transitions[current]...)
}

// IsTerminal reports whether the status allows no further transitions.
func IsTerminal(status POStatus) bool {
	_, ok := transitions[status]
	return !ok && ValidStatus(status)
}

// ValidStatus reports whether the value is one of the enumerated statuses.
func ValidStatus(status POStatus) bool {
	switch status {
	case StatusDraft, StatusPaymentConfirmed, StatusSupplierDispatched,
		StatusWarehouseReceived, StatusShippedBD, StatusArrivedBD,
		StatusInTransitBogura, StatusReceivedHub,
		StatusPartiallyCompleted, StatusCompleted, StatusLost:
		return true
	}
	return false
}

// GenerateOrderNumber builds the immutable PO number from the order id and
// the creation date: PO-{YYYYMM}-{id}. The year/month of generation is baked
// in; callers must never regenerate it later.
func GenerateOrderNumber(id int64, at time.Time) string {
	return fmt.Sprintf("PO-%s-%d", at.Format("200601"), id)
}

// GenerateCreditNoteNumber builds CN-{poNumber}-{YYYYMMDD} from the date the
// refund is applied, not the order creation date.
func GenerateCreditNoteNumber(poNumber string, at time.Time) string {
	return fmt.Sprintf("CN-%s-%s", poNumber, at.Format("20060102"))
}

// TotalLostPercentage returns the share of ordered units never received, in
// [0, 100] while received <= ordered holds. An order with zero ordered units
// reports 0 rather than dividing by zero.
func TotalLostPercentage(items []PurchaseOrderItem) float64 {
	var ordered, received int64
	for _, item := range items {
		ordered += item.Quantity
		received += item.ReceivedQuantity
	}
	if ordered == 0 {
		return 0
	}
	return float64(ordered-received) / float64(ordered) * 100
}

// ShouldAutoCreditRefund applies the auto-credit policy threshold.
func ShouldAutoCreditRefund(lostPercentage float64) bool {
	return lostPercentage <= AutoCreditThresholdPct
}

// CalculateRefundAmount sums lostQty * china_price * fx across items with a
// shortfall, in settlement currency. This is the supplier-facing credit and
// deliberately excludes the shipping and compensation components counted in
// TotalLostValue.
func CalculateRefundAmount(items []PurchaseOrderItem, exchangeRate decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		lostQty := item.Quantity - item.ReceivedQuantity
		if lostQty <= 0 {
			continue
		}
		total = total.Add(decimal.NewFromInt(lostQty).Mul(item.ChinaPrice).Mul(exchangeRate))
	}
	return total
}

// CostSummary carries the derived financial figures of an order. All values
// are computed on demand from the order and its items, never persisted.
type CostSummary struct {
	TotalQuantity         int64
	TotalReceivedQuantity int64
	TotalLostQuantity     int64
	EffectiveQuantity     int64

	TotalSourceCost          decimal.Decimal
	TotalSourceCostBDT       decimal.Decimal
	TotalLostValue           decimal.Decimal
	TotalLandedCost          decimal.Decimal
	AverageLandedCostPerUnit decimal.Decimal
	LostPercentage           float64
}

// BuildCostSummary derives landed cost and loss figures.
//
// EffectiveQuantity is the ordered total net of lost units, i.e. the units
// that actually landed. TotalLostValue is the internal write-off basis:
// price+fx plus allocated shipping plus per-unit compensation for every lost
// unit. It intentionally differs from CalculateRefundAmount.
func BuildCostSummary(po PurchaseOrder, items []PurchaseOrderItem) CostSummary {
	s := CostSummary{
		TotalSourceCost: decimal.Zero,
		TotalLostValue:  decimal.Zero,
	}
	for _, item := range items {
		s.TotalQuantity += item.Quantity
		s.TotalReceivedQuantity += item.ReceivedQuantity
		s.TotalSourceCost = s.TotalSourceCost.Add(item.ChinaPrice.Mul(decimal.NewFromInt(item.Quantity)))

		lostQty := item.Quantity - item.ReceivedQuantity
		if lostQty <= 0 {
			continue
		}
		s.TotalLostQuantity += lostQty
		lost := decimal.NewFromInt(lostQty)
		s.TotalLostValue = s.TotalLostValue.
			Add(lost.Mul(item.ChinaPrice).Mul(po.ExchangeRate)).
			Add(lost.Mul(item.ShippingCost)).
			Add(lost.Mul(item.LostItemPrice))
	}
	s.EffectiveQuantity = s.TotalQuantity - s.TotalLostQuantity
	s.TotalSourceCostBDT = s.TotalSourceCost.Mul(po.ExchangeRate)
	s.TotalLandedCost = s.TotalSourceCostBDT.
		Add(po.TotalShippingCost).
		Add(po.ExtraCostGlobal).
		Sub(s.TotalLostValue)
	if s.EffectiveQuantity > 0 {
		s.AverageLandedCostPerUnit = s.TotalLandedCost.Div(decimal.NewFromInt(s.EffectiveQuantity))
	} else {
		s.AverageLandedCostPerUnit = decimal.Zero
	}
	s.LostPercentage = TotalLostPercentage(items)
	return s
}
