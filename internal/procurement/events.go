package procurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RefundCreditedEvent captures a refund that was auto-credited against an
// order, for downstream finance bookkeeping.
type RefundCreditedEvent struct {
	POID             int64
	PONumber         string
	CreditNoteNumber string
	Amount           decimal.Decimal
	LostPercentage   float64
	CreditedAt       time.Time
}

// IntegrationHandler receives procurement domain events.
type IntegrationHandler interface {
	HandleRefundCredited(ctx context.Context, evt RefundCreditedEvent) error
}
