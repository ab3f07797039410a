package procurement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/padma-erp/padma-erp/internal/inventory"
)

type memoryPORepo struct {
	orders     map[int64]*PurchaseOrder
	items      map[int64]*PurchaseOrderItem
	logs       []StatusLog
	nextPOID   int64
	nextItemID int64
}

func newMemoryPORepo() *memoryPORepo {
	return &memoryPORepo{
		orders: make(map[int64]*PurchaseOrder),
		items:  make(map[int64]*PurchaseOrderItem),
	}
}

func (r *memoryPORepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryPOTx{repo: r})
}

func (r *memoryPORepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error) {
	po, ok := r.orders[id]
	if !ok || po.Deleted() {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	var items []PurchaseOrderItem
	for _, item := range r.items {
		if item.PONumber == po.PONumber {
			items = append(items, *item)
		}
	}
	return *po, items, nil
}

func (r *memoryPORepo) ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error) {
	var out []POListItem
	for _, po := range r.orders {
		if po.Deleted() {
			continue
		}
		if filters.Status != "" && string(po.Status) != filters.Status {
			continue
		}
		out = append(out, POListItem{ID: po.ID, PONumber: po.PONumber, SupplierID: po.SupplierID, Status: po.Status, TotalAmount: po.TotalAmount, CreatedAt: po.CreatedAt})
	}
	return out, len(out), nil
}

func (r *memoryPORepo) ListStatusLogs(ctx context.Context, poID int64) ([]StatusLog, error) {
	var out []StatusLog
	for _, log := range r.logs {
		if log.POID == poID {
			out = append(out, log)
		}
	}
	return out, nil
}

type memoryPOTx struct {
	repo *memoryPORepo
}

func (tx *memoryPOTx) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	tx.repo.nextPOID++
	po.ID = tx.repo.nextPOID
	tx.repo.orders[po.ID] = &po
	return po.ID, nil
}

func (tx *memoryPOTx) SetPONumber(ctx context.Context, id int64, number string) error {
	tx.repo.orders[id].PONumber = number
	return nil
}

func (tx *memoryPOTx) InsertItem(ctx context.Context, item PurchaseOrderItem) error {
	tx.repo.nextItemID++
	item.ID = tx.repo.nextItemID
	tx.repo.items[item.ID] = &item
	return nil
}

func (tx *memoryPOTx) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := tx.repo.orders[id]
	if !ok || po.Deleted() {
		return PurchaseOrder{}, ErrNotFound
	}
	return *po, nil
}

func (tx *memoryPOTx) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	tx.repo.orders[id].Status = status
	return nil
}

func (tx *memoryPOTx) InsertStatusLog(ctx context.Context, log StatusLog) error {
	tx.repo.logs = append(tx.repo.logs, log)
	return nil
}

func (tx *memoryPOTx) UpdateItemReceipt(ctx context.Context, itemID, received, stocked, lost int64) error {
	item := tx.repo.items[itemID]
	item.ReceivedQuantity = received
	item.StockedQuantity = stocked
	item.LostQuantity = lost
	return nil
}

func (tx *memoryPOTx) ApplyRefund(ctx context.Context, id int64, refund RefundUpdate) error {
	po := tx.repo.orders[id]
	if !po.RefundedAt.IsZero() {
		return ErrAlreadyRefunded
	}
	po.RefundAmount = refund.Amount
	po.CreditNoteNumber = refund.CreditNoteNumber
	po.RefundAutoCredited = refund.AutoCredited
	po.RefundedAt = refund.RefundedAt
	return nil
}

func (tx *memoryPOTx) SoftDeletePO(ctx context.Context, id int64, at time.Time) error {
	tx.repo.orders[id].DeletedAt = at
	return nil
}

type stubInventory struct {
	postings []inventory.InboundInput
}

func (s *stubInventory) PostInbound(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error) {
	s.postings = append(s.postings, input)
	return inventory.StockCardEntry{}, nil
}

type stubQueue struct {
	payloads []RefundReviewPayload
}

func (s *stubQueue) EnqueueRefundReview(ctx context.Context, payload RefundReviewPayload) error {
	s.payloads = append(s.payloads, payload)
	return nil
}

type stubMetrics struct {
	transitions []string
}

func (s *stubMetrics) ObserveTransition(from, to POStatus) {
	s.transitions = append(s.transitions, string(from)+">"+string(to))
}

type stubIntegration struct {
	events []RefundCreditedEvent
}

func (s *stubIntegration) HandleRefundCredited(ctx context.Context, evt RefundCreditedEvent) error {
	s.events = append(s.events, evt)
	return nil
}

func fixedClock(t *testing.T, value string) func() time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return func() time.Time { return parsed }
}

func newTestService(repo *memoryPORepo) (*Service, *stubInventory, *stubQueue, *stubMetrics, *stubIntegration) {
	inv := &stubInventory{}
	queue := &stubQueue{}
	metrics := &stubMetrics{}
	integration := &stubIntegration{}
	svc := NewService(repo, inv, nil, nil, integration, queue, metrics)
	return svc, inv, queue, metrics, integration
}

func seedOrder(t *testing.T, svc *Service, repo *memoryPORepo) PurchaseOrder {
	t.Helper()
	po, err := svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		SupplierID:        7,
		ExchangeRate:      decimal.RequireFromString("17.5"),
		TotalShippingCost: decimal.RequireFromString("500"),
		ExtraCostGlobal:   decimal.RequireFromString("0"),
		Items: []POItemInput{{
			ProductID:     11,
			ChinaPrice:    decimal.RequireFromString("10"),
			Quantity:      100,
			LostItemPrice: decimal.RequireFromString("5"),
			ShippingCost:  decimal.RequireFromString("70"),
			UnitWeight:    decimal.RequireFromString("0.5"),
		}},
	})
	require.NoError(t, err)
	return po
}

func advanceTo(t *testing.T, svc *Service, poID int64, target POStatus) {
	t.Helper()
	path := []POStatus{
		StatusPaymentConfirmed, StatusSupplierDispatched, StatusWarehouseReceived,
		StatusShippedBD, StatusArrivedBD, StatusInTransitBogura, StatusReceivedHub,
	}
	for _, status := range path {
		require.NoError(t, svc.ChangeStatus(context.Background(), poID, status, ""))
		if status == target {
			return
		}
	}
	t.Fatalf("status %s not on the forward path", target)
}

func TestCreatePurchaseOrder(t *testing.T) {
	repo := newMemoryPORepo()
	svc, _, _, _, _ := newTestService(repo)
	svc.now = fixedClock(t, "2026-02-19T10:00:00Z")

	po := seedOrder(t, svc, repo)
	require.Equal(t, "PO-202602-1", po.PONumber)
	require.Equal(t, StatusDraft, po.Status)
	require.True(t, po.TotalAmount.Equal(decimal.RequireFromString("17500")))
	require.True(t, po.TotalWeight.Equal(decimal.RequireFromString("50")))

	_, items, err := repo.GetPO(context.Background(), po.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, po.PONumber, items[0].PONumber)
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	repo := newMemoryPORepo()
	svc, _, _, _, _ := newTestService(repo)

	_, err := svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		SupplierID:   1,
		ExchangeRate: decimal.RequireFromString("17.5"),
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		SupplierID:   1,
		ExchangeRate: decimal.Zero,
		Items:        []POItemInput{{ProductID: 1, ChinaPrice: decimal.New(1, 0), Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestChangeStatus(t *testing.T) {
	repo := newMemoryPORepo()
	svc, _, _, metrics, _ := newTestService(repo)
	po := seedOrder(t, svc, repo)
	ctx := context.Background()

	require.NoError(t, svc.ChangeStatus(ctx, po.ID, StatusPaymentConfirmed, "paid"))
	current, _, err := repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaymentConfirmed, current.Status)

	logs, err := repo.ListStatusLogs(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, StatusDraft, logs[0].OldStatus)
	require.Equal(t, StatusPaymentConfirmed, logs[0].NewStatus)
	require.Equal(t, "paid", logs[0].Comment)
	require.Equal(t, []string{"draft>payment_confirmed"}, metrics.transitions)
}

func TestChangeStatusRejectsInvalid(t *testing.T) {
	repo := newMemoryPORepo()
	svc, _, _, _, _ := newTestService(repo)
	po := seedOrder(t, svc, repo)
	ctx := context.Background()

	require.ErrorIs(t, svc.ChangeStatus(ctx, po.ID, StatusCompleted, ""), ErrInvalidTransition)
	require.ErrorIs(t, svc.ChangeStatus(ctx, po.ID, POStatus("bogus"), ""), ErrValidation)

	require.NoError(t, svc.ChangeStatus(ctx, po.ID, StatusLost, "written off"))
	require.ErrorIs(t, svc.ChangeStatus(ctx, po.ID, StatusPaymentConfirmed, ""), ErrInvalidTransition)
}

func TestReceiveItemsFullReceipt(t *testing.T) {
	repo := newMemoryPORepo()
	svc, inv, queue, _, integration := newTestService(repo)
	svc.now = fixedClock(t, "2026-02-19T10:00:00Z")
	po := seedOrder(t, svc, repo)
	ctx := context.Background()
	advanceTo(t, svc, po.ID, StatusInTransitBogura)

	var itemID int64
	for id := range repo.items {
		itemID = id
	}
	result, err := svc.ReceiveItems(ctx, po.ID, ReceiveInput{
		WarehouseID: 3,
		Lines:       []ReceiveLineInput{{ItemID: itemID, ReceivedQuantity: 100}},
	})
	require.NoError(t, err)
	require.False(t, result.AutoCredited)
	require.True(t, result.RefundAmount.IsZero())
	require.Zero(t, result.LostPercentage)
	require.EqualValues(t, 100, result.Summary.EffectiveQuantity)
	require.Equal(t, "180", result.Summary.AverageLandedCostPerUnit.String())

	require.Len(t, inv.postings, 1)
	require.EqualValues(t, 100, inv.postings[0].Qty)
	require.Equal(t, "180", inv.postings[0].UnitCost.String())
	require.Empty(t, queue.payloads)
	require.Empty(t, integration.events)
}

func TestReceiveItemsAutoCreditsSmallLoss(t *testing.T) {
	repo := newMemoryPORepo()
	svc, inv, queue, _, integration := newTestService(repo)
	svc.now = fixedClock(t, "2026-02-19T10:00:00Z")
	po := seedOrder(t, svc, repo)
	ctx := context.Background()
	advanceTo(t, svc, po.ID, StatusInTransitBogura)

	var itemID int64
	for id := range repo.items {
		itemID = id
	}
	result, err := svc.ReceiveItems(ctx, po.ID, ReceiveInput{
		WarehouseID: 3,
		Lines:       []ReceiveLineInput{{ItemID: itemID, ReceivedQuantity: 90}},
	})
	require.NoError(t, err)
	require.True(t, result.AutoCredited)
	require.InDelta(t, 10.0, result.LostPercentage, 0.0001)
	require.Equal(t, "1750", result.RefundAmount.String())
	require.Equal(t, "CN-PO-202602-1-20260219", result.CreditNoteNumber)

	updated, _, err := repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.True(t, updated.RefundAutoCredited)
	require.True(t, updated.RefundAmount.Equal(decimal.RequireFromString("1750")))
	require.False(t, updated.RefundedAt.IsZero())

	require.Len(t, inv.postings, 1)
	require.EqualValues(t, 90, inv.postings[0].Qty)
	require.Equal(t, "172.2222", inv.postings[0].UnitCost.String())
	require.Empty(t, queue.payloads)
	require.Len(t, integration.events, 1)
	require.Equal(t, "CN-PO-202602-1-20260219", integration.events[0].CreditNoteNumber)
}

func TestReceiveItemsQueuesLargeLoss(t *testing.T) {
	repo := newMemoryPORepo()
	svc, _, queue, _, integration := newTestService(repo)
	svc.now = fixedClock(t, "2026-02-19T10:00:00Z")
	po := seedOrder(t, svc, repo)
	ctx := context.Background()
	advanceTo(t, svc, po.ID, StatusInTransitBogura)

	var itemID int64
	for id := range repo.items {
		itemID = id
	}
	result, err := svc.ReceiveItems(ctx, po.ID, ReceiveInput{
		WarehouseID: 3,
		Lines:       []ReceiveLineInput{{ItemID: itemID, ReceivedQuantity: 80}},
	})
	require.NoError(t, err)
	require.False(t, result.AutoCredited)
	require.Empty(t, result.CreditNoteNumber)
	require.Equal(t, "3500", result.RefundAmount.String())

	updated, _, err := repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.True(t, updated.RefundedAt.IsZero())
	require.Empty(t, integration.events)
	require.Len(t, queue.payloads, 1)
	require.Equal(t, "3500", queue.payloads[0].RefundAmount)
	require.InDelta(t, 20.0, queue.payloads[0].LostPercentage, 0.0001)
}

func TestReceiveItemsValidation(t *testing.T) {
	repo := newMemoryPORepo()
	svc, _, _, _, _ := newTestService(repo)
	po := seedOrder(t, svc, repo)
	ctx := context.Background()

	var itemID int64
	for id := range repo.items {
		itemID = id
	}

	_, err := svc.ReceiveItems(ctx, po.ID, ReceiveInput{
		Lines: []ReceiveLineInput{{ItemID: itemID, ReceivedQuantity: 10}},
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	advanceTo(t, svc, po.ID, StatusInTransitBogura)

	_, err = svc.ReceiveItems(ctx, po.ID, ReceiveInput{Lines: nil})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.ReceiveItems(ctx, po.ID, ReceiveInput{
		Lines: []ReceiveLineInput{{ItemID: itemID + 99, ReceivedQuantity: 10}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.ReceiveItems(ctx, po.ID, ReceiveInput{
		Lines: []ReceiveLineInput{{ItemID: itemID, ReceivedQuantity: 101}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.ReceiveItems(ctx, po.ID, ReceiveInput{
		Lines: []ReceiveLineInput{{ItemID: itemID, ReceivedQuantity: 50, StockedQuantity: 60}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestReceiveItemsRejectsSecondRefund(t *testing.T) {
	repo := newMemoryPORepo()
	svc, _, _, _, _ := newTestService(repo)
	svc.now = fixedClock(t, "2026-02-19T10:00:00Z")
	po := seedOrder(t, svc, repo)
	ctx := context.Background()
	advanceTo(t, svc, po.ID, StatusInTransitBogura)

	var itemID int64
	for id := range repo.items {
		itemID = id
	}
	_, err := svc.ReceiveItems(ctx, po.ID, ReceiveInput{
		Lines: []ReceiveLineInput{{ItemID: itemID, ReceivedQuantity: 95}},
	})
	require.NoError(t, err)

	_, err = svc.ReceiveItems(ctx, po.ID, ReceiveInput{
		Lines: []ReceiveLineInput{{ItemID: itemID, ReceivedQuantity: 95}},
	})
	require.ErrorIs(t, err, ErrAlreadyRefunded)
}

func TestDeletePurchaseOrder(t *testing.T) {
	repo := newMemoryPORepo()
	svc, _, _, _, _ := newTestService(repo)
	po := seedOrder(t, svc, repo)
	ctx := context.Background()

	require.NoError(t, svc.DeletePurchaseOrder(ctx, po.ID))
	_, _, err := repo.GetPO(ctx, po.ID)
	require.ErrorIs(t, err, ErrNotFound)

	po2 := seedOrder(t, svc, repo)
	require.NoError(t, svc.ChangeStatus(ctx, po2.ID, StatusPaymentConfirmed, ""))
	require.ErrorIs(t, svc.DeletePurchaseOrder(ctx, po2.ID), ErrValidation)
}

func TestGetPurchaseOrderDetail(t *testing.T) {
	repo := newMemoryPORepo()
	svc, _, _, _, _ := newTestService(repo)
	po := seedOrder(t, svc, repo)
	ctx := context.Background()
	require.NoError(t, svc.ChangeStatus(ctx, po.ID, StatusPaymentConfirmed, ""))

	detail, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaymentConfirmed, detail.Order.Status)
	require.Len(t, detail.Items, 1)
	require.Len(t, detail.History, 1)
	require.EqualValues(t, 100, detail.Summary.TotalQuantity)
}
