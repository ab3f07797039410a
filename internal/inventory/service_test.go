package inventory

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	balances map[string]Balance
	cards    []StockCardEntry
	nextID   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[string]Balance)}
}

func balanceKey(warehouseID, productID int64) string {
	return fmt.Sprintf("%d:%d", warehouseID, productID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	result := make([]StockCardEntry, len(r.cards))
	copy(result, r.cards)
	return result, nil
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	if bal, ok := tx.repo.balances[balanceKey(warehouseID, productID)]; ok {
		return bal, nil
	}
	return Balance{}, ErrBalanceNotFound
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, _ Transaction) (int64, error) {
	tx.repo.nextID++
	return tx.repo.nextID, nil
}

func (tx *memoryTx) InsertTransactionLine(ctx context.Context, _ TransactionLine) error {
	return nil
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	tx.repo.balances[balanceKey(balance.WarehouseID, balance.ProductID)] = balance
	return nil
}

func (tx *memoryTx) InsertCardEntry(ctx context.Context, entry StockCardEntry, warehouseID, productID, txID int64) error {
	tx.repo.cards = append(tx.repo.cards, entry)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMovingAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	entry, err := svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: 10, UnitCost: dec("180"), Note: "PO receipt"})
	require.NoError(t, err)
	require.EqualValues(t, 10, entry.BalanceQty)
	require.True(t, entry.BalanceCost.Equal(dec("180")))

	entry, err = svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: 5, UnitCost: dec("210"), Note: "PO receipt"})
	require.NoError(t, err)
	require.EqualValues(t, 15, entry.BalanceQty)
	require.True(t, entry.BalanceCost.Equal(dec("190")))

	entry, err = svc.PostAdjustment(ctx, AdjustmentInput{WarehouseID: 1, ProductID: 1, Qty: -8, Note: "issue"})
	require.NoError(t, err)
	require.EqualValues(t, 7, entry.BalanceQty)
	require.True(t, entry.UnitCost.Equal(dec("190")))
	require.True(t, entry.BalanceCost.Equal(dec("190")))
}

func TestInboundValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: 0, UnitCost: dec("10")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: 5, UnitCost: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = svc.PostInbound(ctx, InboundInput{ProductID: 1, Qty: 5, UnitCost: dec("10")})
	require.Error(t, err)
}

func TestNegativeStockGuard(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{WarehouseID: 1, ProductID: 1, Qty: -1, Note: "negative"})
	require.ErrorIs(t, err, ErrNegativeStock)

	svc = NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true})
	entry, err := svc.PostAdjustment(ctx, AdjustmentInput{WarehouseID: 1, ProductID: 1, Qty: -1, Note: "negative allowed"})
	require.NoError(t, err)
	require.EqualValues(t, -1, entry.BalanceQty)
}

func TestAdjustmentDrainsToZeroResetsAverage(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: 4, UnitCost: dec("250")})
	require.NoError(t, err)

	entry, err := svc.PostAdjustment(ctx, AdjustmentInput{WarehouseID: 1, ProductID: 1, Qty: -4, Note: "write off"})
	require.NoError(t, err)
	require.EqualValues(t, 0, entry.BalanceQty)
	require.True(t, entry.BalanceCost.IsZero())
}
