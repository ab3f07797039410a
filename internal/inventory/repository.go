package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/padma-erp/padma-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error)
	InsertTransaction(ctx context.Context, trx Transaction) (int64, error)
	InsertTransactionLine(ctx context.Context, line TransactionLine) error
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertCardEntry(ctx context.Context, entry StockCardEntry, warehouseID, productID, txID int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetStockCard lists card entries for a warehouse/product pair, newest last.
func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	sql := `SELECT tx_code, tx_type, posted_at, qty_in, qty_out, balance_qty,
		unit_cost::text, balance_cost::text, note
	FROM inventory_stock_cards WHERE warehouse_id=$1 AND product_id=$2`
	args := []any{filter.WarehouseID, filter.ProductID}
	argNum := 3
	if !filter.From.IsZero() {
		sql += fmt.Sprintf(` AND posted_at >= $%d`, argNum)
		args = append(args, filter.From)
		argNum++
	}
	if !filter.To.IsZero() {
		sql += fmt.Sprintf(` AND posted_at <= $%d`, argNum)
		args = append(args, filter.To)
		argNum++
	}
	sql += ` ORDER BY id`
	if filter.Limit > 0 {
		sql += fmt.Sprintf(` LIMIT $%d`, argNum)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []StockCardEntry
	for rows.Next() {
		var entry StockCardEntry
		var unitCost, balanceCost string
		if err := rows.Scan(&entry.TxCode, &entry.TxType, &entry.PostedAt,
			&entry.QtyIn, &entry.QtyOut, &entry.BalanceQty,
			&unitCost, &balanceCost, &entry.Note); err != nil {
			return nil, err
		}
		if entry.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
			return nil, err
		}
		if entry.BalanceCost, err = decimal.NewFromString(balanceCost); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (tx *txRepo) GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	var balance Balance
	var avgCost string
	err := tx.tx.QueryRow(ctx, `SELECT warehouse_id, product_id, qty, avg_cost::text, updated_at
	FROM inventory_balances WHERE warehouse_id=$1 AND product_id=$2 FOR UPDATE`,
		warehouseID, productID).Scan(&balance.WarehouseID, &balance.ProductID,
		&balance.Qty, &avgCost, &balance.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	if balance.AvgCost, err = decimal.NewFromString(avgCost); err != nil {
		return Balance{}, err
	}
	return balance, nil
}

func (tx *txRepo) InsertTransaction(ctx context.Context, trx Transaction) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO inventory_transactions
	(code, type, warehouse_id, ref_module, ref_id, note, posted_at, created_by, created_at)
	VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, now())
	RETURNING id`,
		trx.Code, string(trx.Type), trx.WarehouseID, trx.RefModule, trx.RefID,
		trx.Note, trx.PostedAt, trx.CreatedBy).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertTransactionLine(ctx context.Context, line TransactionLine) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO inventory_transaction_lines
	(transaction_id, product_id, qty, unit_cost)
	VALUES ($1, $2, $3, $4::numeric)`,
		line.TransactionID, line.ProductID, line.Qty, line.UnitCost.String())
	return err
}

func (tx *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO inventory_balances (warehouse_id, product_id, qty, avg_cost, updated_at)
	VALUES ($1, $2, $3, $4::numeric, now())
	ON CONFLICT (warehouse_id, product_id)
	DO UPDATE SET qty=EXCLUDED.qty, avg_cost=EXCLUDED.avg_cost, updated_at=now()`,
		balance.WarehouseID, balance.ProductID, balance.Qty, balance.AvgCost.String())
	return err
}

func (tx *txRepo) InsertCardEntry(ctx context.Context, entry StockCardEntry, warehouseID, productID, txID int64) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO inventory_stock_cards
	(warehouse_id, product_id, transaction_id, tx_code, tx_type, posted_at,
	 qty_in, qty_out, balance_qty, unit_cost, balance_cost, note)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric, $12)`,
		warehouseID, productID, txID, entry.TxCode, string(entry.TxType), entry.PostedAt,
		entry.QtyIn, entry.QtyOut, entry.BalanceQty,
		entry.UnitCost.String(), entry.BalanceCost.String(), entry.Note)
	return err
}
