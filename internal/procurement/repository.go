package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
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

// RefundUpdate carries the refund fields applied in one statement.
type RefundUpdate struct {
	Amount           decimal.Decimal
	CreditNoteNumber string
	AutoCredited     bool
	RefundedAt       time.Time
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	SetPONumber(ctx context.Context, id int64, number string) error
	InsertItem(ctx context.Context, item PurchaseOrderItem) error
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	InsertStatusLog(ctx context.Context, log StatusLog) error
	UpdateItemReceipt(ctx context.Context, itemID, received, stocked, lost int64) error
	ApplyRefund(ctx context.Context, id int64, refund RefundUpdate) error
	SoftDeletePO(ctx context.Context, id int64, at time.Time) error
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

const poColumns = `id, po_number, supplier_id, status,
	exchange_rate::text, total_amount::text, shipping_cost::text,
	total_shipping_cost::text, extra_cost_global::text, total_weight::text,
	refund_amount::text, COALESCE(credit_note_number, ''), refund_auto_credited,
	refunded_at, note, created_at, deleted_at`

// GetPO returns a live purchase order and its items.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 AND deleted_at IS NULL`, id)
	po, err := scanPO(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, po_number, product_id, china_price::text,
		quantity, received_quantity, stocked_quantity, lost_quantity,
		lost_item_price::text, shipping_cost::text, unit_weight::text, extra_weight::text
	FROM purchase_order_items WHERE po_number=$1 ORDER BY id`, po.PONumber)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var items []PurchaseOrderItem
	for rows.Next() {
		var item PurchaseOrderItem
		var price, lostPrice, shipping, unitWeight, extraWeight string
		if err := rows.Scan(&item.ID, &item.PONumber, &item.ProductID, &price,
			&item.Quantity, &item.ReceivedQuantity, &item.StockedQuantity, &item.LostQuantity,
			&lostPrice, &shipping, &unitWeight, &extraWeight); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if item.ChinaPrice, err = decimal.NewFromString(price); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if item.LostItemPrice, err = decimal.NewFromString(lostPrice); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if item.ShippingCost, err = decimal.NewFromString(shipping); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if item.UnitWeight, err = decimal.NewFromString(unitWeight); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if item.ExtraWeight, err = decimal.NewFromString(extraWeight); err != nil {
			return PurchaseOrder{}, nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

// ListPOs returns live purchase orders matching the filters.
func (r *Repository) ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error) {
	where := ` WHERE deleted_at IS NULL`
	args := []any{}
	argNum := 1
	if filters.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.SupplierID > 0 {
		where += fmt.Sprintf(` AND supplier_id = $%d`, argNum)
		args = append(args, filters.SupplierID)
		argNum++
	}
	if filters.Search != "" {
		where += fmt.Sprintf(` AND po_number ILIKE $%d`, argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT id, po_number, supplier_id, status, total_amount::text, created_at
	FROM purchase_orders` + where +
		` ORDER BY ` + sortOrderPO(filters.SortBy, filters.SortDir) +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []POListItem
	for rows.Next() {
		var item POListItem
		var amount string
		if err := rows.Scan(&item.ID, &item.PONumber, &item.SupplierID, &item.Status, &amount, &item.CreatedAt); err != nil {
			return nil, 0, err
		}
		if item.TotalAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListStatusLogs returns the transition history in insertion order.
func (r *Repository) ListStatusLogs(ctx context.Context, poID int64) ([]StatusLog, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, old_status, new_status, changed_by, comments, changed_at
	FROM po_status_logs WHERE po_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []StatusLog
	for rows.Next() {
		var log StatusLog
		if err := rows.Scan(&log.ID, &log.POID, &log.OldStatus, &log.NewStatus, &log.ChangedBy, &log.Comment, &log.At); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// sortOrderPO returns a safe ORDER BY clause for PO queries.
func sortOrderPO(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "number":
		return "po_number " + dir
	case "supplier":
		return "supplier_id " + dir
	case "total":
		return "total_amount " + dir
	case "status":
		return "status " + dir
	default:
		return "created_at DESC"
	}
}

type poScanner interface {
	Scan(dest ...any) error
}

func scanPO(row poScanner) (PurchaseOrder, error) {
	var po PurchaseOrder
	var rate, amount, shipping, totalShipping, extra, weight, refund string
	var refundedAt, deletedAt pgtype.Timestamptz
	err := row.Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.Status,
		&rate, &amount, &shipping, &totalShipping, &extra, &weight,
		&refund, &po.CreditNoteNumber, &po.RefundAutoCredited,
		&refundedAt, &po.Note, &po.CreatedAt, &deletedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return PurchaseOrder{}, err
	}
	if po.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return PurchaseOrder{}, err
	}
	if po.ShippingCost, err = decimal.NewFromString(shipping); err != nil {
		return PurchaseOrder{}, err
	}
	if po.TotalShippingCost, err = decimal.NewFromString(totalShipping); err != nil {
		return PurchaseOrder{}, err
	}
	if po.ExtraCostGlobal, err = decimal.NewFromString(extra); err != nil {
		return PurchaseOrder{}, err
	}
	if po.TotalWeight, err = decimal.NewFromString(weight); err != nil {
		return PurchaseOrder{}, err
	}
	if po.RefundAmount, err = decimal.NewFromString(refund); err != nil {
		return PurchaseOrder{}, err
	}
	if refundedAt.Valid {
		po.RefundedAt = refundedAt.Time
	}
	if deletedAt.Valid {
		po.DeletedAt = deletedAt.Time
	}
	return po, nil
}

func (tx *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders
	(po_number, supplier_id, status, exchange_rate, total_amount, shipping_cost,
	 total_shipping_cost, extra_cost_global, total_weight, refund_amount, note, created_at)
	VALUES ('', $1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, 0, $9, $10)
	RETURNING id`,
		po.SupplierID, string(po.Status), po.ExchangeRate.String(), po.TotalAmount.String(),
		po.ShippingCost.String(), po.TotalShippingCost.String(), po.ExtraCostGlobal.String(),
		po.TotalWeight.String(), po.Note, po.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) SetPONumber(ctx context.Context, id int64, number string) error {
	// Only stamp an unset number; the PO number is immutable afterwards.
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET po_number=$1 WHERE id=$2 AND po_number=''`, number, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("procurement: po number already set for order %d", id)
	}
	return nil
}

func (tx *txRepo) InsertItem(ctx context.Context, item PurchaseOrderItem) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO purchase_order_items
	(po_number, product_id, china_price, quantity, received_quantity, stocked_quantity,
	 lost_quantity, lost_item_price, shipping_cost, unit_weight, extra_weight)
	VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11::numeric)`,
		item.PONumber, item.ProductID, item.ChinaPrice.String(), item.Quantity,
		item.ReceivedQuantity, item.StockedQuantity, item.LostQuantity,
		item.LostItemPrice.String(), item.ShippingCost.String(),
		item.UnitWeight.String(), item.ExtraWeight.String())
	return err
}

func (tx *txRepo) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := tx.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id)
	po, err := scanPO(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1 WHERE id=$2`, string(status), id)
	return err
}

func (tx *txRepo) InsertStatusLog(ctx context.Context, log StatusLog) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO po_status_logs (po_id, old_status, new_status, changed_by, comments, changed_at)
	VALUES ($1, $2, $3, $4, $5, $6)`,
		log.POID, string(log.OldStatus), string(log.NewStatus), log.ChangedBy, log.Comment, log.At)
	return err
}

func (tx *txRepo) UpdateItemReceipt(ctx context.Context, itemID, received, stocked, lost int64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_order_items
	SET received_quantity=$1, stocked_quantity=$2, lost_quantity=$3 WHERE id=$4`,
		received, stocked, lost, itemID)
	return err
}

func (tx *txRepo) ApplyRefund(ctx context.Context, id int64, refund RefundUpdate) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders
	SET refund_amount=$1::numeric, credit_note_number=$2, refund_auto_credited=$3, refunded_at=$4
	WHERE id=$5 AND refunded_at IS NULL`,
		refund.Amount.String(), refund.CreditNoteNumber, refund.AutoCredited, refund.RefundedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRefunded
	}
	return nil
}

func (tx *txRepo) SoftDeletePO(ctx context.Context, id int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET deleted_at=$1 WHERE id=$2 AND deleted_at IS NULL`, at, id)
	return err
}
