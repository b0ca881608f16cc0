package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian-wms/internal/platform/db"
	"github.com/meridian-wms/meridian-wms/internal/shared"
)

// Repository persists ledger rows and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CandidateFilter selects ledger rows eligible for reservation or release.
// LocationID narrows to one location when set; locked rows are always
// excluded.
type CandidateFilter struct {
	CompanyID   int64
	WarehouseID int64
	ProductID   int64
	LocationID  *int64
}

// AvailabilityFilter scopes availability aggregation.
type AvailabilityFilter struct {
	CompanyID   int64
	WarehouseID int64
	ProductID   int64
	LocationID  *int64
}

// WarehousePolicy carries the per-warehouse ledger policy flags.
type WarehousePolicy struct {
	AllowNegativeStock bool
}

// TxRepository exposes transactional operations used by the service. All row
// reads inside the critical section take row locks.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, key ItemKey) (Item, error)
	GetItemByIDForUpdate(ctx context.Context, id int64) (Item, error)
	CreateItem(ctx context.Context, key ItemKey) (Item, error)
	ListCandidatesForUpdate(ctx context.Context, filter CandidateFilter) ([]Item, error)
	UpdateItemQuantities(ctx context.Context, id int64, quantity, reserved decimal.Decimal) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	InsertAdjustment(ctx context.Context, adjustment Adjustment) (int64, error)
	WarehousePolicy(ctx context.Context, companyID, warehouseID int64) (WarehousePolicy, error)
}

type txRepository struct {
	tx pgx.Tx
}

// ErrWarehouseNotFound indicates the warehouse does not exist in the company.
var ErrWarehouseNotFound = errors.New("inventory: warehouse not found in company")

// WithTx executes the callback inside a repeatable-read transaction. A
// transaction already carried by ctx is joined, so collaborating stores and
// ledger effects started by the same caller commit together.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `id, company_id, warehouse_id, product_id, location_id, batch, expiry_date, quantity, reserved_quantity, is_locked, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.CompanyID, &item.WarehouseID, &item.ProductID, &item.LocationID, &item.Batch, &item.ExpiryDate, &item.Quantity, &item.ReservedQuantity, &item.IsLocked, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

// SumAvailable aggregates quantity and reserved quantity over non-locked rows.
func (r *Repository) SumAvailable(ctx context.Context, filter AvailabilityFilter) (decimal.Decimal, decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, decimal.Zero, errors.New("inventory repository not initialised")
	}
	var qty, reserved decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0), COALESCE(SUM(reserved_quantity), 0)
FROM inventory_items
WHERE company_id=$1 AND warehouse_id=$2 AND product_id=$3 AND NOT is_locked
  AND ($4::bigint IS NULL OR location_id=$4)`, filter.CompanyID, filter.WarehouseID, filter.ProductID, filter.LocationID).Scan(&qty, &reserved)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return qty, reserved, nil
}

// ListMovements returns movement records matching the filter, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, warehouse_id, product_id, location_from_id, location_to_id, batch, expiry_date, movement_type, quantity, reference, reason, created_by, created_at
FROM inventory_movements
WHERE company_id=$1 AND warehouse_id=$2
  AND ($3::bigint = 0 OR product_id=$3)
  AND ($4::text = '' OR movement_type=$4)
  AND created_at BETWEEN COALESCE($5, '-infinity') AND COALESCE($6, 'infinity')
ORDER BY created_at DESC, id DESC
LIMIT $7`, filter.CompanyID, filter.WarehouseID, filter.ProductID, string(filter.Type), nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.WarehouseID, &m.ProductID, &m.LocationFromID, &m.LocationToID, &m.Batch, &m.ExpiryDate, &m.Type, &m.Quantity, &m.Reference, &m.Reason, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// SummariseByProduct aggregates non-locked ledger rows per product.
func (r *Repository) SummariseByProduct(ctx context.Context, companyID, warehouseID, productID int64) ([]ProductSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, COALESCE(SUM(quantity), 0), COALESCE(SUM(reserved_quantity), 0)
FROM inventory_items
WHERE company_id=$1 AND warehouse_id=$2 AND NOT is_locked
  AND ($3::bigint = 0 OR product_id=$3)
GROUP BY product_id
ORDER BY product_id`, companyID, warehouseID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	summaries := []ProductSummary{}
	for rows.Next() {
		var s ProductSummary
		if err := rows.Scan(&s.ProductID, &s.TotalQuantity, &s.TotalReserved); err != nil {
			return nil, err
		}
		s.Available = s.TotalQuantity.Sub(s.TotalReserved)
		if s.Available.IsNegative() {
			s.Available = decimal.Zero
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// ListByLocation returns per-row stock, optionally narrowed to one location.
func (r *Repository) ListByLocation(ctx context.Context, companyID, warehouseID int64, locationID *int64) ([]LocationStock, error) {
	rows, err := r.pool.Query(ctx, `SELECT location_id, product_id, quantity, reserved_quantity, batch, expiry_date
FROM inventory_items
WHERE company_id=$1 AND warehouse_id=$2 AND NOT is_locked
  AND ($3::bigint IS NULL OR location_id=$3)
ORDER BY location_id NULLS FIRST, product_id`, companyID, warehouseID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stocks := []LocationStock{}
	for rows.Next() {
		var s LocationStock
		if err := rows.Scan(&s.LocationID, &s.ProductID, &s.Quantity, &s.ReservedQuantity, &s.Batch, &s.ExpiryDate); err != nil {
			return nil, err
		}
		s.Available = s.Quantity.Sub(s.ReservedQuantity)
		if s.Available.IsNegative() {
			s.Available = decimal.Zero
		}
		stocks = append(stocks, s)
	}
	return stocks, rows.Err()
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, key ItemKey) (Item, error) {
	item, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+`
FROM inventory_items
WHERE company_id=$1 AND warehouse_id=$2 AND product_id=$3 AND batch=$4
  AND (($5::bigint IS NULL AND location_id IS NULL) OR location_id=$5)
  AND (($6::date IS NULL AND expiry_date IS NULL) OR expiry_date=$6)
FOR UPDATE`, key.CompanyID, key.WarehouseID, key.ProductID, key.Batch, key.LocationID, key.ExpiryDate))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) GetItemByIDForUpdate(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) CreateItem(ctx context.Context, key ItemKey) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `INSERT INTO inventory_items (company_id, warehouse_id, product_id, location_id, batch, expiry_date, quantity, reserved_quantity, is_locked, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,0,0,FALSE,NOW(),NOW())
RETURNING `+itemColumns, key.CompanyID, key.WarehouseID, key.ProductID, key.LocationID, key.Batch, key.ExpiryDate))
}

func (r *txRepository) ListCandidatesForUpdate(ctx context.Context, filter CandidateFilter) ([]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+itemColumns+`
FROM inventory_items
WHERE company_id=$1 AND warehouse_id=$2 AND product_id=$3 AND NOT is_locked
  AND ($4::bigint IS NULL OR location_id=$4)
ORDER BY created_at ASC, expiry_date ASC NULLS LAST, id ASC
FOR UPDATE`, filter.CompanyID, filter.WarehouseID, filter.ProductID, filter.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) UpdateItemQuantities(ctx context.Context, id int64, quantity, reserved decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_items SET quantity=$2, reserved_quantity=$3, updated_at=NOW() WHERE id=$1`, id, quantity, reserved)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (company_id, warehouse_id, product_id, location_from_id, location_to_id, batch, expiry_date, movement_type, quantity, reference, reason, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW()) RETURNING id`,
		movement.CompanyID, movement.WarehouseID, movement.ProductID, movement.LocationFromID, movement.LocationToID, movement.Batch, movement.ExpiryDate, string(movement.Type), movement.Quantity, movement.Reference, movement.Reason, nullInt(movement.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertAdjustment(ctx context.Context, adjustment Adjustment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_adjustments (company_id, warehouse_id, product_id, location_id, reason, description, quantity_difference, reference, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		adjustment.CompanyID, adjustment.WarehouseID, adjustment.ProductID, adjustment.LocationID, string(adjustment.Reason), adjustment.Description, adjustment.QuantityDifference, adjustment.Reference, nullInt(adjustment.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) WarehousePolicy(ctx context.Context, companyID, warehouseID int64) (WarehousePolicy, error) {
	var ownerID int64
	var policy WarehousePolicy
	err := r.tx.QueryRow(ctx, `SELECT company_id, allow_negative_stock FROM warehouses WHERE id=$1`, warehouseID).Scan(&ownerID, &policy.AllowNegativeStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WarehousePolicy{}, ErrWarehouseNotFound
		}
		return WarehousePolicy{}, err
	}
	if ownerID != companyID {
		return WarehousePolicy{}, shared.ErrCrossCompanyRef
	}
	return policy, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
