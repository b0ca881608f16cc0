package locator

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads selection candidates from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrProductNotFound indicates a missing product reference.
var ErrProductNotFound = errors.New("locator: product not found")

// PutawayCandidates returns active locations of the warehouse with the
// aggregates the capacity check needs, ordered along the picking route.
func (r *Repository) PutawayCandidates(ctx context.Context, companyID, warehouseID, productID int64) ([]PutawayCandidate, error) {
	rows, err := r.pool.Query(ctx, `SELECT
  l.id,
  l.code,
  l.max_weight_kg,
  l.max_volume_m3,
  COALESCE(SUM(ii.quantity * p.unit_weight_kg), 0) AS current_weight,
  COALESCE(SUM(ii.quantity * p.unit_volume_m3), 0) AS current_volume,
  BOOL_OR(ii.product_id = $3) AS holds_product,
  COALESCE(SUM(ii.quantity), 0) = 0 AS is_empty,
  lt.is_putaway_allowed
FROM locations l
JOIN location_types lt ON lt.id = l.type_id
LEFT JOIN inventory_items ii ON ii.location_id = l.id AND ii.quantity > 0
LEFT JOIN products p ON p.id = ii.product_id
WHERE l.company_id = $1 AND l.warehouse_id = $2 AND l.is_active AND NOT lt.is_staging
GROUP BY l.id, l.code, l.max_weight_kg, l.max_volume_m3, lt.is_putaway_allowed
ORDER BY l.code`, companyID, warehouseID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	candidates := []PutawayCandidate{}
	for rows.Next() {
		var c PutawayCandidate
		var holds *bool
		if err := rows.Scan(&c.LocationID, &c.LocationCode, &c.MaxWeightKG, &c.MaxVolumeM3, &c.CurrentWeightKG, &c.CurrentVolumeM3, &holds, &c.IsEmpty, &c.IsPutawayAllowed); err != nil {
			return nil, err
		}
		if holds != nil {
			c.HoldsProduct = *holds
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// PickCandidates returns non-locked ledger rows of the product in pickable
// locations, each with its own available quantity.
func (r *Repository) PickCandidates(ctx context.Context, companyID, warehouseID, productID int64) ([]PickCandidate, error) {
	rows, err := r.pool.Query(ctx, `SELECT
  ii.id,
  l.id,
  l.code,
  l.pick_sequence,
  ii.batch,
  ii.expiry_date,
  ii.quantity - ii.reserved_quantity AS available,
  ii.created_at
FROM inventory_items ii
JOIN locations l ON l.id = ii.location_id
JOIN location_types lt ON lt.id = l.type_id
WHERE ii.company_id = $1 AND ii.warehouse_id = $2 AND ii.product_id = $3
  AND NOT ii.is_locked AND l.is_active AND lt.is_pickable
  AND ii.quantity - ii.reserved_quantity > 0
ORDER BY ii.created_at, ii.id`, companyID, warehouseID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	candidates := []PickCandidate{}
	for rows.Next() {
		var c PickCandidate
		if err := rows.Scan(&c.ItemID, &c.LocationID, &c.LocationCode, &c.PickSequence, &c.Batch, &c.ExpiryDate, &c.Available, &c.StockedAt); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// ProductDims loads the per-unit dimensions of a product.
func (r *Repository) ProductDims(ctx context.Context, companyID, productID int64) (ProductDims, error) {
	var dims ProductDims
	err := r.pool.QueryRow(ctx, `SELECT unit_weight_kg, unit_volume_m3
FROM products WHERE id=$1 AND company_id=$2`, productID, companyID).
		Scan(&dims.UnitWeightKG, &dims.UnitVolumeM3)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductDims{}, ErrProductNotFound
		}
		return ProductDims{}, err
	}
	return dims, nil
}
