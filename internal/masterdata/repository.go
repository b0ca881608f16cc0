package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists master data in PostgreSQL. Every read is scoped by
// company; a record in another company is indistinguishable from a missing
// one.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func mapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

const warehouseColumns = `id, company_id, code, name, address, allow_negative_stock, is_active, created_at, updated_at`

func scanWarehouse(row pgx.Row) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.CompanyID, &w.Code, &w.Name, &w.Address, &w.AllowNegativeStock, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (r *Repository) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	created, err := scanWarehouse(r.pool.QueryRow(ctx, `INSERT INTO warehouses (company_id, code, name, address, allow_negative_stock, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,TRUE,NOW(),NOW())
RETURNING `+warehouseColumns, w.CompanyID, w.Code, w.Name, w.Address, w.AllowNegativeStock))
	if err != nil {
		return Warehouse{}, mapInsertErr(err)
	}
	return created, nil
}

func (r *Repository) GetWarehouse(ctx context.Context, companyID, id int64) (Warehouse, error) {
	w, err := scanWarehouse(r.pool.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id=$1 AND company_id=$2`, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrNotFound
		}
		return Warehouse{}, err
	}
	return w, nil
}

func (r *Repository) ListWarehouses(ctx context.Context, companyID int64) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	warehouses := []Warehouse{}
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (r *Repository) UpdateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	updated, err := scanWarehouse(r.pool.QueryRow(ctx, `UPDATE warehouses
SET name=$3, address=$4, allow_negative_stock=$5, is_active=$6, updated_at=NOW()
WHERE id=$1 AND company_id=$2
RETURNING `+warehouseColumns, w.ID, w.CompanyID, w.Name, w.Address, w.AllowNegativeStock, w.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrNotFound
		}
		return Warehouse{}, err
	}
	return updated, nil
}

const locationTypeColumns = `id, company_id, name, is_pickable, is_putaway_allowed, is_staging`

func scanLocationType(row pgx.Row) (LocationType, error) {
	var t LocationType
	err := row.Scan(&t.ID, &t.CompanyID, &t.Name, &t.IsPickable, &t.IsPutawayAllowed, &t.IsStaging)
	return t, err
}

func (r *Repository) CreateLocationType(ctx context.Context, t LocationType) (LocationType, error) {
	created, err := scanLocationType(r.pool.QueryRow(ctx, `INSERT INTO location_types (company_id, name, is_pickable, is_putaway_allowed, is_staging)
VALUES ($1,$2,$3,$4,$5)
RETURNING `+locationTypeColumns, t.CompanyID, t.Name, t.IsPickable, t.IsPutawayAllowed, t.IsStaging))
	if err != nil {
		return LocationType{}, mapInsertErr(err)
	}
	return created, nil
}

func (r *Repository) ListLocationTypes(ctx context.Context, companyID int64) ([]LocationType, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationTypeColumns+` FROM location_types WHERE company_id=$1 ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	types := []LocationType{}
	for rows.Next() {
		t, err := scanLocationType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

const locationColumns = `id, company_id, warehouse_id, type_id, code, barcode, max_weight_kg, max_volume_m3, pick_sequence, is_active, created_at, updated_at`

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.CompanyID, &l.WarehouseID, &l.TypeID, &l.Code, &l.Barcode, &l.MaxWeightKG, &l.MaxVolumeM3, &l.PickSequence, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (r *Repository) CreateLocation(ctx context.Context, l Location) (Location, error) {
	created, err := scanLocation(r.pool.QueryRow(ctx, `INSERT INTO locations (company_id, warehouse_id, type_id, code, barcode, max_weight_kg, max_volume_m3, pick_sequence, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE,NOW(),NOW())
RETURNING `+locationColumns, l.CompanyID, l.WarehouseID, l.TypeID, l.Code, l.Barcode, l.MaxWeightKG, l.MaxVolumeM3, l.PickSequence))
	if err != nil {
		return Location{}, mapInsertErr(err)
	}
	return created, nil
}

func (r *Repository) GetLocation(ctx context.Context, companyID, id int64) (Location, error) {
	l, err := scanLocation(r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id=$1 AND company_id=$2`, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrNotFound
		}
		return Location{}, err
	}
	return l, nil
}

func (r *Repository) GetLocationByBarcode(ctx context.Context, companyID int64, barcode string) (Location, error) {
	l, err := scanLocation(r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE company_id=$1 AND barcode=$2`, companyID, barcode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrNotFound
		}
		return Location{}, err
	}
	return l, nil
}

func (r *Repository) ListLocations(ctx context.Context, companyID, warehouseID int64) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationColumns+`
FROM locations WHERE company_id=$1 AND warehouse_id=$2 AND is_active
ORDER BY pick_sequence, code`, companyID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	locations := []Location{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

const productColumns = `id, company_id, sku, name, description, unit_weight_kg, unit_volume_m3, is_batch_tracked, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.CompanyID, &p.SKU, &p.Name, &p.Description, &p.UnitWeightKG, &p.UnitVolumeM3, &p.IsBatchTracked, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	created, err := scanProduct(r.pool.QueryRow(ctx, `INSERT INTO products (company_id, sku, name, description, unit_weight_kg, unit_volume_m3, is_batch_tracked, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,NOW(),NOW())
RETURNING `+productColumns, p.CompanyID, p.SKU, p.Name, p.Description, p.UnitWeightKG, p.UnitVolumeM3, p.IsBatchTracked))
	if err != nil {
		return Product{}, mapInsertErr(err)
	}
	return created, nil
}

func (r *Repository) GetProduct(ctx context.Context, companyID, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 AND company_id=$2`, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *Repository) GetProductBySKU(ctx context.Context, companyID int64, sku string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE company_id=$1 AND sku=$2`, companyID, sku))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *Repository) ListProducts(ctx context.Context, companyID int64, limit, offset int) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+`
FROM products WHERE company_id=$1 AND is_active
ORDER BY sku LIMIT $2 OFFSET $3`, companyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *Repository) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	updated, err := scanProduct(r.pool.QueryRow(ctx, `UPDATE products
SET name=$3, description=$4, unit_weight_kg=$5, unit_volume_m3=$6, is_batch_tracked=$7, is_active=$8, updated_at=NOW()
WHERE id=$1 AND company_id=$2
RETURNING `+productColumns, p.ID, p.CompanyID, p.Name, p.Description, p.UnitWeightKG, p.UnitVolumeM3, p.IsBatchTracked, p.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return updated, nil
}
