package operations

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian-wms/internal/platform/db"
)

// TaskFilter narrows task listings.
type TaskFilter struct {
	CompanyID   int64
	WarehouseID int64
	Type        TaskType
	Status      TaskStatus
	AssignedTo  int64
	WaveID      int64
	Limit       int
}

// Store persists operations entities.
type Store interface {
	CreateTask(ctx context.Context, task Task) (Task, error)
	GetTask(ctx context.Context, companyID, id int64) (Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, from, to TaskStatus, completedAt *time.Time) error
	AssignTask(ctx context.Context, companyID, id, userID int64) error
	SetTaskWave(ctx context.Context, companyID, taskID, waveID int64) error
	SetTaskTarget(ctx context.Context, companyID, taskID, locationID int64) error

	CreateInboundOrder(ctx context.Context, order InboundOrder, lines []InboundOrderLine) (InboundOrder, []InboundOrderLine, error)
	GetInboundOrder(ctx context.Context, companyID, id int64) (InboundOrder, []InboundOrderLine, error)
	AddReceivedQuantity(ctx context.Context, lineID int64, quantity decimal.Decimal) error
	UpdateInboundStatus(ctx context.Context, companyID, id int64, from, to OrderStatus) error

	CreateOutboundOrder(ctx context.Context, order OutboundOrder, lines []OutboundOrderLine) (OutboundOrder, []OutboundOrderLine, error)
	GetOutboundOrder(ctx context.Context, companyID, id int64) (OutboundOrder, []OutboundOrderLine, error)
	AddAllocatedQuantity(ctx context.Context, lineID int64, quantity decimal.Decimal) error
	UpdateOutboundStatus(ctx context.Context, companyID, id int64, from, to OrderStatus) error

	CreateWave(ctx context.Context, wave PickingWave) (PickingWave, error)
	GetWave(ctx context.Context, companyID, id int64) (PickingWave, error)

	CreateShipment(ctx context.Context, shipment Shipment) (Shipment, error)
	MarkShipmentShipped(ctx context.Context, companyID, id int64, at time.Time) error
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// db resolves the querier for ctx, so statements issued while a ledger
// transaction is open join that transaction.
func (r *Repository) db(ctx context.Context) db.Querier {
	return db.QuerierFor(ctx, r.pool)
}

const taskColumns = `id, company_id, warehouse_id, task_type, status, product_id, source_location_id, target_location_id, source_item_id, batch, expiry_date, quantity, order_id, order_line_id, wave_id, assigned_to, reference, created_by, created_at, updated_at, completed_at`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.CompanyID, &t.WarehouseID, &t.Type, &t.Status, &t.ProductID, &t.SourceLocationID, &t.TargetLocationID, &t.SourceItemID, &t.Batch, &t.ExpiryDate, &t.Quantity, &t.OrderID, &t.OrderLineID, &t.WaveID, &t.AssignedTo, &t.Reference, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	return t, err
}

func (r *Repository) CreateTask(ctx context.Context, task Task) (Task, error) {
	return scanTask(r.db(ctx).QueryRow(ctx, `INSERT INTO tasks (company_id, warehouse_id, task_type, status, product_id, source_location_id, target_location_id, source_item_id, batch, expiry_date, quantity, order_id, order_line_id, wave_id, assigned_to, reference, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())
RETURNING `+taskColumns,
		task.CompanyID, task.WarehouseID, string(task.Type), string(task.Status), task.ProductID,
		task.SourceLocationID, task.TargetLocationID, task.SourceItemID, task.Batch, task.ExpiryDate,
		task.Quantity, task.OrderID, task.OrderLineID, task.WaveID, task.AssignedTo, task.Reference, task.CreatedBy))
}

func (r *Repository) GetTask(ctx context.Context, companyID, id int64) (Task, error) {
	task, err := scanTask(r.db(ctx).QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 AND company_id=$2`, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	return task, nil
}

func (r *Repository) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db(ctx).Query(ctx, `SELECT `+taskColumns+`
FROM tasks
WHERE company_id=$1 AND warehouse_id=$2
  AND ($3::text = '' OR task_type=$3)
  AND ($4::text = '' OR status=$4)
  AND ($5::bigint = 0 OR assigned_to=$5)
  AND ($6::bigint = 0 OR wave_id=$6)
ORDER BY created_at, id
LIMIT $7`, filter.CompanyID, filter.WarehouseID, string(filter.Type), string(filter.Status), filter.AssignedTo, filter.WaveID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus transitions a task with a guard on the current status, so
// two concurrent completions cannot both claim the transition.
func (r *Repository) UpdateTaskStatus(ctx context.Context, id int64, from, to TaskStatus, completedAt *time.Time) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE tasks
SET status=$3, completed_at=COALESCE($4, completed_at), updated_at=NOW()
WHERE id=$1 AND status=$2`, id, string(from), string(to), completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *Repository) AssignTask(ctx context.Context, companyID, id, userID int64) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE tasks SET assigned_to=$3, updated_at=NOW()
WHERE id=$1 AND company_id=$2`, id, companyID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *Repository) SetTaskWave(ctx context.Context, companyID, taskID, waveID int64) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE tasks SET wave_id=$3, updated_at=NOW()
WHERE id=$1 AND company_id=$2 AND task_type='picking' AND status='pending'`, taskID, companyID, waveID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *Repository) SetTaskTarget(ctx context.Context, companyID, taskID, locationID int64) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE tasks SET target_location_id=$3, updated_at=NOW()
WHERE id=$1 AND company_id=$2`, taskID, companyID, locationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

const inboundColumns = `id, company_id, warehouse_id, reference, supplier, status, expected_at, created_by, created_at, updated_at`

func scanInbound(row pgx.Row) (InboundOrder, error) {
	var o InboundOrder
	err := row.Scan(&o.ID, &o.CompanyID, &o.WarehouseID, &o.Reference, &o.Supplier, &o.Status, &o.ExpectedAt, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repository) CreateInboundOrder(ctx context.Context, order InboundOrder, lines []InboundOrderLine) (InboundOrder, []InboundOrderLine, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return InboundOrder{}, nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	created, err := scanInbound(tx.QueryRow(ctx, `INSERT INTO inbound_orders (company_id, warehouse_id, reference, supplier, status, expected_at, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
RETURNING `+inboundColumns, order.CompanyID, order.WarehouseID, order.Reference, order.Supplier, string(order.Status), order.ExpectedAt, order.CreatedBy))
	if err != nil {
		return InboundOrder{}, nil, err
	}
	createdLines := make([]InboundOrderLine, 0, len(lines))
	for _, line := range lines {
		var l InboundOrderLine
		err := tx.QueryRow(ctx, `INSERT INTO inbound_order_lines (order_id, product_id, expected_quantity, received_quantity)
VALUES ($1,$2,$3,0)
RETURNING id, order_id, product_id, expected_quantity, received_quantity`,
			created.ID, line.ProductID, line.ExpectedQuantity).
			Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ExpectedQuantity, &l.ReceivedQuantity)
		if err != nil {
			return InboundOrder{}, nil, err
		}
		createdLines = append(createdLines, l)
	}
	if err := tx.Commit(ctx); err != nil {
		return InboundOrder{}, nil, err
	}
	return created, createdLines, nil
}

func (r *Repository) GetInboundOrder(ctx context.Context, companyID, id int64) (InboundOrder, []InboundOrderLine, error) {
	order, err := scanInbound(r.db(ctx).QueryRow(ctx, `SELECT `+inboundColumns+` FROM inbound_orders WHERE id=$1 AND company_id=$2`, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InboundOrder{}, nil, ErrOrderNotFound
		}
		return InboundOrder{}, nil, err
	}
	rows, err := r.db(ctx).Query(ctx, `SELECT id, order_id, product_id, expected_quantity, received_quantity
FROM inbound_order_lines WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return InboundOrder{}, nil, err
	}
	defer rows.Close()
	lines := []InboundOrderLine{}
	for rows.Next() {
		var l InboundOrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ExpectedQuantity, &l.ReceivedQuantity); err != nil {
			return InboundOrder{}, nil, err
		}
		lines = append(lines, l)
	}
	return order, lines, rows.Err()
}

// AddReceivedQuantity increments a line's received quantity, guarded so the
// total never exceeds the expected quantity.
func (r *Repository) AddReceivedQuantity(ctx context.Context, lineID int64, quantity decimal.Decimal) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE inbound_order_lines
SET received_quantity = received_quantity + $2
WHERE id=$1 AND received_quantity + $2 <= expected_quantity`, lineID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOverReceipt
	}
	return nil
}

func (r *Repository) UpdateInboundStatus(ctx context.Context, companyID, id int64, from, to OrderStatus) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE inbound_orders SET status=$4, updated_at=NOW()
WHERE id=$1 AND company_id=$2 AND status=$3`, id, companyID, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderState
	}
	return nil
}

const outboundColumns = `id, company_id, warehouse_id, reference, customer, status, created_by, created_at, updated_at`

func scanOutbound(row pgx.Row) (OutboundOrder, error) {
	var o OutboundOrder
	err := row.Scan(&o.ID, &o.CompanyID, &o.WarehouseID, &o.Reference, &o.Customer, &o.Status, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repository) CreateOutboundOrder(ctx context.Context, order OutboundOrder, lines []OutboundOrderLine) (OutboundOrder, []OutboundOrderLine, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return OutboundOrder{}, nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	created, err := scanOutbound(tx.QueryRow(ctx, `INSERT INTO outbound_orders (company_id, warehouse_id, reference, customer, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
RETURNING `+outboundColumns, order.CompanyID, order.WarehouseID, order.Reference, order.Customer, string(order.Status), order.CreatedBy))
	if err != nil {
		return OutboundOrder{}, nil, err
	}
	createdLines := make([]OutboundOrderLine, 0, len(lines))
	for _, line := range lines {
		var l OutboundOrderLine
		err := tx.QueryRow(ctx, `INSERT INTO outbound_order_lines (order_id, product_id, ordered_quantity, allocated_quantity)
VALUES ($1,$2,$3,0)
RETURNING id, order_id, product_id, ordered_quantity, allocated_quantity`,
			created.ID, line.ProductID, line.OrderedQuantity).
			Scan(&l.ID, &l.OrderID, &l.ProductID, &l.OrderedQuantity, &l.AllocatedQuantity)
		if err != nil {
			return OutboundOrder{}, nil, err
		}
		createdLines = append(createdLines, l)
	}
	if err := tx.Commit(ctx); err != nil {
		return OutboundOrder{}, nil, err
	}
	return created, createdLines, nil
}

func (r *Repository) GetOutboundOrder(ctx context.Context, companyID, id int64) (OutboundOrder, []OutboundOrderLine, error) {
	order, err := scanOutbound(r.db(ctx).QueryRow(ctx, `SELECT `+outboundColumns+` FROM outbound_orders WHERE id=$1 AND company_id=$2`, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OutboundOrder{}, nil, ErrOrderNotFound
		}
		return OutboundOrder{}, nil, err
	}
	rows, err := r.db(ctx).Query(ctx, `SELECT id, order_id, product_id, ordered_quantity, allocated_quantity
FROM outbound_order_lines WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return OutboundOrder{}, nil, err
	}
	defer rows.Close()
	lines := []OutboundOrderLine{}
	for rows.Next() {
		var l OutboundOrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.OrderedQuantity, &l.AllocatedQuantity); err != nil {
			return OutboundOrder{}, nil, err
		}
		lines = append(lines, l)
	}
	return order, lines, rows.Err()
}

func (r *Repository) AddAllocatedQuantity(ctx context.Context, lineID int64, quantity decimal.Decimal) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE outbound_order_lines
SET allocated_quantity = LEAST(allocated_quantity + $2, ordered_quantity)
WHERE id=$1`, lineID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *Repository) UpdateOutboundStatus(ctx context.Context, companyID, id int64, from, to OrderStatus) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE outbound_orders SET status=$4, updated_at=NOW()
WHERE id=$1 AND company_id=$2 AND status=$3`, id, companyID, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderState
	}
	return nil
}

func (r *Repository) CreateWave(ctx context.Context, wave PickingWave) (PickingWave, error) {
	err := r.db(ctx).QueryRow(ctx, `INSERT INTO picking_waves (company_id, warehouse_id, name, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
RETURNING id, created_at`, wave.CompanyID, wave.WarehouseID, wave.Name, string(wave.Status), wave.CreatedBy).
		Scan(&wave.ID, &wave.CreatedAt)
	return wave, err
}

func (r *Repository) GetWave(ctx context.Context, companyID, id int64) (PickingWave, error) {
	var wave PickingWave
	err := r.db(ctx).QueryRow(ctx, `SELECT id, company_id, warehouse_id, name, status, created_by, created_at
FROM picking_waves WHERE id=$1 AND company_id=$2`, id, companyID).
		Scan(&wave.ID, &wave.CompanyID, &wave.WarehouseID, &wave.Name, &wave.Status, &wave.CreatedBy, &wave.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PickingWave{}, ErrOrderNotFound
		}
		return PickingWave{}, err
	}
	return wave, nil
}

func (r *Repository) CreateShipment(ctx context.Context, shipment Shipment) (Shipment, error) {
	err := r.db(ctx).QueryRow(ctx, `INSERT INTO shipments (company_id, outbound_id, reference, carrier, tracking_number, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
RETURNING id, created_at`, shipment.CompanyID, shipment.OutboundID, shipment.Reference, shipment.Carrier, shipment.TrackingNumber).
		Scan(&shipment.ID, &shipment.CreatedAt)
	return shipment, err
}

func (r *Repository) MarkShipmentShipped(ctx context.Context, companyID, id int64, at time.Time) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE shipments SET shipped_at=$3
WHERE id=$1 AND company_id=$2 AND shipped_at IS NULL`, id, companyID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderState
	}
	return nil
}
