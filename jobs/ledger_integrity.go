package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-wms/meridian-wms/internal/observability"
)

// LedgerIntegrityJob sweeps the inventory ledger for rows that should be
// impossible: reservations exceeding on-hand quantity, and negative on-hand
// quantity inside warehouses that forbid it. Findings are logged, never
// auto-corrected; an operator posts the correcting adjustment.
type LedgerIntegrityJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewLedgerIntegrityJob initialises the integrity sweep handler.
func NewLedgerIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *observability.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Pool: pool, Logger: logger, Metrics: metrics}
}

type ledgerFinding struct {
	ItemID      int64
	CompanyID   int64
	WarehouseID int64
	ProductID   int64
	Quantity    string
	Reserved    string
	Kind        string
}

// Handle executes the integrity sweep.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	logger := j.logger()
	logger.Info("starting ledger integrity sweep")

	findings, err := j.scan(ctx)
	if err != nil {
		j.Metrics.RecordJob(TaskLedgerIntegrity, "error")
		logger.Error("sweep failed", slog.Any("error", err))
		return err
	}

	for _, f := range findings {
		logger.Warn("ledger integrity finding",
			slog.String("kind", f.Kind),
			slog.Int64("item_id", f.ItemID),
			slog.Int64("company_id", f.CompanyID),
			slog.Int64("warehouse_id", f.WarehouseID),
			slog.Int64("product_id", f.ProductID),
			slog.String("quantity", f.Quantity),
			slog.String("reserved", f.Reserved),
		)
	}

	j.Metrics.RecordJob(TaskLedgerIntegrity, "ok")
	logger.Info("completed ledger integrity sweep",
		slog.Int("findings", len(findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LedgerIntegrityJob) scan(ctx context.Context) ([]ledgerFinding, error) {
	rows, err := j.Pool.Query(ctx, `SELECT i.id, i.company_id, i.warehouse_id, i.product_id,
       i.quantity::text, i.reserved_quantity::text,
       CASE WHEN i.reserved_quantity > i.quantity THEN 'overcommitted' ELSE 'negative_quantity' END
FROM inventory_items i
JOIN warehouses w ON w.id = i.warehouse_id
WHERE i.reserved_quantity > i.quantity
   OR (i.quantity < 0 AND NOT w.allow_negative_stock)
ORDER BY i.company_id, i.warehouse_id, i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []ledgerFinding
	for rows.Next() {
		var f ledgerFinding
		if err := rows.Scan(&f.ItemID, &f.CompanyID, &f.WarehouseID, &f.ProductID, &f.Quantity, &f.Reserved, &f.Kind); err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}
