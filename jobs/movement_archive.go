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

// MovementArchiveScanJob reports how many movement rows per company are old
// enough to archive. Movements are append-only and never deleted in place;
// the scan feeds capacity planning for an external archival step.
type MovementArchiveScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewMovementArchiveScanJob initialises the archive scan handler.
func NewMovementArchiveScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *observability.Metrics) *MovementArchiveScanJob {
	return &MovementArchiveScanJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle executes the archive scan.
func (j *MovementArchiveScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("movement archive scan: handler not configured")
	}
	var payload MovementArchiveScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = 365
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -payload.OlderThan)

	logger := j.logger()
	rows, err := j.Pool.Query(ctx, `SELECT company_id, COUNT(*)
FROM inventory_movements
WHERE created_at < $1
GROUP BY company_id
ORDER BY company_id`, cutoff)
	if err != nil {
		j.Metrics.RecordJob(TaskMovementArchiveScan, "error")
		logger.Error("archive scan failed", slog.Any("error", err))
		return err
	}
	defer rows.Close()

	total := int64(0)
	for rows.Next() {
		var companyID, count int64
		if err := rows.Scan(&companyID, &count); err != nil {
			j.Metrics.RecordJob(TaskMovementArchiveScan, "error")
			return err
		}
		total += count
		logger.Info("movements eligible for archive",
			slog.Int64("company_id", companyID),
			slog.Int64("rows", count),
			slog.Time("cutoff", cutoff),
		)
	}
	if err := rows.Err(); err != nil {
		j.Metrics.RecordJob(TaskMovementArchiveScan, "error")
		return err
	}

	j.Metrics.RecordJob(TaskMovementArchiveScan, "ok")
	logger.Info("completed movement archive scan", slog.Int64("total_rows", total))
	return nil
}

func (j *MovementArchiveScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskMovementArchiveScan))
	}
	return slog.Default().With(slog.String("job", TaskMovementArchiveScan))
}
