package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity sweeps the inventory ledger for impossible rows.
	TaskLedgerIntegrity = "inventory:ledger_integrity"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
	// TaskMovementArchiveScan reports movement rows eligible for archival.
	TaskMovementArchiveScan = "inventory:movement_archive_scan"
)

// ScheduledPayload carries scheduling metadata shared by the cron tasks.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerIntegrityTask constructs the nightly ledger integrity task.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the key cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// MovementArchiveScanPayload selects which movements the scan considers.
type MovementArchiveScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	OlderThan    int       `json:"older_than_days"`
}

// NewMovementArchiveScanTask constructs the archive scan task.
func NewMovementArchiveScanTask(at time.Time, olderThanDays int) (*asynq.Task, error) {
	body, err := json.Marshal(MovementArchiveScanPayload{ScheduledFor: at, OlderThan: olderThanDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMovementArchiveScan, body, asynq.Queue(QueueDefault)), nil
}
