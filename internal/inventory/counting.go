package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian-wms/internal/shared"
)

// CountSessionStatus enumerates the states of a stock count session.
type CountSessionStatus string

const (
	CountDraft      CountSessionStatus = "draft"
	CountInProgress CountSessionStatus = "in_progress"
	CountCompleted  CountSessionStatus = "completed"
	CountCanceled   CountSessionStatus = "canceled"
)

// CountSession groups count lines for a physical stock take. Sessions move
// draft -> in_progress -> completed; draft and in_progress sessions may be
// canceled. Completed sessions are immutable.
type CountSession struct {
	ID          int64
	CompanyID   int64
	WarehouseID int64
	Name        string
	Status      CountSessionStatus
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// CountLine is one expected-vs-counted pair inside a session. Expected is
// snapshotted when the line is added; Counted stays nil until recorded.
type CountLine struct {
	ID               int64
	SessionID        int64
	ProductID        int64
	LocationID       *int64
	Batch            string
	ExpiryDate       *time.Time
	ExpectedQuantity decimal.Decimal
	CountedQuantity  *decimal.Decimal
	CountedBy        int64
	CountedAt        *time.Time
}

// Difference returns counted minus expected, or zero when nothing was
// recorded.
func (l CountLine) Difference() decimal.Decimal {
	if l.CountedQuantity == nil {
		return decimal.Zero
	}
	return l.CountedQuantity.Sub(l.ExpectedQuantity)
}

// CountCompletionResult reports the outcome of completing a session.
type CountCompletionResult struct {
	SessionID          int64
	LinesTotal         int
	LinesWithVariance  int
	AdjustmentsCreated int
	FailedLineIDs      []int64
}

// CountStore persists count sessions and their lines.
type CountStore interface {
	CreateSession(ctx context.Context, session CountSession) (CountSession, error)
	GetSession(ctx context.Context, companyID, sessionID int64) (CountSession, error)
	ListSessions(ctx context.Context, companyID, warehouseID int64, p shared.Pagination) ([]CountSession, error)
	UpdateSessionStatus(ctx context.Context, sessionID int64, from, to CountSessionStatus, completedAt *time.Time) error
	InsertLine(ctx context.Context, line CountLine) (CountLine, error)
	ListLines(ctx context.Context, sessionID int64) ([]CountLine, error)
	UpdateLineCount(ctx context.Context, lineID int64, counted decimal.Decimal, countedBy int64, countedAt time.Time) error
}

// CountingService runs stock count sessions against the ledger. On
// completion every line with a nonzero variance is posted as a count
// adjustment; line failures are collected rather than aborting the sweep, so
// a bad line never blocks the rest of a completed count.
type CountingService struct {
	store  CountStore
	ledger *Service
	locker Locker
	audit  AuditPort
}

// NewCountingService builds CountingService. Locker and audit are optional.
func NewCountingService(store CountStore, ledger *Service, locker Locker, audit AuditPort) *CountingService {
	return &CountingService{store: store, ledger: ledger, locker: locker, audit: audit}
}

// CreateSession opens a draft session and snapshots one line per current
// ledger row in scope. A nil location scopes the whole warehouse.
func (s *CountingService) CreateSession(ctx context.Context, companyID, warehouseID int64, name string, locationID *int64, actorID int64) (CountSession, []CountLine, error) {
	session, err := s.store.CreateSession(ctx, CountSession{
		CompanyID:   companyID,
		WarehouseID: warehouseID,
		Name:        name,
		Status:      CountDraft,
		CreatedBy:   actorID,
	})
	if err != nil {
		return CountSession{}, nil, err
	}

	stocks, err := s.ledger.ListByLocation(ctx, companyID, warehouseID, locationID)
	if err != nil {
		return CountSession{}, nil, err
	}
	lines := make([]CountLine, 0, len(stocks))
	for _, stock := range stocks {
		line, err := s.store.InsertLine(ctx, CountLine{
			SessionID:        session.ID,
			ProductID:        stock.ProductID,
			LocationID:       stock.LocationID,
			Batch:            stock.Batch,
			ExpiryDate:       stock.ExpiryDate,
			ExpectedQuantity: stock.Quantity,
		})
		if err != nil {
			return CountSession{}, nil, err
		}
		lines = append(lines, line)
	}
	return session, lines, nil
}

// StartSession moves a draft session to in_progress.
func (s *CountingService) StartSession(ctx context.Context, companyID, sessionID int64) error {
	session, err := s.store.GetSession(ctx, companyID, sessionID)
	if err != nil {
		return err
	}
	if session.Status != CountDraft {
		return ErrSessionState
	}
	return s.store.UpdateSessionStatus(ctx, sessionID, CountDraft, CountInProgress, nil)
}

// RecordCount stores the counted quantity on a line. Only in_progress
// sessions accept counts. A negative count is invalid; zero is a real
// observation.
func (s *CountingService) RecordCount(ctx context.Context, companyID, sessionID, lineID int64, counted decimal.Decimal, actorID int64) error {
	if counted.IsNegative() {
		return ErrInvalidQuantity
	}
	session, err := s.store.GetSession(ctx, companyID, sessionID)
	if err != nil {
		return err
	}
	if session.Status != CountInProgress {
		return ErrSessionState
	}
	return s.store.UpdateLineCount(ctx, lineID, counted, actorID, time.Now().UTC())
}

// CancelSession cancels a session that has not completed.
func (s *CountingService) CancelSession(ctx context.Context, companyID, sessionID int64) error {
	session, err := s.store.GetSession(ctx, companyID, sessionID)
	if err != nil {
		return err
	}
	if session.Status != CountDraft && session.Status != CountInProgress {
		return ErrSessionState
	}
	return s.store.UpdateSessionStatus(ctx, sessionID, session.Status, CountCanceled, nil)
}

// CompleteSession closes an in_progress session and posts one count
// adjustment per line whose counted quantity differs from the snapshot.
// Each adjustment runs in its own transaction; a failing line is recorded in
// the result and the sweep continues.
func (s *CountingService) CompleteSession(ctx context.Context, companyID, sessionID, actorID int64) (CountCompletionResult, error) {
	result := CountCompletionResult{SessionID: sessionID}

	run := func() error {
		session, err := s.store.GetSession(ctx, companyID, sessionID)
		if err != nil {
			return err
		}
		if session.Status != CountInProgress {
			return ErrSessionState
		}

		lines, err := s.store.ListLines(ctx, sessionID)
		if err != nil {
			return err
		}
		result.LinesTotal = len(lines)

		now := time.Now().UTC()
		if err := s.store.UpdateSessionStatus(ctx, sessionID, CountInProgress, CountCompleted, &now); err != nil {
			return err
		}

		for _, line := range lines {
			diff := line.Difference()
			if line.CountedQuantity == nil || diff.IsZero() {
				continue
			}
			result.LinesWithVariance++
			_, err := s.ledger.ApplyAdjustment(ctx, AdjustmentInput{
				CompanyID:   session.CompanyID,
				WarehouseID: session.WarehouseID,
				ProductID:   line.ProductID,
				LocationID:  line.LocationID,
				Delta:       diff,
				Reason:      ReasonCount,
				Description: fmt.Sprintf("stock count session %d", sessionID),
				Reference:   fmt.Sprintf("COUNT-%d", sessionID),
				ActorID:     actorID,
			})
			if err != nil {
				result.FailedLineIDs = append(result.FailedLineIDs, line.ID)
				continue
			}
			result.AdjustmentsCreated++
		}
		return nil
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, shared.CountSessionLockKey(sessionID), run)
	} else {
		err = run()
	}
	if err != nil {
		return CountCompletionResult{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "inventory:count-complete",
			Entity:   "stock_count_session",
			EntityID: fmt.Sprintf("%d", sessionID),
			Meta: map[string]any{
				"lines_total":         result.LinesTotal,
				"lines_with_variance": result.LinesWithVariance,
				"adjustments_created": result.AdjustmentsCreated,
			},
		})
	}
	return result, nil
}

// GetSession returns one session with its lines.
func (s *CountingService) GetSession(ctx context.Context, companyID, sessionID int64) (CountSession, []CountLine, error) {
	session, err := s.store.GetSession(ctx, companyID, sessionID)
	if err != nil {
		return CountSession{}, nil, err
	}
	lines, err := s.store.ListLines(ctx, sessionID)
	if err != nil {
		return CountSession{}, nil, err
	}
	return session, lines, nil
}

// ListSessions lists sessions for a warehouse, newest first.
func (s *CountingService) ListSessions(ctx context.Context, companyID, warehouseID int64, p shared.Pagination) ([]CountSession, error) {
	return s.store.ListSessions(ctx, companyID, warehouseID, p)
}
