package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian-wms/internal/shared"
)

// CountRepository is the PostgreSQL CountStore.
type CountRepository struct {
	pool *pgxpool.Pool
}

// NewCountRepository constructs CountRepository.
func NewCountRepository(pool *pgxpool.Pool) *CountRepository {
	return &CountRepository{pool: pool}
}

// ErrSessionNotFound indicates a missing count session.
var ErrSessionNotFound = errors.New("inventory: count session not found")

const sessionColumns = `id, company_id, warehouse_id, name, status, created_by, created_at, updated_at, completed_at`

func scanSession(row pgx.Row) (CountSession, error) {
	var s CountSession
	err := row.Scan(&s.ID, &s.CompanyID, &s.WarehouseID, &s.Name, &s.Status, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	return s, err
}

func (r *CountRepository) CreateSession(ctx context.Context, session CountSession) (CountSession, error) {
	return scanSession(r.pool.QueryRow(ctx, `INSERT INTO stock_count_sessions (company_id, warehouse_id, name, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
RETURNING `+sessionColumns, session.CompanyID, session.WarehouseID, session.Name, string(session.Status), nullInt(session.CreatedBy)))
}

func (r *CountRepository) GetSession(ctx context.Context, companyID, sessionID int64) (CountSession, error) {
	session, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+`
FROM stock_count_sessions WHERE id=$1 AND company_id=$2`, sessionID, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CountSession{}, ErrSessionNotFound
		}
		return CountSession{}, err
	}
	return session, nil
}

func (r *CountRepository) ListSessions(ctx context.Context, companyID, warehouseID int64, p shared.Pagination) ([]CountSession, error) {
	offset := (p.Page - 1) * p.PerPage
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+`
FROM stock_count_sessions
WHERE company_id=$1 AND warehouse_id=$2
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`, companyID, warehouseID, p.PerPage, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := []CountSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus transitions a session atomically. The guard on the
// current status makes concurrent completions race safely: the loser sees
// ErrSessionState.
func (r *CountRepository) UpdateSessionStatus(ctx context.Context, sessionID int64, from, to CountSessionStatus, completedAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_count_sessions
SET status=$3, completed_at=COALESCE($4, completed_at), updated_at=NOW()
WHERE id=$1 AND status=$2`, sessionID, string(from), string(to), completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionState
	}
	return nil
}

const lineColumns = `id, session_id, product_id, location_id, batch, expiry_date, expected_quantity, counted_quantity, counted_by, counted_at`

func scanLine(row pgx.Row) (CountLine, error) {
	var l CountLine
	var countedBy *int64
	err := row.Scan(&l.ID, &l.SessionID, &l.ProductID, &l.LocationID, &l.Batch, &l.ExpiryDate, &l.ExpectedQuantity, &l.CountedQuantity, &countedBy, &l.CountedAt)
	if countedBy != nil {
		l.CountedBy = *countedBy
	}
	return l, err
}

func (r *CountRepository) InsertLine(ctx context.Context, line CountLine) (CountLine, error) {
	return scanLine(r.pool.QueryRow(ctx, `INSERT INTO stock_count_lines (session_id, product_id, location_id, batch, expiry_date, expected_quantity)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING `+lineColumns, line.SessionID, line.ProductID, line.LocationID, line.Batch, line.ExpiryDate, line.ExpectedQuantity))
}

func (r *CountRepository) ListLines(ctx context.Context, sessionID int64) ([]CountLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+`
FROM stock_count_lines WHERE session_id=$1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []CountLine{}
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *CountRepository) UpdateLineCount(ctx context.Context, lineID int64, counted decimal.Decimal, countedBy int64, countedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_count_lines
SET counted_quantity=$2, counted_by=$3, counted_at=$4
WHERE id=$1`, lineID, counted, nullInt(countedBy), countedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}
