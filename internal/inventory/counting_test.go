package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-wms/meridian-wms/internal/shared"
)

type memoryCountStore struct {
	sessions map[int64]*CountSession
	lines    map[int64]*CountLine
	nextID   int64
}

func newMemoryCountStore() *memoryCountStore {
	return &memoryCountStore{sessions: map[int64]*CountSession{}, lines: map[int64]*CountLine{}, nextID: 1}
}

func (m *memoryCountStore) CreateSession(_ context.Context, session CountSession) (CountSession, error) {
	session.ID = m.nextID
	m.nextID++
	session.CreatedAt = time.Now().UTC()
	session.UpdatedAt = session.CreatedAt
	m.sessions[session.ID] = &session
	return session, nil
}

func (m *memoryCountStore) GetSession(_ context.Context, companyID, sessionID int64) (CountSession, error) {
	session, ok := m.sessions[sessionID]
	if !ok || session.CompanyID != companyID {
		return CountSession{}, ErrSessionNotFound
	}
	return *session, nil
}

func (m *memoryCountStore) ListSessions(_ context.Context, companyID, warehouseID int64, _ shared.Pagination) ([]CountSession, error) {
	out := []CountSession{}
	for _, session := range m.sessions {
		if session.CompanyID == companyID && session.WarehouseID == warehouseID {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (m *memoryCountStore) UpdateSessionStatus(_ context.Context, sessionID int64, from, to CountSessionStatus, completedAt *time.Time) error {
	session, ok := m.sessions[sessionID]
	if !ok || session.Status != from {
		return ErrSessionState
	}
	session.Status = to
	if completedAt != nil {
		session.CompletedAt = completedAt
	}
	return nil
}

func (m *memoryCountStore) InsertLine(_ context.Context, line CountLine) (CountLine, error) {
	line.ID = m.nextID
	m.nextID++
	m.lines[line.ID] = &line
	return line, nil
}

func (m *memoryCountStore) ListLines(_ context.Context, sessionID int64) ([]CountLine, error) {
	out := []CountLine{}
	for id := int64(1); id < m.nextID; id++ {
		if line, ok := m.lines[id]; ok && line.SessionID == sessionID {
			out = append(out, *line)
		}
	}
	return out, nil
}

func (m *memoryCountStore) UpdateLineCount(_ context.Context, lineID int64, counted decimal.Decimal, countedBy int64, countedAt time.Time) error {
	line, ok := m.lines[lineID]
	if !ok {
		return ErrItemNotFound
	}
	line.CountedQuantity = &counted
	line.CountedBy = countedBy
	line.CountedAt = &countedAt
	return nil
}

func newCountingFixture(t *testing.T) (*CountingService, *memoryRepo, *memoryCountStore) {
	t.Helper()
	repo := newMemoryRepo()
	repo.policies[1] = WarehousePolicy{}
	store := newMemoryCountStore()
	return NewCountingService(store, newTestService(repo), nil, nil), repo, store
}

func TestCreateSessionSnapshotsLedgerRows(t *testing.T) {
	svc, repo, _ := newCountingFixture(t)
	loc := ptr(int64(4))
	repo.addItem(Item{CompanyID: 1, WarehouseID: 1, ProductID: 7, LocationID: loc, Quantity: dec("50")})
	repo.addItem(Item{CompanyID: 1, WarehouseID: 1, ProductID: 8, LocationID: loc, Quantity: dec("12.5")})

	session, lines, err := svc.CreateSession(context.Background(), 1, 1, "aisle 4 count", loc, 99)
	require.NoError(t, err)
	require.Equal(t, CountDraft, session.Status)
	require.Len(t, lines, 2)
	require.True(t, lines[0].ExpectedQuantity.Equal(dec("50")))
	require.Nil(t, lines[0].CountedQuantity)
}

func TestRecordCountRequiresInProgress(t *testing.T) {
	svc, repo, _ := newCountingFixture(t)
	repo.addItem(Item{CompanyID: 1, WarehouseID: 1, ProductID: 7, Quantity: dec("50")})

	session, lines, err := svc.CreateSession(context.Background(), 1, 1, "count", nil, 99)
	require.NoError(t, err)

	err = svc.RecordCount(context.Background(), 1, session.ID, lines[0].ID, dec("48"), 99)
	require.ErrorIs(t, err, ErrSessionState, "draft sessions do not accept counts")

	require.NoError(t, svc.StartSession(context.Background(), 1, session.ID))
	require.NoError(t, svc.RecordCount(context.Background(), 1, session.ID, lines[0].ID, dec("48"), 99))
}

func TestRecordCountRejectsNegative(t *testing.T) {
	svc, _, _ := newCountingFixture(t)
	err := svc.RecordCount(context.Background(), 1, 1, 1, dec("-1"), 99)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCompleteSessionPostsCountAdjustments(t *testing.T) {
	svc, repo, _ := newCountingFixture(t)
	loc := ptr(int64(4))
	repo.addItem(Item{CompanyID: 1, WarehouseID: 1, ProductID: 7, LocationID: loc, Quantity: dec("50")})
	repo.addItem(Item{CompanyID: 1, WarehouseID: 1, ProductID: 8, LocationID: loc, Quantity: dec("20")})
	repo.addItem(Item{CompanyID: 1, WarehouseID: 1, ProductID: 9, LocationID: loc, Quantity: dec("10")})

	session, lines, err := svc.CreateSession(context.Background(), 1, 1, "count", loc, 99)
	require.NoError(t, err)
	require.NoError(t, svc.StartSession(context.Background(), 1, session.ID))

	// short by 3, exact, over by 1.5; the exact line must not produce an
	// adjustment
	require.NoError(t, svc.RecordCount(context.Background(), 1, session.ID, lines[0].ID, dec("47"), 99))
	require.NoError(t, svc.RecordCount(context.Background(), 1, session.ID, lines[1].ID, dec("20"), 99))
	require.NoError(t, svc.RecordCount(context.Background(), 1, session.ID, lines[2].ID, dec("11.5"), 99))

	result, err := svc.CompleteSession(context.Background(), 1, session.ID, 99)
	require.NoError(t, err)
	require.Equal(t, 3, result.LinesTotal)
	require.Equal(t, 2, result.LinesWithVariance)
	require.Equal(t, 2, result.AdjustmentsCreated)
	require.Empty(t, result.FailedLineIDs)

	require.True(t, repo.items[1].Quantity.Equal(dec("47")))
	require.True(t, repo.items[2].Quantity.Equal(dec("20")))
	require.True(t, repo.items[3].Quantity.Equal(dec("11.5")))

	require.Len(t, repo.adjusts, 2)
	require.Equal(t, ReasonCount, repo.adjusts[0].Reason)
	require.Len(t, repo.movements, 2)
}

func TestCompleteSessionContinuesPastFailingLine(t *testing.T) {
	svc, repo, _ := newCountingFixture(t)
	loc := ptr(int64(4))
	repo.addItem(Item{CompanyID: 1, WarehouseID: 1, ProductID: 7, LocationID: loc, Quantity: dec("2")})
	repo.addItem(Item{CompanyID: 1, WarehouseID: 1, ProductID: 8, LocationID: loc, Quantity: dec("20")})

	session, lines, err := svc.CreateSession(context.Background(), 1, 1, "count", loc, 99)
	require.NoError(t, err)
	require.NoError(t, svc.StartSession(context.Background(), 1, session.ID))
	require.NoError(t, svc.RecordCount(context.Background(), 1, session.ID, lines[0].ID, dec("0"), 99))
	require.NoError(t, svc.RecordCount(context.Background(), 1, session.ID, lines[1].ID, dec("18"), 99))

	// stock for the first line moved away between counting and completion,
	// so its count adjustment would drive the row negative
	repo.items[1].Quantity = dec("-3")
	repo.policies[1] = WarehousePolicy{AllowNegativeStock: false}

	result, err := svc.CompleteSession(context.Background(), 1, session.ID, 99)
	require.NoError(t, err, "a failing line must not abort completion")
	require.Equal(t, 2, result.LinesWithVariance)
	require.Equal(t, 1, result.AdjustmentsCreated)
	require.Equal(t, []int64{lines[0].ID}, result.FailedLineIDs)
	require.True(t, repo.items[2].Quantity.Equal(dec("18")), "the healthy line still adjusts")

	_, sessionLines, err := svc.GetSession(context.Background(), 1, session.ID)
	require.NoError(t, err)
	require.Len(t, sessionLines, 2)
}

func TestCompleteSessionIsSingleShot(t *testing.T) {
	svc, repo, _ := newCountingFixture(t)
	repo.addItem(Item{CompanyID: 1, WarehouseID: 1, ProductID: 7, Quantity: dec("50")})

	session, lines, err := svc.CreateSession(context.Background(), 1, 1, "count", nil, 99)
	require.NoError(t, err)
	require.NoError(t, svc.StartSession(context.Background(), 1, session.ID))
	require.NoError(t, svc.RecordCount(context.Background(), 1, session.ID, lines[0].ID, dec("49"), 99))

	_, err = svc.CompleteSession(context.Background(), 1, session.ID, 99)
	require.NoError(t, err)

	_, err = svc.CompleteSession(context.Background(), 1, session.ID, 99)
	require.ErrorIs(t, err, ErrSessionState, "completed sessions cannot complete again")
	require.Len(t, repo.adjusts, 1, "no duplicate adjustments on repeat completion")
}

func TestCancelSession(t *testing.T) {
	svc, _, store := newCountingFixture(t)

	session, _, err := svc.CreateSession(context.Background(), 1, 1, "count", nil, 99)
	require.NoError(t, err)

	require.NoError(t, svc.CancelSession(context.Background(), 1, session.ID))
	require.Equal(t, CountCanceled, store.sessions[session.ID].Status)

	err = svc.CancelSession(context.Background(), 1, session.ID)
	require.ErrorIs(t, err, ErrSessionState)
}

func TestCancelCompletedSessionFails(t *testing.T) {
	svc, _, _ := newCountingFixture(t)

	session, _, err := svc.CreateSession(context.Background(), 1, 1, "count", nil, 99)
	require.NoError(t, err)
	require.NoError(t, svc.StartSession(context.Background(), 1, session.ID))
	_, err = svc.CompleteSession(context.Background(), 1, session.ID, 99)
	require.NoError(t, err)

	err = svc.CancelSession(context.Background(), 1, session.ID)
	require.ErrorIs(t, err, ErrSessionState)
}
