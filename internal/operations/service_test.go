package operations

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-wms/meridian-wms/internal/inventory"
	"github.com/meridian-wms/meridian-wms/internal/locator"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr[T any](v T) *T { return &v }

type memoryStore struct {
	tasks         map[int64]*Task
	inbound       map[int64]*InboundOrder
	inboundLines  map[int64]*InboundOrderLine
	outbound      map[int64]*OutboundOrder
	outboundLines map[int64]*OutboundOrderLine
	waves         map[int64]*PickingWave
	shipments     map[int64]*Shipment
	nextID        int64

	failCreateTaskOnCall int
	createTaskCalls      int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		tasks:         map[int64]*Task{},
		inbound:       map[int64]*InboundOrder{},
		inboundLines:  map[int64]*InboundOrderLine{},
		outbound:      map[int64]*OutboundOrder{},
		outboundLines: map[int64]*OutboundOrderLine{},
		waves:         map[int64]*PickingWave{},
		shipments:     map[int64]*Shipment{},
	}
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) CreateTask(_ context.Context, task Task) (Task, error) {
	m.createTaskCalls++
	if m.failCreateTaskOnCall > 0 && m.createTaskCalls == m.failCreateTaskOnCall {
		return Task{}, errors.New("store unavailable")
	}
	task.ID = m.id()
	task.CreatedAt = time.Now().UTC()
	m.tasks[task.ID] = &task
	return task, nil
}

func (m *memoryStore) GetTask(_ context.Context, companyID, id int64) (Task, error) {
	task, ok := m.tasks[id]
	if !ok || task.CompanyID != companyID {
		return Task{}, ErrTaskNotFound
	}
	return *task, nil
}

func (m *memoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]Task, error) {
	var out []Task
	for _, task := range m.tasks {
		if task.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.WaveID != 0 && (task.WaveID == nil || *task.WaveID != filter.WaveID) {
			continue
		}
		out = append(out, *task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) UpdateTaskStatus(_ context.Context, id int64, from, to TaskStatus, completedAt *time.Time) error {
	task, ok := m.tasks[id]
	if !ok || task.Status != from {
		return ErrInvalidTransition
	}
	task.Status = to
	task.CompletedAt = completedAt
	return nil
}

func (m *memoryStore) AssignTask(_ context.Context, companyID, id, userID int64) error {
	task, ok := m.tasks[id]
	if !ok || task.CompanyID != companyID {
		return ErrTaskNotFound
	}
	task.AssignedTo = &userID
	return nil
}

func (m *memoryStore) SetTaskWave(_ context.Context, companyID, taskID, waveID int64) error {
	task, ok := m.tasks[taskID]
	if !ok || task.CompanyID != companyID {
		return ErrTaskNotFound
	}
	if task.Type != TaskPicking || task.Status != StatusPending {
		return ErrInvalidTransition
	}
	task.WaveID = &waveID
	return nil
}

func (m *memoryStore) SetTaskTarget(_ context.Context, companyID, taskID, locationID int64) error {
	task, ok := m.tasks[taskID]
	if !ok || task.CompanyID != companyID {
		return ErrTaskNotFound
	}
	task.TargetLocationID = &locationID
	return nil
}

func (m *memoryStore) CreateInboundOrder(_ context.Context, order InboundOrder, lines []InboundOrderLine) (InboundOrder, []InboundOrderLine, error) {
	order.ID = m.id()
	m.inbound[order.ID] = &order
	out := make([]InboundOrderLine, 0, len(lines))
	for _, line := range lines {
		line.ID = m.id()
		line.OrderID = order.ID
		m.inboundLines[line.ID] = &line
		out = append(out, line)
	}
	return order, out, nil
}

func (m *memoryStore) GetInboundOrder(_ context.Context, companyID, id int64) (InboundOrder, []InboundOrderLine, error) {
	order, ok := m.inbound[id]
	if !ok || order.CompanyID != companyID {
		return InboundOrder{}, nil, ErrOrderNotFound
	}
	var lines []InboundOrderLine
	for _, line := range m.inboundLines {
		if line.OrderID == id {
			lines = append(lines, *line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return *order, lines, nil
}

func (m *memoryStore) AddReceivedQuantity(_ context.Context, lineID int64, quantity decimal.Decimal) error {
	line, ok := m.inboundLines[lineID]
	if !ok {
		return ErrLineNotFound
	}
	if line.ReceivedQuantity.Add(quantity).GreaterThan(line.ExpectedQuantity) {
		return ErrOverReceipt
	}
	line.ReceivedQuantity = line.ReceivedQuantity.Add(quantity)
	return nil
}

func (m *memoryStore) UpdateInboundStatus(_ context.Context, companyID, id int64, from, to OrderStatus) error {
	order, ok := m.inbound[id]
	if !ok || order.CompanyID != companyID || order.Status != from {
		return ErrOrderState
	}
	order.Status = to
	return nil
}

func (m *memoryStore) CreateOutboundOrder(_ context.Context, order OutboundOrder, lines []OutboundOrderLine) (OutboundOrder, []OutboundOrderLine, error) {
	order.ID = m.id()
	m.outbound[order.ID] = &order
	out := make([]OutboundOrderLine, 0, len(lines))
	for _, line := range lines {
		line.ID = m.id()
		line.OrderID = order.ID
		m.outboundLines[line.ID] = &line
		out = append(out, line)
	}
	return order, out, nil
}

func (m *memoryStore) GetOutboundOrder(_ context.Context, companyID, id int64) (OutboundOrder, []OutboundOrderLine, error) {
	order, ok := m.outbound[id]
	if !ok || order.CompanyID != companyID {
		return OutboundOrder{}, nil, ErrOrderNotFound
	}
	var lines []OutboundOrderLine
	for _, line := range m.outboundLines {
		if line.OrderID == id {
			lines = append(lines, *line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return *order, lines, nil
}

func (m *memoryStore) AddAllocatedQuantity(_ context.Context, lineID int64, quantity decimal.Decimal) error {
	line, ok := m.outboundLines[lineID]
	if !ok {
		return ErrLineNotFound
	}
	allocated := line.AllocatedQuantity.Add(quantity)
	if allocated.GreaterThan(line.OrderedQuantity) {
		allocated = line.OrderedQuantity
	}
	line.AllocatedQuantity = allocated
	return nil
}

func (m *memoryStore) UpdateOutboundStatus(_ context.Context, companyID, id int64, from, to OrderStatus) error {
	order, ok := m.outbound[id]
	if !ok || order.CompanyID != companyID || order.Status != from {
		return ErrOrderState
	}
	order.Status = to
	return nil
}

func (m *memoryStore) CreateWave(_ context.Context, wave PickingWave) (PickingWave, error) {
	wave.ID = m.id()
	wave.CreatedAt = time.Now().UTC()
	m.waves[wave.ID] = &wave
	return wave, nil
}

func (m *memoryStore) GetWave(_ context.Context, companyID, id int64) (PickingWave, error) {
	wave, ok := m.waves[id]
	if !ok || wave.CompanyID != companyID {
		return PickingWave{}, ErrTaskNotFound
	}
	return *wave, nil
}

func (m *memoryStore) CreateShipment(_ context.Context, shipment Shipment) (Shipment, error) {
	shipment.ID = m.id()
	shipment.CreatedAt = time.Now().UTC()
	m.shipments[shipment.ID] = &shipment
	return shipment, nil
}

func (m *memoryStore) MarkShipmentShipped(_ context.Context, companyID, id int64, at time.Time) error {
	shipment, ok := m.shipments[id]
	if !ok || shipment.CompanyID != companyID {
		return ErrOrderNotFound
	}
	if shipment.ShippedAt != nil {
		return ErrOrderState
	}
	shipment.ShippedAt = &at
	return nil
}

// ledgerRow is one on-hand row the fake ledger can reserve against.
type ledgerRow struct {
	ItemID     int64
	ProductID  int64
	LocationID *int64
	Batch      string
	Available  decimal.Decimal
}

// snapshot deep-copies every entity map so a failed transactional callback
// can be rolled back the way Postgres would.
func (m *memoryStore) snapshot() *memoryStore {
	cp := newMemoryStore()
	cp.nextID = m.nextID
	for id, v := range m.tasks {
		clone := *v
		cp.tasks[id] = &clone
	}
	for id, v := range m.inbound {
		clone := *v
		cp.inbound[id] = &clone
	}
	for id, v := range m.inboundLines {
		clone := *v
		cp.inboundLines[id] = &clone
	}
	for id, v := range m.outbound {
		clone := *v
		cp.outbound[id] = &clone
	}
	for id, v := range m.outboundLines {
		clone := *v
		cp.outboundLines[id] = &clone
	}
	for id, v := range m.waves {
		clone := *v
		cp.waves[id] = &clone
	}
	for id, v := range m.shipments {
		clone := *v
		cp.shipments[id] = &clone
	}
	return cp
}

func (m *memoryStore) restore(snap *memoryStore) {
	m.nextID = snap.nextID
	m.tasks = snap.tasks
	m.inbound = snap.inbound
	m.inboundLines = snap.inboundLines
	m.outbound = snap.outbound
	m.outboundLines = snap.outboundLines
	m.waves = snap.waves
	m.shipments = snap.shipments
}

type fakeLedger struct {
	rows []ledgerRow

	releases []struct {
		ItemID   int64
		Quantity *decimal.Decimal
	}
	receipts []inventory.ReceiptInput
	putaways []inventory.TransferInput
	picks    []inventory.PickInput
	moves    []inventory.TransferInput

	failPick    error
	failPutaway error
	failMove    error

	store *memoryStore
}

// InTx mirrors the ledger service's transactional entry point: on error both
// the recorded ledger effects and the store mutations made inside fn are
// rolled back.
func (f *fakeLedger) InTx(ctx context.Context, fn func(context.Context) error) error {
	moves, picks, putaways := len(f.moves), len(f.picks), len(f.putaways)
	receipts, releases := len(f.receipts), len(f.releases)
	var snap *memoryStore
	if f.store != nil {
		snap = f.store.snapshot()
	}
	if err := fn(ctx); err != nil {
		f.moves = f.moves[:moves]
		f.picks = f.picks[:picks]
		f.putaways = f.putaways[:putaways]
		f.receipts = f.receipts[:receipts]
		f.releases = f.releases[:releases]
		if snap != nil {
			f.store.restore(snap)
		}
		return err
	}
	return nil
}

func (f *fakeLedger) Reserve(_ context.Context, input inventory.ReserveInput) ([]inventory.Reservation, error) {
	remaining := input.Quantity
	var out []inventory.Reservation
	for i := range f.rows {
		row := &f.rows[i]
		if row.ProductID != input.ProductID || !row.Available.IsPositive() {
			continue
		}
		take := decimal.Min(row.Available, remaining)
		row.Available = row.Available.Sub(take)
		out = append(out, inventory.Reservation{
			ItemID:     row.ItemID,
			LocationID: row.LocationID,
			Batch:      row.Batch,
			Quantity:   take,
			Reserved:   take,
		})
		remaining = remaining.Sub(take)
		if remaining.IsZero() {
			return out, nil
		}
	}
	for _, res := range out {
		f.restore(res.ItemID, res.Quantity)
	}
	return nil, inventory.ErrInsufficientStock
}

func (f *fakeLedger) restore(itemID int64, quantity decimal.Decimal) {
	for i := range f.rows {
		if f.rows[i].ItemID == itemID {
			f.rows[i].Available = f.rows[i].Available.Add(quantity)
			return
		}
	}
}

func (f *fakeLedger) Release(_ context.Context, itemIDs []int64, quantity *decimal.Decimal) error {
	for _, id := range itemIDs {
		f.releases = append(f.releases, struct {
			ItemID   int64
			Quantity *decimal.Decimal
		}{ItemID: id, Quantity: quantity})
		if quantity != nil {
			f.restore(id, *quantity)
		}
	}
	return nil
}

func (f *fakeLedger) RecordReceipt(_ context.Context, input inventory.ReceiptInput) error {
	f.receipts = append(f.receipts, input)
	return nil
}

func (f *fakeLedger) ApplyPutaway(_ context.Context, input inventory.TransferInput) error {
	if f.failPutaway != nil {
		return f.failPutaway
	}
	f.putaways = append(f.putaways, input)
	return nil
}

func (f *fakeLedger) ApplyPick(_ context.Context, input inventory.PickInput) error {
	if f.failPick != nil {
		return f.failPick
	}
	f.picks = append(f.picks, input)
	return nil
}

func (f *fakeLedger) ApplyMove(_ context.Context, input inventory.TransferInput) error {
	if f.failMove != nil {
		return f.failMove
	}
	f.moves = append(f.moves, input)
	return nil
}

type fakeLocator struct {
	target    int64
	targetErr error
}

func (f *fakeLocator) FindPutawayLocation(context.Context, int64, int64, int64, decimal.Decimal) (locator.PutawayCandidate, error) {
	if f.targetErr != nil {
		return locator.PutawayCandidate{}, f.targetErr
	}
	return locator.PutawayCandidate{LocationID: f.target}, nil
}

func (f *fakeLocator) FindPickingLocation(context.Context, int64, int64, int64, decimal.Decimal, locator.PickStrategy) (locator.PickCandidate, error) {
	return locator.PickCandidate{}, locator.ErrNoSuitableLocation
}

type fixture struct {
	store  *memoryStore
	ledger *fakeLedger
	loc    *fakeLocator
	svc    *Service
}

func newFixture() *fixture {
	store := newMemoryStore()
	ledger := &fakeLedger{store: store}
	loc := &fakeLocator{target: 42}
	return &fixture{store: store, ledger: ledger, loc: loc, svc: NewService(store, ledger, loc, nil, nil)}
}

func TestTaskTransitionTable(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		allowed  bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCanceled, true},
		{StatusPending, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCanceled, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusCanceled, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCanceled, StatusInProgress, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStartTaskMovesPendingToInProgress(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, err := f.svc.CreateInternalMoveTask(ctx, 1, 1, 10, 100, 200, dec("5"), 7)
	require.NoError(t, err)
	require.Equal(t, StatusPending, task.Status)

	started, err := f.svc.StartTask(ctx, 1, task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, started.Status)

	_, err = f.svc.StartTask(ctx, 1, task.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompletePendingTaskRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, err := f.svc.CreateInternalMoveTask(ctx, 1, 1, 10, 100, 200, dec("5"), 7)
	require.NoError(t, err)

	_, err = f.svc.CompleteTask(ctx, 1, task.ID, 7)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Empty(t, f.ledger.moves)
}

func TestCompleteMoveAppliesLedgerTransfer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, err := f.svc.CreateInternalMoveTask(ctx, 1, 1, 10, 100, 200, dec("5"), 7)
	require.NoError(t, err)
	_, err = f.svc.StartTask(ctx, 1, task.ID)
	require.NoError(t, err)

	done, err := f.svc.CompleteTask(ctx, 1, task.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	require.Len(t, f.ledger.moves, 1)
	move := f.ledger.moves[0]
	require.Equal(t, int64(100), *move.SourceLocationID)
	require.Equal(t, int64(200), *move.TargetLocationID)
	require.True(t, move.Quantity.Equal(dec("5")))
}

func TestCompleteTaskIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, err := f.svc.CreateInternalMoveTask(ctx, 1, 1, 10, 100, 200, dec("5"), 7)
	require.NoError(t, err)
	_, err = f.svc.StartTask(ctx, 1, task.ID)
	require.NoError(t, err)

	_, err = f.svc.CompleteTask(ctx, 1, task.ID, 7)
	require.NoError(t, err)
	again, err := f.svc.CompleteTask(ctx, 1, task.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, again.Status)

	// the ledger saw exactly one transfer
	require.Len(t, f.ledger.moves, 1)
}

func TestCompleteTaskRollsClaimBackWithLedgerFailure(t *testing.T) {
	f := newFixture()
	f.ledger.failMove = errors.New("ledger unavailable")
	ctx := context.Background()

	task, err := f.svc.CreateInternalMoveTask(ctx, 1, 1, 10, 100, 200, dec("5"), 7)
	require.NoError(t, err)
	_, err = f.svc.StartTask(ctx, 1, task.ID)
	require.NoError(t, err)

	_, err = f.svc.CompleteTask(ctx, 1, task.ID, 7)
	require.Error(t, err)

	// the claim and the effect share one transaction, so the failed effect
	// takes the claim down with it: the task cannot end up completed with no
	// ledger mutation
	current, err := f.svc.GetTask(ctx, 1, task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, current.Status)
	require.Empty(t, f.ledger.moves)

	// retry succeeds once the ledger recovers and applies exactly one move
	f.ledger.failMove = nil
	done, err := f.svc.CompleteTask(ctx, 1, task.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.Len(t, f.ledger.moves, 1)
}

func TestReceiveLineBooksStockAndCreatesPutaway(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, lines, err := f.svc.CreateInboundOrder(ctx, 1, 1, "PO-1", "Acme", nil, []InboundLineInput{
		{ProductID: 10, ExpectedQuantity: dec("50")},
	}, 7)
	require.NoError(t, err)

	task, err := f.svc.ReceiveLine(ctx, 1, ReceiveInput{
		OrderID:           order.ID,
		LineID:            lines[0].ID,
		Quantity:          dec("30"),
		Batch:             "B-1",
		StagingLocationID: ptr(int64(5)),
		CreatePutaway:     true,
		ActorID:           7,
	})
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, TaskPutaway, task.Type)
	require.Equal(t, int64(42), *task.TargetLocationID)
	require.Equal(t, int64(5), *task.SourceLocationID)
	require.True(t, task.Quantity.Equal(dec("30")))

	require.Len(t, f.ledger.receipts, 1)
	require.True(t, f.ledger.receipts[0].Quantity.Equal(dec("30")))

	_, current, err := f.svc.GetInboundOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	require.True(t, current[0].ReceivedQuantity.Equal(dec("30")))
}

func TestReceiveLineRejectsOverReceipt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, lines, err := f.svc.CreateInboundOrder(ctx, 1, 1, "PO-1", "Acme", nil, []InboundLineInput{
		{ProductID: 10, ExpectedQuantity: dec("50")},
	}, 7)
	require.NoError(t, err)

	_, err = f.svc.ReceiveLine(ctx, 1, ReceiveInput{OrderID: order.ID, LineID: lines[0].ID, Quantity: dec("60"), ActorID: 7})
	require.ErrorIs(t, err, ErrOverReceipt)
	require.Empty(t, f.ledger.receipts)
}

func TestReceiveLineCompletesFullyReceivedOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, lines, err := f.svc.CreateInboundOrder(ctx, 1, 1, "PO-1", "Acme", nil, []InboundLineInput{
		{ProductID: 10, ExpectedQuantity: dec("50")},
	}, 7)
	require.NoError(t, err)

	_, err = f.svc.ReceiveLine(ctx, 1, ReceiveInput{OrderID: order.ID, LineID: lines[0].ID, Quantity: dec("50"), ActorID: 7})
	require.NoError(t, err)

	current, _, err := f.svc.GetInboundOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderCompleted, current.Status)
}

func TestReceiveLineLocatorFailureUsesExplicitFallback(t *testing.T) {
	f := newFixture()
	f.loc.targetErr = locator.ErrNoSuitableLocation
	ctx := context.Background()

	order, lines, err := f.svc.CreateInboundOrder(ctx, 1, 1, "PO-1", "Acme", nil, []InboundLineInput{
		{ProductID: 10, ExpectedQuantity: dec("50")},
	}, 7)
	require.NoError(t, err)

	// without a fallback the receipt fails before any ledger write
	_, err = f.svc.ReceiveLine(ctx, 1, ReceiveInput{OrderID: order.ID, LineID: lines[0].ID, Quantity: dec("10"), CreatePutaway: true, ActorID: 7})
	require.ErrorIs(t, err, locator.ErrNoSuitableLocation)
	require.Empty(t, f.ledger.receipts)

	task, err := f.svc.ReceiveLine(ctx, 1, ReceiveInput{
		OrderID:          order.ID,
		LineID:           lines[0].ID,
		Quantity:         dec("10"),
		CreatePutaway:    true,
		TargetLocationID: ptr(int64(99)),
		ActorID:          7,
	})
	require.NoError(t, err)
	require.Equal(t, int64(99), *task.TargetLocationID)
}

func TestAllocateFansOutPickingTaskPerReservedRow(t *testing.T) {
	f := newFixture()
	f.ledger.rows = []ledgerRow{
		{ItemID: 1, ProductID: 10, LocationID: ptr(int64(100)), Batch: "B-1", Available: dec("30")},
		{ItemID: 2, ProductID: 10, LocationID: ptr(int64(101)), Batch: "B-2", Available: dec("30")},
	}
	ctx := context.Background()

	order, lines, err := f.svc.CreateOutboundOrder(ctx, 1, 1, "SO-1", "Beta", []OutboundLineInput{
		{ProductID: 10, OrderedQuantity: dec("40")},
	}, 7)
	require.NoError(t, err)

	tasks, err := f.svc.AllocateOutboundOrder(ctx, 1, order.ID, 7)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	require.Equal(t, int64(1), *tasks[0].SourceItemID)
	require.Equal(t, int64(100), *tasks[0].SourceLocationID)
	require.True(t, tasks[0].Quantity.Equal(dec("30")))
	require.Equal(t, "B-1", tasks[0].Batch)

	require.Equal(t, int64(2), *tasks[1].SourceItemID)
	require.True(t, tasks[1].Quantity.Equal(dec("10")))
	require.Equal(t, lines[0].ID, *tasks[1].OrderLineID)

	current, _, err := f.svc.GetOutboundOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderProcessing, current.Status)
}

func TestAllocateInsufficientStockReleasesEarlierLines(t *testing.T) {
	f := newFixture()
	f.ledger.rows = []ledgerRow{
		{ItemID: 1, ProductID: 10, Available: dec("20")},
		// product 11 has nothing on hand
	}
	ctx := context.Background()

	order, _, err := f.svc.CreateOutboundOrder(ctx, 1, 1, "SO-1", "Beta", []OutboundLineInput{
		{ProductID: 10, OrderedQuantity: dec("20")},
		{ProductID: 11, OrderedQuantity: dec("5")},
	}, 7)
	require.NoError(t, err)

	_, err = f.svc.AllocateOutboundOrder(ctx, 1, order.ID, 7)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// the first line's reservation was handed back
	require.Len(t, f.ledger.releases, 1)
	require.Equal(t, int64(1), f.ledger.releases[0].ItemID)
	require.True(t, f.ledger.releases[0].Quantity.Equal(dec("20")))

	current, _, err := f.svc.GetOutboundOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderOpen, current.Status)
}

func TestAllocateRejectsNonOpenOrder(t *testing.T) {
	f := newFixture()
	f.ledger.rows = []ledgerRow{{ItemID: 1, ProductID: 10, Available: dec("20")}}
	ctx := context.Background()

	order, _, err := f.svc.CreateOutboundOrder(ctx, 1, 1, "SO-1", "Beta", []OutboundLineInput{
		{ProductID: 10, OrderedQuantity: dec("10")},
	}, 7)
	require.NoError(t, err)

	_, err = f.svc.AllocateOutboundOrder(ctx, 1, order.ID, 7)
	require.NoError(t, err)

	_, err = f.svc.AllocateOutboundOrder(ctx, 1, order.ID, 7)
	require.ErrorIs(t, err, ErrOrderState)
}

func TestCancelPickingTaskReleasesReservation(t *testing.T) {
	f := newFixture()
	f.ledger.rows = []ledgerRow{{ItemID: 1, ProductID: 10, Available: dec("20")}}
	ctx := context.Background()

	order, _, err := f.svc.CreateOutboundOrder(ctx, 1, 1, "SO-1", "Beta", []OutboundLineInput{
		{ProductID: 10, OrderedQuantity: dec("15")},
	}, 7)
	require.NoError(t, err)
	tasks, err := f.svc.AllocateOutboundOrder(ctx, 1, order.ID, 7)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	canceled, err := f.svc.CancelTask(ctx, 1, tasks[0].ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, canceled.Status)

	require.Len(t, f.ledger.releases, 1)
	require.Equal(t, int64(1), f.ledger.releases[0].ItemID)
	require.True(t, f.ledger.releases[0].Quantity.Equal(dec("15")))
}

func TestCompletePickingIncrementsAllocatedAndCompletesOrder(t *testing.T) {
	f := newFixture()
	f.ledger.rows = []ledgerRow{{ItemID: 1, ProductID: 10, Available: dec("20")}}
	ctx := context.Background()

	order, _, err := f.svc.CreateOutboundOrder(ctx, 1, 1, "SO-1", "Beta", []OutboundLineInput{
		{ProductID: 10, OrderedQuantity: dec("15")},
	}, 7)
	require.NoError(t, err)
	tasks, err := f.svc.AllocateOutboundOrder(ctx, 1, order.ID, 7)
	require.NoError(t, err)

	_, err = f.svc.StartTask(ctx, 1, tasks[0].ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteTask(ctx, 1, tasks[0].ID, 7)
	require.NoError(t, err)

	require.Len(t, f.ledger.picks, 1)
	require.True(t, f.ledger.picks[0].Quantity.Equal(dec("15")))

	current, lines, err := f.svc.GetOutboundOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	require.True(t, lines[0].AllocatedQuantity.Equal(dec("15")))
	require.Equal(t, OrderCompleted, current.Status)
}

func TestShipmentRequiresFullyPickedOrder(t *testing.T) {
	f := newFixture()
	f.ledger.rows = []ledgerRow{{ItemID: 1, ProductID: 10, Available: dec("20")}}
	ctx := context.Background()

	order, _, err := f.svc.CreateOutboundOrder(ctx, 1, 1, "SO-1", "Beta", []OutboundLineInput{
		{ProductID: 10, OrderedQuantity: dec("15")},
	}, 7)
	require.NoError(t, err)

	_, err = f.svc.CreateShipment(ctx, 1, order.ID, "DHL", "TRK-1", 7)
	require.ErrorIs(t, err, ErrNotPicked)

	tasks, err := f.svc.AllocateOutboundOrder(ctx, 1, order.ID, 7)
	require.NoError(t, err)
	_, err = f.svc.StartTask(ctx, 1, tasks[0].ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteTask(ctx, 1, tasks[0].ID, 7)
	require.NoError(t, err)

	shipment, err := f.svc.CreateShipment(ctx, 1, order.ID, "DHL", "TRK-1", 7)
	require.NoError(t, err)
	require.Equal(t, order.ID, shipment.OutboundID)
	require.True(t, strings.HasPrefix(shipment.Reference, "SHP-"))
	require.Nil(t, shipment.ShippedAt)

	require.NoError(t, f.svc.MarkShipped(ctx, 1, shipment.ID))
	require.ErrorIs(t, f.svc.MarkShipped(ctx, 1, shipment.ID), ErrOrderState)
}

func TestCompletePutawayResolvesMissingTarget(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, lines, err := f.svc.CreateInboundOrder(ctx, 1, 1, "PO-1", "Acme", nil, []InboundLineInput{
		{ProductID: 10, ExpectedQuantity: dec("50")},
	}, 7)
	require.NoError(t, err)
	task, err := f.svc.ReceiveLine(ctx, 1, ReceiveInput{
		OrderID:           order.ID,
		LineID:            lines[0].ID,
		Quantity:          dec("30"),
		StagingLocationID: ptr(int64(5)),
		CreatePutaway:     true,
		ActorID:           7,
	})
	require.NoError(t, err)

	// simulate a task whose target was cleared before completion
	f.store.tasks[task.ID].TargetLocationID = nil
	f.loc.target = 77

	_, err = f.svc.StartTask(ctx, 1, task.ID)
	require.NoError(t, err)
	done, err := f.svc.CompleteTask(ctx, 1, task.ID, 7)
	require.NoError(t, err)
	require.Equal(t, int64(77), *done.TargetLocationID)

	require.Len(t, f.ledger.putaways, 1)
	require.Equal(t, int64(77), *f.ledger.putaways[0].TargetLocationID)
}

func TestCreateWaveGroupsPickingTasks(t *testing.T) {
	f := newFixture()
	f.ledger.rows = []ledgerRow{
		{ItemID: 1, ProductID: 10, Available: dec("10")},
		{ItemID: 2, ProductID: 11, Available: dec("10")},
	}
	ctx := context.Background()

	order, _, err := f.svc.CreateOutboundOrder(ctx, 1, 1, "SO-1", "Beta", []OutboundLineInput{
		{ProductID: 10, OrderedQuantity: dec("10")},
		{ProductID: 11, OrderedQuantity: dec("10")},
	}, 7)
	require.NoError(t, err)
	tasks, err := f.svc.AllocateOutboundOrder(ctx, 1, order.ID, 7)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	wave, err := f.svc.CreateWave(ctx, 1, 1, "morning run", []int64{tasks[0].ID, tasks[1].ID}, 7)
	require.NoError(t, err)

	waveOut, waveTasks, err := f.svc.GetWave(ctx, 1, wave.ID)
	require.NoError(t, err)
	require.Equal(t, "morning run", waveOut.Name)
	require.Len(t, waveTasks, 2)
	for _, task := range waveTasks {
		require.Equal(t, wave.ID, *task.WaveID)
	}
}

func TestCreateInboundOrderValidatesLines(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _, err := f.svc.CreateInboundOrder(ctx, 1, 1, "PO-1", "Acme", nil, nil, 7)
	require.Error(t, err)

	_, _, err = f.svc.CreateInboundOrder(ctx, 1, 1, "PO-1", "Acme", nil, []InboundLineInput{
		{ProductID: 10, ExpectedQuantity: dec("0")},
	}, 7)
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}
