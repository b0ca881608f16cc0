package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian-wms/internal/inventory"
	"github.com/meridian-wms/meridian-wms/internal/locator"
	"github.com/meridian-wms/meridian-wms/internal/observability"
	"github.com/meridian-wms/meridian-wms/internal/shared"
)

// InventoryPort is the ledger surface the operations layer drives. Every
// ledger mutation stays behind this port so task orchestration never touches
// ledger rows directly.
type InventoryPort interface {
	InTx(ctx context.Context, fn func(context.Context) error) error
	Reserve(ctx context.Context, input inventory.ReserveInput) ([]inventory.Reservation, error)
	Release(ctx context.Context, itemIDs []int64, quantity *decimal.Decimal) error
	RecordReceipt(ctx context.Context, input inventory.ReceiptInput) error
	ApplyPutaway(ctx context.Context, input inventory.TransferInput) error
	ApplyPick(ctx context.Context, input inventory.PickInput) error
	ApplyMove(ctx context.Context, input inventory.TransferInput) error
}

// LocatorPort chooses source and target locations for tasks.
type LocatorPort interface {
	FindPutawayLocation(ctx context.Context, companyID, warehouseID, productID int64, quantity decimal.Decimal) (locator.PutawayCandidate, error)
	FindPickingLocation(ctx context.Context, companyID, warehouseID, productID int64, quantity decimal.Decimal, strategy locator.PickStrategy) (locator.PickCandidate, error)
}

// AuditPort records operator actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates receiving, putaway, picking, internal moves and
// shipping. Each task completion applies its ledger side effects exactly
// once: the status transition claims the completion before any ledger write,
// and a failed write hands the claim back.
type Service struct {
	store     Store
	inventory InventoryPort
	locator   LocatorPort
	audit     AuditPort
	metrics   *observability.Metrics
}

// NewService builds Service. Audit and metrics are optional.
func NewService(store Store, inv InventoryPort, loc LocatorPort, audit AuditPort, metrics *observability.Metrics) *Service {
	return &Service{store: store, inventory: inv, locator: loc, audit: audit, metrics: metrics}
}

// InboundLineInput is one expected product on an inbound order.
type InboundLineInput struct {
	ProductID        int64
	ExpectedQuantity decimal.Decimal
}

// CreateInboundOrder opens an inbound order with its expected lines.
func (s *Service) CreateInboundOrder(ctx context.Context, companyID, warehouseID int64, reference, supplier string, expectedAt *time.Time, lines []InboundLineInput, actorID int64) (InboundOrder, []InboundOrderLine, error) {
	if len(lines) == 0 {
		return InboundOrder{}, nil, errors.New("operations: inbound order requires at least one line")
	}
	orderLines := make([]InboundOrderLine, 0, len(lines))
	for _, line := range lines {
		if !line.ExpectedQuantity.IsPositive() {
			return InboundOrder{}, nil, inventory.ErrInvalidQuantity
		}
		orderLines = append(orderLines, InboundOrderLine{ProductID: line.ProductID, ExpectedQuantity: line.ExpectedQuantity})
	}
	return s.store.CreateInboundOrder(ctx, InboundOrder{
		CompanyID:   companyID,
		WarehouseID: warehouseID,
		Reference:   reference,
		Supplier:    supplier,
		Status:      OrderOpen,
		ExpectedAt:  expectedAt,
		CreatedBy:   actorID,
	}, orderLines)
}

// GetInboundOrder returns an inbound order with its lines.
func (s *Service) GetInboundOrder(ctx context.Context, companyID, id int64) (InboundOrder, []InboundOrderLine, error) {
	return s.store.GetInboundOrder(ctx, companyID, id)
}

// ReceiveInput describes goods arriving against one inbound order line.
type ReceiveInput struct {
	OrderID           int64
	LineID            int64
	Quantity          decimal.Decimal
	Batch             string
	ExpiryDate        *time.Time
	StagingLocationID *int64
	// TargetLocationID is the explicit putaway fallback. When nil the
	// location selector must succeed for a putaway task to be created.
	TargetLocationID *int64
	CreatePutaway    bool
	ActorID          int64
	IdempotencyKey   string
}

// ReceiveLine books received goods into staging, advances the order line and
// optionally creates the follow-up putaway task. Receiving more than the
// line's remaining expected quantity is rejected before any ledger write.
func (s *Service) ReceiveLine(ctx context.Context, companyID int64, input ReceiveInput) (*Task, error) {
	if !input.Quantity.IsPositive() {
		return nil, inventory.ErrInvalidQuantity
	}
	order, lines, err := s.store.GetInboundOrder(ctx, companyID, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderOpen && order.Status != OrderProcessing {
		return nil, ErrOrderState
	}
	var line *InboundOrderLine
	for i := range lines {
		if lines[i].ID == input.LineID {
			line = &lines[i]
			break
		}
	}
	if line == nil {
		return nil, ErrLineNotFound
	}
	if line.ReceivedQuantity.Add(input.Quantity).GreaterThan(line.ExpectedQuantity) {
		return nil, ErrOverReceipt
	}

	var target *int64
	if input.CreatePutaway {
		target, err = s.resolvePutawayTarget(ctx, companyID, order.WarehouseID, line.ProductID, input.Quantity, input.TargetLocationID)
		if err != nil {
			return nil, err
		}
	}

	reference := input.IdempotencyKey
	if reference == "" {
		reference = fmt.Sprintf("IB-%d/%d", order.ID, line.ID)
	}
	if err := s.inventory.RecordReceipt(ctx, inventory.ReceiptInput{
		CompanyID:         companyID,
		WarehouseID:       order.WarehouseID,
		ProductID:         line.ProductID,
		StagingLocationID: input.StagingLocationID,
		Batch:             input.Batch,
		ExpiryDate:        input.ExpiryDate,
		Quantity:          input.Quantity,
		Reference:         fmt.Sprintf("IB-%d/%d", order.ID, line.ID),
		ActorID:           input.ActorID,
		IdempotencyKey:    input.IdempotencyKey,
	}); err != nil {
		return nil, err
	}
	if err := s.store.AddReceivedQuantity(ctx, line.ID, input.Quantity); err != nil {
		return nil, err
	}

	if order.Status == OrderOpen {
		// ignore a lost race; the other receiver already advanced it
		_ = s.store.UpdateInboundStatus(ctx, companyID, order.ID, OrderOpen, OrderProcessing)
	}
	s.completeInboundIfDone(ctx, companyID, order.ID)

	var task *Task
	if input.CreatePutaway {
		created, err := s.store.CreateTask(ctx, Task{
			CompanyID:        companyID,
			WarehouseID:      order.WarehouseID,
			Type:             TaskPutaway,
			Status:           StatusPending,
			ProductID:        line.ProductID,
			SourceLocationID: input.StagingLocationID,
			TargetLocationID: target,
			Batch:            input.Batch,
			ExpiryDate:       input.ExpiryDate,
			Quantity:         input.Quantity,
			OrderID:          &order.ID,
			OrderLineID:      &line.ID,
			Reference:        reference,
			CreatedBy:        input.ActorID,
		})
		if err != nil {
			return nil, err
		}
		task = &created
	}

	s.recordAudit(ctx, input.ActorID, "operations:receive", "inbound_order_line", fmt.Sprintf("%d", line.ID), map[string]any{
		"order_id": order.ID,
		"quantity": input.Quantity.String(),
	})
	return task, nil
}

func (s *Service) resolvePutawayTarget(ctx context.Context, companyID, warehouseID, productID int64, quantity decimal.Decimal, fallback *int64) (*int64, error) {
	candidate, err := s.locator.FindPutawayLocation(ctx, companyID, warehouseID, productID, quantity)
	if err == nil {
		return &candidate.LocationID, nil
	}
	if errors.Is(err, locator.ErrNoSuitableLocation) && fallback != nil {
		return fallback, nil
	}
	return nil, err
}

func (s *Service) completeInboundIfDone(ctx context.Context, companyID, orderID int64) {
	_, lines, err := s.store.GetInboundOrder(ctx, companyID, orderID)
	if err != nil {
		return
	}
	for _, line := range lines {
		if line.ReceivedQuantity.LessThan(line.ExpectedQuantity) {
			return
		}
	}
	_ = s.store.UpdateInboundStatus(ctx, companyID, orderID, OrderProcessing, OrderCompleted)
}

// OutboundLineInput is one ordered product on an outbound order.
type OutboundLineInput struct {
	ProductID       int64
	OrderedQuantity decimal.Decimal
}

// CreateOutboundOrder opens an outbound order with its lines.
func (s *Service) CreateOutboundOrder(ctx context.Context, companyID, warehouseID int64, reference, customer string, lines []OutboundLineInput, actorID int64) (OutboundOrder, []OutboundOrderLine, error) {
	if len(lines) == 0 {
		return OutboundOrder{}, nil, errors.New("operations: outbound order requires at least one line")
	}
	orderLines := make([]OutboundOrderLine, 0, len(lines))
	for _, line := range lines {
		if !line.OrderedQuantity.IsPositive() {
			return OutboundOrder{}, nil, inventory.ErrInvalidQuantity
		}
		orderLines = append(orderLines, OutboundOrderLine{ProductID: line.ProductID, OrderedQuantity: line.OrderedQuantity})
	}
	return s.store.CreateOutboundOrder(ctx, OutboundOrder{
		CompanyID:   companyID,
		WarehouseID: warehouseID,
		Reference:   reference,
		Customer:    customer,
		Status:      OrderOpen,
		CreatedBy:   actorID,
	}, orderLines)
}

// GetOutboundOrder returns an outbound order with its lines.
func (s *Service) GetOutboundOrder(ctx context.Context, companyID, id int64) (OutboundOrder, []OutboundOrderLine, error) {
	return s.store.GetOutboundOrder(ctx, companyID, id)
}

// AllocateOutboundOrder reserves stock for every line of an open order and
// fans out one picking task per reserved ledger row. Allocation is all or
// nothing: when any line cannot be fully reserved, every reservation this
// call placed is handed back and the order stays open.
func (s *Service) AllocateOutboundOrder(ctx context.Context, companyID, orderID, actorID int64) ([]Task, error) {
	order, lines, err := s.store.GetOutboundOrder(ctx, companyID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderOpen {
		return nil, ErrOrderState
	}

	type plannedTask struct {
		line        OutboundOrderLine
		reservation inventory.Reservation
	}
	var planned []plannedTask
	rollback := func() {
		for _, p := range planned {
			qty := p.reservation.Quantity
			_ = s.inventory.Release(ctx, []int64{p.reservation.ItemID}, &qty)
		}
	}

	for _, line := range lines {
		reservations, err := s.inventory.Reserve(ctx, inventory.ReserveInput{
			CompanyID:   companyID,
			WarehouseID: order.WarehouseID,
			ProductID:   line.ProductID,
			Quantity:    line.OrderedQuantity,
			ActorID:     actorID,
		})
		if err != nil {
			rollback()
			return nil, err
		}
		for _, res := range reservations {
			planned = append(planned, plannedTask{line: line, reservation: res})
		}
	}

	tasks := make([]Task, 0, len(planned))
	for _, p := range planned {
		res := p.reservation
		task, err := s.store.CreateTask(ctx, Task{
			CompanyID:        companyID,
			WarehouseID:      order.WarehouseID,
			Type:             TaskPicking,
			Status:           StatusPending,
			ProductID:        p.line.ProductID,
			SourceLocationID: res.LocationID,
			SourceItemID:     &res.ItemID,
			Batch:            res.Batch,
			ExpiryDate:       res.ExpiryDate,
			Quantity:         res.Quantity,
			OrderID:          &order.ID,
			OrderLineID:      &p.line.ID,
			Reference:        order.Reference,
			CreatedBy:        actorID,
		})
		if err != nil {
			rollback()
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := s.store.UpdateOutboundStatus(ctx, companyID, order.ID, OrderOpen, OrderProcessing); err != nil {
		rollback()
		return nil, err
	}

	s.recordAudit(ctx, actorID, "operations:allocate", "outbound_order", fmt.Sprintf("%d", order.ID), map[string]any{
		"tasks": len(tasks),
	})
	return tasks, nil
}

// CreateInternalMoveTask plans a stock relocation between two locations.
func (s *Service) CreateInternalMoveTask(ctx context.Context, companyID, warehouseID, productID int64, sourceLocationID, targetLocationID int64, quantity decimal.Decimal, actorID int64) (Task, error) {
	if !quantity.IsPositive() {
		return Task{}, inventory.ErrInvalidQuantity
	}
	return s.store.CreateTask(ctx, Task{
		CompanyID:        companyID,
		WarehouseID:      warehouseID,
		Type:             TaskInternalMove,
		Status:           StatusPending,
		ProductID:        productID,
		SourceLocationID: &sourceLocationID,
		TargetLocationID: &targetLocationID,
		Quantity:         quantity,
		CreatedBy:        actorID,
	})
}

// GetTask returns one task.
func (s *Service) GetTask(ctx context.Context, companyID, id int64) (Task, error) {
	return s.store.GetTask(ctx, companyID, id)
}

// ListTasks lists tasks matching the filter.
func (s *Service) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	return s.store.ListTasks(ctx, filter)
}

// AssignTask hands a task to a worker.
func (s *Service) AssignTask(ctx context.Context, companyID, taskID, userID int64) error {
	return s.store.AssignTask(ctx, companyID, taskID, userID)
}

// StartTask moves a pending task to in_progress.
func (s *Service) StartTask(ctx context.Context, companyID, taskID int64) (Task, error) {
	task, err := s.store.GetTask(ctx, companyID, taskID)
	if err != nil {
		return Task{}, err
	}
	if !CanTransition(task.Status, StatusInProgress) {
		return Task{}, ErrInvalidTransition
	}
	if err := s.store.UpdateTaskStatus(ctx, task.ID, task.Status, StatusInProgress, nil); err != nil {
		return Task{}, err
	}
	task.Status = StatusInProgress
	return task, nil
}

// CancelTask cancels a pending or in_progress task. Canceling a picking task
// hands its reservation back.
func (s *Service) CancelTask(ctx context.Context, companyID, taskID, actorID int64) (Task, error) {
	task, err := s.store.GetTask(ctx, companyID, taskID)
	if err != nil {
		return Task{}, err
	}
	if !CanTransition(task.Status, StatusCanceled) {
		return Task{}, ErrInvalidTransition
	}
	if err := s.store.UpdateTaskStatus(ctx, task.ID, task.Status, StatusCanceled, nil); err != nil {
		return Task{}, err
	}
	if task.Type == TaskPicking && task.SourceItemID != nil {
		qty := task.Quantity
		if err := s.inventory.Release(ctx, []int64{*task.SourceItemID}, &qty); err != nil {
			return Task{}, fmt.Errorf("operations: task canceled but reservation release failed: %w", err)
		}
	}
	task.Status = StatusCanceled
	s.recordAudit(ctx, actorID, "operations:cancel-task", "task", fmt.Sprintf("%d", task.ID), nil)
	return task, nil
}

// CompleteTask finishes an in_progress task and applies its ledger side
// effects. Completing an already-completed task is a no-op, so at-least-once
// delivery of completion events is safe. The status transition is claimed
// before any ledger write; if the write fails the claim is handed back and
// the task returns to in_progress.
func (s *Service) CompleteTask(ctx context.Context, companyID, taskID, actorID int64) (Task, error) {
	task, err := s.store.GetTask(ctx, companyID, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Status == StatusCompleted {
		return task, nil
	}
	if !CanTransition(task.Status, StatusCompleted) {
		return Task{}, ErrInvalidTransition
	}

	if task.Type == TaskPutaway && task.TargetLocationID == nil {
		target, err := s.resolvePutawayTarget(ctx, companyID, task.WarehouseID, task.ProductID, task.Quantity, nil)
		if err != nil {
			return Task{}, err
		}
		if err := s.store.SetTaskTarget(ctx, companyID, task.ID, *target); err != nil {
			return Task{}, err
		}
		task.TargetLocationID = target
	}

	// The status claim and the ledger effects share one transaction: a failed
	// effect rolls the claim back, so a completed task always has its ledger
	// mutation.
	now := time.Now().UTC()
	claimed := false
	err = s.inventory.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateTaskStatus(ctx, task.ID, task.Status, StatusCompleted, &now); err != nil {
			return err
		}
		claimed = true
		return s.applyCompletionEffects(ctx, companyID, task, actorID)
	})
	if err != nil {
		if !claimed {
			// lost the claim; if another caller completed it, report
			// idempotent success
			current, getErr := s.store.GetTask(ctx, companyID, taskID)
			if getErr == nil && current.Status == StatusCompleted {
				return current, nil
			}
		}
		return Task{}, err
	}

	task.Status = StatusCompleted
	task.CompletedAt = &now
	s.metrics.RecordTaskCompleted(string(task.Type))
	s.recordAudit(ctx, actorID, "operations:complete-task", "task", fmt.Sprintf("%d", task.ID), map[string]any{
		"type":     string(task.Type),
		"quantity": task.Quantity.String(),
	})
	return task, nil
}

func (s *Service) applyCompletionEffects(ctx context.Context, companyID int64, task Task, actorID int64) error {
	switch task.Type {
	case TaskPutaway:
		return s.inventory.ApplyPutaway(ctx, inventory.TransferInput{
			CompanyID:        companyID,
			WarehouseID:      task.WarehouseID,
			ProductID:        task.ProductID,
			SourceLocationID: task.SourceLocationID,
			TargetLocationID: task.TargetLocationID,
			Batch:            task.Batch,
			ExpiryDate:       task.ExpiryDate,
			Quantity:         task.Quantity,
			Reference:        task.Reference,
			ActorID:          actorID,
		})
	case TaskPicking:
		if err := s.inventory.ApplyPick(ctx, inventory.PickInput{
			CompanyID:             companyID,
			WarehouseID:           task.WarehouseID,
			ProductID:             task.ProductID,
			SourceLocationID:      task.SourceLocationID,
			DestinationLocationID: task.TargetLocationID,
			Quantity:              task.Quantity,
			Reference:             task.Reference,
			ActorID:               actorID,
		}); err != nil {
			return err
		}
		if task.OrderLineID != nil {
			if err := s.store.AddAllocatedQuantity(ctx, *task.OrderLineID, task.Quantity); err != nil {
				return err
			}
			if task.OrderID != nil {
				s.completeOutboundIfDone(ctx, companyID, *task.OrderID)
			}
		}
		return nil
	case TaskInternalMove:
		return s.inventory.ApplyMove(ctx, inventory.TransferInput{
			CompanyID:        companyID,
			WarehouseID:      task.WarehouseID,
			ProductID:        task.ProductID,
			SourceLocationID: task.SourceLocationID,
			TargetLocationID: task.TargetLocationID,
			Batch:            task.Batch,
			ExpiryDate:       task.ExpiryDate,
			Quantity:         task.Quantity,
			Reference:        task.Reference,
			ActorID:          actorID,
		})
	default:
		return fmt.Errorf("operations: unknown task type %q", task.Type)
	}
}

func (s *Service) completeOutboundIfDone(ctx context.Context, companyID, orderID int64) {
	_, lines, err := s.store.GetOutboundOrder(ctx, companyID, orderID)
	if err != nil {
		return
	}
	for _, line := range lines {
		if line.AllocatedQuantity.LessThan(line.OrderedQuantity) {
			return
		}
	}
	_ = s.store.UpdateOutboundStatus(ctx, companyID, orderID, OrderProcessing, OrderCompleted)
}

// CreateWave groups pending picking tasks into one wave.
func (s *Service) CreateWave(ctx context.Context, companyID, warehouseID int64, name string, taskIDs []int64, actorID int64) (PickingWave, error) {
	if len(taskIDs) == 0 {
		return PickingWave{}, errors.New("operations: wave requires at least one task")
	}
	wave, err := s.store.CreateWave(ctx, PickingWave{
		CompanyID:   companyID,
		WarehouseID: warehouseID,
		Name:        name,
		Status:      StatusPending,
		CreatedBy:   actorID,
	})
	if err != nil {
		return PickingWave{}, err
	}
	for _, taskID := range taskIDs {
		if err := s.store.SetTaskWave(ctx, companyID, taskID, wave.ID); err != nil {
			return PickingWave{}, err
		}
	}
	return wave, nil
}

// GetWave returns a wave and its tasks.
func (s *Service) GetWave(ctx context.Context, companyID, id int64) (PickingWave, []Task, error) {
	wave, err := s.store.GetWave(ctx, companyID, id)
	if err != nil {
		return PickingWave{}, nil, err
	}
	tasks, err := s.store.ListTasks(ctx, TaskFilter{CompanyID: companyID, WarehouseID: wave.WarehouseID, WaveID: wave.ID})
	if err != nil {
		return PickingWave{}, nil, err
	}
	return wave, tasks, nil
}

// CreateShipment records a shipment for an outbound order whose lines are
// fully allocated.
func (s *Service) CreateShipment(ctx context.Context, companyID, orderID int64, carrier, trackingNumber string, actorID int64) (Shipment, error) {
	_, lines, err := s.store.GetOutboundOrder(ctx, companyID, orderID)
	if err != nil {
		return Shipment{}, err
	}
	for _, line := range lines {
		if line.AllocatedQuantity.LessThan(line.OrderedQuantity) {
			return Shipment{}, ErrNotPicked
		}
	}
	shipment, err := s.store.CreateShipment(ctx, Shipment{
		CompanyID:      companyID,
		OutboundID:     orderID,
		Reference:      "SHP-" + uuid.NewString()[:8],
		Carrier:        carrier,
		TrackingNumber: trackingNumber,
	})
	if err != nil {
		return Shipment{}, err
	}
	s.recordAudit(ctx, actorID, "operations:ship", "shipment", fmt.Sprintf("%d", shipment.ID), map[string]any{
		"order_id": orderID,
	})
	return shipment, nil
}

// MarkShipped stamps the shipment's departure time.
func (s *Service) MarkShipped(ctx context.Context, companyID, shipmentID int64) error {
	return s.store.MarkShipmentShipped(ctx, companyID, shipmentID, time.Now().UTC())
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}
