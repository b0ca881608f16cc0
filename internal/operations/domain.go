package operations

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TaskType enumerates warehouse task kinds.
type TaskType string

const (
	TaskPutaway      TaskType = "putaway"
	TaskPicking      TaskType = "picking"
	TaskInternalMove TaskType = "internal_move"
)

// IsValid reports whether the type is known.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskPutaway, TaskPicking, TaskInternalMove:
		return true
	default:
		return false
	}
}

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusCanceled   TaskStatus = "canceled"
)

// taskTransitions is the full transition table. Anything not listed is
// rejected; completed and canceled are terminal.
var taskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	StatusPending: {
		StatusInProgress: {},
		StatusCanceled:   {},
	},
	StatusInProgress: {
		StatusCompleted: {},
		StatusCanceled:  {},
	},
}

// CanTransition reports whether the status change is permitted.
func CanTransition(from, to TaskStatus) bool {
	_, ok := taskTransitions[from][to]
	return ok
}

// Task is one unit of warehouse work. Picking tasks carry the ledger row the
// reservation was placed on; the quantity of a picking task never exceeds
// what was reserved there.
type Task struct {
	ID               int64
	CompanyID        int64
	WarehouseID      int64
	Type             TaskType
	Status           TaskStatus
	ProductID        int64
	SourceLocationID *int64
	TargetLocationID *int64
	SourceItemID     *int64
	Batch            string
	ExpiryDate       *time.Time
	Quantity         decimal.Decimal
	OrderID          *int64
	OrderLineID      *int64
	WaveID           *int64
	AssignedTo       *int64
	Reference        string
	CreatedBy        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// OrderStatus enumerates inbound/outbound order states.
type OrderStatus string

const (
	OrderOpen       OrderStatus = "open"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCanceled   OrderStatus = "canceled"
)

// InboundOrder is an expected delivery from a supplier.
type InboundOrder struct {
	ID          int64
	CompanyID   int64
	WarehouseID int64
	Reference   string
	Supplier    string
	Status      OrderStatus
	ExpectedAt  *time.Time
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InboundOrderLine tracks expected versus received quantity per product.
type InboundOrderLine struct {
	ID               int64
	OrderID          int64
	ProductID        int64
	ExpectedQuantity decimal.Decimal
	ReceivedQuantity decimal.Decimal
}

// OutboundOrder is a customer order to be picked and shipped.
type OutboundOrder struct {
	ID          int64
	CompanyID   int64
	WarehouseID int64
	Reference   string
	Customer    string
	Status      OrderStatus
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutboundOrderLine tracks ordered versus allocated quantity per product.
// Allocated is incremented as picking tasks complete and never exceeds
// ordered.
type OutboundOrderLine struct {
	ID                int64
	OrderID           int64
	ProductID         int64
	OrderedQuantity   decimal.Decimal
	AllocatedQuantity decimal.Decimal
}

// PickingWave groups picking tasks for one walk through the warehouse.
type PickingWave struct {
	ID          int64
	CompanyID   int64
	WarehouseID int64
	Name        string
	Status      TaskStatus
	CreatedBy   int64
	CreatedAt   time.Time
}

// Shipment records an outbound order leaving the warehouse.
type Shipment struct {
	ID             int64
	CompanyID      int64
	OutboundID     int64
	Reference      string
	Carrier        string
	TrackingNumber string
	ShippedAt      *time.Time
	CreatedAt      time.Time
}

var (
	// ErrInvalidTransition indicates a task status change the transition
	// table forbids.
	ErrInvalidTransition = errors.New("operations: invalid task transition")
	// ErrTaskNotFound indicates a missing task.
	ErrTaskNotFound = errors.New("operations: task not found")
	// ErrOrderNotFound indicates a missing order.
	ErrOrderNotFound = errors.New("operations: order not found")
	// ErrOrderState indicates an order operation from a state that does not
	// permit it.
	ErrOrderState = errors.New("operations: order state does not permit operation")
	// ErrLineNotFound indicates a missing order line.
	ErrLineNotFound = errors.New("operations: order line not found")
	// ErrOverReceipt indicates receiving more than the line expects.
	ErrOverReceipt = errors.New("operations: received quantity exceeds expected")
	// ErrNotPicked indicates a shipment attempt before all lines are picked.
	ErrNotPicked = errors.New("operations: order lines not fully picked")
)
