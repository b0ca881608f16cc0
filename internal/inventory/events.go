package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdjustmentPostedEvent represents a stock adjustment ready for downstream
// integration (reporting, finance).
type AdjustmentPostedEvent struct {
	AdjustmentID int64
	CompanyID    int64
	WarehouseID  int64
	ProductID    int64
	LocationID   *int64
	Delta        decimal.Decimal
	Reason       AdjustmentReason
	Reference    string
	PostedAt     time.Time
}

// ReservationPlacedEvent is emitted after a reservation commits, one event per
// Reserve call regardless of how many ledger rows it touched.
type ReservationPlacedEvent struct {
	CompanyID   int64
	WarehouseID int64
	ProductID   int64
	Quantity    decimal.Decimal
	Rows        int
	PlacedAt    time.Time
}
