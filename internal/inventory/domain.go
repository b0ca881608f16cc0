package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementInbound represents stock entering the warehouse or moving out
	// of staging into storage.
	MovementInbound MovementType = "inbound"
	// MovementOutbound represents stock leaving storage for an outbound order.
	MovementOutbound MovementType = "outbound"
	// MovementMove represents an internal relocation between locations.
	MovementMove MovementType = "move"
	// MovementAdjustment represents a manual or count-driven correction.
	MovementAdjustment MovementType = "adjustment"
)

// ItemKey identifies one ledger row. Location and ExpiryDate are part of the
// identity: nil is a distinct key value, not a wildcard.
type ItemKey struct {
	CompanyID   int64
	WarehouseID int64
	ProductID   int64
	LocationID  *int64
	Batch       string
	ExpiryDate  *time.Time
}

// Item is one ledger row: on-hand stock of a product at a
// location/batch/expiry combination. Rows are created lazily on first
// movement and never deleted; zero-quantity rows stay as history anchors.
type Item struct {
	ID               int64
	CompanyID        int64
	WarehouseID      int64
	ProductID        int64
	LocationID       *int64
	Batch            string
	ExpiryDate       *time.Time
	Quantity         decimal.Decimal
	ReservedQuantity decimal.Decimal
	IsLocked         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Available returns on-hand minus reserved, floored at zero.
func (i Item) Available() decimal.Decimal {
	avail := i.Quantity.Sub(i.ReservedQuantity)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Key returns the identity tuple of the row.
func (i Item) Key() ItemKey {
	return ItemKey{
		CompanyID:   i.CompanyID,
		WarehouseID: i.WarehouseID,
		ProductID:   i.ProductID,
		LocationID:  i.LocationID,
		Batch:       i.Batch,
		ExpiryDate:  i.ExpiryDate,
	}
}

// Movement is an immutable audit record of one quantity change. Rows are
// appended once per ledger-affecting event and never updated or deleted.
type Movement struct {
	ID             int64
	CompanyID      int64
	WarehouseID    int64
	ProductID      int64
	LocationFromID *int64
	LocationToID   *int64
	Batch          string
	ExpiryDate     *time.Time
	Type           MovementType
	Quantity       decimal.Decimal
	Reference      string
	Reason         string
	CreatedBy      int64
	CreatedAt      time.Time
}

// AdjustmentReason classifies stock adjustments.
type AdjustmentReason string

const (
	ReasonDamage AdjustmentReason = "damage"
	ReasonLoss   AdjustmentReason = "loss"
	ReasonCount  AdjustmentReason = "count"
	ReasonOther  AdjustmentReason = "other"
)

// IsValid reports whether the reason is one of the known values.
func (r AdjustmentReason) IsValid() bool {
	switch r {
	case ReasonDamage, ReasonLoss, ReasonCount, ReasonOther:
		return true
	default:
		return false
	}
}

// Adjustment is a typed request to change quantity by a signed delta at a
// given warehouse/product/location.
type Adjustment struct {
	ID                 int64
	CompanyID          int64
	WarehouseID        int64
	ProductID          int64
	LocationID         *int64
	Reason             AdjustmentReason
	Description        string
	QuantityDifference decimal.Decimal
	Reference          string
	CreatedBy          int64
	CreatedAt          time.Time
}

// MovementFilter filters movement listings.
type MovementFilter struct {
	CompanyID   int64
	WarehouseID int64
	ProductID   int64
	Type        MovementType
	From        time.Time
	To          time.Time
	Limit       int
}

// ProductSummary aggregates ledger rows per product.
type ProductSummary struct {
	ProductID     int64
	TotalQuantity decimal.Decimal
	TotalReserved decimal.Decimal
	Available     decimal.Decimal
}

// LocationStock is a per-row ledger view keyed by location.
type LocationStock struct {
	LocationID       *int64
	ProductID        int64
	Quantity         decimal.Decimal
	ReservedQuantity decimal.Decimal
	Available        decimal.Decimal
	Batch            string
	ExpiryDate       *time.Time
}

var (
	// ErrInsufficientStock is returned when reservation or an internal move
	// cannot find enough available quantity. Recoverable by the caller.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrNegativeStockDisallowed is returned when an adjustment would drive
	// the ledger below zero in a warehouse that forbids negative stock.
	ErrNegativeStockDisallowed = errors.New("inventory: negative stock not allowed for this warehouse")
	// ErrInvalidQuantity indicates a non-positive quantity where a positive
	// one is required.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidReason indicates an unknown adjustment reason.
	ErrInvalidReason = errors.New("inventory: unknown adjustment reason")
	// ErrItemNotFound indicates a missing ledger row.
	ErrItemNotFound = errors.New("inventory: ledger row not found")
	// ErrSessionState indicates a count session transition from a state that
	// does not permit it.
	ErrSessionState = errors.New("inventory: count session state does not permit operation")
)
