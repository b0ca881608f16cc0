package locator

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PickStrategy selects the ordering used when choosing a picking location.
type PickStrategy string

const (
	// PickFIFO prefers the oldest stock.
	PickFIFO PickStrategy = "fifo"
	// PickLIFO prefers the newest stock.
	PickLIFO PickStrategy = "lifo"
	// PickClosest prefers the location earliest on the picking route.
	PickClosest PickStrategy = "closest"
)

// IsValid reports whether the strategy is known.
func (s PickStrategy) IsValid() bool {
	switch s {
	case PickFIFO, PickLIFO, PickClosest:
		return true
	default:
		return false
	}
}

// PutawayCandidate is one location eligible for putaway, with the aggregates
// the capacity check needs. CurrentWeightKG and CurrentVolumeM3 cover all
// stock already in the location.
type PutawayCandidate struct {
	LocationID       int64
	LocationCode     string
	MaxWeightKG      decimal.Decimal
	MaxVolumeM3      decimal.Decimal
	CurrentWeightKG  decimal.Decimal
	CurrentVolumeM3  decimal.Decimal
	HoldsProduct     bool
	IsEmpty          bool
	IsPutawayAllowed bool
}

// PickCandidate is one ledger row in a pickable location.
type PickCandidate struct {
	ItemID       int64
	LocationID   int64
	LocationCode string
	PickSequence int
	Batch        string
	ExpiryDate   *time.Time
	Available    decimal.Decimal
	StockedAt    time.Time
}

// ProductDims carries the per-unit physical dimensions used by the capacity
// check. Zero values mean the dimension is unknown and never blocks.
type ProductDims struct {
	UnitWeightKG decimal.Decimal
	UnitVolumeM3 decimal.Decimal
}

var (
	// ErrNoSuitableLocation indicates no location satisfied the selection
	// rules.
	ErrNoSuitableLocation = errors.New("locator: no suitable location")
	// ErrUnknownStrategy indicates an unrecognised picking strategy.
	ErrUnknownStrategy = errors.New("locator: unknown picking strategy")
)
