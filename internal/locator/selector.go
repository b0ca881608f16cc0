package locator

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// CandidateSource loads selection candidates from storage.
type CandidateSource interface {
	PutawayCandidates(ctx context.Context, companyID, warehouseID, productID int64) ([]PutawayCandidate, error)
	PickCandidates(ctx context.Context, companyID, warehouseID, productID int64) ([]PickCandidate, error)
	ProductDims(ctx context.Context, companyID, productID int64) (ProductDims, error)
}

// Selector chooses putaway and picking locations. Selection is advisory: the
// ledger still enforces policy when the movement is applied, so a stale
// candidate costs a retry, not a corruption.
type Selector struct {
	source CandidateSource
}

// NewSelector constructs Selector.
func NewSelector(source CandidateSource) *Selector {
	return &Selector{source: source}
}

// FindPutawayLocation picks the target for a putaway of the given quantity.
// Preference order: a location that already holds the product and still has
// capacity, then an empty location with capacity, then any location where
// putaway is allowed at all. The last tier ignores capacity so goods are
// never stranded in staging.
func (s *Selector) FindPutawayLocation(ctx context.Context, companyID, warehouseID, productID int64, quantity decimal.Decimal) (PutawayCandidate, error) {
	candidates, err := s.source.PutawayCandidates(ctx, companyID, warehouseID, productID)
	if err != nil {
		return PutawayCandidate{}, err
	}
	dims, err := s.source.ProductDims(ctx, companyID, productID)
	if err != nil {
		return PutawayCandidate{}, err
	}

	eligible := candidates[:0:0]
	for _, c := range candidates {
		if c.IsPutawayAllowed {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return PutawayCandidate{}, ErrNoSuitableLocation
	}

	for _, c := range eligible {
		if c.HoldsProduct && fitsCapacity(c, dims, quantity) {
			return c, nil
		}
	}
	for _, c := range eligible {
		if c.IsEmpty && fitsCapacity(c, dims, quantity) {
			return c, nil
		}
	}
	return eligible[0], nil
}

// fitsCapacity checks the incoming quantity against the location limits. A
// zero limit or unknown product dimension leaves that axis unconstrained.
func fitsCapacity(c PutawayCandidate, dims ProductDims, quantity decimal.Decimal) bool {
	if c.MaxWeightKG.IsPositive() && dims.UnitWeightKG.IsPositive() {
		incoming := dims.UnitWeightKG.Mul(quantity)
		if c.CurrentWeightKG.Add(incoming).GreaterThan(c.MaxWeightKG) {
			return false
		}
	}
	if c.MaxVolumeM3.IsPositive() && dims.UnitVolumeM3.IsPositive() {
		incoming := dims.UnitVolumeM3.Mul(quantity)
		if c.CurrentVolumeM3.Add(incoming).GreaterThan(c.MaxVolumeM3) {
			return false
		}
	}
	return true
}

// FindPickingLocation picks the ledger row a picking task should draw from.
// Only rows whose own available quantity covers the full request qualify;
// the ledger does not split one pick across locations.
func (s *Selector) FindPickingLocation(ctx context.Context, companyID, warehouseID, productID int64, quantity decimal.Decimal, strategy PickStrategy) (PickCandidate, error) {
	if !strategy.IsValid() {
		return PickCandidate{}, ErrUnknownStrategy
	}
	candidates, err := s.source.PickCandidates(ctx, companyID, warehouseID, productID)
	if err != nil {
		return PickCandidate{}, err
	}

	qualifying := candidates[:0:0]
	for _, c := range candidates {
		if c.Available.GreaterThanOrEqual(quantity) {
			qualifying = append(qualifying, c)
		}
	}
	if len(qualifying) == 0 {
		return PickCandidate{}, ErrNoSuitableLocation
	}

	switch strategy {
	case PickFIFO:
		sort.SliceStable(qualifying, func(i, j int) bool {
			return fifoLess(qualifying[i], qualifying[j])
		})
	case PickLIFO:
		sort.SliceStable(qualifying, func(i, j int) bool {
			return fifoLess(qualifying[j], qualifying[i])
		})
	case PickClosest:
		sort.SliceStable(qualifying, func(i, j int) bool {
			return qualifying[i].PickSequence < qualifying[j].PickSequence
		})
	}
	return qualifying[0], nil
}

// fifoLess orders by stocking time, nearest expiry as tie break with rows
// lacking an expiry date last.
func fifoLess(a, b PickCandidate) bool {
	if !a.StockedAt.Equal(b.StockedAt) {
		return a.StockedAt.Before(b.StockedAt)
	}
	switch {
	case a.ExpiryDate == nil:
		return false
	case b.ExpiryDate == nil:
		return true
	default:
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}
}
