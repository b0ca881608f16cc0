package masterdata

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Warehouse is a physical site belonging to one company. The
// AllowNegativeStock flag drives the ledger clamp policy for every stock
// mutation inside the warehouse.
type Warehouse struct {
	ID                 int64
	CompanyID          int64
	Code               string
	Name               string
	Address            string
	AllowNegativeStock bool
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LocationType classifies locations and gates what the location selector may
// do with them.
type LocationType struct {
	ID               int64
	CompanyID        int64
	Name             string
	IsPickable       bool
	IsPutawayAllowed bool
	IsStaging        bool
}

// Location is one addressable slot inside a warehouse. Capacity fields are
// optional upper bounds; zero means unconstrained. PickSequence orders
// locations along the picking route, lower values first.
type Location struct {
	ID           int64
	CompanyID    int64
	WarehouseID  int64
	TypeID       int64
	Code         string
	Barcode      string
	MaxWeightKG  decimal.Decimal
	MaxVolumeM3  decimal.Decimal
	PickSequence int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Product is a sellable or storable article. Weight and dimensions feed the
// putaway capacity check; batch-tracked products require a batch on every
// ledger row.
type Product struct {
	ID             int64
	CompanyID      int64
	SKU            string
	Name           string
	Description    string
	UnitWeightKG   decimal.Decimal
	UnitVolumeM3   decimal.Decimal
	IsBatchTracked bool
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var (
	// ErrNotFound indicates the requested master data record does not exist
	// within the caller's company.
	ErrNotFound = errors.New("masterdata: not found")
	// ErrDuplicateCode indicates a code or SKU collision inside the company.
	ErrDuplicateCode = errors.New("masterdata: code already in use")
)
