package masterdata

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Store is the persistence surface the service needs.
type Store interface {
	CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error)
	GetWarehouse(ctx context.Context, companyID, id int64) (Warehouse, error)
	ListWarehouses(ctx context.Context, companyID int64) ([]Warehouse, error)
	UpdateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error)
	CreateLocationType(ctx context.Context, t LocationType) (LocationType, error)
	ListLocationTypes(ctx context.Context, companyID int64) ([]LocationType, error)
	CreateLocation(ctx context.Context, l Location) (Location, error)
	GetLocation(ctx context.Context, companyID, id int64) (Location, error)
	GetLocationByBarcode(ctx context.Context, companyID int64, barcode string) (Location, error)
	ListLocations(ctx context.Context, companyID, warehouseID int64) ([]Location, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, companyID, id int64) (Product, error)
	GetProductBySKU(ctx context.Context, companyID int64, sku string) (Product, error)
	ListProducts(ctx context.Context, companyID int64, limit, offset int) ([]Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
}

// Service validates and normalises master data before persisting it. Codes
// and SKUs are uppercased; display names keep their casing except for
// leading/trailing whitespace.
type Service struct {
	store    Store
	validate *validator.Validate
	titler   cases.Caser
}

// NewService constructs Service.
func NewService(store Store, validate *validator.Validate) *Service {
	return &Service{store: store, validate: validate, titler: cases.Title(language.English)}
}

// WarehouseInput carries warehouse create/update fields.
type WarehouseInput struct {
	Code               string `validate:"required,max=32"`
	Name               string `validate:"required,max=200"`
	Address            string `validate:"max=500"`
	AllowNegativeStock bool
}

// CreateWarehouse creates a warehouse for the company.
func (s *Service) CreateWarehouse(ctx context.Context, companyID int64, input WarehouseInput) (Warehouse, error) {
	if err := s.validate.Struct(input); err != nil {
		return Warehouse{}, err
	}
	return s.store.CreateWarehouse(ctx, Warehouse{
		CompanyID:          companyID,
		Code:               normalizeCode(input.Code),
		Name:               strings.TrimSpace(input.Name),
		Address:            strings.TrimSpace(input.Address),
		AllowNegativeStock: input.AllowNegativeStock,
	})
}

// GetWarehouse returns one warehouse in the company.
func (s *Service) GetWarehouse(ctx context.Context, companyID, id int64) (Warehouse, error) {
	return s.store.GetWarehouse(ctx, companyID, id)
}

// ListWarehouses lists the company's warehouses.
func (s *Service) ListWarehouses(ctx context.Context, companyID int64) ([]Warehouse, error) {
	return s.store.ListWarehouses(ctx, companyID)
}

// UpdateWarehouse updates mutable warehouse fields. The code is immutable.
func (s *Service) UpdateWarehouse(ctx context.Context, companyID, id int64, input WarehouseInput, isActive bool) (Warehouse, error) {
	if err := s.validate.Struct(input); err != nil {
		return Warehouse{}, err
	}
	return s.store.UpdateWarehouse(ctx, Warehouse{
		ID:                 id,
		CompanyID:          companyID,
		Name:               strings.TrimSpace(input.Name),
		Address:            strings.TrimSpace(input.Address),
		AllowNegativeStock: input.AllowNegativeStock,
		IsActive:           isActive,
	})
}

// LocationTypeInput carries location type fields.
type LocationTypeInput struct {
	Name             string `validate:"required,max=100"`
	IsPickable       bool
	IsPutawayAllowed bool
	IsStaging        bool
}

// CreateLocationType creates a location type. The name is title-cased so
// "bulk storage" and "Bulk Storage" collide on the unique index.
func (s *Service) CreateLocationType(ctx context.Context, companyID int64, input LocationTypeInput) (LocationType, error) {
	if err := s.validate.Struct(input); err != nil {
		return LocationType{}, err
	}
	return s.store.CreateLocationType(ctx, LocationType{
		CompanyID:        companyID,
		Name:             s.titler.String(strings.TrimSpace(input.Name)),
		IsPickable:       input.IsPickable,
		IsPutawayAllowed: input.IsPutawayAllowed,
		IsStaging:        input.IsStaging,
	})
}

// ListLocationTypes lists the company's location types.
func (s *Service) ListLocationTypes(ctx context.Context, companyID int64) ([]LocationType, error) {
	return s.store.ListLocationTypes(ctx, companyID)
}

// LocationInput carries location create fields.
type LocationInput struct {
	WarehouseID  int64  `validate:"required,gt=0"`
	TypeID       int64  `validate:"required,gt=0"`
	Code         string `validate:"required,max=64"`
	Barcode      string `validate:"max=64"`
	MaxWeightKG  string
	MaxVolumeM3  string
	PickSequence int `validate:"gte=0"`
}

// CreateLocation creates a location inside a warehouse the company owns.
func (s *Service) CreateLocation(ctx context.Context, companyID int64, input LocationInput) (Location, error) {
	if err := s.validate.Struct(input); err != nil {
		return Location{}, err
	}
	if _, err := s.store.GetWarehouse(ctx, companyID, input.WarehouseID); err != nil {
		return Location{}, err
	}
	maxWeight, err := parseNonNegative(input.MaxWeightKG)
	if err != nil {
		return Location{}, errors.New("masterdata: max_weight_kg must be a non-negative number")
	}
	maxVolume, err := parseNonNegative(input.MaxVolumeM3)
	if err != nil {
		return Location{}, errors.New("masterdata: max_volume_m3 must be a non-negative number")
	}
	return s.store.CreateLocation(ctx, Location{
		CompanyID:    companyID,
		WarehouseID:  input.WarehouseID,
		TypeID:       input.TypeID,
		Code:         normalizeCode(input.Code),
		Barcode:      strings.TrimSpace(input.Barcode),
		MaxWeightKG:  maxWeight,
		MaxVolumeM3:  maxVolume,
		PickSequence: input.PickSequence,
	})
}

// GetLocation returns one location in the company.
func (s *Service) GetLocation(ctx context.Context, companyID, id int64) (Location, error) {
	return s.store.GetLocation(ctx, companyID, id)
}

// ResolveLocationBarcode resolves a scanned barcode to a location.
func (s *Service) ResolveLocationBarcode(ctx context.Context, companyID int64, barcode string) (Location, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return Location{}, ErrNotFound
	}
	return s.store.GetLocationByBarcode(ctx, companyID, barcode)
}

// ListLocations lists active locations of a warehouse in pick order.
func (s *Service) ListLocations(ctx context.Context, companyID, warehouseID int64) ([]Location, error) {
	return s.store.ListLocations(ctx, companyID, warehouseID)
}

// ProductInput carries product create/update fields.
type ProductInput struct {
	SKU            string `validate:"required,max=64"`
	Name           string `validate:"required,max=200"`
	Description    string `validate:"max=2000"`
	UnitWeightKG   string
	UnitVolumeM3   string
	IsBatchTracked bool
}

// CreateProduct creates a product.
func (s *Service) CreateProduct(ctx context.Context, companyID int64, input ProductInput) (Product, error) {
	if err := s.validate.Struct(input); err != nil {
		return Product{}, err
	}
	weight, err := parseNonNegative(input.UnitWeightKG)
	if err != nil {
		return Product{}, errors.New("masterdata: unit_weight_kg must be a non-negative number")
	}
	volume, err := parseNonNegative(input.UnitVolumeM3)
	if err != nil {
		return Product{}, errors.New("masterdata: unit_volume_m3 must be a non-negative number")
	}
	return s.store.CreateProduct(ctx, Product{
		CompanyID:      companyID,
		SKU:            normalizeCode(input.SKU),
		Name:           strings.TrimSpace(input.Name),
		Description:    strings.TrimSpace(input.Description),
		UnitWeightKG:   weight,
		UnitVolumeM3:   volume,
		IsBatchTracked: input.IsBatchTracked,
	})
}

// GetProduct returns one product in the company.
func (s *Service) GetProduct(ctx context.Context, companyID, id int64) (Product, error) {
	return s.store.GetProduct(ctx, companyID, id)
}

// GetProductBySKU looks a product up by its normalised SKU.
func (s *Service) GetProductBySKU(ctx context.Context, companyID int64, sku string) (Product, error) {
	return s.store.GetProductBySKU(ctx, companyID, normalizeCode(sku))
}

// ListProducts lists active products page by page.
func (s *Service) ListProducts(ctx context.Context, companyID int64, limit, offset int) ([]Product, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListProducts(ctx, companyID, limit, offset)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// parseNonNegative parses an optional decimal field; empty means zero, which
// the capacity checks treat as unconstrained.
func parseNonNegative(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if value.IsNegative() {
		return decimal.Zero, errors.New("negative value")
	}
	return value, nil
}
