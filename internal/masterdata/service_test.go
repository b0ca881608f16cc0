package masterdata

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	warehouses    map[int64]*Warehouse
	locationTypes map[int64]*LocationType
	locations     map[int64]*Location
	products      map[int64]*Product
	nextID        int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		warehouses:    map[int64]*Warehouse{},
		locationTypes: map[int64]*LocationType{},
		locations:     map[int64]*Location{},
		products:      map[int64]*Product{},
		nextID:        1,
	}
}

func (m *memoryStore) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *memoryStore) CreateWarehouse(_ context.Context, w Warehouse) (Warehouse, error) {
	for _, existing := range m.warehouses {
		if existing.CompanyID == w.CompanyID && existing.Code == w.Code {
			return Warehouse{}, ErrDuplicateCode
		}
	}
	w.ID = m.id()
	w.IsActive = true
	m.warehouses[w.ID] = &w
	return w, nil
}

func (m *memoryStore) GetWarehouse(_ context.Context, companyID, id int64) (Warehouse, error) {
	w, ok := m.warehouses[id]
	if !ok || w.CompanyID != companyID {
		return Warehouse{}, ErrNotFound
	}
	return *w, nil
}

func (m *memoryStore) ListWarehouses(_ context.Context, companyID int64) ([]Warehouse, error) {
	out := []Warehouse{}
	for _, w := range m.warehouses {
		if w.CompanyID == companyID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateWarehouse(_ context.Context, w Warehouse) (Warehouse, error) {
	existing, ok := m.warehouses[w.ID]
	if !ok || existing.CompanyID != w.CompanyID {
		return Warehouse{}, ErrNotFound
	}
	existing.Name = w.Name
	existing.Address = w.Address
	existing.AllowNegativeStock = w.AllowNegativeStock
	existing.IsActive = w.IsActive
	return *existing, nil
}

func (m *memoryStore) CreateLocationType(_ context.Context, t LocationType) (LocationType, error) {
	for _, existing := range m.locationTypes {
		if existing.CompanyID == t.CompanyID && existing.Name == t.Name {
			return LocationType{}, ErrDuplicateCode
		}
	}
	t.ID = m.id()
	m.locationTypes[t.ID] = &t
	return t, nil
}

func (m *memoryStore) ListLocationTypes(_ context.Context, companyID int64) ([]LocationType, error) {
	out := []LocationType{}
	for _, t := range m.locationTypes {
		if t.CompanyID == companyID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateLocation(_ context.Context, l Location) (Location, error) {
	l.ID = m.id()
	l.IsActive = true
	m.locations[l.ID] = &l
	return l, nil
}

func (m *memoryStore) GetLocation(_ context.Context, companyID, id int64) (Location, error) {
	l, ok := m.locations[id]
	if !ok || l.CompanyID != companyID {
		return Location{}, ErrNotFound
	}
	return *l, nil
}

func (m *memoryStore) GetLocationByBarcode(_ context.Context, companyID int64, barcode string) (Location, error) {
	for _, l := range m.locations {
		if l.CompanyID == companyID && l.Barcode == barcode {
			return *l, nil
		}
	}
	return Location{}, ErrNotFound
}

func (m *memoryStore) ListLocations(_ context.Context, companyID, warehouseID int64) ([]Location, error) {
	out := []Location{}
	for _, l := range m.locations {
		if l.CompanyID == companyID && l.WarehouseID == warehouseID && l.IsActive {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateProduct(_ context.Context, p Product) (Product, error) {
	for _, existing := range m.products {
		if existing.CompanyID == p.CompanyID && existing.SKU == p.SKU {
			return Product{}, ErrDuplicateCode
		}
	}
	p.ID = m.id()
	p.IsActive = true
	m.products[p.ID] = &p
	return p, nil
}

func (m *memoryStore) GetProduct(_ context.Context, companyID, id int64) (Product, error) {
	p, ok := m.products[id]
	if !ok || p.CompanyID != companyID {
		return Product{}, ErrNotFound
	}
	return *p, nil
}

func (m *memoryStore) GetProductBySKU(_ context.Context, companyID int64, sku string) (Product, error) {
	for _, p := range m.products {
		if p.CompanyID == companyID && p.SKU == sku {
			return *p, nil
		}
	}
	return Product{}, ErrNotFound
}

func (m *memoryStore) ListProducts(_ context.Context, companyID int64, _, _ int) ([]Product, error) {
	out := []Product{}
	for _, p := range m.products {
		if p.CompanyID == companyID && p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateProduct(_ context.Context, p Product) (Product, error) {
	existing, ok := m.products[p.ID]
	if !ok || existing.CompanyID != p.CompanyID {
		return Product{}, ErrNotFound
	}
	*existing = p
	return *existing, nil
}

func newTestService() (*Service, *memoryStore) {
	store := newMemoryStore()
	return NewService(store, validator.New()), store
}

func TestCreateWarehouseNormalisesCode(t *testing.T) {
	svc, _ := newTestService()
	w, err := svc.CreateWarehouse(context.Background(), 1, WarehouseInput{Code: " mainDC ", Name: "Main DC"})
	require.NoError(t, err)
	require.Equal(t, "MAINDC", w.Code)
	require.True(t, w.IsActive)
	require.False(t, w.AllowNegativeStock)
}

func TestCreateWarehouseValidatesInput(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.CreateWarehouse(context.Background(), 1, WarehouseInput{Code: "", Name: "Main"})
	require.Error(t, err)
}

func TestWarehouseScopingByCompany(t *testing.T) {
	svc, _ := newTestService()
	created, err := svc.CreateWarehouse(context.Background(), 1, WarehouseInput{Code: "DC1", Name: "DC"})
	require.NoError(t, err)

	_, err = svc.GetWarehouse(context.Background(), 2, created.ID)
	require.ErrorIs(t, err, ErrNotFound, "other companies never see the warehouse")
}

func TestCreateLocationTypeTitlesName(t *testing.T) {
	svc, _ := newTestService()
	lt, err := svc.CreateLocationType(context.Background(), 1, LocationTypeInput{Name: "bulk storage", IsPutawayAllowed: true})
	require.NoError(t, err)
	require.Equal(t, "Bulk Storage", lt.Name)

	_, err = svc.CreateLocationType(context.Background(), 1, LocationTypeInput{Name: "BULK STORAGE"})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestCreateLocationChecksWarehouseOwnership(t *testing.T) {
	svc, _ := newTestService()
	w, err := svc.CreateWarehouse(context.Background(), 1, WarehouseInput{Code: "DC1", Name: "DC"})
	require.NoError(t, err)

	_, err = svc.CreateLocation(context.Background(), 2, LocationInput{WarehouseID: w.ID, TypeID: 1, Code: "A-01"})
	require.ErrorIs(t, err, ErrNotFound, "cross-company warehouse reference is rejected")

	loc, err := svc.CreateLocation(context.Background(), 1, LocationInput{
		WarehouseID: w.ID, TypeID: 1, Code: "a-01", MaxWeightKG: "120.5", PickSequence: 10,
	})
	require.NoError(t, err)
	require.Equal(t, "A-01", loc.Code)
	require.Equal(t, "120.5", loc.MaxWeightKG.String())
}

func TestCreateLocationRejectsNegativeCapacity(t *testing.T) {
	svc, _ := newTestService()
	w, err := svc.CreateWarehouse(context.Background(), 1, WarehouseInput{Code: "DC1", Name: "DC"})
	require.NoError(t, err)

	_, err = svc.CreateLocation(context.Background(), 1, LocationInput{WarehouseID: w.ID, TypeID: 1, Code: "A-01", MaxWeightKG: "-1"})
	require.Error(t, err)
}

func TestProductSKULookupIsCaseInsensitive(t *testing.T) {
	svc, _ := newTestService()
	created, err := svc.CreateProduct(context.Background(), 1, ProductInput{SKU: "wid-100", Name: "Widget", UnitWeightKG: "0.25"})
	require.NoError(t, err)
	require.Equal(t, "WID-100", created.SKU)

	found, err := svc.GetProductBySKU(context.Background(), 1, "Wid-100")
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)
}

func TestResolveLocationBarcode(t *testing.T) {
	svc, store := newTestService()
	store.locations[99] = &Location{ID: 99, CompanyID: 1, WarehouseID: 1, Barcode: "LOC-0099"}

	loc, err := svc.ResolveLocationBarcode(context.Background(), 1, " LOC-0099 ")
	require.NoError(t, err)
	require.Equal(t, int64(99), loc.ID)

	_, err = svc.ResolveLocationBarcode(context.Background(), 1, "")
	require.ErrorIs(t, err, ErrNotFound)
}
