package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-wms/meridian-wms/internal/platform/httpx"
	"github.com/meridian-wms/meridian-wms/internal/rbac"
	"github.com/meridian-wms/meridian-wms/internal/shared"
)

// Handler wires HTTP endpoints for master data.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the master data handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("masterdata.view"))
		r.Get("/warehouses", h.handleListWarehouses)
		r.Get("/warehouses/{id}", h.handleGetWarehouse)
		r.Get("/warehouses/{id}/locations", h.handleListLocations)
		r.Get("/location-types", h.handleListLocationTypes)
		r.Get("/locations/barcode/{barcode}", h.handleResolveBarcode)
		r.Get("/products", h.handleListProducts)
		r.Get("/products/{id}", h.handleGetProduct)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("masterdata.edit"))
		r.Post("/warehouses", h.handleCreateWarehouse)
		r.Put("/warehouses/{id}", h.handleUpdateWarehouse)
		r.Post("/location-types", h.handleCreateLocationType)
		r.Post("/locations", h.handleCreateLocation)
		r.Post("/products", h.handleCreateProduct)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.As(err, &validationErrs):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationErrs.Error())
	default:
		h.logger.Error("masterdata request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func actorOr401(w http.ResponseWriter, r *http.Request) (*shared.Actor, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return nil, false
	}
	return actor, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

type warehouseRequest struct {
	Code               string `json:"code"`
	Name               string `json:"name"`
	Address            string `json:"address"`
	AllowNegativeStock bool   `json:"allow_negative_stock"`
	IsActive           *bool  `json:"is_active,omitempty"`
}

func (h *Handler) handleCreateWarehouse(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req warehouseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	warehouse, err := h.service.CreateWarehouse(r.Context(), actor.CompanyID, WarehouseInput{
		Code:               req.Code,
		Name:               req.Name,
		Address:            req.Address,
		AllowNegativeStock: req.AllowNegativeStock,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, warehouse)
}

func (h *Handler) handleUpdateWarehouse(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req warehouseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	if req.Code == "" {
		// code is immutable but the input struct requires one for validation
		req.Code = "UNCHANGED"
	}
	warehouse, err := h.service.UpdateWarehouse(r.Context(), actor.CompanyID, id, WarehouseInput{
		Code:               req.Code,
		Name:               req.Name,
		Address:            req.Address,
		AllowNegativeStock: req.AllowNegativeStock,
	}, isActive)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, warehouse)
}

func (h *Handler) handleGetWarehouse(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	warehouse, err := h.service.GetWarehouse(r.Context(), actor.CompanyID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, warehouse)
}

func (h *Handler) handleListWarehouses(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	warehouses, err := h.service.ListWarehouses(r.Context(), actor.CompanyID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, warehouses)
}

type locationTypeRequest struct {
	Name             string `json:"name"`
	IsPickable       bool   `json:"is_pickable"`
	IsPutawayAllowed bool   `json:"is_putaway_allowed"`
	IsStaging        bool   `json:"is_staging"`
}

func (h *Handler) handleCreateLocationType(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req locationTypeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	locationType, err := h.service.CreateLocationType(r.Context(), actor.CompanyID, LocationTypeInput{
		Name:             req.Name,
		IsPickable:       req.IsPickable,
		IsPutawayAllowed: req.IsPutawayAllowed,
		IsStaging:        req.IsStaging,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, locationType)
}

func (h *Handler) handleListLocationTypes(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	types, err := h.service.ListLocationTypes(r.Context(), actor.CompanyID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, types)
}

type locationRequest struct {
	WarehouseID  int64  `json:"warehouse_id"`
	TypeID       int64  `json:"type_id"`
	Code         string `json:"code"`
	Barcode      string `json:"barcode"`
	MaxWeightKG  string `json:"max_weight_kg"`
	MaxVolumeM3  string `json:"max_volume_m3"`
	PickSequence int    `json:"pick_sequence"`
}

func (h *Handler) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	location, err := h.service.CreateLocation(r.Context(), actor.CompanyID, LocationInput{
		WarehouseID:  req.WarehouseID,
		TypeID:       req.TypeID,
		Code:         req.Code,
		Barcode:      req.Barcode,
		MaxWeightKG:  req.MaxWeightKG,
		MaxVolumeM3:  req.MaxVolumeM3,
		PickSequence: req.PickSequence,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, location)
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	warehouseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	locations, err := h.service.ListLocations(r.Context(), actor.CompanyID, warehouseID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, locations)
}

func (h *Handler) handleResolveBarcode(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	location, err := h.service.ResolveLocationBarcode(r.Context(), actor.CompanyID, chi.URLParam(r, "barcode"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, location)
}

type productRequest struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	UnitWeightKG   string `json:"unit_weight_kg"`
	UnitVolumeM3   string `json:"unit_volume_m3"`
	IsBatchTracked bool   `json:"is_batch_tracked"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	product, err := h.service.CreateProduct(r.Context(), actor.CompanyID, ProductInput{
		SKU:            req.SKU,
		Name:           req.Name,
		Description:    req.Description,
		UnitWeightKG:   req.UnitWeightKG,
		UnitVolumeM3:   req.UnitVolumeM3,
		IsBatchTracked: req.IsBatchTracked,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	product, err := h.service.GetProduct(r.Context(), actor.CompanyID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	products, err := h.service.ListProducts(r.Context(), actor.CompanyID, limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}
