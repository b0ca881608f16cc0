package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian-wms/internal/platform/httpx"
	"github.com/meridian-wms/meridian-wms/internal/rbac"
	"github.com/meridian-wms/meridian-wms/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	counting *CountingService
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service, counting *CountingService, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, counting: counting, validate: validate, rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("inventory.view"))
		r.Get("/availability", h.handleAvailability)
		r.Get("/movements", h.handleListMovements)
		r.Get("/summary", h.handleSummary)
		r.Get("/stock", h.handleStockByLocation)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("inventory.reserve"))
		r.Post("/reservations", h.handleReserve)
		r.Post("/reservations/release", h.handleRelease)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("inventory.adjust"))
		r.Post("/adjustments", h.handleAdjustment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("inventory.count"))
		r.Post("/count-sessions", h.handleCreateCountSession)
		r.Get("/count-sessions", h.handleListCountSessions)
		r.Get("/count-sessions/{sessionID}", h.handleGetCountSession)
		r.Post("/count-sessions/{sessionID}/start", h.handleStartCountSession)
		r.Post("/count-sessions/{sessionID}/lines/{lineID}", h.handleRecordCount)
		r.Post("/count-sessions/{sessionID}/complete", h.handleCompleteCountSession)
		r.Post("/count-sessions/{sessionID}/cancel", h.handleCancelCountSession)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrNegativeStockDisallowed),
		errors.Is(err, ErrSessionState),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrLockNotObtained):
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", "operation is locked by another request, retry")
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidReason):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrCrossCompanyRef):
		// reads as not found so one tenant cannot probe another's warehouses
		httpx.Problem(w, http.StatusNotFound, "Not Found", ErrWarehouseNotFound.Error())
	case errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrWarehouseNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
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

type availabilityResponse struct {
	ProductID int64           `json:"product_id"`
	Available decimal.Decimal `json:"available"`
	Fulfils   *bool           `json:"fulfils,omitempty"`
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	productID, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id is required")
		return
	}
	locationID, ok := parseOptionalID(w, q.Get("location_id"))
	if !ok {
		return
	}

	resp := availabilityResponse{ProductID: productID}
	if raw := q.Get("quantity"); raw != "" {
		quantity, err := decimal.NewFromString(raw)
		if err != nil || !quantity.IsPositive() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a positive number")
			return
		}
		fulfils, available, err := h.service.CheckStockAvailable(r.Context(), actor.CompanyID, actor.WarehouseID, productID, quantity, locationID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		resp.Available = available
		resp.Fulfils = &fulfils
	} else {
		available, err := h.service.GetAvailableQuantity(r.Context(), actor.CompanyID, actor.WarehouseID, productID, locationID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		resp.Available = available
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type reserveRequest struct {
	ProductID  int64  `json:"product_id" validate:"required,gt=0"`
	Quantity   string `json:"quantity" validate:"required"`
	LocationID *int64 `json:"location_id,omitempty"`
}

type reservedRowResponse struct {
	ItemID     int64           `json:"item_id"`
	LocationID *int64          `json:"location_id,omitempty"`
	Batch      string          `json:"batch,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reserved   decimal.Decimal `json:"reserved_quantity"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a number")
		return
	}

	rows, err := h.service.Reserve(r.Context(), ReserveInput{
		CompanyID:   actor.CompanyID,
		WarehouseID: actor.WarehouseID,
		ProductID:   req.ProductID,
		Quantity:    quantity,
		LocationID:  req.LocationID,
		ActorID:     actor.UserID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := make([]reservedRowResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, reservedRowResponse{ItemID: row.ItemID, LocationID: row.LocationID, Batch: row.Batch, Quantity: row.Quantity, Reserved: row.Reserved})
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

type releaseRequest struct {
	ItemIDs  []int64 `json:"item_ids" validate:"required,min=1,dive,gt=0"`
	Quantity *string `json:"quantity,omitempty"`
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOr401(w, r); !ok {
		return
	}
	var req releaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var quantity *decimal.Decimal
	if req.Quantity != nil {
		parsed, err := decimal.NewFromString(*req.Quantity)
		if err != nil || !parsed.IsPositive() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a positive number")
			return
		}
		quantity = &parsed
	}
	if err := h.service.Release(r.Context(), req.ItemIDs, quantity); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustmentRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	LocationID  *int64 `json:"location_id,omitempty"`
	Delta       string `json:"quantity_difference" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
	Description string `json:"description,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

type adjustmentResponse struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Delta     decimal.Decimal `json:"quantity_difference"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity_difference must be a number")
		return
	}

	adjustment, err := h.service.ApplyAdjustment(r.Context(), AdjustmentInput{
		CompanyID:      actor.CompanyID,
		WarehouseID:    actor.WarehouseID,
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		Delta:          delta,
		Reason:         AdjustmentReason(req.Reason),
		Description:    req.Description,
		Reference:      req.Reference,
		ActorID:        actor.UserID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adjustmentResponse{
		ID:        adjustment.ID,
		ProductID: adjustment.ProductID,
		Delta:     adjustment.QuantityDifference,
		Reason:    string(adjustment.Reason),
		Reference: adjustment.Reference,
		CreatedAt: adjustment.CreatedAt,
	})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{CompanyID: actor.CompanyID, WarehouseID: actor.WarehouseID}
	if raw := q.Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id must be numeric")
			return
		}
		filter.ProductID = id
	}
	if raw := q.Get("type"); raw != "" {
		filter.Type = MovementType(raw)
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var productID int64
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id must be numeric")
			return
		}
		productID = id
	}
	summaries, err := h.service.SummariseByProduct(r.Context(), actor.CompanyID, actor.WarehouseID, productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleStockByLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	locationID, ok := parseOptionalID(w, r.URL.Query().Get("location_id"))
	if !ok {
		return
	}
	stocks, err := h.service.ListByLocation(r.Context(), actor.CompanyID, actor.WarehouseID, locationID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stocks)
}

type createCountSessionRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	LocationID *int64 `json:"location_id,omitempty"`
}

func (h *Handler) handleCreateCountSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req createCountSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	session, lines, err := h.counting.CreateSession(r.Context(), actor.CompanyID, actor.WarehouseID, req.Name, req.LocationID, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"session": session, "lines": lines})
}

func (h *Handler) handleListCountSessions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	sessions, err := h.counting.ListSessions(r.Context(), actor.CompanyID, actor.WarehouseID, shared.NewPagination(page, perPage, 0))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetCountSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	sessionID, ok := parsePathID(w, r, "sessionID")
	if !ok {
		return
	}
	session, lines, err := h.counting.GetSession(r.Context(), actor.CompanyID, sessionID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"session": session, "lines": lines})
}

func (h *Handler) handleStartCountSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	sessionID, ok := parsePathID(w, r, "sessionID")
	if !ok {
		return
	}
	if err := h.counting.StartSession(r.Context(), actor.CompanyID, sessionID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordCountRequest struct {
	CountedQuantity string `json:"counted_quantity" validate:"required"`
}

func (h *Handler) handleRecordCount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	sessionID, ok := parsePathID(w, r, "sessionID")
	if !ok {
		return
	}
	lineID, ok := parsePathID(w, r, "lineID")
	if !ok {
		return
	}
	var req recordCountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	counted, err := decimal.NewFromString(req.CountedQuantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "counted_quantity must be a number")
		return
	}
	if err := h.counting.RecordCount(r.Context(), actor.CompanyID, sessionID, lineID, counted, actor.UserID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCompleteCountSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	sessionID, ok := parsePathID(w, r, "sessionID")
	if !ok {
		return
	}
	result, err := h.counting.CompleteSession(r.Context(), actor.CompanyID, sessionID, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"session_id":          result.SessionID,
		"lines_total":         result.LinesTotal,
		"lines_with_variance": result.LinesWithVariance,
		"adjustments_created": result.AdjustmentsCreated,
		"failed_line_ids":     result.FailedLineIDs,
	})
}

func (h *Handler) handleCancelCountSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	sessionID, ok := parsePathID(w, r, "sessionID")
	if !ok {
		return
	}
	if err := h.counting.CancelSession(r.Context(), actor.CompanyID, sessionID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parsePathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseOptionalID(w http.ResponseWriter, raw string) (*int64, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id must be a positive integer")
		return nil, false
	}
	return &id, true
}
