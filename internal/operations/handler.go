package operations

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian-wms/internal/inventory"
	"github.com/meridian-wms/meridian-wms/internal/locator"
	"github.com/meridian-wms/meridian-wms/internal/platform/httpx"
	"github.com/meridian-wms/meridian-wms/internal/rbac"
	"github.com/meridian-wms/meridian-wms/internal/shared"
)

// Handler wires HTTP endpoints for orders, tasks, waves and shipments.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs the operations handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac}
}

// MountRoutes registers operations routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("operations.view"))
		r.Get("/tasks", h.handleListTasks)
		r.Get("/tasks/{taskID}", h.handleGetTask)
		r.Get("/inbound-orders/{orderID}", h.handleGetInbound)
		r.Get("/outbound-orders/{orderID}", h.handleGetOutbound)
		r.Get("/waves/{waveID}", h.handleGetWave)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("operations.receive"))
		r.Post("/inbound-orders", h.handleCreateInbound)
		r.Post("/inbound-orders/{orderID}/receive", h.handleReceiveLine)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("operations.pick"))
		r.Post("/outbound-orders", h.handleCreateOutbound)
		r.Post("/outbound-orders/{orderID}/allocate", h.handleAllocate)
		r.Post("/waves", h.handleCreateWave)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("operations.tasks"))
		r.Post("/tasks/moves", h.handleCreateMove)
		r.Post("/tasks/{taskID}/assign", h.handleAssignTask)
		r.Post("/tasks/{taskID}/start", h.handleStartTask)
		r.Post("/tasks/{taskID}/complete", h.handleCompleteTask)
		r.Post("/tasks/{taskID}/cancel", h.handleCancelTask)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("operations.ship"))
		r.Post("/shipments", h.handleCreateShipment)
		r.Post("/shipments/{shipmentID}/dispatch", h.handleDispatchShipment)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrOrderState),
		errors.Is(err, ErrOverReceipt),
		errors.Is(err, ErrNotPicked),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, locator.ErrUnknownStrategy):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrCrossCompanyRef):
		// reads as not found so one tenant cannot probe another's warehouses
		httpx.Problem(w, http.StatusNotFound, "Not Found", inventory.ErrWarehouseNotFound.Error())
	case errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrLineNotFound),
		errors.Is(err, locator.ErrNoSuitableLocation):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, inventory.ErrLockNotObtained):
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", "operation is locked by another request, retry")
	default:
		h.logger.Error("operations request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
	}
}

type taskResponse struct {
	ID               int64           `json:"id"`
	Type             TaskType        `json:"type"`
	Status           TaskStatus      `json:"status"`
	ProductID        int64           `json:"product_id"`
	SourceLocationID *int64          `json:"source_location_id,omitempty"`
	TargetLocationID *int64          `json:"target_location_id,omitempty"`
	Batch            string          `json:"batch,omitempty"`
	ExpiryDate       *time.Time      `json:"expiry_date,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	OrderID          *int64          `json:"order_id,omitempty"`
	WaveID           *int64          `json:"wave_id,omitempty"`
	AssignedTo       *int64          `json:"assigned_to,omitempty"`
	Reference        string          `json:"reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

func toTaskResponse(t Task) taskResponse {
	return taskResponse{
		ID:               t.ID,
		Type:             t.Type,
		Status:           t.Status,
		ProductID:        t.ProductID,
		SourceLocationID: t.SourceLocationID,
		TargetLocationID: t.TargetLocationID,
		Batch:            t.Batch,
		ExpiryDate:       t.ExpiryDate,
		Quantity:         t.Quantity,
		OrderID:          t.OrderID,
		WaveID:           t.WaveID,
		AssignedTo:       t.AssignedTo,
		Reference:        t.Reference,
		CreatedAt:        t.CreatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := TaskFilter{CompanyID: actor.CompanyID, WarehouseID: actor.WarehouseID}
	if raw := q.Get("type"); raw != "" {
		filter.Type = TaskType(raw)
		if !filter.Type.IsValid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown task type")
			return
		}
	}
	if raw := q.Get("status"); raw != "" {
		filter.Status = TaskStatus(raw)
	}
	if raw := q.Get("assigned_to"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "assigned_to must be numeric")
			return
		}
		filter.AssignedTo = id
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	tasks, err := h.service.ListTasks(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		resp = append(resp, toTaskResponse(task))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	taskID, ok := parsePathID(w, r, "taskID")
	if !ok {
		return
	}
	task, err := h.service.GetTask(r.Context(), actor.CompanyID, taskID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTaskResponse(task))
}

type inboundLineRequest struct {
	ProductID        int64  `json:"product_id" validate:"required,gt=0"`
	ExpectedQuantity string `json:"expected_quantity" validate:"required"`
}

type createInboundRequest struct {
	Reference  string               `json:"reference" validate:"required,max=100"`
	Supplier   string               `json:"supplier,omitempty" validate:"max=200"`
	ExpectedAt *time.Time           `json:"expected_at,omitempty"`
	Lines      []inboundLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateInbound(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req createInboundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]InboundLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		quantity, err := decimal.NewFromString(line.ExpectedQuantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expected_quantity must be a number")
			return
		}
		lines = append(lines, InboundLineInput{ProductID: line.ProductID, ExpectedQuantity: quantity})
	}
	order, orderLines, err := h.service.CreateInboundOrder(r.Context(), actor.CompanyID, actor.WarehouseID, req.Reference, req.Supplier, req.ExpectedAt, lines, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"order": order, "lines": orderLines})
}

func (h *Handler) handleGetInbound(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	orderID, ok := parsePathID(w, r, "orderID")
	if !ok {
		return
	}
	order, lines, err := h.service.GetInboundOrder(r.Context(), actor.CompanyID, orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": order, "lines": lines})
}

type receiveRequest struct {
	LineID            int64      `json:"line_id" validate:"required,gt=0"`
	Quantity          string     `json:"quantity" validate:"required"`
	Batch             string     `json:"batch,omitempty" validate:"max=100"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	StagingLocationID *int64     `json:"staging_location_id,omitempty"`
	TargetLocationID  *int64     `json:"target_location_id,omitempty"`
	CreatePutaway     bool       `json:"create_putaway"`
}

func (h *Handler) handleReceiveLine(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	orderID, ok := parsePathID(w, r, "orderID")
	if !ok {
		return
	}
	var req receiveRequest
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

	task, err := h.service.ReceiveLine(r.Context(), actor.CompanyID, ReceiveInput{
		OrderID:           orderID,
		LineID:            req.LineID,
		Quantity:          quantity,
		Batch:             req.Batch,
		ExpiryDate:        req.ExpiryDate,
		StagingLocationID: req.StagingLocationID,
		TargetLocationID:  req.TargetLocationID,
		CreatePutaway:     req.CreatePutaway,
		ActorID:           actor.UserID,
		IdempotencyKey:    r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTaskResponse(*task))
}

type outboundLineRequest struct {
	ProductID       int64  `json:"product_id" validate:"required,gt=0"`
	OrderedQuantity string `json:"ordered_quantity" validate:"required"`
}

type createOutboundRequest struct {
	Reference string                `json:"reference" validate:"required,max=100"`
	Customer  string                `json:"customer,omitempty" validate:"max=200"`
	Lines     []outboundLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateOutbound(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req createOutboundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]OutboundLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		quantity, err := decimal.NewFromString(line.OrderedQuantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "ordered_quantity must be a number")
			return
		}
		lines = append(lines, OutboundLineInput{ProductID: line.ProductID, OrderedQuantity: quantity})
	}
	order, orderLines, err := h.service.CreateOutboundOrder(r.Context(), actor.CompanyID, actor.WarehouseID, req.Reference, req.Customer, lines, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"order": order, "lines": orderLines})
}

func (h *Handler) handleGetOutbound(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	orderID, ok := parsePathID(w, r, "orderID")
	if !ok {
		return
	}
	order, lines, err := h.service.GetOutboundOrder(r.Context(), actor.CompanyID, orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": order, "lines": lines})
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	orderID, ok := parsePathID(w, r, "orderID")
	if !ok {
		return
	}
	tasks, err := h.service.AllocateOutboundOrder(r.Context(), actor.CompanyID, orderID, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		resp = append(resp, toTaskResponse(task))
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

type createMoveRequest struct {
	ProductID        int64  `json:"product_id" validate:"required,gt=0"`
	SourceLocationID int64  `json:"source_location_id" validate:"required,gt=0"`
	TargetLocationID int64  `json:"target_location_id" validate:"required,gt=0"`
	Quantity         string `json:"quantity" validate:"required"`
}

func (h *Handler) handleCreateMove(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req createMoveRequest
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
	task, err := h.service.CreateInternalMoveTask(r.Context(), actor.CompanyID, actor.WarehouseID, req.ProductID, req.SourceLocationID, req.TargetLocationID, quantity, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTaskResponse(task))
}

type assignTaskRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

func (h *Handler) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	taskID, ok := parsePathID(w, r, "taskID")
	if !ok {
		return
	}
	var req assignTaskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AssignTask(r.Context(), actor.CompanyID, taskID, req.UserID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStartTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	taskID, ok := parsePathID(w, r, "taskID")
	if !ok {
		return
	}
	task, err := h.service.StartTask(r.Context(), actor.CompanyID, taskID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	taskID, ok := parsePathID(w, r, "taskID")
	if !ok {
		return
	}
	task, err := h.service.CompleteTask(r.Context(), actor.CompanyID, taskID, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	taskID, ok := parsePathID(w, r, "taskID")
	if !ok {
		return
	}
	task, err := h.service.CancelTask(r.Context(), actor.CompanyID, taskID, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTaskResponse(task))
}

type createWaveRequest struct {
	Name    string  `json:"name" validate:"required,max=200"`
	TaskIDs []int64 `json:"task_ids" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) handleCreateWave(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req createWaveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	wave, err := h.service.CreateWave(r.Context(), actor.CompanyID, actor.WarehouseID, req.Name, req.TaskIDs, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, wave)
}

func (h *Handler) handleGetWave(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	waveID, ok := parsePathID(w, r, "waveID")
	if !ok {
		return
	}
	wave, tasks, err := h.service.GetWave(r.Context(), actor.CompanyID, waveID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		resp = append(resp, toTaskResponse(task))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"wave": wave, "tasks": resp})
}

type createShipmentRequest struct {
	OrderID        int64  `json:"order_id" validate:"required,gt=0"`
	Carrier        string `json:"carrier" validate:"required,max=100"`
	TrackingNumber string `json:"tracking_number,omitempty" validate:"max=100"`
}

func (h *Handler) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req createShipmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	shipment, err := h.service.CreateShipment(r.Context(), actor.CompanyID, req.OrderID, req.Carrier, req.TrackingNumber, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, shipment)
}

func (h *Handler) handleDispatchShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	shipmentID, ok := parsePathID(w, r, "shipmentID")
	if !ok {
		return
	}
	if err := h.service.MarkShipped(r.Context(), actor.CompanyID, shipmentID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func actorOr401(w http.ResponseWriter, r *http.Request) (*shared.Actor, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return nil, false
	}
	return actor, true
}

func parsePathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
