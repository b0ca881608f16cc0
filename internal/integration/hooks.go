// Package integration fans inventory events out to downstream consumers.
package integration

import (
	"context"
	"log/slog"

	"github.com/meridian-wms/meridian-wms/internal/inventory"
	"github.com/meridian-wms/meridian-wms/internal/observability"
)

// Hooks implements the inventory integration surface. Today it feeds the
// metrics registry and the structured log; an ERP export can hang off the
// same events later.
type Hooks struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewHooks constructs Hooks. Both dependencies are optional.
func NewHooks(logger *slog.Logger, metrics *observability.Metrics) *Hooks {
	return &Hooks{logger: logger, metrics: metrics}
}

// HandleAdjustmentPosted records a posted stock adjustment.
func (h *Hooks) HandleAdjustmentPosted(ctx context.Context, evt inventory.AdjustmentPostedEvent) {
	h.metrics.RecordAdjustment(string(evt.Reason))
	if h.logger != nil {
		h.logger.Info("stock adjustment posted",
			slog.Int64("adjustment_id", evt.AdjustmentID),
			slog.Int64("company_id", evt.CompanyID),
			slog.Int64("warehouse_id", evt.WarehouseID),
			slog.Int64("product_id", evt.ProductID),
			slog.String("delta", evt.Delta.String()),
			slog.String("reason", string(evt.Reason)),
		)
	}
}

// HandleReservationPlaced counts a committed reservation.
func (h *Hooks) HandleReservationPlaced(ctx context.Context, evt inventory.ReservationPlacedEvent) {
	h.metrics.RecordReservation()
	if h.logger != nil {
		h.logger.Debug("reservation placed",
			slog.Int64("company_id", evt.CompanyID),
			slog.Int64("warehouse_id", evt.WarehouseID),
			slog.Int64("product_id", evt.ProductID),
			slog.String("quantity", evt.Quantity.String()),
			slog.Int("rows", evt.Rows),
		)
	}
}
