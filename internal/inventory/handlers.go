package inventory

import "context"

// IntegrationHandler receives inventory events for downstream integration.
// Events fire after the owning transaction commits, so handlers cannot fail
// the operation; they deal with their own errors.
type IntegrationHandler interface {
	HandleAdjustmentPosted(ctx context.Context, evt AdjustmentPostedEvent)
	HandleReservationPlaced(ctx context.Context, evt ReservationPlacedEvent)
}
