package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian-wms/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	SumAvailable(ctx context.Context, filter AvailabilityFilter) (decimal.Decimal, decimal.Decimal, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	SummariseByProduct(ctx context.Context, companyID, warehouseID, productID int64) ([]ProductSummary, error)
	ListByLocation(ctx context.Context, companyID, warehouseID int64, locationID *int64) ([]LocationStock, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates ledger mutation: reservation, release, adjustments and
// the movement side effects of warehouse tasks. Every logical operation runs
// inside one transaction with row locks on the ledger rows it touches.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	locker      Locker
	integration IntegrationHandler
}

// NewService builds Service. Audit, idempotency, locker and integration are
// optional; nil disables the corresponding concern.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, locker Locker, integration IntegrationHandler) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, locker: locker, integration: integration}
}

// InTx runs fn inside one ledger transaction. Ledger operations invoked from
// fn join that transaction, as does any collaborating store that resolves its
// querier from the context, so a task-status claim and its ledger effects
// commit or roll back together.
func (s *Service) InTx(ctx context.Context, fn func(context.Context) error) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, _ TxRepository) error {
		return fn(ctx)
	})
}

// GetAvailableQuantity returns on-hand minus reserved across matching
// non-locked rows, floored at zero. A nil location sums the whole warehouse.
func (s *Service) GetAvailableQuantity(ctx context.Context, companyID, warehouseID, productID int64, locationID *int64) (decimal.Decimal, error) {
	qty, reserved, err := s.repo.SumAvailable(ctx, AvailabilityFilter{
		CompanyID:   companyID,
		WarehouseID: warehouseID,
		ProductID:   productID,
		LocationID:  locationID,
	})
	if err != nil {
		return decimal.Zero, err
	}
	available := qty.Sub(reserved)
	if available.IsNegative() {
		return decimal.Zero, nil
	}
	return available, nil
}

// CheckStockAvailable reports whether the requested quantity is available and
// how much is.
func (s *Service) CheckStockAvailable(ctx context.Context, companyID, warehouseID, productID int64, quantity decimal.Decimal, locationID *int64) (bool, decimal.Decimal, error) {
	available, err := s.GetAvailableQuantity(ctx, companyID, warehouseID, productID, locationID)
	if err != nil {
		return false, decimal.Zero, err
	}
	return available.GreaterThanOrEqual(quantity), available, nil
}

// ReserveInput describes a reservation request.
type ReserveInput struct {
	CompanyID   int64
	WarehouseID int64
	ProductID   int64
	Quantity    decimal.Decimal
	LocationID  *int64
	ActorID     int64
}

// Reservation reports one ledger row a reservation drew from and how much it
// took there.
type Reservation struct {
	ItemID     int64
	LocationID *int64
	Batch      string
	ExpiryDate *time.Time
	Quantity   decimal.Decimal
	Reserved   decimal.Decimal
}

// Reserve places a soft hold against ledger rows, oldest stock first with
// nearest expiry as tie break. Either the full quantity is reserved or
// nothing is: a greedy pass that cannot cover the request releases exactly
// what it took and fails with ErrInsufficientStock.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) ([]Reservation, error) {
	if !input.Quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	var reserved []Reservation
	run := func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			candidates, err := tx.ListCandidatesForUpdate(ctx, CandidateFilter{
				CompanyID:   input.CompanyID,
				WarehouseID: input.WarehouseID,
				ProductID:   input.ProductID,
				LocationID:  input.LocationID,
			})
			if err != nil {
				return err
			}

			total := decimal.Zero
			totalReserved := decimal.Zero
			for _, item := range candidates {
				total = total.Add(item.Quantity)
				totalReserved = totalReserved.Add(item.ReservedQuantity)
			}
			available := total.Sub(totalReserved)
			if available.IsNegative() {
				available = decimal.Zero
			}
			if available.LessThan(input.Quantity) {
				return ErrInsufficientStock
			}

			remaining := input.Quantity
			for i := range candidates {
				if !remaining.IsPositive() {
					break
				}
				item := &candidates[i]
				rowAvailable := item.Available()
				if !rowAvailable.IsPositive() {
					continue
				}
				take := decimal.Min(rowAvailable, remaining)
				item.ReservedQuantity = item.ReservedQuantity.Add(take)
				if err := tx.UpdateItemQuantities(ctx, item.ID, item.Quantity, item.ReservedQuantity); err != nil {
					return err
				}
				reserved = append(reserved, Reservation{
					ItemID:     item.ID,
					LocationID: item.LocationID,
					Batch:      item.Batch,
					ExpiryDate: item.ExpiryDate,
					Quantity:   take,
					Reserved:   item.ReservedQuantity,
				})
				remaining = remaining.Sub(take)
			}

			if remaining.IsPositive() {
				// Another caller consumed stock between the precheck and the
				// greedy pass. Hand back exactly what this call took.
				for i := range candidates {
					item := &candidates[i]
					for _, res := range reserved {
						if res.ItemID != item.ID {
							continue
						}
						item.ReservedQuantity = item.ReservedQuantity.Sub(res.Quantity)
						if err := tx.UpdateItemQuantities(ctx, item.ID, item.Quantity, item.ReservedQuantity); err != nil {
							return err
						}
					}
				}
				reserved = nil
				return ErrInsufficientStock
			}
			return nil
		})
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, shared.ReservationLockKey(input.CompanyID, input.WarehouseID, input.ProductID), run)
	} else {
		err = run()
	}
	if err != nil {
		return nil, err
	}

	if s.integration != nil {
		s.integration.HandleReservationPlaced(ctx, ReservationPlacedEvent{
			CompanyID:   input.CompanyID,
			WarehouseID: input.WarehouseID,
			ProductID:   input.ProductID,
			Quantity:    input.Quantity,
			Rows:        len(reserved),
			PlacedAt:    time.Now(),
		})
	}

	s.recordAudit(ctx, input.ActorID, "inventory:reserve", "inventory_item", fmt.Sprintf("product:%d", input.ProductID), map[string]any{
		"warehouse_id": input.WarehouseID,
		"quantity":     input.Quantity.String(),
		"rows":         len(reserved),
	})
	return reserved, nil
}

// Release lowers the reservation on the given ledger rows. A nil quantity
// zeroes each row's reservation; otherwise each row is decremented by up to
// quantity, floored at zero.
func (s *Service) Release(ctx context.Context, itemIDs []int64, quantity *decimal.Decimal) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, id := range itemIDs {
			item, err := tx.GetItemByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			newReserved := decimal.Zero
			if quantity != nil {
				newReserved = item.ReservedQuantity.Sub(*quantity)
				if newReserved.IsNegative() {
					newReserved = decimal.Zero
				}
			}
			if err := tx.UpdateItemQuantities(ctx, item.ID, item.Quantity, newReserved); err != nil {
				return err
			}
		}
		return nil
	})
}

// AdjustmentInput describes a stock adjustment request.
type AdjustmentInput struct {
	CompanyID      int64
	WarehouseID    int64
	ProductID      int64
	LocationID     *int64
	Delta          decimal.Decimal
	Reason         AdjustmentReason
	Description    string
	Reference      string
	ActorID        int64
	IdempotencyKey string
}

// ApplyAdjustment atomically creates the adjustment row, mutates the ledger
// by the signed delta and appends one adjustment movement. Unlike the
// task-completion paths, a delta that would drive the row negative in a
// warehouse that forbids it is rejected outright and nothing is written.
func (s *Service) ApplyAdjustment(ctx context.Context, input AdjustmentInput) (Adjustment, error) {
	if input.Delta.IsZero() {
		return Adjustment{}, ErrInvalidQuantity
	}
	if !input.Reason.IsValid() {
		return Adjustment{}, ErrInvalidReason
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "inventory"); err != nil {
			return Adjustment{}, err
		}
		insertedKey = true
	}

	adjustment := Adjustment{
		CompanyID:          input.CompanyID,
		WarehouseID:        input.WarehouseID,
		ProductID:          input.ProductID,
		LocationID:         input.LocationID,
		Reason:             input.Reason,
		Description:        input.Description,
		QuantityDifference: input.Delta,
		Reference:          input.Reference,
		CreatedBy:          input.ActorID,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		policy, err := tx.WarehousePolicy(ctx, input.CompanyID, input.WarehouseID)
		if err != nil {
			return err
		}
		item, err := s.getOrCreateItem(ctx, tx, ItemKey{
			CompanyID:   input.CompanyID,
			WarehouseID: input.WarehouseID,
			ProductID:   input.ProductID,
			LocationID:  input.LocationID,
		})
		if err != nil {
			return err
		}
		newQty := item.Quantity.Add(input.Delta)
		if newQty.IsNegative() && !policy.AllowNegativeStock {
			return ErrNegativeStockDisallowed
		}

		id, err := tx.InsertAdjustment(ctx, adjustment)
		if err != nil {
			return err
		}
		adjustment.ID = id
		adjustment.CreatedAt = time.Now().UTC()

		if err := tx.UpdateItemQuantities(ctx, item.ID, newQty, item.ReservedQuantity); err != nil {
			return err
		}

		reference := input.Reference
		if reference == "" {
			reference = fmt.Sprintf("ADJ-%d", id)
		}
		movement := Movement{
			CompanyID:   input.CompanyID,
			WarehouseID: input.WarehouseID,
			ProductID:   input.ProductID,
			Type:        MovementAdjustment,
			Quantity:    input.Delta.Abs(),
			Reference:   reference,
			Reason:      adjustmentReasonText(input.Reason, input.Description),
			CreatedBy:   input.ActorID,
		}
		if input.Delta.IsNegative() {
			movement.LocationFromID = input.LocationID
		} else {
			movement.LocationToID = input.LocationID
		}
		_, err = tx.InsertMovement(ctx, movement)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Adjustment{}, err
	}

	s.recordAudit(ctx, input.ActorID, "inventory:adjustment", "stock_adjustment", fmt.Sprintf("%d", adjustment.ID), map[string]any{
		"warehouse_id": input.WarehouseID,
		"product_id":   input.ProductID,
		"delta":        input.Delta.String(),
		"reason":       string(input.Reason),
	})

	if s.integration != nil {
		evt := AdjustmentPostedEvent{
			AdjustmentID: adjustment.ID,
			CompanyID:    input.CompanyID,
			WarehouseID:  input.WarehouseID,
			ProductID:    input.ProductID,
			LocationID:   input.LocationID,
			Delta:        input.Delta,
			Reason:       input.Reason,
			Reference:    adjustment.Reference,
			PostedAt:     adjustment.CreatedAt,
		}
		s.integration.HandleAdjustmentPosted(ctx, evt)
	}
	return adjustment, nil
}

// ReceiptInput describes goods arriving from outside into a staging location.
type ReceiptInput struct {
	CompanyID         int64
	WarehouseID       int64
	ProductID         int64
	StagingLocationID *int64
	Batch             string
	ExpiryDate        *time.Time
	Quantity          decimal.Decimal
	Reference         string
	ActorID           int64
	IdempotencyKey    string
}

// RecordReceipt increments the staging ledger row and appends one inbound
// movement with no source location (external origin).
func (s *Service) RecordReceipt(ctx context.Context, input ReceiptInput) error {
	if !input.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "inventory"); err != nil {
			return err
		}
		insertedKey = true
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := s.getOrCreateItem(ctx, tx, ItemKey{
			CompanyID:   input.CompanyID,
			WarehouseID: input.WarehouseID,
			ProductID:   input.ProductID,
			LocationID:  input.StagingLocationID,
			Batch:       input.Batch,
			ExpiryDate:  input.ExpiryDate,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateItemQuantities(ctx, item.ID, item.Quantity.Add(input.Quantity), item.ReservedQuantity); err != nil {
			return err
		}
		_, err = tx.InsertMovement(ctx, Movement{
			CompanyID:    input.CompanyID,
			WarehouseID:  input.WarehouseID,
			ProductID:    input.ProductID,
			LocationToID: input.StagingLocationID,
			Batch:        input.Batch,
			ExpiryDate:   input.ExpiryDate,
			Type:         MovementInbound,
			Quantity:     input.Quantity,
			Reference:    input.Reference,
			Reason:       "Goods received",
			CreatedBy:    input.ActorID,
		})
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return err
	}

	s.recordAudit(ctx, input.ActorID, "inventory:receipt", "inventory_item", fmt.Sprintf("product:%d", input.ProductID), map[string]any{
		"warehouse_id": input.WarehouseID,
		"quantity":     input.Quantity.String(),
		"reference":    input.Reference,
	})
	return nil
}

// TransferInput describes a ledger transfer between two locations within one
// warehouse, on behalf of a putaway or internal move task.
type TransferInput struct {
	CompanyID        int64
	WarehouseID      int64
	ProductID        int64
	SourceLocationID *int64
	TargetLocationID *int64
	Batch            string
	ExpiryDate       *time.Time
	Quantity         decimal.Decimal
	Reference        string
	Reason           string
	ActorID          int64
}

// ApplyPutaway moves stock from a staging row to a storage row and appends
// one inbound movement. A negative source result is clamped to zero when the
// warehouse forbids negative stock; this silent clamp mirrors the signal
// driven paths and deliberately differs from ApplyAdjustment's hard reject.
func (s *Service) ApplyPutaway(ctx context.Context, input TransferInput) error {
	if !input.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if input.TargetLocationID == nil {
		return errors.New("inventory: putaway requires a target location")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		policy, err := tx.WarehousePolicy(ctx, input.CompanyID, input.WarehouseID)
		if err != nil {
			return err
		}
		if input.SourceLocationID != nil {
			if err := s.applyDeltaClamped(ctx, tx, input, input.SourceLocationID, input.Quantity.Neg(), policy); err != nil {
				return err
			}
		}
		if err := s.applyDeltaClamped(ctx, tx, input, input.TargetLocationID, input.Quantity, policy); err != nil {
			return err
		}
		reason := input.Reason
		if reason == "" {
			reason = "Putaway from staging to storage"
		}
		_, err = tx.InsertMovement(ctx, Movement{
			CompanyID:      input.CompanyID,
			WarehouseID:    input.WarehouseID,
			ProductID:      input.ProductID,
			LocationFromID: input.SourceLocationID,
			LocationToID:   input.TargetLocationID,
			Batch:          input.Batch,
			ExpiryDate:     input.ExpiryDate,
			Type:           MovementInbound,
			Quantity:       input.Quantity,
			Reference:      input.Reference,
			Reason:         reason,
			CreatedBy:      input.ActorID,
		})
		return err
	})
}

// PickInput describes the ledger side effects of a completed picking task.
type PickInput struct {
	CompanyID             int64
	WarehouseID           int64
	ProductID             int64
	SourceLocationID      *int64
	DestinationLocationID *int64
	Quantity              decimal.Decimal
	Reference             string
	ActorID               int64
}

// ApplyPick decrements the source row (clamped per warehouse policy),
// releases the matching reservation, increments the destination row when one
// is given and appends one outbound movement.
func (s *Service) ApplyPick(ctx context.Context, input PickInput) error {
	if !input.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if input.SourceLocationID == nil {
		return errors.New("inventory: pick requires a source location")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		policy, err := tx.WarehousePolicy(ctx, input.CompanyID, input.WarehouseID)
		if err != nil {
			return err
		}
		candidates, err := tx.ListCandidatesForUpdate(ctx, CandidateFilter{
			CompanyID:   input.CompanyID,
			WarehouseID: input.WarehouseID,
			ProductID:   input.ProductID,
			LocationID:  input.SourceLocationID,
		})
		if err != nil {
			return err
		}
		if len(candidates) > 0 {
			item := candidates[0]
			newQty := item.Quantity.Sub(input.Quantity)
			if newQty.IsNegative() && !policy.AllowNegativeStock {
				newQty = decimal.Zero
			}
			newReserved := item.ReservedQuantity
			if newReserved.IsPositive() {
				newReserved = newReserved.Sub(decimal.Min(input.Quantity, newReserved))
			}
			if err := tx.UpdateItemQuantities(ctx, item.ID, newQty, newReserved); err != nil {
				return err
			}
		}
		if input.DestinationLocationID != nil {
			dest, err := s.getOrCreateItem(ctx, tx, ItemKey{
				CompanyID:   input.CompanyID,
				WarehouseID: input.WarehouseID,
				ProductID:   input.ProductID,
				LocationID:  input.DestinationLocationID,
			})
			if err != nil {
				return err
			}
			if err := tx.UpdateItemQuantities(ctx, dest.ID, dest.Quantity.Add(input.Quantity), dest.ReservedQuantity); err != nil {
				return err
			}
		}
		_, err = tx.InsertMovement(ctx, Movement{
			CompanyID:      input.CompanyID,
			WarehouseID:    input.WarehouseID,
			ProductID:      input.ProductID,
			LocationFromID: input.SourceLocationID,
			LocationToID:   input.DestinationLocationID,
			Type:           MovementOutbound,
			Quantity:       input.Quantity,
			Reference:      input.Reference,
			Reason:         "Picked for outbound order",
			CreatedBy:      input.ActorID,
		})
		return err
	})
}

// ApplyMove relocates stock between two locations with a move movement.
// Available stock at the source is re-validated inside the transaction;
// internal moves do not pre-reserve.
func (s *Service) ApplyMove(ctx context.Context, input TransferInput) error {
	if !input.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if input.SourceLocationID == nil || input.TargetLocationID == nil {
		return errors.New("inventory: move requires source and target locations")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		policy, err := tx.WarehousePolicy(ctx, input.CompanyID, input.WarehouseID)
		if err != nil {
			return err
		}
		candidates, err := tx.ListCandidatesForUpdate(ctx, CandidateFilter{
			CompanyID:   input.CompanyID,
			WarehouseID: input.WarehouseID,
			ProductID:   input.ProductID,
			LocationID:  input.SourceLocationID,
		})
		if err != nil {
			return err
		}
		available := decimal.Zero
		for _, item := range candidates {
			available = available.Add(item.Quantity).Sub(item.ReservedQuantity)
		}
		if available.LessThan(input.Quantity) {
			return ErrInsufficientStock
		}
		if err := s.applyDeltaClamped(ctx, tx, input, input.SourceLocationID, input.Quantity.Neg(), policy); err != nil {
			return err
		}
		if err := s.applyDeltaClamped(ctx, tx, input, input.TargetLocationID, input.Quantity, policy); err != nil {
			return err
		}
		reason := input.Reason
		if reason == "" {
			reason = "Internal move"
		}
		_, err = tx.InsertMovement(ctx, Movement{
			CompanyID:      input.CompanyID,
			WarehouseID:    input.WarehouseID,
			ProductID:      input.ProductID,
			LocationFromID: input.SourceLocationID,
			LocationToID:   input.TargetLocationID,
			Batch:          input.Batch,
			ExpiryDate:     input.ExpiryDate,
			Type:           MovementMove,
			Quantity:       input.Quantity,
			Reference:      input.Reference,
			Reason:         reason,
			CreatedBy:      input.ActorID,
		})
		return err
	})
}

// ListMovements lists movement records for a company and warehouse.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.CompanyID == 0 || filter.WarehouseID == 0 {
		return nil, errors.New("inventory: company and warehouse required")
	}
	return s.repo.ListMovements(ctx, filter)
}

// SummariseByProduct aggregates stock per product; productID 0 means all.
func (s *Service) SummariseByProduct(ctx context.Context, companyID, warehouseID, productID int64) ([]ProductSummary, error) {
	if companyID == 0 || warehouseID == 0 {
		return nil, errors.New("inventory: company and warehouse required")
	}
	return s.repo.SummariseByProduct(ctx, companyID, warehouseID, productID)
}

// ListByLocation lists per-row stock, optionally narrowed to one location.
func (s *Service) ListByLocation(ctx context.Context, companyID, warehouseID int64, locationID *int64) ([]LocationStock, error) {
	if companyID == 0 || warehouseID == 0 {
		return nil, errors.New("inventory: company and warehouse required")
	}
	return s.repo.ListByLocation(ctx, companyID, warehouseID, locationID)
}

func (s *Service) getOrCreateItem(ctx context.Context, tx TxRepository, key ItemKey) (Item, error) {
	item, err := tx.GetItemForUpdate(ctx, key)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, ErrItemNotFound) {
		return Item{}, err
	}
	return tx.CreateItem(ctx, key)
}

// applyDeltaClamped adds delta to the ledger row at the given location,
// clamping a negative result to zero when the warehouse forbids negative
// stock. The clamp loses the shortfall; see the module documentation.
func (s *Service) applyDeltaClamped(ctx context.Context, tx TxRepository, input TransferInput, locationID *int64, delta decimal.Decimal, policy WarehousePolicy) error {
	item, err := s.getOrCreateItem(ctx, tx, ItemKey{
		CompanyID:   input.CompanyID,
		WarehouseID: input.WarehouseID,
		ProductID:   input.ProductID,
		LocationID:  locationID,
		Batch:       input.Batch,
		ExpiryDate:  input.ExpiryDate,
	})
	if err != nil {
		return err
	}
	newQty := item.Quantity.Add(delta)
	if newQty.IsNegative() && !policy.AllowNegativeStock {
		newQty = decimal.Zero
	}
	return tx.UpdateItemQuantities(ctx, item.ID, newQty, item.ReservedQuantity)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}

func adjustmentReasonText(reason AdjustmentReason, description string) string {
	switch {
	case description != "" && reason != "":
		return fmt.Sprintf("%s: %s", reason, description)
	case description != "":
		return description
	case reason != "":
		return string(reason)
	default:
		return "Stock adjustment"
	}
}
