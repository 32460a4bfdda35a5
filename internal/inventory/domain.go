package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Direction describes how a movement crosses the warehouse boundary.
type Direction string

const (
	// DirectionIn has only a destination.
	DirectionIn Direction = "IN"
	// DirectionOut has only a source.
	DirectionOut Direction = "OUT"
	// DirectionTransfer has both.
	DirectionTransfer Direction = "TRANSFER"
)

// BalanceMode selects how on-hand balances are cached.
type BalanceMode string

const (
	// BalanceEager updates stock_balances in the movement transaction.
	BalanceEager BalanceMode = "eager"
	// BalanceLazy never writes the cache; balances are ledger sums.
	BalanceLazy BalanceMode = "lazy"
)

// Movement is an immutable ledger entry. Qty is always positive; the
// populated location fields encode direction.
type Movement struct {
	ID                    int64
	ItemID                int64
	UOMID                 *int64
	SourceLocationID      *int64
	DestinationLocationID *int64
	Qty                   decimal.Decimal
	ReferenceType         shared.DocumentKind
	ReferenceID           int64
	ReferenceLineID       *int64
	CreatedBy             int64
	MovementAt            time.Time
	Meta                  map[string]any
}

// Direction classifies the movement.
func (m Movement) Direction() Direction {
	switch {
	case m.SourceLocationID != nil && m.DestinationLocationID != nil:
		return DirectionTransfer
	case m.SourceLocationID != nil:
		return DirectionOut
	default:
		return DirectionIn
	}
}

// MovementInput describes a movement to append.
type MovementInput struct {
	ItemID                int64               `json:"item_id" validate:"required"`
	UOMID                 *int64              `json:"uom_id"`
	SourceLocationID      *int64              `json:"source_location_id"`
	DestinationLocationID *int64              `json:"destination_location_id"`
	Qty                   decimal.Decimal     `json:"qty" validate:"gt=0"`
	ReferenceType         shared.DocumentKind `json:"reference_type" validate:"required"`
	ReferenceID           int64               `json:"reference_id" validate:"required"`
	ReferenceLineID       *int64              `json:"reference_line_id"`
	ActorID               int64               `json:"actor_id" validate:"required"`
	MovementAt            time.Time           `json:"movement_at"`
	Meta                  map[string]any      `json:"meta"`
}

// BalanceKey identifies a cached balance. UOMID zero means no unit.
type BalanceKey struct {
	LocationID int64
	ItemID     int64
	UOMID      int64
}

// Balance is an on-hand quantity for a key.
type Balance struct {
	BalanceKey
	Qty decimal.Decimal
}

// OnHandFilter narrows ledger aggregations. Nil fields match everything.
type OnHandFilter struct {
	LocationID *int64
	ItemID     *int64
	UOMID      *int64
}

// LocationOnHand is the quantity of one item at one location.
type LocationOnHand struct {
	LocationID int64
	Qty        decimal.Decimal
}

// Drift reports a cache row that disagrees with the ledger.
type Drift struct {
	Key    BalanceKey
	Ledger decimal.Decimal
	Cached decimal.Decimal
}

// SerialUnit tracks the location of one serialized item.
type SerialUnit struct {
	ID                 int64
	ItemID             int64
	Serial             string
	GoodsReceiptLineID int64
	LocationID         int64
}

// SerialRegistration records the serials received on a goods receipt line.
type SerialRegistration struct {
	ItemID             int64
	GoodsReceiptLineID int64
	LocationID         int64
	Serials            []string
}

func uomKey(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// KeyFor builds the balance key of a location/item/unit triple.
func KeyFor(locationID, itemID int64, uomID *int64) BalanceKey {
	return BalanceKey{LocationID: locationID, ItemID: itemID, UOMID: uomKey(uomID)}
}
