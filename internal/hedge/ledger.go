package hedge

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PositionLedger is the read-only view of the venue position.
type PositionLedger struct {
	venue VenueGateway
}

func NewPositionLedger(venue VenueGateway) *PositionLedger {
	return &PositionLedger{venue: venue}
}

func (l *PositionLedger) Snapshot(ctx context.Context) (HedgePosition, error) {
	if l == nil || l.venue == nil {
		return HedgePosition{}, errors.New("venue not configured")
	}
	pos, err := l.venue.Position(ctx)
	if err != nil {
		return HedgePosition{}, fmt.Errorf("venue position: %w", err)
	}
	return pos, nil
}

// Leverage is size * price / collateral of the position's primary leg. The
// second return is false for a flat position or one without collateral.
func Leverage(pos HedgePosition, price decimal.Decimal) (decimal.Decimal, bool) {
	if pos.Direction == DirectionFlat || !pos.Size.IsPositive() {
		return decimal.Zero, false
	}
	if !pos.Collateral.IsPositive() {
		return decimal.Zero, false
	}
	return pos.Size.Mul(price).Div(pos.Collateral), true
}
