package hedge

import (
	"context"

	"github.com/shopspring/decimal"
)

// RiskEngine reports the option book's raw net delta in underlying units.
type RiskEngine interface {
	NetDelta(ctx context.Context) (decimal.Decimal, error)
}

type SpotOracle interface {
	Price(ctx context.Context, side PriceSide) (decimal.Decimal, error)
}

// LiquidityLedger accounts the pooled capital. RequestCapital may grant less
// than asked for, including zero.
type LiquidityLedger interface {
	RequestCapital(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	ReturnCapital(ctx context.Context, amount decimal.Decimal) error
}

// VenueGateway is the capability surface of a leveraged-position venue.
// Submissions return immediately; execution is reported later through an
// ExecutionCallback wired at construction.
type VenueGateway interface {
	SubmitIncrease(ctx context.Context, req OrderRequest) (OrderKey, error)
	SubmitDecrease(ctx context.Context, req OrderRequest) (OrderKey, error)
	RequestCancel(ctx context.Context, key OrderKey) error
	Position(ctx context.Context) (HedgePosition, error)
	// SweepResidual releases collateral the venue refunded to the controller
	// and returns how much was released.
	SweepResidual(ctx context.Context) (decimal.Decimal, error)
}

type ExecutionCallback func(ctx context.Context, key OrderKey, success bool)

type Recorder interface {
	RecordTransition(ctx context.Context, t Transition)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

type Alerter interface {
	Send(ctx context.Context, message string) error
}
