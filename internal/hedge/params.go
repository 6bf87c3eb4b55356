package hedge

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type HedgerParams struct {
	InteractionDelay time.Duration
	HedgeCap         decimal.Decimal
	// MinSizeDelta is the dead band below which a size difference is ignored.
	MinSizeDelta decimal.Decimal
}

type LeverageParams struct {
	TargetLeverage     decimal.Decimal
	LeverageBuffer     decimal.Decimal
	AcceptableSlippage decimal.Decimal
	MinCancelDelay     time.Duration
	// CollateralBuffer inflates posted collateral so realized leverage lands
	// at or below target after fees and slippage.
	CollateralBuffer decimal.Decimal
}

type Params struct {
	Hedger   HedgerParams
	Leverage LeverageParams
}

func (p Params) Validate() error {
	if p.Hedger.InteractionDelay < 0 {
		return fmt.Errorf("interaction_delay must be >= 0: %w", ErrInvalidParams)
	}
	if p.Hedger.HedgeCap.IsNegative() {
		return fmt.Errorf("hedge_cap must be >= 0: %w", ErrInvalidParams)
	}
	if p.Hedger.MinSizeDelta.IsNegative() {
		return fmt.Errorf("min_size_delta must be >= 0: %w", ErrInvalidParams)
	}
	if !p.Leverage.TargetLeverage.IsPositive() {
		return fmt.Errorf("target_leverage must be > 0: %w", ErrInvalidParams)
	}
	if p.Leverage.LeverageBuffer.IsNegative() || p.Leverage.LeverageBuffer.GreaterThanOrEqual(p.Leverage.TargetLeverage) {
		return fmt.Errorf("leverage_buffer must be in [0, target_leverage): %w", ErrInvalidParams)
	}
	if p.Leverage.AcceptableSlippage.IsNegative() || p.Leverage.AcceptableSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("acceptable_slippage must be in [0, 1): %w", ErrInvalidParams)
	}
	if p.Leverage.MinCancelDelay < 0 {
		return fmt.Errorf("min_cancel_delay must be >= 0: %w", ErrInvalidParams)
	}
	if p.Leverage.CollateralBuffer.IsNegative() {
		return fmt.Errorf("collateral_buffer must be >= 0: %w", ErrInvalidParams)
	}
	return nil
}
