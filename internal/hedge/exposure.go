package hedge

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type ExposureCalculator struct {
	engine RiskEngine
}

func NewExposureCalculator(engine RiskEngine) *ExposureCalculator {
	return &ExposureCalculator{engine: engine}
}

// CappedTarget returns the risk engine's net delta clamped to the hedge cap.
// It never submits anything and is safe to call while an order is pending.
func (e *ExposureCalculator) CappedTarget(ctx context.Context, p HedgerParams) (decimal.Decimal, error) {
	if e == nil || e.engine == nil {
		return decimal.Zero, errors.New("risk engine not configured")
	}
	delta, err := e.engine.NetDelta(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("net delta: %w", err)
	}
	return CapExposure(delta, p.HedgeCap), nil
}

func CapExposure(delta, hedgeCap decimal.Decimal) decimal.Decimal {
	if !hedgeCap.IsPositive() {
		return decimal.Zero
	}
	if delta.GreaterThan(hedgeCap) {
		return hedgeCap
	}
	if neg := hedgeCap.Neg(); delta.LessThan(neg) {
		return neg
	}
	return delta
}
