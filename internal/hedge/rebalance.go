package hedge

import "github.com/shopspring/decimal"

// rebalanceCollateral is the collateral a rebalance steers toward: the
// buffered opening collateral, capped so leverage never lands under the
// bottom of the band.
func rebalanceCollateral(size, ref decimal.Decimal, lp LeverageParams) decimal.Decimal {
	required := requiredCollateral(size, ref, lp)
	if lower := lp.TargetLeverage.Sub(lp.LeverageBuffer); lower.IsPositive() {
		if bound := size.Mul(ref).Div(lower); required.GreaterThan(bound) {
			required = bound
		}
	}
	return required
}

// planLeverage returns a collateral-only order that brings the position's
// leverage back inside [target-buffer, target+buffer]. Withdrawals never take
// collateral below what the current size needs at ref plus any unrealized
// loss.
func planLeverage(pos HedgePosition, ref decimal.Decimal, lp LeverageParams) (plan, bool) {
	if pos.Direction == DirectionFlat {
		return plan{reason: "flat position"}, false
	}
	leg := pos.Leg(pos.Direction)
	required := rebalanceCollateral(leg.Size, ref, lp)
	upper := lp.TargetLeverage.Add(lp.LeverageBuffer)
	lower := lp.TargetLeverage.Sub(lp.LeverageBuffer)
	lev, ok := Leverage(pos, ref)

	switch {
	case !ok || lev.GreaterThan(upper):
		add := required.Sub(leg.Collateral)
		if !add.IsPositive() {
			return plan{reason: "leverage within band"}, false
		}
		return plan{
			kind:       KindIncrease,
			direction:  pos.Direction,
			size:       decimal.Zero,
			collateral: add,
			reason:     "leverage above band",
		}, true
	case lev.LessThan(lower):
		floor := required
		if leg.UnrealizedPnl.IsNegative() {
			floor = floor.Sub(leg.UnrealizedPnl)
		}
		withdraw := leg.Collateral.Sub(floor)
		if !withdraw.IsPositive() {
			return plan{reason: "withdrawal would breach safety floor"}, false
		}
		return plan{
			kind:       KindDecrease,
			direction:  pos.Direction,
			size:       decimal.Zero,
			collateral: withdraw,
			reason:     "leverage below band",
		}, true
	}
	return plan{reason: "leverage within band"}, false
}
