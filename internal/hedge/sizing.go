package hedge

import "github.com/shopspring/decimal"

// sizePrecision bounds the decimals of a size derived from available capital.
const sizePrecision = 8

var one = decimal.NewFromInt(1)

// plan is an order the controller intends to submit. When ok is false from a
// planner, only reason is meaningful.
type plan struct {
	kind       OrderKind
	direction  Direction
	size       decimal.Decimal
	collateral decimal.Decimal
	reason     string
}

// side is the oracle side the order executes on: long increases and short
// decreases buy, the other two sell.
func (pl plan) side() PriceSide {
	if (pl.kind == KindIncrease) == (pl.direction == DirectionLong) {
		return SideBuy
	}
	return SideSell
}

func (pl plan) needsCapital() bool {
	return pl.kind == KindIncrease && pl.collateral.IsPositive()
}

func requiredCollateral(size, price decimal.Decimal, lp LeverageParams) decimal.Decimal {
	return size.Mul(price).Div(lp.TargetLeverage).Mul(one.Add(lp.CollateralBuffer))
}

func acceptablePrice(price decimal.Decimal, side PriceSide, slippage decimal.Decimal) decimal.Decimal {
	switch side {
	case SideBuy:
		return price.Mul(one.Add(slippage))
	case SideSell:
		return price.Mul(one.Sub(slippage))
	}
	return price
}

// planDirectional sizes the next step from a single-leg position toward
// target. A sign flip is always a full decrease; the opposite increase
// happens on a later call once the position reads flat.
func planDirectional(pos HedgePosition, target, ref decimal.Decimal, p Params) (plan, bool) {
	current := pos.Signed()
	diff := target.Sub(current)
	if diff.Abs().LessThanOrEqual(p.Hedger.MinSizeDelta) {
		return plan{reason: "position at target"}, false
	}
	curDir := directionOf(current)
	tgtDir := directionOf(target)
	lp := p.Leverage

	switch {
	case curDir == DirectionFlat:
		size := target.Abs()
		return plan{
			kind:       KindIncrease,
			direction:  tgtDir,
			size:       size,
			collateral: requiredCollateral(size, ref, lp),
			reason:     "open",
		}, true
	case tgtDir != curDir:
		leg := pos.Leg(curDir)
		return plan{
			kind:       KindDecrease,
			direction:  curDir,
			size:       leg.Size,
			collateral: leg.Collateral,
			reason:     "close before flip",
		}, true
	case target.Abs().GreaterThan(current.Abs()):
		leg := pos.Leg(curDir)
		need := requiredCollateral(target.Abs(), ref, lp).Sub(leg.effectiveCollateral())
		if need.IsNegative() {
			need = decimal.Zero
		}
		return plan{
			kind:       KindIncrease,
			direction:  curDir,
			size:       target.Abs().Sub(leg.Size),
			collateral: need,
			reason:     "grow",
		}, true
	default:
		leg := pos.Leg(curDir)
		size := leg.Size.Sub(target.Abs())
		withdraw := leg.Collateral.Mul(size).Div(leg.Size)
		headroom := leg.effectiveCollateral().Sub(requiredCollateral(target.Abs(), ref, lp))
		if headroom.LessThan(withdraw) {
			withdraw = headroom
		}
		if withdraw.IsNegative() {
			withdraw = decimal.Zero
		}
		return plan{
			kind:       KindDecrease,
			direction:  curDir,
			size:       size,
			collateral: withdraw,
			reason:     "shrink",
		}, true
	}
}

// planHeal closes the leg opposing the target's direction. With a zero
// target the smaller leg goes first, the short leg on a tie.
func planHeal(pos HedgePosition, target decimal.Decimal) plan {
	var closing Direction
	switch directionOf(target) {
	case DirectionLong:
		closing = DirectionShort
	case DirectionShort:
		closing = DirectionLong
	default:
		closing = DirectionShort
		if pos.Long.Size.LessThan(pos.Short.Size) {
			closing = DirectionLong
		}
	}
	leg := pos.Leg(closing)
	return plan{
		kind:       KindDecrease,
		direction:  closing,
		size:       leg.Size,
		collateral: leg.Collateral,
		reason:     "heal dual-leg position",
	}
}

// fitToCapital shrinks an increase to what granted capital can back. The
// full grant is posted, so realized leverage stays at or below target.
func fitToCapital(pl plan, pos HedgePosition, granted, ref decimal.Decimal, lp LeverageParams) (plan, bool) {
	if !granted.IsPositive() {
		return pl, false
	}
	if pl.size.IsZero() {
		pl.collateral = granted
		return pl, true
	}
	base := pos.Leg(pl.direction)
	have := base.effectiveCollateral().Add(granted)
	perUnit := requiredCollateral(one, ref, lp)
	if !have.IsPositive() || !perUnit.IsPositive() {
		return pl, false
	}
	delta := have.Div(perUnit).Truncate(sizePrecision).Sub(base.Size)
	if !delta.IsPositive() {
		return pl, false
	}
	if delta.LessThan(pl.size) {
		pl.size = delta
	}
	pl.collateral = granted
	return pl, true
}
