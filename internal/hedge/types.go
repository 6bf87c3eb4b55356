package hedge

import (
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateIdle            State = "IDLE"
	StatePendingIncrease State = "PENDING_INCREASE"
	StatePendingDecrease State = "PENDING_DECREASE"
)

type Direction string

const (
	DirectionFlat  Direction = "FLAT"
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	}
	return DirectionFlat
}

func directionOf(signed decimal.Decimal) Direction {
	switch signed.Sign() {
	case 1:
		return DirectionLong
	case -1:
		return DirectionShort
	}
	return DirectionFlat
}

type OrderKind string

const (
	KindIncrease OrderKind = "INCREASE"
	KindDecrease OrderKind = "DECREASE"
)

type PriceSide string

const (
	SideBuy       PriceSide = "BUY"
	SideSell      PriceSide = "SELL"
	SideReference PriceSide = "REFERENCE"
)

type OrderKey string

// Leg is one side of a venue position. A venue that keeps separate long and
// short books reports two legs; a one-way venue leaves one of them zero.
type Leg struct {
	Size          decimal.Decimal
	Collateral    decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

func (l Leg) Open() bool {
	return l.Size.IsPositive()
}

// effectiveCollateral discounts unrealized losses but never credits gains.
func (l Leg) effectiveCollateral() decimal.Decimal {
	if l.UnrealizedPnl.IsNegative() {
		return l.Collateral.Add(l.UnrealizedPnl)
	}
	return l.Collateral
}

type HedgePosition struct {
	Direction     Direction
	Size          decimal.Decimal
	Collateral    decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal

	Long  Leg
	Short Leg
}

// NewHedgePosition derives the single-direction view from the raw legs. When
// both legs are open the larger one sets Direction and the headline fields.
func NewHedgePosition(long, short Leg) HedgePosition {
	pos := HedgePosition{Direction: DirectionFlat, Long: long, Short: short}
	var primary Leg
	switch {
	case long.Open() && (!short.Open() || long.Size.GreaterThanOrEqual(short.Size)):
		pos.Direction = DirectionLong
		primary = long
	case short.Open():
		pos.Direction = DirectionShort
		primary = short
	default:
		return pos
	}
	pos.Size = primary.Size
	pos.Collateral = primary.Collateral
	pos.EntryPrice = primary.EntryPrice
	pos.UnrealizedPnl = primary.UnrealizedPnl
	return pos
}

func (p HedgePosition) DualLeg() bool {
	return p.Long.Open() && p.Short.Open()
}

func (p HedgePosition) IsFlat() bool {
	return !p.Long.Open() && !p.Short.Open()
}

// Signed is the net exposure: long size minus short size.
func (p HedgePosition) Signed() decimal.Decimal {
	net := decimal.Zero
	if p.Long.Open() {
		net = net.Add(p.Long.Size)
	}
	if p.Short.Open() {
		net = net.Sub(p.Short.Size)
	}
	return net
}

func (p HedgePosition) Leg(dir Direction) Leg {
	switch dir {
	case DirectionLong:
		return p.Long
	case DirectionShort:
		return p.Short
	}
	return Leg{}
}

// OrderRequest is what the controller hands to a venue gateway. ClientID is
// an idempotency token; gateways that support client order ids must reuse it.
type OrderRequest struct {
	ClientID        string
	Kind            OrderKind
	Direction       Direction
	SizeDelta       decimal.Decimal
	CollateralDelta decimal.Decimal
	AcceptablePrice decimal.Decimal
}

func (r OrderRequest) CollateralOnly() bool {
	return r.SizeDelta.IsZero()
}

type PendingOrder struct {
	Key             OrderKey
	ClientID        string
	Kind            OrderKind
	Direction       Direction
	SizeDelta       decimal.Decimal
	CollateralDelta decimal.Decimal
	AcceptablePrice decimal.Decimal
	SubmittedAt     time.Time
}

func (p PendingOrder) Request() OrderRequest {
	return OrderRequest{
		ClientID:        p.ClientID,
		Kind:            p.Kind,
		Direction:       p.Direction,
		SizeDelta:       p.SizeDelta,
		CollateralDelta: p.CollateralDelta,
		AcceptablePrice: p.AcceptablePrice,
	}
}

type Action string

const (
	ActionNoOp      Action = "NOOP"
	ActionThrottled Action = "THROTTLED"
	ActionSubmitted Action = "SUBMITTED"
)

// Result describes what a hedge or rebalance step did. Order is set only when
// Action is ActionSubmitted.
type Result struct {
	Action   Action
	Reason   string
	Order    *PendingOrder
	Target   decimal.Decimal
	Position HedgePosition
}

// Snapshot is the persisted controller state.
type Snapshot struct {
	State           State
	Pending         *PendingOrder
	LastInteraction time.Time
	LastSubmittedAt time.Time
}

// Transition is one entry of the controller's audit trail.
type Transition struct {
	Seq    uint64
	At     time.Time
	From   State
	To     State
	Event  string
	Key    OrderKey
	Detail string
}
