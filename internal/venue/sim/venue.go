package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"delta-hedger/internal/hedge"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrUnknownOrder = errors.New("unknown order")
	ErrInvalidOrder = errors.New("invalid order")
)

type Options struct {
	Price decimal.Decimal
	// Spread moves the BUY and SELL oracle prices away from the mark.
	Spread decimal.Decimal
	// Slippage moves the execution price against the trader.
	Slippage decimal.Decimal
}

type order struct {
	key    hedge.OrderKey
	req    hedge.OrderRequest
	escrow decimal.Decimal
}

// Venue is an in-memory leveraged-position venue. Orders sit in a FIFO queue
// until a keeper executes them. It keeps independent long and short books so
// dual-leg positions can occur.
type Venue struct {
	mu       sync.Mutex
	long     hedge.Leg
	short    hedge.Leg
	price    decimal.Decimal
	spread   decimal.Decimal
	slippage decimal.Decimal
	queue    []hedge.OrderKey
	orders   map[hedge.OrderKey]*order
	byClient map[string]hedge.OrderKey
	residual decimal.Decimal
	callback hedge.ExecutionCallback
	log      *zap.Logger
}

var (
	_ hedge.VenueGateway = (*Venue)(nil)
	_ hedge.SpotOracle   = (*Venue)(nil)
)

var one = decimal.NewFromInt(1)

func New(opts Options, log *zap.Logger) *Venue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Venue{
		price:    opts.Price,
		spread:   opts.Spread,
		slippage: opts.Slippage,
		orders:   make(map[hedge.OrderKey]*order),
		byClient: make(map[string]hedge.OrderKey),
		log:      log,
	}
}

// SetCallback wires the executor callback. It must be set before the first
// order executes.
func (v *Venue) SetCallback(cb hedge.ExecutionCallback) {
	v.mu.Lock()
	v.callback = cb
	v.mu.Unlock()
}

func (v *Venue) SetPrice(price decimal.Decimal) {
	v.mu.Lock()
	v.price = price
	v.mu.Unlock()
}

func (v *Venue) SetSlippage(slippage decimal.Decimal) {
	v.mu.Lock()
	v.slippage = slippage
	v.mu.Unlock()
}

// SetLegs overwrites both books, standing in for out-of-band venue activity.
func (v *Venue) SetLegs(long, short hedge.Leg) {
	v.mu.Lock()
	v.long = long
	v.short = short
	v.mu.Unlock()
}

func (v *Venue) Queued() []hedge.OrderKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]hedge.OrderKey(nil), v.queue...)
}

func (v *Venue) Price(ctx context.Context, side hedge.PriceSide) (decimal.Decimal, error) {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	switch side {
	case hedge.SideBuy:
		return v.price.Mul(one.Add(v.spread)), nil
	case hedge.SideSell:
		return v.price.Mul(one.Sub(v.spread)), nil
	}
	return v.price, nil
}

func (v *Venue) SubmitIncrease(ctx context.Context, req hedge.OrderRequest) (hedge.OrderKey, error) {
	return v.accept(ctx, hedge.KindIncrease, req)
}

func (v *Venue) SubmitDecrease(ctx context.Context, req hedge.OrderRequest) (hedge.OrderKey, error) {
	return v.accept(ctx, hedge.KindDecrease, req)
}

func (v *Venue) accept(ctx context.Context, kind hedge.OrderKind, req hedge.OrderRequest) (hedge.OrderKey, error) {
	_ = ctx
	if req.Direction != hedge.DirectionLong && req.Direction != hedge.DirectionShort {
		return "", fmt.Errorf("direction %q: %w", req.Direction, ErrInvalidOrder)
	}
	if req.SizeDelta.IsNegative() || req.CollateralDelta.IsNegative() {
		return "", fmt.Errorf("negative size or collateral: %w", ErrInvalidOrder)
	}
	if req.SizeDelta.IsZero() && req.CollateralDelta.IsZero() {
		return "", fmt.Errorf("empty order: %w", ErrInvalidOrder)
	}
	req.Kind = kind

	v.mu.Lock()
	defer v.mu.Unlock()
	if req.ClientID != "" {
		if key, ok := v.byClient[req.ClientID]; ok {
			return key, nil
		}
	}
	o := &order{key: hedge.OrderKey(uuid.NewString()), req: req}
	if kind == hedge.KindIncrease {
		o.escrow = req.CollateralDelta
	}
	v.orders[o.key] = o
	v.queue = append(v.queue, o.key)
	if req.ClientID != "" {
		v.byClient[req.ClientID] = o.key
	}
	v.log.Debug("sim order queued",
		zap.String("order_key", string(o.key)),
		zap.String("kind", string(kind)),
		zap.String("direction", string(req.Direction)),
		zap.Stringer("size_delta", req.SizeDelta),
		zap.Stringer("collateral_delta", req.CollateralDelta),
	)
	return o.key, nil
}

func (v *Venue) RequestCancel(ctx context.Context, key hedge.OrderKey) error {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[key]
	if !ok {
		return fmt.Errorf("cancel %s: %w", key, ErrUnknownOrder)
	}
	v.remove(key)
	v.residual = v.residual.Add(o.escrow)
	return nil
}

func (v *Venue) Position(ctx context.Context) (hedge.HedgePosition, error) {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	long := v.long
	short := v.short
	if long.Open() {
		long.UnrealizedPnl = v.price.Sub(long.EntryPrice).Mul(long.Size)
	}
	if short.Open() {
		short.UnrealizedPnl = short.EntryPrice.Sub(v.price).Mul(short.Size)
	}
	return hedge.NewHedgePosition(long, short), nil
}

func (v *Venue) SweepResidual(ctx context.Context) (decimal.Decimal, error) {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.residual
	v.residual = decimal.Zero
	return out, nil
}

// ExecuteNext executes the oldest queued order. It reports false when the
// queue is empty.
func (v *Venue) ExecuteNext(ctx context.Context) (hedge.OrderKey, bool, error) {
	v.mu.Lock()
	if len(v.queue) == 0 {
		v.mu.Unlock()
		return "", false, nil
	}
	key := v.queue[0]
	v.mu.Unlock()
	return key, true, v.Execute(ctx, key, true)
}

func (v *Venue) ExecuteAll(ctx context.Context) (int, error) {
	n := 0
	for {
		_, ok, err := v.ExecuteNext(ctx)
		if err != nil || !ok {
			return n, err
		}
		n++
	}
}

// Execute settles key. With ok false, or when the execution price breaches
// the order's acceptable price, the order fails and its escrow is refunded.
// The callback runs after the venue lock is released.
func (v *Venue) Execute(ctx context.Context, key hedge.OrderKey, ok bool) error {
	v.mu.Lock()
	o, found := v.orders[key]
	if !found {
		v.mu.Unlock()
		return fmt.Errorf("execute %s: %w", key, ErrUnknownOrder)
	}
	v.remove(key)
	success := ok
	if success {
		if err := v.settle(o); err != nil {
			v.log.Info("sim order failed", zap.String("order_key", string(key)), zap.Error(err))
			success = false
		}
	}
	if !success {
		v.residual = v.residual.Add(o.escrow)
	}
	cb := v.callback
	v.mu.Unlock()

	if cb != nil {
		cb(ctx, key, success)
	}
	return nil
}

func (v *Venue) remove(key hedge.OrderKey) {
	delete(v.orders, key)
	for i, k := range v.queue {
		if k == key {
			v.queue = append(v.queue[:i], v.queue[i+1:]...)
			break
		}
	}
}

func (v *Venue) leg(dir hedge.Direction) *hedge.Leg {
	if dir == hedge.DirectionShort {
		return &v.short
	}
	return &v.long
}

// executionPrice applies slippage against the trader: buys fill higher,
// sells lower.
func (v *Venue) executionPrice(req hedge.OrderRequest) (decimal.Decimal, bool) {
	buy := (req.Kind == hedge.KindIncrease) == (req.Direction == hedge.DirectionLong)
	if buy {
		px := v.price.Mul(one.Add(v.slippage))
		return px, req.AcceptablePrice.IsZero() || px.LessThanOrEqual(req.AcceptablePrice)
	}
	px := v.price.Mul(one.Sub(v.slippage))
	return px, req.AcceptablePrice.IsZero() || px.GreaterThanOrEqual(req.AcceptablePrice)
}

func (v *Venue) settle(o *order) error {
	req := o.req
	leg := v.leg(req.Direction)
	if req.SizeDelta.IsZero() {
		return v.settleCollateral(leg, req)
	}
	px, within := v.executionPrice(req)
	if !within {
		return fmt.Errorf("execution price %s outside acceptable %s", px, req.AcceptablePrice)
	}
	if req.Kind == hedge.KindIncrease {
		notional := leg.EntryPrice.Mul(leg.Size).Add(px.Mul(req.SizeDelta))
		leg.Size = leg.Size.Add(req.SizeDelta)
		leg.EntryPrice = notional.Div(leg.Size)
		leg.Collateral = leg.Collateral.Add(o.escrow)
		return nil
	}

	if req.SizeDelta.GreaterThan(leg.Size) {
		return fmt.Errorf("decrease %s exceeds %s size %s", req.SizeDelta, req.Direction, leg.Size)
	}
	realized := px.Sub(leg.EntryPrice).Mul(req.SizeDelta)
	if req.Direction == hedge.DirectionShort {
		realized = realized.Neg()
	}
	leg.Collateral = leg.Collateral.Add(realized)
	leg.Size = leg.Size.Sub(req.SizeDelta)
	withdraw := decimal.Min(req.CollateralDelta, decimal.Max(leg.Collateral, decimal.Zero))
	leg.Collateral = leg.Collateral.Sub(withdraw)
	v.residual = v.residual.Add(withdraw)
	if !leg.Size.IsPositive() {
		if leg.Collateral.IsPositive() {
			v.residual = v.residual.Add(leg.Collateral)
		}
		*leg = hedge.Leg{}
	}
	return nil
}

func (v *Venue) settleCollateral(leg *hedge.Leg, req hedge.OrderRequest) error {
	if !leg.Open() {
		return fmt.Errorf("no open %s position for collateral change", req.Direction)
	}
	if req.Kind == hedge.KindIncrease {
		leg.Collateral = leg.Collateral.Add(req.CollateralDelta)
		return nil
	}
	if req.CollateralDelta.GreaterThan(leg.Collateral) {
		return fmt.Errorf("withdrawal %s exceeds collateral %s", req.CollateralDelta, leg.Collateral)
	}
	leg.Collateral = leg.Collateral.Sub(req.CollateralDelta)
	v.residual = v.residual.Add(req.CollateralDelta)
	return nil
}
