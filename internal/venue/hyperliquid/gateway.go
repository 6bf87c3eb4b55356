package hyperliquid

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"delta-hedger/internal/hedge"
	"delta-hedger/internal/hl/exchange"
	"delta-hedger/internal/hl/rest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const marginKeyPrefix = "margin-"

var ErrNotInitialized = errors.New("gateway not initialized")

// Exchange is the signed-action surface of the exchange client.
type Exchange interface {
	PlaceOrder(ctx context.Context, order exchange.OrderWire) (exchange.Response, error)
	CancelByCloid(ctx context.Context, asset int, cloid string) (exchange.Response, error)
	UpdateIsolatedMargin(ctx context.Context, asset int, isBuy bool, amount decimal.Decimal) (exchange.Response, error)
	UpdateLeverage(ctx context.Context, asset, leverage int, isCross bool) (exchange.Response, error)
	USDClassTransfer(ctx context.Context, amount decimal.Decimal, toPerp bool) (exchange.Response, error)
	User() string
}

type Info interface {
	ClearinghouseState(ctx context.Context, user string) (rest.ClearinghouseState, error)
	SpotClearinghouseState(ctx context.Context, user string) (rest.SpotState, error)
	OrderStatus(ctx context.Context, user string, oid any) (rest.OrderStatus, error)
	Asset(ctx context.Context, coin string) (rest.Asset, error)
}

type Options struct {
	Coin string
	// Leverage is the isolated leverage set on the asset at startup. Margin
	// posted with an order beyond notional/Leverage is added after the fill.
	Leverage int
}

type tracked struct {
	cloid string
	req   hedge.OrderRequest
}

// Gateway places the hedge on one perpetual in isolated margin. Orders are
// GTC limits at the acceptable price keyed by client order id; margin-only
// requests map to updateIsolatedMargin and resolve immediately.
type Gateway struct {
	ex   Exchange
	info Info
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	asset    *rest.AssetMeta
	index    int
	pending  map[hedge.OrderKey]tracked
	callback hedge.ExecutionCallback
}

var _ hedge.VenueGateway = (*Gateway)(nil)

func New(ex Exchange, info Info, opts Options, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		ex:      ex,
		info:    info,
		opts:    opts,
		log:     log,
		pending: make(map[hedge.OrderKey]tracked),
	}
}

func (g *Gateway) SetCallback(cb hedge.ExecutionCallback) {
	g.mu.Lock()
	g.callback = cb
	g.mu.Unlock()
}

// Init resolves the asset and pins isolated leverage on it.
func (g *Gateway) Init(ctx context.Context) error {
	asset, err := g.info.Asset(ctx, g.opts.Coin)
	if err != nil {
		return fmt.Errorf("resolve asset: %w", err)
	}
	if g.opts.Leverage > 0 {
		lev := g.opts.Leverage
		if asset.Meta.MaxLeverage > 0 && lev > asset.Meta.MaxLeverage {
			lev = asset.Meta.MaxLeverage
		}
		if _, err := g.ex.UpdateLeverage(ctx, asset.Index, lev, false); err != nil {
			return fmt.Errorf("set leverage: %w", err)
		}
		g.opts.Leverage = lev
	}
	g.mu.Lock()
	meta := asset.Meta
	g.asset = &meta
	g.index = asset.Index
	g.mu.Unlock()
	g.log.Info("hyperliquid gateway ready",
		zap.String("coin", meta.Name),
		zap.Int("asset", asset.Index),
		zap.Int32("sz_decimals", meta.SzDecimals),
		zap.Int("leverage", g.opts.Leverage),
	)
	return nil
}

func (g *Gateway) meta() (int, rest.AssetMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.asset == nil {
		return 0, rest.AssetMeta{}, ErrNotInitialized
	}
	return g.index, *g.asset, nil
}

func (g *Gateway) SubmitIncrease(ctx context.Context, req hedge.OrderRequest) (hedge.OrderKey, error) {
	req.Kind = hedge.KindIncrease
	return g.submit(ctx, req)
}

func (g *Gateway) SubmitDecrease(ctx context.Context, req hedge.OrderRequest) (hedge.OrderKey, error) {
	req.Kind = hedge.KindDecrease
	return g.submit(ctx, req)
}

func (g *Gateway) submit(ctx context.Context, req hedge.OrderRequest) (hedge.OrderKey, error) {
	if req.Direction != hedge.DirectionLong && req.Direction != hedge.DirectionShort {
		return "", fmt.Errorf("direction %q not tradable", req.Direction)
	}
	index, meta, err := g.meta()
	if err != nil {
		return "", err
	}
	cloid := cloidFor(req.ClientID)
	if req.CollateralOnly() {
		return g.submitMargin(ctx, index, cloid, req)
	}

	isBuy := buys(req)
	order, err := exchange.LimitOrderWire(index, isBuy, req.SizeDelta, req.AcceptablePrice, meta.SzDecimals, req.Kind == hedge.KindDecrease, exchange.TifGtc, cloid)
	if err != nil {
		return "", err
	}
	key := hedge.OrderKey(cloid)
	g.mu.Lock()
	g.pending[key] = tracked{cloid: cloid, req: req}
	g.mu.Unlock()

	resp, err := g.ex.PlaceOrder(ctx, order)
	if err != nil {
		g.forget(key)
		return "", err
	}
	g.log.Info("order placed",
		zap.String("cloid", cloid),
		zap.String("oid", resp.OrderID()),
		zap.String("kind", string(req.Kind)),
		zap.String("direction", string(req.Direction)),
		zap.String("size", order.Size),
		zap.String("limit_px", order.Price),
	)
	if statuses, _ := resp.Statuses(); len(statuses) > 0 && statuses[0].Filled != nil {
		go g.resolve(context.WithoutCancel(ctx), key, true)
	}
	return key, nil
}

func (g *Gateway) submitMargin(ctx context.Context, index int, cloid string, req hedge.OrderRequest) (hedge.OrderKey, error) {
	amount := req.CollateralDelta
	if req.Kind == hedge.KindDecrease {
		amount = amount.Neg()
	}
	if _, err := g.ex.UpdateIsolatedMargin(ctx, index, req.Direction == hedge.DirectionLong, amount); err != nil {
		return "", err
	}
	key := hedge.OrderKey(marginKeyPrefix + cloid)
	g.log.Info("isolated margin updated",
		zap.String("order_key", string(key)),
		zap.String("direction", string(req.Direction)),
		zap.Stringer("amount", amount),
	)
	g.mu.Lock()
	g.pending[key] = tracked{cloid: cloid, req: req}
	g.mu.Unlock()
	// Margin updates settle synchronously; the controller learns of it once
	// it has recorded the submission.
	go g.resolve(context.WithoutCancel(ctx), key, true)
	return key, nil
}

func (g *Gateway) RequestCancel(ctx context.Context, key hedge.OrderKey) error {
	g.mu.Lock()
	t, ok := g.pending[key]
	g.mu.Unlock()
	if !ok || strings.HasPrefix(string(key), marginKeyPrefix) {
		return nil
	}
	index, _, err := g.meta()
	if err != nil {
		return err
	}
	if _, err := g.ex.CancelByCloid(ctx, index, t.cloid); err != nil {
		return fmt.Errorf("cancel %s: %w", t.cloid, err)
	}
	g.forget(key)
	return nil
}

// Position maps the isolated position on the coin to a single leg. The
// venue nets by asset, so a dual-leg position never appears here.
func (g *Gateway) Position(ctx context.Context) (hedge.HedgePosition, error) {
	state, err := g.info.ClearinghouseState(ctx, g.ex.User())
	if err != nil {
		return hedge.HedgePosition{}, err
	}
	pos, ok := state.Position(g.opts.Coin)
	if !ok {
		return hedge.NewHedgePosition(hedge.Leg{}, hedge.Leg{}), nil
	}
	leg := hedge.Leg{
		Size: pos.Szi.Abs(),
		// marginUsed already includes unrealized pnl.
		Collateral:    pos.MarginUsed.Sub(pos.UnrealizedPnl),
		UnrealizedPnl: pos.UnrealizedPnl,
	}
	if pos.EntryPx.Valid {
		leg.EntryPrice = pos.EntryPx.Decimal
	}
	if pos.Szi.IsNegative() {
		return hedge.NewHedgePosition(hedge.Leg{}, leg), nil
	}
	return hedge.NewHedgePosition(leg, hedge.Leg{}), nil
}

// SweepResidual reports the perp account's withdrawable balance. The ledger
// moves it back to spot when the controller returns it.
func (g *Gateway) SweepResidual(ctx context.Context) (decimal.Decimal, error) {
	state, err := g.info.ClearinghouseState(ctx, g.ex.User())
	if err != nil {
		return decimal.Zero, err
	}
	if !state.Withdrawable.IsPositive() {
		return decimal.Zero, nil
	}
	return state.Withdrawable, nil
}

// Reconcile queries every tracked order and resolves those that reached a
// terminal state while updates were not being received.
func (g *Gateway) Reconcile(ctx context.Context) {
	g.mu.Lock()
	keys := make([]hedge.OrderKey, 0, len(g.pending))
	for key := range g.pending {
		if !strings.HasPrefix(string(key), marginKeyPrefix) {
			keys = append(keys, key)
		}
	}
	g.mu.Unlock()
	for _, key := range keys {
		status, err := g.info.OrderStatus(ctx, g.ex.User(), string(key))
		if err != nil {
			g.log.Warn("order status lookup failed", zap.String("cloid", string(key)), zap.Error(err))
			continue
		}
		if success, terminal := terminalStatus(status.State()); terminal {
			g.resolve(ctx, key, success)
		}
	}
}

// Pending reports whether key is still awaiting execution.
func (g *Gateway) Pending(key hedge.OrderKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[key]
	return ok
}

// Adopt resumes tracking an order restored from persisted state. Margin
// updates are synchronous, so a restored margin key already took effect.
func (g *Gateway) Adopt(ctx context.Context, order hedge.PendingOrder) {
	key := order.Key
	cloid := strings.TrimPrefix(string(key), marginKeyPrefix)
	g.mu.Lock()
	g.pending[key] = tracked{cloid: cloid, req: order.Request()}
	g.mu.Unlock()
	g.log.Info("tracking restored order", zap.String("order_key", string(key)))
	if strings.HasPrefix(string(key), marginKeyPrefix) {
		go g.resolve(context.WithoutCancel(ctx), key, true)
	}
}

func (g *Gateway) forget(key hedge.OrderKey) (tracked, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.pending[key]
	delete(g.pending, key)
	return t, ok
}

// resolve delivers the execution outcome once per key. A filled increase
// gets the margin it was sized with beyond what leverage reserved.
func (g *Gateway) resolve(ctx context.Context, key hedge.OrderKey, success bool) {
	t, ok := g.forget(key)
	if !ok {
		return
	}
	if success && t.req.Kind == hedge.KindIncrease && !t.req.SizeDelta.IsZero() {
		g.topUp(ctx, t.req)
	}
	g.mu.Lock()
	cb := g.callback
	g.mu.Unlock()
	g.log.Info("order resolved", zap.String("order_key", string(key)), zap.Bool("success", success))
	if cb != nil {
		cb(ctx, key, success)
	}
}

func (g *Gateway) topUp(ctx context.Context, req hedge.OrderRequest) {
	if g.opts.Leverage <= 0 {
		return
	}
	reserved := req.SizeDelta.Mul(req.AcceptablePrice).Div(decimal.NewFromInt(int64(g.opts.Leverage)))
	extra := req.CollateralDelta.Sub(reserved)
	if exchange.USDToNtli(extra) <= 0 {
		return
	}
	index, _, err := g.meta()
	if err != nil {
		return
	}
	if _, err := g.ex.UpdateIsolatedMargin(ctx, index, req.Direction == hedge.DirectionLong, extra); err != nil {
		g.log.Warn("margin top-up failed", zap.Stringer("amount", extra), zap.Error(err))
	}
}

// buys reports whether the order trades on the bid side: increasing a long
// or reducing a short.
func buys(req hedge.OrderRequest) bool {
	return (req.Kind == hedge.KindIncrease) == (req.Direction == hedge.DirectionLong)
}

// cloidFor derives the 16-byte client order id from the controller's UUID
// client id, so resubmissions of the same request reuse it.
func cloidFor(clientID string) string {
	id, err := uuid.Parse(clientID)
	if err != nil {
		id = uuid.New()
	}
	return "0x" + hex.EncodeToString(id[:])
}

func terminalStatus(status string) (success, terminal bool) {
	switch status {
	case "filled":
		return true, true
	case "open", "triggered", "unknown", "":
		return false, false
	}
	// canceled, rejected, marginCanceled, reduceOnlyCanceled and similar.
	return false, true
}
