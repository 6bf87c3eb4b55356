package hedge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeRisk struct {
	mu    sync.Mutex
	delta decimal.Decimal
	err   error
}

func (f *fakeRisk) NetDelta(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delta, f.err
}

func (f *fakeRisk) set(v string) {
	f.mu.Lock()
	f.delta = d(v)
	f.mu.Unlock()
}

type fakeOracle struct {
	prices map[PriceSide]decimal.Decimal
}

func newFakeOracle(price string) *fakeOracle {
	p := d(price)
	return &fakeOracle{prices: map[PriceSide]decimal.Decimal{
		SideBuy:       p,
		SideSell:      p,
		SideReference: p,
	}}
}

func (f *fakeOracle) Price(_ context.Context, side PriceSide) (decimal.Decimal, error) {
	return f.prices[side], nil
}

type fakePool struct {
	available decimal.Decimal
	requested []decimal.Decimal
	returned  []decimal.Decimal
}

func (f *fakePool) RequestCapital(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	f.requested = append(f.requested, amount)
	grant := decimal.Min(amount, f.available)
	if grant.IsNegative() {
		grant = decimal.Zero
	}
	f.available = f.available.Sub(grant)
	return grant, nil
}

func (f *fakePool) ReturnCapital(_ context.Context, amount decimal.Decimal) error {
	f.returned = append(f.returned, amount)
	f.available = f.available.Add(amount)
	return nil
}

// fakeVenue keeps two legs and applies orders only when the test executes
// them, the way an external keeper would.
type fakeVenue struct {
	long, short Leg
	residual    decimal.Decimal
	orders      map[OrderKey]OrderRequest
	submitted   []OrderRequest
	cancelled   []OrderKey
	submitErr   error
	cancelErr   error
	next        int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{orders: map[OrderKey]OrderRequest{}}
}

func (f *fakeVenue) SubmitIncrease(_ context.Context, req OrderRequest) (OrderKey, error) {
	return f.accept(req)
}

func (f *fakeVenue) SubmitDecrease(_ context.Context, req OrderRequest) (OrderKey, error) {
	return f.accept(req)
}

func (f *fakeVenue) accept(req OrderRequest) (OrderKey, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.next++
	key := OrderKey(fmt.Sprintf("k%d", f.next))
	f.orders[key] = req
	f.submitted = append(f.submitted, req)
	return key, nil
}

func (f *fakeVenue) RequestCancel(_ context.Context, key OrderKey) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if req, ok := f.orders[key]; ok {
		delete(f.orders, key)
		if req.Kind == KindIncrease {
			f.residual = f.residual.Add(req.CollateralDelta)
		}
	}
	f.cancelled = append(f.cancelled, key)
	return nil
}

func (f *fakeVenue) Position(context.Context) (HedgePosition, error) {
	return NewHedgePosition(f.long, f.short), nil
}

func (f *fakeVenue) SweepResidual(context.Context) (decimal.Decimal, error) {
	out := f.residual
	f.residual = decimal.Zero
	return out, nil
}

func (f *fakeVenue) leg(dir Direction) *Leg {
	if dir == DirectionShort {
		return &f.short
	}
	return &f.long
}

func (f *fakeVenue) execute(t *testing.T, c *Controller, key OrderKey, success bool) {
	t.Helper()
	req, ok := f.orders[key]
	if !ok {
		t.Fatalf("unknown order %s", key)
	}
	delete(f.orders, key)
	leg := f.leg(req.Direction)
	switch {
	case !success:
		if req.Kind == KindIncrease {
			f.residual = f.residual.Add(req.CollateralDelta)
		}
	case req.Kind == KindIncrease:
		leg.Size = leg.Size.Add(req.SizeDelta)
		leg.Collateral = leg.Collateral.Add(req.CollateralDelta)
		if req.SizeDelta.IsPositive() {
			leg.EntryPrice = req.AcceptablePrice
		}
	default:
		leg.Size = leg.Size.Sub(req.SizeDelta)
		withdraw := decimal.Min(req.CollateralDelta, leg.Collateral)
		leg.Collateral = leg.Collateral.Sub(withdraw)
		f.residual = f.residual.Add(withdraw)
		if !leg.Size.IsPositive() {
			f.residual = f.residual.Add(leg.Collateral)
			*leg = Leg{}
		}
	}
	c.OnOrderExecuted(context.Background(), key, success)
}

type fakeRecorder struct {
	transitions []Transition
	snapshots   []Snapshot
}

func (f *fakeRecorder) RecordTransition(_ context.Context, t Transition) {
	f.transitions = append(f.transitions, t)
}

func (f *fakeRecorder) SaveSnapshot(_ context.Context, snap Snapshot) error {
	f.snapshots = append(f.snapshots, snap)
	return nil
}

type fakeAlerter struct {
	messages []string
}

func (f *fakeAlerter) Send(_ context.Context, msg string) error {
	f.messages = append(f.messages, msg)
	return nil
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(dur time.Duration) { f.now = f.now.Add(dur) }

type harness struct {
	c        *Controller
	risk     *fakeRisk
	oracle   *fakeOracle
	pool     *fakePool
	venue    *fakeVenue
	recorder *fakeRecorder
	alerts   *fakeAlerter
	clock    *fakeClock
}

func testParams() Params {
	return Params{
		Hedger: HedgerParams{
			InteractionDelay: 0,
			HedgeCap:         d("100"),
		},
		Leverage: LeverageParams{
			TargetLeverage:     d("5"),
			LeverageBuffer:     d("0.5"),
			AcceptableSlippage: d("0.01"),
			MinCancelDelay:     30 * time.Second,
			CollateralBuffer:   d("0.01"),
		},
	}
}

func newHarness(t *testing.T, p Params) *harness {
	t.Helper()
	h := &harness{
		risk:     &fakeRisk{},
		oracle:   newFakeOracle("100"),
		pool:     &fakePool{available: d("1000000")},
		venue:    newFakeVenue(),
		recorder: &fakeRecorder{},
		alerts:   &fakeAlerter{},
		clock:    &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	c, err := New(Deps{
		Risk:     h.risk,
		Oracle:   h.oracle,
		Pool:     h.pool,
		Venue:    h.venue,
		Recorder: h.recorder,
		Alerter:  h.alerts,
		Clock:    h.clock.Now,
	}, p, zap.NewNop())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.c = c
	return h
}

func (h *harness) hedge(t *testing.T) Result {
	t.Helper()
	res, err := h.c.Hedge(context.Background())
	if err != nil {
		t.Fatalf("hedge: %v", err)
	}
	return res
}

func (h *harness) pendingKey(t *testing.T) OrderKey {
	t.Helper()
	pending := h.c.Pending()
	if pending == nil {
		t.Fatalf("expected pending order")
	}
	return pending.Key
}

var errVenueDown = errors.New("venue down")
