package hedge

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCapExposure(t *testing.T) {
	cases := []struct {
		delta, limit, want string
	}{
		{"150", "100", "100"},
		{"-150", "100", "-100"},
		{"10", "100", "10"},
		{"-10", "100", "-10"},
		{"10", "0", "0"},
	}
	for _, tc := range cases {
		if got := CapExposure(d(tc.delta), d(tc.limit)); !got.Equal(d(tc.want)) {
			t.Fatalf("cap(%s, %s): expected %s, got %s", tc.delta, tc.limit, tc.want, got)
		}
	}
}

func TestElapsed(t *testing.T) {
	now := time.Unix(1000, 0)
	if !Elapsed(time.Time{}, time.Minute, now) {
		t.Fatalf("zero last interaction must be elapsed")
	}
	if !Elapsed(now, 0, now) {
		t.Fatalf("zero delay must be elapsed")
	}
	if Elapsed(now.Add(-59*time.Second), time.Minute, now) {
		t.Fatalf("59s of 60s must not be elapsed")
	}
	if !Elapsed(now.Add(-time.Minute), time.Minute, now) {
		t.Fatalf("exact delay must be elapsed")
	}
}

func TestPlanSides(t *testing.T) {
	cases := []struct {
		kind OrderKind
		dir  Direction
		want PriceSide
	}{
		{KindIncrease, DirectionLong, SideBuy},
		{KindDecrease, DirectionShort, SideBuy},
		{KindIncrease, DirectionShort, SideSell},
		{KindDecrease, DirectionLong, SideSell},
	}
	for _, tc := range cases {
		if got := (plan{kind: tc.kind, direction: tc.dir}).side(); got != tc.want {
			t.Fatalf("%s %s: expected %s, got %s", tc.kind, tc.dir, tc.want, got)
		}
	}
}

func TestPlanDirectionalFromFlatShort(t *testing.T) {
	pl, ok := planDirectional(HedgePosition{Direction: DirectionFlat}, d("-10"), d("100"), testParams())
	if !ok {
		t.Fatalf("expected plan")
	}
	if pl.kind != KindIncrease || pl.direction != DirectionShort || !pl.size.Equal(d("10")) || !pl.collateral.Equal(d("202")) {
		t.Fatalf("unexpected plan %+v", pl)
	}
}

func TestPlanDirectionalCloseToFlat(t *testing.T) {
	pos := NewHedgePosition(Leg{}, Leg{Size: d("3"), Collateral: d("61")})
	pl, ok := planDirectional(pos, decimal.Zero, d("100"), testParams())
	if !ok {
		t.Fatalf("expected plan")
	}
	if pl.kind != KindDecrease || pl.direction != DirectionShort || !pl.size.Equal(d("3")) || !pl.collateral.Equal(d("61")) {
		t.Fatalf("unexpected plan %+v", pl)
	}
}

func TestPlanGrowUsesExistingSurplus(t *testing.T) {
	pos := NewHedgePosition(Leg{Size: d("10"), Collateral: d("400")}, Leg{})
	pl, ok := planDirectional(pos, d("15"), d("100"), testParams())
	if !ok {
		t.Fatalf("expected plan")
	}
	// 15 units need 303, already 400 posted
	if !pl.size.Equal(d("5")) || !pl.collateral.IsZero() {
		t.Fatalf("unexpected plan size %s collateral %s", pl.size, pl.collateral)
	}
	if pl.needsCapital() {
		t.Fatalf("over-collateralized grow must not draw capital")
	}
}

func TestFitToCapitalGrowCountsExistingCollateral(t *testing.T) {
	p := testParams()
	pos := NewHedgePosition(Leg{Size: d("10"), Collateral: d("202")}, Leg{})
	pl := plan{kind: KindIncrease, direction: DirectionLong, size: d("10"), collateral: d("202")}

	fitted, ok := fitToCapital(pl, pos, d("40.4"), d("100"), p.Leverage)
	if !ok {
		t.Fatalf("expected partial plan")
	}
	if !fitted.size.Equal(d("2")) || !fitted.collateral.Equal(d("40.4")) {
		t.Fatalf("expected size 2 collateral 40.4, got %s %s", fitted.size, fitted.collateral)
	}
	if _, ok := fitToCapital(pl, pos, decimal.Zero, d("100"), p.Leverage); ok {
		t.Fatalf("zero grant must not produce a plan")
	}
}

func TestPlanLeverageBands(t *testing.T) {
	lp := testParams().Leverage
	if _, ok := planLeverage(HedgePosition{Direction: DirectionFlat}, d("100"), lp); ok {
		t.Fatalf("flat position needs no rebalance")
	}
	inBand := NewHedgePosition(Leg{Size: d("10"), Collateral: d("200")}, Leg{})
	if pl, ok := planLeverage(inBand, d("100"), lp); ok {
		t.Fatalf("leverage 5 is inside the band, got %+v", pl)
	}
	// price moved against the position: required collateral exceeds a
	// withdrawal that leverage alone would allow
	lossy := NewHedgePosition(Leg{Size: d("10"), Collateral: d("450"), UnrealizedPnl: d("-250")}, Leg{})
	if _, ok := planLeverage(lossy, d("100"), lp); ok {
		t.Fatalf("withdrawal below the safety floor must be skipped")
	}
	noCollateral := NewHedgePosition(Leg{Size: d("1")}, Leg{})
	pl, ok := planLeverage(noCollateral, d("100"), lp)
	if !ok || pl.kind != KindIncrease || !pl.collateral.Equal(d("20.2")) {
		t.Fatalf("expected collateral top-up for uncollateralized position, got %+v", pl)
	}
}

func TestNewHedgePosition(t *testing.T) {
	pos := NewHedgePosition(Leg{Size: d("2")}, Leg{Size: d("5"), Collateral: d("7")})
	if pos.Direction != DirectionShort || !pos.Size.Equal(d("5")) || !pos.Collateral.Equal(d("7")) {
		t.Fatalf("expected larger short leg as headline, got %+v", pos)
	}
	if !pos.DualLeg() {
		t.Fatalf("expected dual-leg")
	}
	if !pos.Signed().Equal(d("-3")) {
		t.Fatalf("expected net -3, got %s", pos.Signed())
	}
	if !NewHedgePosition(Leg{}, Leg{}).IsFlat() {
		t.Fatalf("expected flat")
	}
}

func TestParamsValidate(t *testing.T) {
	if err := testParams().Validate(); err != nil {
		t.Fatalf("expected valid params: %v", err)
	}
	mutations := []func(*Params){
		func(p *Params) { p.Hedger.InteractionDelay = -time.Second },
		func(p *Params) { p.Hedger.HedgeCap = d("-1") },
		func(p *Params) { p.Leverage.LeverageBuffer = d("5") },
		func(p *Params) { p.Leverage.AcceptableSlippage = d("1") },
		func(p *Params) { p.Leverage.MinCancelDelay = -time.Second },
		func(p *Params) { p.Leverage.CollateralBuffer = d("-0.1") },
	}
	for i, mutate := range mutations {
		p := testParams()
		mutate(&p)
		if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("mutation %d: expected ErrInvalidParams, got %v", i, err)
		}
	}
}
