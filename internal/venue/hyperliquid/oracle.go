package hyperliquid

import (
	"context"
	"fmt"

	"delta-hedger/internal/hedge"

	"github.com/shopspring/decimal"
)

// Oracle prices the hedged coin from the asset context. BUY takes the least
// favourable of mark, mid and oracle for a buyer, SELL the least favourable
// for a seller; REFERENCE is the oracle price.
type Oracle struct {
	info Info
	coin string
}

var _ hedge.SpotOracle = (*Oracle)(nil)

func NewOracle(info Info, coin string) *Oracle {
	return &Oracle{info: info, coin: coin}
}

func (o *Oracle) Price(ctx context.Context, side hedge.PriceSide) (decimal.Decimal, error) {
	asset, err := o.info.Asset(ctx, o.coin)
	if err != nil {
		return decimal.Zero, err
	}
	oracle := asset.Ctx.OraclePx
	if !oracle.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s oracle price unavailable", o.coin)
	}
	candidates := []decimal.Decimal{oracle}
	if asset.Ctx.MarkPx.IsPositive() {
		candidates = append(candidates, asset.Ctx.MarkPx)
	}
	if asset.Ctx.MidPx.Valid && asset.Ctx.MidPx.Decimal.IsPositive() {
		candidates = append(candidates, asset.Ctx.MidPx.Decimal)
	}
	switch side {
	case hedge.SideBuy:
		return decimal.Max(candidates[0], candidates[1:]...), nil
	case hedge.SideSell:
		return decimal.Min(candidates[0], candidates[1:]...), nil
	}
	return oracle, nil
}
