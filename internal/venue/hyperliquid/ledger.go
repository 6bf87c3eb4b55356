package hyperliquid

import (
	"context"
	"errors"
	"fmt"

	"delta-hedger/internal/hedge"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SpotLedger treats the account's spot USDC as the liquidity pool. Granting
// capital moves it to the perp account; returning moves it back.
type SpotLedger struct {
	ex    Exchange
	info  Info
	token string
	log   *zap.Logger
}

var _ hedge.LiquidityLedger = (*SpotLedger)(nil)

func NewSpotLedger(ex Exchange, info Info, token string, log *zap.Logger) *SpotLedger {
	if token == "" {
		token = "USDC"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SpotLedger{ex: ex, info: info, token: token, log: log}
}

func (l *SpotLedger) Available(ctx context.Context) (decimal.Decimal, error) {
	state, err := l.info.SpotClearinghouseState(ctx, l.ex.User())
	if err != nil {
		return decimal.Zero, err
	}
	return state.Free(l.token), nil
}

func (l *SpotLedger) RequestCapital(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	free, err := l.Available(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("spot balance: %w", err)
	}
	granted := decimal.Min(amount, free).Truncate(usdDecimals)
	if !granted.IsPositive() {
		return decimal.Zero, nil
	}
	if _, err := l.ex.USDClassTransfer(ctx, granted, true); err != nil {
		return decimal.Zero, fmt.Errorf("transfer to perp: %w", err)
	}
	l.log.Info("capital granted", zap.Stringer("requested", amount), zap.Stringer("granted", granted))
	return granted, nil
}

func (l *SpotLedger) ReturnCapital(ctx context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("return amount must be >= 0")
	}
	amount = amount.Truncate(usdDecimals)
	if amount.IsZero() {
		return nil
	}
	if _, err := l.ex.USDClassTransfer(ctx, amount, false); err != nil {
		return fmt.Errorf("transfer to spot: %w", err)
	}
	l.log.Info("capital returned", zap.Stringer("amount", amount))
	return nil
}

const usdDecimals = 6
