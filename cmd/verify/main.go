package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"delta-hedger/internal/config"
	"delta-hedger/internal/hedge"
	"delta-hedger/internal/hl/exchange"
	"delta-hedger/internal/hl/rest"
	"delta-hedger/internal/logging"
	"delta-hedger/internal/pool"
	"delta-hedger/internal/riskfeed"
	"delta-hedger/internal/venue/hyperliquid"
	"delta-hedger/internal/venue/sim"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultVerifyEnvFile = ".env"

// verify is a read-only preflight. Against hyperliquid it prints what the
// hedger would see and the order it would size; against the simulated venue
// it runs one open/close round trip.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	delta := flag.String("delta", "", "net delta to hedge in the sim round trip (defaults to risk_engine.static_delta)")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch cfg.Venue.Kind {
	case config.VenueHyperliquid:
		err = verifyHyperliquid(ctx, cfg, log)
	default:
		err = verifySim(ctx, cfg, *delta, log)
	}
	if err != nil {
		fatal(err)
	}
}

func verifyHyperliquid(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	signer, err := exchange.NewSigner(cfg.Venue.PrivateKey, cfg.Venue.MainnetValue())
	if err != nil {
		return err
	}
	if wallet := strings.TrimSpace(cfg.Venue.WalletAddress); wallet != "" && !strings.EqualFold(wallet, signer.Address().Hex()) {
		return fmt.Errorf("wallet address does not match private key: got %s expected %s", wallet, signer.Address().Hex())
	}
	exClient, err := exchange.NewClient(cfg.Venue.REST.BaseURL, cfg.Venue.REST.Timeout, signer, cfg.Venue.VaultAddress)
	if err != nil {
		return err
	}
	info := rest.New(cfg.Venue.REST.BaseURL, cfg.Venue.REST.Timeout, log)
	asset, err := info.Asset(ctx, cfg.Venue.Asset)
	if err != nil {
		return err
	}
	fmt.Printf("asset: %s index=%d sz_decimals=%d max_leverage=%d\n", asset.Meta.Name, asset.Index, asset.Meta.SzDecimals, asset.Meta.MaxLeverage)
	fmt.Printf("account: %s (signer %s)\n", exClient.User(), signer.Address().Hex())

	oracle := hyperliquid.NewOracle(info, cfg.Venue.Asset)
	prices := make(map[hedge.PriceSide]decimal.Decimal, 3)
	for _, side := range []hedge.PriceSide{hedge.SideBuy, hedge.SideSell, hedge.SideReference} {
		px, err := oracle.Price(ctx, side)
		if err != nil {
			return err
		}
		prices[side] = px
	}
	fmt.Printf("prices: buy=%s sell=%s reference=%s\n", prices[hedge.SideBuy], prices[hedge.SideSell], prices[hedge.SideReference])

	gateway := hyperliquid.New(exClient, info, hyperliquid.Options{Coin: cfg.Venue.Asset}, log)
	pos, err := gateway.Position(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("position: %s size=%s collateral=%s entry=%s\n", pos.Direction, pos.Size, pos.Collateral, pos.EntryPrice)
	withdrawable, err := gateway.SweepResidual(ctx)
	if err != nil {
		return err
	}
	available, err := hyperliquid.NewSpotLedger(exClient, info, cfg.Venue.Token, log).Available(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("capital: spot %s=%s perp withdrawable=%s\n", cfg.Venue.Token, available, withdrawable)

	params, err := cfg.HedgeParams()
	if err != nil {
		return err
	}
	netDelta, err := riskfeed.New(cfg.RiskEngine.URL, cfg.RiskEngine.Token, cfg.RiskEngine.Timeout, log).NetDelta(ctx)
	if err != nil {
		return fmt.Errorf("risk engine: %w", err)
	}
	target := hedge.CapExposure(netDelta, params.Hedger.HedgeCap)
	diff := target.Sub(pos.Signed())
	fmt.Printf("risk: net_delta=%s capped_target=%s diff=%s\n", netDelta, target, diff)
	if diff.Abs().LessThanOrEqual(params.Hedger.MinSizeDelta) {
		fmt.Println("order: none, position at target")
		return nil
	}
	isBuy := diff.IsPositive()
	side := hedge.SideSell
	slip := decimal.NewFromInt(1).Sub(params.Leverage.AcceptableSlippage)
	if isBuy {
		side = hedge.SideBuy
		slip = decimal.NewFromInt(1).Add(params.Leverage.AcceptableSlippage)
	}
	limit, err := exchange.PriceToWire(prices[side].Mul(slip), asset.Meta.SzDecimals, isBuy)
	if err != nil {
		return err
	}
	size, err := exchange.SizeToWire(diff.Abs(), asset.Meta.SzDecimals)
	if err != nil {
		return err
	}
	fmt.Printf("order: buy=%t size=%s limit=%s (dry run, nothing submitted)\n", isBuy, size, limit)
	return nil
}

func verifySim(ctx context.Context, cfg *config.Config, rawDelta string, log *zap.Logger) error {
	netDelta := decimal.NewFromFloat(cfg.RiskEngine.StaticDelta)
	if rawDelta != "" {
		parsed, err := decimal.NewFromString(rawDelta)
		if err != nil {
			return fmt.Errorf("delta: %w", err)
		}
		netDelta = parsed
	}
	if netDelta.IsZero() {
		return errors.New("sim round trip needs a non-zero delta")
	}
	params, err := cfg.HedgeParams()
	if err != nil {
		return err
	}
	params.Hedger.InteractionDelay = 0
	venue := sim.New(sim.Options{
		Price:    decimal.NewFromFloat(cfg.Sim.Price),
		Spread:   decimal.NewFromFloat(cfg.Sim.Spread),
		Slippage: decimal.NewFromFloat(cfg.Sim.Slippage),
	}, log)
	ledger := pool.NewMemory(decimal.NewFromFloat(cfg.Sim.PoolCapital))
	risk := riskfeed.NewStatic(netDelta)
	controller, err := hedge.New(hedge.Deps{Risk: risk, Oracle: venue, Pool: ledger, Venue: venue}, params, log)
	if err != nil {
		return err
	}
	venue.SetCallback(controller.OnOrderExecuted)

	step := func(label string) error {
		res, err := controller.Hedge(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if res.Action != hedge.ActionSubmitted {
			return fmt.Errorf("%s: expected a submission, got %s (%s)", label, res.Action, res.Reason)
		}
		if _, err := venue.ExecuteAll(ctx); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		pos, err := controller.Position(ctx)
		if err != nil {
			return err
		}
		available, posted := ledger.Balances()
		fmt.Printf("%s: %s %s size=%s -> position %s size=%s collateral=%s pool available=%s posted=%s\n",
			label, res.Order.Kind, res.Order.Direction, res.Order.SizeDelta,
			pos.Direction, pos.Size, pos.Collateral, available, posted)
		return nil
	}
	if err := step("open"); err != nil {
		return err
	}
	risk.Set(decimal.Zero)
	if err := step("close"); err != nil {
		return err
	}
	if controller.State() != hedge.StateIdle {
		return fmt.Errorf("expected idle controller, got %s", controller.State())
	}
	fmt.Println("sim round trip ok")
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
	os.Exit(1)
}
