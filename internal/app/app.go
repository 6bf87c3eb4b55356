package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"delta-hedger/internal/alerts"
	"delta-hedger/internal/config"
	"delta-hedger/internal/exec"
	"delta-hedger/internal/hedge"
	"delta-hedger/internal/hl/exchange"
	"delta-hedger/internal/hl/rest"
	"delta-hedger/internal/hl/ws"
	"delta-hedger/internal/metrics"
	"delta-hedger/internal/pool"
	"delta-hedger/internal/riskfeed"
	"delta-hedger/internal/state"
	"delta-hedger/internal/state/sqlite"
	"delta-hedger/internal/timescale"
	"delta-hedger/internal/venue/hyperliquid"
	"delta-hedger/internal/venue/sim"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      state.Store
	controller *hedge.Controller
	executor   *exec.Executor
	oracle     hedge.SpotOracle
	metrics    *metrics.Metrics
	prom       *metrics.Prometheus
	alerts     *alerts.Telegram
	timescale  *timescale.Writer
	now        func() time.Time

	// sim venue
	sim    *sim.Venue
	pool   *pool.Memory
	static *riskfeed.Static

	// hyperliquid venue
	exchange *exchange.Client
	gateway  *hyperliquid.Gateway
	feed     *hyperliquid.Feed

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
}

// wiring is what a venue contributes to the controller.
type wiring struct {
	risk     hedge.RiskEngine
	oracle   hedge.SpotOracle
	pool     hedge.LiquidityLedger
	venue    hedge.VenueGateway
	callback func(hedge.ExecutionCallback)
}

const metricsShutdownTimeout = 5 * time.Second

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	ts, err := timescale.New(cfg.Timescale, log.Named("timescale"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale: %w", err)
	}
	a, err := newApp(cfg, log, store, ts)
	if err != nil {
		_ = store.Close()
		_ = ts.Close()
		return nil, err
	}
	return a, nil
}

func newApp(cfg *config.Config, log *zap.Logger, store state.Store, ts *timescale.Writer) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	params, err := cfg.HedgeParams()
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		metrics:   metrics.NewNoop(),
		alerts:    alerts.NewTelegram(cfg.Telegram, log.Named("telegram")),
		timescale: ts,
		now:       time.Now,
	}
	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	}

	var w wiring
	switch cfg.Venue.Kind {
	case config.VenueSim:
		w = a.buildSim()
	case config.VenueHyperliquid:
		w, err = a.buildHyperliquid()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown venue kind %q", cfg.Venue.Kind)
	}

	a.oracle = w.oracle
	a.executor = exec.New(w.venue, store, log.Named("exec"), exec.Options{})
	controller, err := hedge.New(hedge.Deps{
		Risk:     w.risk,
		Oracle:   w.oracle,
		Pool:     w.pool,
		Venue:    a.executor,
		Recorder: newJournal(store, ts, log),
		Alerter:  a.alerts,
		Metrics:  a.metrics,
	}, params, log.Named("controller"))
	if err != nil {
		return nil, err
	}
	w.callback(a.executor.Observe(controller.OnOrderExecuted))
	a.controller = controller
	return a, nil
}

func (a *App) buildSim() wiring {
	cfg := a.cfg
	venue := sim.New(sim.Options{
		Price:    decimal.NewFromFloat(cfg.Sim.Price),
		Spread:   decimal.NewFromFloat(cfg.Sim.Spread),
		Slippage: decimal.NewFromFloat(cfg.Sim.Slippage),
	}, a.log.Named("sim"))
	a.sim = venue
	a.pool = pool.NewMemory(decimal.NewFromFloat(cfg.Sim.PoolCapital))
	return wiring{
		risk:     a.riskEngine(),
		oracle:   venue,
		pool:     a.pool,
		venue:    venue,
		callback: venue.SetCallback,
	}
}

func (a *App) buildHyperliquid() (wiring, error) {
	cfg := a.cfg
	signer, err := exchange.NewSigner(cfg.Venue.PrivateKey, cfg.Venue.MainnetValue())
	if err != nil {
		return wiring{}, err
	}
	if wallet := strings.TrimSpace(cfg.Venue.WalletAddress); wallet != "" && !strings.EqualFold(wallet, signer.Address().Hex()) {
		return wiring{}, fmt.Errorf("wallet address does not match private key: got %s expected %s", wallet, signer.Address().Hex())
	}
	exClient, err := exchange.NewClient(cfg.Venue.REST.BaseURL, cfg.Venue.REST.Timeout, signer, cfg.Venue.VaultAddress)
	if err != nil {
		return wiring{}, err
	}
	exClient.SetLogger(a.log.Named("exchange"))
	info := rest.New(cfg.Venue.REST.BaseURL, cfg.Venue.REST.Timeout, a.log.Named("rest"))
	gateway := hyperliquid.New(exClient, info, hyperliquid.Options{
		Coin:     cfg.Venue.Asset,
		Leverage: cfg.Venue.Leverage,
	}, a.log.Named("hyperliquid"))
	wsClient := ws.New(cfg.Venue.WS.URL, cfg.Venue.WS.ReconnectDelay, cfg.Venue.WS.PingInterval, a.log.Named("ws"))

	a.exchange = exClient
	a.gateway = gateway
	a.feed = hyperliquid.NewFeed(wsClient, gateway, exClient.User(), a.log.Named("feed"))
	return wiring{
		risk:     a.riskEngine(),
		oracle:   hyperliquid.NewOracle(info, cfg.Venue.Asset),
		pool:     hyperliquid.NewSpotLedger(exClient, info, cfg.Venue.Token, a.log.Named("ledger")),
		venue:    gateway,
		callback: gateway.SetCallback,
	}, nil
}

func (a *App) riskEngine() hedge.RiskEngine {
	rc := a.cfg.RiskEngine
	if strings.TrimSpace(rc.URL) != "" {
		return riskfeed.New(rc.URL, rc.Token, rc.Timeout, a.log.Named("riskfeed"))
	}
	a.static = riskfeed.NewStatic(decimal.NewFromFloat(rc.StaticDelta))
	return a.static
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()
	if a.exchange != nil {
		if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		} else if st, ok := a.exchange.NonceState(); ok {
			a.log.Info("nonce persistence enabled", zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
		}
	}
	if a.gateway != nil {
		if err := a.gateway.Init(ctx); err != nil {
			return err
		}
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	a.startMetrics(ctx)
	a.timescale.Start(ctx)
	a.startOperator(ctx)
	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("order feed stopped", zap.Error(err))
			}
		}()
	}
	if a.sim != nil {
		go a.simKeeper(ctx)
	}
	a.log.Info("hedger started",
		zap.String("venue", a.cfg.Venue.Kind),
		zap.String("asset", a.cfg.Venue.Asset),
		zap.Duration("tick_interval", a.cfg.Hedger.TickInterval),
		zap.Duration("rebalance_interval", a.cfg.Hedger.RebalanceInterval),
	)

	hedgeTicker := time.NewTicker(a.cfg.Hedger.TickInterval)
	defer hedgeTicker.Stop()
	rebalanceTicker := time.NewTicker(a.cfg.Hedger.RebalanceInterval)
	defer rebalanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hedgeTicker.C:
			a.tick(ctx)
		case <-rebalanceTicker.C:
			a.rebalance(ctx)
		}
	}
}

func (a *App) close() {
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("state store close failed", zap.Error(err))
		}
	}
}

// restore loads the persisted controller state. A restored order is handed
// back to the gateway for tracking; the simulated venue does not survive a
// restart, so its orders are reported failed.
func (a *App) restore(ctx context.Context) error {
	persisted, ok, err := state.LoadControllerSnapshot(ctx, a.store)
	if err != nil {
		return fmt.Errorf("load controller snapshot: %w", err)
	}
	snap := persisted.HedgeSnapshot()
	var keep []hedge.OrderKey
	if ok && snap.Pending != nil {
		keep = append(keep, snap.Pending.Key)
	}
	if pruned, err := a.executor.Prune(ctx, keep...); err != nil {
		a.log.Warn("prune order keys", zap.Error(err))
	} else if pruned > 0 {
		a.log.Info("pruned stale order keys", zap.Int("count", pruned))
	}
	if !ok {
		return nil
	}
	if err := a.controller.Restore(ctx, snap); err != nil {
		return fmt.Errorf("restore controller: %w", err)
	}
	if snap.Pending == nil {
		a.log.Info("controller restored", zap.String("state", string(snap.State)))
		return nil
	}
	order := *snap.Pending
	a.log.Info("controller restored with pending order",
		zap.String("state", string(snap.State)),
		zap.String("order_key", string(order.Key)),
	)
	switch {
	case a.gateway != nil:
		a.gateway.Adopt(ctx, order)
	case a.sim != nil:
		a.executor.Observe(a.controller.OnOrderExecuted)(ctx, order.Key, false)
	}
	return nil
}

func (a *App) tick(ctx context.Context) {
	var res hedge.Result
	if !a.isPaused() {
		var err error
		res, err = a.controller.Hedge(ctx)
		a.logResult("hedge", res, err)
	}
	a.recordTimescale(ctx, res)
}

func (a *App) rebalance(ctx context.Context) {
	if a.isPaused() {
		return
	}
	res, err := a.controller.Rebalance(ctx)
	a.logResult("rebalance", res, err)
}

func (a *App) logResult(op string, res hedge.Result, err error) {
	switch {
	case errors.Is(err, hedge.ErrOrderAlreadyPending):
		a.log.Debug(op+" skipped: order pending")
	case err != nil:
		a.log.Warn(op+" failed", zap.Error(err))
	case res.Action == hedge.ActionSubmitted && res.Order != nil:
		a.log.Info(op+" submitted",
			zap.String("order_key", string(res.Order.Key)),
			zap.String("kind", string(res.Order.Kind)),
			zap.String("direction", string(res.Order.Direction)),
			zap.Stringer("size_delta", res.Order.SizeDelta),
			zap.Stringer("collateral_delta", res.Order.CollateralDelta),
			zap.Stringer("target", res.Target),
		)
	default:
		a.log.Debug(op+" no-op", zap.String("action", string(res.Action)), zap.String("reason", res.Reason))
	}
}

// simKeeper plays the venue's keeper, executing one queued order per
// execution delay.
func (a *App) simKeeper(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Sim.ExecutionDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			key, ok, err := a.sim.ExecuteNext(ctx)
			if err != nil {
				a.log.Warn("sim keeper failed", zap.String("order_key", string(key)), zap.Error(err))
				continue
			}
			if ok {
				a.log.Debug("sim keeper executed", zap.String("order_key", string(key)))
			}
		}
	}
}

func (a *App) startMetrics(ctx context.Context) {
	if a.prom == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
}
