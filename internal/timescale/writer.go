package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"delta-hedger/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// HedgeSnapshot is one row of hedge_snapshots, taken every tick.
type HedgeSnapshot struct {
	Time           time.Time
	Asset          string
	State          string
	Direction      string
	Size           float64
	Collateral     float64
	EntryPrice     float64
	UnrealizedPnl  float64
	ReferencePrice float64
	TargetSize     float64
	Leverage       float64
	HasLeverage    bool
	Pending        bool
	Paused         bool
}

// OrderTransition is one row of order_transitions.
type OrderTransition struct {
	Time     time.Time
	Seq      int64
	From     string
	To       string
	Event    string
	OrderKey string
	Detail   string
}

type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	snapshots   chan HedgeSnapshot
	transitions chan OrderTransition
	started     atomic.Bool
	dropSnap    atomic.Uint64
	dropTrans   atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:          db,
		log:         log,
		schema:      schema,
		snapshots:   make(chan HedgeSnapshot, queueSize),
		transitions: make(chan OrderTransition, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueSnapshot(snap HedgeSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snap:
	default:
		if w.dropSnap.Add(1) == 1 {
			w.log.Warn("timescale snapshot queue full")
		}
	}
}

func (w *Writer) EnqueueTransition(t OrderTransition) {
	if w == nil {
		return
	}
	select {
	case w.transitions <- t:
	default:
		if w.dropTrans.Add(1) == 1 {
			w.log.Warn("timescale transition queue full")
		}
	}
}

// Dropped reports how many snapshots and transitions were discarded because
// the queues were full.
func (w *Writer) Dropped() (snapshots, transitions uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropSnap.Load(), w.dropTrans.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.snapshots:
			w.writeSnapshot(ctx, snap)
		case t := <-w.transitions:
			w.writeTransition(ctx, t)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		state TEXT NOT NULL,
		direction TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		collateral DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		reference_price DOUBLE PRECISION NOT NULL,
		target_size DOUBLE PRECISION NOT NULL,
		leverage DOUBLE PRECISION NOT NULL,
		has_leverage BOOLEAN NOT NULL,
		pending BOOLEAN NOT NULL,
		paused BOOLEAN NOT NULL
	)`, w.table("hedge_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		seq BIGINT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		event TEXT NOT NULL,
		order_key TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("order_transitions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"hedge_snapshots", "order_transitions"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeSnapshot(ctx context.Context, snap HedgeSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, asset, state, direction, size, collateral, entry_price, unrealized_pnl,
		reference_price, target_size, leverage, has_leverage, pending, paused
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	)`, w.table("hedge_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Asset,
		snap.State,
		snap.Direction,
		snap.Size,
		snap.Collateral,
		snap.EntryPrice,
		snap.UnrealizedPnl,
		snap.ReferencePrice,
		snap.TargetSize,
		snap.Leverage,
		snap.HasLeverage,
		snap.Pending,
		snap.Paused,
	); err != nil {
		w.log.Warn("timescale snapshot insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTransition(ctx context.Context, t OrderTransition) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, seq, from_state, to_state, event, order_key, detail
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7
	)`, w.table("order_transitions"))
	if _, err := w.db.ExecContext(ctx, query,
		t.Time,
		t.Seq,
		t.From,
		t.To,
		t.Event,
		t.OrderKey,
		t.Detail,
	); err != nil {
		w.log.Warn("timescale transition insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
