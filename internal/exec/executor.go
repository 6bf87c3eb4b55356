package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"delta-hedger/internal/hedge"
	"delta-hedger/internal/state"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultAttempts = 5
	defaultBackoff  = 200 * time.Millisecond

	cloidPrefix = "cloid:"
)

type Options struct {
	Attempts int
	Backoff  time.Duration
}

// Executor wraps a venue gateway with retries and makes submissions
// idempotent by client id, across restarts when a store is configured. A
// client id mapping lives until its order resolves or is cancelled.
type Executor struct {
	venue hedge.VenueGateway
	store state.Store
	log   *zap.Logger

	attempts int
	backoff  time.Duration

	mu    sync.Mutex
	cache map[string]hedge.OrderKey
	ids   map[hedge.OrderKey]string
}

var _ hedge.VenueGateway = (*Executor)(nil)

func New(venue hedge.VenueGateway, store state.Store, log *zap.Logger, opts Options) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	return &Executor{
		venue:    venue,
		store:    store,
		log:      log,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		cache:    make(map[string]hedge.OrderKey),
		ids:      make(map[hedge.OrderKey]string),
	}
}

func (e *Executor) SubmitIncrease(ctx context.Context, req hedge.OrderRequest) (hedge.OrderKey, error) {
	return e.submit(ctx, req, e.venue.SubmitIncrease)
}

func (e *Executor) SubmitDecrease(ctx context.Context, req hedge.OrderRequest) (hedge.OrderKey, error) {
	return e.submit(ctx, req, e.venue.SubmitDecrease)
}

func (e *Executor) RequestCancel(ctx context.Context, key hedge.OrderKey) error {
	err := e.retry(ctx, "cancel", func() error {
		return e.venue.RequestCancel(ctx, key)
	})
	if err == nil {
		e.forget(ctx, key)
	}
	return err
}

// Observe wraps an execution callback so resolved orders release their
// client id mapping.
func (e *Executor) Observe(cb hedge.ExecutionCallback) hedge.ExecutionCallback {
	return func(ctx context.Context, key hedge.OrderKey, success bool) {
		cb(ctx, key, success)
		e.forget(ctx, key)
	}
}

// Prune drops persisted client id mappings for every order key not in keep.
// It runs at startup, when only a restored pending order can still resolve.
func (e *Executor) Prune(ctx context.Context, keep ...hedge.OrderKey) (int, error) {
	live := make(map[hedge.OrderKey]bool, len(keep))
	for _, key := range keep {
		live[key] = true
	}
	e.mu.Lock()
	for key, id := range e.ids {
		if !live[key] {
			delete(e.ids, key)
			delete(e.cache, cloidPrefix+id)
		}
	}
	e.mu.Unlock()
	if e.store == nil {
		return 0, nil
	}
	entries, err := e.store.List(ctx, cloidPrefix, 0)
	if err != nil {
		return 0, fmt.Errorf("list order keys: %w", err)
	}
	pruned := 0
	for _, entry := range entries {
		if live[hedge.OrderKey(entry.Value)] {
			continue
		}
		if err := e.store.Delete(ctx, entry.Key); err != nil {
			return pruned, fmt.Errorf("delete %s: %w", entry.Key, err)
		}
		pruned++
	}
	return pruned, nil
}

func (e *Executor) remember(clientID string, key hedge.OrderKey) {
	e.mu.Lock()
	e.cache[cloidPrefix+clientID] = key
	e.ids[key] = clientID
	e.mu.Unlock()
}

// forget drops the client id mapping for key. Orders submitted before a
// restart are only known to the store and are found by scanning it.
func (e *Executor) forget(ctx context.Context, key hedge.OrderKey) {
	e.mu.Lock()
	id, ok := e.ids[key]
	if ok {
		delete(e.ids, key)
		delete(e.cache, cloidPrefix+id)
	}
	e.mu.Unlock()
	if e.store == nil {
		return
	}
	var stale []string
	if ok {
		stale = append(stale, cloidPrefix+id)
	} else {
		entries, err := e.store.List(ctx, cloidPrefix, 0)
		if err != nil {
			e.log.Warn("failed to list order keys", zap.Error(err))
			return
		}
		for _, entry := range entries {
			if entry.Value == string(key) {
				stale = append(stale, entry.Key)
			}
		}
	}
	for _, k := range stale {
		if err := e.store.Delete(ctx, k); err != nil {
			e.log.Warn("failed to drop order key", zap.String("order_key", string(key)), zap.Error(err))
		}
	}
}

func (e *Executor) Position(ctx context.Context) (hedge.HedgePosition, error) {
	var pos hedge.HedgePosition
	err := e.retry(ctx, "position", func() error {
		var err error
		pos, err = e.venue.Position(ctx)
		return err
	})
	return pos, err
}

// SweepResidual moves funds, so it is passed through without retries.
func (e *Executor) SweepResidual(ctx context.Context) (decimal.Decimal, error) {
	return e.venue.SweepResidual(ctx)
}

func (e *Executor) submit(ctx context.Context, req hedge.OrderRequest, place func(context.Context, hedge.OrderRequest) (hedge.OrderKey, error)) (hedge.OrderKey, error) {
	if req.ClientID == "" {
		return e.placeWithRetry(ctx, req, place)
	}
	cacheKey := cloidPrefix + req.ClientID
	e.mu.Lock()
	if key, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return key, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if key, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if ok {
			e.remember(req.ClientID, hedge.OrderKey(key))
			return hedge.OrderKey(key), nil
		}
	}
	key, err := e.placeWithRetry(ctx, req, place)
	if err != nil {
		return "", err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, string(key)); err != nil {
			e.log.Warn("failed to persist order key", zap.Error(err))
		}
	}
	e.remember(req.ClientID, key)
	return key, nil
}

func (e *Executor) placeWithRetry(ctx context.Context, req hedge.OrderRequest, place func(context.Context, hedge.OrderRequest) (hedge.OrderKey, error)) (hedge.OrderKey, error) {
	var key hedge.OrderKey
	err := e.retry(ctx, "submit "+string(req.Kind), func() error {
		var err error
		key, err = place(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", errors.New("empty order key")
	}
	return key, nil
}

func (e *Executor) retry(ctx context.Context, op string, fn func() error) error {
	backoff := e.backoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= e.attempts {
			return fmt.Errorf("%s: retry failed after %d attempts: %w", op, attempt, err)
		}
		e.log.Debug("venue call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}
