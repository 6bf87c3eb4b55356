package riskfeed

import (
	"context"
	"sync"

	"delta-hedger/internal/hedge"

	"github.com/shopspring/decimal"
)

// Static reports a fixed net delta that can be changed at runtime. It backs
// the simulated venue and dry runs.
type Static struct {
	mu    sync.RWMutex
	delta decimal.Decimal
}

var _ hedge.RiskEngine = (*Static)(nil)

func NewStatic(delta decimal.Decimal) *Static {
	return &Static{delta: delta}
}

func (s *Static) NetDelta(ctx context.Context) (decimal.Decimal, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delta, nil
}

func (s *Static) Set(delta decimal.Decimal) {
	s.mu.Lock()
	s.delta = delta
	s.mu.Unlock()
}
