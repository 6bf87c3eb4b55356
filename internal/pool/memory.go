package pool

import (
	"context"
	"fmt"
	"sync"

	"delta-hedger/internal/hedge"

	"github.com/shopspring/decimal"
)

// Memory is an in-process liquidity ledger. It grants at most what is
// available and tracks how much is posted as hedge collateral.
type Memory struct {
	mu        sync.Mutex
	available decimal.Decimal
	posted    decimal.Decimal
}

var _ hedge.LiquidityLedger = (*Memory)(nil)

func NewMemory(initial decimal.Decimal) *Memory {
	return &Memory{available: initial}
}

func (m *Memory) RequestCapital(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	_ = ctx
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	grant := decimal.Min(amount, m.available)
	if grant.IsNegative() {
		grant = decimal.Zero
	}
	m.available = m.available.Sub(grant)
	m.posted = m.posted.Add(grant)
	return grant, nil
}

// ReturnCapital credits amount back. Returns above what was posted are
// realized profit and still land in available.
func (m *Memory) ReturnCapital(ctx context.Context, amount decimal.Decimal) error {
	_ = ctx
	if amount.IsNegative() {
		return fmt.Errorf("return capital: negative amount %s", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = m.available.Add(amount)
	m.posted = decimal.Max(m.posted.Sub(amount), decimal.Zero)
	return nil
}

func (m *Memory) Deposit(amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = m.available.Add(amount)
}

func (m *Memory) Balances() (available, posted decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available, m.posted
}
