package app

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"delta-hedger/internal/alerts"
	"delta-hedger/internal/config"
	"delta-hedger/internal/hedge"
	"delta-hedger/internal/state"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string, limit int) ([]state.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]state.Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, state.Entry{Key: k, Value: m.data[k]})
	}
	return out, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) withPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, v)
		}
	}
	return out
}

const simConfig = `
venue:
  kind: sim
  asset: ETH
risk_engine:
  static_delta: 2
hedger:
  hedge_cap: 10
leverage:
  target: 2
  buffer: 0.5
sim:
  price: 100
  pool_capital: 1000
metrics:
  enabled: false
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(simConfig))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, store *memoryStore) *App {
	t.Helper()
	a, err := newApp(testConfig(t), zap.NewNop(), store, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestParseOperatorCommand(t *testing.T) {
	cmd, args, ok := parseOperatorCommand("/status now")
	if !ok {
		t.Fatalf("expected ok")
	}
	if cmd != "status" {
		t.Fatalf("expected status, got %s", cmd)
	}
	if len(args) != 1 || args[0] != "now" {
		t.Fatalf("unexpected args: %v", args)
	}
	if cmd, _, ok := parseOperatorCommand("/Params@hedge_bot show"); !ok || cmd != "params" {
		t.Fatalf("expected params from bot-addressed command, got %q", cmd)
	}
	if _, _, ok := parseOperatorCommand("status"); ok {
		t.Fatalf("expected plain text to be ignored")
	}
}

func TestOperatorPauseResumeAudit(t *testing.T) {
	store := newMemoryStore()
	app := newTestApp(t, store)
	meta := operatorMeta{UpdateID: 1, UserID: 1, ChatID: 2, Raw: "/pause"}

	resp, err := app.handleOperatorCommand(context.Background(), "pause", nil, meta)
	if err != nil {
		t.Fatalf("pause error: %v", err)
	}
	if resp != "hedging paused" {
		t.Fatalf("unexpected pause response: %s", resp)
	}
	if !app.isPaused() {
		t.Fatalf("expected paused")
	}

	meta.Raw = "/resume"
	meta.UpdateID = 2
	resp, err = app.handleOperatorCommand(context.Background(), "resume", nil, meta)
	if err != nil {
		t.Fatalf("resume error: %v", err)
	}
	if resp != "hedging resumed" {
		t.Fatalf("unexpected resume response: %s", resp)
	}
	if app.isPaused() {
		t.Fatalf("expected resumed")
	}
	audits := store.withPrefix(operatorAuditKey)
	if len(audits) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(audits))
	}
	var event operatorAuditEvent
	if err := json.Unmarshal([]byte(audits[0]), &event); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if event.UserID != 1 || event.ChatID != 2 {
		t.Fatalf("unexpected audit event %+v", event)
	}
}

func TestOperatorParamsSetReset(t *testing.T) {
	store := newMemoryStore()
	app := newTestApp(t, store)
	ctx := context.Background()
	meta := operatorMeta{UpdateID: 1, UserID: 1, ChatID: 2, Raw: "/params set hedge_cap=3 interaction_delay=30s"}

	resp, err := app.handleParamsCommand(ctx, []string{"set", "hedge_cap=3", "interaction_delay=30s"}, meta)
	if err != nil {
		t.Fatalf("params set: %v", err)
	}
	if resp != "params updated" {
		t.Fatalf("unexpected response %s", resp)
	}
	p := app.controller.Params()
	if !p.Hedger.HedgeCap.Equal(decimal.NewFromInt(3)) || p.Hedger.InteractionDelay != 30*time.Second {
		t.Fatalf("params not applied: %+v", p.Hedger)
	}
	show, _ := app.handleParamsCommand(ctx, []string{"show"}, meta)
	if !strings.Contains(show, "hedge_cap=3") {
		t.Fatalf("expected hedge_cap in show output, got %s", show)
	}

	if _, err := app.handleParamsCommand(ctx, []string{"set", "leverage_buffer=5"}, meta); err == nil {
		t.Fatalf("expected buffer >= target to be rejected")
	}
	if !app.controller.Params().Leverage.LeverageBuffer.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("rejected update must leave params unchanged")
	}

	meta.UpdateID = 2
	if _, err := app.handleParamsCommand(ctx, []string{"reset"}, meta); err != nil {
		t.Fatalf("params reset: %v", err)
	}
	if !app.controller.Params().Hedger.HedgeCap.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected hedge_cap reset to 10")
	}
	if got := len(store.withPrefix(operatorAuditKey)); got != 2 {
		t.Fatalf("expected set and reset audited, got %d", got)
	}
}

func TestApplyParamOverridesRejectsUnknownKey(t *testing.T) {
	_, err := applyParamOverrides(hedge.Params{}, map[string]string{"unknown": "1"})
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if _, err := parseParamOverrides([]string{"hedge_cap"}); err == nil {
		t.Fatalf("expected error for missing value")
	}
}

func TestOperatorHedgeCancelAndStatus(t *testing.T) {
	store := newMemoryStore()
	app := newTestApp(t, store)
	ctx := context.Background()
	meta := operatorMeta{UserID: 1, ChatID: 2}

	resp, err := app.handleOperatorCommand(ctx, "hedge", nil, meta)
	if err != nil {
		t.Fatalf("hedge: %v", err)
	}
	if !strings.HasPrefix(resp, "submitted INCREASE LONG size=2") {
		t.Fatalf("unexpected hedge response %s", resp)
	}
	status := app.operatorStatus(ctx)
	for _, want := range []string{"state: PENDING_INCREASE", "pending: INCREASE LONG", "target: 2"} {
		if !strings.Contains(status, want) {
			t.Fatalf("status missing %q:\n%s", want, status)
		}
	}

	resp, _ = app.handleOperatorCommand(ctx, "cancel", nil, meta)
	if !strings.HasPrefix(resp, "cancel failed") {
		t.Fatalf("expected cancel before min delay to fail, got %s", resp)
	}
	if app.controller.Pending() == nil {
		t.Fatalf("failed cancel must keep the pending order")
	}

	journal, err := app.journalStatus(ctx)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if !strings.Contains(journal, "IDLE->PENDING_INCREASE") {
		t.Fatalf("expected submission in journal, got %s", journal)
	}
}

func TestHandleOperatorUpdateFiltersChatAndUser(t *testing.T) {
	app := newTestApp(t, newMemoryStore())
	ctx := context.Background()
	allowed := map[int64]struct{}{7: {}}
	update := func(chat, user int64) alerts.Update {
		return alerts.Update{
			UpdateID: 1,
			Message:  &alerts.Message{From: &alerts.User{ID: user}, Chat: &alerts.Chat{ID: chat}, Text: "/pause"},
		}
	}

	app.handleOperatorUpdate(ctx, update(99, 7), 123, allowed)
	if app.isPaused() {
		t.Fatalf("message from another chat must be ignored")
	}
	app.handleOperatorUpdate(ctx, update(123, 8), 123, allowed)
	if app.isPaused() {
		t.Fatalf("message from unlisted user must be ignored")
	}
	app.handleOperatorUpdate(ctx, update(123, 7), 123, allowed)
	if !app.isPaused() {
		t.Fatalf("expected allowed user to pause")
	}
}

func TestOperatorOffsetRoundTrip(t *testing.T) {
	store := newMemoryStore()
	app := &App{store: store}
	ctx := context.Background()
	if got := app.loadOperatorOffset(ctx); got != 0 {
		t.Fatalf("expected zero offset, got %d", got)
	}
	app.saveOperatorOffset(ctx, 42)
	if got := app.loadOperatorOffset(ctx); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}
