package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"delta-hedger/internal/hedge"

	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string, limit int) ([]Entry, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for k, v := range m.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestControllerSnapshotRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	at := time.UnixMilli(1700000000123).UTC()
	snap := hedge.Snapshot{
		State: hedge.StatePendingIncrease,
		Pending: &hedge.PendingOrder{
			Key:             "0xabc",
			ClientID:        "cid-1",
			Kind:            hedge.KindIncrease,
			Direction:       hedge.DirectionShort,
			SizeDelta:       decimal.RequireFromString("1.5"),
			CollateralDelta: decimal.RequireFromString("30.3"),
			AcceptablePrice: decimal.RequireFromString("99"),
			SubmittedAt:     at,
		},
		LastInteraction: at,
		LastSubmittedAt: at,
	}
	if err := SaveControllerSnapshot(ctx, store, FromHedgeSnapshot(snap, at)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	got, ok, err := LoadControllerSnapshot(ctx, store)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to be present")
	}
	back := got.HedgeSnapshot()
	if back.State != snap.State || back.Pending == nil {
		t.Fatalf("unexpected snapshot: %#v", back)
	}
	if back.Pending.Key != "0xabc" || back.Pending.Direction != hedge.DirectionShort {
		t.Fatalf("unexpected pending order: %#v", back.Pending)
	}
	if !back.Pending.CollateralDelta.Equal(snap.Pending.CollateralDelta) {
		t.Fatalf("expected collateral %s, got %s", snap.Pending.CollateralDelta, back.Pending.CollateralDelta)
	}
	if !back.Pending.SubmittedAt.Equal(at) || !back.LastInteraction.Equal(at) {
		t.Fatalf("timestamps not preserved")
	}
}

func TestControllerSnapshotIdleHasZeroTimes(t *testing.T) {
	got := FromHedgeSnapshot(hedge.Snapshot{State: hedge.StateIdle}, time.Now()).HedgeSnapshot()
	if got.Pending != nil || !got.LastInteraction.IsZero() {
		t.Fatalf("expected empty idle snapshot, got %#v", got)
	}
}

func TestControllerSnapshotMissing(t *testing.T) {
	store := &memoryStore{}
	got, ok, err := LoadControllerSnapshot(context.Background(), store)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot, got %#v", got)
	}
}

func TestControllerSnapshotInvalid(t *testing.T) {
	store := &memoryStore{items: map[string]string{ControllerSnapshotKey: "{"}}
	_, _, err := LoadControllerSnapshot(context.Background(), store)
	if err == nil {
		t.Fatalf("expected error for invalid snapshot JSON")
	}
}

func TestJournalNewestFirst(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for i := 1; i <= 3; i++ {
		err := AppendJournal(ctx, store, hedge.Transition{
			Seq:   uint64(i),
			At:    base.Add(time.Duration(i) * time.Second),
			From:  hedge.StateIdle,
			To:    hedge.StatePendingIncrease,
			Event: "submitted",
			Key:   hedge.OrderKey("k"),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := RecentJournal(ctx, store, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Seq != 3 || entries[1].Seq != 2 {
		t.Fatalf("expected newest first, got %d then %d", entries[0].Seq, entries[1].Seq)
	}
}
