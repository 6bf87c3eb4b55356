package state

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"delta-hedger/internal/hedge"

	"github.com/shopspring/decimal"
)

const ControllerSnapshotKey = "controller:last_snapshot"

type PendingOrderRecord struct {
	Key             string          `json:"key"`
	ClientID        string          `json:"client_id,omitempty"`
	Kind            string          `json:"kind"`
	Direction       string          `json:"direction"`
	SizeDelta       decimal.Decimal `json:"size_delta"`
	CollateralDelta decimal.Decimal `json:"collateral_delta"`
	AcceptablePrice decimal.Decimal `json:"acceptable_price"`
	SubmittedAtMS   int64           `json:"submitted_at_ms"`
}

type ControllerSnapshot struct {
	State             string              `json:"state"`
	Pending           *PendingOrderRecord `json:"pending,omitempty"`
	LastInteractionMS int64               `json:"last_interaction_ms"`
	LastSubmittedAtMS int64               `json:"last_submitted_at_ms"`
	UpdatedAtMS       int64               `json:"updated_at_ms"`
}

func FromHedgeSnapshot(snap hedge.Snapshot, now time.Time) ControllerSnapshot {
	out := ControllerSnapshot{
		State:             string(snap.State),
		LastInteractionMS: toMS(snap.LastInteraction),
		LastSubmittedAtMS: toMS(snap.LastSubmittedAt),
		UpdatedAtMS:       now.UnixMilli(),
	}
	if p := snap.Pending; p != nil {
		out.Pending = &PendingOrderRecord{
			Key:             string(p.Key),
			ClientID:        p.ClientID,
			Kind:            string(p.Kind),
			Direction:       string(p.Direction),
			SizeDelta:       p.SizeDelta,
			CollateralDelta: p.CollateralDelta,
			AcceptablePrice: p.AcceptablePrice,
			SubmittedAtMS:   toMS(p.SubmittedAt),
		}
	}
	return out
}

func (s ControllerSnapshot) HedgeSnapshot() hedge.Snapshot {
	out := hedge.Snapshot{
		State:           hedge.State(s.State),
		LastInteraction: fromMS(s.LastInteractionMS),
		LastSubmittedAt: fromMS(s.LastSubmittedAtMS),
	}
	if p := s.Pending; p != nil {
		out.Pending = &hedge.PendingOrder{
			Key:             hedge.OrderKey(p.Key),
			ClientID:        p.ClientID,
			Kind:            hedge.OrderKind(p.Kind),
			Direction:       hedge.Direction(p.Direction),
			SizeDelta:       p.SizeDelta,
			CollateralDelta: p.CollateralDelta,
			AcceptablePrice: p.AcceptablePrice,
			SubmittedAt:     fromMS(p.SubmittedAtMS),
		}
	}
	return out
}

func toMS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func LoadControllerSnapshot(ctx context.Context, store Store) (ControllerSnapshot, bool, error) {
	if store == nil {
		return ControllerSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, ControllerSnapshotKey)
	if err != nil {
		return ControllerSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return ControllerSnapshot{}, false, nil
	}
	var snapshot ControllerSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return ControllerSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveControllerSnapshot(ctx context.Context, store Store, snapshot ControllerSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, ControllerSnapshotKey, string(payload))
}
