package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"delta-hedger/internal/hedge"
)

const JournalPrefix = "journal:"

type JournalEntry struct {
	Seq    uint64 `json:"seq"`
	AtMS   int64  `json:"at_ms"`
	From   string `json:"from"`
	To     string `json:"to"`
	Event  string `json:"event"`
	Key    string `json:"order_key,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func NewJournalEntry(t hedge.Transition) JournalEntry {
	return JournalEntry{
		Seq:    t.Seq,
		AtMS:   t.At.UnixMilli(),
		From:   string(t.From),
		To:     string(t.To),
		Event:  t.Event,
		Key:    string(t.Key),
		Detail: t.Detail,
	}
}

// journalKey sorts lexicographically in time order.
func journalKey(at time.Time, seq uint64) string {
	return fmt.Sprintf("%s%020d:%010d", JournalPrefix, at.UnixNano(), seq)
}

func AppendJournal(ctx context.Context, store Store, t hedge.Transition) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(NewJournalEntry(t))
	if err != nil {
		return err
	}
	return store.Set(ctx, journalKey(t.At, t.Seq), string(payload))
}

// RecentJournal returns up to limit entries, newest first.
func RecentJournal(ctx context.Context, store Store, limit int) ([]JournalEntry, error) {
	if store == nil {
		return nil, nil
	}
	rows, err := store.List(ctx, JournalPrefix, limit)
	if err != nil {
		return nil, err
	}
	out := make([]JournalEntry, 0, len(rows))
	for _, row := range rows {
		var entry JournalEntry
		if err := json.Unmarshal([]byte(row.Value), &entry); err != nil {
			return nil, fmt.Errorf("decode journal %s: %w", row.Key, err)
		}
		out = append(out, entry)
	}
	return out, nil
}
