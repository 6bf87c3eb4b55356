package state

import "context"

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// List returns up to limit entries whose key starts with prefix, newest
	// key first. A limit <= 0 returns every match.
	List(ctx context.Context, prefix string, limit int) ([]Entry, error)
	Close() error
}

type Entry struct {
	Key   string
	Value string
}
