package history

import (
	"context"
	"fmt"
	"time"
)

// Action is what the responder did with a message
type Action string

const (
	ActionSent    Action = "sent"
	ActionDrafted Action = "drafted"
	ActionSkipped Action = "skipped" // Category not answered; marked read only
)

// Record is the append-only trace of one handled message. A message id
// is recorded at most once.
type Record struct {
	MessageID   string
	ThreadID    string
	Sender      string
	Subject     string
	Category    string
	Action      Action
	Confidence  float64
	CycleID     string
	ProcessedAt time.Time
}

// Stats summarizes the records in a store
type Stats struct {
	Total      int
	ByAction   map[Action]int
	ByCategory map[string]int
}

// Store keeps processing records for deduplication and reporting.
// Append of an id that is already present is a no-op.
type Store interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Append(ctx context.Context, r Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Open returns the store for driver: "memory", "sqlite" (dsn is a file
// path) or "postgres" (dsn is a connection URL).
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(ctx, dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}
}

func newStats() Stats {
	return Stats{ByAction: make(map[Action]int), ByCategory: make(map[string]int)}
}
