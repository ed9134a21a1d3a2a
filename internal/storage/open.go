package storage

import (
	"context"
	"time"

	"gatebot/pkg/logx"
)

// Store is the persistence API consumed by the admission workflow and the
// broadcast engine. Every method is atomic at single-row granularity; no
// cross-row transactions are needed because recipient lifecycles are
// independent.
type Store interface {
	UpsertRecipient(ctx context.Context, r Recipient) error
	FindRecipient(ctx context.Context, id int64) (Recipient, bool, error)
	// ApproveRecipient flips a recipient to approved iff it is still pending.
	// It reports whether the update was applied.
	ApproveRecipient(ctx context.Context, id int64, at time.Time) (bool, error)
	// AllRecipients returns a point-in-time snapshot.
	AllRecipients(ctx context.Context) ([]Recipient, error)
	DeleteRecipient(ctx context.Context, id int64) error
	// CountRecipients counts rows with the given status; "" counts all.
	CountRecipients(ctx context.Context, status Status) (int, error)
	AggregateByStatus(ctx context.Context) (map[Status]StatusAgg, error)

	EnqueueTask(ctx context.Context, t Task) error
	// DueTasks returns tasks with due_at <= now, oldest first.
	DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error)
	DeleteTask(ctx context.Context, id int64) error
	// BumpTaskAttempts increments a task's attempt counter and pushes its
	// due time forward, keeping it eligible for a later poll pass.
	BumpTaskAttempts(ctx context.Context, id int64, nextDue time.Time) error

	Close() error
}

// Open initializes the SQLite store. A failure here is fatal to the caller:
// the bot must not serve any workflow without its store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
