package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Status is the admission state of a recipient. It moves pending -> approved
// in the common path and never regresses except by an explicit re-request,
// which recreates the funnel entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

// Recipient is one tracked user who has requested to join the community.
// Profile fields are denormalized, last write wins.
type Recipient struct {
	ID          int64
	FirstName   string
	Username    string
	ChatID      int64 // chat the join request targeted
	Status      Status
	RequestedAt time.Time
	ApprovedAt  *time.Time
}

// StatusAgg is one row of the per-status aggregate.
type StatusAgg struct {
	Count          int
	LatestActivity time.Time
}

// TaskKind names a deferred admission action.
type TaskKind string

const (
	TaskWelcome TaskKind = "welcome"
	TaskApprove TaskKind = "approve"
)

// Task is a persisted deferred action. Timers live in this table, not in
// process memory, so outstanding work survives restarts.
type Task struct {
	ID          int64
	Kind        TaskKind
	RecipientID int64
	ChatID      int64
	DueAt       time.Time
	Attempts    int
}
