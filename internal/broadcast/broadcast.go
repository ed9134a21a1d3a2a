// Package broadcast fans one admin-chosen message out to every recipient on
// file, in bounded batches, isolating per-recipient failures and backing off
// on platform flood control.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gatebot/internal/delivery"
	"gatebot/internal/storage"
	"gatebot/pkg/logx"
)

// ErrBusy is returned when a run is requested while another is in flight.
var ErrBusy = errors.New("broadcast already running")

// Store is the slice of persistence the engine needs: a snapshot source and
// permanent pruning of dead recipients.
type Store interface {
	AllRecipients(ctx context.Context) ([]storage.Recipient, error)
	DeleteRecipient(ctx context.Context, id int64) error
}

// Copier is the single delivery operation a broadcast uses.
type Copier interface {
	CopyMessage(ctx context.Context, userID, fromChatID int64, messageID int) error
}

type Config struct {
	BatchSize       int
	MessagePause    time.Duration
	BatchPause      time.Duration
	MaxFloodRetries int // per batch; exceeding it demotes the send to a plain failure
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MessagePause <= 0 {
		c.MessagePause = 50 * time.Millisecond
	}
	if c.BatchPause <= 0 {
		c.BatchPause = 1500 * time.Millisecond
	}
	if c.MaxFloodRetries <= 0 {
		c.MaxFloodRetries = 5
	}
	return c
}

// Report is the running tally of one broadcast.
type Report struct {
	Total     int
	Sent      int
	Failed    int
	Pruned    int
	Batches   int
	Cancelled bool
}

// Progress is invoked after each completed batch.
type Progress func(batchDone, batchTotal int, r Report)

type Engine struct {
	mu      sync.Mutex
	cfg     Config
	running bool
	cancel  context.CancelFunc

	store  Store
	sender Copier
	log    logx.Logger
}

func New(cfg Config, store Store, sender Copier, log logx.Logger) *Engine {
	return &Engine{cfg: cfg.withDefaults(), store: store, sender: sender, log: log}
}

// Apply swaps in new tunables (live reload). A run already in flight keeps
// the config it started with.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// Running reports whether a broadcast is in flight.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Cancel stops the in-flight run at its next suspension point.
// It reports whether there was a run to cancel.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Run snapshots the recipient set once and delivers a copy of the source
// message to each, batch by batch. At most one run at a time.
//
// Per-recipient outcomes:
//   - success: counted as sent
//   - unreachable: recipient pruned from storage, counted as failed
//   - rate limited: the batch pauses for the server-suggested duration and
//     retries from the same position, bounded by MaxFloodRetries per batch
//   - anything else: counted as failed, no retry
func (e *Engine) Run(ctx context.Context, src Token, progress Progress) (Report, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Report{}, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	cfg := e.cfg
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	// One snapshot per run: recipients joining after this point are not
	// part of this broadcast.
	snapshot, err := e.store.AllRecipients(runCtx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Total: len(snapshot)}
	batchTotal := (len(snapshot) + cfg.BatchSize - 1) / cfg.BatchSize
	limiter := rate.NewLimiter(rate.Every(cfg.MessagePause), 1)

	e.log.Info("broadcast started",
		logx.Int("recipients", len(snapshot)),
		logx.Int("batches", batchTotal),
		logx.Int64("src_chat", src.ChatID),
		logx.Int("src_msg", src.MessageID))

	for start := 0; start < len(snapshot); start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, len(snapshot))
		batch := snapshot[start:end]

		if cancelled := e.runBatch(runCtx, cfg, limiter, src, batch, &report); cancelled {
			report.Cancelled = true
			e.log.Warn("broadcast cancelled",
				logx.Int("sent", report.Sent),
				logx.Int("failed", report.Failed))
			return report, runCtx.Err()
		}

		report.Batches++
		if progress != nil {
			progress(report.Batches, batchTotal, report)
		}

		if end < len(snapshot) {
			if err := sleepCtx(runCtx, cfg.BatchPause); err != nil {
				report.Cancelled = true
				return report, err
			}
		}
	}

	e.log.Info("broadcast finished",
		logx.Int("sent", report.Sent),
		logx.Int("failed", report.Failed),
		logx.Int("pruned", report.Pruned))
	return report, nil
}

// runBatch delivers to one batch, backtracking on flood errors. Returns true
// if the run was cancelled mid-batch.
func (e *Engine) runBatch(ctx context.Context, cfg Config, limiter *rate.Limiter, src Token, batch []storage.Recipient, report *Report) bool {
	floodRetries := 0

	for i := 0; i < len(batch); {
		if err := limiter.Wait(ctx); err != nil {
			return true
		}

		r := batch[i]
		err := e.sender.CopyMessage(ctx, r.ID, src.ChatID, src.MessageID)
		switch {
		case err == nil:
			report.Sent++

		case delivery.KindOf(err) == delivery.KindUnreachable:
			report.Failed++
			report.Pruned++
			if derr := e.store.DeleteRecipient(ctx, r.ID); derr != nil {
				e.log.Warn("prune failed", logx.Int64("user_id", r.ID), logx.Err(derr))
			} else {
				e.log.Debug("recipient pruned", logx.Int64("user_id", r.ID))
			}

		case delivery.KindOf(err) == delivery.KindRateLimited:
			if floodRetries < cfg.MaxFloodRetries {
				floodRetries++
				wait := delivery.RetryAfterOf(err)
				if wait <= 0 {
					wait = time.Second
				}
				e.log.Warn("rate limited, pausing batch",
					logx.Duration("retry_after", wait),
					logx.Int("attempt", floodRetries))
				if serr := sleepCtx(ctx, wait); serr != nil {
					return true
				}
				continue // same recipient, same position

			}
			// Flood budget for this batch exhausted; count and move on.
			report.Failed++
			e.log.Warn("flood retries exhausted", logx.Int64("user_id", r.ID))

		default:
			report.Failed++
			e.log.Warn("send failed", logx.Int64("user_id", r.ID), logx.Err(err))
		}

		i++
		select {
		case <-ctx.Done():
			return true
		default:
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
