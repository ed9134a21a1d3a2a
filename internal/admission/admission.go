// Package admission runs the join-request funnel: record intent, send a
// timed welcome message, then finalize approval after a fixed delay.
//
// Deferred actions are rows in the tasks table, not in-process timers, so
// an in-flight funnel survives a restart (see the poller).
package admission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gatebot/internal/delivery"
	"gatebot/internal/storage"
	"gatebot/pkg/logx"
)

// DefaultWelcomeTemplate is the caption body used when the config doesn't
// override it. "{name}" is replaced with the escaped display name.
const DefaultWelcomeTemplate = `*{name}*, congratulations\! You are about to join a private community reserved for ambitious people\.

⚠️ *Action required*: confirm your spot by joining our channels to finalize your membership\.
⏳ You have 10 minutes to claim your place\.`

type Config struct {
	WelcomeDelay     time.Duration
	ApproveDelay     time.Duration
	MaxAttempts      int
	ApproveOnRequest bool

	VideoURL string
	Template string
	Buttons  [][]delivery.Button
}

func (c Config) withDefaults() Config {
	if c.WelcomeDelay <= 0 {
		c.WelcomeDelay = 5 * time.Second
	}
	if c.ApproveDelay <= 0 {
		c.ApproveDelay = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if strings.TrimSpace(c.Template) == "" {
		c.Template = DefaultWelcomeTemplate
	}
	return c
}

// Store is the slice of persistence the funnel needs.
type Store interface {
	UpsertRecipient(ctx context.Context, r storage.Recipient) error
	FindRecipient(ctx context.Context, id int64) (storage.Recipient, bool, error)
	ApproveRecipient(ctx context.Context, id int64, at time.Time) (bool, error)
	EnqueueTask(ctx context.Context, t storage.Task) error
	DueTasks(ctx context.Context, now time.Time, limit int) ([]storage.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	BumpTaskAttempts(ctx context.Context, id int64, nextDue time.Time) error
}

// User is the requester identity as seen in the join-request event.
type User struct {
	ID        int64
	FirstName string
	Username  string
}

type Workflow struct {
	mu  sync.Mutex
	cfg Config

	store  Store
	sender delivery.Sender
	log    logx.Logger

	now func() time.Time
}

func New(cfg Config, store Store, sender delivery.Sender, log logx.Logger) *Workflow {
	return &Workflow{
		cfg:    cfg.withDefaults(),
		store:  store,
		sender: sender,
		log:    log,
		now:    time.Now,
	}
}

// Apply swaps in a new config (live reload).
func (w *Workflow) Apply(cfg Config) {
	w.mu.Lock()
	w.cfg = cfg.withDefaults()
	w.mu.Unlock()
}

func (w *Workflow) config() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// OnJoinRequest records the requester as pending and schedules the welcome
// and final-approval tasks. A repeat request from an already-approved user
// re-enters the funnel (status resets to pending).
func (w *Workflow) OnJoinRequest(ctx context.Context, user User, chatID int64) error {
	cfg := w.config()
	now := w.now()

	r := storage.Recipient{
		ID:          user.ID,
		FirstName:   user.FirstName,
		Username:    user.Username,
		ChatID:      chatID,
		Status:      storage.StatusPending,
		RequestedAt: now,
	}
	if err := w.store.UpsertRecipient(ctx, r); err != nil {
		return fmt.Errorf("upsert recipient %d: %w", user.ID, err)
	}

	if cfg.ApproveOnRequest {
		// Immediate pre-approval; the deferred task re-checks and confirms.
		if err := w.sender.ApproveJoinRequest(ctx, chatID, user.ID); err != nil {
			w.log.Warn("pre-approval failed", logx.Int64("user_id", user.ID), logx.Err(err))
		}
	}

	for _, t := range []storage.Task{
		{Kind: storage.TaskWelcome, RecipientID: user.ID, ChatID: chatID, DueAt: now.Add(cfg.WelcomeDelay)},
		{Kind: storage.TaskApprove, RecipientID: user.ID, ChatID: chatID, DueAt: now.Add(cfg.ApproveDelay)},
	} {
		if err := w.store.EnqueueTask(ctx, t); err != nil {
			return fmt.Errorf("enqueue %s task for %d: %w", t.Kind, user.ID, err)
		}
	}

	w.log.Info("join request recorded",
		logx.Int64("user_id", user.ID),
		logx.Int64("chat_id", chatID),
		logx.String("name", user.FirstName))
	return nil
}

// SendWelcome renders and delivers the marketing message. Best effort: every
// failure is logged and swallowed so it can never block the finalize step.
func (w *Workflow) SendWelcome(ctx context.Context, recipientID int64) {
	cfg := w.config()

	r, ok, err := w.store.FindRecipient(ctx, recipientID)
	if err != nil {
		w.log.Warn("welcome: recipient lookup failed", logx.Int64("user_id", recipientID), logx.Err(err))
		return
	}
	if !ok {
		return
	}

	caption := strings.ReplaceAll(cfg.Template, "{name}", EscapeMarkdown(r.FirstName))
	err = w.sender.SendVideo(ctx, r.ID, cfg.VideoURL, caption, cfg.Buttons)
	switch {
	case err == nil:
		w.log.Debug("welcome sent", logx.Int64("user_id", r.ID))
	case delivery.KindOf(err) == delivery.KindUnreachable:
		w.log.Info("welcome skipped, user unreachable", logx.Int64("user_id", r.ID))
	default:
		w.log.Warn("welcome send failed", logx.Int64("user_id", r.ID), logx.Err(err))
	}
}

// FinalizeApproval re-reads the recipient and, only if still pending,
// performs the platform approval and flips the row to approved. Missing or
// already-approved rows are a no-op, which makes duplicate or stale task
// firings harmless.
func (w *Workflow) FinalizeApproval(ctx context.Context, recipientID, chatID int64) error {
	r, ok, err := w.store.FindRecipient(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("finalize: lookup %d: %w", recipientID, err)
	}
	if !ok || r.Status != storage.StatusPending {
		return nil
	}

	if err := w.sender.ApproveJoinRequest(ctx, chatID, recipientID); err != nil {
		switch delivery.KindOf(err) {
		case delivery.KindUnreachable:
			// Request withdrawn or user gone; nothing left to approve.
			w.log.Info("finalize skipped, user unreachable", logx.Int64("user_id", recipientID))
			return nil
		case delivery.KindAlreadyHandled:
			// The pre-approval (or a human admin) already consumed the join
			// request. The row flip below is still ours to do.
			w.log.Debug("join request already consumed", logx.Int64("user_id", recipientID))
		default:
			return fmt.Errorf("finalize: approve %d: %w", recipientID, err)
		}
	}

	applied, err := w.store.ApproveRecipient(ctx, recipientID, w.now())
	if err != nil {
		return fmt.Errorf("finalize: mark approved %d: %w", recipientID, err)
	}
	if applied {
		w.log.Info("user approved", logx.Int64("user_id", recipientID), logx.Int64("chat_id", chatID))
	}
	return nil
}
