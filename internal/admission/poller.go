package admission

import (
	"context"
	"time"

	"gatebot/internal/storage"
	"gatebot/pkg/logx"
)

const (
	pollBatchLimit = 100
	retryBackoff   = 30 * time.Second
)

// Poller drains due admission tasks from storage. Because the timers are
// rows, tasks scheduled before a restart fire on the first pass after the
// process comes back.
type Poller struct {
	wf       *Workflow
	store    Store
	log      logx.Logger
	interval time.Duration
}

func NewPoller(wf *Workflow, store Store, interval time.Duration, log logx.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{wf: wf, store: store, log: log, interval: interval}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("admission poller started", logx.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("admission poller stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	tasks, err := p.store.DueTasks(ctx, time.Now(), pollBatchLimit)
	if err != nil {
		p.log.Warn("due-task query failed", logx.Err(err))
		return
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.runTask(ctx, t)
	}
}

func (p *Poller) runTask(ctx context.Context, t storage.Task) {
	var err error
	switch t.Kind {
	case storage.TaskWelcome:
		// One-shot best effort; the workflow swallows delivery failures.
		p.wf.SendWelcome(ctx, t.RecipientID)
	case storage.TaskApprove:
		err = p.wf.FinalizeApproval(ctx, t.RecipientID, t.ChatID)
	default:
		p.log.Warn("unknown task kind", logx.String("kind", string(t.Kind)), logx.Int64("task_id", t.ID))
	}

	if err == nil {
		if derr := p.store.DeleteTask(ctx, t.ID); derr != nil {
			p.log.Warn("task delete failed", logx.Int64("task_id", t.ID), logx.Err(derr))
		}
		return
	}

	maxAttempts := p.wf.config().MaxAttempts
	if t.Attempts+1 >= maxAttempts {
		p.log.Warn("task abandoned after retries",
			logx.Int64("task_id", t.ID),
			logx.String("kind", string(t.Kind)),
			logx.Int64("user_id", t.RecipientID),
			logx.Int("attempts", t.Attempts+1),
			logx.Err(err))
		if derr := p.store.DeleteTask(ctx, t.ID); derr != nil {
			p.log.Warn("task delete failed", logx.Int64("task_id", t.ID), logx.Err(derr))
		}
		return
	}

	p.log.Warn("task failed; will retry",
		logx.Int64("task_id", t.ID),
		logx.String("kind", string(t.Kind)),
		logx.Err(err))
	if berr := p.store.BumpTaskAttempts(ctx, t.ID, time.Now().Add(retryBackoff)); berr != nil {
		p.log.Warn("task reschedule failed", logx.Int64("task_id", t.ID), logx.Err(berr))
	}
}
