// Package digest posts a periodic funnel summary to the admins.
package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"gatebot/internal/storage"
	"gatebot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string // cron spec
	Timezone string // IANA TZ; empty means local
}

// Notify delivers the digest text to the operators. The bot layer plugs in
// a send-to-admins function here.
type Notify func(ctx context.Context, text string)

type Service struct {
	cfg    Config
	store  storage.Store
	notify Notify
	log    logx.Logger

	c *cron.Cron
}

func New(cfg Config, store storage.Store, notify Notify, log logx.Logger) *Service {
	return &Service{cfg: cfg, store: store, notify: notify, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	spec := s.cfg.Schedule
	if spec == "" {
		spec = "0 9 * * *"
	}

	opts := []cron.Option{}
	if s.cfg.Timezone != "" {
		loc, err := time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			return fmt.Errorf("digest timezone: %w", err)
		}
		opts = append(opts, cron.WithLocation(loc))
	}

	s.c = cron.New(opts...)
	if _, err := s.c.AddFunc(spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("digest schedule %q: %w", spec, err)
	}
	s.c.Start()
	s.log.Info("digest scheduled", logx.String("spec", spec))
	return nil
}

func (s *Service) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
}

func (s *Service) run(ctx context.Context) {
	agg, err := s.store.AggregateByStatus(ctx)
	if err != nil {
		s.log.Warn("digest aggregate failed", logx.Err(err))
		return
	}

	approved := agg[storage.StatusApproved]
	pending := agg[storage.StatusPending]
	text := fmt.Sprintf("🗞 Daily digest\n👥 Total users: %d\n✅ Approved: %d\n⏳ Pending: %d",
		approved.Count+pending.Count, approved.Count, pending.Count)
	if s.notify != nil {
		s.notify(ctx, text)
	}
}
