// Package bot wires the Telegram update stream to the admission workflow and
// the broadcast engine, and exposes the operator command surface.
package bot

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"gatebot/internal/admission"
	"gatebot/internal/broadcast"
	"gatebot/internal/config"
	"gatebot/internal/delivery"
	"gatebot/internal/storage"
	"gatebot/internal/telegram"
	"gatebot/pkg/logx"
)

type Router struct {
	adapter *telegram.Adapter
	cfgm    *config.Manager
	wf      *admission.Workflow
	engine  *broadcast.Engine
	store   storage.Store
	log     logx.Logger

	// baseCtx bounds background broadcast runs; set in Register.
	baseCtx context.Context
}

func NewRouter(adapter *telegram.Adapter, cfgm *config.Manager, wf *admission.Workflow,
	engine *broadcast.Engine, store storage.Store, log logx.Logger) *Router {
	return &Router{
		adapter: adapter,
		cfgm:    cfgm,
		wf:      wf,
		engine:  engine,
		store:   store,
		log:     log,
	}
}

// Register installs all handlers on the underlying bot.
func (r *Router) Register(ctx context.Context) {
	r.baseCtx = ctx
	b := r.adapter.Bot()

	b.Handle(tele.OnChatJoinRequest, r.onJoinRequest)

	b.Handle("/stats", r.adminOnly(r.onStats))
	b.Handle("/count", r.adminOnly(r.onCount))
	b.Handle("/send", r.adminOnly(r.onSend))
	b.Handle("/cancel", r.adminOnly(r.onCancelRun))

	b.Handle(&btnConfirm, r.adminOnly(r.onConfirmSend))
	b.Handle(&btnDismiss, r.adminOnly(r.onDismissSend))
}

// adminOnly drops updates from users outside the allow-list. Non-admins get
// no acknowledgement that the command exists.
func (r *Router) adminOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		if !r.allowed(sender.ID) {
			r.log.Debug("non-admin command ignored",
				logx.Int64("user_id", sender.ID),
				logx.String("text", c.Text()))
			return nil
		}
		return next(c)
	}
}

// allowed reports whether the user is on the operator allow-list. With no
// committed config nobody is.
func (r *Router) allowed(userID int64) bool {
	cfg := r.cfgm.Get()
	return cfg != nil && cfg.IsAdmin(userID)
}

// WatchConfig republishes live-reloaded tunables to the workflow and the
// engine. Blocks until ctx is cancelled.
func (r *Router) WatchConfig(ctx context.Context) {
	sub := r.cfgm.Subscribe(1)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-sub:
			if cfg == nil {
				continue
			}
			r.wf.Apply(AdmissionConfig(cfg))
			r.engine.Apply(BroadcastConfig(cfg))
			r.log.Info("runtime settings applied")
		}
	}
}

// AdmissionConfig resolves the file config into workflow settings. The
// config is validated at parse time, so duration errors cannot occur here.
func AdmissionConfig(cfg *config.Config) admission.Config {
	welcome, _ := config.ParseDurationOrDefault("admission.welcome_delay", cfg.Admission.WelcomeDelay, 0)
	approve, _ := config.ParseDurationOrDefault("admission.approve_delay", cfg.Admission.ApproveDelay, 0)

	approveOnRequest := true
	if cfg.Admission.ApproveOnRequest != nil {
		approveOnRequest = *cfg.Admission.ApproveOnRequest
	}

	var buttons [][]delivery.Button
	for _, row := range cfg.Admission.Welcome.Buttons {
		var out []delivery.Button
		for _, btn := range row {
			out = append(out, delivery.Button{Text: btn.Text, URL: btn.URL})
		}
		buttons = append(buttons, out)
	}

	return admission.Config{
		WelcomeDelay:     welcome,
		ApproveDelay:     approve,
		MaxAttempts:      cfg.Admission.MaxAttempts,
		ApproveOnRequest: approveOnRequest,
		VideoURL:         cfg.Admission.Welcome.VideoURL,
		Template:         cfg.Admission.Welcome.Template,
		Buttons:          buttons,
	}
}

// BroadcastConfig resolves the file config into engine settings.
func BroadcastConfig(cfg *config.Config) broadcast.Config {
	msgPause, _ := config.ParseDurationOrDefault("broadcast.message_pause", cfg.Broadcast.MessagePause, 0)
	batchPause, _ := config.ParseDurationOrDefault("broadcast.batch_pause", cfg.Broadcast.BatchPause, 0)
	return broadcast.Config{
		BatchSize:       cfg.Broadcast.BatchSize,
		MessagePause:    msgPause,
		BatchPause:      batchPause,
		MaxFloodRetries: cfg.Broadcast.MaxFloodRetries,
	}
}
