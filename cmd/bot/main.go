package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gatebot/internal/admission"
	"gatebot/internal/bot"
	"gatebot/internal/broadcast"
	"gatebot/internal/config"
	"gatebot/internal/digest"
	"gatebot/internal/storage"
	"gatebot/internal/telegram"
	"gatebot/internal/web"
	"gatebot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	// Secrets come from the environment; .env is a local convenience.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	boot := logx.NewConsole("info")

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()
	cfgm.SetLogger(log)
	boot.Info("config loaded", logx.String("path", cfgPath))

	// Store connectivity is a startup precondition: refuse to serve without it.
	busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout}, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("init telegram: %w", err)
	}

	wf := admission.New(bot.AdmissionConfig(cfg), store, adapter, log.With(logx.String("comp", "admission")))
	engine := broadcast.New(bot.BroadcastConfig(cfg), store, adapter, log.With(logx.String("comp", "broadcast")))

	pollInterval, _ := config.ParseDurationOrDefault("admission.poll_interval", cfg.Admission.PollInterval, time.Second)
	poller := admission.NewPoller(wf, store, pollInterval, log.With(logx.String("comp", "poller")))

	router := bot.NewRouter(adapter, cfgm, wf, engine, store, log.With(logx.String("comp", "bot")))
	router.Register(ctx)

	dig := digest.New(digest.Config{
		Enabled:  cfg.Digest.Enabled,
		Schedule: cfg.Digest.Schedule,
		Timezone: cfg.Digest.Timezone,
	}, store, notifyAdmins(adapter, cfgm), log.With(logx.String("comp", "digest")))
	if err := dig.Start(ctx); err != nil {
		return fmt.Errorf("start digest: %w", err)
	}
	defer dig.Stop()

	webSrv := web.New(log)
	webSrv.Start(web.Config{Enabled: cfg.Web.Enabled, Addr: cfg.Web.Addr, Pprof: cfg.Web.Pprof})
	defer webSrv.Stop(context.Background())

	go func() {
		if err := cfgm.Watch(ctx); err != nil {
			log.Warn("config watcher exited", logx.Err(err))
		}
	}()
	go router.WatchConfig(ctx)
	go poller.Run(ctx)

	adapter.Start(ctx) // blocks until ctx is cancelled
	return nil
}

// notifyAdmins builds the digest sink: a plain-text message to every admin.
func notifyAdmins(adapter *telegram.Adapter, cfgm *config.Manager) digest.Notify {
	return func(ctx context.Context, text string) {
		cfg := cfgm.Get()
		if cfg == nil {
			return
		}
		for _, id := range cfg.Telegram.AdminIDs {
			_ = adapter.SendText(ctx, id, text)
		}
	}
}
