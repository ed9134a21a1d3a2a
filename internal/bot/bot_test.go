package bot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gatebot/internal/config"
	"gatebot/pkg/logx"
)

func TestAllowedGatesOnAdminList(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "telegram:\n  token: \"123:abc\"\n  admin_ids: [111]\nstorage:\n  path: \"bot.db\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgm := config.NewManager(path)
	if _, err := cfgm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	r := NewRouter(nil, cfgm, nil, nil, nil, logx.Nop())
	if !r.allowed(111) {
		t.Fatal("listed admin rejected")
	}
	if r.allowed(555) {
		t.Fatal("unlisted user allowed")
	}

	// Before any config is committed the gate stays shut.
	empty := NewRouter(nil, config.NewManager(path), nil, nil, nil, logx.Nop())
	if empty.allowed(111) {
		t.Fatal("gate open with no committed config")
	}
}

func TestAdmissionConfigMapping(t *testing.T) {
	off := false
	cfg := &config.Config{}
	cfg.Admission.WelcomeDelay = "7s"
	cfg.Admission.ApproveDelay = "12m"
	cfg.Admission.MaxAttempts = 4
	cfg.Admission.ApproveOnRequest = &off
	cfg.Admission.Welcome.VideoURL = "https://cdn.example.com/a.mp4"
	cfg.Admission.Welcome.Template = "Hi {name}"
	cfg.Admission.Welcome.Buttons = [][]config.LinkButton{
		{{Text: "Channel", URL: "https://t.me/x"}, {Text: "Site", URL: "https://example.com"}},
	}

	got := AdmissionConfig(cfg)
	if got.WelcomeDelay != 7*time.Second || got.ApproveDelay != 12*time.Minute {
		t.Fatalf("delays = %v / %v", got.WelcomeDelay, got.ApproveDelay)
	}
	if got.MaxAttempts != 4 || got.ApproveOnRequest {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if len(got.Buttons) != 1 || len(got.Buttons[0]) != 2 || got.Buttons[0][1].URL != "https://example.com" {
		t.Fatalf("buttons = %+v", got.Buttons)
	}
}

func TestAdmissionConfigDefaultsApproveOn(t *testing.T) {
	got := AdmissionConfig(&config.Config{})
	if !got.ApproveOnRequest {
		t.Fatal("approve_on_request should default to true")
	}
}

func TestBroadcastConfigMapping(t *testing.T) {
	cfg := &config.Config{}
	cfg.Broadcast.BatchSize = 25
	cfg.Broadcast.MessagePause = "80ms"
	cfg.Broadcast.BatchPause = "2s"
	cfg.Broadcast.MaxFloodRetries = 2

	got := BroadcastConfig(cfg)
	if got.BatchSize != 25 || got.MaxFloodRetries != 2 {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if got.MessagePause != 80*time.Millisecond || got.BatchPause != 2*time.Second {
		t.Fatalf("pauses = %v / %v", got.MessagePause, got.BatchPause)
	}
}
