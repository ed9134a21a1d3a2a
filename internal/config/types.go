package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Admission AdmissionConfig `json:"admission"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Digest    DigestConfig    `json:"digest,omitempty"`
	Web       WebConfig       `json:"web,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file; the TELEGRAM_BOT_TOKEN environment
	// variable takes precedence either way (secrets stay out of the config).
	Token    string  `json:"token,omitempty"`
	AdminIDs []int64 `json:"admin_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// AdmissionConfig controls the join-request funnel.
//
// All durations are Go duration strings (e.g. "5s", "10m").
//
// Defaults (when fields are omitted/zero):
//   - welcome_delay: "5s"
//   - approve_delay: "10m"
//   - poll_interval: "1s"
//   - max_attempts: 3
//   - approve_on_request: true
type AdmissionConfig struct {
	WelcomeDelay     string        `json:"welcome_delay,omitempty"`
	ApproveDelay     string        `json:"approve_delay,omitempty"`
	PollInterval     string        `json:"poll_interval,omitempty"`
	MaxAttempts      int           `json:"max_attempts,omitempty"`
	ApproveOnRequest *bool         `json:"approve_on_request,omitempty"`
	Welcome          WelcomeConfig `json:"welcome"`
}

type WelcomeConfig struct {
	// VideoURL may be left empty in the file; the VIDEO_URL environment
	// variable takes precedence.
	VideoURL string `json:"video_url,omitempty"`
	// Template is the caption body. "{name}" is replaced with the requester's
	// display name (MarkdownV2-escaped) at render time.
	Template string         `json:"template,omitempty"`
	Buttons  [][]LinkButton `json:"buttons,omitempty"`
}

type LinkButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// BroadcastConfig tunes the fan-out engine.
//
// Defaults: batch_size 100, message_pause "50ms", batch_pause "1500ms",
// max_flood_retries 5.
type BroadcastConfig struct {
	BatchSize       int    `json:"batch_size,omitempty"`
	MessagePause    string `json:"message_pause,omitempty"`
	BatchPause      string `json:"batch_pause,omitempty"`
	MaxFloodRetries int    `json:"max_flood_retries,omitempty"`
}

type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "0 9 * * *"
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Europe/Paris"
}

// WebConfig controls the keepalive HTTP server (hosting health checks).
type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080", or PORT env
	Pprof   bool   `json:"pprof,omitempty"`
}
