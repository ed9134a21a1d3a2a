package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// applyEnv overlays environment-sourced secrets onto the parsed file.
// The environment always wins so deployments never bake tokens into files.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("VIDEO_URL")); v != "" {
		c.Admission.Welcome.VideoURL = v
	}
	if c.Web.Addr == "" {
		if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
			c.Web.Addr = ":" + p
		}
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required (set TELEGRAM_BOT_TOKEN)")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if len(c.Telegram.AdminIDs) == 0 {
		return errors.New("telegram.admin_ids must list at least one admin")
	}

	for _, f := range []struct {
		path string
		raw  string
	}{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"admission.welcome_delay", c.Admission.WelcomeDelay},
		{"admission.approve_delay", c.Admission.ApproveDelay},
		{"admission.poll_interval", c.Admission.PollInterval},
		{"broadcast.message_pause", c.Broadcast.MessagePause},
		{"broadcast.batch_pause", c.Broadcast.BatchPause},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if c.Broadcast.BatchSize < 0 {
		return errors.New("broadcast.batch_size must be >= 0")
	}
	if c.Admission.MaxAttempts < 0 {
		return errors.New("admission.max_attempts must be >= 0")
	}
	if c.Digest.Enabled && c.Digest.Timezone != "" {
		if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
			return fmt.Errorf("digest.timezone: %w", err)
		}
	}

	for i, row := range c.Admission.Welcome.Buttons {
		for j, b := range row {
			if strings.TrimSpace(b.Text) == "" || strings.TrimSpace(b.URL) == "" {
				return fmt.Errorf("admission.welcome.buttons[%d][%d]: text and url are required", i, j)
			}
		}
	}
	return nil
}

// IsAdmin reports whether the given user is on the operator allow-list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
