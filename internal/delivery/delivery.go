// Package delivery defines the abstract "deliver to recipient" capability the
// workflows depend on. The Telegram adapter implements it; tests use fakes.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a delivery failure. The workflows only ever branch on
// these three classes; everything platform-specific stays in the adapter.
type Kind int

const (
	// KindOther is a transient or unknown failure. No retry, no deletion.
	KindOther Kind = iota
	// KindUnreachable is permanent: the recipient blocked the bot or the
	// account is gone. The recipient row gets pruned.
	KindUnreachable
	// KindRateLimited carries a server-suggested wait before retrying.
	KindRateLimited
	// KindAlreadyHandled means the platform rejected the action because a
	// previous call (or a human admin) already performed it. Callers treat
	// it as success and move on to their own bookkeeping.
	KindAlreadyHandled
)

// Error is a classified delivery failure.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration // set when Kind == KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnreachable:
		return fmt.Sprintf("recipient unreachable: %v", e.Err)
	case KindRateLimited:
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	case KindAlreadyHandled:
		return fmt.Sprintf("already handled: %v", e.Err)
	default:
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Unreachable(err error) error {
	return &Error{Kind: KindUnreachable, Err: err}
}

func RateLimited(retryAfter time.Duration, err error) error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

func AlreadyHandled(err error) error {
	return &Error{Kind: KindAlreadyHandled, Err: err}
}

// KindOf extracts the failure class from err. Unclassified errors are Other.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindOther
}

// RetryAfterOf returns the server-suggested wait, or 0 for non-flood errors.
func RetryAfterOf(err error) time.Duration {
	var de *Error
	if errors.As(err, &de) && de.Kind == KindRateLimited {
		return de.RetryAfter
	}
	return 0
}

// Button is one inline link attached to a welcome message.
type Button struct {
	Text string
	URL  string
}

// Sender is the messaging transport consumed by the admission workflow and
// the broadcast engine.
type Sender interface {
	// SendVideo delivers a video by URL with a MarkdownV2 caption and
	// optional rows of link buttons.
	SendVideo(ctx context.Context, userID int64, videoURL, caption string, buttons [][]Button) error
	// CopyMessage re-sends an existing message to userID without a
	// forward header.
	CopyMessage(ctx context.Context, userID, fromChatID int64, messageID int) error
	// ApproveJoinRequest accepts a pending chat join request.
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
}
