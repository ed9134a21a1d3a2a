// Package telegram adapts the delivery capability onto the Bot API via
// telebot. All error classification (blocked vs flood vs other) lives here.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"gatebot/internal/delivery"
	"gatebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b, log: log}, nil
}

// Bot exposes the underlying telebot instance for handler registration.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

// Start begins long-polling and blocks until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	a.log.Info("polling started", logx.Int64("bot_id", a.bot.Me.ID),
		logx.String("username", a.bot.Me.Username))
	a.bot.Start() // blocks until Stop()
	a.log.Info("polling stopped")
}

// SendText delivers a plain text message (operator notifications).
func (a *Adapter) SendText(ctx context.Context, userID int64, text string) error {
	_, err := a.bot.Send(&tele.User{ID: userID}, text)
	return classify(err)
}

func (a *Adapter) SendVideo(ctx context.Context, userID int64, videoURL, caption string, buttons [][]delivery.Button) error {
	video := &tele.Video{File: tele.FromURL(videoURL), Caption: caption}
	opt := &tele.SendOptions{ParseMode: tele.ModeMarkdownV2}
	if markup := inlineLinks(buttons); markup != nil {
		opt.ReplyMarkup = markup
	}
	_, err := a.bot.Send(&tele.User{ID: userID}, video, opt)
	return classify(err)
}

func (a *Adapter) CopyMessage(ctx context.Context, userID, fromChatID int64, messageID int) error {
	src := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: fromChatID}
	_, err := a.bot.Copy(&tele.User{ID: userID}, src)
	return classify(err)
}

func (a *Adapter) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	err := a.bot.ApproveJoinRequest(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	return classify(err)
}

func inlineLinks(rows [][]delivery.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, tele.InlineButton{Text: b.Text, URL: b.URL})
		}
		kb = append(kb, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

// classify maps telebot errors onto the delivery failure taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return delivery.RateLimited(time.Duration(flood.RetryAfter)*time.Second, err)
	}

	if errors.Is(err, tele.ErrBlockedByUser) || errors.Is(err, tele.ErrUserIsDeactivated) {
		return delivery.Unreachable(err)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 403:
			return delivery.Unreachable(err)
		// A join request approved twice (pre-approval plus the deferred
		// confirm) or raced by a human admin comes back as a 400 with one
		// of these markers. The action is done, not broken.
		case strings.Contains(apiErr.Description, "HIDE_REQUESTER_MISSING"),
			strings.Contains(apiErr.Description, "USER_ALREADY_PARTICIPANT"):
			return delivery.AlreadyHandled(err)
		}
	}

	return err
}
