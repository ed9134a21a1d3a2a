package bot

import (
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"gatebot/internal/admission"
	"gatebot/internal/broadcast"
	"gatebot/internal/storage"
	"gatebot/pkg/logx"
)

var (
	btnConfirm = tele.Btn{Unique: "bc_confirm"}
	btnDismiss = tele.Btn{Unique: "bc_dismiss"}
)

func (r *Router) onJoinRequest(c tele.Context) error {
	req := c.Update().ChatJoinRequest
	if req == nil || req.Sender == nil || req.Chat == nil {
		return nil
	}
	user := admission.User{
		ID:        req.Sender.ID,
		FirstName: req.Sender.FirstName,
		Username:  req.Sender.Username,
	}
	if err := r.wf.OnJoinRequest(r.baseCtx, user, req.Chat.ID); err != nil {
		r.log.Error("join request handling failed", logx.Int64("user_id", user.ID), logx.Err(err))
	}
	return nil
}

func (r *Router) onStats(c tele.Context) error {
	agg, err := r.store.AggregateByStatus(r.baseCtx)
	if err != nil {
		r.log.Warn("stats query failed", logx.Err(err))
		return c.Send("❌ Could not fetch statistics.")
	}

	approved := agg[storage.StatusApproved]
	pending := agg[storage.StatusPending]
	total := approved.Count + pending.Count

	msg := fmt.Sprintf("📊 Bot statistics:\n👥 Total users: %d\n✅ Approved: %d\n⏳ Pending: %d",
		total, approved.Count, pending.Count)
	if last := latestOf(approved.LatestActivity, pending.LatestActivity); !last.IsZero() {
		msg += "\n🕒 Last activity: " + last.Local().Format("2006-01-02 15:04")
	}
	return c.Send(msg)
}

func (r *Router) onCount(c tele.Context) error {
	n, err := r.store.CountRecipients(r.baseCtx, "")
	if err != nil {
		r.log.Warn("count query failed", logx.Err(err))
		return c.Send("❌ Could not count users.")
	}
	return c.Send(fmt.Sprintf("👥 Total users: %d", n))
}

// onSend arms a broadcast. The admin must reply to the message to be
// broadcast; actual sending starts only after the confirm button.
func (r *Router) onSend(c tele.Context) error {
	m := c.Message()
	if m == nil || m.ReplyTo == nil {
		return c.Send("⚠️ Reply to a message with /send to broadcast it.")
	}

	token := broadcast.Token{ChatID: m.ReplyTo.Chat.ID, MessageID: m.ReplyTo.ID}
	n, err := r.store.CountRecipients(r.baseCtx, "")
	if err != nil {
		r.log.Warn("count query failed", logx.Err(err))
		return c.Send("❌ Could not count recipients.")
	}

	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(
		markup.Data("✅ Send now", btnConfirm.Unique, token.Encode()),
		markup.Data("✖️ Dismiss", btnDismiss.Unique),
	))
	return c.Send(fmt.Sprintf("📤 Broadcast this message to %d users?", n), markup)
}

func (r *Router) onConfirmSend(c tele.Context) error {
	token, err := broadcast.ParseToken(c.Data())
	if err != nil {
		r.log.Warn("bad broadcast token", logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "Stale broadcast request."})
	}
	if r.engine.Running() {
		return c.Respond(&tele.CallbackResponse{Text: "A broadcast is already running."})
	}

	_ = c.Edit("📤 Broadcast started…")
	statusMsg := c.Message()

	go r.runBroadcast(token, statusMsg)
	return c.Respond(&tele.CallbackResponse{})
}

func (r *Router) onDismissSend(c tele.Context) error {
	_ = c.Respond(&tele.CallbackResponse{})
	return c.Edit("Broadcast dismissed.")
}

func (r *Router) onCancelRun(c tele.Context) error {
	if r.engine.Cancel() {
		return c.Send("🛑 Broadcast cancellation requested.")
	}
	return c.Send("No broadcast is running.")
}

// runBroadcast executes the fan-out off the update goroutine, editing the
// status message as batches complete.
func (r *Router) runBroadcast(token broadcast.Token, statusMsg *tele.Message) {
	b := r.adapter.Bot()

	progress := func(done, total int, rep broadcast.Report) {
		if statusMsg == nil {
			return
		}
		text := fmt.Sprintf("📤 Broadcasting… batch %d/%d\n📨 Sent: %d\n❌ Failed: %d",
			done, total, rep.Sent, rep.Failed)
		if _, err := b.Edit(statusMsg, text); err != nil {
			r.log.Debug("progress edit failed", logx.Err(err))
		}
	}

	report, err := r.engine.Run(r.baseCtx, token, progress)
	if err != nil && err != broadcast.ErrBusy && !report.Cancelled {
		r.log.Error("broadcast failed", logx.Err(err))
	}

	summary := fmt.Sprintf("✅ Broadcast finished:\n📨 Sent: %d\n❌ Failed: %d\n🧹 Pruned: %d",
		report.Sent, report.Failed, report.Pruned)
	if report.Cancelled {
		summary = fmt.Sprintf("🛑 Broadcast cancelled:\n📨 Sent: %d\n❌ Failed: %d\n🧹 Pruned: %d",
			report.Sent, report.Failed, report.Pruned)
	}
	if statusMsg != nil {
		if _, err := b.Edit(statusMsg, summary); err != nil {
			r.log.Debug("summary edit failed", logx.Err(err))
		}
	}
}

func latestOf(times ...time.Time) time.Time {
	var out time.Time
	for _, t := range times {
		if t.After(out) {
			out = t
		}
	}
	return out
}
