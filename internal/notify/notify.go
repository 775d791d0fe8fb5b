// Package notify forwards task failures to a Telegram chat. Send-only:
// the bot never consumes updates.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"freshen/internal/eventbus"
	"freshen/pkg/logx"
)

type Options struct {
	Token  string
	ChatID int64

	// RatePerSec caps outgoing messages. Zero means 1/s.
	RatePerSec int
}

type Notifier struct {
	bot    *tele.Bot
	chatID int64
	lim    *rate.Limiter
	log    logx.Logger
}

// New builds the notifier. Missing token or chat id returns (nil, nil):
// a nil Notifier is safe to Watch and does nothing.
func New(opts Options, log logx.Logger) (*Notifier, error) {
	if strings.TrimSpace(opts.Token) == "" || opts.ChatID == 0 {
		return nil, nil
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  opts.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	per := opts.RatePerSec
	if per <= 0 {
		per = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		bot:    bot,
		chatID: opts.ChatID,
		lim:    rate.NewLimiter(rate.Limit(per), per),
		log:    log,
	}, nil
}

// Watch forwards task-error events from the bus until ctx ends. Run it
// on its own goroutine.
func (n *Notifier) Watch(ctx context.Context, bus eventbus.Bus) {
	if n == nil || bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != eventbus.TaskError {
				continue
			}
			n.send(ev)
		}
	}
}

func (n *Notifier) send(ev eventbus.Event) {
	if !n.lim.Allow() {
		n.log.Debug("failure notification dropped (rate limited)", logx.String("task", ev.Task))
		return
	}
	_, err := n.bot.Send(&tele.Chat{ID: n.chatID}, FormatFailure(ev), &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	if err != nil {
		n.log.Warn("failure notification not sent", logx.String("task", ev.Task), logx.Err(err))
	}
}

// FormatFailure renders one task-error event as a notification line.
func FormatFailure(ev eventbus.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ task %s failed", ev.Task)
	if ev.Record != nil && ev.Record.LastElapsed.Valid {
		fmt.Fprintf(&b, " after %s", ev.Record.LastElapsed.String)
	}
	if ev.Err != "" {
		fmt.Fprintf(&b, "\n%s", ev.Err)
	}
	if ev.Record != nil {
		fmt.Fprintf(&b, "\nnext attempt: %s", ev.Record.Next.Format(time.RFC3339))
	}
	return b.String()
}
