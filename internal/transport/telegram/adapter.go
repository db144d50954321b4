// Package telegram is the telebot-backed send-only transport adapter.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"classwatch/internal/transport"
	"classwatch/pkg/logx"
)

type Config struct {
	Token   string
	Timeout time.Duration
}

type Adapter struct {
	bot *tele.Bot
	log logx.Logger
}

// New builds the adapter. The bot is never started: this process only sends,
// it does not consume updates.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: teleHTTPClient(timeout),
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{bot: b, log: log}, nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	_, err := a.bot.Send(chat, text, sendOpt)
	return classify(err)
}

// classify maps telebot errors onto the transport error taxonomy. A permanent
// platform refusal becomes RejectedError, a flood wait becomes ThrottledError,
// anything else passes through as a transient failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &transport.ThrottledError{
			RetryAfter: time.Duration(flood.RetryAfter) * time.Second,
			Err:        err,
		}
	}
	switch {
	case errors.Is(err, tele.ErrBlockedByUser):
		return &transport.RejectedError{Reason: "blocked by user", Err: err}
	case errors.Is(err, tele.ErrUserIsDeactivated):
		return &transport.RejectedError{Reason: "user deactivated", Err: err}
	case errors.Is(err, tele.ErrChatNotFound):
		return &transport.RejectedError{Reason: "chat not found", Err: err}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return &transport.RejectedError{Reason: "forbidden", Err: err}
	}
	return err
}

func teleHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
