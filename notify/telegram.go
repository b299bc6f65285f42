package notify

import (
	"context"
	"net/http"
	"net/url"

	"emperror.dev/errors"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/remote"
)

// Sink delivers a report to a single channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, r *Report) error
}

// Telegram sends reports through a bot as HTML messages.
type Telegram struct {
	http     *remote.Client
	endpoint string
	token    string
	chatID   string
}

// NewTelegram returns a Telegram sink. Requests go through the configured
// proxy when one is set.
func NewTelegram(cfg config.TelegramConfiguration) (*Telegram, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, errors.Wrap(err, "notify: invalid telegram proxy")
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &Telegram{
		http:     remote.NewClient("telegram", remote.WithHttpClient(&http.Client{Transport: transport}), remote.WithTimeout(sendTimeout)),
		endpoint: "https://api.telegram.org",
		token:    cfg.BotToken,
		chatID:   cfg.ChatID,
	}, nil
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Send(ctx context.Context, r *Report) error {
	if t.token == "" || t.chatID == "" {
		return errors.New("notify: telegram bot token or chat id is not configured")
	}
	res, err := t.http.PostJSON(ctx, t.endpoint+"/bot"+t.token+"/sendMessage", map[string]string{
		"chat_id":    t.chatID,
		"text":       r.HTML(),
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var body struct {
		Ok          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := res.BindJSON(&body); err != nil {
		return err
	}
	if !body.Ok {
		return errors.WithStack(remote.NewRequestError(t.Name(), body.Description))
	}
	return nil
}
