package announce

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"quill/internal/services"
)

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Token   string
	Channel string
	// APIURL is a format string taking the token and the method name.
	APIURL         string
	TimeoutSeconds int
}

// Telegram posts HTML messages to a channel through a bot.
type Telegram struct {
	cfg        TelegramConfig
	httpClient *http.Client
}

var _ Channel = (*Telegram)(nil)

// NewTelegram validates the configuration and returns a channel. No request is
// made until the first Send.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.Channel = strings.TrimSpace(cfg.Channel)
	if cfg.Token == "" || cfg.Channel == "" {
		return nil, services.Wrap(services.ErrConfiguration, "announce", "telegram", "bot token and channel required", nil)
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = tgbotapi.APIEndpoint
	}
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Telegram{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}, nil
}

// WithHTTPClient replaces the HTTP client.
func (t *Telegram) WithHTTPClient(client *http.Client) *Telegram {
	if client != nil {
		t.httpClient = client
	}
	return t
}

// Send posts text with HTML parse mode and link previews enabled.
func (t *Telegram) Send(ctx context.Context, text string) error {
	msg := t.message(text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = false
	if _, err := t.bot(ctx).Send(msg); err != nil {
		return services.Wrap(services.ErrExternalService, "announce", "telegram send", t.cfg.Channel, err)
	}
	return nil
}

// Check verifies the bot token with getMe.
func (t *Telegram) Check(ctx context.Context) error {
	user, err := t.bot(ctx).GetMe()
	if err != nil {
		return services.Wrap(services.ErrExternalService, "announce", "telegram getMe", "", err)
	}
	if !user.IsBot {
		return fmt.Errorf("telegram token does not belong to a bot")
	}
	return nil
}

func (t *Telegram) message(text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(t.cfg.Channel, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	channel := t.cfg.Channel
	if !strings.HasPrefix(channel, "@") {
		channel = "@" + channel
	}
	return tgbotapi.NewMessageToChannel(channel, text)
}

// bot builds a client bound to ctx. The library issues requests without a
// context, so the HTTP client attaches it.
func (t *Telegram) bot(ctx context.Context) *tgbotapi.BotAPI {
	bot := &tgbotapi.BotAPI{
		Token:  t.cfg.Token,
		Buffer: 100,
		Client: contextClient{ctx: ctx, client: t.httpClient},
	}
	bot.SetAPIEndpoint(t.cfg.APIURL)
	return bot
}

type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}
