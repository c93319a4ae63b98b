package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// NotificationTarget delivers a human-readable message to an external sink
// (chat app, webhook) so operators learn about liquidations and failures
// without tailing logs.
type NotificationTarget interface {
	Notify(ctx context.Context, message string) error
}

// ParseNotificationTarget parses one configured target URI into a concrete
// NotificationTarget. Supported schemes:
//
//	telegram:<chat_id>@<bot_id>
//	discord:<webhook_url>
func ParseNotificationTarget(uri string) (NotificationTarget, error) {
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok {
		return nil, fmt.Errorf("notification target %q missing scheme", uri)
	}

	switch scheme {
	case "telegram":
		chatID, token, ok := strings.Cut(rest, "@")
		if !ok || chatID == "" || token == "" {
			return nil, fmt.Errorf("telegram target %q must be telegram:<chat_id>@<bot_id>", uri)
		}
		return NewTelegramTarget(token, chatID), nil
	case "discord":
		if rest == "" {
			return nil, fmt.Errorf("discord target %q missing webhook URL", uri)
		}
		return NewDiscordTarget(rest), nil
	default:
		return nil, fmt.Errorf("unsupported notification target scheme %q", scheme)
	}
}

// TelegramTarget delivers messages via the Telegram Bot API's sendMessage
// endpoint.
type TelegramTarget struct {
	http   *resty.Client
	token  string
	chatID string
}

// NewTelegramTarget creates a TelegramTarget for the given bot token and
// chat ID.
func NewTelegramTarget(token, chatID string) *TelegramTarget {
	return &TelegramTarget{
		http: resty.New().
			SetBaseURL("https://api.telegram.org").
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		token:  token,
		chatID: chatID,
	}
}

// Notify posts message to the configured Telegram chat.
func (t *TelegramTarget) Notify(ctx context.Context, message string) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"disable_notification": true,
			"chat_id":              t.chatID,
			"text":                 message,
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return fmt.Errorf("telegram notify: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram notify: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// DiscordTarget delivers messages via a Discord incoming webhook.
type DiscordTarget struct {
	http       *resty.Client
	webhookURL string
}

// NewDiscordTarget creates a DiscordTarget posting to webhookURL.
func NewDiscordTarget(webhookURL string) *DiscordTarget {
	return &DiscordTarget{
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		webhookURL: webhookURL,
	}
}

// Notify posts message to the configured Discord webhook.
func (d *DiscordTarget) Notify(ctx context.Context, message string) error {
	resp, err := d.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": message}).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("discord notify: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord notify: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Broadcaster fans a single message out to every configured target,
// collecting per-target failures rather than aborting on the first one.
type Broadcaster struct {
	targets []NotificationTarget
}

// NewBroadcaster creates a Broadcaster over the given targets.
func NewBroadcaster(targets []NotificationTarget) *Broadcaster {
	return &Broadcaster{targets: targets}
}

// Notify sends message to every target, returning a combined error
// describing any that failed. A single target's failure doesn't stop
// delivery to the rest.
func (b *Broadcaster) Notify(ctx context.Context, message string) error {
	var errs []string
	for _, target := range b.targets {
		if err := target.Notify(ctx, message); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification delivery failed for %d target(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
