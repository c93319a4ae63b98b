package observability

import (
	"context"
	"errors"
	"testing"
)

func TestParseNotificationTarget_Telegram(t *testing.T) {
	// telegram:<chat_id>@<bot_id> — the part before '@' is the chat id,
	// the part after is the bot id used in the sendMessage URL.
	target, err := ParseNotificationTarget("telegram:12345@BOT_TOKEN")
	if err != nil {
		t.Fatalf("ParseNotificationTarget: %v", err)
	}
	tg, ok := target.(*TelegramTarget)
	if !ok {
		t.Fatalf("got %T, want *TelegramTarget", target)
	}
	if tg.token != "BOT_TOKEN" || tg.chatID != "12345" {
		t.Errorf("token/chatID = %q/%q, want BOT_TOKEN/12345", tg.token, tg.chatID)
	}
}

func TestParseNotificationTarget_Discord(t *testing.T) {
	target, err := ParseNotificationTarget("discord:https://discord.com/api/webhooks/abc/def")
	if err != nil {
		t.Fatalf("ParseNotificationTarget: %v", err)
	}
	dc, ok := target.(*DiscordTarget)
	if !ok {
		t.Fatalf("got %T, want *DiscordTarget", target)
	}
	if dc.webhookURL != "https://discord.com/api/webhooks/abc/def" {
		t.Errorf("webhookURL = %q", dc.webhookURL)
	}
}

func TestParseNotificationTarget_RejectsMalformedTelegram(t *testing.T) {
	if _, err := ParseNotificationTarget("telegram:missing-separator"); err == nil {
		t.Fatal("expected error for malformed telegram target")
	}
}

func TestParseNotificationTarget_RejectsUnknownScheme(t *testing.T) {
	if _, err := ParseNotificationTarget("slack:https://hooks.slack.com/foo"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

type fakeTarget struct {
	err   error
	calls []string
}

func (f *fakeTarget) Notify(ctx context.Context, message string) error {
	f.calls = append(f.calls, message)
	return f.err
}

func TestBroadcaster_DeliversToAllTargets(t *testing.T) {
	a := &fakeTarget{}
	b := &fakeTarget{}
	bc := NewBroadcaster([]NotificationTarget{a, b})
	if err := bc.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(a.calls) != 1 || a.calls[0] != "hello" {
		t.Errorf("target a calls = %v", a.calls)
	}
	if len(b.calls) != 1 || b.calls[0] != "hello" {
		t.Errorf("target b calls = %v", b.calls)
	}
}

func TestBroadcaster_OneFailureDoesNotStopOthers(t *testing.T) {
	a := &fakeTarget{err: errors.New("boom")}
	b := &fakeTarget{}
	bc := NewBroadcaster([]NotificationTarget{a, b})
	if err := bc.Notify(context.Background(), "hello"); err == nil {
		t.Fatal("expected combined error")
	}
	if len(b.calls) != 1 {
		t.Errorf("target b should still have been notified, calls = %v", b.calls)
	}
}
