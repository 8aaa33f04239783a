//go:build !integration

package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/infra/i18n"
	"vpn-subscription-bot/internal/infra/worker"
)

func TestNotifier_RendersAndSends(t *testing.T) {
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		t.Fatal(err)
	}
	api := newFakeAPI()
	n := NewNotifier(api, tr, newTestLogger())

	err = n.Notify(context.Background(), 42, adapter.TemplatePaymentSucceeded, map[string]string{
		"tariff": "Month", "expires_at": "2026-11-17 10:00", "access_url": "https://panel/sub/x",
	})
	if err != nil {
		t.Fatal(err)
	}
	msg := api.sent[0].(tgbotapi.MessageConfig)
	if msg.ChatID != 42 || !strings.Contains(msg.Text, "Month") || !strings.Contains(msg.Text, "https://panel/sub/x") {
		t.Errorf("message = %+v", msg)
	}

	if err := n.Notify(context.Background(), 42, "no_such_template", nil); err == nil {
		t.Error("expected render error")
	}
	api.SendErr = errors.New("blocked by user")
	if err := n.Notify(context.Background(), 42, adapter.TemplatePaymentFailed, nil); err == nil {
		t.Error("expected send error")
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingNotifier) Notify(ctx context.Context, to int64, template string, params map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, template)
	return r.err
}

func TestAsyncNotifier_DeliversInBackground(t *testing.T) {
	next := &recordingNotifier{err: errors.New("delivery failed")}
	pool := worker.NewPool(1, newTestLogger())
	n := NewAsyncNotifier(next, pool, time.Second, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := n.Notify(ctx, 1, adapter.TemplateGrantExpired, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel() // the caller's context must not cancel the delivery

	pool.Start(context.Background())
	pool.Stop()

	if len(next.sent) != 1 || next.sent[0] != adapter.TemplateGrantExpired {
		t.Errorf("sent = %v", next.sent)
	}
}
