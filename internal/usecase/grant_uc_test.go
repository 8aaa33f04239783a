//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/usecase"
)

func event(kind model.GrantEventKind, snap model.GrantSnapshot) model.GrantEvent {
	return model.GrantEvent{Name: kind.String(), Kind: kind, Snapshot: snap}
}

// setGrant replaces the panel's current state of a grant.
func (h *harness) setGrant(id string, status model.GrantStatus, expiresAt time.Time) {
	h.panel.mu.Lock()
	defer h.panel.mu.Unlock()
	g := h.panel.grants[id]
	g.CorrelationID = id
	g.Status = status
	g.ExpiresAt = expiresAt
	h.panel.grants[id] = g
}

func TestGrantUseCase_HandleEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("expired disables once", func(t *testing.T) {
		h := newHarness(t)
		tr := h.tariff(t, 30, 10000)
		u := h.user(t, 1, nil)
		sub := h.activeSub(t, u, tr, -time.Hour)
		ev := event(model.GrantEventExpired, model.GrantSnapshot{CorrelationID: sub.CorrelationID})

		changed, err := h.grantUC.HandleEvent(ctx, ev)
		if err != nil || !changed {
			t.Fatalf("first: changed=%v err=%v", changed, err)
		}
		changed, err = h.grantUC.HandleEvent(ctx, ev)
		if err != nil || changed {
			t.Fatalf("second: changed=%v err=%v", changed, err)
		}
		if st := h.mustSub(t, sub.ID).Status; st != model.SubscriptionStatusDisabled {
			t.Errorf("status = %s", st)
		}
		if h.notifier.Count(adapter.TemplateGrantExpired) != 1 {
			t.Error("expected exactly one grant_expired notification")
		}
	})

	t.Run("modified projects the panel's current status and expiry", func(t *testing.T) {
		h := newHarness(t)
		tr := h.tariff(t, 30, 10000)
		u := h.user(t, 1, nil)
		sub := h.activeSub(t, u, tr, 5*day)
		newEnd := time.Now().UTC().Add(20 * day).Truncate(time.Second)
		modified := event(model.GrantEventModified, model.GrantSnapshot{CorrelationID: sub.CorrelationID})

		h.setGrant(sub.CorrelationID, model.GrantStatusActive, newEnd)
		changed, err := h.grantUC.HandleEvent(ctx, modified)
		if err != nil || !changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if got := h.mustSub(t, sub.ID).EndDate; !got.Equal(newEnd) {
			t.Errorf("end = %v, want %v", got, newEnd)
		}

		h.setGrant(sub.CorrelationID, model.GrantStatusActive, newEnd.Add(300*time.Millisecond))
		if changed, _ = h.grantUC.HandleEvent(ctx, modified); changed {
			t.Error("sub-second difference must not count as drift")
		}

		h.setGrant(sub.CorrelationID, model.GrantStatusLimited, newEnd)
		changed, _ = h.grantUC.HandleEvent(ctx, modified)
		if !changed || h.mustSub(t, sub.ID).Status != model.SubscriptionStatusDisabled {
			t.Error("limited grant should disable the subscription")
		}
	})

	t.Run("stale modified payload cannot roll back a paid renewal", func(t *testing.T) {
		h := newHarness(t)
		tr := h.tariff(t, 30, 10000)
		u := h.user(t, 1, nil)
		sub := h.activeSub(t, u, tr, 10*day)
		stale := event(model.GrantEventModified, model.GrantSnapshot{
			CorrelationID: sub.CorrelationID, Status: model.GrantStatusActive, ExpiresAt: sub.EndDate,
		})

		first := h.intent(t, u, tr, sub.ID)
		if _, err := h.paymentUC.Confirm(ctx, first.Payment.ID, usecase.SourceWebhook); err != nil {
			t.Fatal(err)
		}
		if changed, err := h.grantUC.HandleEvent(ctx, stale); err != nil || changed {
			t.Fatalf("stale event: changed=%v err=%v", changed, err)
		}
		if got := h.mustSub(t, sub.ID).EndDate; !approx(got, time.Now().Add(40*day)) {
			t.Fatalf("end date rolled back to %v", got)
		}

		second := h.intent(t, u, tr, sub.ID)
		if _, err := h.paymentUC.Confirm(ctx, second.Payment.ID, usecase.SourceWebhook); err != nil {
			t.Fatal(err)
		}
		want := time.Now().Add(70 * day)
		if got := h.mustSub(t, sub.ID).EndDate; !approx(got, want) {
			t.Errorf("end date = %v, want ~%v", got, want)
		}
		if g, _ := h.panel.FetchGrant(ctx, sub.CorrelationID); g == nil || !approx(g.ExpiresAt, want) {
			t.Errorf("panel grant = %+v, want expiry ~%v", g, want)
		}
	})

	t.Run("projection yields to a confirmation committed during the fetch", func(t *testing.T) {
		h := newHarness(t)
		tr := h.tariff(t, 30, 10000)
		u := h.user(t, 1, nil)
		sub := h.activeSub(t, u, tr, 10*day)
		in := h.intent(t, u, tr, sub.ID)
		before := model.GrantSnapshot{CorrelationID: sub.CorrelationID, Status: model.GrantStatusActive, ExpiresAt: sub.EndDate}

		h.panel.FetchGrantFunc = func(ctx context.Context, id string) (*model.GrantSnapshot, error) {
			if _, err := h.paymentUC.Confirm(ctx, in.Payment.ID, usecase.SourceWebhook); err != nil {
				t.Fatal(err)
			}
			return &before, nil
		}
		changed, err := h.grantUC.HandleEvent(ctx, event(model.GrantEventModified, before))
		if err != nil || changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if got := h.mustSub(t, sub.ID).EndDate; !approx(got, time.Now().Add(40*day)) {
			t.Errorf("end date = %v, want ~now+40d", got)
		}
	})

	t.Run("panel fetch failure is retryable", func(t *testing.T) {
		h := newHarness(t)
		tr := h.tariff(t, 30, 10000)
		sub := h.activeSub(t, h.user(t, 1, nil), tr, 5*day)
		h.panel.FetchGrantFunc = func(ctx context.Context, id string) (*model.GrantSnapshot, error) {
			return nil, errors.New("503 service unavailable")
		}

		_, err := h.grantUC.HandleEvent(ctx, event(model.GrantEventModified, model.GrantSnapshot{CorrelationID: sub.CorrelationID}))
		if !domain.IsAdapterError(err) || !usecase.IsRetryable(err) {
			t.Errorf("expected a retryable AdapterError, got %v", err)
		}
	})

	t.Run("panel never promotes a pending subscription", func(t *testing.T) {
		h := newHarness(t)
		tr := h.tariff(t, 30, 10000)
		u := h.user(t, 1, nil)
		in := h.intent(t, u, tr, "")

		changed, err := h.grantUC.HandleEvent(ctx, event(model.GrantEventModified, model.GrantSnapshot{
			CorrelationID: in.Subscription.CorrelationID, Status: model.GrantStatusActive, ExpiresAt: time.Now().Add(30 * day),
		}))
		if err != nil || changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if st := h.mustSub(t, in.Subscription.ID).Status; st != model.SubscriptionStatusPending {
			t.Errorf("status = %s", st)
		}
	})

	t.Run("deleted disables", func(t *testing.T) {
		h := newHarness(t)
		tr := h.tariff(t, 30, 10000)
		u := h.user(t, 1, nil)
		sub := h.activeSub(t, u, tr, 5*day)

		changed, err := h.grantUC.HandleEvent(ctx, event(model.GrantEventDeleted, model.GrantSnapshot{CorrelationID: sub.CorrelationID}))
		if err != nil || !changed || h.mustSub(t, sub.ID).Status != model.SubscriptionStatusDisabled {
			t.Errorf("changed=%v err=%v", changed, err)
		}
	})

	t.Run("expiring only notifies", func(t *testing.T) {
		h := newHarness(t)
		tr := h.tariff(t, 30, 10000)
		u := h.user(t, 1, nil)
		sub := h.activeSub(t, u, tr, day)

		changed, err := h.grantUC.HandleEvent(ctx, event(model.GrantEventExpiring, model.GrantSnapshot{CorrelationID: sub.CorrelationID}))
		if err != nil || changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if h.notifier.Count(adapter.TemplateGrantExpiring) != 1 {
			t.Error("expected grant_expiring notification")
		}
	})

	t.Run("unknown grants and kinds are ignored", func(t *testing.T) {
		h := newHarness(t)
		for _, ev := range []model.GrantEvent{
			{Name: "node.restarted", Kind: model.GrantEventUnknown},
			event(model.GrantEventExpired, model.GrantSnapshot{CorrelationID: "not-ours"}),
		} {
			changed, err := h.grantUC.HandleEvent(ctx, ev)
			if err != nil || changed {
				t.Errorf("%s: changed=%v err=%v", ev.Name, changed, err)
			}
		}
	})
}

func TestGrantUseCase_SyncActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tr := h.tariff(t, 30, 10000)

	inSync := h.activeSub(t, h.user(t, 1, nil), tr, 10*day)
	drifted := h.activeSub(t, h.user(t, 2, nil), tr, 10*day)
	missing := h.activeSub(t, h.user(t, 3, nil), tr, 10*day)
	broken := h.activeSub(t, h.user(t, 4, nil), tr, 10*day)

	h.panel.mu.Lock()
	g := h.panel.grants[drifted.CorrelationID]
	g.ExpiresAt = g.ExpiresAt.Add(5 * day)
	h.panel.grants[drifted.CorrelationID] = g
	delete(h.panel.grants, missing.CorrelationID)
	h.panel.mu.Unlock()

	h.panel.FetchGrantFunc = func(ctx context.Context, id string) (*model.GrantSnapshot, error) {
		if id == broken.CorrelationID {
			return nil, errors.New("503 service unavailable")
		}
		h.panel.mu.Lock()
		defer h.panel.mu.Unlock()
		g, ok := h.panel.grants[id]
		if !ok {
			return nil, domain.ErrNotFound
		}
		return &g, nil
	}

	report, err := h.grantUC.SyncActive(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := struct{ checked, updated, disabled, unchanged, failed int }{4, 1, 1, 1, 1}
	got := struct{ checked, updated, disabled, unchanged, failed int }{
		report.Checked, report.Updated, report.Disabled, report.Unchanged, report.Failed,
	}
	if got != want {
		t.Fatalf("report = %+v, want %+v", got, want)
	}

	if !h.mustSub(t, drifted.ID).EndDate.Equal(drifted.EndDate.Add(5 * day)) {
		t.Error("drift not corrected")
	}
	if h.mustSub(t, missing.ID).Status != model.SubscriptionStatusDisabled {
		t.Error("missing grant must disable the subscription")
	}
	if s := h.mustSub(t, broken.ID); s.Status != model.SubscriptionStatusActive || !s.EndDate.Equal(broken.EndDate) {
		t.Error("a failed fetch must leave the subscription untouched")
	}
	if !h.mustSub(t, inSync.ID).EndDate.Equal(inSync.EndDate) {
		t.Error("in-sync subscription changed")
	}
}
