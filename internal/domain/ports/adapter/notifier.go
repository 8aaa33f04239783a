package adapter

import "context"

// Notification templates.
const (
	TemplatePaymentSucceeded = "payment_succeeded"
	TemplatePaymentFailed    = "payment_failed"
	TemplateGrantExpired     = "grant_expired"
	TemplateGrantExpiring    = "grant_expiring"
	TemplateTrialStarted     = "trial_started"
	TemplateReferralCredited = "referral_credited"
)

type Notifier interface {
	Notify(ctx context.Context, externalUserID int64, template string, params map[string]string) error
}
