package model

import "time"

type GrantStatus string

const (
	GrantStatusActive   GrantStatus = "ACTIVE"
	GrantStatusDisabled GrantStatus = "DISABLED"
	GrantStatusLimited  GrantStatus = "LIMITED"
	GrantStatusExpired  GrantStatus = "EXPIRED"
)

// Projection maps the panel's view of a grant onto a local subscription status.
func (s GrantStatus) Projection() SubscriptionStatus {
	switch s {
	case GrantStatusActive:
		return SubscriptionStatusActive
	case GrantStatusExpired:
		return SubscriptionStatusExpired
	default:
		return SubscriptionStatusDisabled
	}
}

// GrantSnapshot is the panel's current record of a user's access.
type GrantSnapshot struct {
	CorrelationID  string
	ShortID        string
	DisplayName    string
	Status         GrantStatus
	ExpiresAt      time.Time
	AccessURL      string
	ExternalUserID int64
}

// PaymentEventKind is what a provider notification means for the ledger.
type PaymentEventKind int

const (
	PaymentEventUnknown PaymentEventKind = iota
	PaymentEventPending
	PaymentEventSucceeded
	PaymentEventFailed
)

func (k PaymentEventKind) String() string {
	switch k {
	case PaymentEventPending:
		return "pending"
	case PaymentEventSucceeded:
		return "succeeded"
	case PaymentEventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (k PaymentEventKind) Terminal() bool {
	return k == PaymentEventSucceeded || k == PaymentEventFailed
}

// PaymentNotification is a verified, parsed provider callback.
type PaymentNotification struct {
	Provider   string
	ExternalID string
	Kind       PaymentEventKind
	RawStatus  string
}

// GrantEventKind is the closed set of panel events the engine understands.
type GrantEventKind int

const (
	GrantEventUnknown GrantEventKind = iota
	GrantEventCreated
	GrantEventModified
	GrantEventExpired
	GrantEventExpiring
	GrantEventDeleted
)

var grantEventNames = map[string]GrantEventKind{
	"user.created":             GrantEventCreated,
	"user.modified":            GrantEventModified,
	"user.enabled":             GrantEventModified,
	"user.disabled":            GrantEventModified,
	"user.limited":             GrantEventModified,
	"user.expired":             GrantEventExpired,
	"user.expires_in_72_hours": GrantEventExpiring,
	"user.expires_in_48_hours": GrantEventExpiring,
	"user.expires_in_24_hours": GrantEventExpiring,
	"user.deleted":             GrantEventDeleted,
}

// ParseGrantEventKind decodes "<category>.<action>". Anything unlisted is
// GrantEventUnknown.
func ParseGrantEventKind(name string) GrantEventKind {
	if k, ok := grantEventNames[name]; ok {
		return k
	}
	return GrantEventUnknown
}

func (k GrantEventKind) String() string {
	switch k {
	case GrantEventCreated:
		return "grant_created"
	case GrantEventModified:
		return "grant_modified"
	case GrantEventExpired:
		return "grant_expired"
	case GrantEventExpiring:
		return "grant_expiring"
	case GrantEventDeleted:
		return "grant_deleted"
	default:
		return "unknown"
	}
}

// GrantEvent is a verified panel callback.
type GrantEvent struct {
	Name     string
	Kind     GrantEventKind
	Snapshot GrantSnapshot
}
