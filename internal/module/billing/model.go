package billing

import (
	"fmt"
	"time"

	"github.com/titleforge/server/internal/shared/config"
)

// Tier is a user's billing plan category determining their monthly
// generation allowance.
type Tier string

const (
	TierFree       Tier = "free"
	TierPayPerUse  Tier = "pay_per_use"
	TierSubscriber Tier = "subscriber"
)

// IsValid checks if the tier is a known billing tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPayPerUse, TierSubscriber:
		return true
	default:
		return false
	}
}

// Limits holds the per-tier monthly generation allowances.
type Limits struct {
	Free       int
	PayPerUse  int
	Subscriber int
}

// LimitsFromConfig builds the tier limit table from configuration.
func LimitsFromConfig(cfg *config.QuotaConfig) Limits {
	return Limits{
		Free:       cfg.FreeLimit,
		PayPerUse:  cfg.PayPerUseLimit,
		Subscriber: cfg.SubscriberLimit,
	}
}

// For returns the monthly limit for a tier. Unknown tiers get the
// free allowance.
func (l Limits) For(tier Tier) int {
	switch tier {
	case TierPayPerUse:
		return l.PayPerUse
	case TierSubscriber:
		return l.Subscriber
	default:
		return l.Free
	}
}

// PaymentEvent is a verified payment-provider event that may change a
// user's tier. Tier transitions are driven exclusively by these
// events, never by client requests.
type PaymentEvent string

const (
	// EventOneTimePurchase is a completed pay-per-use checkout.
	EventOneTimePurchase PaymentEvent = "one_time_purchase"
	// EventSubscriptionActive is a subscription created or updated to active.
	EventSubscriptionActive PaymentEvent = "subscription_active"
	// EventSubscriptionEnded is a subscription canceled or unpaid.
	EventSubscriptionEnded PaymentEvent = "subscription_ended"
)

// transitions is the closed tier transition table. Anything absent
// here is rejected.
var transitions = map[Tier]map[PaymentEvent]Tier{
	TierFree: {
		EventOneTimePurchase:    TierPayPerUse,
		EventSubscriptionActive: TierSubscriber,
		EventSubscriptionEnded:  TierFree,
	},
	TierPayPerUse: {
		EventOneTimePurchase:    TierPayPerUse,
		EventSubscriptionActive: TierSubscriber,
		EventSubscriptionEnded:  TierFree,
	},
	TierSubscriber: {
		EventSubscriptionActive: TierSubscriber,
		EventSubscriptionEnded:  TierFree,
	},
}

// Transition returns the tier that results from applying a payment
// event to the current tier, or an error when the table has no entry.
func (t Tier) Transition(event PaymentEvent) (Tier, error) {
	from := t
	if !from.IsValid() {
		from = TierFree
	}
	next, ok := transitions[from][event]
	if !ok {
		return from, fmt.Errorf("no transition from tier %q on event %q", from, event)
	}
	return next, nil
}

// Account is a user's usage state for the current billing cycle.
type Account struct {
	Email            string    `json:"email"`
	Tier             Tier      `json:"tier"`
	CurrentUsage     int       `json:"currentUsage"`
	LastResetAt      time.Time `json:"lastResetAt"`
	TotalGenerations int64     `json:"totalGenerations"`
}

// HistoryRecord is one completed generation, kept for analytics.
type HistoryRecord struct {
	Timestamp   int64    `json:"timestamp"`
	Platform    string   `json:"platform"`
	Description string   `json:"description"`
	Titles      []string `json:"titles"`
}
