package payment

import (
	"time"
)

// PriceType identifies which product a checkout session is for.
type PriceType string

const (
	PricePayPerUse    PriceType = "pay_per_use"
	PriceSubscription PriceType = "subscription"
)

// IsValid reports whether the price type is one we sell.
func (p PriceType) IsValid() bool {
	return p == PricePayPerUse || p == PriceSubscription
}

// ProcessedEvent records a Stripe event or checkout session that has
// already been applied, so webhook retries and the verify endpoint
// cannot double-credit an account.
type ProcessedEvent struct {
	ID         string    `gorm:"primaryKey"`
	Type       string    `gorm:"not null"`
	ReceivedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name.
func (ProcessedEvent) TableName() string {
	return "webhook_events"
}

// CheckoutRequest is the body for POST /payments/checkout.
type CheckoutRequest struct {
	PriceType PriceType `json:"priceType" binding:"required"`
}

// CheckoutResponse carries the Stripe-hosted redirect URL.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// VerifyRequest is the body for POST /payments/verify.
type VerifyRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// VerifyResponse reports the outcome of a checkout session.
type VerifyResponse struct {
	Paid      bool      `json:"paid"`
	PriceType PriceType `json:"priceType,omitempty"`
	Credited  bool      `json:"credited"`
}
