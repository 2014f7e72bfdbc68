package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/titleforge/server/internal/shared/config"
)

// Service wraps the Stripe API for checkout, billing portal and
// webhook signature verification.
type Service struct {
	cfg *config.StripeConfig
}

// NewService creates a new payment service.
func NewService(cfg *config.StripeConfig) *Service {
	stripe.Key = cfg.SecretKey
	return &Service{cfg: cfg}
}

func (s *Service) priceID(priceType PriceType) string {
	if priceType == PriceSubscription {
		return s.cfg.PriceSubscription
	}
	return s.cfg.PricePayPerUse
}

// CreateCheckout creates a Stripe Checkout session for the given price
// and returns its hosted URL.
func (s *Service) CreateCheckout(ctx context.Context, email string, priceType PriceType) (string, error) {
	mode := stripe.CheckoutSessionModePayment
	if priceType == PriceSubscription {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(mode)),
		CustomerEmail: stripe.String(email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID(priceType)),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
		Metadata: map[string]string{
			"priceType": string(priceType),
			"email":     email,
		},
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortal returns a billing-portal URL for the customer with the
// given email, creating the customer first if Stripe has never seen it.
func (s *Service) CreatePortal(ctx context.Context, email string) (string, error) {
	customerID, err := s.findOrCreateCustomer(ctx, email)
	if err != nil {
		return "", err
	}

	sess, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.cfg.PortalReturnURL),
	})
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

func (s *Service) findOrCreateCustomer(ctx context.Context, email string) (string, error) {
	iter := customer.List(&stripe.CustomerListParams{
		Email: stripe.String(email),
		ListParams: stripe.ListParams{
			Limit: stripe.Int64(1),
		},
	})
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list customers: %w", err)
	}

	c, err := customer.New(&stripe.CustomerParams{
		Email: stripe.String(email),
	})
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

// GetCheckoutSession fetches a checkout session for verification.
func (s *Service) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	sess, err := checkoutsession.Get(sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return sess, nil
}

// CustomerEmail resolves a Stripe customer ID to the account email.
func (s *Service) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	c, err := customer.Get(customerID, nil)
	if err != nil {
		return "", fmt.Errorf("get customer: %w", err)
	}
	return c.Email, nil
}

// ConstructWebhookEvent verifies the webhook signature and decodes the event.
func (s *Service) ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
}
