package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/billing"
	"github.com/titleforge/server/internal/utils/metrics"
)

const maxWebhookBody = 64 << 10

// WebhookHandler receives Stripe webhook events and applies them to
// the quota tracker. Tier changes happen here and nowhere else.
type WebhookHandler struct {
	service *Service
	tracker *billing.Tracker
	events  EventStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewWebhookHandler creates a new Stripe webhook handler.
func NewWebhookHandler(service *Service, tracker *billing.Tracker, events EventStore, m *metrics.Metrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		tracker: tracker,
		events:  events,
		metrics: m,
		logger:  logger,
	}
}

// RegisterRoutes registers the webhook endpoint.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Handle)
}

// Handle verifies, dedupes and applies one webhook event.
func (h *WebhookHandler) Handle(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	event, err := h.service.ConstructWebhookEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		h.metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	first, err := h.events.MarkProcessed(c.Request.Context(), event.ID, string(event.Type))
	if err != nil {
		h.logger.Error("webhook idempotency check failed", zap.Error(err), zap.String("event_id", event.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	if !first {
		h.metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	result := "applied"
	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(c.Request.Context(), event)
	case "customer.subscription.created", "customer.subscription.updated":
		err = h.handleSubscriptionChange(c.Request.Context(), event)
	case "customer.subscription.deleted":
		err = h.handleSubscriptionDeleted(c.Request.Context(), event)
	default:
		result = "ignored"
	}

	if err != nil {
		// A rejected tier transition is final; retrying the event
		// would not change the outcome, so acknowledge it.
		h.logger.Warn("webhook event not applied",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		result = "rejected"
	}

	h.metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), result).Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}
	return h.ApplyCheckoutSession(ctx, &sess)
}

// ApplyCheckoutSession credits a paid checkout session exactly once.
// Both the webhook and the verify endpoint funnel through here, keyed
// on the session ID so whichever arrives second is a no-op.
func (h *WebhookHandler) ApplyCheckoutSession(ctx context.Context, sess *stripe.CheckoutSession) error {
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil
	}

	email := checkoutEmail(sess)
	if email == "" {
		h.logger.Warn("checkout session without email", zap.String("session_id", sess.ID))
		return nil
	}

	first, err := h.events.MarkProcessed(ctx, "checkout:"+sess.ID, "checkout_credit")
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	switch PriceType(sess.Metadata["priceType"]) {
	case PriceSubscription:
		subID := ""
		if sess.Subscription != nil {
			subID = sess.Subscription.ID
		}
		return h.tracker.ActivateSubscription(ctx, email, subID)
	case PricePayPerUse:
		return h.tracker.ApplyOneTimeCredit(ctx, email)
	default:
		h.logger.Warn("checkout session with unknown price type",
			zap.String("session_id", sess.ID),
			zap.String("price_type", sess.Metadata["priceType"]))
		return nil
	}
}

// handleSubscriptionChange keeps the tier in step with the subscription
// status on create and renewal events: active subscriptions activate the
// subscriber tier, lapsed ones (canceled, unpaid) downgrade to free.
func (h *WebhookHandler) handleSubscriptionChange(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	if sub.Customer == nil {
		return nil
	}

	email, err := h.service.CustomerEmail(ctx, sub.Customer.ID)
	if err != nil {
		return err
	}
	if email == "" {
		return nil
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive:
		return h.tracker.ActivateSubscription(ctx, email, sub.ID)
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid:
		return h.tracker.EndSubscription(ctx, email)
	default:
		return nil
	}
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	if sub.Customer == nil {
		return nil
	}

	email, err := h.service.CustomerEmail(ctx, sub.Customer.ID)
	if err != nil {
		return err
	}
	if email == "" {
		return nil
	}
	return h.tracker.EndSubscription(ctx, email)
}

func checkoutEmail(sess *stripe.CheckoutSession) string {
	if sess.Metadata["email"] != "" {
		return sess.Metadata["email"]
	}
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		return sess.CustomerDetails.Email
	}
	return sess.CustomerEmail
}
