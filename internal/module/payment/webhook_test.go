package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/billing"
	"github.com/titleforge/server/internal/shared/config"
	"github.com/titleforge/server/internal/utils/metrics"
)

const (
	testEmail         = "creator@example.com"
	testWebhookSecret = "whsec_test"
)

type memoryEventStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{seen: make(map[string]bool)}
}

func (s *memoryEventStore) MarkProcessed(ctx context.Context, id, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[id] {
		return false, nil
	}
	s.seen[id] = true
	return true, nil
}

func newTestWebhook(t *testing.T) (*WebhookHandler, *billing.Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tracker := billing.NewTracker(client, &config.QuotaConfig{
		FreeLimit:       2,
		PayPerUseLimit:  3,
		SubscriberLimit: 30,
		CreditGrant:     3,
		HistorySize:     50,
	}, zap.NewNop())

	service := NewService(&config.StripeConfig{
		SecretKey:     "sk_test",
		WebhookSecret: testWebhookSecret,
	})
	handler := NewWebhookHandler(service, tracker, newMemoryEventStore(), metrics.New("test_payment_"+t.Name()), zap.NewNop())
	return handler, tracker, mr
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEventPayload(t *testing.T, sessionID, priceType string, extra map[string]any) []byte {
	t.Helper()
	object := map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": "paid",
		"metadata": map[string]string{
			"priceType": priceType,
			"email":     testEmail,
		},
	}
	for k, v := range extra {
		object[k] = v
	}
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + sessionID,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        "checkout.session.completed",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func postWebhook(handler *WebhookHandler, payload []byte, signature string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler.RegisterRoutes(router.Group("/api"))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	handler, _, mr := newTestWebhook(t)

	payload := checkoutEventPayload(t, "cs_1", "pay_per_use", nil)
	w := postWebhook(handler, payload, signPayload(payload, "whsec_wrong"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mr.Keys())
}

func TestWebhookPayPerUseCheckout(t *testing.T) {
	handler, tracker, mr := newTestWebhook(t)
	mr.Set("user:"+testEmail+":usage", "2")

	payload := checkoutEventPayload(t, "cs_1", "pay_per_use", nil)
	w := postWebhook(handler, payload, signPayload(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, billing.TierPayPerUse, acct.Tier)
	// Credit decrements usage by the grant, floored at zero.
	assert.Equal(t, 0, acct.CurrentUsage)
}

func TestWebhookSubscriptionCheckout(t *testing.T) {
	handler, tracker, mr := newTestWebhook(t)
	mr.Set("user:"+testEmail+":usage", "2")

	payload := checkoutEventPayload(t, "cs_2", "subscription", map[string]any{
		"subscription": "sub_123",
	})
	w := postWebhook(handler, payload, signPayload(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, billing.TierSubscriber, acct.Tier)
	assert.Equal(t, 0, acct.CurrentUsage)
	assert.Equal(t, "sub_123", mustGet(t, mr, "user:"+testEmail+":subscription_id"))
}

func TestWebhookDuplicateEventIsSkipped(t *testing.T) {
	handler, tracker, _ := newTestWebhook(t)

	payload := checkoutEventPayload(t, "cs_3", "pay_per_use", nil)
	w := postWebhook(handler, payload, signPayload(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	// Stripe retries deliver the identical event ID.
	w = postWebhook(handler, payload, signPayload(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, billing.TierPayPerUse, acct.Tier)
}

func TestApplyCheckoutSessionDedupesAcrossPaths(t *testing.T) {
	handler, tracker, mr := newTestWebhook(t)
	mr.Set("user:"+testEmail+":usage", "3")
	ctx := context.Background()

	sess := &stripe.CheckoutSession{
		ID:            "cs_4",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		Metadata:      map[string]string{"priceType": "pay_per_use", "email": testEmail},
	}

	// Verify endpoint lands first, then the webhook retries the same session.
	require.NoError(t, handler.ApplyCheckoutSession(ctx, sess))
	require.NoError(t, handler.ApplyCheckoutSession(ctx, sess))

	acct, err := tracker.Account(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, 0, acct.CurrentUsage)
}

func TestApplyCheckoutSessionIgnoresUnpaid(t *testing.T) {
	handler, tracker, _ := newTestWebhook(t)

	sess := &stripe.CheckoutSession{
		ID:            "cs_5",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		Metadata:      map[string]string{"priceType": "pay_per_use", "email": testEmail},
	}
	require.NoError(t, handler.ApplyCheckoutSession(context.Background(), sess))

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, billing.TierFree, acct.Tier)
}

func TestWebhookSubscriberCannotBuyOneTimeCredit(t *testing.T) {
	handler, tracker, mr := newTestWebhook(t)
	mr.Set("user:"+testEmail+":subscription", string(billing.TierSubscriber))
	mr.Set("user:"+testEmail+":usage", "10")

	payload := checkoutEventPayload(t, "cs_6", "pay_per_use", nil)
	w := postWebhook(handler, payload, signPayload(payload, testWebhookSecret))

	// Acknowledged so Stripe stops retrying, but no state changes.
	require.Equal(t, http.StatusOK, w.Code)

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, billing.TierSubscriber, acct.Tier)
	assert.Equal(t, 10, acct.CurrentUsage)
}

func subscriptionEventPayload(t *testing.T, eventType, subID, customerID, status string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + subID + "_" + status,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data": map[string]any{"object": map[string]any{
			"id":       subID,
			"object":   "subscription",
			"status":   status,
			"customer": customerID,
		}},
	})
	require.NoError(t, err)
	return payload
}

// stubStripeAPI points the Stripe client at a local server for the
// duration of the test.
func stubStripeAPI(t *testing.T, fn http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(fn)
	t.Cleanup(srv.Close)
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL: stripe.String(srv.URL),
	}))
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, nil) })
}

func stubCustomerLookup(t *testing.T, customerID, email string) {
	t.Helper()
	stubStripeAPI(t, func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/customers/"+customerID, r.URL.Path)
		fmt.Fprintf(rw, `{"id":%q,"object":"customer","email":%q}`, customerID, email)
	})
}

func TestWebhookUnpaidSubscriptionDowngrades(t *testing.T) {
	handler, tracker, mr := newTestWebhook(t)
	mr.Set("user:"+testEmail+":subscription", string(billing.TierSubscriber))
	mr.Set("user:"+testEmail+":usage", "12")
	mr.Set("user:"+testEmail+":subscription_id", "sub_123")
	stubCustomerLookup(t, "cus_1", testEmail)

	payload := subscriptionEventPayload(t, "customer.subscription.updated", "sub_123", "cus_1", "unpaid")
	w := postWebhook(handler, payload, signPayload(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, billing.TierFree, acct.Tier)
	// Lapsing does not refund the cycle's consumed generations.
	assert.Equal(t, 12, acct.CurrentUsage)
}

func TestWebhookActiveSubscriptionActivates(t *testing.T) {
	handler, tracker, mr := newTestWebhook(t)
	mr.Set("user:"+testEmail+":usage", "2")
	stubCustomerLookup(t, "cus_2", testEmail)

	payload := subscriptionEventPayload(t, "customer.subscription.created", "sub_456", "cus_2", "active")
	w := postWebhook(handler, payload, signPayload(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, billing.TierSubscriber, acct.Tier)
	assert.Equal(t, 0, acct.CurrentUsage)
	assert.Equal(t, "sub_456", mustGet(t, mr, "user:"+testEmail+":subscription_id"))
}

func TestWebhookIncompleteSubscriptionIgnored(t *testing.T) {
	handler, tracker, _ := newTestWebhook(t)
	stubCustomerLookup(t, "cus_3", testEmail)

	payload := subscriptionEventPayload(t, "customer.subscription.updated", "sub_789", "cus_3", "past_due")
	w := postWebhook(handler, payload, signPayload(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, billing.TierFree, acct.Tier)
}

func TestApplyCheckoutSessionIgnoresUnknownPriceType(t *testing.T) {
	handler, tracker, mr := newTestWebhook(t)
	mr.Set("user:"+testEmail+":usage", "2")

	sess := &stripe.CheckoutSession{
		ID:            "cs_7",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		Metadata:      map[string]string{"priceType": "lifetime", "email": testEmail},
	}
	require.NoError(t, handler.ApplyCheckoutSession(context.Background(), sess))

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, billing.TierFree, acct.Tier)
	assert.Equal(t, 2, acct.CurrentUsage)
}
