package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/billing"
	"github.com/titleforge/server/internal/module/user"
	"github.com/titleforge/server/internal/shared/config"
	"github.com/titleforge/server/internal/utils/metrics"
)

const testEmail = "creator@example.com"

type stubProvider struct {
	titles []string
	err    error
	calls  int
}

func (s *stubProvider) GenerateTitles(ctx context.Context, req Request) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.titles, nil
}

func newTestRouter(t *testing.T, provider Provider) (*gin.Engine, *billing.Tracker, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	handler := NewHandler(tracker, provider, metrics.New("test_generation_"+t.Name()), zap.NewNop())

	router := gin.New()
	api := router.Group("/api", func(c *gin.Context) {
		c.Set(user.EmailKey, testEmail)
	})
	handler.RegisterRoutes(api, func(c *gin.Context) { c.Next() })
	return router, tracker, mr
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func doGenerate(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const validBody = `{"description":"a video about learning guitar in thirty days","platform":"youtube"}`

func TestGenerateSuccess(t *testing.T) {
	provider := &stubProvider{titles: []string{"A", "B", "C", "D", "E"}}
	router, tracker, _ := newTestRouter(t, provider)

	w := doGenerate(router, validBody)
	require.Equal(t, http.StatusOK, w.Code)

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, resp.Titles)
	assert.Equal(t, 1, resp.Usage.Current)
	assert.Equal(t, 2, resp.Usage.Limit)
	assert.Equal(t, 1, resp.Usage.Remaining)

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.CurrentUsage)
	assert.EqualValues(t, 1, acct.TotalGenerations)

	history, err := tracker.History(context.Background(), testEmail)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "youtube", history[0].Platform)
}

func TestGenerateProviderFailureDoesNotConsumeQuota(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream down")}
	router, tracker, _ := newTestRouter(t, provider)

	w := doGenerate(router, validBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Unable to generate titles")

	acct, err := tracker.Account(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, 0, acct.CurrentUsage)
	assert.Zero(t, acct.TotalGenerations)
}

func TestGenerateQuotaExceeded(t *testing.T) {
	provider := &stubProvider{titles: []string{"A", "B", "C", "D", "E"}}
	router, _, mr := newTestRouter(t, provider)
	mr.Set("user:"+testEmail+":usage", "2")

	w := doGenerate(router, validBody)
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var resp struct {
		CurrentUsage int  `json:"currentUsage"`
		Limit        int  `json:"limit"`
		NeedsPayment bool `json:"needsPayment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.CurrentUsage)
	assert.Equal(t, 2, resp.Limit)
	assert.True(t, resp.NeedsPayment)
	assert.Zero(t, provider.calls)

	// The rejected attempt must not leave the provisional increment behind.
	assert.Equal(t, "2", mustGet(t, mr, "user:"+testEmail+":usage"))
}

func TestGenerateValidation(t *testing.T) {
	provider := &stubProvider{titles: []string{"A", "B", "C", "D", "E"}}
	router, _, _ := newTestRouter(t, provider)

	tests := []struct {
		name string
		body string
	}{
		{"missing description", `{"platform":"youtube"}`},
		{"short description", `{"description":"short","platform":"youtube"}`},
		{"missing platform", `{"description":"a sufficiently long description here"}`},
		{"bad platform", `{"description":"a sufficiently long description here","platform":"myspace"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGenerate(router, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, provider.calls)
		})
	}
}

func TestGenerateRequiresSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tracker := billing.NewTracker(client, &config.QuotaConfig{FreeLimit: 2}, zap.NewNop())
	handler := NewHandler(tracker, &stubProvider{}, metrics.New("test_generation_anon"), zap.NewNop())

	router := gin.New()
	handler.RegisterRoutes(router.Group("/api"), func(c *gin.Context) { c.Next() })

	w := doGenerate(router, validBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Please sign in to continue")
}

func TestGenerateStoreUnavailableFailsClosed(t *testing.T) {
	provider := &stubProvider{titles: []string{"A", "B", "C", "D", "E"}}
	router, _, mr := newTestRouter(t, provider)
	mr.Close()

	w := doGenerate(router, validBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Unable to check usage")
	assert.Zero(t, provider.calls)
}
