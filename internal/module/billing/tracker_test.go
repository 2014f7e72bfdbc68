package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/shared/config"
)

const testEmail = "user@example.com"

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tracker := NewTracker(client, &config.QuotaConfig{
		FreeLimit:       2,
		PayPerUseLimit:  3,
		SubscriberLimit: 30,
		CreditGrant:     3,
		HistorySize:     50,
	}, zap.NewNop())
	return tracker, mr
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestEnsureMonthlyReset(t *testing.T) {
	ctx := context.Background()

	t.Run("first contact records timestamp without reset", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(usageKey(testEmail), "1")

		require.NoError(t, tracker.EnsureMonthlyReset(ctx, testEmail))

		assert.Equal(t, "1", mustGet(t, mr, usageKey(testEmail)))
		raw := mustGet(t, mr, lastResetKey(testEmail))
		_, err := time.Parse(time.RFC3339, raw)
		assert.NoError(t, err)
	})

	t.Run("same month is idempotent", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(usageKey(testEmail), "2")

		require.NoError(t, tracker.EnsureMonthlyReset(ctx, testEmail))
		marker := mustGet(t, mr, lastResetKey(testEmail))

		require.NoError(t, tracker.EnsureMonthlyReset(ctx, testEmail))

		assert.Equal(t, "2", mustGet(t, mr, usageKey(testEmail)))
		assert.Equal(t, marker, mustGet(t, mr, lastResetKey(testEmail)))
	})

	t.Run("new month zeroes usage", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		lastMonth := time.Now().UTC().AddDate(0, -1, 0)
		mr.Set(lastResetKey(testEmail), lastMonth.Format(time.RFC3339))
		mr.Set(usageKey(testEmail), "27")

		require.NoError(t, tracker.EnsureMonthlyReset(ctx, testEmail))

		assert.Equal(t, "0", mustGet(t, mr, usageKey(testEmail)))
	})

	t.Run("year boundary triggers reset", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		lastYear := time.Now().UTC().AddDate(-1, 0, 0)
		mr.Set(lastResetKey(testEmail), lastYear.Format(time.RFC3339))
		mr.Set(usageKey(testEmail), "5")

		require.NoError(t, tracker.EnsureMonthlyReset(ctx, testEmail))

		assert.Equal(t, "0", mustGet(t, mr, usageKey(testEmail)))
	})
}

func TestReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes within the free limit", func(t *testing.T) {
		tracker, _ := newTestTracker(t)

		res, err := tracker.Reserve(ctx, testEmail)
		require.NoError(t, err)
		assert.Equal(t, 1, res.NewUsage)
		assert.Equal(t, 2, res.Limit)
		assert.Equal(t, 1, res.Remaining())

		res, err = tracker.Reserve(ctx, testEmail)
		require.NoError(t, err)
		assert.Equal(t, 2, res.NewUsage)
		assert.Equal(t, 0, res.Remaining())
	})

	t.Run("limit reached without mutation", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(usageKey(testEmail), "2")

		_, err := tracker.Reserve(ctx, testEmail)

		var limitErr *LimitReachedError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, 2, limitErr.CurrentUsage)
		assert.Equal(t, 2, limitErr.Limit)
		assert.True(t, limitErr.NeedsPayment)
		assert.False(t, limitErr.IsMonthlyLimit)
		assert.Equal(t, "2", mustGet(t, mr, usageKey(testEmail)))
	})

	t.Run("subscriber hits the hard monthly cap", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(tierKey(testEmail), string(TierSubscriber))
		mr.Set(usageKey(testEmail), "30")

		_, err := tracker.Reserve(ctx, testEmail)

		var limitErr *LimitReachedError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, 30, limitErr.Limit)
		assert.False(t, limitErr.NeedsPayment)
		assert.True(t, limitErr.IsMonthlyLimit)
	})

	t.Run("concurrent reserves at the boundary admit exactly one", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(usageKey(testEmail), "1") // limit-1 for the free tier

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = tracker.Reserve(ctx, testEmail)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
			} else {
				var limitErr *LimitReachedError
				require.ErrorAs(t, err, &limitErr)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, "2", mustGet(t, mr, usageKey(testEmail)))
	})

	t.Run("fails closed when the store is down", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Close()

		_, err := tracker.Reserve(ctx, testEmail)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the reserved unit", func(t *testing.T) {
		tracker, mr := newTestTracker(t)

		res, err := tracker.Reserve(ctx, testEmail)
		require.NoError(t, err)

		require.NoError(t, tracker.Release(ctx, res))
		assert.Equal(t, "0", mustGet(t, mr, usageKey(testEmail)))
	})

	t.Run("never goes negative", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(usageKey(testEmail), "0")

		require.NoError(t, tracker.Release(ctx, &Reservation{Email: testEmail}))
		assert.Equal(t, "0", mustGet(t, mr, usageKey(testEmail)))
	})
}

func TestCommitAndHistory(t *testing.T) {
	ctx := context.Background()
	tracker, mr := newTestTracker(t)

	res, err := tracker.Reserve(ctx, testEmail)
	require.NoError(t, err)

	tracker.Commit(ctx, res, HistoryRecord{
		Timestamp:   time.Now().UnixMilli(),
		Platform:    "youtube",
		Description: "how I built a mechanical keyboard",
		Titles:      []string{"I Built a Keyboard From Scratch [DIY]"},
	})

	assert.Equal(t, "1", mustGet(t, mr, totalKey(testEmail)))

	records, err := tracker.History(ctx, testEmail)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "youtube", records[0].Platform)
	require.Len(t, records[0].Titles, 1)
}

func TestApplyOneTimeCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("erodes usage floored at zero", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(usageKey(testEmail), "1")

		require.NoError(t, tracker.ApplyOneTimeCredit(ctx, testEmail))

		assert.Equal(t, "0", mustGet(t, mr, usageKey(testEmail)))
		assert.Equal(t, string(TierPayPerUse), mustGet(t, mr, tierKey(testEmail)))
	})

	t.Run("partial erosion above the grant", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(usageKey(testEmail), "5")

		require.NoError(t, tracker.ApplyOneTimeCredit(ctx, testEmail))

		assert.Equal(t, "2", mustGet(t, mr, usageKey(testEmail)))
	})

	t.Run("rejected for subscribers", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(tierKey(testEmail), string(TierSubscriber))
		mr.Set(usageKey(testEmail), "4")

		err := tracker.ApplyOneTimeCredit(ctx, testEmail)

		assert.Error(t, err)
		assert.Equal(t, "4", mustGet(t, mr, usageKey(testEmail)))
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("activation promotes and resets usage", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(usageKey(testEmail), "2")

		require.NoError(t, tracker.ActivateSubscription(ctx, testEmail, "sub_123"))

		assert.Equal(t, string(TierSubscriber), mustGet(t, mr, tierKey(testEmail)))
		assert.Equal(t, "0", mustGet(t, mr, usageKey(testEmail)))
		assert.Equal(t, "sub_123", mustGet(t, mr, subIDKey(testEmail)))
	})

	t.Run("cancellation downgrades without resetting usage", func(t *testing.T) {
		tracker, mr := newTestTracker(t)
		mr.Set(tierKey(testEmail), string(TierSubscriber))
		mr.Set(usageKey(testEmail), "17")
		mr.Set(subIDKey(testEmail), "sub_123")

		require.NoError(t, tracker.EndSubscription(ctx, testEmail))

		assert.Equal(t, string(TierFree), mustGet(t, mr, tierKey(testEmail)))
		assert.Equal(t, "17", mustGet(t, mr, usageKey(testEmail)))
		assert.False(t, mr.Exists(subIDKey(testEmail)))
	})
}

func TestAccountDefaults(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	acct, err := tracker.Account(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, TierFree, acct.Tier)
	assert.Equal(t, 0, acct.CurrentUsage)
	assert.Zero(t, acct.TotalGenerations)
}
