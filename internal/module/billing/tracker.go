package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/shared/config"
)

// flooredDecrBy decrements a counter without letting it go negative.
var flooredDecrBy = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
v = v - tonumber(ARGV[1])
if v < 0 then v = 0 end
redis.call('SET', KEYS[1], v)
return v
`)

// Tracker enforces the per-tier monthly generation allowance and
// adjusts balances on payment confirmations. All state lives in
// Redis; every check re-reads current state so stateless handler
// replicas coordinate only through the store.
type Tracker struct {
	redis  redis.UniversalClient
	limits Limits
	grant  int
	keep   int64
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates a usage tracker.
func NewTracker(client redis.UniversalClient, cfg *config.QuotaConfig, logger *zap.Logger) *Tracker {
	keep := int64(cfg.HistorySize)
	if keep <= 0 {
		keep = 50
	}
	return &Tracker{
		redis:  client,
		limits: LimitsFromConfig(cfg),
		grant:  cfg.CreditGrant,
		keep:   keep,
		logger: logger,
		now:    time.Now,
	}
}

// Limits returns the tier limit table.
func (t *Tracker) Limits() Limits {
	return t.limits
}

func userKey(email string) string        { return "user:" + email }
func usageKey(email string) string       { return userKey(email) + ":usage" }
func tierKey(email string) string        { return userKey(email) + ":subscription" }
func lastResetKey(email string) string   { return userKey(email) + ":last_reset" }
func subIDKey(email string) string       { return userKey(email) + ":subscription_id" }
func totalKey(email string) string       { return userKey(email) + ":total_generations" }
func historyKey(email string) string     { return userKey(email) + ":history" }

// EnsureMonthlyReset zeroes the usage counter when the stored reset
// timestamp falls in a different calendar month or year. On first
// contact it only records the timestamp. Must run before any quota
// check in the same request.
func (t *Tracker) EnsureMonthlyReset(ctx context.Context, email string) error {
	raw, err := t.redis.Get(ctx, lastResetKey(email)).Result()
	now := t.now().UTC()

	if err == redis.Nil {
		if err := t.redis.Set(ctx, lastResetKey(email), now.Format(time.RFC3339), 0).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	lastReset, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Unparseable marker is treated as first contact.
		t.logger.Warn("invalid last_reset value, reinitializing",
			zap.String("value", raw))
		return t.redis.Set(ctx, lastResetKey(email), now.Format(time.RFC3339), 0).Err()
	}

	lastReset = lastReset.UTC()
	if lastReset.Month() == now.Month() && lastReset.Year() == now.Year() {
		return nil
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, usageKey(email), 0, 0)
	pipe.Set(ctx, lastResetKey(email), now.Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Account reads the user's current usage state. Fails closed on
// store errors.
func (t *Tracker) Account(ctx context.Context, email string) (*Account, error) {
	pipe := t.redis.Pipeline()
	tierCmd := pipe.Get(ctx, tierKey(email))
	usageCmd := pipe.Get(ctx, usageKey(email))
	resetCmd := pipe.Get(ctx, lastResetKey(email))
	totalCmd := pipe.Get(ctx, totalKey(email))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	acct := &Account{Email: email, Tier: TierFree}
	if raw, err := tierCmd.Result(); err == nil {
		if tier := Tier(raw); tier.IsValid() {
			acct.Tier = tier
		}
	}
	acct.CurrentUsage, _ = usageCmd.Int()
	acct.TotalGenerations, _ = totalCmd.Int64()
	if raw, err := resetCmd.Result(); err == nil {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			acct.LastResetAt = ts
		}
	}
	return acct, nil
}

// Reservation is one provisionally consumed generation. The caller
// commits it after the paid action succeeds, or releases it when the
// action fails so failed attempts never consume quota.
type Reservation struct {
	Email    string
	Tier     Tier
	NewUsage int
	Limit    int
}

// Remaining returns the allowance left after this reservation.
func (r *Reservation) Remaining() int {
	if rem := r.Limit - r.NewUsage; rem > 0 {
		return rem
	}
	return 0
}

// Reserve atomically consumes one unit of quota: increment first,
// then verify the post-increment value against the tier limit,
// rolling the increment back on overflow. Two concurrent calls at
// limit-1 cannot both succeed.
func (t *Tracker) Reserve(ctx context.Context, email string) (*Reservation, error) {
	tier := TierFree
	raw, err := t.redis.Get(ctx, tierKey(email)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err == nil {
		if stored := Tier(raw); stored.IsValid() {
			tier = stored
		}
	}
	limit := t.limits.For(tier)

	newUsage, err := t.redis.Incr(ctx, usageKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if int(newUsage) > limit {
		if err := flooredDecrBy.Run(ctx, t.redis, []string{usageKey(email)}, 1).Err(); err != nil {
			t.logger.Error("failed to roll back quota reservation",
				zap.String("email", email), zap.Error(err))
		}
		return nil, &LimitReachedError{
			CurrentUsage:   int(newUsage) - 1,
			Limit:          limit,
			NeedsPayment:   tier != TierSubscriber,
			IsMonthlyLimit: tier == TierSubscriber,
		}
	}

	return &Reservation{Email: email, Tier: tier, NewUsage: int(newUsage), Limit: limit}, nil
}

// Release returns a reserved unit after a failed provider call.
func (t *Tracker) Release(ctx context.Context, res *Reservation) error {
	if err := flooredDecrBy.Run(ctx, t.redis, []string{usageKey(res.Email)}, 1).Err(); err != nil {
		t.logger.Error("failed to release quota reservation",
			zap.String("email", res.Email), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Commit finalizes a reservation after a successful generation:
// bumps the lifetime counter and appends a history record, trimmed
// to the configured size. Accounting here is best effort; the quota
// unit itself was already consumed by Reserve.
func (t *Tracker) Commit(ctx context.Context, res *Reservation, record HistoryRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		t.logger.Error("failed to marshal history record", zap.Error(err))
		return
	}

	pipe := t.redis.Pipeline()
	pipe.Incr(ctx, totalKey(res.Email))
	pipe.LPush(ctx, historyKey(res.Email), payload)
	pipe.LTrim(ctx, historyKey(res.Email), 0, t.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Error("failed to record generation history",
			zap.String("email", res.Email), zap.Error(err))
	}
}

// History returns the most recent generation records, newest first.
func (t *Tracker) History(ctx context.Context, email string) ([]HistoryRecord, error) {
	raw, err := t.redis.LRange(ctx, historyKey(email), 0, t.keep-1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	records := make([]HistoryRecord, 0, len(raw))
	for _, item := range raw {
		var rec HistoryRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			t.logger.Warn("skipping malformed history record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ApplyOneTimeCredit grants a confirmed pay-per-use purchase by
// eroding the current cycle's consumed count, floored at zero.
func (t *Tracker) ApplyOneTimeCredit(ctx context.Context, email string) error {
	acct, err := t.Account(ctx, email)
	if err != nil {
		return err
	}

	next, err := acct.Tier.Transition(EventOneTimePurchase)
	if err != nil {
		t.logger.Warn("rejected tier transition",
			zap.String("email", email),
			zap.String("tier", string(acct.Tier)),
			zap.Error(err))
		return err
	}

	if err := flooredDecrBy.Run(ctx, t.redis, []string{usageKey(email)}, t.grant).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := t.redis.Set(ctx, tierKey(email), string(next), 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	t.logger.Info("applied pay-per-use credit",
		zap.String("email", email), zap.Int("grant", t.grant))
	return nil
}

// ActivateSubscription promotes the user to the subscriber tier and
// resets the cycle's usage.
func (t *Tracker) ActivateSubscription(ctx context.Context, email, subscriptionID string) error {
	acct, err := t.Account(ctx, email)
	if err != nil {
		return err
	}

	next, err := acct.Tier.Transition(EventSubscriptionActive)
	if err != nil {
		return err
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, tierKey(email), string(next), 0)
	pipe.Set(ctx, usageKey(email), 0, 0)
	if subscriptionID != "" {
		pipe.Set(ctx, subIDKey(email), subscriptionID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	t.logger.Info("subscription activated", zap.String("email", email))
	return nil
}

// EndSubscription downgrades the user to the free tier. Usage is left
// untouched; a cancellation does not grant a reset.
func (t *Tracker) EndSubscription(ctx context.Context, email string) error {
	acct, err := t.Account(ctx, email)
	if err != nil {
		return err
	}

	next, err := acct.Tier.Transition(EventSubscriptionEnded)
	if err != nil {
		return err
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, tierKey(email), string(next), 0)
	pipe.Del(ctx, subIDKey(email))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	t.logger.Info("subscription ended", zap.String("email", email))
	return nil
}
