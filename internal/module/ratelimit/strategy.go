package ratelimit

import (
	"context"
	"time"

	"github.com/titleforge/server/internal/shared/config"
)

// Operation identifies a rate-limited operation class.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpPayment  Operation = "payment"
	OpAuth     Operation = "auth"
	OpSettings Operation = "settings"
)

// Rule bounds one operation to Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Table maps operations to their rules. The table is static
// configuration; the limiter itself never computes limits.
type Table map[Operation]Rule

// TableFromConfig builds the operation table from configuration.
func TableFromConfig(cfg *config.RateLimitConfig) Table {
	return Table{
		OpGenerate: {Limit: cfg.Generate.Limit, Window: cfg.Generate.Window},
		OpPayment:  {Limit: cfg.Payment.Limit, Window: cfg.Payment.Window},
		OpAuth:     {Limit: cfg.Auth.Limit, Window: cfg.Auth.Window},
		OpSettings: {Limit: cfg.Settings.Limit, Window: cfg.Settings.Window},
	}
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      int64 // epoch seconds when the current window expires
	RetryAfter time.Duration
}

// Strategy decides whether a keyed request fits within a rule. The
// fixed-window implementation is the default; a sliding-window or
// token-bucket strategy can replace it without touching callers.
type Strategy interface {
	Check(ctx context.Context, key string, rule Rule) (*Result, error)
}
