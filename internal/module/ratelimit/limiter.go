package ratelimit

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const keyPrefix = "ratelimit:"

// Limiter enforces per-operation request rates for a caller identity.
// Store failures never reject a request: the limiter fails open and
// logs, because product availability outranks strict enforcement.
type Limiter struct {
	strategy Strategy
	table    Table
	logger   *zap.Logger
}

// NewLimiter creates a limiter over the given strategy and operation table.
func NewLimiter(strategy Strategy, table Table, logger *zap.Logger) *Limiter {
	return &Limiter{
		strategy: strategy,
		table:    table,
		logger:   logger,
	}
}

// Check runs the rate limit check for (operation, caller). Operations
// absent from the table are unbounded.
func (l *Limiter) Check(ctx context.Context, callerID string, op Operation) *Result {
	rule, ok := l.table[op]
	if !ok {
		return &Result{Allowed: true}
	}

	key := fmt.Sprintf("%s%s:%s", keyPrefix, op, callerID)
	res, err := l.strategy.Check(ctx, key, rule)
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing request",
			zap.String("operation", string(op)),
			zap.Error(err),
		)
		return &Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}
	}
	return res
}
