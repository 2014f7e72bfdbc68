package billing

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks a failed store read/write on the consult
// path. The quota tracker fails closed: callers must reject the
// consuming action with a retryable error.
var ErrStoreUnavailable = errors.New("usage store unavailable")

// LimitReachedError reports a quota check that found the allowance
// exhausted. NeedsPayment distinguishes a purchasable cap (free,
// pay-per-use) from the hard monthly subscriber cap.
type LimitReachedError struct {
	CurrentUsage   int
	Limit          int
	NeedsPayment   bool
	IsMonthlyLimit bool
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("usage limit reached: %d/%d", e.CurrentUsage, e.Limit)
}
