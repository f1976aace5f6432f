// Package retryx wraps remote operations with bounded retries and
// exponential backoff. Only transient/network-classified failures are
// retried; everything else surfaces immediately. Falling back to the
// offline queue after exhaustion is the caller's decision.
package retryx

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ridelines/draftsync/internal/logging"
	"github.com/ridelines/draftsync/internal/store"
)

const (
	// DefaultBase is the first backoff interval; it doubles per attempt.
	DefaultBase = 100 * time.Millisecond

	// DefaultCap bounds a single backoff sleep.
	DefaultCap = 5 * time.Second

	// DefaultMaxAttempts bounds attempts when the caller passes zero.
	DefaultMaxAttempts = 3
)

// Controller executes operations with exponential backoff.
type Controller struct {
	base   time.Duration
	cap    time.Duration
	logger logging.Logger
}

func New(base, capDuration time.Duration, logger logging.Logger) *Controller {
	if base <= 0 {
		base = DefaultBase
	}
	if capDuration <= 0 {
		capDuration = DefaultCap
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Controller{base: base, cap: capDuration, logger: logger}
}

// Do runs op up to maxAttempts times, sleeping base×2^attempt (capped)
// between attempts. A failure that is not network-classified is returned
// without further attempts. The returned error matches the operation's
// error via errors.Is.
func (c *Controller) Do(ctx context.Context, maxAttempts int, op func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	attempt := 0
	b := retry.WithCappedDuration(c.cap, retry.NewExponential(c.base))
	b = retry.WithMaxRetries(uint64(maxAttempts-1), b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if store.IsNetwork(err) {
			c.logger.Warn(ctx, "transient failure, will retry",
				"attempt", attempt, "max_attempts", maxAttempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}
