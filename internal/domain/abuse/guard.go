// Package abuse limits how often reward-triggering actions may succeed per
// actor within a rolling window.
package abuse

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class names a guarded action.
type Class string

const (
	ClassReferralApply Class = "referral_apply"
	ClassPasswordReset Class = "password_reset"
	ClassVote          Class = "vote"
)

// Policy allows MaxAttempts recorded attempts per actor within Window.
type Policy struct {
	Class       Class
	Window      time.Duration
	MaxAttempts int
}

func (p Policy) validate() error {
	if p.Class == "" || p.Window <= 0 || p.MaxAttempts <= 0 {
		return fmt.Errorf("invalid abuse policy %+v", p)
	}
	return nil
}

// Decision is the outcome of CheckAndRecord. An allowed decision holds the
// recorded attempt so it can be released again.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration

	key    string
	member string
}

var ErrRateLimited = errors.New("rate limited")

// LimitError is returned when a policy denies an attempt.
type LimitError struct {
	Class      Class
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Class, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter extracts the retry hint from err, or 0.
func RetryAfter(err error) time.Duration {
	var le *LimitError
	if errors.As(err, &le) {
		return le.RetryAfter
	}
	return 0
}

// Guard records attempts and denies those over the policy limit.
type Guard interface {
	// CheckAndRecord records an attempt for actorKey if the policy allows it.
	// A denied attempt is not recorded and yields a *LimitError.
	CheckAndRecord(ctx context.Context, actorKey string, p Policy) (Decision, error)
	// Release forgets an allowed attempt, for operations that failed for
	// reasons unrelated to abuse.
	Release(ctx context.Context, d Decision) error
}

func guardKey(class Class, actorKey string) string {
	return "abuse:" + string(class) + ":" + actorKey
}
