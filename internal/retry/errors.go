package retry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrTransient and ErrPermanent are sentinel errors providers use when they
// already know how a failure should be classified.
var (
	ErrTransient = errors.New("transient error")
	ErrPermanent = errors.New("permanent error")
)

// WrapTransient annotates an error so callers can detect transient failures.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// WrapPermanent annotates an error as permanent.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

var (
	nonRetryablePattern = regexp.MustCompile(`(?i)invalid (email|address|recipient)|authentication|unauthori[sz]ed|authorization|forbidden|\b(400|401|403|404)\b`)
	retryablePattern    = regexp.MustCompile(`(?i)network|timeout|timed out|econnreset|connection reset|connection refused|rate limit|too many requests|temporar|unavailable|\b(429|500|502|503|504)\b`)
)

// IsRetryable classifies err. Wrapped ErrPermanent/ErrTransient decide
// directly; otherwise the message is matched against the non-retryable set
// first and then the retryable set. Unmatched errors are retryable.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrPermanent), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return true
	}

	msg := err.Error()
	if nonRetryablePattern.MatchString(msg) {
		return false
	}
	if retryablePattern.MatchString(msg) {
		return true
	}
	return true
}
