package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lance13c/vrt/internal/logging"
)

// transientSignatures are lowercase fragments of errors worth retrying
var transientSignatures = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection",
	"econnrefused",
	"econnreset",
	"socket hang up",
	"network",
	"net::err_",
	"navigation",
	"protocol error",
	"target closed",
	"websocket",
}

// IsTransient reports whether err looks like a flaky browser or network
// failure. Only the innermost causes are matched, so URLs and selectors added
// by wrapping never decide the outcome.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolClosed) || errors.Is(err, ErrEngineClosed) || errors.Is(err, ErrNotConsistent) {
		return false
	}
	if errors.Is(err, ErrAcquireTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	for _, cause := range rootCauses(err) {
		msg := strings.ToLower(cause.Error())
		for _, sig := range transientSignatures {
			if strings.Contains(msg, sig) {
				return true
			}
		}
	}
	return false
}

// rootCauses follows the wrap chain of err down to the errors that wrap nothing
func rootCauses(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var causes []error
		for _, e := range joined.Unwrap() {
			causes = append(causes, rootCauses(e)...)
		}
		return causes
	}
	if inner := errors.Unwrap(err); inner != nil {
		return rootCauses(inner)
	}
	return []error{err}
}

// withRetry runs fn up to attempts times, sleeping attempt*delay between
// transient failures. It stops early once ctx is done.
func withRetry(ctx context.Context, label string, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt == attempts {
			return err
		}

		wait := time.Duration(attempt) * delay
		logging.Warn("%s failed (attempt %d/%d), retrying in %v: %v", label, attempt, attempts, wait, err)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
	return err
}
