package runner

import (
	"errors"
	"fmt"
)

var ErrNoJobFunc = errors.New("runner: job function is nil")

// NoRetry marks a job failure as permanent so no retries are spent on it.
//
//	return runner.NoRetry(fmt.Errorf("status %d", resp.StatusCode))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
