package scheduler

import (
	"fmt"

	"github.com/cptspacemanspiff/activity-tracker/internal/apperr"
)

// MaxRetries is the number of retries a failing run gets before it is
// declared failed.
const MaxRetries = 3

// Result is the outcome of one run.
type Result int

const (
	Success Result = iota
	Retry
	Failure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Guard runs fn and converts its error or panic into a Result for the given
// zero-based attempt. Permission errors count as success so that work
// depending on a missing capability is skipped rather than retried.
// Integrity errors fail without retry. The returned error is fn's error,
// if any, for logging.
func Guard(attempt int, fn func() error) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			res = retryOrFail(attempt)
		}
	}()

	err = fn()
	switch {
	case err == nil:
		return Success, nil
	case apperr.IsPermission(err):
		return Success, err
	case apperr.IsIntegrity(err):
		return Failure, err
	default:
		return retryOrFail(attempt), err
	}
}

func retryOrFail(attempt int) Result {
	if attempt < MaxRetries {
		return Retry
	}
	return Failure
}
