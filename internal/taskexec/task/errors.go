package task

import (
	"errors"
	"fmt"
)

// classified wraps an error with a retryability verdict. Operations (handlers,
// the runtime adapter) classify; the retry policy only asks.
type classified struct {
	err       error
	retryable bool
}

func (c *classified) Error() string {
	if c.retryable {
		return "transient: " + c.err.Error()
	}
	return "terminal: " + c.err.Error()
}

func (c *classified) Unwrap() error { return c.err }

// Transient marks err as retryable: daemon unreachable, registry flakiness,
// network timeouts. Returns nil when err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: true}
}

// Terminal marks err as not worth retrying: missing or malformed
// configuration, invalid specifications. Returns nil when err is nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: false}
}

// Terminalf is shorthand for Terminal(fmt.Errorf(...)).
func Terminalf(format string, args ...any) error {
	return Terminal(fmt.Errorf(format, args...))
}

// IsRetryable reports whether err should be retried. The outermost
// classification in the chain wins. Unclassified errors are retryable:
// infrastructure blips are the common case, and terminal conditions must be
// marked explicitly by whoever detected them.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var c *classified
	if errors.As(err, &c) {
		return c.retryable
	}
	return true
}

// IsTerminal is the complement of IsRetryable for non-nil errors.
func IsTerminal(err error) bool {
	return err != nil && !IsRetryable(err)
}
