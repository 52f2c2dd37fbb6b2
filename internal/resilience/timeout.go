package resilience

import (
	"context"
	"fmt"
	"time"
)

// MinTimeout is the smallest wall-clock timeout WithTimeout will accept.
const MinTimeout = time.Second

// ToolTimeout is returned when a call abandoned by WithTimeout exceeds its
// deadline. The worker goroutine is left to finish in the background; its
// result, if any, is discarded.
type ToolTimeout struct {
	Seconds float64
}

func (e *ToolTimeout) Error() string {
	return fmt.Sprintf("tool call exceeded %.1fs timeout", e.Seconds)
}

// WithTimeout runs fn with a wall-clock deadline. If fn has not returned by
// the deadline, WithTimeout returns *ToolTimeout immediately; the context
// passed to fn is cancelled, but WithTimeout does not wait for fn's goroutine
// to return, and its eventual result is discarded.
func WithTimeout[T any](ctx context.Context, seconds float64, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if seconds < MinTimeout.Seconds() {
		seconds = MinTimeout.Seconds()
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(seconds*float64(time.Second)))
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := fn(callCtx)
		done <- outcome{val, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-callCtx.Done():
		return zero, &ToolTimeout{Seconds: seconds}
	}
}
