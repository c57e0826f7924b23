package util

import (
	"context"
	"errors"
	"time"
)

// RetryErrWithContext calls fn up to maxTries times until it returns nil,
// waiting pause between attempts. maxTries <= 0 means one attempt. Context
// errors, from ctx or returned by fn, end the loop at once; otherwise the last
// error from fn is returned.
func RetryErrWithContext(ctx context.Context, maxTries int, pause time.Duration, fn func(context.Context) error) error {
	maxTries = max(maxTries, 1)

	var lastErr error
	for attempt := 1; attempt <= maxTries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		if attempt == maxTries || pause <= 0 {
			continue
		}
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}
