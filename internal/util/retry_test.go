package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryErrWithContext(t *testing.T) {
	errPersistent := errors.New("persistent")

	tests := []struct {
		name      string
		maxTries  int
		pause     time.Duration
		results   []error
		wantCalls int
		wantErr   error
	}{
		{name: "succeeds first time", maxTries: 3, results: []error{nil}, wantCalls: 1},
		{
			name:      "succeeds after transient failures",
			maxTries:  3,
			pause:     time.Millisecond,
			results:   []error{errors.New("throttled"), errors.New("throttled"), nil},
			wantCalls: 3,
		},
		{
			name:      "returns the last error",
			maxTries:  3,
			results:   []error{errors.New("first"), errors.New("second"), errPersistent},
			wantCalls: 3,
			wantErr:   errPersistent,
		},
		{
			name:      "zero tries means one",
			maxTries:  0,
			results:   []error{errPersistent},
			wantCalls: 1,
			wantErr:   errPersistent,
		},
		{
			name:      "context error from fn stops",
			maxTries:  5,
			results:   []error{errors.New("throttled"), context.DeadlineExceeded},
			wantCalls: 2,
			wantErr:   context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryErrWithContext(context.Background(), tt.maxTries, tt.pause, func(context.Context) error {
				err := tt.results[min(calls, len(tt.results)-1)]
				calls++
				return err
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetryErrWithContext_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryErrWithContext(ctx, 3, 0, func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryErrWithContext_CancelledDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := RetryErrWithContext(ctx, 3, time.Hour, func(context.Context) error {
		calls++
		cancel()
		return errors.New("throttled")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
