package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPassesThroughResult(t *testing.T) {
	err := Run(context.Background(), time.Second, "noop", nil, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestRunWrapsErrors(t *testing.T) {
	sentinel := errors.New("boom")
	err := Run(context.Background(), time.Second, "failing", nil, func(ctx context.Context) error {
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "failing")
}

func TestRunRecoversPanics(t *testing.T) {
	err := Run(context.Background(), time.Second, "exploding", nil, func(ctx context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRunEnforcesTimeout(t *testing.T) {
	err := Run(context.Background(), 10*time.Millisecond, "slow", nil, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunZeroTimeoutMeansNoDeadline(t *testing.T) {
	err := Run(context.Background(), 0, "unbounded", nil, func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return nil
	})
	assert.NoError(t, err)
}

func TestGoSurvivesPanic(t *testing.T) {
	done := make(chan struct{})
	Go(context.Background(), time.Second, "background", nil, func(ctx context.Context) error {
		defer close(done)
		panic("kaboom")
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("background job never ran")
	}
}
