package deadline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_OperationWins(t *testing.T) {
	v, err := Run(context.Background(), time.Second, func(context.Context) (string, error) {
		return "widget-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "widget-1", v)
}

func TestRun_OperationErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), time.Second, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsTimeout(err))
}

func TestRun_TimerWins(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Run(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_CancelsOperationContextOnTimeout(t *testing.T) {
	cancelled := make(chan struct{})
	_, err := Run(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	})
	require.True(t, IsTimeout(err))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("operation context was not cancelled")
	}
}

func TestRun_ParentCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, time.Second, func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
