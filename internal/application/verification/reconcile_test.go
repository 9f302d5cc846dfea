package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-phone-verify/internal/domain"
	"github.com/go-phone-verify/internal/pkg/ttlcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReconcile_CacheHitMakesNoNetworkCall(t *testing.T) {
	var notified int
	f := newFixture(t, func(o *Options) {
		o.OnVerified = func(string, domain.VerifiedPhone) { notified++ }
	})
	ctx := context.Background()
	verifiedAt := time.Now().Add(-23 * time.Hour)
	ttlcache.NewTyped[domain.VerifiedPhone](f.store).Set(ctx, VerifiedKey("user-1"),
		domain.VerifiedPhone{FullNumber: "+41791234567", VerifiedAt: verifiedAt}, 24*time.Hour)

	require.NoError(t, f.s.Reconcile(ctx))

	snap := f.s.Snapshot()
	assert.Equal(t, "verified", snap.Step)
	assert.Equal(t, "+41", snap.Prefix)
	assert.Equal(t, "791234567", snap.Number)
	assert.Equal(t, 1, notified)
	f.ids.AssertNotCalled(t, "LookupVerifiedPhone", mock.Anything, mock.Anything)
	f.ids.AssertNotCalled(t, "RecordVerifiedPhone", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.del.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_RemoteHitIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := &domain.VerifiedPhone{Prefix: "+49", Number: "15112345678"}
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").Return(remote, nil).Once()

	require.NoError(t, f.s.Reconcile(ctx))
	assert.Equal(t, StepVerified, f.s.Step())

	cached, ok := ttlcache.NewTyped[domain.VerifiedPhone](f.store).Get(ctx, VerifiedKey("user-1"))
	require.True(t, ok)
	assert.Equal(t, "+4915112345678", cached.FullNumber)
	assert.False(t, cached.VerifiedAt.IsZero())
}

func TestReconcile_DefaultPrefillsInitialNumber(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.InitialPrefix = "+41"
		o.InitialNumber = "079 123 45 67"
	})
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").Return(nil, nil).Once()

	require.NoError(t, f.s.Reconcile(context.Background()))
	snap := f.s.Snapshot()
	assert.Equal(t, "collecting", snap.Step)
	assert.Equal(t, "+41", snap.Prefix)
	assert.Equal(t, "791234567", snap.Number)
}

func TestReconcile_RunsOnce(t *testing.T) {
	f := newFixture(t)
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").Return(nil, domain.ErrNotFound).Once()

	require.NoError(t, f.s.Reconcile(context.Background()))
	require.NoError(t, f.s.Reconcile(context.Background()))
	f.ids.AssertNumberOfCalls(t, "LookupVerifiedPhone", 1)
}

func TestReconcile_ConnectivityFailureAllowsRetry(t *testing.T) {
	f := newFixture(t)
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").Return(nil, errors.New("dial tcp: timeout")).Once()
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").
		Return(&domain.VerifiedPhone{Prefix: "+41", Number: "791234567"}, nil).Once()

	require.NoError(t, f.s.Reconcile(context.Background()))
	assert.Equal(t, StepCollecting, f.s.Step())

	require.NoError(t, f.s.Reconcile(context.Background()))
	assert.Equal(t, StepVerified, f.s.Step())
	f.ids.AssertExpectations(t)
}

func TestReconcile_ConcurrentCallRejected(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).Return(nil, nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, f.s.Reconcile(context.Background()))
	}()
	<-entered

	assert.True(t, errors.Is(f.s.Reconcile(context.Background()), domain.ErrBusy))
	assert.True(t, errors.Is(f.s.SendCode(context.Background(), "+41", "791234567"), domain.ErrBusy))
	close(release)
	wg.Wait()
}

func TestReconcile_RemoteAuthoritativeInvalidatesStaleCache(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.TrustCache = false })
	ctx := context.Background()
	cache := ttlcache.NewTyped[domain.VerifiedPhone](f.store)
	cache.Set(ctx, VerifiedKey("user-1"), domain.VerifiedPhone{Prefix: "+41", Number: "791234567", FullNumber: "+41791234567"}, time.Hour)
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").Return(nil, nil).Once()

	require.NoError(t, f.s.Reconcile(ctx))
	assert.Equal(t, StepCollecting, f.s.Step())
	_, ok := cache.Get(ctx, VerifiedKey("user-1"))
	assert.False(t, ok)
}

func TestReconcile_RemoteAuthoritativeFallsBackToCacheWhenUnreachable(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.TrustCache = false })
	ctx := context.Background()
	ttlcache.NewTyped[domain.VerifiedPhone](f.store).Set(ctx, VerifiedKey("user-1"),
		domain.VerifiedPhone{Prefix: "+41", Number: "791234567", FullNumber: "+41791234567"}, time.Hour)
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").Return(nil, errors.New("connection reset")).Once()

	require.NoError(t, f.s.Reconcile(ctx))
	assert.Equal(t, StepVerified, f.s.Step())
	f.s.mu.Lock()
	assert.False(t, f.s.reconciled)
	f.s.mu.Unlock()
}

func TestReconcile_AfterDispose(t *testing.T) {
	f := newFixture(t)
	f.ch.On("Release").Return().Once()
	f.s.Dispose()

	err := f.s.Reconcile(context.Background())
	assert.True(t, errors.Is(err, domain.ErrSessionExpired))
}

func TestReconcile_RetryFromAwaitingCodeStopsCooldown(t *testing.T) {
	f := newFixture(t)
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").Return(nil, errors.New("dial tcp: timeout")).Once()
	f.ids.On("LookupVerifiedPhone", mock.Anything, "user-1").
		Return(&domain.VerifiedPhone{Prefix: "+41", Number: "791234567"}, nil).Once()

	require.NoError(t, f.s.Reconcile(context.Background()))
	f.awaiting("challenge-1", 30)
	f.s.mu.Lock()
	f.s.startTicker()
	f.s.mu.Unlock()

	require.NoError(t, f.s.Reconcile(context.Background()))

	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	assert.Equal(t, StepVerified, f.s.step)
	assert.Nil(t, f.s.stopTick)
	assert.Empty(t, f.s.pendingID)
	assert.Equal(t, 0, f.s.cooldown)
}
