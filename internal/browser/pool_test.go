package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/parityscan/parity-cli/internal/config"
	"github.com/parityscan/parity-cli/internal/faults"
)

// -- Fake automation engine --

type fakeTab struct {
	ctx       context.Context
	cancel    context.CancelFunc
	owner     *fakeBrowser
	closeOnce sync.Once
}

func (t *fakeTab) Context() context.Context { return t.ctx }

func (t *fakeTab) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.owner.openTabs.Add(-1)
		t.cancel()
	})
	return nil
}

type fakeBrowser struct {
	openTabs     atomic.Int32
	maxOpenTabs  atomic.Int32
	disconnected chan struct{}
	closeOnce    sync.Once
	newTabErr    error
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{disconnected: make(chan struct{})}
}

func (b *fakeBrowser) NewTab(ctx context.Context, opts TabOptions) (Tab, error) {
	if b.newTabErr != nil {
		return nil, b.newTabErr
	}
	n := b.openTabs.Add(1)
	for {
		max := b.maxOpenTabs.Load()
		if n <= max || b.maxOpenTabs.CompareAndSwap(max, n) {
			break
		}
	}
	tabCtx, cancel := context.WithCancel(context.Background())
	return &fakeTab{ctx: tabCtx, cancel: cancel, owner: b}, nil
}

func (b *fakeBrowser) Close(ctx context.Context) error {
	b.closeOnce.Do(func() { close(b.disconnected) })
	return nil
}

// crash simulates an engine disconnect without a clean Close.
func (b *fakeBrowser) crash() {
	b.closeOnce.Do(func() { close(b.disconnected) })
}

func (b *fakeBrowser) Disconnected() <-chan struct{} { return b.disconnected }

type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	browsers []*fakeBrowser
	failWith error
	gate     chan struct{} // when non-nil, Launch blocks until it closes
}

func (l *fakeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	l.mu.Lock()
	if l.failWith != nil {
		l.mu.Unlock()
		return nil, l.failWith
	}
	l.launches++
	b := newFakeBrowser()
	l.browsers = append(l.browsers, b)
	gate := l.gate
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return b, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// -- Helpers --

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MaxBrowsers:        3,
		MaxPagesPerBrowser: 2,
		MaxIdleTime:        time.Hour,
		SweepInterval:      time.Hour,
		OnExhausted:        config.ExhaustReuse,
		Headless:           true,
	}
}

func newTestPool(t *testing.T, cfg config.PoolConfig) (*Pool, *fakeLauncher, *Tracker) {
	t.Helper()
	// Registered first so it runs after the shutdown cleanup below.
	t.Cleanup(func() { goleak.VerifyNone(t) })
	launcher := &fakeLauncher{}
	tracker := NewTracker()
	pool := NewPool(cfg, launcher, tracker, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, pool.Shutdown(ctx))
	})
	return pool, launcher, tracker
}

// -- Tests --

func TestAcquireBrowserReusesByFingerprint(t *testing.T) {
	pool, launcher, _ := newTestPool(t, testPoolConfig())
	ctx := context.Background()

	opts := LaunchOptions{Headless: true, Args: []string{"--lang=en"}}
	b1, err := pool.AcquireBrowser(ctx, opts)
	require.NoError(t, err)
	b2, err := pool.AcquireBrowser(ctx, opts)
	require.NoError(t, err)

	assert.Same(t, b1, b2)
	assert.Equal(t, 1, launcher.launchCount())

	// A different fingerprint launches a second instance.
	_, err = pool.AcquireBrowser(ctx, LaunchOptions{Headless: false})
	require.NoError(t, err)
	assert.Equal(t, 2, launcher.launchCount())
}

func TestPageCapPerBrowserEvictsLRU(t *testing.T) {
	pool, launcher, _ := newTestPool(t, testPoolConfig())
	ctx := context.Background()
	opts := LaunchOptions{Headless: true}

	p1, err := pool.AcquirePage(ctx, opts, TabOptions{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = pool.AcquirePage(ctx, opts, TabOptions{})
	require.NoError(t, err)

	// Third page exceeds the cap of 2; p1 is least recently used.
	_, err = pool.AcquirePage(ctx, opts, TabOptions{})
	require.NoError(t, err)

	stats := pool.Stats()
	assert.Equal(t, 2, stats.ActivePages)
	assert.Equal(t, 1, stats.PagesEvicted)
	assert.LessOrEqual(t, launcher.browsers[0].maxOpenTabs.Load(), int32(2),
		"open tabs on one browser must never exceed the per-browser cap")

	// The evicted page id is gone; releasing it again is a no-op.
	pool.ReleasePage(ctx, p1.ID())
	assert.Equal(t, 2, pool.Stats().ActivePages)
}

func TestTouchDelaysEviction(t *testing.T) {
	pool, _, _ := newTestPool(t, testPoolConfig())
	ctx := context.Background()
	opts := LaunchOptions{Headless: true}

	p1, err := pool.AcquirePage(ctx, opts, TabOptions{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	p2, err := pool.AcquirePage(ctx, opts, TabOptions{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	// Touching p1 makes p2 the LRU candidate.
	pool.Touch(p1.ID())
	_, err = pool.AcquirePage(ctx, opts, TabOptions{})
	require.NoError(t, err)

	pool.ReleasePage(ctx, p2.ID())
	// p2 was already evicted, so nothing changes.
	assert.Equal(t, 2, pool.Stats().ActivePages)
	pool.ReleasePage(ctx, p1.ID())
	assert.Equal(t, 1, pool.Stats().ActivePages)
}

func TestIdleSweepClosesStalePages(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxIdleTime = 10 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond
	pool, _, tracker := newTestPool(t, cfg)
	ctx := context.Background()

	_, err := pool.AcquirePage(ctx, LaunchOptions{Headless: true}, TabOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, pool.Stats().ActivePages)

	require.Eventually(t, func() bool {
		return pool.Stats().ActivePages == 0
	}, time.Second, 5*time.Millisecond, "idle page should be swept")

	assert.Empty(t, tracker.List(KindPage), "swept page must be untracked")
	assert.GreaterOrEqual(t, pool.Stats().PagesSwept, 1)
}

func TestShutdownRejectsAcquisition(t *testing.T) {
	defer goleak.VerifyNone(t)
	launcher := &fakeLauncher{}
	tracker := NewTracker()
	pool := NewPool(testPoolConfig(), launcher, tracker, zap.NewNop())
	ctx := context.Background()

	_, err := pool.AcquirePage(ctx, LaunchOptions{Headless: true}, TabOptions{})
	require.NoError(t, err)

	require.NoError(t, pool.Shutdown(ctx))
	require.NoError(t, pool.Shutdown(ctx), "shutdown must be idempotent")

	_, err = pool.AcquireBrowser(ctx, LaunchOptions{Headless: true})
	assert.ErrorIs(t, err, ErrPoolShuttingDown)
	_, err = pool.AcquirePage(ctx, LaunchOptions{Headless: true}, TabOptions{})
	assert.ErrorIs(t, err, ErrPoolShuttingDown)

	stats := pool.Stats()
	assert.Zero(t, stats.TotalBrowsers)
	assert.Zero(t, stats.ActivePages)
	assert.Empty(t, tracker.List(""), "no resources may remain tracked after shutdown")
}

func TestBrowserCapHoldsUnderConcurrency(t *testing.T) {
	pool, launcher, _ := newTestPool(t, testPoolConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opts := LaunchOptions{Headless: true, Args: []string{fmt.Sprintf("--profile=%d", i)}}
			_, err := pool.AcquirePage(ctx, opts, TabOptions{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, launcher.launchCount(), 3, "live browser count must never exceed maxBrowsers")
	assert.LessOrEqual(t, pool.Stats().TotalBrowsers, 3)
}

func TestSameFingerprintWaitersWakeAfterLaunch(t *testing.T) {
	pool, launcher, _ := newTestPool(t, testPoolConfig())
	launcher.gate = make(chan struct{})
	opts := LaunchOptions{Headless: true}

	type result struct {
		browser Browser
		err     error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			b, err := pool.AcquireBrowser(context.Background(), opts)
			results <- result{b, err}
		}()
	}

	// One goroutine reserves the slot and blocks inside Launch; the other
	// queues behind the in-flight launch for the same fingerprint.
	require.Eventually(t, func() bool { return launcher.launchCount() == 1 },
		time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(launcher.gate)

	var got [2]result
	for i := range got {
		select {
		case got[i] = <-results:
			require.NoError(t, got[i].err)
		case <-time.After(time.Second):
			t.Fatal("acquire did not return after the launch completed")
		}
	}
	assert.Same(t, got[0].browser, got[1].browser)
	assert.Equal(t, 1, launcher.launchCount(), "the waiter must reuse the launched instance")
}

func TestVanishedBrowserHasNoPageBucket(t *testing.T) {
	pool, launcher, _ := newTestPool(t, testPoolConfig())
	ctx := context.Background()

	b, err := pool.AcquireBrowser(ctx, LaunchOptions{Headless: true})
	require.NoError(t, err)

	// Simulate the disconnect watcher removing the browser between
	// acquisition and page creation.
	launcher.browsers[0].crash()
	require.Eventually(t, func() bool { return pool.Stats().TotalBrowsers == 0 },
		time.Second, time.Millisecond)

	pool.mu.Lock()
	_, ok := pool.keyForBrowserLocked(b)
	pool.mu.Unlock()
	assert.False(t, ok, "a removed browser must not resolve to a page bucket")
}

func TestExhaustionPolicyReject(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxBrowsers = 1
	cfg.OnExhausted = config.ExhaustReject
	pool, _, _ := newTestPool(t, cfg)
	ctx := context.Background()

	_, err := pool.AcquireBrowser(ctx, LaunchOptions{Headless: true})
	require.NoError(t, err)

	_, err = pool.AcquireBrowser(ctx, LaunchOptions{Headless: false})
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestExhaustionPolicyReuseOverShares(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxBrowsers = 1
	pool, launcher, _ := newTestPool(t, cfg)
	ctx := context.Background()

	b1, err := pool.AcquireBrowser(ctx, LaunchOptions{Headless: true})
	require.NoError(t, err)
	b2, err := pool.AcquireBrowser(ctx, LaunchOptions{Headless: false})
	require.NoError(t, err)

	assert.Same(t, b1, b2, "at capacity the pool over-shares rather than failing")
	assert.Equal(t, 1, launcher.launchCount())
}

func TestExhaustionPolicyQueueHonorsContext(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxBrowsers = 1
	cfg.OnExhausted = config.ExhaustQueue
	pool, _, _ := newTestPool(t, cfg)

	_, err := pool.AcquireBrowser(context.Background(), LaunchOptions{Headless: true})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.AcquireBrowser(waitCtx, LaunchOptions{Headless: false})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLaunchFailureIsTagged(t *testing.T) {
	defer goleak.VerifyNone(t)
	launcher := &fakeLauncher{failWith: errors.New("no chrome binary")}
	pool := NewPool(testPoolConfig(), launcher, NewTracker(), zap.NewNop())
	defer pool.Shutdown(context.Background())

	_, err := pool.AcquireBrowser(context.Background(), LaunchOptions{Headless: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	kind, ok := faults.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, faults.KindLaunch, kind)

	// The failed reservation must not occupy a slot.
	assert.Zero(t, pool.Stats().TotalBrowsers)
}

func TestDisconnectReclaimsBrowserAndPages(t *testing.T) {
	pool, launcher, tracker := newTestPool(t, testPoolConfig())
	ctx := context.Background()
	opts := LaunchOptions{Headless: true}

	_, err := pool.AcquirePage(ctx, opts, TabOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, pool.Stats().ConnectedBrowsers)

	launcher.browsers[0].crash()

	require.Eventually(t, func() bool {
		s := pool.Stats()
		return s.TotalBrowsers == 0 && s.ActivePages == 0
	}, time.Second, 5*time.Millisecond, "disconnect must reclaim the browser and its pages")
	assert.Empty(t, tracker.List(""))

	// The pool recovers by launching a replacement on demand.
	_, err = pool.AcquireBrowser(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, launcher.launchCount())
}

func TestReleaseAndTouchUnknownIDsAreNoOps(t *testing.T) {
	pool, _, _ := newTestPool(t, testPoolConfig())

	pool.ReleasePage(context.Background(), "nope")
	pool.Touch("nope")
	assert.Zero(t, pool.Stats().ActivePages)
}

func TestPageCloseReleasesPoolEntry(t *testing.T) {
	pool, _, tracker := newTestPool(t, testPoolConfig())
	ctx := context.Background()

	page, err := pool.AcquirePage(ctx, LaunchOptions{Headless: true}, TabOptions{})
	require.NoError(t, err)
	require.NoError(t, page.Close(ctx))

	assert.Zero(t, pool.Stats().ActivePages)
	assert.Empty(t, tracker.List(KindPage))
}
