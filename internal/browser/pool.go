// File: internal/browser/pool.go
// Description: Bounded pool of browser instances and per-instance page
// handles. The pool is the only shared mutable state between concurrent
// comparison requests; every lookup-then-mutate runs under one lock.

package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parityscan/parity-cli/api/schemas"
	"github.com/parityscan/parity-cli/internal/config"
	"github.com/parityscan/parity-cli/internal/faults"
)

var (
	// ErrPoolShuttingDown is returned by acquisition once shutdown starts.
	ErrPoolShuttingDown = errors.New("browser pool is shutting down")
	// ErrPoolExhausted is returned under the "reject" exhaustion policy.
	ErrPoolExhausted = errors.New("browser pool exhausted")
	// ErrLaunchFailed wraps an underlying launch error. Retry policy for
	// launches belongs to the retry coordinator, not the pool.
	ErrLaunchFailed = errors.New("browser launch failed")
)

// browserEntry is the pool's record of one browser instance. A nil browser
// with a non-nil ready channel is a launch in flight; it counts toward the
// browser cap so concurrent acquires cannot overshoot.
type browserEntry struct {
	key       string
	id        string
	browser   Browser
	connected bool
	createdAt time.Time
	ready     chan struct{}
	launchErr error
}

// pageEntry is the pool's record of one issued page.
type pageEntry struct {
	id         string
	browserKey string
	tab        Tab
	createdAt  time.Time
	lastUsedAt time.Time
}

// Pool owns a bounded set of browsers and, per browser, a bounded set of
// pages. Construct with NewPool and dispose with Shutdown; multiple
// independent pools may coexist.
type Pool struct {
	cfg      config.PoolConfig
	launcher Launcher
	tracker  *Tracker
	logger   *zap.Logger

	mu           sync.Mutex
	browsers     map[string]*browserEntry
	pages        map[string]*pageEntry
	shuttingDown bool
	slotFreed    chan struct{}

	sweepStop chan struct{}
	sweepDone chan struct{}

	sweepsRun    int
	pagesEvicted int
	pagesSwept   int
}

// NewPool builds a pool and starts its idle sweep.
func NewPool(cfg config.PoolConfig, launcher Launcher, tracker *Tracker, logger *zap.Logger) *Pool {
	p := &Pool{
		cfg:       cfg,
		launcher:  launcher,
		tracker:   tracker,
		logger:    logger.Named("browser_pool"),
		browsers:  make(map[string]*browserEntry),
		pages:     make(map[string]*pageEntry),
		slotFreed: make(chan struct{}, 1),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// AcquireBrowser returns a connected browser for the given launch options,
// reusing an existing instance with the same fingerprint when possible.
// At the browser cap the configured exhaustion policy decides between
// reusing an arbitrary connected instance, queuing, or rejecting.
func (p *Pool) AcquireBrowser(ctx context.Context, opts LaunchOptions) (Browser, error) {
	key := opts.Fingerprint()

	for {
		p.mu.Lock()
		if p.shuttingDown {
			p.mu.Unlock()
			return nil, ErrPoolShuttingDown
		}

		if entry, ok := p.browsers[key]; ok {
			if entry.ready != nil {
				// A launch for this fingerprint is in flight; wait for it.
				ready := entry.ready
				p.mu.Unlock()
				select {
				case <-ready:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			}
			if entry.connected {
				p.mu.Unlock()
				return entry.browser, nil
			}
			// Disconnected leftover; drop it and fall through to relaunch.
			p.removeBrowserLocked(entry)
		}

		if len(p.browsers) >= p.cfg.MaxBrowsers {
			switch p.cfg.OnExhausted {
			case config.ExhaustReject:
				p.mu.Unlock()
				return nil, ErrPoolExhausted
			case config.ExhaustQueue:
				p.mu.Unlock()
				select {
				case <-p.slotFreed:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			default:
				// Reuse: favor availability over isolation. The returned
				// browser may evict pages of unrelated requests when its
				// own page cap is hit; documented fairness trade-off.
				for _, entry := range p.browsers {
					if entry.ready == nil && entry.connected {
						p.mu.Unlock()
						p.logger.Debug("Browser cap reached, over-sharing existing instance",
							zap.String("requested_key", key), zap.String("reused_key", entry.key))
						return entry.browser, nil
					}
				}
				// Nothing connected to share; wait for an in-flight launch
				// or a freed slot.
				p.mu.Unlock()
				select {
				case <-p.slotFreed:
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}
		}

		// Reserve the slot before launching so the cap holds while the
		// launch I/O is in flight.
		entry := &browserEntry{
			key:       key,
			id:        uuid.NewString(),
			createdAt: time.Now(),
			ready:     make(chan struct{}),
		}
		p.browsers[key] = entry
		p.mu.Unlock()

		return p.launch(ctx, entry, opts)
	}
}

// launch completes a reserved browser entry outside the pool lock.
func (p *Pool) launch(ctx context.Context, entry *browserEntry, opts LaunchOptions) (Browser, error) {
	b, err := p.launcher.Launch(ctx, opts)

	p.mu.Lock()
	if err != nil {
		entry.launchErr = err
		delete(p.browsers, entry.key)
		close(entry.ready)
		p.signalSlotFreed()
		p.mu.Unlock()
		return nil, faults.Tag(fmt.Errorf("%w: %v", ErrLaunchFailed, err), faults.KindLaunch)
	}
	entry.browser = b
	entry.connected = true
	// Wake every same-fingerprint acquire that queued behind this launch.
	close(entry.ready)
	entry.ready = nil
	p.mu.Unlock()

	p.tracker.Track(entry.id, KindBrowser, "key:"+entry.key)
	p.logger.Info("Browser launched",
		zap.String("browser_id", entry.id), zap.String("key", entry.key))

	go p.watchDisconnect(entry)
	return b, nil
}

// watchDisconnect removes a browser from the pool when its engine
// connection drops, force-closing every page it owns.
func (p *Pool) watchDisconnect(entry *browserEntry) {
	<-entry.browser.Disconnected()

	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return
	}
	current, ok := p.browsers[entry.key]
	if !ok || current != entry {
		p.mu.Unlock()
		return
	}
	orphans := p.removeBrowserLocked(entry)
	p.mu.Unlock()

	p.logger.Warn("Browser disconnected, reclaiming its pages",
		zap.String("browser_id", entry.id), zap.Int("orphaned_pages", len(orphans)))
	p.closePages(orphans)
}

// AcquirePage issues a page on a browser matching launchOpts. When the
// owning browser is at its page cap, the least-recently-used page is
// evicted first. The returned page must be released on every exit path;
// Close on the page and ReleasePage on the pool are equivalent.
func (p *Pool) AcquirePage(ctx context.Context, launchOpts LaunchOptions, tabOpts TabOptions) (schemas.Page, error) {
	b, err := p.AcquireBrowser(ctx, launchOpts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil, ErrPoolShuttingDown
	}
	key, ok := p.keyForBrowserLocked(b)
	if !ok {
		// The browser dropped out between acquisition and page creation
		// (disconnect race). Fail fast; crash-class retry relaunches.
		p.mu.Unlock()
		return nil, faults.Tag(fmt.Errorf("browser disconnected before page creation"), faults.KindCrash)
	}

	// Count-check and eviction are one critical section: nothing may
	// suspend between them or the per-browser cap can overshoot.
	var evicted *pageEntry
	if n := p.countPagesLocked(key); n >= p.cfg.MaxPagesPerBrowser {
		evicted = p.evictLRULocked(key)
	}

	// Reserve the page slot before the tab-creation round trip.
	entry := &pageEntry{
		id:         uuid.NewString(),
		browserKey: key,
		createdAt:  time.Now(),
		lastUsedAt: time.Now(),
	}
	p.pages[entry.id] = entry
	p.mu.Unlock()

	if evicted != nil {
		p.pagesEvictedInc()
		p.logger.Debug("Evicted least-recently-used page",
			zap.String("page_id", evicted.id), zap.String("browser_key", key))
		p.closePages([]*pageEntry{evicted})
	}

	tab, err := b.NewTab(ctx, tabOpts)
	if err != nil {
		p.mu.Lock()
		delete(p.pages, entry.id)
		p.mu.Unlock()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	p.mu.Lock()
	if p.shuttingDown {
		delete(p.pages, entry.id)
		p.mu.Unlock()
		tab.Close(ctx)
		return nil, ErrPoolShuttingDown
	}
	entry.tab = tab
	p.mu.Unlock()

	p.tracker.Track(entry.id, KindPage, "browser:"+key)

	page := &pooledPage{id: entry.id, tab: tab, pool: p}
	// Deregister the page if its tab dies outside of pool control.
	go func() {
		<-tab.Context().Done()
		p.ReleasePage(context.Background(), entry.id)
	}()

	p.logger.Debug("Page issued", zap.String("page_id", entry.id), zap.String("browser_key", key))
	return page, nil
}

// ReleasePage closes a page and removes it from the pool. Unknown ids are
// an idempotent no-op.
func (p *Pool) ReleasePage(ctx context.Context, pageID string) {
	p.mu.Lock()
	entry, ok := p.pages[pageID]
	if ok {
		delete(p.pages, pageID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.tracker.Untrack(pageID)
	if entry.tab != nil {
		if err := entry.tab.Close(ctx); err != nil {
			p.logger.Warn("Failed to close page", zap.String("page_id", pageID), zap.Error(err))
		}
	}
	p.logger.Debug("Page released", zap.String("page_id", pageID))
}

// Touch refreshes a page's lastUsedAt so activity delays idle eviction.
// Unknown ids are a no-op.
func (p *Pool) Touch(pageID string) {
	p.mu.Lock()
	if entry, ok := p.pages[pageID]; ok {
		entry.lastUsedAt = time.Now()
	}
	p.mu.Unlock()
}

// ForceCleanup reclaims orphaned resources: pages whose browser is gone or
// disconnected, and disconnected browser entries. Invoked by the retry
// coordinator before re-running crash-class operations.
func (p *Pool) ForceCleanup(ctx context.Context) error {
	p.mu.Lock()
	var orphanPages []*pageEntry
	var deadBrowsers []*browserEntry
	for _, entry := range p.pages {
		owner, ok := p.browsers[entry.browserKey]
		if !ok || (owner.ready == nil && !owner.connected) {
			orphanPages = append(orphanPages, entry)
			delete(p.pages, entry.id)
		}
	}
	for key, entry := range p.browsers {
		if entry.ready == nil && !entry.connected {
			deadBrowsers = append(deadBrowsers, entry)
			delete(p.browsers, key)
			p.signalSlotFreed()
		}
	}
	p.mu.Unlock()

	p.closePages(orphanPages)
	for _, entry := range deadBrowsers {
		p.tracker.Untrack(entry.id)
		if entry.browser != nil {
			if err := entry.browser.Close(ctx); err != nil {
				p.logger.Warn("Failed to close dead browser", zap.String("browser_id", entry.id), zap.Error(err))
			}
		}
	}
	if len(orphanPages) > 0 || len(deadBrowsers) > 0 {
		p.logger.Info("Forced cleanup reclaimed orphaned resources",
			zap.Int("pages", len(orphanPages)), zap.Int("browsers", len(deadBrowsers)))
	}
	return nil
}

// Shutdown stops the sweep, closes every page and browser best-effort, and
// clears the pool. Safe to call multiple times; acquisition fails with
// ErrPoolShuttingDown from the first call onward.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	alreadyDown := p.shuttingDown
	p.shuttingDown = true
	pages := make([]*pageEntry, 0, len(p.pages))
	for _, entry := range p.pages {
		pages = append(pages, entry)
	}
	browsers := make([]*browserEntry, 0, len(p.browsers))
	for _, entry := range p.browsers {
		browsers = append(browsers, entry)
	}
	p.pages = make(map[string]*pageEntry)
	p.browsers = make(map[string]*browserEntry)
	p.mu.Unlock()

	if !alreadyDown {
		close(p.sweepStop)
	}
	<-p.sweepDone

	p.logger.Info("Shutting down browser pool",
		zap.Int("pages", len(pages)), zap.Int("browsers", len(browsers)))

	// Pages first, then browsers, each fan-out tolerating partial failure.
	p.closePages(pages)

	var wg sync.WaitGroup
	for _, entry := range browsers {
		if entry.browser == nil {
			p.tracker.Untrack(entry.id)
			continue
		}
		wg.Add(1)
		go func(entry *browserEntry) {
			defer wg.Done()
			if err := entry.browser.Close(ctx); err != nil {
				p.logger.Warn("Failed to close browser during shutdown",
					zap.String("browser_id", entry.id), zap.Error(err))
			}
			p.tracker.Untrack(entry.id)
		}(entry)
	}
	wg.Wait()

	p.logger.Info("Browser pool shutdown complete")
	return nil
}

// Stats returns counts only, for observability. No handles escape.
func (p *Pool) Stats() schemas.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	connected := 0
	for _, entry := range p.browsers {
		if entry.ready == nil && entry.connected {
			connected++
		}
	}
	return schemas.PoolStats{
		TotalBrowsers:     len(p.browsers),
		ConnectedBrowsers: connected,
		ActivePages:       len(p.pages),
		SweepsRun:         p.sweepsRun,
		PagesEvicted:      p.pagesEvicted,
		PagesSwept:        p.pagesSwept,
	}
}

// -- internals --

// sweepLoop periodically closes pages idle longer than MaxIdleTime.
func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	interval := p.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepIdle()
		case <-p.sweepStop:
			return
		}
	}
}

// sweepIdle is one sweep tick. Closing is best-effort so one stuck page
// cannot block the sweep.
func (p *Pool) sweepIdle() {
	now := time.Now()
	p.mu.Lock()
	p.sweepsRun++
	var expired []*pageEntry
	for id, entry := range p.pages {
		if now.Sub(entry.lastUsedAt) > p.cfg.MaxIdleTime {
			expired = append(expired, entry)
			delete(p.pages, id)
		}
	}
	p.pagesSwept += len(expired)
	p.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	p.logger.Info("Idle sweep closing pages", zap.Int("count", len(expired)))
	p.closePages(expired)
}

// closePages closes entries in parallel, tolerating individual failures.
func (p *Pool) closePages(entries []*pageEntry) {
	if len(entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(entry *pageEntry) {
			defer wg.Done()
			p.tracker.Untrack(entry.id)
			if entry.tab == nil {
				return
			}
			if err := entry.tab.Close(ctx); err != nil {
				p.logger.Warn("Failed to close page", zap.String("page_id", entry.id), zap.Error(err))
			}
		}(entry)
	}
	wg.Wait()
}

// removeBrowserLocked drops a browser entry and returns its orphaned page
// entries, also removed. Caller holds p.mu.
func (p *Pool) removeBrowserLocked(entry *browserEntry) []*pageEntry {
	delete(p.browsers, entry.key)
	p.tracker.Untrack(entry.id)
	var orphans []*pageEntry
	for id, pe := range p.pages {
		if pe.browserKey == entry.key {
			orphans = append(orphans, pe)
			delete(p.pages, id)
		}
	}
	p.signalSlotFreed()
	return orphans
}

func (p *Pool) keyForBrowserLocked(b Browser) (string, bool) {
	for key, entry := range p.browsers {
		if entry.browser == b {
			return key, true
		}
	}
	return "", false
}

func (p *Pool) countPagesLocked(key string) int {
	n := 0
	for _, entry := range p.pages {
		if entry.browserKey == key {
			n++
		}
	}
	return n
}

// evictLRULocked removes the least-recently-used page entry for a browser
// key from the map; the caller closes it outside the lock.
func (p *Pool) evictLRULocked(key string) *pageEntry {
	var lru *pageEntry
	for _, entry := range p.pages {
		if entry.browserKey != key {
			continue
		}
		if lru == nil || entry.lastUsedAt.Before(lru.lastUsedAt) {
			lru = entry
		}
	}
	if lru != nil {
		delete(p.pages, lru.id)
	}
	return lru
}

func (p *Pool) signalSlotFreed() {
	select {
	case p.slotFreed <- struct{}{}:
	default:
	}
}

func (p *Pool) pagesEvictedInc() {
	p.mu.Lock()
	p.pagesEvicted++
	p.mu.Unlock()
}

// pooledPage is the borrowed handle returned to extraction callers. Closing
// it releases the pool entry, so caller-side Close and pool-side release
// are interchangeable.
type pooledPage struct {
	id   string
	tab  Tab
	pool *Pool
}

func (pp *pooledPage) ID() string { return pp.id }

func (pp *pooledPage) Context() context.Context {
	pp.pool.Touch(pp.id)
	return pp.tab.Context()
}

func (pp *pooledPage) Close(ctx context.Context) error {
	pp.pool.ReleasePage(ctx, pp.id)
	return nil
}
