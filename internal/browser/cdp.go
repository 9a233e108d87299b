// File: internal/browser/cdp.go
// Description: The chromedp-backed Launcher. Each Browser owns one Chrome
// process via an exec allocator; tabs are child chromedp contexts sharing
// that process.

package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeLauncher launches headless Chrome processes through chromedp.
type ChromeLauncher struct {
	logger *zap.Logger
}

// NewChromeLauncher returns the production launcher.
func NewChromeLauncher(logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{logger: logger.Named("chrome_launcher")}
}

// Launch starts a Chrome process and connects to it. The returned Browser
// survives the caller's ctx; it lives until Close or a process crash.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	for _, arg := range opts.Args {
		name, value := splitFlag(arg)
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}

	// The allocator is rooted in the background context so the browser's
	// lifetime is owned by the pool, not by the acquiring request.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(l.logger.Sugar().Debugf))

	// An empty task list forces the process to start now, so launch
	// failures surface here rather than on first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chrome failed to start: %w", err)
	}

	select {
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, ctx.Err()
	default:
	}

	l.logger.Debug("Chrome instance launched", zap.Bool("headless", opts.Headless))
	return &cdpBrowser{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type cdpBrowser struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

func (b *cdpBrowser) NewTab(ctx context.Context, opts TabOptions) (Tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)

	var tasks chromedp.Tasks
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(
			int64(opts.ViewportWidth), int64(opts.ViewportHeight), 1.0, false))
	}
	if opts.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(opts.UserAgent))
	}
	if len(tasks) == 0 {
		// Still run an empty task list so the tab target is created now.
		tasks = chromedp.Tasks{}
	}

	runCtx, runCancel := mergeDeadline(tabCtx, ctx)
	defer runCancel()
	if err := chromedp.Run(runCtx, tasks); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to create tab: %w", err)
	}

	return &cdpTab{ctx: tabCtx, cancel: tabCancel}, nil
}

func (b *cdpBrowser) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocCancel()
	})
	return nil
}

func (b *cdpBrowser) Disconnected() <-chan struct{} {
	return b.browserCtx.Done()
}

type cdpTab struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (t *cdpTab) Context() context.Context { return t.ctx }

func (t *cdpTab) Close(ctx context.Context) error {
	t.closeOnce.Do(t.cancel)
	return nil
}

// mergeDeadline derives a child of primary that is additionally cancelled
// when secondary is done.
func mergeDeadline(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// splitFlag parses "--name=value" / "--name" / "name" into a chromedp flag
// pair. Bare flags become boolean true.
func splitFlag(arg string) (string, interface{}) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}
