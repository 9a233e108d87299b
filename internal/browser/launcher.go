// File: internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// LaunchOptions select a browser process configuration. Two option sets
// with equal fingerprints share one browser instance.
type LaunchOptions struct {
	Headless bool
	Args     []string
}

// Fingerprint serializes the options into the pool's reuse key.
func (o LaunchOptions) Fingerprint() string {
	args := append([]string(nil), o.Args...)
	sort.Strings(args)
	return fmt.Sprintf("headless=%t|%s", o.Headless, strings.Join(args, ","))
}

// TabOptions configure a freshly created tab.
type TabOptions struct {
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
}

// Tab is a raw navigable surface created by a Browser, before the pool
// wraps it with tracking metadata.
type Tab interface {
	// Context is the automation context commands run against; it is
	// cancelled when the tab closes.
	Context() context.Context
	Close(ctx context.Context) error
}

// Browser is one live automation-engine instance.
type Browser interface {
	NewTab(ctx context.Context, opts TabOptions) (Tab, error)
	Close(ctx context.Context) error
	// Disconnected fires when the underlying engine connection drops.
	Disconnected() <-chan struct{}
}

// Launcher starts browser instances. The pool depends on this interface so
// tests can substitute fakes for real Chrome processes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}
