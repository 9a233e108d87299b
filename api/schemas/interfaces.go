package schemas

import (
	"context"
)

// Page is a single navigable tab borrowed from the browser pool. The
// automation engine operates on the page's context; callers must not retain
// the page after releasing it.
type Page interface {
	// ID is the pool-assigned identifier used for release and touch calls.
	ID() string
	// Context returns the chromedp-compatible context automation commands
	// run against. It is cancelled when the page is closed.
	Context() context.Context
	// Close tears down the underlying tab. Safe to call more than once.
	Close(ctx context.Context) error
}

// DesignExtractor fetches a structured snapshot of a design file node.
type DesignExtractor interface {
	GetSnapshot(ctx context.Context, fileKey, nodeID string) (*DesignSnapshot, error)
}

// WebExtractor captures a rendered snapshot from a live page using a
// borrowed Page.
type WebExtractor interface {
	ExtractSnapshot(ctx context.Context, url string, auth *AuthConfig, page Page) (*WebSnapshot, error)
}

// CompareEngine diffs a design snapshot against a web snapshot.
type CompareEngine interface {
	Compare(ctx context.Context, design *DesignSnapshot, web *WebSnapshot) (*DiffResult, error)
}

// ReportOptions bound the report generator's memory and output shape.
type ReportOptions struct {
	ChunkSize int
	MaxDepth  int
	Format    string
	OutDir    string
}

// ReportGenerator renders a diff result into an on-disk artifact. ChunkSize
// is a hard hint: the generator must not buffer more than one chunk of
// serialized output at a time.
type ReportGenerator interface {
	Generate(ctx context.Context, runID string, diff *DiffResult, opts ReportOptions) (*ReportArtifact, error)
}

// PoolStats is the observability view of the browser pool. Counts only,
// never handles.
type PoolStats struct {
	TotalBrowsers     int `json:"total_browsers"`
	ConnectedBrowsers int `json:"connected_browsers"`
	ActivePages       int `json:"active_pages"`
	SweepsRun         int `json:"sweeps_run"`
	PagesEvicted      int `json:"pages_evicted"`
	PagesSwept        int `json:"pages_swept"`
}
