package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parityscan/parity-cli/api/schemas"
	"github.com/parityscan/parity-cli/internal/browser"
	"github.com/parityscan/parity-cli/internal/config"
	"github.com/parityscan/parity-cli/internal/faults"
)

// -- Stage mocks --

type stubPage struct{ id string }

func (p *stubPage) ID() string                      { return p.id }
func (p *stubPage) Context() context.Context        { return context.Background() }
func (p *stubPage) Close(ctx context.Context) error { return nil }

type stubPool struct {
	mu            sync.Mutex
	acquired      int
	released      int
	forceCleanups int
	acquireErr    error
}

func (s *stubPool) AcquirePage(ctx context.Context, _ browser.LaunchOptions, _ browser.TabOptions) (schemas.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	s.acquired++
	return &stubPage{id: fmt.Sprintf("page-%d", s.acquired)}, nil
}

func (s *stubPool) ReleasePage(ctx context.Context, pageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

func (s *stubPool) ForceCleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceCleanups++
	return nil
}

func (s *stubPool) Stats() schemas.PoolStats { return schemas.PoolStats{} }

func (s *stubPool) counts() (acquired, released, cleanups int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.released, s.forceCleanups
}

type stubDesign struct {
	mu      sync.Mutex
	calls   int
	fileKey string
	nodeID  string
	fn      func(ctx context.Context) (*schemas.DesignSnapshot, error)
}

func (s *stubDesign) GetSnapshot(ctx context.Context, fileKey, nodeID string) (*schemas.DesignSnapshot, error) {
	s.mu.Lock()
	s.calls++
	s.fileKey, s.nodeID = fileKey, nodeID
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return &schemas.DesignSnapshot{FileKey: fileKey, NodeID: nodeID}, nil
}

type stubWeb struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, page schemas.Page) (*schemas.WebSnapshot, error)
}

func (s *stubWeb) ExtractSnapshot(ctx context.Context, url string, auth *schemas.AuthConfig, page schemas.Page) (*schemas.WebSnapshot, error) {
	s.mu.Lock()
	s.calls++
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, page)
	}
	return &schemas.WebSnapshot{URL: url}, nil
}

type stubCompare struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubCompare) Compare(ctx context.Context, design *schemas.DesignSnapshot, web *schemas.WebSnapshot) (*schemas.DiffResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &schemas.DiffResult{Score: 1.0}, nil
}

type stubReport struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubReport) Generate(ctx context.Context, runID string, diff *schemas.DiffResult, opts schemas.ReportOptions) (*schemas.ReportArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &schemas.ReportArtifact{Path: "/tmp/report-" + runID + ".json", Format: "json"}, nil
}

type fixture struct {
	orch    *Orchestrator
	pool    *stubPool
	design  *stubDesign
	web     *stubWeb
	compare *stubCompare
	report  *stubReport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		pool:    &stubPool{},
		design:  &stubDesign{},
		web:     &stubWeb{},
		compare: &stubCompare{},
		report:  &stubReport{},
	}
	orch, err := New(config.NewDefaultConfig(), zap.NewNop(), f.pool, f.design, f.web, f.compare, f.report, nil)
	require.NoError(t, err)
	// Retries must not wait in tests; expired contexts still surface.
	orch.Retrier().WithSleeper(func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	})
	f.orch = orch
	return f
}

func validRequest() schemas.ComparisonRequest {
	return schemas.ComparisonRequest{
		DesignURL: "https://www.figma.com/design/ABC123xyz/Landing-Page?node-id=12-34",
		WebURL:    "https://staging.example.com/landing",
	}
}

// -- Tests --

func TestNew_RejectsNilDependencies(t *testing.T) {
	_, err := New(nil, zap.NewNop(), &stubPool{}, &stubDesign{}, &stubWeb{}, &stubCompare{}, &stubReport{}, nil)
	assert.Error(t, err)

	_, err = New(config.NewDefaultConfig(), zap.NewNop(), nil, &stubDesign{}, &stubWeb{}, &stubCompare{}, &stubReport{}, nil)
	assert.Error(t, err)
}

func TestRunComparison_Success(t *testing.T) {
	f := newFixture(t)

	result, err := f.orch.RunComparison(context.Background(), validRequest(), Options{})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "ABC123xyz", f.design.fileKey, "file key parsed from the design URL")
	assert.Equal(t, "12:34", f.design.nodeID, "node-id query decoded from dash to colon form")

	require.NotNil(t, result.Diff)
	require.NotNil(t, result.Report)
	assert.Contains(t, result.Report.Path, result.RunID)

	require.Len(t, result.Outcomes, 4)
	for _, o := range result.Outcomes {
		assert.Equal(t, schemas.OutcomeOK, o.Status, "stage %s", o.Stage)
	}

	acquired, released, _ := f.pool.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, acquired, released, "every borrowed page must be returned")
}

func TestRunComparison_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		req  schemas.ComparisonRequest
	}{
		{"no file key in design URL", schemas.ComparisonRequest{
			DesignURL: "https://www.figma.com/community/whatever",
			WebURL:    "https://example.com",
		}},
		{"relative web URL", schemas.ComparisonRequest{
			DesignURL: "https://www.figma.com/file/K9/Checkout",
			WebURL:    "/checkout",
		}},
		{"non-http web scheme", schemas.ComparisonRequest{
			DesignURL: "https://www.figma.com/file/K9/Checkout",
			WebURL:    "ftp://example.com/checkout",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.orch.RunComparison(context.Background(), tt.req, Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)

			ce := faults.AsClassified(err)
			require.NotNil(t, ce)
			assert.False(t, ce.Retryable)
			assert.Equal(t, schemas.StageValidate, ce.Ctx.Stage)

			// Validation fails before any resource allocation.
			acquired, _, _ := f.pool.counts()
			assert.Zero(t, acquired)
			assert.Zero(t, f.design.calls)
		})
	}
}

func TestRunComparison_DesignTimeoutAbortsPipeline(t *testing.T) {
	f := newFixture(t)
	f.design.fn = func(ctx context.Context) (*schemas.DesignSnapshot, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	req := validRequest()
	req.DesignTimeout = 30 * time.Millisecond

	_, err := f.orch.RunComparison(context.Background(), req, Options{})
	require.Error(t, err)

	ce := faults.AsClassified(err)
	require.NotNil(t, ce)
	assert.Equal(t, schemas.StageFigma, ce.Ctx.Stage)

	assert.Zero(t, f.compare.calls, "compare must not run after an extraction failure")
	assert.Zero(t, f.report.calls)
}

func TestRunComparison_TimeoutOutcomeStatus(t *testing.T) {
	f := newFixture(t)
	f.design.fn = func(ctx context.Context) (*schemas.DesignSnapshot, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	req := validRequest()
	req.DesignTimeout = 30 * time.Millisecond

	// The outcome list is not returned on failure, so inspect through the
	// error chain instead.
	_, err := f.orch.RunComparison(context.Background(), req, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunComparison_WebFailureReleasesPage(t *testing.T) {
	f := newFixture(t)
	f.web.fn = func(ctx context.Context, page schemas.Page) (*schemas.WebSnapshot, error) {
		return nil, faults.Tag(errors.New("page returned 401"), faults.KindAuth)
	}

	_, err := f.orch.RunComparison(context.Background(), validRequest(), Options{})
	require.Error(t, err)

	ce := faults.AsClassified(err)
	require.NotNil(t, ce)
	assert.Equal(t, faults.CategoryAuth, ce.Category)
	assert.Equal(t, schemas.StageWeb, ce.Ctx.Stage)
	assert.Equal(t, "ABC123xyz", ce.Ctx.Detail["file_key"])

	acquired, released, _ := f.pool.counts()
	assert.Equal(t, acquired, released, "pages must be released on failing paths too")
}

func TestRunComparison_WarningFailureSparesSiblingButStopsRun(t *testing.T) {
	f := newFixture(t)
	f.web.fn = func(ctx context.Context, page schemas.Page) (*schemas.WebSnapshot, error) {
		return nil, faults.Tag(errors.New("deprecationwarning in vendor bundle"), faults.KindThirdPartyNoise)
	}
	siblingCtxErr := make(chan error, 1)
	f.design.fn = func(ctx context.Context) (*schemas.DesignSnapshot, error) {
		time.Sleep(20 * time.Millisecond)
		siblingCtxErr <- ctx.Err()
		return &schemas.DesignSnapshot{FileKey: "ABC123xyz"}, nil
	}

	_, err := f.orch.RunComparison(context.Background(), validRequest(), Options{})
	require.Error(t, err)

	ce := faults.AsClassified(err)
	require.NotNil(t, ce)
	assert.Equal(t, faults.CategoryWarning, ce.Category)
	assert.Equal(t, schemas.StageWeb, ce.Ctx.Stage)

	assert.NoError(t, <-siblingCtxErr, "a warning on one stage must not cancel the other")
	assert.Zero(t, f.compare.calls, "no compare without both snapshots")
}

func TestRunComparison_CrashRetriesWithFreshPage(t *testing.T) {
	f := newFixture(t)
	var webCalls int
	var mu sync.Mutex
	f.web.fn = func(ctx context.Context, page schemas.Page) (*schemas.WebSnapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		webCalls++
		if webCalls == 1 {
			return nil, faults.Tag(errors.New("target closed"), faults.KindCrash)
		}
		return &schemas.WebSnapshot{URL: "https://staging.example.com/landing"}, nil
	}

	result, err := f.orch.RunComparison(context.Background(), validRequest(), Options{})
	require.NoError(t, err)
	require.NotNil(t, result)

	acquired, released, cleanups := f.pool.counts()
	assert.Equal(t, 2, acquired, "each attempt borrows a fresh page")
	assert.Equal(t, acquired, released)
	assert.Equal(t, 1, cleanups, "crash retries force pool cleanup first")
}

func TestRunComparison_PoolExhaustionSurfacesAsError(t *testing.T) {
	f := newFixture(t)
	f.pool.acquireErr = browser.ErrPoolExhausted

	_, err := f.orch.RunComparison(context.Background(), validRequest(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrPoolExhausted)

	ce := faults.AsClassified(err)
	require.NotNil(t, ce)
	assert.Equal(t, schemas.StageWeb, ce.Ctx.Stage)
}

func TestRunComparison_CompareFailure(t *testing.T) {
	f := newFixture(t)
	f.compare.err = errors.New("snapshot shapes diverged")

	_, err := f.orch.RunComparison(context.Background(), validRequest(), Options{})
	require.Error(t, err)

	ce := faults.AsClassified(err)
	require.NotNil(t, ce)
	assert.Equal(t, schemas.StageCompare, ce.Ctx.Stage)
	assert.Zero(t, f.report.calls)
}

func TestRunComparison_ReportFailure(t *testing.T) {
	f := newFixture(t)
	f.report.err = faults.Tag(errors.New("serialized diff exceeds maximum size"), faults.KindOversized)

	_, err := f.orch.RunComparison(context.Background(), validRequest(), Options{})
	require.Error(t, err)

	ce := faults.AsClassified(err)
	require.NotNil(t, ce)
	assert.Equal(t, faults.CategoryReport, ce.Category)
	assert.False(t, ce.Retryable)
}

func TestRunComparison_ConcurrentRunsAreIndependent(t *testing.T) {
	f := newFixture(t)

	const runs = 5
	var wg sync.WaitGroup
	ids := make([]string, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.orch.RunComparison(context.Background(), validRequest(), Options{})
			if assert.NoError(t, err) {
				ids[i] = result.RunID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, runs)
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "run ids must be unique")
		seen[id] = true
	}

	acquired, released, _ := f.pool.counts()
	assert.Equal(t, runs, acquired)
	assert.Equal(t, acquired, released)
}
