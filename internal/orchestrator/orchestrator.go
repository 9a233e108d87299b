// File: internal/orchestrator/orchestrator.go
// Description: Drives the fixed comparison pipeline: validate, extract the
// design and web snapshots in parallel, compare, report. Injected with its
// collaborators via interfaces so every stage can be mocked.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parityscan/parity-cli/api/schemas"
	"github.com/parityscan/parity-cli/internal/browser"
	"github.com/parityscan/parity-cli/internal/config"
	"github.com/parityscan/parity-cli/internal/faults"
	"github.com/parityscan/parity-cli/internal/history"
)

// ErrInvalidRequest marks validation failures. Non-retryable; no resources
// have been allocated when it is returned.
var ErrInvalidRequest = errors.New("invalid comparison request")

// designPathRe matches the file key segment of Figma design/file URLs.
var designPathRe = regexp.MustCompile(`^/(?:design|file|proto)/([A-Za-z0-9]+)(?:/|$)`)

// PagePool is the slice of the browser pool the orchestrator needs.
type PagePool interface {
	AcquirePage(ctx context.Context, launchOpts browser.LaunchOptions, tabOpts browser.TabOptions) (schemas.Page, error)
	ReleasePage(ctx context.Context, pageID string)
	ForceCleanup(ctx context.Context) error
	Stats() schemas.PoolStats
}

// Options tune one RunComparison call beyond the request itself.
type Options struct {
	Report schemas.ReportOptions
}

// Orchestrator owns the per-request pipeline state machine. The browser
// pool is the only shared mutable dependency; everything else is stateless
// or request-scoped.
type Orchestrator struct {
	cfg     *config.Config
	logger  *zap.Logger
	pool    PagePool
	design  schemas.DesignExtractor
	web     schemas.WebExtractor
	compare schemas.CompareEngine
	report  schemas.ReportGenerator
	retrier *faults.Retrier
	history *history.Store
}

// New wires an orchestrator. The history store may be nil; every other
// dependency is required.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	pool PagePool,
	design schemas.DesignExtractor,
	web schemas.WebExtractor,
	compare schemas.CompareEngine,
	report schemas.ReportGenerator,
	hist *history.Store,
) (*Orchestrator, error) {
	if cfg == nil || logger == nil || pool == nil || design == nil ||
		web == nil || compare == nil || report == nil {
		return nil, errors.New("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
		pool:    pool,
		design:  design,
		web:     web,
		compare: compare,
		report:  report,
		history: hist,
	}
	o.retrier = faults.NewRetrier(logger, pool.ForceCleanup)
	return o, nil
}

// Retrier exposes the coordinator for tests that inject a fake sleeper.
func (o *Orchestrator) Retrier() *faults.Retrier { return o.retrier }

// PoolStats surfaces pool observability through the orchestrator boundary.
func (o *Orchestrator) PoolStats() schemas.PoolStats { return o.pool.Stats() }

// RunComparison executes the full pipeline for one request. On success the
// result carries both snapshots, the diff, and the report artifact; any
// stage failure short-circuits the rest and returns a ClassifiedError
// naming the failed stage. A warning-classified extraction failure spares
// the sibling stage from cancellation, but still ends the run before the
// compare stage: without both snapshots there is nothing to compare.
func (o *Orchestrator) RunComparison(ctx context.Context, req schemas.ComparisonRequest, opts Options) (*schemas.ComparisonResult, error) {
	runID := uuid.NewString()
	log := o.logger.With(zap.String("run_id", runID))
	started := time.Now()

	result := &schemas.ComparisonResult{RunID: runID}

	finish := func(status string, mismatches int) {
		o.recordHistory(runID, req, status, mismatches, time.Since(started))
	}

	// -- validating --
	validated, err := o.validate(req)
	if err != nil {
		classified := faults.Classify(err, faults.Context{
			Stage: schemas.StageValidate, Operation: "validate", RunID: runID,
		})
		finish("invalid", 0)
		return nil, classified
	}
	log.Info("Comparison pipeline started",
		zap.String("file_key", validated.FileKey),
		zap.String("node_id", validated.NodeID),
		zap.String("web_url", validated.WebURL))

	// -- extracting (parallel, independently timeout-bounded) --
	designOutcome, webOutcome := o.extract(ctx, runID, validated, result)
	result.Outcomes = append(result.Outcomes, designOutcome, webOutcome)

	for _, outcome := range []schemas.ExtractionOutcome{designOutcome, webOutcome} {
		if outcome.Status == schemas.OutcomeOK {
			continue
		}
		log.Warn("Extraction stage failed, aborting pipeline",
			zap.String("stage", string(outcome.Stage)),
			zap.String("status", string(outcome.Status)),
			zap.Error(outcome.Err))
		finish("failed:"+string(outcome.Stage), 0)
		return nil, faults.Classify(outcome.Err, faults.Context{
			Stage:     outcome.Stage,
			Operation: "extract",
			RunID:     runID,
			Detail:    o.stageDetail(validated),
		})
	}

	// -- comparing --
	compareCtx, compareCancel := context.WithTimeout(ctx, o.cfg.Pipeline.StageTimeout)
	diff, err := o.compare.Compare(compareCtx, result.Design, result.Web)
	compareCancel()
	outcome := o.outcomeFor(schemas.StageCompare, err, compareCtx)
	result.Outcomes = append(result.Outcomes, outcome)
	if err != nil {
		finish("failed:compare", 0)
		return nil, faults.Classify(err, faults.Context{
			Stage: schemas.StageCompare, Operation: "compare", RunID: runID,
			Detail: o.stageDetail(validated),
		})
	}
	result.Diff = diff

	// -- reporting --
	reportCtx, reportCancel := context.WithTimeout(ctx, o.cfg.Pipeline.StageTimeout)
	artifact, err := o.report.Generate(reportCtx, runID, diff, opts.Report)
	reportCancel()
	outcome = o.outcomeFor(schemas.StageReport, err, reportCtx)
	result.Outcomes = append(result.Outcomes, outcome)
	if err != nil {
		finish("failed:report", diff.MismatchCount())
		return nil, faults.Classify(err, faults.Context{
			Stage: schemas.StageReport, Operation: "generate", RunID: runID,
		})
	}
	result.Report = artifact

	log.Info("Comparison pipeline done",
		zap.Float64("score", diff.Score),
		zap.Int("mismatches", diff.MismatchCount()),
		zap.String("report", artifact.Path),
		zap.Duration("took", time.Since(started)))
	finish("done", diff.MismatchCount())
	return result, nil
}

// validate derives {fileKey, nodeID} from the design URL and checks the web
// URL syntax. Fails fast; nothing has been allocated yet.
func (o *Orchestrator) validate(req schemas.ComparisonRequest) (*schemas.ValidatedRequest, error) {
	du, err := url.Parse(req.DesignURL)
	if err != nil {
		return nil, faults.Tag(fmt.Errorf("%w: design URL unparseable: %v", ErrInvalidRequest, err), faults.KindBadRequest)
	}
	m := designPathRe.FindStringSubmatch(du.Path)
	if m == nil {
		return nil, faults.Tag(fmt.Errorf("%w: design URL %q has no file key", ErrInvalidRequest, req.DesignURL), faults.KindBadRequest)
	}
	fileKey := m[1]

	// Figma encodes "1:2" as "1-2" in the node-id query parameter.
	nodeID := du.Query().Get("node-id")
	nodeID = strings.ReplaceAll(nodeID, "-", ":")

	wu, err := url.Parse(req.WebURL)
	if err != nil || (wu.Scheme != "http" && wu.Scheme != "https") || wu.Host == "" {
		return nil, faults.Tag(fmt.Errorf("%w: web URL %q is not an absolute http(s) URL", ErrInvalidRequest, req.WebURL), faults.KindBadRequest)
	}

	return &schemas.ValidatedRequest{
		ComparisonRequest: req,
		FileKey:           fileKey,
		NodeID:            nodeID,
	}, nil
}

// extract runs the two extraction stages concurrently. Each stage is
// bounded by its own timeout via a derived context, so a timed-out stage's
// underlying work is cancelled rather than abandoned. A hard failure in
// one stage cancels the sibling through the group context.
func (o *Orchestrator) extract(ctx context.Context, runID string, req *schemas.ValidatedRequest, result *schemas.ComparisonResult) (schemas.ExtractionOutcome, schemas.ExtractionOutcome) {
	designTimeout := o.cfg.Figma.Timeout
	if req.DesignTimeout > 0 {
		designTimeout = req.DesignTimeout
	}
	webTimeout := o.cfg.Web.Timeout
	if req.WebTimeout > 0 {
		webTimeout = req.WebTimeout
	}

	var designOutcome, webOutcome schemas.ExtractionOutcome

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stageCtx, cancel := context.WithTimeout(groupCtx, designTimeout)
		defer cancel()
		started := time.Now()

		err := o.retrier.Do(stageCtx, faults.Context{
			Stage: schemas.StageFigma, Operation: "getSnapshot", RunID: runID,
		}, func(opCtx context.Context) error {
			snap, err := o.design.GetSnapshot(opCtx, req.FileKey, req.NodeID)
			if err != nil {
				return err
			}
			result.Design = snap
			return nil
		})

		designOutcome = o.finishedOutcome(schemas.StageFigma, err, stageCtx, started)
		return hardFailure(err)
	})

	g.Go(func() error {
		stageCtx, cancel := context.WithTimeout(groupCtx, webTimeout)
		defer cancel()
		started := time.Now()

		err := o.retrier.Do(stageCtx, faults.Context{
			Stage: schemas.StageWeb, Operation: "extractSnapshot", RunID: runID,
		}, func(opCtx context.Context) error {
			return o.extractWebOnce(opCtx, req, result)
		})

		webOutcome = o.finishedOutcome(schemas.StageWeb, err, stageCtx, started)
		return hardFailure(err)
	})

	// Stage errors are reported through the outcomes; the group error only
	// served to cancel the sibling.
	_ = g.Wait()
	return designOutcome, webOutcome
}

// extractWebOnce is a single web-extraction attempt: borrow a page, use it,
// release it on every exit path. Re-acquiring per attempt means a retry
// after a browser crash gets a fresh page.
func (o *Orchestrator) extractWebOnce(ctx context.Context, req *schemas.ValidatedRequest, result *schemas.ComparisonResult) error {
	launchOpts := browser.LaunchOptions{
		Headless: o.cfg.Pool.Headless,
		Args:     o.cfg.Pool.LaunchArgs,
	}
	tabOpts := browser.TabOptions{
		ViewportWidth:  o.cfg.Web.ViewportWidth,
		ViewportHeight: o.cfg.Web.ViewportHeight,
		UserAgent:      o.cfg.Web.UserAgent,
	}
	if req.Viewport != nil {
		tabOpts.ViewportWidth = req.Viewport.Width
		tabOpts.ViewportHeight = req.Viewport.Height
	}

	page, err := o.pool.AcquirePage(ctx, launchOpts, tabOpts)
	if err != nil {
		return err
	}
	// Release must not depend on the possibly-expired stage context.
	defer o.pool.ReleasePage(context.Background(), page.ID())

	snap, err := o.web.ExtractSnapshot(ctx, req.WebURL, req.Auth, page)
	if err != nil {
		return err
	}
	result.Web = snap
	return nil
}

// finishedOutcome builds the immutable stage record, distinguishing
// timeouts from plain errors.
func (o *Orchestrator) finishedOutcome(stage schemas.Stage, err error, stageCtx context.Context, started time.Time) schemas.ExtractionOutcome {
	return schemas.ExtractionOutcome{
		Stage:      stage,
		Status:     statusFor(err, stageCtx),
		Err:        err,
		Duration:   time.Since(started),
		FinishedAt: time.Now(),
	}
}

func (o *Orchestrator) outcomeFor(stage schemas.Stage, err error, stageCtx context.Context) schemas.ExtractionOutcome {
	return schemas.ExtractionOutcome{
		Stage:      stage,
		Status:     statusFor(err, stageCtx),
		Err:        err,
		FinishedAt: time.Now(),
	}
}

func statusFor(err error, stageCtx context.Context) schemas.OutcomeStatus {
	switch {
	case err == nil:
		return schemas.OutcomeOK
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return schemas.OutcomeTimeout
	default:
		return schemas.OutcomeError
	}
}

// hardFailure translates a stage error into a group-cancelling error, but
// lets warning-severity classifications pass without aborting the sibling.
func hardFailure(err error) error {
	if err == nil {
		return nil
	}
	if ce := faults.AsClassified(err); ce != nil && ce.Category == faults.CategoryWarning {
		return nil
	}
	return err
}

// stageDetail builds the diagnosable context for a classified failure:
// identifiers only, never handles.
func (o *Orchestrator) stageDetail(req *schemas.ValidatedRequest) map[string]string {
	return map[string]string{
		"file_key": req.FileKey,
		"node_id":  req.NodeID,
		"web_url":  req.WebURL,
	}
}

// recordHistory persists the run when a store is attached. Best-effort:
// history failures are logged, never propagated.
func (o *Orchestrator) recordHistory(runID string, req schemas.ComparisonRequest, status string, mismatches int, took time.Duration) {
	if o.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := o.history.Record(ctx, history.Run{
		ID:            runID,
		DesignURL:     req.DesignURL,
		WebURL:        req.WebURL,
		Status:        status,
		MismatchCount: mismatches,
		Duration:      took,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		o.logger.Warn("Failed to record run history", zap.String("run_id", runID), zap.Error(err))
	}
}
