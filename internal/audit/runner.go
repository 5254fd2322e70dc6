package audit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consent-audit/api/schemas"
	"github.com/xkilldash9x/consent-audit/internal/browser"
	"github.com/xkilldash9x/consent-audit/internal/config"
)

// Page is the slice of page behavior the audit needs. The browser package's
// concrete page satisfies it; tests substitute fakes.
type Page interface {
	SessionID() string
	Context() context.Context
	Navigate(ctx context.Context, url string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	OuterHTML(ctx context.Context) (string, error)
	ClickByText(ctx context.Context, phrases []string) (string, error)
	Cookies(ctx context.Context) ([]schemas.Cookie, error)
	ReadStorage(ctx context.Context) ([]schemas.StorageItem, error)
	Close(ctx context.Context) error
}

// Browser hands out isolated page contexts. OpenContext must return a page
// that has not navigated yet, so listeners attach before the first request.
type Browser interface {
	OpenContext(ctx context.Context) (Page, error)
}

// managerBrowser adapts the concrete browser manager to the Browser interface.
type managerBrowser struct{ m *browser.Manager }

func (b managerBrowser) OpenContext(ctx context.Context) (Page, error) {
	return b.m.OpenContext(ctx)
}

// NewBrowserAdapter wraps a browser manager for use by the runner.
func NewBrowserAdapter(m *browser.Manager) Browser {
	return managerBrowser{m: m}
}

// MetaSink persists run metadata. Persistence is fire-and-forget; a sink
// failure never affects the run outcome.
type MetaSink interface {
	SaveRunMeta(ctx context.Context, meta schemas.RunMeta) error
}

// Runner orchestrates one full consent journey: pre-consent capture, consent
// action in a fresh isolated context, post-consent capture, self-checks.
type Runner struct {
	logger  *zap.Logger
	cfg     *config.Config
	browser Browser
	sink    MetaSink
}

// NewRunner wires the orchestration. sink may be nil when persistence is
// disabled.
func NewRunner(logger *zap.Logger, cfg *config.Config, b Browser, sink MetaSink) *Runner {
	return &Runner{
		logger:  logger.Named("runner"),
		cfg:     cfg,
		browser: b,
		sink:    sink,
	}
}

// Run executes the audit for one URL and returns the response envelope. The
// wall-clock budget bounds the whole journey; when it runs short, phase B is
// sacrificed and the result is marked partial rather than failing.
func (r *Runner) Run(ctx context.Context, req schemas.AuditRequest) schemas.AuditResponse {
	traceID := uuid.New().String()
	log := r.logger.With(zap.String("trace_id", traceID))

	if req.URL == "" {
		return failure(traceID, schemas.ErrMissingURL, "no target URL provided")
	}
	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return failure(traceID, schemas.ErrMissingURL,
			fmt.Sprintf("target URL %q is not an absolute http(s) URL", req.URL))
	}
	mode := req.PathMode
	if mode == "" {
		mode = schemas.PathAccept
	}

	started := time.Now()
	audit := r.cfg.Audit
	gov := NewGovernor(audit.BudgetCeiling, audit.MinWait)
	phases := NewPhaseController()
	collector := NewCollector(log, phases)
	builder := NewSnapshotBuilder(log, collector, audit.MaskValueLimit)
	hunter := NewHunter(log, r.cfg.Consent)

	runCtx, cancel := context.WithTimeout(ctx, audit.BudgetCeiling)
	defer cancel()

	log.Info("Audit started", zap.String("url", req.URL), zap.String("mode", string(mode)))

	// Phase A: pre-consent capture.
	pre, finalURL, err := r.capturePre(runCtx, log, collector, builder, gov, req.URL)
	if err != nil {
		return failureFromError(traceID, err)
	}
	preMs := gov.Elapsed().Milliseconds()

	result := &schemas.Result{
		TraceID:      traceID,
		FinalURL:     finalURL,
		PathMode:     mode,
		Pre:          pre,
		NavigationOK: true,
	}
	result.PhaseDurations.PreMs = preMs

	// Phase B: consent action and post capture, only if the budget still
	// carries a viable window.
	if !gov.SufficientFor(audit.MinPhaseB) {
		log.Warn("Budget too low for post-consent phase, result is partial",
			zap.Duration("remaining", gov.Remaining()))
		result.Partial = true
	} else {
		outcome, post, postErr := r.capturePost(runCtx, log, collector, builder, hunter, phases, gov, req.URL, mode)
		if postErr != nil {
			log.Warn("Post-consent phase failed, result degrades to partial", zap.Error(postErr))
			result.Partial = true
		} else {
			result.Post = post
			result.ConsentFound = outcome.Found
			result.ConsentClicked = outcome.Clicked
			result.ConsentMethod = outcome.Method
			result.PhaseDurations.PostMs = gov.Elapsed().Milliseconds() - preMs
		}
	}

	siteHost := target.Hostname()
	if fu, err := url.Parse(finalURL); err == nil && fu.Hostname() != "" {
		siteHost = fu.Hostname()
	}

	metrics, figures := r.summarize(result, collector, siteHost)
	gates := NewEvaluator(log).Evaluate(result, siteHost, figures)

	r.persist(log, schemas.RunMeta{
		TraceID:    traceID,
		TargetURL:  req.URL,
		PathMode:   mode,
		Status:     "completed",
		Partial:    result.Partial,
		StartedAt:  started,
		FinishedAt: time.Now(),
		PreMs:      result.PhaseDurations.PreMs,
		PostMs:     result.PhaseDurations.PostMs,
		Requests:   metrics.RequestsTotal,
		Cookies:    metrics.CookiesPreCount + metrics.CookiesPostCount,
	})

	log.Info("Audit complete",
		zap.Bool("partial", result.Partial),
		zap.Int("requests", metrics.RequestsTotal),
		zap.Duration("elapsed", gov.Elapsed()))

	return schemas.AuditResponse{
		Success: true,
		TraceID: traceID,
		Metrics: metrics,
		Result:  result,
		Gates:   gates,
	}
}

// capturePre opens the first isolated context, navigates and builds the
// pre-consent snapshot.
func (r *Runner) capturePre(ctx context.Context, log *zap.Logger, collector *Collector,
	builder *SnapshotBuilder, gov *Governor, targetURL string) (*schemas.Snapshot, string, error) {

	audit := r.cfg.Audit

	page, err := r.browser.OpenContext(ctx)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		collector.SetActiveSession("")
		_ = page.Close(ctx)
	}()

	collector.SetActiveSession(page.SessionID())
	collector.Attach(page.Context(), page.SessionID())

	navCtx, navCancel := context.WithTimeout(ctx, gov.Allocate(audit.NavTimeout, audit.Buffer))
	finalURL, err := page.Navigate(navCtx, targetURL)
	navCancel()
	if err != nil {
		return nil, "", fmt.Errorf("pre-consent navigation: %w", err)
	}

	collector.WaitNetworkIdle(ctx, audit.IdleQuiet, gov.Allocate(audit.IdleMax, audit.Buffer))
	sleepCtx(ctx, gov.Allocate(audit.Settle, audit.Buffer))

	snap := builder.Build(ctx, schemas.PhasePre, page)
	return snap, finalURL, nil
}

// capturePost runs the consent journey in a fresh isolated context: navigate,
// hunt, click, advance the phase, settle, snapshot.
func (r *Runner) capturePost(ctx context.Context, log *zap.Logger, collector *Collector,
	builder *SnapshotBuilder, hunter *Hunter, phases *PhaseController, gov *Governor,
	targetURL string, mode schemas.PathMode) (Outcome, *schemas.Snapshot, error) {

	audit := r.cfg.Audit

	page, err := r.browser.OpenContext(ctx)
	if err != nil {
		return Outcome{}, nil, err
	}
	defer func() {
		collector.SetActiveSession("")
		_ = page.Close(ctx)
	}()

	collector.SetActiveSession(page.SessionID())
	collector.Attach(page.Context(), page.SessionID())

	navCtx, navCancel := context.WithTimeout(ctx, gov.Allocate(audit.NavTimeout, audit.Buffer))
	_, err = page.Navigate(navCtx, targetURL)
	navCancel()
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("post-consent navigation: %w", err)
	}

	collector.WaitNetworkIdle(ctx, audit.IdleQuiet, gov.Allocate(audit.IdleMax, audit.Buffer))

	outcome := hunter.Find(ctx, page, mode)

	// The phase flips exactly once, right after the consent attempt, so every
	// request from here on carries the post tag even when no control existed.
	if err := phases.Advance(mode.PostPhase()); err != nil {
		log.Error("Phase advance rejected", zap.Error(err))
	}

	if outcome.Clicked {
		sleepCtx(ctx, gov.Allocate(audit.Settle, audit.Buffer))
		collector.WaitNetworkIdle(ctx, audit.IdleQuiet, gov.Allocate(audit.IdleMax, audit.Buffer))
	}

	snap := builder.Build(ctx, mode.PostPhase(), page)
	return outcome, snap, nil
}

// summarize derives the metrics and the figures the gates cross-check. The
// consistency figures stay unset here: the evaluator computes its own counts
// from the evidence, so feeding it the runner's arithmetic back would make
// those gates tautological. They only fill in when a genuinely external
// stage (classification, reporting) claims numbers about this run.
func (r *Runner) summarize(result *schemas.Result, collector *Collector, siteHost string) (*schemas.Metrics, ExternalFigures) {
	var requestSets [][]schemas.RequestRecord
	preCount, postCount := 0, 0
	if result.Pre != nil {
		requestSets = append(requestSets, result.Pre.Requests)
		preCount = len(result.Pre.JarCookies)
	}
	if result.Post != nil {
		requestSets = append(requestSets, result.Post.Requests)
		postCount = len(result.Post.JarCookies)
	}

	metrics := &schemas.Metrics{
		RequestsTotal:     collector.RequestCount(),
		ThirdPartiesCount: len(ThirdPartyHosts(siteHost, requestSets...)),
		CookiesPreCount:   preCount,
		CookiesPostCount:  postCount,
	}
	if result.Pre != nil {
		metrics.RequestsPreConsent = len(result.Pre.Requests)
	}

	figures := ExternalFigures{
		MaxRetentionDays: r.cfg.Audit.MaxRetentionDays,
	}
	return metrics, figures
}

// persist hands the run metadata to the sink without blocking the response.
func (r *Runner) persist(log *zap.Logger, meta schemas.RunMeta) {
	if r.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.sink.SaveRunMeta(ctx, meta); err != nil {
			log.Warn("Run metadata persistence failed", zap.Error(err))
		}
	}()
}

// ResponseFromStartupError maps a browser startup failure onto the response
// envelope before any run began.
func ResponseFromStartupError(err error) schemas.AuditResponse {
	return failureFromError(uuid.New().String(), err)
}

// failureFromError maps an orchestration error onto the closed error-code set.
func failureFromError(traceID string, err error) schemas.AuditResponse {
	var connErr *browser.ConnectError
	if errors.As(err, &connErr) {
		if connErr.AuthRejected {
			return failure(traceID, schemas.ErrAuthFailed, err.Error())
		}
		return failure(traceID, schemas.ErrTransportFailed, err.Error())
	}
	return failure(traceID, schemas.ErrExecution, err.Error())
}

func failure(traceID string, code schemas.ErrorCode, details string) schemas.AuditResponse {
	return schemas.AuditResponse{
		Success:   false,
		TraceID:   traceID,
		ErrorCode: code,
		Details:   details,
	}
}

// sleepCtx pauses for d or until the context ends, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
