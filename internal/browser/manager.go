package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consent-audit/internal/config"
)

// Manager owns the connection to the browser process and hands out isolated
// browser contexts. Each run opens exactly two contexts, sequentially; the
// contexts never share a cookie jar or storage.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// browserCtx is the bootstrap tab used to issue browser-level commands
	// (context creation/disposal). It never navigates anywhere.
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// Track open pages for shutdown.
	pages map[string]*Page
	mu    sync.Mutex
}

// NewManager starts (or attaches to) the browser and verifies the connection.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		pages:  make(map[string]*Page),
	}

	if remote := cfg.Browser.RemoteURL; remote != "" {
		wsURL, err := remoteEndpoint(remote, cfg.Browser.RemoteToken)
		if err != nil {
			return nil, err
		}
		m.allocatorCtx, m.allocatorCancel = chromedp.NewRemoteAllocator(ctx, wsURL)
	} else {
		m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.allocatorOptions()...)
	}

	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	// First Run establishes the protocol connection.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.allocatorCancel()
		return nil, ClassifyConnectError(err, cfg.Browser.RemoteToken != "")
	}

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Bool("remote", cfg.Browser.RemoteURL != ""),
	)
	return m, nil
}

// allocatorOptions configures the flags for the local browser executable.
func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	browserCfg := m.cfg.Browser
	if browserCfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		// GPU often causes issues in headless/containerized environments.
		chromedp.Flag("disable-gpu", browserCfg.Headless),

		chromedp.Flag("ignore-certificate-errors", browserCfg.IgnoreTLSErrors),
	)

	return opts
}

// OpenContext creates a fresh, isolated browser context with one attached
// page target, enables the network/page/runtime domains and installs the
// resource-blocking policy. It does not navigate; the caller attaches its
// event listeners first so no early request goes unobserved.
func (m *Manager) OpenContext(ctx context.Context) (*Page, error) {
	browserExec := m.browserExecutor()

	var bctxID cdp.BrowserContextID
	var tid target.ID
	err := chromedp.Run(m.browserCtx, chromedp.ActionFunc(func(context.Context) error {
		var err error
		bctxID, err = target.CreateBrowserContext().
			WithDisposeOnDetach(true).
			Do(browserExec)
		if err != nil {
			return fmt.Errorf("failed to create browser context: %w", err)
		}
		tid, err = target.CreateTarget("about:blank").
			WithBrowserContextID(bctxID).
			Do(browserExec)
		if err != nil {
			return fmt.Errorf("failed to create page target: %w", err)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(tid))

	// Tie the tab to the caller's lifetime as well.
	go func() {
		select {
		case <-ctx.Done():
			tabCancel()
		case <-tabCtx.Done():
		}
	}()

	blocked := m.cfg.Browser.BlockedPatterns
	if err := chromedp.Run(tabCtx,
		network.Enable(),
		page.Enable(),
		runtime.Enable(),
		network.SetBlockedURLs(blocked),
	); err != nil {
		tabCancel()
		m.disposeBrowserContext(bctxID)
		return nil, fmt.Errorf("failed to enable protocol domains: %w", err)
	}

	p := &Page{
		sessionID:    uuid.New().String(),
		browserCtxID: bctxID,
		targetID:     tid,
		ctx:          tabCtx,
		cancel:       tabCancel,
		manager:      m,
		logger:       m.logger.Named("page"),
	}

	m.mu.Lock()
	m.pages[p.sessionID] = p
	m.mu.Unlock()

	m.logger.Debug("Opened isolated browser context",
		zap.String("session_id", p.sessionID),
		zap.String("target_id", string(tid)),
	)
	return p, nil
}

// browserExecutor returns a context that executes commands against the
// browser-level (not tab-level) protocol session.
func (m *Manager) browserExecutor() context.Context {
	c := chromedp.FromContext(m.browserCtx)
	return cdp.WithExecutor(m.browserCtx, c.Browser)
}

// disposeBrowserContext tears a browser context down. Best-effort: failure is
// logged, never propagated, so budget exhaustion cannot cascade into a run
// failure during cleanup.
func (m *Manager) disposeBrowserContext(id cdp.BrowserContextID) {
	if id == "" {
		return
	}
	err := target.DisposeBrowserContext(id).Do(m.browserExecutor())
	if err != nil && m.browserCtx.Err() == nil {
		m.logger.Warn("Failed to dispose browser context", zap.String("browser_context_id", string(id)), zap.Error(err))
	}
}

// unregister removes a page from the tracking map. Called by Page.Close.
func (m *Manager) unregister(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, sessionID)
}

// Shutdown closes all open pages and terminates the browser connection.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager...")

	m.mu.Lock()
	open := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		open = append(open, p)
	}
	m.pages = make(map[string]*Page)
	m.mu.Unlock()

	for _, p := range open {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.Close(closeCtx); err != nil {
			m.logger.Warn("Error closing page during shutdown", zap.String("session_id", p.sessionID), zap.Error(err))
		}
		cancel()
	}

	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}

// remoteEndpoint validates the remote devtools URL and appends the auth token
// when one is configured.
func remoteEndpoint(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid remote browser URL %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("remote browser URL must use ws:// or wss://, got %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ConnectError wraps a connection-phase failure with its error code class so
// the orchestration layer can report AUTH_FAILED versus TRANSPORT_FAILED
// without string matching.
type ConnectError struct {
	AuthRejected bool
	Err          error
}

func (e *ConnectError) Error() string {
	if e.AuthRejected {
		return fmt.Sprintf("browser endpoint rejected authentication: %v", e.Err)
	}
	return fmt.Sprintf("browser transport failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ClassifyConnectError distinguishes an authentication rejection from a plain
// transport failure based on the handshake error shape.
func ClassifyConnectError(err error, tokenConfigured bool) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	authRejected := tokenConfigured &&
		(strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
			strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"))
	return &ConnectError{AuthRejected: authRejected, Err: err}
}
