package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

// Page is one attached page target inside its own isolated browser context.
// All other components receive it by value and must not outlive it.
type Page struct {
	sessionID    string
	browserCtxID cdp.BrowserContextID
	targetID     target.ID
	ctx          context.Context
	cancel       context.CancelFunc
	manager      *Manager
	logger       *zap.Logger
}

// SessionID returns the opaque handle observers use to tag captured data.
func (p *Page) SessionID() string { return p.sessionID }

// Context returns the chromedp context for this page. Event listeners attach
// to it; it dies when the page is closed.
func (p *Page) Context() context.Context { return p.ctx }

// Navigate drives the page to url, waits for the document to become ready and
// returns the final URL after any redirects. Bounded by ctx.
func (p *Page) Navigate(ctx context.Context, url string) (string, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()

	var finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return "", fmt.Errorf("navigation to %q failed: %w", url, err)
	}
	p.logger.Debug("Navigation complete", zap.String("final_url", finalURL))
	return finalURL, nil
}

// callFunction executes one of the fixed in-page operations against the
// page's document object. Resolving the document first gives the call the
// objectId the protocol requires and pins it to the top frame.
func (p *Page) callFunction(c context.Context, fn string, res interface{}, args ...interface{}) error {
	doc, err := dom.GetDocument().WithDepth(0).Do(c)
	if err != nil {
		return fmt.Errorf("failed to resolve document: %w", err)
	}
	obj, err := dom.ResolveNode().WithNodeID(doc.NodeID).Do(c)
	if err != nil {
		return fmt.Errorf("failed to resolve document object: %w", err)
	}
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(c) }()

	return chromedp.CallFunctionOn(fn, res, callOnObject(obj.ObjectID), args...).Do(c)
}

// Exists reports whether the selector matches a visible element. A fixed
// function declaration with the selector passed as an argument; no script
// source is assembled from inputs.
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()

	var visible bool
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		return p.callFunction(c, fnSelectorVisible, &visible, selector)
	}))
	if err != nil {
		return false, fmt.Errorf("selector probe failed: %w", err)
	}
	return visible, nil
}

// Click clicks the first element matching the selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	return nil
}

// OuterHTML returns the serialized document for offline scanning.
func (p *Page) OuterHTML(ctx context.Context) (string, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture outer HTML: %w", err)
	}
	return html, nil
}

// ClickByText clicks the first clickable element whose trimmed, case-folded
// text equals one of the phrases. Returns the matched text, or "" when no
// element matched.
func (p *Page) ClickByText(ctx context.Context, phrases []string) (string, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()

	var matched string
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		return p.callFunction(c, fnClickByText, &matched, clickableTags, phrases)
	}))
	if err != nil {
		return "", fmt.Errorf("text click failed: %w", err)
	}
	return matched, nil
}

// Cookies reads the authoritative cookie jar of this page's browser context.
// This is the persisted truth, independent of what any response claimed.
func (p *Page) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()

	var out []schemas.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		raw, err := storage.GetCookies().WithBrowserContextID(p.browserCtxID).Do(c)
		if err != nil {
			return err
		}
		out = make([]schemas.Cookie, 0, len(raw))
		for _, ck := range raw {
			cookie := schemas.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
				SameSite: schemas.SameSite(strings.ToLower(ck.SameSite.String())),
				Session:  ck.Session,
			}
			if !ck.Session && ck.Expires > 0 {
				cookie.ExpiresEpochMs = int64(ck.Expires * 1000)
			}
			out = append(out, cookie)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie jar: %w", err)
	}
	return out, nil
}

// storageDump mirrors the shape returned by fnReadStorage.
type storageDump struct {
	Local   []storagePair `json:"local"`
	Session []storagePair `json:"session"`
}

type storagePair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ReadStorage enumerates local and session storage via a fixed in-page read
// operation. Values are returned raw; masking is the snapshot builder's job.
func (p *Page) ReadStorage(ctx context.Context) ([]schemas.StorageItem, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()

	var dump storageDump
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		return p.callFunction(c, fnReadStorage, &dump)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read page storage: %w", err)
	}

	items := make([]schemas.StorageItem, 0, len(dump.Local)+len(dump.Session))
	for _, kv := range dump.Local {
		items = append(items, schemas.StorageItem{Kind: schemas.StorageLocal, Key: kv.Key, Value: kv.Value})
	}
	for _, kv := range dump.Session {
		items = append(items, schemas.StorageItem{Kind: schemas.StorageSession, Key: kv.Key, Value: kv.Value})
	}
	return items, nil
}

// Close tears the page and its browser context down. Best-effort; errors are
// logged by the manager, not returned to the orchestration layer.
func (p *Page) Close(ctx context.Context) error {
	p.logger.Debug("Closing page", zap.String("session_id", p.sessionID))
	if p.manager != nil {
		p.manager.unregister(p.sessionID)
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.manager != nil {
		p.manager.disposeBrowserContext(p.browserCtxID)
	}
	return nil
}

// actionContext bounds a page action by both the page lifetime and the
// caller's context.
func (p *Page) actionContext(opCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	return runCtx, cancel
}
