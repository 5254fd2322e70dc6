package audit

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

// Collector turns the protocol's network event stream into tagged request and
// Set-Cookie records. One collector lives for the whole run and is attached to
// each page in turn; events from any page that is not the active session are
// dropped at the door, so a straggler event from a closed phase A tab can
// never pollute phase B evidence.
type Collector struct {
	logger *zap.Logger
	phases *PhaseController
	nowMs  func() int64

	mu            sync.Mutex
	activeSession string
	records       map[string]*schemas.RequestRecord
	order         []string
	setCookies    map[schemas.Phase][]schemas.SetCookieRecord
	inflight      int
	lastActivity  time.Time

	// postPending counts outstanding POST body fetches; postDone signals on
	// every decrement. Both live under mu so readers can wait for quiescence
	// while new admissions keep arriving.
	postPending int
	postDone    *sync.Cond
}

// NewCollector builds a collector bound to the run's phase controller.
func NewCollector(logger *zap.Logger, phases *PhaseController) *Collector {
	c := &Collector{
		logger:       logger.Named("pipeline"),
		phases:       phases,
		nowMs:        func() int64 { return time.Now().UnixMilli() },
		records:      make(map[string]*schemas.RequestRecord),
		setCookies:   make(map[schemas.Phase][]schemas.SetCookieRecord),
		lastActivity: time.Now(),
	}
	c.postDone = sync.NewCond(&c.mu)
	return c
}

// SetActiveSession names the page whose events are currently admitted.
// Pass "" to drop everything, e.g. while tearing a page down.
func (c *Collector) SetActiveSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeSession = sessionID
	c.inflight = 0
	c.lastActivity = time.Now()
}

// Attach subscribes the collector to a page's event stream. The sessionID is
// stamped onto every record produced from this page; tabCtx is the page's
// chromedp context and also serves as the executor for follow-up protocol
// calls such as the asynchronous POST body fetch.
func (c *Collector) Attach(tabCtx context.Context, sessionID string) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		c.dispatch(tabCtx, sessionID, ev)
	})
}

func (c *Collector) dispatch(tabCtx context.Context, sessionID string, ev interface{}) {
	c.mu.Lock()
	if sessionID != c.activeSession {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		c.onRequest(tabCtx, sessionID, e)
	case *network.EventResponseReceivedExtraInfo:
		c.onResponseExtra(sessionID, e)
	case *network.EventLoadingFinished:
		c.onLoadingDone(sessionID, string(e.RequestID))
	case *network.EventLoadingFailed:
		c.onLoadingDone(sessionID, string(e.RequestID))
	}
}

func recordKey(sessionID, requestID string) string {
	return sessionID + "\x00" + requestID
}

func (c *Collector) onRequest(tabCtx context.Context, sessionID string, ev *network.EventRequestWillBeSent) {
	rec := &schemas.RequestRecord{
		ID:          string(ev.RequestID),
		URL:         ev.Request.URL,
		Method:      ev.Request.Method,
		Headers:     canonicalHeaders(ev.Request.Headers),
		HasPostData: ev.Request.HasPostData,
		Session:     sessionID,
		Phase:       c.phases.Current(),
		TimestampMs: c.nowMs(),
	}
	if u, err := url.Parse(ev.Request.URL); err == nil && len(u.RawQuery) > 0 {
		rec.QueryParams = u.Query()
	}

	key := recordKey(sessionID, string(ev.RequestID))

	c.mu.Lock()
	if sessionID != c.activeSession {
		c.mu.Unlock()
		return
	}
	if _, seen := c.records[key]; !seen {
		c.order = append(c.order, key)
		c.inflight++
	}
	c.records[key] = rec
	c.lastActivity = time.Now()
	if rec.HasPostData {
		c.postPending++
	}
	c.mu.Unlock()

	if rec.HasPostData {
		go c.fetchPostData(tabCtx, key, ev.RequestID)
	}
}

// fetchPostData retrieves a POST body after the fact. The record already
// exists with HasPostData set, so a failed or late fetch degrades evidence
// but never loses the request itself. Always decrements postPending exactly
// once.
func (c *Collector) fetchPostData(tabCtx context.Context, key string, requestID network.RequestID) {
	var body string
	err := errors.New("no protocol target attached")
	if cctx := chromedp.FromContext(tabCtx); cctx != nil && cctx.Target != nil {
		body, err = network.GetRequestPostData(requestID).Do(cdp.WithExecutor(tabCtx, cctx.Target))
	}
	if err != nil {
		c.logger.Debug("POST body unavailable", zap.String("request_id", string(requestID)), zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		if rec, ok := c.records[key]; ok {
			rec.PostData = body
		}
	}
	c.postPending--
	c.postDone.Broadcast()
}

func (c *Collector) onResponseExtra(sessionID string, ev *network.EventResponseReceivedExtraInfo) {
	joined := lookupHeader(ev.Headers, "Set-Cookie")
	if joined == "" {
		return
	}

	now := time.Now()
	phase := c.phases.Current()

	c.mu.Lock()
	defer c.mu.Unlock()
	if sessionID != c.activeSession {
		return
	}
	for _, raw := range splitSetCookieHeader(joined) {
		if rec, ok := ParseSetCookie(raw, now); ok {
			c.setCookies[phase] = append(c.setCookies[phase], rec)
		}
	}
	c.lastActivity = now
}

func (c *Collector) onLoadingDone(sessionID, requestID string) {
	key := recordKey(sessionID, requestID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if sessionID != c.activeSession {
		return
	}
	if _, ok := c.records[key]; ok && c.inflight > 0 {
		c.inflight--
	}
	c.lastActivity = time.Now()
}

// lookupHeader finds a header value case-insensitively in a raw protocol
// header map.
func lookupHeader(headers network.Headers, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// InflightCount returns the number of admitted requests still loading.
func (c *Collector) InflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// WaitNetworkIdle blocks until no admitted request has been in flight for at
// least quiet, or until max elapses, whichever comes first. A busy page is
// bounded, not trusted.
func (c *Collector) WaitNetworkIdle(ctx context.Context, quiet, max time.Duration) {
	deadline := time.Now().Add(max)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		idleFor := time.Since(c.lastActivity)
		inflight := c.inflight
		c.mu.Unlock()

		if inflight == 0 && idleFor >= quiet {
			return
		}
		if time.Now().After(deadline) {
			c.logger.Debug("Network idle wait hit its bound",
				zap.Int("inflight", inflight), zap.Duration("max", max))
			return
		}
	}
}

// RecordsByPhase returns copies of all records tagged with the phase, ordered
// by observation time. Callers get values, never aliases into the pipeline.
func (c *Collector) RecordsByPhase(phase schemas.Phase) []schemas.RequestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.postPending > 0 {
		c.postDone.Wait()
	}

	out := make([]schemas.RequestRecord, 0, len(c.order))
	for _, key := range c.order {
		if rec, ok := c.records[key]; ok && rec.Phase == phase {
			out = append(out, *rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out
}

// SetCookiesByPhase returns a copy of the Set-Cookie records for the phase.
func (c *Collector) SetCookiesByPhase(phase schemas.Phase) []schemas.SetCookieRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schemas.SetCookieRecord(nil), c.setCookies[phase]...)
}

// RequestCount returns the total number of admitted requests across phases.
func (c *Collector) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
