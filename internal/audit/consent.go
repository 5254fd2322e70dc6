package audit

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consent-audit/api/schemas"
	"github.com/xkilldash9x/consent-audit/internal/config"
)

// Hunter locates and activates the consent control matching the requested
// path mode. Discovery is two-pass: a structural pass over known CMP
// selectors, then a free-text pass over visible clickable elements. Not
// finding a control is a finding, never an error.
type Hunter struct {
	logger *zap.Logger
	cfg    config.ConsentConfig
}

// Outcome describes what the hunter observed and did.
type Outcome struct {
	// Found is true when a candidate control was located by either pass.
	Found bool
	// Clicked is true when the located control was actually activated.
	Clicked bool
	// Method is "selector" or "text", set when Found.
	Method string
	// Matched is the selector or the normalized text that matched.
	Matched string
}

// NewHunter builds a hunter from the configured discovery strategy.
func NewHunter(logger *zap.Logger, cfg config.ConsentConfig) *Hunter {
	return &Hunter{logger: logger.Named("consent"), cfg: cfg}
}

func (h *Hunter) selectors(mode schemas.PathMode) []string {
	if mode == schemas.PathReject {
		return h.cfg.RejectSelectors
	}
	return h.cfg.AcceptSelectors
}

func (h *Hunter) phrases(mode schemas.PathMode) []string {
	if mode == schemas.PathReject {
		return h.cfg.RejectPhrases
	}
	return h.cfg.AcceptPhrases
}

// Find runs both discovery passes against the page and clicks the first
// match. Probe failures degrade to the next candidate; only the outcome
// carries what happened.
func (h *Hunter) Find(ctx context.Context, page Page, mode schemas.PathMode) Outcome {
	if out := h.structuralPass(ctx, page, mode); out.Found {
		return out
	}
	return h.textPass(ctx, page, mode)
}

// structuralPass probes the known CMP selectors in priority order and clicks
// the first one that is visible.
func (h *Hunter) structuralPass(ctx context.Context, page Page, mode schemas.PathMode) Outcome {
	for _, sel := range h.selectors(mode) {
		visible, err := page.Exists(ctx, sel)
		if err != nil {
			h.logger.Debug("Selector probe failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if !visible {
			continue
		}
		out := Outcome{Found: true, Method: "selector", Matched: sel}
		if err := page.Click(ctx, sel); err != nil {
			h.logger.Warn("Consent control found but click failed",
				zap.String("selector", sel), zap.Error(err))
			return out
		}
		h.logger.Info("Consent control clicked",
			zap.String("method", "selector"), zap.String("selector", sel))
		out.Clicked = true
		return out
	}
	return Outcome{}
}

// textPass scans the serialized document offline for a phrase match first,
// then performs the click in the live page. The offline scan keeps the number
// of round trips to the page at one even with long phrase lists.
func (h *Hunter) textPass(ctx context.Context, page Page, mode schemas.PathMode) Outcome {
	html, err := page.OuterHTML(ctx)
	if err != nil {
		h.logger.Debug("Document capture for text pass failed", zap.Error(err))
		return Outcome{}
	}

	phrases := h.phrases(mode)
	candidate := FindTextCandidate(html, phrases)
	if candidate == "" {
		return Outcome{}
	}

	out := Outcome{Found: true, Method: "text", Matched: candidate}
	matched, err := page.ClickByText(ctx, phrases)
	if err != nil {
		h.logger.Warn("Consent text candidate found but click failed",
			zap.String("text", candidate), zap.Error(err))
		return out
	}
	if matched == "" {
		// The offline document had the phrase but the live page no longer
		// shows it clickable, e.g. the banner dismissed itself meanwhile.
		h.logger.Debug("Text candidate vanished before click", zap.String("text", candidate))
		return out
	}
	out.Matched = matched
	out.Clicked = true
	h.logger.Info("Consent control clicked",
		zap.String("method", "text"), zap.String("text", matched))
	return out
}

// normalizeText collapses whitespace and case-folds, mirroring the in-page
// comparison so offline and live matching agree.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// FindTextCandidate scans an HTML document for a clickable element whose
// normalized text equals one of the phrases. Returns the normalized matched
// text, or "" when nothing matches. Pure; operates on the serialized document
// only.
func FindTextCandidate(html string, phrases []string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	wanted := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		wanted[normalizeText(p)] = struct{}{}
	}

	var found string
	doc.Find("button, a, [role='button']").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := normalizeText(sel.Text())
		if _, ok := wanted[text]; ok && text != "" {
			found = text
			return false
		}
		return true
	})
	return found
}
