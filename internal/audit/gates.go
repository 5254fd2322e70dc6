package audit

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

// Gate identifiers. Stable strings; downstream consumers key off them.
const (
	GateNetworkCapture    = "network_capture"
	GateHostsConsistency  = "hosts_consistency"
	GateCookiesConsistent = "cookies_consistency"
	GateThirdPartyBlocked = "third_party_cookies_blocked"
	GateDataExtraction    = "data_extraction"
	GateRetention         = "retention_contradiction"
	GatePartyClass        = "party_classification"
	GateConsentScenarios  = "consent_scenarios"
)

// ExternalFigures carries numbers a downstream stage (classification,
// reporting) claims about this run, so the evaluator can cross-check them
// against the raw evidence. Nil pointers mean the figure was never computed;
// the corresponding gate then passes vacuously rather than guessing.
type ExternalFigures struct {
	ThirdPartyCount        *int
	CookieTotal            *int
	CookieFirst            *int
	CookieThird            *int
	MaxRetentionDays       int
	ParamEvidenceExtracted *bool
}

// Evaluator runs the self-check gates over a completed run. Gates are
// findings, never control flow: every gate is always reported and none of
// them can fail the run.
type Evaluator struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewEvaluator builds an evaluator with the wall clock.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{logger: logger.Named("gates"), now: time.Now}
}

// Evaluate checks all gates against the result and the externally reported
// figures. siteHost is the audited site's host for party classification.
func (e *Evaluator) Evaluate(res *schemas.Result, siteHost string, figs ExternalFigures) []schemas.QualityGate {
	var requestSets [][]schemas.RequestRecord
	var jars [][]schemas.Cookie
	if res.Pre != nil {
		requestSets = append(requestSets, res.Pre.Requests)
		jars = append(jars, res.Pre.JarCookies)
	}
	if res.Post != nil {
		requestSets = append(requestSets, res.Post.Requests)
		jars = append(jars, res.Post.JarCookies)
	}

	thirdHosts := ThirdPartyHosts(siteHost, requestSets...)
	merged := MergeJars(jars...)
	first, third := PartyCounts(merged, siteHost)

	gates := []schemas.QualityGate{
		e.networkCapture(res, requestSets),
		e.hostsConsistency(thirdHosts, figs),
		e.cookiesConsistency(merged, figs),
		e.thirdPartyBlocked(thirdHosts, third),
		e.dataExtraction(requestSets, figs),
		e.retention(merged, figs),
		e.partyClassification(first, third, figs),
		e.consentScenarios(res),
	}

	for _, g := range gates {
		if !g.Passed {
			e.logger.Warn("Quality gate failed",
				zap.String("gate", g.ID),
				zap.String("severity", string(g.Severity)),
				zap.String("message", g.Message))
		}
	}
	return gates
}

func gate(id string, sev schemas.Severity, passed bool, msg string, details map[string]string) schemas.QualityGate {
	return schemas.QualityGate{ID: id, Severity: sev, Passed: passed, Message: msg, Details: details}
}

// networkCapture distinguishes "the page really was this quiet" from "the
// capture machinery silently observed nothing".
func (e *Evaluator) networkCapture(res *schemas.Result, sets [][]schemas.RequestRecord) schemas.QualityGate {
	total := 0
	for _, s := range sets {
		total += len(s)
	}
	passed := total > 0 || res.NavigationOK
	msg := fmt.Sprintf("%d requests captured", total)
	if !passed {
		msg = "no requests captured and navigation was not confirmed"
	}
	return gate(GateNetworkCapture, schemas.SeverityError, passed,
		msg, map[string]string{"requests": strconv.Itoa(total)})
}

func (e *Evaluator) hostsConsistency(thirdHosts []string, figs ExternalFigures) schemas.QualityGate {
	if figs.ThirdPartyCount == nil {
		return gate(GateHostsConsistency, schemas.SeverityError, true,
			"no external third-party figure to check", nil)
	}
	observed := len(thirdHosts)
	passed := *figs.ThirdPartyCount == observed
	return gate(GateHostsConsistency, schemas.SeverityError, passed,
		fmt.Sprintf("reported %d third-party hosts, evidence shows %d", *figs.ThirdPartyCount, observed),
		map[string]string{
			"reported": strconv.Itoa(*figs.ThirdPartyCount),
			"observed": strconv.Itoa(observed),
		})
}

func (e *Evaluator) cookiesConsistency(merged []schemas.Cookie, figs ExternalFigures) schemas.QualityGate {
	if figs.CookieTotal == nil {
		return gate(GateCookiesConsistent, schemas.SeverityError, true,
			"no external cookie total to check", nil)
	}
	observed := len(merged)
	passed := *figs.CookieTotal == observed
	return gate(GateCookiesConsistent, schemas.SeverityError, passed,
		fmt.Sprintf("reported %d cookies, merged jar holds %d", *figs.CookieTotal, observed),
		map[string]string{
			"reported": strconv.Itoa(*figs.CookieTotal),
			"observed": strconv.Itoa(observed),
		})
}

// thirdPartyBlocked flags the signature of a browser profile that silently
// blocks third-party cookies: third-party hosts were contacted, yet not a
// single third-party cookie landed in the jar.
func (e *Evaluator) thirdPartyBlocked(thirdHosts []string, thirdCookies int) schemas.QualityGate {
	suspicious := len(thirdHosts) > 0 && thirdCookies == 0
	msg := fmt.Sprintf("%d third-party hosts, %d third-party cookies", len(thirdHosts), thirdCookies)
	if suspicious {
		msg += "; the profile may be blocking third-party cookies"
	}
	return gate(GateThirdPartyBlocked, schemas.SeverityWarn, !suspicious,
		msg, map[string]string{
			"third_party_hosts":   strconv.Itoa(len(thirdHosts)),
			"third_party_cookies": strconv.Itoa(thirdCookies),
		})
}

func (e *Evaluator) dataExtraction(sets [][]schemas.RequestRecord, figs ExternalFigures) schemas.QualityGate {
	if figs.ParamEvidenceExtracted == nil {
		return gate(GateDataExtraction, schemas.SeverityWarn, true,
			"no extraction stage reported", nil)
	}
	withParams := 0
	for _, s := range sets {
		for _, r := range s {
			if len(r.QueryParams) > 0 {
				withParams++
			}
		}
	}
	failed := withParams > 0 && !*figs.ParamEvidenceExtracted
	msg := fmt.Sprintf("%d requests carried query parameters", withParams)
	if failed {
		msg += " but the extraction stage produced nothing"
	}
	return gate(GateDataExtraction, schemas.SeverityWarn, !failed,
		msg, map[string]string{"requests_with_params": strconv.Itoa(withParams)})
}

// retention compares each persistent cookie's expiry against a stated
// maximum-retention claim. A cookie outliving the claim contradicts it.
func (e *Evaluator) retention(merged []schemas.Cookie, figs ExternalFigures) schemas.QualityGate {
	if figs.MaxRetentionDays <= 0 {
		return gate(GateRetention, schemas.SeverityError, true,
			"no retention claim to check", nil)
	}
	limit := e.now().Add(time.Duration(figs.MaxRetentionDays) * 24 * time.Hour).UnixMilli()
	var offenders []string
	for _, c := range merged {
		if !c.Session && c.ExpiresEpochMs > limit {
			offenders = append(offenders, c.Name)
			if len(offenders) >= 5 {
				break
			}
		}
	}
	passed := len(offenders) == 0
	msg := fmt.Sprintf("all cookies within the stated %d-day retention", figs.MaxRetentionDays)
	details := map[string]string{"max_retention_days": strconv.Itoa(figs.MaxRetentionDays)}
	if !passed {
		msg = fmt.Sprintf("cookies outlive the stated %d-day retention", figs.MaxRetentionDays)
		details["examples"] = fmt.Sprintf("%v", offenders)
	}
	return gate(GateRetention, schemas.SeverityError, passed, msg, details)
}

// partyClassification is pure arithmetic: every cookie must land in exactly
// one party bucket.
func (e *Evaluator) partyClassification(first, third int, figs ExternalFigures) schemas.QualityGate {
	if figs.CookieFirst != nil && figs.CookieThird != nil && figs.CookieTotal != nil {
		passed := *figs.CookieFirst+*figs.CookieThird == *figs.CookieTotal
		return gate(GatePartyClass, schemas.SeverityError, passed,
			fmt.Sprintf("reported %d first + %d third vs total %d",
				*figs.CookieFirst, *figs.CookieThird, *figs.CookieTotal),
			map[string]string{
				"first": strconv.Itoa(*figs.CookieFirst),
				"third": strconv.Itoa(*figs.CookieThird),
				"total": strconv.Itoa(*figs.CookieTotal),
			})
	}
	return gate(GatePartyClass, schemas.SeverityError, true,
		fmt.Sprintf("observed split %d first / %d third", first, third), nil)
}

// consentScenarios flags a post phase that is indistinguishable from the pre
// phase. Zero delta is legitimate on quiet sites, so this is informational.
func (e *Evaluator) consentScenarios(res *schemas.Result) schemas.QualityGate {
	if res.Post == nil {
		return gate(GateConsentScenarios, schemas.SeverityInfo, true,
			"no post phase captured", nil)
	}
	preReq, preCk := 0, 0
	if res.Pre != nil {
		preReq, preCk = len(res.Pre.Requests), len(res.Pre.JarCookies)
	}
	zeroDelta := len(res.Post.Requests) == 0 && len(res.Post.JarCookies) == preCk
	msg := "post phase shows distinct activity"
	if zeroDelta {
		msg = "post phase produced no new activity; the consent action may have had no effect"
	}
	return gate(GateConsentScenarios, schemas.SeverityInfo, !zeroDelta,
		msg, map[string]string{
			"pre_requests":  strconv.Itoa(preReq),
			"post_requests": strconv.Itoa(len(res.Post.Requests)),
			"pre_cookies":   strconv.Itoa(preCk),
			"post_cookies":  strconv.Itoa(len(res.Post.JarCookies)),
		})
}
