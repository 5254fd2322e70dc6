package audit

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

// cookieIdentity is the deduplication key for jar reconciliation. Two cookies
// with the same name, domain and path are the same cookie observed twice.
type cookieIdentity struct {
	name   string
	domain string
	path   string
}

func identityOf(c schemas.Cookie) cookieIdentity {
	return cookieIdentity{
		name:   c.Name,
		domain: strings.TrimPrefix(strings.ToLower(c.Domain), "."),
		path:   c.Path,
	}
}

// MergeJars reconciles cookie observations from multiple reads of the same
// jar. When the same cookie appears more than once, the longer-lived variant
// wins; a persistent cookie always beats a session cookie. Order of the
// result is deterministic (domain, then name, then path).
func MergeJars(jars ...[]schemas.Cookie) []schemas.Cookie {
	merged := make(map[cookieIdentity]schemas.Cookie)
	for _, jar := range jars {
		for _, c := range jar {
			id := identityOf(c)
			prev, seen := merged[id]
			if !seen || longerLived(c, prev) {
				merged[id] = c
			}
		}
	}

	out := make([]schemas.Cookie, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// longerLived reports whether a outlives b.
func longerLived(a, b schemas.Cookie) bool {
	if a.Session != b.Session {
		return !a.Session
	}
	return a.ExpiresEpochMs > b.ExpiresEpochMs
}

// RegistrableDomain reduces a host to its eTLD+1. IP addresses and
// single-label hosts (localhost, intranet names) fall back to the host
// itself, so comparisons stay exact for them.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	etld, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld
}

// IsThirdParty reports whether host belongs to a different registrable domain
// than the audited site.
func IsThirdParty(host, siteHost string) bool {
	return RegistrableDomain(host) != RegistrableDomain(siteHost)
}

// ThirdPartyHosts extracts the distinct third-party hosts contacted across
// the given request sets, sorted.
func ThirdPartyHosts(siteHost string, requestSets ...[]schemas.RequestRecord) []string {
	seen := make(map[string]struct{})
	for _, set := range requestSets {
		for _, rec := range set {
			u, err := url.Parse(rec.URL)
			if err != nil || u.Hostname() == "" {
				continue
			}
			h := strings.ToLower(u.Hostname())
			if IsThirdParty(h, siteHost) {
				seen[h] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// PartyCounts splits a cookie jar into first- and third-party counts relative
// to the audited site. Every cookie lands in exactly one bucket.
func PartyCounts(cookies []schemas.Cookie, siteHost string) (first, third int) {
	for _, c := range cookies {
		if IsThirdParty(strings.TrimPrefix(c.Domain, "."), siteHost) {
			third++
		} else {
			first++
		}
	}
	return first, third
}
