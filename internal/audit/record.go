package audit

import (
	"net/http"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

// ParseSetCookie parses a single Set-Cookie header value into a record.
// The first `;`-separated segment carries name=value; the remaining segments
// map case-insensitively onto the cookie attributes. Max-Age overrides
// Expires by converting to an absolute epoch from now. A value without a
// name=value first segment yields ok=false.
func ParseSetCookie(raw string, now time.Time) (schemas.SetCookieRecord, bool) {
	var rec schemas.SetCookieRecord

	segments := strings.Split(raw, ";")
	if len(segments) == 0 {
		return rec, false
	}

	name, value, found := strings.Cut(strings.TrimSpace(segments[0]), "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return rec, false
	}
	rec.Name = name
	rec.Value = strings.TrimSpace(value)

	var expires, maxAge int64
	var hasMaxAge bool

	for _, seg := range segments[1:] {
		attr, attrVal, _ := strings.Cut(strings.TrimSpace(seg), "=")
		attrVal = strings.TrimSpace(attrVal)
		switch strings.ToLower(strings.TrimSpace(attr)) {
		case "domain":
			rec.Domain = strings.TrimPrefix(strings.ToLower(attrVal), ".")
		case "path":
			rec.Path = attrVal
		case "expires":
			if t, err := parseCookieTime(attrVal); err == nil {
				expires = t.UnixMilli()
			}
		case "max-age":
			if secs, err := strconv.ParseInt(attrVal, 10, 64); err == nil {
				maxAge = now.Add(time.Duration(secs) * time.Second).UnixMilli()
				hasMaxAge = true
			}
		case "httponly":
			rec.HTTPOnly = true
		case "secure":
			rec.Secure = true
		case "samesite":
			rec.SameSite = schemas.SameSite(strings.ToLower(attrVal))
		}
	}

	if hasMaxAge {
		rec.ExpiresEpochMs = maxAge
	} else {
		rec.ExpiresEpochMs = expires
	}
	return rec, true
}

// Legacy Netscape cookie date with dashes, still emitted by many servers.
const cookieDashTimeLayout = "Mon, 02-Jan-2006 15:04:05 MST"

// parseCookieTime reads an Expires attribute value. http.ParseTime covers the
// standard HTTP date formats; the dash-separated form needs its own layout.
func parseCookieTime(s string) (time.Time, error) {
	if t, err := http.ParseTime(s); err == nil {
		return t, nil
	}
	return time.Parse(cookieDashTimeLayout, s)
}

// splitSetCookieHeader splits the protocol's newline-joined multi-value
// Set-Cookie header into individual header values.
func splitSetCookieHeader(joined string) []string {
	lines := strings.Split(joined, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// canonicalHeaders flattens protocol headers into a string map with
// canonical MIME keys so later lookups are case-insensitive by construction.
func canonicalHeaders(raw map[string]interface{}) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[textproto.CanonicalMIMEHeaderKey(k)] = s
		}
	}
	return out
}

// Patterns that mark a storage value as sensitive-looking. Kept deliberately
// coarse: over-masking is cheaper than leaking.
var (
	emailLikePattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	dateLikePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{2}[./]\d{2}[./]\d{4})\b`)
)

const maskedValue = "[masked]"

// maskStorageValue masks values that look like emails or dates, or exceed
// limit bytes, before they leave the snapshot boundary.
func maskStorageValue(value string, limit int) (string, bool) {
	if limit > 0 && len(value) > limit {
		return maskedValue, true
	}
	if emailLikePattern.MatchString(value) || dateLikePattern.MatchString(value) {
		return maskedValue, true
	}
	return value, false
}
