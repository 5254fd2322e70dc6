package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

func TestParseSetCookie(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	t.Run("full attribute set", func(t *testing.T) {
		raw := "tracking_id=abc123; Domain=.example.com; Path=/; Expires=Wed, 01 Jan 2031 00:00:00 GMT; Secure; HttpOnly; SameSite=Lax"
		rec, ok := ParseSetCookie(raw, now)
		require.True(t, ok)
		assert.Equal(t, "tracking_id", rec.Name)
		assert.Equal(t, "abc123", rec.Value)
		assert.Equal(t, "example.com", rec.Domain, "leading dot is stripped")
		assert.Equal(t, "/", rec.Path)
		assert.True(t, rec.Secure)
		assert.True(t, rec.HTTPOnly)
		assert.Equal(t, schemas.SameSiteLax, rec.SameSite)
		wantExpiry := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
		assert.Equal(t, wantExpiry, rec.ExpiresEpochMs)
	})

	t.Run("dash-separated expires date", func(t *testing.T) {
		raw := "tracking_id=abc123; Expires=Wed, 01-Jan-2031 00:00:00 GMT; Path=/"
		rec, ok := ParseSetCookie(raw, now)
		require.True(t, ok)
		wantExpiry := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
		assert.Equal(t, wantExpiry, rec.ExpiresEpochMs)
	})

	t.Run("max-age overrides expires", func(t *testing.T) {
		raw := "sess=x; Expires=Wed, 01 Jan 2031 00:00:00 GMT; Max-Age=3600"
		rec, ok := ParseSetCookie(raw, now)
		require.True(t, ok)
		assert.Equal(t, now.Add(time.Hour).UnixMilli(), rec.ExpiresEpochMs)
	})

	t.Run("attributes are case-insensitive", func(t *testing.T) {
		raw := "a=b; DOMAIN=Example.COM; HTTPONLY; secure; samesite=STRICT"
		rec, ok := ParseSetCookie(raw, now)
		require.True(t, ok)
		assert.Equal(t, "example.com", rec.Domain)
		assert.True(t, rec.HTTPOnly)
		assert.True(t, rec.Secure)
		assert.Equal(t, schemas.SameSiteStrict, rec.SameSite)
	})

	t.Run("session cookie has no expiry", func(t *testing.T) {
		rec, ok := ParseSetCookie("sid=xyz; Path=/", now)
		require.True(t, ok)
		assert.Zero(t, rec.ExpiresEpochMs)
	})

	t.Run("value containing equals sign", func(t *testing.T) {
		rec, ok := ParseSetCookie("pref=a=b=c", now)
		require.True(t, ok)
		assert.Equal(t, "pref", rec.Name)
		assert.Equal(t, "a=b=c", rec.Value)
	})

	t.Run("malformed values are rejected", func(t *testing.T) {
		for _, raw := range []string{"", "   ", "noequals", "=valueonly; Path=/"} {
			_, ok := ParseSetCookie(raw, now)
			assert.False(t, ok, "raw=%q", raw)
		}
	})
}

func TestSplitSetCookieHeader(t *testing.T) {
	joined := "a=1; Path=/\nb=2; Secure\n\n  \nc=3"
	got := splitSetCookieHeader(joined)
	assert.Equal(t, []string{"a=1; Path=/", "b=2; Secure", "c=3"}, got)
}

func TestCanonicalHeaders(t *testing.T) {
	raw := map[string]interface{}{
		"content-type": "text/html",
		"X-CUSTOM":     "v",
		"ignored":      42,
	}
	got := canonicalHeaders(raw)
	assert.Equal(t, "text/html", got["Content-Type"])
	assert.Equal(t, "v", got["X-Custom"])
	assert.NotContains(t, got, "Ignored", "non-string values are dropped")
}

func TestMaskStorageValue(t *testing.T) {
	const limit = 32

	t.Run("plain value passes through", func(t *testing.T) {
		v, masked := maskStorageValue("theme=dark", limit)
		assert.False(t, masked)
		assert.Equal(t, "theme=dark", v)
	})

	t.Run("email-like is masked", func(t *testing.T) {
		v, masked := maskStorageValue("user john.doe@example.com logged in", limit)
		assert.True(t, masked)
		assert.Equal(t, maskedValue, v)
	})

	t.Run("date-like is masked", func(t *testing.T) {
		for _, s := range []string{"dob:1990-04-12", "born 12.04.1990"} {
			v, masked := maskStorageValue(s, limit)
			assert.True(t, masked, "value=%q", s)
			assert.Equal(t, maskedValue, v)
		}
	})

	t.Run("overlong is masked", func(t *testing.T) {
		long := make([]byte, limit+1)
		for i := range long {
			long[i] = 'x'
		}
		v, masked := maskStorageValue(string(long), limit)
		assert.True(t, masked)
		assert.Equal(t, maskedValue, v)
	})

	t.Run("zero limit disables the length check", func(t *testing.T) {
		_, masked := maskStorageValue("aaaaaaaaaaaaaaaaaaaa", 0)
		assert.False(t, masked)
	})
}
