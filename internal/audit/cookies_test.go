package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

func TestMergeJars(t *testing.T) {
	future := time.Now().Add(365 * 24 * time.Hour).UnixMilli()
	near := time.Now().Add(time.Hour).UnixMilli()

	t.Run("longer-lived variant wins", func(t *testing.T) {
		preJar := []schemas.Cookie{
			{Name: "_ga", Domain: "example.com", Path: "/", ExpiresEpochMs: near},
		}
		postJar := []schemas.Cookie{
			{Name: "_ga", Domain: "example.com", Path: "/", ExpiresEpochMs: future},
		}
		merged := MergeJars(preJar, postJar)
		require.Len(t, merged, 1)
		assert.Equal(t, future, merged[0].ExpiresEpochMs)

		// Same result regardless of jar order.
		merged = MergeJars(postJar, preJar)
		require.Len(t, merged, 1)
		assert.Equal(t, future, merged[0].ExpiresEpochMs)
	})

	t.Run("persistent beats session", func(t *testing.T) {
		merged := MergeJars(
			[]schemas.Cookie{{Name: "sid", Domain: "example.com", Path: "/", Session: true}},
			[]schemas.Cookie{{Name: "sid", Domain: "example.com", Path: "/", ExpiresEpochMs: near}},
		)
		require.Len(t, merged, 1)
		assert.False(t, merged[0].Session)
	})

	t.Run("leading domain dot does not split identity", func(t *testing.T) {
		merged := MergeJars(
			[]schemas.Cookie{{Name: "c", Domain: ".example.com", Path: "/"}},
			[]schemas.Cookie{{Name: "c", Domain: "example.com", Path: "/"}},
		)
		assert.Len(t, merged, 1)
	})

	t.Run("distinct paths stay distinct", func(t *testing.T) {
		merged := MergeJars([]schemas.Cookie{
			{Name: "c", Domain: "example.com", Path: "/"},
			{Name: "c", Domain: "example.com", Path: "/shop"},
		})
		assert.Len(t, merged, 2)
	})

	t.Run("output order is deterministic", func(t *testing.T) {
		jar := []schemas.Cookie{
			{Name: "z", Domain: "b.com", Path: "/"},
			{Name: "a", Domain: "b.com", Path: "/"},
			{Name: "m", Domain: "a.com", Path: "/"},
		}
		merged := MergeJars(jar)
		require.Len(t, merged, 3)
		assert.Equal(t, "a.com", merged[0].Domain)
		assert.Equal(t, "a", merged[1].Name)
		assert.Equal(t, "z", merged[2].Name)
	})
}

func TestRegistrableDomain(t *testing.T) {
	for _, tc := range []struct {
		host string
		want string
	}{
		{"www.example.com", "example.com"},
		{"a.b.example.co.uk", "example.co.uk"},
		{"example.com", "example.com"},
		{"shop.example.sk", "example.sk"},
		{"localhost", "localhost"},
		{"192.168.1.10", "192.168.1.10"},
		{"WWW.Example.COM", "example.com"},
		{"example.com.", "example.com"},
	} {
		assert.Equal(t, tc.want, RegistrableDomain(tc.host), "host=%q", tc.host)
	}
}

func TestIsThirdParty(t *testing.T) {
	assert.False(t, IsThirdParty("cdn.example.com", "www.example.com"))
	assert.True(t, IsThirdParty("tracker.adnet.io", "www.example.com"))
	assert.False(t, IsThirdParty("localhost", "localhost"))
}

func TestThirdPartyHosts(t *testing.T) {
	reqs := []schemas.RequestRecord{
		{URL: "https://www.example.com/index.html"},
		{URL: "https://cdn.example.com/app.js"},
		{URL: "https://pixel.adnet.io/collect?id=1"},
		{URL: "https://pixel.adnet.io/collect?id=2"},
		{URL: "https://tags.metrics.dev/t.gif"},
		{URL: "not a url"},
	}
	hosts := ThirdPartyHosts("www.example.com", reqs)
	assert.Equal(t, []string{"pixel.adnet.io", "tags.metrics.dev"}, hosts)
}

func TestPartyCounts(t *testing.T) {
	jar := []schemas.Cookie{
		{Name: "sid", Domain: "example.com"},
		{Name: "pref", Domain: ".www.example.com"},
		{Name: "_track", Domain: ".adnet.io"},
	}
	first, third := PartyCounts(jar, "www.example.com")
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, third)
	assert.Equal(t, len(jar), first+third, "every cookie lands in exactly one bucket")
}
