package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/consent-audit/api/schemas"
	"github.com/xkilldash9x/consent-audit/internal/config"
)

func newTestHunter(t *testing.T) *Hunter {
	return NewHunter(zaptest.NewLogger(t), config.Default().Consent)
}

func TestHunter_StructuralPass(t *testing.T) {
	hunter := newTestHunter(t)

	t.Run("known CMP accept selector", func(t *testing.T) {
		page := &fakePage{visibleSelectors: map[string]bool{"#onetrust-accept-btn-handler": true}}
		out := hunter.Find(context.Background(), page, schemas.PathAccept)
		assert.True(t, out.Found)
		assert.True(t, out.Clicked)
		assert.Equal(t, "selector", out.Method)
		assert.Equal(t, "#onetrust-accept-btn-handler", out.Matched)
	})

	t.Run("reject mode uses reject selectors", func(t *testing.T) {
		page := &fakePage{visibleSelectors: map[string]bool{
			"#onetrust-accept-btn-handler": true,
			"#onetrust-reject-all-handler": true,
		}}
		out := hunter.Find(context.Background(), page, schemas.PathReject)
		require.True(t, out.Clicked)
		assert.Equal(t, "#onetrust-reject-all-handler", out.Matched)
	})

	t.Run("found but click failed", func(t *testing.T) {
		page := &fakePage{
			visibleSelectors: map[string]bool{"#didomi-notice-agree-button": true},
			clickErr:         errors.New("node is obscured"),
		}
		out := hunter.Find(context.Background(), page, schemas.PathAccept)
		assert.True(t, out.Found)
		assert.False(t, out.Clicked)
	})
}

func TestHunter_TextPass(t *testing.T) {
	hunter := newTestHunter(t)

	t.Run("slovak reject banner", func(t *testing.T) {
		page := &fakePage{
			html:      `<html><body><div class="banner"><button class="x">Odmietnuť  všetko</button></div></body></html>`,
			textMatch: "odmietnuť všetko",
		}
		out := hunter.Find(context.Background(), page, schemas.PathReject)
		assert.True(t, out.Found)
		assert.True(t, out.Clicked)
		assert.Equal(t, "text", out.Method)
		assert.Equal(t, "odmietnuť všetko", out.Matched)
	})

	t.Run("no consent control is a finding, not an error", func(t *testing.T) {
		page := &fakePage{html: `<html><body><p>Just an article.</p></body></html>`}
		out := hunter.Find(context.Background(), page, schemas.PathAccept)
		assert.False(t, out.Found)
		assert.False(t, out.Clicked)
	})

	t.Run("candidate vanished before the live click", func(t *testing.T) {
		page := &fakePage{
			html:      `<html><body><button>Accept all</button></body></html>`,
			textMatch: "",
		}
		out := hunter.Find(context.Background(), page, schemas.PathAccept)
		assert.True(t, out.Found)
		assert.False(t, out.Clicked)
	})
}

func TestFindTextCandidate(t *testing.T) {
	phrases := config.DefaultRejectPhrases

	t.Run("matches button text with messy whitespace", func(t *testing.T) {
		html := `<html><body><button>  Reject
			All  </button></body></html>`
		assert.Equal(t, "reject all", FindTextCandidate(html, phrases))
	})

	t.Run("matches role=button", func(t *testing.T) {
		html := `<html><body><div role="button">Odmietnuť všetko</div></body></html>`
		assert.Equal(t, "odmietnuť všetko", FindTextCandidate(html, phrases))
	})

	t.Run("partial phrase inside longer text does not match", func(t *testing.T) {
		html := `<html><body><button>Reject all the premises of this article</button></body></html>`
		assert.Empty(t, FindTextCandidate(html, phrases))
	})

	t.Run("empty document", func(t *testing.T) {
		assert.Empty(t, FindTextCandidate("", phrases))
	})
}
