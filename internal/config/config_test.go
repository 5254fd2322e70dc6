package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 35*time.Second, cfg.Audit.BudgetCeiling)
	assert.Equal(t, 250*time.Millisecond, cfg.Audit.MinWait)
	assert.Equal(t, 8*time.Second, cfg.Audit.MinPhaseB)
	assert.True(t, cfg.Browser.Headless)

	assert.NotEmpty(t, cfg.Consent.AcceptSelectors)
	assert.NotEmpty(t, cfg.Consent.RejectPhrases)
	assert.Contains(t, cfg.Consent.RejectPhrases, "odmietnuť všetko")
}

func TestBlockedPatternsNeverIncludeImages(t *testing.T) {
	cfg := Default()
	for _, p := range cfg.Browser.BlockedPatterns {
		assert.NotContains(t, p, "png")
		assert.NotContains(t, p, "jpg")
		assert.NotContains(t, p, "gif")
		assert.NotContains(t, p, "webp")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config { return Default() }

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("non-positive ceiling", func(t *testing.T) {
		cfg := base()
		cfg.Audit.BudgetCeiling = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("phase B minimum above the ceiling", func(t *testing.T) {
		cfg := base()
		cfg.Audit.MinPhaseB = cfg.Audit.BudgetCeiling
		assert.Error(t, cfg.Validate())
	})

	t.Run("idle max below idle quiet", func(t *testing.T) {
		cfg := base()
		cfg.Audit.IdleMax = cfg.Audit.IdleQuiet - time.Millisecond
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative buffer", func(t *testing.T) {
		cfg := base()
		cfg.Audit.Buffer = -time.Second
		assert.Error(t, cfg.Validate())
	})
}
