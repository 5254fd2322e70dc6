// The application's root configuration. Every empirically tuned threshold the
// audit engine uses (budget ceiling, idle windows, consent phrase lists) lives
// here rather than in code.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Consent  ConsentConfig  `mapstructure:"consent"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" json:"level" yaml:"level"`
	Format      string `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" json:"compress" yaml:"compress"`
}

// PostgresConfig holds settings for the run-metadata sink. An empty URL
// disables persistence entirely.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless        bool `mapstructure:"headless"`
	IgnoreTLSErrors bool `mapstructure:"ignore_tls_errors"`
	// RemoteURL attaches to an already running browser's devtools websocket
	// instead of launching a local process.
	RemoteURL string `mapstructure:"remote_url"`
	// RemoteToken is appended to the remote handshake when the endpoint
	// requires authentication.
	RemoteToken string `mapstructure:"remote_token"`
	// BlockedPatterns is the resource-blocking policy installed on every
	// session. Images are deliberately never listed: tracking pixels are
	// image requests and must be observed.
	BlockedPatterns []string `mapstructure:"blocked_patterns"`
}

// AuditConfig holds the time-budget and capture tuning for a run. The exact
// numeric defaults are calibration, not load-bearing semantics.
type AuditConfig struct {
	// BudgetCeiling is the hard wall-clock ceiling for a whole run.
	BudgetCeiling time.Duration `mapstructure:"budget_ceiling"`
	// MinWait is the floor the governor never allocates below.
	MinWait time.Duration `mapstructure:"min_wait"`
	// Buffer is reserved headroom subtracted from the remaining budget on
	// every allocation.
	Buffer time.Duration `mapstructure:"buffer"`
	// MinPhaseB is the minimum viable window phase B needs; with less
	// remaining, phase B is skipped and the run is marked partial.
	MinPhaseB time.Duration `mapstructure:"min_phase_b"`
	// IdleQuiet is how long the in-flight counter must stay at zero before
	// the network is declared idle.
	IdleQuiet time.Duration `mapstructure:"idle_quiet"`
	// IdleMax bounds a single idle wait so a persistent background
	// connection cannot hang the run.
	IdleMax time.Duration `mapstructure:"idle_max"`
	// Settle is the fixed pause after navigation and after a consent click.
	Settle time.Duration `mapstructure:"settle"`
	// NavTimeout bounds the navigation command itself.
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
	// MaskValueLimit is the storage-value length beyond which values are
	// masked as overlong.
	MaskValueLimit int `mapstructure:"mask_value_limit"`
	// MaxRetentionDays is an optional stated maximum-retention claim checked
	// by the retention_contradiction gate. Zero disables the check.
	MaxRetentionDays int `mapstructure:"max_retention_days"`
}

// ConsentConfig holds the consent-control discovery strategy inputs.
type ConsentConfig struct {
	AcceptSelectors []string `mapstructure:"accept_selectors"`
	RejectSelectors []string `mapstructure:"reject_selectors"`
	AcceptPhrases   []string `mapstructure:"accept_phrases"`
	RejectPhrases   []string `mapstructure:"reject_phrases"`
}

// SetDefaults registers default values so the app can run with no config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "consent-audit")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.blocked_patterns", []string{
		"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot",
		"*.mp4", "*.webm", "*.mp3", "*.ogg", "*.wav", "*.avi", "*.mov",
		"*.zip", "*.gz", "*.tar", "*.rar", "*.7z",
	})

	v.SetDefault("audit.budget_ceiling", 35*time.Second)
	v.SetDefault("audit.min_wait", 250*time.Millisecond)
	v.SetDefault("audit.buffer", 3*time.Second)
	v.SetDefault("audit.min_phase_b", 8*time.Second)
	v.SetDefault("audit.idle_quiet", 1500*time.Millisecond)
	v.SetDefault("audit.idle_max", 8*time.Second)
	v.SetDefault("audit.settle", 2*time.Second)
	v.SetDefault("audit.nav_timeout", 15*time.Second)
	v.SetDefault("audit.mask_value_limit", 160)
	v.SetDefault("audit.max_retention_days", 0)

	v.SetDefault("consent.accept_selectors", DefaultAcceptSelectors)
	v.SetDefault("consent.reject_selectors", DefaultRejectSelectors)
	v.SetDefault("consent.accept_phrases", DefaultAcceptPhrases)
	v.SetDefault("consent.reject_phrases", DefaultRejectPhrases)
}

// Structural selectors for common CMP frameworks, most specific first.
// Generic id/class patterns come last so framework hooks win.
var (
	DefaultAcceptSelectors = []string{
		"#onetrust-accept-btn-handler",
		"#didomi-notice-agree-button",
		"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll",
		".cc-allow",
		"button[data-cookiebanner='accept_button']",
		"button[id*='accept-all']",
		"button[id*='acceptAll']",
		"button[class*='accept-all']",
		"a[id*='accept-all']",
	}
	DefaultRejectSelectors = []string{
		"#onetrust-reject-all-handler",
		"#didomi-notice-disagree-button",
		"#CybotCookiebotDialogBodyButtonDecline",
		".cc-deny",
		"button[data-cookiebanner='decline_button']",
		"button[id*='reject-all']",
		"button[id*='rejectAll']",
		"button[class*='reject-all']",
		"a[id*='reject-all']",
	}
)

// Exact-text phrases for the free-text pass. English, German and Slovak; the
// comparison is case-folded and whitespace-trimmed.
var (
	DefaultAcceptPhrases = []string{
		"accept all", "accept all cookies", "accept cookies", "accept",
		"allow all", "agree", "i agree", "got it",
		"alle akzeptieren", "akzeptieren", "alle cookies akzeptieren",
		"zustimmen", "einverstanden",
		"prijať všetko", "prijať všetky", "súhlasím", "prijať",
	}
	DefaultRejectPhrases = []string{
		"reject all", "reject all cookies", "reject cookies", "reject",
		"decline", "refuse all", "deny", "only necessary",
		"alle ablehnen", "ablehnen", "nur notwendige",
		"odmietnuť všetko", "odmietnuť všetky", "odmietnuť",
		"iba nevyhnutné",
	}
)

// Validate sanity-checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Audit.BudgetCeiling <= 0 {
		return fmt.Errorf("audit.budget_ceiling must be positive, got %s", c.Audit.BudgetCeiling)
	}
	if c.Audit.MinWait <= 0 {
		return fmt.Errorf("audit.min_wait must be positive, got %s", c.Audit.MinWait)
	}
	if c.Audit.Buffer < 0 {
		return fmt.Errorf("audit.buffer must not be negative, got %s", c.Audit.Buffer)
	}
	if c.Audit.MinPhaseB >= c.Audit.BudgetCeiling {
		return fmt.Errorf("audit.min_phase_b (%s) must be below the budget ceiling (%s)",
			c.Audit.MinPhaseB, c.Audit.BudgetCeiling)
	}
	if c.Audit.IdleQuiet <= 0 || c.Audit.IdleMax < c.Audit.IdleQuiet {
		return fmt.Errorf("audit idle windows are inconsistent: quiet=%s max=%s",
			c.Audit.IdleQuiet, c.Audit.IdleMax)
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			loadErr = err
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Set stores a fully built configuration. Intended for tests and callers that
// assemble the config without viper.
func Set(cfg *Config) {
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

// Default returns a standalone config populated with the shipped defaults.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Unmarshal from registered defaults cannot fail with the types above.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
