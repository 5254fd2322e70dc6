// Package schemas defines the shared data shapes exchanged between the audit
// engine, the persistence sink and downstream consumers (classification,
// scoring, enrichment). Everything here is plain data; behavior lives in the
// internal packages.
package schemas

import "time"

// Phase identifies which part of the consent journey an observation belongs to.
type Phase string

const (
	PhasePre        Phase = "pre"
	PhasePostAccept Phase = "post_accept"
	PhasePostReject Phase = "post_reject"
)

// IsPost reports whether the phase is one of the post-consent phases.
func (p Phase) IsPost() bool {
	return p == PhasePostAccept || p == PhasePostReject
}

// PathMode is the consent action the caller asked the engine to exercise.
type PathMode string

const (
	PathAccept PathMode = "accept"
	PathReject PathMode = "reject"
)

// PostPhase maps a path mode to the phase its post snapshot is tagged with.
func (m PathMode) PostPhase() Phase {
	if m == PathReject {
		return PhasePostReject
	}
	return PhasePostAccept
}

// RequestRecord is one observed network request. Created when the protocol
// reports the request start, optionally completed once more when a POST body
// arrives asynchronously, immutable afterwards.
type RequestRecord struct {
	ID          string              `json:"id"`
	URL         string              `json:"url"`
	Method      string              `json:"method"`
	Headers     map[string]string   `json:"headers"`
	QueryParams map[string][]string `json:"queryParams,omitempty"`
	HasPostData bool                `json:"hasPostData"`
	PostData    string              `json:"postData,omitempty"`
	Session     string              `json:"session"`
	Phase       Phase               `json:"phase"`
	TimestampMs int64               `json:"timestampMs"`
}

// SameSite values as they appear on the wire, lower-cased.
type SameSite string

const (
	SameSiteLax    SameSite = "lax"
	SameSiteStrict SameSite = "strict"
	SameSiteNone   SameSite = "none"
)

// SetCookieRecord is one parsed Set-Cookie response header value.
type SetCookieRecord struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain,omitempty"`
	Path           string   `json:"path,omitempty"`
	ExpiresEpochMs int64    `json:"expiresEpochMs,omitempty"`
	HTTPOnly       bool     `json:"httpOnly"`
	Secure         bool     `json:"secure"`
	SameSite       SameSite `json:"sameSite,omitempty"`
}

// Cookie is one entry from the browser's authoritative cookie jar.
type Cookie struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	ExpiresEpochMs int64    `json:"expiresEpochMs,omitempty"`
	HTTPOnly       bool     `json:"httpOnly"`
	Secure         bool     `json:"secure"`
	SameSite       SameSite `json:"sameSite,omitempty"`
	Session        bool     `json:"session"`
}

// StorageKind distinguishes localStorage from sessionStorage.
type StorageKind string

const (
	StorageLocal   StorageKind = "local"
	StorageSession StorageKind = "session"
)

// StorageItem is one key/value pair snapshotted from page storage. Values are
// masked before they leave the snapshot builder when they look sensitive.
type StorageItem struct {
	Kind   StorageKind `json:"kind"`
	Key    string      `json:"key"`
	Value  string      `json:"value"`
	Masked bool        `json:"masked,omitempty"`
}

// Snapshot is the complete evidence captured for one phase.
type Snapshot struct {
	Phase            Phase             `json:"phase"`
	Requests         []RequestRecord   `json:"requests"`
	JarCookies       []Cookie          `json:"jarCookies"`
	SetCookieHeaders []SetCookieRecord `json:"setCookieHeaders"`
	Storage          []StorageItem     `json:"storage"`
	TimestampMs      int64             `json:"timestampMs"`
}

// PhaseDurations records the wall time each phase consumed.
type PhaseDurations struct {
	PreMs  int64 `json:"pre"`
	PostMs int64 `json:"post,omitempty"`
}

// Result is the merged output of a completed (possibly partial) run.
type Result struct {
	TraceID        string         `json:"traceId"`
	FinalURL       string         `json:"finalUrl"`
	PathMode       PathMode       `json:"pathMode"`
	Pre            *Snapshot      `json:"pre"`
	Post           *Snapshot      `json:"post,omitempty"`
	PhaseDurations PhaseDurations `json:"phaseDurationsMs"`
	Partial        bool           `json:"partial"`
	// NavigationOK distinguishes a successfully probed empty page from a
	// transport failure; the network_capture gate keys off it.
	NavigationOK bool `json:"navigationOk"`
	// ConsentFound / ConsentClicked / ConsentMethod describe the consent
	// hunter outcome. Absence of a discoverable control is evidence, not an
	// error.
	ConsentFound   bool   `json:"consentFound"`
	ConsentClicked bool   `json:"consentClicked"`
	ConsentMethod  string `json:"consentMethod,omitempty"`
}

// Severity grades a quality gate finding.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// QualityGate is one named, machine-checkable self-check finding.
type QualityGate struct {
	ID       string            `json:"id"`
	Severity Severity          `json:"severity"`
	Passed   bool              `json:"passed"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
}

// Metrics summarizes the evidence for quick inspection and persistence.
type Metrics struct {
	RequestsTotal      int `json:"requestsTotal"`
	RequestsPreConsent int `json:"requestsPreConsent"`
	ThirdPartiesCount  int `json:"thirdPartiesCount"`
	CookiesPreCount    int `json:"cookiesPreCount"`
	CookiesPostCount   int `json:"cookiesPostCount"`
}

// ErrorCode is the closed set of failure codes a run can report.
type ErrorCode string

const (
	ErrMissingURL      ErrorCode = "MISSING_URL"
	ErrAuthFailed      ErrorCode = "AUTH_FAILED"
	ErrTransportFailed ErrorCode = "TRANSPORT_FAILED"
	ErrExecution       ErrorCode = "EXECUTION_ERROR"
)

// AuditRequest is the inbound request from the calling layer.
type AuditRequest struct {
	URL      string   `json:"url"`
	PathMode PathMode `json:"pathMode"`
}

// AuditResponse is the outbound envelope. On failure only ErrorCode, Details
// and TraceID are populated.
type AuditResponse struct {
	Success   bool          `json:"success"`
	TraceID   string        `json:"traceId"`
	ErrorCode ErrorCode     `json:"errorCode,omitempty"`
	Details   string        `json:"details,omitempty"`
	Metrics   *Metrics      `json:"metrics,omitempty"`
	Result    *Result       `json:"data,omitempty"`
	Gates     []QualityGate `json:"gates,omitempty"`
}

// RunMeta is the fire-and-forget record handed to the persistence sink.
type RunMeta struct {
	TraceID    string    `json:"traceId"`
	TargetURL  string    `json:"targetUrl"`
	PathMode   PathMode  `json:"pathMode"`
	Status     string    `json:"status"`
	Partial    bool      `json:"partial"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	PreMs      int64     `json:"preMs"`
	PostMs     int64     `json:"postMs"`
	Requests   int       `json:"requests"`
	Cookies    int       `json:"cookies"`
}
