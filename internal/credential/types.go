// Package credential models the durable, typed credential sets the proxy
// rotates through: cookies (Claude.ai web sessions), API keys, OAuth
// refresh tokens, and Vertex service accounts.
package credential

import (
	"fmt"
	"time"
)

// Kind identifies which credential variant a record holds.
type Kind string

const (
	KindCookie Kind = "cookie"
	KindKey Kind = "key"
	KindOAuth Kind = "oauth"
	KindServiceAccount Kind = "service_account"
)

// State is the credential lifecycle state machine: valid, dispatched,
// exhausted, or invalid.
type State string

const (
	StateValid State = "valid"
	StateDispatched State = "dispatched"
	StateExhausted State = "exhausted"
	StateInvalid State = "invalid"
)

// InvalidReason enumerates why a credential was permanently retired.
type InvalidReason string

const (
	ReasonNonPro InvalidReason = "non_pro"
	ReasonDisabled InvalidReason = "disabled"
	ReasonBanned InvalidReason = "banned"
	ReasonNull InvalidReason = "null"
	ReasonRestricted InvalidReason = "restricted"
	ReasonOverloaded InvalidReason = "overloaded"
	ReasonUnverified InvalidReason = "unverified"
)

// UsageCounters partitions token usage the way cookie accounting requires:
// by window (session / 7-day / 7-day-Opus / lifetime) and family
// (input/output, Sonnet/Opus).
type UsageCounters struct {
	SessionInputTokens int64 `json:"session_input_tokens"`
	SessionOutputTokens int64 `json:"session_output_tokens"`

	SevenDayInputTokens int64 `json:"seven_day_input_tokens"`
	SevenDayOutputTokens int64 `json:"seven_day_output_tokens"`

	SevenDayOpusInputTokens int64 `json:"seven_day_opus_input_tokens"`
	SevenDayOpusOutputTokens int64 `json:"seven_day_opus_output_tokens"`

	LifetimeInputTokens int64 `json:"lifetime_input_tokens"`
	LifetimeOutputTokens int64 `json:"lifetime_output_tokens"`

	SonnetInputTokens int64 `json:"sonnet_input_tokens"`
	SonnetOutputTokens int64 `json:"sonnet_output_tokens"`
	OpusInputTokens int64 `json:"opus_input_tokens"`
	OpusOutputTokens int64 `json:"opus_output_tokens"`
}

// Add folds a usage delta into the counters.
func (u *UsageCounters) Add(inputTokens, outputTokens int64, isOpus bool) {
	u.SessionInputTokens += inputTokens
	u.SessionOutputTokens += outputTokens
	u.SevenDayInputTokens += inputTokens
	u.SevenDayOutputTokens += outputTokens
	u.LifetimeInputTokens += inputTokens
	u.LifetimeOutputTokens += outputTokens
	if isOpus {
		u.SevenDayOpusInputTokens += inputTokens
		u.SevenDayOpusOutputTokens += outputTokens
		u.OpusInputTokens += inputTokens
		u.OpusOutputTokens += outputTokens
		return
	}
	u.SonnetInputTokens += inputTokens
	u.SonnetOutputTokens += outputTokens
}

// CapabilityFlags caches the account/organization attributes the rotation
// policy's skip-* filters consult, so a lease decision never needs its own
// upstream round trip. Populated from Claude Web organization discovery;
// zero value on every other kind, so none of the skip-* filters ever
// exclude a key/OAuth/service-account credential.
type CapabilityFlags struct {
	NonPro bool `json:"non_pro,omitempty"`
	NormalPro bool `json:"normal_pro,omitempty"`
	Restricted bool `json:"restricted,omitempty"`
	FirstWarning bool `json:"first_warning,omitempty"`
	SecondWarning bool `json:"second_warning,omitempty"`
	RateLimited bool `json:"rate_limited,omitempty"`
}

// Credential is a tagged variant over the four leasable credential kinds.
// Only the fields relevant to Kind are populated; this mirrors its
// "tagged variant" data model while staying a single Go struct so the
// resource manager and store can treat all kinds uniformly.
type Credential struct {
	ID string `json:"id"`
	Kind Kind `json:"kind"`
	Label string `json:"label,omitempty"`

	// CookieCred fields.
	SessionToken string `json:"session_token,omitempty"`
	ResetAt *time.Time `json:"reset_at,omitempty"`
	SupportsExtendedCtx bool `json:"supports_extended_context,omitempty"`
	Usage UsageCounters `json:"usage,omitempty"`
	Capabilities CapabilityFlags `json:"capabilities,omitempty"`

	// KeyCred fields.
	APIKey string `json:"api_key,omitempty"`
	Forbidden403s int `json:"forbidden_403_count,omitempty"`

	// OAuthCred fields.
	ClientID string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// ServiceAccountCred fields.
	ClientEmail string `json:"client_email,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	KeyID string `json:"key_id,omitempty"`

	// Unexported and not persisted. Nothing in the module reads or writes
	// these; internal/tokenservice.Cache keeps access tokens in its own map.
	cachedAccessToken string
	cachedExpiry time.Time

	// Lifecycle.
	State State `json:"state"`
	InvalidReason InvalidReason `json:"invalid_reason,omitempty"`
	ExhaustedAt *time.Time `json:"exhausted_at,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep-enough copy safe for concurrent snapshotting.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	if c.ResetAt != nil {
		t := *c.ResetAt
		cp.ResetAt = &t
	}
	if c.ExhaustedAt != nil {
		t := *c.ExhaustedAt
		cp.ExhaustedAt = &t
	}
	if c.DispatchedAt != nil {
		t := *c.DispatchedAt
		cp.DispatchedAt = &t
	}
	return &cp
}

// String implements a redacted description for logging.
func (c *Credential) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("credential{id=%s kind=%s state=%s}", c.ID, c.Kind, c.State)
}

// WastedEntry records a credential permanently tombstoned by an operator,
// distinct from the normal Invalid state so it is excluded from every
// listing and rotation path rather than merely skipped.
type WastedEntry struct {
	Credential Credential `json:"credential"`
	Reason InvalidReason `json:"reason"`
	WastedAt time.Time `json:"wasted_at"`
}

// Snapshot is the typed view of a full credential set, returned by Store.Load
// and consumed by the resource manager on startup.
type Snapshot struct {
	Cookies []*Credential `json:"cookies"`
	Keys []*Credential `json:"keys"`
	OAuth []*Credential `json:"oauth"`
	ServiceAccounts []*Credential `json:"service_accounts"`
	Wasted []*WastedEntry `json:"wasted"`
}

// ByKind returns the slice corresponding to kind, or nil.
func (s *Snapshot) ByKind(kind Kind) []*Credential {
	if s == nil {
		return nil
	}
	switch kind {
	case KindCookie:
		return s.Cookies
	case KindKey:
		return s.Keys
	case KindOAuth:
		return s.OAuth
	case KindServiceAccount:
		return s.ServiceAccounts
	default:
		return nil
	}
}
