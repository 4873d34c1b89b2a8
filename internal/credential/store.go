package credential

import (
	"context"
	"errors"
	"time"
)

// ErrStorageUnavailable names the storage-down condition. Neither TOMLStore
// nor SQLStore returns it: a mutating call against a failing backend
// returns the backend's own error, and Health is not consulted first.
var ErrStorageUnavailable = errors.New("credential store: storage unavailable")

// HealthStatus is returned by Store.Health for the admin storage-status probe.
type HealthStatus struct {
	Mode string
	Latency time.Duration
	LastWrite time.Time
	Err error
}

// Store abstracts persistence of the full credential snapshot, independent
// of whether the backend is a single TOML document or a SQL schema.
// Writes are transactional (TOML: temp file then rename; SQL: one
// transaction) and idempotent. TOMLStore skips the write entirely when the
// encoded document equals what is on disk; SQLStore rewrites the rows and
// refreshes updated_at on every write.
type Store interface {
	// Load returns the full typed snapshot.
	Load(ctx context.Context) (*Snapshot, error)
	// Save persists the full typed snapshot atomically.
	Save(ctx context.Context, snap *Snapshot) error

	// AddCredential inserts or replaces a single credential of the given kind.
	AddCredential(ctx context.Context, kind Kind, cred *Credential) error
	// RemoveCredential deletes a credential by ID from the given kind's set.
	RemoveCredential(ctx context.Context, kind Kind, id string) error
	// MoveToWasted tombstones a credential, removing it from its live set.
	MoveToWasted(ctx context.Context, kind Kind, id string, reason InvalidReason) error
	// UpdateUsage replaces the stored usage counters of a cookie credential.
	UpdateUsage(ctx context.Context, id string, usage UsageCounters) error

	// Health reports backend reachability and basic diagnostics.
	Health(ctx context.Context) HealthStatus
}
