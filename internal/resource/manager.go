// Package resource implements the single-writer actor: one Manager per
// credential kind, owning lease/release, rotation policy, failure
// classification and background reactivation. Credential status
// (disabled/unavailable/next-retry-after) and round-robin-with-
// availability-filter selection are the two load-bearing ideas; this
// package folds both into a single lease/release/snapshot contract with
// its own failure classification.
package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relaymux/llmgate/internal/config"
	"github.com/relaymux/llmgate/internal/credential"
)

// Outcome is the result a caller reports back via Release.
type Outcome struct {
	Kind OutcomeKind

	// UsageDeltaInputTokens / OutputTokens populate Ok outcomes.
	UsageDeltaInputTokens int64
	UsageDeltaOutputTokens int64
	IsOpusModel bool

	ResetAt time.Time // Exhausted
	InvalidReason credential.InvalidReason // Invalid

	// Capabilities, when non-nil, refreshes the credential's cached
	// rotation-filter attributes regardless of Kind — set by transactors
	// that discover account/organization state as a side effect of dispatch
	// (claudeweb's organization lookup, in particular).
	Capabilities *credential.CapabilityFlags
}

// OutcomeKind enumerates the outcomes a lease can resolve to.
type OutcomeKind int

const (
	OutcomeOk OutcomeKind = iota
	OutcomeExhausted
	OutcomeInvalid
	OutcomeTransientFail
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOk:
		return "ok"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeTransientFail:
		return "transient_fail"
	default:
		return "unknown"
	}
}

// ErrUnavailable is returned by Lease when no eligible credential exists.
var ErrUnavailable = fmt.Errorf("resource manager: no credential available")

// LeaseHandle is the scoped right to use one credential for one upstream call.
type LeaseHandle struct {
	Credential *credential.Credential
	leasedAt time.Time
}

// Manager owns the live state for one credential kind and serializes all
// mutation under a single mutex (mu). There is no command channel or
// actor goroutine: callers run the methods directly under that lock.
type Manager struct {
	kind credential.Kind
	store credential.Store
	cfg config.Rotation

	mu sync.Mutex
	byID map[string]*credential.Credential
	order []string // insertion order, stable iteration for round robin

	cursor int

	stopCh chan struct{}
	once sync.Once
}

// NewManager constructs a Manager for kind, loading its initial set from
// snapshot.
func NewManager(kind credential.Kind, store credential.Store, cfg config.Rotation, initial []*credential.Credential) *Manager {
	m := &Manager{
		kind: kind,
		store: store,
		cfg: cfg,
		byID: make(map[string]*credential.Credential, len(initial)),
		stopCh: make(chan struct{}),
	}
	for _, c := range initial {
		if c.State == "" {
			c.State = credential.StateValid
		}
		m.byID[c.ID] = c
		m.order = append(m.order, c.ID)
	}
	return m
}

// Lease selects a credential per the rotation policy:
// among Valid credentials prefer least-recent-dispatch, then highest
// remaining quota headroom. For cookies, a successful lease marks the
// credential Dispatched; keys and OAuth/service-account credentials are
// multi-lease and remain Valid.
func (m *Manager) Lease(ctx context.Context, hint string) (*LeaseHandle, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.eligibleLocked(hint)
	if len(candidates) == 0 {
		return nil, ErrUnavailable
	}

	sort.SliceStable(candidates, func(i, j int) bool {
			ci, cj := candidates[i], candidates[j]
			ti, tj := dispatchSortKey(ci), dispatchSortKey(cj)
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return headroom(ci) > headroom(cj)
		})

	chosen := candidates[0]
	now := time.Now().UTC()
	if m.kind == credential.KindCookie {
		chosen.State = credential.StateDispatched
		chosen.DispatchedAt = &now
	}
	chosen.UpdatedAt = now
	return &LeaseHandle{Credential: chosen.Clone(), leasedAt: now}, nil
}

func (m *Manager) eligibleLocked(_ string) []*credential.Credential {
	out := make([]*credential.Credential, 0, len(m.order))
	for _, id := range m.order {
		c, ok := m.byID[id]
		if !ok {
			continue
		}
		if c.State != credential.StateValid {
			continue
		}
		if !m.passesRotationFiltersLocked(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// passesRotationFiltersLocked applies the rotation policy's skip-* filters
// against a credential's cached CapabilityFlags (see spec §4.B). Every
// filter defaults to off and every flag defaults to false, so a credential
// that never had its capabilities populated is never excluded by this
// check.
func (m *Manager) passesRotationFiltersLocked(c *credential.Credential) bool {
	f := c.Capabilities
	if m.cfg.SkipNonPro && f.NonPro {
		return false
	}
	if m.cfg.SkipNormalPro && f.NormalPro {
		return false
	}
	if m.cfg.SkipRestricted && f.Restricted {
		return false
	}
	if m.cfg.SkipFirstWarning && f.FirstWarning {
		return false
	}
	if m.cfg.SkipSecondWarning && f.SecondWarning {
		return false
	}
	if m.cfg.SkipRateLimit && f.RateLimited {
		return false
	}
	return true
}

func dispatchSortKey(c *credential.Credential) time.Time {
	if c.DispatchedAt != nil {
		return *c.DispatchedAt
	}
	return time.Time{}
}

// headroom estimates remaining quota; higher is better. Cookies without
// usage information are treated as having maximal headroom so newly added
// credentials are preferred over heavily used ones.
func headroom(c *credential.Credential) int64 {
	if c.Kind != credential.KindCookie {
		return 0
	}
	const lifetimeBudget = 1 << 40
	return lifetimeBudget - c.Usage.LifetimeInputTokens - c.Usage.LifetimeOutputTokens
}

// Release applies the reported outcome, transitioning credential state per
// the switch below.
func (m *Manager) Release(ctx context.Context, handle *LeaseHandle, outcome Outcome) error {
	if handle == nil || handle.Credential == nil {
		return fmt.Errorf("resource manager: release called with nil handle")
	}
	m.mu.Lock()
	c, ok := m.byID[handle.Credential.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("resource manager: unknown credential %s", handle.Credential.ID)
	}
	now := time.Now().UTC()
	if outcome.Capabilities != nil {
		c.Capabilities = *outcome.Capabilities
	}
	switch outcome.Kind {
	case OutcomeOk:
		c.State = credential.StateValid
		c.DispatchedAt = nil
		c.Usage.Add(outcome.UsageDeltaInputTokens, outcome.UsageDeltaOutputTokens, outcome.IsOpusModel)
	case OutcomeExhausted:
		c.State = credential.StateExhausted
		resetAt := outcome.ResetAt
		if resetAt.IsZero() {
			resetAt = now.Add(1 * time.Hour)
		}
		c.ExhaustedAt = &resetAt
		c.DispatchedAt = nil
	case OutcomeInvalid:
		c.State = credential.StateInvalid
		c.InvalidReason = outcome.InvalidReason
		c.DispatchedAt = nil
	case OutcomeTransientFail:
		// State unchanged; only the dispatch marker clears.
		c.DispatchedAt = nil
	}
	c.UpdatedAt = now
	snapshotCred := c.Clone()
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.AddCredential(ctx, m.kind, snapshotCred); err != nil {
			log.Warnf("resource manager(%s): failed to persist release of %s: %v", m.kind, snapshotCred.ID, err)
			return err
		}
	}
	return nil
}

// Snapshot returns the current partitioned view, for admin listing and for
// health/metrics reporting.
func (m *Manager) Snapshot() (valid, dispatched, exhausted, invalid []*credential.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		c, ok := m.byID[id]
		if !ok {
			continue
		}
		switch c.State {
		case credential.StateValid:
			valid = append(valid, c.Clone())
		case credential.StateDispatched:
			dispatched = append(dispatched, c.Clone())
		case credential.StateExhausted:
			exhausted = append(exhausted, c.Clone())
		case credential.StateInvalid:
			invalid = append(invalid, c.Clone())
		}
	}
	return
}

// AdminAdd registers a new credential and persists it.
func (m *Manager) AdminAdd(ctx context.Context, c *credential.Credential) error {
	if c.State == "" {
		c.State = credential.StateValid
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.mu.Lock()
	if _, exists := m.byID[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.byID[c.ID] = c
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return m.store.AddCredential(ctx, m.kind, c)
}

// AdminRemove deletes a credential entirely (not tombstoned).
func (m *Manager) AdminRemove(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.byID, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return m.store.RemoveCredential(ctx, m.kind, id)
}

// AdminWaste tombstones a credential into the wasted set.
func (m *Manager) AdminWaste(ctx context.Context, id string, reason credential.InvalidReason) error {
	m.mu.Lock()
	delete(m.byID, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return m.store.MoveToWasted(ctx, m.kind, id, reason)
}

// ReplaceAll swaps in a freshly loaded credential set wholesale, the way a
// config/auth-dir hot reload must: credentials absent from fresh are
// dropped, new ones are added Valid, and ones present in both keep their
// live State/DispatchedAt/ExhaustedAt rather than resetting an in-flight
// lease or cooldown out from under a concurrent caller.
func (m *Manager) ReplaceAll(fresh []*credential.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*credential.Credential, len(fresh))
	order := make([]string, 0, len(fresh))
	for _, c := range fresh {
		if existing, ok := m.byID[c.ID]; ok {
			c.State = existing.State
			c.DispatchedAt = existing.DispatchedAt
			c.ExhaustedAt = existing.ExhaustedAt
		} else if c.State == "" {
			c.State = credential.StateValid
		}
		next[c.ID] = c
		order = append(order, c.ID)
	}
	m.byID = next
	m.order = order
}

// StartReactivation runs the background tick described below:
// every second, any Exhausted credential whose reset time has passed
// returns to Valid, and any Dispatched lease older than the configured
// timeout returns to Valid with a logged warning.
func (m *Manager) StartReactivation(ctx context.Context) {
	leaseTimeout := m.cfg.LeaseTimeout()
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case now := <-ticker.C:
				m.tick(now, leaseTimeout)
			}
		}
	}()
}

// Stop halts the reactivation loop.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

func (m *Manager) tick(now time.Time, leaseTimeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		c, ok := m.byID[id]
		if !ok {
			continue
		}
		if c.State == credential.StateExhausted && c.ExhaustedAt != nil && !c.ExhaustedAt.After(now) {
			c.State = credential.StateValid
			c.ExhaustedAt = nil
			c.UpdatedAt = now.UTC()
		}
		if c.State == credential.StateDispatched && c.DispatchedAt != nil && now.Sub(*c.DispatchedAt) > leaseTimeout {
			log.Warnf("resource manager(%s): lease on %s exceeded timeout %s, returning to valid", m.kind, c.ID, leaseTimeout)
			c.State = credential.StateValid
			c.DispatchedAt = nil
			c.UpdatedAt = now.UTC()
		}
	}
}
