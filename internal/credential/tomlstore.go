package credential

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLStore implements Store as a single TOML document on disk, following
// an atomic write discipline: marshal, compare against what's already on
// disk, write to a temp file, then rename.
type TOMLStore struct {
	path string

	mu sync.Mutex
	lastWrite time.Time
	lastErr error
}

// tomlDocument is the on-disk shape of the single TOML document.
type tomlDocument struct {
	Cookies []*Credential `toml:"cookies"`
	Keys []*Credential `toml:"keys"`
	OAuth []*Credential `toml:"oauth"`
	ServiceAccounts []*Credential `toml:"service_accounts"`
	Wasted []*WastedEntry `toml:"wasted"`
}

// NewTOMLStore builds a TOML-backed store rooted at path.
func NewTOMLStore(path string) *TOMLStore {
	return &TOMLStore{path: path}
}

func (s *TOMLStore) Load(ctx context.Context) (*Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		s.lastErr = err
		return nil, err
	}
	s.lastErr = nil
	return &Snapshot{
		Cookies: doc.Cookies,
		Keys: doc.Keys,
		OAuth: doc.OAuth,
		ServiceAccounts: doc.ServiceAccounts,
		Wasted: doc.Wasted,
	}, nil
}

func (s *TOMLStore) readLocked() (*tomlDocument, error) {
	doc := &tomlDocument{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if _, err = toml.Decode(string(data), doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *TOMLStore) Save(ctx context.Context, snap *Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := &tomlDocument{
		Cookies: snap.Cookies,
		Keys: snap.Keys,
		OAuth: snap.OAuth,
		ServiceAccounts: snap.ServiceAccounts,
		Wasted: snap.Wasted,
	}
	return s.writeLocked(doc)
}

func (s *TOMLStore) writeLocked(doc *tomlDocument) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.lastErr = err
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		s.lastErr = err
		return err
	}
	if existing, readErr := os.ReadFile(s.path); readErr == nil && bytes.Equal(existing, buf.Bytes()) {
		s.lastErr = nil
		return nil
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		s.lastErr = err
		return err
	}
	enc := toml.NewEncoder(f)
	if err = enc.Encode(doc); err != nil {
		_ = f.Close()
		s.lastErr = err
		return err
	}
	if err = f.Close(); err != nil {
		s.lastErr = err
		return err
	}
	if err = os.Rename(tmp, s.path); err != nil {
		s.lastErr = err
		return err
	}
	s.lastWrite = time.Now()
	s.lastErr = nil
	return nil
}

func (s *TOMLStore) AddCredential(ctx context.Context, kind Kind, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	replaced := false
	list := doc.listFor(kind)
	for i, existing := range *list {
		if existing.ID == cred.ID {
			(*list)[i] = cred
			replaced = true
			break
		}
	}
	if !replaced {
		*list = append(*list, cred)
	}
	return s.writeLocked(doc)
}

func (s *TOMLStore) RemoveCredential(ctx context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	list := doc.listFor(kind)
	filtered := (*list)[:0]
	for _, existing := range *list {
		if existing.ID != id {
			filtered = append(filtered, existing)
		}
	}
	*list = filtered
	return s.writeLocked(doc)
}

func (s *TOMLStore) MoveToWasted(ctx context.Context, kind Kind, id string, reason InvalidReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	list := doc.listFor(kind)
	kept := (*list)[:0]
	for _, existing := range *list {
		if existing.ID == id {
			doc.Wasted = append(doc.Wasted, &WastedEntry{
					Credential: *existing,
					Reason: reason,
					WastedAt: time.Now().UTC(),
				})
			continue
		}
		kept = append(kept, existing)
	}
	*list = kept
	return s.writeLocked(doc)
}

func (s *TOMLStore) UpdateUsage(ctx context.Context, id string, usage UsageCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	for _, c := range doc.Cookies {
		if c.ID == id {
			c.Usage = usage
			c.UpdatedAt = time.Now().UTC()
			return s.writeLocked(doc)
		}
	}
	return nil
}

func (s *TOMLStore) Health(ctx context.Context) HealthStatus {
	_ = ctx
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.readLocked()
	return HealthStatus{
		Mode: "toml",
		Latency: time.Since(start),
		LastWrite: s.lastWrite,
		Err: err,
	}
}

// EncodeSnapshotTOML renders a full credential snapshot as a TOML document
// — the wire format for admin storage export (§6), independent of which
// Store backend is actually configured.
func EncodeSnapshotTOML(snap *Snapshot) ([]byte, error) {
	doc := &tomlDocument{
		Cookies: snap.Cookies,
		Keys: snap.Keys,
		OAuth: snap.OAuth,
		ServiceAccounts: snap.ServiceAccounts,
		Wasted: snap.Wasted,
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshotTOML parses a TOML document produced by EncodeSnapshotTOML
// back into a Snapshot — the wire format for admin storage import (§6).
func DecodeSnapshotTOML(data []byte) (*Snapshot, error) {
	doc := &tomlDocument{}
	if _, err := toml.Decode(string(data), doc); err != nil {
		return nil, err
	}
	return &Snapshot{
		Cookies: doc.Cookies,
		Keys: doc.Keys,
		OAuth: doc.OAuth,
		ServiceAccounts: doc.ServiceAccounts,
		Wasted: doc.Wasted,
	}, nil
}

func (d *tomlDocument) listFor(kind Kind) *[]*Credential {
	switch kind {
	case KindCookie:
		return &d.Cookies
	case KindKey:
		return &d.Keys
	case KindOAuth:
		return &d.OAuth
	case KindServiceAccount:
		return &d.ServiceAccounts
	default:
		return &d.Cookies
	}
}
