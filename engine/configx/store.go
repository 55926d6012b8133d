package configx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// StoreOption allows future extension of store construction.
type StoreOption func(*VersionedStore)

// VersionedStore maintains an append-only log of versioned configurations
// in-memory. It backs the Applier's version history and Rollback; it is not a
// persistence layer (the persisted YAML document described in spec.md §6 is
// a separate, simpler flat file — see engine/configx's file loader).
type VersionedStore struct {
	mu       sync.RWMutex
	versions []*VersionedConfig // index = version-1
	audit    []*AuditRecord
}

// NewVersionedStore constructs an empty store.
func NewVersionedStore(opts ...StoreOption) *VersionedStore {
	vs := &VersionedStore{}
	for _, o := range opts {
		o(vs)
	}
	return vs
}

// NextVersion returns the next version number that would be assigned.
func (s *VersionedStore) NextVersion() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.versions) + 1)
}

// ListAudit returns a snapshot copy of audit records.
func (s *VersionedStore) ListAudit() []*AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditRecord, len(s.audit))
	for i, rec := range s.audit {
		if rec == nil {
			continue
		}
		c := *rec
		out[i] = &c
	}
	return out
}

// Get returns the VersionedConfig for a version number (1-based).
func (s *VersionedStore) Get(version int64) (*VersionedConfig, bool) {
	if version <= 0 {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(version) > len(s.versions) {
		return nil, false
	}
	vc := s.versions[version-1]
	return cloneVersioned(vc), true
}

// Head returns the latest versioned config.
func (s *VersionedStore) Head() (*VersionedConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return nil, false
	}
	return cloneVersioned(s.versions[len(s.versions)-1]), true
}

var ErrHashMismatch = errors.New("configx: hash mismatch")

// Append stores a new versioned config, assigning the next version number.
// If parentExpected is non-zero it must match the current head's version.
func (s *VersionedStore) Append(spec *FoamConfigSpec, actor, diff string, parentExpected int64) (*VersionedConfig, error) {
	if spec == nil {
		return nil, errors.New("configx: nil spec")
	}
	raw, err := canonicalJSON(spec)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(raw)
	hash := hex.EncodeToString(h[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	version := int64(len(s.versions) + 1)
	var parent int64
	if len(s.versions) > 0 {
		parent = s.versions[len(s.versions)-1].Version
	}
	if parent != parentExpected && parentExpected != 0 {
		return nil, errors.New("configx: parent version mismatch")
	}
	vc := &VersionedConfig{
		Version:     version,
		Spec:        cloneSpec(spec),
		Hash:        hash,
		AppliedAt:   time.Now().UTC(),
		Actor:       actor,
		Parent:      parent,
		DiffSummary: diff,
	}
	s.versions = append(s.versions, vc)
	s.audit = append(s.audit, &AuditRecord{Version: version, Hash: hash, Actor: actor, AppliedAt: vc.AppliedAt, Parent: parent, DiffSummary: diff})
	return cloneVersioned(vc), nil
}

// Verify recomputes the hash for a stored version and reports any mismatch.
func (s *VersionedStore) Verify(version int64) error {
	vc, ok := s.Get(version)
	if !ok {
		return errors.New("configx: version not found")
	}
	raw, err := canonicalJSON(vc.Spec)
	if err != nil {
		return err
	}
	h := sha256.Sum256(raw)
	if hex.EncodeToString(h[:]) != vc.Hash {
		return ErrHashMismatch
	}
	return nil
}

func canonicalJSON(spec *FoamConfigSpec) ([]byte, error) {
	return json.Marshal(spec)
}

func cloneSpec(spec *FoamConfigSpec) *FoamConfigSpec {
	if spec == nil {
		return nil
	}
	c := *spec
	if spec.Control != nil {
		ctl := *spec.Control
		c.Control = &ctl
	}
	if spec.Cadence != nil {
		cad := *spec.Cadence
		c.Cadence = &cad
	}
	if spec.Backend != nil {
		be := *spec.Backend
		c.Backend = &be
	}
	return &c
}

func cloneVersioned(vc *VersionedConfig) *VersionedConfig {
	if vc == nil {
		return nil
	}
	c := *vc
	c.Spec = cloneSpec(vc.Spec)
	return &c
}
