// Package secrets provisions and guards per-member check-in secrets.
//
// Access model:
// - A secret is issued once, at member provisioning
// - The only read path is GetForOwner: the authenticated caller must BE the
//   member. There is no "get any member's secret" operation anywhere.
// - The verifier reads secrets through Lookup, which never crosses the API
//   boundary.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SecretBytes is the entropy of a member secret: 16 random bytes, 128 bits,
// encoded as 32 lowercase hex characters.
const SecretBytes = 16

// Errors
var (
	ErrNotFound = errors.New("no secret on file for member")
	ErrExists   = errors.New("member already has a secret")
	ErrNotOwner = errors.New("caller is not the owning member")
)

// Secret is a member's long-term check-in secret.
type Secret struct {
	MemberID  string     `json:"memberId"`
	Secret    string     `json:"secret"`
	CreatedAt time.Time  `json:"createdAt"`
	RotatedAt *time.Time `json:"rotatedAt,omitempty"`
}

// Store persists member secrets. Exactly one active secret per member;
// Replace must be atomic per member so a concurrent read sees either the old
// or the new value, never a torn state.
type Store interface {
	Create(ctx context.Context, s *Secret) error
	Get(ctx context.Context, memberID string) (*Secret, error)
	Replace(ctx context.Context, memberID, newSecret string, rotatedAt time.Time) error
}

// Manager enforces the ownership rule on top of a Store.
type Manager struct {
	store Store
}

// NewManager creates a secret manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Issue creates and stores a fresh secret for a newly provisioned member.
func (m *Manager) Issue(ctx context.Context, memberID string) (*Secret, error) {
	raw, err := generate()
	if err != nil {
		return nil, err
	}
	s := &Secret{
		MemberID:  memberID,
		Secret:    raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetForOwner returns the member's secret if and only if caller is the
// owning member. Any mismatch is ErrNotOwner; the caller never learns
// whether the member exists.
func (m *Manager) GetForOwner(ctx context.Context, memberID, caller string) (*Secret, error) {
	if caller == "" || caller != memberID {
		return nil, ErrNotOwner
	}
	return m.store.Get(ctx, memberID)
}

// Rotate replaces the member's secret with a fresh one. Same authorization
// rule as GetForOwner. The replacement is a single store update, so every
// previously generated rotating token is invalidated the instant it lands.
func (m *Manager) Rotate(ctx context.Context, memberID, caller string) (*Secret, error) {
	if caller == "" || caller != memberID {
		return nil, ErrNotOwner
	}

	raw, err := generate()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := m.store.Replace(ctx, memberID, raw, now); err != nil {
		return nil, err
	}
	return m.store.Get(ctx, memberID)
}

// Seed stores a caller-supplied secret instead of generating one. Used by
// tests and the import tooling for migrated accounts; production provisioning
// always goes through Issue.
func (m *Manager) Seed(ctx context.Context, memberID, secret string) error {
	if secret == "" {
		return errors.New("seed secret must not be empty")
	}
	return m.store.Create(ctx, &Secret{
		MemberID:  memberID,
		Secret:    secret,
		CreatedAt: time.Now().UTC(),
	})
}

// Lookup is the verifier's read path: current secret by member ID, no
// ownership check. Must never be exposed over the API.
func (m *Manager) Lookup(ctx context.Context, memberID string) (string, error) {
	s, err := m.store.Get(ctx, memberID)
	if err != nil {
		return "", err
	}
	return s.Secret, nil
}

func generate() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// MemoryStore is an in-memory implementation of Store for demo mode and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]*Secret
}

// NewMemoryStore creates a new in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]*Secret)}
}

func (s *MemoryStore) Create(ctx context.Context, sec *Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[sec.MemberID]; ok {
		return ErrExists
	}
	cp := *sec
	s.secrets[sec.MemberID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, memberID string) (*Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.secrets[memberID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sec
	return &cp, nil
}

func (s *MemoryStore) Replace(ctx context.Context, memberID, newSecret string, rotatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[memberID]
	if !ok {
		return ErrNotFound
	}
	sec.Secret = newSecret
	sec.RotatedAt = &rotatedAt
	return nil
}
