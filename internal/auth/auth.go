// Package auth provides device session authentication for the member API.
//
// Authentication model:
// - Public endpoints (check-in verification, health): No auth required
// - Member operations (secret retrieval, rotation): Require session key with ownership proof
// - Session keys are issued on member registration, one per enrolled device
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

// Errors
var (
	ErrNoSessionKey      = errors.New("session key required")
	ErrInvalidSessionKey = errors.New("invalid or revoked session key")
	ErrNotOwner          = errors.New("not authorized for this member")
	ErrKeyNotFound       = errors.New("session key not found")
)

// SessionKey represents one device's credential for a member account
type SessionKey struct {
	ID        string    `json:"id"`
	Hash      string    `json:"-"`        // SHA256 hash of key (stored)
	MemberID  string    `json:"memberId"` // The member this key belongs to
	Label     string    `json:"label"`    // Friendly device name
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed,omitempty"`
	Revoked   bool      `json:"revoked"`
}

// Store persists session keys
type Store interface {
	Create(ctx context.Context, key *SessionKey) error
	GetByHash(ctx context.Context, hash string) (*SessionKey, error)
	GetByMember(ctx context.Context, memberID string) ([]*SessionKey, error)
	Update(ctx context.Context, key *SessionKey) error
	Delete(ctx context.Context, id string) error
}

// Manager handles session authentication
type Manager struct {
	store Store
}

// NewManager creates a new auth manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// GenerateKey creates a new session key for a member
// Returns the raw key (shown once) and the stored metadata
func (m *Manager) GenerateKey(ctx context.Context, memberID, label string) (rawKey string, key *SessionKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}

	rawKey = "sk_" + hex.EncodeToString(b)

	key = &SessionKey{
		ID:        "ds_" + hex.EncodeToString(b[:8]),
		Hash:      hashKey(rawKey),
		MemberID:  memberID,
		Label:     label,
		CreatedAt: time.Now(),
	}

	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}

	return rawKey, key, nil
}

// ValidateKey validates a raw session key and returns its metadata
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*SessionKey, error) {
	if rawKey == "" {
		return nil, ErrNoSessionKey
	}

	rawKey = strings.TrimPrefix(rawKey, "Bearer ")
	rawKey = strings.TrimSpace(rawKey)

	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrInvalidSessionKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidSessionKey
	}

	if key.Revoked {
		return nil, ErrInvalidSessionKey
	}

	// Update last used (fire and forget). Work on a copy so the async write
	// never races with the caller's read of the returned key.
	touched := *key
	go func() {
		touched.LastUsed = time.Now()
		m.store.Update(context.Background(), &touched)
	}()

	return key, nil
}

// ListKeys returns all session keys for a member
func (m *Manager) ListKeys(ctx context.Context, memberID string) ([]*SessionKey, error) {
	return m.store.GetByMember(ctx, memberID)
}

// RevokeKey revokes one of a member's session keys
func (m *Manager) RevokeKey(ctx context.Context, keyID, memberID string) error {
	keys, err := m.store.GetByMember(ctx, memberID)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}

	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*SessionKey // by ID
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]*SessionKey),
	}
}

func (s *MemoryStore) Create(ctx context.Context, key *SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*SessionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetByMember(ctx context.Context, memberID string) ([]*SessionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*SessionKey
	for _, k := range s.keys {
		if k.MemberID == memberID {
			result = append(result, k)
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, key *SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}
