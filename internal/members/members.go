// Package members holds the club member directory: the public display
// identity (name, tier) shown to merchants on a successful check-in.
package members

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Errors
var (
	ErrNotFound = errors.New("member not found")
	ErrExists   = errors.New("member already exists")
)

// Tiers, lowest to highest.
const (
	TierBronze = "bronze"
	TierSilver = "silver"
	TierGold   = "gold"
)

// Member is a club member's directory entry. The check-in secret lives in
// the secrets package, never here.
type Member struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Tier        string    `json:"tier"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ValidTier reports whether t is a known membership tier.
func ValidTier(t string) bool {
	switch t {
	case TierBronze, TierSilver, TierGold:
		return true
	}
	return false
}

// Store persists directory entries.
type Store interface {
	Create(ctx context.Context, m *Member) error
	Get(ctx context.Context, id string) (*Member, error)
	UpdateTier(ctx context.Context, id, tier string) error
	Count(ctx context.Context) (int, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu      sync.RWMutex
	members map[string]*Member
}

// NewMemoryStore creates a new in-memory member store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]*Member)}
}

func (s *MemoryStore) Create(ctx context.Context, m *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.ID]; ok {
		return ErrExists
	}
	cp := *m
	if cp.Tier == "" {
		cp.Tier = TierBronze
	}
	s.members[m.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) UpdateTier(ctx context.Context, id, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return ErrNotFound
	}
	m.Tier = strings.ToLower(tier)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members), nil
}
