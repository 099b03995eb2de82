package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// PolicyStore is an in-memory domain.PolicyStore: one global default plus
// per-user overrides, last-writer-wins.
type PolicyStore struct {
	mu        sync.RWMutex
	global    domain.Policy
	overrides map[string]domain.Policy
}

// NewPolicyStore creates a PolicyStore with the given global default.
func NewPolicyStore(global domain.Policy) *PolicyStore {
	return &PolicyStore{
		global:    global,
		overrides: make(map[string]domain.Policy),
	}
}

// GetGlobal implements domain.PolicyStore.
func (s *PolicyStore) GetGlobal(ctx context.Context) (domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global, nil
}

// SetGlobal implements domain.PolicyStore.
func (s *PolicyStore) SetGlobal(ctx context.Context, p domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	s.global = p
	return nil
}

// GetForUser implements domain.PolicyStore.
func (s *PolicyStore) GetForUser(ctx context.Context, userID string) (domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.overrides[userID]; ok {
		return p, nil
	}
	return s.global, nil
}

// SetForUser implements domain.PolicyStore.
func (s *PolicyStore) SetForUser(ctx context.Context, userID string, p domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	s.overrides[userID] = p
	return nil
}

// ClearForUser implements domain.PolicyStore.
func (s *PolicyStore) ClearForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, userID)
	return nil
}

var _ domain.PolicyStore = (*PolicyStore)(nil)
