package store

import (
	"context"
	"sync"
	"time"

	"formgate/internal/tenant"
)

// MemoryStore is an in-memory tenant store for tests and single-process
// development setups.
type MemoryStore struct {
	mu        sync.RWMutex
	tenants   map[string]*tenant.Tenant
	users     map[string]int64
	storage   map[string]int64
	snapshots map[string]tenant.UsageSnapshot
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[string]*tenant.Tenant),
		users:     make(map[string]int64),
		storage:   make(map[string]int64),
		snapshots: make(map[string]tenant.UsageSnapshot),
	}
}

// Put registers a tenant. Test seeding helper.
func (s *MemoryStore) Put(t *tenant.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// SetAggregates seeds the membership and storage counts for a tenant.
func (s *MemoryStore) SetAggregates(tenantID string, users, storageBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[tenantID] = users
	s.storage[tenantID] = storageBytes
}

func (s *MemoryStore) Get(_ context.Context, tenantID string) (*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) CountUsers(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[tenantID], nil
}

func (s *MemoryStore) StorageBytes(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage[tenantID], nil
}

func (s *MemoryStore) SaveUsageSnapshot(_ context.Context, snap tenant.UsageSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	s.snapshots[snap.TenantID] = snap
	return nil
}

func (s *MemoryStore) UsageSnapshot(_ context.Context, tenantID string) (*tenant.UsageSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[tenantID]
	if !ok {
		return nil, nil
	}
	cp := snap
	return &cp, nil
}

func (s *MemoryStore) ListUsageSnapshots(_ context.Context) ([]tenant.UsageSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tenant.UsageSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	return out, nil
}
