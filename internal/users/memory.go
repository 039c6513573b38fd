package users

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pricebook/pricebook/internal/rbac"
)

// MemoryRepository keeps profiles in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryRepository returns a repository seeded with profiles.
func NewMemoryRepository(seed ...Profile) *MemoryRepository {
	m := &MemoryRepository{profiles: make(map[string]Profile)}
	for _, p := range seed {
		m.profiles[p.UID] = p
	}
	return m
}

func (m *MemoryRepository) GetByUID(ctx context.Context, uid string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[uid]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryRepository) List(ctx context.Context) ([]Profile, error) {
	m.mu.RLock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *MemoryRepository) Create(ctx context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.UID]; ok {
		return ErrExists
	}
	for _, existing := range m.profiles {
		if strings.EqualFold(existing.Email, p.Email) {
			return ErrExists
		}
	}
	m.profiles[p.UID] = p
	return nil
}

func (m *MemoryRepository) UpdateRole(ctx context.Context, uid string, role rbac.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return ErrNotFound
	}
	p.Role = role
	m.profiles[uid] = p
	return nil
}
