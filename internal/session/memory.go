package session

import (
	"context"
	"sync"
	"time"
)

var _ KV = (*MemoryKV)(nil)

// MemoryKV is an in-process KV with TTL support, used by tests and local
// development when no redis is available.
type MemoryKV struct {
	mu      sync.Mutex
	values  map[string]memEntry
	sets    map[string]map[string]struct{}
	setExp  map[string]time.Time
	nowFunc func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryKV constructs a MemoryKV. A nil clock defaults to time.Now.
func NewMemoryKV(clock func() time.Time) *MemoryKV {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryKV{
		values:  make(map[string]memEntry),
		sets:    make(map[string]map[string]struct{}),
		setExp:  make(map[string]time.Time),
		nowFunc: clock,
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.values[key]
	if !ok || !m.nowFunc().Before(entry.expiresAt) {
		delete(m.values, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryKV) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memEntry{value: value, expiresAt: m.nowFunc().Add(ttl)}
	return nil
}

func (m *MemoryKV) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.values[key]
	if !ok {
		return -2 * time.Second, nil
	}
	return entry.expiresAt.Sub(m.nowFunc()), nil
}

func (m *MemoryKV) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.values[key]
	if !ok {
		return false, nil
	}
	delete(m.values, key)
	return m.nowFunc().Before(entry.expiresAt), nil
}

func (m *MemoryKV) SAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok || m.expired(key) {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (m *MemoryKV) SRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets[key]; ok {
		delete(set, member)
	}
	return nil
}

func (m *MemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setExp[key] = m.nowFunc().Add(ttl)
	return nil
}

// SMembers returns the live members of a set. Not part of KV; exposed for
// test assertions on the per-user indices.
func (m *MemoryKV) SMembers(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		delete(m.sets, key)
		return nil
	}
	var members []string
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members
}

func (m *MemoryKV) expired(key string) bool {
	exp, ok := m.setExp[key]
	return ok && !m.nowFunc().Before(exp)
}
