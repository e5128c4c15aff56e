// Package session manages server-side session state in a TTL-bearing
// key-value store. Two independent namespaces exist: full sessions and
// temporary sessions bridging the password-verified to 2FA-verified window
// during login. Each namespace keeps a per-user index set for bulk
// invalidation.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const (
	StateActive     = "active"
	State2FAPending = "2fa_pending"

	sessionPrefix      = "session:"
	tempSessionPrefix  = "temp_session:"
	userSessionsPrefix = "user_sessions:"
	userTempPrefix     = "user_temp_sessions:"

	defaultTTL     = time.Hour
	defaultTempTTL = 240 * time.Second
)

// Session is the fixed-shape record stored per session id.
type Session struct {
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	State        string    `json:"state"`
}

// KV is the minimal TTL-capable key-value surface the manager needs. Get
// reports a miss with found=false rather than an error; errors are reserved
// for transport failures.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, key string) (bool, error)
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Manager owns both session namespaces. No other component touches the
// backing store directly.
type Manager struct {
	kv      KV
	ttl     time.Duration
	tempTTL time.Duration
	now     func() time.Time
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithTTL sets the full-session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithTempTTL sets the temporary-session lifetime.
func WithTempTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.tempTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager over the given store handle.
func NewManager(kv KV, opts ...Option) *Manager {
	m := &Manager{
		kv:      kv,
		ttl:     defaultTTL,
		tempTTL: defaultTempTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured full-session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Create mints a session id for the user, stores the record with the full
// session TTL and indexes it under the user's session set.
func (m *Manager) Create(ctx context.Context, userID string) (string, error) {
	return m.create(ctx, userID, sessionPrefix, userSessionsPrefix, StateActive, m.ttl)
}

// CreateTemp mints a 2fa_pending session with the shorter temp TTL in the
// temp namespace.
func (m *Manager) CreateTemp(ctx context.Context, userID string) (string, error) {
	return m.create(ctx, userID, tempSessionPrefix, userTempPrefix, State2FAPending, m.tempTTL)
}

func (m *Manager) create(ctx context.Context, userID, prefix, indexPrefix, state string, ttl time.Duration) (string, error) {
	id, err := newToken()
	if err != nil {
		return "", err
	}
	now := m.now().UTC()
	payload, err := json.Marshal(Session{
		UserID:       userID,
		CreatedAt:    now,
		LastAccessed: now,
		State:        state,
	})
	if err != nil {
		return "", err
	}
	if err := m.kv.SetEx(ctx, prefix+id, string(payload), ttl); err != nil {
		return "", fmt.Errorf("session: store record: %w", err)
	}
	indexKey := indexPrefix + userID
	if err := m.kv.SAdd(ctx, indexKey, id); err != nil {
		return "", fmt.Errorf("session: index record: %w", err)
	}
	if err := m.kv.Expire(ctx, indexKey, ttl); err != nil {
		return "", fmt.Errorf("session: arm index ttl: %w", err)
	}
	return id, nil
}

// Get resolves a full session id. On a hit it refreshes last_accessed and
// writes the record back under its current remaining TTL; the lifetime is
// not extended. Misses and malformed payloads return (nil, nil).
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.get(ctx, sessionPrefix+sessionID)
}

// GetTemp resolves a temporary session id with the same semantics as Get.
func (m *Manager) GetTemp(ctx context.Context, sessionID string) (*Session, error) {
	return m.get(ctx, tempSessionPrefix+sessionID)
}

func (m *Manager) get(ctx context.Context, key string) (*Session, error) {
	raw, found, err := m.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("session: load record: %w", err)
	}
	if !found {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		// Corrupt session state is treated as "no session", never as a
		// hard failure.
		return nil, nil
	}
	sess.LastAccessed = m.now().UTC()
	ttl, err := m.kv.TTL(ctx, key)
	if err == nil && ttl > 0 {
		if payload, merr := json.Marshal(sess); merr == nil {
			_ = m.kv.SetEx(ctx, key, string(payload), ttl)
		}
	}
	return &sess, nil
}

// Delete removes a full session and its index entry. Returns true only when
// a record actually existed.
func (m *Manager) Delete(ctx context.Context, sessionID string) (bool, error) {
	return m.delete(ctx, sessionID, sessionPrefix, userSessionsPrefix)
}

// DeleteTemp removes a temporary session and its index entry.
func (m *Manager) DeleteTemp(ctx context.Context, sessionID string) (bool, error) {
	return m.delete(ctx, sessionID, tempSessionPrefix, userTempPrefix)
}

func (m *Manager) delete(ctx context.Context, sessionID, prefix, indexPrefix string) (bool, error) {
	key := prefix + sessionID
	raw, found, err := m.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("session: load record: %w", err)
	}
	if !found {
		return false, nil
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return false, nil
	}
	deleted, err := m.kv.Del(ctx, key)
	if err != nil {
		return false, fmt.Errorf("session: delete record: %w", err)
	}
	if sess.UserID != "" {
		if err := m.kv.SRem(ctx, indexPrefix+sess.UserID, sessionID); err != nil {
			return false, fmt.Errorf("session: unindex record: %w", err)
		}
	}
	return deleted, nil
}

// newToken returns a 256-bit random URL-safe session identifier.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
