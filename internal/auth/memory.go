package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"firemap.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used by tests and local development.
// All sub-stores share one mutex; the semantics (including the conditional
// MarkUsed) mirror PGStore.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*User
	otp     map[string]*OtpSettings
	resets  map[string]*PasswordReset
	invites map[string]*Invite
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		otp:     make(map[string]*OtpSettings),
		resets:  make(map[string]*PasswordReset),
		invites: make(map[string]*Invite),
		now:     time.Now,
	}
}

func (s *MemoryStore) Users(context.Context) UserStore                   { return (*memUserStore)(s) }
func (s *MemoryStore) Otp(context.Context) OtpStore                      { return (*memOtpStore)(s) }
func (s *MemoryStore) PasswordResets(context.Context) PasswordResetStore { return (*memResetStore)(s) }
func (s *MemoryStore) Invites(context.Context) InviteStore               { return (*memInviteStore)(s) }

type memUserStore MemoryStore

func (s *memUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	u.CreatedAt = s.now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memUserStore) Find(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) List(_ context.Context) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		res = append(res, &cp)
	}
	return res, nil
}

func (s *memUserStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *memUserStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now()
	return nil
}

func (s *memUserStore) SetRole(_ context.Context, userID string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = s.now()
	return nil
}

func (s *memUserStore) SetDeactivated(_ context.Context, userID string, deactivated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Deactivated = deactivated
	u.UpdatedAt = s.now()
	return nil
}

type memOtpStore MemoryStore

func (s *memOtpStore) Find(_ context.Context, userID string) (*OtpSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.otp[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *settings
	return &cp, nil
}

func (s *memOtpStore) Save(_ context.Context, settings *OtpSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *settings
	cp.UpdatedAt = s.now()
	if existing, ok := s.otp[settings.UserID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = cp.UpdatedAt
	}
	s.otp[settings.UserID] = &cp
	return nil
}

func (s *memOtpStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.otp[userID]; !ok {
		return ErrNotFound
	}
	delete(s.otp, userID)
	return nil
}

type memResetStore MemoryStore

func (s *memResetStore) Create(_ context.Context, reset *PasswordReset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reset.ID == "" {
		reset.ID = ids.New()
	}
	reset.CreatedAt = s.now()
	reset.UpdatedAt = reset.CreatedAt
	cp := *reset
	s.resets[reset.ID] = &cp
	return nil
}

func (s *memResetStore) FindByToken(_ context.Context, token string) (*PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reset := range s.resets {
		if reset.Token != "" && reset.Token == token {
			cp := *reset
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memResetStore) FindByCode(_ context.Context, code string) (*PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reset := range s.resets {
		if reset.Code != "" && reset.Code == code {
			cp := *reset
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memResetStore) MarkUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset, ok := s.resets[id]
	if !ok {
		return ErrNotFound
	}
	if reset.Used {
		return ErrTokenUsed
	}
	reset.Used = true
	reset.UpdatedAt = s.now()
	return nil
}

type memInviteStore MemoryStore

func (s *memInviteStore) Create(_ context.Context, invite *Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if invite.ID == "" {
		invite.ID = ids.New()
	}
	invite.CreatedAt = s.now()
	invite.UpdatedAt = invite.CreatedAt
	cp := *invite
	s.invites[invite.UUID] = &cp
	return nil
}

func (s *memInviteStore) FindByUUID(_ context.Context, uuid string) (*Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[uuid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *invite
	return &cp, nil
}

func (s *memInviteStore) FindActiveByEmail(_ context.Context, email string) (*Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, invite := range s.invites {
		if strings.EqualFold(invite.Email, email) && !invite.Used {
			cp := *invite
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memInviteStore) List(_ context.Context) ([]*Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*Invite, 0, len(s.invites))
	for _, invite := range s.invites {
		cp := *invite
		res = append(res, &cp)
	}
	return res, nil
}

func (s *memInviteStore) MarkUsed(_ context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[uuid]
	if !ok {
		return ErrNotFound
	}
	if invite.Used {
		return ErrTokenUsed
	}
	invite.Used = true
	invite.UpdatedAt = s.now()
	return nil
}

func (s *memInviteStore) Delete(_ context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[uuid]; !ok {
		return ErrNotFound
	}
	delete(s.invites, uuid)
	return nil
}
