package auth

import "context"

// Store describes the relational persistence the auth subsystem needs.
type Store interface {
	Users(ctx context.Context) UserStore
	Otp(ctx context.Context) OtpStore
	PasswordResets(ctx context.Context) PasswordResetStore
	Invites(ctx context.Context) InviteStore
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Count(ctx context.Context) (int, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetRole(ctx context.Context, userID string, role Role) error
	SetDeactivated(ctx context.Context, userID string, deactivated bool) error
}

// OtpStore manages per-user TOTP settings. Save upserts; Delete removes the
// row entirely (two-factor disabled).
type OtpStore interface {
	Find(ctx context.Context, userID string) (*OtpSettings, error)
	Save(ctx context.Context, settings *OtpSettings) error
	Delete(ctx context.Context, userID string) error
}

// PasswordResetStore manages single-use reset records. MarkUsed must flip
// is_used conditionally and report ErrTokenUsed when the record was already
// consumed, closing the concurrent-redemption race.
type PasswordResetStore interface {
	Create(ctx context.Context, reset *PasswordReset) error
	FindByToken(ctx context.Context, token string) (*PasswordReset, error)
	FindByCode(ctx context.Context, code string) (*PasswordReset, error)
	MarkUsed(ctx context.Context, id string) error
}

// InviteStore manages registration invites. FindActiveByEmail returns only
// unused invites for the address; MarkUsed follows the same conditional
// semantics as PasswordResetStore.MarkUsed.
type InviteStore interface {
	Create(ctx context.Context, invite *Invite) error
	FindByUUID(ctx context.Context, uuid string) (*Invite, error)
	FindActiveByEmail(ctx context.Context, email string) (*Invite, error)
	List(ctx context.Context) ([]*Invite, error)
	MarkUsed(ctx context.Context, uuid string) error
	Delete(ctx context.Context, uuid string) error
}
