package auth

import "time"

// Role is the coarse authorization level attached to a user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// IsAdmin reports whether the role grants administrative access.
func (r Role) IsAdmin() bool { return r == RoleAdmin }

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleUser }

// User is an account that can log in and report events on the map.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
	Deactivated  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OtpSettings holds a user's TOTP enrollment state. The secret is written on
// every setup attempt; Configured flips to true only after the first
// successful code verification.
type OtpSettings struct {
	UserID     string
	Secret     string
	Configured bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ResetType distinguishes the three password-reset flavors.
type ResetType string

const (
	ResetAdmin  ResetType = "admin"
	ResetSelf   ResetType = "self"
	ResetForgot ResetType = "forgot"
)

// PasswordReset is a single-use, time-boxed credential-change authorization.
// Exactly one of Code (forgot flow, human-enterable) or Token (admin flow,
// link-carried) is populated.
type PasswordReset struct {
	ID          string
	Type        ResetType
	Code        string
	Token       string
	ExpireDate  time.Time
	Used        bool
	CreatedByID string
	ForUserID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Invite authorizes one email address to self-register, once, before it
// expires.
type Invite struct {
	ID          string
	UUID        string
	Email       string
	ExpireDate  time.Time
	Used        bool
	CreatedByID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
