package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"firemap.org/internal/mail"
	"firemap.org/internal/session"
)

const (
	adminResetTTL     = 24 * time.Hour
	forgotResetTTL    = 15 * time.Minute
	defaultInviteDays = 7
	resetTokenBytes   = 32
	resetCodeDigits   = 6
)

// Service implements the credential lifecycle: registration by invite,
// login, logout and the three password-reset flavors. Persistent rows go
// through Store, ephemeral state through the session Manager, outbound mail
// through the Sender.
type Service struct {
	store    Store
	sessions *session.Manager
	mailer   mail.Sender

	secret      []byte
	frontendURL string
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithFrontendURL sets the base URL used in emailed links.
func WithFrontendURL(url string) ServiceOption {
	return func(s *Service) {
		s.frontendURL = strings.TrimRight(url, "/")
	}
}

// NewService constructs the workflow service. The secret signs invite and
// reset tokens.
func NewService(store Store, sessions *session.Manager, mailer mail.Sender, secret []byte, opts ...ServiceOption) *Service {
	svc := &Service{
		store:       store,
		sessions:    sessions,
		mailer:      mailer,
		secret:      secret,
		frontendURL: "http://localhost:5173",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// RegisterInput carries the fields a new account needs.
type RegisterInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Register redeems a signed invite token and creates the account. The invite
// is marked used only after the user row exists, so a failed create never
// burns the invite. Returns the new user and a fresh session id.
func (s *Service) Register(ctx context.Context, inviteToken string, input RegisterInput) (*User, string, error) {
	inviteUUID, ok := UnpackAndVerify(inviteToken, s.secret)
	if !ok {
		return nil, "", ErrTokenInvalid
	}

	invite, err := s.store.Invites(ctx).FindByUUID(ctx, inviteUUID)
	if err != nil {
		return nil, "", err
	}
	if invite.Used {
		return nil, "", ErrTokenUsed
	}
	if s.expired(invite.ExpireDate) {
		return nil, "", ErrTokenExpired
	}
	if !strings.EqualFold(invite.Email, input.Email) {
		return nil, "", ErrEmailMismatch
	}

	users := s.store.Users(ctx)
	if _, err := users.FindByEmail(ctx, input.Email); err == nil {
		return nil, "", ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return nil, "", ErrInvalidInput
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, "", err
	}
	user := &User{
		Email:        input.Email,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		PasswordHash: hash,
		Role:         RoleUser,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, "", err
	}
	if err := s.store.Invites(ctx).MarkUsed(ctx, invite.UUID); err != nil {
		return nil, "", err
	}

	sid, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, sid, nil
}

// LoginResult reports whether the login is complete or parked behind the
// 2FA challenge.
type LoginResult struct {
	User          *User
	RequiresMFA   bool
	SessionID     string
	TempSessionID string
}

// Login verifies credentials. Users with configured 2FA get a temporary
// 2fa_pending session; everyone else gets a full session. Bad credentials
// and deactivated accounts are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrUnauthorized
		}
		return LoginResult{}, err
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return LoginResult{}, ErrUnauthorized
	}
	if user.Deactivated {
		return LoginResult{}, ErrUnauthorized
	}

	settings, err := s.store.Otp(ctx).Find(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return LoginResult{}, err
	}
	if settings != nil && settings.Configured {
		tmpID, err := s.sessions.CreateTemp(ctx, user.ID)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{User: user, RequiresMFA: true, TempSessionID: tmpID}, nil
	}

	sid, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, SessionID: sid}, nil
}

// Logout deletes the session if it exists.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	_, err := s.sessions.Delete(ctx, sessionID)
	return err
}

// CreateInvite issues a single-use registration invite for an email address
// and mails a signed link. At most one unused, unexpired invite may exist
// per address.
func (s *Service) CreateInvite(ctx context.Context, actor *User, email string, expireDays int) (*Invite, error) {
	if !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrInvalidInput
	}

	invites := s.store.Invites(ctx)
	existing, err := invites.FindActiveByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && !s.expired(existing.ExpireDate) {
		return nil, ErrConflict
	}

	if expireDays <= 0 {
		expireDays = defaultInviteDays
	}
	invite := &Invite{
		UUID:        uuid.NewString(),
		Email:       email,
		ExpireDate:  s.now().Add(time.Duration(expireDays) * 24 * time.Hour),
		CreatedByID: actor.ID,
	}
	if err := invites.Create(ctx, invite); err != nil {
		return nil, err
	}

	token := SignAndPack(invite.UUID, s.secret)
	link := s.frontendURL + "/register?invitation=" + token
	body, err := mail.RenderInvite(link)
	if err != nil {
		return nil, err
	}
	if err := s.mailer.Send(ctx, "Your Fire Map invitation", email, body); err != nil {
		return nil, fmt.Errorf("send invite mail: %w", err)
	}
	return invite, nil
}

// ValidateInvite reports whether an invite uuid is redeemable and for which
// email. Used by the registration page before the form is submitted.
func (s *Service) ValidateInvite(ctx context.Context, inviteUUID string) (*Invite, error) {
	invite, err := s.store.Invites(ctx).FindByUUID(ctx, inviteUUID)
	if err != nil {
		return nil, err
	}
	if invite.Used {
		return nil, ErrTokenUsed
	}
	if s.expired(invite.ExpireDate) {
		return nil, ErrTokenExpired
	}
	return invite, nil
}

// AdminResetPassword lets an administrator trigger a reset for another user.
// A long opaque token is persisted for 24 hours and mailed as a signed link.
func (s *Service) AdminResetPassword(ctx context.Context, actor *User, targetUserID string) error {
	if !actor.Role.IsAdmin() {
		return ErrUnauthorized
	}
	target, err := s.store.Users(ctx).Find(ctx, targetUserID)
	if err != nil {
		return err
	}

	token, err := randomToken(resetTokenBytes)
	if err != nil {
		return err
	}
	reset := &PasswordReset{
		Type:        ResetAdmin,
		Token:       token,
		ExpireDate:  s.now().Add(adminResetTTL),
		CreatedByID: actor.ID,
		ForUserID:   target.ID,
	}
	if err := s.store.PasswordResets(ctx).Create(ctx, reset); err != nil {
		return err
	}

	signed := SignAndPack(token, s.secret)
	link := s.frontendURL + "/reset-password?token=" + signed
	body, err := mail.RenderPasswordReset(link)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, "Reset your Fire Map password", target.Email, body); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

// ConfirmAdminReset redeems a signed reset link and sets the new password.
func (s *Service) ConfirmAdminReset(ctx context.Context, signedToken, newPassword string) error {
	token, ok := UnpackAndVerify(signedToken, s.secret)
	if !ok {
		return ErrTokenInvalid
	}
	resets := s.store.PasswordResets(ctx)
	reset, err := resets.FindByToken(ctx, token)
	if err != nil {
		return err
	}
	return s.redeemReset(ctx, reset, newPassword)
}

// SelfResetPassword changes an authenticated user's password after verifying
// the old one. No reset row is involved.
func (s *Service) SelfResetPassword(ctx context.Context, user *User, oldPassword, newPassword string) error {
	if !VerifyPassword(user.PasswordHash, oldPassword) {
		return ErrUnauthorized
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.store.Users(ctx).UpdatePassword(ctx, user.ID, hash)
}

// ForgotPassword mails a short reset code when the address belongs to a
// known user. Unknown addresses are silently ignored so the endpoint leaks
// no account information.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	code, err := randomDigits(resetCodeDigits)
	if err != nil {
		return err
	}
	reset := &PasswordReset{
		Type:       ResetForgot,
		Code:       code,
		ExpireDate: s.now().Add(forgotResetTTL),
		ForUserID:  user.ID,
	}
	if err := s.store.PasswordResets(ctx).Create(ctx, reset); err != nil {
		return err
	}

	body, err := mail.RenderForgotPassword(code)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, "Your Fire Map reset code", user.Email, body); err != nil {
		return fmt.Errorf("send forgot-password mail: %w", err)
	}
	return nil
}

// ConfirmForgotPassword redeems a reset code and sets the new password.
func (s *Service) ConfirmForgotPassword(ctx context.Context, code, newPassword string) error {
	reset, err := s.store.PasswordResets(ctx).FindByCode(ctx, code)
	if err != nil {
		return err
	}
	return s.redeemReset(ctx, reset, newPassword)
}

func (s *Service) redeemReset(ctx context.Context, reset *PasswordReset, newPassword string) error {
	if reset.Used {
		return ErrTokenUsed
	}
	if s.expired(reset.ExpireDate) {
		return ErrTokenExpired
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, reset.ForUserID, hash); err != nil {
		return err
	}
	return s.store.PasswordResets(ctx).MarkUsed(ctx, reset.ID)
}

// expired implements the strict boundary: a record whose expire_date equals
// the current instant is still valid.
func (s *Service) expired(expireDate time.Time) bool {
	return expireDate.Before(s.now())
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		digit, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(digit.String())
	}
	return b.String(), nil
}
