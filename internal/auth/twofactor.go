package auth

import (
	"bytes"
	"context"
	"errors"
	"image/png"

	"github.com/pquerna/otp/totp"

	"firemap.org/internal/session"
)

// TwoFactor manages per-user TOTP enrollment and verification. The state
// machine per user is NONE -> PENDING (secret stored, unconfirmed) ->
// ENABLED (first successful verification) -> NONE (disable).
type TwoFactor struct {
	store    Store
	sessions *session.Manager
	issuer   string
}

// NewTwoFactor constructs the manager. The issuer labels provisioning URIs
// in authenticator apps.
func NewTwoFactor(store Store, sessions *session.Manager, issuer string) *TwoFactor {
	if issuer == "" {
		issuer = "Fire Map"
	}
	return &TwoFactor{store: store, sessions: sessions, issuer: issuer}
}

// BeginSetup provisions a fresh secret for the user and returns the
// enrollment QR code as a PNG. Any stale pending secret is overwritten;
// an already-enabled user gets ErrConflict.
func (t *TwoFactor) BeginSetup(ctx context.Context, user *User) ([]byte, error) {
	otpStore := t.store.Otp(ctx)
	settings, err := otpStore.Find(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if settings != nil && settings.Configured {
		return nil, ErrConflict
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: user.Email,
		SecretSize:  20,
	})
	if err != nil {
		return nil, err
	}
	if err := otpStore.Save(ctx, &OtpSettings{
		UserID:     user.ID,
		Secret:     key.Secret(),
		Configured: false,
	}); err != nil {
		return nil, err
	}

	img, err := key.Image(256, 256)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VerifySetup confirms a pending enrollment with a current code. On success
// the user's state becomes ENABLED.
func (t *TwoFactor) VerifySetup(ctx context.Context, user *User, code string) error {
	otpStore := t.store.Otp(ctx)
	settings, err := otpStore.Find(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotConfigured
		}
		return err
	}
	if settings.Secret == "" {
		return ErrNotConfigured
	}
	if !totp.Validate(code, settings.Secret) {
		return ErrInvalidCode
	}
	settings.Configured = true
	return otpStore.Save(ctx, settings)
}

// VerifyLogin completes the login of a user parked behind the 2FA challenge:
// it checks the code, promotes the temp session to a full one and deletes
// the temp session. When the challenge doubles as the first setup
// confirmation the enrollment is marked configured as well.
func (t *TwoFactor) VerifyLogin(ctx context.Context, user *User, code, tempSessionID string) (string, error) {
	otpStore := t.store.Otp(ctx)
	settings, err := otpStore.Find(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotConfigured
		}
		return "", err
	}
	if settings.Secret == "" {
		return "", ErrNotConfigured
	}
	if !totp.Validate(code, settings.Secret) {
		return "", ErrInvalidCode
	}
	if !settings.Configured {
		settings.Configured = true
		if err := otpStore.Save(ctx, settings); err != nil {
			return "", err
		}
	}

	sid, err := t.sessions.Create(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if _, err := t.sessions.DeleteTemp(ctx, tempSessionID); err != nil {
		return "", err
	}
	return sid, nil
}

// Disable removes the user's TOTP enrollment entirely and invalidates the
// current session, forcing a re-login. Administrators may not disable their
// own 2FA; the request needs a currently valid code and an explicit confirm
// flag.
func (t *TwoFactor) Disable(ctx context.Context, user *User, code string, confirm bool, currentSessionID string) error {
	if user.Role.IsAdmin() {
		return ErrForbidden
	}
	otpStore := t.store.Otp(ctx)
	settings, err := otpStore.Find(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotConfigured
		}
		return err
	}
	if !settings.Configured {
		return ErrNotConfigured
	}
	if !totp.Validate(code, settings.Secret) {
		return ErrInvalidCode
	}
	if !confirm {
		return ErrInvalidInput
	}

	if err := otpStore.Delete(ctx, user.ID); err != nil {
		return err
	}
	if currentSessionID != "" {
		if _, err := t.sessions.Delete(ctx, currentSessionID); err != nil {
			return err
		}
	}
	return nil
}
