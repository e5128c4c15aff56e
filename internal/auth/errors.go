package auth

import "errors"

var (
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
	ErrForbidden     = errors.New("auth: forbidden")
	ErrNotFound      = errors.New("auth: not found")
	ErrConflict      = errors.New("auth: already exists")
	ErrNotConfigured = errors.New("auth: two-factor not configured")
	ErrInvalidCode   = errors.New("auth: invalid one-time code")
	ErrTokenInvalid  = errors.New("auth: invalid or malformed token")
	ErrTokenUsed     = errors.New("auth: token has already been used")
	ErrTokenExpired  = errors.New("auth: token has expired")
	ErrEmailMismatch = errors.New("auth: email does not match the invitation")
)
