package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"firemap.org/internal/session"
)

type sentMail struct {
	Subject   string
	Recipient string
	Body      string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *captureMailer) Send(_ context.Context, subject, recipient, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{Subject: subject, Recipient: recipient, Body: htmlBody})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail was sent")
	}
	return m.sent[len(m.sent)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc      *Service
	store    *MemoryStore
	sessions *session.Manager
	mailer   *captureMailer
	clock    *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	kv := session.NewMemoryKV(clock.Now)
	sessions := session.NewManager(kv, session.WithClock(clock.Now))
	store := NewMemoryStore()
	mailer := &captureMailer{}
	svc := NewService(store, sessions, mailer, []byte("test-hmac-secret"),
		WithClock(clock.Now),
		WithFrontendURL("https://fire-map.example"))
	return &testEnv{svc: svc, store: store, sessions: sessions, mailer: mailer, clock: clock}
}

func (e *testEnv) createUser(t *testing.T, email, password string, role Role) *User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &User{
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: hash,
		Role:         role,
	}
	if err := e.store.Users(context.Background()).Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// linkToken pulls the signed token out of an emailed link.
func linkToken(t *testing.T, body, param string) string {
	t.Helper()
	idx := strings.Index(body, param+"=")
	if idx < 0 {
		t.Fatalf("no %s parameter in mail body:\n%s", param, body)
	}
	rest := body[idx+len(param)+1:]
	if end := strings.IndexAny(rest, `"&<`); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func TestInviteAndRegisterFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "admin@fire-map.com", "admin-password", RoleAdmin)

	invite, err := env.svc.CreateInvite(ctx, admin, "alice@example.com", 7)
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	msg := env.mailer.last(t)
	if msg.Recipient != "alice@example.com" {
		t.Fatalf("invite mailed to %s", msg.Recipient)
	}
	token := linkToken(t, msg.Body, "invitation")

	user, sid, err := env.svc.Register(ctx, token, RegisterInput{
		Email:     "alice@example.com",
		FirstName: "Alice",
		LastName:  "Anders",
		Password:  "correct horse battery",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sid == "" {
		t.Fatal("expected a session id")
	}
	sess, err := env.sessions.Get(ctx, sid)
	if err != nil || sess == nil || sess.UserID != user.ID {
		t.Fatalf("session not created: %+v err=%v", sess, err)
	}

	stored, err := env.store.Invites(ctx).FindByUUID(ctx, invite.UUID)
	if err != nil {
		t.Fatalf("FindByUUID: %v", err)
	}
	if !stored.Used {
		t.Fatal("invite not marked used after registration")
	}

	// The invite is burned: a second registration with the same token fails.
	if _, _, err := env.svc.Register(ctx, token, RegisterInput{
		Email:     "alice@example.com",
		FirstName: "Alice",
		LastName:  "Anders",
		Password:  "another password",
	}); !errors.Is(err, ErrTokenUsed) && !errors.Is(err, ErrConflict) {
		t.Fatalf("expected used/conflict error, got %v", err)
	}
}

func TestRegisterRejectsEmailMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "admin@fire-map.com", "admin-password", RoleAdmin)

	if _, err := env.svc.CreateInvite(ctx, admin, "bob@example.com", 0); err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	token := linkToken(t, env.mailer.last(t).Body, "invitation")

	_, _, err := env.svc.Register(ctx, token, RegisterInput{
		Email:     "mallory@example.com",
		FirstName: "Mallory",
		LastName:  "M",
		Password:  "password123",
	})
	if !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("expected ErrEmailMismatch, got %v", err)
	}
}

func TestRegisterRejectsTamperedToken(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.svc.Register(context.Background(), "some-uuid.bogus-signature", RegisterInput{
		Email: "a@b.c", FirstName: "A", LastName: "B", Password: "pw",
	})
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRegisterRejectsExpiredInvite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "admin@fire-map.com", "admin-password", RoleAdmin)

	if _, err := env.svc.CreateInvite(ctx, admin, "late@example.com", 7); err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	token := linkToken(t, env.mailer.last(t).Body, "invitation")

	env.clock.Advance(7*24*time.Hour + time.Second)
	_, _, err := env.svc.Register(ctx, token, RegisterInput{
		Email: "late@example.com", FirstName: "L", LastName: "A", Password: "pw12345",
	})
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestCreateInviteRejectsDuplicateActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "admin@fire-map.com", "admin-password", RoleAdmin)

	if _, err := env.svc.CreateInvite(ctx, admin, "carol@example.com", 7); err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := env.svc.CreateInvite(ctx, admin, "carol@example.com", 7); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate invite, got %v", err)
	}

	// Once the first invite has expired a new one is allowed.
	env.clock.Advance(8 * 24 * time.Hour)
	if _, err := env.svc.CreateInvite(ctx, admin, "carol@example.com", 7); err != nil {
		t.Fatalf("expected new invite after expiry, got %v", err)
	}
}

func TestCreateInviteRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "user@example.com", "user-password", RoleUser)

	if _, err := env.svc.CreateInvite(context.Background(), user, "x@example.com", 7); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "dave@example.com", "right-password", RoleUser)

	if _, err := env.svc.Login(context.Background(), "dave@example.com", "wrong-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.svc.Login(context.Background(), "nobody@example.com", "whatever"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown user, got %v", err)
	}
}

func TestLoginDeactivatedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "gone@example.com", "their-password", RoleUser)
	if err := env.store.Users(ctx).SetDeactivated(ctx, user.ID, true); err != nil {
		t.Fatalf("SetDeactivated: %v", err)
	}

	if _, err := env.svc.Login(ctx, "gone@example.com", "their-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLoginWithoutMFAIssuesFullSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "erin@example.com", "a fine password", RoleUser)

	res, err := env.svc.Login(ctx, "erin@example.com", "a fine password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.RequiresMFA {
		t.Fatal("unexpected MFA requirement")
	}
	sess, err := env.sessions.Get(ctx, res.SessionID)
	if err != nil || sess == nil || sess.UserID != user.ID {
		t.Fatalf("full session not resolvable: %+v err=%v", sess, err)
	}
}

func TestLoginWithMFAIssuesTempSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "frank@example.com", "a fine password", RoleUser)
	if err := env.store.Otp(ctx).Save(ctx, &OtpSettings{
		UserID: user.ID, Secret: "JBSWY3DPEHPK3PXP", Configured: true,
	}); err != nil {
		t.Fatalf("save otp settings: %v", err)
	}

	res, err := env.svc.Login(ctx, "frank@example.com", "a fine password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.RequiresMFA || res.SessionID != "" || res.TempSessionID == "" {
		t.Fatalf("unexpected login result: %+v", res)
	}
	if sess, _ := env.sessions.Get(ctx, res.TempSessionID); sess != nil {
		t.Fatal("temp session leaked into the full namespace")
	}
	sess, err := env.sessions.GetTemp(ctx, res.TempSessionID)
	if err != nil || sess == nil || sess.State != session.State2FAPending {
		t.Fatalf("temp session not resolvable: %+v err=%v", sess, err)
	}
}

func TestAdminResetFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "admin@fire-map.com", "admin-password", RoleAdmin)
	target := env.createUser(t, "worker@example.com", "old-password", RoleUser)

	if err := env.svc.AdminResetPassword(ctx, admin, target.ID); err != nil {
		t.Fatalf("AdminResetPassword: %v", err)
	}
	msg := env.mailer.last(t)
	if msg.Recipient != "worker@example.com" {
		t.Fatalf("reset mailed to %s", msg.Recipient)
	}
	token := linkToken(t, msg.Body, "token")

	if err := env.svc.ConfirmAdminReset(ctx, token, "new-password"); err != nil {
		t.Fatalf("ConfirmAdminReset: %v", err)
	}
	if _, err := env.svc.Login(ctx, "worker@example.com", "new-password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := env.svc.Login(ctx, "worker@example.com", "old-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password still valid: %v", err)
	}

	// Single use: the second redemption must fail loudly.
	if err := env.svc.ConfirmAdminReset(ctx, token, "third-password"); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed, got %v", err)
	}
}

func TestAdminResetExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "admin@fire-map.com", "admin-password", RoleAdmin)
	target := env.createUser(t, "worker@example.com", "old-password", RoleUser)

	if err := env.svc.AdminResetPassword(ctx, admin, target.ID); err != nil {
		t.Fatalf("AdminResetPassword: %v", err)
	}
	token := linkToken(t, env.mailer.last(t).Body, "token")

	env.clock.Advance(24*time.Hour + time.Second)
	if err := env.svc.ConfirmAdminReset(ctx, token, "new-password"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestAdminResetRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "user@example.com", "user-password", RoleUser)
	other := env.createUser(t, "other@example.com", "other-password", RoleUser)

	if err := env.svc.AdminResetPassword(context.Background(), user, other.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSelfResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "grace@example.com", "old-password", RoleUser)

	if err := env.svc.SelfResetPassword(ctx, user, "wrong-old", "new-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong old password, got %v", err)
	}
	if err := env.svc.SelfResetPassword(ctx, user, "old-password", "new-password"); err != nil {
		t.Fatalf("SelfResetPassword: %v", err)
	}
	if _, err := env.svc.Login(ctx, "grace@example.com", "new-password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestForgotPasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "heidi@example.com", "old-password", RoleUser)

	if err := env.svc.ForgotPassword(ctx, "heidi@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	msg := env.mailer.last(t)
	code := extractCode(t, msg.Body)

	if err := env.svc.ConfirmForgotPassword(ctx, code, "new-password"); err != nil {
		t.Fatalf("ConfirmForgotPassword: %v", err)
	}
	if _, err := env.svc.Login(ctx, "heidi@example.com", "new-password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if err := env.svc.ConfirmForgotPassword(ctx, code, "again"); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed on second redemption, got %v", err)
	}
}

func TestForgotPasswordSilentForUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	if err := env.svc.ForgotPassword(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("expected silence for unknown email, got %v", err)
	}
	if len(env.mailer.sent) != 0 {
		t.Fatalf("mail sent for unknown email: %+v", env.mailer.sent)
	}
}

func TestForgotPasswordExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "ivan@example.com", "old-password", RoleUser)

	if err := env.svc.ForgotPassword(ctx, "ivan@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	code := extractCode(t, env.mailer.last(t).Body)

	// Exactly at expire_date the record is still valid: rejection needs
	// expire_date strictly before now.
	env.clock.Advance(15 * time.Minute)
	if err := env.svc.ConfirmForgotPassword(ctx, code, "new-password"); err != nil {
		t.Fatalf("record at the expiry instant rejected: %v", err)
	}
}

func TestForgotPasswordExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "judy@example.com", "old-password", RoleUser)

	if err := env.svc.ForgotPassword(ctx, "judy@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	code := extractCode(t, env.mailer.last(t).Body)

	env.clock.Advance(15*time.Minute + time.Second)
	if err := env.svc.ConfirmForgotPassword(ctx, code, "new-password"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

// extractCode finds the 6-digit reset code in a rendered mail body.
func extractCode(t *testing.T, body string) string {
	t.Helper()
	for i := 0; i+resetCodeDigits <= len(body); i++ {
		candidate := body[i : i+resetCodeDigits]
		allDigits := true
		for _, r := range candidate {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if !allDigits {
			continue
		}
		// Reject longer digit runs (e.g. years inside the template).
		if i > 0 && body[i-1] >= '0' && body[i-1] <= '9' {
			continue
		}
		if i+resetCodeDigits < len(body) && body[i+resetCodeDigits] >= '0' && body[i+resetCodeDigits] <= '9' {
			continue
		}
		return candidate
	}
	t.Fatalf("no %d-digit code found in body:\n%s", resetCodeDigits, body)
	return ""
}
