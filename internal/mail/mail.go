// Package mail renders and delivers the transactional messages the
// credential workflows produce: invite links, password-reset links and
// forgot-password codes.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Sender delivers a rendered HTML message. Failures propagate to the caller
// unchanged; the workflows neither retry nor roll back.
type Sender interface {
	Send(ctx context.Context, subject, recipient, htmlBody string) error
}

// RenderInvite renders the registration-invite message body.
func RenderInvite(inviteLink string) (string, error) {
	return render("invite.html", map[string]any{"InviteLink": inviteLink})
}

// RenderPasswordReset renders the admin-initiated reset-link message body.
func RenderPasswordReset(resetLink string) (string, error) {
	return render("reset_password.html", map[string]any{"ResetLink": resetLink})
}

// RenderForgotPassword renders the forgot-password code message body.
func RenderForgotPassword(code string) (string, error) {
	return render("forgot_password.html", map[string]any{"Code": code})
}

func render(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("mail: render %s: %w", name, err)
	}
	return buf.String(), nil
}

// SMTPSender delivers mail over plain SMTP.
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPSender constructs a sender for host:port. Credentials are optional;
// local relays (mailhog and the like) take none.
func NewSMTPSender(host string, port int, from, username, password string) *SMTPSender {
	s := &SMTPSender{
		addr: fmt.Sprintf("%s:%d", host, port),
		from: from,
	}
	if username != "" {
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

func (s *SMTPSender) Send(_ context.Context, subject, recipient, htmlBody string) error {
	var msg strings.Builder
	msg.WriteString("From: " + s.from + "\r\n")
	msg.WriteString("To: " + recipient + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("mail: send to %s: %w", recipient, err)
	}
	return nil
}
