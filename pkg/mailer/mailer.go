// Package mailer is the SMTP transport for post-call notification emails.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
)

// Mailer delivers plain-text email.
type Mailer interface {
	Send(to []string, subject, body string) error
	Enabled() bool
}

// SMTPMailer implements Mailer over authenticated SMTP. Missing host/from
// disables it.
type SMTPMailer struct {
	host     string
	port     int
	user     string
	password string
	from     string
	enabled  bool
}

// NewSMTPMailer creates the mailer from SMTP settings.
func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	if host == "" || from == "" {
		logger.Base().Warn("smtp not configured, post-call email disabled")
		return &SMTPMailer{enabled: false}
	}
	return &SMTPMailer{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		enabled:  true,
	}
}

// Enabled reports whether the mailer can deliver.
func (m *SMTPMailer) Enabled() bool {
	return m.enabled
}

// Send delivers one message to the listed recipients.
func (m *SMTPMailer) Send(to []string, subject, body string) error {
	if !m.enabled {
		return fmt.Errorf("mailer is disabled")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	msg := strings.Builder{}
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}
	if err := smtp.SendMail(addr, auth, m.from, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
