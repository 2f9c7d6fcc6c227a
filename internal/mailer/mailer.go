// Package mailer delivers the confirmation emails the built-in identity
// provider sends. Without SMTP settings the message is only logged, which is
// enough for local development: the link shows up in the server output.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends a Message.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// LogMailer writes messages to the logger instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (l *LogMailer) Send(ctx context.Context, m Message) error {
	l.logger.InfoContext(ctx, "email not sent, SMTP is not configured",
		slog.String("to", m.To),
		slog.String("subject", m.Subject),
		slog.String("body", m.Body),
	)
	return nil
}

// SMTPMailer sends through an SMTP relay with PLAIN auth (when a user is set).
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth

	// send is smtp.SendMail; tests swap it out.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer validates from and prepares a mailer for addr ("host:port").
func NewSMTPMailer(addr, user, password, from string) (*SMTPMailer, error) {
	sender, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("mailer: invalid from address %q: %w", from, err)
	}

	m := &SMTPMailer{addr: addr, from: sender.Address, send: smtp.SendMail}
	if user != "" {
		host, _, _ := strings.Cut(addr, ":")
		m.auth = smtp.PlainAuth("", user, password, host)
	}
	return m, nil
}

// Send delivers m. smtp.SendMail does not take a context, so cancellation is
// only checked before the dial.
func (s *SMTPMailer) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, err := mail.ParseAddress(m.To)
	if err != nil {
		return fmt.Errorf("mailer: invalid recipient %q: %w", m.To, err)
	}

	msg := buildMessage(s.from, to.Address, m.Subject, m.Body, time.Now())
	if err := s.send(s.addr, s.auth, s.from, []string{to.Address}, msg); err != nil {
		return fmt.Errorf("mailer: sending to %s: %w", to.Address, err)
	}
	return nil
}

// buildMessage renders RFC 5322 headers and a CRLF-terminated body.
func buildMessage(from, to, subject, body string, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + stripCRLF(subject) + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// stripCRLF keeps a header value on one line so it cannot inject headers.
func stripCRLF(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}
