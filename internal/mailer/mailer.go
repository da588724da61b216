// Package mailer delivers rendered emails over SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// SMTPMailer sends over implicit TLS (port 465) with PLAIN auth.
type SMTPMailer struct {
	host     string
	port     string
	username string
	password string
	from     string

	dial func(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error)
}

func NewSMTPMailer(host, port, user, pass string) *SMTPMailer {
	return &SMTPMailer{
		host:     host,
		port:     port,
		username: user,
		password: pass,
		from:     user,
		dial:     dialTLS,
	}
}

func dialTLS(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error) {
	d := &tls.Dialer{Config: cfg}
	return d.DialContext(ctx, "tcp", addr)
}

// BuildMessage assembles the RFC 5322 message handed to DATA.
func BuildMessage(from, to, subject, body string) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\n", from) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", sanitizeHeader(subject)) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
			"\r\n" +
			body,
	)
}

// Header values must not carry line breaks.
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

func (m *SMTPMailer) Deliver(ctx context.Context, to, subject, body string) error {
	conn, err := m.dial(ctx, net.JoinHostPort(m.host, m.port), &tls.Config{ServerName: m.host})
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if m.username != "" {
		if err := client.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(BuildMessage(m.from, to, subject, body)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return client.Quit()
}

// LogMailer only logs; used when no SMTP host is configured.
type LogMailer struct {
	Logger *zap.Logger
}

func (m *LogMailer) Deliver(_ context.Context, to, subject, body string) error {
	m.Logger.Info("email (not sent, no SMTP configured)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)))
	return nil
}

// Deliverer is satisfied by both mailers.
type Deliverer interface {
	Deliver(ctx context.Context, to, subject, body string) error
}

// New returns an SMTP mailer when host is set and a LogMailer otherwise.
func New(host, port, user, pass string, logger *zap.Logger) Deliverer {
	if host == "" {
		return &LogMailer{Logger: logger}
	}
	return NewSMTPMailer(host, port, user, pass)
}
