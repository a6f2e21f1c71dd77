// Package email delivers transactional mail. Delivery is always best-effort
// from the caller's point of view: a failure must never roll back the state
// change that triggered it.
package email

import (
	"context"
	"crypto/tls"

	mail "github.com/go-mail/mail"
)

// Message is a plain-text transactional mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender dispatches a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender implements Sender over SMTP with STARTTLS.
type SMTPSender struct {
	host string
	port int
	from string
	user string
	pass string
}

// NewSMTPSender builds a sender for the given relay.
func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{host: host, port: port, from: from, user: user, pass: pass}
}

// Send dials the relay and submits the message. The context deadline is not
// plumbed into the dialer; go-mail manages its own timeouts.
func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	d := mail.NewDialer(s.host, s.port, s.user, s.pass)
	d.TLSConfig = &tls.Config{ServerName: s.host}
	return d.DialAndSend(m)
}

// Noop discards messages; used in tests and when SMTP is not configured.
type Noop struct{}

func (Noop) Send(context.Context, Message) error { return nil }
