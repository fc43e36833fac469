package notification

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/go-mail/mail"
)

// SMTPConfig configures SMTPDispatcher.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
}

// SMTPDispatcher delivers the plain html link mail over SMTP. Provider
// templates do not exist here, so no settings are resolved for it.
type SMTPDispatcher struct {
	config SMTPConfig
}

func NewSMTPDispatcher(config SMTPConfig) *SMTPDispatcher {
	return &SMTPDispatcher{config: config}
}

func (d *SMTPDispatcher) RequiresTemplate() bool {
	return false
}

func (d *SMTPDispatcher) Dispatch(_ context.Context, _ Template, msg Message) error {
	dialer := mail.NewDialer(d.config.Host, d.config.Port, d.config.Username, d.config.Password)
	dialer.SSL = d.config.SSL
	dialer.TLSConfig = &tls.Config{ServerName: d.config.Host}

	if err := dialer.DialAndSend(buildSMTPMessage(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func buildSMTPMessage(msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", msg.From)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	return m
}
