package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type EmailChannel struct {
	cfg    EmailConfig
	sender SendMailFunc
}

// NewEmailChannel sends through net/smtp; sender may be nil.
func NewEmailChannel(cfg EmailConfig, sender SendMailFunc) *EmailChannel {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = "alerts@carewatch.local"
	}
	if sender == nil {
		sender = smtp.SendMail
	}
	return &EmailChannel{cfg: cfg, sender: sender}
}

func (e *EmailChannel) Type() ChannelType { return ChannelEmail }

// net/smtp has no context support: on ctx expiry Send returns and the exchange finishes in the background.
func (e *EmailChannel) Send(ctx context.Context, to string, msg Message) error {
	if e.cfg.Host == "" {
		return fmt.Errorf("email: smtp host not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if e.cfg.User != "" {
		auth = smtp.PlainAuth("", e.cfg.User, e.cfg.Password, e.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))

	done := make(chan error, 1)
	go func() {
		done <- e.sender(addr, auth, e.cfg.From, []string{to}, []byte(b.String()))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
