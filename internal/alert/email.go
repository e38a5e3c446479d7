package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"watchpost/internal/config"
	"watchpost/internal/storage"
)

// EmailChannel delivers alert notifications over SMTP.
//
// When no SMTP host is configured the channel reports skipped rather than
// failing, so rules with email channels degrade gracefully on servers
// without mail access.
type EmailChannel struct {
	cfg    config.SMTPConfig
	sender string
}

// NewEmailChannel creates the email channel from alert configuration.
func NewEmailChannel(cfg config.AlertConfig) *EmailChannel {
	return &EmailChannel{
		cfg:    cfg.SMTP,
		sender: cfg.EmailSender,
	}
}

// Type returns the channel type name.
func (c *EmailChannel) Type() string {
	return storage.ChannelTypeEmail
}

// Send delivers the notification to the target address.
func (c *EmailChannel) Send(_ context.Context, target string, n Notification) error {
	if c.cfg.Host == "" {
		return ErrSkipped{Reason: "smtp not configured"}
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	msg := buildEmailMessage(c.sender, target, n)

	if c.cfg.StartTLS {
		return c.sendStartTLS(addr, target, msg)
	}
	return c.sendPlain(addr, target, msg)
}

func (c *EmailChannel) auth() smtp.Auth {
	if c.cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
}

func (c *EmailChannel) sendPlain(addr, target string, msg []byte) error {
	if err := smtp.SendMail(addr, c.auth(), c.sender, []string{target}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// sendStartTLS upgrades the connection before authenticating, the usual
// posture for port 587 submission.
func (c *EmailChannel) sendStartTLS(addr, target string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if auth := c.auth(); auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(c.sender); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(target); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	return client.Quit()
}

func buildEmailMessage(from, to string, n Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(n.Message)
	b.WriteString("\r\n")
	return []byte(b.String())
}
