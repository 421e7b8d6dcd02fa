package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/autoreply-dev/autoreply/internal/config"
)

type SMTPSender struct {
	config config.SMTPConfig
	from   string
}

func NewSMTPSender(cfg config.SMTPConfig, from string) *SMTPSender {
	return &SMTPSender{config: cfg, from: from}
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, msg Message) Result {
	if msg.From == "" {
		msg.From = s.from
	}
	raw, err := Compose(msg, time.Now())
	if err != nil {
		return Result{Success: false, Error: err}
	}

	if s.config.Username != "" && !s.config.UseTLS {
		return Result{Success: false, Error: fmt.Errorf("SMTP auth requires TLS")}
	}

	if err := s.deliver(ctx, msg.From, msg.To, raw); err != nil {
		return Result{Success: false, Error: sanitizeSMTPError(err)}
	}

	return Result{Success: true, MessageID: messageIDOf(raw)}
}

func (s *SMTPSender) deliver(ctx context.Context, from, to string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var c *smtp.Client
	if s.config.UseTLS {
		conn, err := (&tls.Dialer{Config: &tls.Config{
			ServerName: s.config.Host,
			MinVersion: tls.VersionTLS12,
		}}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("TLS connection failed: %w", err)
		}
		c = smtp.NewClient(conn)
	} else {
		var err error
		c, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}
	}
	defer c.Close()

	if s.config.Username != "" {
		auth := sasl.NewPlainClient("", s.config.Username, s.config.Password)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}
	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("sender rejected: %w", err)
	}
	if err := c.Rcpt(to, nil); err != nil {
		return fmt.Errorf("recipient rejected: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data command failed: %w", err)
	}
	if _, err = w.Write(raw); err != nil {
		return fmt.Errorf("message write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message finalization failed: %w", err)
	}
	return c.Quit()
}

func sanitizeSMTPError(err error) error {
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "auth") {
		return fmt.Errorf("SMTP authentication failed")
	}
	if strings.Contains(s, "certificate") {
		return fmt.Errorf("TLS certificate error")
	}
	if strings.Contains(s, "recipient rejected") {
		return fmt.Errorf("SMTP recipient rejected")
	}
	return fmt.Errorf("SMTP error: check your configuration")
}

// messageIDOf reads the Message-ID header back out of a composed message
func messageIDOf(raw []byte) string {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	defer r.Close()
	id, err := r.Header.MessageID()
	if err != nil {
		return ""
	}
	return id
}
