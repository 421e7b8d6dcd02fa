package email

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/autoreply-dev/autoreply/internal/config"
)

// Message is an outbound plain-text email. InReplyTo and References
// thread it under the message being answered.
type Message struct {
	To         string
	From       string
	Subject    string
	Body       string
	MessageID  string // Generated by Compose when empty
	InReplyTo  string
	References []string
}

type Result struct {
	Success   bool
	MessageID string
	Error     error
}

type Sender interface {
	Send(ctx context.Context, msg Message) Result
	Name() string
}

func NewSender(cfg config.EmailConfig) (Sender, error) {
	switch cfg.Provider {
	case "", "smtp":
		return NewSMTPSender(cfg.SMTP, cfg.From), nil
	case "sendgrid":
		return NewSendGridSender(cfg.SendGrid.APIKey), nil
	case "resend":
		return NewResendSender(cfg.Resend.APIKey), nil
	}
	return nil, fmt.Errorf("unknown email provider: %s (smtp, sendgrid or resend)", cfg.Provider)
}

// ValidateEmail checks for injection characters and RFC 5322 compliance
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, "\r\n,;") {
		return fmt.Errorf("email contains invalid characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

func validateMessage(msg Message) error {
	if err := ValidateEmail(msg.From); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := ValidateEmail(msg.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	// Reject headers with CRLF to prevent injection
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("subject contains invalid characters")
	}
	return nil
}

// threadHeaders returns In-Reply-To and References for API transports
// that take raw header values.
func threadHeaders(msg Message) map[string]string {
	h := make(map[string]string)
	if msg.InReplyTo != "" {
		h["In-Reply-To"] = bracket(msg.InReplyTo)
	}
	if len(msg.References) > 0 {
		refs := make([]string, len(msg.References))
		for i, r := range msg.References {
			refs[i] = bracket(r)
		}
		h["References"] = strings.Join(refs, " ")
	}
	return h
}

func bracket(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}

func unbracket(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}
