package config

import (
	"fmt"
	"strings"
)

// Problem is one configuration defect
type Problem struct {
	Field   string
	Message string
}

func (p Problem) String() string {
	return p.Field + ": " + p.Message
}

// ValidationError reports every problem found by Validate
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("invalid configuration (%d problems): %s", len(e.Problems), strings.Join(parts, "; "))
}

// Err returns a ValidationError for problems, or nil when there are none
func Err(problems []Problem) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// Validate returns every problem in the configuration. It performs no
// network access.
func (c *Config) Validate() []Problem {
	problems := append([]Problem(nil), c.envProblems...)
	add := func(field, format string, args ...any) {
		problems = append(problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Provider {
	case ProviderGmail:
		if c.Gmail.ClientID == "" {
			add("gmail.client_id", "is required (GMAIL_CLIENT_ID)")
		}
		if c.Gmail.ClientSecret == "" {
			add("gmail.client_secret", "is required (GMAIL_CLIENT_SECRET)")
		}
		if c.Gmail.RefreshToken == "" {
			add("gmail.refresh_token", "is required (GMAIL_REFRESH_TOKEN)")
		}
	case ProviderIMAP:
		problems = append(problems, c.validateInbox()...)
		problems = append(problems, c.validateEmail()...)
	default:
		add("provider", "unknown provider %q (gmail or imap)", c.Provider)
	}

	if c.Responder.CheckInterval <= 0 {
		add("responder.check_interval", "must be positive")
	}
	if c.Responder.MaxMessagesPerCheck <= 0 {
		add("responder.max_messages_per_check", "must be positive")
	}
	if c.Summarizer.Timeout < 0 {
		add("summarizer.timeout", "must not be negative")
	}
	if c.Responder.SendDelay < 0 {
		add("responder.send_delay", "must not be negative")
	}

	if c.Thread.Enabled {
		if c.Thread.MaxMessages <= 0 {
			add("thread.max_messages", "must be positive")
		}
		if c.Thread.MaxChars <= 0 {
			add("thread.max_chars", "must be positive")
		}
	}

	if c.Summarizer.Enabled {
		if !c.Thread.Enabled {
			add("summarizer.enabled", "requires thread.enabled")
		}
		if c.Summarizer.APIKey == "" {
			add("summarizer.api_key", "is required when the summarizer is enabled (OPENAI_API_KEY)")
		}
	}

	switch c.History.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.History.DSN == "" {
			add("history.dsn", "is required for postgres (DATABASE_URL)")
		}
	default:
		add("history.driver", "unknown driver %q (sqlite, postgres or memory)", c.History.Driver)
	}

	for i, r := range c.Routes {
		if r.Sender == "" {
			add(fmt.Sprintf("routes[%d].sender", i), "is required")
		}
		if r.Category == "" {
			add(fmt.Sprintf("routes[%d].category", i), "is required")
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		add("log.format", "unknown format %q (json or console)", c.Log.Format)
	}

	return problems
}

func (c *Config) validateInbox() []Problem {
	var problems []Problem
	if c.Inbox.Server == "" {
		problems = append(problems, Problem{"inbox.server", "IMAP server is required"})
	}
	if c.Inbox.Email == "" {
		problems = append(problems, Problem{"inbox.email", "email address is required"})
	}
	if c.Inbox.Password == "" {
		problems = append(problems, Problem{"inbox.password", "password (app password) is required"})
	}
	return problems
}

func (c *Config) validateEmail() []Problem {
	var problems []Problem
	if c.Email.From == "" {
		problems = append(problems, Problem{"email.from", "from address is required"})
	}
	switch c.Email.Provider {
	case "smtp":
		if c.Email.SMTP.Host == "" {
			problems = append(problems, Problem{"email.smtp.host", "is required"})
		}
		if c.Email.SMTP.Port == 0 {
			problems = append(problems, Problem{"email.smtp.port", "is required"})
		}
	case "sendgrid":
		if c.Email.SendGrid.APIKey == "" {
			problems = append(problems, Problem{"email.sendgrid.api_key", "is required (SENDGRID_API_KEY)"})
		}
	case "resend":
		if c.Email.Resend.APIKey == "" {
			problems = append(problems, Problem{"email.resend.api_key", "is required (RESEND_API_KEY)"})
		}
	case "":
		problems = append(problems, Problem{"email.provider", "is required for imap mailboxes"})
	default:
		problems = append(problems, Problem{"email.provider", fmt.Sprintf("unknown provider %q (smtp, sendgrid or resend)", c.Email.Provider)})
	}
	return problems
}
