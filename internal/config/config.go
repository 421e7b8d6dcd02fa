package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultCheckInterval       = 5 * time.Minute
	defaultMaxMessagesPerCheck = 10
	defaultSendDelay           = 2 * time.Second
	defaultThreadMessages      = 10
	defaultThreadChars         = 8000
	defaultSummarizerModel     = "gpt-4o-mini"
	defaultSummarizerMaxTokens = 300
	defaultSummarizerTimeout   = 20 * time.Second
)

// Mailbox providers
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Provider   string           `yaml:"provider"` // "gmail" or "imap"
	Gmail      GmailConfig      `yaml:"gmail,omitempty"`
	Inbox      InboxConfig      `yaml:"inbox,omitempty"`
	Email      EmailConfig      `yaml:"email,omitempty"`
	Responder  ResponderConfig  `yaml:"responder"`
	Signature  Signature        `yaml:"signature"`
	Templates  TemplatesConfig  `yaml:"templates,omitempty"`
	Thread     ThreadConfig     `yaml:"thread,omitempty"`
	Summarizer SummarizerConfig `yaml:"summarizer,omitempty"`
	History    HistoryConfig    `yaml:"history"`
	Routes     []RouteConfig    `yaml:"routes,omitempty"`
	Log        LogConfig        `yaml:"log,omitempty"`
	Server     ServerConfig     `yaml:"server,omitempty"`

	envProblems []Problem
}

// GmailConfig holds OAuth credentials for the Gmail API
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	User         string `yaml:"user"` // Defaults to "me"
}

// InboxConfig holds IMAP settings for the mailbox being answered
type InboxConfig struct {
	Server       string `yaml:"server"`        // e.g., "imap.gmail.com"
	Port         int    `yaml:"port"`          // e.g., 993
	Email        string `yaml:"email"`         // Mailbox address
	Password     string `yaml:"password"`      // App password (not main password)
	Folder       string `yaml:"folder"`        // Folder to poll (default: "INBOX")
	DraftsFolder string `yaml:"drafts_folder"` // Where drafts are appended (default: "Drafts")
}

// EmailConfig selects the outbound transport used with IMAP mailboxes
type EmailConfig struct {
	Provider string       `yaml:"provider"` // "smtp", "sendgrid" or "resend"
	From     string       `yaml:"from"`
	SMTP     SMTPConfig   `yaml:"smtp,omitempty"`
	SendGrid APIKeyConfig `yaml:"sendgrid,omitempty"`
	Resend   APIKeyConfig `yaml:"resend,omitempty"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

type APIKeyConfig struct {
	APIKey string `yaml:"api_key"`
}

// ResponderConfig controls the decision policy. It is read once at
// startup and not changed during a run.
type ResponderConfig struct {
	AutoReplyEnabled    bool          `yaml:"auto_reply_enabled"` // Send replies; drafts only when false
	CheckInterval       time.Duration `yaml:"check_interval"`
	MaxMessagesPerCheck int           `yaml:"max_messages_per_check"`
	DefaultTemplate     string        `yaml:"default_template,omitempty"` // Replaces the default reply body
	RespondCategories   []string      `yaml:"respond_categories,omitempty"`
	DraftOnUrgent       bool          `yaml:"draft_on_urgent"`
	SendDelay           time.Duration `yaml:"send_delay"` // Minimum spacing between outbound actions
}

// Signature fills the signature placeholders of reply templates
type Signature struct {
	Name    string `yaml:"name"`
	Title   string `yaml:"title,omitempty"`
	Company string `yaml:"company,omitempty"`
}

type TemplatesConfig struct {
	Dir string `yaml:"dir,omitempty"` // Optional directory of <category>.tmpl overrides
}

type ThreadConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxMessages int  `yaml:"max_messages"`
	MaxChars    int  `yaml:"max_chars"`
}

type SummarizerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens"`
	// Timeout bounds one summary request; 0 leaves it unbounded
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig selects the processing record store
type HistoryConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN    string `yaml:"dsn"`    // File path for sqlite, connection URL for postgres
}

// RouteConfig assigns mail from one sender to a fixed category
type RouteConfig struct {
	Name     string `yaml:"name"`
	Sender   string `yaml:"sender"`
	Phrase   string `yaml:"require_phrase,omitempty"`
	Category string `yaml:"category"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "json" or "console"
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".autoreply")
}

func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultHistoryPath is where the sqlite store lives unless configured
func DefaultHistoryPath() string {
	return filepath.Join(configDir(), "history.db")
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// newConfig presets the durations where zero is a meaningful setting,
// so they keep their default only when the key is absent.
func newConfig() *Config {
	return &Config{
		Responder:  ResponderConfig{SendDelay: defaultSendDelay},
		Summarizer: SummarizerConfig{Timeout: defaultSummarizerTimeout},
	}
}

// Load reads the config file at path and applies environment overrides.
// An empty path means the default location, which may be absent.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	cfg := newConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := checkFilePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// Environment only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv(lookup)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderGmail
	}
	if c.Gmail.User == "" {
		c.Gmail.User = "me"
	}

	if c.Inbox.Folder == "" {
		c.Inbox.Folder = "INBOX"
	}
	if c.Inbox.DraftsFolder == "" {
		c.Inbox.DraftsFolder = "Drafts"
	}
	if c.Inbox.Port == 0 && c.Inbox.Server != "" {
		c.Inbox.Port = 993
	}
	if c.Email.From == "" {
		c.Email.From = c.Inbox.Email
	}

	if c.Responder.CheckInterval == 0 {
		c.Responder.CheckInterval = defaultCheckInterval
	}
	if c.Responder.MaxMessagesPerCheck == 0 {
		c.Responder.MaxMessagesPerCheck = defaultMaxMessagesPerCheck
	}

	if c.Thread.MaxMessages == 0 {
		c.Thread.MaxMessages = defaultThreadMessages
	}
	if c.Thread.MaxChars == 0 {
		c.Thread.MaxChars = defaultThreadChars
	}

	if c.Summarizer.Model == "" {
		c.Summarizer.Model = defaultSummarizerModel
	}
	if c.Summarizer.MaxTokens == 0 {
		c.Summarizer.MaxTokens = defaultSummarizerMaxTokens
	}

	if c.History.Driver == "" {
		c.History.Driver = "sqlite"
	}
	if c.History.Driver == "sqlite" && c.History.DSN == "" {
		c.History.DSN = DefaultHistoryPath()
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
}

// applyEnv overlays environment variables on top of the file values.
// Unparseable values are kept as validation problems.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("GMAIL_CLIENT_ID", &c.Gmail.ClientID)
	str("GMAIL_CLIENT_SECRET", &c.Gmail.ClientSecret)
	str("GMAIL_REFRESH_TOKEN", &c.Gmail.RefreshToken)
	str("MAILBOX_PROVIDER", &c.Provider)
	str("IMAP_PASSWORD", &c.Inbox.Password)
	str("SMTP_PASSWORD", &c.Email.SMTP.Password)
	str("SENDGRID_API_KEY", &c.Email.SendGrid.APIKey)
	str("RESEND_API_KEY", &c.Email.Resend.APIKey)
	str("OPENAI_API_KEY", &c.Summarizer.APIKey)
	str("DEFAULT_RESPONSE_TEMPLATE", &c.Responder.DefaultTemplate)

	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.History.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.History.Driver = "postgres"
		}
	}

	if v, ok := lookup("AUTO_REPLY_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			c.envProblems = append(c.envProblems, Problem{Field: "AUTO_REPLY_ENABLED", Message: fmt.Sprintf("not a boolean: %q", v)})
		} else {
			c.Responder.AutoReplyEnabled = b
		}
	}
	if v, ok := lookup("CHECK_INTERVAL_MINUTES"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			c.envProblems = append(c.envProblems, Problem{Field: "CHECK_INTERVAL_MINUTES", Message: fmt.Sprintf("not a positive integer: %q", v)})
		} else {
			c.Responder.CheckInterval = time.Duration(n) * time.Minute
		}
	}
	if v, ok := lookup("MAX_EMAILS_PER_CHECK"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			c.envProblems = append(c.envProblems, Problem{Field: "MAX_EMAILS_PER_CHECK", Message: fmt.Sprintf("not a positive integer: %q", v)})
		} else {
			c.Responder.MaxMessagesPerCheck = n
		}
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
