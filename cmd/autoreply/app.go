package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/autoreply-dev/autoreply/internal/automation"
	"github.com/autoreply-dev/autoreply/internal/config"
	"github.com/autoreply-dev/autoreply/internal/email"
	"github.com/autoreply-dev/autoreply/internal/gmail"
	"github.com/autoreply-dev/autoreply/internal/history"
	"github.com/autoreply-dev/autoreply/internal/inbox"
	"github.com/autoreply-dev/autoreply/internal/logging"
	"github.com/autoreply-dev/autoreply/internal/summarize"
	"github.com/autoreply-dev/autoreply/internal/template"
	"github.com/autoreply-dev/autoreply/internal/thread"
)

// mailbox is what both the Gmail and IMAP backends provide
type mailbox interface {
	automation.Reader
	automation.Writer
	automation.Marker
	Address() string
}

// app holds what every command builds from the config
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	classifier *inbox.Classifier
	engine     *template.Engine
	engineErr  error
	store      history.Store
}

func loadApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		classifier: inbox.NewClassifier(inbox.DefaultRules, automation.Routes(cfg.Routes)...),
	}
	a.engine, a.engineErr = template.NewEngine(template.Options{
		Dir:         cfg.Templates.Dir,
		DefaultBody: cfg.Responder.DefaultTemplate,
		Signature:   cfg.Signature,
		Logger:      logger,
	})
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close history store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// validate rejects the config before any mailbox is contacted
func (a *app) validate() error {
	problems := automation.ValidateConfig(a.cfg, a.engine, a.engineErr)
	if len(problems) == 0 {
		return nil
	}
	for _, p := range problems {
		a.logger.Error("invalid configuration", zap.String("field", p.Field), zap.String("problem", p.Message))
	}
	return config.Err(problems)
}

func (a *app) openStore(ctx context.Context) (history.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := history.Open(ctx, a.cfg.History.Driver, a.cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	a.store = store
	return store, nil
}

func (a *app) openMailbox(ctx context.Context) (mailbox, func(), error) {
	switch a.cfg.Provider {
	case config.ProviderGmail:
		c, err := gmail.NewClient(ctx, a.cfg.Gmail, a.logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil

	case config.ProviderIMAP:
		sender, err := email.NewSender(a.cfg.Email)
		if err != nil {
			return nil, nil, err
		}
		m := inbox.NewMonitor(a.cfg.Inbox, sender, a.cfg.Email.From, a.logger)
		if err := m.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return m, func() {
			if err := m.Disconnect(); err != nil {
				a.logger.Debug("IMAP logout failed", zap.Error(err))
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown provider %q", a.cfg.Provider)
}

// threadBuilder returns nil when thread context is off. self is the
// mailbox address whose own replies are left out of the context.
func (a *app) threadBuilder(self string) *thread.Builder {
	if !a.cfg.Thread.Enabled {
		return nil
	}
	opts := thread.Options{
		MaxMessages:    a.cfg.Thread.MaxMessages,
		MaxChars:       a.cfg.Thread.MaxChars,
		Self:           self,
		SummaryTimeout: a.cfg.Summarizer.Timeout,
		Logger:         a.logger,
	}
	if sc := a.cfg.Summarizer; sc.Enabled {
		opts.Summarizer = summarize.NewOpenAI(summarize.Config{
			APIKey:    sc.APIKey,
			Model:     sc.Model,
			BaseURL:   sc.BaseURL,
			MaxTokens: sc.MaxTokens,
		}, a.logger)
	}
	return thread.NewBuilder(opts)
}

// responder opens the store and mailbox and wires the responder. The
// returned func closes the mailbox.
func (a *app) responder(ctx context.Context, onCycle func(*automation.CycleReport)) (*automation.Responder, func(), error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	mb, closeMailbox, err := a.openMailbox(ctx)
	if err != nil {
		return nil, nil, err
	}

	r, err := automation.New(automation.Options{
		Config:     a.cfg.Responder,
		Reader:     mb,
		Writer:     mb,
		Marker:     mb,
		Classifier: a.classifier,
		Thread:     a.threadBuilder(mb.Address()),
		Templates:  a.engine,
		Store:      store,
		Logger:     a.logger,
		OnCycle:    onCycle,
	})
	if err != nil {
		closeMailbox()
		return nil, nil, err
	}
	return r, closeMailbox, nil
}
