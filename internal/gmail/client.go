package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/autoreply-dev/autoreply/internal/config"
	"github.com/autoreply-dev/autoreply/internal/email"
	"github.com/autoreply-dev/autoreply/internal/inbox"
)

const labelInbox = "INBOX"

// Client reads and answers a Gmail mailbox through the Gmail API
type Client struct {
	srv    *gmail.Service
	user   string
	from   string
	logger *zap.Logger
}

// NewClient exchanges the refresh token for an access token and opens
// the Gmail service. A refresh failure is returned immediately.
func NewClient(ctx context.Context, cfg config.GmailConfig, logger *zap.Logger) (*Client, error) {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope, gmail.GmailComposeScope},
	}
	ts := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("gmail: token refresh failed: %w", err)
	}

	srv, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("gmail: unable to create service: %w", err)
	}

	profile, err := srv.Users.GetProfile(cfg.User).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: unable to read profile: %w", err)
	}

	return NewClientWithService(srv, cfg.User, profile.EmailAddress, logger), nil
}

// Address is the mailbox's own address, used as the From of replies
func (c *Client) Address() string {
	return c.from
}

// NewClientWithService wraps an existing service. from is the address
// replies are sent as.
func NewClientWithService(srv *gmail.Service, user, from string, logger *zap.Logger) *Client {
	if user == "" {
		user = "me"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{srv: srv, user: user, from: from, logger: logger.With(zap.String("mailbox", from))}
}

// ListUnread returns up to limit unread inbox messages, oldest first.
// Gmail lists newest first, so with more unread mail than limit this is
// the newest page. A message that cannot be fetched is skipped so it
// does not block the rest of the batch.
func (c *Client) ListUnread(ctx context.Context, limit int) ([]inbox.Message, error) {
	call := c.srv.Users.Messages.List(c.user).LabelIds(labelInbox, inbox.LabelUnread)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: list messages: %w", err)
	}

	out := make([]inbox.Message, 0, len(resp.Messages))
	for _, ref := range resp.Messages {
		full, err := c.srv.Users.Messages.Get(c.user, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("gmail: get message %s: %w", ref.Id, err)
			}
			c.logger.Warn("failed to fetch message", zap.String("message_id", ref.Id), zap.Error(err))
			continue
		}
		out = append(out, ParseMessage(full))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })

	c.logger.Debug("unread messages found", zap.Int("count", len(out)))
	return out, nil
}

// GetThread returns every message of the thread
func (c *Client) GetThread(ctx context.Context, threadID string) ([]inbox.Message, error) {
	th, err := c.srv.Users.Threads.Get(c.user, threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: get thread %s: %w", threadID, err)
	}

	out := make([]inbox.Message, 0, len(th.Messages))
	for _, m := range th.Messages {
		out = append(out, ParseMessage(m))
	}
	return out, nil
}

func (c *Client) raw(msg *inbox.Message, body string) (string, error) {
	data, err := email.Compose(msg.Reply(c.from, body), time.Now())
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// SendReply sends body as a reply in msg's thread
func (c *Client) SendReply(ctx context.Context, msg *inbox.Message, body string) error {
	raw, err := c.raw(msg, body)
	if err != nil {
		return fmt.Errorf("gmail: compose reply: %w", err)
	}

	sent, err := c.srv.Users.Messages.Send(c.user, &gmail.Message{Raw: raw, ThreadId: msg.ThreadID}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: send reply: %w", err)
	}
	c.logger.Info("reply sent", zap.String("message_id", msg.ID), zap.String("sent_id", sent.Id))
	return nil
}

// CreateDraft stores body as a draft reply in msg's thread
func (c *Client) CreateDraft(ctx context.Context, msg *inbox.Message, body string) error {
	raw, err := c.raw(msg, body)
	if err != nil {
		return fmt.Errorf("gmail: compose draft: %w", err)
	}

	draft := &gmail.Draft{Message: &gmail.Message{Raw: raw, ThreadId: msg.ThreadID}}
	created, err := c.srv.Users.Drafts.Create(c.user, draft).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: create draft: %w", err)
	}
	c.logger.Info("draft created", zap.String("message_id", msg.ID), zap.String("draft_id", created.Id))
	return nil
}

// MarkRead removes the UNREAD label from msg
func (c *Client) MarkRead(ctx context.Context, msg *inbox.Message) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{inbox.LabelUnread}}
	if _, err := c.srv.Users.Messages.Modify(c.user, msg.ID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail: mark read %s: %w", msg.ID, err)
	}
	return nil
}
