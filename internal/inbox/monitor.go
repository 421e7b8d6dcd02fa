package inbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/autoreply-dev/autoreply/internal/config"
	"github.com/autoreply-dev/autoreply/internal/email"
)

const commandTimeout = time.Minute

// Monitor reads and answers an IMAP mailbox. Replies go out through an
// email.Sender; drafts are appended to the drafts folder. A dropped
// connection is re-established by the next operation.
type Monitor struct {
	config config.InboxConfig
	dial   func(addr string) (*client.Client, error)
	sender email.Sender
	from   string
	logger *zap.Logger

	mu     sync.Mutex
	client *client.Client
}

// NewMonitor creates a new IMAP mailbox. sender may be nil when only
// drafts are created.
func NewMonitor(cfg config.InboxConfig, sender email.Sender, from string, logger *zap.Logger) *Monitor {
	if from == "" {
		from = cfg.Email
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		config: cfg,
		dial:   func(addr string) (*client.Client, error) { return client.DialTLS(addr, nil) },
		sender: sender,
		from:   from,
		logger: logger.With(zap.String("mailbox", cfg.Email)),
	}
}

// Address is the mailbox's own address, used as the From of replies
func (m *Monitor) Address() string {
	return m.from
}

// Connect establishes IMAP connection
func (m *Monitor) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connect()
}

func (m *Monitor) connect() error {
	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)

	m.logger.Info("connecting to IMAP server", zap.String("addr", addr))

	c, err := m.dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	c.Timeout = commandTimeout

	if err := c.Login(m.config.Email, m.config.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	m.client = c
	m.logger.Info("IMAP login successful")
	return nil
}

// conn returns a logged in client, dialing again when the previous
// connection was closed by either side.
func (m *Monitor) conn() (*client.Client, error) {
	if m.client != nil && m.client.State() != imap.LogoutState {
		return m.client, nil
	}
	if m.client != nil {
		m.logger.Warn("IMAP connection lost, reconnecting")
		m.client = nil
	}
	if err := m.connect(); err != nil {
		return nil, err
	}
	return m.client, nil
}

// Disconnect closes the IMAP connection
func (m *Monitor) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	c := m.client
	m.client = nil
	if c.State() == imap.LogoutState {
		return nil
	}
	return c.Logout()
}

// ListUnread returns up to limit unseen messages, oldest first. Bodies
// are fetched with PEEK so nothing is marked read here.
func (m *Monitor) ListUnread(ctx context.Context, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.conn()
	if err != nil {
		return nil, err
	}

	mbox, err := c.Select(m.config.Folder, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", m.config.Folder, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag, imap.DeletedFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	m.logger.Debug("unread messages found", zap.Int("count", len(uids)), zap.String("folder", m.config.Folder))
	return m.fetch(c, uids, mbox.UidValidity)
}

// GetThread returns the messages in the polled folder that belong to
// threadID: the root itself and every message referencing it.
func (m *Monitor) GetThread(ctx context.Context, threadID string) ([]Message, error) {
	if threadID == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.conn()
	if err != nil {
		return nil, err
	}

	mbox, err := c.Select(m.config.Folder, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", m.config.Folder, err)
	}

	byRefs := imap.NewSearchCriteria()
	byRefs.Header = textproto.MIMEHeader{"References": {threadID}}
	byID := imap.NewSearchCriteria()
	byID.Header = textproto.MIMEHeader{"Message-Id": {threadID}}

	criteria := imap.NewSearchCriteria()
	criteria.Or = [][2]*imap.SearchCriteria{{byRefs, byID}}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search thread %s: %w", threadID, err)
	}
	return m.fetch(c, uids, mbox.UidValidity)
}

func (m *Monitor) fetch(c *client.Client, uids []uint32, validity uint32) ([]Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var out []Message
	for msg := range messages {
		parsed, err := m.parseMessage(msg, section, validity)
		if err != nil {
			m.logger.Warn("failed to parse message", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		if parsed != nil {
			out = append(out, *parsed)
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// parseMessage converts an IMAP message to a Message
func (m *Monitor) parseMessage(msg *imap.Message, section *imap.BodySectionName, validity uint32) (*Message, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, nil
	}

	out := &Message{
		ID:         fmt.Sprintf("imap:%s:%d:%d", m.config.Folder, validity, msg.Uid),
		UID:        msg.Uid,
		MessageID:  NormalizeMessageID(msg.Envelope.MessageId),
		InReplyTo:  NormalizeMessageID(msg.Envelope.InReplyTo),
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.Envelope.Date,
	}
	if out.MessageID != "" {
		out.ID = out.MessageID
	}

	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		out.From = from.Address()
		out.FromName = from.PersonalName
	}
	if len(msg.Envelope.To) > 0 {
		out.To = msg.Envelope.To[0].Address()
	}

	seen := false
	for _, f := range msg.Flags {
		if f == imap.SeenFlag {
			seen = true
		}
	}
	if !seen {
		out.Labels = append(out.Labels, LabelUnread)
	}

	r := msg.GetBody(section)
	if r != nil {
		if err := readBody(r, out); err != nil {
			m.logger.Debug("message body unreadable", zap.String("message_id", out.ID), zap.Error(err))
		}
	}

	out.ThreadID = threadRoot(out)
	return out, nil
}

// readBody fills headers and text parts from a raw RFC 5322 message
func readBody(r io.Reader, out *Message) error {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return err
	}
	defer mr.Close()

	if IsAutoSubmitted(mr.Header.Get) {
		out.Labels = append(out.Labels, LabelAutoReply)
	}
	if refs, err := mr.Header.MsgIDList("References"); err == nil {
		for _, id := range refs {
			out.References = append(out.References, NormalizeMessageID(id))
		}
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, _ := io.ReadAll(p.Body)

			if strings.HasPrefix(ct, "text/plain") && out.Body == "" {
				out.Body = string(body)
			} else if strings.HasPrefix(ct, "text/html") && out.HTMLBody == "" {
				out.HTMLBody = string(body)
			}
		}
	}
	return nil
}

// threadRoot is the first id of the References chain, or the parent,
// or the message itself.
func threadRoot(msg *Message) string {
	switch {
	case len(msg.References) > 0:
		return msg.References[0]
	case msg.InReplyTo != "":
		return msg.InReplyTo
	case msg.MessageID != "":
		return msg.MessageID
	}
	return msg.ID
}

// SendReply sends body as a reply to msg through the configured sender
func (m *Monitor) SendReply(ctx context.Context, msg *Message, body string) error {
	if m.sender == nil {
		return fmt.Errorf("no outbound sender configured")
	}
	res := m.sender.Send(ctx, msg.Reply(m.from, body))
	if !res.Success {
		return fmt.Errorf("%s: %w", m.sender.Name(), res.Error)
	}
	m.logger.Info("reply sent",
		zap.String("message_id", msg.ID),
		zap.String("transport", m.sender.Name()),
		zap.String("sent_id", res.MessageID),
	)
	return nil
}

// CreateDraft appends the reply to the drafts folder with \Draft set
func (m *Monitor) CreateDraft(ctx context.Context, msg *Message, body string) error {
	raw, err := email.Compose(msg.Reply(m.from, body), time.Now())
	if err != nil {
		return fmt.Errorf("failed to compose draft: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.conn()
	if err != nil {
		return err
	}

	flags := []string{imap.DraftFlag, imap.SeenFlag}
	if err := c.Append(m.config.DraftsFolder, flags, time.Now(), bytes.NewBuffer(raw)); err != nil {
		return fmt.Errorf("failed to append draft to '%s': %w", m.config.DraftsFolder, err)
	}
	m.logger.Info("draft created", zap.String("message_id", msg.ID), zap.String("folder", m.config.DraftsFolder))
	return nil
}

// MarkRead sets \Seen on msg
func (m *Monitor) MarkRead(ctx context.Context, msg *Message) error {
	if msg.UID == 0 {
		return fmt.Errorf("message %s has no IMAP UID", msg.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.conn()
	if err != nil {
		return err
	}

	if _, err := c.Select(m.config.Folder, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(msg.UID)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark email as read: %w", err)
	}
	return nil
}
