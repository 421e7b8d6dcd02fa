package inbox

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/autoreply-dev/autoreply/internal/email"
)

// Labels attached to a Message by the mailbox backends
const (
	LabelUnread    = "UNREAD"
	LabelAutoReply = "AUTO_REPLY" // Auto-Submitted, X-Autoreply or bulk Precedence header present
)

// Message is a single email fetched from a mailbox. It is not modified
// after the fetch that produced it.
type Message struct {
	ID         string // Backend identifier, stable across fetches
	UID        uint32 // IMAP UID, zero for API-backed mailboxes
	ThreadID   string
	MessageID  string // RFC 5322 Message-ID, used for reply threading
	InReplyTo  string
	References []string
	From       string // Sender address
	FromName   string // Sender display name
	To         string
	Subject    string
	Body       string // Plain text body
	HTMLBody   string
	ReceivedAt time.Time
	Labels     []string
}

// HasLabel reports whether the message carries label (case-insensitive)
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// PlainBody returns the text body, falling back to the HTML body
// rendered as text.
func (m *Message) PlainBody() string {
	if strings.TrimSpace(m.Body) != "" {
		return m.Body
	}
	if m.HTMLBody != "" {
		return HTMLToText(m.HTMLBody)
	}
	return ""
}

// Text is the input handed to the classifier: subject and body joined
func (m *Message) Text() string {
	body := m.PlainBody()
	switch {
	case m.Subject == "":
		return body
	case body == "":
		return m.Subject
	}
	return m.Subject + "\n" + body
}

// SenderName returns the name used to greet the sender. The display name
// wins when present; otherwise the address local part is split on dots
// and underscores and title-cased.
func (m *Message) SenderName() string {
	if name := strings.Trim(strings.TrimSpace(m.FromName), `"'`); name != "" {
		return name
	}
	local := m.From
	if i := strings.Index(local, "@"); i >= 0 {
		local = local[:i]
	}
	local = strings.NewReplacer(".", " ", "_", " ").Replace(local)
	local = strings.Join(strings.Fields(local), " ")
	if local == "" {
		return "there"
	}
	return cases.Title(language.English).String(local)
}

// ReplySubject prefixes subject with "Re:" unless it already has it
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: Your email"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// Reply builds the outbound message answering m from the given address
func (m *Message) Reply(from, body string) email.Message {
	return email.Message{
		To:         m.From,
		From:       from,
		Subject:    ReplySubject(m.Subject),
		Body:       body,
		InReplyTo:  m.MessageID,
		References: email.ReplyReferences(m.References, m.MessageID),
	}
}
