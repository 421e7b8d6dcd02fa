package gmail

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"

	"github.com/autoreply-dev/autoreply/internal/inbox"
)

// ParseMessage converts a full-format Gmail message to an inbox.Message
func ParseMessage(m *gmail.Message) inbox.Message {
	out := inbox.Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Labels:   append([]string(nil), m.LabelIds...),
	}
	if m.InternalDate > 0 {
		out.ReceivedAt = time.UnixMilli(m.InternalDate)
	}
	if m.Payload == nil {
		return out
	}

	headers := make(map[string]string, len(m.Payload.Headers))
	for _, h := range m.Payload.Headers {
		headers[strings.ToLower(h.Name)] = h.Value
	}
	get := func(key string) string { return headers[strings.ToLower(key)] }

	out.Subject = get("Subject")
	out.To = get("To")
	out.MessageID = inbox.NormalizeMessageID(get("Message-ID"))
	out.InReplyTo = inbox.NormalizeMessageID(get("In-Reply-To"))
	out.References = inbox.ParseReferences(get("References"))

	if from := get("From"); from != "" {
		if addr, err := mail.ParseAddress(from); err == nil {
			out.From = addr.Address
			out.FromName = addr.Name
		} else {
			out.From = strings.Trim(from, "<> ")
		}
	}

	if inbox.IsAutoSubmitted(get) {
		out.Labels = append(out.Labels, inbox.LabelAutoReply)
	}

	out.Body = findPart(m.Payload, "text/plain")
	if out.Body == "" {
		out.HTMLBody = findPart(m.Payload, "text/html")
	}
	return out
}

// findPart returns the first decoded body of mimeType, depth first
func findPart(p *gmail.MessagePart, mimeType string) string {
	if p == nil {
		return ""
	}
	if strings.EqualFold(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
		if data, ok := decodeBody(p.Body.Data); ok {
			return data
		}
	}
	for _, part := range p.Parts {
		if body := findPart(part, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decodeBody(data string) (string, bool) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	return "", false
}
