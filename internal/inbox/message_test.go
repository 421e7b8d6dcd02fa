package inbox

import "testing"

func TestSenderName(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected string
	}{
		{"display name", Message{From: "asmith@example.com", FromName: "Alice Smith"}, "Alice Smith"},
		{"quoted display name", Message{From: "a@example.com", FromName: `"Bob"`}, "Bob"},
		{"dotted local part", Message{From: "john.doe@example.com"}, "John Doe"},
		{"underscore local part", Message{From: "mary_jane@example.com"}, "Mary Jane"},
		{"no sender", Message{}, "there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.SenderName(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		subject  string
		expected string
	}{
		{"", "Re: Your email"},
		{"Pricing", "Re: Pricing"},
		{"RE: Pricing", "RE: Pricing"},
		{"  re: demo ", "re: demo"},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			if got := ReplySubject(tt.subject); got != tt.expected {
				t.Errorf("ReplySubject(%q) = %q, want %q", tt.subject, got, tt.expected)
			}
		})
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected string
	}{
		{"subject and body", Message{Subject: "Hello", Body: "How much?"}, "Hello\nHow much?"},
		{"body only", Message{Body: "How much?"}, "How much?"},
		{"subject only", Message{Subject: "Hello"}, "Hello"},
		{"html fallback", Message{HTMLBody: "<p>How <b>much</b>?</p>"}, "How much?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Text(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestReply(t *testing.T) {
	msg := &Message{
		From:       "alice@example.com",
		Subject:    "Demo",
		MessageID:  "<m2@example.com>",
		References: []string{"<m1@example.com>"},
	}
	out := msg.Reply("sales@example.com", "body")

	if out.To != "alice@example.com" || out.From != "sales@example.com" {
		t.Errorf("addresses = %s -> %s", out.From, out.To)
	}
	if out.Subject != "Re: Demo" {
		t.Errorf("subject = %q", out.Subject)
	}
	if out.InReplyTo != "<m2@example.com>" {
		t.Errorf("in-reply-to = %q", out.InReplyTo)
	}
	if len(out.References) != 2 || out.References[0] != "<m1@example.com>" || out.References[1] != "<m2@example.com>" {
		t.Errorf("references = %v", out.References)
	}
	if len(msg.References) != 1 {
		t.Errorf("parent references modified: %v", msg.References)
	}
}
