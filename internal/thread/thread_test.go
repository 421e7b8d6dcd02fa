package thread

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nalgeon/be"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/autoreply-dev/autoreply/internal/inbox"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
	input   string
}

func (s *stubSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	s.calls++
	s.input = text
	return s.summary, s.err
}

// hangingSummarizer never answers on its own
type hangingSummarizer struct{}

func (hangingSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func conversation() (*inbox.Message, []inbox.Message) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	thread := []inbox.Message{
		{ID: "m3", Subject: "Re: Plans", Body: "And for 50 seats?", ReceivedAt: start.Add(2 * time.Hour)},
		{ID: "m1", Subject: "Plans", Body: "How much is the team plan?", ReceivedAt: start},
		{ID: "m2", Subject: "Re: Plans", Body: "It is $10 per seat.\n\nOn Fri, Mar 1, 2024 at 9:00 AM Ann wrote:\n> How much is the team plan?", ReceivedAt: start.Add(time.Hour)},
	}
	return &thread[0], thread
}

func TestBuildChronological(t *testing.T) {
	msg, thread := conversation()
	text := NewBuilder(Options{}).Build(context.Background(), msg, thread)

	be.Equal(t, text, "Subject: Plans\n\nHow much is the team plan?\n\n"+
		"Subject: Re: Plans\n\nIt is $10 per seat.\n\n"+
		"Subject: Re: Plans\n\nAnd for 50 seats?")
}

func TestBuildMaxMessages(t *testing.T) {
	msg, thread := conversation()
	text := NewBuilder(Options{MaxMessages: 2}).Build(context.Background(), msg, thread)

	be.True(t, !strings.Contains(text, "team plan"))
	be.True(t, strings.Contains(text, "$10 per seat"))
	be.True(t, strings.HasSuffix(text, "And for 50 seats?"))
}

func TestBuildMaxChars(t *testing.T) {
	msg, thread := conversation()
	text := NewBuilder(Options{MaxChars: 60}).Build(context.Background(), msg, thread)
	be.True(t, utf8.RuneCountInString(text) <= 60)
	be.True(t, strings.HasSuffix(text, "And for 50 seats?"))

	long := &inbox.Message{ID: "x", Body: strings.Repeat("é", 100)}
	text = NewBuilder(Options{MaxChars: 10}).Build(context.Background(), long, nil)
	be.Equal(t, utf8.RuneCountInString(text), 10)
	be.True(t, utf8.ValidString(text))
}

func TestBuildWithSummary(t *testing.T) {
	msg, thread := conversation()
	s := &stubSummarizer{summary: "Customer asked about team plan pricing."}
	text := NewBuilder(Options{Summarizer: s}).Build(context.Background(), msg, thread)

	be.Equal(t, s.calls, 1)
	be.True(t, strings.Contains(s.input, "team plan"))
	be.Equal(t, text, "Thread summary:\nCustomer asked about team plan pricing.\n\nSubject: Re: Plans\n\nAnd for 50 seats?")
}

func TestBuildSummaryFallback(t *testing.T) {
	tests := []struct {
		name    string
		summary string
		err     error
		log     string
	}{
		{"error", "", errors.New("rate limited"), "thread summary failed, using raw thread"},
		{"empty", "   ", nil, "thread summary empty, using raw thread"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			msg, thread := conversation()
			s := &stubSummarizer{summary: tt.summary, err: tt.err}

			text := NewBuilder(Options{Summarizer: s, Logger: zap.New(core)}).Build(context.Background(), msg, thread)
			be.True(t, strings.HasPrefix(text, "Subject: Plans\n\nHow much is the team plan?"))
			be.Equal(t, logs.FilterMessage(tt.log).Len(), 1)
		})
	}
}

func TestBuildSingleMessageSkipsSummarizer(t *testing.T) {
	s := &stubSummarizer{summary: "unused"}
	msg := &inbox.Message{ID: "m1", Subject: "Hello", Body: "Is there a demo?"}
	text := NewBuilder(Options{Summarizer: s}).Build(context.Background(), msg, []inbox.Message{*msg})

	be.Equal(t, s.calls, 0)
	be.Equal(t, text, "Subject: Hello\n\nIs there a demo?")
}

func TestStripQuoted(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"attribution", "Sounds good.\n\nOn Mon, Jan 1, 2024 Bob wrote:\n> earlier", "Sounds good."},
		{"original message", "See below\n----- Original Message -----\nFrom: x", "See below"},
		{"quoted lines", "> quoted\nreply text\n>> more", "reply text"},
		{"nothing quoted", "plain", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be.Equal(t, StripQuoted(tt.body), tt.expected)
		})
	}
}

func TestBuildSummaryTimeout(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	msg, thread := conversation()
	b := NewBuilder(Options{Summarizer: hangingSummarizer{}, SummaryTimeout: 20 * time.Millisecond, Logger: zap.New(core)})

	start := time.Now()
	text := b.Build(context.Background(), msg, thread)
	be.True(t, time.Since(start) < 5*time.Second)
	be.True(t, strings.HasPrefix(text, "Subject: Plans\n\nHow much is the team plan?"))
	be.Equal(t, logs.FilterMessage("thread summary failed, using raw thread").Len(), 1)
}

func TestBuildSkipsOwnMessages(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	thread := []inbox.Message{
		{ID: "m1", From: "alice@example.com", Subject: "Plans", Body: "Can I get a refund?", ReceivedAt: start},
		{ID: "m2", From: "Sales@Example.com", Subject: "Re: Plans", Body: "Thanks for asking about our pricing and plans.", ReceivedAt: start.Add(time.Hour)},
		{ID: "m3", From: "alice@example.com", Subject: "Re: Plans", Body: "Still waiting.", ReceivedAt: start.Add(2 * time.Hour)},
	}
	msg := &thread[2]

	tests := []struct {
		name  string
		self  string
		reply bool
	}{
		{"own reply dropped", "sales@example.com", false},
		{"no self keeps all", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := NewBuilder(Options{Self: tt.self}).Build(context.Background(), msg, thread)
			be.Equal(t, strings.Contains(text, "pricing"), tt.reply)
			be.True(t, strings.Contains(text, "refund"))
			be.True(t, strings.HasSuffix(text, "Still waiting."))
		})
	}
}
