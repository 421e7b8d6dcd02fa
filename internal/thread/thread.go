package thread

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/autoreply-dev/autoreply/internal/inbox"
)

// Summarizer condenses a conversation into a short text
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Options configures a Builder
type Options struct {
	MaxMessages int // Newest messages kept, including the current one
	MaxChars    int // Upper bound on the context length in runes
	// Self is the mailbox address. Its own replies are left out of the
	// history so earlier auto-replies never feed the classifier.
	Self           string
	Summarizer     Summarizer
	SummaryTimeout time.Duration // Zero means no limit beyond ctx
	Logger         *zap.Logger
}

// Builder turns a message and its thread into classifier input
type Builder struct {
	maxMessages    int
	maxChars       int
	self           string
	summarizer     Summarizer
	summaryTimeout time.Duration
	logger         *zap.Logger
}

func NewBuilder(opts Options) *Builder {
	b := &Builder{
		maxMessages:    opts.MaxMessages,
		maxChars:       opts.MaxChars,
		self:           strings.ToLower(strings.TrimSpace(opts.Self)),
		summarizer:     opts.Summarizer,
		summaryTimeout: opts.SummaryTimeout,
		logger:         opts.Logger,
	}
	if b.maxMessages <= 0 {
		b.maxMessages = 10
	}
	if b.maxChars <= 0 {
		b.maxChars = 8000
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

var (
	reQuoteHeader = regexp.MustCompile(`(?im)^\s*On\s.+wrote:\s*$`)
	reOriginal    = regexp.MustCompile(`(?im)^\s*-{2,}\s*(Original Message|Forwarded message)\s*-{2,}\s*$`)
)

// Build returns the conversation as one text, oldest first, closing with
// the current message. With a Summarizer and at least two messages the
// earlier history is replaced by its summary. A summarizer failure falls
// back to the raw conversation.
func (b *Builder) Build(ctx context.Context, msg *inbox.Message, thread []inbox.Message) string {
	history := b.history(msg, thread)
	current := renderMessage(msg)

	blocks := make([]string, 0, len(history)+1)
	for i := range history {
		blocks = append(blocks, renderMessage(&history[i]))
	}
	blocks = append(blocks, current)

	if b.summarizer != nil && len(history) > 0 {
		summary, err := b.summarize(ctx, strings.Join(blocks, "\n\n"))
		summary = strings.TrimSpace(summary)
		switch {
		case err != nil:
			b.logger.Warn("thread summary failed, using raw thread",
				zap.String("thread_id", msg.ThreadID),
				zap.Error(err),
			)
		case summary == "":
			b.logger.Warn("thread summary empty, using raw thread", zap.String("thread_id", msg.ThreadID))
		default:
			return b.fit([]string{"Thread summary:\n" + summary, current})
		}
	}

	return b.fit(blocks)
}

func (b *Builder) summarize(ctx context.Context, text string) (string, error) {
	if b.summaryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.summaryTimeout)
		defer cancel()
	}
	return b.summarizer.Summarize(ctx, text)
}

// history returns the thread without msg and the mailbox's own
// messages, chronological, trimmed so that
// together with msg at most maxMessages remain.
func (b *Builder) history(msg *inbox.Message, thread []inbox.Message) []inbox.Message {
	others := make([]inbox.Message, 0, len(thread))
	for _, m := range thread {
		if m.ID != "" && m.ID == msg.ID {
			continue
		}
		if b.self != "" && strings.EqualFold(strings.TrimSpace(m.From), b.self) {
			continue
		}
		others = append(others, m)
	}
	sort.SliceStable(others, func(i, j int) bool {
		return others[i].ReceivedAt.Before(others[j].ReceivedAt)
	})
	if keep := b.maxMessages - 1; len(others) > keep {
		others = others[len(others)-keep:]
	}
	return others
}

// fit drops the oldest blocks until the text fits maxChars. A last block
// that is still too long is cut at a rune boundary.
func (b *Builder) fit(blocks []string) string {
	const sep = "\n\n"
	total := 0
	for _, bl := range blocks {
		total += utf8.RuneCountInString(bl)
	}
	total += utf8.RuneCountInString(sep) * (len(blocks) - 1)

	for len(blocks) > 1 && total > b.maxChars {
		total -= utf8.RuneCountInString(blocks[0]) + utf8.RuneCountInString(sep)
		blocks = blocks[1:]
	}

	text := strings.Join(blocks, sep)
	if total > b.maxChars {
		text = truncateRunes(text, b.maxChars)
	}
	return text
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// renderMessage leaves the sender out so that addresses like
// support@example.com do not score as keywords.
func renderMessage(m *inbox.Message) string {
	var sb strings.Builder
	if m.Subject != "" {
		sb.WriteString("Subject: " + m.Subject + "\n")
	}
	if body := StripQuoted(m.PlainBody()); body != "" {
		sb.WriteString("\n" + body)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// StripQuoted removes quoted replies from a message body: lines starting
// with ">" and everything after an attribution or original-message marker.
func StripQuoted(body string) string {
	if loc := reQuoteHeader.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	if loc := reOriginal.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}

	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t\r"))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
