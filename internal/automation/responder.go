package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/autoreply-dev/autoreply/internal/config"
	"github.com/autoreply-dev/autoreply/internal/history"
	"github.com/autoreply-dev/autoreply/internal/inbox"
	"github.com/autoreply-dev/autoreply/internal/template"
	"github.com/autoreply-dev/autoreply/internal/thread"
)

// Reader lists unread mail and fetches conversations
type Reader interface {
	ListUnread(ctx context.Context, limit int) ([]inbox.Message, error)
	GetThread(ctx context.Context, threadID string) ([]inbox.Message, error)
}

// Writer delivers replies
type Writer interface {
	SendReply(ctx context.Context, msg *inbox.Message, body string) error
	CreateDraft(ctx context.Context, msg *inbox.Message, body string) error
}

// Marker clears the unread state of a message
type Marker interface {
	MarkRead(ctx context.Context, msg *inbox.Message) error
}

// Filter reasons reported in Outcome.Filtered
const (
	FilteredAutoReply = "auto_reply"
	FilteredNoReply   = "no_reply"
	FilteredDuplicate = "duplicate"
)

// Options wires a Responder. Reader, Writer, Templates and Store are required.
type Options struct {
	Config     config.ResponderConfig
	Reader     Reader
	Writer     Writer
	Marker     Marker           // Optional
	Classifier *inbox.Classifier // Built-in rules when nil
	Thread     *thread.Builder   // Thread context disabled when nil
	Templates  *template.Engine
	Store      history.Store
	Logger     *zap.Logger
	Now        func() time.Time
	OnCycle    func(*CycleReport) // Called after every completed cycle
}

// Outcome is what happened to one fetched message
type Outcome struct {
	MessageID  string         `json:"message_id"`
	Sender     string         `json:"sender"`
	Subject    string         `json:"subject"`
	Filtered   string         `json:"filtered,omitempty"`
	Category   inbox.Category `json:"category,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Urgency    inbox.Urgency  `json:"urgency,omitempty"`
	Action     history.Action `json:"action,omitempty"`
	Error      string         `json:"error,omitempty"`

	result     *inbox.Result
	classified bool
}

// CycleReport counts the results of one RunOnce
type CycleReport struct {
	CycleID    string        `json:"cycle_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Fetched    int           `json:"fetched"`
	Filtered   int           `json:"filtered"`
	Sent       int           `json:"sent"`
	Drafted    int           `json:"drafted"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Summary    inbox.Summary `json:"summary"`
	Outcomes   []Outcome     `json:"outcomes"`
}

func (r *CycleReport) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch {
	case o.Filtered != "":
		r.Filtered++
	case o.Error != "":
		r.Failed++
	case o.Action == history.ActionSent:
		r.Sent++
	case o.Action == history.ActionDrafted:
		r.Drafted++
	case o.Action == history.ActionSkipped:
		r.Skipped++
	}
}

// Responder runs the fetch, classify, reply and record cycle
type Responder struct {
	config     config.ResponderConfig
	reader     Reader
	writer     Writer
	marker     Marker
	classifier *inbox.Classifier
	thread     *thread.Builder
	templates  *template.Engine
	store      history.Store
	logger     *zap.Logger
	now        func() time.Time
	onCycle    func(*CycleReport)
	limiter    *rate.Limiter
	respond    map[inbox.Category]bool
}

// New creates a Responder
func New(opts Options) (*Responder, error) {
	switch {
	case opts.Reader == nil:
		return nil, errors.New("automation: reader is required")
	case opts.Writer == nil:
		return nil, errors.New("automation: writer is required")
	case opts.Templates == nil:
		return nil, errors.New("automation: template engine is required")
	case opts.Store == nil:
		return nil, errors.New("automation: history store is required")
	}

	r := &Responder{
		config:     opts.Config,
		reader:     opts.Reader,
		writer:     opts.Writer,
		marker:     opts.Marker,
		classifier: opts.Classifier,
		thread:     opts.Thread,
		templates:  opts.Templates,
		store:      opts.Store,
		logger:     opts.Logger,
		now:        opts.Now,
		onCycle:    opts.OnCycle,
	}
	if r.classifier == nil {
		r.classifier = inbox.NewClassifier(inbox.DefaultRules)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}

	if opts.Config.SendDelay > 0 {
		r.limiter = rate.NewLimiter(rate.Every(opts.Config.SendDelay), 1)
	} else {
		r.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	if len(opts.Config.RespondCategories) > 0 {
		r.respond = make(map[inbox.Category]bool, len(opts.Config.RespondCategories))
		for _, c := range opts.Config.RespondCategories {
			r.respond[inbox.NormalizeCategory(c)] = true
		}
	}
	return r, nil
}

// ClassifyOnly classifies text with the responder's rules and nothing else
func (r *Responder) ClassifyOnly(text string) inbox.Result {
	return r.classifier.Classify(text)
}

// RunOnce handles up to MaxMessagesPerCheck unread messages. Failures on
// a single message are counted in the report and leave the message
// unrecorded; only a failure to list the inbox is returned.
func (r *Responder) RunOnce(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{CycleID: uuid.NewString(), StartedAt: r.now()}
	logger := r.logger.With(zap.String("cycle_id", report.CycleID))

	limit := r.config.MaxMessagesPerCheck
	msgs, err := r.reader.ListUnread(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	report.Fetched = len(msgs)

	var results []inbox.Result
	for i := range msgs {
		if ctx.Err() != nil {
			logger.Info("cycle interrupted", zap.Int("remaining", len(msgs)-i))
			break
		}
		out := r.process(ctx, logger, report.CycleID, &msgs[i])
		if out.classified {
			results = append(results, *out.result)
		}
		report.add(out)
	}

	report.Summary = inbox.Summarize(results)
	report.FinishedAt = r.now()

	logger.Info("cycle complete",
		zap.Int("fetched", report.Fetched),
		zap.Int("filtered", report.Filtered),
		zap.Int("sent", report.Sent),
		zap.Int("drafted", report.Drafted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	if r.onCycle != nil {
		r.onCycle(report)
	}
	return report, nil
}

func (r *Responder) process(ctx context.Context, logger *zap.Logger, cycleID string, msg *inbox.Message) Outcome {
	out := Outcome{MessageID: msg.ID, Sender: msg.From, Subject: msg.Subject}
	log := logger.With(zap.String("message_id", msg.ID))

	switch {
	case inbox.IsAutoReply(msg):
		out.Filtered = FilteredAutoReply
	case inbox.IsNoReply(msg.From):
		out.Filtered = FilteredNoReply
	}
	if out.Filtered != "" {
		log.Debug("message filtered", zap.String("reason", out.Filtered), zap.String("sender", msg.From))
		r.markRead(context.WithoutCancel(ctx), log, msg)
		return out
	}

	seen, err := r.store.Seen(ctx, msg.ID)
	if err != nil {
		log.Warn("history lookup failed, skipping message", zap.Error(err))
		out.Error = err.Error()
		return out
	}
	if seen {
		// Recorded earlier but still unread, e.g. a lost mark read.
		// Clearing it keeps it from holding a slot of every later cycle.
		out.Filtered = FilteredDuplicate
		r.markRead(context.WithoutCancel(ctx), log, msg)
		return out
	}

	text := r.contextText(ctx, log, msg)
	res := r.classifier.ClassifyFrom(msg.From, text)
	out.result, out.classified = &res, true
	out.Category, out.Confidence = res.Category, res.Confidence
	out.Urgency = inbox.AssessUrgency(msg.Text())

	if res.Category == inbox.CategoryDefault && len(res.Matched) == 0 && strings.TrimSpace(text) != "" {
		log.Info("classification anomaly", zap.String("subject", msg.Subject))
	}

	reply, err := r.templates.Render(res.Category, msg, nil)
	if err != nil {
		log.Error("failed to render reply", zap.Error(err))
		out.Error = err.Error()
		return out
	}

	action := r.decide(res.Category, out.Urgency)
	if action != history.ActionSkipped {
		if err := r.limiter.Wait(ctx); err != nil {
			log.Info("reply postponed", zap.Error(err))
			out.Error = err.Error()
			return out
		}
	}

	// Nothing below is aborted by cancellation; the message is finished.
	actCtx := context.WithoutCancel(ctx)

	switch action {
	case history.ActionSent:
		err = r.writer.SendReply(actCtx, msg, reply.Body)
	case history.ActionDrafted:
		err = r.writer.CreateDraft(actCtx, msg, reply.Body)
	}
	if err != nil {
		log.Error("failed to handle message",
			zap.String("action", string(action)),
			zap.String("category", string(res.Category)),
			zap.Error(err),
		)
		out.Error = err.Error()
		return out
	}
	out.Action = action

	rec := history.Record{
		MessageID:   msg.ID,
		ThreadID:    msg.ThreadID,
		Sender:      msg.From,
		Subject:     msg.Subject,
		Category:    string(res.Category),
		Action:      action,
		Confidence:  res.Confidence,
		CycleID:     cycleID,
		ProcessedAt: r.now(),
	}
	if err := r.store.Append(actCtx, rec); err != nil {
		log.Error("failed to record message", zap.Error(err))
	}

	log.Info("message handled",
		zap.String("category", string(res.Category)),
		zap.Float64("confidence", res.Confidence),
		zap.String("urgency", string(out.Urgency)),
		zap.String("action", string(action)),
	)

	r.markRead(actCtx, log, msg)
	return out
}

// contextText is the classifier input: the thread context when enabled,
// the message alone otherwise or when the thread cannot be fetched.
func (r *Responder) contextText(ctx context.Context, log *zap.Logger, msg *inbox.Message) string {
	if r.thread == nil || msg.ThreadID == "" {
		return msg.Text()
	}
	th, err := r.reader.GetThread(ctx, msg.ThreadID)
	if err != nil {
		log.Warn("thread fetch failed, classifying message alone", zap.String("thread_id", msg.ThreadID), zap.Error(err))
		return msg.Text()
	}
	return r.thread.Build(ctx, msg, th)
}

func (r *Responder) decide(c inbox.Category, u inbox.Urgency) history.Action {
	switch {
	case r.respond != nil && !r.respond[c]:
		return history.ActionSkipped
	case !r.config.AutoReplyEnabled:
		return history.ActionDrafted
	case r.config.DraftOnUrgent && u == inbox.UrgencyHigh:
		return history.ActionDrafted
	}
	return history.ActionSent
}

func (r *Responder) markRead(ctx context.Context, log *zap.Logger, msg *inbox.Message) {
	if r.marker == nil {
		return
	}
	if err := r.marker.MarkRead(ctx, msg); err != nil {
		log.Warn("failed to mark message read", zap.Error(err))
	}
}
