package inbox

import (
	"regexp"
	"strings"
)

var (
	// Subject and sender fragments of automatic replies
	autoReplyIndicators = []string{
		"auto-reply",
		"autoreply",
		"automatic reply",
		"out of office",
		"vacation",
		"away message",
	}

	// Sender fragments of unattended mailboxes
	noReplySenders = []string{
		"no-reply",
		"noreply",
		"donotreply",
		"do-not-reply",
		"mailer-daemon",
		"postmaster",
	}
)

// IsAutoReply reports whether msg looks like an automatic reply
func IsAutoReply(msg *Message) bool {
	if msg.HasLabel(LabelAutoReply) {
		return true
	}
	from := strings.ToLower(msg.From + " " + msg.FromName)
	subject := strings.ToLower(msg.Subject)
	for _, ind := range autoReplyIndicators {
		if strings.Contains(subject, ind) || strings.Contains(from, ind) {
			return true
		}
	}
	return false
}

// IsNoReply reports whether addr belongs to a mailbox nobody reads
func IsNoReply(addr string) bool {
	addr = strings.ToLower(addr)
	for _, s := range noReplySenders {
		if strings.Contains(addr, s) {
			return true
		}
	}
	return false
}

// IsAutoSubmitted interprets the headers automated senders set.
// Auto-Submitted other than "no", X-Autoreply/X-Autorespond, and bulk
// or list Precedence all count.
func IsAutoSubmitted(get func(key string) string) bool {
	if v := strings.ToLower(strings.TrimSpace(get("Auto-Submitted"))); v != "" && v != "no" {
		return true
	}
	if get("X-Autoreply") != "" || get("X-Autorespond") != "" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(get("Precedence"))) {
	case "bulk", "junk", "list", "auto_reply":
		return true
	}
	return false
}

// Urgency is a coarse estimate of how time-sensitive a message is
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

var (
	urgentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(urgent|urgently|critical|asap|immediately|emergency|priority)\b`),
		regexp.MustCompile(`(?i)\b(production\s+(is\s+)?down|outage|right\s+away|time[\s-]sensitive)\b`),
	}

	errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(error|exception|crash(ed|es)?|fail(ed|ing|ure)?|broken|not\s+working)\b`),
	}
)

// AssessUrgency counts urgency and error signals in text. Two urgent
// hits, or one alongside two error hits, is high; any single signal is
// medium.
func AssessUrgency(text string) Urgency {
	urgent := countMatches(urgentPatterns, text)
	errs := countMatches(errorPatterns, text)

	switch {
	case urgent >= 2, urgent >= 1 && errs >= 2:
		return UrgencyHigh
	case urgent >= 1, errs >= 2:
		return UrgencyMedium
	}
	return UrgencyLow
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		n += len(p.FindAllStringIndex(text, -1))
	}
	return n
}
