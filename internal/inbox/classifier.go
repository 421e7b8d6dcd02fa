package inbox

import (
	"regexp"
	"sort"
	"strings"
)

// Category is the intent assigned to an incoming message
type Category string

const (
	CategoryPricing     Category = "pricing"      // Prices, quotes, budgets
	CategorySupport     Category = "support"      // Problems and requests for help
	CategoryProductInfo Category = "product_info" // Features and capabilities
	CategoryMeeting     Category = "meeting"      // Calls, demos, scheduling
	CategoryGeneral     Category = "general"      // Greetings and general interest
	CategoryDefault     Category = "default"      // Nothing matched
)

// Priority is the tie-break order, highest first. When two categories
// reach the same score the one listed earlier wins.
var Priority = []Category{
	CategorySupport,
	CategoryPricing,
	CategoryMeeting,
	CategoryProductInfo,
	CategoryGeneral,
}

// Categories returns every category including default
func Categories() []Category {
	return append(append([]Category(nil), Priority...), CategoryDefault)
}

// NormalizeCategory is the canonical form of a configured category name:
// trimmed and lower case. Custom names are normalized the same way.
func NormalizeCategory(s string) Category {
	return Category(strings.ToLower(strings.TrimSpace(s)))
}

// ParseCategory converts a config or CLI string into a built-in Category
func ParseCategory(s string) (Category, bool) {
	c := NormalizeCategory(s)
	for _, known := range Categories() {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Rule is one pattern contributing Weight points per match to a category
type Rule struct {
	ID      string
	Pattern *regexp.Regexp
	Weight  int
}

// CategoryRules groups the rules scored for one category
type CategoryRules struct {
	Category Category
	Rules    []Rule
}

// Rule weights. Phrases are more specific than single keywords.
const (
	KeywordWeight = 1
	PhraseWeight  = 2
)

// DefaultRules is the built-in rule table, in Priority order
var DefaultRules = []CategoryRules{
	{
		Category: CategorySupport,
		Rules: []Rule{
			{ID: "support.keywords", Weight: KeywordWeight, Pattern: regexp.MustCompile(`(?i)\b(help|support|issue|problem|bug|error|trouble|stuck)\b`)},
			{ID: "support.phrases", Weight: PhraseWeight, Pattern: regexp.MustCompile(`(?i)\b(how to|how do|can.*help|need.*help)\b`)},
		},
	},
	{
		Category: CategoryPricing,
		Rules: []Rule{
			{ID: "pricing.keywords", Weight: KeywordWeight, Pattern: regexp.MustCompile(`(?i)\b(price|cost|pricing|quote|budget|expensive|cheap|afford)\b`)},
			{ID: "pricing.phrases", Weight: PhraseWeight, Pattern: regexp.MustCompile(`(?i)\b(how much|what.*cost|pricing.*information)\b`)},
		},
	},
	{
		Category: CategoryMeeting,
		Rules: []Rule{
			{ID: "meeting.keywords", Weight: KeywordWeight, Pattern: regexp.MustCompile(`(?i)\b(meeting|call|schedule|appointment|demo|presentation)\b`)},
			{ID: "meeting.phrases", Weight: PhraseWeight, Pattern: regexp.MustCompile(`(?i)\b(when.*available|book.*time|set.*up.*meeting)\b`)},
		},
	},
	{
		Category: CategoryProductInfo,
		Rules: []Rule{
			{ID: "product_info.keywords", Weight: KeywordWeight, Pattern: regexp.MustCompile(`(?i)\b(feature|specification|specs|capability|functionality)\b`)},
			{ID: "product_info.phrases", Weight: PhraseWeight, Pattern: regexp.MustCompile(`(?i)\b(what.*do|what.*can|how.*work|tell.*about)\b`)},
		},
	},
	{
		Category: CategoryGeneral,
		Rules: []Rule{
			{ID: "general.keywords", Weight: KeywordWeight, Pattern: regexp.MustCompile(`(?i)\b(hello|hi|greetings|good morning|good afternoon)\b`)},
			{ID: "general.phrases", Weight: PhraseWeight, Pattern: regexp.MustCompile(`(?i)\b(interested|curious|want.*know|more.*information)\b`)},
		},
	},
}

// Route sends mail from a specific sender straight to a category,
// bypassing the rule table. When Phrase is set the route only applies if
// the text contains it; a sender match without the phrase resolves to
// default.
type Route struct {
	Name     string
	Sender   string // Case-insensitive substring of the sender address
	Phrase   string // Case-insensitive substring of subject or body
	Category Category
}

// Result is the outcome of classifying one piece of text
type Result struct {
	Category   Category
	Score      int
	Confidence float64
	Matched    []string         // Rule IDs that matched at least once
	Scores     map[Category]int // Per-category totals
}

// Classifier scores text against a rule table
type Classifier struct {
	rules  []CategoryRules
	routes []Route
}

// NewClassifier creates a classifier over rules. The order of rules is
// the tie-break order.
func NewClassifier(rules []CategoryRules, routes ...Route) *Classifier {
	return &Classifier{rules: rules, routes: routes}
}

var defaultClassifier = NewClassifier(DefaultRules)

// Classify scores text against the built-in rule table
func Classify(text string) Result {
	return defaultClassifier.Classify(text)
}

// Classify scores text. It never fails: empty or unmatched text resolves
// to the default category.
func (c *Classifier) Classify(text string) Result {
	result := Result{
		Category: CategoryDefault,
		Scores:   make(map[Category]int, len(c.rules)),
	}

	if strings.TrimSpace(text) == "" {
		return result
	}

	for _, cr := range c.rules {
		score := 0
		for _, rule := range cr.Rules {
			n := len(rule.Pattern.FindAllStringIndex(text, -1))
			if n == 0 {
				continue
			}
			score += n * rule.Weight
			result.Matched = append(result.Matched, rule.ID)
		}
		result.Scores[cr.Category] = score
	}

	// Table order doubles as priority, so only a strictly higher score
	// displaces an earlier category.
	best, second := 0, 0
	for _, cr := range c.rules {
		score := result.Scores[cr.Category]
		if score > best {
			second = best
			best = score
			result.Category = cr.Category
		} else if score > second {
			second = score
		}
	}

	if best == 0 {
		result.Category = CategoryDefault
		return result
	}

	result.Score = best
	result.Confidence = confidence(best, second)
	return result
}

// confidence follows the margin of the winner over the runner-up
func confidence(best, second int) float64 {
	if second == 0 {
		return 0.85
	}
	margin := float64(best-second) / float64(best)
	return 0.5 + margin*0.4 // 0.5 to 0.9
}

// ClassifyMessage applies sender routes and then scores subject and body
func (c *Classifier) ClassifyMessage(msg *Message) Result {
	return c.ClassifyFrom(msg.From, msg.Text())
}

// ClassifyFrom applies sender routes for from and then scores text. It
// is used when text is a thread context rather than a single message.
func (c *Classifier) ClassifyFrom(from, text string) Result {
	if r, ok := c.route(from, text); ok {
		return r
	}
	return c.Classify(text)
}

func (c *Classifier) route(from, text string) (Result, bool) {
	from = strings.ToLower(from)
	lower := strings.ToLower(text)
	for _, rt := range c.routes {
		if rt.Sender == "" || !strings.Contains(from, strings.ToLower(rt.Sender)) {
			continue
		}
		if rt.Phrase != "" && !strings.Contains(lower, strings.ToLower(rt.Phrase)) {
			return Result{Category: CategoryDefault, Scores: map[Category]int{}}, true
		}
		return Result{
			Category:   rt.Category,
			Confidence: 1.0,
			Matched:    []string{"route:" + rt.Name},
			Scores:     map[Category]int{},
		}, true
	}
	return Result{}, false
}

// Summary counts classification results per category
type Summary struct {
	Total      int
	ByCategory map[Category]int
}

// Summarize builds a Summary over results
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), ByCategory: make(map[Category]int)}
	for _, r := range results {
		s.ByCategory[r.Category]++
	}
	return s
}

// Sorted returns the summary's categories ordered by count, then name
func (s Summary) Sorted() []Category {
	cats := make([]Category, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if s.ByCategory[cats[i]] != s.ByCategory[cats[j]] {
			return s.ByCategory[cats[i]] > s.ByCategory[cats[j]]
		}
		return cats[i] < cats[j]
	})
	return cats
}
