package template

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/autoreply-dev/autoreply/internal/config"
	"github.com/autoreply-dev/autoreply/internal/inbox"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

// ErrUnknownCategory is returned by Lookup for a category without a template
var ErrUnknownCategory = errors.New("unknown template category")

// Placeholders look like {{name}}. Anything else in a body is literal.
var rePlaceholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Template is the reply body for one category
type Template struct {
	Category inbox.Category
	Body     string
	Required []string // Placeholders referenced by Body, in order of first use
}

// Reply is a rendered reply ready to hand to a mailbox writer
type Reply struct {
	Category   inbox.Category // Category whose template was used
	Subject    string
	Body       string
	Unresolved []string // Placeholders left as literal text
}

// Options configures NewEngine
type Options struct {
	Base        fs.FS  // Template files at the root; the embedded set when nil
	Dir         string // Optional directory whose <category>.tmpl files override Base
	DefaultBody string // Replaces the default template body when set
	Signature   config.Signature
	Logger      *zap.Logger
	Now         func() time.Time
}

// Engine renders replies from per-category templates
type Engine struct {
	templates map[inbox.Category]Template
	signature config.Signature
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine loads templates and checks that every category has one
func NewEngine(opts Options) (*Engine, error) {
	e := &Engine{
		templates: make(map[inbox.Category]Template),
		signature: opts.Signature,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}

	base := opts.Base
	if base == nil {
		sub, err := fs.Sub(embeddedTemplates, "templates")
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded templates: %w", err)
		}
		base = sub
	}
	if err := e.loadFS(base); err != nil {
		return nil, err
	}
	if opts.Dir != "" {
		if err := e.loadFS(os.DirFS(opts.Dir)); err != nil {
			return nil, fmt.Errorf("templates dir %s: %w", opts.Dir, err)
		}
	}
	if strings.TrimSpace(opts.DefaultBody) != "" {
		e.add(inbox.CategoryDefault, opts.DefaultBody)
	}

	for _, c := range inbox.Categories() {
		if _, ok := e.templates[c]; !ok {
			return nil, fmt.Errorf("no template for category %q", c)
		}
	}
	return e, nil
}

func (e *Engine) loadFS(fsys fs.FS) error {
	names, err := fs.Glob(fsys, "*.tmpl")
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", name, err)
		}
		e.add(inbox.NormalizeCategory(strings.TrimSuffix(path.Base(name), ".tmpl")), string(content))
	}
	return nil
}

func (e *Engine) add(c inbox.Category, body string) {
	body = strings.TrimRight(body, "\n") + "\n"
	var required []string
	seen := make(map[string]bool)
	for _, m := range rePlaceholder.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			required = append(required, m[1])
		}
	}
	e.templates[c] = Template{Category: c, Body: body, Required: required}
}

// Has reports whether a template exists for c
func (e *Engine) Has(c inbox.Category) bool {
	_, ok := e.templates[c]
	return ok
}

// Lookup returns the template for c without falling back
func (e *Engine) Lookup(c inbox.Category) (Template, error) {
	t, ok := e.templates[c]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	return t, nil
}

// Template returns the template for c, falling back to default
func (e *Engine) Template(c inbox.Category) Template {
	if t, ok := e.templates[c]; ok {
		return t
	}
	return e.templates[inbox.CategoryDefault]
}

// AvailableTemplates returns the categories that have a template, sorted
func (e *Engine) AvailableTemplates() []inbox.Category {
	cats := make([]inbox.Category, 0, len(e.templates))
	for c := range e.templates {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// Render fills the category's template for msg. Values in vars take
// precedence over the built-in variables. Placeholders without a value
// stay in the body as written and are listed in Reply.Unresolved.
func (e *Engine) Render(category inbox.Category, msg *inbox.Message, vars map[string]string) (*Reply, error) {
	if msg == nil {
		return nil, fmt.Errorf("render %s: nil message", category)
	}
	tmpl := e.Template(category)

	values := e.builtins(category, msg)
	for k, v := range vars {
		values[k] = v
	}

	var unresolved []string
	body := rePlaceholder.ReplaceAllStringFunc(tmpl.Body, func(ph string) string {
		name := rePlaceholder.FindStringSubmatch(ph)[1]
		if v, ok := values[name]; ok {
			return v
		}
		unresolved = append(unresolved, name)
		return ph
	})

	if len(unresolved) > 0 {
		e.logger.Warn("unresolved template placeholders",
			zap.String("category", string(tmpl.Category)),
			zap.String("message_id", msg.ID),
			zap.Strings("placeholders", unresolved),
		)
	}

	return &Reply{
		Category:   tmpl.Category,
		Subject:    inbox.ReplySubject(msg.Subject),
		Body:       body,
		Unresolved: unresolved,
	}, nil
}

func (e *Engine) builtins(category inbox.Category, msg *inbox.Message) map[string]string {
	values := map[string]string{
		"sender_name":  msg.SenderName(),
		"sender_email": msg.From,
		"subject":      msg.Subject,
		"category":     string(category),
		"date":         e.now().Format("January 2, 2006"),
		"signature":    e.signatureBlock(),
	}
	if e.signature.Name != "" {
		values["signature_name"] = e.signature.Name
	}
	if e.signature.Title != "" {
		values["signature_title"] = e.signature.Title
	}
	if e.signature.Company != "" {
		values["signature_company"] = e.signature.Company
	}
	return values
}

func (e *Engine) signatureBlock() string {
	var lines []string
	for _, s := range []string{e.signature.Name, e.signature.Title, e.signature.Company} {
		if s = strings.TrimSpace(s); s != "" {
			lines = append(lines, s)
		}
	}
	if len(lines) == 0 {
		return "The Team"
	}
	return strings.Join(lines, "\n")
}
