package template

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/nalgeon/be"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/autoreply-dev/autoreply/internal/config"
	"github.com/autoreply-dev/autoreply/internal/inbox"
)

func fixedNow() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }

func TestEmbeddedTemplatesComplete(t *testing.T) {
	e, err := NewEngine(Options{})
	be.Err(t, err, nil)
	for _, c := range inbox.Categories() {
		be.True(t, e.Has(c))
		tmpl := e.Template(c)
		be.True(t, strings.HasPrefix(tmpl.Body, "Hi {{sender_name}},"))
		be.True(t, strings.Contains(tmpl.Body, "{{signature}}"))
	}
}

func TestRenderPricing(t *testing.T) {
	e, err := NewEngine(Options{
		Signature: config.Signature{Name: "Sam Lee", Title: "Sales", Company: "Acme"},
		Now:       fixedNow,
	})
	be.Err(t, err, nil)

	msg := &inbox.Message{ID: "m1", From: "jane.doe@example.com", Subject: "Prices"}
	reply, err := e.Render(inbox.CategoryPricing, msg, nil)
	be.Err(t, err, nil)

	be.Equal(t, reply.Category, inbox.CategoryPricing)
	be.Equal(t, reply.Subject, "Re: Prices")
	be.True(t, strings.HasPrefix(reply.Body, "Hi Jane Doe,"))
	be.True(t, strings.Contains(reply.Body, "Note: Please reply with your specific requirements for a detailed quote."))
	be.True(t, strings.HasSuffix(reply.Body, "Best regards,\nSam Lee\nSales\nAcme\n"))
	be.Equal(t, len(reply.Unresolved), 0)
}

func TestRenderDefaultSignature(t *testing.T) {
	e, err := NewEngine(Options{})
	be.Err(t, err, nil)

	reply, err := e.Render(inbox.CategoryDefault, &inbox.Message{}, nil)
	be.Err(t, err, nil)
	be.True(t, strings.HasPrefix(reply.Body, "Hi there,"))
	be.True(t, strings.HasSuffix(reply.Body, "The Team\n"))
	be.Equal(t, reply.Subject, "Re: Your email")
}

func TestRenderUnresolvedPlaceholders(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	base := fstest.MapFS{}
	for _, c := range inbox.Categories() {
		base[string(c)+".tmpl"] = &fstest.MapFile{Data: []byte("Hi {{sender_name}}, see {{ booking_link }} on {{date}}. {{signature_title}}")}
	}

	e, err := NewEngine(Options{Base: base, Logger: zap.New(core), Now: fixedNow})
	be.Err(t, err, nil)

	reply, err := e.Render(inbox.CategoryMeeting, &inbox.Message{ID: "m1", FromName: "Ann"}, nil)
	be.Err(t, err, nil)
	be.Equal(t, reply.Body, "Hi Ann, see {{ booking_link }} on March 1, 2024. {{signature_title}}\n")
	be.Equal(t, reply.Unresolved, []string{"booking_link", "signature_title"})
	be.Equal(t, logs.FilterMessage("unresolved template placeholders").Len(), 1)

	reply, err = e.Render(inbox.CategoryMeeting, &inbox.Message{FromName: "Ann"}, map[string]string{
		"booking_link":    "https://cal.example.com/ann",
		"signature_title": "CEO",
		"sender_name":     "Dr. Ann",
	})
	be.Err(t, err, nil)
	be.Equal(t, reply.Body, "Hi Dr. Ann, see https://cal.example.com/ann on March 1, 2024. CEO\n")
	be.Equal(t, len(reply.Unresolved), 0)
}

func TestMissingCategoryFails(t *testing.T) {
	base := fstest.MapFS{"pricing.tmpl": &fstest.MapFile{Data: []byte("Hi")}}
	_, err := NewEngine(Options{Base: base})
	be.Err(t, err, "no template for category")
}

func TestDirOverridesAndCustomCategory(t *testing.T) {
	dir := t.TempDir()
	be.Err(t, os.WriteFile(filepath.Join(dir, "support.tmpl"), []byte("Custom support for {{sender_name}}"), 0600), nil)
	be.Err(t, os.WriteFile(filepath.Join(dir, "vip.tmpl"), []byte("VIP {{sender_name}}"), 0600), nil)

	e, err := NewEngine(Options{Dir: dir, DefaultBody: "Fallback for {{sender_name}}"})
	be.Err(t, err, nil)

	be.Equal(t, e.Template(inbox.CategorySupport).Body, "Custom support for {{sender_name}}\n")
	be.Equal(t, e.Template(inbox.CategoryDefault).Body, "Fallback for {{sender_name}}\n")

	_, err = e.Lookup("vip")
	be.Err(t, err, nil)
	_, err = e.Lookup("refunds")
	be.True(t, errors.Is(err, ErrUnknownCategory))

	// Render falls back to default for unknown categories
	reply, err := e.Render("refunds", &inbox.Message{FromName: "Bo"}, nil)
	be.Err(t, err, nil)
	be.Equal(t, reply.Category, inbox.CategoryDefault)
	be.Equal(t, reply.Body, "Fallback for Bo\n")

	cats := e.AvailableTemplates()
	be.Equal(t, len(cats), 7)
	be.Equal(t, cats[0], inbox.CategoryDefault)
}

func TestRenderNilMessage(t *testing.T) {
	e, err := NewEngine(Options{})
	be.Err(t, err, nil)
	_, err = e.Render(inbox.CategoryPricing, nil, nil)
	be.Err(t, err)
}
