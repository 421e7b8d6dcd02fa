package automation

import (
	"errors"
	"fmt"

	"github.com/autoreply-dev/autoreply/internal/config"
	"github.com/autoreply-dev/autoreply/internal/inbox"
	"github.com/autoreply-dev/autoreply/internal/template"
)

// ValidateConfig returns every configuration problem, including
// categories that no template answers. engine may be nil when templates
// could not be loaded; the load error is then reported as a problem.
func ValidateConfig(cfg *config.Config, engine *template.Engine, engineErr error) []config.Problem {
	problems := cfg.Validate()

	if engineErr != nil {
		problems = append(problems, config.Problem{Field: "templates", Message: engineErr.Error()})
	}
	if engine == nil {
		return problems
	}

	check := func(field, name string) {
		c := inbox.NormalizeCategory(name)
		if c == "" {
			return
		}
		_, err := engine.Lookup(c)
		if !errors.Is(err, template.ErrUnknownCategory) {
			return
		}
		msg := fmt.Sprintf("no template for category %q", c)
		if _, builtin := inbox.ParseCategory(name); !builtin {
			msg = fmt.Sprintf("custom category %q needs a %s.tmpl in templates.dir", c, c)
		}
		problems = append(problems, config.Problem{Field: field, Message: msg})
	}
	for i, c := range cfg.Responder.RespondCategories {
		check(fmt.Sprintf("responder.respond_categories[%d]", i), c)
	}
	for i, rt := range cfg.Routes {
		check(fmt.Sprintf("routes[%d].category", i), rt.Category)
	}
	return problems
}

// Routes converts configured routes into classifier routes. Category
// names are normalized the same way the responder and ValidateConfig
// normalize them.
func Routes(cfg []config.RouteConfig) []inbox.Route {
	routes := make([]inbox.Route, 0, len(cfg))
	for _, rc := range cfg {
		routes = append(routes, inbox.Route{
			Name:     rc.Name,
			Sender:   rc.Sender,
			Phrase:   rc.Phrase,
			Category: inbox.NormalizeCategory(rc.Category),
		})
	}
	return routes
}
