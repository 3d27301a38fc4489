package stealth

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// Persona is the identity a page presents to the sites it loads. Empty
// fields keep the browser's own value.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

// IsZero reports whether p overrides nothing.
func (p Persona) IsZero() bool {
	return p.UserAgent == "" && p.Platform == "" && len(p.Languages) == 0 && p.Timezone == "" && p.Locale == ""
}

// AcceptLanguage formats Languages as an Accept-Language header value with
// decreasing quality weights, e.g. "en-US,en;q=0.9".
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return ""
	}
	var b strings.Builder
	for i, lang := range p.Languages {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(lang)
		if i > 0 {
			q := 1.0 - 0.1*float64(i)
			if q < 0.1 {
				q = 0.1
			}
			fmt.Fprintf(&b, ";q=%.1f", q)
		}
	}
	return b.String()
}

// Apply builds the CDP actions that make a page present p. They must run
// before the first navigation.
func Apply(p Persona) chromedp.Tasks {
	var tasks chromedp.Tasks
	switch {
	case p.UserAgent != "":
		tasks = append(tasks, userAgentOverride(p, p.UserAgent))
	case len(p.Languages) > 0 || p.Platform != "":
		// The override always replaces the user agent, so keep the
		// browser's own one.
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, _, current, _, err := browser.GetVersion().Do(ctx)
			if err != nil {
				return fmt.Errorf("could not read browser user agent: %w", err)
			}
			return userAgentOverride(p, current).Do(ctx)
		}))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	return tasks
}

func userAgentOverride(p Persona, userAgent string) *emulation.SetUserAgentOverrideParams {
	ua := emulation.SetUserAgentOverride(userAgent)
	if al := p.AcceptLanguage(); al != "" {
		ua = ua.WithAcceptLanguage(al)
	}
	if p.Platform != "" {
		ua = ua.WithPlatform(p.Platform)
	}
	return ua
}
