package browser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/webrender/webrender/api/schemas"
	"github.com/webrender/webrender/internal/browser/stealth"
)

// Browser opens isolated pages inside a running browser process.
type Browser interface {
	// NewPage creates a fresh incognito browser context holding one page.
	// The caller owns the page and must Close it.
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
}

// PageOptions configure a page before anything is loaded into it.
type PageOptions struct {
	BypassCSP        bool
	ExtraHTTPHeaders map[string]string
	// IdleTimeout is the quiet period WaitNetworkIdle waits for.
	IdleTimeout time.Duration
	// CaptureBodies makes the network trace include textual response bodies.
	CaptureBodies bool
	// Persona overrides the identity the page presents. The zero value
	// keeps the browser's defaults.
	Persona stealth.Persona
}

// Page is a single tab in its own browser context. Every blocking method is
// bounded by ctx; none of them outlive Close.
type Page interface {
	// AddInitScript registers source to run in every new document before any
	// of the document's own scripts.
	AddInitScript(ctx context.Context, source string) error
	// OnConsoleError registers fn for console.error calls and uncaught
	// exceptions. Listeners die with the page.
	OnConsoleError(fn func(text string))
	// Navigate loads url and returns once the navigation commits. A failed
	// navigation yields a *NavigationError.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs expression in the page, awaiting a returned promise, and
	// returns the result as JSON. A thrown exception yields an *EvaluationError.
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
	// WaitLoad blocks until the current document fired its load event.
	WaitLoad(ctx context.Context) error
	// WaitNetworkIdle blocks until no request has been in flight for the
	// configured idle timeout.
	WaitNetworkIdle(ctx context.Context) error
	// PrintPDF renders the page as an A4 PDF.
	PrintPDF(ctx context.Context) ([]byte, error)
	// URL returns the page's current URL.
	URL(ctx context.Context) (string, error)
	// NetworkTrace returns everything the page requested so far as HAR.
	NetworkTrace(ctx context.Context) *schemas.HAR
	// Close disposes the page and its browser context. Safe to call twice.
	Close(ctx context.Context) error
}

// ActionExecutor runs chromedp actions against a page. The harvester uses it
// to fetch bodies without knowing about the page's contexts.
type ActionExecutor interface {
	// RunActions runs actions bounded by ctx.
	RunActions(ctx context.Context, actions ...chromedp.Action) error
	// RunBackgroundActions runs actions that must not be cut short by the
	// caller's cancellation, only by ctx's deadline and the page closing.
	RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error
}
