package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/webrender/webrender/api/schemas"
	"github.com/webrender/webrender/internal/browser/stealth"
)

// A4 in inches.
const (
	a4Width  = 8.27
	a4Height = 11.69
)

const pageCloseTimeout = 10 * time.Second

// cdpPage is a Page backed by a chromedp target living in its own
// incognito browser context.
type cdpPage struct {
	// ctx is the target context. Canceling it closes the tab and disposes
	// the browser context.
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	harvester *Harvester
	loads     *loadTracker

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Page           = (*cdpPage)(nil)
	_ ActionExecutor = (*cdpPage)(nil)
)

// openPage creates a target in a new browser context under browserCtx and
// applies opts. Listeners are attached before the target exists so no
// event is missed.
func openPage(ctx, browserCtx context.Context, logger *zap.Logger, opts PageOptions, creator string) (*cdpPage, error) {
	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	p := &cdpPage{
		ctx:    tabCtx,
		cancel: cancel,
		logger: logger,
		loads:  newLoadTracker(""),
	}
	p.harvester = NewHarvester(logger, p, opts.CaptureBodies, opts.IdleTimeout, creator)
	p.harvester.Listen(tabCtx)
	chromedp.ListenTarget(tabCtx, p.loads.handleEvent)

	setup := chromedp.Tasks{
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		page.SetBypassCSP(opts.BypassCSP),
	}
	if len(opts.ExtraHTTPHeaders) > 0 {
		headers := make(network.Headers, len(opts.ExtraHTTPHeaders))
		for k, v := range opts.ExtraHTTPHeaders {
			headers[k] = v
		}
		setup = append(setup, network.SetExtraHTTPHeaders(headers))
	}
	if !opts.Persona.IsZero() {
		setup = append(setup, stealth.Apply(opts.Persona))
	}

	// The first Run creates the target and must use the target context
	// itself; the caller's context only bounds how long we wait for it.
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(tabCtx, setup) }()
	select {
	case err := <-errCh:
		if err != nil {
			p.discard()
			return nil, fmt.Errorf("could not open page: %w", err)
		}
	case <-ctx.Done():
		p.discard()
		<-errCh
		return nil, fmt.Errorf("could not open page: %w", ctx.Err())
	}

	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		// A page target's main frame shares the target's ID.
		p.loads.setFrame(cdp.FrameID(c.Target.TargetID))
	}
	return p, nil
}

func (p *cdpPage) discard() {
	p.harvester.Stop(context.Background())
	p.cancel()
}

// RunActions runs actions against the tab, bounded by ctx.
func (p *cdpPage) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// RunBackgroundActions runs actions that ignore ctx's cancellation.
func (p *cdpPage) RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error {
	return p.RunActions(Detach(ctx), actions...)
}

func (p *cdpPage) AddInitScript(ctx context.Context, source string) error {
	return p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		id, err := page.AddScriptToEvaluateOnNewDocument(source).Do(c)
		if err != nil {
			return fmt.Errorf("could not add init script: %w", err)
		}
		p.logger.Debug("Init script registered.", zap.String("script_id", string(id)))
		return nil
	}))
}

func (p *cdpPage) OnConsoleError(fn func(text string)) {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if e.Type == runtime.APITypeError {
				fn(consoleText(e.Args))
			}
		case *runtime.EventExceptionThrown:
			if d := e.ExceptionDetails; d != nil {
				if d.Exception != nil && d.Exception.Description != "" {
					fn(d.Exception.Description)
				} else {
					fn(d.Text)
				}
			}
		}
	})
}

// consoleText joins console arguments the way the console prints them.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case arg == nil:
		case arg.Type == runtime.TypeString:
			var s string
			if err := json.Unmarshal([]byte(arg.Value), &s); err == nil {
				parts = append(parts, s)
				continue
			}
			parts = append(parts, string(arg.Value))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		case len(arg.Value) > 0:
			parts = append(parts, string(arg.Value))
		default:
			parts = append(parts, string(arg.Type))
		}
	}
	return strings.Join(parts, " ")
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	return p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		// Page.navigate answers once the response committed, before load.
		var res page.NavigateReturns
		if err := cdp.Execute(c, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return &NavigationError{URL: url, Text: res.ErrorText}
		}
		p.loads.setCurrent(res.LoaderID)
		return nil
	}))
}

func (p *cdpPage) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	var value json.RawMessage
	err := p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		obj, exception, err := runtime.Evaluate(expression).
			WithAwaitPromise(true).
			WithReturnByValue(true).
			Do(c)
		if err != nil {
			return err
		}
		if exception != nil {
			return &EvaluationError{Description: exceptionDescription(exception)}
		}
		if obj != nil && len(obj.Value) > 0 {
			value = json.RawMessage(obj.Value)
		}
		return nil
	}))
	return value, err
}

func exceptionDescription(d *runtime.ExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	if d.Exception != nil && len(d.Exception.Value) > 0 {
		return string(d.Exception.Value)
	}
	return d.Text
}

func (p *cdpPage) WaitLoad(ctx context.Context) error {
	return p.loads.wait(ctx)
}

func (p *cdpPage) WaitNetworkIdle(ctx context.Context) error {
	return p.harvester.WaitNetworkIdle(ctx)
}

func (p *cdpPage) PrintPDF(ctx context.Context) ([]byte, error) {
	var pdf []byte
	err := p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		pdf, _, err = page.PrintToPDF().
			WithPaperWidth(a4Width).
			WithPaperHeight(a4Height).
			WithPrintBackground(true).
			Do(c)
		return err
	}))
	return pdf, err
}

func (p *cdpPage) URL(ctx context.Context) (string, error) {
	var location string
	if err := p.RunActions(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (p *cdpPage) NetworkTrace(ctx context.Context) *schemas.HAR {
	// Let in-flight body fetches land before building the archive.
	p.harvester.Stop(ctx)
	return p.harvester.HAR()
}

// Close closes the tab and disposes its browser context. Only the first
// call does anything; later calls return the first result.
func (p *cdpPage) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(Detach(ctx), pageCloseTimeout)
		defer cancel()

		p.harvester.Stop(closeCtx)

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.ctx) }()
		select {
		case err := <-done:
			if err != nil && err != context.Canceled {
				p.closeErr = fmt.Errorf("could not close page: %w", err)
			}
		case <-closeCtx.Done():
			p.closeErr = fmt.Errorf("timed out closing page: %w", closeCtx.Err())
		}
		p.cancel()
	})
	return p.closeErr
}
