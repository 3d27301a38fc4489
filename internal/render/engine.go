package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/webrender/webrender/api/schemas"
	"github.com/webrender/webrender/internal/browser"
	"github.com/webrender/webrender/internal/config"
)

// errDeadline marks a step cut short by the render's own time budget.
var errDeadline = fmt.Errorf("render deadline reached: %w", context.DeadlineExceeded)

// Launcher hands out the shared browser, starting it on first use.
type Launcher interface {
	Acquire(ctx context.Context) (browser.Browser, error)
}

// Renderer renders one request to completion.
type Renderer interface {
	Render(ctx context.Context, req schemas.RenderRequest) schemas.RenderOutcome
}

// Engine runs render sessions against the shared browser. It is safe for
// concurrent use; each Render gets its own isolated page.
type Engine struct {
	launcher Launcher
	cfg      config.RenderConfig
	logger   *zap.Logger
	metrics  *Metrics
	blankURL string
	sessions *semaphore.Weighted
}

var _ Renderer = (*Engine)(nil)

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics records render metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithBlankURL sets the page rendered when a request has no URL.
func WithBlankURL(u string) Option {
	return func(e *Engine) { e.blankURL = u }
}

// NewEngine creates an engine rendering through launcher.
func NewEngine(launcher Launcher, cfg config.RenderConfig, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		launcher: launcher,
		cfg:      cfg,
		logger:   logger.Named("render"),
		blankURL: "about:blank",
	}
	if cfg.MaxConcurrentSessions > 0 {
		e.sessions = semaphore.NewWeighted(int64(cfg.MaxConcurrentSessions))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render loads req.URL in a fresh browsing context, runs req.JS if given and
// returns the outcome. It never panics on page errors and always releases
// the browsing context before returning.
func (e *Engine) Render(ctx context.Context, req schemas.RenderRequest) schemas.RenderOutcome {
	req = req.WithDefaults(e.cfg.DefaultTimeout)
	target := req.URL
	if target == "" {
		target = e.blankURL
	}

	s := &session{
		engine: e,
		req:    req,
		target: target,
		logger: e.logger.With(
			zap.String("session_id", uuid.NewString()),
			zap.String("url", target),
		),
	}

	dl := newDeadline(req.Timeout)
	out := s.run(ctx, dl)
	e.metrics.observe(out, time.Since(dl.start))
	return out
}

// session is one render: one page, one deadline.
type session struct {
	engine *Engine
	req    schemas.RenderRequest
	target string
	logger *zap.Logger
}

// run admits the session and opens its page. Waiting for a session slot,
// the browser and the page all spend the render's budget.
func (s *session) run(ctx context.Context, dl deadline) schemas.RenderOutcome {
	e := s.engine
	admitCtx, cancel := context.WithTimeout(ctx, dl.Remaining())
	defer cancel()

	if e.sessions != nil {
		if err := e.sessions.Acquire(admitCtx, 1); err != nil {
			return s.fail(s.budgetErr(ctx, admitCtx, err))
		}
		defer e.sessions.Release(1)
	}

	b, err := e.launcher.Acquire(admitCtx)
	if err != nil {
		return s.fail(s.budgetErr(ctx, admitCtx, err))
	}

	pg, err := b.NewPage(admitCtx, browser.PageOptions{
		BypassCSP:        true,
		ExtraHTTPHeaders: s.req.ExtraHTTPHeaders,
		IdleTimeout:      e.cfg.IdleTimeout,
		CaptureBodies:    e.cfg.CaptureResponseBodies,
	})
	if err != nil {
		return s.fail(s.budgetErr(ctx, admitCtx, err))
	}
	e.metrics.sessionOpened()
	defer func() {
		if err := pg.Close(browser.Detach(ctx)); err != nil {
			s.logger.Warn("Failed to release browsing context.", zap.Error(err))
		}
		e.metrics.sessionClosed()
	}()

	return s.render(ctx, pg, dl)
}

func (s *session) render(ctx context.Context, pg browser.Page, dl deadline) schemas.RenderOutcome {
	if s.req.HasScript() {
		pg.OnConsoleError(s.logConsoleError)
		if err := pg.AddInitScript(ctx, BuildInitScript(s.req.JS, s.req.JSOn)); err != nil {
			return s.fail(err)
		}
	}

	if err := s.navigate(ctx, pg, dl); err != nil {
		return s.fail(err)
	}

	var value json.RawMessage
	if s.req.HasScript() {
		v, err := s.evaluate(ctx, pg, dl)
		if err != nil {
			return s.fail(err)
		}
		value = v
	} else if err := s.awaitCompletion(ctx, pg, dl); err != nil {
		return s.fail(err)
	}

	success := schemas.RenderSuccess{Value: value}
	if s.req.TakePDFSnapshot {
		success.PDFBase64 = s.snapshot(ctx, pg)
	}
	success.FinalURL = s.finalURL(ctx, pg)
	if s.req.CaptureNetwork {
		success.Network = pg.NetworkTrace(ctx)
	}
	s.logger.Debug("Render finished.", zap.String("final_url", success.FinalURL))
	return schemas.Succeeded(success)
}

// navigate gets whatever admission left of the budget, normally all of it.
func (s *session) navigate(ctx context.Context, pg browser.Page, dl deadline) error {
	navCtx, cancel := context.WithTimeout(ctx, dl.Remaining())
	defer cancel()
	err := pg.Navigate(navCtx, s.target)
	return inPhase(PhaseNavigation, s.budgetErr(ctx, navCtx, err))
}

// evaluate reads the promise published by the init script. A navigation
// that replaces the document mid-evaluation is not a failure: the init
// script runs again in the new document, so the read is retried.
func (s *session) evaluate(ctx context.Context, pg browser.Page, dl deadline) (json.RawMessage, error) {
	for attempt := 1; ; attempt++ {
		evalCtx, cancel := context.WithTimeout(ctx, dl.Remaining())
		value, err := pg.Evaluate(evalCtx, readResultExpression)
		err = s.budgetErr(ctx, evalCtx, err)
		cancel()

		switch {
		case err == nil:
			return value, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, inPhase(PhaseEvaluation, err)
		case IsNavigationInterrupted(err):
			if dl.Expired() {
				return nil, inPhase(PhaseEvaluation, errDeadline)
			}
			s.engine.metrics.navigationRetried()
			s.logger.Debug("Page navigated during evaluation, retrying.",
				zap.Int("attempt", attempt), zap.Error(err))
			if err := sleep(ctx, s.engine.cfg.NavRetryBackoff); err != nil {
				return nil, err
			}
		default:
			return nil, inPhase(PhaseEvaluation, err)
		}
	}
}

// awaitCompletion decides when a script-less render is done.
func (s *session) awaitCompletion(ctx context.Context, pg browser.Page, dl deadline) error {
	waitCtx, cancel := context.WithTimeout(ctx, dl.Remaining())
	defer cancel()

	if s.engine.cfg.Completion == config.CompletionIdleNetwork {
		err := pg.WaitNetworkIdle(waitCtx)
		if err != nil && ctx.Err() == nil && waitCtx.Err() == context.DeadlineExceeded {
			// Busy pages never go quiet; whatever loaded by now is the result.
			s.logger.Debug("Network still busy at the deadline, finishing anyway.")
			return nil
		}
		return inPhase(PhaseLoad, err)
	}
	return inPhase(PhaseLoad, s.budgetErr(ctx, waitCtx, pg.WaitLoad(waitCtx)))
}

// budgetErr replaces err with errDeadline when stepCtx ran out of budget
// while the caller's own context is still live.
func (s *session) budgetErr(ctx, stepCtx context.Context, err error) error {
	if err != nil && ctx.Err() == nil && stepCtx.Err() == context.DeadlineExceeded {
		return errDeadline
	}
	return err
}

// snapshot prints the page. A failed PDF does not fail the render.
func (s *session) snapshot(ctx context.Context, pg browser.Page) string {
	pdfCtx := ctx
	if s.engine.cfg.PDFTimeout > 0 {
		var cancel context.CancelFunc
		pdfCtx, cancel = context.WithTimeout(ctx, s.engine.cfg.PDFTimeout)
		defer cancel()
	}
	data, err := pg.PrintPDF(pdfCtx)
	if err != nil {
		s.logger.Warn("PDF snapshot failed.", zap.Error(err))
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func (s *session) finalURL(ctx context.Context, pg browser.Page) string {
	u, err := pg.URL(ctx)
	if err != nil || u == "" {
		s.logger.Debug("Could not read final URL, reporting the requested one.", zap.Error(err))
		return s.target
	}
	return u
}

func (s *session) logConsoleError(text string) {
	first, _, _ := strings.Cut(text, "\n")
	s.logger.Info("Page reported an error.", zap.String("js_error", first))
}

func (s *session) fail(err error) schemas.RenderOutcome {
	phase := phaseOf(err)
	msg, code := Classify(err, phase)
	s.logger.Info("Render failed.",
		zap.String("phase", phase.String()),
		zap.String("error_code", string(code)),
		zap.Error(err),
	)
	return schemas.Failed(msg, code)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
