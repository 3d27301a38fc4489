package render

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/webrender/webrender/api/schemas"
	"github.com/webrender/webrender/internal/browser"
)

// fakePage records calls and delegates behavior to optional hooks.
type fakePage struct {
	mu sync.Mutex

	initScripts []string
	navigated   []string
	evaluations int
	closes      int
	consoleFn   func(string)
	opts        browser.PageOptions

	navigate func(ctx context.Context, url string) error
	evaluate func(ctx context.Context, attempt int) (json.RawMessage, error)
	waitLoad func(ctx context.Context) error
	waitIdle func(ctx context.Context) error
	printPDF func(ctx context.Context) ([]byte, error)
	url      func(ctx context.Context) (string, error)
	trace    *schemas.HAR
}

var _ browser.Page = (*fakePage)(nil)

func (p *fakePage) AddInitScript(_ context.Context, source string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initScripts = append(p.initScripts, source)
	return nil
}

func (p *fakePage) OnConsoleError(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consoleFn = fn
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	p.mu.Unlock()
	if p.navigate != nil {
		return p.navigate(ctx, url)
	}
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	p.mu.Lock()
	p.evaluations++
	attempt := p.evaluations
	p.mu.Unlock()
	if expression != readResultExpression {
		return nil, errors.New("unexpected expression " + expression)
	}
	if p.evaluate != nil {
		return p.evaluate(ctx, attempt)
	}
	return nil, nil
}

func (p *fakePage) WaitLoad(ctx context.Context) error {
	if p.waitLoad != nil {
		return p.waitLoad(ctx)
	}
	return nil
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context) error {
	if p.waitIdle != nil {
		return p.waitIdle(ctx)
	}
	return nil
}

func (p *fakePage) PrintPDF(ctx context.Context) ([]byte, error) {
	if p.printPDF != nil {
		return p.printPDF(ctx)
	}
	return []byte("%PDF-1.4"), nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	if p.url != nil {
		return p.url(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.navigated) == 0 {
		return "", errors.New("nothing loaded")
	}
	return p.navigated[len(p.navigated)-1], nil
}

func (p *fakePage) NetworkTrace(context.Context) *schemas.HAR { return p.trace }

func (p *fakePage) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePage) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// fakeBrowser hands out pages built by newPage, or a default fakePage.
type fakeBrowser struct {
	mu      sync.Mutex
	pages   []*fakePage
	newPage func() *fakePage
	err     error
}

func (b *fakeBrowser) NewPage(_ context.Context, opts browser.PageOptions) (browser.Page, error) {
	if b.err != nil {
		return nil, b.err
	}
	p := &fakePage{}
	if b.newPage != nil {
		p = b.newPage()
	}
	p.opts = opts
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

func (b *fakeBrowser) lastPage() *fakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pages) == 0 {
		return nil
	}
	return b.pages[len(b.pages)-1]
}

type fakeLauncher struct {
	browser *fakeBrowser
	err     error
}

func (l *fakeLauncher) Acquire(context.Context) (browser.Browser, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.browser, nil
}
