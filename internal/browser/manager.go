package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/webrender/webrender/internal/browser/stealth"
	"github.com/webrender/webrender/internal/config"
)

const browserCloseTimeout = 15 * time.Second

// Handle is a running browser process. It is shared read-only by every
// render session.
type Handle struct {
	logger  *zap.Logger
	creator string
	persona stealth.Persona

	allocCtx    context.Context
	allocCancel context.CancelFunc
	// browserCtx owns the browser connection and its first, blank tab.
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewPage opens a page in a fresh incognito browser context.
func (h *Handle) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	if opts.Persona.IsZero() {
		opts.Persona = h.persona
	}
	return openPage(ctx, h.browserCtx, h.logger, opts, h.creator)
}

func (h *Handle) close() error {
	if h.browserCtx == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(h.browserCtx) }()

	var err error
	select {
	case err = <-done:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case <-time.After(browserCloseTimeout):
		err = errors.New("timed out closing the browser")
	}
	h.browserCancel()
	h.allocCancel()
	return err
}

// LaunchFunc starts a browser process.
type LaunchFunc func(cfg config.BrowserConfig, logger *zap.Logger) (*Handle, error)

// Manager owns the single browser process. The process starts on the first
// Acquire and lives until Release.
type Manager struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	launch  LaunchFunc
	onFatal func(error)
	creator string

	group  singleflight.Group
	mu     sync.RWMutex
	handle *Handle
	closed bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithFatalHandler replaces what happens when the browser cannot start.
// By default the failure is logged at fatal level, which exits the process.
func WithFatalHandler(fn func(error)) ManagerOption {
	return func(m *Manager) { m.onFatal = fn }
}

// WithLaunchFunc replaces how the browser process is started.
func WithLaunchFunc(fn LaunchFunc) ManagerOption {
	return func(m *Manager) { m.launch = fn }
}

// WithCreatorVersion sets the version stamped on network traces.
func WithCreatorVersion(v string) ManagerOption {
	return func(m *Manager) { m.creator = v }
}

// NewManager creates a manager. No browser is started until Acquire.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:     cfg,
		logger:  logger.Named("browser_manager"),
		launch:  LaunchChrome,
		creator: "dev",
	}
	m.onFatal = func(err error) {
		m.logger.Fatal("Browser failed to launch.", zap.Error(err))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the running browser, starting it if needed. Concurrent
// first callers share one launch. A failed launch is handed to the fatal
// handler and returned.
func (m *Manager) Acquire(ctx context.Context) (Browser, error) {
	h, err := m.current()
	if err != nil {
		return nil, err
	}
	if h != nil {
		return h, nil
	}

	resCh := m.group.DoChan("launch", func() (interface{}, error) {
		if h, err := m.current(); err != nil || h != nil {
			return h, err
		}

		m.logger.Info("Launching browser.", zap.String("exec_path", m.cfg.ExecPath), zap.Bool("headless", m.cfg.Headless))
		start := time.Now()
		h, err := m.launch(m.cfg, m.logger)
		if err != nil {
			m.onFatal(err)
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		h.creator = m.creator
		h.persona = personaFrom(m.cfg.Persona)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			// Released while we were starting.
			_ = h.close()
			return nil, ErrManagerClosed
		}
		m.handle = h
		m.logger.Info("Browser launched.", zap.Duration("took", time.Since(start)))
		return h, nil
	})

	select {
	case res := <-resCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) current() (*Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	return m.handle, nil
}

// Release shuts the browser down if it is running. It may be called any
// number of times; Acquire fails afterwards.
func (m *Manager) Release(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.closed = true
	m.mu.Unlock()

	if h == nil {
		return nil
	}

	m.logger.Info("Closing browser.")
	done := make(chan error, 1)
	go func() { done <- h.close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LaunchChrome starts Chrome with options derived from cfg and opens its
// first tab, which stays blank for the life of the process.
func LaunchChrome(cfg config.BrowserConfig, logger *zap.Logger) (*Handle, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(cfg)...)
	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(sugar.Errorf))
	h := &Handle{
		logger:        logger,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	// Run without actions starts the process and opens the first tab. It is
	// bounded here and not by a context deadline, which would kill the browser.
	timeout := cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(browserCtx) }()
	select {
	case err := <-errCh:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, err
		}
	case <-time.After(timeout):
		browserCancel()
		allocCancel()
		<-errCh
		return nil, fmt.Errorf("browser did not start within %s", timeout)
	}
	return h, nil
}

func personaFrom(c config.PersonaConfig) stealth.Persona {
	return stealth.Persona{
		UserAgent: c.UserAgent,
		Platform:  c.Platform,
		Languages: c.Languages,
		Timezone:  c.Timezone,
		Locale:    c.Locale,
	}
}
