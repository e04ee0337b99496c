// Package browser is the action executor: it owns one live Chromium page via
// go-rod and performs the navigation loop's structured actions against it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/webduel/internal/agent"
)

var (
	// ErrTimeout marks an action that hit its deadline.
	ErrTimeout = errors.New("executor timeout")
	// ErrTargetNotFound marks an action whose target cannot be located.
	ErrTargetNotFound = errors.New("target not found")
)

// Options configures a browser instance.
type Options struct {
	Width             int
	Height            int
	Headless          bool
	ProfileDir        string // Chrome profile for authenticated sessions
	InitScript        string // JS injected before every document load
	NavigationTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	return o
}

// Browser wraps one rod browser and page. Each instance is exclusively owned
// by a single crawler run and released on Close.
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
	logger  *zap.Logger
}

// New launches a headless Chromium and opens a blank page with the configured
// viewport. InitScript, when set, runs before every document load; the
// resilience tests use it to perturb the DOM.
func New(opts Options, logger *zap.Logger) (*Browser, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	path, _ := launcher.LookPath()
	l := launcher.New().Bin(path).Headless(opts.Headless)
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logger.Warn("failed to set viewport", zap.Error(err))
	}

	if opts.InitScript != "" {
		if _, err := page.EvalOnNewDocument(opts.InitScript); err != nil {
			_ = page.Close()
			_ = b.Close()
			return nil, fmt.Errorf("install init script: %w", err)
		}
	}

	return &Browser{
		browser: b,
		page:    page,
		opts:    opts,
		logger:  logger.Named("browser"),
	}, nil
}

// Close releases the page and browser.
func (b *Browser) Close() {
	if b.page != nil {
		_ = b.page.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
}

// Page exposes the underlying rod page for the baseline crawler.
func (b *Browser) Page() *rod.Page {
	return b.page
}

// Observe captures the current page state: screenshot, URL, and title.
func (b *Browser) Observe(ctx context.Context) (agent.PageState, error) {
	page := b.page.Context(ctx)

	shot, err := page.Screenshot(false, nil)
	if err != nil {
		return agent.PageState{}, classify(fmt.Errorf("screenshot: %w", err))
	}
	info, err := page.Info()
	if err != nil {
		return agent.PageState{}, classify(fmt.Errorf("page info: %w", err))
	}
	return agent.PageState{
		URL:        info.URL,
		Title:      info.Title,
		Screenshot: shot,
	}, nil
}

// classify maps context deadline errors onto the timeout sentinel so callers
// can treat timeouts uniformly with other failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
