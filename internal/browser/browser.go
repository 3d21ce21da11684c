// Package browser drives a headless Chromium instance to render the
// JavaScript-heavy prediction pages. A Session wraps one browser process;
// retry policy is deliberately left to the caller so per-destination retry
// budgets stay independent of session lifecycle.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Failure classes surfaced to the orchestrator. Check with errors.Is.
var (
	// ErrSessionInit indicates the browser process could not be started.
	ErrSessionInit = errors.New("browser session init failed")
	// ErrNavigation indicates the page itself failed to load in time.
	ErrNavigation = errors.New("page navigation failed")
	// ErrRenderTimeout indicates the page loaded but the results container
	// never appeared in the DOM.
	ErrRenderTimeout = errors.New("timed out waiting for results container")
	// ErrSessionClosed is returned by Render after Close.
	ErrSessionClosed = errors.New("browser session is closed")
)

// Config controls browser launch and render behavior.
type Config struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	WaitTimeout       time.Duration
	SettleDelay       time.Duration
	ContainerSelector string
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if c.ViewportWidth == 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight == 0 {
		c.ViewportHeight = 720
	}
	if c.NavigationTimeout == 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 20 * time.Second
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 3 * time.Second
	}
	if c.ContainerSelector == "" {
		c.ContainerSelector = ".bus-results"
	}
	return c
}

// Session owns one headless browser process.
type Session struct {
	cfg Config

	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Open launches a headless Chromium process with a fixed viewport and a
// spoofed user agent. The returned Session must be closed by the caller.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser process eagerly, so a missing
	// or broken Chromium binary fails here instead of on first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	return &Session{
		cfg:           cfg,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// Render navigates to url, waits for the results container to appear, lets
// asynchronous rendering settle for a fixed delay, and returns the page
// source. Navigation and element-wait run under separate deadlines so their
// failures are distinguishable.
func (s *Session) Render(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.mu.Unlock()

	navCtx, cancelNav := context.WithTimeout(s.browserCtx, s.cfg.NavigationTimeout)
	defer cancelNav()
	stopNav := context.AfterFunc(ctx, cancelNav)
	defer stopNav()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}

	waitCtx, cancelWait := context.WithTimeout(s.browserCtx, s.cfg.WaitTimeout)
	defer cancelWait()
	stopWait := context.AfterFunc(ctx, cancelWait)
	defer stopWait()

	if err := chromedp.Run(waitCtx, chromedp.WaitReady(s.cfg.ContainerSelector, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: selector %q on %s", ErrRenderTimeout, s.cfg.ContainerSelector, url)
		}
		return "", fmt.Errorf("%w: waiting for %q: %v", ErrNavigation, s.cfg.ContainerSelector, err)
	}

	// The container appearing does not mean the page is done rendering;
	// a fixed settle delay tolerates remaining asynchronous updates.
	var html string
	err := chromedp.Run(s.browserCtx,
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("%w: extracting page source from %s: %v", ErrNavigation, url, err)
	}

	return html, nil
}

// Close releases the browser process. Safe to call multiple times and after
// failed operations; never panics.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.cancelBrowser != nil {
		s.cancelBrowser()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
}
