// Package headless drives Chrome through chromedp as the browser-automation
// collaborator of the navigator.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// Config controls how browser sessions are launched.
type Config struct {
	Headless          bool
	UserAgent         string
	ProxyURL          string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	MaxParallel       int
}

// Factory launches one Chrome process and hands out an isolated tab per task.
type Factory struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewFactory prepares the Chrome allocator. Chrome itself starts lazily with
// the first session.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = cfg.withDefaults()
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Factory{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	return c
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}
	return opts
}

// Close shuts down Chrome.
func (f *Factory) Close() {
	f.allocCancel()
}

// NewBrowser opens a new tab owned by the caller until Close.
func (f *Factory) NewBrowser(ctx context.Context) (discovery.Browser, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	tab, cancel := chromedp.NewContext(f.allocator)
	meta := newResponseMeta()
	chromedp.ListenTarget(tab, meta.captureEvent)
	if err := chromedp.Run(tab, f.networkSetupAction()); err != nil {
		cancel()
		f.release()
		return nil, fmt.Errorf("start browser tab: %w", err)
	}
	return &Browser{factory: f, tab: tab, cancel: cancel, meta: meta}, nil
}

func (f *Factory) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Factory) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (f *Factory) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// Browser is one Chrome tab.
type Browser struct {
	factory *Factory
	tab     context.Context
	cancel  context.CancelFunc
	meta    *responseMeta
	once    sync.Once
}

// Navigate loads url and waits for the document body.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.meta.reset()
	err := b.run(ctx, b.factory.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.factory.cfg.SettleDelay),
	)
	if err != nil {
		return err
	}
	if status := b.meta.status(); blockingStatus(status) {
		return fmt.Errorf("document status %d: %w", status, discovery.ErrBotDetected)
	}
	return nil
}

// ReadDOM returns the outer HTML and current location of the tab.
func (b *Browser) ReadDOM(ctx context.Context) (string, string, error) {
	var html, location string
	err := b.run(ctx, b.factory.cfg.NavigationTimeout,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", err
	}
	return html, location, nil
}

// Scroll moves to the bottom of the page so lazy cards render.
func (b *Browser) Scroll(ctx context.Context) error {
	return b.run(ctx, b.factory.cfg.NavigationTimeout,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(b.factory.cfg.SettleDelay),
	)
}

// Click clicks the first element matching selector and lets the page settle.
func (b *Browser) Click(ctx context.Context, selector string) error {
	return b.run(ctx, b.factory.cfg.NavigationTimeout,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(b.factory.cfg.SettleDelay),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Close closes the tab and frees its slot.
func (b *Browser) Close() error {
	b.once.Do(func() {
		b.cancel()
		b.factory.release()
	})
	return nil
}

// run executes actions on the tab bounded by timeout and by the caller's ctx.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	return classify(ctx, runCtx, err)
}

// classify maps chromedp failures onto discovery errors.
func classify(callerCtx, runCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cerr := callerCtx.Err(); cerr != nil {
		return fmt.Errorf("chromedp run: %w", cerr)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("chromedp run: %w", discovery.ErrNavigatorTimeout)
	}
	return fmt.Errorf("chromedp run: %w", err)
}

// blockingStatus reports document statuses the site uses to refuse automation.
func blockingStatus(status int) bool {
	return status == 429 || status == 999
}

type responseMeta struct {
	mu   sync.RWMutex
	code int
	url  string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.code = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}
