package scraper

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	"xhs-scraper/pkg/types"
)

// BrowserConfig is shared by every engine.
type BrowserConfig struct {
	Engine      string
	Headless    bool
	ExecPath    string
	UserAgent   string
	ProxyServer string

	SeleniumDriverPath string
	SeleniumPort       int
}

const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
	EngineSelenium = "selenium"
)

// NewBrowser starts the configured engine. Failures wrap ErrBrowserStartup.
func NewBrowser(cfg BrowserConfig, logger *logrus.Logger) (Browser, error) {
	var (
		b   Browser
		err error
	)
	switch cfg.Engine {
	case EngineChromedp, "":
		b, err = NewChromeBrowser(cfg, logger)
	case EngineRod:
		b, err = NewRodBrowser(cfg, logger)
	case EngineSelenium:
		b, err = NewSeleniumBrowser(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown browser engine %q: %w", cfg.Engine, ErrConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrowserStartup, err)
	}
	return b, nil
}

// ChromeBrowser drives Chrome/Chromium over CDP with chromedp.
type ChromeBrowser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *logrus.Logger
}

func NewChromeBrowser(cfg BrowserConfig, logger *logrus.Logger) (*ChromeBrowser, error) {
	if cfg.ExecPath == "" && !isChromeAvailable() {
		return nil, fmt.Errorf("no Chrome or Chromium binary found in PATH")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-sandbox", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyServer))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Debugf),
		chromedp.WithErrorf(logger.Debugf),
	)

	// An empty Run launches the browser so later tabs can get their own
	// browser contexts.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch Chrome: %w", err)
	}

	logger.Info("Using Chrome for browser automation")
	return &ChromeBrowser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

func (cb *ChromeBrowser) Name() string { return EngineChromedp }

func (cb *ChromeBrowser) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(cb.browserCtx, chromedp.WithNewBrowserContext())

	// Stop the tab if the caller gives up while we are still setting up.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	actions := []chromedp.Action{
		network.Enable(),
		setCookies(opts.Cookies),
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(opts.ViewportWidth), int64(opts.ViewportHeight)))
	}
	if opts.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(opts.UserAgent))
	}

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to prepare browser context: %w", err)
	}

	return &chromePage{ctx: tabCtx, cancel: cancel, logger: cb.logger}, nil
}

func (cb *ChromeBrowser) Close() error {
	cb.browserCancel()
	cb.allocCancel()
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Logger
}

// run executes actions on the tab, bounded by ctx as well as the tab.
func (cp *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(cp.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (cp *chromePage) Navigate(ctx context.Context, url string, wait WaitPolicy) error {
	want := "DOMContentLoaded"
	if wait == WaitNetworkIdle {
		want = "networkIdle"
	}

	// Lifecycle and response events must be captured from before the
	// navigation starts; they are matched to our navigation by loader ID
	// afterwards. Events arrive in order, so a document's response is queued
	// before its lifecycle event.
	events := make(chan cdp.LoaderID, 64)
	responses := make(chan documentResponse, 64)
	listenCtx, stopListening := context.WithCancel(cp.ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name != want {
				return
			}
			select {
			case events <- e.LoaderID:
			default:
			}
		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeDocument || e.Response == nil {
				return
			}
			select {
			case responses <- documentResponse{loaderID: e.LoaderID, status: int(e.Response.Status)}:
			default:
			}
		}
	})

	var loaderID cdp.LoaderID
	err := cp.run(ctx,
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var res page.NavigateReturns
			if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
				return err
			}
			if res.ErrorText != "" {
				return fmt.Errorf("page load error %s", res.ErrorText)
			}
			loaderID = res.LoaderID
			return nil
		}),
	)
	if err != nil {
		return err
	}

	status := 0
	for {
		select {
		case r := <-responses:
			if r.loaderID == loaderID && status == 0 {
				status = r.status
			}
		case id := <-events:
			if id != loaderID {
				continue
			}
			for drained := false; !drained; {
				select {
				case r := <-responses:
					if r.loaderID == loaderID && status == 0 {
						status = r.status
					}
				default:
					drained = true
				}
			}
			return checkStatus(url, status)
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", want, ctx.Err())
		case <-cp.ctx.Done():
			return fmt.Errorf("browser context closed: %w", cp.ctx.Err())
		}
	}
}

type documentResponse struct {
	loaderID cdp.LoaderID
	status   int
}

func (cp *chromePage) WaitSelector(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return cp.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (cp *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := cp.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Close closes the tab and disposes of its browser context.
func (cp *chromePage) Close() error {
	cp.cancel()
	return nil
}

func setCookies(cookies []types.CookieRecord) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, cookie := range cookies {
			err := network.SetCookie(cookie.Name, cookie.Value).
				WithDomain(cookie.Domain).
				WithPath(cookie.Path).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", cookie.Name, err)
			}
		}
		return nil
	})
}

func isChromeAvailable() bool {
	paths := []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}
	for _, path := range paths {
		if _, err := exec.LookPath(path); err == nil {
			return true
		}
	}
	return false
}
