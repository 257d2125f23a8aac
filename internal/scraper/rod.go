package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// requestIdleWindow is how long the network must be quiet to count as idle.
const requestIdleWindow = 500 * time.Millisecond

// RodBrowser drives Chromium through go-rod. Each page lives in its own
// incognito browser context.
type RodBrowser struct {
	browser *rod.Browser
	logger  *logrus.Logger
}

func NewRodBrowser(cfg BrowserConfig, logger *logrus.Logger) (*RodBrowser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(true)

	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	}
	if cfg.ProxyServer != "" {
		l = l.Proxy(cfg.ProxyServer)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	logger.Infof("Using rod for browser automation (%s)", controlURL)
	return &RodBrowser{browser: browser, logger: logger}, nil
}

func (rb *RodBrowser) Name() string { return EngineRod }

func (rb *RodBrowser) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	incognito, err := rb.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	rp := &rodPage{page: page, context: incognito}
	if err := rp.prepare(opts); err != nil {
		_ = rp.Close()
		return nil, err
	}
	return rp, nil
}

func (rb *RodBrowser) Close() error {
	return rb.browser.Close()
}

type rodPage struct {
	page    *rod.Page
	context *rod.Browser
}

func (rp *rodPage) prepare(opts PageOptions) error {
	if opts.UserAgent != "" {
		if err := rp.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return fmt.Errorf("failed to set user agent: %w", err)
		}
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		err := rp.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.ViewportWidth,
			Height:            opts.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return fmt.Errorf("failed to set viewport: %w", err)
		}
	}

	params := make([]*proto.NetworkCookieParam, 0, len(opts.Cookies))
	for _, c := range opts.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	if len(params) > 0 {
		if err := rp.page.SetCookies(params); err != nil {
			return fmt.Errorf("failed to set cookies: %w", err)
		}
	}
	return nil
}

func (rp *rodPage) Navigate(ctx context.Context, url string, wait WaitPolicy) error {
	p := rp.page.Context(ctx)

	// Waiters must be registered before Navigate or early events are missed.
	var waitFn func()
	if wait == WaitNetworkIdle {
		waitFn = p.WaitRequestIdle(requestIdleWindow, nil, nil, nil)
	} else {
		waitFn = p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	}

	// The first document response is the main frame's final one; redirects
	// are not reported as responses.
	status := 0
	waitResponse := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return false
		}
		status = e.Response.Status
		return true
	})

	if err := p.Navigate(url); err != nil {
		return err
	}
	waitResponse()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkStatus(url, status); err != nil {
		return err
	}
	waitFn()
	return ctx.Err()
}

func (rp *rodPage) WaitSelector(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := rp.page.Context(ctx).Timeout(timeout).Element(selector)
	return err
}

func (rp *rodPage) HTML(ctx context.Context) (string, error) {
	return rp.page.Context(ctx).HTML()
}

// Close closes the page and disposes of its incognito context. It does not
// use the run context, which may already be cancelled.
func (rp *rodPage) Close() error {
	pageErr := rp.page.Context(context.Background()).Close()
	if err := rp.context.Context(context.Background()).Close(); err != nil {
		return err
	}
	return pageErr
}
