package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"xhs-scraper/pkg/types"
)

// WaitPolicy says when a navigation counts as finished.
type WaitPolicy int

const (
	// WaitDOMContentLoaded is enough for search pages.
	WaitDOMContentLoaded WaitPolicy = iota
	// WaitNetworkIdle is needed on note pages, whose body arrives via XHR.
	WaitNetworkIdle
)

func (w WaitPolicy) String() string {
	if w == WaitNetworkIdle {
		return "networkidle"
	}
	return "domcontentloaded"
}

// PageOptions configure a fresh browser context.
type PageOptions struct {
	Cookies        []types.CookieRecord
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// CookieOrigin is a URL on the cookie domain, for engines that can only
	// set cookies for the page currently loaded.
	CookieOrigin string
}

// Browser is the automation engine. Each NewPage call returns a page in its
// own browser context (separate cookie jar).
type Browser interface {
	Name() string
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Page is one tab in an isolated context. Close must release the context.
// Navigate fails when the document itself answers with an HTTP error status.
type Page interface {
	Navigate(ctx context.Context, url string, wait WaitPolicy) error
	WaitSelector(ctx context.Context, selector string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// PageController owns the open-navigate-close lifecycle of every page visit.
type PageController struct {
	browser           Browser
	pacer             *Pacer
	userAgent         string
	viewportWidth     int
	viewportHeight    int
	cookieOrigin      string
	navigationTimeout time.Duration
	logger            *logrus.Logger
}

type PageControllerConfig struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	CookieOrigin      string
	NavigationTimeout time.Duration
}

func NewPageController(browser Browser, pacer *Pacer, cfg PageControllerConfig, logger *logrus.Logger) *PageController {
	return &PageController{
		browser:           browser,
		pacer:             pacer,
		userAgent:         cfg.UserAgent,
		viewportWidth:     cfg.ViewportWidth,
		viewportHeight:    cfg.ViewportHeight,
		cookieOrigin:      cfg.CookieOrigin,
		navigationTimeout: cfg.NavigationTimeout,
		logger:            logger,
	}
}

// checkStatus turns an HTTP error status for the main document into a
// navigation error. Zero means the engine could not tell.
func checkStatus(url string, status int) error {
	if status >= 400 {
		return fmt.Errorf("%s responded with HTTP %d: %w", url, status, ErrNavigation)
	}
	return nil
}

// RenderedPage is the scoped handle passed to WithPage callbacks. It is only
// valid inside the callback.
type RenderedPage struct {
	ctx    context.Context
	page   Page
	url    string
	logger *logrus.Logger
}

func (rp *RenderedPage) URL() string {
	return rp.url
}

// WaitForChain waits for the chain's selectors one at a time, in order, each
// bounded by timeout, and returns the first selector that appeared.
func (rp *RenderedPage) WaitForChain(chain SelectorChain, timeout time.Duration) Outcome[string] {
	for _, selector := range chain.Selectors {
		if rp.ctx.Err() != nil {
			break
		}
		if err := rp.page.WaitSelector(rp.ctx, selector, timeout); err != nil {
			rp.logger.Debugf("Selector '%s' for %s not found within %s", selector, chain.Role, timeout)
			continue
		}
		rp.logger.Debugf("Found content selector: %s", selector)
		return Found(selector)
	}
	return NotFound[string](ReasonChainExhausted)
}

// Document snapshots the rendered DOM for querying.
func (rp *RenderedPage) Document() (*goquery.Document, error) {
	html, err := rp.page.HTML(rp.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered HTML: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered HTML: %w", err)
	}
	return doc, nil
}

// Sleep pauses inside the page, e.g. to let late scripts settle.
func (rp *RenderedPage) Sleep(d time.Duration) error {
	return sleepContext(rp.ctx, d)
}

// WithPage opens url in a fresh context with cookies, waits per wait, and
// runs fn against the rendered page. The context is closed on every path.
// A failed navigation yields NotFound(navigation_failed) and fn never runs.
func WithPage[T any](ctx context.Context, pc *PageController, cookies []types.CookieRecord, url string, wait WaitPolicy, fn func(*RenderedPage) Outcome[T]) Outcome[T] {
	if url == "" {
		pc.logger.Error("No URL supplied for page visit")
		return NotFound[T](ReasonNavigationFailed)
	}

	if err := pc.pacer.Wait(ctx); err != nil {
		return NotFound[T](ReasonNavigationFailed)
	}

	page, err := pc.browser.NewPage(ctx, PageOptions{
		Cookies:        cookies,
		UserAgent:      pc.userAgent,
		ViewportWidth:  pc.viewportWidth,
		ViewportHeight: pc.viewportHeight,
		CookieOrigin:   pc.cookieOrigin,
	})
	if err != nil {
		pc.logger.Errorf("Failed to open %s page: %v", pc.browser.Name(), err)
		return NotFound[T](ReasonNavigationFailed)
	}
	defer func() {
		if err := page.Close(); err != nil {
			pc.logger.Warnf("Failed to close page for %s: %v", url, err)
		}
	}()

	pc.logger.Debugf("Visiting URL: %s (wait=%s)", url, wait)

	navCtx, cancel := context.WithTimeout(ctx, pc.navigationTimeout)
	err = page.Navigate(navCtx, url, wait)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", pc.navigationTimeout, err)
		}
		pc.logger.Errorf("Navigation to %s failed: %v", url, err)
		return NotFound[T](ReasonNavigationFailed)
	}

	return fn(&RenderedPage{
		ctx:    ctx,
		page:   page,
		url:    url,
		logger: pc.logger,
	})
}
