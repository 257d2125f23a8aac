package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/firefox"
)

const (
	defaultGeckoDriver  = "geckodriver"
	defaultSeleniumPort = 4444
	idlePollInterval    = 100 * time.Millisecond
)

// resourceCountScript reports how many network resources the page has
// requested so far; a count that stops growing means the network is idle.
const resourceCountScript = `return window.performance.getEntriesByType('resource').length;`

// documentStatusScript reports the HTTP status of the main document, or 0
// when the browser does not expose it.
const documentStatusScript = `const nav = window.performance.getEntriesByType('navigation')[0];
return nav && nav.responseStatus ? nav.responseStatus : 0;`

// SeleniumBrowser drives Firefox through a local geckodriver. Every page is
// its own WebDriver session, which gives it a fresh profile.
type SeleniumBrowser struct {
	service *selenium.Service
	caps    selenium.Capabilities
	url     string
	logger  *logrus.Logger
}

func NewSeleniumBrowser(cfg BrowserConfig, logger *logrus.Logger) (*SeleniumBrowser, error) {
	driverPath := cfg.SeleniumDriverPath
	if driverPath == "" {
		driverPath = defaultGeckoDriver
	}
	port := cfg.SeleniumPort
	if port == 0 {
		port = defaultSeleniumPort
	}

	caps := selenium.Capabilities{"browserName": "firefox"}

	var args []string
	if cfg.Headless {
		args = append(args, "--headless")
	}
	prefs := map[string]interface{}{
		"dom.webdriver.enabled":  false,
		"useAutomationExtension": false,
	}
	if cfg.UserAgent != "" {
		prefs["general.useragent.override"] = cfg.UserAgent
	}
	caps.AddFirefox(firefox.Capabilities{
		Binary: cfg.ExecPath,
		Args:   args,
		Prefs:  prefs,
	})

	if cfg.ProxyServer != "" {
		addr := proxyHostPort(cfg.ProxyServer)
		caps.AddProxy(selenium.Proxy{
			Type: selenium.Manual,
			HTTP: addr,
			SSL:  addr,
		})
	}

	selenium.SetDebug(false)
	service, err := selenium.NewGeckoDriverService(driverPath, port)
	if err != nil {
		return nil, fmt.Errorf("failed to start GeckoDriver service: %w", err)
	}

	logger.Infof("Using Firefox via GeckoDriver on port %d", port)
	return &SeleniumBrowser{
		service: service,
		caps:    caps,
		url:     fmt.Sprintf("http://localhost:%d", port),
		logger:  logger,
	}, nil
}

func (sb *SeleniumBrowser) Name() string { return EngineSelenium }

func (sb *SeleniumBrowser) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	driver, err := selenium.NewRemote(sb.caps, sb.url)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	sp := &seleniumPage{driver: driver, logger: sb.logger}
	if err := sp.prepare(opts); err != nil {
		_ = sp.Close()
		return nil, err
	}
	return sp, nil
}

func (sb *SeleniumBrowser) Close() error {
	return sb.service.Stop()
}

type seleniumPage struct {
	driver selenium.WebDriver
	logger *logrus.Logger
}

func (sp *seleniumPage) prepare(opts PageOptions) error {
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		if err := sp.driver.ResizeWindow("", opts.ViewportWidth, opts.ViewportHeight); err != nil {
			sp.logger.Warnf("Failed to resize window: %v", err)
		}
	}

	if len(opts.Cookies) == 0 {
		return nil
	}

	// WebDriver only accepts cookies for the domain currently loaded.
	if opts.CookieOrigin == "" {
		return fmt.Errorf("cookie origin required to set cookies")
	}
	if err := sp.driver.Get(opts.CookieOrigin); err != nil {
		return fmt.Errorf("failed to open cookie origin: %w", err)
	}
	for _, cookie := range opts.Cookies {
		err := sp.driver.AddCookie(&selenium.Cookie{
			Name:   cookie.Name,
			Value:  cookie.Value,
			Domain: cookie.Domain,
			Path:   cookie.Path,
		})
		if err != nil {
			sp.logger.Warnf("Failed to set cookie %s: %v", cookie.Name, err)
			continue
		}
		sp.logger.Debugf("Set cookie %s for domain %s", cookie.Name, cookie.Domain)
	}
	return nil
}

func (sp *seleniumPage) Navigate(ctx context.Context, url string, wait WaitPolicy) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := sp.driver.SetPageLoadTimeout(time.Until(deadline)); err != nil {
			sp.logger.Debugf("Failed to set page load timeout: %v", err)
		}
	}

	// Get returns once the document has loaded, which covers DOMContentLoaded.
	if err := sp.driver.Get(url); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkStatus(url, sp.documentStatus()); err != nil {
		return err
	}
	if wait == WaitNetworkIdle {
		return sp.waitNetworkIdle(ctx)
	}
	return nil
}

func (sp *seleniumPage) waitNetworkIdle(ctx context.Context) error {
	last := -1
	quietSince := time.Now()
	for {
		count, err := sp.resourceCount()
		if err != nil {
			return err
		}
		if count != last {
			last = count
			quietSince = time.Now()
		} else if time.Since(quietSince) >= requestIdleWindow {
			return nil
		}
		if err := sleepContext(ctx, idlePollInterval); err != nil {
			return fmt.Errorf("waiting for networkidle: %w", err)
		}
	}
}

func (sp *seleniumPage) documentStatus() int {
	v, err := sp.driver.ExecuteScript(documentStatusScript, nil)
	if err != nil {
		sp.logger.Debugf("Failed to read document status: %v", err)
		return 0
	}
	n, _ := v.(float64)
	return int(n)
}

func (sp *seleniumPage) resourceCount() (int, error) {
	v, err := sp.driver.ExecuteScript(resourceCountScript, nil)
	if err != nil {
		return 0, err
	}
	// JSON numbers decode as float64.
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected resource count %v", v)
	}
	return int(n), nil
}

func (sp *seleniumPage) WaitSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	return sp.driver.WaitWithTimeout(func(wd selenium.WebDriver) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		elems, err := wd.FindElements(selenium.ByCSSSelector, selector)
		if err != nil {
			return false, nil
		}
		return len(elems) > 0, nil
	}, timeout)
}

func (sp *seleniumPage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sp.driver.PageSource()
}

// Close ends the WebDriver session along with its profile.
func (sp *seleniumPage) Close() error {
	return sp.driver.Quit()
}

func proxyHostPort(proxy string) string {
	for _, scheme := range []string{"http://", "https://", "socks5://"} {
		proxy = strings.TrimPrefix(proxy, scheme)
	}
	return strings.TrimRight(proxy, "/")
}
