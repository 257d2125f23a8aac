// internal/scraper/auth.go
package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"xhs-scraper/pkg/types"
)

const DefaultCookieDomain = ".xiaohongshu.com"

// BuildCookies parses a raw Cookie header ("a=1; b=2") into records for
// domain. Segments without '=' are skipped; order and duplicates are kept.
func BuildCookies(rawCookieHeader, domain string) []types.CookieRecord {
	var cookies []types.CookieRecord
	for _, segment := range strings.Split(rawCookieHeader, ";") {
		segment = strings.TrimSpace(segment)
		name, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		cookies = append(cookies, types.CookieRecord{
			Name:   name,
			Value:  value,
			Domain: domain,
			Path:   "/",
		})
	}
	return cookies
}

// CookieHeader joins records back into header form.
func CookieHeader(cookies []types.CookieRecord) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// MissingCookies returns the names in required that have no non-empty value.
func MissingCookies(cookies []types.CookieRecord, required []string) []string {
	present := make(map[string]bool, len(cookies))
	for _, c := range cookies {
		if c.Value != "" {
			present[c.Name] = true
		}
	}

	var missing []string
	for _, name := range required {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// SessionValidator checks a cookie header against the live site without a
// browser. It is a preflight tool and is never used during a crawl.
type SessionValidator struct {
	client  *resty.Client
	baseURL string
	logger  *logrus.Logger
}

func NewSessionValidator(baseURL, userAgent string, timeout time.Duration, logger *logrus.Logger) *SessionValidator {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "zh-CN,zh;q=0.9").
		SetHeader("Referer", baseURL)

	return &SessionValidator{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Validate fetches the explore feed with the given cookies and reports
// ErrConfig when the session is clearly not logged in.
func (sv *SessionValidator) Validate(ctx context.Context, cookies []types.CookieRecord) error {
	if len(cookies) == 0 {
		return fmt.Errorf("no cookies parsed from cookie header: %w", ErrConfig)
	}

	sv.logger.Info("Validating Xiaohongshu session...")

	resp, err := sv.client.R().
		SetContext(ctx).
		SetHeader("Cookie", CookieHeader(cookies)).
		Get(sv.baseURL + "/explore")
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", sv.baseURL, err)
	}

	final := resp.RawResponse.Request.URL
	sv.logger.Infof("Validation response: Status=%d, URL=%s", resp.StatusCode(), final)
	sv.logger.Debugf("Response body length: %d", len(resp.Body()))

	// Only where we landed counts; feed scripts mention captcha routinely.
	switch {
	case strings.Contains(final.Path, "captcha"):
		return fmt.Errorf("session rejected: captcha challenge required: %w", ErrConfig)
	case strings.Contains(final.Path, "login"):
		return fmt.Errorf("session rejected: redirected to login page: %w", ErrConfig)
	}

	switch resp.StatusCode() {
	case 200:
		sv.logger.Info("Session validated successfully")
		return nil
	case 401, 403:
		return fmt.Errorf("session rejected: status %d - cookies may be expired: %w", resp.StatusCode(), ErrConfig)
	case 429:
		return fmt.Errorf("rate limited (429) - slow down before crawling")
	default:
		return fmt.Errorf("unexpected status code %d", resp.StatusCode())
	}
}

// PrintCookieInstructions explains how to obtain the cookie header.
func PrintCookieInstructions() {
	fmt.Println(`
To extract your Xiaohongshu cookie:

1. Open https://www.xiaohongshu.com in your browser and log in
2. Open Developer Tools (F12) and switch to the Network tab
3. Reload the page and select any request to www.xiaohongshu.com
4. Copy the full value of the "Cookie" request header

Important cookies:
- a1: Device identifier
- web_session: Login session token
- webId: Web client identifier

5. Put the header in configs/config.yaml (xiaohongshu.cookie) or export XHS_COOKIE`)
}
