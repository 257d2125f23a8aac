package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func mustDoc(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(err)
	}
	return doc
}

// instantPacer never sleeps but still honours cancellation.
func instantPacer() *Pacer {
	return &Pacer{
		rand:  func() float64 { return 0 },
		sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

// recordingPacer never sleeps; it records every delay it was asked for.
func recordingPacer(slept *[]time.Duration) *Pacer {
	return &Pacer{
		rand: func() float64 { return 0 },
		sleep: func(ctx context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return ctx.Err()
		},
	}
}

// fakeBrowser serves canned HTML per URL.
type fakeBrowser struct {
	pages map[string]string
	// failures is how many navigations to a URL fail before one succeeds;
	// a negative count fails forever.
	failures map[string]int
	// statuses is the HTTP status a URL's document answers with.
	statuses   map[string]int
	onNavigate func(url string)

	opened   int
	closed   int
	visits   []string
	lastOpts PageOptions
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages:    make(map[string]string),
		failures: make(map[string]int),
		statuses: make(map[string]int),
	}
}

func (b *fakeBrowser) Name() string { return "fake" }

func (b *fakeBrowser) NewPage(_ context.Context, opts PageOptions) (Page, error) {
	b.opened++
	b.lastOpts = opts
	return &fakePage{browser: b}, nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakePage struct {
	browser *fakeBrowser
	url     string
}

func (p *fakePage) Navigate(_ context.Context, url string, _ WaitPolicy) error {
	b := p.browser
	b.visits = append(b.visits, url)
	if b.onNavigate != nil {
		b.onNavigate(url)
	}
	if n := b.failures[url]; n != 0 {
		if n > 0 {
			b.failures[url] = n - 1
		}
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	if err := checkStatus(url, b.statuses[url]); err != nil {
		return err
	}
	if _, ok := b.pages[url]; !ok {
		return fmt.Errorf("no page at %s", url)
	}
	p.url = url
	return nil
}

func (p *fakePage) WaitSelector(_ context.Context, selector string, _ time.Duration) error {
	if mustDoc(p.browser.pages[p.url]).Find(selector).Length() == 0 {
		return context.DeadlineExceeded
	}
	return nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	return p.browser.pages[p.url], nil
}

func (p *fakePage) Close() error {
	p.browser.closed++
	return nil
}
