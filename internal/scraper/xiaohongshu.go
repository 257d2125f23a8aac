package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"xhs-scraper/pkg/types"
)

const DefaultBaseURL = "https://www.xiaohongshu.com"

// Sink persists the notes collected by a run.
type Sink interface {
	SaveNotes(ctx context.Context, batch types.NoteBatch) error
}

// CrawlerOptions holds the tunables of a crawl. Zero values fall back to
// the defaults in DefaultCrawlerOptions.
type CrawlerOptions struct {
	BaseURL               string
	SearchType            string
	RequiredCookies       []string
	SettleDelay           time.Duration
	SelectorTimeout       time.Duration
	DetailSelectorTimeout time.Duration
	MaxRetries            int
	DetailDelay           DelayRange
	PageDelay             DelayRange
	Chains                Chains
}

func DefaultCrawlerOptions() CrawlerOptions {
	return CrawlerOptions{
		BaseURL:               DefaultBaseURL,
		SearchType:            "51",
		RequiredCookies:       []string{"a1", "web_session"},
		SettleDelay:           2 * time.Second,
		SelectorTimeout:       5 * time.Second,
		DetailSelectorTimeout: 10 * time.Second,
		MaxRetries:            3,
		DetailDelay:           Seconds(2, 5),
		PageDelay:             Seconds(2, 5),
		Chains:                DefaultChains(),
	}
}

// RunReport summarises one crawl.
type RunReport struct {
	RunID       string
	Keyword     string
	Pages       int
	StartedAt   time.Time
	FinishedAt  time.Time
	StubsFound  int
	Duplicates  int
	Retries     int
	Notes       []types.PostDetail
	Dropped     map[Reason]int
	Exhausted   map[Role]int
	Interrupted bool
}

func newRunReport(keyword string, pages int) *RunReport {
	return &RunReport{
		RunID:     uuid.NewString(),
		Keyword:   keyword,
		Pages:     pages,
		StartedAt: time.Now(),
		Dropped:   make(map[Reason]int),
		Exhausted: make(map[Role]int),
	}
}

func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// DroppedTotal counts stubs and cards that never became notes.
func (r *RunReport) DroppedTotal() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}
	return total
}

func (r *RunReport) Batch() types.NoteBatch {
	return types.NoteBatch{
		RunID:     r.RunID,
		Keyword:   r.Keyword,
		ScrapedAt: r.FinishedAt,
		Notes:     r.Notes,
	}
}

// Crawler runs keyword searches and fetches the detail page of every result.
type Crawler struct {
	pages     *PageController
	pacer     *Pacer
	resolver  *Resolver
	extractor *Extractor
	sinks     []Sink
	opts      CrawlerOptions
	logger    *logrus.Logger
}

func NewCrawler(pages *PageController, pacer *Pacer, opts CrawlerOptions, logger *logrus.Logger, sinks ...Sink) *Crawler {
	defaults := DefaultCrawlerOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.SearchType == "" {
		opts.SearchType = defaults.SearchType
	}
	if opts.SelectorTimeout <= 0 {
		opts.SelectorTimeout = defaults.SelectorTimeout
	}
	if opts.DetailSelectorTimeout <= 0 {
		opts.DetailSelectorTimeout = defaults.DetailSelectorTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	resolver := NewResolver(logger)
	return &Crawler{
		pages:     pages,
		pacer:     pacer,
		resolver:  resolver,
		extractor: NewExtractor(resolver, opts.Chains, opts.BaseURL+"/explore", logger),
		sinks:     sinks,
		opts:      opts,
		logger:    logger,
	}
}

// SearchURL builds the search results URL for keyword; page 1 carries no
// page parameter.
func (c *Crawler) SearchURL(keyword string, page int) string {
	u := fmt.Sprintf("%s/search_result?keyword=%s&type=%s", c.opts.BaseURL, url.QueryEscape(keyword), c.opts.SearchType)
	if page > 1 {
		u += "&page=" + strconv.Itoa(page)
	}
	return u
}

// Run crawls pages of search results for keyword and hands every note it
// could read to the sinks. Failures on individual cards or notes are logged
// and skipped. Only configuration problems are returned before any
// navigation; a cancelled ctx stops the crawl but collected notes are still
// saved.
func (c *Crawler) Run(ctx context.Context, cookies []types.CookieRecord, keyword string, pages int) (*RunReport, error) {
	switch {
	case len(cookies) == 0:
		return nil, fmt.Errorf("session cookie is empty: %w", ErrConfig)
	case strings.TrimSpace(keyword) == "":
		return nil, fmt.Errorf("keyword is empty: %w", ErrConfig)
	case pages < 1:
		return nil, fmt.Errorf("page count must be at least 1, got %d: %w", pages, ErrConfig)
	}

	if missing := MissingCookies(cookies, c.opts.RequiredCookies); len(missing) > 0 {
		c.logger.Warnf("Session cookie is missing %s; results may be empty", strings.Join(missing, ", "))
	}

	report := newRunReport(keyword, pages)
	c.resolver.OnExhausted = func(role Role) { report.Exhausted[role]++ }
	defer func() { c.resolver.OnExhausted = nil }()

	log := c.logger.WithFields(logrus.Fields{"run": report.RunID, "keyword": keyword})
	log.Infof("Starting crawl of %d page(s)", pages)

	seen := make(map[string]bool)
	for page := 1; page <= pages; page++ {
		if ctx.Err() != nil {
			break
		}
		if page > 1 {
			if err := c.pacer.Pace(ctx, c.opts.PageDelay); err != nil {
				break
			}
		}

		out := c.searchPage(ctx, cookies, keyword, page, report)
		stubs, ok := out.Get()
		if !ok {
			log.Warnf("Page %d yielded no results (%s)", page, out.Reason())
			continue
		}
		log.Infof("Page %d: found %d notes", page, len(stubs))

		// Detail fetches on a page are spaced by DetailDelay; the page
		// boundary gets PageDelay alone.
		fetched := 0
		for _, stub := range stubs {
			if ctx.Err() != nil {
				break
			}
			if seen[stub.ID] {
				log.Debugf("Skipping duplicate note %s", stub.ID)
				report.Duplicates++
				continue
			}
			seen[stub.ID] = true

			if fetched > 0 {
				if err := c.pacer.Pace(ctx, c.opts.DetailDelay); err != nil {
					break
				}
			}
			fetched++

			detail := c.fetchDetailWithRetry(ctx, cookies, stub, report)
			if note, ok := detail.Get(); ok {
				report.Notes = append(report.Notes, note)
			} else if ctx.Err() == nil {
				log.WithField("reason", detail.Reason()).Warnf("Dropping note %s", stub.ID)
				report.Dropped[detail.Reason()]++
			}
		}
	}

	report.Interrupted = ctx.Err() != nil
	report.FinishedAt = time.Now()
	if report.Interrupted {
		log.Warnf("Crawl interrupted, saving %d notes collected so far", len(report.Notes))
	}

	if len(report.Notes) == 0 {
		log.Warn("No note details were collected")
		return report, nil
	}

	// Flush even when the run was cancelled.
	if err := c.save(context.WithoutCancel(ctx), report); err != nil {
		return report, err
	}
	log.Infof("Crawl finished: %d notes saved in %s", len(report.Notes), report.Duration().Round(time.Second))
	return report, nil
}

func (c *Crawler) searchPage(ctx context.Context, cookies []types.CookieRecord, keyword string, page int, report *RunReport) Outcome[[]types.SearchResultStub] {
	searchURL := c.SearchURL(keyword, page)
	c.logger.Infof("Searching %q, page %d", keyword, page)

	return WithPage(ctx, c.pages, cookies, searchURL, WaitDOMContentLoaded, func(p *RenderedPage) Outcome[[]types.SearchResultStub] {
		if err := p.Sleep(c.opts.SettleDelay); err != nil {
			return NotFound[[]types.SearchResultStub](ReasonNavigationFailed)
		}
		if _, ok := p.WaitForChain(c.opts.Chains.ResultCard, c.opts.SelectorTimeout).Get(); !ok {
			c.logger.Warn("No result card selector appeared; inspecting the page anyway")
		}

		doc, err := p.Document()
		if err != nil {
			c.logger.Errorf("Failed to snapshot search page: %v", err)
			return NotFound[[]types.SearchResultStub](ReasonNavigationFailed)
		}

		cards, ok := c.resolver.ResolveAll(doc.Selection, c.opts.Chains.ResultCard).Get()
		if !ok {
			return NotFound[[]types.SearchResultStub](ReasonChainExhausted)
		}

		var stubs []types.SearchResultStub
		for i, n := 0, cards.Length(); i < n; i++ {
			out := c.extractor.ExtractStub(cards.Eq(i))
			stub, ok := out.Get()
			if !ok {
				c.logger.Debugf("Skipping card %d: %s", i+1, out.Reason())
				report.Dropped[out.Reason()]++
				continue
			}
			c.logger.Debugf("Found note %s", stub)
			stubs = append(stubs, stub)
		}
		report.StubsFound += len(stubs)
		return Found(stubs)
	})
}

// fetchDetailWithRetry retries only navigation failures; a page that loaded
// but lacks the body will not improve on reload.
func (c *Crawler) fetchDetailWithRetry(ctx context.Context, cookies []types.CookieRecord, stub types.SearchResultStub, report *RunReport) Outcome[types.PostDetail] {
	out := c.FetchDetail(ctx, cookies, stub)
	for attempt := 1; attempt <= c.opts.MaxRetries && out.Reason() == ReasonNavigationFailed && stub.URL != ""; attempt++ {
		if err := c.pacer.Pace(ctx, c.opts.DetailDelay); err != nil {
			return out
		}
		c.logger.Infof("Retrying note %s (attempt %d/%d)", stub.ID, attempt, c.opts.MaxRetries)
		report.Retries++
		out = c.FetchDetail(ctx, cookies, stub)
	}
	return out
}

// FetchDetail opens the note page for stub and reads its title and body.
// stub.URL is required; there is no lookup by ID alone.
func (c *Crawler) FetchDetail(ctx context.Context, cookies []types.CookieRecord, stub types.SearchResultStub) Outcome[types.PostDetail] {
	c.logger.Infof("Fetching note detail: %s", stub.ID)
	return WithPage(ctx, c.pages, cookies, stub.URL, WaitNetworkIdle, func(p *RenderedPage) Outcome[types.PostDetail] {
		if _, ok := p.WaitForChain(c.opts.Chains.DetailBody, c.opts.DetailSelectorTimeout).Get(); !ok {
			c.logger.Debugf("Note body for %s did not render", stub.ID)
		}

		doc, err := p.Document()
		if err != nil {
			c.logger.Errorf("Failed to snapshot note %s: %v", stub.ID, err)
			return NotFound[types.PostDetail](ReasonNavigationFailed)
		}
		return c.extractor.ExtractDetail(doc.Selection, stub.ID)
	})
}

func (c *Crawler) save(ctx context.Context, report *RunReport) error {
	batch := report.Batch()
	var errs []error
	for _, sink := range c.sinks {
		if err := sink.SaveNotes(ctx, batch); err != nil {
			c.logger.Errorf("Failed to save notes: %v", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to save notes: %w", err)
	}
	return nil
}
