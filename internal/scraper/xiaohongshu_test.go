package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"xhs-scraper/pkg/types"
)

const (
	coffeeSearchURL = "https://www.xiaohongshu.com/search_result?keyword=coffee&type=51"
	latteURL        = "https://www.xiaohongshu.com/explore/abc123?xsec_token=XYZ"
	mochaURL        = "https://www.xiaohongshu.com/explore/def456"
)

const coffeeSearchHTML = `<html><body><div class="feeds-container">
  <section class="note-item">
    <a href="/search_result/abc123?xsec_token=XYZ&xsec_source=pc"><span class="title">Latte</span></a>
    <span class="name">anna</span>
  </section>
  <section class="note-item">
    <a href="/explore/def456"><span class="title">Mocha</span></a>
  </section>
  <section class="note-item"><span class="title">ad slot</span></section>
</div></body></html>`

type recordingSink struct {
	batches []types.NoteBatch
	err     error
}

func (s *recordingSink) SaveNotes(_ context.Context, batch types.NoteBatch) error {
	s.batches = append(s.batches, batch)
	return s.err
}

func testCrawlerOptions() CrawlerOptions {
	opts := DefaultCrawlerOptions()
	opts.SettleDelay = 0
	opts.SelectorTimeout = time.Millisecond
	opts.DetailSelectorTimeout = time.Millisecond
	return opts
}

func newTestCrawler(b *fakeBrowser, sinks ...Sink) *Crawler {
	return NewCrawler(newTestPageController(b), instantPacer(), testCrawlerOptions(), newTestLogger(), sinks...)
}

func coffeeBrowser() *fakeBrowser {
	b := newFakeBrowser()
	b.pages[coffeeSearchURL] = coffeeSearchHTML
	b.pages[latteURL] = `<div id="detail-title">Latte</div><div id="detail-desc"><span class="note-text">Oat milk latte</span></div>`
	// Rendered, but the body never appeared.
	b.pages[mochaURL] = `<div id="detail-title">Mocha</div>`
	return b
}

var testCookies = BuildCookies("a1=x; web_session=y", DefaultCookieDomain)

func TestSearchURL(t *testing.T) {
	c := newTestCrawler(newFakeBrowser())

	assert.Equal(t, coffeeSearchURL, c.SearchURL("coffee", 1))
	assert.Equal(t, "https://www.xiaohongshu.com/search_result?keyword=%E5%92%96%E5%95%A1+%E6%8E%A8%E8%8D%90&type=51&page=3", c.SearchURL("咖啡 推荐", 3))
}

func TestRunCollectsDetailsAndDropsFailures(t *testing.T) {
	b := coffeeBrowser()
	sink := &recordingSink{}
	c := newTestCrawler(b, sink)

	report, err := c.Run(context.Background(), testCookies, "coffee", 1)
	require.NoError(t, err)

	assert.Equal(t, []types.PostDetail{{ID: "abc123", Title: "Latte", Content: "Oat milk latte"}}, report.Notes)
	assert.Equal(t, 2, report.StubsFound)
	assert.Equal(t, 1, report.Dropped[ReasonNoLink])
	assert.Equal(t, 1, report.Dropped[ReasonDetailChainExhausted])
	assert.Equal(t, 2, report.DroppedTotal())
	assert.Equal(t, 1, report.Exhausted[RoleLink])
	assert.Equal(t, 1, report.Exhausted[RoleDetailBody])
	assert.False(t, report.Interrupted)
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, []string{coffeeSearchURL, latteURL, mochaURL}, b.visits)
	assert.Equal(t, 3, b.opened)
	assert.Equal(t, b.opened, b.closed)

	require.Len(t, sink.batches, 1)
	assert.Equal(t, report.RunID, sink.batches[0].RunID)
	assert.Equal(t, "coffee", sink.batches[0].Keyword)
	assert.Equal(t, report.Notes, sink.batches[0].Notes)
}

func TestRunRejectsEmptySession(t *testing.T) {
	b := coffeeBrowser()
	c := newTestCrawler(b)

	_, err := c.Run(context.Background(), BuildCookies("", DefaultCookieDomain), "coffee", 1)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = c.Run(context.Background(), testCookies, "  ", 1)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = c.Run(context.Background(), testCookies, "coffee", 0)
	assert.ErrorIs(t, err, ErrConfig)

	assert.Zero(t, b.opened)
}

func TestRunWithNoResultsIsNotAnError(t *testing.T) {
	b := newFakeBrowser()
	b.pages[coffeeSearchURL] = `<html><body><p>没有找到相关内容</p></body></html>`
	sink := &recordingSink{}

	report, err := newTestCrawler(b, sink).Run(context.Background(), testCookies, "coffee", 1)
	require.NoError(t, err)

	assert.Empty(t, report.Notes)
	assert.Equal(t, 1, report.Exhausted[RoleResultCard])
	assert.Empty(t, sink.batches)
	assert.Equal(t, b.opened, b.closed)
}

func TestRunRetriesNavigationFailures(t *testing.T) {
	b := coffeeBrowser()
	b.failures[latteURL] = 2
	b.failures[mochaURL] = -1

	report, err := newTestCrawler(b).Run(context.Background(), testCookies, "coffee", 1)
	require.NoError(t, err)

	require.Len(t, report.Notes, 1)
	assert.Equal(t, "abc123", report.Notes[0].ID)
	assert.Equal(t, 1, report.Dropped[ReasonNavigationFailed])
	// Two retries for the latte, three for the mocha before giving up.
	assert.Equal(t, 5, report.Retries)
	assert.Equal(t, 1+3+4, b.opened)
	assert.Equal(t, b.opened, b.closed)
}

func TestRunSkipsDuplicateNotesAcrossPages(t *testing.T) {
	b := coffeeBrowser()
	b.pages[coffeeSearchURL+"&page=2"] = coffeeSearchHTML

	report, err := newTestCrawler(b).Run(context.Background(), testCookies, "coffee", 2)
	require.NoError(t, err)

	assert.Len(t, report.Notes, 1)
	assert.Equal(t, 2, report.Duplicates)
	assert.Equal(t, 4, report.StubsFound)
}

func TestRunFailedSearchPageContinues(t *testing.T) {
	b := coffeeBrowser()
	b.failures[coffeeSearchURL] = -1
	b.pages[coffeeSearchURL+"&page=2"] = coffeeSearchHTML
	report, err := newTestCrawler(b).Run(context.Background(), testCookies, "coffee", 2)
	require.NoError(t, err)
	assert.Len(t, report.Notes, 1)
}

func TestRunInterruptedStillSaves(t *testing.T) {
	b := coffeeBrowser()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.onNavigate = func(url string) {
		if url == latteURL {
			cancel()
		}
	}
	sink := &recordingSink{}

	report, err := newTestCrawler(b, sink).Run(ctx, testCookies, "coffee", 1)
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.NotContains(t, b.visits, mochaURL)
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0].Notes, 1)
	assert.Equal(t, b.opened, b.closed)
}

func TestRunReportsSinkErrors(t *testing.T) {
	failing := &recordingSink{err: errors.New("disk full")}
	ok := &recordingSink{}

	report, err := newTestCrawler(coffeeBrowser(), failing, ok).Run(context.Background(), testCookies, "coffee", 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NotNil(t, report)
	assert.Len(t, ok.batches, 1)
}

func TestRunPacesBetweenDetailsAndPages(t *testing.T) {
	b := coffeeBrowser()
	b.failures[latteURL] = 1
	b.pages[coffeeSearchURL+"&page=2"] = `<div class="note-item"><a href="/explore/ghi789">Flat white</a></div>`
	b.pages["https://www.xiaohongshu.com/explore/ghi789"] = `<div class="note-text">Double shot</div>`

	var slept []time.Duration
	opts := testCrawlerOptions()
	opts.DetailDelay = Seconds(1, 1)
	opts.PageDelay = Seconds(2, 2)
	c := NewCrawler(newTestPageController(b), recordingPacer(&slept), opts, newTestLogger())

	report, err := c.Run(context.Background(), testCookies, "coffee", 2)
	require.NoError(t, err)
	assert.Len(t, report.Notes, 2)

	// Retry of the latte, latte -> mocha, then page 1 -> page 2 with no
	// trailing detail delay.
	assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, slept)
}

func TestRunTreatsHTTPErrorsAsNavigationFailures(t *testing.T) {
	b := coffeeBrowser()
	b.statuses[latteURL] = 429
	b.statuses[mochaURL] = 404

	report, err := newTestCrawler(b).Run(context.Background(), testCookies, "coffee", 1)
	require.NoError(t, err)

	assert.Empty(t, report.Notes)
	assert.Equal(t, 2, report.Dropped[ReasonNavigationFailed])
	assert.Zero(t, report.Dropped[ReasonDetailChainExhausted])
	assert.Equal(t, 6, report.Retries)
}

func TestRunRetriesAfterTransientHTTPError(t *testing.T) {
	b := coffeeBrowser()
	b.statuses[latteURL] = 503
	b.onNavigate = func(url string) {
		if url == latteURL && b.statuses[latteURL] != 0 && len(b.visits) > 2 {
			delete(b.statuses, latteURL)
		}
	}

	report, err := newTestCrawler(b).Run(context.Background(), testCookies, "coffee", 1)
	require.NoError(t, err)

	require.Len(t, report.Notes, 1)
	assert.Equal(t, "abc123", report.Notes[0].ID)
	assert.Equal(t, 1, report.Retries)
}
