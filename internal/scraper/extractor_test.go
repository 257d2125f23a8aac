package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exploreURL = "https://www.xiaohongshu.com/explore"

func newTestExtractor() *Extractor {
	logger := newTestLogger()
	return NewExtractor(NewResolver(logger), DefaultChains(), exploreURL, logger)
}

func TestParseNoteLink(t *testing.T) {
	tests := []struct {
		name  string
		href  string
		want  NoteLink
		found bool
	}{
		{"explore with token", "/explore/abc123?xsec_token=XYZ", NoteLink{ID: "abc123", Token: "XYZ"}, true},
		{"explore without token", "/explore/abc123", NoteLink{ID: "abc123"}, true},
		{"search result", "/search_result/64f0a1b2?source=web&xsec_token=AB%3D&xsec_source=pc", NoteLink{ID: "64f0a1b2", Token: "AB%3D"}, true},
		{"absolute url", "https://www.xiaohongshu.com/explore/abc123#comments", NoteLink{ID: "abc123"}, true},
		{"trailing slash", "/explore/abc123/", NoteLink{ID: "abc123"}, true},
		{"other query only", "/explore/abc123?source=web", NoteLink{ID: "abc123"}, true},
		{"profile link", "/user/profile/5f1e", NoteLink{}, false},
		{"non-alphanumeric id", "/explore/abc-123", NoteLink{}, false},
		{"token param suffix", "/explore/abc?not_xsec_token=BAD&xsec_token=GOOD", NoteLink{ID: "abc", Token: "GOOD"}, true},
		{"token in fragment", "/explore/abc?x=1#xsec_token=Q", NoteLink{ID: "abc"}, true},
		{"token only in fragment", "/explore/abc#xsec_token=Q", NoteLink{ID: "abc"}, true},
		{"empty", "", NoteLink{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ParseNoteLink(tt.href)
			link, ok := out.Get()
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, link)
			} else {
				assert.Equal(t, ReasonUnparseableID, out.Reason())
			}
		})
	}
}

func TestDetailURLCarriesTokenOnlyWhenPresent(t *testing.T) {
	with := NoteLink{ID: "abc123", Token: "XYZ"}.DetailURL(exploreURL)
	without := NoteLink{ID: "abc123"}.DetailURL(exploreURL + "/")

	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc123?xsec_token=XYZ", with)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc123", without)
	assert.NotContains(t, without, "?")
}

func TestExtractStubWithToken(t *testing.T) {
	e := newTestExtractor()
	card := mustDoc(`<section class="note-item">
		<a href="/explore/abc123?xsec_token=XYZ"><span class="title"> Latte art </span></a>
		<span class="user-name">barista</span>
	</section>`).Find(".note-item")

	stub, ok := e.ExtractStub(card).Get()
	require.True(t, ok)
	assert.Equal(t, "abc123", stub.ID)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc123?xsec_token=XYZ", stub.URL)
	assert.Equal(t, "Latte art", stub.Title)
	assert.Equal(t, "barista", stub.Author)
}

func TestExtractStubWithoutToken(t *testing.T) {
	e := newTestExtractor()
	card := mustDoc(`<div class="note-item"><a href="/explore/abc123">x</a></div>`).Find(".note-item")

	stub, ok := e.ExtractStub(card).Get()
	require.True(t, ok)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc123", stub.URL)
	assert.Empty(t, stub.Title)
	assert.Empty(t, stub.Author)
}

func TestExtractStubPrefersSearchResultLink(t *testing.T) {
	e := newTestExtractor()
	card := mustDoc(`<div class="note-item">
		<a href="/explore/second">cover</a>
		<a href="/search_result/first?xsec_token=T1">title</a>
	</div>`).Find(".note-item")

	stub, ok := e.ExtractStub(card).Get()
	require.True(t, ok)
	assert.Equal(t, "first", stub.ID)
}

func TestExtractStubRejections(t *testing.T) {
	e := newTestExtractor()

	noLink := e.ExtractStub(mustDoc(`<div class="note-item"><span class="title">t</span></div>`).Find(".note-item"))
	assert.Equal(t, ReasonNoLink, noLink.Reason())
	assert.ErrorIs(t, noLink.Err(), ErrSelectorExhausted)

	badID := e.ExtractStub(mustDoc(`<div class="note-item"><a href="/explore/abc-123">t</a></div>`).Find(".note-item"))
	assert.Equal(t, ReasonUnparseableID, badID.Reason())
	assert.ErrorIs(t, badID.Err(), ErrParse)
}

func TestExtractStubIsIdempotent(t *testing.T) {
	e := newTestExtractor()
	card := mustDoc(`<div class="note-item"><a href="/explore/abc123?xsec_token=XYZ"><h3>t</h3></a></div>`).Find(".note-item")

	assert.Equal(t, e.ExtractStub(card), e.ExtractStub(card))
}

func TestExtractDetail(t *testing.T) {
	e := newTestExtractor()
	doc := mustDoc(`<div id="noteContainer">
		<div id="detail-title">Weekend brunch</div>
		<div id="detail-desc"><span class="note-text"> Eggs <b>and</b> toast </span></div>
	</div>`)

	detail, ok := e.ExtractDetail(doc.Selection, "abc123").Get()
	require.True(t, ok)
	assert.Equal(t, "abc123", detail.ID)
	assert.Equal(t, "Weekend brunch", detail.Title)
	assert.Equal(t, "Eggs and toast", detail.Content)
}

func TestExtractDetailWithoutTitle(t *testing.T) {
	e := newTestExtractor()
	detail, ok := e.ExtractDetail(mustDoc(`<div class="note-text">body only</div>`).Selection, "n1").Get()
	require.True(t, ok)
	assert.Empty(t, detail.Title)
	assert.Equal(t, "body only", detail.Content)
}

func TestExtractDetailKeepsParagraphs(t *testing.T) {
	e := newTestExtractor()
	doc := mustDoc(`<div class="note-text"><span>第一段</span><br><span>第二段</span><br>#咖啡[话题]#</div>`)

	detail, ok := e.ExtractDetail(doc.Selection, "n1").Get()
	require.True(t, ok)
	assert.Equal(t, "第一段\n第二段\n#咖啡[话题]#", detail.Content)
}

func TestExtractDetailWithoutBody(t *testing.T) {
	e := newTestExtractor()
	out := e.ExtractDetail(mustDoc(`<div id="detail-title">title only</div>`).Selection, "n1")

	assert.False(t, out.IsFound())
	assert.Equal(t, ReasonDetailChainExhausted, out.Reason())
}
