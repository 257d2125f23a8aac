package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"xhs-scraper/pkg/types"
)

// noteLinkPattern matches both link shapes a result card can carry:
//
//	/explore/<id>[?...xsec_token=<token>...]
//	/search_result/<id>[?...xsec_token=<token>...]
//
// id is the alphanumeric note ID; token is the optional access token that
// lets the detail page render, captured verbatim. The token must be a whole
// query parameter: names that merely end in xsec_token and anything after
// the fragment marker are ignored.
var noteLinkPattern = regexp.MustCompile(`/(?:explore|search_result)/(?P<id>[a-zA-Z0-9]+)(?:\?(?:[^#]*?&)?xsec_token=(?P<token>[^&#]+))?`)

var (
	noteIDGroup    = noteLinkPattern.SubexpIndex("id")
	noteTokenGroup = noteLinkPattern.SubexpIndex("token")
)

const accessTokenParam = "xsec_token"

// NoteLink is the parsed form of a card's href.
type NoteLink struct {
	ID    string
	Token string
}

// ParseNoteLink extracts the note ID and optional access token from href.
func ParseNoteLink(href string) Outcome[NoteLink] {
	loc := noteLinkPattern.FindStringSubmatchIndex(href)
	if loc == nil {
		return NotFound[NoteLink](ReasonUnparseableID)
	}

	idEnd := loc[2*noteIDGroup+1]
	if idEnd < len(href) && !strings.ContainsRune("/?#", rune(href[idEnd])) {
		// "/explore/abc-123": the segment continues past the alphanumeric run.
		return NotFound[NoteLink](ReasonUnparseableID)
	}

	link := NoteLink{ID: href[loc[2*noteIDGroup]:idEnd]}
	if start := loc[2*noteTokenGroup]; start >= 0 {
		link.Token = href[start:loc[2*noteTokenGroup+1]]
	}
	return Found(link)
}

// DetailURL builds the canonical note URL under exploreURL. The token is
// appended as-is and only when present.
func (l NoteLink) DetailURL(exploreURL string) string {
	u := strings.TrimRight(exploreURL, "/") + "/" + l.ID
	if l.Token != "" {
		u += "?" + accessTokenParam + "=" + l.Token
	}
	return u
}

// Extractor turns matched card elements and detail pages into records.
type Extractor struct {
	resolver   *Resolver
	chains     Chains
	exploreURL string
	logger     *logrus.Logger
}

func NewExtractor(resolver *Resolver, chains Chains, exploreURL string, logger *logrus.Logger) *Extractor {
	return &Extractor{
		resolver:   resolver,
		chains:     chains,
		exploreURL: exploreURL,
		logger:     logger,
	}
}

// ExtractStub maps one result card to a stub. A card without a parseable
// note link is rejected; a missing title or author is not.
func (e *Extractor) ExtractStub(card *goquery.Selection) Outcome[types.SearchResultStub] {
	anchor, ok := e.resolver.ResolveFirst(card, e.chains.Link).Get()
	if !ok {
		e.logger.Debug("No note link found in card")
		return NotFound[types.SearchResultStub](ReasonNoLink)
	}

	href, _ := anchor.Attr("href")
	e.logger.Debugf("Found link: %s", href)

	link, ok := ParseNoteLink(href).Get()
	if !ok {
		e.logger.Debugf("Could not parse note ID from link: %s", href)
		return NotFound[types.SearchResultStub](ReasonUnparseableID)
	}

	title, _ := e.resolver.ResolveText(card, e.chains.Title).Get()
	author, _ := e.resolver.ResolveText(card, e.chains.Author).Get()

	return Found(types.SearchResultStub{
		ID:     link.ID,
		URL:    link.DetailURL(e.exploreURL),
		Title:  title,
		Author: author,
	})
}

// ExtractDetail reads a rendered note page. Without a body the record is
// worthless, so an exhausted body chain rejects the whole detail.
func (e *Extractor) ExtractDetail(root *goquery.Selection, id string) Outcome[types.PostDetail] {
	content, ok := e.resolver.ResolveText(root, e.chains.DetailBody).Get()
	if !ok {
		return NotFound[types.PostDetail](ReasonDetailChainExhausted)
	}
	title, _ := e.resolver.ResolveText(root, e.chains.DetailTitle).Get()

	return Found(types.PostDetail{
		ID:      id,
		Title:   title,
		Content: content,
	})
}
