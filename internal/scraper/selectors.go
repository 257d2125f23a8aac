package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Role names the semantic part of the page a selector chain locates.
type Role string

const (
	RoleResultCard  Role = "resultCard"
	RoleLink        Role = "link"
	RoleTitle       Role = "title"
	RoleAuthor      Role = "author"
	RoleDetailTitle Role = "detailTitle"
	RoleDetailBody  Role = "detailBody"
)

// SelectorChain is an ordered list of CSS selectors for one role. The first
// selector that matches wins; later selectors are never consulted and results
// are never merged, so chains go from most specific to most generic.
type SelectorChain struct {
	Role      Role
	Selectors []string
}

func NewChain(role Role, selectors ...string) SelectorChain {
	return SelectorChain{Role: role, Selectors: selectors}
}

// Chains groups every chain the crawler needs.
type Chains struct {
	ResultCard  SelectorChain
	Link        SelectorChain
	Title       SelectorChain
	Author      SelectorChain
	DetailTitle SelectorChain
	DetailBody  SelectorChain
}

// DefaultChains reflects the markup observed on search and note pages.
// Xiaohongshu reshuffles class names often; override them in config.
func DefaultChains() Chains {
	return Chains{
		ResultCard:  NewChain(RoleResultCard, ".note-item", "div[data-id]", "div[data-note-id]", ".search-note-item", ".note-card"),
		Link:        NewChain(RoleLink, `a[href*="/search_result/"]`, `a[href*="/explore/"]`),
		Title:       NewChain(RoleTitle, ".title", ".note-title", "h3", ".desc", ".content"),
		Author:      NewChain(RoleAuthor, ".user-name", ".author-name", ".nickname", ".user", ".name"),
		DetailTitle: NewChain(RoleDetailTitle, "#detail-title", ".title"),
		DetailBody:  NewChain(RoleDetailBody, ".note-text", "#detail-desc"),
	}
}

// All returns the chains in a fixed order, for validation and reporting.
func (c Chains) All() []SelectorChain {
	return []SelectorChain{c.ResultCard, c.Link, c.Title, c.Author, c.DetailTitle, c.DetailBody}
}

// Resolver runs selector chains against a DOM root and logs every
// exhausted chain so stale selectors show up in the logs.
type Resolver struct {
	logger *logrus.Logger
	// OnExhausted, when set, is told about every exhausted chain.
	OnExhausted func(role Role)
}

func NewResolver(logger *logrus.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// ResolveAll returns every element matched by the earliest selector in the
// chain that matches at least one element.
func (r *Resolver) ResolveAll(root *goquery.Selection, chain SelectorChain) Outcome[*goquery.Selection] {
	for _, selector := range chain.Selectors {
		matches := root.Find(selector)
		if matches.Length() > 0 {
			r.logger.Debugf("Role %s matched %d elements with selector '%s'", chain.Role, matches.Length(), selector)
			return Found(matches)
		}
	}
	r.exhausted(chain)
	return NotFound[*goquery.Selection](ReasonChainExhausted)
}

// ResolveFirst is ResolveAll narrowed to the first matched element.
func (r *Resolver) ResolveFirst(root *goquery.Selection, chain SelectorChain) Outcome[*goquery.Selection] {
	out := r.ResolveAll(root, chain)
	if sel, ok := out.Get(); ok {
		return Found(sel.First())
	}
	return out
}

// ResolveText returns the rendered text of the first element matched by the
// earliest selector whose first match has non-empty text. Line breaks from
// <br> and block elements are kept, as a browser's innerText keeps them.
func (r *Resolver) ResolveText(root *goquery.Selection, chain SelectorChain) Outcome[string] {
	for _, selector := range chain.Selectors {
		match := root.Find(selector).First()
		if match.Length() == 0 {
			continue
		}
		if text := InnerText(match); text != "" {
			r.logger.Debugf("Role %s resolved with selector '%s'", chain.Role, selector)
			return Found(text)
		}
	}
	r.exhausted(chain)
	return NotFound[string](ReasonChainExhausted)
}

func (r *Resolver) exhausted(chain SelectorChain) {
	r.logger.WithFields(logrus.Fields{
		"role":      chain.Role,
		"selectors": strings.Join(chain.Selectors, " | "),
	}).Debug("Selector chain exhausted")
	if r.OnExhausted != nil {
		r.OnExhausted(chain.Role)
	}
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true,
	"figure": true, "footer": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true,
	"li": true, "main": true, "nav": true, "ol": true, "p": true,
	"pre": true, "section": true, "table": true, "tr": true, "ul": true,
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// InnerText approximates the browser's innerText for sel: source whitespace
// collapses to single spaces, <br> and block boundaries become newlines and
// script or style content is skipped. At most one blank line is kept.
func InnerText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		writeInnerText(&b, node)
	})

	var lines []string
	blank := false
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank || len(lines) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func writeInnerText(b *strings.Builder, node *goquery.Selection) {
	name := goquery.NodeName(node)
	switch {
	case name == "#text":
		b.WriteString(whitespaceRun.ReplaceAllString(node.Text(), " "))
		return
	case name == "br":
		b.WriteByte('\n')
		return
	case name == "script" || name == "style" || name == "#comment":
		return
	}

	block := blockElements[name]
	if block {
		lineBreak(b)
	}
	node.Contents().Each(func(_ int, child *goquery.Selection) {
		writeInnerText(b, child)
	})
	if block {
		lineBreak(b)
	}
}

// lineBreak starts a new line unless the builder is already at one.
func lineBreak(b *strings.Builder) {
	if s := b.String(); s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}
