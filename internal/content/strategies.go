package content

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Page is what a strategy may look at: the stripped document plus the raw
// HTML and URL for strategies that parse on their own.
type Page struct {
	Doc  *goquery.Document
	HTML string
	URL  *url.URL
}

// Candidate is a possible main-content container.
type Candidate struct {
	Selection *goquery.Selection
	TextLen   int
	Score     float64
}

// Strategy proposes content containers. Higher scores win within a strategy.
type Strategy interface {
	Name() string
	Candidates(p Page) []Candidate
}

// DefaultStrategies is the order containers are searched in.
func DefaultStrategies() []Strategy {
	return []Strategy{
		semanticStrategy{selectors: semanticSelectors},
		densityStrategy{},
		readabilityStrategy{},
	}
}

var semanticSelectors = []string{
	"article",
	"main",
	"[role=main]",
	".post-content",
	".entry-content",
	".article-content",
	".content",
	"#content",
	".post",
	".entry",
	".article",
}

// selectContainer walks strategies in order and returns the best candidate of
// the first strategy that produced one of at least minText characters.
func selectContainer(p Page, strategies []Strategy, minText int) (Candidate, string, bool) {
	for _, s := range strategies {
		var best Candidate
		found := false
		for _, c := range s.Candidates(p) {
			if c.TextLen < minText {
				continue
			}
			if !found || c.Score > best.Score {
				best = c
				found = true
			}
		}
		if found {
			return best, s.Name(), true
		}
	}
	return Candidate{}, "", false
}

type semanticStrategy struct {
	selectors []string
}

func (semanticStrategy) Name() string { return "semantic" }

// Candidates scores earlier selectors higher so the list order is the
// preference order.
func (s semanticStrategy) Candidates(p Page) []Candidate {
	var out []Candidate
	for i, sel := range s.selectors {
		node := p.Doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		out = append(out, Candidate{
			Selection: node,
			TextLen:   textLen(node.Text()),
			Score:     float64(len(s.selectors) - i),
		})
	}
	return out
}

type densityStrategy struct{}

func (densityStrategy) Name() string { return "density" }

// Candidates scores blocks by the prose sitting directly inside them,
// discounted by how much of their text is link text.
func (densityStrategy) Candidates(p Page) []Candidate {
	var out []Candidate
	p.Doc.Find("div, section, td").Each(func(_ int, s *goquery.Selection) {
		total := textLen(s.Text())
		if total == 0 {
			return
		}
		prose := 0
		s.ChildrenFiltered("p, pre, blockquote, ul, ol, h2, h3").Each(func(_ int, c *goquery.Selection) {
			prose += textLen(c.Text())
		})
		if prose == 0 {
			return
		}
		links := textLen(s.Find("a").Text())
		density := 1 - float64(links)/float64(total)
		if density < 0 {
			density = 0
		}
		out = append(out, Candidate{Selection: s, TextLen: total, Score: float64(prose) * density})
	})
	return out
}

type readabilityStrategy struct{}

func (readabilityStrategy) Name() string { return "readability" }

func (readabilityStrategy) Candidates(p Page) []Candidate {
	if strings.TrimSpace(p.HTML) == "" {
		return nil
	}
	article, err := readability.FromReader(strings.NewReader(p.HTML), p.URL)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return nil
	}
	n := textLen(article.TextContent)
	return []Candidate{{Selection: doc.Selection, TextLen: n, Score: float64(n)}}
}

// textLen counts runes after collapsing whitespace.
func textLen(s string) int {
	return utf8.RuneCountInString(strings.Join(strings.Fields(s), " "))
}
