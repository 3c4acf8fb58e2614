package content

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	shortLineRunes   = 30
	shortLineRunSize = 3
)

// Elements that never carry article prose.
const chromeTags = "script, style, noscript, iframe, nav, aside, form, svg, button, template, dialog"

// noiseTokens are class or id words marking page chrome. Attributes are split
// on whitespace, dashes and underscores before matching.
var noiseTokens = map[string]bool{
	"nav": true, "navbar": true, "navigation": true, "menu": true,
	"ad": true, "ads": true, "advert": true, "advertisement": true,
	"sidebar": true, "share": true, "sharing": true, "social": true,
	"comment": true, "comments": true, "footer": true, "banner": true,
	"cookie": true, "cookies": true, "newsletter": true, "subscribe": true,
	"popup": true, "modal": true, "related": true, "promo": true,
	"sponsor": true, "sponsored": true, "breadcrumb": true, "breadcrumbs": true,
}

var noiseRoles = map[string]bool{
	"navigation": true, "banner": true, "contentinfo": true, "complementary": true,
}

// stripChrome removes navigation, ads and similar blocks from the whole
// document before any container is chosen.
func stripChrome(doc *goquery.Document) {
	doc.Find(chromeTags).Remove()

	doc.Find("header, footer").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Closest("article, main").Length() == 0
	}).Remove()

	doc.Find("[class], [id], [role]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		switch goquery.NodeName(s) {
		case "html", "body", "article", "main":
			return false
		}
		if noiseRoles[strings.ToLower(s.AttrOr("role", ""))] {
			return true
		}
		return hasNoiseToken(s.AttrOr("class", "")) || hasNoiseToken(s.AttrOr("id", ""))
	}).Remove()
}

func hasNoiseToken(attr string) bool {
	parts := strings.FieldsFunc(strings.ToLower(attr), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '-' || r == '_'
	})
	for _, p := range parts {
		if noiseTokens[p] {
			return true
		}
	}
	return false
}

var (
	refLinkRe    = regexp.MustCompile(`\n\[\d+\]: https?://[^\n]+`)
	navListRe    = regexp.MustCompile(`(\n[*-] +\[[^\]]{1,20}\]\([^)]+\)){3,}`)
	socialLinkRe = regexp.MustCompile(`(?i)\[[^\]]*(facebook|twitter|linkedin|instagram|share|follow)[^\]]*\]\([^)]+\)`)
	socialLineRe = regexp.MustCompile(`(?im)^[ \t]*(share (this|on|via)|follow us)\b[^\n]{0,60}$`)
	copyrightRe  = regexp.MustCompile(`(?i)(©|\(c\)|copyright ©?)\s*\d{4}[^\n]*`)
	separatorRe  = regexp.MustCompile(`^[-_*=~+]{3,}$`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// CleanMarkdown removes leftover boilerplate from converted markdown: link
// reference lists, share buttons, copyright lines, separator rules and runs of
// short menu-like lines.
func CleanMarkdown(md string) string {
	md = strings.ReplaceAll(md, "\r\n", "\n")
	md = strings.ReplaceAll(md, "\u00a0", " ")
	md = refLinkRe.ReplaceAllString(md, "")
	md = navListRe.ReplaceAllString(md, "")
	md = socialLinkRe.ReplaceAllString(md, "")
	md = socialLineRe.ReplaceAllString(md, "")
	md = copyrightRe.ReplaceAllString(md, "")

	lines := strings.Split(md, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	lines = dropShortRuns(lines)

	kept := lines[:0]
	for _, l := range lines {
		if separatorRe.MatchString(strings.TrimSpace(l)) {
			continue
		}
		kept = append(kept, l)
	}

	md = strings.Join(kept, "\n")
	md = blankRunRe.ReplaceAllString(md, "\n\n")
	return strings.TrimSpace(md)
}

// dropShortRuns removes runs of shortLineRunSize or more consecutive short
// lines. Headings and images never count as short and break a run.
func dropShortRuns(lines []string) []string {
	out := make([]string, 0, len(lines))
	var run []string

	flush := func() {
		if len(run) < shortLineRunSize {
			out = append(out, run...)
		}
		run = run[:0]
	}

	for _, l := range lines {
		if isShortLine(l) {
			run = append(run, l)
			continue
		}
		flush()
		out = append(out, l)
	}
	flush()
	return out
}

func isShortLine(l string) bool {
	t := strings.TrimSpace(l)
	if t == "" || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "![") {
		return false
	}
	return utf8.RuneCountInString(t) < shortLineRunes
}
