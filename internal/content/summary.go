package content

import (
	"regexp"
	"strings"
)

const DefaultSummaryChars = 500

var (
	imageRe    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	emphasisRe = regexp.MustCompile(`(\*{1,3}|_{1,3}|~~)([^*_~\n]+)(\*{1,3}|_{1,3}|~~)`)
	headingRe  = regexp.MustCompile(`(?m)^#{1,6}[ \t]*`)
	listRe     = regexp.MustCompile(`(?m)^[ \t]*([-*+]|\d+\.)[ \t]+`)
	quoteRe    = regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`)
	codeRe     = regexp.MustCompile("`+")
)

// Summarize builds a plain-text summary of at most maxChars characters plus
// an ellipsis from the leading paragraphs of md.
func Summarize(md string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultSummaryChars
	}
	budget := maxChars * 3 / 2

	var parts []string
	length := 0
	for _, p := range strings.Split(md, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(parts) > 0 && length+len(p) >= budget {
			break
		}
		parts = append(parts, p)
		length += len(p)
	}

	text := stripMarkup(strings.Join(parts, "\n\n"))
	text = strings.Join(strings.Fields(text), " ")
	return truncate(text, maxChars)
}

func stripMarkup(s string) string {
	s = imageRe.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1")
	s = emphasisRe.ReplaceAllString(s, "$2")
	s = headingRe.ReplaceAllString(s, "")
	s = listRe.ReplaceAllString(s, "")
	s = quoteRe.ReplaceAllString(s, "")
	return codeRe.ReplaceAllString(s, "")
}

// truncate cuts s to max runes, preferring the last sentence end in the
// second half of the cut, then the last word boundary.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	cut := string(r[:max])

	if i := lastSentenceEnd(cut); i >= len(cut)/2 {
		return strings.TrimSpace(cut[:i]) + " ..."
	}
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-") + "..."
}

// lastSentenceEnd returns the byte offset just past the last '.', '!' or '?'
// that is followed by a space, or -1.
func lastSentenceEnd(s string) int {
	for i := len(s) - 2; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' {
				return i + 1
			}
		}
	}
	return -1
}
