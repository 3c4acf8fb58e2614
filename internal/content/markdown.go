package content

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// newConverter returns an html-to-markdown converter that keeps link text and
// drops link targets.
func newConverter(domain string) *md.Converter {
	conv := md.NewConverter(domain, true, nil)
	conv.AddRules(md.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
			return md.String(content)
		},
	})
	return conv
}

// HTMLToMarkdown converts an HTML fragment, such as the text of an Ask HN
// post, to markdown. Boilerplate cleanup is not applied since the fragment is
// all author text.
func HTMLToMarkdown(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	out, err := newConverter("").ConvertString(html)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(blankRunRe.ReplaceAllString(out, "\n\n")), nil
}
