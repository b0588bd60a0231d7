// Package extract turns captured page HTML into the text carried by an
// activity report.
//
// Pipeline: sanitize (bluemonday strips scripts, styles and event handlers)
// → convert to markdown-flavoured text → collapse whitespace → cap. When the
// markdown conversion fails or yields nothing, a plain-text DOM walk is the
// fallback, so a capture never dies on exotic markup.
package extract

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultMaxChars caps activity content size.
const DefaultMaxChars = 8000

// Extractor converts page HTML into capped readable text.
type Extractor struct {
	policy   *bluemonday.Policy
	conv     *converter.Converter
	maxChars int
}

// New creates an Extractor. maxChars <= 0 selects DefaultMaxChars.
func New(maxChars int) *Extractor {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Extractor{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		maxChars: maxChars,
	}
}

// Text extracts readable text from raw page HTML, capped at maxChars runes.
func (e *Extractor) Text(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}

	clean := e.policy.Sanitize(rawHTML)

	text, err := e.conv.ConvertString(clean)
	if err != nil || strings.TrimSpace(text) == "" {
		text = plainText(clean)
	}

	return Cap(collapse(text), e.maxChars)
}

// Title returns the <title> text of rawHTML, or "".
func Title(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	return findTitle(doc)
}

// Cap truncates s to at most max runes.
func Cap(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// plainText walks the DOM collecting text nodes, skipping script and style.
func plainText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.ElementNode &&
			(n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Noscript):
			return
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

// collapse squeezes every whitespace run into a single space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
