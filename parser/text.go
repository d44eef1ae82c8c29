package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var innerWhitespace = regexp.MustCompile(`\s+`)

// cleanText trims text and collapses inner whitespace runs to a single space.
func cleanText(text string) string {
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(text, " "))
}

// strippedText joins every text node under sel, each trimmed, with no
// separator. Label/value pairs such as <dt>Size</dt><dd>400 MB</dd> come out
// as "Size400 MB", which is the shape the label parsers expect.
func strippedText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		collectText(n, &b)
	}
	return b.String()
}

func collectText(node *html.Node, b *strings.Builder) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		b.WriteString(strings.TrimSpace(node.Data))
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
}

// valueAfter returns the trimmed text following label, and whether label was present.
func valueAfter(text, label string) (string, bool) {
	idx := strings.Index(text, label)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(text[idx+len(label):]), true
}
