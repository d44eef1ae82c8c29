package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// appPathMarker identifies application page links.
const appPathMarker = "/app/"

// Scope selects which part of a listing page holds the application links.
type Scope int

const (
	// ScopeDeveloper reads links from a developer catalog page.
	ScopeDeveloper Scope = iota
	// ScopeFeatured reads links from the featured-games listing.
	ScopeFeatured
)

func (s Scope) String() string {
	switch s {
	case ScopeDeveloper:
		return "developer"
	case ScopeFeatured:
		return "featured"
	default:
		return "unknown"
	}
}

// DiscoverLinks returns the distinct application page URLs on a single
// listing page, in the order they first appear.
func DiscoverLinks(doc *goquery.Document, scope Scope, schema MarkupSchema) []string {
	if doc == nil {
		return nil
	}
	if schema == nil {
		schema = DefaultSchema()
	}

	var anchors *goquery.Selection
	switch scope {
	case ScopeDeveloper:
		anchors = doc.Find(schema.DeveloperSection()).Find("a[href]")
	case ScopeFeatured:
		items := doc.Find(schema.FeaturedItem())
		anchors = items.Filter("a[href]").AddSelection(items.Find("a[href]"))
	default:
		return nil
	}

	seen := make(map[string]struct{})
	links := make([]string, 0, anchors.Length())
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(href, appPathMarker) {
			return
		}
		link := NormalizeLink(doc.Url, href)
		if link == "" {
			return
		}
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// NormalizeLink resolves href against base and drops the query string and
// fragment, so the same page reached with different tracking parameters maps
// to one URL.
func NormalizeLink(base *url.URL, href string) string {
	resolved := ResolveURL(base, href)
	if resolved == "" {
		return ""
	}
	u, err := url.Parse(resolved)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	return u.String()
}

// ResolveURL makes href absolute against base. A nil base returns href as is.
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	link, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return link.String()
	}
	return base.ResolveReference(link).String()
}
