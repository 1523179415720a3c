package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// MaxScannedLinks is how many <a> elements are examined per page.
const MaxScannedLinks = 20

// Keywords mark anchor text worth keeping.
var Keywords = []string{
	"deadline", "grant", "funding", "opportunity", "application",
	"amount", "budget", "proposal", "eligibility", "criteria",
}

// FilterLinks scans the first MaxScannedLinks anchors of html and keeps those
// whose text mentions a keyword, resolving hrefs against pageURL.
func FilterLinks(html, pageURL string) []crawler.Link {
	links := []crawler.Link{}
	if html == "" {
		return links
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return links
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}
	doc.Find("a").EachWithBreak(func(i int, a *goquery.Selection) bool {
		if i >= MaxScannedLinks {
			return false
		}
		text := strings.Join(strings.Fields(a.Text()), " ")
		if !hasKeyword(text) {
			return true
		}
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		if resolved, ok := resolve(base, href); ok {
			links = append(links, crawler.Link{URL: resolved, Text: text})
		}
		return true
	})
	return links
}

func hasKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base == nil {
		return ref.String(), true
	}
	return base.ResolveReference(ref).String(), true
}
