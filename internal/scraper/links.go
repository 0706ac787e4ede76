package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// ExtractLinks returns the detail links of a list page in document order.
// LinkSelectors are tried in order and the first selector producing at least
// one acceptable link wins. Links differing only in host case, default port
// or query order are kept once.
func ExtractLinks(body []byte, pageURL string, site SiteConfig) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, ingest.NewError(ingest.KindParse, "links", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ingest.NewError(ingest.KindParse, "links", pageURL, err)
	}

	for _, selector := range site.LinkSelectors {
		var (
			links []string
			seen  = make(map[string]struct{})
		)
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				return
			}
			link, ok := acceptLink(base, href, site)
			if !ok {
				return
			}
			key, err := ingest.NormalizeURL(link)
			if err != nil {
				key = link
			}
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
			links = append(links, link)
		})
		if len(links) > 0 {
			return links, nil
		}
	}
	return nil, nil
}

func acceptLink(base *url.URL, href string, site SiteConfig) (string, bool) {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return "", false
	}
	resolved, err := ingest.ResolveURL(base, href)
	if err != nil {
		return "", false
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	resolved.Fragment = ""
	if site.SameHost && !strings.EqualFold(resolved.Hostname(), base.Hostname()) {
		return "", false
	}
	link := resolved.String()
	if len(site.LinkContains) > 0 && !containsAny(link, site.LinkContains) {
		return "", false
	}
	return link, true
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// archiveKey builds the blob path of an archived page.
func archiveKey(prefix, site, day, digest string) string {
	return fmt.Sprintf("%s/%s/%s/%s.html", strings.Trim(prefix, "/"), site, day, digest)
}
