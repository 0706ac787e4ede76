package scraper

import (
	"bytes"
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// MaxDescriptionRunes bounds ScrapedFields.Description.
const MaxDescriptionRunes = 500

// ErrNoTitle is returned when neither a title selector nor <title> yields text.
var ErrNoTitle = errors.New("no title found")

// Selectors lists candidate CSS selectors per field, tried in order. The first
// candidate producing non-empty text wins. <meta> elements yield their content
// attribute and <time datetime> elements their datetime attribute.
type Selectors struct {
	Title       []string `yaml:"title"`
	Description []string `yaml:"description"`
	Content     []string `yaml:"content"`
	Date        []string `yaml:"date"`
	Category    []string `yaml:"category"`
	Author      []string `yaml:"author"`
}

// DefaultSelectors covers common news and CMS markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Title: []string{
			"h1.title", "h1.entry-title", "h1.post-title", "h1.article-title",
			".page-title h1", ".content-title", "h1",
		},
		Description: []string{
			`meta[name="description"]`, `meta[property="og:description"]`,
			".lead", ".summary", ".excerpt", ".entry-summary", "p",
		},
		Content: []string{
			"article", ".entry-content", ".article-content", ".content-body", "main",
		},
		Date: []string{
			`meta[property="article:published_time"]`, `meta[name="publishdate"]`,
			"time[datetime]", ".date", ".published",
		},
		Category: []string{
			`meta[property="article:section"]`, ".category", ".post-category", ".entry-category",
		},
		Author: []string{
			`meta[name="author"]`, ".author", ".byline",
		},
	}
}

// merge fills empty lists in s from fallback.
func (s Selectors) merge(fallback Selectors) Selectors {
	pick := func(a, b []string) []string {
		if len(a) > 0 {
			return a
		}
		return b
	}
	return Selectors{
		Title:       pick(s.Title, fallback.Title),
		Description: pick(s.Description, fallback.Description),
		Content:     pick(s.Content, fallback.Content),
		Date:        pick(s.Date, fallback.Date),
		Category:    pick(s.Category, fallback.Category),
		Author:      pick(s.Author, fallback.Author),
	}
}

// Extract parses body and fills ScrapedFields using sel. titleStrip lists
// site labels removed from titles, e.g. "SPK".
func Extract(body []byte, sel Selectors, titleStrip []string) (ingest.ScrapedFields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ingest.ScrapedFields{}, ingest.NewError(ingest.KindParse, "extract", "", err)
	}
	return ExtractDocument(doc, sel, titleStrip)
}

// ExtractDocument is Extract over an already parsed document.
func ExtractDocument(doc *goquery.Document, sel Selectors, titleStrip []string) (ingest.ScrapedFields, error) {
	var fields ingest.ScrapedFields

	fields.Title = stripPrefixes(firstText(doc, sel.Title), titleStrip)
	if fields.Title == "" {
		fields.Title = stripPrefixes(cleanText(doc.Find("title").First().Text()), titleStrip)
	}
	if fields.Title == "" {
		return ingest.ScrapedFields{}, ingest.NewError(ingest.KindParse, "extract", "", ErrNoTitle)
	}

	fields.Description = truncateRunes(firstText(doc, sel.Description), MaxDescriptionRunes)
	fields.Content = firstText(doc, sel.Content)
	if fields.Content == "" {
		fields.Content = fields.Description
	}
	fields.Category = firstText(doc, sel.Category)
	fields.Author = firstText(doc, sel.Author)

	for _, candidate := range sel.Date {
		text := firstText(doc, []string{candidate})
		if text == "" {
			continue
		}
		if t, ok := ParseTurkishDate(text); ok {
			fields.PublishedAt = &t
			break
		}
	}
	return fields, nil
}

// firstText returns the cleaned text of the first candidate that matches
// something non-empty.
func firstText(doc *goquery.Document, candidates []string) string {
	for _, candidate := range candidates {
		selection := doc.Find(candidate).First()
		if selection.Length() == 0 {
			continue
		}
		if text := cleanText(selectionValue(selection)); text != "" {
			return text
		}
	}
	return ""
}

func selectionValue(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "meta":
		return s.AttrOr("content", "")
	case "time":
		if v, ok := s.Attr("datetime"); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return s.Text()
}

var whitespace = regexp.MustCompile(`\s+`)

// cleanText collapses runs of whitespace into single spaces.
func cleanText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// stripPrefixes removes site labels such as "SPK - " at the start or
// " | EPDK" at the end of a title.
func stripPrefixes(title string, labels []string) string {
	for _, label := range labels {
		if label == "" {
			continue
		}
		quoted := regexp.QuoteMeta(label)
		leading := regexp.MustCompile(`(?i)^\s*` + quoted + `\s*[-–—|:]\s*`)
		trailing := regexp.MustCompile(`(?i)\s*[-–—|:]\s*` + quoted + `\s*$`)
		title = trailing.ReplaceAllString(leading.ReplaceAllString(title, ""), "")
	}
	return strings.TrimSpace(title)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}
