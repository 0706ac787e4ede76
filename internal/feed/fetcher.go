// Package feed retrieves RSS/Atom feeds and drives the periodic RSS refresh.
package feed

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// DefaultUserAgent identifies the feed poller to publishers.
const DefaultUserAgent = "Turkiye-Resmi-Haber-Bot/1.0 (+https://turkiyeresmihaber.com)"

// Config controls feed retrieval.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Fetcher downloads and parses feeds into typed items.
type Fetcher struct {
	cfg    Config
	parser *gofeed.Parser
}

// NewFetcher builds a Fetcher. A nil client uses a default http.Client.
func NewFetcher(cfg Config, client *http.Client) *Fetcher {
	cfg = cfg.withDefaults()
	parser := gofeed.NewParser()
	parser.UserAgent = cfg.UserAgent
	if client != nil {
		parser.Client = client
	} else {
		parser.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{cfg: cfg, parser: parser}
}

// Fetch retrieves feedURL and returns its items in document order.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]ingest.FeedItem, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, classify(feedURL, err)
	}
	items := make([]ingest.FeedItem, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		items = append(items, toFeedItem(item))
	}
	return items, nil
}

// Parse converts an already retrieved feed document.
func (f *Fetcher) Parse(body string) ([]ingest.FeedItem, error) {
	parsed, err := f.parser.ParseString(body)
	if err != nil {
		return nil, ingest.NewError(ingest.KindParse, "feed", "", err)
	}
	items := make([]ingest.FeedItem, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item != nil {
			items = append(items, toFeedItem(item))
		}
	}
	return items, nil
}

func classify(feedURL string, err error) error {
	var httpErr gofeed.HTTPError
	switch {
	case errors.As(err, &httpErr):
		kind := ingest.KindNetwork
		if httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusGone {
			kind = ingest.KindNotFound
		}
		return ingest.NewError(kind, "feed", feedURL, err)
	case errors.Is(err, gofeed.ErrFeedTypeNotDetected):
		return ingest.NewError(ingest.KindParse, "feed", feedURL, err)
	case isTransport(err):
		return ingest.NewError(ingest.KindNetwork, "feed", feedURL, err)
	default:
		return ingest.NewError(ingest.KindParse, "feed", feedURL, err)
	}
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func toFeedItem(item *gofeed.Item) ingest.FeedItem {
	out := ingest.FeedItem{
		Title:       strings.TrimSpace(item.Title),
		Description: strings.TrimSpace(item.Description),
		Content:     strings.TrimSpace(item.Content),
		Link:        strings.TrimSpace(item.Link),
		GUID:        strings.TrimSpace(item.GUID),
		Author:      authorName(item),
	}
	if out.Link == "" && len(item.Links) > 0 {
		out.Link = strings.TrimSpace(item.Links[0])
	}
	if out.Link == "" && strings.HasPrefix(out.GUID, "http") {
		out.Link = out.GUID
	}
	switch {
	case item.PublishedParsed != nil:
		published := item.PublishedParsed.UTC()
		out.PublishedAt = &published
	case item.UpdatedParsed != nil:
		updated := item.UpdatedParsed.UTC()
		out.PublishedAt = &updated
	}
	for _, category := range item.Categories {
		if category = strings.TrimSpace(category); category != "" {
			out.Categories = append(out.Categories, category)
		}
	}
	return out
}

func authorName(item *gofeed.Item) string {
	for _, person := range item.Authors {
		if person != nil && person.Name != "" {
			return person.Name
		}
	}
	if item.Author != nil {
		if item.Author.Name != "" {
			return item.Author.Name
		}
		return item.Author.Email
	}
	return ""
}
