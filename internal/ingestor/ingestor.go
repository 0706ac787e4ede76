// Package ingestor deduplicates, categorizes and persists fetched items.
package ingestor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/clock/system"
	"github.com/JakeFAU/resmi-haber-crawler/internal/hash/sha256"
	"github.com/JakeFAU/resmi-haber-crawler/internal/id/uuid"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/metrics"
)

// Language is stamped on every article.
const Language = "tr"

// ErrInvalidItem marks items without a title or URL.
var ErrInvalidItem = errors.New("item has no title or url")

// Options wires optional collaborators. Zero values select defaults.
type Options struct {
	Publisher ingest.Publisher
	Topic     string
	Hasher    ingest.Hasher
	IDs       ingest.IDGenerator
	Clock     ingest.Clock
	Logger    *zap.Logger
}

// Ingestor turns FeedItems and ScrapedFields into stored Articles.
type Ingestor struct {
	store     ingest.ArticleStore
	publisher ingest.Publisher
	topic     string
	hasher    ingest.Hasher
	ids       ingest.IDGenerator
	clock     ingest.Clock
	logger    *zap.Logger
}

// New builds an Ingestor backed by store.
func New(store ingest.ArticleStore, opts Options) *Ingestor {
	ing := &Ingestor{
		store:     store,
		publisher: opts.Publisher,
		topic:     opts.Topic,
		hasher:    opts.Hasher,
		ids:       opts.IDs,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if ing.hasher == nil {
		ing.hasher = sha256.New()
	}
	if ing.ids == nil {
		ing.ids = uuid.New()
	}
	if ing.clock == nil {
		ing.clock = system.New()
	}
	if ing.logger == nil {
		ing.logger = zap.NewNop()
	}
	ing.logger = ing.logger.Named("ingestor")
	return ing
}

// Fingerprint returns hex(SHA256(title + "|" + url)) using the configured hasher.
func (i *Ingestor) Fingerprint(title, url string) (string, error) {
	digest, err := i.hasher.Hash([]byte(title + "|" + url))
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return digest, nil
}

// IngestFeedItems stores new feed items for source. Items whose fingerprint
// already exists are counted as duplicates and skipped.
func (i *Ingestor) IngestFeedItems(ctx context.Context, source ingest.Source, items []ingest.FeedItem) (ingest.Counts, error) {
	candidates := make([]ingest.Article, 0, len(items))
	for _, item := range items {
		content := item.Content
		if content == "" {
			content = item.Description
		}
		candidates = append(candidates, ingest.Article{
			Title:       item.Title,
			Description: item.Description,
			Content:     content,
			URL:         item.Link,
			PublishedAt: item.PublishedAt,
			Tags:        item.Categories,
			Author:      item.Author,
			GUID:        item.GUID,
		})
	}
	return i.ingest(ctx, source, candidates)
}

// IngestScraped stores successful scrape results for source. Failed results
// are counted without touching the store.
func (i *Ingestor) IngestScraped(ctx context.Context, source ingest.Source, results []ingest.ScrapeResult) (ingest.Counts, error) {
	var failed int
	candidates := make([]ingest.Article, 0, len(results))
	for _, res := range results {
		if !res.Success {
			failed++
			continue
		}
		tags := append([]string(nil), res.Fields.Tags...)
		if res.Fields.Category != "" && !contains(tags, res.Fields.Category) {
			tags = append(tags, res.Fields.Category)
		}
		candidates = append(candidates, ingest.Article{
			Title:       res.Fields.Title,
			Description: res.Fields.Description,
			Content:     res.Fields.Content,
			URL:         res.URL,
			PublishedAt: res.Fields.PublishedAt,
			Tags:        tags,
			Author:      res.Fields.Author,
		})
	}
	counts, err := i.ingest(ctx, source, candidates)
	counts.Processed += failed
	counts.Failed += failed
	return counts, err
}

// ingest returns an error only when no candidate could be stored because of
// store failures, so callers can flag the source.
func (i *Ingestor) ingest(ctx context.Context, source ingest.Source, candidates []ingest.Article) (ingest.Counts, error) {
	var (
		counts   ingest.Counts
		storeErr error
	)
	fetchedAt := i.clock.Now()
	for _, article := range candidates {
		if err := ctx.Err(); err != nil {
			return counts, fmt.Errorf("ingest %s: %w", source.Name, err)
		}
		counts.Processed++
		outcome, err := i.ingestOne(ctx, source, article, fetchedAt)
		metrics.ObserveArticle(source.Name, outcome)
		switch outcome {
		case outcomeInserted:
			counts.Inserted++
			counts.Succeeded++
		case outcomeDuplicate:
			counts.Duplicates++
			counts.Succeeded++
		default:
			counts.Failed++
			if err != nil && !errors.Is(err, ErrInvalidItem) {
				storeErr = err
			}
			i.logger.Warn("article rejected",
				zap.String("source", source.Name),
				zap.String("url", article.URL),
				zap.Error(err),
			)
		}
	}
	if storeErr != nil && counts.Succeeded == 0 {
		return counts, fmt.Errorf("ingest %s: %w", source.Name, storeErr)
	}
	return counts, nil
}

const (
	outcomeInserted  = "inserted"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

func (i *Ingestor) ingestOne(ctx context.Context, source ingest.Source, article ingest.Article, fetchedAt time.Time) (string, error) {
	article.Title = strings.TrimSpace(article.Title)
	article.URL = strings.TrimSpace(article.URL)
	if article.Title == "" || article.URL == "" {
		return outcomeFailed, ErrInvalidItem
	}

	fingerprint, err := i.Fingerprint(article.Title, article.URL)
	if err != nil {
		return outcomeFailed, err
	}
	exists, err := i.store.ArticleExists(ctx, fingerprint)
	if err != nil {
		return outcomeFailed, fmt.Errorf("check fingerprint: %w", err)
	}
	if exists {
		return outcomeDuplicate, nil
	}

	id, err := i.ids.NewID()
	if err != nil {
		return outcomeFailed, err
	}
	article.ID = id
	article.SourceID = source.ID
	article.Fingerprint = fingerprint
	article.FetchedAt = fetchedAt
	article.Category = Categorize(article.Title, article.Description)
	article.Language = Language

	if err := i.store.InsertArticle(ctx, article); err != nil {
		if errors.Is(err, ingest.ErrDuplicate) {
			return outcomeDuplicate, nil
		}
		return outcomeFailed, fmt.Errorf("insert article: %w", err)
	}
	i.publish(ctx, article)
	return outcomeInserted, nil
}

func (i *Ingestor) publish(ctx context.Context, article ingest.Article) {
	if i.publisher == nil || i.topic == "" {
		return
	}
	event := ingest.ArticleEvent{
		ArticleID:   article.ID,
		SourceID:    article.SourceID,
		Title:       article.Title,
		URL:         article.URL,
		Category:    article.Category,
		PublishedAt: article.PublishedAt,
		FetchedAt:   article.FetchedAt,
	}
	if _, err := i.publisher.Publish(ctx, i.topic, event); err != nil {
		i.logger.Warn("publish article event failed", zap.String("article_id", article.ID), zap.Error(err))
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
