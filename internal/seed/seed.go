// Package seed registers the known official sources in the store.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// DefaultSources is the built-in registry used when no sources file is given.
func DefaultSources() []ingest.Source {
	return []ingest.Source{
		rss("Resmi Gazete", "https://www.resmigazete.gov.tr", "https://www.resmigazete.gov.tr/rss.aspx"),
		rss("TCMB", "https://www.tcmb.gov.tr", "https://www.tcmb.gov.tr/rss/duyuru.xml"),
		rss("BDDK", "https://www.bddk.org.tr", "https://www.bddk.org.tr/Rss/RssKategori/5"),
		rss("mevzuat.gov.tr", "https://www.mevzuat.gov.tr", "https://www.mevzuat.gov.tr/MevzuatMetin/RssXml.aspx"),
		rss("Meteoroloji", "https://www.mgm.gov.tr", "https://www.mgm.gov.tr/rss/duyuru.aspx"),
		{
			Name: "SPK", OriginURL: "https://www.spk.gov.tr", Mode: ingest.ModeScraping,
			Site: "spk", FetchIntervalMinutes: 120,
		},
		{
			Name: "EPDK", OriginURL: "https://www.epdk.gov.tr", Mode: ingest.ModeScraping,
			Site: "epdk", FetchIntervalMinutes: 180,
		},
		// No site configuration exists yet, so the source is registered disabled.
		{
			Name: "TÜBİTAK", OriginURL: "https://www.tubitak.gov.tr", Mode: ingest.ModeScraping,
			Status: ingest.SourceInactive, FetchIntervalMinutes: 240,
		},
	}
}

func rss(name, origin, feed string) ingest.Source {
	return ingest.Source{Name: name, OriginURL: origin, FeedURL: feed, Mode: ingest.ModeRSS, FetchIntervalMinutes: 30}
}

type sourcesFile struct {
	Sources []ingest.Source `yaml:"sources"`
}

// Load reads sources from a YAML file with a top-level "sources" list.
func Load(path string) ([]ingest.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s lists no sources", path)
	}
	return file.Sources, nil
}

// Validate checks the fields a source needs for its acquisition mode.
func Validate(src ingest.Source) error {
	if strings.TrimSpace(src.Name) == "" {
		return fmt.Errorf("source name is required")
	}
	switch src.Mode {
	case ingest.ModeRSS:
		if !strings.HasPrefix(src.FeedURL, "http") {
			return fmt.Errorf("source %s: rss sources need an absolute feed_url", src.Name)
		}
	case ingest.ModeScraping:
		if !strings.HasPrefix(src.OriginURL, "http") {
			return fmt.Errorf("source %s: scraping sources need an absolute origin_url", src.Name)
		}
	default:
		return fmt.Errorf("source %s: unknown mode %q", src.Name, src.Mode)
	}
	switch src.Status {
	case "", ingest.SourceActive, ingest.SourceInactive, ingest.SourceError:
	default:
		return fmt.Errorf("source %s: unknown status %q", src.Name, src.Status)
	}
	return nil
}

// Result summarises an Apply run.
type Result struct {
	Upserted int      `json:"upserted"`
	Names    []string `json:"names"`
}

// Apply validates every source and upserts it by name. Nothing is written
// when any source is invalid. Fetch state of existing sources is preserved.
func Apply(ctx context.Context, store ingest.SourceStore, sources []ingest.Source, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if err := Validate(src); err != nil {
			return Result{}, err
		}
		if _, dup := seen[src.Name]; dup {
			return Result{}, fmt.Errorf("source %s is listed twice", src.Name)
		}
		seen[src.Name] = struct{}{}
	}

	var res Result
	for _, src := range sources {
		if src.FetchIntervalMinutes < ingest.MinFetchIntervalMinutes {
			src.FetchIntervalMinutes = ingest.MinFetchIntervalMinutes
		}
		stored, err := store.UpsertSource(ctx, src)
		if err != nil {
			return res, fmt.Errorf("upsert source %s: %w", src.Name, err)
		}
		res.Upserted++
		res.Names = append(res.Names, stored.Name)
		logger.Info("source registered",
			zap.String("source", stored.Name),
			zap.String("mode", string(stored.Mode)),
			zap.String("status", string(stored.Status)),
			zap.Int("interval_minutes", stored.FetchIntervalMinutes),
		)
	}
	return res, nil
}
