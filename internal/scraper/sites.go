package scraper

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// CategoryConfig is one list page of a site.
type CategoryConfig struct {
	Name    string `yaml:"name"`
	ListURL string `yaml:"list_url"`
}

// TagRule adds Tag when any of Match appears in the lowercased URL or title.
type TagRule struct {
	Tag   string   `yaml:"tag"`
	Match []string `yaml:"match"`
}

// SiteConfig drives the scraping engine for one site: where the list pages
// are, how to find detail links on them and how to read a detail page.
type SiteConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	// ListURL values may be absolute or relative to BaseURL; "{base}" expands to BaseURL.
	Categories []CategoryConfig `yaml:"categories"`
	// LinkSelectors are tried in order; the first one yielding links is used.
	LinkSelectors []string `yaml:"link_selectors"`
	// LinkContains keeps only links containing one of these substrings.
	LinkContains []string  `yaml:"link_contains"`
	SameHost     bool      `yaml:"same_host"`
	Selectors    Selectors `yaml:"selectors"`
	TitleStrip   []string  `yaml:"title_strip"`
	TagRules     []TagRule `yaml:"tag_rules"`
	DefaultTag   string    `yaml:"default_tag"`
	MaxArticles  int       `yaml:"max_articles"`
	Headless     bool      `yaml:"headless"`
}

// Key is the registry key of the site.
func (s SiteConfig) Key() string {
	return strings.ToLower(s.Name)
}

// ListURL expands a category list URL against BaseURL.
func (s SiteConfig) ListURL(c CategoryConfig) string {
	u := strings.ReplaceAll(c.ListURL, "{base}", strings.TrimRight(s.BaseURL, "/"))
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(u, "/")
}

// Tag returns the first matching TagRule tag for a detail page, or DefaultTag.
func (s SiteConfig) Tag(pageURL, title string) string {
	haystack := strings.ToLowerSpecial(unicode.TurkishCase, pageURL+" "+title)
	for _, rule := range s.TagRules {
		for _, m := range rule.Match {
			if m != "" && strings.Contains(haystack, m) {
				return rule.Tag
			}
		}
	}
	return s.DefaultTag
}

// Validate checks the fields the engine cannot run without.
func (s SiteConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("site name is required")
	}
	if !strings.HasPrefix(s.BaseURL, "http") {
		return fmt.Errorf("site %s: base_url must be absolute", s.Name)
	}
	if len(s.Categories) == 0 {
		return fmt.Errorf("site %s: at least one category is required", s.Name)
	}
	if len(s.LinkSelectors) == 0 {
		return fmt.Errorf("site %s: link_selectors are required", s.Name)
	}
	return nil
}

// DefaultSites returns the built-in regulator configurations.
func DefaultSites() []SiteConfig {
	return []SiteConfig{spkSite(), epdkSite()}
}

func spkSite() SiteConfig {
	return SiteConfig{
		Name:    "SPK",
		BaseURL: "https://www.spk.gov.tr",
		Categories: []CategoryConfig{
			{Name: "announcements", ListURL: "/Sayfa/Dosya/1504"},
			{Name: "press_releases", ListURL: "/Sayfa/Dosya/1501"},
			{Name: "regulations", ListURL: "/Sayfa/Dosya/1502"},
			{Name: "decisions", ListURL: "/Sayfa/Dosya/1503"},
			{Name: "weekly_bulletins", ListURL: "/Sayfa/Dosya/1505"},
		},
		LinkSelectors: []string{
			".item-list .views-row a",
			".content-list a",
			".document-list a",
			"table tbody tr td a",
			".list-group-item a",
		},
		SameHost: true,
		Selectors: Selectors{
			Title: []string{".page-title", ".content-title", "h1.title", ".field-name-title h1", "h1"},
			Description: []string{
				".field-name-body .field-item", ".content-body", ".article-content",
				".field-type-text-with-summary", ".node-content p",
			},
			Content: []string{".field-name-body", ".content-body", ".article-content", ".node-content"},
			Date:    []string{".field-name-post-date", ".submitted", ".date-display-single", ".publication-date", "time"},
		},
		TitleStrip: []string{"SPK"},
		TagRules: []TagRule{
			{Tag: "press_release", Match: []string{"basın"}},
			{Tag: "regulation", Match: []string{"düzenleme", "tebliğ"}},
			{Tag: "decision", Match: []string{"karar"}},
			{Tag: "bulletin", Match: []string{"bülten"}},
		},
		DefaultTag:  "announcement",
		MaxArticles: 10,
	}
}

func epdkSite() SiteConfig {
	return SiteConfig{
		Name:    "EPDK",
		BaseURL: "https://www.epdk.gov.tr",
		Categories: []CategoryConfig{
			{Name: "announcements", ListURL: "/Detay/Icerik/3-0-23-2/duyurular"},
			{Name: "press_releases", ListURL: "/Detay/Icerik/3-0-94/basin-aciklamalari"},
			{Name: "decisions", ListURL: "/Detay/Icerik/3-0-24-2/kararlar"},
			{Name: "regulations", ListURL: "/Detay/Icerik/3-0-17/mevzuat"},
			{Name: "electricity", ListURL: "/Detay/Icerik/3-0-25-3/elektrik"},
			{Name: "natural_gas", ListURL: "/Detay/Icerik/3-0-26-4/dogalgaz"},
			{Name: "petroleum", ListURL: "/Detay/Icerik/3-0-27-5/petrol"},
		},
		LinkSelectors: []string{
			".content-list .list-item a",
			".news-list .news-item a",
			".document-list .document-item a",
			"table.table tbody tr td a",
			`.row .col a[href*="/Detay/"]`,
			`a[href*="/Detay/Icerik/"]`,
		},
		LinkContains: []string{"/Detay/"},
		SameHost:     true,
		Selectors: Selectors{
			Title: []string{".page-header h1", ".content-header h1", ".detail-title", "h1.title", ".main-content h1", "h1"},
			Description: []string{
				".detail-content", ".content-body", ".main-content .content",
				".article-content", ".news-content", ".page-content p",
			},
			Content: []string{".detail-content", ".content-body", ".main-content .content", ".page-content"},
			Date:    []string{".detail-date", ".publish-date", ".content-date", ".date-info", "time", ".created-date"},
		},
		TitleStrip: []string{"EPDK"},
		TagRules: []TagRule{
			{Tag: "electricity", Match: []string{"elektrik"}},
			{Tag: "natural_gas", Match: []string{"dogalgaz", "doğalgaz"}},
			{Tag: "petroleum", Match: []string{"petrol"}},
			{Tag: "decision", Match: []string{"karar"}},
		},
		DefaultTag:  "energy",
		MaxArticles: 10,
	}
}

type sitesFile struct {
	Sites []SiteConfig `yaml:"sites"`
}

// Registry resolves SiteConfigs by case-insensitive name.
type Registry struct {
	sites map[string]SiteConfig
}

// NewRegistry indexes sites, later entries replacing earlier ones with the same name.
func NewRegistry(sites ...SiteConfig) (*Registry, error) {
	r := &Registry{sites: make(map[string]SiteConfig, len(sites))}
	for _, site := range sites {
		if err := site.Validate(); err != nil {
			return nil, err
		}
		r.sites[site.Key()] = site
	}
	return r, nil
}

// LoadRegistry returns DefaultSites overlaid with the sites in path. An empty
// path yields the defaults.
func LoadRegistry(path string) (*Registry, error) {
	sites := DefaultSites()
	if path != "" {
		extra, err := LoadSites(path)
		if err != nil {
			return nil, err
		}
		sites = append(sites, extra...)
	}
	return NewRegistry(sites...)
}

// LoadSites reads site configurations from a YAML file with a top-level "sites" list.
func LoadSites(path string) ([]SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	var file sitesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	return file.Sites, nil
}

// Get returns the site registered under name.
func (r *Registry) Get(name string) (SiteConfig, bool) {
	site, ok := r.sites[strings.ToLower(name)]
	return site, ok
}

// Names lists registered site keys in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sites))
	for name := range r.sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
