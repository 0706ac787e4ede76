// Package headless renders pages of client-rendered regulator sites with
// headless Chrome and decides when a plain fetch needs that treatment.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

const (
	defaultNavTimeout = 25 * time.Second
	defaultSettle     = 500 * time.Millisecond
	defaultMaxBytes   = 4 << 20
)

// Subresources the scraper never reads. Blocking them keeps rendering light
// on the origin.
var defaultBlocked = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg",
	"*.woff", "*.woff2", "*.ttf", "*.mp4", "*.pdf",
}

// Config controls the renderer.
type Config struct {
	// MaxParallel bounds concurrent browser tabs; 0 means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must be present before the DOM is captured. Defaults to "body".
	WaitSelector string
	// Settle is the pause after WaitSelector for late XHR content.
	Settle time.Duration
	// MaxBodyBytes caps the serialized DOM. Defaults to 4 MiB.
	MaxBodyBytes int
	Headers      http.Header
	// AllowMedia disables subresource blocking.
	AllowMedia bool
	// NoSandbox is needed when Chrome runs as root in a container.
	NoSandbox bool
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavTimeout
	}
	if c.Settle < 0 {
		c.Settle = 0
	} else if c.Settle == 0 {
		c.Settle = defaultSettle
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBytes
	}
	if c.WaitSelector == "" {
		c.WaitSelector = "body"
	}
	if c.Headers == nil {
		c.Headers = http.Header{}
	}
	if c.Headers.Get("Accept-Language") == "" {
		c.Headers.Set("Accept-Language", "tr-TR,tr;q=0.9,en;q=0.8")
	}
	return c
}

// Fetcher implements ingest.PageFetcher with chromedp.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a renderer. Chrome starts lazily on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = cfg.withDefaults()
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders rawURL and returns the DOM. HTTP status of the main document
// maps onto the same error kinds the plain fetcher uses.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, ingest.NewError(ingest.KindNetwork, "render", rawURL, err)
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	// The tab must also stop when the caller gives up.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentStatus{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	html, err := f.render(tabCtx, rawURL)
	if err != nil {
		return nil, ingest.NewError(ingest.KindNetwork, "render", rawURL, err)
	}

	status, finalURL := doc.result(rawURL)
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return nil, ingest.NewError(ingest.KindNotFound, "render", finalURL, fmt.Errorf("status %d", status))
	case status >= 400:
		return nil, ingest.NewError(ingest.KindNetwork, "render", finalURL, fmt.Errorf("status %d", status))
	case len(html) > f.cfg.MaxBodyBytes:
		return nil, ingest.NewError(ingest.KindParse, "render", finalURL,
			fmt.Errorf("rendered document exceeds %d bytes", f.cfg.MaxBodyBytes))
	}
	return []byte(html), nil
}

func (f *Fetcher) render(ctx context.Context, rawURL string) (string, error) {
	var html string
	actions := []chromedp.Action{
		f.setup(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if f.cfg.Settle > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.Settle))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (f *Fetcher) setup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).WithAcceptLanguage("tr-TR").Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		if !f.cfg.AllowMedia {
			if err := network.SetBlockedURLs(defaultBlocked).Do(ctx); err != nil {
				return fmt.Errorf("block subresources: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for a browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots != nil {
		<-f.slots
	}
}

// documentStatus records the response of the top-level document, following
// redirects to the last one seen.
type documentStatus struct {
	mu     sync.Mutex
	status int
	url    string
}

func (d *documentStatus) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// result reports the document status and URL. Pages served from cache or by a
// service worker emit no event and count as 200 at the requested URL.
func (d *documentStatus) result(requestURL string) (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	if status == 0 {
		status = http.StatusOK
	}
	if url == "" {
		url = requestURL
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
