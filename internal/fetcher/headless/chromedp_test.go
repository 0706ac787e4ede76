package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

func TestNewChromedpValidatesAndDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)

	require.Equal(t, 2, cap(fetcher.slots))
	require.Equal(t, defaultNavTimeout, fetcher.cfg.NavigationTimeout)
	require.Equal(t, defaultSettle, fetcher.cfg.Settle)
	require.Equal(t, "body", fetcher.cfg.WaitSelector)
	require.Equal(t, defaultMaxBytes, fetcher.cfg.MaxBodyBytes)
	require.Contains(t, fetcher.cfg.Headers.Get("Accept-Language"), "tr-TR")
}

func TestConfigKeepsOverrides(t *testing.T) {
	t.Parallel()

	cfg := Config{
		NavigationTimeout: time.Second,
		Settle:            -1,
		WaitSelector:      ".detail-content",
		Headers:           http.Header{"Accept-Language": {"en"}},
	}.withDefaults()
	require.Equal(t, time.Second, cfg.NavigationTimeout)
	require.Zero(t, cfg.Settle)
	require.Equal(t, ".detail-content", cfg.WaitSelector)
	require.Equal(t, "en", cfg.Headers.Get("Accept-Language"))
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{slots: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fetcher.acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestFetchCanceledBeforeSlotIsNetworkError(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{slots: make(chan struct{}, 1)}
	fetcher.slots <- struct{}{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.Fetch(ctx, "https://www.epdk.gov.tr/Detay/Icerik/3-0-1")
	require.True(t, errors.Is(err, ingest.ErrNetwork))
}

func TestDocumentStatus(t *testing.T) {
	t.Parallel()

	doc := &documentStatus{}
	status, url := doc.result("https://www.spk.gov.tr/duyurular")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://www.spk.gov.tr/duyurular", url)

	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://www.spk.gov.tr/logo.png"},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://www.spk.gov.tr/yok"},
	})
	status, url = doc.result("https://www.spk.gov.tr/duyurular")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "https://www.spk.gov.tr/yok", url)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	headers := toNetworkHeaders(http.Header{
		"Accept-Language": {"tr-TR"},
		"X-Multi":         {"a", "b"},
		"X-Empty":         {},
	})
	require.Equal(t, "tr-TR", headers["Accept-Language"])
	require.Equal(t, []string{"a", "b"}, headers["X-Multi"])
	require.NotContains(t, headers, "X-Empty")
}
