package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Resmi Gazete</title>
  <link>https://www.resmigazete.gov.tr</link>
  <item>
    <title>  Yeni Tebliğ Yayımlandı </title>
    <link>https://www.resmigazete.gov.tr/eskiler/2024/03/20240315-1.htm</link>
    <description>Sermaye piyasası tebliği</description>
    <content:encoded><![CDATA[<p>Tam metin</p>]]></content:encoded>
    <pubDate>Fri, 15 Mar 2024 09:00:00 +0300</pubDate>
    <dc:creator>Cumhurbaşkanlığı</dc:creator>
    <category>Mevzuat</category>
    <category> </category>
    <guid>rg-20240315-1</guid>
  </item>
  <item>
    <title>Duyuru</title>
    <guid>https://www.resmigazete.gov.tr/duyuru/1</guid>
  </item>
</channel>
</rss>`

func TestFetcherParsesRSS(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	t.Cleanup(server.Close)

	fetcher := NewFetcher(Config{}, server.Client())
	items, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "Yeni Tebliğ Yayımlandı", first.Title)
	assert.Equal(t, "https://www.resmigazete.gov.tr/eskiler/2024/03/20240315-1.htm", first.Link)
	assert.Equal(t, "Sermaye piyasası tebliği", first.Description)
	assert.Equal(t, "<p>Tam metin</p>", first.Content)
	assert.Equal(t, "Cumhurbaşkanlığı", first.Author)
	assert.Equal(t, []string{"Mevzuat"}, first.Categories)
	assert.Equal(t, "rg-20240315-1", first.GUID)
	require.NotNil(t, first.PublishedAt)
	assert.True(t, first.PublishedAt.Equal(time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)))

	assert.Equal(t, "https://www.resmigazete.gov.tr/duyuru/1", items[1].Link, "guid permalink used as link")
	assert.Nil(t, items[1].PublishedAt)
}

func TestFetcherParsesAtom(t *testing.T) {
	t.Parallel()

	const atom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>TÜBİTAK</title>
  <entry>
    <title>Ar-Ge destek programı</title>
    <link href="https://www.tubitak.gov.tr/tr/haber/1"/>
    <id>urn:tubitak:1</id>
    <updated>2024-03-15T10:00:00Z</updated>
    <author><name>TÜBİTAK</name></author>
    <summary>Özet</summary>
  </entry>
</feed>`
	items, err := NewFetcher(Config{}, nil).Parse(atom)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://www.tubitak.gov.tr/tr/haber/1", items[0].Link)
	assert.Equal(t, "TÜBİTAK", items[0].Author)
	require.NotNil(t, items[0].PublishedAt)
	assert.Equal(t, 2024, items[0].PublishedAt.Year())
}

func TestFetcherClassifiesFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/slow":
			time.Sleep(300 * time.Millisecond)
			_, _ = w.Write([]byte(sampleRSS))
		default:
			_, _ = w.Write([]byte("this is not a feed"))
		}
	}))
	t.Cleanup(server.Close)

	fetcher := NewFetcher(Config{Timeout: 100 * time.Millisecond}, server.Client())
	tests := []struct {
		path string
		want error
	}{
		{path: "/missing", want: ingest.ErrNotFound},
		{path: "/broken", want: ingest.ErrNetwork},
		{path: "/slow", want: ingest.ErrNetwork},
		{path: "/garbage", want: ingest.ErrParse},
	}
	for _, tt := range tests {
		_, err := fetcher.Fetch(context.Background(), server.URL+tt.path)
		require.Error(t, err, tt.path)
		assert.True(t, errors.Is(err, tt.want), "%s: got %v", tt.path, err)
	}
}
