package scraper

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

func TestExtractUsesOrderedCandidates(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<title>Genel Başlık</title>
<meta name="description" content="  Meta   açıklama ">
<meta property="article:published_time" content="2024-03-15T09:00:00Z">
<meta property="article:section" content="Duyurular">
</head><body>
<h1>İkincil başlık</h1>
<h1 class="title">  Kurul   Kararı </h1>
<article><p>Birinci paragraf.</p>
<p>İkinci paragraf.</p></article>
<span class="author">Basın Müşavirliği</span>
</body></html>`

	fields, err := Extract([]byte(html), DefaultSelectors(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Kurul Kararı", fields.Title, "h1.title precedes bare h1")
	assert.Equal(t, "Meta açıklama", fields.Description)
	assert.Equal(t, "Birinci paragraf. İkinci paragraf.", fields.Content)
	assert.Equal(t, "Duyurular", fields.Category)
	assert.Equal(t, "Basın Müşavirliği", fields.Author)
	require.NotNil(t, fields.PublishedAt)
	assert.True(t, fields.PublishedAt.Equal(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)))
}

func TestExtractFallsBackToTitleElement(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>SPK - Haftalık Bülten 2024/11</title></head>
<body><div class="submitted">Yayın: 15 Mart 2024</div><p>Özet</p></body></html>`
	sel := Selectors{Title: []string{".page-title"}, Date: []string{".missing", ".submitted"}}

	fields, err := Extract([]byte(html), sel.merge(DefaultSelectors()), []string{"SPK"})
	require.NoError(t, err)
	assert.Equal(t, "Haftalık Bülten 2024/11", fields.Title)
	require.NotNil(t, fields.PublishedAt)
	assert.Equal(t, time.March, fields.PublishedAt.Month())
}

func TestExtractWithoutAnyTitleFails(t *testing.T) {
	t.Parallel()

	_, err := Extract([]byte(`<html><head><title>  </title></head><body><p>metin</p></body></html>`), DefaultSelectors(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ingest.ErrParse))
	assert.True(t, errors.Is(err, ErrNoTitle))
}

func TestExtractUnparsableDateLeavesFieldEmpty(t *testing.T) {
	t.Parallel()

	html := `<html><body><h1>Başlık</h1><span class="date">yakında</span></body></html>`
	fields, err := Extract([]byte(html), DefaultSelectors(), nil)
	require.NoError(t, err)
	assert.Nil(t, fields.PublishedAt)
}

func TestDescriptionIsCappedInRunes(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ğ", 800)
	html := `<html><body><h1>Başlık</h1><p class="lead">` + long + `</p></body></html>`
	fields, err := Extract([]byte(html), DefaultSelectors(), nil)
	require.NoError(t, err)
	assert.Equal(t, MaxDescriptionRunes, len([]rune(fields.Description)))
}

func TestStripPrefixes(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"SPK - Duyuru":           "Duyuru",
		"spk – Basın Açıklaması": "Basın Açıklaması",
		"Duyurular | EPDK":       "Duyurular",
		"SPK Bülteni":            "SPK Bülteni",
		"  Kurul Kararı  ":       "Kurul Kararı",
	}
	for in, want := range tests {
		if got := stripPrefixes(in, []string{"SPK", "EPDK"}); got != want {
			t.Errorf("stripPrefixes(%q) = %q, want %q", in, got, want)
		}
	}
}
