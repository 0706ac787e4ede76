package ingestor

import (
	"strings"
	"unicode"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

type categoryRule struct {
	category ingest.Category
	keywords []string
}

// Evaluated in order; the first rule with a keyword hit wins.
var categoryRules = []categoryRule{
	{category: ingest.CategoryAnnouncement, keywords: []string{"duyuru", "announcement"}},
	{category: ingest.CategoryRegulation, keywords: []string{"kanun", "yönetmelik", "tebliğ", "genelge"}},
	{category: ingest.CategoryFinancial, keywords: []string{"faiz", "kur", "ekonomi", "finansal"}},
	{category: ingest.CategoryTechnology, keywords: []string{"teknoloji", "ar-ge", "inovasyon"}},
	{category: ingest.CategoryLegal, keywords: []string{"hukuk", "mevzuat", "yasal"}},
}

// Categorize assigns a coarse category from keywords in the title and description.
func Categorize(title, description string) ingest.Category {
	raw := title + " " + description
	// Titles are often typed without Turkish capitals ("FAIZ" for "FAİZ"), so
	// both lowercasings are searched.
	turkish, plain := lowerTurkish(raw), strings.ToLower(raw)
	for _, rule := range categoryRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(turkish, keyword) || strings.Contains(plain, keyword) {
				return rule.category
			}
		}
	}
	return ingest.CategoryOther
}

// lowerTurkish lowercases with Turkish casing rules so "TEBLİĞ" becomes "tebliğ".
func lowerTurkish(s string) string {
	return strings.ToLowerSpecial(unicode.TurkishCase, s)
}
