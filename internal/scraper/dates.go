package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Keys are lowercased with Turkish casing; ASCII-folded spellings seen on
// government sites are accepted as well.
var turkishMonths = map[string]time.Month{
	"ocak":    time.January,
	"şubat":   time.February,
	"subat":   time.February,
	"mart":    time.March,
	"nisan":   time.April,
	"mayıs":   time.May,
	"mayis":   time.May,
	"haziran": time.June,
	"temmuz":  time.July,
	"ağustos": time.August,
	"agustos": time.August,
	"eylül":   time.September,
	"eylul":   time.September,
	"ekim":    time.October,
	"kasım":   time.November,
	"kasim":   time.November,
	"aralık":  time.December,
	"aralik":  time.December,
}

var (
	turkishDatePattern = regexp.MustCompile(`(\d{1,2})\s+(\p{L}+)\s+(\d{4})`)
	numericDatePattern = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	isoDatePattern     = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?`)
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTurkishDate extracts a date from free text. It tries "15 Mart 2024",
// then "15.03.2024", then ISO 8601, and reports false when none match.
// Calendar dates without a zone are returned as midnight UTC.
func ParseTurkishDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	if t, ok := parseMonthName(text); ok {
		return t, true
	}
	if t, ok := parseNumeric(text); ok {
		return t, true
	}
	return parseISO(text)
}

func parseMonthName(text string) (time.Time, bool) {
	for _, m := range turkishDatePattern.FindAllStringSubmatch(text, -1) {
		month, ok := lookupMonth(m[2])
		if !ok {
			continue
		}
		if t, ok := calendarDate(m[3], int(month), m[1]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// lookupMonth tries Turkish casing first, then plain casing for names typed
// in ASCII capitals ("NISAN").
func lookupMonth(name string) (time.Month, bool) {
	if month, ok := turkishMonths[strings.ToLowerSpecial(unicode.TurkishCase, name)]; ok {
		return month, true
	}
	month, ok := turkishMonths[strings.ToLower(name)]
	return month, ok
}

func parseNumeric(text string) (time.Time, bool) {
	m := numericDatePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, false
	}
	return calendarDate(m[3], month, m[1])
}

func parseISO(text string) (time.Time, bool) {
	candidate := isoDatePattern.FindString(text)
	if candidate == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// calendarDate rejects values time.Date would normalize, such as 31.02.2024.
func calendarDate(yearText string, month int, dayText string) (time.Time, bool) {
	year, err := strconv.Atoi(yearText)
	if err != nil {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(dayText)
	if err != nil {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}
