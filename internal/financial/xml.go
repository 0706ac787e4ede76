package financial

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// tcmbDocument mirrors the central bank's daily bulletin.
type tcmbDocument struct {
	XMLName    xml.Name       `xml:"Tarih_Date"`
	Tarih      string         `xml:"Tarih,attr"`
	Date       string         `xml:"Date,attr"`
	BulletinNo string         `xml:"Bulten_No,attr"`
	Currencies []tcmbCurrency `xml:"Currency"`
}

type tcmbCurrency struct {
	Kod             string `xml:"Kod,attr"`
	CurrencyCode    string `xml:"CurrencyCode,attr"`
	Unit            string `xml:"Unit"`
	Isim            string `xml:"Isim"`
	CurrencyName    string `xml:"CurrencyName"`
	ForexBuying     string `xml:"ForexBuying"`
	ForexSelling    string `xml:"ForexSelling"`
	BanknoteBuying  string `xml:"BanknoteBuying"`
	BanknoteSelling string `xml:"BanknoteSelling"`
	CrossRateUSD    string `xml:"CrossRateUSD"`
	CrossRateOther  string `xml:"CrossRateOther"`
}

// goldDocument is the gold price feed format:
//
//	<GoldPrices Date="2024-03-15">
//	  <Gold Code="GRAM" Unit="gram" Currency="TRY"><Name>Gram Altın</Name><Price>2100,50</Price></Gold>
//	</GoldPrices>
type goldDocument struct {
	XMLName xml.Name   `xml:"GoldPrices"`
	Date    string     `xml:"Date,attr"`
	Items   []goldItem `xml:"Gold"`
}

type goldItem struct {
	Code     string `xml:"Code,attr"`
	Unit     string `xml:"Unit,attr"`
	Currency string `xml:"Currency,attr"`
	Name     string `xml:"Name"`
	Price    string `xml:"Price"`
}

func decode(body []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	return dec.Decode(v)
}

// parseExchangeRates parses a bulletin. fallbackDate is used when the
// document carries no usable date attribute.
func parseExchangeRates(body []byte, fallbackDate string) ([]ExchangeRate, string, error) {
	var doc tcmbDocument
	if err := decode(body, &doc); err != nil {
		return nil, "", fmt.Errorf("decode bulletin: %w", err)
	}
	date := bulletinDate(doc, fallbackDate)
	rates := make([]ExchangeRate, 0, len(doc.Currencies))
	for _, c := range doc.Currencies {
		code := strings.TrimSpace(c.Kod)
		if code == "" {
			code = strings.TrimSpace(c.CurrencyCode)
		}
		if code == "" {
			continue
		}
		name := strings.TrimSpace(c.Isim)
		if name == "" {
			name = code
		}
		unit, err := strconv.Atoi(strings.TrimSpace(c.Unit))
		if err != nil || unit <= 0 {
			unit = 1
		}
		rates = append(rates, ExchangeRate{
			Code:            code,
			Name:            name,
			Unit:            unit,
			ForexBuying:     parseNumber(c.ForexBuying),
			ForexSelling:    parseNumber(c.ForexSelling),
			BanknoteBuying:  parseNumber(c.BanknoteBuying),
			BanknoteSelling: parseNumber(c.BanknoteSelling),
			CrossRateUSD:    parseNumber(c.CrossRateUSD),
			CrossRateOther:  parseNumber(c.CrossRateOther),
			Date:            date,
		})
	}
	if len(rates) == 0 {
		return nil, "", fmt.Errorf("bulletin contains no currencies")
	}
	return rates, date, nil
}

// bulletinDate prefers Date="MM/DD/YYYY", then Tarih="DD.MM.YYYY".
func bulletinDate(doc tcmbDocument, fallback string) string {
	if t, err := time.Parse("01/02/2006", strings.TrimSpace(doc.Date)); err == nil {
		return t.Format(ingest.DateLayout)
	}
	if t, err := time.Parse("02.01.2006", strings.TrimSpace(doc.Tarih)); err == nil {
		return t.Format(ingest.DateLayout)
	}
	return fallback
}

func parseGold(body []byte, fallbackDate string) ([]GoldPrice, error) {
	var doc goldDocument
	if err := decode(body, &doc); err != nil {
		return nil, fmt.Errorf("decode gold feed: %w", err)
	}
	date := fallbackDate
	if t, err := time.Parse(ingest.DateLayout, strings.TrimSpace(doc.Date)); err == nil {
		date = t.Format(ingest.DateLayout)
	}
	prices := make([]GoldPrice, 0, len(doc.Items))
	for _, item := range doc.Items {
		price := parseNumber(item.Price)
		code := strings.TrimSpace(item.Code)
		if price == nil || code == "" {
			continue
		}
		name := strings.TrimSpace(item.Name)
		if name == "" {
			name = code
		}
		prices = append(prices, GoldPrice{
			Code:     code,
			Name:     name,
			Price:    *price,
			Unit:     defaultString(strings.TrimSpace(item.Unit), "gram"),
			Currency: defaultString(strings.TrimSpace(item.Currency), "TRY"),
			Date:     date,
		})
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("gold feed contains no prices")
	}
	return prices, nil
}

// parseNumber accepts both "32.1234" and "32,1234". Empty or invalid input yields nil.
func parseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
