// Package kamis fetches and parses market prices published by KAMIS, either
// scraped from the public market pages or read from an uploaded CSV/XLSX
// export, and normalizes them into price entry candidates.
package kamis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Format tags where a raw record came from.
type Format string

const (
	FormatHTML Format = "html"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// RawRecord is one untrusted row exactly as the source presented it.
type RawRecord struct {
	Format    Format
	Line      int
	Product   string
	Commodity string
	Market    string
	County    string
	Retail    string
	Wholesale string
	Date      string
}

// Record is a validated, normalized price observation.
type Record struct {
	Format     Format          `json:"format"`
	Line       int             `json:"line"`
	CropName   string          `json:"crop_name"`
	RegionName string          `json:"region_name"`
	MarketName string          `json:"market_name"`
	Price      decimal.Decimal `json:"price"`
	Unit       string          `json:"unit"`
	EntryDate  time.Time       `json:"entry_date"`
}

// RowError rejects a single row without aborting its batch.
type RowError struct {
	Format Format `json:"format"`
	Line   int    `json:"line"`
	Label  string `json:"label,omitempty"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%s %s line %d: %s", e.Format, e.Label, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s line %d: %s", e.Format, e.Line, e.Reason)
}

// Batch is a unit of work emitted by a Source: one product page, or one file.
type Batch struct {
	Label   string
	Records []Record
	Errors  []RowError
}

// Query bounds a fetch. Zero values mean "no filter".
type Query struct {
	From       *time.Time
	To         *time.Time
	ProductIDs []int
	Crop       string
	Region     string
}

// SetRange parses optional YYYY-MM-DD bounds into the query.
func (q *Query) SetRange(from, to string) error {
	for _, d := range []struct {
		raw  string
		dest **time.Time
	}{{from, &q.From}, {to, &q.To}} {
		if d.raw == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", d.raw)
		if err != nil {
			return errors.New("dates must be YYYY-MM-DD")
		}
		*d.dest = &t
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return errors.New("to must not be before from")
	}
	return nil
}

// Source is an external price feed. Fetch calls emit once per batch; an
// error from emit or from the transport aborts the fetch. Batches emitted
// before the error stay committed.
type Source interface {
	Fetch(ctx context.Context, q Query, emit func(Batch) error) error
}

// Match applies the query's date and name filters to a normalized record.
func (q Query) Match(r Record) bool {
	if q.From != nil && r.EntryDate.Before(day(*q.From)) {
		return false
	}
	if q.To != nil && r.EntryDate.After(day(*q.To)) {
		return false
	}
	if q.Crop != "" && !strings.Contains(NormalizeName(r.CropName), NormalizeName(q.Crop)) {
		return false
	}
	if q.Region != "" && !strings.Contains(NormalizeName(r.RegionName), NormalizeName(q.Region)) {
		return false
	}
	return true
}

// Plausible retail prices per kg, exclusive. Rows outside are data entry
// errors in the feed.
var (
	minRetailKg = decimal.NewFromInt(5)
	maxRetailKg = decimal.NewFromInt(2000)
)

// Normalize validates the raw row and converts it into a Record.
func (r RawRecord) Normalize() (Record, error) {
	crop := strings.TrimSpace(r.Commodity)
	if crop == "" {
		crop = strings.TrimSpace(r.Product)
	}
	if crop == "" {
		return Record{}, r.reject("missing commodity")
	}
	region := strings.TrimSpace(r.County)
	if region == "" {
		return Record{}, r.reject("missing county")
	}
	market := strings.TrimSpace(r.Market)
	if market == "" {
		market = region
	}

	price, unit, err := ParsePrice(r.Retail)
	if err == nil && unit == "kg" && (price.LessThanOrEqual(minRetailKg) || price.GreaterThanOrEqual(maxRetailKg)) {
		return Record{}, r.reject(fmt.Sprintf("retail price %s/kg outside (%s, %s)", price, minRetailKg, maxRetailKg))
	}
	if err != nil {
		var werr error
		price, unit, werr = ParsePrice(r.Wholesale)
		if werr != nil {
			return Record{}, r.reject(fmt.Sprintf("no usable price (retail %q, wholesale %q)", r.Retail, r.Wholesale))
		}
	}

	date, err := ParseDate(r.Date)
	if err != nil {
		return Record{}, r.reject(err.Error())
	}

	return Record{
		Format:     r.Format,
		Line:       r.Line,
		CropName:   crop,
		RegionName: region,
		MarketName: market,
		Price:      price,
		Unit:       unit,
		EntryDate:  date,
	}, nil
}

func (r RawRecord) reject(reason string) RowError {
	return RowError{Format: r.Format, Line: r.Line, Label: r.Product, Reason: reason}
}

// NormalizeAll validates every row, applies q and splits the result into
// accepted records and per-row errors.
func NormalizeAll(label string, raws []RawRecord, q Query) Batch {
	b := Batch{Label: label}
	for _, raw := range raws {
		rec, err := raw.Normalize()
		if err != nil {
			var rowErr RowError
			if errors.As(err, &rowErr) {
				b.Errors = append(b.Errors, rowErr)
			}
			continue
		}
		if q.Match(rec) {
			b.Records = append(b.Records, rec)
		}
	}
	return b
}

var errNoPrice = errors.New("empty price")

// ParsePrice reads KAMIS price cells such as "50.00/Kg", "1,250/90 Kg Bag"
// or "KES 30". The unit defaults to kg.
func ParsePrice(s string) (decimal.Decimal, string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "-" {
		return decimal.Zero, "", errNoPrice
	}

	value, unitPart, _ := strings.Cut(s, "/")
	value = strings.NewReplacer(",", "", "kes", "", "ksh", "", "-", "", " ", "").Replace(value)
	price, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("invalid price %q", s)
	}
	if !price.IsPositive() {
		return decimal.Zero, "", fmt.Errorf("price must be positive, got %q", s)
	}
	return price.Round(2), unitOf(unitPart), nil
}

func unitOf(s string) string {
	switch {
	case strings.Contains(s, "head"):
		return "head"
	case strings.Contains(s, "bag"):
		return "bag"
	case strings.Contains(s, "crate"):
		return "crate"
	case strings.Contains(s, "bunch"):
		return "bunch"
	case strings.Contains(s, "litre"), strings.Contains(s, "liter"):
		return "litre"
	default:
		return "kg"
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2/1/2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"Jan 2, 2006",
	"01-02-06",
}

// ParseDate accepts the date shapes found in KAMIS pages and exports,
// including raw Excel serial numbers, and truncates to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return day(t), nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 1 && serial < 100000 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeName lowercases s and collapses punctuation and whitespace so
// "Maize (Dry)" and "maize - dry" compare equal.
func NormalizeName(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
