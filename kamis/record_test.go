package kamis

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		unit    string
		wantErr bool
	}{
		{in: "50.00/Kg", want: "50", unit: "kg"},
		{in: "1,250/90 Kg Bag", want: "1250", unit: "bag"},
		{in: "KES 30", want: "30", unit: "kg"},
		{in: "4,500.50/Head", want: "4500.5", unit: "head"},
		{in: "  72.456 ", want: "72.46", unit: "kg"},
		{in: "", wantErr: true},
		{in: "-", wantErr: true},
		{in: "n/a", wantErr: true},
		{in: "0.00/Kg", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, unit, err := ParsePrice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
			assert.Equal(t, tt.unit, unit)
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-03-05",
		"2024-03-05 14:30:00",
		"05/03/2024",
		"5/3/2024",
		"05-Mar-2024",
		"45356",
	} {
		t.Run(in, func(t *testing.T) {
			got, err := ParseDate(in)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseDate("yesterday")
	assert.Error(t, err)
	_, err = ParseDate("")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	raw := RawRecord{
		Format:    FormatCSV,
		Line:      4,
		Commodity: " Dry Maize ",
		County:    "Nakuru",
		Retail:    "-",
		Wholesale: "3,600/90 Kg Bag",
		Date:      "2024-03-05",
	}
	got, err := raw.Normalize()
	require.NoError(t, err)

	want := Record{
		Format:     FormatCSV,
		Line:       4,
		CropName:   "Dry Maize",
		RegionName: "Nakuru",
		MarketName: "Nakuru",
		Price:      decimal.NewFromInt(3600),
		Unit:       "bag",
		EntryDate:  time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeFallsBackToProductName(t *testing.T) {
	raw := RawRecord{Format: FormatHTML, Line: 1, Product: "Beans (Rosecoco)", Market: "Wakulima", County: "Nairobi", Retail: "120/Kg", Date: "2024-03-05"}
	got, err := raw.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "Beans (Rosecoco)", got.CropName)
	assert.Equal(t, "Wakulima", got.MarketName)
}

func TestNormalizeKeepsBulkRetailUnits(t *testing.T) {
	raw := RawRecord{Format: FormatCSV, Line: 2, Commodity: "Dry Maize", County: "Nakuru", Retail: "3,800/90 Kg Bag", Date: "2024-03-05"}
	got, err := raw.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "bag", got.Unit)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(3800)))
}

func TestNormalizeRejectsRow(t *testing.T) {
	tests := []struct {
		name   string
		raw    RawRecord
		reason string
	}{
		{"no commodity", RawRecord{County: "Nakuru", Retail: "50", Date: "2024-03-05"}, "missing commodity"},
		{"no county", RawRecord{Commodity: "Maize", Retail: "50", Date: "2024-03-05"}, "missing county"},
		{"no price", RawRecord{Commodity: "Maize", County: "Nakuru", Retail: "-", Wholesale: "", Date: "2024-03-05"}, "no usable price"},
		{"bad date", RawRecord{Commodity: "Maize", County: "Nakuru", Retail: "50", Date: "soon"}, "unrecognized date"},
		{"retail too low", RawRecord{Commodity: "Maize", County: "Nakuru", Retail: "4.50/Kg", Wholesale: "3,600/90 Kg Bag", Date: "2024-03-05"}, "outside (5, 2000)"},
		{"retail too high", RawRecord{Commodity: "Maize", County: "Nakuru", Retail: "2,000/Kg", Date: "2024-03-05"}, "retail price 2000/kg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.raw.Format = FormatXLSX
			tt.raw.Line = 9
			_, err := tt.raw.Normalize()
			var rowErr RowError
			require.True(t, errors.As(err, &rowErr))
			assert.Equal(t, 9, rowErr.Line)
			assert.Equal(t, FormatXLSX, rowErr.Format)
			assert.Contains(t, rowErr.Reason, tt.reason)
		})
	}
}

func TestNormalizeAllAppliesQuery(t *testing.T) {
	from := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	raws := []RawRecord{
		{Line: 1, Commodity: "Maize", County: "Nakuru", Retail: "50", Date: "2024-03-05"},
		{Line: 2, Commodity: "Maize", County: "Nakuru", Retail: "48", Date: "2024-02-20"},
		{Line: 3, Commodity: "Beans", County: "Nakuru", Retail: "120", Date: "2024-03-05"},
		{Line: 4, Commodity: "Maize", County: "", Retail: "50", Date: "2024-03-05"},
	}
	b := NormalizeAll("upload.csv", raws, Query{From: &from, Crop: "maize"})

	assert.Equal(t, "upload.csv", b.Label)
	require.Len(t, b.Records, 1)
	assert.Equal(t, 1, b.Records[0].Line)
	require.Len(t, b.Errors, 1)
	assert.Equal(t, 4, b.Errors[0].Line)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "maize dry", NormalizeName("Maize (Dry)"))
	assert.Equal(t, "maize dry", NormalizeName("  maize - dry "))
	assert.Equal(t, "", NormalizeName("--"))
}

func TestQuerySetRange(t *testing.T) {
	var q Query
	require.NoError(t, q.SetRange("2024-03-01", ""))
	require.NotNil(t, q.From)
	assert.Nil(t, q.To)
	assert.Equal(t, "2024-03-01", q.From.Format("2006-01-02"))

	assert.Error(t, (&Query{}).SetRange("01/03/2024", ""))
	assert.Error(t, (&Query{}).SetRange("2024-03-05", "2024-03-01"))
}
