package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"agri-price-api/pgstore"
	"agri-price-api/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var received = time.Date(2026, 3, 9, 14, 25, 0, 0, time.UTC)

func TestParseReport(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantPrice string
		wantUnit  string
		wantDate  string
		wantPhone string
	}{
		{
			name:      "numeric price keeps crop unit",
			raw:       `{"ts":"2026-03-08T06:10:00Z","reporter_phone":"0712345678","crop":"Maize","region":"Central Kenya","price":52.5}`,
			wantPrice: "52.5",
			wantUnit:  "",
			wantDate:  "2026-03-08",
			wantPhone: "+254712345678",
		},
		{
			name:      "string price with unit suffix",
			raw:       `{"crop":" Beans ","region":"Nyanza","market":"Kisumu","price":"Ksh 4,500/bag","ts":"2026-03-07"}`,
			wantPrice: "4500",
			wantUnit:  "bag",
			wantDate:  "2026-03-07",
		},
		{
			name:      "explicit unit wins",
			raw:       `{"crop":"Cabbages","region":"Nairobi","price":"30","unit":"HEAD"}`,
			wantPrice: "30",
			wantUnit:  "head",
			wantDate:  "2026-03-09",
		},
		{
			name:      "later the same day",
			raw:       `{"crop":"Maize","region":"Nairobi","price":41,"ts":"2026-03-09T21:00:00Z"}`,
			wantPrice: "41",
			wantDate:  "2026-03-09",
		},
		{
			name:      "bad timestamp and phone are dropped",
			raw:       `{"crop":"Maize","region":"Nairobi","price":40,"ts":"yesterday","reporter_phone":"12"}`,
			wantPrice: "40",
			wantDate:  "2026-03-09",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := parseReport([]byte(tt.raw), received)
			require.NoError(t, err)
			assert.True(t, r.Price.Equal(decimal.RequireFromString(tt.wantPrice)), "price %s", r.Price)
			assert.Equal(t, tt.wantUnit, r.Unit)
			assert.Equal(t, tt.wantDate, r.Date.Format("2006-01-02"))
			assert.Equal(t, tt.wantPhone, r.ReporterPhone)
		})
	}
}

func TestParseReportRejects(t *testing.T) {
	tests := map[string]string{
		"not json":       `{"crop":`,
		"missing crop":   `{"region":"Nairobi","price":10}`,
		"missing region": `{"crop":"Maize","price":10}`,
		"missing price":  `{"crop":"Maize","region":"Nairobi"}`,
		"null price":     `{"crop":"Maize","region":"Nairobi","price":null}`,
		"zero price":     `{"crop":"Maize","region":"Nairobi","price":0}`,
		"text price":     `{"crop":"Maize","region":"Nairobi","price":"cheap"}`,
		"future date":    `{"crop":"Maize","region":"Nairobi","price":40,"ts":"2026-03-10"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseReport([]byte(raw), received)
			assert.Error(t, err)
		})
	}
}

type fakeStore struct {
	reports []pgstore.Report
	created bool
	err     error
}

func (f *fakeStore) InsertReport(_ context.Context, r pgstore.Report) (uint, bool, error) {
	f.reports = append(f.reports, r)
	if f.err != nil {
		return 0, false, f.err
	}
	return uint(len(f.reports)), f.created, nil
}

type fakePublisher struct {
	channels []string
	payloads []map[string]any
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, m)
	return nil
}

func newCollector(st reportStore, pub publisher) *collector {
	return &collector{store: st, publisher: pub, logger: zap.NewNop(), now: func() time.Time { return received }}
}

func TestProcessMessagePublishesNewEntries(t *testing.T) {
	st := &fakeStore{created: true}
	pub := &fakePublisher{}
	c := newCollector(st, pub)

	c.processMessage(context.Background(), []byte(`{"crop":"Maize","region":"Nairobi","price":"55"}`))

	require.Len(t, st.reports, 1)
	assert.Equal(t, "Maize", st.reports[0].Crop)
	require.Len(t, pub.channels, 1)
	assert.Equal(t, services.ChannelSubmissions, pub.channels[0])
	assert.Equal(t, "55.00", pub.payloads[0]["price"])
	assert.Equal(t, "farmer", pub.payloads[0]["source"])
	assert.Equal(t, "2026-03-09", pub.payloads[0]["entry_date"])
}

func TestProcessMessageSkipsDuplicatesAndFailures(t *testing.T) {
	pub := &fakePublisher{}

	dup := newCollector(&fakeStore{created: false}, pub)
	dup.processMessage(context.Background(), []byte(`{"crop":"Maize","region":"Nairobi","price":55}`))

	unknown := newCollector(&fakeStore{err: fmt.Errorf("%w: crop %q", pgstore.ErrUnknownName, "Kale")}, pub)
	unknown.processMessage(context.Background(), []byte(`{"crop":"Kale","region":"Nairobi","price":55}`))

	broken := newCollector(&fakeStore{err: errors.New("connection reset")}, pub)
	broken.processMessage(context.Background(), []byte(`{"crop":"Maize","region":"Nairobi","price":55}`))

	invalid := &fakeStore{}
	newCollector(invalid, pub).processMessage(context.Background(), []byte(`not json`))

	assert.Empty(t, pub.channels)
	assert.Empty(t, invalid.reports)
}
