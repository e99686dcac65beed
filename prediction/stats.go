package prediction

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stats summarises verified prices for one pair over a window.
type Stats struct {
	Pair
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Count      int       `json:"count"`
	Days       int       `json:"days"`
	Latest     float64   `json:"latest"`
	Mean       float64   `json:"mean"`
	Median     float64   `json:"median"`
	StdDev     float64   `json:"std_dev"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	ChangePct  float64   `json:"change_percentage"`
	Volatility float64   `json:"volatility"`
}

// Summarize computes Stats over obs. Change is measured between the first
// and last daily means; volatility is the coefficient of variation.
func Summarize(pair Pair, from, to time.Time, obs []Observation) Stats {
	s := Stats{Pair: pair, From: from, To: to, Count: len(obs)}
	if len(obs) == 0 {
		return s
	}

	prices := make([]float64, len(obs))
	for i, o := range obs {
		prices[i] = o.Price
	}
	sort.Float64s(prices)
	s.Min, s.Max = prices[0], prices[len(prices)-1]
	s.Median = round2(stat.Quantile(0.5, stat.Empirical, prices, nil))

	mean, std := stat.MeanStdDev(prices, nil)
	if math.IsNaN(std) {
		std = 0
	}
	s.Mean, s.StdDev = round2(mean), round2(std)
	if mean > 0 {
		s.Volatility = math.Round(std/mean*1000) / 1000
	}

	series := dailySeries(obs)
	s.Days = len(series)
	s.Latest = round2(latest(obs).Price)
	s.ChangePct = round2(pctChange(series[0].price, series[len(series)-1].price))
	return s
}
