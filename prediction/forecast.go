// Package prediction turns the recent verified price history of a
// (crop, region) pair into a short-horizon forecast.
package prediction

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"agri-price-api/models"

	"gonum.org/v1/gonum/stat"
)

const (
	MinHorizon = 1
	MaxHorizon = 30

	clampLow  = 0.2
	clampHigh = 5.0

	trendThresholdPct = 5.0
)

// ErrInsufficientData is matched by every *InsufficientDataError.
var ErrInsufficientData = errors.New("insufficient data")

type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d price points, need %d", e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// Observation is one verified price entry.
type Observation struct {
	ID        uint
	Date      time.Time
	Price     float64
	CreatedAt time.Time
}

type Pair struct {
	CropID   uint `json:"crop_id"`
	RegionID uint `json:"region_id"`
}

type DayForecast struct {
	Date      time.Time `json:"date"`
	Price     float64   `json:"predicted_price"`
	ChangePct float64   `json:"change_percentage"`
}

type Forecast struct {
	Pair
	AsOf            time.Time     `json:"as_of"`
	CurrentPrice    float64       `json:"current_price"`
	PredictedPrice  float64       `json:"predicted_price"`
	ChangePct       float64       `json:"change_percentage"`
	Confidence      float64       `json:"confidence_score"`
	ConfidenceLabel string        `json:"confidence"`
	Trend           models.Trend  `json:"trend"`
	Recommendation  string        `json:"recommendation"`
	HorizonDays     int           `json:"horizon_days"`
	SampleSize      int           `json:"sample_size"`
	Clamped         bool          `json:"clamped"`
	Slope           float64       `json:"slope"`
	RSquared        float64       `json:"r_squared"`
	Days            []DayForecast `json:"days"`
}

func ValidHorizon(h int) bool { return h >= MinHorizon && h <= MaxHorizon }

type point struct {
	day   time.Time
	price float64
}

// dailySeries averages observations per entry day, oldest first.
func dailySeries(obs []Observation) []point {
	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, o := range obs {
		d := models.Day(o.Date)
		sums[d] += o.Price
		counts[d]++
	}
	out := make([]point, 0, len(sums))
	for d, sum := range sums {
		out = append(out, point{day: d, price: sum / float64(counts[d])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].day.Before(out[j].day) })
	return out
}

// latest is the most recent observation by entry date, then creation time,
// then id.
func latest(obs []Observation) Observation {
	best := obs[0]
	for _, o := range obs[1:] {
		bd, od := models.Day(best.Date), models.Day(o.Date)
		switch {
		case od.After(bd):
			best = o
		case od.Equal(bd) && o.CreatedAt.After(best.CreatedAt):
			best = o
		case od.Equal(bd) && o.CreatedAt.Equal(best.CreatedAt) && o.ID > best.ID:
			best = o
		}
	}
	return best
}

// Compute fits a least-squares line through the daily means and projects it
// horizon days past the last observed day. The projection is clamped to
// [0.2x, 5x] of the current price.
func Compute(obs []Observation, horizon, minPoints int) (Forecast, error) {
	if !ValidHorizon(horizon) {
		return Forecast{}, fmt.Errorf("horizon must be between %d and %d days, got %d", MinHorizon, MaxHorizon, horizon)
	}
	series := dailySeries(obs)
	if len(series) < minPoints {
		return Forecast{}, &InsufficientDataError{Have: len(series), Need: minPoints}
	}

	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	first := series[0].day
	for i, p := range series {
		xs[i] = p.day.Sub(first).Hours() / 24
		ys[i] = p.price
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, intercept, slope)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		// A flat series is fitted exactly.
		r2 = 1
	}
	r2 = math.Max(0, math.Min(1, r2))

	cur := latest(obs)
	current := cur.Price
	lastX := xs[len(xs)-1]
	lastDay := series[len(series)-1].day

	f := Forecast{
		AsOf:         lastDay,
		CurrentPrice: round2(current),
		HorizonDays:  horizon,
		SampleSize:   len(series),
		Slope:        slope,
		RSquared:     r2,
	}

	prev := current
	for d := 1; d <= horizon; d++ {
		price, clamped := clamp(intercept+slope*(lastX+float64(d)), current)
		f.Days = append(f.Days, DayForecast{
			Date:      lastDay.AddDate(0, 0, d),
			Price:     round2(price),
			ChangePct: round2(pctChange(prev, price)),
		})
		prev = price
		if d == horizon {
			f.PredictedPrice = round2(price)
			f.Clamped = clamped
		}
	}

	f.ChangePct = round2(pctChange(current, f.PredictedPrice))
	f.Confidence = confidence(ys, r2, horizon, f.Clamped)
	f.ConfidenceLabel = confidenceLabel(horizon)
	f.Trend, f.Recommendation = classify(f.ChangePct, current)
	return f, nil
}

func clamp(v, current float64) (float64, bool) {
	lo, hi := clampLow*current, clampHigh*current
	switch {
	case v < lo:
		return lo, true
	case v > hi:
		return hi, true
	}
	return v, false
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

// confidence combines sample size, volatility, fit quality and horizon decay
// into a score in [0, 1]. Clamped forecasts are halved.
func confidence(ys []float64, r2 float64, horizon int, clamped bool) float64 {
	size := math.Min(1, float64(len(ys))/10)

	mean, std := stat.MeanStdDev(ys, nil)
	cv := 0.0
	if mean > 0 && !math.IsNaN(std) {
		cv = std / mean
	}
	vol := 1 / (1 + 2*cv)
	fit := 0.5 + 0.5*r2
	decay := math.Max(0.5, 1-float64(horizon)/60)

	c := math.Max(0, math.Min(1, size*vol*fit*decay))
	if clamped {
		c /= 2
	}
	return math.Round(c*1000) / 1000
}

func confidenceLabel(horizon int) string {
	switch {
	case horizon <= 3:
		return "high"
	case horizon <= 7:
		return "medium"
	default:
		return "low"
	}
}

func classify(changePct, current float64) (models.Trend, string) {
	switch {
	case changePct > trendThresholdPct:
		return models.TrendRising, fmt.Sprintf("Price rising %.1f%%. May be better to wait before selling.", math.Abs(changePct))
	case changePct < -trendThresholdPct:
		return models.TrendFalling, fmt.Sprintf("Price falling %.1f%%. Consider selling now.", math.Abs(changePct))
	default:
		return models.TrendStable, fmt.Sprintf("Price stable around %.2f KES.", current)
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
