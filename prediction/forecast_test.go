package prediction

import (
	"errors"
	"testing"
	"time"

	"agri-price-api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func series(prices ...float64) []Observation {
	obs := make([]Observation, len(prices))
	for i, p := range prices {
		obs[i] = Observation{
			ID:        uint(i + 1),
			Date:      day0.AddDate(0, 0, i),
			Price:     p,
			CreatedAt: day0.AddDate(0, 0, i).Add(9 * time.Hour),
		}
	}
	return obs
}

func TestComputeInsufficientData(t *testing.T) {
	_, err := Compute(series(50, 52), 7, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 2, insufficient.Have)
	assert.Equal(t, 3, insufficient.Need)

	f, err := Compute(series(50, 52, 54), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, f.SampleSize)
}

func TestComputeSameDayEntriesCountAsOnePoint(t *testing.T) {
	obs := series(50, 52)
	obs = append(obs, Observation{ID: 9, Date: obs[1].Date, Price: 60, CreatedAt: obs[1].CreatedAt.Add(time.Hour)})

	_, err := Compute(obs, 7, 3)
	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 2, insufficient.Have)
}

func TestComputeLinearTrend(t *testing.T) {
	f, err := Compute(series(100, 110, 120), 7, 3)
	require.NoError(t, err)

	assert.InDelta(t, 10, f.Slope, 1e-9)
	assert.InDelta(t, 1, f.RSquared, 1e-9)
	assert.Equal(t, 120.0, f.CurrentPrice)
	assert.Equal(t, 190.0, f.PredictedPrice)
	assert.Equal(t, 58.33, f.ChangePct)
	assert.Equal(t, models.TrendRising, f.Trend)
	assert.Contains(t, f.Recommendation, "rising 58.3%")
	assert.False(t, f.Clamped)

	require.Len(t, f.Days, 7)
	assert.Equal(t, 130.0, f.Days[0].Price)
	assert.Equal(t, 8.33, f.Days[0].ChangePct)
	assert.True(t, f.Days[0].Date.Equal(day0.AddDate(0, 0, 3)))
	assert.Equal(t, f.PredictedPrice, f.Days[6].Price)
	assert.Equal(t, "medium", f.ConfidenceLabel)
}

func TestComputeStableSeries(t *testing.T) {
	f, err := Compute(series(50, 50, 50), 7, 3)
	require.NoError(t, err)

	assert.Equal(t, models.TrendStable, f.Trend)
	assert.Equal(t, 50.0, f.PredictedPrice)
	assert.Equal(t, 1.0, f.RSquared)
	// size 0.3, no volatility, perfect fit, decay 1-7/60
	assert.InDelta(t, 0.265, f.Confidence, 0.001)
	assert.Equal(t, "Price stable around 50.00 KES.", f.Recommendation)
}

func TestComputeClampsExtremeSwing(t *testing.T) {
	up, err := Compute(series(10, 10, 100), 30, 3)
	require.NoError(t, err)
	assert.True(t, up.Clamped)
	assert.Equal(t, 500.0, up.PredictedPrice)
	assert.Equal(t, models.TrendRising, up.Trend)

	down, err := Compute(series(100, 100, 10), 30, 3)
	require.NoError(t, err)
	assert.True(t, down.Clamped)
	assert.Equal(t, 2.0, down.PredictedPrice)
	assert.Equal(t, models.TrendFalling, down.Trend)

	for _, d := range append(up.Days, down.Days...) {
		assert.GreaterOrEqual(t, d.Price, 2.0)
		assert.LessOrEqual(t, d.Price, 500.0)
	}

	unclamped, err := Compute(series(10, 10, 100), 1, 3)
	require.NoError(t, err)
	assert.Less(t, up.Confidence, unclamped.Confidence)
}

func TestComputeCurrentPriceIsLatestEntry(t *testing.T) {
	obs := series(50, 52, 54)
	last := obs[2]
	obs = append(obs, Observation{ID: 2, Date: last.Date, Price: 70, CreatedAt: last.CreatedAt.Add(time.Minute)})

	f, err := Compute(obs, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 70.0, f.CurrentPrice)
}

func TestComputeRejectsHorizon(t *testing.T) {
	for _, h := range []int{0, 31, -1} {
		_, err := Compute(series(1, 2, 3), h, 3)
		assert.Error(t, err, "horizon %d", h)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	a, err := Compute(series(48, 51, 47, 55, 53), 14, 3)
	require.NoError(t, err)
	b, err := Compute(series(48, 51, 47, 55, 53), 14, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSummarize(t *testing.T) {
	d0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	obs := []Observation{
		{ID: 1, Date: d0, Price: 40, CreatedAt: d0},
		{ID: 2, Date: d0, Price: 44, CreatedAt: d0},
		{ID: 3, Date: d0.AddDate(0, 0, 1), Price: 45, CreatedAt: d0},
		{ID: 4, Date: d0.AddDate(0, 0, 2), Price: 63, CreatedAt: d0},
	}
	s := Summarize(Pair{CropID: 1, RegionID: 2}, d0, d0.AddDate(0, 0, 2), obs)

	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 3, s.Days)
	assert.Equal(t, 40.0, s.Min)
	assert.Equal(t, 63.0, s.Max)
	assert.Equal(t, 48.0, s.Mean)
	assert.Equal(t, 63.0, s.Latest)
	assert.Equal(t, 50.0, s.ChangePct, "42 -> 63")
	assert.Greater(t, s.Volatility, 0.0)

	empty := Summarize(Pair{}, d0, d0, nil)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.Mean)
}
