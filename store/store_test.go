package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"agri-price-api/apperr"
	"agri-price-api/database"
	"agri-price-api/models"
	"agri-price-api/prediction"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(database.OpenTest(t))
}

func seedPair(t *testing.T, s *Store) (*models.Crop, *models.Region) {
	t.Helper()
	ctx := context.Background()
	crop, err := s.CreateCrop(ctx, CropInput{Name: ptr("Maize"), Category: ptr("cereal")})
	require.NoError(t, err)
	region, err := s.CreateRegion(ctx, RegionInput{Name: ptr("Central Kenya"), Grouping: ptr("Central")})
	require.NoError(t, err)
	return crop, region
}

func TestPageMeta(t *testing.T) {
	p := Page{Page: 0, Limit: 500}.Normalize()
	assert.Equal(t, Page{Page: 1, Limit: MaxLimit}, p)
	assert.Equal(t, PageMeta{Page: 2, Limit: 20, Total: 41, Pages: 3}, Page{Page: 2, Limit: 20}.Meta(41))
	assert.Equal(t, 20, Page{Page: 2, Limit: 20}.Offset())
}

func TestCropLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	crop, err := s.CreateCrop(ctx, CropInput{Name: ptr(" Beans "), Unit: ptr("KG")})
	require.NoError(t, err)
	assert.Equal(t, "Beans", crop.Name)
	assert.Equal(t, "kg", crop.Unit)
	assert.True(t, crop.Active)

	_, err = s.CreateCrop(ctx, CropInput{Name: ptr("Beans")})
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	_, err = s.CreateCrop(ctx, CropInput{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	updated, err := s.UpdateCrop(ctx, crop.ID, CropInput{Category: ptr("legume")})
	require.NoError(t, err)
	assert.Equal(t, "legume", updated.Category)

	require.NoError(t, s.DeactivateCrop(ctx, crop.ID))
	active, err := s.ListCrops(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := s.ListCrops(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.True(t, errors.Is(s.DeactivateCrop(ctx, 999), apperr.ErrNotFound))
	_, err = s.GetCrop(ctx, 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMarkets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, region := seedPair(t, s)

	m, err := s.CreateMarket(ctx, "Karatina", region.ID)
	require.NoError(t, err)

	_, err = s.CreateMarket(ctx, "Karatina", region.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	_, err = s.CreateMarket(ctx, "Wakulima", 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	found, err := FindOrCreateMarket(s.DB(), "KARATINA", region.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, found.ID)

	created, err := FindOrCreateMarket(s.DB(), "Othaya", region.ID)
	require.NoError(t, err)
	assert.NotEqual(t, m.ID, created.ID)

	markets, err := s.ListMarkets(ctx, region.ID)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "Central Kenya", markets[0].Region.Name)
}

func TestUpsertExternalOverwritesSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	crop, region := seedPair(t, s)
	market, err := s.CreateMarket(ctx, "Karatina", region.ID)
	require.NoError(t, err)

	day := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	entry := func(price int64) models.PriceEntry {
		return models.PriceEntry{
			CropID: crop.ID, RegionID: region.ID, MarketID: &market.ID, EntryDate: day,
			Source: models.SourceExternalFeed, Price: decimal.NewFromInt(price), Unit: "kg", IsVerified: true,
		}
	}
	require.NoError(t, UpsertExternal(s.DB(), []models.PriceEntry{entry(50)}))
	require.NoError(t, UpsertExternal(s.DB(), []models.PriceEntry{entry(55)}))

	var rows []models.PriceEntry
	require.NoError(t, s.DB().Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Price.Equal(decimal.NewFromInt(55)), "price %s", rows[0].Price)
}

func TestListPricesHidesUnverified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	crop, region := seedPair(t, s)

	day := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.DB().Create(&[]models.PriceEntry{
		{CropID: crop.ID, RegionID: region.ID, EntryDate: day, Source: models.SourceAdmin, Price: decimal.NewFromInt(50), Unit: "kg", IsVerified: true},
		{CropID: crop.ID, RegionID: region.ID, EntryDate: day, Source: models.SourceFarmer, Price: decimal.NewFromInt(52), Unit: "kg"},
	}).Error)

	public, meta, err := s.ListPrices(ctx, PriceFilter{CropID: crop.ID}, Page{})
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, int64(1), meta.Total)
	assert.Equal(t, "Maize", public[0].Crop.Name)

	all, _, err := s.ListPrices(ctx, PriceFilter{IncludeUnverified: true}, Page{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, meta, err := s.ListPendingPrices(ctx, Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.SourceFarmer, pending[0].Source)
	assert.Equal(t, 1, meta.Pages)
}

func TestObservationsAndPredictions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	crop, region := seedPair(t, s)
	pair := prediction.Pair{CropID: crop.ID, RegionID: region.ID}

	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i, price := range []int64{50, 51, 52} {
		require.NoError(t, s.DB().Create(&models.PriceEntry{
			CropID: crop.ID, RegionID: region.ID, EntryDate: base.AddDate(0, 0, i),
			Source: models.SourceAdmin, Price: decimal.NewFromInt(price), Unit: "kg", IsVerified: true,
		}).Error)
	}
	require.NoError(t, s.DB().Create(&models.PriceEntry{
		CropID: crop.ID, RegionID: region.ID, EntryDate: base.AddDate(0, 0, 3),
		Source: models.SourceFarmer, Price: decimal.NewFromInt(90), Unit: "kg",
	}).Error)
	require.NoError(t, s.DB().Create(&models.PriceEntry{
		CropID: crop.ID, RegionID: region.ID, EntryDate: base.AddDate(0, 0, 2),
		Source: models.SourceExternalFeed, Price: decimal.NewFromInt(4200), Unit: "bag", IsVerified: true,
	}).Error)

	obs, err := s.Observations(ctx, pair, base, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Len(t, obs, 3, "bag prices stay out of a kg series")
	assert.Equal(t, 52.0, obs[2].Price)
	assert.True(t, obs[2].Date.Equal(base.AddDate(0, 0, 2)))

	obs, err = s.Observations(ctx, pair, base.AddDate(0, 0, 1), base.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, obs, 1)

	pairs, err := s.ActivePairs(ctx, base, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, []prediction.Pair{pair}, pairs)

	save := func(day time.Time, price int64) {
		require.NoError(t, s.SavePrediction(ctx, &models.Prediction{
			CropID: crop.ID, RegionID: region.ID, PredictionDate: day,
			CurrentPrice: decimal.NewFromInt(52), PredictedPrice: decimal.NewFromInt(price),
			Trend: models.TrendStable, HorizonDays: 7, SampleSize: 3,
		}))
	}
	save(base.AddDate(0, 0, 2), 58)
	save(base.AddDate(0, 0, 3), 59)
	save(base.AddDate(0, 0, 3), 60)

	var count int64
	require.NoError(t, s.DB().Model(&models.Prediction{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	latest, meta, err := s.ListPredictions(ctx, PredictionFilter{CropID: crop.ID, LatestOnly: true}, Page{})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, int64(1), meta.Total)
	assert.True(t, latest[0].PredictedPrice.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, "Central Kenya", latest[0].Region.Name)
}

func TestAdminRequestApprovalPromotesUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	farmer := &models.User{Email: "Wanjiru@Example.com", Password: "hash", FullName: "Wanjiru"}
	require.NoError(t, s.CreateUser(ctx, farmer))
	assert.Equal(t, "wanjiru@example.com", farmer.Email)
	assert.Equal(t, models.RoleFarmer, farmer.Role)

	err := s.CreateUser(ctx, &models.User{Email: "wanjiru@example.com", Password: "x"})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	req, err := s.CreateAdminRequest(ctx, farmer.ID, "cooperative manager")
	require.NoError(t, err)
	_, err = s.CreateAdminRequest(ctx, farmer.ID, "again")
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	reviewed, err := s.ReviewAdminRequest(ctx, req.ID, 99, true, "welcome")
	require.NoError(t, err)
	assert.Equal(t, models.AdminRequestApproved, reviewed.Status)

	u, err := s.UserByEmail(ctx, "WANJIRU@example.com")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin())

	_, err = s.ReviewAdminRequest(ctx, req.ID, 99, false, "")
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	_, err = s.ReviewAdminRequest(ctx, 404, 99, true, "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	pending, _, err := s.ListAdminRequests(ctx, models.AdminRequestPending, Page{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}
