package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"agri-price-api/apperr"
	"agri-price-api/config"
	"agri-price-api/database"
	"agri-price-api/kamis"
	"agri-price-api/models"
	"agri-price-api/prediction"
	"agri-price-api/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var entryDay = time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	batches []kamis.Batch
	err     error
}

func (f *fakeSource) Fetch(_ context.Context, _ kamis.Query, emit func(kamis.Batch) error) error {
	for _, b := range f.batches {
		if err := emit(b); err != nil {
			return err
		}
	}
	return f.err
}

type recordingPublisher struct {
	mu       sync.Mutex
	events   []map[string]any
	prefixes []string
}

func (p *recordingPublisher) DeletePrefix(_ context.Context, prefix string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefixes = append(p.prefixes, prefix)
	return nil
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, msg interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := msg.(map[string]any); ok {
		p.events = append(p.events, m)
	}
	return nil
}

type recordingPredictor struct {
	mu    sync.Mutex
	pairs []prediction.Pair
}

func (p *recordingPredictor) GenerateFor(_ context.Context, pairs []prediction.Pair) prediction.Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairs = append(p.pairs, pairs...)
	return prediction.Summary{Pairs: len(pairs), Generated: len(pairs)}
}

type harness struct {
	db        *gorm.DB
	orch      *Orchestrator
	exec      *Executor
	source    *fakeSource
	publisher *recordingPublisher
	predictor *recordingPredictor
	maize     uint
	central   uint
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := database.OpenTest(t)
	maize := models.Crop{Name: "Dry Maize", Unit: "kg", Active: true}
	require.NoError(t, db.Create(&maize).Error)
	central := models.Region{Name: "Nyeri", Grouping: "Central", Active: true}
	require.NoError(t, db.Create(&central).Error)

	h := &harness{
		db:        db,
		source:    &fakeSource{},
		publisher: &recordingPublisher{},
		predictor: &recordingPredictor{},
		maize:     maize.ID,
		central:   central.ID,
	}
	h.exec = NewExecutor(context.Background(), 2, nil)
	t.Cleanup(h.exec.Stop)
	h.orch = New(db, h.source, h.exec, Options{
		StaleAfter:  time.Hour,
		Channel:     "agriprice:sync",
		Publisher:   h.publisher,
		Predictor:   h.predictor,
		Cache:       h.publisher,
		CachePrefix: "predictions:",
	})
	return h
}

func record(line int, crop, region, market string, price int64) kamis.Record {
	return kamis.Record{
		Format: kamis.FormatHTML, Line: line, CropName: crop, RegionName: region, MarketName: market,
		Price: decimal.NewFromInt(price), Unit: "kg", EntryDate: entryDay,
	}
}

func (h *harness) syncLog(t *testing.T, id uint) models.SyncLog {
	t.Helper()
	var log models.SyncLog
	require.NoError(t, h.db.First(&log, id).Error)
	return log
}

func (h *harness) prices(t *testing.T) []models.PriceEntry {
	t.Helper()
	var rows []models.PriceEntry
	require.NoError(t, h.db.Order("id").Find(&rows).Error)
	return rows
}

func TestBeginRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Begin(ctx, models.TriggerScheduled, nil)
	require.NoError(t, err)
	require.NotNil(t, first.RunningGuard)

	_, err = h.orch.TriggerManual(ctx, 1, kamis.Query{})
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, 409, apperr.StatusCode(err))

	var count int64
	require.NoError(t, h.db.Model(&models.SyncLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunningGuardIndexRejectsSecondRow(t *testing.T) {
	h := newHarness(t)
	guard := true
	require.NoError(t, h.db.Create(&models.SyncLog{RunID: "a", Trigger: models.TriggerManual, Status: models.SyncRunning, StartedAt: time.Now(), RunningGuard: &guard}).Error)
	err := h.db.Create(&models.SyncLog{RunID: "b", Trigger: models.TriggerManual, Status: models.SyncRunning, StartedAt: time.Now(), RunningGuard: &guard}).Error
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)

	// Finished runs carry a NULL guard and never collide.
	require.NoError(t, h.db.Create(&models.SyncLog{RunID: "c", Trigger: models.TriggerManual, Status: models.SyncSuccess, StartedAt: time.Now()}).Error)
	require.NoError(t, h.db.Create(&models.SyncLog{RunID: "d", Trigger: models.TriggerManual, Status: models.SyncFailed, StartedAt: time.Now()}).Error)
}

func TestBeginReapsStaleRun(t *testing.T) {
	h := newHarness(t)
	guard := true
	stale := models.SyncLog{RunID: "stale", Trigger: models.TriggerManual, Status: models.SyncRunning,
		StartedAt: time.Now().UTC().Add(-3 * time.Hour), RunningGuard: &guard}
	require.NoError(t, h.db.Create(&stale).Error)

	run, err := h.orch.Begin(context.Background(), models.TriggerManual, nil)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, run.ID)

	reaped := h.syncLog(t, stale.ID)
	assert.Equal(t, models.SyncFailed, reaped.Status)
	assert.Equal(t, "stale run reaped", reaped.ErrorDetail)
	assert.Nil(t, reaped.RunningGuard)
	assert.NotNil(t, reaped.CompletedAt)
}

func TestRunUpsertsAndResolvesNames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.batches = []kamis.Batch{{
		Label: "Dry Maize",
		Records: []kamis.Record{
			record(1, "Dry Maize", "Nyeri", "Karatina", 50),
			record(2, "dry maize (white)", "NYERI", "karatina", 51),
			record(3, "Avocado", "Nyeri", "Karatina", 20),
		},
		Errors: []kamis.RowError{{Format: kamis.FormatHTML, Line: 4, Label: "Dry Maize", Reason: "missing county"}},
	}}

	run, err := h.orch.Begin(ctx, models.TriggerManual, nil)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, run, h.source, kamis.Query{}))

	log := h.syncLog(t, run.ID)
	assert.Equal(t, models.SyncSuccess, log.Status)
	assert.Nil(t, log.RunningGuard)
	assert.Equal(t, 4, log.RecordsTotal)
	assert.Equal(t, 1, log.RecordsSynced)
	assert.Equal(t, 2, log.RecordsFailed)
	assert.Contains(t, log.ErrorDetail, "missing county")
	assert.Contains(t, log.ErrorDetail, `unknown crop "Avocado"`)

	rows := h.prices(t)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Price.Equal(decimal.NewFromInt(51)), "last write wins within a batch")
	assert.True(t, rows[0].IsVerified)
	assert.Equal(t, models.SourceExternalFeed, rows[0].Source)

	var markets []models.Market
	require.NoError(t, h.db.Find(&markets).Error)
	require.Len(t, markets, 1)
	assert.Equal(t, "Karatina", markets[0].Name)

	assert.Equal(t, []prediction.Pair{{CropID: h.maize, RegionID: h.central}}, h.predictor.pairs)
	assert.Equal(t, []string{"predictions:"}, h.publisher.prefixes)
}

func TestRepeatedSyncOverwritesSameKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, price := range []int64{50, 57} {
		h.source.batches = []kamis.Batch{{Label: "Dry Maize", Records: []kamis.Record{record(1, "Dry Maize", "Nyeri", "Karatina", price)}}}
		run, err := h.orch.Begin(ctx, models.TriggerScheduled, nil)
		require.NoError(t, err)
		require.NoError(t, h.orch.Run(ctx, run, h.source, kamis.Query{}))
	}

	rows := h.prices(t)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Price.Equal(decimal.NewFromInt(57)))
}

func TestRunKeepsCommittedRowsOnFetchFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.batches = []kamis.Batch{{Label: "Dry Maize", Records: []kamis.Record{record(1, "Dry Maize", "Nyeri", "Karatina", 50)}}}
	h.source.err = errors.New("fetch product 7: unexpected status 503")

	run, err := h.orch.Begin(ctx, models.TriggerManual, nil)
	require.NoError(t, err)
	err = h.orch.Run(ctx, run, h.source, kamis.Query{})
	require.Error(t, err)

	log := h.syncLog(t, run.ID)
	assert.Equal(t, models.SyncFailed, log.Status)
	assert.Equal(t, 1, log.RecordsSynced)
	assert.True(t, strings.HasPrefix(log.ErrorDetail, "fetch product 7"))
	assert.Nil(t, log.RunningGuard)
	assert.Len(t, h.prices(t), 1)
	assert.Empty(t, h.predictor.pairs, "failed runs do not regenerate predictions")
	assert.Empty(t, h.publisher.prefixes)

	_, err = h.orch.Begin(ctx, models.TriggerManual, nil)
	assert.NoError(t, err, "guard released after failure")
}

func TestRunCapsRowErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var errs []kamis.RowError
	for i := 0; i < 80; i++ {
		errs = append(errs, kamis.RowError{Format: kamis.FormatCSV, Line: i + 2, Reason: "invalid price"})
	}
	h.source.batches = []kamis.Batch{{Label: "upload.csv", Errors: errs}}

	run, err := h.orch.Begin(ctx, models.TriggerUpload, nil)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, run, h.source, kamis.Query{}))

	log := h.syncLog(t, run.ID)
	assert.Equal(t, 80, log.RecordsFailed)
	assert.Len(t, strings.Split(log.ErrorDetail, "\n"), maxRowErrors)
}

func TestImportFileRunsOnExecutor(t *testing.T) {
	h := newHarness(t)
	csv := "Commodity,County,Market,Retail,Date\n" +
		"Dry Maize,Nyeri,Karatina,52.00/Kg,2024-03-05\n" +
		"Dry Maize,Nyeri,Othaya,not-a-price,2024-03-05\n"

	run, err := h.orch.ImportFile(context.Background(), 1, "kamis.csv", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, models.SyncRunning, run.Status)
	assert.Equal(t, models.TriggerUpload, run.Trigger)

	h.exec.Stop()

	log := h.syncLog(t, run.ID)
	assert.Equal(t, models.SyncSuccess, log.Status)
	assert.Equal(t, 2, log.RecordsTotal)
	assert.Equal(t, 1, log.RecordsSynced)
	assert.Equal(t, 1, log.RecordsFailed)
	require.NotNil(t, log.TriggeredBy)
	assert.Equal(t, uint(1), *log.TriggeredBy)

	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()
	require.NotEmpty(t, h.publisher.events)
	assert.Equal(t, "progress", h.publisher.events[0]["event"])
}

func TestImportFileNowFinishesBeforeReturning(t *testing.T) {
	h := newHarness(t)
	csv := "Commodity,County,Market,Retail,Date\n" +
		"Dry Maize,Nyeri,Karatina,52.00/Kg,2024-03-05\n"

	run, err := h.orch.ImportFileNow(context.Background(), "kamis.csv", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, models.SyncSuccess, run.Status)
	assert.Equal(t, 1, run.RecordsSynced)
	assert.Nil(t, run.TriggeredBy)
	assert.Len(t, h.prices(t), 1)

	h.predictor.mu.Lock()
	defer h.predictor.mu.Unlock()
	assert.Equal(t, []prediction.Pair{{CropID: h.maize, RegionID: h.central}}, h.predictor.pairs)
}

func TestSyncNowRecordsFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.source.err = errors.New("kamis unreachable")

	run, err := h.orch.SyncNow(context.Background(), kamis.Query{})
	require.Error(t, err)
	assert.Equal(t, models.SyncFailed, run.Status)
	assert.Equal(t, models.TriggerManual, run.Trigger)
	assert.Contains(t, h.syncLog(t, run.ID).ErrorDetail, "kamis unreachable")
}

func TestImportFileRejectsBadFileWithoutLog(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.ImportFile(context.Background(), 1, "kamis.csv", strings.NewReader("Name,Value\na,b\n"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	var count int64
	require.NoError(t, h.db.Model(&models.SyncLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestForceResetAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.orch.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Nil(t, st.Last)

	run, err := h.orch.Begin(ctx, models.TriggerManual, nil)
	require.NoError(t, err)
	st, err = h.orch.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, run.RunID, st.Current.RunID)

	n, err := h.orch.ForceReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err = h.orch.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	require.NotNil(t, st.Last)
	assert.Equal(t, "reset by admin", st.Last.ErrorDetail)

	logs, meta, err := h.orch.Logs(ctx, store.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, int64(1), meta.Total)
}

func TestRunScheduledRecordsScheduledTrigger(t *testing.T) {
	h := newHarness(t)
	h.source.batches = []kamis.Batch{{Label: "Dry Maize", Records: []kamis.Record{record(1, "Dry Maize", "Nyeri", "Karatina", 50)}}}

	run, err := h.orch.RunScheduled(context.Background())
	require.NoError(t, err)

	log := h.syncLog(t, run.ID)
	assert.Equal(t, models.TriggerScheduled, log.Trigger)
	assert.Equal(t, models.SyncSuccess, log.Status)
	assert.Nil(t, log.TriggeredBy)
	assert.Equal(t, 1, log.RecordsSynced)
}

func TestRunScheduledSkipsWhileGuardHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.Begin(ctx, models.TriggerManual, nil)
	require.NoError(t, err)

	run, err := h.orch.RunScheduled(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Nil(t, run)

	var count int64
	require.NoError(t, h.db.Model(&models.SyncLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStartSchedulerRunsOnInterval(t *testing.T) {
	h := newHarness(t)
	h.source.batches = []kamis.Batch{{Label: "Dry Maize", Records: []kamis.Record{record(1, "Dry Maize", "Nyeri", "Karatina", 50)}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.orch.StartScheduler(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		var count int64
		err := h.db.Model(&models.SyncLog{}).
			Where("trigger_type = ? AND status = ?", models.TriggerScheduled, models.SyncSuccess).
			Count(&count).Error
		return err == nil && count > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunCommitsHealthyProductsWhenOnePageFails(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		product := r.URL.Query().Get("product")
		if product == "1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<h3>Dry Maize</h3><table>
<tr><th>Commodity</th><th>Market</th><th>Retail</th><th>County</th><th>Date</th></tr>
<tr><td>Dry Maize</td><td>Market %s</td><td>5%s.00/Kg</td><td>Nyeri</td><td>2024-03-05</td></tr>
</table>`, product, product)
	}))
	defer srv.Close()
	src := kamis.NewHTMLSourceWithClient(config.KamisConfig{
		BaseURL: srv.URL, ProductIDs: []int{1, 2, 3}, Concurrency: 1,
	}, srv.Client())

	ctx := context.Background()
	run, err := h.orch.Begin(ctx, models.TriggerScheduled, nil)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, run, src, kamis.Query{}))

	log := h.syncLog(t, run.ID)
	assert.Equal(t, models.SyncSuccess, log.Status)
	assert.Equal(t, 2, log.RecordsSynced)
	assert.Equal(t, 1, log.RecordsFailed)
	assert.Contains(t, log.ErrorDetail, "product 1")
	assert.Contains(t, log.ErrorDetail, "404")
	assert.Len(t, h.prices(t), 2)
}
