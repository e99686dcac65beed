// Package syncer orchestrates ingestion runs from the KAMIS feed and from
// uploaded files. At most one run is active at a time; the guard lives in
// the sync_logs table so it holds across API instances and restarts.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"agri-price-api/apperr"
	"agri-price-api/kamis"
	"agri-price-api/models"
	"agri-price-api/prediction"
	"agri-price-api/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrSyncInProgress is returned when another run holds the guard.
var ErrSyncInProgress = &apperr.Error{Kind: apperr.KindConflict, Message: "a sync is already running"}

const (
	maxRowErrors  = 50
	staleReason   = "stale run reaped"
	resetReason   = "reset by admin"
	defaultStale  = 2 * time.Hour
	eventProgress = "progress"
	eventFinished = "finished"
)

// Publisher receives sync progress events; *services.CacheService fits.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Invalidator drops cached reads; *services.CacheService fits.
type Invalidator interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// Predictor refreshes predictions for the pairs a run touched.
type Predictor interface {
	GenerateFor(ctx context.Context, pairs []prediction.Pair) prediction.Summary
}

type Options struct {
	StaleAfter time.Duration
	Channel    string
	Publisher  Publisher
	Predictor  Predictor
	Logger     *zap.Logger

	// Cache keys under CachePrefix are dropped after predictions regenerate.
	Cache       Invalidator
	CachePrefix string
}

type Orchestrator struct {
	db         *gorm.DB
	source     kamis.Source
	exec       *Executor
	staleAfter time.Duration
	channel    string
	publisher  Publisher
	predictor  Predictor
	cache      Invalidator
	prefix     string
	logger     *zap.Logger
	now        func() time.Time
}

func New(db *gorm.DB, source kamis.Source, exec *Executor, opts Options) *Orchestrator {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStale
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		db:         db,
		source:     source,
		exec:       exec,
		staleAfter: opts.StaleAfter,
		channel:    opts.Channel,
		publisher:  opts.Publisher,
		predictor:  opts.Predictor,
		cache:      opts.Cache,
		prefix:     opts.CachePrefix,
		logger:     opts.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Begin claims the guard and inserts a running SyncLog row. A running row
// older than the stale threshold is reaped first.
func (o *Orchestrator) Begin(ctx context.Context, trigger models.SyncTrigger, userID *uint) (*models.SyncLog, error) {
	guard := true
	run := models.SyncLog{
		RunID:        uuid.NewString(),
		Trigger:      trigger,
		Status:       models.SyncRunning,
		StartedAt:    o.now(),
		TriggeredBy:  userID,
		RunningGuard: &guard,
	}

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var running []models.SyncLog
		if err := tx.Where("status = ?", models.SyncRunning).Find(&running).Error; err != nil {
			return err
		}
		for _, r := range running {
			if run.StartedAt.Sub(r.StartedAt) <= o.staleAfter {
				return ErrSyncInProgress
			}
			if err := o.markFailed(tx, r.ID, staleReason); err != nil {
				return err
			}
			o.logger.Warn("reaped stale sync run", zap.String("run_id", r.RunID), zap.Time("started_at", r.StartedAt))
			syncRuns.WithLabelValues(string(models.SyncFailed)).Inc()
		}
		return tx.Create(&run).Error
	})
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) || store.IsDuplicate(err) {
			return nil, ErrSyncInProgress
		}
		return nil, apperr.Internal("failed to start sync", err)
	}
	o.logger.Info("sync started", zap.String("run_id", run.RunID), zap.String("trigger", string(trigger)))
	return &run, nil
}

func (o *Orchestrator) markFailed(tx *gorm.DB, id uint, reason string) error {
	return tx.Model(&models.SyncLog{}).Where("id = ?", id).Updates(map[string]any{
		"status":        models.SyncFailed,
		"completed_at":  o.now(),
		"error_detail":  reason,
		"running_guard": nil,
	}).Error
}

// TriggerManual starts a feed sync and returns the running row; the run
// itself continues on the executor.
func (o *Orchestrator) TriggerManual(ctx context.Context, userID uint, q kamis.Query) (*models.SyncLog, error) {
	return o.start(ctx, models.TriggerManual, &userID, o.source, q)
}

// ImportFile parses an uploaded export and ingests it as an upload run.
// Unparseable files are rejected before any SyncLog row is written.
func (o *Orchestrator) ImportFile(ctx context.Context, userID uint, name string, r io.Reader) (*models.SyncLog, error) {
	raws, err := kamis.ParseFile(name, r)
	if err != nil {
		return nil, err
	}
	src := &kamis.FileSource{Name: name, Records: raws}
	return o.start(ctx, models.TriggerUpload, &userID, src, kamis.Query{})
}

// SyncNow runs a manual feed sync on the calling goroutine.
func (o *Orchestrator) SyncNow(ctx context.Context, q kamis.Query) (*models.SyncLog, error) {
	return o.runNow(ctx, models.TriggerManual, o.source, q)
}

// ImportFileNow parses and ingests an export on the calling goroutine.
func (o *Orchestrator) ImportFileNow(ctx context.Context, name string, r io.Reader) (*models.SyncLog, error) {
	raws, err := kamis.ParseFile(name, r)
	if err != nil {
		return nil, err
	}
	return o.runNow(ctx, models.TriggerUpload, &kamis.FileSource{Name: name, Records: raws}, kamis.Query{})
}

func (o *Orchestrator) runNow(ctx context.Context, trigger models.SyncTrigger, src kamis.Source, q kamis.Query) (*models.SyncLog, error) {
	run, err := o.Begin(ctx, trigger, nil)
	if err != nil {
		return nil, err
	}
	return run, o.Run(ctx, run, src, q)
}

// RunScheduled runs a feed sync to completion on the calling goroutine. A
// conflicting run is skipped.
func (o *Orchestrator) RunScheduled(ctx context.Context) (*models.SyncLog, error) {
	run, err := o.Begin(ctx, models.TriggerScheduled, nil)
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			o.logger.Info("scheduled sync skipped, another run is active")
		}
		return nil, err
	}
	if err := o.Run(ctx, run, o.source, kamis.Query{}); err != nil {
		return run, err
	}
	return run, nil
}

func (o *Orchestrator) start(ctx context.Context, trigger models.SyncTrigger, userID *uint, src kamis.Source, q kamis.Query) (*models.SyncLog, error) {
	run, err := o.Begin(ctx, trigger, userID)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	task := Task{
		Name: "sync " + run.RunID,
		Run:  func(ctx context.Context) error { return o.Run(ctx, run, src, q) },
	}
	if err := o.exec.Submit(task); err != nil {
		fin := context.WithoutCancel(ctx)
		if ferr := o.db.WithContext(fin).Transaction(func(tx *gorm.DB) error {
			return o.markFailed(tx, run.ID, err.Error())
		}); ferr != nil {
			o.logger.Error("failed to release sync guard", zap.String("run_id", run.RunID), zap.Error(ferr))
		}
		return nil, apperr.Internal("failed to queue sync", err)
	}
	return &snapshot, nil
}

type runState struct {
	total, synced, failed int
	rowErrs               []string
	touched               map[prediction.Pair]struct{}
}

func (s *runState) addRowError(msg string) {
	s.failed++
	if len(s.rowErrs) < maxRowErrors {
		s.rowErrs = append(s.rowErrs, msg)
	}
}

// Run executes a claimed run to completion and releases the guard. The
// returned error is the fatal fetch or storage error, if any; the SyncLog row
// records it either way.
func (o *Orchestrator) Run(ctx context.Context, run *models.SyncLog, src kamis.Source, q kamis.Query) error {
	started := time.Now()
	state := &runState{touched: make(map[prediction.Pair]struct{})}

	fatal := func() error {
		catalog, err := LoadCatalog(o.db.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		return src.Fetch(ctx, q, func(b kamis.Batch) error {
			if err := o.commitBatch(ctx, catalog, b, state); err != nil {
				return fmt.Errorf("commit %s: %w", b.Label, err)
			}
			o.progress(ctx, run, state)
			return nil
		})
	}()

	fin := context.WithoutCancel(ctx)
	if err := o.finish(fin, run, state, fatal); err != nil {
		o.logger.Error("failed to finish sync run", zap.String("run_id", run.RunID), zap.Error(err))
		if fatal == nil {
			fatal = err
		}
	}

	syncRuns.WithLabelValues(string(run.Status)).Inc()
	syncRecords.WithLabelValues("synced").Add(float64(state.synced))
	syncRecords.WithLabelValues("failed").Add(float64(state.failed))
	syncDuration.Observe(time.Since(started).Seconds())

	o.logger.Info("sync finished",
		zap.String("run_id", run.RunID),
		zap.String("status", string(run.Status)),
		zap.Int("total", state.total),
		zap.Int("synced", state.synced),
		zap.Int("failed", state.failed),
		zap.Duration("took", time.Since(started)))

	if run.Status == models.SyncSuccess && state.synced > 0 && o.predictor != nil {
		pairs := make([]prediction.Pair, 0, len(state.touched))
		for p := range state.touched {
			pairs = append(pairs, p)
		}
		summary := o.predictor.GenerateFor(fin, pairs)
		if summary.Generated > 0 && o.cache != nil && o.prefix != "" {
			if err := o.cache.DeletePrefix(fin, o.prefix); err != nil {
				o.logger.Warn("prediction cache invalidation failed", zap.String("run_id", run.RunID), zap.Error(err))
			}
		}
		o.publish(fin, map[string]any{"event": "predictions", "run_id": run.RunID, "summary": summary})
	}
	return fatal
}

type marketKey struct {
	regionID uint
	name     string
}

type priceKey struct {
	cropID, regionID, marketID uint
	day                        time.Time
}

// commitBatch resolves and upserts one batch in a single transaction. Rows
// that cannot be resolved are counted as failed; a storage error aborts.
func (o *Orchestrator) commitBatch(ctx context.Context, catalog *Catalog, b kamis.Batch, state *runState) error {
	state.total += len(b.Records) + len(b.Errors)
	for _, rowErr := range b.Errors {
		state.addRowError(rowErr.Error())
	}
	if len(b.Records) == 0 {
		return nil
	}

	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		markets := make(map[marketKey]uint)
		byKey := make(map[priceKey]int)
		var entries []models.PriceEntry
		var failed []string

		for _, rec := range b.Records {
			cropID, ok := catalog.Crop(rec.CropName)
			if !ok {
				failed = append(failed, rowMsg(b.Label, rec, fmt.Sprintf("unknown crop %q", rec.CropName)))
				continue
			}
			regionID, ok := catalog.Region(rec.RegionName)
			if !ok {
				failed = append(failed, rowMsg(b.Label, rec, fmt.Sprintf("unknown region %q", rec.RegionName)))
				continue
			}
			mk := marketKey{regionID: regionID, name: strings.ToLower(rec.MarketName)}
			marketID, ok := markets[mk]
			if !ok {
				m, err := store.FindOrCreateMarket(tx, rec.MarketName, regionID)
				if err != nil {
					return err
				}
				marketID = m.ID
				markets[mk] = marketID
			}

			entry := models.PriceEntry{
				CropID:     cropID,
				RegionID:   regionID,
				MarketID:   &marketID,
				EntryDate:  rec.EntryDate,
				Source:     models.SourceExternalFeed,
				Price:      rec.Price,
				Unit:       rec.Unit,
				IsVerified: true,
			}
			key := priceKey{cropID, regionID, marketID, rec.EntryDate}
			if i, dup := byKey[key]; dup {
				entries[i] = entry
				continue
			}
			byKey[key] = len(entries)
			entries = append(entries, entry)
		}

		if err := store.UpsertExternal(tx, entries); err != nil {
			return err
		}

		state.synced += len(entries)
		for _, msg := range failed {
			state.addRowError(msg)
		}
		for _, e := range entries {
			state.touched[prediction.Pair{CropID: e.CropID, RegionID: e.RegionID}] = struct{}{}
		}
		return nil
	})
}

func rowMsg(label string, rec kamis.Record, reason string) string {
	return kamis.RowError{Format: rec.Format, Line: rec.Line, Label: label, Reason: reason}.Error()
}

func (o *Orchestrator) progress(ctx context.Context, run *models.SyncLog, state *runState) {
	run.RecordsTotal, run.RecordsSynced, run.RecordsFailed = state.total, state.synced, state.failed
	err := o.db.WithContext(ctx).Model(&models.SyncLog{}).Where("id = ?", run.ID).Updates(map[string]any{
		"records_total":  state.total,
		"records_synced": state.synced,
		"records_failed": state.failed,
	}).Error
	if err != nil {
		o.logger.Warn("failed to record sync progress", zap.String("run_id", run.RunID), zap.Error(err))
	}
	o.publish(ctx, o.event(eventProgress, run))
}

func (o *Orchestrator) finish(ctx context.Context, run *models.SyncLog, state *runState, fatal error) error {
	now := o.now()
	run.Status = models.SyncSuccess
	var detail []string
	if fatal != nil {
		run.Status = models.SyncFailed
		detail = append(detail, fatal.Error())
	}
	detail = append(detail, state.rowErrs...)

	run.CompletedAt = &now
	run.RecordsTotal, run.RecordsSynced, run.RecordsFailed = state.total, state.synced, state.failed
	run.ErrorDetail = strings.Join(detail, "\n")
	run.RunningGuard = nil

	err := o.db.WithContext(ctx).Model(&models.SyncLog{}).Where("id = ?", run.ID).Updates(map[string]any{
		"status":         run.Status,
		"completed_at":   now,
		"records_total":  run.RecordsTotal,
		"records_synced": run.RecordsSynced,
		"records_failed": run.RecordsFailed,
		"error_detail":   run.ErrorDetail,
		"running_guard":  nil,
	}).Error
	o.publish(ctx, o.event(eventFinished, run))
	return err
}

func (o *Orchestrator) event(kind string, run *models.SyncLog) map[string]any {
	return map[string]any{
		"event":          kind,
		"run_id":         run.RunID,
		"trigger":        run.Trigger,
		"status":         run.Status,
		"records_total":  run.RecordsTotal,
		"records_synced": run.RecordsSynced,
		"records_failed": run.RecordsFailed,
	}
}

func (o *Orchestrator) publish(ctx context.Context, msg any) {
	if o.publisher == nil || o.channel == "" {
		return
	}
	if err := o.publisher.Publish(ctx, o.channel, msg); err != nil {
		o.logger.Debug("sync event not published", zap.Error(err))
	}
}

// ForceReset fails every running row and returns how many were reset.
func (o *Orchestrator) ForceReset(ctx context.Context) (int64, error) {
	res := o.db.WithContext(ctx).Model(&models.SyncLog{}).
		Where("status = ?", models.SyncRunning).
		Updates(map[string]any{
			"status":        models.SyncFailed,
			"completed_at":  o.now(),
			"error_detail":  resetReason,
			"running_guard": nil,
		})
	if res.Error != nil {
		return 0, apperr.Internal("failed to reset sync", res.Error)
	}
	if res.RowsAffected > 0 {
		o.logger.Warn("sync guard reset by admin", zap.Int64("runs", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

type Status struct {
	Running bool            `json:"running"`
	Current *models.SyncLog `json:"current,omitempty"`
	Last    *models.SyncLog `json:"last,omitempty"`
}

func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	var st Status
	db := o.db.WithContext(ctx)

	var current models.SyncLog
	err := db.Where("status = ?", models.SyncRunning).Order("started_at DESC").First(&current).Error
	switch {
	case err == nil:
		st.Running, st.Current = true, &current
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Status{}, apperr.Internal("failed to load sync status", err)
	}

	var last models.SyncLog
	err = db.Where("status <> ?", models.SyncRunning).Order("started_at DESC").Order("id DESC").First(&last).Error
	switch {
	case err == nil:
		st.Last = &last
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Status{}, apperr.Internal("failed to load sync status", err)
	}
	return st, nil
}

func (o *Orchestrator) Logs(ctx context.Context, p store.Page) ([]models.SyncLog, store.PageMeta, error) {
	p = p.Normalize()
	q := o.db.WithContext(ctx).Model(&models.SyncLog{})
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, store.PageMeta{}, apperr.Internal("failed to count sync logs", err)
	}
	var logs []models.SyncLog
	err := q.Session(&gorm.Session{}).Order("started_at DESC").Order("id DESC").
		Offset(p.Offset()).Limit(p.Limit).Find(&logs).Error
	if err != nil {
		return nil, store.PageMeta{}, apperr.Internal("failed to list sync logs", err)
	}
	return logs, p.Meta(total), nil
}

// StartScheduler runs a scheduled sync every interval until ctx is done. A
// zero interval disables it.
func (o *Orchestrator) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		o.logger.Info("sync scheduler disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		o.logger.Info("sync scheduler started", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := o.RunScheduled(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
					o.logger.Error("scheduled sync failed", zap.Error(err))
				}
			}
		}
	}()
}
