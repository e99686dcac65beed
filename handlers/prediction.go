package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"agri-price-api/apperr"
	"agri-price-api/prediction"
	"agri-price-api/services"
	"agri-price-api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const predictionCacheTTL = 30 * time.Second

type PredictionHandler struct {
	store  *store.Store
	engine *prediction.Engine
	cache  *services.CacheService
	logger *zap.Logger
}

func NewPredictionHandler(st *store.Store, engine *prediction.Engine, cache *services.CacheService, logger *zap.Logger) *PredictionHandler {
	return &PredictionHandler{store: st, engine: engine, cache: cache, logger: logger}
}

type cachedPage struct {
	Data       interface{}    `json:"data"`
	Pagination store.PageMeta `json:"pagination"`
}

func (h *PredictionHandler) List(c *gin.Context) {
	var f store.PredictionFilter
	var ok bool
	if f.CropID, ok = queryID(c, "crop_id"); !ok {
		return
	}
	if f.RegionID, ok = queryID(c, "region_id"); !ok {
		return
	}
	f.LatestOnly = c.DefaultQuery("latest", "true") == "true"
	p := ParsePagination(c)
	ctx := c.Request.Context()

	cacheKey := fmt.Sprintf("%s%d:%d:%t:%d:%d", services.PredictionsKeyPrefix, f.CropID, f.RegionID, f.LatestOnly, p.Page, p.Limit)
	var cached cachedPage
	if err := h.cache.Get(ctx, cacheKey, &cached); err == nil && cached.Data != nil {
		respondPage(c, cached.Data, cached.Pagination)
		return
	}

	rows, meta, err := h.store.ListPredictions(ctx, f, p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	_ = h.cache.Set(ctx, cacheKey, cachedPage{Data: rows, Pagination: meta}, predictionCacheTTL)
	respondPage(c, rows, meta)
}

type GenerateRequest struct {
	CropID      uint `json:"crop_id" binding:"required"`
	RegionID    uint `json:"region_id" binding:"required"`
	HorizonDays int  `json:"horizon_days"`
}

type insufficientData struct {
	Reason   string `json:"reason"`
	Points   int    `json:"points"`
	Required int    `json:"required"`
}

// Generate forecasts one pair. Too little data is a 400 carrying the point
// counts, not an error.
func (h *PredictionHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.HorizonDays == 0 {
		req.HorizonDays = h.engine.DefaultHorizon()
	}
	if !prediction.ValidHorizon(req.HorizonDays) {
		badRequest(c, fmt.Sprintf("horizon_days must be between %d and %d", prediction.MinHorizon, prediction.MaxHorizon))
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.GetCrop(ctx, req.CropID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if _, err := h.store.GetRegion(ctx, req.RegionID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	pair := prediction.Pair{CropID: req.CropID, RegionID: req.RegionID}
	forecast, row, err := h.engine.Predict(ctx, pair, req.HorizonDays)
	var short *prediction.InsufficientDataError
	if errors.As(err, &short) {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: "not enough verified price data to predict",
			Data:    insufficientData{Reason: "insufficient_data", Points: short.Have, Required: short.Need},
		})
		return
	}
	if err != nil {
		respondError(c, h.logger, apperr.Internal("prediction failed", err))
		return
	}

	h.afterGenerate(c, []prediction.Pair{pair})
	respond(c, http.StatusOK, "prediction generated", gin.H{
		"forecast":   forecast,
		"prediction": row,
	})
}

func (h *PredictionHandler) GenerateAll(c *gin.Context) {
	summary, err := h.engine.GenerateAll(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, apperr.Internal("prediction run failed", err))
		return
	}
	h.afterGenerate(c, nil)
	respond(c, http.StatusOK, "predictions generated", summary)
}

func (h *PredictionHandler) afterGenerate(c *gin.Context, pairs []prediction.Pair) {
	ctx := c.Request.Context()
	if err := h.cache.DeletePrefix(ctx, services.PredictionsKeyPrefix); err != nil {
		h.logger.Warn("prediction cache invalidation failed", zap.Error(err))
	}
	event := gin.H{"event": "generated", "source": "api"}
	if pairs != nil {
		event["pairs"] = pairs
	}
	if err := h.cache.Publish(ctx, services.ChannelPredictions, event); err != nil {
		h.logger.Debug("prediction event not published", zap.Error(err))
	}
}
