package handlers

import (
	"net/http"
	"strings"
	"time"

	"agri-price-api/middleware"
	"agri-price-api/models"
	"agri-price-api/services"
	"agri-price-api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const catalogTTL = 10 * time.Minute

// CatalogHandler serves crops, regions and markets. Public lists are cached
// in redis and dropped on every admin write.
type CatalogHandler struct {
	store  *store.Store
	cache  *services.CacheService
	logger *zap.Logger
}

func NewCatalogHandler(st *store.Store, cache *services.CacheService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{store: st, cache: cache, logger: logger}
}

// includeInactive honours ?all=true for admins only.
func includeInactive(c *gin.Context) bool {
	return c.Query("all") == "true" && middleware.Role(c) == models.RoleAdmin
}

func (h *CatalogHandler) invalidate(c *gin.Context) {
	if err := h.cache.DeletePrefix(c.Request.Context(), "catalog:"); err != nil {
		h.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}

func (h *CatalogHandler) ListCrops(c *gin.Context) {
	ctx := c.Request.Context()
	all := includeInactive(c)
	if !all {
		var cached []models.Crop
		if err := h.cache.Get(ctx, "catalog:crops", &cached); err == nil && cached != nil {
			respond(c, http.StatusOK, "", cached)
			return
		}
	}
	crops, err := h.store.ListCrops(ctx, all)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !all {
		_ = h.cache.Set(ctx, "catalog:crops", crops, catalogTTL)
	}
	respond(c, http.StatusOK, "", crops)
}

func (h *CatalogHandler) GetCrop(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	crop, err := h.store.GetCrop(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "", crop)
}

func (h *CatalogHandler) CreateCrop(c *gin.Context) {
	var in store.CropInput
	if !bindJSON(c, &in) {
		return
	}
	crop, err := h.store.CreateCrop(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	respond(c, http.StatusCreated, "crop created", crop)
}

func (h *CatalogHandler) UpdateCrop(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in store.CropInput
	if !bindJSON(c, &in) {
		return
	}
	crop, err := h.store.UpdateCrop(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	respond(c, http.StatusOK, "crop updated", crop)
}

func (h *CatalogHandler) DeleteCrop(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeactivateCrop(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	respond(c, http.StatusOK, "crop deactivated", nil)
}

func (h *CatalogHandler) ListRegions(c *gin.Context) {
	ctx := c.Request.Context()
	all := includeInactive(c)
	if !all {
		var cached []models.Region
		if err := h.cache.Get(ctx, "catalog:regions", &cached); err == nil && cached != nil {
			respond(c, http.StatusOK, "", cached)
			return
		}
	}
	regions, err := h.store.ListRegions(ctx, all)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !all {
		_ = h.cache.Set(ctx, "catalog:regions", regions, catalogTTL)
	}
	respond(c, http.StatusOK, "", regions)
}

func (h *CatalogHandler) GetRegion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	region, err := h.store.GetRegion(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "", region)
}

func (h *CatalogHandler) CreateRegion(c *gin.Context) {
	var in store.RegionInput
	if !bindJSON(c, &in) {
		return
	}
	region, err := h.store.CreateRegion(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	respond(c, http.StatusCreated, "region created", region)
}

func (h *CatalogHandler) UpdateRegion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in store.RegionInput
	if !bindJSON(c, &in) {
		return
	}
	region, err := h.store.UpdateRegion(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	respond(c, http.StatusOK, "region updated", region)
}

func (h *CatalogHandler) DeleteRegion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeactivateRegion(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	respond(c, http.StatusOK, "region deactivated", nil)
}

func (h *CatalogHandler) ListMarkets(c *gin.Context) {
	regionID, ok := queryID(c, "region_id")
	if !ok {
		return
	}
	markets, err := h.store.ListMarkets(c.Request.Context(), regionID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "", markets)
}

type CreateMarketRequest struct {
	Name     string `json:"name" binding:"required"`
	RegionID uint   `json:"region_id" binding:"required"`
}

func (h *CatalogHandler) CreateMarket(c *gin.Context) {
	var req CreateMarketRequest
	if !bindJSON(c, &req) {
		return
	}
	market, err := h.store.CreateMarket(c.Request.Context(), strings.TrimSpace(req.Name), req.RegionID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, "market created", market)
}
