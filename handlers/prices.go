package handlers

import (
	"net/http"
	"strconv"
	"time"

	"agri-price-api/apperr"
	"agri-price-api/middleware"
	"agri-price-api/models"
	"agri-price-api/prediction"
	"agri-price-api/pricing"
	"agri-price-api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxStatsDays = 365

type PriceHandler struct {
	pricing *pricing.Service
	store   *store.Store
	logger  *zap.Logger
}

func NewPriceHandler(svc *pricing.Service, st *store.Store, logger *zap.Logger) *PriceHandler {
	return &PriceHandler{pricing: svc, store: st, logger: logger}
}

func actor(c *gin.Context) pricing.Actor {
	return pricing.Actor{UserID: middleware.UserID(c), Role: middleware.Role(c)}
}

func (h *PriceHandler) List(c *gin.Context) {
	var f store.PriceFilter
	var ok bool
	if f.CropID, ok = queryID(c, "crop_id"); !ok {
		return
	}
	if f.RegionID, ok = queryID(c, "region_id"); !ok {
		return
	}
	if f.MarketID, ok = queryID(c, "market_id"); !ok {
		return
	}
	if f.From, ok = parseDate(c, "from"); !ok {
		return
	}
	if f.To, ok = parseDate(c, "to"); !ok {
		return
	}
	switch src := models.PriceSource(c.Query("source")); src {
	case "", models.SourceExternalFeed, models.SourceFarmer, models.SourceAdmin:
		f.Source = src
	default:
		badRequest(c, "invalid source")
		return
	}
	f.IncludeUnverified = c.Query("include_unverified") == "true"

	entries, meta, err := h.pricing.List(c.Request.Context(), actor(c), f, ParsePagination(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondPage(c, entries, meta)
}

func (h *PriceHandler) Submit(c *gin.Context) {
	var in pricing.SubmitInput
	if !bindJSON(c, &in) {
		return
	}
	entry, err := h.pricing.Submit(c.Request.Context(), actor(c), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	msg := "price submitted for verification"
	if entry.IsVerified {
		msg = "price recorded"
	}
	respond(c, http.StatusCreated, msg, entry)
}

func (h *PriceHandler) Pending(c *gin.Context) {
	entries, meta, err := h.pricing.ListPending(c.Request.Context(), ParsePagination(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondPage(c, entries, meta)
}

func (h *PriceHandler) Verify(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	entry, err := h.pricing.Verify(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "price verified", entry)
}

func (h *PriceHandler) Reject(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.pricing.Reject(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "price rejected", nil)
}

// Stats summarises verified prices of one crop in one region over the last
// ?days days (default 30).
func (h *PriceHandler) Stats(c *gin.Context) {
	cropID, ok := queryID(c, "crop_id")
	if !ok {
		return
	}
	regionID, ok := queryID(c, "region_id")
	if !ok {
		return
	}
	if cropID == 0 || regionID == 0 {
		badRequest(c, "crop_id and region_id are required")
		return
	}
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 || days > maxStatsDays {
		badRequest(c, "days must be between 1 and 365")
		return
	}

	to := models.Day(time.Now())
	from := to.AddDate(0, 0, -(days - 1))
	pair := prediction.Pair{CropID: cropID, RegionID: regionID}
	obs, err := h.store.Observations(c.Request.Context(), pair, from, to)
	if err != nil {
		respondError(c, h.logger, apperr.Internal("failed to load prices", err))
		return
	}
	respond(c, http.StatusOK, "", prediction.Summarize(pair, from, to, obs))
}
