package handlers

import (
	"context"
	"net/http"
	"time"

	"agri-price-api/middleware"
	"agri-price-api/prediction"
	"agri-price-api/pricing"
	"agri-price-api/services"
	"agri-price-api/sms"
	"agri-price-api/store"
	"agri-price-api/syncer"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the services the router wires into handlers.
type Deps struct {
	Store        *store.Store
	Auth         *services.AuthService
	Cache        *services.CacheService
	Pricing      *pricing.Service
	Engine       *prediction.Engine
	Orchestrator *syncer.Orchestrator
	SMS          *sms.Service
	CORS         gin.HandlerFunc
	UploadMaxMB  int
	Logger       *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(d.Logger), middleware.Recovery(d.Logger))
	if d.CORS != nil {
		r.Use(d.CORS)
	}

	r.GET("/health", Health(d.Store, d.Cache))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authH := NewAuthHandler(d.Store, d.Auth, d.Logger)
	catalogH := NewCatalogHandler(d.Store, d.Cache, d.Logger)
	priceH := NewPriceHandler(d.Pricing, d.Store, d.Logger)
	predictionH := NewPredictionHandler(d.Store, d.Engine, d.Cache, d.Logger)
	adminReqH := NewAdminRequestHandler(d.Store, d.Logger)
	syncH := NewSyncHandler(d.Orchestrator, d.UploadMaxMB, d.Logger)
	smsH := NewSMSHandler(d.SMS, d.Store, d.Logger)

	authed := middleware.RequireAuth(d.Auth)
	admin := []gin.HandlerFunc{authed, middleware.RequireAdmin()}

	api := r.Group("/api/v1")
	api.Use(middleware.OptionalAuth(d.Auth))

	auth := api.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", authH.Login)
	auth.POST("/refresh", authH.Refresh)
	auth.GET("/profile", authed, authH.Profile)
	auth.PUT("/profile", authed, authH.UpdateProfile)

	crops := api.Group("/crops")
	crops.GET("", catalogH.ListCrops)
	crops.GET("/:id", catalogH.GetCrop)
	crops.POST("", append(admin, catalogH.CreateCrop)...)
	crops.PUT("/:id", append(admin, catalogH.UpdateCrop)...)
	crops.DELETE("/:id", append(admin, catalogH.DeleteCrop)...)

	regions := api.Group("/regions")
	regions.GET("", catalogH.ListRegions)
	regions.GET("/:id", catalogH.GetRegion)
	regions.POST("", append(admin, catalogH.CreateRegion)...)
	regions.PUT("/:id", append(admin, catalogH.UpdateRegion)...)
	regions.DELETE("/:id", append(admin, catalogH.DeleteRegion)...)

	markets := api.Group("/markets")
	markets.GET("", catalogH.ListMarkets)
	markets.POST("", append(admin, catalogH.CreateMarket)...)

	prices := api.Group("/prices")
	prices.GET("", priceH.List)
	prices.GET("/stats", priceH.Stats)
	prices.POST("", authed, priceH.Submit)
	prices.GET("/pending", append(admin, priceH.Pending)...)
	prices.PUT("/:id/verify", append(admin, priceH.Verify)...)
	prices.DELETE("/:id/reject", append(admin, priceH.Reject)...)

	predictions := api.Group("/predictions")
	predictions.GET("", predictionH.List)
	predictions.POST("/generate", authed, predictionH.Generate)
	predictions.POST("/generate-all", append(admin, predictionH.GenerateAll)...)

	adminReqs := api.Group("/admin-requests")
	adminReqs.POST("", authed, adminReqH.Create)
	adminReqs.GET("", append(admin, adminReqH.List)...)
	adminReqs.PUT("/:id/review", append(admin, adminReqH.Review)...)

	// The live feed authenticates from the query string.
	api.GET("/kamis/live", LiveSync(d.Cache, d.Auth, d.Orchestrator, d.Logger))
	kamisG := api.Group("/kamis", admin...)
	kamisG.GET("/status", syncH.Status)
	kamisG.POST("/sync", syncH.Sync)
	kamisG.GET("/logs", syncH.Logs)
	kamisG.POST("/upload", syncH.Upload)
	kamisG.POST("/reset", syncH.Reset)

	smsG := api.Group("/sms")
	smsG.POST("/subscribe", authed, smsH.Subscribe)
	smsG.GET("/subscriptions", authed, smsH.Subscriptions)
	smsG.DELETE("/subscribe/:id", authed, smsH.Unsubscribe)
	smsG.POST("/send", append(admin, smsH.Send)...)
	smsG.GET("/logs", append(admin, smsH.Logs)...)
	smsG.GET("/templates", append(admin, smsH.Templates)...)
	smsG.POST("/templates", append(admin, smsH.SaveTemplate)...)

	return r
}

// Health reports database and redis reachability. Redis is optional, so
// only a database failure makes the service unhealthy.
func Health(st *store.Store, cache *services.CacheService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "UP", http.StatusOK
		dbState := "up"
		if sqlDB, err := st.DB().DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status, code, dbState = "DOWN", http.StatusServiceUnavailable, "down"
		}
		redisState := "disabled"
		if cache.Available() {
			redisState = "up"
			if err := cache.Client().Ping(ctx).Err(); err != nil {
				redisState = "down"
			}
		}
		c.JSON(code, gin.H{
			"status":   status,
			"database": dbState,
			"redis":    redisState,
			"message":  "Agri-Price API is running",
		})
	}
}
