package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"agri-price-api/models"
	"agri-price-api/services"
	"agri-price-api/syncer"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const statusPollInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveSync streams sync progress to admins. Browsers cannot set headers on
// a websocket, so the access token comes in ?token=. Events come from the
// redis sync channel; without redis the handler polls the sync status.
func LiveSync(cache *services.CacheService, authService *services.AuthService, o *syncer.Orchestrator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, Response{Message: "missing token query parameter"})
			return
		}
		claims, err := authService.ValidateAccessToken(tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, Response{Message: "invalid or expired token"})
			return
		}
		if claims.Role != models.RoleAdmin {
			c.JSON(http.StatusForbidden, Response{Message: "admin role required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// Read pump: detect client disconnect
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		st, err := o.Status(ctx)
		if err == nil {
			if err := conn.WriteJSON(gin.H{"type": "sync_status", "data": st}); err != nil {
				return
			}
		}

		if cache.Available() {
			streamChannel(ctx, conn, cache, logger)
			return
		}
		pollStatus(ctx, conn, o, logger)
	}
}

func streamChannel(ctx context.Context, conn *websocket.Conn, cache *services.CacheService, logger *zap.Logger) {
	pubsub := cache.Subscribe(ctx, services.ChannelSync)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			err := conn.WriteJSON(gin.H{
				"type": "sync_event",
				"data": json.RawMessage(msg.Payload),
			})
			if err != nil {
				logger.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}
}

func pollStatus(ctx context.Context, conn *websocket.Conn, o *syncer.Orchestrator, logger *zap.Logger) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := o.Status(ctx)
			if err != nil {
				logger.Warn("sync status poll failed", zap.Error(err))
				continue
			}
			data, err := json.Marshal(st)
			if err != nil || bytes.Equal(data, last) {
				continue
			}
			last = data
			if err := conn.WriteJSON(gin.H{"type": "sync_status", "data": json.RawMessage(data)}); err != nil {
				logger.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}
}
