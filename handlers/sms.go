package handlers

import (
	"net/http"

	"agri-price-api/middleware"
	"agri-price-api/models"
	"agri-price-api/sms"
	"agri-price-api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SMSHandler struct {
	sms    *sms.Service
	store  *store.Store
	logger *zap.Logger
}

func NewSMSHandler(svc *sms.Service, st *store.Store, logger *zap.Logger) *SMSHandler {
	return &SMSHandler{sms: svc, store: st, logger: logger}
}

func (h *SMSHandler) Send(c *gin.Context) {
	var in sms.SendInput
	if !bindJSON(c, &in) {
		return
	}
	logs, err := h.sms.Send(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "sms sent", logs)
}

func (h *SMSHandler) Logs(c *gin.Context) {
	logs, meta, err := h.sms.ListLogs(c.Request.Context(), ParsePagination(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondPage(c, logs, meta)
}

func (h *SMSHandler) Templates(c *gin.Context) {
	tpls, err := h.sms.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "", tpls)
}

type TemplateRequest struct {
	Name string `json:"name" binding:"required"`
	Body string `json:"body" binding:"required"`
}

func (h *SMSHandler) SaveTemplate(c *gin.Context) {
	var req TemplateRequest
	if !bindJSON(c, &req) {
		return
	}
	tpl, err := h.sms.SaveTemplate(c.Request.Context(), req.Name, req.Body)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, "template saved", tpl)
}

func (h *SMSHandler) user(c *gin.Context) (*models.User, bool) {
	u, err := h.store.UserByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return nil, false
	}
	return u, true
}

func (h *SMSHandler) Subscribe(c *gin.Context) {
	var in sms.SubscribeInput
	if !bindJSON(c, &in) {
		return
	}
	u, ok := h.user(c)
	if !ok {
		return
	}
	sub, err := h.sms.Subscribe(c.Request.Context(), u, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, "subscribed", sub)
}

func (h *SMSHandler) Unsubscribe(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	u, ok := h.user(c)
	if !ok {
		return
	}
	if err := h.sms.Unsubscribe(c.Request.Context(), u, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "unsubscribed", nil)
}

func (h *SMSHandler) Subscriptions(c *gin.Context) {
	subs, err := h.sms.Subscriptions(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "", subs)
}
