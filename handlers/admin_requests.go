package handlers

import (
	"net/http"

	"agri-price-api/middleware"
	"agri-price-api/models"
	"agri-price-api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminRequestHandler struct {
	store  *store.Store
	logger *zap.Logger
}

func NewAdminRequestHandler(st *store.Store, logger *zap.Logger) *AdminRequestHandler {
	return &AdminRequestHandler{store: st, logger: logger}
}

type CreateAdminRequest struct {
	Reason string `json:"reason" binding:"required,max=1000"`
}

type ReviewAdminRequest struct {
	Approve *bool  `json:"approve" binding:"required"`
	Note    string `json:"note"`
}

func (h *AdminRequestHandler) Create(c *gin.Context) {
	var req CreateAdminRequest
	if !bindJSON(c, &req) {
		return
	}
	ar, err := h.store.CreateAdminRequest(c.Request.Context(), middleware.UserID(c), req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, "admin request submitted", ar)
}

func (h *AdminRequestHandler) List(c *gin.Context) {
	status := models.AdminRequestStatus(c.Query("status"))
	switch status {
	case "", models.AdminRequestPending, models.AdminRequestApproved, models.AdminRequestRejected:
	default:
		badRequest(c, "invalid status")
		return
	}
	rows, meta, err := h.store.ListAdminRequests(c.Request.Context(), status, ParsePagination(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondPage(c, rows, meta)
}

func (h *AdminRequestHandler) Review(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req ReviewAdminRequest
	if !bindJSON(c, &req) {
		return
	}
	ar, err := h.store.ReviewAdminRequest(c.Request.Context(), id, middleware.UserID(c), *req.Approve, req.Note)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("admin request reviewed",
		zap.Uint("id", ar.ID),
		zap.Uint("user_id", ar.UserID),
		zap.String("status", string(ar.Status)))
	respond(c, http.StatusOK, "admin request "+string(ar.Status), ar)
}
