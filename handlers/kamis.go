package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"agri-price-api/kamis"
	"agri-price-api/middleware"
	"agri-price-api/syncer"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SyncHandler struct {
	orchestrator *syncer.Orchestrator
	uploadMax    int64
	logger       *zap.Logger
}

func NewSyncHandler(o *syncer.Orchestrator, uploadMaxMB int, logger *zap.Logger) *SyncHandler {
	if uploadMaxMB <= 0 {
		uploadMaxMB = 10
	}
	return &SyncHandler{orchestrator: o, uploadMax: int64(uploadMaxMB) << 20, logger: logger}
}

type SyncRequest struct {
	ProductIDs []int  `json:"product_ids"`
	Crop       string `json:"crop"`
	Region     string `json:"region"`
	From       string `json:"from"`
	To         string `json:"to"`
}

func (r SyncRequest) query() (kamis.Query, error) {
	q := kamis.Query{ProductIDs: r.ProductIDs, Crop: r.Crop, Region: r.Region}
	for _, id := range r.ProductIDs {
		if id <= 0 {
			return q, fmt.Errorf("invalid product id %d", id)
		}
	}
	if err := q.SetRange(r.From, r.To); err != nil {
		return q, err
	}
	return q, nil
}

func (h *SyncHandler) Status(c *gin.Context) {
	st, err := h.orchestrator.Status(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "", st)
}

// Sync starts a feed run and answers 202 with the running row. An empty
// body syncs every configured product.
func (h *SyncHandler) Sync(c *gin.Context) {
	var req SyncRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	q, err := req.query()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	run, err := h.orchestrator.TriggerManual(c.Request.Context(), middleware.UserID(c), q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusAccepted, "sync started", run)
}

// Upload ingests a KAMIS CSV or XLSX export as an upload run.
func (h *SyncHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploadMax+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	if fh.Size > h.uploadMax {
		badRequest(c, fmt.Sprintf("file exceeds %d MB", h.uploadMax>>20))
		return
	}
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".csv", ".xlsx":
	default:
		badRequest(c, "unsupported file type, expected .csv or .xlsx")
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "could not read uploaded file")
		return
	}
	defer f.Close()

	run, err := h.orchestrator.ImportFile(c.Request.Context(), middleware.UserID(c), fh.Filename, f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusAccepted, "import started", run)
}

func (h *SyncHandler) Logs(c *gin.Context) {
	logs, meta, err := h.orchestrator.Logs(c.Request.Context(), ParsePagination(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondPage(c, logs, meta)
}

func (h *SyncHandler) Reset(c *gin.Context) {
	n, err := h.orchestrator.ForceReset(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Warn("sync reset", zap.Uint("admin_id", middleware.UserID(c)), zap.Int64("runs", n))
	respond(c, http.StatusOK, fmt.Sprintf("%d running sync(s) reset", n), gin.H{"reset": n})
}
