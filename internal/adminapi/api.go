// Package adminapi exposes the read-only query surface and the task
// management endpoints consumed by operators. All responses are JSON;
// presentation stays out of the core loop.
package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"aluwatch/pkg/daykey"
	"aluwatch/pkg/db/models"
	"aluwatch/pkg/registry"
	"aluwatch/pkg/watch"
)

// Handler serves the admin surface
type Handler struct {
	registry     *registry.Registry
	store        RecordQuerier
	alerts       AlertStore
	orchestrator StatusReporter
	deliverer    TestDeliverer
	logger       *logrus.Logger
}

// RecordQuerier is the read slice of the price store
type RecordQuerier interface {
	Latest(ctx context.Context) (*models.PriceRecord, error)
	RecordsBetween(ctx context.Context, from, to int, name string, limit int) ([]models.PriceRecord, error)
}

// AlertStore queries the append-only alert log
type AlertStore interface {
	AlertsBetween(ctx context.Context, fromKey, toKey int, limit int) ([]models.Alert, error)
}

// StatusReporter exposes the cycle state
type StatusReporter interface {
	CurrentStatus() watch.Status
}

// TestDeliverer sends a canned record through the delivery webhook
type TestDeliverer interface {
	DeliverRecord(ctx context.Context, record *models.PriceRecord) error
}

// SetupRoutes registers all admin endpoints on the router
func SetupRoutes(r *gin.Engine, reg *registry.Registry, store RecordQuerier, alerts AlertStore, orch StatusReporter, deliverer TestDeliverer, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}

	handler := &Handler{
		registry:     reg,
		store:        store,
		alerts:       alerts,
		orchestrator: orch,
		deliverer:    deliverer,
		logger:       logger,
	}

	tasks := r.Group("/tasks")
	{
		tasks.GET("", handler.ListTasks)
		tasks.POST("", handler.CreateTask)
		tasks.PUT("", handler.UpdateTask)
		tasks.DELETE("", handler.DeleteTask)
	}

	records := r.Group("/records")
	{
		records.GET("", handler.ListRecords)
		records.GET("/latest", handler.LatestRecord)
	}

	r.GET("/alerts", handler.ListAlerts)
	r.GET("/status", handler.GetStatus)
	r.POST("/webhook/test", handler.TestWebhook)

	return handler
}

// ListTasks returns all registered source tasks
func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.registry.List(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tasks")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tasks": tasks})
}

type taskRequest struct {
	OldName  string `json:"oldName"`
	Name     string `json:"name" binding:"required"`
	URL      string `json:"url" binding:"required"`
	MatchKey string `json:"selector" binding:"required"`
}

// CreateTask registers a new source task
func (h *Handler) CreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	task := models.SourceTask{Name: req.Name, URL: req.URL, MatchKey: req.MatchKey}
	if err := h.registry.Create(c.Request.Context(), &task); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrDuplicateName) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task created", "task": task})
}

// UpdateTask edits the task identified by oldName (the original admin
// page sends the pre-edit name alongside the new fields)
func (h *Handler) UpdateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if req.OldName == "" {
		req.OldName = req.Name
	}

	task := models.SourceTask{Name: req.Name, URL: req.URL, MatchKey: req.MatchKey}
	if err := h.registry.Update(c.Request.Context(), req.OldName, &task); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, registry.ErrTaskNotFound):
			status = http.StatusNotFound
		case errors.Is(err, registry.ErrDuplicateName):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task updated"})
}

type deleteTaskRequest struct {
	Name string `json:"name" binding:"required"`
}

// DeleteTask removes a source task. The primary source is protected;
// deleting it returns a descriptive error and changes nothing.
func (h *Handler) DeleteTask(c *gin.Context) {
	var req deleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	if err := h.registry.Delete(c.Request.Context(), req.Name); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, registry.ErrPrimarySource):
			status = http.StatusForbidden
		case errors.Is(err, registry.ErrTaskNotFound):
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task deleted"})
}

// LatestRecord returns the most recently stored record
func (h *Handler) LatestRecord(c *gin.Context) {
	record, err := h.store.Latest(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load latest record")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "record": record})
}

// ListRecords returns records in a bounded day-key range, optionally
// filtered by source name
func (h *Handler) ListRecords(c *gin.Context) {
	from, to, limit, ok := h.rangeParams(c)
	if !ok {
		return
	}

	records, err := h.store.RecordsBetween(c.Request.Context(), from, to, c.Query("name"), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query records")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "records": records})
}

// ListAlerts returns alerts in a bounded day-key range
func (h *Handler) ListAlerts(c *gin.Context) {
	from, to, limit, ok := h.rangeParams(c)
	if !ok {
		return
	}

	alerts, err := h.alerts.AlertsBetween(c.Request.Context(), from, to, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query alerts")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "alerts": alerts})
}

// GetStatus reports the cycle state snapshot
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": h.orchestrator.CurrentStatus()})
}

// TestWebhook pushes a canned record through the delivery webhook so
// operators can verify the downstream wiring
func (h *Handler) TestWebhook(c *gin.Context) {
	record := &models.PriceRecord{
		Name:       registry.PrimarySourceName,
		PriceRange: "20290-20330",
		AvgPrice:   20310,
		Change:     100,
		Unit:       "元/吨",
		PriceDate:  daykey.FromTime(time.Now()),
	}

	if err := h.deliverer.DeliverRecord(c.Request.Context(), record); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "test record delivered"})
}

// rangeParams parses from/to day keys (default: the last 30 days) and
// the result limit
func (h *Handler) rangeParams(c *gin.Context) (from, to, limit int, ok bool) {
	now := time.Now()
	from = daykey.FromTime(now.AddDate(0, 0, -30))
	to = daykey.FromTime(now)
	limit = 100

	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = strconv.Atoi(raw); err != nil || !daykey.Valid(from) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid from day key"})
			return 0, 0, 0, false
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = strconv.Atoi(raw); err != nil || !daykey.Valid(to) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid to day key"})
			return 0, 0, 0, false
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid limit"})
			return 0, 0, 0, false
		}
	}
	return from, to, limit, true
}
