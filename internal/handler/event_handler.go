package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
	"github.com/noah-isme/sma-ews-api/pkg/response"
)

type eventService interface {
	Ingest(ctx context.Context, req models.IngestBatchRequest) (*models.IngestBatchResult, error)
	ListBatches(ctx context.Context, filter models.BatchFilter) ([]models.ImportBatch, *models.Pagination, error)
	GetBatch(ctx context.Context, id string) (*models.BatchDetail, error)
	Rollback(ctx context.Context, id string) (*models.RollbackResult, error)
}

// EventHandler exposes raw scan event ingestion and batch management.
type EventHandler struct {
	events eventService
}

// NewEventHandler constructs EventHandler.
func NewEventHandler(events eventService) *EventHandler {
	return &EventHandler{events: events}
}

// Ingest godoc
// @Summary Ingest parsed scan events as one batch
// @Tags Events
// @Accept json
// @Produce json
// @Param payload body models.IngestBatchRequest true "Parsed scan rows"
// @Success 201 {object} response.Envelope
// @Router /events/batches [post]
func (h *EventHandler) Ingest(c *gin.Context) {
	var req models.IngestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid ingest payload"))
		return
	}
	result, err := h.events.Ingest(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// ListBatches godoc
// @Summary List import batches
// @Tags Events
// @Produce json
// @Param kind query string false "Filter by kind (logs|users)"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /events/batches [get]
func (h *EventHandler) ListBatches(c *gin.Context) {
	filter := models.BatchFilter{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "limit", 20),
	}
	if raw := c.Query("kind"); raw != "" {
		kind := models.BatchKind(raw)
		filter.Kind = &kind
	}
	if raw := c.Query("status"); raw != "" {
		status := models.BatchStatus(raw)
		filter.Status = &status
	}

	batches, pagination, err := h.events.ListBatches(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, pagination)
}

// GetBatch godoc
// @Summary Get one import batch with its surviving event count
// @Tags Events
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /events/batches/{id} [get]
func (h *EventHandler) GetBatch(c *gin.Context) {
	batch, err := h.events.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Rollback godoc
// @Summary Roll back a batch, deleting its events
// @Tags Events
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /events/batches/{id} [delete]
func (h *EventHandler) Rollback(c *gin.Context) {
	result, err := h.events.Rollback(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
