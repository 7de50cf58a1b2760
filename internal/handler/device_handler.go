package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
	"github.com/noah-isme/sma-ews-api/pkg/response"
)

type deviceService interface {
	List(ctx context.Context) ([]models.Device, error)
	ListUsers(ctx context.Context, filter models.DeviceUserFilter) ([]models.DeviceUser, *models.Pagination, error)
	SyncUsers(ctx context.Context, deviceCode string, req models.DeviceUserSyncRequest) (*models.DeviceUserSyncResult, error)
}

// DeviceHandler exposes attendance machine endpoints.
type DeviceHandler struct {
	devices deviceService
}

// NewDeviceHandler constructs DeviceHandler.
func NewDeviceHandler(devices deviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

// List godoc
// @Summary List registered devices
// @Tags Devices
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /devices [get]
func (h *DeviceHandler) List(c *gin.Context) {
	devices, err := h.devices.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, devices, nil)
}

// ListUsers godoc
// @Summary List users known by one device
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Param department query string false "Filter by department"
// @Param unmapped query bool false "Only users without a verified mapping"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /devices/{id}/users [get]
func (h *DeviceHandler) ListUsers(c *gin.Context) {
	filter := models.DeviceUserFilter{
		DeviceID:   c.Param("id"),
		Department: strings.TrimSpace(c.Query("department")),
		Page:       parseQueryInt(c, "page", 1),
		PageSize:   parseQueryInt(c, "limit", 50),
	}
	if raw := c.Query("unmapped"); raw == "true" || raw == "false" {
		v := raw == "true"
		filter.Unmapped = &v
	}

	users, pagination, err := h.devices.ListUsers(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// SyncUsers godoc
// @Summary Sync a device's user roster from parsed export rows
// @Tags Devices
// @Accept json
// @Produce json
// @Param id path string true "Device code"
// @Param payload body models.DeviceUserSyncRequest true "Parsed roster rows"
// @Success 200 {object} response.Envelope
// @Router /devices/{id}/users/sync [post]
func (h *DeviceHandler) SyncUsers(c *gin.Context) {
	var req models.DeviceUserSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sync payload"))
		return
	}
	result, err := h.devices.SyncUsers(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
