package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
	"github.com/noah-isme/sma-ews-api/pkg/response"
)

type mappingService interface {
	AutoMap(ctx context.Context, req models.AutoMapRequest) (*models.AutoMapResult, error)
	Unmapped(ctx context.Context, page, pageSize int) ([]models.UnmappedDeviceUser, *models.Pagination, error)
	Suggestions(ctx context.Context, page, pageSize int) ([]models.MappingDetail, *models.Pagination, error)
	Verify(ctx context.Context, id string, req models.VerifyMappingRequest, verifiedBy string) (*models.IdentityMapping, error)
	BulkVerify(ctx context.Context, req models.BulkVerifyRequest, verifiedBy string) (*models.BulkVerifyResult, error)
	Stats(ctx context.Context) (*models.MappingStats, error)
	Delete(ctx context.Context, id string) error
}

// MappingHandler exposes identity mapping endpoints.
type MappingHandler struct {
	mappings mappingService
}

// NewMappingHandler constructs MappingHandler.
func NewMappingHandler(mappings mappingService) *MappingHandler {
	return &MappingHandler{mappings: mappings}
}

// AutoMap godoc
// @Summary Run the fuzzy auto-matcher over unmapped device users
// @Tags Mappings
// @Accept json
// @Produce json
// @Param payload body models.AutoMapRequest false "Optional threshold override"
// @Success 200 {object} response.Envelope
// @Router /mappings/auto [post]
func (h *MappingHandler) AutoMap(c *gin.Context) {
	var req models.AutoMapRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid auto-map payload"))
			return
		}
	}
	result, err := h.mappings.AutoMap(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Unmapped godoc
// @Summary List unmapped device users with match suggestions
// @Tags Mappings
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /mappings/unmapped [get]
func (h *MappingHandler) Unmapped(c *gin.Context) {
	users, pagination, err := h.mappings.Unmapped(c.Request.Context(), parseQueryInt(c, "page", 1), parseQueryInt(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Suggestions godoc
// @Summary List pending mappings awaiting verification
// @Tags Mappings
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /mappings/suggestions [get]
func (h *MappingHandler) Suggestions(c *gin.Context) {
	mappings, pagination, err := h.mappings.Suggestions(c.Request.Context(), parseQueryInt(c, "page", 1), parseQueryInt(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mappings, pagination)
}

// Stats godoc
// @Summary Mapping pipeline counters
// @Tags Mappings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /mappings/stats [get]
func (h *MappingHandler) Stats(c *gin.Context) {
	stats, err := h.mappings.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Verify godoc
// @Summary Verify or reject one mapping
// @Tags Mappings
// @Accept json
// @Produce json
// @Param id path string true "Mapping ID"
// @Param payload body models.VerifyMappingRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /mappings/{id}/verify [post]
func (h *MappingHandler) Verify(c *gin.Context) {
	var req models.VerifyMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verify payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	mapping, err := h.mappings.Verify(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mapping, nil)
}

// BulkVerify godoc
// @Summary Verify or reject many mappings in one call
// @Tags Mappings
// @Accept json
// @Produce json
// @Param payload body models.BulkVerifyRequest true "Decisions"
// @Success 200 {object} response.Envelope
// @Router /mappings/bulk-verify [post]
func (h *MappingHandler) BulkVerify(c *gin.Context) {
	var req models.BulkVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk verify payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.mappings.BulkVerify(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete one mapping
// @Tags Mappings
// @Produce json
// @Param id path string true "Mapping ID"
// @Success 204 "No Content"
// @Router /mappings/{id} [delete]
func (h *MappingHandler) Delete(c *gin.Context) {
	if err := h.mappings.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
