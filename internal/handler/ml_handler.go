package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-ews-api/internal/models"
	"github.com/noah-isme/sma-ews-api/pkg/response"
)

type trainingService interface {
	Train(ctx context.Context) (*models.TrainResult, error)
	ModelInfo(ctx context.Context) (*models.ModelInfo, error)
}

// MLHandler exposes model lifecycle endpoints.
type MLHandler struct {
	training trainingService
}

// NewMLHandler constructs MLHandler.
func NewMLHandler(training trainingService) *MLHandler {
	return &MLHandler{training: training}
}

// Train godoc
// @Summary Retrain the risk model from current attendance facts
// @Tags ML
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ml/train [post]
func (h *MLHandler) Train(c *gin.Context) {
	result, err := h.training.Train(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Model godoc
// @Summary Describe the active model artifact
// @Tags ML
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ml/model [get]
func (h *MLHandler) Model(c *gin.Context) {
	info, err := h.training.ModelInfo(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}
