package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
	"github.com/noah-isme/sma-ews-api/pkg/response"
)

type riskService interface {
	Predict(ctx context.Context, nis string) (*models.RiskPrediction, error)
	PredictBatch(ctx context.Context, req models.BatchPredictRequest) (*models.BatchPredictResult, error)
	History(ctx context.Context, nis string, limit int) ([]models.RiskAssessment, error)
	Recalculate(ctx context.Context, req models.RecalculateRequest) (*models.RecalculateAck, error)
}

// RiskHandler exposes risk scoring endpoints.
type RiskHandler struct {
	risk riskService
}

// NewRiskHandler constructs RiskHandler.
func NewRiskHandler(risk riskService) *RiskHandler {
	return &RiskHandler{risk: risk}
}

// Predict godoc
// @Summary Score one student and persist the assessment
// @Tags Risk
// @Produce json
// @Param nis path string true "Student NIS"
// @Success 200 {object} response.Envelope
// @Router /risk/students/{nis} [get]
func (h *RiskHandler) Predict(c *gin.Context) {
	prediction, err := h.risk.Predict(c.Request.Context(), c.Param("nis"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prediction, nil)
}

// PredictBatch godoc
// @Summary Score a list of students in one call
// @Tags Risk
// @Accept json
// @Produce json
// @Param payload body models.BatchPredictRequest true "Students to score"
// @Success 200 {object} response.Envelope
// @Router /risk/predict-batch [post]
func (h *RiskHandler) PredictBatch(c *gin.Context) {
	var req models.BatchPredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch prediction payload"))
		return
	}
	result, err := h.risk.PredictBatch(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// History godoc
// @Summary Past assessments for one student, newest first
// @Tags Risk
// @Produce json
// @Param nis path string true "Student NIS"
// @Param limit query int false "Max rows (default 20)"
// @Success 200 {object} response.Envelope
// @Router /risk/students/{nis}/history [get]
func (h *RiskHandler) History(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 0)
	history, err := h.risk.History(c.Request.Context(), c.Param("nis"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Recalculate godoc
// @Summary Queue a risk sweep over active students
// @Tags Risk
// @Accept json
// @Produce json
// @Param payload body models.RecalculateRequest false "Optional class scope"
// @Success 202 {object} response.Envelope
// @Router /risk/recalculate [post]
func (h *RiskHandler) Recalculate(c *gin.Context) {
	var req models.RecalculateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid recalculate payload"))
			return
		}
	}
	ack, err := h.risk.Recalculate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, ack, nil)
}
