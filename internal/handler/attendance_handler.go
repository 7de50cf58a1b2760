package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
	"github.com/noah-isme/sma-ews-api/pkg/response"
)

type attendanceService interface {
	ProcessBatch(ctx context.Context, req models.ProcessBatchRequest) (*models.ProcessBatchResult, error)
	RecordManual(ctx context.Context, req models.ManualAttendanceRequest, recordedBy string) (*models.DailyAttendanceFact, error)
	ListDaily(ctx context.Context, filter models.DailyAttendanceFilter) ([]models.DailyAttendanceFact, *models.Pagination, error)
	StudentHistory(ctx context.Context, nis string, from, to time.Time) (*models.StudentAttendanceHistory, error)
	OrphanedEvents(ctx context.Context, batchID string) (*models.OrphanedEventReport, error)
}

// AttendanceHandler exposes daily attendance fact endpoints.
type AttendanceHandler struct {
	attendance attendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance attendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// Process godoc
// @Summary Aggregate one ingested batch into daily facts
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body models.ProcessBatchRequest true "Batch to process"
// @Success 200 {object} response.Envelope
// @Router /attendance/process [post]
func (h *AttendanceHandler) Process(c *gin.Context) {
	var req models.ProcessBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid process payload"))
		return
	}
	result, err := h.attendance.ProcessBatch(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Manual godoc
// @Summary Record or override one fact by hand
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body models.ManualAttendanceRequest true "Manual fact"
// @Success 200 {object} response.Envelope
// @Router /attendance/manual [post]
func (h *AttendanceHandler) Manual(c *gin.Context) {
	var req models.ManualAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid manual attendance payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fact, err := h.attendance.RecordManual(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fact, nil)
}

// Daily godoc
// @Summary List daily attendance facts
// @Tags Attendance
// @Produce json
// @Param nis query string false "Filter by student NIS"
// @Param classId query string false "Filter by class"
// @Param status query string false "Filter by status"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param manual query bool false "Only manual (or only derived) facts"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance/daily [get]
func (h *AttendanceHandler) Daily(c *gin.Context) {
	filter := models.DailyAttendanceFilter{
		StudentNIS: strings.TrimSpace(c.Query("nis")),
		ClassID:    strings.TrimSpace(c.Query("classId")),
		Page:       parseQueryInt(c, "page", 1),
		PageSize:   parseQueryInt(c, "limit", 20),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.AttendanceStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("manual"); raw == "true" || raw == "false" {
		v := raw == "true"
		filter.Manual = &v
	}
	from, err := parseDateParam(c.Query("from"))
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDateParam(c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.DateFrom = from
	filter.DateTo = to

	facts, pagination, err := h.attendance.ListDaily(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, facts, pagination)
}

// StudentHistory godoc
// @Summary One student's attendance history, summary and absence patterns
// @Tags Attendance
// @Produce json
// @Param nis path string true "Student NIS"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/students/{nis} [get]
func (h *AttendanceHandler) StudentHistory(c *gin.Context) {
	from, err := parseDateParam(c.Query("from"))
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDateParam(c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var fromAt, toAt time.Time
	if from != nil {
		fromAt = *from
	}
	if to != nil {
		toAt = *to
	}

	history, err := h.attendance.StudentHistory(c.Request.Context(), c.Param("nis"), fromAt, toAt)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Orphans godoc
// @Summary Scan events a processed batch could not attribute to any student
// @Tags Attendance
// @Produce json
// @Param batch_id query string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/orphans [get]
func (h *AttendanceHandler) Orphans(c *gin.Context) {
	batchID := strings.TrimSpace(c.Query("batch_id"))
	if batchID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "batch_id query parameter is required"))
		return
	}
	report, err := h.attendance.OrphanedEvents(c.Request.Context(), batchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
