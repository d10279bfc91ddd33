package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/attendance-api/internal/service"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
	"github.com/campuskit/attendance-api/pkg/response"
)

// AttendanceHandler exposes the student check-in endpoint.
type AttendanceHandler struct {
	checkins *service.CheckinService
	metrics  *service.MetricsService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(checkins *service.CheckinService, metrics *service.MetricsService) *AttendanceHandler {
	return &AttendanceHandler{checkins: checkins, metrics: metrics}
}

// CheckIn godoc
// @Summary Check in to a session
// @Description Record attendance for the authenticated student via session token and location
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.CheckinRequest true "Check-in payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/checkin [post]
func (h *AttendanceHandler) CheckIn(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	record, err := h.checkins.CheckIn(c.Request.Context(), claims.UserID, req)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordCheckin(strings.ToLower(appErrors.FromError(err).Code))
		}
		response.Error(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordCheckin(string(record.Status))
	}
	response.Created(c, record)
}
