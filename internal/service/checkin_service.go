package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	"github.com/campuskit/attendance-api/pkg/config"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
	"github.com/campuskit/attendance-api/pkg/geo"
)

type checkinSessionRepository interface {
	FindByToken(ctx context.Context, token string) (*models.AttendanceSession, error)
	Deactivate(ctx context.Context, id string) error
}

type checkinRecordWriter interface {
	Create(ctx context.Context, record *models.AttendanceRecord) error
}

type checkinEnrollmentReader interface {
	Exists(ctx context.Context, courseID, studentID string) (bool, error)
}

// CheckinService handles student geofenced check-ins.
type CheckinService struct {
	sessions    checkinSessionRepository
	records     checkinRecordWriter
	enrollments checkinEnrollmentReader
	reports     reportInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	policy      config.AttendanceConfig
	now         func() time.Time
}

// NewCheckinService constructs the check-in service.
func NewCheckinService(sessions checkinSessionRepository, records checkinRecordWriter, enrollments checkinEnrollmentReader, reports reportInvalidator, validate *validator.Validate, logger *zap.Logger, policy config.AttendanceConfig) *CheckinService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckinService{
		sessions:    sessions,
		records:     records,
		enrollments: enrollments,
		reports:     reports,
		validator:   validate,
		logger:      logger,
		policy:      policy,
		now:         time.Now,
	}
}

// CheckinRequest describes a student's check-in attempt.
type CheckinRequest struct {
	Token string  `json:"token" validate:"required"`
	Lat   float64 `json:"lat" validate:"min=-90,max=90"`
	Lng   float64 `json:"lng" validate:"min=-180,max=180"`
}

// CheckIn validates a check-in attempt against the session's lifecycle,
// timing window and geofence, then records the outcome. Timing is judged
// before distance, so a too-late student is told the window closed rather
// than that they stood too far away.
func (s *CheckinService) CheckIn(ctx context.Context, studentID string, req CheckinRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	session, err := s.sessions.FindByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch session")
	}

	now := s.now().UTC()
	switch session.State(now) {
	case models.SessionClosed:
		return nil, appErrors.Clone(appErrors.ErrSessionClosed, "")
	case models.SessionExpired:
		// The closed state must be durably recorded before the rejection.
		if err := s.sessions.Deactivate(ctx, session.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session expiry")
		}
		return nil, appErrors.Clone(appErrors.ErrSessionExpired, "")
	}

	enrolled, err := s.enrollments.Exists(ctx, session.CourseID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
	}

	status, err := s.classify(session.StartsAt, now)
	if err != nil {
		return nil, err
	}

	distance := geo.DistanceMeters(session.Lat, session.Lng, req.Lat, req.Lng)
	if distance > session.RadiusM {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrTooFar, ""),
			map[string]interface{}{
				"distance_m":       distance,
				"allowed_radius_m": session.RadiusM,
			},
		)
	}

	record := &models.AttendanceRecord{
		SessionID:   session.ID,
		StudentID:   studentID,
		Status:      status,
		CheckedInAt: &now,
		StudentLat:  &req.Lat,
		StudentLng:  &req.Lng,
		DistanceM:   &distance,
	}
	if err := s.records.Create(ctx, record); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "already checked in")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record check-in")
	}

	if s.reports != nil {
		if err := s.reports.Invalidate(ctx, session.CourseID); err != nil {
			s.logger.Warn("report cache invalidation failed", zap.String("course_id", session.CourseID), zap.Error(err))
		}
	}

	s.logger.Info("check-in recorded",
		zap.String("session_id", session.ID),
		zap.String("student_id", studentID),
		zap.String("status", string(status)),
		zap.Int("distance_m", distance),
	)
	return record, nil
}

// classify maps elapsed time since the session opened onto a status. Inside
// the present window counts as present, inside the late window as late, and
// anything beyond is rejected.
func (s *CheckinService) classify(startsAt, now time.Time) (models.AttendanceStatus, error) {
	elapsed := now.Sub(startsAt)
	switch {
	case elapsed <= s.policy.PresentWindow:
		return models.AttendanceStatusPresent, nil
	case elapsed <= s.policy.LateWindow:
		return models.AttendanceStatusLate, nil
	default:
		return "", appErrors.Clone(appErrors.ErrWindowClosed, "")
	}
}
