package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/pkg/config"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

// backfillNote marks records the system wrote on behalf of absent students.
const backfillNote = "auto-marked absent (no check-in)"

type sessionRepository interface {
	CreateReplacingActive(ctx context.Context, session *models.AttendanceSession) error
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListAll(ctx context.Context, courseID string) ([]models.AttendanceSession, error)
	ListByTeacher(ctx context.Context, teacherID, courseID string) ([]models.AttendanceSession, error)
	Deactivate(ctx context.Context, id string) error
	CloseWithBackfill(ctx context.Context, sessionID string, now time.Time, note string) (int, bool, error)
}

type sessionCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type sessionRosterReader interface {
	ListStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error)
}

type sessionRecordReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
}

type reportInvalidator interface {
	Invalidate(ctx context.Context, courseID string) error
}

// SessionService manages attendance-session lifecycle.
type SessionService struct {
	sessions  sessionRepository
	courses   sessionCourseReader
	roster    sessionRosterReader
	records   sessionRecordReader
	reports   reportInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	policy    config.AttendanceConfig
	now       func() time.Time
}

// NewSessionService constructs the session service.
func NewSessionService(sessions sessionRepository, courses sessionCourseReader, roster sessionRosterReader, records sessionRecordReader, reports reportInvalidator, validate *validator.Validate, logger *zap.Logger, policy config.AttendanceConfig) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:  sessions,
		courses:   courses,
		roster:    roster,
		records:   records,
		reports:   reports,
		validator: validate,
		logger:    logger,
		policy:    policy,
		now:       time.Now,
	}
}

// CreateSessionRequest describes the payload for opening a session.
type CreateSessionRequest struct {
	CourseID    string  `json:"course_id" validate:"required"`
	Lat         float64 `json:"lat" validate:"min=-90,max=90"`
	Lng         float64 `json:"lng" validate:"min=-180,max=180"`
	RadiusM     int     `json:"radius_m"`
	DurationMin int     `json:"duration_min"`
}

// CloseSessionResult reports the outcome of closing a session.
type CloseSessionResult struct {
	Session       *models.AttendanceSession `json:"session"`
	Backfilled    int                       `json:"backfilled_absent"`
	AlreadyClosed bool                      `json:"already_closed"`
}

// Create opens a new session for a course. Any session still active for the
// course is force-closed first, so one QR token is live per course at a time.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest, actorID string, role models.UserRole) (*models.AttendanceSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	course, err := s.authorizeCourse(ctx, req.CourseID, actorID, role)
	if err != nil {
		return nil, err
	}

	radius := req.RadiusM
	if radius == 0 {
		radius = s.policy.DefaultRadiusM
	}
	if radius < 10 || radius > 500 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "radius_m must be between 10 and 500")
	}

	duration := req.DurationMin
	if duration == 0 {
		duration = s.policy.DefaultDurationMin
	}
	if duration < 1 || duration > 240 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "duration_min must be between 1 and 240")
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate token")
	}

	now := s.now().UTC()
	session := &models.AttendanceSession{
		CourseID:    course.ID,
		TeacherID:   course.TeacherID,
		SessionDate: now.Truncate(24 * time.Hour),
		StartsAt:    now,
		EndsAt:      now.Add(time.Duration(duration) * time.Minute),
		Lat:         req.Lat,
		Lng:         req.Lng,
		RadiusM:     radius,
		IsActive:    true,
		Token:       token,
	}
	if err := s.sessions.CreateReplacingActive(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	s.invalidateReport(ctx, course.ID)
	return session, nil
}

// Get returns a session, persisting the expired state if its window has
// passed while it was still flagged active.
func (s *SessionService) Get(ctx context.Context, id, actorID string, role models.UserRole) (*models.AttendanceSession, error) {
	session, err := s.findSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeCourse(ctx, session.CourseID, actorID, role); err != nil {
		return nil, err
	}
	if err := s.refreshExpiry(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// List returns sessions visible to the actor, optionally scoped to a course.
func (s *SessionService) List(ctx context.Context, courseID, actorID string, role models.UserRole) ([]models.AttendanceSession, error) {
	var (
		sessions []models.AttendanceSession
		err      error
	)
	switch role {
	case models.RoleAdmin:
		sessions, err = s.sessions.ListAll(ctx, courseID)
	case models.RoleTeacher:
		sessions, err = s.sessions.ListByTeacher(ctx, actorID, courseID)
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// Close transitions a session to closed and backfills an absent record for
// every enrolled student without one. Closing an already-closed session is a
// no-op reported as such.
func (s *SessionService) Close(ctx context.Context, id, actorID string, role models.UserRole) (*CloseSessionResult, error) {
	session, err := s.findSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeCourse(ctx, session.CourseID, actorID, role); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	backfilled, closed, err := s.sessions.CloseWithBackfill(ctx, session.ID, now, backfillNote)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close session")
	}
	if closed {
		session.IsActive = false
		session.EndsAt = now
		s.invalidateReport(ctx, session.CourseID)
		s.logger.Info("session closed",
			zap.String("session_id", session.ID),
			zap.String("course_id", session.CourseID),
			zap.Int("backfilled_absent", backfilled),
		)
	} else {
		session.IsActive = false
	}
	return &CloseSessionResult{
		Session:       session,
		Backfilled:    backfilled,
		AlreadyClosed: !closed,
	}, nil
}

// AttendanceSheet returns every enrolled student's outcome for one session.
// Students without a record yet appear as absent.
func (s *SessionService) AttendanceSheet(ctx context.Context, sessionID, actorID string, role models.UserRole) (*models.SessionAttendanceSheet, error) {
	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeCourse(ctx, session.CourseID, actorID, role); err != nil {
		return nil, err
	}
	if err := s.refreshExpiry(ctx, session); err != nil {
		return nil, err
	}

	students, err := s.roster.ListStudents(ctx, session.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	records, err := s.records.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
	}
	byStudent := make(map[string]models.AttendanceRecord, len(records))
	for _, record := range records {
		byStudent[record.StudentID] = record
	}

	sheet := &models.SessionAttendanceSheet{
		Session: session,
		Total:   len(students),
		Items:   make([]models.SessionAttendanceRow, 0, len(students)),
	}
	for _, student := range students {
		row := models.SessionAttendanceRow{
			Student: student,
			Status:  models.AttendanceStatusAbsent,
		}
		if record, ok := byStudent[student.StudentID]; ok {
			row.Status = record.Status
			row.CheckedInAt = record.CheckedInAt
			row.DistanceM = record.DistanceM
		}
		switch row.Status {
		case models.AttendanceStatusPresent:
			sheet.Present++
		case models.AttendanceStatusLate:
			sheet.Late++
		default:
			sheet.Absent++
		}
		sheet.Items = append(sheet.Items, row)
	}
	return sheet, nil
}

func (s *SessionService) refreshExpiry(ctx context.Context, session *models.AttendanceSession) error {
	if session.State(s.now().UTC()) != models.SessionExpired {
		return nil
	}
	if err := s.sessions.Deactivate(ctx, session.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire session")
	}
	session.IsActive = false
	return nil
}

func (s *SessionService) findSession(ctx context.Context, id string) (*models.AttendanceSession, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch session")
	}
	return session, nil
}

func (s *SessionService) authorizeCourse(ctx context.Context, courseID, actorID string, role models.UserRole) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch course")
	}
	if role == models.RoleAdmin {
		return course, nil
	}
	if role == models.RoleTeacher && course.TeacherID == actorID {
		return course, nil
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "")
}

func (s *SessionService) invalidateReport(ctx context.Context, courseID string) {
	if s.reports == nil {
		return
	}
	if err := s.reports.Invalidate(ctx, courseID); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.String("course_id", courseID), zap.Error(err))
	}
}

func newSessionToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random token bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
