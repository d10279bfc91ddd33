package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/pkg/config"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

type checkinSessionStub struct {
	session       *models.AttendanceSession
	findErr       error
	deactivateErr error
	deactivated   []string
}

func (s *checkinSessionStub) FindByToken(ctx context.Context, token string) (*models.AttendanceSession, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	copied := *s.session
	return &copied, nil
}

func (s *checkinSessionStub) Deactivate(ctx context.Context, id string) error {
	if s.deactivateErr != nil {
		return s.deactivateErr
	}
	s.deactivated = append(s.deactivated, id)
	return nil
}

type recordWriterStub struct {
	created []*models.AttendanceRecord
	err     error
}

func (s *recordWriterStub) Create(ctx context.Context, record *models.AttendanceRecord) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, record)
	return nil
}

type enrollmentExistsStub struct {
	enrolled bool
	err      error
}

func (s *enrollmentExistsStub) Exists(ctx context.Context, courseID, studentID string) (bool, error) {
	return s.enrolled, s.err
}

type invalidatorStub struct {
	invalidated []string
}

func (s *invalidatorStub) Invalidate(ctx context.Context, courseID string) error {
	s.invalidated = append(s.invalidated, courseID)
	return nil
}

func testPolicy() config.AttendanceConfig {
	return config.AttendanceConfig{
		PresentWindow:        5 * time.Minute,
		LateWindow:           15 * time.Minute,
		EligibilityThreshold: 70.0,
		DefaultRadiusM:       50,
		DefaultDurationMin:   15,
	}
}

func openSession(startedAgo time.Duration, now time.Time) *models.AttendanceSession {
	return &models.AttendanceSession{
		ID:       "sess-1",
		CourseID: "course-1",
		StartsAt: now.Add(-startedAgo),
		EndsAt:   now.Add(15*time.Minute - startedAgo),
		Lat:      52.2297,
		Lng:      21.0122,
		RadiusM:  50,
		IsActive: true,
		Token:    "tok",
	}
}

func newCheckinService(sessions *checkinSessionStub, records *recordWriterStub, enrollments *enrollmentExistsStub, reports *invalidatorStub, now time.Time) *CheckinService {
	var invalidator reportInvalidator
	if reports != nil {
		invalidator = reports
	}
	svc := NewCheckinService(sessions, records, enrollments, invalidator, nil, nil, testPolicy())
	svc.now = func() time.Time { return now }
	return svc
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, code, appErr.Code)
}

func assertDetails(t *testing.T, err error) map[string]interface{} {
	t.Helper()
	appErr := appErrors.FromError(err)
	require.NotNil(t, appErr.Details)
	return appErr.Details
}

func TestCheckInPresentWithinWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 3, 0, 0, time.UTC)
	sessions := &checkinSessionStub{session: openSession(3*time.Minute, now)}
	records := &recordWriterStub{}
	reports := &invalidatorStub{}
	svc := newCheckinService(sessions, records, &enrollmentExistsStub{enrolled: true}, reports, now)

	record, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2297, Lng: 21.0122})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, record.Status)
	require.NotNil(t, record.DistanceM)
	assert.Equal(t, 0, *record.DistanceM)
	require.NotNil(t, record.CheckedInAt)
	assert.Equal(t, now, *record.CheckedInAt)
	assert.Equal(t, []string{"course-1"}, reports.invalidated)
}

func TestCheckInPresentAtExactBoundary(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)
	sessions := &checkinSessionStub{session: openSession(5*time.Minute, now)}
	svc := newCheckinService(sessions, &recordWriterStub{}, &enrollmentExistsStub{enrolled: true}, nil, now)

	record, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2297, Lng: 21.0122})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, record.Status)
}

func TestCheckInLateAfterPresentWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	sessions := &checkinSessionStub{session: openSession(10*time.Minute, now)}
	svc := newCheckinService(sessions, &recordWriterStub{}, &enrollmentExistsStub{enrolled: true}, nil, now)

	record, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2297, Lng: 21.0122})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusLate, record.Status)
}

func TestCheckInRejectedPastLateWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 16, 0, 0, time.UTC)
	session := openSession(16*time.Minute, now)
	session.EndsAt = now.Add(10 * time.Minute)
	sessions := &checkinSessionStub{session: session}
	svc := newCheckinService(sessions, &recordWriterStub{}, &enrollmentExistsStub{enrolled: true}, nil, now)

	_, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2297, Lng: 21.0122})
	assertCode(t, err, "WINDOW_CLOSED")
}

func TestCheckInTooFarCarriesDistanceDetails(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	sessions := &checkinSessionStub{session: openSession(2*time.Minute, now)}
	records := &recordWriterStub{}
	svc := newCheckinService(sessions, records, &enrollmentExistsStub{enrolled: true}, nil, now)

	// Roughly 111 meters north of the session point.
	_, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2307, Lng: 21.0122})
	assertCode(t, err, "TOO_FAR")
	appErr := appErrors.FromError(err)
	require.NotNil(t, appErr.Details)
	assert.Equal(t, 50, appErr.Details["allowed_radius_m"])
	distance, ok := appErr.Details["distance_m"].(int)
	require.True(t, ok)
	assert.Greater(t, distance, 50)
	assert.Empty(t, records.created)
}

func TestCheckInClosedSession(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	session := openSession(2*time.Minute, now)
	session.IsActive = false
	sessions := &checkinSessionStub{session: session}
	svc := newCheckinService(sessions, &recordWriterStub{}, &enrollmentExistsStub{enrolled: true}, nil, now)

	_, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2297, Lng: 21.0122})
	assertCode(t, err, "SESSION_CLOSED")
}

func TestCheckInExpiredSessionPersistsClosure(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	session := openSession(30*time.Minute, now)
	sessions := &checkinSessionStub{session: session}
	svc := newCheckinService(sessions, &recordWriterStub{}, &enrollmentExistsStub{enrolled: true}, nil, now)

	_, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2297, Lng: 21.0122})
	assertCode(t, err, "SESSION_EXPIRED")
	assert.Equal(t, []string{"sess-1"}, sessions.deactivated)
}

func TestCheckInExpiredSessionClosureFailureIsInternal(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	sessions := &checkinSessionStub{
		session:       openSession(30*time.Minute, now),
		deactivateErr: errors.New("connection reset"),
	}
	svc := newCheckinService(sessions, &recordWriterStub{}, &enrollmentExistsStub{enrolled: true}, nil, now)

	_, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2297, Lng: 21.0122})
	assertCode(t, err, "INTERNAL_ERROR")
	assert.Empty(t, sessions.deactivated)
}

func TestCheckInNotEnrolled(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	sessions := &checkinSessionStub{session: openSession(2*time.Minute, now)}
	svc := newCheckinService(sessions, &recordWriterStub{}, &enrollmentExistsStub{enrolled: false}, nil, now)

	_, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2297, Lng: 21.0122})
	assertCode(t, err, "FORBIDDEN")
}

func TestCheckInDuplicateIsConflict(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	sessions := &checkinSessionStub{session: openSession(2*time.Minute, now)}
	records := &recordWriterStub{err: &pq.Error{Code: "23505"}}
	svc := newCheckinService(sessions, records, &enrollmentExistsStub{enrolled: true}, nil, now)

	_, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "tok", Lat: 52.2297, Lng: 21.0122})
	assertCode(t, err, "CONFLICT")
}

func TestCheckInUnknownToken(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	sessions := &checkinSessionStub{findErr: sql.ErrNoRows}
	svc := newCheckinService(sessions, &recordWriterStub{}, &enrollmentExistsStub{enrolled: true}, nil, now)

	_, err := svc.CheckIn(context.Background(), "student-1", CheckinRequest{Token: "missing", Lat: 52.2297, Lng: 21.0122})
	assertCode(t, err, "NOT_FOUND")
}
