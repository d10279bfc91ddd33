package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/pkg/config"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

type reportCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Course, error)
}

type reportRosterReader interface {
	ListStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error)
}

type reportSessionReader interface {
	CountFinished(ctx context.Context, courseID string, now time.Time) (int, error)
	ListFinishedByCourse(ctx context.Context, courseID string, now time.Time) ([]models.AttendanceSession, error)
}

type reportRecordReader interface {
	AttendedCounts(ctx context.Context, courseID string, now time.Time) (map[string]int, error)
	ListByStudentAndCourse(ctx context.Context, studentID, courseID string, now time.Time) (map[string]models.AttendanceRecord, error)
}

type reportCacheStore interface {
	GetEligibility(ctx context.Context, courseID string) (*models.CourseEligibilityReport, error)
	SetEligibility(ctx context.Context, courseID string, report *models.CourseEligibilityReport, ttl time.Duration) error
}

// ReportService computes attendance eligibility reports.
//
// The denominator for a student's percentage is max(planned, finished)
// sessions: a course that overruns its plan does not inflate percentages,
// and one that is mid-semester does not deflate them.
type ReportService struct {
	courses  reportCourseReader
	roster   reportRosterReader
	sessions reportSessionReader
	records  reportRecordReader
	cache    reportCacheStore
	logger   *zap.Logger
	policy   config.AttendanceConfig
	now      func() time.Time
}

// NewReportService constructs the report service.
func NewReportService(courses reportCourseReader, roster reportRosterReader, sessions reportSessionReader, records reportRecordReader, cache reportCacheStore, logger *zap.Logger, policy config.AttendanceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		courses:  courses,
		roster:   roster,
		sessions: sessions,
		records:  records,
		cache:    cache,
		logger:   logger,
		policy:   policy,
		now:      time.Now,
	}
}

// CourseEligibility builds the per-course eligibility report for teachers and
// admins. Results are cached briefly; writes invalidate the cache.
func (s *ReportService) CourseEligibility(ctx context.Context, courseID, actorID string, role models.UserRole) (*models.CourseEligibilityReport, error) {
	course, err := s.authorizeCourse(ctx, courseID, actorID, role)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.GetEligibility(ctx, course.ID)
		if err != nil {
			s.logger.Warn("report cache read failed", zap.String("course_id", course.ID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	now := s.now().UTC()
	students, err := s.roster.ListStudents(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	finished, err := s.sessions.CountFinished(ctx, course.ID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count finished sessions")
	}
	attendedCounts, err := s.records.AttendedCounts(ctx, course.ID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}

	report := &models.CourseEligibilityReport{
		CourseID:         course.ID,
		CourseName:       course.Name,
		FinishedSessions: finished,
		PlannedSessions:  course.PlannedSessions,
		ThresholdPct:     s.policy.EligibilityThreshold,
		TotalStudents:    len(students),
		Items:            make([]models.StudentEligibility, 0, len(students)),
	}

	var pctSum float64
	for _, student := range students {
		attended := attendedCounts[student.StudentID]
		pct, eligible := s.standing(attended, course.PlannedSessions, finished)
		if eligible {
			report.EligibleCount++
		}
		pctSum += pct
		report.Items = append(report.Items, models.StudentEligibility{
			Student:          student,
			Attended:         attended,
			AbsentSoFar:      finished - attended,
			FinishedSessions: finished,
			PlannedSessions:  course.PlannedSessions,
			AttendancePct:    pct,
			Eligible:         eligible,
		})
	}
	if len(students) > 0 {
		report.AvgAttendancePct = round2(pctSum / float64(len(students)))
	}

	if s.cache != nil {
		if err := s.cache.SetEligibility(ctx, course.ID, report, s.policy.ReportCacheTTL); err != nil {
			s.logger.Warn("report cache write failed", zap.String("course_id", course.ID), zap.Error(err))
		}
	}
	return report, nil
}

// StudentReport builds a student's own attendance history across every
// enrolled course, including a session-by-session breakdown.
func (s *ReportService) StudentReport(ctx context.Context, studentID string) (*models.StudentAttendanceReport, error) {
	courses, err := s.courses.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	now := s.now().UTC()
	report := &models.StudentAttendanceReport{
		StudentID: studentID,
		Courses:   make([]models.StudentCourseHistory, 0, len(courses)),
	}

	var overallDenom int
	for _, course := range courses {
		finishedSessions, err := s.sessions.ListFinishedByCourse(ctx, course.ID, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
		}
		recordsBySession, err := s.records.ListByStudentAndCourse(ctx, studentID, course.ID, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
		}

		history := models.StudentCourseHistory{
			CourseID:         course.ID,
			CourseName:       course.Name,
			PlannedSessions:  course.PlannedSessions,
			FinishedSessions: len(finishedSessions),
			Records:          make([]models.StudentSessionRecord, 0, len(finishedSessions)),
		}
		for _, session := range finishedSessions {
			row := models.StudentSessionRecord{
				SessionID:   session.ID,
				SessionDate: session.SessionDate,
				Status:      models.AttendanceStatusAbsent,
			}
			if record, ok := recordsBySession[session.ID]; ok {
				row.Status = record.Status
				row.CheckedInAt = record.CheckedInAt
				row.DistanceM = record.DistanceM
			}
			if row.Status.Attended() {
				history.Attended++
			}
			history.Records = append(history.Records, row)
		}
		history.AbsentSoFar = history.FinishedSessions - history.Attended
		history.AttendancePct, history.Eligible = s.standing(history.Attended, course.PlannedSessions, history.FinishedSessions)

		overallDenom += sessionDenominator(course.PlannedSessions, history.FinishedSessions)
		report.Overall.PlannedSessions += course.PlannedSessions
		report.Overall.FinishedSessions += history.FinishedSessions
		report.Overall.Attended += history.Attended
		report.Courses = append(report.Courses, history)
	}

	// Each course contributes its own max(planned, finished) to the overall
	// denominator; an overrun in one course cannot mask absences in another.
	report.Overall.AttendancePct, report.Overall.Eligible = s.grade(report.Overall.Attended, overallDenom)
	return report, nil
}

// standing computes a percentage against max(planned, finished) and compares
// it to the eligibility threshold.
func (s *ReportService) standing(attended, planned, finished int) (float64, bool) {
	return s.grade(attended, sessionDenominator(planned, finished))
}

// grade divides attended by denom. A zero denominator yields 0% not-eligible.
func (s *ReportService) grade(attended, denom int) (float64, bool) {
	if denom == 0 {
		return 0.0, false
	}
	pct := round2(float64(attended) / float64(denom) * 100)
	return pct, pct >= s.policy.EligibilityThreshold
}

func sessionDenominator(planned, finished int) int {
	if finished > planned {
		return finished
	}
	return planned
}

func (s *ReportService) authorizeCourse(ctx context.Context, courseID, actorID string, role models.UserRole) (*models.Course, error) {
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

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
