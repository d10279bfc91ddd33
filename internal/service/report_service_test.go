package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/attendance-api/internal/models"
)

type reportCoursesStub struct {
	courses   map[string]*models.Course
	byStudent []models.Course
}

func (s *reportCoursesStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

func (s *reportCoursesStub) ListByStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	return s.byStudent, nil
}

type reportSessionsStub struct {
	finished         int
	finishedList     []models.AttendanceSession
	finishedByCourse map[string][]models.AttendanceSession
}

func (s *reportSessionsStub) CountFinished(ctx context.Context, courseID string, now time.Time) (int, error) {
	return s.finished, nil
}

func (s *reportSessionsStub) ListFinishedByCourse(ctx context.Context, courseID string, now time.Time) ([]models.AttendanceSession, error) {
	if s.finishedByCourse != nil {
		return s.finishedByCourse[courseID], nil
	}
	return s.finishedList, nil
}

type reportRecordsStub struct {
	attended          map[string]int
	bySession         map[string]models.AttendanceRecord
	bySessionByCourse map[string]map[string]models.AttendanceRecord
}

func (s *reportRecordsStub) AttendedCounts(ctx context.Context, courseID string, now time.Time) (map[string]int, error) {
	return s.attended, nil
}

func (s *reportRecordsStub) ListByStudentAndCourse(ctx context.Context, studentID, courseID string, now time.Time) (map[string]models.AttendanceRecord, error) {
	if s.bySessionByCourse != nil {
		return s.bySessionByCourse[courseID], nil
	}
	return s.bySession, nil
}

type reportCacheStub struct {
	stored map[string]*models.CourseEligibilityReport
	hits   int
}

func (s *reportCacheStub) GetEligibility(ctx context.Context, courseID string) (*models.CourseEligibilityReport, error) {
	if report, ok := s.stored[courseID]; ok {
		s.hits++
		return report, nil
	}
	return nil, nil
}

func (s *reportCacheStub) SetEligibility(ctx context.Context, courseID string, report *models.CourseEligibilityReport, ttl time.Duration) error {
	if s.stored == nil {
		s.stored = make(map[string]*models.CourseEligibilityReport)
	}
	s.stored[courseID] = report
	return nil
}

func newReportService(courses *reportCoursesStub, roster *rosterStub, sessions *reportSessionsStub, records *reportRecordsStub, cache *reportCacheStub, now time.Time) *ReportService {
	var cacheStore reportCacheStore
	if cache != nil {
		cacheStore = cache
	}
	svc := NewReportService(courses, roster, sessions, records, cacheStore, nil, testPolicy())
	svc.now = func() time.Time { return now }
	return svc
}

func TestCourseEligibilityUsesMaxDenominator(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	courses := &reportCoursesStub{courses: map[string]*models.Course{"course-1": testCourse()}}
	roster := &rosterStub{students: []models.EnrolledStudent{{StudentID: "s1", FullName: "Ada"}}}
	sessions := &reportSessionsStub{finished: 10}
	records := &reportRecordsStub{attended: map[string]int{"s1": 7}}
	svc := newReportService(courses, roster, sessions, records, nil, now)

	report, err := svc.CourseEligibility(context.Background(), "course-1", "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	require.Len(t, report.Items, 1)

	// 7 attended out of max(14 planned, 10 finished) = 50%.
	item := report.Items[0]
	assert.Equal(t, 7, item.Attended)
	assert.Equal(t, 3, item.AbsentSoFar)
	assert.InDelta(t, 50.0, item.AttendancePct, 0.001)
	assert.False(t, item.Eligible)
	assert.Equal(t, 0, report.EligibleCount)
}

func TestCourseEligibilityOverrunUsesFinished(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	course := testCourse()
	course.PlannedSessions = 10
	courses := &reportCoursesStub{courses: map[string]*models.Course{"course-1": course}}
	roster := &rosterStub{students: []models.EnrolledStudent{{StudentID: "s1"}}}
	sessions := &reportSessionsStub{finished: 12}
	records := &reportRecordsStub{attended: map[string]int{"s1": 9}}
	svc := newReportService(courses, roster, sessions, records, nil, now)

	report, err := svc.CourseEligibility(context.Background(), "course-1", "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, report.Items[0].AttendancePct, 0.001)
	assert.True(t, report.Items[0].Eligible)
}

func TestCourseEligibilityZeroDenominator(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	course := testCourse()
	course.PlannedSessions = 0
	courses := &reportCoursesStub{courses: map[string]*models.Course{"course-1": course}}
	roster := &rosterStub{students: []models.EnrolledStudent{{StudentID: "s1"}}}
	svc := newReportService(courses, roster, &reportSessionsStub{}, &reportRecordsStub{}, nil, now)

	report, err := svc.CourseEligibility(context.Background(), "course-1", "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Items[0].AttendancePct)
	assert.False(t, report.Items[0].Eligible)
}

func TestCourseEligibilityAggregates(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	courses := &reportCoursesStub{courses: map[string]*models.Course{"course-1": testCourse()}}
	roster := &rosterStub{students: []models.EnrolledStudent{
		{StudentID: "s1"},
		{StudentID: "s2"},
	}}
	sessions := &reportSessionsStub{finished: 14}
	records := &reportRecordsStub{attended: map[string]int{"s1": 14, "s2": 7}}
	svc := newReportService(courses, roster, sessions, records, nil, now)

	report, err := svc.CourseEligibility(context.Background(), "course-1", "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EligibleCount)
	assert.Equal(t, 2, report.TotalStudents)
	assert.InDelta(t, 75.0, report.AvgAttendancePct, 0.001)
}

func TestCourseEligibilityServedFromCache(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	courses := &reportCoursesStub{courses: map[string]*models.Course{"course-1": testCourse()}}
	cache := &reportCacheStub{stored: map[string]*models.CourseEligibilityReport{
		"course-1": {CourseID: "course-1", TotalStudents: 99},
	}}
	svc := newReportService(courses, &rosterStub{}, &reportSessionsStub{}, &reportRecordsStub{}, cache, now)

	report, err := svc.CourseEligibility(context.Background(), "course-1", "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 99, report.TotalStudents)
	assert.Equal(t, 1, cache.hits)
}

func TestCourseEligibilityForbiddenForOtherTeacher(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	courses := &reportCoursesStub{courses: map[string]*models.Course{"course-1": testCourse()}}
	svc := newReportService(courses, &rosterStub{}, &reportSessionsStub{}, &reportRecordsStub{}, nil, now)

	_, err := svc.CourseEligibility(context.Background(), "course-1", "teacher-2", models.RoleTeacher)
	assertCode(t, err, "FORBIDDEN")
}

func TestStudentReportBuildsHistory(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	checkedIn := now.Add(-48 * time.Hour)
	course := testCourse()
	courses := &reportCoursesStub{
		courses:   map[string]*models.Course{"course-1": course},
		byStudent: []models.Course{*course},
	}
	sessions := &reportSessionsStub{finishedList: []models.AttendanceSession{
		{ID: "sess-1", CourseID: "course-1"},
		{ID: "sess-2", CourseID: "course-1"},
	}}
	records := &reportRecordsStub{bySession: map[string]models.AttendanceRecord{
		"sess-1": {SessionID: "sess-1", Status: models.AttendanceStatusLate, CheckedInAt: &checkedIn},
	}}
	svc := newReportService(courses, &rosterStub{}, sessions, records, nil, now)

	report, err := svc.StudentReport(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, report.Courses, 1)

	history := report.Courses[0]
	assert.Equal(t, 2, history.FinishedSessions)
	assert.Equal(t, 1, history.Attended)
	assert.Equal(t, 1, history.AbsentSoFar)
	require.Len(t, history.Records, 2)
	assert.Equal(t, models.AttendanceStatusLate, history.Records[0].Status)
	assert.Equal(t, models.AttendanceStatusAbsent, history.Records[1].Status)

	// 1 / max(14, 2) rounded to two decimals.
	assert.InDelta(t, 7.14, history.AttendancePct, 0.001)
	assert.Equal(t, 14, report.Overall.PlannedSessions)
	assert.Equal(t, 1, report.Overall.Attended)
}

func TestStudentReportOverallSumsPerCourseDenominators(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	checkedIn := now.Add(-48 * time.Hour)

	overrun := models.Course{ID: "course-a", Code: "CS101", Name: "Intro to CS", TeacherID: "teacher-1", PlannedSessions: 10}
	underway := models.Course{ID: "course-b", Code: "CS102", Name: "Data Structures", TeacherID: "teacher-1", PlannedSessions: 10}
	courses := &reportCoursesStub{byStudent: []models.Course{overrun, underway}}

	sessionsByCourse := make(map[string][]models.AttendanceSession)
	recordsByCourse := make(map[string]map[string]models.AttendanceRecord)
	seed := func(courseID string, count int) {
		recordsByCourse[courseID] = make(map[string]models.AttendanceRecord)
		for i := 0; i < count; i++ {
			id := fmt.Sprintf("%s-sess-%d", courseID, i)
			sessionsByCourse[courseID] = append(sessionsByCourse[courseID], models.AttendanceSession{ID: id, CourseID: courseID})
			recordsByCourse[courseID][id] = models.AttendanceRecord{
				SessionID:   id,
				Status:      models.AttendanceStatusPresent,
				CheckedInAt: &checkedIn,
			}
		}
	}
	seed("course-a", 12)
	seed("course-b", 5)

	sessions := &reportSessionsStub{finishedByCourse: sessionsByCourse}
	records := &reportRecordsStub{bySessionByCourse: recordsByCourse}
	svc := newReportService(courses, &rosterStub{}, sessions, records, nil, now)

	report, err := svc.StudentReport(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, report.Courses, 2)
	assert.Equal(t, 17, report.Overall.Attended)
	assert.Equal(t, 20, report.Overall.PlannedSessions)
	assert.Equal(t, 17, report.Overall.FinishedSessions)

	// 17 / (max(10, 12) + max(10, 5)) = 17/22, not 17/max(20, 17).
	assert.InDelta(t, 77.27, report.Overall.AttendancePct, 0.001)
	assert.True(t, report.Overall.Eligible)
}
