package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/attendance-api/internal/models"
)

type courseRepoStub struct {
	courses       map[string]*models.Course
	takenCodes    map[string]bool
	plannedUpdate map[string]int
}

func (s *courseRepoStub) Create(ctx context.Context, course *models.Course) error {
	course.ID = "course-new"
	if s.courses == nil {
		s.courses = make(map[string]*models.Course)
	}
	s.courses[course.ID] = course
	return nil
}

func (s *courseRepoStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

func (s *courseRepoStub) ExistsCode(ctx context.Context, code, excludeID string) (bool, error) {
	return s.takenCodes[code], nil
}

func (s *courseRepoStub) ListAll(ctx context.Context) ([]models.Course, error) {
	var result []models.Course
	for _, course := range s.courses {
		result = append(result, *course)
	}
	return result, nil
}

func (s *courseRepoStub) ListByTeacher(ctx context.Context, teacherID string) ([]models.Course, error) {
	var result []models.Course
	for _, course := range s.courses {
		if course.TeacherID == teacherID {
			result = append(result, *course)
		}
	}
	return result, nil
}

func (s *courseRepoStub) ListByStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	return nil, nil
}

func (s *courseRepoStub) Update(ctx context.Context, course *models.Course) error {
	s.courses[course.ID] = course
	return nil
}

func (s *courseRepoStub) Delete(ctx context.Context, id string) error {
	delete(s.courses, id)
	return nil
}

func (s *courseRepoStub) UpdatePlannedSessions(ctx context.Context, id string, planned int) error {
	if s.plannedUpdate == nil {
		s.plannedUpdate = make(map[string]int)
	}
	s.plannedUpdate[id] = planned
	return nil
}

type courseUsersStub struct {
	users map[string]*models.User
}

func (s *courseUsersStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

type finishedCounterStub struct {
	finished int
}

func (s *finishedCounterStub) CountFinished(ctx context.Context, courseID string, now time.Time) (int, error) {
	return s.finished, nil
}

func newCourseService(repo *courseRepoStub, users *courseUsersStub, counter *finishedCounterStub, enrollments *enrollmentExistsStub) *CourseService {
	if users == nil {
		users = &courseUsersStub{}
	}
	if counter == nil {
		counter = &finishedCounterStub{}
	}
	if enrollments == nil {
		enrollments = &enrollmentExistsStub{}
	}
	return NewCourseService(repo, users, counter, enrollments, nil, nil, nil)
}

func TestCourseCreateDefaultsPlannedSessions(t *testing.T) {
	repo := &courseRepoStub{}
	svc := newCourseService(repo, nil, nil, nil)

	course, err := svc.Create(context.Background(), CreateCourseRequest{
		Code: "CS101",
		Name: "Intro to CS",
	}, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 14, course.PlannedSessions)
	assert.Equal(t, "teacher-1", course.TeacherID)
}

func TestCourseCreatePlannedSessionsBounds(t *testing.T) {
	svc := newCourseService(&courseRepoStub{}, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		Code:            "CS101",
		Name:            "Intro to CS",
		PlannedSessions: 201,
	}, "teacher-1", models.RoleTeacher)
	assertCode(t, err, "VALIDATION_ERROR")
}

func TestCourseCreateDuplicateCode(t *testing.T) {
	repo := &courseRepoStub{takenCodes: map[string]bool{"CS101": true}}
	svc := newCourseService(repo, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		Code: "CS101",
		Name: "Intro to CS",
	}, "teacher-1", models.RoleTeacher)
	assertCode(t, err, "CONFLICT")
}

func TestCourseCreateAdminRequiresTeacher(t *testing.T) {
	users := &courseUsersStub{users: map[string]*models.User{
		"teacher-1": {ID: "teacher-1", Role: models.RoleTeacher},
		"student-1": {ID: "student-1", Role: models.RoleStudent},
	}}
	svc := newCourseService(&courseRepoStub{}, users, nil, nil)

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		Code: "CS101",
		Name: "Intro to CS",
	}, "admin-1", models.RoleAdmin)
	assertCode(t, err, "VALIDATION_ERROR")

	_, err = svc.Create(context.Background(), CreateCourseRequest{
		Code:      "CS101",
		Name:      "Intro to CS",
		TeacherID: "student-1",
	}, "admin-1", models.RoleAdmin)
	assertCode(t, err, "VALIDATION_ERROR")

	course, err := svc.Create(context.Background(), CreateCourseRequest{
		Code:      "CS102",
		Name:      "Intro to CS",
		TeacherID: "teacher-1",
	}, "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", course.TeacherID)
}

func TestUpdatePlannedSessionsRejectsBelowFinished(t *testing.T) {
	repo := &courseRepoStub{courses: map[string]*models.Course{"course-1": testCourse()}}
	counter := &finishedCounterStub{finished: 10}
	svc := newCourseService(repo, nil, counter, nil)

	_, err := svc.UpdatePlannedSessions(context.Background(), "course-1", 8, "teacher-1", models.RoleTeacher)
	assertCode(t, err, "VALIDATION_ERROR")
	appErr := assertDetails(t, err)
	assert.Equal(t, 10, appErr["finished_sessions"])

	course, err := svc.UpdatePlannedSessions(context.Background(), "course-1", 12, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 12, course.PlannedSessions)
	assert.Equal(t, 12, repo.plannedUpdate["course-1"])
}

func TestCourseGetStudentRequiresEnrollment(t *testing.T) {
	repo := &courseRepoStub{courses: map[string]*models.Course{"course-1": testCourse()}}

	svc := newCourseService(repo, nil, nil, &enrollmentExistsStub{enrolled: false})
	_, err := svc.Get(context.Background(), "course-1", "student-1", models.RoleStudent)
	assertCode(t, err, "FORBIDDEN")

	svc = newCourseService(repo, nil, nil, &enrollmentExistsStub{enrolled: true})
	course, err := svc.Get(context.Background(), "course-1", "student-1", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, "course-1", course.ID)
}
