package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/attendance-api/internal/models"
)

type enrollmentRepoStub struct {
	created  []*models.Enrollment
	existing map[string]bool
	students []models.EnrolledStudent
}

func enrollmentKey(courseID, studentID string) string {
	return courseID + "/" + studentID
}

func (s *enrollmentRepoStub) Create(ctx context.Context, enrollment *models.Enrollment) error {
	key := enrollmentKey(enrollment.CourseID, enrollment.StudentID)
	if s.existing[key] {
		return &pq.Error{Code: "23505"}
	}
	if s.existing == nil {
		s.existing = make(map[string]bool)
	}
	s.existing[key] = true
	s.created = append(s.created, enrollment)
	return nil
}

func (s *enrollmentRepoStub) Exists(ctx context.Context, courseID, studentID string) (bool, error) {
	return s.existing[enrollmentKey(courseID, studentID)], nil
}

func (s *enrollmentRepoStub) ListStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error) {
	return s.students, nil
}

type enrollmentUsersStub struct {
	byID    map[string]*models.User
	byEmail map[string]*models.User
}

func (s *enrollmentUsersStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (s *enrollmentUsersStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := s.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func newEnrollmentService(repo *enrollmentRepoStub, users *enrollmentUsersStub) *EnrollmentService {
	courses := &courseReaderStub{courses: map[string]*models.Course{"course-1": testCourse()}}
	return NewEnrollmentService(repo, users, courses, nil, nil)
}

func TestEnrollStudent(t *testing.T) {
	repo := &enrollmentRepoStub{}
	users := &enrollmentUsersStub{byID: map[string]*models.User{
		"s1": {ID: "s1", Role: models.RoleStudent},
	}}
	svc := newEnrollmentService(repo, users)

	enrollment, err := svc.Enroll(context.Background(), "course-1", EnrollRequest{StudentID: "s1"}, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, "course-1", enrollment.CourseID)
	assert.Equal(t, "s1", enrollment.StudentID)

	_, err = svc.Enroll(context.Background(), "course-1", EnrollRequest{StudentID: "s1"}, "teacher-1", models.RoleTeacher)
	assertCode(t, err, "CONFLICT")
}

func TestEnrollRejectsNonStudents(t *testing.T) {
	users := &enrollmentUsersStub{byID: map[string]*models.User{
		"t2": {ID: "t2", Role: models.RoleTeacher},
	}}
	svc := newEnrollmentService(&enrollmentRepoStub{}, users)

	_, err := svc.Enroll(context.Background(), "course-1", EnrollRequest{StudentID: "t2"}, "teacher-1", models.RoleTeacher)
	assertCode(t, err, "VALIDATION_ERROR")
}

func TestEnrollForbiddenForOtherTeacher(t *testing.T) {
	users := &enrollmentUsersStub{byID: map[string]*models.User{
		"s1": {ID: "s1", Role: models.RoleStudent},
	}}
	svc := newEnrollmentService(&enrollmentRepoStub{}, users)

	_, err := svc.Enroll(context.Background(), "course-1", EnrollRequest{StudentID: "s1"}, "teacher-2", models.RoleTeacher)
	assertCode(t, err, "FORBIDDEN")
}

func TestImportCSVSkipsHeaderAndReportsUnknown(t *testing.T) {
	repo := &enrollmentRepoStub{}
	users := &enrollmentUsersStub{byEmail: map[string]*models.User{
		"ada@example.edu": {ID: "s1", Role: models.RoleStudent},
		"ben@example.edu": {ID: "s2", Role: models.RoleStudent},
	}}
	svc := newEnrollmentService(repo, users)

	csvBody := strings.Join([]string{
		"email,full_name",
		"ada@example.edu,Ada Lovelace",
		"ben@example.edu,Ben Bitdiddle",
		"ghost@example.edu,No Account",
		"",
	}, "\n")

	result, err := svc.ImportCSV(context.Background(), "course-1", strings.NewReader(csvBody), "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Enrolled)
	assert.Equal(t, 0, result.AlreadyEnrolled)
	assert.Equal(t, []string{"ghost@example.edu"}, result.UnknownEmails)
	require.Len(t, repo.created, 2)
}

func TestImportCSVCountsAlreadyEnrolled(t *testing.T) {
	repo := &enrollmentRepoStub{existing: map[string]bool{
		enrollmentKey("course-1", "s1"): true,
	}}
	users := &enrollmentUsersStub{byEmail: map[string]*models.User{
		"ada@example.edu": {ID: "s1", Role: models.RoleStudent},
	}}
	svc := newEnrollmentService(repo, users)

	result, err := svc.ImportCSV(context.Background(), "course-1", strings.NewReader("ada@example.edu,Ada\n"), "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Enrolled)
	assert.Equal(t, 1, result.AlreadyEnrolled)
}

func TestImportCSVWithoutHeader(t *testing.T) {
	repo := &enrollmentRepoStub{}
	users := &enrollmentUsersStub{byEmail: map[string]*models.User{
		"ada@example.edu": {ID: "s1", Role: models.RoleStudent},
	}}
	svc := newEnrollmentService(repo, users)

	result, err := svc.ImportCSV(context.Background(), "course-1", strings.NewReader("ADA@example.edu,Ada\n"), "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Enrolled)
}
