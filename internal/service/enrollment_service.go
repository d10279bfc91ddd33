package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

type enrollmentRepository interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Exists(ctx context.Context, courseID, studentID string) (bool, error)
	ListStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error)
}

type enrollmentUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type enrollmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// EnrollmentService manages course rosters.
type EnrollmentService struct {
	enrollments enrollmentRepository
	users       enrollmentUserReader
	courses     enrollmentCourseReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs the enrollment service.
func NewEnrollmentService(enrollments enrollmentRepository, users enrollmentUserReader, courses enrollmentCourseReader, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		enrollments: enrollments,
		users:       users,
		courses:     courses,
		validator:   validate,
		logger:      logger,
	}
}

// EnrollRequest describes the payload for enrolling a student.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

// Enroll adds a student to a course roster.
func (s *EnrollmentService) Enroll(ctx context.Context, courseID string, req EnrollRequest, actorID string, role models.UserRole) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	course, err := s.authorizeCourse(ctx, courseID, actorID, role)
	if err != nil {
		return nil, err
	}

	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not a student")
	}

	enrollment := &models.Enrollment{CourseID: course.ID, StudentID: student.ID}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}
	return enrollment, nil
}

// ListStudents returns the course roster.
func (s *EnrollmentService) ListStudents(ctx context.Context, courseID, actorID string, role models.UserRole) ([]models.EnrolledStudent, error) {
	course, err := s.authorizeCourse(ctx, courseID, actorID, role)
	if err != nil {
		return nil, err
	}
	students, err := s.enrollments.ListStudents(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, nil
}

// ImportCSV enrolls students from a CSV stream of "email,full_name" rows.
// A header row is skipped when present. Emails without a matching student
// account are reported back rather than failing the whole import.
func (s *EnrollmentService) ImportCSV(ctx context.Context, courseID string, reader io.Reader, actorID string, role models.UserRole) (*models.ImportResult, error) {
	course, err := s.authorizeCourse(ctx, courseID, actorID, role)
	if err != nil {
		return nil, err
	}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	result := &models.ImportResult{}
	first := true
	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed CSV")
		}
		if len(row) == 0 {
			continue
		}
		email := strings.ToLower(strings.TrimSpace(row[0]))
		if first {
			first = false
			if email == "email" {
				continue
			}
		}
		if email == "" {
			continue
		}
		result.Processed++

		student, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				result.UnknownEmails = append(result.UnknownEmails, email)
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch student")
		}
		if student.Role != models.RoleStudent {
			result.UnknownEmails = append(result.UnknownEmails, email)
			continue
		}

		enrollment := &models.Enrollment{CourseID: course.ID, StudentID: student.ID}
		if err := s.enrollments.Create(ctx, enrollment); err != nil {
			if repository.IsUniqueViolation(err) {
				result.AlreadyEnrolled++
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
		}
		result.Enrolled++
	}
	return result, nil
}

func (s *EnrollmentService) authorizeCourse(ctx context.Context, courseID, actorID string, role models.UserRole) (*models.Course, error) {
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
