package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

const defaultPlannedSessions = 14

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ExistsCode(ctx context.Context, code, excludeID string) (bool, error)
	ListAll(ctx context.Context) ([]models.Course, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Course, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Course, error)
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
	UpdatePlannedSessions(ctx context.Context, id string, planned int) error
}

type courseUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type finishedSessionCounter interface {
	CountFinished(ctx context.Context, courseID string, now time.Time) (int, error)
}

type courseEnrollmentReader interface {
	Exists(ctx context.Context, courseID, studentID string) (bool, error)
}

// CourseService manages courses and their planned-session denominators.
type CourseService struct {
	courses     courseRepository
	users       courseUserReader
	sessions    finishedSessionCounter
	enrollments courseEnrollmentReader
	reports     reportInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewCourseService constructs the course service.
func NewCourseService(courses courseRepository, users courseUserReader, sessions finishedSessionCounter, enrollments courseEnrollmentReader, reports reportInvalidator, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{
		courses:     courses,
		users:       users,
		sessions:    sessions,
		enrollments: enrollments,
		reports:     reports,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateCourseRequest describes the payload for creating a course.
type CreateCourseRequest struct {
	Code            string  `json:"code" validate:"required"`
	Name            string  `json:"name" validate:"required"`
	Semester        *string `json:"semester"`
	TeacherID       string  `json:"teacher_id"`
	PlannedSessions int     `json:"planned_sessions"`
}

// UpdateCourseRequest describes the payload for updating a course.
type UpdateCourseRequest struct {
	Code      *string `json:"code"`
	Name      *string `json:"name"`
	Semester  *string `json:"semester"`
	TeacherID *string `json:"teacher_id"`
}

// Create registers a new course. Teachers own the courses they create;
// admins must name the owning teacher.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest, actorID string, role models.UserRole) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	planned := req.PlannedSessions
	if planned == 0 {
		planned = defaultPlannedSessions
	}
	if planned < 1 || planned > 200 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "planned_sessions must be between 1 and 200")
	}

	teacherID := actorID
	if role == models.RoleAdmin {
		if req.TeacherID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "teacher_id is required for admin")
		}
		teacher, err := s.users.FindByID(ctx, req.TeacherID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "teacher_id must belong to a teacher")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch teacher")
		}
		if teacher.Role != models.RoleTeacher {
			return nil, appErrors.Clone(appErrors.ErrValidation, "teacher_id must belong to a teacher")
		}
		teacherID = teacher.ID
	}

	code := strings.TrimSpace(req.Code)
	taken, err := s.courses.ExistsCode(ctx, code, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
	}

	course := &models.Course{
		Code:            code,
		Name:            strings.TrimSpace(req.Name),
		Semester:        req.Semester,
		TeacherID:       teacherID,
		PlannedSessions: planned,
	}
	if err := s.courses.Create(ctx, course); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Get returns a course the actor is allowed to see.
func (s *CourseService) Get(ctx context.Context, id, actorID string, role models.UserRole) (*models.Course, error) {
	course, err := s.findCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	switch role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		if course.TeacherID != actorID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "")
		}
	case models.RoleStudent:
		enrolled, err := s.enrollments.Exists(ctx, course.ID, actorID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	return course, nil
}

// List returns the courses visible to the actor: admins see all, teachers
// their own, students the courses they are enrolled in.
func (s *CourseService) List(ctx context.Context, actorID string, role models.UserRole) ([]models.Course, error) {
	var (
		courses []models.Course
		err     error
	)
	switch role {
	case models.RoleAdmin:
		courses, err = s.courses.ListAll(ctx)
	case models.RoleTeacher:
		courses, err = s.courses.ListByTeacher(ctx, actorID)
	case models.RoleStudent:
		courses, err = s.courses.ListByStudent(ctx, actorID)
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// Update modifies course metadata; only the owning teacher or an admin may.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest, actorID string, role models.UserRole) (*models.Course, error) {
	course, err := s.findCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnership(course, actorID, role); err != nil {
		return nil, err
	}

	if req.Code != nil {
		code := strings.TrimSpace(*req.Code)
		if code == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "code cannot be empty")
		}
		taken, err := s.courses.ExistsCode(ctx, code, course.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		}
		course.Code = code
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "name cannot be empty")
		}
		course.Name = name
	}
	if req.Semester != nil {
		course.Semester = req.Semester
	}
	if req.TeacherID != nil {
		if role != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can reassign teachers")
		}
		course.TeacherID = *req.TeacherID
	}

	if err := s.courses.Update(ctx, course); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// Delete removes a course; sessions, records and enrollments cascade.
func (s *CourseService) Delete(ctx context.Context, id, actorID string, role models.UserRole) error {
	course, err := s.findCourse(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireOwnership(course, actorID, role); err != nil {
		return err
	}
	if err := s.courses.Delete(ctx, course.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}

// UpdatePlannedSessions changes the eligibility denominator. The value may
// never understate the sessions already finished.
func (s *CourseService) UpdatePlannedSessions(ctx context.Context, id string, planned int, actorID string, role models.UserRole) (*models.Course, error) {
	course, err := s.findCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnership(course, actorID, role); err != nil {
		return nil, err
	}
	if planned < 1 || planned > 200 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "planned_sessions must be between 1 and 200")
	}

	finished, err := s.sessions.CountFinished(ctx, course.ID, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count finished sessions")
	}
	if planned < finished {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, "planned_sessions cannot be less than finished sessions"),
			map[string]interface{}{"finished_sessions": finished},
		)
	}

	if err := s.courses.UpdatePlannedSessions(ctx, course.ID, planned); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update planned sessions")
	}
	course.PlannedSessions = planned

	// The denominator changed, so any cached eligibility report is stale.
	if s.reports != nil {
		if err := s.reports.Invalidate(ctx, course.ID); err != nil {
			s.logger.Warn("report cache invalidation failed", zap.String("course_id", course.ID), zap.Error(err))
		}
	}
	return course, nil
}

func (s *CourseService) findCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch course")
	}
	return course, nil
}

func (s *CourseService) requireOwnership(course *models.Course, actorID string, role models.UserRole) error {
	if role == models.RoleAdmin {
		return nil
	}
	if role == models.RoleTeacher && course.TeacherID == actorID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "")
}
