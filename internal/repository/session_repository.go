package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuskit/attendance-api/internal/models"
)

const sessionColumns = `id, course_id, teacher_id, session_date, starts_at, ends_at, lat, lng, radius_m, is_active, token, created_at`

// SessionRepository handles persistence of attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateReplacingActive inserts a new session after force-closing any active
// session for the same course. Both statements run in one transaction so two
// concurrent creations cannot both end up active.
func (r *SessionRepository) CreateReplacingActive(ctx context.Context, session *models.AttendanceSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const closePrior = `UPDATE attendance_sessions SET is_active = FALSE, ends_at = $2 WHERE course_id = $1 AND is_active = TRUE`
	if _, err := tx.ExecContext(ctx, closePrior, session.CourseID, session.StartsAt); err != nil {
		return fmt.Errorf("close prior active session: %w", err)
	}

	const insert = `INSERT INTO attendance_sessions (id, course_id, teacher_id, session_date, starts_at, ends_at, lat, lng, radius_m, is_active, token, created_at)
        VALUES (:id, :course_id, :teacher_id, :session_date, :starts_at, :ends_at, :lat, :lng, :radius_m, :is_active, :token, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, session); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create session: %w", err)
	}
	return nil
}

// FindByToken returns the session identified by its check-in token.
func (r *SessionRepository) FindByToken(ctx context.Context, token string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE token = $1`, sessionColumns)
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, token); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByID returns a session by its ID.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE id = $1`, sessionColumns)
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListAll returns all sessions, newest first, optionally scoped to a course.
func (r *SessionRepository) ListAll(ctx context.Context, courseID string) ([]models.AttendanceSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions`, sessionColumns)
	var args []interface{}
	if courseID != "" {
		query += ` WHERE course_id = $1`
		args = append(args, courseID)
	}
	query += ` ORDER BY starts_at DESC`
	var sessions []models.AttendanceSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListByTeacher returns sessions belonging to courses owned by a teacher,
// newest first, optionally scoped to a course.
func (r *SessionRepository) ListByTeacher(ctx context.Context, teacherID, courseID string) ([]models.AttendanceSession, error) {
	query := `SELECT s.id, s.course_id, s.teacher_id, s.session_date, s.starts_at, s.ends_at, s.lat, s.lng, s.radius_m, s.is_active, s.token, s.created_at
        FROM attendance_sessions s
        JOIN courses c ON c.id = s.course_id
        WHERE c.teacher_id = $1`
	args := []interface{}{teacherID}
	if courseID != "" {
		query += ` AND s.course_id = $2`
		args = append(args, courseID)
	}
	query += ` ORDER BY s.starts_at DESC`
	var sessions []models.AttendanceSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list teacher sessions: %w", err)
	}
	return sessions, nil
}

// Deactivate persists the lazy open→closed transition once an expired session
// has been observed.
func (r *SessionRepository) Deactivate(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE attendance_sessions SET is_active = FALSE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

// CloseWithBackfill transitions a session to closed and inserts an absent
// record for every enrolled student without one, all in one transaction.
// Returns how many absences were backfilled and whether this call performed
// the transition; a session already closed is left untouched.
func (r *SessionRepository) CloseWithBackfill(ctx context.Context, sessionID string, now time.Time, note string) (int, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin close session: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const closeStmt = `UPDATE attendance_sessions SET is_active = FALSE, ends_at = $2 WHERE id = $1 AND is_active = TRUE`
	res, err := tx.ExecContext(ctx, closeStmt, sessionID, now)
	if err != nil {
		return 0, false, fmt.Errorf("close session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("close session rows: %w", err)
	}
	if affected == 0 {
		// Already closed by a previous call or a concurrent closer.
		return 0, false, nil
	}

	const missing = `SELECT e.student_id FROM enrollments e
        JOIN attendance_sessions s ON s.course_id = e.course_id
        WHERE s.id = $1
          AND NOT EXISTS (
            SELECT 1 FROM attendance_records r WHERE r.session_id = s.id AND r.student_id = e.student_id
          )`
	var absentIDs []string
	if err := tx.SelectContext(ctx, &absentIDs, missing, sessionID); err != nil {
		return 0, false, fmt.Errorf("list absentees: %w", err)
	}

	// ON CONFLICT DO NOTHING: a check-in committing between the snapshot and
	// this insert means "already recorded, skip", not a failure.
	const insert = `INSERT INTO attendance_records (id, session_id, student_id, status, note, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (session_id, student_id) DO NOTHING`
	backfilled := 0
	for _, studentID := range absentIDs {
		res, err := tx.ExecContext(ctx, insert, uuid.NewString(), sessionID, studentID, models.AttendanceStatusAbsent, note, now)
		if err != nil {
			return 0, false, fmt.Errorf("backfill absent record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, false, fmt.Errorf("backfill rows: %w", err)
		}
		backfilled += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit close session: %w", err)
	}
	return backfilled, true, nil
}

// CountFinished counts the course's sessions that have concluded, by time or
// by manual closure.
func (r *SessionRepository) CountFinished(ctx context.Context, courseID string, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM attendance_sessions WHERE course_id = $1 AND (ends_at <= $2 OR is_active = FALSE)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID, now); err != nil {
		return 0, fmt.Errorf("count finished sessions: %w", err)
	}
	return count, nil
}

// ListFinishedByCourse returns the course's concluded sessions in date order.
func (r *SessionRepository) ListFinishedByCourse(ctx context.Context, courseID string, now time.Time) ([]models.AttendanceSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions
        WHERE course_id = $1 AND (ends_at <= $2 OR is_active = FALSE)
        ORDER BY session_date ASC, starts_at ASC`, sessionColumns)
	var sessions []models.AttendanceSession
	if err := r.db.SelectContext(ctx, &sessions, query, courseID, now); err != nil {
		return nil, fmt.Errorf("list finished sessions: %w", err)
	}
	return sessions, nil
}
