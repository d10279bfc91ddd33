package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuskit/attendance-api/internal/models"
)

const recordColumns = `id, session_id, student_id, status, checked_in_at, student_lat, student_lng, distance_m, note, created_at`

// RecordRepository handles persistence of attendance records.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository constructs the repository.
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Create persists a new attendance record. The (session, student) pair is
// unique; the raw error is returned so callers can detect the violation via
// IsUniqueViolation.
func (r *RecordRepository) Create(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_records (id, session_id, student_id, status, checked_in_at, student_lat, student_lng, distance_m, note, created_at)
        VALUES (:id, :session_id, :student_id, :status, :checked_in_at, :student_lat, :student_lng, :distance_m, :note, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return err
	}
	return nil
}

// ListBySession returns the session's records.
func (r *RecordRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE session_id = $1`, recordColumns)
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	return records, nil
}

// AttendedCounts returns, per student, how many of the course's finished
// sessions they attended (present or late).
func (r *RecordRepository) AttendedCounts(ctx context.Context, courseID string, now time.Time) (map[string]int, error) {
	const query = `SELECT r.student_id, COUNT(*) AS attended
        FROM attendance_records r
        JOIN attendance_sessions s ON s.id = r.session_id
        WHERE s.course_id = $1
          AND (s.ends_at <= $2 OR s.is_active = FALSE)
          AND r.status IN ($3, $4)
        GROUP BY r.student_id`
	rows, err := r.db.QueryxContext(ctx, query, courseID, now, models.AttendanceStatusPresent, models.AttendanceStatusLate)
	if err != nil {
		return nil, fmt.Errorf("count attended: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var studentID string
		var attended int
		if err := rows.Scan(&studentID, &attended); err != nil {
			return nil, fmt.Errorf("scan attended count: %w", err)
		}
		counts[studentID] = attended
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attended counts: %w", err)
	}
	return counts, nil
}

// ListByStudentAndCourse returns a student's records for the course's
// finished sessions keyed by session id.
func (r *RecordRepository) ListByStudentAndCourse(ctx context.Context, studentID, courseID string, now time.Time) (map[string]models.AttendanceRecord, error) {
	const query = `SELECT r.id, r.session_id, r.student_id, r.status, r.checked_in_at, r.student_lat, r.student_lng, r.distance_m, r.note, r.created_at
        FROM attendance_records r
        JOIN attendance_sessions s ON s.id = r.session_id
        WHERE r.student_id = $1 AND s.course_id = $2 AND (s.ends_at <= $3 OR s.is_active = FALSE)`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID, courseID, now); err != nil {
		return nil, fmt.Errorf("list student records: %w", err)
	}
	bySession := make(map[string]models.AttendanceRecord, len(records))
	for _, record := range records {
		bySession[record.SessionID] = record
	}
	return bySession, nil
}
