package models

import "time"

// Course represents a taught course. PlannedSessions is the declared number of
// meetings and serves as the fixed denominator for eligibility.
type Course struct {
	ID              string    `db:"id" json:"id"`
	Code            string    `db:"code" json:"code"`
	Name            string    `db:"name" json:"name"`
	Semester        *string   `db:"semester" json:"semester,omitempty"`
	TeacherID       string    `db:"teacher_id" json:"teacher_id"`
	PlannedSessions int       `db:"planned_sessions" json:"planned_sessions"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Enrollment links a student to a course, unique per (course, student).
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// EnrolledStudent is an enrollment row joined with student identity.
type EnrolledStudent struct {
	StudentID string `db:"student_id" json:"student_id"`
	FullName  string `db:"full_name" json:"full_name"`
	Email     string `db:"email" json:"email"`
}
