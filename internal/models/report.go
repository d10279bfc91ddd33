package models

import "time"

// StudentEligibility is one student's row in a course eligibility report.
type StudentEligibility struct {
	Student          EnrolledStudent `json:"student"`
	Attended         int             `json:"attended"`
	AbsentSoFar      int             `json:"absent_so_far"`
	FinishedSessions int             `json:"finished_sessions"`
	PlannedSessions  int             `json:"planned_sessions"`
	AttendancePct    float64         `json:"attendance_pct"`
	Eligible         bool            `json:"eligible"`
}

// CourseEligibilityReport aggregates eligibility for every enrolled student.
type CourseEligibilityReport struct {
	CourseID         string               `json:"course_id"`
	CourseName       string               `json:"course_name"`
	FinishedSessions int                  `json:"finished_sessions"`
	PlannedSessions  int                  `json:"planned_sessions"`
	ThresholdPct     float64              `json:"threshold_pct"`
	EligibleCount    int                  `json:"eligible_count"`
	TotalStudents    int                  `json:"total_students"`
	AvgAttendancePct float64              `json:"avg_attendance_pct"`
	Items            []StudentEligibility `json:"items"`
}

// SessionAttendanceRow is one enrolled student's line on a session sheet.
// Students without a record are shown as absent.
type SessionAttendanceRow struct {
	Student     EnrolledStudent  `json:"student"`
	Status      AttendanceStatus `json:"status"`
	CheckedInAt *time.Time       `json:"checked_in_at,omitempty"`
	DistanceM   *int             `json:"distance_m,omitempty"`
}

// SessionAttendanceSheet lists every enrolled student for one session.
type SessionAttendanceSheet struct {
	Session *AttendanceSession     `json:"session"`
	Present int                    `json:"present"`
	Late    int                    `json:"late"`
	Absent  int                    `json:"absent"`
	Total   int                    `json:"total"`
	Items   []SessionAttendanceRow `json:"items"`
}

// StudentSessionRecord is one finished session in a student's history.
type StudentSessionRecord struct {
	SessionID   string           `json:"session_id"`
	SessionDate time.Time        `json:"session_date"`
	Status      AttendanceStatus `json:"status"`
	CheckedInAt *time.Time       `json:"checked_in_at,omitempty"`
	DistanceM   *int             `json:"distance_m,omitempty"`
}

// StudentCourseHistory summarises a student's standing in one course.
type StudentCourseHistory struct {
	CourseID         string                 `json:"course_id"`
	CourseName       string                 `json:"course_name"`
	PlannedSessions  int                    `json:"planned_sessions"`
	FinishedSessions int                    `json:"finished_sessions"`
	Attended         int                    `json:"attended"`
	AbsentSoFar      int                    `json:"absent_so_far"`
	AttendancePct    float64                `json:"attendance_pct"`
	Eligible         bool                   `json:"eligible"`
	Records          []StudentSessionRecord `json:"records"`
}

// StudentOverall sums a student's standing across all enrolled courses.
type StudentOverall struct {
	PlannedSessions  int     `json:"planned_sessions"`
	FinishedSessions int     `json:"finished_sessions"`
	Attended         int     `json:"attended"`
	AttendancePct    float64 `json:"attendance_pct"`
	Eligible         bool    `json:"eligible"`
}

// StudentAttendanceReport is the student-scoped eligibility report.
type StudentAttendanceReport struct {
	StudentID string                 `json:"student_id"`
	Overall   StudentOverall         `json:"overall"`
	Courses   []StudentCourseHistory `json:"courses"`
}

// ImportResult summarises a CSV enrollment import.
type ImportResult struct {
	Processed       int      `json:"processed"`
	Enrolled        int      `json:"enrolled"`
	AlreadyEnrolled int      `json:"already_enrolled"`
	UnknownEmails   []string `json:"unknown_emails,omitempty"`
}
