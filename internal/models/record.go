package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// Attended reports whether the status counts toward attendance.
func (s AttendanceStatus) Attended() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusLate
}

// AttendanceRecord is one student's outcome for one session, unique per
// (session, student). Absent records are system-generated during close and
// carry no check-in coordinates or timestamp.
type AttendanceRecord struct {
	ID          string           `db:"id" json:"id"`
	SessionID   string           `db:"session_id" json:"session_id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	Status      AttendanceStatus `db:"status" json:"status"`
	CheckedInAt *time.Time       `db:"checked_in_at" json:"checked_in_at,omitempty"`
	StudentLat  *float64         `db:"student_lat" json:"student_lat,omitempty"`
	StudentLng  *float64         `db:"student_lng" json:"student_lng,omitempty"`
	DistanceM   *int             `db:"distance_m" json:"distance_m,omitempty"`
	Note        *string          `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}
