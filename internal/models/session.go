package models

import "time"

// SessionState classifies an attendance session's lifecycle state.
type SessionState string

const (
	// SessionOpen means the session is active and inside its time window.
	SessionOpen SessionState = "open"
	// SessionExpired means the session is still flagged active but its end
	// time has passed. The transition to closed is persisted lazily by the
	// first path that observes it.
	SessionExpired SessionState = "expired"
	// SessionClosed means the session no longer accepts check-ins.
	SessionClosed SessionState = "closed"
)

// AttendanceSession is a single scheduled attendance-taking window for one
// course meeting. The token identifies the session to students, typically
// embedded in a QR code.
type AttendanceSession struct {
	ID          string    `db:"id" json:"id"`
	CourseID    string    `db:"course_id" json:"course_id"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	SessionDate time.Time `db:"session_date" json:"session_date"`
	StartsAt    time.Time `db:"starts_at" json:"starts_at"`
	EndsAt      time.Time `db:"ends_at" json:"ends_at"`
	Lat         float64   `db:"lat" json:"lat"`
	Lng         float64   `db:"lng" json:"lng"`
	RadiusM     int       `db:"radius_m" json:"radius_m"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	Token       string    `db:"token" json:"token"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// State derives the lifecycle state of the session at the given instant.
func (s *AttendanceSession) State(now time.Time) SessionState {
	if !s.IsActive {
		return SessionClosed
	}
	if now.After(s.EndsAt) {
		return SessionExpired
	}
	return SessionOpen
}
