package models

import "time"

// AttendanceSession is a time-boxed window during which students of a lecture
// may redeem its QR code.
type AttendanceSession struct {
	ID             string    `db:"id" json:"id"`
	LectureID      string    `db:"lecture_id" json:"lecture_id"`
	StartedAt      time.Time `db:"started_at" json:"started_at"`
	ExpiresAt      time.Time `db:"expires_at" json:"expires_at"`
	Nonce          string    `db:"nonce" json:"-"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	LedgerVerified bool      `db:"ledger_verified" json:"ledger_verified"`
}

// Redeemable reports whether the session accepts redemptions at now.
// The expiry instant itself is still inside the window.
func (s *AttendanceSession) Redeemable(now time.Time) bool {
	return s != nil && s.IsActive && !now.After(s.ExpiresAt)
}

// OpenSessionRequest opens an attendance window for a lecture.
type OpenSessionRequest struct {
	DurationMinutes int `json:"duration_minutes" validate:"session_duration"`
}

// ExtendSessionRequest moves the expiry of an active session.
type ExtendSessionRequest struct {
	DurationMinutes int `json:"duration_minutes" validate:"session_duration"`
}

// ActiveSessionView is the teacher-facing view of a running session,
// including the QR payload to display.
type ActiveSessionView struct {
	Session          AttendanceSession `json:"session"`
	QRData           string            `json:"qr_data"`
	RemainingSeconds int64             `json:"remaining_seconds"`
}
