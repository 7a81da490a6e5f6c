package models

import "time"

// AttendanceRecord is the proof that a student attended a lecture. At most
// one exists per (student, lecture).
type AttendanceRecord struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	LectureID      string    `db:"lecture_id" json:"lecture_id"`
	SessionID      *string   `db:"session_id" json:"session_id,omitempty"`
	RecordedAt     time.Time `db:"recorded_at" json:"recorded_at"`
	LedgerVerified bool      `db:"ledger_verified" json:"ledger_verified"`
	LedgerReceipt  *string   `db:"ledger_receipt" json:"ledger_receipt,omitempty"`
}

// Manual reports whether the record was created without a QR session.
func (r AttendanceRecord) Manual() bool {
	return r.SessionID == nil
}

// AttendanceRecordDetail enriches a record with student and lecture names.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName  string `db:"student_name" json:"student_name"`
	LectureTitle string `db:"lecture_title" json:"lecture_title"`
	CourseName   string `db:"course_name" json:"course_name"`
}

// RedeemRequest carries the raw QR payload scanned by a student.
type RedeemRequest struct {
	QRData string `json:"qr_data" validate:"required"`
}

// ManualAttendanceRequest records a student without a QR scan.
type ManualAttendanceRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

// SyncManualAttendanceRequest sets the exact list of students recorded for
// a lecture.
type SyncManualAttendanceRequest struct {
	StudentIDs []string `json:"student_ids" validate:"dive,required"`
}

// RedemptionResult is returned to the student after a successful scan.
type RedemptionResult struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	RecordID       string  `json:"record_id"`
	LectureID      string  `json:"lecture_id"`
	LectureTitle   string  `json:"lecture_title"`
	CourseName     string  `json:"course_name"`
	LedgerVerified bool    `json:"ledger_verified"`
	LedgerReceipt  *string `json:"ledger_receipt,omitempty"`
}

// SyncResult summarises a manual attendance sync.
type SyncResult struct {
	Removed   []string           `json:"removed"`
	Created   []string           `json:"created"`
	Unchanged []string           `json:"unchanged"`
	Records   []AttendanceRecord `json:"records"`
}
