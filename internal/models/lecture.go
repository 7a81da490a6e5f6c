package models

import "time"

// Course groups lectures taught by a single teacher.
type Course struct {
	ID        string `db:"id" json:"id"`
	Code      string `db:"code" json:"code"`
	Name      string `db:"name" json:"name"`
	TeacherID string `db:"teacher_id" json:"teacher_id"`
}

// Lecture is a single scheduled meeting of a course.
type Lecture struct {
	ID              string    `db:"id" json:"id"`
	CourseID        string    `db:"course_id" json:"course_id"`
	Title           string    `db:"title" json:"title"`
	Date            time.Time `db:"date" json:"date"`
	StartTime       string    `db:"start_time" json:"start_time"`
	EndTime         string    `db:"end_time" json:"end_time"`
	LedgerLectureID *string   `db:"ledger_lecture_id" json:"ledger_lecture_id,omitempty"`
}

// LectureDetail enriches a lecture with its course.
type LectureDetail struct {
	Lecture
	CourseCode string `db:"course_code" json:"course_code"`
	CourseName string `db:"course_name" json:"course_name"`
	TeacherID  string `db:"teacher_id" json:"teacher_id"`
}

// LedgerSyncResult is returned after registering a lecture on the ledger.
type LedgerSyncResult struct {
	LectureID       string  `json:"lecture_id"`
	LedgerLectureID *string `json:"ledger_lecture_id,omitempty"`
	Receipt         *string `json:"receipt,omitempty"`
	Simulated       bool    `json:"simulated"`
}
