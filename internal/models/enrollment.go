package models

import "time"

// Enrollment links a student to a course.
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	RollNumber string    `db:"roll_number" json:"roll_number"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
}
