package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// EnrollmentRepository answers course membership questions.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// IsEnrolled checks whether the student belongs to the course.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// EnrolledAmong returns the subset of studentIDs enrolled in the course.
func (r *EnrollmentRepository) EnrolledAmong(ctx context.Context, courseID string, studentIDs []string) (map[string]bool, error) {
	enrolled := make(map[string]bool, len(studentIDs))
	if len(studentIDs) == 0 {
		return enrolled, nil
	}
	const query = `SELECT student_id FROM enrollments WHERE course_id = $1 AND student_id = ANY($2)`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, courseID, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	for _, id := range ids {
		enrolled[id] = true
	}
	return enrolled, nil
}
