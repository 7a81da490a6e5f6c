package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
)

// LectureRepository reads lectures together with their course.
type LectureRepository struct {
	db *sqlx.DB
}

// NewLectureRepository constructs the repository.
func NewLectureRepository(db *sqlx.DB) *LectureRepository {
	return &LectureRepository{db: db}
}

// FindDetailByID returns a lecture with course code, name and teacher.
func (r *LectureRepository) FindDetailByID(ctx context.Context, id string) (*models.LectureDetail, error) {
	const query = `SELECT l.id, l.course_id, l.title, l.date, l.start_time, l.end_time, l.ledger_lecture_id,
        c.code AS course_code, c.name AS course_name, c.teacher_id
        FROM lectures l
        JOIN courses c ON c.id = l.course_id
        WHERE l.id = $1`
	var detail models.LectureDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find lecture detail: %w", err)
	}
	return &detail, nil
}

// SetLedgerID stores the ledger correlation id of a lecture.
func (r *LectureRepository) SetLedgerID(ctx context.Context, id, ledgerID string) error {
	const query = `UPDATE lectures SET ledger_lecture_id = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, ledgerID)
	if err != nil {
		return fmt.Errorf("set lecture ledger id: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
