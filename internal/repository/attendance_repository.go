package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
)

const recordColumns = `id, student_id, lecture_id, session_id, recorded_at, ledger_verified, ledger_receipt`

const recordDetailSelect = `SELECT r.id, r.student_id, r.lecture_id, r.session_id, r.recorded_at, r.ledger_verified, r.ledger_receipt,
        u.full_name AS student_name, l.title AS lecture_title, c.name AS course_name
        FROM attendance_records r
        JOIN users u ON u.id = r.student_id
        JOIN lectures l ON l.id = r.lecture_id
        JOIN courses c ON c.id = l.course_id`

// AttendanceSyncOutcome reports what a lecture sync changed.
type AttendanceSyncOutcome struct {
	Removed   []string
	Created   []models.AttendanceRecord
	Unchanged []string
}

// AttendanceRepository persists attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Exists reports whether the student already has a record for the lecture.
func (r *AttendanceRepository) Exists(ctx context.Context, studentID, lectureID string) (bool, error) {
	const query = `SELECT 1 FROM attendance_records WHERE student_id = $1 AND lecture_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, lectureID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check attendance record: %w", err)
	}
	return true, nil
}

// Create inserts the record unless one already exists for the same student
// and lecture. It reports whether a row was written.
func (r *AttendanceRepository) Create(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	return insertRecord(ctx, r.db, record)
}

// AttachReceipt marks a record as recorded on the ledger.
func (r *AttendanceRepository) AttachReceipt(ctx context.Context, id string, receipt *string) error {
	const query = `UPDATE attendance_records SET ledger_verified = TRUE, ledger_receipt = COALESCE($2, ledger_receipt) WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, receipt); err != nil {
		return fmt.Errorf("attach ledger receipt: %w", err)
	}
	return nil
}

// SyncLecture makes the set of recorded students for a lecture equal to
// studentIDs in a single transaction. Records of other students are deleted
// and missing students get a manual record.
func (r *AttendanceRepository) SyncLecture(ctx context.Context, lectureID string, studentIDs []string) (outcome *AttendanceSyncOutcome, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin attendance sync: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if studentIDs == nil {
		studentIDs = []string{}
	}
	outcome = &AttendanceSyncOutcome{}
	const deleteQuery = `DELETE FROM attendance_records WHERE lecture_id = $1 AND NOT (student_id = ANY($2)) RETURNING student_id`
	if err = tx.SelectContext(ctx, &outcome.Removed, deleteQuery, lectureID, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("remove unlisted attendance: %w", err)
	}

	var existing []string
	const existingQuery = `SELECT student_id FROM attendance_records WHERE lecture_id = $1`
	if err = tx.SelectContext(ctx, &existing, existingQuery, lectureID); err != nil {
		return nil, fmt.Errorf("list recorded students: %w", err)
	}
	recorded := make(map[string]bool, len(existing))
	for _, id := range existing {
		recorded[id] = true
	}

	now := time.Now().UTC()
	for _, studentID := range studentIDs {
		if recorded[studentID] {
			outcome.Unchanged = append(outcome.Unchanged, studentID)
			continue
		}
		record := models.AttendanceRecord{StudentID: studentID, LectureID: lectureID, RecordedAt: now}
		var created bool
		if created, err = insertRecord(ctx, tx, &record); err != nil {
			return nil, err
		}
		if created {
			outcome.Created = append(outcome.Created, record)
		} else {
			outcome.Unchanged = append(outcome.Unchanged, studentID)
		}
		recorded[studentID] = true
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attendance sync: %w", err)
	}
	return outcome, nil
}

// ListByLecture returns records of a lecture, oldest first.
func (r *AttendanceRepository) ListByLecture(ctx context.Context, lectureID string) ([]models.AttendanceRecordDetail, error) {
	query := recordDetailSelect + ` WHERE r.lecture_id = $1 ORDER BY r.recorded_at ASC`
	var records []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &records, query, lectureID); err != nil {
		return nil, fmt.Errorf("list lecture attendance: %w", err)
	}
	return records, nil
}

// ListByStudent returns a student's records, newest first.
func (r *AttendanceRepository) ListByStudent(ctx context.Context, studentID string) ([]models.AttendanceRecordDetail, error) {
	query := recordDetailSelect + ` WHERE r.student_id = $1 ORDER BY r.recorded_at DESC`
	var records []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list student attendance: %w", err)
	}
	return records, nil
}

// ListRecentVerified returns the newest ledger-verified records.
func (r *AttendanceRepository) ListRecentVerified(ctx context.Context, limit int) ([]models.AttendanceRecordDetail, error) {
	if limit <= 0 {
		limit = 10
	}
	query := recordDetailSelect + ` WHERE r.ledger_verified ORDER BY r.recorded_at DESC LIMIT $1`
	var records []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("list recent verified attendance: %w", err)
	}
	return records, nil
}

func insertRecord(ctx context.Context, q sqlx.QueryerContext, record *models.AttendanceRecord) (bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_records (` + recordColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (student_id, lecture_id) DO NOTHING
        RETURNING id`
	var id string
	err := sqlx.GetContext(ctx, q, &id, query,
		record.ID, record.StudentID, record.LectureID, record.SessionID,
		record.RecordedAt, record.LedgerVerified, record.LedgerReceipt)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("create attendance record: %w", err)
	}
	return true, nil
}
