package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
	"github.com/noah-isme/lumina-attendance-api/pkg/database"
)

const (
	sessionColumns = `id, lecture_id, started_at, expires_at, nonce, is_active, ledger_verified`

	oneActiveSessionConstraint = "attendance_sessions_one_active_per_lecture"
)

// SessionRepository persists attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a session. A second active session for the same lecture
// fails with ErrUniqueViolation.
func (r *SessionRepository) Create(ctx context.Context, session *models.AttendanceSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_sessions (` + sessionColumns + `)
        VALUES (:id, :lecture_id, :started_at, :expires_at, :nonce, :is_active, :ledger_verified)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		if database.IsUniqueViolation(err, oneActiveSessionConstraint) {
			return fmt.Errorf("create attendance session: %w", ErrUniqueViolation)
		}
		return fmt.Errorf("create attendance session: %w", err)
	}
	return nil
}

// FindByID returns a session regardless of its state.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE id = $1`
	return r.get(ctx, "find attendance session", query, id)
}

// FindActiveByLecture returns the active session of a lecture, if any.
func (r *SessionRepository) FindActiveByLecture(ctx context.Context, lectureID string) (*models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE lecture_id = $1 AND is_active LIMIT 1`
	return r.get(ctx, "find active attendance session", query, lectureID)
}

// FindActiveByNonce returns the active session matching a scanned token.
func (r *SessionRepository) FindActiveByNonce(ctx context.Context, lectureID, nonce string) (*models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE lecture_id = $1 AND nonce = $2 AND is_active LIMIT 1`
	return r.get(ctx, "find attendance session by nonce", query, lectureID, nonce)
}

// ListByLecture returns every session of a lecture, newest first.
func (r *SessionRepository) ListByLecture(ctx context.Context, lectureID string) ([]models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE lecture_id = $1 ORDER BY started_at DESC`
	var sessions []models.AttendanceSession
	if err := r.db.SelectContext(ctx, &sessions, query, lectureID); err != nil {
		return nil, fmt.Errorf("list attendance sessions: %w", err)
	}
	return sessions, nil
}

// ReplaceNonce installs the ledger-issued nonce and marks the session verified.
func (r *SessionRepository) ReplaceNonce(ctx context.Context, id, nonce string) error {
	const query = `UPDATE attendance_sessions SET nonce = $2, ledger_verified = TRUE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, nonce); err != nil {
		return fmt.Errorf("replace session nonce: %w", err)
	}
	return nil
}

// MarkVerified flags a session as acknowledged by the ledger.
func (r *SessionRepository) MarkVerified(ctx context.Context, id string) error {
	const query = `UPDATE attendance_sessions SET ledger_verified = TRUE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark session verified: %w", err)
	}
	return nil
}

// UpdateExpiry moves the expiry of an active session. It returns
// sql.ErrNoRows when the session is no longer active.
func (r *SessionRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) (*models.AttendanceSession, error) {
	query := `UPDATE attendance_sessions SET expires_at = $2 WHERE id = $1 AND is_active RETURNING ` + sessionColumns
	return r.get(ctx, "update session expiry", query, id, expiresAt)
}

// Close deactivates a session and pulls its expiry back to closedAt when
// that is earlier. Closing an inactive session returns sql.ErrNoRows.
func (r *SessionRepository) Close(ctx context.Context, id string, closedAt time.Time) (*models.AttendanceSession, error) {
	query := `UPDATE attendance_sessions SET is_active = FALSE, expires_at = LEAST(expires_at, $2)
        WHERE id = $1 AND is_active RETURNING ` + sessionColumns
	return r.get(ctx, "close attendance session", query, id, closedAt)
}

func (r *SessionRepository) get(ctx context.Context, op, query string, args ...interface{}) (*models.AttendanceSession, error) {
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &session, nil
}
