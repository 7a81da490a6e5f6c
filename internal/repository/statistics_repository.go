package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
)

// StatisticsRepository aggregates ledger verification counts.
type StatisticsRepository struct {
	db *sqlx.DB
}

// NewStatisticsRepository constructs the repository.
func NewStatisticsRepository(db *sqlx.DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

// LectureCounts counts lectures and those registered on the ledger.
func (r *StatisticsRepository) LectureCounts(ctx context.Context) (models.LedgerCounts, error) {
	const query = `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE ledger_lecture_id IS NOT NULL) AS verified FROM lectures`
	return r.counts(ctx, "count lectures", query)
}

// SessionCounts counts sessions and those acknowledged by the ledger.
func (r *StatisticsRepository) SessionCounts(ctx context.Context) (models.LedgerCounts, error) {
	const query = `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE ledger_verified) AS verified FROM attendance_sessions`
	return r.counts(ctx, "count sessions", query)
}

// RecordCounts counts attendance records and those recorded on the ledger.
func (r *StatisticsRepository) RecordCounts(ctx context.Context) (models.LedgerCounts, error) {
	const query = `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE ledger_verified) AS verified FROM attendance_records`
	return r.counts(ctx, "count attendance records", query)
}

func (r *StatisticsRepository) counts(ctx context.Context, op, query string) (models.LedgerCounts, error) {
	var counts models.LedgerCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return models.LedgerCounts{}, fmt.Errorf("%s: %w", op, err)
	}
	return counts, nil
}
