package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
)

const recentVerifiedLimit = 10

type statisticsReader interface {
	LectureCounts(ctx context.Context) (models.LedgerCounts, error)
	SessionCounts(ctx context.Context) (models.LedgerCounts, error)
	RecordCounts(ctx context.Context) (models.LedgerCounts, error)
}

type recentVerifiedReader interface {
	ListRecentVerified(ctx context.Context, limit int) ([]models.AttendanceRecordDetail, error)
}

type ledgerCallSnapshotter interface {
	Snapshot() models.LedgerCallStats
}

type ledgerHealthChecker interface {
	Health(ctx context.Context) models.LedgerStatus
}

// StatisticsService reports how much attendance data is ledger-verified.
type StatisticsService struct {
	stats   statisticsReader
	records recentVerifiedReader
	calls   ledgerCallSnapshotter
	health  ledgerHealthChecker
	logger  *zap.Logger
}

// NewStatisticsService constructs the service. calls and health may be nil.
func NewStatisticsService(stats statisticsReader, records recentVerifiedReader, calls ledgerCallSnapshotter, health ledgerHealthChecker, logger *zap.Logger) *StatisticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatisticsService{stats: stats, records: records, calls: calls, health: health, logger: logger}
}

// Statistics returns global totals. includeStatus adds a live ledger probe.
func (s *StatisticsService) Statistics(ctx context.Context, actor models.Actor, includeStatus bool) (*models.LedgerStatistics, error) {
	if !actor.CanViewStatistics() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers and administrators can view ledger statistics")
	}

	lectures, err := s.stats.LectureCounts(ctx)
	if err != nil {
		return nil, s.internal(err, "failed to count lectures")
	}
	sessions, err := s.stats.SessionCounts(ctx)
	if err != nil {
		return nil, s.internal(err, "failed to count sessions")
	}
	records, err := s.stats.RecordCounts(ctx)
	if err != nil {
		return nil, s.internal(err, "failed to count attendance records")
	}
	recent, err := s.records.ListRecentVerified(ctx, recentVerifiedLimit)
	if err != nil {
		return nil, s.internal(err, "failed to list recent verified records")
	}
	if recent == nil {
		recent = []models.AttendanceRecordDetail{}
	}

	out := &models.LedgerStatistics{
		Lectures:      withPercentage(lectures),
		Sessions:      withPercentage(sessions),
		Records:       withPercentage(records),
		RecentRecords: recent,
	}
	if s.calls != nil {
		out.LedgerCalls = s.calls.Snapshot()
	}
	if includeStatus && s.health != nil {
		status := s.health.Health(ctx)
		out.LedgerStatus = &status
	}
	return out, nil
}

func (s *StatisticsService) internal(err error, message string) error {
	s.logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// withPercentage fills VerifiedPercentage as floor(verified*100/total), 0
// when there is nothing to count.
func withPercentage(c models.LedgerCounts) models.LedgerCounts {
	total := c.Total
	if total < 1 {
		total = 1
	}
	c.VerifiedPercentage = c.Verified * 100 / total
	return c
}
