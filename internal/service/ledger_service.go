package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/lumina-attendance-api/internal/ledger"
	"github.com/noah-isme/lumina-attendance-api/internal/models"
	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
)

type lectureLedgerStore interface {
	lectureReader
	SetLedgerID(ctx context.Context, id, ledgerID string) error
}

// LedgerService registers lectures on the ledger and reports connectivity.
type LedgerService struct {
	lectures lectureLedgerStore
	users    ledgerAccountReader
	ledger   ledgerDispatcher
	health   ledgerHealthChecker
	logger   *zap.Logger
}

// NewLedgerService constructs the service.
func NewLedgerService(lectures lectureLedgerStore, users ledgerAccountReader, dispatcher ledgerDispatcher, health ledgerHealthChecker, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{lectures: lectures, users: users, ledger: dispatcher, health: health, logger: logger}
}

// SyncLecture registers the lecture on the ledger and stores the reference
// the ledger assigned. A lecture that already has a reference is returned
// as is. Unlike attendance writes, a failed registration is reported to the
// caller since nothing local depends on it.
func (s *LedgerService) SyncLecture(ctx context.Context, lectureID string, actor models.Actor) (*models.LedgerSyncResult, error) {
	lecture, err := findManagedLecture(ctx, s.lectures, lectureID, actor)
	if err != nil {
		return nil, err
	}
	if lecture.LedgerLectureID != nil && *lecture.LedgerLectureID != "" {
		return &models.LedgerSyncResult{LectureID: lecture.ID, LedgerLectureID: lecture.LedgerLectureID}, nil
	}
	if s.ledger == nil {
		return nil, appErrors.ErrLedgerUnavailable
	}

	account := ledgerAccount(ctx, s.users, s.logger, actor.UserID)
	out := s.ledger.Dispatch(ctx, ledger.EventRegisterLecture, func(ctx context.Context, a ledger.Adapter) (*ledger.Result, error) {
		return a.RegisterLecture(ctx, account, lecture.ID)
	}, nil)
	if !out.Verified() {
		s.logger.Warn("ledger lecture registration failed",
			zap.String("lecture_id", lecture.ID),
			zap.Bool("timed_out", out.TimedOut),
			zap.Error(out.Err),
		)
		if out.Err == nil {
			return nil, appErrors.ErrLedgerUnavailable
		}
		return nil, appErrors.Wrap(out.Err, appErrors.ErrLedgerUnavailable.Code, appErrors.ErrLedgerUnavailable.Status, "ledger did not confirm the lecture registration")
	}

	result := &models.LedgerSyncResult{
		LectureID: lecture.ID,
		Receipt:   out.Result.ReceiptRef(),
		Simulated: out.Result.Simulated,
	}
	ref := out.Result.LectureID
	if ref == "" {
		if out.Result.Simulated {
			return result, nil
		}
		ref = lecture.ID
	}
	if err := s.lectures.SetLedgerID(ctx, lecture.ID, ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store ledger reference")
	}
	result.LedgerLectureID = &ref
	s.logger.Info("lecture registered on ledger", zap.String("lecture_id", lecture.ID), zap.String("ledger_lecture_id", ref))
	return result, nil
}

// Status probes the ledger gateway.
func (s *LedgerService) Status(ctx context.Context, actor models.Actor) (*models.LedgerStatus, error) {
	if !actor.CanViewStatistics() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers and administrators can view ledger status")
	}
	if s.health == nil {
		return &models.LedgerStatus{Message: "ledger adapter not configured"}, nil
	}
	status := s.health.Health(ctx)
	return &status, nil
}
