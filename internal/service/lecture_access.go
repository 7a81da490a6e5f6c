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

type lectureReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.LectureDetail, error)
}

type ledgerAccountReader interface {
	FindLedgerAccount(ctx context.Context, id string) (string, error)
}

type ledgerDispatcher interface {
	Dispatch(ctx context.Context, event ledger.Event, call ledger.Call, late func(ledger.Outcome)) ledger.Outcome
	Submit(ctx context.Context, event ledger.Event, call ledger.Call, done func(ledger.Outcome)) error
}

func findLecture(ctx context.Context, lectures lectureReader, lectureID string) (*models.LectureDetail, error) {
	lecture, err := lectures.FindDetailByID(ctx, lectureID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecture")
	}
	return lecture, nil
}

// findManagedLecture loads the lecture and checks the actor teaches it or is
// an administrator.
func findManagedLecture(ctx context.Context, lectures lectureReader, lectureID string, actor models.Actor) (*models.LectureDetail, error) {
	lecture, err := findLecture(ctx, lectures, lectureID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageLecture(lecture.TeacherID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an administrator can manage this lecture")
	}
	return lecture, nil
}

// ledgerLectureRef is the lecture identifier known to the ledger.
func ledgerLectureRef(lecture *models.LectureDetail) string {
	if lecture.LedgerLectureID != nil && *lecture.LedgerLectureID != "" {
		return *lecture.LedgerLectureID
	}
	return lecture.ID
}

// ledgerAccount resolves the ledger identity of a user. Lookup failures fall
// back to the user id; ledger calls are best effort.
func ledgerAccount(ctx context.Context, users ledgerAccountReader, logger *zap.Logger, userID string) string {
	if users == nil {
		return userID
	}
	account, err := users.FindLedgerAccount(ctx, userID)
	if err != nil {
		logger.Warn("ledger account lookup failed", zap.String("user_id", userID), zap.Error(err))
		return userID
	}
	return account
}
