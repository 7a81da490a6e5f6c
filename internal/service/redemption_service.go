package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lumina-attendance-api/internal/ledger"
	"github.com/noah-isme/lumina-attendance-api/internal/models"
	"github.com/noah-isme/lumina-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
	"github.com/noah-isme/lumina-attendance-api/pkg/qrtoken"
)

type redemptionSessionReader interface {
	FindActiveByNonce(ctx context.Context, lectureID, nonce string) (*models.AttendanceSession, error)
}

type attendanceStore interface {
	Exists(ctx context.Context, studentID, lectureID string) (bool, error)
	Create(ctx context.Context, record *models.AttendanceRecord) (bool, error)
	AttachReceipt(ctx context.Context, id string, receipt *string) error
	SyncLecture(ctx context.Context, lectureID string, studentIDs []string) (*repository.AttendanceSyncOutcome, error)
	ListByLecture(ctx context.Context, lectureID string) ([]models.AttendanceRecordDetail, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.AttendanceRecordDetail, error)
}

type enrollmentChecker interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	EnrolledAmong(ctx context.Context, courseID string, studentIDs []string) (map[string]bool, error)
}

const (
	messageLedgerRecorded = "Attendance recorded on ledger"
	messageLedgerFailed   = "Attendance recorded; ledger recording failed"
	messageLedgerPending  = "Attendance recorded; ledger confirmation pending"
)

// RedemptionConfig tunes token acceptance.
type RedemptionConfig struct {
	// MaxTokenAge rejects payloads whose expiry lies further ahead than this.
	MaxTokenAge time.Duration
}

// RedemptionService turns QR scans and teacher edits into attendance records.
type RedemptionService struct {
	sessions    redemptionSessionReader
	records     attendanceStore
	enrollments enrollmentChecker
	lectures    lectureReader
	users       ledgerAccountReader
	ledger      ledgerDispatcher
	codec       *qrtoken.Codec
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	config      RedemptionConfig
	now         func() time.Time
}

// NewRedemptionService constructs the service.
func NewRedemptionService(
	sessions redemptionSessionReader,
	records attendanceStore,
	enrollments enrollmentChecker,
	lectures lectureReader,
	users ledgerAccountReader,
	dispatcher ledgerDispatcher,
	codec *qrtoken.Codec,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	config RedemptionConfig,
) *RedemptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if codec == nil {
		codec = qrtoken.NewCodec()
	}
	return &RedemptionService{
		sessions:    sessions,
		records:     records,
		enrollments: enrollments,
		lectures:    lectures,
		users:       users,
		ledger:      dispatcher,
		codec:       codec,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		config:      config,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RedeemByToken records the calling student as present using a scanned QR
// payload. The record is committed before the ledger is contacted, so the
// ledger outcome only changes the verification flag of the result.
func (s *RedemptionService) RedeemByToken(ctx context.Context, req models.RedeemRequest, actor models.Actor) (result *models.RedemptionResult, err error) {
	defer func() { s.metrics.RecordRedemption(redemptionOutcome(err)) }()

	if !actor.CanRedeem() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can redeem attendance codes")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "qr_data is required")
	}

	payload, err := s.codec.Decode(req.QRData, s.config.MaxTokenAge)
	if err != nil {
		s.logger.Debug("rejected attendance token", zap.String("student_id", actor.UserID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, appErrors.ErrInvalidToken.Message)
	}

	session, err := s.sessions.FindActiveByNonce(ctx, payload.LectureID, payload.Nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNoActiveSession
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance session")
	}
	if !session.Redeemable(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "attendance session has expired")
	}

	lecture, err := findLecture(ctx, s.lectures, session.LectureID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureRecordable(ctx, actor.UserID, lecture); err != nil {
		return nil, err
	}

	sessionID := session.ID
	record := &models.AttendanceRecord{
		StudentID:  actor.UserID,
		LectureID:  lecture.ID,
		SessionID:  &sessionID,
		RecordedAt: s.now(),
	}
	if err := s.insert(ctx, record); err != nil {
		return nil, err
	}
	s.logger.Info("attendance redeemed",
		zap.String("record_id", record.ID),
		zap.String("student_id", actor.UserID),
		zap.String("lecture_id", lecture.ID),
		zap.String("session_id", sessionID),
	)

	account := ledgerAccount(ctx, s.users, s.logger, actor.UserID)
	ref := ledgerLectureRef(lecture)
	nonce := session.Nonce
	out := s.dispatchRecord(ctx, ledger.EventMarkAttendance, record, func(ctx context.Context, a ledger.Adapter) (*ledger.Result, error) {
		return a.MarkAttendance(ctx, account, ref, nonce)
	})

	return &models.RedemptionResult{
		Success:        true,
		Message:        ledgerMessage(out),
		RecordID:       record.ID,
		LectureID:      lecture.ID,
		LectureTitle:   lecture.Title,
		CourseName:     lecture.CourseName,
		LedgerVerified: record.LedgerVerified,
		LedgerReceipt:  record.LedgerReceipt,
	}, nil
}

// RedeemManually records a student chosen by the lecture's teacher.
func (s *RedemptionService) RedeemManually(ctx context.Context, lectureID string, req models.ManualAttendanceRequest, actor models.Actor) (*models.RedemptionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "student_id is required")
	}
	lecture, err := findManagedLecture(ctx, s.lectures, lectureID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.ensureRecordable(ctx, req.StudentID, lecture); err != nil {
		return nil, err
	}

	record := &models.AttendanceRecord{StudentID: req.StudentID, LectureID: lecture.ID, RecordedAt: s.now()}
	if err := s.insert(ctx, record); err != nil {
		return nil, err
	}
	s.metrics.RecordRedemption("manual")
	s.logger.Info("attendance recorded manually",
		zap.String("record_id", record.ID),
		zap.String("student_id", req.StudentID),
		zap.String("lecture_id", lecture.ID),
		zap.String("actor_id", actor.UserID),
	)

	teacherAccount := ledgerAccount(ctx, s.users, s.logger, actor.UserID)
	studentAccount := ledgerAccount(ctx, s.users, s.logger, req.StudentID)
	ref := ledgerLectureRef(lecture)
	out := s.dispatchRecord(ctx, ledger.EventManualMark, record, func(ctx context.Context, a ledger.Adapter) (*ledger.Result, error) {
		return a.ManualMark(ctx, teacherAccount, ref, studentAccount)
	})

	return &models.RedemptionResult{
		Success:        true,
		Message:        ledgerMessage(out),
		RecordID:       record.ID,
		LectureID:      lecture.ID,
		LectureTitle:   lecture.Title,
		CourseName:     lecture.CourseName,
		LedgerVerified: record.LedgerVerified,
		LedgerReceipt:  record.LedgerReceipt,
	}, nil
}

// SyncManual makes the recorded students of a lecture exactly the given set.
// Either every change applies or none does. Ledger events for new records are
// queued after the commit.
func (s *RedemptionService) SyncManual(ctx context.Context, lectureID string, req models.SyncManualAttendanceRequest, actor models.Actor) (*models.SyncResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "student_ids must not contain empty values")
	}
	lecture, err := findManagedLecture(ctx, s.lectures, lectureID, actor)
	if err != nil {
		return nil, err
	}

	keep := uniqueIDs(req.StudentIDs)
	if len(keep) > 0 {
		enrolled, err := s.enrollments.EnrolledAmong(ctx, lecture.CourseID, keep)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollments")
		}
		var missing []string
		for _, id := range keep {
			if !enrolled[id] {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "students not enrolled in this course: "+strings.Join(missing, ", "))
		}
	}

	outcome, err := s.records.SyncLecture(ctx, lecture.ID, keep)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sync attendance")
	}
	s.logger.Info("manual attendance synced",
		zap.String("lecture_id", lecture.ID),
		zap.String("actor_id", actor.UserID),
		zap.Int("removed", len(outcome.Removed)),
		zap.Int("created", len(outcome.Created)),
	)

	result := &models.SyncResult{
		Removed:   nonNil(outcome.Removed),
		Created:   make([]string, 0, len(outcome.Created)),
		Unchanged: nonNil(outcome.Unchanged),
	}
	teacherAccount := ledgerAccount(ctx, s.users, s.logger, actor.UserID)
	ref := ledgerLectureRef(lecture)
	for i := range outcome.Created {
		created := outcome.Created[i]
		result.Created = append(result.Created, created.StudentID)
		s.metrics.RecordRedemption("manual")
		s.queueManualMark(ctx, teacherAccount, ref, created)
	}

	details, err := s.records.ListByLecture(ctx, lecture.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	result.Records = make([]models.AttendanceRecord, 0, len(details))
	for _, d := range details {
		result.Records = append(result.Records, d.AttendanceRecord)
	}
	return result, nil
}

func (s *RedemptionService) queueManualMark(ctx context.Context, teacherAccount, ref string, record models.AttendanceRecord) {
	if s.ledger == nil {
		return
	}
	studentAccount := ledgerAccount(ctx, s.users, s.logger, record.StudentID)
	recordID := record.ID
	err := s.ledger.Submit(ctx, ledger.EventManualMark, func(ctx context.Context, a ledger.Adapter) (*ledger.Result, error) {
		return a.ManualMark(ctx, teacherAccount, ref, studentAccount)
	}, func(out ledger.Outcome) {
		if !out.Verified() {
			s.logger.Warn("ledger manual mark failed", zap.String("record_id", recordID), zap.Error(out.Err))
			return
		}
		s.attachReceipt(context.Background(), recordID, out.Result)
	})
	if err != nil {
		s.logger.Warn("queue ledger manual mark failed", zap.String("record_id", recordID), zap.Error(err))
	}
}

// ListForLecture returns the records of a lecture for its teacher.
func (s *RedemptionService) ListForLecture(ctx context.Context, lectureID string, actor models.Actor) ([]models.AttendanceRecordDetail, error) {
	if _, err := findManagedLecture(ctx, s.lectures, lectureID, actor); err != nil {
		return nil, err
	}
	records, err := s.records.ListByLecture(ctx, lectureID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, nil
}

// ListMine returns the calling student's records.
func (s *RedemptionService) ListMine(ctx context.Context, actor models.Actor) ([]models.AttendanceRecordDetail, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students have personal attendance")
	}
	records, err := s.records.ListByStudent(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, nil
}

func (s *RedemptionService) ensureRecordable(ctx context.Context, studentID string, lecture *models.LectureDetail) error {
	exists, err := s.records.Exists(ctx, studentID, lecture.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attendance")
	}
	if exists {
		return appErrors.ErrAlreadyRecorded
	}
	enrolled, err := s.enrollments.IsEnrolled(ctx, studentID, lecture.CourseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return appErrors.ErrNotEnrolled
	}
	return nil
}

func (s *RedemptionService) insert(ctx context.Context, record *models.AttendanceRecord) error {
	created, err := s.records.Create(ctx, record)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}
	if !created {
		return appErrors.ErrAlreadyRecorded
	}
	return nil
}

// dispatchRecord sends a ledger event for a committed record and stamps the
// record when the ledger confirms within the wait.
func (s *RedemptionService) dispatchRecord(ctx context.Context, event ledger.Event, record *models.AttendanceRecord, call ledger.Call) ledger.Outcome {
	if s.ledger == nil {
		return ledger.Outcome{Err: ledger.ErrUnavailable}
	}
	recordID := record.ID
	out := s.ledger.Dispatch(ctx, event, call, func(late ledger.Outcome) {
		if late.Verified() {
			s.attachReceipt(context.Background(), recordID, late.Result)
		}
	})
	if !out.Verified() {
		s.logger.Warn("ledger recording not confirmed",
			zap.String("event", string(event)),
			zap.String("record_id", recordID),
			zap.Bool("timed_out", out.TimedOut),
			zap.Error(out.Err),
		)
		return out
	}
	if s.attachReceipt(ctx, recordID, out.Result) {
		record.LedgerVerified = true
		record.LedgerReceipt = out.Result.ReceiptRef()
	}
	return out
}

func (s *RedemptionService) attachReceipt(ctx context.Context, recordID string, result *ledger.Result) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.records.AttachReceipt(ctx, recordID, result.ReceiptRef()); err != nil {
		s.logger.Warn("attach ledger receipt failed", zap.String("record_id", recordID), zap.Error(err))
		return false
	}
	return true
}

func ledgerMessage(out ledger.Outcome) string {
	switch {
	case out.Verified():
		return messageLedgerRecorded
	case out.TimedOut:
		return messageLedgerPending
	default:
		return messageLedgerFailed
	}
}

func redemptionOutcome(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(appErrors.FromError(err).Code)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
