package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lumina-attendance-api/internal/ledger"
	"github.com/noah-isme/lumina-attendance-api/internal/models"
	"github.com/noah-isme/lumina-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
	"github.com/noah-isme/lumina-attendance-api/pkg/qrtoken"
)

type sessionRepository interface {
	Create(ctx context.Context, session *models.AttendanceSession) error
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	FindActiveByLecture(ctx context.Context, lectureID string) (*models.AttendanceSession, error)
	ListByLecture(ctx context.Context, lectureID string) ([]models.AttendanceSession, error)
	ReplaceNonce(ctx context.Context, id, nonce string) error
	MarkVerified(ctx context.Context, id string) error
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) (*models.AttendanceSession, error)
	Close(ctx context.Context, id string, closedAt time.Time) (*models.AttendanceSession, error)
}

// SessionConfig bounds session durations and lock behaviour.
type SessionConfig struct {
	MinDuration     time.Duration
	MaxDuration     time.Duration
	DefaultDuration time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
}

// SessionService opens, extends and closes attendance sessions.
type SessionService struct {
	sessions  sessionRepository
	lectures  lectureReader
	users     ledgerAccountReader
	ledger    ledgerDispatcher
	codec     *qrtoken.Codec
	locks     *lectureLocks
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    SessionConfig
	now       func() time.Time
}

// NewSessionService constructs the service. locker may be nil.
func NewSessionService(
	sessions sessionRepository,
	lectures lectureReader,
	users ledgerAccountReader,
	dispatcher ledgerDispatcher,
	codec *qrtoken.Codec,
	locker distributedLocker,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	config SessionConfig,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if codec == nil {
		codec = qrtoken.NewCodec()
	}
	if config.MinDuration <= 0 {
		config.MinDuration = time.Minute
	}
	if config.MaxDuration < config.MinDuration {
		config.MaxDuration = 120 * time.Minute
	}
	if config.DefaultDuration < config.MinDuration || config.DefaultDuration > config.MaxDuration {
		config.DefaultDuration = config.MinDuration
	}
	svc := &SessionService{
		sessions:  sessions,
		lectures:  lectures,
		users:     users,
		ledger:    dispatcher,
		codec:     codec,
		locks:     newLectureLocks(locker, config.LockTTL, config.LockWait, logger),
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
	_ = validate.RegisterValidation("session_duration", svc.validateDuration)
	return svc
}

func (s *SessionService) validateDuration(fl validator.FieldLevel) bool {
	d := time.Duration(fl.Field().Int()) * time.Minute
	return d >= s.config.MinDuration && d <= s.config.MaxDuration
}

func (s *SessionService) duration(minutes int) (time.Duration, error) {
	req := models.ExtendSessionRequest{DurationMinutes: minutes}
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status,
			"duration_minutes must be between "+s.config.MinDuration.String()+" and "+s.config.MaxDuration.String())
	}
	return time.Duration(minutes) * time.Minute, nil
}

// Open starts an attendance window for a lecture. The session is committed
// before the ledger is told about it; the ledger answer only decorates it.
func (s *SessionService) Open(ctx context.Context, lectureID string, req models.OpenSessionRequest, actor models.Actor) (*models.ActiveSessionView, error) {
	lecture, err := findManagedLecture(ctx, s.lectures, lectureID, actor)
	if err != nil {
		return nil, err
	}
	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = int(s.config.DefaultDuration / time.Minute)
	}
	duration, err := s.duration(minutes)
	if err != nil {
		return nil, err
	}

	nonce, err := qrtoken.NewNonce()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate session nonce")
	}

	session, err := s.create(ctx, lecture.ID, nonce, duration)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSessionAction("open")
	s.logger.Info("attendance session opened",
		zap.String("session_id", session.ID),
		zap.String("lecture_id", lecture.ID),
		zap.String("actor_id", actor.UserID),
		zap.Duration("duration", duration),
	)

	s.announceStart(ctx, lecture, session, actor, duration)
	return s.view(session)
}

func (s *SessionService) create(ctx context.Context, lectureID, nonce string, duration time.Duration) (*models.AttendanceSession, error) {
	unlock, err := s.locks.lock(ctx, lectureID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.sessions.FindActiveByLecture(ctx, lectureID); err == nil {
		return nil, appErrors.ErrSessionActive
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active session")
	}

	now := s.now()
	session := &models.AttendanceSession{
		LectureID: lectureID,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
		Nonce:     nonce,
		IsActive:  true,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, appErrors.ErrSessionActive
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create attendance session")
	}
	return session, nil
}

// announceStart tells the ledger about a new session. A ledger nonce that
// arrives within the wait replaces the local one; a later answer only marks
// the session verified since its QR code may already be on screen.
func (s *SessionService) announceStart(ctx context.Context, lecture *models.LectureDetail, session *models.AttendanceSession, actor models.Actor, duration time.Duration) {
	if s.ledger == nil {
		return
	}
	account := ledgerAccount(ctx, s.users, s.logger, actor.UserID)
	ref := ledgerLectureRef(lecture)
	sessionID := session.ID

	out := s.ledger.Dispatch(ctx, ledger.EventStartSession, func(ctx context.Context, a ledger.Adapter) (*ledger.Result, error) {
		return a.StartSession(ctx, account, ref, duration)
	}, func(late ledger.Outcome) {
		if !late.Verified() {
			return
		}
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sessions.MarkVerified(bg, sessionID); err != nil {
			s.logger.Warn("mark session verified failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	})
	if !out.Verified() {
		s.logger.Warn("ledger session start not confirmed",
			zap.String("session_id", sessionID),
			zap.Bool("timed_out", out.TimedOut),
			zap.Error(out.Err),
		)
		return
	}

	if out.Result != nil && out.Result.Nonce != "" && out.Result.Nonce != session.Nonce {
		if err := s.sessions.ReplaceNonce(ctx, sessionID, out.Result.Nonce); err != nil {
			s.logger.Warn("store ledger nonce failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		session.Nonce = out.Result.Nonce
	} else if err := s.sessions.MarkVerified(ctx, sessionID); err != nil {
		s.logger.Warn("mark session verified failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	session.LedgerVerified = true
}

// Extend moves the expiry of an active session to now + duration.
func (s *SessionService) Extend(ctx context.Context, sessionID string, req models.ExtendSessionRequest, actor models.Actor) (*models.AttendanceSession, error) {
	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := findManagedLecture(ctx, s.lectures, session.LectureID, actor); err != nil {
		return nil, err
	}
	duration, err := s.duration(req.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "attendance session is closed")
	}

	unlock, err := s.locks.lock(ctx, session.LectureID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := s.sessions.UpdateExpiry(ctx, session.ID, s.now().Add(duration))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "attendance session is closed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to extend attendance session")
	}
	s.metrics.RecordSessionAction("extend")
	s.logger.Info("attendance session extended", zap.String("session_id", session.ID), zap.Time("expires_at", updated.ExpiresAt))
	return updated, nil
}

// Close ends a session. Closing a closed session returns it unchanged.
func (s *SessionService) Close(ctx context.Context, sessionID string, actor models.Actor) (*models.AttendanceSession, error) {
	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	lecture, err := findManagedLecture(ctx, s.lectures, session.LectureID, actor)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return session, nil
	}

	closed, err := s.closeLocked(ctx, session)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSessionAction("close")
	s.logger.Info("attendance session closed", zap.String("session_id", closed.ID), zap.String("actor_id", actor.UserID))

	if closed.LedgerVerified {
		s.announceClose(ctx, lecture, closed, actor)
	}
	return closed, nil
}

func (s *SessionService) closeLocked(ctx context.Context, session *models.AttendanceSession) (*models.AttendanceSession, error) {
	unlock, err := s.locks.lock(ctx, session.LectureID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	closed, err := s.sessions.Close(ctx, session.ID, s.now())
	if err == nil {
		return closed, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		// Someone else closed it first.
		return s.find(ctx, session.ID)
	}
	return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close attendance session")
}

func (s *SessionService) announceClose(ctx context.Context, lecture *models.LectureDetail, session *models.AttendanceSession, actor models.Actor) {
	if s.ledger == nil {
		return
	}
	account := ledgerAccount(ctx, s.users, s.logger, actor.UserID)
	ref := ledgerLectureRef(lecture)
	sessionID := session.ID
	err := s.ledger.Submit(ctx, ledger.EventCloseSession, func(ctx context.Context, a ledger.Adapter) (*ledger.Result, error) {
		return a.CloseSession(ctx, account, ref)
	}, func(out ledger.Outcome) {
		if !out.Verified() {
			s.logger.Warn("ledger session close failed", zap.String("session_id", sessionID), zap.Error(out.Err))
		}
	})
	if err != nil {
		s.logger.Warn("queue ledger session close failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Active returns the running session of a lecture with its QR payload.
func (s *SessionService) Active(ctx context.Context, lectureID string, actor models.Actor) (*models.ActiveSessionView, error) {
	if _, err := findManagedLecture(ctx, s.lectures, lectureID, actor); err != nil {
		return nil, err
	}
	session, err := s.sessions.FindActiveByLecture(ctx, lectureID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNoActiveSession
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
	}
	return s.view(session)
}

// List returns the sessions of a lecture, newest first.
func (s *SessionService) List(ctx context.Context, lectureID string, actor models.Actor) ([]models.AttendanceSession, error) {
	if _, err := findManagedLecture(ctx, s.lectures, lectureID, actor); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListByLecture(ctx, lectureID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance sessions")
	}
	return sessions, nil
}

func (s *SessionService) find(ctx context.Context, sessionID string) (*models.AttendanceSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance session")
	}
	return session, nil
}

func (s *SessionService) view(session *models.AttendanceSession) (*models.ActiveSessionView, error) {
	expiry := session.ExpiresAt
	qr, err := s.codec.Encode(qrtoken.Payload{LectureID: session.LectureID, Nonce: session.Nonce, Expiry: &expiry})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode QR payload")
	}
	remaining := int64(expiry.Sub(s.now()) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return &models.ActiveSessionView{Session: *session, QRData: qr, RemainingSeconds: remaining}, nil
}
