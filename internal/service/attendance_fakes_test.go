package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lumina-attendance-api/internal/ledger"
	"github.com/noah-isme/lumina-attendance-api/internal/models"
	"github.com/noah-isme/lumina-attendance-api/internal/repository"
)

// The fakes below enforce the same uniqueness rules as the schema so that
// concurrency properties can be exercised without a database.

type fakeLectures struct {
	mu       sync.Mutex
	lectures map[string]models.LectureDetail
}

func newFakeLectures(lectures ...models.LectureDetail) *fakeLectures {
	f := &fakeLectures{lectures: make(map[string]models.LectureDetail)}
	for _, l := range lectures {
		f.lectures[l.ID] = l
	}
	return f
}

func (f *fakeLectures) FindDetailByID(ctx context.Context, id string) (*models.LectureDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lectures[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &l, nil
}

func (f *fakeLectures) SetLedgerID(ctx context.Context, id, ledgerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lectures[id]
	if !ok {
		return sql.ErrNoRows
	}
	l.LedgerLectureID = &ledgerID
	f.lectures[id] = l
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]models.AttendanceSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]models.AttendanceSession)}
}

func (f *fakeSessions) Create(ctx context.Context, session *models.AttendanceSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.LectureID == session.LectureID && s.IsActive {
			return repository.ErrUniqueViolation
		}
	}
	f.seq++
	session.ID = fmt.Sprintf("session-%d", f.seq)
	f.sessions[session.ID] = *session
	return nil
}

func (f *fakeSessions) put(session models.AttendanceSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
}

func (f *fakeSessions) get(id string) models.AttendanceSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

func (f *fakeSessions) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f *fakeSessions) FindActiveByLecture(ctx context.Context, lectureID string) (*models.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.LectureID == lectureID && s.IsActive {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSessions) FindActiveByNonce(ctx context.Context, lectureID, nonce string) (*models.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.LectureID == lectureID && s.Nonce == nonce && s.IsActive {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSessions) ListByLecture(ctx context.Context, lectureID string) ([]models.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AttendanceSession
	for _, s := range f.sessions {
		if s.LectureID == lectureID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (f *fakeSessions) ReplaceNonce(ctx context.Context, id, nonce string) error {
	return f.update(id, func(s *models.AttendanceSession) { s.Nonce = nonce; s.LedgerVerified = true })
}

func (f *fakeSessions) MarkVerified(ctx context.Context, id string) error {
	return f.update(id, func(s *models.AttendanceSession) { s.LedgerVerified = true })
}

func (f *fakeSessions) update(id string, fn func(*models.AttendanceSession)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	fn(&s)
	f.sessions[id] = s
	return nil
}

func (f *fakeSessions) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) (*models.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || !s.IsActive {
		return nil, sql.ErrNoRows
	}
	s.ExpiresAt = expiresAt
	f.sessions[id] = s
	return &s, nil
}

func (f *fakeSessions) Close(ctx context.Context, id string, closedAt time.Time) (*models.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || !s.IsActive {
		return nil, sql.ErrNoRows
	}
	s.IsActive = false
	if closedAt.Before(s.ExpiresAt) {
		s.ExpiresAt = closedAt
	}
	f.sessions[id] = s
	return &s, nil
}

type fakeRecords struct {
	mu       sync.Mutex
	seq      int
	records  map[string]models.AttendanceRecord
	syncErr  error
	syncHook func()
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]models.AttendanceRecord)}
}

func recordKey(studentID, lectureID string) string {
	return studentID + "|" + lectureID
}

func (f *fakeRecords) Exists(ctx context.Context, studentID, lectureID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[recordKey(studentID, lectureID)]
	return ok, nil
}

func (f *fakeRecords) Create(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(record), nil
}

func (f *fakeRecords) insertLocked(record *models.AttendanceRecord) bool {
	key := recordKey(record.StudentID, record.LectureID)
	if _, ok := f.records[key]; ok {
		return false
	}
	f.seq++
	record.ID = fmt.Sprintf("record-%d", f.seq)
	f.records[key] = *record
	return true
}

func (f *fakeRecords) AttachReceipt(ctx context.Context, id string, receipt *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, r := range f.records {
		if r.ID == id {
			r.LedgerVerified = true
			if receipt != nil {
				r.LedgerReceipt = receipt
			}
			f.records[key] = r
			return nil
		}
	}
	return nil
}

func (f *fakeRecords) SyncLecture(ctx context.Context, lectureID string, studentIDs []string) (*repository.AttendanceSyncOutcome, error) {
	if f.syncHook != nil {
		f.syncHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	keep := make(map[string]bool, len(studentIDs))
	for _, id := range studentIDs {
		keep[id] = true
	}
	outcome := &repository.AttendanceSyncOutcome{}
	for key, r := range f.records {
		if r.LectureID == lectureID && !keep[r.StudentID] {
			delete(f.records, key)
			outcome.Removed = append(outcome.Removed, r.StudentID)
		}
	}
	sort.Strings(outcome.Removed)
	for _, id := range studentIDs {
		record := models.AttendanceRecord{StudentID: id, LectureID: lectureID, RecordedAt: time.Now().UTC()}
		if f.insertLocked(&record) {
			outcome.Created = append(outcome.Created, record)
		} else {
			outcome.Unchanged = append(outcome.Unchanged, id)
		}
	}
	return outcome, nil
}

func (f *fakeRecords) ListByLecture(ctx context.Context, lectureID string) ([]models.AttendanceRecordDetail, error) {
	return f.list(func(r models.AttendanceRecord) bool { return r.LectureID == lectureID }), nil
}

func (f *fakeRecords) ListByStudent(ctx context.Context, studentID string) ([]models.AttendanceRecordDetail, error) {
	return f.list(func(r models.AttendanceRecord) bool { return r.StudentID == studentID }), nil
}

func (f *fakeRecords) ListRecentVerified(ctx context.Context, limit int) ([]models.AttendanceRecordDetail, error) {
	out := f.list(func(r models.AttendanceRecord) bool { return r.LedgerVerified })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRecords) list(match func(models.AttendanceRecord) bool) []models.AttendanceRecordDetail {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AttendanceRecordDetail
	for _, r := range f.records {
		if match(r) {
			out = append(out, models.AttendanceRecordDetail{AttendanceRecord: r})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

func (f *fakeRecords) find(studentID, lectureID string) (models.AttendanceRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[recordKey(studentID, lectureID)]
	return r, ok
}

func (f *fakeRecords) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeEnrollments struct {
	byCourse map[string]map[string]bool
}

func newFakeEnrollments(courseID string, students ...string) *fakeEnrollments {
	set := make(map[string]bool, len(students))
	for _, s := range students {
		set[s] = true
	}
	return &fakeEnrollments{byCourse: map[string]map[string]bool{courseID: set}}
}

func (f *fakeEnrollments) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	return f.byCourse[courseID][studentID], nil
}

func (f *fakeEnrollments) EnrolledAmong(ctx context.Context, courseID string, studentIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range studentIDs {
		if f.byCourse[courseID][id] {
			out[id] = true
		}
	}
	return out, nil
}

type fakeAccounts struct{}

func (fakeAccounts) FindLedgerAccount(ctx context.Context, id string) (string, error) {
	return "acct-" + id, nil
}

// fakeLedger is a configurable ledger.Adapter. A non-nil block channel holds
// every call until it is closed.
type fakeLedger struct {
	err     error
	nonce   string
	receipt string
	ref     string
	block   chan struct{}

	mu     sync.Mutex
	events []ledger.Event
	closes atomic.Int32
}

func (f *fakeLedger) record(ctx context.Context, event ledger.Event) (*ledger.Result, error) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.Result{Receipt: f.receipt, Nonce: f.nonce, LectureID: f.ref}, nil
}

func (f *fakeLedger) RegisterLecture(ctx context.Context, account, lectureID string) (*ledger.Result, error) {
	return f.record(ctx, ledger.EventRegisterLecture)
}

func (f *fakeLedger) StartSession(ctx context.Context, account, lectureID string, duration time.Duration) (*ledger.Result, error) {
	return f.record(ctx, ledger.EventStartSession)
}

func (f *fakeLedger) MarkAttendance(ctx context.Context, account, lectureID, nonce string) (*ledger.Result, error) {
	return f.record(ctx, ledger.EventMarkAttendance)
}

func (f *fakeLedger) ManualMark(ctx context.Context, account, lectureID, studentAccount string) (*ledger.Result, error) {
	return f.record(ctx, ledger.EventManualMark)
}

func (f *fakeLedger) CloseSession(ctx context.Context, account, lectureID string) (*ledger.Result, error) {
	f.closes.Add(1)
	return f.record(ctx, ledger.EventCloseSession)
}

func (f *fakeLedger) Health(ctx context.Context) models.LedgerStatus {
	if f.err != nil {
		return models.LedgerStatus{Message: f.err.Error()}
	}
	return models.LedgerStatus{Connected: true, Endpoint: "fake"}
}

func (f *fakeLedger) calls(event ledger.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

var errLedgerDown = errors.New("ledger gateway down")

func newTestDispatcher(t *testing.T, adapter ledger.Adapter, wait time.Duration) *ledger.Dispatcher {
	t.Helper()
	d := ledger.NewDispatcher(adapter, ledger.DispatcherConfig{
		Workers:      4,
		BufferSize:   128,
		CallTimeout:  2 * time.Second,
		ResponseWait: wait,
	}, nil, nil)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

const (
	testCourseID  = "course-1"
	testLectureID = "lecture-1"
	testTeacherID = "teacher-1"
)

func testLecture() models.LectureDetail {
	return models.LectureDetail{
		Lecture:    models.Lecture{ID: testLectureID, CourseID: testCourseID, Title: "Distributed Systems 3"},
		CourseCode: "CS401",
		CourseName: "Distributed Systems",
		TeacherID:  testTeacherID,
	}
}

var (
	teacherActor = models.Actor{UserID: testTeacherID, Role: models.RoleTeacher}
	adminActor   = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
	otherTeacher = models.Actor{UserID: "teacher-2", Role: models.RoleTeacher}
)

func studentActor(id string) models.Actor {
	return models.Actor{UserID: id, Role: models.RoleStudent}
}

func requireEventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}
