package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
)

type fakeRedemptionSrv struct {
	redeemReq models.RedeemRequest
	syncReq   models.SyncManualAttendanceRequest
	lastActor models.Actor
	err       error
}

func (f *fakeRedemptionSrv) RedeemByToken(_ context.Context, req models.RedeemRequest, actor models.Actor) (*models.RedemptionResult, error) {
	f.redeemReq, f.lastActor = req, actor
	if f.err != nil {
		return nil, f.err
	}
	return &models.RedemptionResult{Success: true, RecordID: "r-1", Message: "Attendance recorded on ledger", LedgerVerified: true}, nil
}

func (f *fakeRedemptionSrv) RedeemManually(_ context.Context, lectureID string, req models.ManualAttendanceRequest, actor models.Actor) (*models.RedemptionResult, error) {
	f.lastActor = actor
	if f.err != nil {
		return nil, f.err
	}
	return &models.RedemptionResult{Success: true, RecordID: "r-2", LectureID: lectureID}, nil
}

func (f *fakeRedemptionSrv) SyncManual(_ context.Context, lectureID string, req models.SyncManualAttendanceRequest, actor models.Actor) (*models.SyncResult, error) {
	f.syncReq, f.lastActor = req, actor
	if f.err != nil {
		return nil, f.err
	}
	return &models.SyncResult{Removed: []string{"s9"}, Created: req.StudentIDs, Unchanged: []string{}}, nil
}

func (f *fakeRedemptionSrv) ListForLecture(context.Context, string, models.Actor) ([]models.AttendanceRecordDetail, error) {
	return nil, f.err
}

func (f *fakeRedemptionSrv) ListMine(context.Context, models.Actor) ([]models.AttendanceRecordDetail, error) {
	return nil, f.err
}

func TestAttendanceHandlerRedeem(t *testing.T) {
	srv := &fakeRedemptionSrv{}
	h := NewAttendanceHandler(srv)
	c, rec := newContext(http.MethodPost, "/attendance/redeem", map[string]string{"qr_data": `{"l":"1","n":"x"}`}, studentClaims())

	h.Redeem(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"l":"1","n":"x"}`, srv.redeemReq.QRData)
	var result models.RedemptionResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.True(t, result.Success)
	assert.True(t, result.LedgerVerified)
}

func TestAttendanceHandlerRedeemErrorCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appErrors.ErrInvalidToken, http.StatusBadRequest, "INVALID_TOKEN"},
		{appErrors.ErrNoActiveSession, http.StatusNotFound, "NO_ACTIVE_SESSION"},
		{appErrors.ErrAlreadyRecorded, http.StatusConflict, "ALREADY_RECORDED"},
		{appErrors.ErrNotEnrolled, http.StatusForbidden, "NOT_ENROLLED"},
		{appErrors.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := NewAttendanceHandler(&fakeRedemptionSrv{err: tc.err})
			c, rec := newContext(http.MethodPost, "/attendance/redeem", map[string]string{"qr_data": "x"}, studentClaims())

			h.Redeem(c)

			assert.Equal(t, tc.status, rec.Code)
			env := decodeEnvelope(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestAttendanceHandlerSync(t *testing.T) {
	srv := &fakeRedemptionSrv{}
	h := NewAttendanceHandler(srv)
	c, rec := newContext(http.MethodPut, "/lectures/lec-1/attendance", map[string][]string{"student_ids": {"s1", "s2"}}, teacherClaims())
	c.Params = gin.Params{{Key: "id", Value: "lec-1"}}

	h.Sync(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"s1", "s2"}, srv.syncReq.StudentIDs)
	var result models.SyncResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.Equal(t, []string{"s9"}, result.Removed)
}

func TestAttendanceHandlerManualAndLists(t *testing.T) {
	h := NewAttendanceHandler(&fakeRedemptionSrv{})

	c, rec := newContext(http.MethodPost, "/lectures/lec-1/attendance/manual", map[string]string{"student_id": "s1"}, teacherClaims())
	c.Params = gin.Params{{Key: "id", Value: "lec-1"}}
	h.Manual(c)
	assert.Equal(t, http.StatusCreated, rec.Code)

	c, rec = newContext(http.MethodGet, "/attendance/me", nil, studentClaims())
	h.Mine(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", string(decodeEnvelope(t, rec).Data))

	c, rec = newContext(http.MethodGet, "/lectures/lec-1/attendance", nil, teacherClaims())
	c.Params = gin.Params{{Key: "id", Value: "lec-1"}}
	h.ListForLecture(c)
	assert.Equal(t, http.StatusOK, rec.Code)
}
