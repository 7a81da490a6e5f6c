// Package ledger talks to the external attendance ledger and runs those
// calls off the request path.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
)

// ErrUnavailable is wrapped by every failed ledger call.
var ErrUnavailable = errors.New("ledger unavailable")

// Event names a ledger operation.
type Event string

const (
	EventRegisterLecture Event = "register_lecture"
	EventStartSession    Event = "start_session"
	EventMarkAttendance  Event = "mark_attendance"
	EventManualMark      Event = "manual_mark"
	EventCloseSession    Event = "close_session"
)

// Result is what the ledger returns for an accepted event. Every field is
// optional.
type Result struct {
	Receipt   string `json:"receipt,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	LectureID string `json:"lecture_ref,omitempty"`
	Message   string `json:"message,omitempty"`
	Simulated bool   `json:"-"`
}

// ReceiptRef returns the receipt as a nullable column value.
func (r *Result) ReceiptRef() *string {
	if r == nil || r.Receipt == "" {
		return nil
	}
	receipt := r.Receipt
	return &receipt
}

// Adapter records attendance facts on the ledger. account identifies the
// ledger identity acting on behalf of the caller.
type Adapter interface {
	RegisterLecture(ctx context.Context, account, lectureID string) (*Result, error)
	StartSession(ctx context.Context, account, lectureID string, duration time.Duration) (*Result, error)
	MarkAttendance(ctx context.Context, account, lectureID, nonce string) (*Result, error)
	ManualMark(ctx context.Context, account, lectureID, studentAccount string) (*Result, error)
	CloseSession(ctx context.Context, account, lectureID string) (*Result, error)
	Health(ctx context.Context) models.LedgerStatus
}
