package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
)

// HTTPConfig configures the gateway client. An empty BaseURL puts the
// adapter in simulated mode.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPAdapter posts ledger events to an HTTP gateway as JSON.
type HTTPAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

type eventRequest struct {
	Event           Event  `json:"event"`
	Account         string `json:"account"`
	LectureID       string `json:"lecture_id"`
	Nonce           string `json:"nonce,omitempty"`
	StudentAccount  string `json:"student_account,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
}

type eventResponse struct {
	Result
	Status string `json:"status"`
	Error  string `json:"error"`
}

// NewHTTPAdapter builds the adapter.
func NewHTTPAdapter(cfg HTTPConfig, logger *zap.Logger) *HTTPAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPAdapter{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Simulated reports whether calls are acknowledged locally.
func (a *HTTPAdapter) Simulated() bool {
	return a.baseURL == ""
}

// RegisterLecture announces a lecture and returns its ledger reference.
func (a *HTTPAdapter) RegisterLecture(ctx context.Context, account, lectureID string) (*Result, error) {
	return a.send(ctx, eventRequest{Event: EventRegisterLecture, Account: account, LectureID: lectureID})
}

// StartSession opens an attendance window on the ledger. The ledger may
// answer with the nonce to embed in QR codes.
func (a *HTTPAdapter) StartSession(ctx context.Context, account, lectureID string, duration time.Duration) (*Result, error) {
	return a.send(ctx, eventRequest{
		Event:           EventStartSession,
		Account:         account,
		LectureID:       lectureID,
		DurationSeconds: int64(duration / time.Second),
	})
}

// MarkAttendance records a QR redemption.
func (a *HTTPAdapter) MarkAttendance(ctx context.Context, account, lectureID, nonce string) (*Result, error) {
	return a.send(ctx, eventRequest{Event: EventMarkAttendance, Account: account, LectureID: lectureID, Nonce: nonce})
}

// ManualMark records attendance entered by a teacher.
func (a *HTTPAdapter) ManualMark(ctx context.Context, account, lectureID, studentAccount string) (*Result, error) {
	return a.send(ctx, eventRequest{Event: EventManualMark, Account: account, LectureID: lectureID, StudentAccount: studentAccount})
}

// CloseSession ends the attendance window on the ledger.
func (a *HTTPAdapter) CloseSession(ctx context.Context, account, lectureID string) (*Result, error) {
	return a.send(ctx, eventRequest{Event: EventCloseSession, Account: account, LectureID: lectureID})
}

// Health probes the gateway.
func (a *HTTPAdapter) Health(ctx context.Context) models.LedgerStatus {
	if a.Simulated() {
		return models.LedgerStatus{Simulated: true, Message: "no ledger endpoint configured"}
	}
	status := models.LedgerStatus{Endpoint: a.baseURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		status.Message = err.Error()
		return status
	}
	a.authorize(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		status.Message = fmt.Sprintf("ledger unreachable: %v", err)
		return status
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status.Message = fmt.Sprintf("ledger health returned %d", resp.StatusCode)
		return status
	}
	status.Connected = true
	status.Message = "connected"
	return status
}

func (a *HTTPAdapter) send(ctx context.Context, payload eventRequest) (*Result, error) {
	if a.Simulated() {
		return &Result{Simulated: true, Message: fmt.Sprintf("%s for %s (simulated)", payload.Event, payload.LectureID)}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode ledger event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, payload.Event, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrUnavailable, payload.Event, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, payload.Event, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var decoded eventResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, payload.Event, err)
		}
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("%w: %s rejected: %s", ErrUnavailable, payload.Event, decoded.Error)
	}

	a.logger.Debug("ledger event accepted",
		zap.String("event", string(payload.Event)),
		zap.String("lecture_id", payload.LectureID),
		zap.String("receipt", decoded.Receipt),
	)
	result := decoded.Result
	return &result, nil
}

func (a *HTTPAdapter) authorize(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}
