package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
)

type stubAdapter struct{}

func (stubAdapter) RegisterLecture(context.Context, string, string) (*Result, error) {
	return &Result{}, nil
}
func (stubAdapter) StartSession(context.Context, string, string, time.Duration) (*Result, error) {
	return &Result{}, nil
}
func (stubAdapter) MarkAttendance(context.Context, string, string, string) (*Result, error) {
	return &Result{}, nil
}
func (stubAdapter) ManualMark(context.Context, string, string, string) (*Result, error) {
	return &Result{}, nil
}
func (stubAdapter) CloseSession(context.Context, string, string) (*Result, error) {
	return &Result{}, nil
}
func (stubAdapter) Health(context.Context) models.LedgerStatus { return models.LedgerStatus{} }

type recordedCall struct {
	event   string
	outcome string
}

type recorderStub struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *recorderStub) ObserveLedgerCall(event, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{event, outcome})
}

func (r *recorderStub) snapshot() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func newTestDispatcher(t *testing.T, cfg DispatcherConfig) (*Dispatcher, *recorderStub) {
	recorder := &recorderStub{}
	d := NewDispatcher(stubAdapter{}, cfg, recorder, nil)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d, recorder
}

func TestDispatcherSuccess(t *testing.T) {
	d, recorder := newTestDispatcher(t, DispatcherConfig{Workers: 2, ResponseWait: time.Second})

	out := d.Dispatch(context.Background(), EventMarkAttendance, func(ctx context.Context, a Adapter) (*Result, error) {
		return &Result{Receipt: "tx-1"}, nil
	}, nil)

	assert.True(t, out.Verified())
	assert.Equal(t, "tx-1", out.Result.Receipt)
	assert.Equal(t, []recordedCall{{"mark_attendance", OutcomeSuccess}}, recorder.snapshot())
	assert.Equal(t, models.LedgerCallStats{Attempted: 1, Succeeded: 1}, d.Snapshot())
}

func TestDispatcherFailureIsNotRetried(t *testing.T) {
	d, _ := newTestDispatcher(t, DispatcherConfig{ResponseWait: time.Second})

	calls := 0
	out := d.Dispatch(context.Background(), EventStartSession, func(ctx context.Context, a Adapter) (*Result, error) {
		calls++
		return nil, ErrUnavailable
	}, nil)

	assert.False(t, out.Verified())
	assert.False(t, out.TimedOut)
	assert.ErrorIs(t, out.Err, ErrUnavailable)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), d.Snapshot().Failed)
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d, _ := newTestDispatcher(t, DispatcherConfig{ResponseWait: time.Second})

	out := d.Dispatch(context.Background(), EventCloseSession, func(ctx context.Context, a Adapter) (*Result, error) {
		panic("adapter bug")
	}, nil)
	assert.ErrorIs(t, out.Err, ErrUnavailable)
}

func TestDispatcherTimeoutThenLateSuccess(t *testing.T) {
	d, _ := newTestDispatcher(t, DispatcherConfig{ResponseWait: 20 * time.Millisecond, CallTimeout: time.Second})

	release := make(chan struct{})
	lateCh := make(chan Outcome, 1)
	out := d.Dispatch(context.Background(), EventMarkAttendance, func(ctx context.Context, a Adapter) (*Result, error) {
		<-release
		return &Result{Receipt: "tx-late"}, nil
	}, func(o Outcome) { lateCh <- o })

	require.True(t, out.TimedOut)
	assert.ErrorIs(t, out.Err, ErrResponseTimeout)
	assert.False(t, out.Verified())

	close(release)
	select {
	case late := <-lateCh:
		require.NoError(t, late.Err)
		assert.Equal(t, "tx-late", late.Result.Receipt)
	case <-time.After(time.Second):
		t.Fatal("late outcome not delivered")
	}
	stats := d.Snapshot()
	assert.Equal(t, int64(1), stats.TimedOut)
	assert.Equal(t, int64(1), stats.Late)
}

func TestDispatcherCallTimeout(t *testing.T) {
	d, recorder := newTestDispatcher(t, DispatcherConfig{ResponseWait: time.Second, CallTimeout: 20 * time.Millisecond})

	out := d.Dispatch(context.Background(), EventStartSession, func(ctx context.Context, a Adapter) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)

	assert.ErrorIs(t, out.Err, ErrUnavailable)
	assert.False(t, out.TimedOut)
	assert.Equal(t, []recordedCall{{"start_session", OutcomeTimeout}}, recorder.snapshot())
}

func TestDispatcherSubmit(t *testing.T) {
	d, _ := newTestDispatcher(t, DispatcherConfig{})

	done := make(chan Outcome, 1)
	err := d.Submit(context.Background(), EventManualMark, func(ctx context.Context, a Adapter) (*Result, error) {
		return a.ManualMark(ctx, "tch-1", "lec-1", "stu-1")
	}, func(o Outcome) { done <- o })
	require.NoError(t, err)

	select {
	case out := <-done:
		assert.NoError(t, out.Err)
	case <-time.After(time.Second):
		t.Fatal("submit outcome not delivered")
	}
	assert.Eventually(t, func() bool { return d.Snapshot().Succeeded == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcherNotStarted(t *testing.T) {
	d := NewDispatcher(stubAdapter{}, DispatcherConfig{}, nil, nil)

	out := d.Dispatch(context.Background(), EventMarkAttendance, func(ctx context.Context, a Adapter) (*Result, error) {
		return &Result{}, nil
	}, nil)
	assert.ErrorIs(t, out.Err, ErrUnavailable)
	assert.True(t, errors.Is(d.Submit(context.Background(), EventCloseSession, nil, nil), ErrUnavailable))
}

func TestDispatcherSubmitDoesNotWaitOnFullBacklog(t *testing.T) {
	d, _ := newTestDispatcher(t, DispatcherConfig{Workers: 1, BufferSize: 1, CallTimeout: time.Second})

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	hang := func(ctx context.Context, a Adapter) (*Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, ErrUnavailable
	}

	require.NoError(t, d.Submit(context.Background(), EventManualMark, hang, nil))
	require.Eventually(t, func() bool { return d.Snapshot().Queued == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Submit(context.Background(), EventManualMark, hang, nil))

	start := time.Now()
	var dropped int
	for i := 0; i < 4; i++ {
		if err := d.Submit(context.Background(), EventManualMark, hang, nil); err != nil {
			assert.ErrorIs(t, err, ErrUnavailable)
			dropped++
		}
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 4, dropped)

	stats := d.Snapshot()
	assert.Equal(t, int64(6), stats.Attempted)
	assert.Equal(t, int64(4), stats.Failed)
}
