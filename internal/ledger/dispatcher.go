package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
	"github.com/noah-isme/lumina-attendance-api/pkg/jobs"
)

// ErrResponseTimeout is reported when the caller stopped waiting for the
// ledger. The call itself may still complete later.
var ErrResponseTimeout = errors.New("ledger response wait exceeded")

const (
	taskPending int32 = iota
	taskDelivered
	taskAbandoned
)

// Outcome labels used for metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// Call performs one ledger operation.
type Call func(ctx context.Context, adapter Adapter) (*Result, error)

// Outcome is what a dispatch produced.
type Outcome struct {
	Result   *Result
	Err      error
	TimedOut bool
}

// Verified reports whether the ledger acknowledged the event.
func (o Outcome) Verified() bool {
	return o.Err == nil && !o.TimedOut
}

// Recorder receives per-call metrics.
type Recorder interface {
	ObserveLedgerCall(event, outcome string, elapsed time.Duration)
}

// DispatcherConfig bounds ledger calls.
type DispatcherConfig struct {
	Workers      int
	BufferSize   int
	CallTimeout  time.Duration
	ResponseWait time.Duration
}

type task struct {
	event    Event
	call     Call
	state    atomic.Int32
	detached bool
	done     chan Outcome
	late     func(Outcome)
}

// Dispatcher runs ledger calls on a worker pool so that request handlers
// wait at most ResponseWait for an answer.
type Dispatcher struct {
	adapter  Adapter
	queue    *jobs.Queue
	timeout  time.Duration
	wait     time.Duration
	recorder Recorder
	logger   *zap.Logger

	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	late      atomic.Int64
}

// NewDispatcher wires the dispatcher to its worker queue.
func NewDispatcher(adapter Adapter, cfg DispatcherConfig, recorder Recorder, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ResponseWait <= 0 {
		cfg.ResponseWait = 3 * time.Second
	}
	d := &Dispatcher{
		adapter:  adapter,
		timeout:  cfg.CallTimeout,
		wait:     cfg.ResponseWait,
		recorder: recorder,
		logger:   logger,
	}
	d.queue = jobs.NewQueue("ledger", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return d
}

// Adapter exposes the underlying adapter for direct, synchronous use.
func (d *Dispatcher) Adapter() Adapter {
	return d.adapter
}

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for in-flight calls and drops queued ones.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

// Dispatch runs call and waits up to the response window. When the window
// elapses first, the returned outcome is TimedOut and late, if non-nil,
// receives the real outcome once the call finishes.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event, call Call, late func(Outcome)) Outcome {
	d.attempted.Add(1)
	t := &task{event: event, call: call, done: make(chan Outcome, 1), late: late}

	waitCtx, cancel := context.WithTimeout(ctx, d.wait)
	defer cancel()

	if err := d.queue.Enqueue(waitCtx, jobs.Job{ID: uuid.NewString(), Type: string(event), Payload: t}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.timedOut.Add(1)
			return Outcome{Err: ErrResponseTimeout, TimedOut: true}
		}
		d.failed.Add(1)
		return Outcome{Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	select {
	case out := <-t.done:
		return out
	case <-waitCtx.Done():
		if t.state.CompareAndSwap(taskPending, taskAbandoned) {
			d.timedOut.Add(1)
			d.logger.Warn("ledger response wait exceeded", zap.String("event", string(event)), zap.Duration("wait", d.wait))
			return Outcome{Err: ErrResponseTimeout, TimedOut: true}
		}
		return <-t.done
	}
}

// Submit queues call without waiting, not even for a free buffer slot: with
// the backlog full the event is dropped and counted as failed. done, if
// non-nil, receives the outcome from the worker.
func (d *Dispatcher) Submit(ctx context.Context, event Event, call Call, done func(Outcome)) error {
	d.attempted.Add(1)
	if err := ctx.Err(); err != nil {
		d.failed.Add(1)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	t := &task{event: event, call: call, detached: true, late: done}
	if err := d.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: string(event), Payload: t}); err != nil {
		d.failed.Add(1)
		if errors.Is(err, jobs.ErrQueueFull) {
			d.logger.Warn("ledger backlog full, event dropped", zap.String("event", string(event)), zap.Int("queued", d.queue.Len()))
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Snapshot returns call counters since start and the current backlog.
func (d *Dispatcher) Snapshot() models.LedgerCallStats {
	return models.LedgerCallStats{
		Attempted: d.attempted.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		TimedOut:  d.timedOut.Load(),
		Late:      d.late.Load(),
		Queued:    d.queue.Len(),
	}
}

// handle never returns an error so failed ledger calls are not retried.
func (d *Dispatcher) handle(ctx context.Context, job jobs.Job) error {
	t, ok := job.Payload.(*task)
	if !ok {
		d.logger.Error("unexpected ledger job payload", zap.String("job_id", job.ID))
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	start := time.Now()
	result, err := d.invoke(callCtx, t)
	elapsed := time.Since(start)
	cancel()

	label := OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		label = OutcomeTimeout
		err = fmt.Errorf("%w: %s timed out after %s", ErrUnavailable, t.event, d.timeout)
	default:
		label = OutcomeFailure
	}
	if d.recorder != nil {
		d.recorder.ObserveLedgerCall(string(t.event), label, elapsed)
	}
	out := Outcome{Result: result, Err: err}

	if t.detached {
		d.count(err)
		if t.late != nil {
			t.late(out)
		}
		return nil
	}
	if t.state.CompareAndSwap(taskPending, taskDelivered) {
		d.count(err)
		t.done <- out
		return nil
	}

	// The caller already gave up; count the real outcome as late only.
	if err == nil {
		d.late.Add(1)
	} else {
		d.logger.Warn("ledger call failed", zap.String("event", string(t.event)), zap.Error(err))
	}
	if t.late != nil {
		t.late(out)
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, t *task) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrUnavailable, t.event, r)
		}
	}()
	return t.call(ctx, d.adapter)
}

func (d *Dispatcher) count(err error) {
	if err == nil {
		d.succeeded.Add(1)
		return
	}
	d.failed.Add(1)
	d.logger.Warn("ledger call failed", zap.Error(err))
}
