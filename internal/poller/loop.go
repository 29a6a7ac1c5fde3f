package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jpalmerr/unipoll/internal/controller"
	"github.com/jpalmerr/unipoll/internal/inventory"
	"github.com/jpalmerr/unipoll/internal/metrics"
)

// ErrCycleInFlight is reported by [Loop.PollOnce] when another cycle is
// already running.
var ErrCycleInFlight = errors.New("poll cycle already in flight")

// State is the poll loop's position in its cycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Source produces one complete inventory snapshot per call.
// [*inventory.Fetcher] satisfies it.
type Source interface {
	Collect(ctx context.Context) (inventory.Snapshot, error)
}

// Sink receives successful snapshots. [*metrics.Sink] satisfies it.
type Sink interface {
	Replace(snap inventory.Snapshot)
}

// CycleResult describes one completed poll cycle.
type CycleResult struct {
	// ID correlates the cycle's log lines.
	ID string

	// State is StateSuccess or StateFailed.
	State State

	Devices int
	Clients int
	Sites   int
	Skipped inventory.Skipped

	// Err is the cause of a failed cycle and ErrKind its classification
	// (see [controller.Kind]).
	Err     error
	ErrKind string

	StartedAt time.Time
	Duration  time.Duration
}

// Option configures a [Loop].
type Option func(*Loop)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithMetrics records cycle outcomes into m.
func WithMetrics(m *metrics.PollMetrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithObserver calls fn synchronously after every cycle, before the loop
// returns to idle. fn must not block for long.
func WithObserver(fn func(CycleResult)) Option {
	return func(l *Loop) { l.observer = fn }
}

// Loop polls a [Source] on a fixed interval and hands successful snapshots
// to a [Sink].
//
// The loop polls immediately on start, then on every tick. At most one
// cycle is ever in flight: a tick that arrives while a cycle is running is
// dropped and counted, never queued. A failed cycle leaves the sink
// untouched; no error stops the loop, and there is no backoff beyond the
// interval itself.
//
// Cycles run on a context detached from the one passed to [Loop.Start], so
// stopping the loop lets an in-flight cycle finish or time out on its own.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Loop struct {
	source   Source
	sink     Sink
	interval time.Duration
	logger   zerolog.Logger
	clock    Clock
	metrics  *metrics.PollMetrics
	observer func(CycleResult)

	state    atomic.Int32
	inFlight atomic.Bool
	last     atomic.Pointer[CycleResult]

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a poll loop. It does nothing until [Loop.Start] is called.
func New(source Source, sink Sink, interval time.Duration, logger zerolog.Logger, opts ...Option) *Loop {
	l := &Loop{
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Logger(),
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the loop's current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// LastResult returns the most recent completed cycle. The boolean is false
// until the first cycle finishes.
func (l *Loop) LastResult() (CycleResult, bool) {
	r := l.last.Load()
	if r == nil {
		return CycleResult{}, false
	}
	return *r, true
}

// Start begins polling in a background goroutine and returns immediately.
//
// If ctx is nil, context.Background() is used. Start is idempotent; calls
// after the first are no-ops, as is Start after Stop.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()

		l.trigger(ctx)

		ticker := l.clock.Ticker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				l.trigger(ctx)
			}
		}
	}()
}

// Stop halts the ticker and waits for an in-flight cycle to complete.
// Stop is idempotent and safe to call before Start.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		if l.cancel != nil {
			l.cancel()
		}
	}
	l.mu.Unlock()

	l.wg.Wait()
}

// PollOnce runs one cycle synchronously and returns its result. If a cycle
// is already in flight it returns immediately with [ErrCycleInFlight].
func (l *Loop) PollOnce(ctx context.Context) CycleResult {
	if !l.inFlight.CompareAndSwap(false, true) {
		return CycleResult{State: StateFailed, Err: ErrCycleInFlight, ErrKind: controller.KindOther}
	}
	defer l.inFlight.Store(false)

	return l.cycle(ctx)
}

// trigger starts a cycle in the background unless one is already running.
func (l *Loop) trigger(ctx context.Context) {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.metrics.ObserveSkipped()
		l.logger.Warn().
			Dur("interval", l.interval).
			Msg("previous poll still running, skipping tick")
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.inFlight.Store(false)

		l.cycle(context.WithoutCancel(ctx))
	}()
}

// cycle runs one Polling -> {Success, Failed} -> Idle pass.
func (l *Loop) cycle(ctx context.Context) CycleResult {
	id := uuid.NewString()
	logger := l.logger.With().Str("cycle_id", id).Logger()
	start := l.clock.Now()

	l.state.Store(int32(StatePolling))
	logger.Debug().Msg("poll cycle started")

	snap, err := l.collect(ctx, id)
	elapsed := l.clock.Now().Sub(start)

	result := CycleResult{
		ID:        id,
		StartedAt: start,
		Duration:  elapsed,
	}

	if err != nil {
		result.State = StateFailed
		result.Err = err
		result.ErrKind = controller.Kind(err)

		l.metrics.ObserveFailure(elapsed, result.ErrKind)
		logger.Error().
			Err(err).
			Str("kind", result.ErrKind).
			Dur("duration", elapsed).
			Msg("poll cycle failed, keeping previous snapshot")
	} else {
		l.sink.Replace(snap)

		result.State = StateSuccess
		result.Devices = len(snap.Devices)
		result.Clients = len(snap.Clients)
		result.Sites = snap.Sites.Count
		result.Skipped = snap.Skipped

		l.metrics.ObserveSuccess(elapsed, l.clock.Now())
		logger.Info().
			Int("devices", result.Devices).
			Int("clients", result.Clients).
			Int("sites", result.Sites).
			Dur("duration", elapsed).
			Msg("poll cycle completed")
		if n := snap.Skipped.Devices + snap.Skipped.Clients + snap.Skipped.Sites; n > 0 {
			logger.Warn().
				Int("devices", snap.Skipped.Devices).
				Int("clients", snap.Skipped.Clients).
				Int("sites", snap.Skipped.Sites).
				Msg("malformed records skipped")
		}
	}

	l.state.Store(int32(result.State))
	l.last.Store(&result)
	if l.observer != nil {
		l.observer(result)
	}
	l.state.Store(int32(StateIdle))

	return result
}

// collect calls the source with panic recovery. A panic is logged with its
// stack under a correlation ID and reported as an error carrying that ID.
func (l *Loop) collect(ctx context.Context, cycleID string) (snap inventory.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()

			l.logger.Error().
				Str("correlation_id", correlationID).
				Str("cycle_id", cycleID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("poll cycle panic")

			snap = inventory.Snapshot{}
			err = fmt.Errorf("poll cycle panic (correlation_id: %s)", correlationID)
		}
	}()
	return l.source.Collect(ctx)
}
