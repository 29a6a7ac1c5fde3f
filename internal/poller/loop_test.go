package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/jpalmerr/unipoll/internal/controller"
	"github.com/jpalmerr/unipoll/internal/controllertest"
	"github.com/jpalmerr/unipoll/internal/inventory"
	"github.com/jpalmerr/unipoll/internal/metrics"
)

// fakeClock delivers ticks only when the test sends them.
type fakeClock struct {
	ticks chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticks: make(chan time.Time)}
}

func (c *fakeClock) Now() time.Time { return time.Now() }
func (c *fakeClock) Ticker(time.Duration) Ticker { return c }
func (c *fakeClock) Chan() <-chan time.Time { return c.ticks }
func (c *fakeClock) Stop() {}
func (c *fakeClock) tick() { c.ticks <- time.Now() }

// fakeSource returns scripted results and tracks concurrency.
type fakeSource struct {
	mu      sync.Mutex
	results []func(ctx context.Context) (inventory.Snapshot, error)

	calls      atomic.Int32
	active     atomic.Int32
	maxActive  atomic.Int32
	release    chan struct{}
	started    chan struct{}
	ctxErrSeen atomic.Bool
}

func (s *fakeSource) Collect(ctx context.Context) (inventory.Snapshot, error) {
	s.calls.Add(1)
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if ctx.Err() != nil {
		s.ctxErrSeen.Store(true)
	}

	s.mu.Lock()
	var next func(ctx context.Context) (inventory.Snapshot, error)
	if len(s.results) > 0 {
		next = s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
	}
	s.mu.Unlock()

	if next == nil {
		return snapshotWith(1), nil
	}
	return next(ctx)
}

// recordingSink counts replacements.
type recordingSink struct {
	mu       sync.Mutex
	replaced int
	current  inventory.Snapshot
}

func (s *recordingSink) Replace(snap inventory.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced++
	s.current = snap
}

func (s *recordingSink) get() (int, inventory.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced, s.current
}

func snapshotWith(devices int) inventory.Snapshot {
	snap := inventory.Snapshot{CollectedAt: time.Now()}
	for i := 0; i < devices; i++ {
		snap.Devices = append(snap.Devices, inventory.Device{MAC: string(rune('a' + i))})
	}
	return snap
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestLoop_PollsImmediatelyOnStart(t *testing.T) {
	source := &fakeSource{}
	sink := &recordingSink{}
	loop := New(source, sink, time.Hour, zerolog.Nop(), WithClock(newFakeClock()))

	loop.Start(context.Background())
	defer loop.Stop()

	eventually(t, func() bool { n, _ := sink.get(); return n == 1 }, "first poll")

	if got := source.calls.Load(); got != 1 {
		t.Errorf("expected 1 collect call, got %d", got)
	}
}

func TestLoop_PollsOnEveryTick(t *testing.T) {
	source := &fakeSource{}
	sink := &recordingSink{}
	clock := newFakeClock()
	loop := New(source, sink, time.Second, zerolog.Nop(), WithClock(clock))

	loop.Start(context.Background())
	defer loop.Stop()

	eventually(t, func() bool { n, _ := sink.get(); return n == 1 }, "first poll")
	for i := 2; i <= 4; i++ {
		// wait for the previous cycle to clear before ticking again
		eventually(t, func() bool { return !loop.inFlight.Load() }, "cycle to finish")
		clock.tick()
		want := i
		eventually(t, func() bool { n, _ := sink.get(); return n == want }, "tick poll")
	}
}

// TestLoop_NeverOverlaps verifies ticks arriving during a slow cycle are
// skipped rather than queued or run concurrently.
func TestLoop_NeverOverlaps(t *testing.T) {
	source := &fakeSource{
		release: make(chan struct{}),
		started: make(chan struct{}, 10),
	}
	sink := &recordingSink{}
	clock := newFakeClock()
	reg := prometheus.NewRegistry()
	loop := New(source, sink, time.Second, zerolog.Nop(),
		WithClock(clock),
		WithMetrics(metrics.NewPollMetrics(reg)),
	)

	loop.Start(context.Background())
	defer loop.Stop()

	<-source.started
	if loop.State() != StatePolling {
		t.Errorf("expected state polling, got %s", loop.State())
	}

	for i := 0; i < 3; i++ {
		clock.tick()
	}

	expected := `
# HELP unifi_exporter_polls_skipped_total Ticks skipped because the previous poll cycle was still running
# TYPE unifi_exporter_polls_skipped_total counter
unifi_exporter_polls_skipped_total 3
`
	eventually(t, func() bool {
		return testutil.GatherAndCompare(reg, strings.NewReader(expected), "unifi_exporter_polls_skipped_total") == nil
	}, "three skipped ticks")

	if got := source.calls.Load(); got != 1 {
		t.Errorf("expected 1 collect call while in flight, got %d", got)
	}

	close(source.release)
	eventually(t, func() bool { n, _ := sink.get(); return n == 1 }, "cycle to complete")
	eventually(t, func() bool { return !loop.inFlight.Load() }, "cycle to clear")

	clock.tick()
	<-source.started
	eventually(t, func() bool { n, _ := sink.get(); return n == 2 }, "next tick poll")

	if got := source.maxActive.Load(); got != 1 {
		t.Errorf("expected at most 1 concurrent cycle, got %d", got)
	}
}

// TestLoop_FailureLeavesSinkUnchanged verifies a failed cycle never touches
// the sink.
func TestLoop_FailureLeavesSinkUnchanged(t *testing.T) {
	good := snapshotWith(2)
	boom := &controller.TransportError{Method: "GET", URL: "x", Err: errors.New("connection refused")}
	source := &fakeSource{results: []func(context.Context) (inventory.Snapshot, error){
		func(context.Context) (inventory.Snapshot, error) { return good, nil },
		func(context.Context) (inventory.Snapshot, error) { return snapshotWith(5), boom },
	}}
	sink := &recordingSink{}
	loop := New(source, sink, time.Hour, zerolog.Nop())

	first := loop.PollOnce(context.Background())
	if first.State != StateSuccess || first.Devices != 2 {
		t.Fatalf("unexpected first result %+v", first)
	}

	second := loop.PollOnce(context.Background())
	if second.State != StateFailed {
		t.Fatalf("expected failure, got %s", second.State)
	}
	if second.ErrKind != controller.KindTransport {
		t.Errorf("expected kind transport, got %q", second.ErrKind)
	}
	if !errors.Is(second.Err, boom) {
		t.Errorf("expected cause to be preserved, got %v", second.Err)
	}

	n, current := sink.get()
	if n != 1 {
		t.Errorf("expected 1 replacement, got %d", n)
	}
	if len(current.Devices) != 2 {
		t.Errorf("expected previous snapshot with 2 devices, got %d", len(current.Devices))
	}

	last, ok := loop.LastResult()
	if !ok || last.State != StateFailed {
		t.Errorf("expected last result failed, got %+v", last)
	}
}

func TestLoop_ReturnsToIdle(t *testing.T) {
	var observed []State
	var loop *Loop
	loop = New(&fakeSource{}, &recordingSink{}, time.Hour, zerolog.Nop(),
		WithObserver(func(r CycleResult) {
			observed = append(observed, r.State, loop.State())
		}),
	)

	if loop.State() != StateIdle {
		t.Fatalf("expected idle before first cycle, got %s", loop.State())
	}

	loop.PollOnce(context.Background())

	if len(observed) != 2 || observed[0] != StateSuccess || observed[1] != StateSuccess {
		t.Errorf("expected observer to see success, got %v", observed)
	}
	if loop.State() != StateIdle {
		t.Errorf("expected idle after cycle, got %s", loop.State())
	}
}

func TestLoop_PanicInSourceIsRecovered(t *testing.T) {
	source := &fakeSource{results: []func(context.Context) (inventory.Snapshot, error){
		func(context.Context) (inventory.Snapshot, error) { panic("boom") },
	}}
	sink := &recordingSink{}
	loop := New(source, sink, time.Hour, zerolog.Nop())

	result := loop.PollOnce(context.Background())

	if result.State != StateFailed {
		t.Fatalf("expected failure, got %s", result.State)
	}
	if !strings.Contains(result.Err.Error(), "correlation_id") {
		t.Errorf("expected correlation id in error, got %v", result.Err)
	}
	if n, _ := sink.get(); n != 0 {
		t.Errorf("expected sink untouched, got %d replacements", n)
	}
}

func TestLoop_PollOnceWhileInFlight(t *testing.T) {
	loop := New(&fakeSource{}, &recordingSink{}, time.Hour, zerolog.Nop())
	loop.inFlight.Store(true)

	result := loop.PollOnce(context.Background())
	if !errors.Is(result.Err, ErrCycleInFlight) {
		t.Errorf("expected ErrCycleInFlight, got %v", result.Err)
	}
}

// TestLoop_StopWaitsForInFlightCycle verifies Stop neither cancels nor
// abandons a running cycle.
func TestLoop_StopWaitsForInFlightCycle(t *testing.T) {
	source := &fakeSource{
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	sink := &recordingSink{}
	loop := New(source, sink, time.Hour, zerolog.Nop(), WithClock(newFakeClock()))

	loop.Start(context.Background())
	<-source.started

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(source.release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the cycle completed")
	}

	if source.ctxErrSeen.Load() {
		t.Error("cycle context was cancelled by Stop")
	}
	if n, _ := sink.get(); n != 1 {
		t.Errorf("expected the in-flight cycle to complete, got %d replacements", n)
	}
}

func TestLoop_StartStopIdempotent(t *testing.T) {
	loop := New(&fakeSource{}, &recordingSink{}, time.Hour, zerolog.Nop(), WithClock(newFakeClock()))

	loop.Start(context.Background())
	loop.Start(context.Background())

	loop.Stop()
	loop.Stop()

	// Start after Stop is a no-op
	loop.Start(context.Background())
	loop.Stop()
}

func TestLoop_StopBeforeStart(t *testing.T) {
	source := &fakeSource{}
	loop := New(source, &recordingSink{}, time.Hour, zerolog.Nop())

	loop.Stop()
	loop.Start(context.Background())

	if got := source.calls.Load(); got != 0 {
		t.Errorf("expected no polls, got %d", got)
	}
}

// TestLoop_ConcurrentLifecycle exercises Start and Stop from many goroutines
// under the race detector.
func TestLoop_ConcurrentLifecycle(t *testing.T) {
	loop := New(&fakeSource{}, &recordingSink{}, time.Hour, zerolog.Nop(), WithClock(newFakeClock()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			loop.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			loop.Stop()
		}()
	}
	wg.Wait()
	loop.Stop()
}

// TestLoop_RecoversFromExpiredSession drives a real fetcher against the fake
// controller: the first request of a cycle gets a 401, the client logs in
// again, the retry succeeds and the cycle ends in success with the new
// cookie stored.
func TestLoop_RecoversFromExpiredSession(t *testing.T) {
	fake := controllertest.New()
	fake.SetDevices(`[{"_id":"d1","mac":"aa:00:00:00:00:01"}]`)
	srv := fake.Serve()
	defer srv.Close()

	httpClient := controller.NewHTTPClient(true)
	session := controller.NewCookieSession(httpClient, srv.URL, controllertest.DefaultUsername, controllertest.DefaultPassword, 5*time.Second)
	client := controller.NewClient(httpClient, srv.URL, session, 5*time.Second, zerolog.Nop())
	fetcher := inventory.NewFetcher(client, controllertest.DefaultSite, zerolog.Nop())
	sink := metrics.NewSink()
	loop := New(fetcher, sink, time.Hour, zerolog.Nop())

	if r := loop.PollOnce(context.Background()); r.State != StateSuccess {
		t.Fatalf("warm-up cycle failed: %v", r.Err)
	}

	fake.ExpireSessions()

	result := loop.PollOnce(context.Background())
	if result.State != StateSuccess {
		t.Fatalf("expected success after re-authentication, got %v", result.Err)
	}

	issued := fake.IssuedCookies()
	if len(issued) < 2 {
		t.Fatalf("expected a second login, got %d", len(issued))
	}
	cred, ok := session.Current()
	if !ok || !strings.Contains(cred.Value, issued[len(issued)-1]) {
		t.Errorf("expected newest cookie %q to be stored, got %q", issued[len(issued)-1], cred.Value)
	}

	snap, ok := sink.Snapshot()
	if !ok || len(snap.Devices) != 1 {
		t.Errorf("expected sink to hold 1 device, got %+v", snap.Devices)
	}
}

// TestLoop_AuthFailureIsNotFatal verifies an AuthError fails only the cycle.
func TestLoop_AuthFailureIsNotFatal(t *testing.T) {
	fake := controllertest.New()
	srv := fake.Serve()
	defer srv.Close()

	client := controller.NewClient(controller.NewHTTPClient(true), srv.URL,
		controller.NewAPIKeySession("wrong"), 5*time.Second, zerolog.Nop())
	fetcher := inventory.NewFetcher(client, controllertest.DefaultSite, zerolog.Nop())
	sink := metrics.NewSink()
	loop := New(fetcher, sink, time.Hour, zerolog.Nop())

	for i := 0; i < 2; i++ {
		result := loop.PollOnce(context.Background())
		if result.State != StateFailed || result.ErrKind != controller.KindAuth {
			t.Fatalf("cycle %d: expected auth failure, got %s (%v)", i, result.State, result.Err)
		}
	}
	if fake.Logins() != 0 {
		t.Errorf("API-key mode must not log in, got %d", fake.Logins())
	}
	if _, ok := sink.Snapshot(); ok {
		t.Error("expected sink to stay empty")
	}
}
