package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/pmgr/internal/detector"
	"github.com/loykin/pmgr/internal/history"
	"github.com/loykin/pmgr/internal/logs"
	"github.com/loykin/pmgr/internal/process"
	"github.com/loykin/pmgr/internal/registry"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix process groups and signals")
	}
}

// MockSink records history events for assertions.
type MockSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (s *MockSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *MockSink) Types() []history.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	m         *Manager
	home      string
	storePath string
	sink      *MockSink
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	requireUnix(t)
	home := t.TempDir()
	storePath := filepath.Join(home, "processes.json")
	st, err := registry.NewFileStore(storePath)
	require.NoError(t, err)
	lm, err := logs.New(filepath.Join(home, "logs"))
	require.NoError(t, err)
	sink := &MockSink{}
	opts := Options{
		Store:        st,
		Logs:         lm,
		Terminator:   process.Terminator{GracePeriod: 2 * time.Second, KillWait: 2 * time.Second, PollInterval: 20 * time.Millisecond},
		RestartDelay: 50 * time.Millisecond,
		History:      []history.Sink{sink},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = m.StopAll(context.Background())
		_ = m.Close()
	})
	return &fixture{m: m, home: home, storePath: storePath, sink: sink}
}

func (f *fixture) start(t *testing.T, name, command string, args ...string) registry.Record {
	t.Helper()
	rec, err := f.m.Start(context.Background(), process.Spec{Name: name, Command: command, Args: args, WorkDir: f.home})
	require.NoError(t, err)
	return rec
}

func alive(r registry.Record) bool {
	return detector.Identity{PID: r.PID, StartUnix: r.StartUnix}.Alive()
}

func TestStart_CreatesRunningRecord(t *testing.T) {
	f := newFixture(t)
	before := time.Now().Add(-time.Second)
	rec := f.start(t, "web", "sleep", "30")

	assert.Equal(t, registry.StatusRunning, rec.Status)
	assert.NotZero(t, rec.PID)
	assert.NotEmpty(t, rec.InstanceID)
	assert.Equal(t, 1, rec.Generation)
	assert.True(t, rec.StartTime.After(before))
	assert.True(t, alive(rec))

	got, err := f.m.Get(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, rec.PID, got.PID)
	assert.Equal(t, f.home, got.WorkDir)
	assert.Equal(t, []history.EventType{history.EventStart}, f.sink.Types())
}

func TestStart_AlreadyRunningLeavesDocumentUnchanged(t *testing.T) {
	f := newFixture(t)
	f.start(t, "web", "sleep", "30")
	before, err := os.ReadFile(f.storePath)
	require.NoError(t, err)

	_, err = f.m.Start(context.Background(), process.Spec{Name: "web", Command: "sleep 60", WorkDir: f.home})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	after, err := os.ReadFile(f.storePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStart_ReusesStoppedName(t *testing.T) {
	f := newFixture(t)
	first := f.start(t, "job", "sleep", "30")
	_, err := f.m.Stop(context.Background(), "job")
	require.NoError(t, err)

	second := f.start(t, "job", "sleep", "30")
	assert.NotEqual(t, first.InstanceID, second.InstanceID)
	assert.Equal(t, 2, second.Generation)
}

func TestStart_InvalidSpec(t *testing.T) {
	f := newFixture(t)
	for _, spec := range []process.Spec{
		{Name: "", Command: "sleep 1"},
		{Name: "../escape", Command: "sleep 1"},
		{Name: "ok", Command: "  "},
	} {
		_, err := f.m.Start(context.Background(), spec)
		assert.ErrorIs(t, err, ErrInvalid, "spec %+v", spec)
	}
	_, err := os.Stat(f.storePath)
	assert.True(t, os.IsNotExist(err), "invalid specs must not touch the registry")
}

func TestStart_SpawnFailureIsPersisted(t *testing.T) {
	f := newFixture(t)
	missing := filepath.Join(f.home, "does-not-exist")
	rec, err := f.m.Start(context.Background(), process.Spec{Name: "broken", Command: "sleep 1", WorkDir: missing})
	var se *process.SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, registry.StatusErrored, rec.Status)

	got, err := f.m.Get(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusErrored, got.Status)
	assert.Zero(t, got.PID)
	assert.NotEmpty(t, got.LastError)
	assert.Equal(t, []history.EventType{history.EventSpawnError}, f.sink.Types())

	lines, err := f.m.Logs("broken", 10)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(lines, "\n"), "Failed to start")
}

func TestStop_ErroredRecordBecomesStopped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.m.Start(ctx, process.Spec{Name: "broken", Command: "/nonexistent/bin"})
	require.Error(t, err)
	got, err := f.m.Get(ctx, "broken")
	require.NoError(t, err)
	require.Equal(t, registry.StatusErrored, got.Status)

	out, err := f.m.Stop(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, process.NotRunning, out)

	got, err = f.m.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusStopped, got.Status)
	assert.Zero(t, got.PID)

	removed, err := f.m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, removed)
}

func TestStop_GracefulThenIdempotent(t *testing.T) {
	f := newFixture(t)
	rec := f.start(t, "web", "sleep", "30")

	out, err := f.m.Stop(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, process.Graceful, out)
	assert.False(t, alive(rec))

	got, err := f.m.Get(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusStopped, got.Status)
	assert.Zero(t, got.PID)

	out, err = f.m.Stop(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, process.NotRunning, out)
	assert.Equal(t, []history.EventType{history.EventStart, history.EventStop}, f.sink.Types())
}

func TestStop_EscalatesToKill(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Terminator.GracePeriod = 300 * time.Millisecond
	})
	rec := f.start(t, "stubborn", `sh -c 'trap "" TERM; while :; do sleep 1; done'`)
	// let the shell install its trap
	time.Sleep(200 * time.Millisecond)

	out, err := f.m.Stop(context.Background(), "stubborn")
	require.NoError(t, err)
	assert.Equal(t, process.Killed, out)
	assert.False(t, alive(rec))

	got, err := f.m.Get(context.Background(), "stubborn")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusStopped, got.Status)
	assert.Contains(t, f.sink.Types(), history.EventKill)
}

func TestUnknownName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.m.Stop(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.m.Delete(ctx, "ghost"), ErrNotFound)
	_, err = f.m.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.m.Logs("ghost", 5)
	assert.ErrorIs(t, err, logs.ErrNoLogs)
}

func TestRestart_UnknownMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.start(t, "web", "sleep", "30")
	before, err := os.ReadFile(f.storePath)
	require.NoError(t, err)

	_, err = f.m.Restart(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	after, err := os.ReadFile(f.storePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRestart_RelaunchesWithResetCount(t *testing.T) {
	f := newFixture(t)
	old := f.start(t, "web", "sleep", "30")

	rec, err := f.m.Restart(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRunning, rec.Status)
	assert.NotEqual(t, old.PID, rec.PID)
	assert.Equal(t, 2, rec.Generation)
	assert.Zero(t, rec.RestartCount)
	assert.False(t, rec.LastRestartTime.IsZero())
	assert.False(t, alive(old))
	assert.True(t, alive(rec))
	assert.Equal(t, []history.EventType{history.EventStart, history.EventStop, history.EventRestart}, f.sink.Types())
}

func TestRestart_StoppedRecordLaunchesDirectly(t *testing.T) {
	f := newFixture(t)
	f.start(t, "web", "sleep", "30")
	_, err := f.m.Stop(context.Background(), "web")
	require.NoError(t, err)

	rec, err := f.m.Restart(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRunning, rec.Status)
	assert.True(t, alive(rec))
}

func TestDelete_StopsAndForgets(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RemoveLogsOnDelete = true })
	rec := f.start(t, "web", "sleep", "30")

	require.NoError(t, f.m.Delete(context.Background(), "web"))
	assert.False(t, alive(rec))

	recs, err := f.m.List(context.Background())
	require.NoError(t, err)
	for _, r := range recs {
		assert.NotEqual(t, "web", r.Name)
	}
	_, err = f.m.Logs("web", 5)
	assert.ErrorIs(t, err, logs.ErrNoLogs)
	assert.Equal(t, []history.EventType{history.EventStart, history.EventStop, history.EventDelete}, f.sink.Types())
}

func TestDelete_KeepsLogsByDefault(t *testing.T) {
	f := newFixture(t)
	f.start(t, "web", "sleep", "30")
	require.NoError(t, f.m.Delete(context.Background(), "web"))
	lines, err := f.m.Logs("web", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, lines)
}

func TestList_ReconcilesExitedProcess(t *testing.T) {
	f := newFixture(t)
	f.start(t, "oneshot", "true")

	require.Eventually(t, func() bool {
		recs, err := f.m.List(context.Background())
		if err != nil || len(recs) != 1 {
			return false
		}
		return recs[0].Status == registry.StatusStopped && recs[0].PID == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestList_ReconcilesReusedPID(t *testing.T) {
	f := newFixture(t)
	self := detector.Capture(os.Getpid())
	require.NotZero(t, self.StartUnix)

	err := f.m.store.Update(context.Background(), func(reg registry.Registry) error {
		reg.Put(&registry.Record{Name: "recycled", Command: "x", PID: self.PID, StartUnix: self.StartUnix - 3600, Status: registry.StatusRunning})
		reg.Put(&registry.Record{Name: "vanished", Command: "x", Status: registry.StatusRunning})
		reg.Put(&registry.Record{Name: "failed", Command: "x", Status: registry.StatusErrored, LastError: "boom"})
		return nil
	})
	require.NoError(t, err)

	recs, err := f.m.List(context.Background())
	require.NoError(t, err)
	byName := map[string]registry.Record{}
	for _, r := range recs {
		byName[r.Name] = r
	}
	assert.Equal(t, registry.StatusStopped, byName["recycled"].Status)
	assert.Zero(t, byName["recycled"].PID)
	assert.Equal(t, registry.StatusStopped, byName["vanished"].Status)
	assert.Equal(t, registry.StatusErrored, byName["failed"].Status)
	assert.Equal(t, "boom", byName["failed"].LastError)
}

func TestList_PIDSetIffAlive(t *testing.T) {
	f := newFixture(t)
	f.start(t, "a", "sleep", "30")
	f.start(t, "b", "true")
	f.start(t, "c", "sleep", "30")
	_, err := f.m.Stop(context.Background(), "c")
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	recs, err := f.m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, alive(r), r.PID != 0, "record %s", r.Name)
	}
}

func TestCleanup_RemovesOnlyStopped(t *testing.T) {
	f := newFixture(t)
	live := f.start(t, "live", "sleep", "30")
	err := f.m.store.Update(context.Background(), func(reg registry.Registry) error {
		reg.Put(&registry.Record{Name: "done", Command: "x", Status: registry.StatusStopped})
		reg.Put(&registry.Record{Name: "lost", Command: "x", Status: registry.StatusRunning})
		reg.Put(&registry.Record{Name: "failed", Command: "x", Status: registry.StatusErrored})
		return nil
	})
	require.NoError(t, err)

	removed, err := f.m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"done", "lost"}, removed)

	recs, err := f.m.List(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"failed", "live"}, names)
	assert.True(t, alive(live))

	removed, err = f.m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)
	var started []registry.Record
	for _, n := range []string{"a", "b", "c"} {
		started = append(started, f.start(t, n, "sleep", "30"))
	}
	f.start(t, "d", "true")

	begin := time.Now()
	results, err := f.m.StopAll(context.Background())
	require.NoError(t, err)
	// parallel termination: far less than three sequential grace periods
	assert.Less(t, time.Since(begin), 4*time.Second)

	stopped := 0
	for _, r := range results {
		if r.Outcome == process.Graceful {
			stopped++
		}
	}
	assert.GreaterOrEqual(t, stopped, 3)
	for _, r := range started {
		assert.False(t, alive(r), "%s still alive", r.Name)
	}
	recs, err := f.m.List(context.Background())
	require.NoError(t, err)
	for _, r := range recs {
		assert.Equal(t, registry.StatusStopped, r.Status)
		assert.Zero(t, r.PID)
	}
}

func TestLogs_CaptureChildOutput(t *testing.T) {
	f := newFixture(t)
	f.start(t, "hello", "echo", "hello from child")

	require.Eventually(t, func() bool {
		lines, err := f.m.Logs("hello", 10)
		return err == nil && strings.Contains(strings.Join(lines, "\n"), "hello from child")
	}, 3*time.Second, 50*time.Millisecond)

	lines, err := f.m.Logs("hello", 50)
	require.NoError(t, err)
	assert.Contains(t, lines[0], "Starting process in")
	assert.Contains(t, strings.Join(lines, "\n"), "Process started with PID:")

	_, err = f.m.Logs("../etc/passwd", 5)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFollow_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.start(t, "ticker", `while :; do echo tick; sleep 0.1; done`)

	ctx, cancel := context.WithCancel(context.Background())
	var buf safeBuffer
	done := make(chan error, 1)
	go func() { done <- f.m.Follow(ctx, "ticker", 5, &buf) }()

	require.Eventually(t, func() bool { return strings.Count(buf.String(), "tick") >= 3 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}

func TestConcurrentStarts(t *testing.T) {
	f := newFixture(t)
	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := "worker-" + string(rune('a'+i))
			_, err := f.m.Start(context.Background(), process.Spec{Name: name, Command: "sleep 30", WorkDir: f.home})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	recs, err := f.m.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, n)
}

func TestHistoryFailureDoesNotFailAction(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("sink down")
	_, err := f.m.Start(context.Background(), process.Spec{Name: "web", Command: "sleep 30", WorkDir: f.home})
	require.NoError(t, err)
	assert.Len(t, f.sink.Types(), 1)
}

func TestMetricsTextfile(t *testing.T) {
	var path string
	f := newFixture(t, func(o *Options) {
		path = filepath.Join(filepath.Dir(o.Logs.Dir), "pmgr.prom")
		o.MetricsTextfile = path
	})
	f.start(t, "web", "sleep", "30")
	_, err := f.m.Start(context.Background(), process.Spec{Name: "web", Command: "sleep 30", WorkDir: f.home})
	require.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = f.m.List(context.Background())
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `pmgr_actions_total{action="start",result="ok"} 1`)
	assert.Contains(t, out, `pmgr_actions_total{action="start",result="error"} 1`)
	assert.Contains(t, out, `pmgr_actions_total{action="list",result="ok"} 1`)
	assert.Contains(t, out, `pmgr_processes{status="running"} 1`)
}

func TestNew_RequiresStoreAndLogs(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	st, err := registry.NewFileStore(filepath.Join(t.TempDir(), "p.json"))
	require.NoError(t, err)
	_, err = New(Options{Store: st})
	assert.Error(t, err)
}

type safeBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
