package process

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/pmgr/internal/detector"
	"github.com/loykin/pmgr/internal/registry"
)

func TestTerminate_NotRunning(t *testing.T) {
	out, err := Terminator{}.Terminate(context.Background(), detector.Identity{PID: 0})
	if err != nil || out != NotRunning {
		t.Fatalf("got %v %v, want NotRunning", out, err)
	}
}

func TestTerminate_Graceful(t *testing.T) {
	requireUnix(t)
	l := newLauncher(t)
	rec, err := l.Launch(registry.Record{Name: "sleeper", Command: "sleep 30", WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	id := detector.Identity{PID: rec.PID, StartUnix: rec.StartUnix}
	start := time.Now()
	out, err := Terminator{GracePeriod: 3 * time.Second}.Terminate(context.Background(), id)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if out != Graceful {
		t.Fatalf("outcome = %v, want Graceful", out)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("graceful stop took %v", time.Since(start))
	}
	if id.Alive() {
		t.Fatalf("process still alive")
	}
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	requireUnix(t)
	l := newLauncher(t)
	rec, err := l.Launch(registry.Record{Name: "stubborn", Command: `sh -c 'trap "" TERM; while :; do sleep 1; done'`, WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	// let the shell install its trap
	time.Sleep(200 * time.Millisecond)
	id := detector.Identity{PID: rec.PID, StartUnix: rec.StartUnix}
	start := time.Now()
	out, err := Terminator{GracePeriod: 300 * time.Millisecond, KillWait: 2 * time.Second}.Terminate(context.Background(), id)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if out != Killed {
		t.Fatalf("outcome = %v, want Killed", out)
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Fatalf("returned before the grace period elapsed")
	}
	if id.Alive() {
		t.Fatalf("process survived SIGKILL")
	}
}

func TestTerminate_CancelEscalatesImmediately(t *testing.T) {
	requireUnix(t)
	l := newLauncher(t)
	rec, err := l.Launch(registry.Record{Name: "stubborn2", Command: `sh -c 'trap "" TERM; while :; do sleep 1; done'`, WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	out, err := Terminator{GracePeriod: time.Minute}.Terminate(ctx, detector.Identity{PID: rec.PID, StartUnix: rec.StartUnix})
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if out != Killed || time.Since(start) > 5*time.Second {
		t.Fatalf("outcome %v after %v", out, time.Since(start))
	}
}

func TestTerminate_ReusedPIDIsNotSignalled(t *testing.T) {
	requireUnix(t)
	l := newLauncher(t)
	rec, err := l.Launch(registry.Record{Name: "innocent", Command: "sleep 30", WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	killOnCleanup(t, rec.PID)
	if rec.StartUnix == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	stale := detector.Identity{PID: rec.PID, StartUnix: rec.StartUnix - 3600}
	out, err := Terminator{}.Terminate(context.Background(), stale)
	if err != nil || out != NotRunning {
		t.Fatalf("got %v %v, want NotRunning", out, err)
	}
	if !detector.Alive(rec.PID) {
		t.Fatalf("unrelated process was signalled")
	}
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{NotRunning: "not running", Graceful: "stopped", Killed: "killed"} {
		if o.String() != want {
			t.Errorf("%d.String() = %q", int(o), o.String())
		}
	}
}
