//go:build !windows

package proc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mustLaunch(t *testing.T, spec Spec) *Process {
	t.Helper()
	p, err := NewLauncher(nil).Launch(spec)
	if err != nil {
		t.Fatalf("Launch(%s): %v", spec.Name, err)
	}
	t.Cleanup(func() { _ = p.Terminate(time.Second) })
	return p
}

func TestLaunchMissingBinaryIsLaunchFailure(t *testing.T) {
	_, err := NewLauncher(nil).Launch(Spec{Name: "ghost", Path: "/nonexistent/bin/ghost"})
	if !IsLaunchFailure(err) {
		t.Fatalf("want LaunchError, got %v", err)
	}
	var le *LaunchError
	if !errors.As(err, &le) || le.Name != "ghost" {
		t.Fatalf("launch error should name the process: %+v", le)
	}
}

func TestLaunchRejectsEmptySpec(t *testing.T) {
	l := NewLauncher(nil)
	if _, err := l.Launch(Spec{Path: "/bin/true"}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("empty name: %v", err)
	}
	if _, err := l.Launch(Spec{Name: "x"}); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("empty path: %v", err)
	}
}

func TestStartReturnsUntypedNilOnFailure(t *testing.T) {
	h, err := NewLauncher(nil).Start(Spec{Name: "ghost", Path: "/nonexistent/ghost"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if h != nil {
		t.Fatalf("handle should be nil interface, got %#v", h)
	}
}

func TestVerifyLiveProcess(t *testing.T) {
	p := mustLaunch(t, Spec{Name: "sleeper", Path: "sh", Args: []string{"-c", "sleep 5"}})
	if err := NewLauncher(nil).Verify(p, 100*time.Millisecond); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !p.Alive() || p.PID() <= 0 {
		t.Fatalf("expected live process with pid, got alive=%v pid=%d", p.Alive(), p.PID())
	}
}

func TestVerifyEarlyExitIsStartupFailure(t *testing.T) {
	p := mustLaunch(t, Spec{Name: "crasher", Path: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})
	err := NewLauncher(nil).Verify(p, 2*time.Second)
	if !IsStartupFailure(err) {
		t.Fatalf("want StartupError, got %v", err)
	}
	var se *StartupError
	errors.As(err, &se)
	if !strings.Contains(se.StderrTail, "boom") {
		t.Fatalf("stderr tail missing output: %q", se.StderrTail)
	}
	if se.ExitErr == nil {
		t.Fatalf("expected exit error for status 3")
	}
}

func TestTerminateStopsProcessAndIsIdempotent(t *testing.T) {
	p := mustLaunch(t, Spec{Name: "sleeper", Path: "sh", Args: []string{"-c", "sleep 30"}})
	start := time.Now()
	if err := p.Terminate(3 * time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if p.Alive() {
		t.Fatalf("process still alive after Terminate")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("terminate took too long: %s", time.Since(start))
	}
	if err := p.Terminate(time.Second); err != nil {
		t.Fatalf("second Terminate should be a no-op, got %v", err)
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	p := mustLaunch(t, Spec{Name: "stubborn", Path: "sh", Args: []string{"-c", "trap '' TERM; sleep 30"}})
	// let the shell install its trap
	time.Sleep(200 * time.Millisecond)
	if err := p.Terminate(500 * time.Millisecond); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if p.Alive() {
		t.Fatalf("process survived SIGKILL")
	}
}

func TestTerminateAlreadyExited(t *testing.T) {
	p := mustLaunch(t, Spec{Name: "oneshot", Path: "sh", Args: []string{"-c", "exit 0"}})
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit")
	}
	err := p.Terminate(time.Second)
	if !IsShutdownError(err) || !errors.Is(err, ErrAlreadyExited) {
		t.Fatalf("want ShutdownError(ErrAlreadyExited), got %v", err)
	}
}

func TestLaunchWritesLogFilesAndEnv(t *testing.T) {
	dir := t.TempDir()
	p := mustLaunch(t, Spec{
		Name:   "echoer",
		Path:   "sh",
		Args:   []string{"-c", "echo \"level=$LOG_LEVEL\"; echo oops >&2"},
		Env:    map[string]string{"LOG_LEVEL": "debug"},
		LogDir: dir,
	})
	<-p.Exited()
	out, err := os.ReadFile(filepath.Join(dir, "echoer-stdout.log"))
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if !strings.Contains(string(out), "level=debug") {
		t.Fatalf("stdout log = %q", out)
	}
	errOut, err := os.ReadFile(filepath.Join(dir, "echoer-stderr.log"))
	if err != nil {
		t.Fatalf("read stderr log: %v", err)
	}
	if !strings.Contains(string(errOut), "oops") || !strings.Contains(p.StderrTail(), "oops") {
		t.Fatalf("stderr log = %q tail = %q", errOut, p.StderrTail())
	}
}

func TestVerifySeesExitWhileChildKeepsStreams(t *testing.T) {
	for _, tc := range []struct {
		name   string
		logDir string
	}{
		{"inherited", ""},
		{"logfiles", t.TempDir()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := mustLaunch(t, Spec{
				Name:   "forker-" + tc.name,
				Path:   "sh",
				Args:   []string{"-c", "sleep 5 & echo parent gone >&2; exit 3"},
				LogDir: tc.logDir,
			})
			time.Sleep(300 * time.Millisecond)
			err := NewLauncher(nil).Verify(p, 2*time.Second)
			if !IsStartupFailure(err) {
				t.Fatalf("want StartupError for reaped parent, got %v (alive=%v)", err, p.Alive())
			}
			var se *StartupError
			errors.As(err, &se)
			if se.ExitErr == nil || !strings.Contains(se.StderrTail, "parent gone") {
				t.Fatalf("exit=%v tail=%q", se.ExitErr, se.StderrTail)
			}
		})
	}
}

func TestStderrTailSkipsEarlierRuns(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "again-stderr.log"), []byte("old run\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := mustLaunch(t, Spec{Name: "again", Path: "sh", Args: []string{"-c", "echo new run >&2"}, LogDir: dir})
	<-p.Exited()
	if got := p.StderrTail(); got != "new run\n" {
		t.Fatalf("tail = %q", got)
	}
}

func TestMergeEnvOverridesAndSorts(t *testing.T) {
	got := mergeEnv([]string{"A=1", "PATH=/bin", "B=2"}, map[string]string{"B": "x", "Z": "9", "C": "3"})
	want := []string{"A=1", "PATH=/bin", "B=x", "C=3", "Z=9"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("mergeEnv = %v, want %v", got, want)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tb := newTailBuffer(5)
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg"))
	if got := tb.String(); got != "cdefg" {
		t.Fatalf("tail = %q", got)
	}
	_, _ = tb.Write([]byte("0123456789"))
	if got := tb.String(); got != "56789" {
		t.Fatalf("tail = %q", got)
	}
}
