package proc

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// DefaultStopTimeout bounds Terminate when the caller passes no timeout.
const DefaultStopTimeout = 10 * time.Second

// termGracePeriod is how long a process gets after SIGTERM before SIGKILL.
// It is capped at the overall stop timeout.
const termGracePeriod = 5 * time.Second

// killDrainTimeout bounds the wait for the exit status after SIGKILL.
const killDrainTimeout = 5 * time.Second

// Handle is the view of a launched process the supervisor works with.
type Handle interface {
	Name() string
	PID() int
	StartedAt() time.Time
	Alive() bool
	Exited() <-chan struct{}
	Terminate(timeout time.Duration) error
}

// Process is a launched, tracked child process.
type Process struct {
	name      string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	logs      *logFiles
	tail      *tailBuffer

	exited  chan struct{} // closed after cmd.Wait returns
	waitErr error         // valid once exited is closed

	mu         sync.Mutex
	terminated bool
}

var _ Handle = (*Process)(nil)

func (p *Process) Name() string            { return p.name }
func (p *Process) PID() int                { return p.pid }
func (p *Process) StartedAt() time.Time    { return p.startedAt }
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Alive reports whether the process has not exited yet.
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ExitErr returns the cmd.Wait result, or nil while the process runs.
func (p *Process) ExitErr() error {
	if p.Alive() {
		return nil
	}
	return p.waitErr
}

// StderrTail returns the last few KiB the process wrote to stderr.
func (p *Process) StderrTail() string {
	if p.tail != nil {
		return p.tail.String()
	}
	return readFileTail(p.logs.stderrPath, p.logs.stderrStart, stderrTailBytes)
}

// Terminate stops the process: SIGTERM to its process group, SIGKILL after a
// grace period, giving up after timeout. Only the first call does anything;
// later calls return nil. A process that already exited yields a
// ShutdownError wrapping ErrAlreadyExited.
func (p *Process) Terminate(timeout time.Duration) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil
	}
	p.terminated = true
	p.mu.Unlock()
	defer p.logs.Close()

	if !p.Alive() {
		return &ShutdownError{Name: p.name, Err: ErrAlreadyExited}
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	if err := signalProcess(p.cmd, syscall.SIGTERM); err != nil {
		// Raced with exit: the group is gone already.
		if !p.waitExited(killDrainTimeout) {
			return fmt.Errorf("%s (pid %d): signal failed and process did not exit: %w", p.name, p.pid, err)
		}
		return &ShutdownError{Name: p.name, Err: ErrAlreadyExited}
	}

	killTimer := time.AfterFunc(min(termGracePeriod, timeout), func() {
		_ = signalProcess(p.cmd, syscall.SIGKILL)
	})
	defer killTimer.Stop()

	total := time.NewTimer(timeout)
	defer total.Stop()
	select {
	case <-p.exited:
		return nil
	case <-total.C:
		_ = signalProcess(p.cmd, syscall.SIGKILL)
		if p.waitExited(killDrainTimeout) {
			return nil
		}
		return fmt.Errorf("%s (pid %d) did not exit within %s", p.name, p.pid, timeout+killDrainTimeout)
	}
}

func (p *Process) waitExited(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.exited:
		return true
	case <-t.C:
		return false
	}
}

// logFiles holds per-process stdout/stderr files. Zero value means the
// process inherits the orchestrator's streams.
type logFiles struct {
	mu     sync.Mutex
	stdout *os.File
	stderr *os.File

	// stderrStart is the stderr log size at launch; output before it belongs
	// to earlier runs.
	stderrPath  string
	stderrStart int64
}

func openLogFiles(dir, name string) (*logFiles, error) {
	if dir == "" {
		return &logFiles{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	const flags = os.O_CREATE | os.O_APPEND | os.O_WRONLY
	stdout, err := os.OpenFile(filepath.Join(dir, name+"-stdout.log"), flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stdout log: %w", err)
	}
	stderrPath := filepath.Join(dir, name+"-stderr.log")
	stderr, err := os.OpenFile(stderrPath, flags, 0o644)
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("open stderr log: %w", err)
	}
	var start int64
	if fi, err := stderr.Stat(); err == nil {
		start = fi.Size()
	}
	return &logFiles{stdout: stdout, stderr: stderr, stderrPath: stderrPath, stderrStart: start}, nil
}

func (l *logFiles) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stdout != nil {
		_ = l.stdout.Close()
		l.stdout = nil
	}
	if l.stderr != nil {
		_ = l.stderr.Close()
		l.stderr = nil
	}
}
