// Package proc launches and supervises long-running child processes: start
// detached, watch for exit, check liveness after a grace period and stop with
// SIGTERM escalating to SIGKILL.
package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"voiceboot/internal/logging"
	"voiceboot/internal/metrics"
)

const stderrTailBytes = 4 << 10

// pipeDrainDelay bounds how long Wait keeps copying stderr after the process
// exited.
const pipeDrainDelay = 500 * time.Millisecond

var (
	ErrEmptyName = errors.New("process name is empty")
	ErrEmptyPath = errors.New("executable path is empty")
)

// Spec describes one managed process.
type Spec struct {
	Name string
	Path string
	Args []string
	Dir  string
	// Env is overlaid on the orchestrator's own environment.
	Env map[string]string
	// LogDir receives <name>-stdout.log and <name>-stderr.log. Empty means
	// the child inherits the orchestrator's stdout and stderr.
	LogDir string
}

// Launcher starts processes and runs post-launch liveness checks.
type Launcher struct {
	Clock  clock.Clock
	Logger *zerolog.Logger
}

// NewLauncher returns a Launcher on the real clock.
func NewLauncher(logger *zerolog.Logger) *Launcher {
	return &Launcher{Clock: clock.RealClock{}, Logger: logger}
}

func (l *Launcher) clock() clock.Clock {
	if l == nil || l.Clock == nil {
		return clock.RealClock{}
	}
	return l.Clock
}

func (l *Launcher) log() *zerolog.Logger {
	if l == nil {
		return logging.OrNop(nil)
	}
	return logging.OrNop(l.Logger)
}

// Launch starts spec's command and returns its tracked Process. It does not
// wait for the process to become useful; see Verify.
func (l *Launcher) Launch(spec Spec) (*Process, error) {
	if spec.Name == "" {
		return nil, &LaunchError{Name: "<unnamed>", Err: ErrEmptyName}
	}
	if spec.Path == "" {
		return nil, &LaunchError{Name: spec.Name, Err: ErrEmptyPath}
	}
	logs, err := openLogFiles(spec.LogDir, spec.Name)
	if err != nil {
		metrics.ProcessLaunches.WithLabelValues(spec.Name, "error").Inc()
		return nil, &LaunchError{Name: spec.Name, Err: err}
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	configureSysProcAttr(cmd)

	// Log files go to the child as plain descriptors, so Wait returns as soon
	// as the process is reaped even if a grandchild keeps them open. Only the
	// inherited-stderr case copies through a pipe, bounded by WaitDelay.
	var tail *tailBuffer
	if logs.stderr != nil {
		cmd.Stdout, cmd.Stderr = logs.stdout, logs.stderr
	} else {
		tail = newTailBuffer(stderrTailBytes)
		cmd.Stdout = os.Stdout
		cmd.Stderr = io.MultiWriter(os.Stderr, tail)
		cmd.WaitDelay = pipeDrainDelay
	}

	if err := cmd.Start(); err != nil {
		logs.Close()
		metrics.ProcessLaunches.WithLabelValues(spec.Name, "error").Inc()
		return nil, &LaunchError{Name: spec.Name, Err: err}
	}

	p := &Process{
		name:      spec.Name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: l.clock().Now(),
		logs:      logs,
		tail:      tail,
		exited:    make(chan struct{}),
	}
	metrics.ProcessLaunches.WithLabelValues(spec.Name, "ok").Inc()
	metrics.ProcessUp.WithLabelValues(spec.Name).Set(1)

	log := l.log()
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
		metrics.ProcessUp.WithLabelValues(p.name).Set(0)
		log.Debug().Str("process", p.name).Int("pid", p.pid).AnErr("exit", p.waitErr).Msg("process exited")
	}()

	log.Info().Str("process", spec.Name).Int("pid", p.pid).Str("path", spec.Path).Strs("args", spec.Args).Msg("process launched")
	return p, nil
}

// Start is Launch returning the Handle interface.
func (l *Launcher) Start(spec Spec) (Handle, error) {
	p, err := l.Launch(spec)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Verify waits grace and then requires h to still be alive. An earlier exit
// returns a StartupError straight away.
func (l *Launcher) Verify(h Handle, grace time.Duration) error {
	if grace > 0 {
		t := l.clock().NewTimer(grace)
		defer t.Stop()
		select {
		case <-h.Exited():
		case <-t.C():
		}
	}
	if h.Alive() {
		return nil
	}
	se := &StartupError{Name: h.Name(), PID: h.PID(), Grace: grace}
	if x, ok := h.(interface{ ExitErr() error }); ok {
		se.ExitErr = x.ExitErr()
	}
	if x, ok := h.(interface{ StderrTail() string }); ok {
		se.StderrTail = x.StderrTail()
	}
	return se
}

// mergeEnv overlays extra on base. Overlay keys replace base entries and are
// appended in sorted order.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k := kv
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				k = kv[:i]
				break
			}
		}
		if _, overridden := extra[k]; overridden {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return out
}
