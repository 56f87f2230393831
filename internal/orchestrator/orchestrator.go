// Package orchestrator runs the bring-up sequence for the voice host:
// launch the dependency runtime, wait for it to answer, fetch the model,
// launch the foreground server, then supervise both until a termination
// request, and stop them foreground first.
//
// Termination requests arrive as cancellation of the context given to Run
// (or a call to Shutdown). Blocking stages are not interrupted; a pending
// request is acted on between stages and immediately once Running.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"voiceboot/internal/logging"
	"voiceboot/internal/metrics"
	"voiceboot/internal/probe"
	"voiceboot/internal/proc"
)

// Starter launches processes and checks them after a grace period.
// *proc.Launcher satisfies it.
type Starter interface {
	Start(spec proc.Spec) (proc.Handle, error)
	Verify(h proc.Handle, grace time.Duration) error
}

// Fetcher materializes a model inside the dependency runtime.
type Fetcher interface {
	Fetch(ctx context.Context, model string) error
}

// Provisioner prepares the host before anything is launched.
type Provisioner interface {
	Provision(ctx context.Context) error
}

// Config describes one bring-up session.
type Config struct {
	Dependency proc.Spec
	Foreground proc.Spec
	// Model is fetched after the dependency is ready. Empty skips the fetch.
	Model string
	// Probe bounds the readiness wait; Check is the reachability test.
	Probe probe.Config
	Check probe.Check
	// StartupGrace is how long the foreground must stay alive after launch.
	StartupGrace time.Duration
	// StopTimeout bounds termination of each process.
	StopTimeout time.Duration
}

// Orchestrator owns the managed processes of one session.
type Orchestrator struct {
	cfg         Config
	starter     Starter
	fetcher     Fetcher
	provisioner Provisioner
	pub         EventPublisher
	log         *zerolog.Logger
	clk         clock.Clock
	session     string

	transMu sync.Mutex // orders state changes and their events

	mu        sync.Mutex
	state     State
	since     time.Time
	startedAt time.Time
	procs     []proc.Handle // launch order
	lastErr   error
	ran       bool
	stopping  bool
	stopCh    chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithStarter(s Starter) Option { return func(o *Orchestrator) { o.starter = s } }

func WithFetcher(f Fetcher) Option { return func(o *Orchestrator) { o.fetcher = f } }

func WithProvisioner(p Provisioner) Option { return func(o *Orchestrator) { o.provisioner = p } }

func WithPublisher(p EventPublisher) Option { return func(o *Orchestrator) { o.pub = p } }

func WithLogger(l *zerolog.Logger) Option { return func(o *Orchestrator) { o.log = logging.OrNop(l) } }

func WithClock(c clock.Clock) Option { return func(o *Orchestrator) { o.clk = c } }

// WithSession tags status output with a session id.
func WithSession(id string) Option { return func(o *Orchestrator) { o.session = id } }

// New returns an idle Orchestrator. Without WithStarter it launches real
// processes through proc.Launcher.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		pub:    noopPublisher{},
		log:    logging.OrNop(nil),
		clk:    clock.RealClock{},
		state:  StateIdle,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.starter == nil {
		o.starter = &proc.Launcher{Clock: o.clk, Logger: o.log}
	}
	if o.cfg.Probe.Clock == nil {
		o.cfg.Probe.Clock = o.clk
	}
	if o.cfg.Probe.Logger == nil {
		o.cfg.Probe.Logger = o.log
	}
	o.since = o.clk.Now()
	return o
}

// Run executes the bring-up sequence and supervises until a termination
// request or a fatal error. It returns nil after a clean shutdown from
// Running, ErrInterrupted when the request came earlier, and a *StageError
// for fatal failures. Every launched process has been stopped when Run
// returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return ErrAlreadyRun
	}
	o.ran = true
	o.startedAt = o.clk.Now()
	o.mu.Unlock()

	// Stages run to completion; ctx is only consulted between them.
	work := context.WithoutCancel(ctx)

	if !o.transition(StateProvisioning, "") {
		return o.interrupt()
	}
	if o.provisioner != nil {
		if err := o.provisioner.Provision(work); err != nil {
			return o.fail(StageProvision, err)
		}
	}
	if o.interrupted(ctx) {
		return o.interrupt()
	}

	dep, err := o.launch(o.cfg.Dependency)
	if err != nil {
		return o.fail(StageDependencyLaunch, err)
	}
	if !o.transition(StateWaitingOnDependency, dep.Name()) {
		return o.interrupt()
	}
	if _, err := probe.Probe(work, o.cfg.Probe, o.dependencyCheck(dep)); err != nil {
		return o.fail(StageDependencyReadiness, err)
	}
	if o.interrupted(ctx) {
		return o.interrupt()
	}

	if !o.transition(StateStarting, o.cfg.Model) {
		return o.interrupt()
	}
	if o.fetcher != nil && o.cfg.Model != "" {
		if err := o.fetcher.Fetch(work, o.cfg.Model); err != nil {
			return o.fail(StageModelFetch, err)
		}
	}
	if o.interrupted(ctx) {
		return o.interrupt()
	}
	fg, err := o.launch(o.cfg.Foreground)
	if err != nil {
		return o.fail(StageForegroundLaunch, err)
	}
	if err := o.starter.Verify(fg, o.cfg.StartupGrace); err != nil {
		return o.fail(StageForegroundStartup, err)
	}
	if o.interrupted(ctx) {
		return o.interrupt()
	}

	if !o.transition(StateRunning, fg.Name()) {
		return o.interrupt()
	}
	select {
	case <-ctx.Done():
		o.log.Info().Msg("termination requested")
		return o.Shutdown()
	case <-o.stopCh:
		return o.Shutdown()
	case <-fg.Exited():
		return o.exitedWhileRunning(fg)
	case <-dep.Exited():
		return o.exitedWhileRunning(dep)
	}
}

// Shutdown stops every launched process, foreground first, each exactly
// once. It is idempotent and safe from any state or goroutine; concurrent
// callers wait for the first one to finish. Only failures other than
// "already exited" are returned.
func (o *Orchestrator) Shutdown() error {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.stopping = true
		close(o.stopCh)
		procs := append([]proc.Handle(nil), o.procs...)
		o.mu.Unlock()

		o.transition(StateShuttingDown, "")
		var errs []error
		for i := len(procs) - 1; i >= 0; i-- {
			if err := o.terminate(procs[i]); err != nil {
				errs = append(errs, err)
			}
		}
		o.transition(StateStopped, "")
		o.stopErr = errors.Join(errs...)
	})
	return o.stopErr
}

func (o *Orchestrator) terminate(h proc.Handle) error {
	err := h.Terminate(o.cfg.StopTimeout)
	fields := map[string]any{"process": h.Name(), "pid": h.PID()}
	switch {
	case err == nil:
		o.log.Info().Str("process", h.Name()).Int("pid", h.PID()).Msg("process stopped")
	case proc.IsShutdownError(err):
		o.log.Debug().Str("process", h.Name()).Err(err).Msg("stop skipped")
		fields["detail"] = err.Error()
		err = nil
	default:
		o.log.Warn().Str("process", h.Name()).Err(err).Msg("stop failed")
		fields["error"] = err.Error()
	}
	o.publish(EventProcessStopped, fields)
	return err
}

// launch starts spec and tracks it. A launch that completes after shutdown
// began is stopped straight away.
func (o *Orchestrator) launch(spec proc.Spec) (proc.Handle, error) {
	h, err := o.starter.Start(spec)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		_ = o.terminate(h)
		return nil, errStopping
	}
	o.procs = append(o.procs, h)
	o.mu.Unlock()
	o.publish(EventProcessLaunched, map[string]any{"process": h.Name(), "pid": h.PID()})
	return h, nil
}

// dependencyCheck fails fast with a clear message once the dependency
// process is gone; the probe still runs to its attempt budget.
func (o *Orchestrator) dependencyCheck(dep proc.Handle) probe.Check {
	check := o.cfg.Check
	if check == nil {
		return nil
	}
	return func(ctx context.Context, attempt int) error {
		if !dep.Alive() {
			return fmt.Errorf("%s (pid %d) exited before becoming ready", dep.Name(), dep.PID())
		}
		return check(ctx, attempt)
	}
}

func (o *Orchestrator) interrupted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-o.stopCh:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) interrupt() error {
	o.log.Info().Str("state", string(o.State())).Msg("termination requested before running")
	if err := o.Shutdown(); err != nil {
		o.log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return ErrInterrupted
}

func (o *Orchestrator) fail(stage Stage, err error) error {
	if errors.Is(err, errStopping) || o.isStopping() {
		return o.interrupt()
	}
	se := &StageError{Stage: stage, Err: err}
	o.mu.Lock()
	o.lastErr = se
	o.mu.Unlock()
	o.log.Error().Str("stage", string(stage)).Err(err).Msg("fatal")
	if serr := o.Shutdown(); serr != nil {
		o.log.Warn().Err(serr).Msg("shutdown incomplete")
	}
	return se
}

func (o *Orchestrator) exitedWhileRunning(h proc.Handle) error {
	if o.isStopping() {
		return o.Shutdown()
	}
	o.publish(EventProcessExited, map[string]any{"process": h.Name(), "pid": h.PID()})
	return o.fail(StageRunning, fmt.Errorf("%s (pid %d): %w", h.Name(), h.PID(), ErrUnexpectedExit))
}

func (o *Orchestrator) isStopping() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopping
}

// transition moves to next and publishes the change. It reports false when
// the move is not allowed from the current state.
func (o *Orchestrator) transition(next State, detail string) bool {
	o.transMu.Lock()
	defer o.transMu.Unlock()

	now := o.clk.Now()
	o.mu.Lock()
	prev := o.state
	if !prev.CanTransition(next) {
		o.mu.Unlock()
		o.log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("transition ignored")
		return false
	}
	o.state = next
	o.since = now
	o.mu.Unlock()

	metrics.SetState(string(next), stateNames())
	o.log.Info().Str("from", string(prev)).Str("to", string(next)).Str("detail", detail).Msg("state")
	fields := map[string]any{"from": string(prev)}
	if detail != "" {
		fields["detail"] = detail
	}
	o.pub.Publish(Event{Name: EventTransition, State: next, At: now, Fields: fields})
	return true
}

func (o *Orchestrator) publish(name string, fields map[string]any) {
	o.pub.Publish(Event{Name: name, State: o.State(), At: o.clk.Now(), Fields: fields})
}
