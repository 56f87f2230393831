package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"voiceboot/internal/probe"
	"voiceboot/internal/proc"
)

// recorder keeps an ordered log of what the fakes were asked to do.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.steps = append(r.steps, s)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

func (r *recorder) index(s string) int {
	for i, step := range r.all() {
		if step == s {
			return i
		}
	}
	return -1
}

func (r *recorder) count(s string) int {
	n := 0
	for _, step := range r.all() {
		if step == s {
			n++
		}
	}
	return n
}

type fakeHandle struct {
	name    string
	pid     int
	started time.Time
	rec     *recorder

	exited   chan struct{}
	exitOnce sync.Once

	mu           sync.Mutex
	terminations int
}

func (h *fakeHandle) Name() string            { return h.name }
func (h *fakeHandle) PID() int                { return h.pid }
func (h *fakeHandle) StartedAt() time.Time    { return h.started }
func (h *fakeHandle) Exited() <-chan struct{} { return h.exited }

func (h *fakeHandle) Alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

func (h *fakeHandle) exit() { h.exitOnce.Do(func() { close(h.exited) }) }

func (h *fakeHandle) Terminate(time.Duration) error {
	h.mu.Lock()
	h.terminations++
	h.mu.Unlock()
	h.rec.add("stop:" + h.name)
	if !h.Alive() {
		return &proc.ShutdownError{Name: h.name, Err: proc.ErrAlreadyExited}
	}
	h.exit()
	return nil
}

func (h *fakeHandle) terminated() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminations
}

type fakeStarter struct {
	rec       *recorder
	startErr  map[string]error
	verifyErr error
	dead      map[string]bool // handles that exit right after launch

	mu      sync.Mutex
	nextPID int
	handles map[string]*fakeHandle
}

func newFakeStarter(rec *recorder) *fakeStarter {
	return &fakeStarter{rec: rec, nextPID: 100, handles: map[string]*fakeHandle{}}
}

func (s *fakeStarter) Start(spec proc.Spec) (proc.Handle, error) {
	s.rec.add("launch:" + spec.Name)
	if err := s.startErr[spec.Name]; err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	h := &fakeHandle{name: spec.Name, pid: s.nextPID, started: time.Unix(1700000000, 0), rec: s.rec, exited: make(chan struct{})}
	if s.dead[spec.Name] {
		h.exit()
	}
	s.handles[spec.Name] = h
	return h, nil
}

func (s *fakeStarter) Verify(h proc.Handle, _ time.Duration) error {
	s.rec.add("verify:" + h.Name())
	return s.verifyErr
}

func (s *fakeStarter) handle(name string) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[name]
}

type fakeFetcher struct {
	rec *recorder
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, model string) error {
	f.rec.add("fetch:" + model)
	return f.err
}

type fakeProvisioner struct {
	rec *recorder
	err error
}

func (p *fakeProvisioner) Provision(context.Context) error {
	p.rec.add("provision")
	return p.err
}

// readyOn returns a check that fails until attempt k. k <= 0 never succeeds.
func readyOn(rec *recorder, k int) probe.Check {
	return func(_ context.Context, attempt int) error {
		rec.add("probe")
		if k > 0 && attempt >= k {
			return nil
		}
		return errors.New("connection refused")
	}
}

type harness struct {
	rec     *recorder
	starter *fakeStarter
	fetcher *fakeFetcher
	clk     *clocktesting.FakeClock
	pub     *MemoryPublisher
	cfg     Config
}

func newHarness(attempts int, interval time.Duration, readyAt int) *harness {
	rec := &recorder{}
	h := &harness{
		rec:     rec,
		starter: newFakeStarter(rec),
		fetcher: &fakeFetcher{rec: rec},
		clk:     clocktesting.NewFakeClock(time.Unix(1700000000, 0)),
		pub:     NewMemoryPublisher(),
	}
	h.cfg = Config{
		Dependency:   proc.Spec{Name: "ollama", Path: "ollama", Args: []string{"serve"}},
		Foreground:   proc.Spec{Name: "voice", Path: "python", Args: []string{"server.py"}},
		Model:        "llama3",
		Probe:        probe.Config{Target: "http://127.0.0.1:11434", Attempts: attempts, Interval: interval},
		Check:        readyOn(rec, readyAt),
		StartupGrace: time.Second,
		StopTimeout:  time.Second,
	}
	return h
}

func (h *harness) build(opts ...Option) *Orchestrator {
	base := []Option{WithStarter(h.starter), WithFetcher(h.fetcher), WithClock(h.clk), WithPublisher(h.pub)}
	return New(h.cfg, append(base, opts...)...)
}

// runAsync starts Run and returns its result channel.
func runAsync(ctx context.Context, o *Orchestrator) <-chan error {
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	return done
}

func waitState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if o.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state %s not reached, at %s", want, o.State())
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
		return nil
	}
}
