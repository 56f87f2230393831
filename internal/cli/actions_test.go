//go:build !windows

package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voiceboot/internal/config"
	"voiceboot/internal/history"
	"voiceboot/internal/httpapi"
	"voiceboot/internal/runlock"
	"voiceboot/pkg/types"
)

func testEnv(t *testing.T) (*env, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.HistoryPath = filepath.Join(dir, "history.db")
	cfg.LockPath = filepath.Join(dir, "voiceboot.lock")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.Model.Verify = false
	var out bytes.Buffer
	nop := zerolog.Nop()
	return &env{cfg: cfg, log: &nop, out: &out}, &out
}

func TestOrchestratorConfig(t *testing.T) {
	e, _ := testEnv(t)
	e.cfg.Dependency.BaseURL = "http://0.0.0.0:11500"
	e.cfg.Dependency.HealthURL = "http://127.0.0.1:11500/"
	e.cfg.Dependency.Env = map[string]string{"OLLAMA_KEEP_ALIVE": "24h"}
	e.cfg.App.Command = []string{"python3", "-u", "server.py"}

	oc, err := orchestratorConfig(e.cfg)
	if err != nil {
		t.Fatalf("orchestratorConfig: %v", err)
	}
	if oc.Dependency.Path != "ollama" || strings.Join(oc.Dependency.Args, " ") != "serve" {
		t.Fatalf("dependency argv: %s %v", oc.Dependency.Path, oc.Dependency.Args)
	}
	if oc.Dependency.Env["OLLAMA_HOST"] != "0.0.0.0:11500" || oc.Dependency.Env["OLLAMA_KEEP_ALIVE"] != "24h" {
		t.Fatalf("dependency env: %v", oc.Dependency.Env)
	}
	if oc.Foreground.Name != config.DefaultAppName || oc.Foreground.Path != "python3" || len(oc.Foreground.Args) != 2 {
		t.Fatalf("foreground spec: %+v", oc.Foreground)
	}
	if oc.Foreground.Env["MAX_AUDIO_QUEUE_SIZE"] != "50" || oc.Foreground.Env["OLLAMA_BASE_URL"] == "" {
		t.Fatalf("foreground env: %v", oc.Foreground.Env)
	}
	if oc.Dependency.LogDir != e.cfg.LogDir || oc.Foreground.LogDir != e.cfg.LogDir {
		t.Fatalf("log dir not propagated")
	}
	if oc.Probe.Target != "http://127.0.0.1:11500/" || oc.Probe.Attempts != config.DefaultProbeAttempts || oc.Probe.Interval != time.Second {
		t.Fatalf("probe config: %+v", oc.Probe)
	}
	if oc.Check == nil || oc.Model != config.DefaultModel {
		t.Fatalf("check or model missing: %+v", oc)
	}
	if oc.StartupGrace != 3*time.Second || oc.StopTimeout != 10*time.Second {
		t.Fatalf("durations: grace=%s stop=%s", oc.StartupGrace, oc.StopTimeout)
	}

	e.cfg.App.Command = nil
	if _, err := orchestratorConfig(e.cfg); err == nil {
		t.Fatalf("expected error for empty app command")
	}
	e.cfg.App.Command = []string{"python3"}
	e.cfg.Dependency.BaseURL = "://bad"
	if _, err := orchestratorConfig(e.cfg); err == nil {
		t.Fatalf("expected error for bad base url")
	}
}

func TestRunProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	e, out := testEnv(t)
	if err := runProbe(context.Background(), e, srv.URL); err != nil {
		t.Fatalf("runProbe: %v", err)
	}
	if !strings.Contains(out.String(), "ready after 1 attempt(s)") {
		t.Fatalf("output: %q", out.String())
	}

	e.cfg.Dependency.ProbeAttempts = 2
	e.cfg.Dependency.ProbeIntervalMS = 1
	if err := runProbe(context.Background(), e, "http://127.0.0.1:1/"); err == nil {
		t.Fatalf("expected probe timeout")
	}
}

func TestRunPull(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = io.WriteString(w, "{\"status\":\"pulling manifest\"}\n{\"status\":\"success\"}\n")
	}))
	defer srv.Close()
	e, out := testEnv(t)
	e.cfg.Dependency.BaseURL = srv.URL
	e.cfg.Model.PullTimeoutMS = 5000
	if err := runPull(context.Background(), e, "llama3.2:1b"); err != nil {
		t.Fatalf("runPull: %v", err)
	}
	if !strings.Contains(body, `"llama3.2:1b"`) {
		t.Fatalf("request body: %s", body)
	}
	if out.String() != "llama3.2:1b ready\n" {
		t.Fatalf("output: %q", out.String())
	}
}

func TestBoundedFetcherAppliesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	e, _ := testEnv(t)
	e.cfg.Dependency.BaseURL = srv.URL
	f := boundedFetcher{c: newFetcher(e), timeout: 50 * time.Millisecond}
	start := time.Now()
	if err := f.Fetch(context.Background(), "m"); err == nil {
		t.Fatalf("expected timeout")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not applied")
	}
}

func TestShowHistory(t *testing.T) {
	e, out := testEnv(t)
	ctx := context.Background()
	store, err := history.Open(ctx, e.cfg.HistoryPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sess, err := store.BeginSession(ctx, "llama3")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = sess.RecordTransition(ctx, "running", time.Time{}, "voice")
	_ = sess.End(ctx, 1, errors.New("voice exited"))
	_ = store.Close()

	if err := showHistory(ctx, e, 5, false); err != nil {
		t.Fatalf("showHistory: %v", err)
	}
	s := out.String()
	for _, want := range []string{"SESSION", sess.ID(), "llama3", "running", "voice exited"} {
		if !strings.Contains(s, want) {
			t.Fatalf("table missing %q:\n%s", want, s)
		}
	}

	out.Reset()
	if err := showHistory(ctx, e, 5, true); err != nil {
		t.Fatalf("showHistory json: %v", err)
	}
	if !strings.Contains(out.String(), `"exit_code": 1`) {
		t.Fatalf("json output: %s", out.String())
	}
}

func TestRunUp_LockHeld(t *testing.T) {
	e, _ := testEnv(t)
	held, err := runlock.Acquire(context.Background(), e.cfg.LockPath, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	prev := lockWait
	lockWait = 100 * time.Millisecond
	defer func() { lockWait = prev }()
	if err := runUp(context.Background(), e); !errors.Is(err, runlock.ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
}

func TestRunUp_RunsUntilCanceled(t *testing.T) {
	dep := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Ollama is running")
	}))
	defer dep.Close()

	// A status address that cannot be bound must not affect the run.
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	e, _ := testEnv(t)
	e.cfg.Status.Addr = taken.Addr().String()
	e.cfg.Dependency.Command = []string{"sleep", "30"}
	e.cfg.Dependency.BaseURL = dep.URL
	e.cfg.Dependency.HealthURL = dep.URL
	e.cfg.Dependency.ProbeIntervalMS = 10
	e.cfg.App.Command = []string{"sleep", "30"}
	e.cfg.App.StartupGraceMS = 50
	e.cfg.Model.Name = ""
	e.cfg.StopTimeoutMS = 2000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runUp(ctx, e) }()

	reader, err := history.Open(context.Background(), e.cfg.HistoryPath)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer reader.Close()
	lastState := func() string {
		ss, err := reader.Recent(context.Background(), 1)
		if err != nil || len(ss) == 0 || len(ss[0].Transitions) == 0 {
			return ""
		}
		return ss[0].Transitions[len(ss[0].Transitions)-1].State
	}
	deadline := time.Now().Add(10 * time.Second)
	for lastState() != "running" {
		if time.Now().After(deadline) {
			t.Fatalf("never reached running, last state %q", lastState())
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runUp: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("runUp did not return after cancel")
	}

	ss, err := reader.Recent(context.Background(), 1)
	if err != nil || len(ss) != 1 {
		t.Fatalf("recent: %v %v", ss, err)
	}
	var states []string
	for _, tr := range ss[0].Transitions {
		states = append(states, tr.State)
	}
	want := "provisioning waiting_on_dependency starting running shutting_down stopped"
	if strings.Join(states, " ") != want {
		t.Fatalf("transitions = %v", states)
	}
	if ss[0].EndedAt.IsZero() || ss[0].ExitCode != 0 {
		t.Fatalf("session not closed cleanly: %+v", ss[0])
	}
}

type staticService struct{}

func (staticService) Status() types.StatusResponse { return types.StatusResponse{State: "running"} }
func (staticService) Ready() bool                  { return true }

func TestServeStatusUsesConfiguredAccessLog(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	e, _ := testEnv(t)
	var logs bytes.Buffer
	l := zerolog.New(&logs)
	e.log = &l
	e.cfg.Status.Addr = addr
	e.cfg.Status.AccessLog = "info"
	defer httpapi.SetAccessLogLevel(config.DefaultAccessLog)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveStatus(ctx, e, staticService{}) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status api never answered: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serveStatus: %v", err)
	}
	if !strings.Contains(logs.String(), `"path":"/healthz"`) {
		t.Fatalf("info access log should record a 200 request:\n%s", logs.String())
	}
}

func TestServeStatusReturnsBindError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()
	e, _ := testEnv(t)
	e.cfg.Status.Addr = taken.Addr().String()
	if err := serveStatus(context.Background(), e, staticService{}); err == nil {
		t.Fatalf("expected a bind error for %s", e.cfg.Status.Addr)
	}
}
