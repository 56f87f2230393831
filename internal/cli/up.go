package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voiceboot/internal/config"
	"voiceboot/internal/history"
	"voiceboot/internal/httpapi"
	"voiceboot/internal/ollama"
	"voiceboot/internal/orchestrator"
	"voiceboot/internal/probe"
	"voiceboot/internal/proc"
	"voiceboot/internal/runlock"
)

// lockWait bounds how long up waits for another instance to release the
// run lock.
var lockWait = 2 * time.Second

// orchestratorConfig maps the file configuration onto one bring-up.
func orchestratorConfig(cfg config.Config) (orchestrator.Config, error) {
	host, err := ollama.HostEnv(cfg.Dependency.BaseURL)
	if err != nil {
		return orchestrator.Config{}, err
	}
	depEnv := map[string]string{"OLLAMA_HOST": host}
	maps.Copy(depEnv, cfg.Dependency.Env)

	dep := cfg.Dependency.Command
	app := cfg.App.Command
	if len(dep) == 0 || len(app) == 0 {
		return orchestrator.Config{}, fmt.Errorf("dependency and app commands must not be empty")
	}
	health := cfg.Dependency.HealthURL
	return orchestrator.Config{
		Dependency: proc.Spec{
			Name:   cfg.Dependency.Name,
			Path:   dep[0],
			Args:   dep[1:],
			Dir:    cfg.Dependency.Dir,
			Env:    depEnv,
			LogDir: cfg.LogDir,
		},
		Foreground: proc.Spec{
			Name:   cfg.App.Name,
			Path:   app[0],
			Args:   app[1:],
			Dir:    cfg.App.Dir,
			Env:    cfg.AppEnv(),
			LogDir: cfg.LogDir,
		},
		Model:        cfg.Model.Name,
		Probe:        probeConfig(cfg.Dependency, health),
		Check:        probe.HTTPCheck(nil, health, cfg.Dependency.ProbeTimeout()),
		StartupGrace: cfg.App.StartupGrace(),
		StopTimeout:  cfg.StopTimeout(),
	}, nil
}

// openSession starts a history session. History is best effort: failures
// are logged and up continues without it.
func openSession(ctx context.Context, e *env) (*history.Store, *history.Session) {
	if e.cfg.HistoryPath == "" {
		return nil, nil
	}
	store, err := history.Open(ctx, e.cfg.HistoryPath)
	if err != nil {
		e.log.Warn().Err(err).Str("path", e.cfg.HistoryPath).Msg("history unavailable")
		return nil, nil
	}
	session, err := store.BeginSession(ctx, e.cfg.Model.Name)
	if err != nil {
		e.log.Warn().Err(err).Msg("history session not recorded")
		_ = store.Close()
		return nil, nil
	}
	return store, session
}

// serveStatus applies the status settings and serves the API for svc until
// ctx ends.
func serveStatus(ctx context.Context, e *env, svc httpapi.Service) error {
	httpapi.SetLogger(e.log.With().Str("component", "status").Logger())
	httpapi.SetCORSOrigins(e.cfg.Status.CORSOrigins)
	httpapi.SetAccessLogLevel(e.cfg.Status.AccessLog)
	return httpapi.Serve(ctx, e.cfg.Status.Addr, httpapi.NewMux(svc))
}

func runUp(ctx context.Context, e *env) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ocfg, err := orchestratorConfig(e.cfg)
	if err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	lock, err := runlock.Acquire(lockCtx, e.cfg.LockPath, runlock.DefaultRetryInterval)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	pubs := orchestrator.Publishers{}
	opts := []orchestrator.Option{
		orchestrator.WithLogger(e.log),
		orchestrator.WithFetcher(boundedFetcher{c: newFetcher(e), timeout: e.cfg.Model.PullTimeout()}),
	}
	store, session := openSession(ctx, e)
	if session != nil {
		defer func() { _ = store.Close() }()
		pubs = append(pubs, history.NewRecorder(session, e.log))
		opts = append(opts, orchestrator.WithSession(session.ID()))
	}
	opts = append(opts, orchestrator.WithPublisher(pubs))
	if e.cfg.Provision.Enabled {
		opts = append(opts, orchestrator.WithProvisioner(newProvisioner(e)))
	}
	orch := orchestrator.New(ocfg, opts...)

	// The status API lives exactly as long as the orchestrator. A status API
	// error is logged and never stops the bring-up.
	srvCtx, stopSrv := context.WithCancel(context.Background())
	var runErr error
	var g errgroup.Group
	g.Go(func() error {
		defer stopSrv()
		runErr = orch.Run(sigCtx)
		return nil
	})
	if e.cfg.Status.Addr != "" {
		g.Go(func() error { return serveStatus(srvCtx, e, orch) })
	}
	if err := g.Wait(); err != nil {
		e.log.Error().Err(err).Str("addr", e.cfg.Status.Addr).Msg("status api stopped")
	}

	code := orchestrator.ExitCode(runErr)
	if session != nil {
		endCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := session.End(endCtx, code, runErr); err != nil {
			e.log.Warn().Err(err).Msg("history session not closed")
		}
		cancel()
	}
	if stage, ok := orchestrator.FailedStage(runErr); ok {
		e.log.Error().Err(runErr).Str("stage", string(stage)).Int("exit_code", code).Msg("bring-up failed")
	} else if errors.Is(runErr, orchestrator.ErrInterrupted) {
		e.log.Info().Int("exit_code", code).Msg("interrupted before the voice server was running")
	} else {
		e.log.Info().Msg("stopped")
	}
	return runErr
}
