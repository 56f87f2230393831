package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"voiceboot/internal/config"
	"voiceboot/internal/history"
	"voiceboot/internal/ollama"
	"voiceboot/internal/probe"
	"voiceboot/internal/provision"
)

// Indirection layer to allow stubbing in tests
var (
	fnUp          = runUp
	fnProvision   = runProvision
	fnProbe       = runProbe
	fnPull        = runPull
	fnHistory     = showHistory
	fnPrintConfig = printConfig
)

func newProvisioner(e *env) *provision.Provisioner {
	return provision.New(e.cfg.Provision, e.log, provision.WithRunner(provision.ExecRunner(e.log)))
}

func runProvision(ctx context.Context, e *env) error {
	return newProvisioner(e).Provision(ctx)
}

func probeConfig(cfg config.DependencyConfig, target string) probe.Config {
	return probe.Config{Target: target, Attempts: cfg.ProbeAttempts, Interval: cfg.ProbeInterval()}
}

func runProbe(ctx context.Context, e *env, url string) error {
	pc := probeConfig(e.cfg.Dependency, url)
	pc.Logger = e.log
	res, err := probe.Probe(ctx, pc, probe.HTTPCheck(nil, url, e.cfg.Dependency.ProbeTimeout()))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s ready after %d attempt(s) in %s\n", url, res.Attempts, res.Elapsed.Round(time.Millisecond))
	return nil
}

func newFetcher(e *env) *ollama.Client {
	c := ollama.New(e.cfg.Dependency.BaseURL, nil, e.log)
	c.VerifyAfterPull = e.cfg.Model.Verify
	return c
}

// boundedFetcher applies the configured pull timeout to each fetch.
type boundedFetcher struct {
	c       *ollama.Client
	timeout time.Duration
}

func (f boundedFetcher) Fetch(ctx context.Context, model string) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.c.Fetch(ctx, model)
}

func runPull(ctx context.Context, e *env, model string) error {
	f := boundedFetcher{c: newFetcher(e), timeout: e.cfg.Model.PullTimeout()}
	if err := f.Fetch(ctx, model); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s ready\n", model)
	return nil
}

func showHistory(ctx context.Context, e *env, limit int, asJSON bool) error {
	if e.cfg.HistoryPath == "" {
		return fmt.Errorf("history is disabled (history_path is empty)")
	}
	store, err := history.Open(ctx, e.cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()
	sessions, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tMODEL\tSTARTED\tDURATION\tEXIT\tLAST STATE\tERROR")
	for _, s := range sessions {
		duration, exit := "-", "-"
		if !s.EndedAt.IsZero() {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
			exit = fmt.Sprint(s.ExitCode)
		}
		last := "-"
		if n := len(s.Transitions); n > 0 {
			last = s.Transitions[n-1].State
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Model, s.StartedAt.Local().Format(time.DateTime), duration, exit, last, s.Error)
	}
	return tw.Flush()
}

func printConfig(e *env, format string) error {
	b, err := config.Encode(e.cfg, format)
	if err != nil {
		return err
	}
	_, err = e.out.Write(b)
	return err
}
