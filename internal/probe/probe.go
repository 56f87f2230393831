// Package probe implements bounded readiness polling for a dependency
// service. The polling loop is independent of wall-clock time: delays go
// through an injected clock so tests can drive it with a fake.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"voiceboot/internal/logging"
	"voiceboot/internal/metrics"
)

// Check reports whether the dependency is reachable. A nil error means ready.
// attempt is 1-based.
type Check func(ctx context.Context, attempt int) error

// Config describes a readiness probe.
type Config struct {
	Target   string        // endpoint, used for errors, logs and metrics
	Attempts int           // maximum number of checks, at least 1
	Interval time.Duration // delay between consecutive failed checks
	Clock    clock.Clock   // defaults to the real clock
	Logger   *zerolog.Logger
}

// Result describes a successful probe.
type Result struct {
	Attempts int
	Elapsed  time.Duration
}

// Probe runs check until it succeeds or Attempts checks have failed. It
// sleeps Interval between two failed checks and never after the last one,
// so success on attempt k costs exactly k checks and (k-1) intervals.
//
// ctx is handed to each check but does not interrupt the loop; readiness
// waits always run to success or exhaustion.
func Probe(ctx context.Context, cfg Config, check Check) (Result, error) {
	if check == nil {
		return Result{}, fmt.Errorf("probe %s: %w", cfg.Target, ErrNilCheck)
	}
	if cfg.Attempts < 1 {
		return Result{}, fmt.Errorf("probe %s: %w", cfg.Target, ErrAttemptsNotPositive)
	}
	if cfg.Interval < 0 {
		return Result{}, fmt.Errorf("probe %s: %w", cfg.Target, ErrNegativeInterval)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	log := logging.OrNop(cfg.Logger)

	start := clk.Now()
	var last error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		metrics.ProbeAttempts.WithLabelValues(cfg.Target).Inc()
		last = check(ctx, attempt)
		if last == nil {
			res := Result{Attempts: attempt, Elapsed: clk.Since(start)}
			metrics.ProbeResults.WithLabelValues(cfg.Target, "ready").Inc()
			log.Info().Str("target", cfg.Target).Int("attempt", attempt).Dur("elapsed", res.Elapsed).Msg("dependency ready")
			return res, nil
		}
		log.Debug().Str("target", cfg.Target).Int("attempt", attempt).Int("max", cfg.Attempts).Err(last).Msg("dependency not ready")
		if attempt < cfg.Attempts {
			clk.Sleep(cfg.Interval)
		}
	}
	metrics.ProbeResults.WithLabelValues(cfg.Target, "timeout").Inc()
	return Result{Attempts: cfg.Attempts, Elapsed: clk.Since(start)}, &TimeoutError{
		Target:   cfg.Target,
		Attempts: cfg.Attempts,
		Interval: cfg.Interval,
		Last:     last,
	}
}
