// Package provision prepares a GPU host for the voice server: system
// packages, the Ollama runtime and the Python requirements. It is a thin
// command runner; every step shells out.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"voiceboot/internal/common/fsutil"
	"voiceboot/internal/config"
	"voiceboot/internal/logging"
)

// StepError names the provisioning step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("provision step %s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// IsStepError reports whether err carries a StepError.
func IsStepError(err error) bool {
	var se *StepError
	return errors.As(err, &se)
}

// Step is one named provisioning action.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Provisioner runs the configured steps in order.
type Provisioner struct {
	cfg config.ProvisionConfig
	log *zerolog.Logger

	run     Runner
	onPath  func(name string) bool
	exists  func(path string) bool
	geteuid func() int
}

// Option overrides a Provisioner collaborator.
type Option func(*Provisioner)

func WithRunner(r Runner) Option { return func(p *Provisioner) { p.run = r } }

func WithLookPath(f func(string) bool) Option { return func(p *Provisioner) { p.onPath = f } }

func WithPathExists(f func(string) bool) Option { return func(p *Provisioner) { p.exists = f } }

func WithEUID(f func() int) Option { return func(p *Provisioner) { p.geteuid = f } }

// New returns a Provisioner for cfg.
func New(cfg config.ProvisionConfig, logger *zerolog.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:     cfg,
		log:     logging.OrNop(logger),
		onPath:  fsutil.OnPath,
		exists:  fsutil.PathExists,
		geteuid: os.Geteuid,
	}
	for _, o := range opts {
		o(p)
	}
	if p.run == nil {
		p.run = ExecRunner(p.log)
	}
	return p
}

// Provision runs every step, stopping at the first failure.
func (p *Provisioner) Provision(ctx context.Context) error {
	for _, s := range p.Steps() {
		p.log.Info().Str("step", s.Name).Msg("provision step")
		if err := s.Run(ctx); err != nil {
			return &StepError{Step: s.Name, Err: err}
		}
	}
	p.log.Info().Msg("provisioning complete")
	return nil
}

// Steps returns the ordered provisioning steps.
func (p *Provisioner) Steps() []Step {
	return []Step{
		{Name: "apt", Run: p.installPackages},
		{Name: "ollama", Run: p.installOllama},
		{Name: "pip", Run: p.installPythonDeps},
	}
}

func (p *Provisioner) installPackages(ctx context.Context) error {
	if len(p.cfg.AptPackages) == 0 {
		return nil
	}
	if !p.onPath("apt-get") {
		p.log.Warn().Strs("packages", p.cfg.AptPackages).Msg("apt-get not found; install packages manually")
		return nil
	}
	env := map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
	if err := p.run(ctx, p.maybeSudo(Cmd{Path: "apt-get", Args: []string{"update"}, Env: env, Stream: true})); err != nil {
		return fmt.Errorf("apt-get update: %w", err)
	}
	args := append([]string{"install", "-y", "--no-install-recommends"}, p.cfg.AptPackages...)
	if err := p.run(ctx, p.maybeSudo(Cmd{Path: "apt-get", Args: args, Env: env, Stream: true})); err != nil {
		return fmt.Errorf("apt-get install %s: %w", strings.Join(p.cfg.AptPackages, " "), err)
	}
	return nil
}

func (p *Provisioner) installOllama(ctx context.Context) error {
	if p.onPath("ollama") {
		p.log.Info().Msg("ollama already installed")
		return nil
	}
	if p.cfg.OllamaInstallURL == "" {
		return errors.New("ollama not on PATH and no install url configured")
	}
	script := fmt.Sprintf("curl -fsSL %s | sh", p.cfg.OllamaInstallURL)
	if err := p.run(ctx, Cmd{Path: "sh", Args: []string{"-c", script}, Stream: true}); err != nil {
		return fmt.Errorf("install ollama: %w", err)
	}
	return nil
}

func (p *Provisioner) installPythonDeps(ctx context.Context) error {
	py := p.cfg.Python
	if py == "" {
		py = config.DefaultPython
	}
	if p.HasGPU(ctx) && p.cfg.TorchIndexURL != "" {
		p.log.Info().Str("index", p.cfg.TorchIndexURL).Msg("CUDA GPU detected; installing GPU torch")
		args := []string{"-m", "pip", "install", "torch", "torchaudio", "--index-url", p.cfg.TorchIndexURL}
		if err := p.run(ctx, Cmd{Path: py, Args: args, Stream: true}); err != nil {
			return fmt.Errorf("pip install torch: %w", err)
		}
	}
	req := p.cfg.PipRequirements
	if req == "" || !p.exists(req) {
		p.log.Info().Str("requirements", req).Msg("no requirements file; skipping pip install")
		return nil
	}
	if err := p.run(ctx, Cmd{Path: py, Args: []string{"-m", "pip", "install", "-r", req}, Stream: true}); err != nil {
		return fmt.Errorf("pip install -r %s: %w", req, err)
	}
	return nil
}

// HasGPU reports whether nvidia-smi lists at least one CUDA device.
func (p *Provisioner) HasGPU(ctx context.Context) bool {
	if !p.onPath("nvidia-smi") {
		return false
	}
	return p.run(ctx, Cmd{Path: "nvidia-smi", Args: []string{"-L"}}) == nil
}
