// Package config defines the voiceboot configuration file. Durations are
// integer milliseconds so the same file reads identically as YAML, JSON or
// TOML. Zero values mean "unspecified" and are replaced by defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"voiceboot/internal/common/fsutil"
)

// Config holds everything one bring-up needs.
type Config struct {
	Dependency    DependencyConfig `json:"dependency" yaml:"dependency" toml:"dependency"`
	Model         ModelConfig      `json:"model" yaml:"model" toml:"model"`
	App           AppConfig        `json:"app" yaml:"app" toml:"app"`
	Provision     ProvisionConfig  `json:"provision" yaml:"provision" toml:"provision"`
	Status        StatusConfig     `json:"status" yaml:"status" toml:"status"`
	HistoryPath   string           `json:"history_path" yaml:"history_path" toml:"history_path"`
	LockPath      string           `json:"lock_path" yaml:"lock_path" toml:"lock_path"`
	LogDir        string           `json:"log_dir" yaml:"log_dir" toml:"log_dir"`
	LogLevel      string           `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat     string           `json:"log_format" yaml:"log_format" toml:"log_format"`
	StopTimeoutMS int              `json:"stop_timeout_ms" yaml:"stop_timeout_ms" toml:"stop_timeout_ms"`
}

// DependencyConfig describes the LLM runtime process and its readiness probe.
// A zero ProbeIntervalMS selects the default; a negative one means no delay
// between failed checks.
type DependencyConfig struct {
	Name            string            `json:"name" yaml:"name" toml:"name"`
	Command         []string          `json:"command" yaml:"command" toml:"command"`
	Dir             string            `json:"dir" yaml:"dir" toml:"dir"`
	Env             map[string]string `json:"env" yaml:"env" toml:"env"`
	BaseURL         string            `json:"base_url" yaml:"base_url" toml:"base_url"`
	HealthURL       string            `json:"health_url" yaml:"health_url" toml:"health_url"`
	ProbeAttempts   int               `json:"probe_attempts" yaml:"probe_attempts" toml:"probe_attempts"`
	ProbeIntervalMS int               `json:"probe_interval_ms" yaml:"probe_interval_ms" toml:"probe_interval_ms"`
	ProbeTimeoutMS  int               `json:"probe_timeout_ms" yaml:"probe_timeout_ms" toml:"probe_timeout_ms"`
}

// ModelConfig names the model pulled into the runtime before the app starts.
type ModelConfig struct {
	Name          string `json:"name" yaml:"name" toml:"name"`
	Verify        bool   `json:"verify" yaml:"verify" toml:"verify"`
	PullTimeoutMS int    `json:"pull_timeout_ms" yaml:"pull_timeout_ms" toml:"pull_timeout_ms"`
}

// AppConfig describes the foreground voice server and its environment.
type AppConfig struct {
	Name              string            `json:"name" yaml:"name" toml:"name"`
	Command           []string          `json:"command" yaml:"command" toml:"command"`
	Dir               string            `json:"dir" yaml:"dir" toml:"dir"`
	StartupGraceMS    int               `json:"startup_grace_ms" yaml:"startup_grace_ms" toml:"startup_grace_ms"`
	LogLevel          string            `json:"log_level" yaml:"log_level" toml:"log_level"`
	MaxAudioQueueSize int               `json:"max_audio_queue_size" yaml:"max_audio_queue_size" toml:"max_audio_queue_size"`
	OllamaBaseURL     string            `json:"ollama_base_url" yaml:"ollama_base_url" toml:"ollama_base_url"`
	HFHome            string            `json:"hf_home" yaml:"hf_home" toml:"hf_home"`
	TorchHome         string            `json:"torch_home" yaml:"torch_home" toml:"torch_home"`
	Env               map[string]string `json:"env" yaml:"env" toml:"env"`
}

// ProvisionConfig lists the host preparation steps.
type ProvisionConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AptPackages      []string `json:"apt_packages" yaml:"apt_packages" toml:"apt_packages"`
	Python           string   `json:"python" yaml:"python" toml:"python"`
	PipRequirements  string   `json:"pip_requirements" yaml:"pip_requirements" toml:"pip_requirements"`
	TorchIndexURL    string   `json:"torch_index_url" yaml:"torch_index_url" toml:"torch_index_url"`
	OllamaInstallURL string   `json:"ollama_install_url" yaml:"ollama_install_url" toml:"ollama_install_url"`
}

// StatusConfig controls the local status API. Empty Addr disables it.
type StatusConfig struct {
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	// AccessLog is the request log level: off, error, info or debug.
	AccessLog string `json:"access_log" yaml:"access_log" toml:"access_log"`
}

// Defaults.
const (
	DefaultDependencyName    = "ollama"
	DefaultBaseURL           = "http://127.0.0.1:11434"
	DefaultProbeAttempts     = 30
	DefaultProbeIntervalMS   = 1000
	DefaultProbeTimeoutMS    = 2000
	DefaultAccessLog         = "error"
	DefaultModel             = "llama3.2:3b"
	DefaultAppName           = "voice"
	DefaultStartupGraceMS    = 3000
	DefaultAppLogLevel       = "info"
	DefaultMaxAudioQueueSize = 50
	DefaultPython            = "python3"
	DefaultPipRequirements   = "requirements.txt"
	DefaultTorchIndexURL     = "https://download.pytorch.org/whl/cu121"
	DefaultOllamaInstallURL  = "https://ollama.com/install.sh"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultStopTimeoutMS     = 10000
)

var (
	defaultDependencyCommand = []string{"ollama", "serve"}
	defaultAppCommand        = []string{"python3", "server.py"}
	defaultAptPackages       = []string{"ffmpeg", "portaudio19-dev", "curl"}
)

// Defaults returns a fully populated default configuration.
func Defaults() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	d := &c.Dependency
	if d.Name == "" {
		d.Name = DefaultDependencyName
	}
	if len(d.Command) == 0 {
		d.Command = append([]string(nil), defaultDependencyCommand...)
	}
	if d.BaseURL == "" {
		d.BaseURL = DefaultBaseURL
	}
	if d.HealthURL == "" {
		d.HealthURL = d.BaseURL
	}
	if d.ProbeAttempts == 0 {
		d.ProbeAttempts = DefaultProbeAttempts
	}
	if d.ProbeIntervalMS == 0 {
		d.ProbeIntervalMS = DefaultProbeIntervalMS
	}
	if d.ProbeTimeoutMS == 0 {
		d.ProbeTimeoutMS = DefaultProbeTimeoutMS
	}

	if c.Model.Name == "" {
		c.Model.Name = DefaultModel
	}

	a := &c.App
	if a.Name == "" {
		a.Name = DefaultAppName
	}
	if len(a.Command) == 0 {
		a.Command = append([]string(nil), defaultAppCommand...)
	}
	if a.StartupGraceMS == 0 {
		a.StartupGraceMS = DefaultStartupGraceMS
	}
	if a.LogLevel == "" {
		a.LogLevel = DefaultAppLogLevel
	}
	if a.MaxAudioQueueSize == 0 {
		a.MaxAudioQueueSize = DefaultMaxAudioQueueSize
	}
	if a.OllamaBaseURL == "" {
		a.OllamaBaseURL = d.BaseURL
	}

	p := &c.Provision
	if p.AptPackages == nil {
		p.AptPackages = append([]string(nil), defaultAptPackages...)
	}
	if p.Python == "" {
		p.Python = DefaultPython
	}
	if p.PipRequirements == "" {
		p.PipRequirements = DefaultPipRequirements
	}
	if p.TorchIndexURL == "" {
		p.TorchIndexURL = DefaultTorchIndexURL
	}
	if p.OllamaInstallURL == "" {
		p.OllamaInstallURL = DefaultOllamaInstallURL
	}

	if c.Status.AccessLog == "" {
		c.Status.AccessLog = DefaultAccessLog
	}

	if c.HistoryPath == "" {
		c.HistoryPath = "~/.local/state/voiceboot/history.db"
	}
	if c.LockPath == "" {
		c.LockPath = filepath.Join(os.TempDir(), "voiceboot.lock")
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.StopTimeoutMS == 0 {
		c.StopTimeoutMS = DefaultStopTimeoutMS
	}
}

// ExpandPaths replaces a leading '~' in every path-valued field.
func (c *Config) ExpandPaths() error {
	return fsutil.ExpandHomeAll(
		&c.Dependency.Dir,
		&c.App.Dir,
		&c.App.HFHome,
		&c.App.TorchHome,
		&c.Provision.PipRequirements,
		&c.HistoryPath,
		&c.LockPath,
		&c.LogDir,
	)
}

// Validate rejects configurations the orchestrator cannot run.
func (c Config) Validate() error {
	var errs []error
	if len(c.Dependency.Command) == 0 || c.Dependency.Command[0] == "" {
		errs = append(errs, errors.New("dependency.command is empty"))
	}
	if len(c.App.Command) == 0 || c.App.Command[0] == "" {
		errs = append(errs, errors.New("app.command is empty"))
	}
	if c.Dependency.Name == c.App.Name {
		errs = append(errs, fmt.Errorf("dependency and app share the name %q", c.App.Name))
	}
	if c.Dependency.ProbeAttempts < 1 {
		errs = append(errs, fmt.Errorf("dependency.probe_attempts must be >= 1, got %d", c.Dependency.ProbeAttempts))
	}
	for name, v := range map[string]int{
		"dependency.probe_timeout_ms": c.Dependency.ProbeTimeoutMS,
		"model.pull_timeout_ms":       c.Model.PullTimeoutMS,
		"app.startup_grace_ms":        c.App.StartupGraceMS,
		"stop_timeout_ms":             c.StopTimeoutMS,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}
	switch c.Status.AccessLog {
	case "", "off", "error", "info", "debug":
	default:
		errs = append(errs, fmt.Errorf("status.access_log must be off, error, info or debug, got %q", c.Status.AccessLog))
	}
	if c.App.MaxAudioQueueSize < 1 {
		errs = append(errs, fmt.Errorf("app.max_audio_queue_size must be >= 1, got %d", c.App.MaxAudioQueueSize))
	}
	for name, raw := range map[string]string{
		"dependency.base_url":   c.Dependency.BaseURL,
		"dependency.health_url": c.Dependency.HealthURL,
		"app.ollama_base_url":   c.App.OllamaBaseURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s is not an absolute URL: %q", name, raw))
		}
	}
	return errors.Join(errs...)
}

// AppEnv is the environment overlay for the foreground server. Extra
// entries from app.env win over the recognized options.
func (c Config) AppEnv() map[string]string {
	env := map[string]string{
		"LOG_LEVEL":            c.App.LogLevel,
		"MAX_AUDIO_QUEUE_SIZE": strconv.Itoa(c.App.MaxAudioQueueSize),
		"OLLAMA_BASE_URL":      c.App.OllamaBaseURL,
	}
	if c.App.HFHome != "" {
		env["HF_HOME"] = c.App.HFHome
	}
	if c.App.TorchHome != "" {
		env["TORCH_HOME"] = c.App.TorchHome
	}
	for k, v := range c.App.Env {
		env[k] = v
	}
	return env
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (d DependencyConfig) ProbeInterval() time.Duration { return ms(max(d.ProbeIntervalMS, 0)) }
func (d DependencyConfig) ProbeTimeout() time.Duration  { return ms(d.ProbeTimeoutMS) }
func (m ModelConfig) PullTimeout() time.Duration        { return ms(m.PullTimeoutMS) }
func (a AppConfig) StartupGrace() time.Duration         { return ms(a.StartupGraceMS) }
func (c Config) StopTimeout() time.Duration             { return ms(c.StopTimeoutMS) }
