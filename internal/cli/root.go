// Package cli implements the voiceboot command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"voiceboot/internal/config"
	"voiceboot/internal/logging"
	"voiceboot/internal/orchestrator"
)

// Options carries the persistent flags.
type Options struct {
	ConfigPath string
	LogLevel   string

	out io.Writer
	err io.Writer
}

// env is what a command needs after flags are parsed.
type env struct {
	cfg config.Config
	log *zerolog.Logger
	out io.Writer
}

// load resolves the configuration and builds the logger.
func (o *Options) load() (*env, error) {
	cfg, err := config.Resolve(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, o.err)
	return &env{cfg: cfg, log: &logger, out: o.out}, nil
}

func (o *Options) stdout() io.Writer {
	if o.out == nil {
		return os.Stdout
	}
	return o.out
}

func (o *Options) stderr() io.Writer {
	if o.err == nil {
		return os.Stderr
	}
	return o.err
}

// buildRootCmdWith constructs the command tree wired to the fn* actions.
func buildRootCmdWith(opts *Options) *cobra.Command {
	opts.out = opts.stdout()
	opts.err = opts.stderr()

	root := &cobra.Command{
		Use:           "voiceboot",
		Short:         "Bring up the LLM runtime and the voice server on a GPU host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(opts.out)
	root.SetErr(opts.err)
	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "Config file (.yaml, .json or .toml; defaults to $"+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: debug|info|warn|error (overrides config and $"+config.EnvLogLevel+")")

	up := &cobra.Command{
		Use:   "up",
		Short: "Launch the dependency, pull the model, launch the voice server and supervise both",
		Example: "  voiceboot up\n" +
			"  voiceboot up --config /etc/voiceboot.yaml",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			return fnUp(cmd.Context(), e)
		},
	}

	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Install system packages, the Ollama runtime and Python dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			return fnProvision(cmd.Context(), e)
		},
	}

	probeCmd := &cobra.Command{
		Use:   "probe [url]",
		Short: "Wait until an endpoint answers (defaults to the dependency health URL)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			url := e.cfg.Dependency.HealthURL
			if len(args) == 1 {
				url = args[0]
			}
			return fnProbe(cmd.Context(), e, url)
		},
	}

	pull := &cobra.Command{
		Use:   "pull [model]",
		Short: "Pull a model into a running Ollama (defaults to the configured model)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			model := e.cfg.Model.Name
			if len(args) == 1 {
				model = args[0]
			}
			return fnPull(cmd.Context(), e, model)
		},
	}

	var limit int
	var asJSON bool
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent bring-up sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			return fnHistory(cmd.Context(), e, limit, asJSON)
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of sessions to show")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")

	configCmd := &cobra.Command{Use: "config", Short: "Inspect configuration", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("config requires a subcommand: print")
	}}
	var format string
	configPrint := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			return fnPrintConfig(e, format)
		},
	}
	configPrint.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml|json|toml")
	configCmd.AddCommand(configPrint)

	completion := &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate a shell completion script",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			default:
				return root.GenPowerShellCompletionWithDesc(w)
			}
		},
	}

	root.AddCommand(up, provisionCmd, probeCmd, pull, historyCmd, configCmd, completion)
	return root
}

// Run executes args against a fresh command tree.
func Run(args []string, opts *Options) error {
	root := buildRootCmdWith(opts)
	root.SetArgs(args)
	return root.Execute()
}

// MainWithArgs runs the CLI and returns the process exit status: 2 for a
// missing command, 130 when a bring-up was interrupted before the voice
// server was running, 1 for any other failure.
func MainWithArgs(args []string) int {
	opts := &Options{}
	if len(args) == 0 {
		root := buildRootCmdWith(opts)
		_ = root.Usage()
		return 2
	}
	err := Run(args, opts)
	if err == nil {
		return 0
	}
	fmt.Fprintln(opts.stderr(), err.Error())
	return orchestrator.ExitCode(err)
}

// Main returns an exit code for use by cmd/voiceboot.
func Main() int { return MainWithArgs(os.Args[1:]) }
