// internal/cli/root.go
package genbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/benchmark"
	"github.com/mwiater/genbench/internal/generation"
	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/metrics"
	"github.com/mwiater/genbench/internal/providerfactory"
	"github.com/mwiater/genbench/internal/providers"
	"github.com/mwiater/genbench/internal/tui"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// Replaced in tests.
var (
	runBenchmark = benchmark.BenchmarkModels
	runTUI       = tui.Run
	newBackend   = providerfactory.NewTimedBackend
	now          = time.Now
)

// Exit codes returned by Execute.
const (
	exitOK = iota
	exitError
	exitConfig
	exitModelLoad
	exitEncoding
	exitGeneration
	exitAborted
)

// Values of the "config" annotation on commands.
const (
	// configNone skips decoding and validating the configuration.
	configNone = "none"
	// configModel seeds repo_id from the --model flag when no models are configured.
	configModel = "model"
)

// app carries the state shared by every command of one invocation.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     appconfig.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: appconfig.NewViper()}

	rootCmd := &cobra.Command{
		Use:           "genbench",
		Short:         "genbench: latency benchmarks for LLM token generation",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			path := a.v.GetString("metrics_file")
			if path == "" {
				return nil
			}
			if err := metrics.WriteTextfile(path); err != nil {
				return fmt.Errorf("write metrics: %w", err)
			}
			logging.LogEvent("Wrote metrics to %s", path)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", appconfig.DefaultConfigPath, "config file (YAML, JSON or TOML)")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("log-file", "", "append JSON logs to this file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("metrics-file", "", "write Prometheus metrics to this file when the command ends")

	_ = a.v.BindPFlag("debug", flags.Lookup("debug"))
	_ = a.v.BindPFlag("log_file", flags.Lookup("log-file"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("metrics_file", flags.Lookup("metrics-file"))

	rootCmd.AddCommand(
		newBenchmarkCmd(a),
		newGenerateCmd(a),
		newTokenizeCmd(a),
		newShowCmd(a),
		newReportCmd(),
		newModelCmd(),
		newListCmd(),
	)
	return rootCmd
}

// load reads the config file, starts logging and, unless the command opts
// out, decodes and validates the merged configuration.
func (a *app) load(cmd *cobra.Command) error {
	if err := appconfig.Read(a.v, a.cfgFile); err != nil {
		return err
	}

	if err := a.initLogging(cmd.ErrOrStderr()); err != nil {
		return err
	}

	switch cmd.Annotations["config"] {
	case configNone:
		return nil
	case configModel:
		if id, _ := cmd.Flags().GetString("model"); id != "" {
			a.v.SetDefault("repo_id", []string{id})
		}
	}

	cfg, err := appconfig.Decode(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logging.Debugf("Loaded configuration from %q", cfg.ConfigPath)
	return nil
}

// initLogging (re)starts logging with the configured file and level. A nil
// console keeps log lines off the terminal.
func (a *app) initLogging(console io.Writer) error {
	level := a.v.GetString("log_level")
	if a.v.GetBool("debug") {
		level = "debug"
	}
	if err := logging.Init(a.v.GetString("log_file"), logging.WithLevel(level), logging.WithConsole(console)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	defer logging.Close()
	return run(ctx, newRootCmd(), os.Args[1:], os.Stderr)
}

func run(ctx context.Context, rootCmd *cobra.Command, args []string, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	msg, code := describeError(err)
	fmt.Fprintln(stderr, msg)
	return code
}

// describeError turns err into a user facing message and an exit code.
func describeError(err error) (string, int) {
	var (
		cfgErr  *appconfig.ConfigError
		loadErr *providers.ModelLoadError
		encErr  *generation.EncodingError
		genErr  *generation.GenerationError
	)
	switch {
	case errors.Is(err, tui.ErrAborted), errors.Is(err, context.Canceled):
		return "Aborted.", exitAborted
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("Configuration error: %v", cfgErr), exitConfig
	case errors.As(err, &loadErr):
		return fmt.Sprintf("Could not load model: %v", loadErr), exitModelLoad
	case errors.As(err, &encErr):
		return fmt.Sprintf("Could not tokenize prompt: %v", encErr), exitEncoding
	case errors.As(err, &genErr):
		return fmt.Sprintf("Generation failed: %v", genErr), exitGeneration
	default:
		return fmt.Sprintf("Error: %v", err), exitError
	}
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}
