package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pilab-dev/biolock/config"
	"github.com/pilab-dev/biolock/internal/audit"
	"github.com/pilab-dev/biolock/internal/metrics"
	"github.com/pilab-dev/biolock/log"
	"github.com/pilab-dev/biolock/storage"
	"github.com/pilab-dev/biolock/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// AppName is the binary name.
const AppName = "biolock"

// cliEnv is the state built by the root command before a subcommand runs.
type cliEnv struct {
	cfgFile        string
	storageBackend string

	cfg      *config.Config
	logger   log.Logger
	registry *prometheus.Registry
	tracer   *sdktrace.TracerProvider
}

// NewRootCmd builds the command tree. Diagnostics go to stderr, everything the
// user interacts with goes through the command's in/out streams.
func NewRootCmd() *cobra.Command {
	env := &cliEnv{}

	rootCmd := &cobra.Command{
		Use:           AppName,
		Short:         "biolock demonstrates a biometric-gated session token login",
		Long:          `A demo of a login flow that keeps the session token encrypted behind a biometric (or device credential) check, with a PIN fallback when the stored token is no longer accepted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return env.shutdown()
		},
	}

	rootCmd.PersistentFlags().StringVar(&env.cfgFile, "config", "",
		fmt.Sprintf("config file (default is ./%s.yaml or $HOME/.%s/%s.yaml)", AppName, AppName, AppName))
	rootCmd.PersistentFlags().StringVar(&env.storageBackend, "storage", "",
		"storage backend override (bbolt, redis, mongo, memory)")

	rootCmd.AddCommand(
		newDemoCmd(env),
		newShellCmd(env),
		newServeCmd(env),
		newForgetCmd(env),
	)

	return rootCmd
}

func (env *cliEnv) init(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(env.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if env.storageBackend != "" {
		cfg.StorageBackend = storage.Backend(env.storageBackend)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	env.cfg = cfg

	errOut := cmd.ErrOrStderr()
	env.logger = log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty, errOut, true)
	audit.SetOutput(errOut)

	env.registry = prometheus.NewRegistry()
	metrics.Register(env.registry)

	if cfg.TracingEnabled {
		env.tracer, err = tracing.InitTracerProvider(AppName, errOut)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	env.logger.Debug(cmd.Context(), "configuration loaded", map[string]interface{}{
		"command":  cmd.Name(),
		"storage":  string(cfg.StorageBackend),
		"registry": string(cfg.RegistryBackend),
	})

	return nil
}

func (env *cliEnv) shutdown() error {
	if env.tracer == nil {
		return nil
	}
	return env.tracer.Shutdown(context.Background())
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
