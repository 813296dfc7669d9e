// Package cli builds the command line shared by the service binaries.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/StricklySoft/bearer-relay/internal/logging"
	"github.com/StricklySoft/bearer-relay/internal/server"
	"github.com/StricklySoft/bearer-relay/pkg/config"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// Service describes one binary.
type Service struct {
	Name      string
	EnvPrefix string
	Short     string
	Version   string

	// Downstream allows DOWNSTREAM_BASE_URL. When false the setting is
	// cleared so the service never forwards.
	Downstream bool
}

type options struct {
	configFile string
	envFile    string
}

// NewCommand returns the root command. Running it serves until SIGINT
// or SIGTERM; the "check" subcommand only loads and validates the
// configuration.
func NewCommand(svc Service) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           svc.Name,
		Short:         svc.Short,
		Version:       svc.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(svc, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, svc, cfg)
		},
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML or JSON configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file; ignored when missing")

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(svc, opts)
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), svc, cfg)
		},
	})
	return root
}

// Execute runs the command for svc and returns the process exit code.
func Execute(svc Service) int {
	err := NewCommand(svc).ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", svc.Name, describe(err))
	}
	return exitCode(err)
}

// exitCode is 2 for configuration errors and 1 for any other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case sserr.IsValidation(err):
		return 2
	default:
		return 1
	}
}

func describe(err error) string {
	if sserr.IsValidation(err) {
		return "invalid configuration: " + err.Error()
	}
	return err.Error()
}

func load(svc Service, opts *options) (server.Config, error) {
	var cfg server.Config
	err := config.New().
		WithEnvPrefix(svc.EnvPrefix).
		WithFile(opts.configFile).
		WithDotEnv(opts.envFile).
		Load(&cfg)
	if err != nil {
		return cfg, err
	}
	if !svc.Downstream {
		cfg.Downstream.BaseURL = ""
	}
	return cfg, nil
}

func serve(ctx context.Context, svc Service, cfg server.Config) error {
	name := cfg.Name(svc.Name)
	logger, err := logging.New(cfg.Log, name)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := server.NewApp(ctx, cfg, name, svc.Version, logger)
	if err != nil {
		logger.Error("failed to build service", zap.Error(err))
		return err
	}
	if svc.Downstream && cfg.Downstream.BaseURL == "" {
		logger.Warn("no downstream configured, /weatherforecast-two is disabled")
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		return err
	}
	logger.Info("service stopped")
	return nil
}

func printSummary(w io.Writer, svc Service, cfg server.Config) error {
	downstream := cfg.Downstream.BaseURL
	if downstream == "" {
		downstream = "none"
	}
	_, err := fmt.Fprintf(w,
		"service: %s\naddr: %s\njwks: %s\npolicy: %s\ncache: %s\naudit: %t\ndownstream: %s\n",
		cfg.Name(svc.Name), cfg.HTTP.Addr, cfg.JWKS.URL, policyName(cfg),
		cfg.Cache.Backend, cfg.Audit.Enabled, downstream)
	return err
}

func policyName(cfg server.Config) string {
	if cfg.Token.Permissive() {
		return "permissive"
	}
	return "enforcing"
}
