package cmd

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"redkey/internal/config"
	"redkey/internal/logging"
	"redkey/internal/ui"
	"redkey/internal/warehouse"
	"redkey/pkg/errors"
	"redkey/pkg/models"
)

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
	noColor   bool

	logger = zerolog.Nop()

	rootCmd = &cobra.Command{
		Use:   "redkey",
		Short: "Change distribution keys and move tables between warehouse clusters",
		Long: `redkey rebuilds warehouse tables with a new distribution key.

It regenerates a table's CREATE TABLE statement from the catalog, copies the
rows across and can swap the rebuilt table into place (rekey), or move tables
to another cluster through an S3 staging area (migrate).`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initRoot,
	}
)

// clusterOpener connects to a named cluster; tests replace it
var clusterOpener = func(ctx context.Context, name string, cl models.Cluster, log zerolog.Logger) (*warehouse.Service, error) {
	password, err := config.ResolveSecret(name, cl.Password)
	if err != nil {
		return nil, err
	}

	svc := warehouse.NewService(warehouse.Config{
		Name:     name,
		Host:     cl.Host,
		Port:     cl.Port,
		User:     cl.User,
		Password: password,
		Database: cl.Database,
		SSLMode:  cl.SSLMode,
	}, log)
	if err := svc.Connect(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	errors.NewHandler(logger, rootCmd.ErrOrStderr(), ui.ColorEnabled()).Handle(err)
	return 1
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $REDKEY_CONFIG, ~/.redkey/config.yaml or ~/.config.cfg)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "log format (console or json)")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
}

func initRoot(cmd *cobra.Command, args []string) error {
	if noColor {
		ui.SetColor(false)
	}
	logger = newLogger(models.DefaultConfig().Log, cmd.ErrOrStderr())
	return nil
}

// loadConfig reads the configuration and rebuilds the logger from its log section
func loadConfig(cmd *cobra.Command) (*models.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger = newLogger(cfg.Log, cmd.ErrOrStderr())
	logger.Debug().Str("config", cfgFile).Msg("configuration loaded")
	return cfg, nil
}

// newLogger applies the command line overrides to the configured log settings
func newLogger(cfg models.Log, out io.Writer) zerolog.Logger {
	if logLevel != "" {
		cfg.Level = logLevel
	}
	if verbose {
		cfg.Level = "debug"
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
	if out == nil {
		out = os.Stderr
	}
	return logging.New(cfg, out)
}
