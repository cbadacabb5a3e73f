package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/davideduma/commons-jms/config"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// globals are the flags shared by every command
type globals struct {
	url       string
	logLevel  string
	logFormat string
	settings  *config.Settings
	logger    *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "jms-ping",
		Short: "Request/reply round trips over RabbitMQ",
		Long: `jms-ping runs an echo replier and sends correlated requests to it.
Settings are read from the environment (JMS_*, LOGGING_*) and can be
overridden with flags.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.url, "url", "u", "", "RabbitMQ connection URL (default $JMS_BROKER_URL)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: json or text")

	rootCmd.AddCommand(newServeCmd(g), newRequestCmd(g), newConfigCmd(g))
	return rootCmd
}

func (g *globals) load(cmd *cobra.Command) error {
	settings, err := config.Init()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		settings.Broker.URL = g.url
	}
	if flags.Changed("log-level") {
		settings.Logging.Level = g.logLevel
	}
	if flags.Changed("log-format") {
		settings.Logging.Format = g.logFormat
	}

	logger, err := settings.Logging.Logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	g.settings = settings
	g.logger = logger.With("service", settings.AppConfig.ServiceName)
	return nil
}

func newConfigCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.settings.Dump(cmd.OutOrStdout())
		},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
