package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	_ "time/tzdata"

	"github.com/rshade/fleetscale/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	stackName  string
	workDir    string
	debug      bool
	logFormat  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "fleetscale",
		Short:         "Autoscaling controller for a homogeneous worker fleet",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.stackName, "stack", "", "Read configuration from this Pulumi stack's \""+config.StackOutput+"\" output")
	root.PersistentFlags().StringVar(&opts.workDir, "workdir", ".", "The directory containing the Pulumi program")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console or json (overrides log.format)")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newValidateCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

// setupLogging configures the global zerolog logger. Flags win over config.
func setupLogging(cfg config.LogConfig, opts *rootOptions) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	format := cfg.Format
	if opts.logFormat != "" {
		format = opts.logFormat
	}
	if format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if opts.debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}
