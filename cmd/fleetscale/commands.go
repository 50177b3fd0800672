package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rshade/fleetscale/internal/config"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool

	command := &cobra.Command{
		Use:   "run",
		Short: "Run the autoscaling controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Setup signal handling for graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					log.Info().Msg("Received shutdown signal")
					cancel()
				case <-ctx.Done():
				}
			}()

			cfg, err := loadConfig(ctx, opts)
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Sink.Pulumi.DryRun = true
				if cfg.Sink.Type == config.SinkECS {
					cfg.Sink.Type = config.SinkLog
				}
			}
			return run(ctx, cfg)
		},
	}
	command.Flags().BoolVar(&dryRun, "dry-run", false, "Preview Pulumi updates or log ECS updates instead of applying them")
	return command
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the next schedule fires",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}
			steps, schedule, err := cfg.Evaluators()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bounds: min=%d max=%d cooldown=%s\n", cfg.Bounds.Min, cfg.Bounds.Max, cfg.Cooldown)
			for _, r := range steps.Rules() {
				fmt.Fprintf(out, "step: (%s, %s] delta=%+d\n", bound(r.Lower, "-inf"), bound(r.Upper, "+inf"), r.Delta)
			}
			for _, f := range schedule.Next(time.Now()) {
				fmt.Fprintf(out, "next: %s group=%s floor=%d at %s\n", f.Rule, f.Group, f.Floor, f.At.Format(time.RFC3339))
			}
			fmt.Fprintln(out, "configuration is valid")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// loadConfig reads the stack output when --stack is set, else the config file.
func loadConfig(ctx context.Context, opts *rootOptions) (*config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		cfg *config.Config
		err error
	)
	if opts.stackName != "" && opts.configPath == "" {
		log.Info().Str("stack", opts.stackName).Str("workdir", opts.workDir).Msg("Loading configuration from stack outputs...")
		cfg, err = config.LoadFromStack(ctx, opts.stackName, opts.workDir)
	} else {
		cfg, err = config.Load(opts.configPath)
	}
	if err != nil {
		return nil, err
	}

	setupLogging(cfg.Log, opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bound(v *float64, inf string) string {
	if v == nil {
		return inf
	}
	return fmt.Sprintf("%g", *v)
}
