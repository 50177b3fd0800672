package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rshade/fleetscale/internal/autoscaler"
	"github.com/rshade/fleetscale/internal/capacity"
	"github.com/rshade/fleetscale/internal/config"
	"github.com/rshade/fleetscale/internal/notify"
	"github.com/rshade/fleetscale/internal/telemetry"
	"github.com/rshade/fleetscale/internal/webhooks"
)

// run wires the controller and serves HTTP until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	steps, schedule, err := cfg.Evaluators()
	if err != nil {
		return err
	}

	var sess *session.Session
	if cfg.Telemetry.Source == config.SourceCloudWatch || cfg.Sink.Type == config.SinkECS {
		sess, err = newAWSSession(cfg.AWS)
		if err != nil {
			return err
		}
	}

	sink, err := newSink(cfg, sess)
	if err != nil {
		return err
	}

	alerters := notify.Alerters{notify.LogAlerter{}}
	journals := notify.Journals{notify.LogJournal{}}
	if cfg.Redis.Addr != "" {
		rdb, err := notify.NewRedis(ctx, cfg.Redis)
		if err != nil {
			// Redis carries only the journal and alerts; the controller runs without it.
			log.Warn().Err(err).Msg("Redis unavailable, journaling to log only")
		} else {
			defer rdb.Close()
			alerters = append(alerters, rdb)
			journals = append(journals, rdb)
		}
	}

	controller := autoscaler.NewController(autoscaler.Options{
		Bounds:           cfg.Bounds,
		Steps:            steps,
		Schedule:         schedule,
		Cooldown:         cfg.Cooldown,
		ScheduleLookback: cfg.ScheduleLookback,
		Sink:             capacity.WithRetry(sink, cfg.Retry),
		Alerter:          alerters,
		Journal:          journals,
	})

	var (
		source telemetry.Source
		push   *telemetry.PushSource
	)
	switch cfg.Telemetry.Source {
	case config.SourcePush:
		push = telemetry.NewPushSource(cfg.SamplePeriod)
		source = push
	default:
		source = telemetry.NewCloudWatchSource(sess, cfg.Telemetry.Cluster, cfg.Telemetry.Service)
	}

	var samples <-chan telemetry.Sample
	if len(steps.Rules()) > 0 {
		samples, err = telemetry.NewSampler(source, cfg.SamplePeriod).Samples(ctx)
		if err != nil {
			return err
		}
	} else {
		log.Info().Msg("No step rules configured, reactive scaling disabled")
	}

	log.Info().
		Int("min", cfg.Bounds.Min).
		Int("max", cfg.Bounds.Max).
		Int("steps", len(steps.Rules())).
		Int("schedules", schedule.Len()).
		Str("sink", cfg.Sink.Type).
		Str("telemetry", cfg.Telemetry.Source).
		Msg("Starting fleetscale...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return controller.Run(gctx, samples)
	})
	if cfg.HTTP.Port > 0 {
		var recorder webhooks.SampleRecorder
		if push != nil {
			recorder = push
		}
		server := NewServer(cfg.HTTP.Port, controller, recorder, cfg.HTTP.AuthToken)
		g.Go(func() error {
			return server.Start(gctx)
		})
	}
	return g.Wait()
}

func newAWSSession(cfg config.AWSConfig) (*session.Session, error) {
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return sess, nil
}

func newSink(cfg *config.Config, sess *session.Session) (capacity.Sink, error) {
	switch cfg.Sink.Type {
	case config.SinkPulumi:
		p := cfg.Sink.Pulumi
		return capacity.NewPulumiSink(p.Stack, p.WorkDir, p.ConfigKey, p.TargetURN, p.DryRun), nil
	case config.SinkECS:
		return capacity.NewECSSink(sess, cfg.Sink.ECS.Cluster, cfg.Sink.ECS.Service), nil
	case config.SinkLog:
		return capacity.NewLogSink(cfg.Bounds.Min), nil
	default:
		return nil, fmt.Errorf("unsupported sink type %q", cfg.Sink.Type)
	}
}
