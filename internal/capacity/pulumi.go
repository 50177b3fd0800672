package capacity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
)

// stack is the subset of auto.Stack the sink drives.
type stack interface {
	GetConfig(ctx context.Context, key string) (auto.ConfigValue, error)
	SetConfig(ctx context.Context, key string, val auto.ConfigValue) error
	Up(ctx context.Context, opts ...optup.Option) (auto.UpResult, error)
	Preview(ctx context.Context, opts ...optpreview.Option) (auto.PreviewResult, error)
}

// PulumiSink stores the desired count in a stack config key and runs a
// targeted update through the Automation API.
type PulumiSink struct {
	StackName string
	WorkDir   string

	// ConfigKey holds the replica count, e.g. "desiredCount".
	ConfigKey string

	// TargetURN is the resource passed to `pulumi up -t`.
	TargetURN string

	// DryRun previews instead of updating and leaves the config untouched.
	DryRun bool

	open func(ctx context.Context) (stack, error)
}

func NewPulumiSink(stackName, workDir, configKey, targetURN string, dryRun bool) *PulumiSink {
	ps := &PulumiSink{
		StackName: stackName,
		WorkDir:   workDir,
		ConfigKey: configKey,
		TargetURN: targetURN,
		DryRun:    dryRun,
	}
	ps.open = func(ctx context.Context) (stack, error) {
		s, err := auto.UpsertStackLocalSource(ctx, ps.StackName, ps.WorkDir)
		if err != nil {
			return nil, err
		}
		return &s, nil
	}
	return ps
}

// Current reads the replica count from the stack config.
func (ps *PulumiSink) Current(ctx context.Context) (int, error) {
	s, err := ps.open(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load stack: %w", err)
	}

	cfg, err := s.GetConfig(ctx, ps.ConfigKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read config %q: %w", ps.ConfigKey, err)
	}

	val, err := strconv.Atoi(strings.TrimSpace(cfg.Value))
	if err != nil {
		return 0, fmt.Errorf("failed to parse config value '%s' as int: %w", cfg.Value, err)
	}
	return val, nil
}

// Apply sets the config key and runs a targeted up. Re-applying the same
// value is a no-op update for the Pulumi engine.
func (ps *PulumiSink) Apply(ctx context.Context, desired int) error {
	s, err := ps.open(ctx)
	if err != nil {
		return classifyPulumi("failed to load stack", err)
	}

	if ps.DryRun {
		res, err := s.Preview(ctx, optpreview.Target([]string{ps.TargetURN}))
		if err != nil {
			return classifyPulumi("preview failed", err)
		}
		log.Info().Int("desired", desired).Msgf("DryRun Result:\n%s", res.StdOut)
		return nil
	}

	err = s.SetConfig(ctx, ps.ConfigKey, auto.ConfigValue{Value: strconv.Itoa(desired)})
	if err != nil {
		return classifyPulumi("failed to set config", err)
	}

	start := time.Now()
	if _, err := s.Up(ctx, optup.Target([]string{ps.TargetURN})); err != nil {
		return classifyPulumi("targeted up failed", err)
	}
	log.Info().
		Str("stack", ps.StackName).
		Int("desired", desired).
		Dur("duration", time.Since(start)).
		Msg("Stack updated")
	return nil
}

// classifyPulumi marks errors retrying cannot fix as fatal. Concurrent
// updates and engine hiccups stay transient.
func classifyPulumi(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if auto.IsConcurrentUpdateError(err) {
		return wrapped
	}
	if auto.IsCompilationError(err) {
		return Fatal(wrapped)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unauthorized", "forbidden", "permission denied", "access denied", "no stack named"} {
		if strings.Contains(msg, marker) {
			return Fatal(wrapped)
		}
	}
	return wrapped
}
