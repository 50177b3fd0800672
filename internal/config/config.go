// Package config loads and validates the controller configuration.
//
// Configuration is read once at startup, from a YAML file with FLEETSCALE_
// environment overrides or from the "fleetscale" output of a Pulumi stack.
// It is never reloaded; changing it requires a restart.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/spf13/viper"

	"github.com/rshade/fleetscale/internal/autoscaler"
	"github.com/rshade/fleetscale/internal/capacity"
	"github.com/rshade/fleetscale/internal/notify"
	"github.com/rshade/fleetscale/internal/telemetry"
)

// StackOutput is the Pulumi stack output holding the configuration.
const StackOutput = "fleetscale"

const (
	SourceCloudWatch = "cloudwatch"
	SourcePush       = "push"

	SinkPulumi = "pulumi"
	SinkECS    = "ecs"
	SinkLog    = "log"
)

type Config struct {
	Bounds    autoscaler.CapacityBounds `mapstructure:"bounds"`
	Steps     []autoscaler.StepRule     `mapstructure:"steps"`
	DeadZones []autoscaler.DeadZone     `mapstructure:"deadZones"`
	Schedules []autoscaler.ScheduleRule `mapstructure:"schedules" validate:"dive"`

	Cooldown         time.Duration `mapstructure:"cooldown" validate:"gte=0"`
	SamplePeriod     time.Duration `mapstructure:"samplePeriod" validate:"gt=0"`
	ScheduleLookback time.Duration `mapstructure:"scheduleLookback" validate:"gte=0"`

	Retry     capacity.RetryConfig `mapstructure:"retry"`
	Telemetry TelemetryConfig      `mapstructure:"telemetry"`
	Sink      SinkConfig           `mapstructure:"sink"`
	AWS       AWSConfig            `mapstructure:"aws"`
	Redis     notify.RedisOptions  `mapstructure:"redis"`
	HTTP      HTTPConfig           `mapstructure:"http"`
	Log       LogConfig            `mapstructure:"log"`
}

type TelemetryConfig struct {
	Source  string `mapstructure:"source" validate:"oneof=cloudwatch push"`
	Cluster string `mapstructure:"cluster"`
	Service string `mapstructure:"service"`
}

type SinkConfig struct {
	Type   string       `mapstructure:"type" validate:"oneof=pulumi ecs log"`
	Pulumi PulumiConfig `mapstructure:"pulumi"`
	ECS    ECSConfig    `mapstructure:"ecs"`
}

type PulumiConfig struct {
	Stack     string `mapstructure:"stack"`
	WorkDir   string `mapstructure:"workDir"`
	ConfigKey string `mapstructure:"configKey"`
	TargetURN string `mapstructure:"targetUrn"`
	DryRun    bool   `mapstructure:"dryRun"`
}

type ECSConfig struct {
	Cluster string `mapstructure:"cluster"`
	Service string `mapstructure:"service"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type HTTPConfig struct {
	Port      int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	AuthToken string `mapstructure:"authToken"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

func setDefaults(v *viper.Viper) {
	retry := capacity.DefaultRetryConfig()

	v.SetDefault("bounds.min", 1)
	v.SetDefault("bounds.max", 1)
	v.SetDefault("cooldown", autoscaler.DefaultCooldown)
	v.SetDefault("samplePeriod", telemetry.DefaultPeriod)
	v.SetDefault("scheduleLookback", autoscaler.DefaultScheduleLookback)
	v.SetDefault("retry.attempts", retry.Attempts)
	v.SetDefault("retry.initialDelay", retry.InitialDelay)
	v.SetDefault("retry.maxDelay", retry.MaxDelay)
	v.SetDefault("telemetry.source", SourceCloudWatch)
	v.SetDefault("telemetry.cluster", "")
	v.SetDefault("telemetry.service", "")
	v.SetDefault("sink.type", SinkLog)
	v.SetDefault("sink.pulumi.stack", "")
	v.SetDefault("sink.pulumi.workDir", ".")
	v.SetDefault("sink.pulumi.configKey", "")
	v.SetDefault("sink.pulumi.targetUrn", "")
	v.SetDefault("sink.pulumi.dryRun", false)
	v.SetDefault("sink.ecs.cluster", "")
	v.SetDefault("sink.ecs.service", "")
	v.SetDefault("aws.region", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "")
	v.SetDefault("redis.channel", "")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.authToken", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FLEETSCALE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML file at path. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return decode(v)
}

// LoadBytes reads configuration of the given type ("yaml" or "json") from data.
func LoadBytes(data []byte, configType string) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", configType, err)
	}
	return decode(v)
}

// LoadFromStack retrieves the stack outputs and parses the "fleetscale" output.
func LoadFromStack(ctx context.Context, stackName, workDir string) (*Config, error) {
	s, err := auto.UpsertStackLocalSource(ctx, stackName, workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load stack: %w", err)
	}

	outputs, err := s.Outputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stack outputs: %w", err)
	}
	return fromOutputs(outputs)
}

func fromOutputs(outputs auto.OutputMap) (*Config, error) {
	val, ok := outputs[StackOutput]
	if !ok {
		return nil, fmt.Errorf("stack output '%s' not found", StackOutput)
	}
	if val.Secret {
		return nil, fmt.Errorf("stack output '%s' is secret; export it as plain text", StackOutput)
	}

	// The output value is an arbitrary JSON-like tree; round-trip it through
	// JSON so viper decodes it exactly like a file.
	data, err := json.Marshal(val.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s output: %w", StackOutput, err)
	}
	return LoadBytes(data, "json")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Evaluators builds the step and schedule evaluators. Call Validate first.
func (c *Config) Evaluators() (*autoscaler.StepEvaluator, *autoscaler.ScheduleEvaluator, error) {
	steps, err := autoscaler.NewStepEvaluator(c.Steps, c.DeadZones)
	if err != nil {
		return nil, nil, err
	}
	schedule, err := autoscaler.NewScheduleEvaluator(c.Schedules)
	if err != nil {
		return nil, nil, err
	}
	return steps, schedule, nil
}
