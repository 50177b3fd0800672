package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/rshade/fleetscale/internal/autoscaler"
)

// Validate returns every configuration problem found, combined. Any error
// means the process must not start.
func (c *Config) Validate() error {
	var errs error

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = multierr.Append(errs, &autoscaler.ConfigError{
				Field:  fe.Namespace(),
				Reason: fmt.Sprintf("failed %q check (got: %v)", describeTag(fe), fe.Value()),
			})
		}
	}

	errs = multierr.Append(errs, c.validateSources())

	if _, _, err := c.Evaluators(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func (c *Config) validateSources() error {
	var errs error
	require := func(field, value string) {
		if value == "" {
			errs = multierr.Append(errs, &autoscaler.ConfigError{Field: field, Reason: "is required"})
		}
	}

	// Without step rules no sampler runs, so the metric target is unused.
	if c.Telemetry.Source == SourceCloudWatch && len(c.Steps) > 0 {
		require("telemetry.cluster", c.Telemetry.Cluster)
		require("telemetry.service", c.Telemetry.Service)
	}

	switch c.Sink.Type {
	case SinkPulumi:
		require("sink.pulumi.stack", c.Sink.Pulumi.Stack)
		require("sink.pulumi.configKey", c.Sink.Pulumi.ConfigKey)
		require("sink.pulumi.targetUrn", c.Sink.Pulumi.TargetURN)
	case SinkECS:
		require("sink.ecs.cluster", c.Sink.ECS.Cluster)
		require("sink.ecs.service", c.Sink.ECS.Service)
	}

	if c.Telemetry.Source == SourcePush && c.HTTP.Port == 0 {
		errs = multierr.Append(errs, &autoscaler.ConfigError{
			Field:  "http.port",
			Reason: "push telemetry needs the HTTP server",
		})
	}
	return errs
}
