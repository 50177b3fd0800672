package autoscaler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// DefaultScheduleLookback covers weekly cron rules when priming floors at startup.
const DefaultScheduleLookback = 8 * 24 * time.Hour

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type scheduledRule struct {
	rule     ScheduleRule
	schedule cron.Schedule
}

// ScheduleEvaluator turns cron-based floor rules into fire events.
// It holds no floor state of its own; the controller tracks which floors are active.
type ScheduleEvaluator struct {
	rules []scheduledRule
}

// NewScheduleEvaluator parses every rule in its own time zone.
func NewScheduleEvaluator(rules []ScheduleRule) (*ScheduleEvaluator, error) {
	var errs error
	seen := make(map[string]bool, len(rules))
	parsed := make([]scheduledRule, 0, len(rules))

	for i, r := range rules {
		field := fmt.Sprintf("schedules[%d]", i)
		if r.Name == "" {
			errs = multierr.Append(errs, &ConfigError{Field: field, Reason: "name is required"})
			continue
		}
		field = fmt.Sprintf("schedules[%s]", r.Name)
		if seen[r.Name] {
			errs = multierr.Append(errs, &ConfigError{Field: field, Reason: "duplicate rule name"})
			continue
		}
		seen[r.Name] = true

		if r.Floor < 0 {
			errs = multierr.Append(errs, &ConfigError{Field: field, Reason: "floor must be non-negative"})
		}
		sched, err := parseCron(r.Cron, r.TimeZone)
		if err != nil {
			errs = multierr.Append(errs, &ConfigError{Field: field, Reason: err.Error()})
			continue
		}
		parsed = append(parsed, scheduledRule{rule: r, schedule: sched})
	}
	if errs != nil {
		return nil, errs
	}
	return &ScheduleEvaluator{rules: parsed}, nil
}

func parseCron(expr, zone string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("set the time zone with timeZone, not inside the cron expression")
	}
	if strings.HasPrefix(expr, "@every") {
		return nil, fmt.Errorf("interval schedules are not supported: %q", expr)
	}
	if zone == "" {
		zone = "UTC"
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", zone, err)
	}
	sched, err := cronParser.Parse("CRON_TZ=" + zone + " " + expr)
	if err != nil {
		return nil, fmt.Errorf("malformed cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Len returns the number of configured rules.
func (s *ScheduleEvaluator) Len() int {
	return len(s.rules)
}

// Next returns the fires that happen at the earliest cron instant strictly after t.
func (s *ScheduleEvaluator) Next(after time.Time) []Fire {
	var (
		earliest time.Time
		fires    []Fire
	)
	for _, sr := range s.rules {
		at := sr.schedule.Next(after)
		if at.IsZero() {
			continue
		}
		switch {
		case earliest.IsZero() || at.Before(earliest):
			earliest = at
			fires = []Fire{newFire(sr.rule, at)}
		case at.Equal(earliest):
			fires = append(fires, newFire(sr.rule, at))
		}
	}
	return fires
}

// Latest returns, per group, the most recent fire at or before now within the
// lookback window. Later rules in configuration order win ties.
func (s *ScheduleEvaluator) Latest(now time.Time, lookback time.Duration) []Fire {
	latest := make(map[string]Fire)
	var order []string

	for _, sr := range s.rules {
		var last time.Time
		for at := sr.schedule.Next(now.Add(-lookback)); !at.IsZero() && !at.After(now); at = sr.schedule.Next(at) {
			last = at
		}
		if last.IsZero() {
			continue
		}
		group := sr.rule.GroupName()
		prev, ok := latest[group]
		if !ok {
			order = append(order, group)
		}
		if !ok || !last.Before(prev.At) {
			latest[group] = newFire(sr.rule, last)
		}
	}

	fires := make([]Fire, 0, len(order))
	for _, g := range order {
		fires = append(fires, latest[g])
	}
	return fires
}

// Start fires rules on their cron instants until the returned stop func is
// called. stop waits for running submits to return.
func (s *ScheduleEvaluator) Start(submit func(Fire)) (stop func()) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	for _, sr := range s.rules {
		rule := sr.rule
		c.Schedule(sr.schedule, cron.FuncJob(func() {
			submit(newFire(rule, time.Now()))
		}))
	}

	c.Start()
	log.Info().Int("rules", len(s.rules)).Msg("Schedule runner started")
	return func() {
		<-c.Stop().Done()
	}
}

// Run is Start bounded by ctx.
func (s *ScheduleEvaluator) Run(ctx context.Context, submit func(Fire)) {
	stop := s.Start(submit)
	<-ctx.Done()
	stop()
}

// Floor combines tracked floors by maximum. No floors means 0.
func Floor(active map[string]int) int {
	floor := 0
	for _, f := range active {
		if f > floor {
			floor = f
		}
	}
	return floor
}

func newFire(r ScheduleRule, at time.Time) Fire {
	return Fire{Rule: r.Name, Group: r.GroupName(), Floor: r.Floor, At: at}
}

// cronLogger adapts cron's logger to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
