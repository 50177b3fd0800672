package autoscaler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/rshade/fleetscale/internal/capacity"
	"github.com/rshade/fleetscale/internal/metrics"
	"github.com/rshade/fleetscale/internal/telemetry"
)

// DefaultCooldown is the minimum time between two scaling actions.
const DefaultCooldown = 60 * time.Second

// AlertKind classifies operator alerts.
type AlertKind string

const (
	AlertSinkFatal     AlertKind = "sink-fatal"
	AlertSinkExhausted AlertKind = "sink-retries-exhausted"
)

// Alert is an operator-visible problem the controller cannot fix itself.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	At      time.Time `json:"at"`
	Desired int       `json:"desired"`
	Message string    `json:"message"`
	Err     string    `json:"error,omitempty"`
}

// Alerter delivers alerts to operators.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// Journal keeps the history of decisions.
type Journal interface {
	Record(ctx context.Context, d Decision)
}

// Status is a point-in-time view of the controller state.
type Status struct {
	Desired       int            `json:"desired"`
	LastAction    time.Time      `json:"lastAction"`
	ActiveFloors  map[string]int `json:"activeFloors"`
	ScheduleFloor int            `json:"scheduleFloor"`
	Pending       *int           `json:"pending,omitempty"`
	Bounds        CapacityBounds `json:"bounds"`
	Cooldown      string         `json:"cooldown"`
	LastDecision  *Decision      `json:"lastDecision,omitempty"`
}

// Options wires a Controller.
type Options struct {
	Bounds   CapacityBounds
	Steps    *StepEvaluator
	Schedule *ScheduleEvaluator
	Cooldown time.Duration

	// ScheduleLookback bounds how far back startup looks for schedule fires.
	ScheduleLookback time.Duration

	Sink    capacity.Sink
	Alerter Alerter
	Journal Journal
}

// Controller owns the desired capacity of the fleet. All state below is
// touched only by the goroutine running Run (or by direct Reconcile calls in tests).
type Controller struct {
	bounds   CapacityBounds
	steps    *StepEvaluator
	schedule *ScheduleEvaluator
	cooldown time.Duration
	lookback time.Duration
	sink     capacity.Sink
	alerter  Alerter
	journal  Journal
	newID    func() string
	now      func() time.Time

	events chan Event
	status *atomic.Pointer[Status]

	desired      int
	lastAction   time.Time
	activeFloors map[string]int
	pending      *int
}

func NewController(opts Options) *Controller {
	if opts.Steps == nil {
		opts.Steps = &StepEvaluator{}
	}
	if opts.Schedule == nil {
		opts.Schedule = &ScheduleEvaluator{}
	}
	if opts.ScheduleLookback <= 0 {
		opts.ScheduleLookback = DefaultScheduleLookback
	}
	if opts.Alerter == nil {
		opts.Alerter = nopAlerter{}
	}
	if opts.Journal == nil {
		opts.Journal = nopJournal{}
	}

	c := &Controller{
		bounds:       opts.Bounds,
		steps:        opts.Steps,
		schedule:     opts.Schedule,
		cooldown:     opts.Cooldown,
		lookback:     opts.ScheduleLookback,
		sink:         opts.Sink,
		alerter:      opts.Alerter,
		journal:      opts.Journal,
		newID:        uuid.NewString,
		now:          time.Now,
		events:       make(chan Event, 100),
		status:       atomic.NewPointer[Status](nil),
		desired:      opts.Bounds.Min,
		activeFloors: make(map[string]int),
	}
	c.publish(nil)
	return c
}

// Submit queues an event for the controller loop. It returns false if ctx
// ends first.
func (c *Controller) Submit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run drives reconciliations from samples and schedule fires until ctx is
// done. samples may be nil when reactive scaling is disabled.
func (c *Controller) Run(ctx context.Context, samples <-chan telemetry.Sample) error {
	initAt := c.now()
	c.Init(ctx, initAt)

	stop := c.schedule.Start(func(f Fire) {
		c.Submit(ctx, Event{Trigger: TriggerSchedule, At: f.At, Fire: &f})
	})
	defer stop()
	c.catchUp(ctx, initAt)

	log.Info().Msg("Controller started, waiting for triggers...")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Controller stopped")
			return nil
		case s, ok := <-samples:
			if !ok {
				samples = nil
				log.Warn().Msg("Sample stream closed; reactive scaling disabled")
				continue
			}
			c.Reconcile(ctx, Event{Trigger: TriggerMetric, At: s.At, Utilization: s.Utilization})
		case ev := <-c.events:
			c.Reconcile(ctx, ev)
		}
	}
}

// Init adopts the live fleet size, primes schedule floors that fired before
// now, and reconciles once.
func (c *Controller) Init(ctx context.Context, now time.Time) Decision {
	current, err := c.sink.Current(ctx)
	if err != nil {
		log.Warn().Err(err).Int("assumed", c.bounds.Min).Msg("Could not read current fleet size. Assuming minimum.")
		current = c.bounds.Min
	}
	c.desired = current

	for _, f := range c.schedule.Latest(now, c.lookback) {
		c.activeFloors[f.Group] = f.Floor
		log.Info().
			Str("rule", f.Rule).
			Str("group", f.Group).
			Int("floor", f.Floor).
			Time("firedAt", f.At).
			Msg("Schedule floor restored")
	}

	log.Info().
		Int("current", current).
		Int("min", c.bounds.Min).
		Int("max", c.bounds.Max).
		Int("scheduleFloor", Floor(c.activeFloors)).
		Msg("Controller state initialized")

	return c.Reconcile(ctx, Event{Trigger: TriggerStartup, At: now})
}

// catchUp replays fires that happened after since, while Init held the loop
// and before the cron runner was started.
func (c *Controller) catchUp(ctx context.Context, since time.Time) {
	for _, f := range c.schedule.Latest(c.now(), c.lookback) {
		if !f.At.After(since) {
			continue
		}
		log.Info().
			Str("rule", f.Rule).
			Time("firedAt", f.At).
			Msg("Schedule fire missed during startup, replaying")
		c.Reconcile(ctx, Event{Trigger: TriggerSchedule, At: f.At, Fire: &f})
	}
}

// Reconcile runs one decision for ev and applies it if allowed.
func (c *Controller) Reconcile(ctx context.Context, ev Event) Decision {
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	d := Decision{
		ID:       c.newID(),
		Trigger:  ev.Trigger,
		At:       ev.At,
		Previous: c.desired,
	}

	if ev.Fire != nil {
		c.activeFloors[ev.Fire.Group] = ev.Fire.Floor
		metrics.ScheduleFires.WithLabelValues(ev.Fire.Rule).Inc()
		log.Info().
			Str("rule", ev.Fire.Rule).
			Str("group", ev.Fire.Group).
			Int("floor", ev.Fire.Floor).
			Msg("Schedule rule fired")
	}
	d.ScheduleFloor = Floor(c.activeFloors)

	if c.pending != nil && *c.pending < c.bounds.Clamp(d.ScheduleFloor) {
		log.Warn().
			Int("pending", *c.pending).
			Int("scheduleFloor", d.ScheduleFloor).
			Msg("Dropping pending target below the active schedule floor")
		c.pending = nil
	}
	if c.pending != nil {
		target := *c.pending
		d.Candidate = target
		d.Desired = target
		d.Reason = "resending target from failed apply"
		c.apply(ctx, &d, target)
		c.finish(ctx, d)
		return d
	}

	if ev.Trigger == TriggerMetric {
		u := ev.Utilization
		d.Utilization = &u
		if delta, ok := c.steps.Evaluate(u); ok {
			d.Delta = delta
		} else {
			d.Reason = "utilization in dead zone"
		}
	}

	d.Candidate = c.desired + d.Delta
	d.Desired = c.bounds.Clamp(max(d.Candidate, d.ScheduleFloor))

	switch {
	case d.Desired == c.desired:
		d.Outcome = OutcomeUnchanged
	case c.inCooldown(ev.At):
		d.Outcome = OutcomeCooldown
		d.Reason = fmt.Sprintf("cooldown active for another %s", c.lastAction.Add(c.cooldown).Sub(ev.At))
	default:
		c.apply(ctx, &d, d.Desired)
	}

	c.finish(ctx, d)
	return d
}

// Status returns the latest published snapshot. Safe for concurrent use.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

func (c *Controller) inCooldown(at time.Time) bool {
	if c.lastAction.IsZero() {
		return false
	}
	return at.Sub(c.lastAction) < c.cooldown
}

func (c *Controller) apply(ctx context.Context, d *Decision, target int) {
	err := c.sink.Apply(ctx, target)
	switch {
	case err == nil:
		c.desired = target
		c.lastAction = d.At
		c.pending = nil
		d.Outcome = OutcomeApplied
	case capacity.IsFatal(err):
		c.pending = nil
		d.Outcome = OutcomeFailed
		d.Reason = err.Error()
		metrics.SinkErrors.WithLabelValues("fatal").Inc()
		c.alerter.Alert(ctx, Alert{
			Kind:    AlertSinkFatal,
			At:      d.At,
			Desired: target,
			Message: "capacity sink rejected the desired capacity",
			Err:     err.Error(),
		})
	default:
		c.pending = &target
		d.Outcome = OutcomeRetryPending
		d.Reason = err.Error()
		metrics.SinkErrors.WithLabelValues("transient").Inc()
		c.alerter.Alert(ctx, Alert{
			Kind:    AlertSinkExhausted,
			At:      d.At,
			Desired: target,
			Message: "capacity apply retries exhausted; will resend on next trigger",
			Err:     err.Error(),
		})
	}
}

func (c *Controller) finish(ctx context.Context, d Decision) {
	metrics.Decisions.WithLabelValues(string(d.Trigger), string(d.Outcome)).Inc()
	metrics.DesiredCapacity.Set(float64(c.desired))
	metrics.ScheduleFloor.Set(float64(d.ScheduleFloor))

	var ev *zerolog.Event
	switch d.Outcome {
	case OutcomeApplied:
		ev = log.Info()
	case OutcomeCooldown:
		ev = log.Info()
	case OutcomeUnchanged:
		ev = log.Debug()
	default:
		ev = log.Error()
	}
	if d.Utilization != nil {
		ev = ev.Float64("utilization", *d.Utilization)
	}
	ev.Str("decision", d.ID).
		Str("trigger", string(d.Trigger)).
		Time("tick", d.At).
		Int("previous", d.Previous).
		Int("delta", d.Delta).
		Int("scheduleFloor", d.ScheduleFloor).
		Int("candidate", d.Candidate).
		Int("newDesired", d.Desired).
		Str("outcome", string(d.Outcome)).
		Str("reason", d.Reason).
		Msg("Reconciled")

	c.journal.Record(ctx, d)
	c.publish(&d)
}

func (c *Controller) publish(last *Decision) {
	floors := make(map[string]int, len(c.activeFloors))
	for g, f := range c.activeFloors {
		floors[g] = f
	}
	var pending *int
	if c.pending != nil {
		p := *c.pending
		pending = &p
	}
	c.status.Store(&Status{
		Desired:       c.desired,
		LastAction:    c.lastAction,
		ActiveFloors:  floors,
		ScheduleFloor: Floor(floors),
		Pending:       pending,
		Bounds:        c.bounds,
		Cooldown:      c.cooldown.String(),
		LastDecision:  last,
	})
}

type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, Alert) {}

type nopJournal struct{}

func (nopJournal) Record(context.Context, Decision) {}
