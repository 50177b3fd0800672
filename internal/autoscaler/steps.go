package autoscaler

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"
)

// band is a half-open utilization interval (lower, upper]. nil bounds are infinite.
type band struct {
	lower *float64
	upper *float64
	label string
}

func (b band) contains(v float64) bool {
	if b.lower != nil && v <= *b.lower {
		return false
	}
	if b.upper != nil && v > *b.upper {
		return false
	}
	return true
}

func (b band) String() string {
	lo, hi := "-inf", "+inf"
	if b.lower != nil {
		lo = fmt.Sprintf("%g", *b.lower)
	}
	if b.upper != nil {
		hi = fmt.Sprintf("%g", *b.upper)
	}
	return fmt.Sprintf("%s (%s, %s]", b.label, lo, hi)
}

// StepEvaluator maps a utilization sample to a capacity delta.
// It is immutable after construction and safe for concurrent use.
type StepEvaluator struct {
	rules []StepRule
}

// NewStepEvaluator validates the rules and dead zones and builds an evaluator.
//
// Rules and dead zones together must tile the whole line without overlap, so
// every value lands in exactly one interval. An empty configuration disables
// reactive scaling.
func NewStepEvaluator(rules []StepRule, deadZones []DeadZone) (*StepEvaluator, error) {
	if len(rules) == 0 && len(deadZones) == 0 {
		return &StepEvaluator{}, nil
	}

	var errs error
	bands := make([]band, 0, len(rules)+len(deadZones))
	for i, r := range rules {
		bands = append(bands, band{lower: r.Lower, upper: r.Upper, label: fmt.Sprintf("steps[%d]", i)})
	}
	for i, z := range deadZones {
		bands = append(bands, band{lower: z.Lower, upper: z.Upper, label: fmt.Sprintf("deadZones[%d]", i)})
	}

	for _, b := range bands {
		errs = multierr.Append(errs, checkBand(b))
	}
	if errs != nil {
		return nil, errs
	}

	sort.SliceStable(bands, func(i, j int) bool {
		return lowerLess(bands[i].lower, bands[j].lower)
	})

	if bands[0].lower != nil {
		errs = multierr.Append(errs, &ConfigError{
			Field:  bands[0].label,
			Reason: fmt.Sprintf("values at or below %g match no step rule and are not a declared dead zone", *bands[0].lower),
		})
	}
	for i := 1; i < len(bands); i++ {
		prev, next := bands[i-1], bands[i]
		switch {
		case prev.upper == nil || next.lower == nil:
			errs = multierr.Append(errs, overlapError(prev, next))
		case *next.lower < *prev.upper:
			errs = multierr.Append(errs, overlapError(prev, next))
		case *next.lower > *prev.upper:
			errs = multierr.Append(errs, &ConfigError{
				Field:  next.label,
				Reason: fmt.Sprintf("gap (%g, %g] after %s is not a declared dead zone", *prev.upper, *next.lower, prev),
			})
		}
	}
	if last := bands[len(bands)-1]; last.upper != nil {
		errs = multierr.Append(errs, &ConfigError{
			Field:  last.label,
			Reason: fmt.Sprintf("values above %g match no step rule and are not a declared dead zone", *last.upper),
		})
	}
	if errs != nil {
		return nil, errs
	}

	return &StepEvaluator{rules: append([]StepRule(nil), rules...)}, nil
}

// Evaluate returns the delta of the rule containing utilization.
// ok is false when the value falls in a dead zone.
func (e *StepEvaluator) Evaluate(utilization float64) (delta int, ok bool) {
	for _, r := range e.rules {
		if (band{lower: r.Lower, upper: r.Upper}).contains(utilization) {
			return r.Delta, true
		}
	}
	return 0, false
}

// Rules returns a copy of the configured step rules.
func (e *StepEvaluator) Rules() []StepRule {
	return append([]StepRule(nil), e.rules...)
}

func checkBand(b band) error {
	var errs error
	for _, bound := range []*float64{b.lower, b.upper} {
		if bound != nil && (*bound < 0 || *bound > 100) {
			errs = multierr.Append(errs, &ConfigError{
				Field:  b.label,
				Reason: fmt.Sprintf("bound %g outside [0, 100]", *bound),
			})
		}
	}
	if b.lower != nil && b.upper != nil && *b.lower >= *b.upper {
		errs = multierr.Append(errs, &ConfigError{
			Field:  b.label,
			Reason: fmt.Sprintf("lower bound %g must be below upper bound %g", *b.lower, *b.upper),
		})
	}
	return errs
}

func overlapError(a, b band) error {
	return &ConfigError{
		Field:  b.label,
		Reason: fmt.Sprintf("overlaps %s", a),
	}
}

// lowerLess orders lower bounds with nil (-inf) first.
func lowerLess(a, b *float64) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return *a < *b
}
