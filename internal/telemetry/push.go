package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MaxClockSkew is how far ahead of the local clock a pushed sample may be dated.
const MaxClockSkew = 5 * time.Second

// ErrSampleInFuture rejects pushed samples dated beyond MaxClockSkew.
var ErrSampleInFuture = errors.New("sample dated in the future")

type point struct {
	at    time.Time
	value float64
}

// PushSource averages utilization values pushed to it, e.g. over HTTP.
// Points older than the retention are dropped on every Record, so memory
// stays bounded even when nothing reads the source.
type PushSource struct {
	mu        sync.Mutex
	points    []point
	retention time.Duration
	now       func() time.Time
}

// NewPushSource keeps pushed values for retention, which should be at least
// the sampling window. Zero uses DefaultPeriod.
func NewPushSource(retention time.Duration) *PushSource {
	if retention <= 0 {
		retention = DefaultPeriod
	}
	return &PushSource{retention: retention, now: time.Now}
}

// Record stores a utilization value observed at at. A zero at means now.
func (p *PushSource) Record(at time.Time, utilization float64) error {
	if err := checkRange(utilization); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if at.IsZero() {
		at = now
	}
	if at.After(now.Add(MaxClockSkew)) {
		return fmt.Errorf("%w: %s is %s ahead of local time", ErrSampleInFuture, at.Format(time.RFC3339), at.Sub(now))
	}

	p.prune(now.Add(-p.retention))
	p.points = append(p.points, point{at: at, value: utilization})
	return nil
}

// Utilization returns the mean of values recorded within the trailing window.
func (p *PushSource) Utilization(_ context.Context, window time.Duration) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-window)
	p.prune(cutoff)

	if len(p.points) == 0 {
		return 0, ErrMetricUnavailable
	}
	var sum float64
	for _, pt := range p.points {
		sum += pt.value
	}
	return sum / float64(len(p.points)), nil
}

// prune drops points at or before cutoff. Callers hold mu.
func (p *PushSource) prune(cutoff time.Time) {
	kept := p.points[:0]
	for _, pt := range p.points {
		if pt.at.After(cutoff) {
			kept = append(kept, pt)
		}
	}
	p.points = kept
}

// Len reports how many points are retained.
func (p *PushSource) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.points)
}
