// Package telemetry samples fleet CPU utilization for the controller.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/rshade/fleetscale/internal/metrics"
)

// DefaultPeriod is the sampling period used when none is configured.
const DefaultPeriod = 60 * time.Second

var (
	// ErrMetricUnavailable means the source has no value for the window.
	ErrMetricUnavailable = errors.New("metric unavailable")

	// ErrSamplerStarted is returned by a second call to Samples.
	ErrSamplerStarted = errors.New("sampler already started")
)

// Sample is the mean fleet utilization over the period ending at At.
type Sample struct {
	At          time.Time
	Utilization float64
}

// Source reads mean fleet utilization, in percent, over a trailing window.
type Source interface {
	Utilization(ctx context.Context, window time.Duration) (float64, error)
}

// Sampler polls a Source once per period.
type Sampler struct {
	source  Source
	period  time.Duration
	started atomic.Bool
}

func NewSampler(source Source, period time.Duration) *Sampler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Sampler{source: source, period: period}
}

// Samples starts polling and returns the sample stream. The channel is closed
// when ctx is done. Ticks whose read fails produce no sample.
func (s *Sampler) Samples(ctx context.Context) (<-chan Sample, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrSamplerStarted
	}

	out := make(chan Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				sample, ok := s.read(ctx, at)
				if !ok {
					continue
				}
				select {
				case out <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	log.Info().Dur("period", s.period).Msg("Metric sampler started")
	return out, nil
}

func (s *Sampler) read(ctx context.Context, at time.Time) (Sample, bool) {
	rctx, cancel := context.WithTimeout(ctx, s.period)
	defer cancel()

	v, err := s.source.Utilization(rctx, s.period)
	if err == nil {
		err = checkRange(v)
	}
	if err != nil {
		reason := "error"
		if errors.Is(err, ErrMetricUnavailable) {
			reason = "unavailable"
		}
		metrics.SamplesSkipped.WithLabelValues(reason).Inc()
		log.Warn().Err(err).Time("tick", at).Msg("Skipping tick: no utilization sample")
		return Sample{}, false
	}

	metrics.Utilization.Set(v)
	log.Debug().Time("tick", at).Float64("utilization", v).Msg("Sampled utilization")
	return Sample{At: at, Utilization: v}, true
}

func checkRange(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("%w: utilization %v outside [0, 100]", ErrMetricUnavailable, v)
	}
	return nil
}
