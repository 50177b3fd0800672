package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	mu     sync.Mutex
	values []float64
	errs   []error
	calls  int
}

func (s *scriptedSource) Utilization(_ context.Context, _ time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls % len(s.values)
	s.calls++
	return s.values[i], s.errs[i]
}

func TestSampler_SkipsFailedReads(t *testing.T) {
	src := &scriptedSource{
		values: []float64{40, 0, 150, 55},
		errs:   []error{nil, ErrMetricUnavailable, nil, errors.New("throttled")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	samples, err := NewSampler(src, 5*time.Millisecond).Samples(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		select {
		case s := <-samples:
			assert.Equal(t, 40.0, s.Utilization, "only the valid reading may be emitted")
			assert.False(t, s.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("no sample received")
		}
	}
}

func TestSampler_NotRestartable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSampler(&scriptedSource{values: []float64{1}, errs: []error{nil}}, time.Hour)
	_, err := s.Samples(ctx)
	require.NoError(t, err)
	_, err = s.Samples(ctx)
	assert.ErrorIs(t, err, ErrSamplerStarted)
}

func TestSampler_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	samples, err := NewSampler(&scriptedSource{values: []float64{1}, errs: []error{nil}}, time.Hour).Samples(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-samples:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestPushSource(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	p := NewPushSource(time.Minute)
	p.now = func() time.Time { return now }

	_, err := p.Utilization(context.Background(), time.Minute)
	assert.ErrorIs(t, err, ErrMetricUnavailable)

	require.NoError(t, p.Record(now.Add(-2*time.Minute), 90))
	require.NoError(t, p.Record(now.Add(-30*time.Second), 40))
	require.NoError(t, p.Record(now.Add(-10*time.Second), 60))
	assert.Error(t, p.Record(now, 101))

	v, err := p.Utilization(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, v, 1e-9)
}

func TestPushSource_RejectsFutureSamples(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	p := NewPushSource(time.Minute)
	p.now = func() time.Time { return now }

	err := p.Record(now.Add(24*time.Hour), 95)
	assert.ErrorIs(t, err, ErrSampleInFuture)
	require.NoError(t, p.Record(now.Add(MaxClockSkew), 30), "skew within tolerance is accepted")

	for _, later := range []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour} {
		now = now.Add(later)
		_, err := p.Utilization(context.Background(), time.Minute)
		assert.ErrorIs(t, err, ErrMetricUnavailable, "no live value %s later", later)
	}
}

func TestPushSource_RetentionBoundsMemory(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	p := NewPushSource(time.Minute)
	p.now = func() time.Time { return now }

	// One push per second for an hour, never read.
	for i := 0; i < 3600; i++ {
		require.NoError(t, p.Record(time.Time{}, 50))
		now = now.Add(time.Second)
	}
	assert.LessOrEqual(t, p.Len(), 61)

	v, err := p.Utilization(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)
}

type fakeCloudWatch struct {
	cloudwatchiface.CloudWatchAPI
	input      *cloudwatch.GetMetricStatisticsInput
	datapoints []*cloudwatch.Datapoint
}

func (f *fakeCloudWatch) GetMetricStatisticsWithContext(_ aws.Context, in *cloudwatch.GetMetricStatisticsInput, _ ...request.Option) (*cloudwatch.GetMetricStatisticsOutput, error) {
	f.input = in
	return &cloudwatch.GetMetricStatisticsOutput{Datapoints: f.datapoints}, nil
}

func TestCloudWatchSource(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	api := &fakeCloudWatch{datapoints: []*cloudwatch.Datapoint{
		{Average: aws.Float64(30)},
		{Average: aws.Float64(50)},
	}}
	src := &CloudWatchSource{cloudwatch: api, Cluster: "c", Service: "web", now: func() time.Time { return now }}

	v, err := src.Utilization(context.Background(), 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 40.0, v)
	assert.Equal(t, int64(120), aws.Int64Value(api.input.Period))
	assert.Equal(t, "AWS/ECS", aws.StringValue(api.input.Namespace))
	assert.Equal(t, now.Add(-90*time.Second), aws.TimeValue(api.input.StartTime))

	api.datapoints = nil
	_, err = src.Utilization(context.Background(), time.Minute)
	assert.ErrorIs(t, err, ErrMetricUnavailable)
}
