package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
)

// CloudWatchSource reads the ECS service CPUUtilization average.
type CloudWatchSource struct {
	cloudwatch cloudwatchiface.CloudWatchAPI
	Cluster    string
	Service    string

	now func() time.Time
}

func NewCloudWatchSource(sess *session.Session, cluster, service string) *CloudWatchSource {
	return &CloudWatchSource{
		cloudwatch: cloudwatch.New(sess),
		Cluster:    cluster,
		Service:    service,
		now:        time.Now,
	}
}

// Utilization returns the mean of the Average datapoints in the window.
func (c *CloudWatchSource) Utilization(ctx context.Context, window time.Duration) (float64, error) {
	end := c.now()
	params := &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/ECS"),
		MetricName: aws.String("CPUUtilization"),
		Period:     aws.Int64(periodSeconds(window)),
		StartTime:  aws.Time(end.Add(-window)),
		EndTime:    aws.Time(end),
		Statistics: []*string{aws.String(cloudwatch.StatisticAverage)},
		Dimensions: []*cloudwatch.Dimension{
			{Name: aws.String("ClusterName"), Value: aws.String(c.Cluster)},
			{Name: aws.String("ServiceName"), Value: aws.String(c.Service)},
		},
	}
	resp, err := c.cloudwatch.GetMetricStatisticsWithContext(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("get CPUUtilization for %s/%s: %w", c.Cluster, c.Service, err)
	}

	var (
		sum float64
		n   int
	)
	for _, p := range resp.Datapoints {
		if p.Average == nil {
			continue
		}
		sum += *p.Average
		n++
	}
	if n == 0 {
		return 0, ErrMetricUnavailable
	}
	return sum / float64(n), nil
}

// periodSeconds rounds window up to the 60s granularity CloudWatch accepts.
func periodSeconds(window time.Duration) int64 {
	s := int64(window / time.Second)
	if s < 60 {
		return 60
	}
	if rem := s % 60; rem != 0 {
		s += 60 - rem
	}
	return s
}
