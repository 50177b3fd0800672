package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/rs/zerolog/log"
)

// ECSSink sets the desired task count of an ECS service.
type ECSSink struct {
	ecs     ecsiface.ECSAPI
	Cluster string
	Service string
}

func NewECSSink(sess *session.Session, cluster, service string) *ECSSink {
	return &ECSSink{
		ecs:     ecs.New(sess),
		Cluster: cluster,
		Service: service,
	}
}

// Current returns the service's desired count.
func (s *ECSSink) Current(ctx context.Context) (int, error) {
	out, err := s.ecs.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(s.Cluster),
		Services: []*string{aws.String(s.Service)},
	})
	if err != nil {
		return 0, classifyAWS(fmt.Errorf("describe service %s/%s: %w", s.Cluster, s.Service, err))
	}
	for _, svc := range out.Services {
		if aws.StringValue(svc.ServiceName) == s.Service || aws.StringValue(svc.ServiceArn) == s.Service {
			return int(aws.Int64Value(svc.DesiredCount)), nil
		}
	}
	reason := "not found"
	if len(out.Failures) > 0 {
		reason = aws.StringValue(out.Failures[0].Reason)
	}
	return 0, Fatal(fmt.Errorf("service %s/%s: %s", s.Cluster, s.Service, reason))
}

// Apply updates the desired count. An unchanged count skips the update.
func (s *ECSSink) Apply(ctx context.Context, desired int) error {
	current, err := s.Current(ctx)
	if err != nil {
		return err
	}
	if current == desired {
		log.Debug().Int("desired", desired).Str("service", s.Service).Msg("Desired count already set")
		return nil
	}

	_, err = s.ecs.UpdateServiceWithContext(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(s.Cluster),
		Service:      aws.String(s.Service),
		DesiredCount: aws.Int64(int64(desired)),
	})
	if err != nil {
		return classifyAWS(fmt.Errorf("update service %s/%s: %w", s.Cluster, s.Service, err))
	}
	log.Info().
		Str("cluster", s.Cluster).
		Str("service", s.Service).
		Int("previous", current).
		Int("desired", desired).
		Msg("ECS service updated")
	return nil
}

func classifyAWS(err error) error {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return err
	}
	switch aerr.Code() {
	case ecs.ErrCodeAccessDeniedException,
		ecs.ErrCodeClusterNotFoundException,
		ecs.ErrCodeServiceNotFoundException,
		ecs.ErrCodeServiceNotActiveException,
		ecs.ErrCodeInvalidParameterException,
		"UnrecognizedClientException":
		return Fatal(err)
	}
	return err
}
