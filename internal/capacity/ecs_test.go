package capacity

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeECS struct {
	ecsiface.ECSAPI

	desired     int64
	updates     []int64
	describeErr error
	updateErr   error
	missing     bool
}

func (f *fakeECS) DescribeServicesWithContext(_ aws.Context, in *ecs.DescribeServicesInput, _ ...request.Option) (*ecs.DescribeServicesOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	if f.missing {
		return &ecs.DescribeServicesOutput{
			Failures: []*ecs.Failure{{Arn: in.Services[0], Reason: aws.String("MISSING")}},
		}, nil
	}
	return &ecs.DescribeServicesOutput{
		Services: []*ecs.Service{{
			ServiceName:  in.Services[0],
			DesiredCount: aws.Int64(f.desired),
		}},
	}, nil
}

func (f *fakeECS) UpdateServiceWithContext(_ aws.Context, in *ecs.UpdateServiceInput, _ ...request.Option) (*ecs.UpdateServiceOutput, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.desired = aws.Int64Value(in.DesiredCount)
	f.updates = append(f.updates, f.desired)
	return &ecs.UpdateServiceOutput{}, nil
}

func newTestECSSink(api *fakeECS) *ECSSink {
	return &ECSSink{ecs: api, Cluster: "cluster", Service: "web"}
}

func TestECSSink_ApplyIsIdempotent(t *testing.T) {
	api := &fakeECS{desired: 1}
	sink := newTestECSSink(api)
	ctx := context.Background()

	require.NoError(t, sink.Apply(ctx, 3))
	require.NoError(t, sink.Apply(ctx, 3))

	assert.Equal(t, []int64{3}, api.updates)
	current, err := sink.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, current)
}

func TestECSSink_MissingServiceIsFatal(t *testing.T) {
	sink := newTestECSSink(&fakeECS{missing: true})

	_, err := sink.Current(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Contains(t, err.Error(), "MISSING")
}

func TestECSSink_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantFatal bool
	}{
		{"access denied", awserr.New(ecs.ErrCodeAccessDeniedException, "nope", nil), true},
		{"service not found", awserr.New(ecs.ErrCodeServiceNotFoundException, "gone", nil), true},
		{"throttling", awserr.New("ThrottlingException", "slow down", nil), false},
		{"server error", awserr.New(ecs.ErrCodeServerException, "oops", nil), false},
		{"plain error", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newTestECSSink(&fakeECS{desired: 1, updateErr: tt.err})
			err := sink.Apply(context.Background(), 2)
			require.Error(t, err)
			assert.Equal(t, tt.wantFatal, IsFatal(err))
		})
	}
}
