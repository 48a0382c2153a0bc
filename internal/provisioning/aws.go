package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// AWSCloud implements the Cloud interface against EC2
type AWSCloud struct {
	client *ec2.Client
}

// NewAWSCloud creates a new AWSCloud. When accessKey is empty the default
// credential chain is used (env, shared credentials file, instance profile).
func NewAWSCloud(ctx context.Context, region, accessKey, secretKey string) (*AWSCloud, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSCloud{client: ec2.NewFromConfig(cfg)}, nil
}

// Submit sends the RunInstances request and returns the instance handle
func (c *AWSCloud) Submit(ctx context.Context, spec InstanceSpec) (*Instance, error) {
	output, err := c.client.RunInstances(ctx, BuildRunInput(spec))
	if err != nil {
		return nil, translateSubmitError(err, spec.SubnetID)
	}
	if len(output.Instances) == 0 {
		return nil, &ProvisioningError{Message: "provider returned no instances"}
	}

	inst := output.Instances[0]
	return &Instance{
		ID:        aws.ToString(inst.InstanceId),
		PublicIP:  aws.ToString(inst.PublicIpAddress),
		PrivateIP: aws.ToString(inst.PrivateIpAddress),
		State:     string(inst.State.Name),
	}, nil
}

// WaitReady performs a single readiness check. It returns nil once the
// instance is running, an ErrNotReady-wrapped error while it is still
// pending, and a terminal error for any other state.
func (c *AWSCloud) WaitReady(ctx context.Context, instanceID string) error {
	desc, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	if len(desc.Reservations) == 0 || len(desc.Reservations[0].Instances) == 0 {
		return fmt.Errorf("instance %s disappeared while waiting", instanceID)
	}

	switch state := desc.Reservations[0].Instances[0].State.Name; state {
	case types.InstanceStateNameRunning:
		return nil
	case types.InstanceStateNamePending:
		return fmt.Errorf("instance %s is pending: %w", instanceID, ErrNotReady)
	default:
		return fmt.Errorf("instance %s entered unexpected state %s", instanceID, state)
	}
}

// DescribeAddress returns the current public and private addresses of the
// instance. Public addresses are assigned asynchronously, so callers read
// this after readiness rather than from the submission response.
func (c *AWSCloud) DescribeAddress(ctx context.Context, instanceID string) (public, private string, err error) {
	desc, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	if len(desc.Reservations) == 0 || len(desc.Reservations[0].Instances) == 0 {
		return "", "", fmt.Errorf("instance %s not found", instanceID)
	}
	inst := desc.Reservations[0].Instances[0]
	return aws.ToString(inst.PublicIpAddress), aws.ToString(inst.PrivateIpAddress), nil
}

// AttachVolume binds an existing EBS volume to the instance
func (c *AWSCloud) AttachVolume(ctx context.Context, instanceID, volumeID, device string) error {
	_, err := c.client.AttachVolume(ctx, &ec2.AttachVolumeInput{
		InstanceId: aws.String(instanceID),
		VolumeId:   aws.String(volumeID),
		Device:     aws.String(device),
	})
	if err != nil {
		return fmt.Errorf("failed to attach volume %s to %s: %w", volumeID, instanceID, err)
	}
	return nil
}

// Terminate destroys the instance. An already-terminated or unknown
// instance is treated as success so teardown stays idempotent.
func (c *AWSCloud) Terminate(ctx context.Context, instanceID string) error {
	_, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}
	return nil
}

// translateSubmitError maps provider-side submission failures onto the
// domain error taxonomy
func translateSubmitError(err error, subnetID string) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return &ProvisioningError{Message: err.Error()}
	}
	if isSubnetNotFound(apiErr) {
		return &SubnetNotFoundError{SubnetID: subnetID}
	}
	return &ProvisioningError{Message: apiErr.ErrorMessage()}
}

func isSubnetNotFound(apiErr smithy.APIError) bool {
	if apiErr.ErrorCode() == "InvalidSubnetID.NotFound" {
		return true
	}
	// Some endpoints report subnet problems under a generic not-found code
	return strings.Contains(apiErr.ErrorCode(), "NotFound") &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "subnet")
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.ErrorCode(), "NotFound")
}
