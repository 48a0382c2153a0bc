package provisioning

import (
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// BuildRunInput maps an InstanceSpec into the EC2 RunInstances payload.
// Pure function: no side effects, no network calls.
//
// Security groups are mutually exclusive by representation: with a subnet
// the request carries subnet-scoped group IDs (SecurityGroupIds), without
// one it carries classic group names (SecurityGroups). An empty set omits
// both fields.
func BuildRunInput(spec InstanceSpec) *ec2.RunInstancesInput {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
	}

	if spec.AvailabilityZone != "" {
		input.Placement = &types.Placement{
			AvailabilityZone: aws.String(spec.AvailabilityZone),
		}
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}
	if spec.PrivateIP != "" {
		input.PrivateIpAddress = aws.String(spec.PrivateIP)
	}
	if spec.SubnetID != "" {
		input.SubnetId = aws.String(spec.SubnetID)
	}

	if len(spec.SecurityGroups) > 0 {
		if spec.SubnetID != "" {
			input.SecurityGroupIds = spec.SecurityGroups
		} else {
			input.SecurityGroups = spec.SecurityGroups
		}
	}

	if len(spec.Tags) > 0 {
		keys := make([]string, 0, len(spec.Tags))
		for k := range spec.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		tags := make([]types.Tag, 0, len(keys))
		for _, k := range keys {
			tags = append(tags, types.Tag{
				Key:   aws.String(k),
				Value: aws.String(spec.Tags[k]),
			})
		}
		input.TagSpecifications = []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags:         tags,
			},
		}
	}

	return input
}
