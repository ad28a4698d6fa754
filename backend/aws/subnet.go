package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/ohjaamo/backend"
	"github.com/yairfalse/ohjaamo/types"
)

// SubnetAdapter maps the subnet entity type onto VPC subnets. The
// parent ID of a subnet record is its VPC.
type SubnetAdapter struct {
	client *ec2.Client
}

func (a *SubnetAdapter) List(ctx context.Context, scopeID string) ([]backend.Record, error) {
	paginator := ec2.NewDescribeSubnetsPaginator(a.client, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{scopeFilter(scopeID)},
	})

	var records []backend.Record
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe subnets: %w", err)
		}
		for _, subnet := range output.Subnets {
			records = append(records, subnetRecord(subnet))
		}
	}
	return records, nil
}

func (a *SubnetAdapter) Get(ctx context.Context, backendID string) (*backend.Record, error) {
	output, err := a.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		SubnetIds: []string{backendID},
	})
	if err != nil {
		return nil, fmt.Errorf("describe subnet %s: %w", backendID, err)
	}
	if len(output.Subnets) == 0 {
		return nil, &types.NotFoundError{Kind: "subnet", ID: backendID}
	}
	rec := subnetRecord(output.Subnets[0])
	return &rec, nil
}

func (a *SubnetAdapter) Create(ctx context.Context, spec backend.CreateSpec) (string, error) {
	if spec.ParentID == "" {
		return "", types.Validationf("subnet create needs a parent network")
	}
	cidr := spec.Attrs["cidr"]
	if cidr == "" {
		return "", types.Validationf("subnet create needs a cidr attribute")
	}

	output, err := a.client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:     aws.String(spec.ParentID),
		CidrBlock: aws.String(cidr),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSubnet,
			Tags:         baseTags(spec),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("create subnet: %w", err)
	}
	return aws.ToString(output.Subnet.SubnetId), nil
}

func (a *SubnetAdapter) Update(ctx context.Context, backendID string, fields map[string]string) error {
	return applyTags(ctx, a.client, backendID, fields)
}

func (a *SubnetAdapter) Delete(ctx context.Context, backendID string) error {
	_, err := a.client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{
		SubnetId: aws.String(backendID),
	})
	if err != nil {
		return fmt.Errorf("delete subnet %s: %w", backendID, err)
	}
	return nil
}

func subnetRecord(subnet ec2types.Subnet) backend.Record {
	return backend.Record{
		BackendID:   aws.ToString(subnet.SubnetId),
		Name:        tagValue(subnet.Tags, nameTag),
		Description: tagValue(subnet.Tags, descriptionTag),
		Status:      string(subnet.State),
		ParentID:    aws.ToString(subnet.VpcId),
		Attrs: map[string]string{
			"cidr": aws.ToString(subnet.CidrBlock),
			"az":   aws.ToString(subnet.AvailabilityZone),
		},
	}
}
