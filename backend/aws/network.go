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

const defaultNetworkCIDR = "10.0.0.0/16"

// NetworkAdapter maps the network entity type onto VPCs.
type NetworkAdapter struct {
	client *ec2.Client
}

func (a *NetworkAdapter) List(ctx context.Context, scopeID string) ([]backend.Record, error) {
	paginator := ec2.NewDescribeVpcsPaginator(a.client, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{scopeFilter(scopeID)},
	})

	var records []backend.Record
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe vpcs: %w", err)
		}
		for _, vpc := range output.Vpcs {
			records = append(records, vpcRecord(vpc))
		}
	}
	return records, nil
}

func (a *NetworkAdapter) Get(ctx context.Context, backendID string) (*backend.Record, error) {
	output, err := a.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		VpcIds: []string{backendID},
	})
	if err != nil {
		return nil, fmt.Errorf("describe vpc %s: %w", backendID, err)
	}
	if len(output.Vpcs) == 0 {
		return nil, &types.NotFoundError{Kind: "vpc", ID: backendID}
	}
	rec := vpcRecord(output.Vpcs[0])
	return &rec, nil
}

func (a *NetworkAdapter) Create(ctx context.Context, spec backend.CreateSpec) (string, error) {
	cidr := spec.Attrs["cidr"]
	if cidr == "" {
		cidr = defaultNetworkCIDR
	}

	output, err := a.client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: aws.String(cidr),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeVpc,
			Tags:         baseTags(spec),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("create vpc: %w", err)
	}
	return aws.ToString(output.Vpc.VpcId), nil
}

func (a *NetworkAdapter) Update(ctx context.Context, backendID string, fields map[string]string) error {
	return applyTags(ctx, a.client, backendID, fields)
}

func (a *NetworkAdapter) Delete(ctx context.Context, backendID string) error {
	_, err := a.client.DeleteVpc(ctx, &ec2.DeleteVpcInput{
		VpcId: aws.String(backendID),
	})
	if err != nil {
		return fmt.Errorf("delete vpc %s: %w", backendID, err)
	}
	return nil
}

func vpcRecord(vpc ec2types.Vpc) backend.Record {
	return backend.Record{
		BackendID:   aws.ToString(vpc.VpcId),
		Name:        tagValue(vpc.Tags, nameTag),
		Description: tagValue(vpc.Tags, descriptionTag),
		Status:      string(vpc.State),
		Attrs: map[string]string{
			"cidr": aws.ToString(vpc.CidrBlock),
		},
	}
}
