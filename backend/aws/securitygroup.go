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

// SecurityGroupAdapter maps the security-group entity type onto EC2
// security groups.
type SecurityGroupAdapter struct {
	client *ec2.Client
}

func (a *SecurityGroupAdapter) List(ctx context.Context, scopeID string) ([]backend.Record, error) {
	paginator := ec2.NewDescribeSecurityGroupsPaginator(a.client, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{scopeFilter(scopeID)},
	})

	var records []backend.Record
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe security groups: %w", err)
		}
		for _, group := range output.SecurityGroups {
			records = append(records, securityGroupRecord(group))
		}
	}
	return records, nil
}

func (a *SecurityGroupAdapter) Get(ctx context.Context, backendID string) (*backend.Record, error) {
	output, err := a.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{backendID},
	})
	if err != nil {
		return nil, fmt.Errorf("describe security group %s: %w", backendID, err)
	}
	if len(output.SecurityGroups) == 0 {
		return nil, &types.NotFoundError{Kind: "security group", ID: backendID}
	}
	rec := securityGroupRecord(output.SecurityGroups[0])
	return &rec, nil
}

func (a *SecurityGroupAdapter) Create(ctx context.Context, spec backend.CreateSpec) (string, error) {
	if spec.Name == "" {
		return "", types.Validationf("security group create needs a name")
	}
	description := spec.Description
	if description == "" {
		description = spec.Name
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(spec.Name),
		Description: aws.String(description),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSecurityGroup,
			Tags:         baseTags(spec),
		}},
	}
	if spec.ParentID != "" {
		input.VpcId = aws.String(spec.ParentID)
	}

	output, err := a.client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", fmt.Errorf("create security group: %w", err)
	}
	return aws.ToString(output.GroupId), nil
}

func (a *SecurityGroupAdapter) Update(ctx context.Context, backendID string, fields map[string]string) error {
	return applyTags(ctx, a.client, backendID, fields)
}

func (a *SecurityGroupAdapter) Delete(ctx context.Context, backendID string) error {
	_, err := a.client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(backendID),
	})
	if err != nil {
		return fmt.Errorf("delete security group %s: %w", backendID, err)
	}
	return nil
}

func securityGroupRecord(group ec2types.SecurityGroup) backend.Record {
	return backend.Record{
		BackendID:   aws.ToString(group.GroupId),
		Name:        aws.ToString(group.GroupName),
		Description: aws.ToString(group.Description),
		Status:      "available",
		ParentID:    aws.ToString(group.VpcId),
		Attrs: map[string]string{
			"owner": aws.ToString(group.OwnerId),
		},
	}
}
