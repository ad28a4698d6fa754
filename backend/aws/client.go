// Package aws implements backend adapters for EC2-hosted entity
// types: networks as VPCs, subnets, and security groups. Scope
// membership travels on a tag so listings stay cheap.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/ohjaamo/backend"
	"github.com/yairfalse/ohjaamo/types"
)

const (
	scopeTag       = "ohjaamo:scope"
	descriptionTag = "ohjaamo:description"
	nameTag        = "Name"
)

func init() {
	backend.Register(types.TypeNetwork, func(ctx context.Context, cfg backend.Config) (backend.Adapter, error) {
		client, err := newEC2Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &NetworkAdapter{client: client}, nil
	})
	backend.Register(types.TypeSubnet, func(ctx context.Context, cfg backend.Config) (backend.Adapter, error) {
		client, err := newEC2Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &SubnetAdapter{client: client}, nil
	})
	backend.Register(types.TypeSecurityGroup, func(ctx context.Context, cfg backend.Config) (backend.Adapter, error) {
		client, err := newEC2Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &SecurityGroupAdapter{client: client}, nil
	})
}

func newEC2Client(ctx context.Context, cfg backend.Config) (*ec2.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return ec2.NewFromConfig(awsCfg), nil
}

// scopeFilter restricts a Describe call to one scope's objects.
func scopeFilter(scopeID string) ec2types.Filter {
	return ec2types.Filter{
		Name:   aws.String("tag:" + scopeTag),
		Values: []string{scopeID},
	}
}

// baseTags builds the tag set every created object carries.
func baseTags(spec backend.CreateSpec) []ec2types.Tag {
	tags := []ec2types.Tag{
		{Key: aws.String(scopeTag), Value: aws.String(spec.ScopeID)},
	}
	if spec.Name != "" {
		tags = append(tags, ec2types.Tag{Key: aws.String(nameTag), Value: aws.String(spec.Name)})
	}
	if spec.Description != "" {
		tags = append(tags, ec2types.Tag{Key: aws.String(descriptionTag), Value: aws.String(spec.Description)})
	}
	return tags
}

// fieldTags maps trackable-field updates to tag writes.
func fieldTags(fields map[string]string) []ec2types.Tag {
	var tags []ec2types.Tag
	if name, ok := fields["name"]; ok {
		tags = append(tags, ec2types.Tag{Key: aws.String(nameTag), Value: aws.String(name)})
	}
	if desc, ok := fields["description"]; ok {
		tags = append(tags, ec2types.Tag{Key: aws.String(descriptionTag), Value: aws.String(desc)})
	}
	return tags
}

// applyTags pushes tag updates for one object; a no-op when nothing
// trackable changed.
func applyTags(ctx context.Context, client *ec2.Client, backendID string, fields map[string]string) error {
	tags := fieldTags(fields)
	if len(tags) == 0 {
		return nil
	}
	_, err := client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{backendID},
		Tags:      tags,
	})
	if err != nil {
		return fmt.Errorf("tag %s: %w", backendID, err)
	}
	return nil
}

func tagValue(tags []ec2types.Tag, key string) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}
