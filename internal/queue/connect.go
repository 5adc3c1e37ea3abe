package queue

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// ClientConfig names the connection parameters for the SQS client. Region
// and an optional endpoint override (for LocalStack/testcontainers, and
// for any self-hosted SQS-compatible endpoint) are the only knobs this
// package needs; credentials come from the default provider chain unless
// AccessKeyID is set.
type ClientConfig struct {
	Region          string
	Endpoint        string // non-empty overrides the default SQS endpoint
	AccessKeyID     string
	SecretAccessKey string
}

// NewSQSClient builds an *sqs.Client from cfg, following the default AWS
// config loading chain unless static credentials are supplied.
func NewSQSClient(ctx context.Context, cfg ClientConfig) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	}), nil
}
