package config

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// GetParameters accepts at most ten names per call.
const ssmMaxBatchSize = 10

type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider reads SecureString parameters from Parameter Store. The SDK
// client is built on first use so local runs never touch AWS config.
type SSMProvider struct {
	region string
	client ssmClient
}

func NewSSMProvider(region string) *SSMProvider {
	return &SSMProvider{region: region}
}

func newSSMProviderWithClient(region string, client ssmClient) *SSMProvider {
	return &SSMProvider{region: region, client: client}
}

func (p *SSMProvider) sdk(ctx context.Context) (ssmClient, error) {
	if p.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
		if err != nil {
			return nil, fmt.Errorf("ssm: loading AWS config for %s: %w", p.region, err)
		}
		p.client = ssm.NewFromConfig(cfg)
	}
	return p.client, nil
}

// GetParametersBatch decrypts every key. Keys SSM does not know are
// collected across batches and reported together as one error.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}
	client, err := p.sdk(ctx)
	if err != nil {
		return nil, err
	}

	var missing []string
	for names := range slices.Chunk(keys, ssmMaxBatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ssm: resolving parameters: %w", err)
		}
		out, err := client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          names,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("ssm: GetParameters for %s: %w", strings.Join(names, ","), err)
		}
		for _, param := range out.Parameters {
			values[aws.ToString(param.Name)] = aws.ToString(param.Value)
		}
		missing = append(missing, out.InvalidParameters...)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("ssm: parameters not found: %s", strings.Join(missing, ", "))
	}
	return values, nil
}
