package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// ssmOperationTimeout covers IAM propagation delays on a fresh account.
const ssmOperationTimeout = 15 * time.Second

// SSMManager writes the parameters of one environment.
type SSMManager struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

func NewSSMManager(bctx *BootstrapContext) *SSMManager {
	return NewSSMManagerWithClient(ssm.NewFromConfig(bctx.AWSConfig), bctx.Environment, bctx.Logger)
}

func NewSSMManagerWithClient(client SSMClient, env string, logger *slog.Logger) *SSMManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSMManager{client: client, env: env, logger: logger}
}

func ssmPrefix(env string) string {
	return "/" + env + "/tasseo/"
}

// SSMPath places key ("database/url") under the environment's prefix.
func (m *SSMManager) SSMPath(key string) string {
	return ssmPrefix(m.env) + key
}

// ParameterExists probes path without decrypting it, so the check does not
// need kms:Decrypt.
func (m *SSMManager) ParameterExists(ctx context.Context, path string) (bool, error) {
	err := withTimeout(ctx, func(ctx context.Context) error {
		_, err := m.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(path)})
		return err
	})
	var notFound *ssmtypes.ParameterNotFound
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &notFound):
		return false, nil
	default:
		return false, fmt.Errorf("ssm: lookup %s: %w", path, err)
	}
}

// PutSecret stores value as a SecureString. Only its length is logged.
func (m *SSMManager) PutSecret(ctx context.Context, path, value string, overwrite bool) error {
	if err := m.put(ctx, path, value, ssmtypes.ParameterTypeSecureString, overwrite); err != nil {
		return err
	}
	m.logger.Info("SSM parameter written", "path", path, "type", "SecureString", "value_length", len(value))
	return nil
}

// PutString stores a plain String, replacing any previous value.
func (m *SSMManager) PutString(ctx context.Context, path, value string) error {
	if err := m.put(ctx, path, value, ssmtypes.ParameterTypeString, true); err != nil {
		return err
	}
	m.logger.Info("SSM parameter written", "path", path, "type", "String", "value", value)
	return nil
}

func (m *SSMManager) put(ctx context.Context, path, value string, kind ssmtypes.ParameterType, overwrite bool) error {
	switch {
	case path == "":
		return errors.New("ssm: empty parameter path")
	case value == "":
		return fmt.Errorf("ssm: empty value for %s", path)
	}
	err := withTimeout(ctx, func(ctx context.Context) error {
		_, err := m.client.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(path),
			Value:     aws.String(value),
			Type:      kind,
			Overwrite: aws.Bool(overwrite),
		})
		return err
	})
	var exists *ssmtypes.ParameterAlreadyExists
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exists):
		return fmt.Errorf("ssm: %s already exists: %w", path, err)
	default:
		return fmt.Errorf("ssm: write %s: %w", path, err)
	}
}

func withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()
	return fn(ctx)
}
