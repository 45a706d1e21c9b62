// Package awsenv builds the AWS part of a handler's process environment.
package awsenv

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Settings selects the region and, optionally, the credentials passed to the
// handler.
type Settings struct {
	Region  string
	Profile string
	// Credentials resolves credentials through the default AWS chain (or the
	// static keys below) and exports them to the handler.
	Credentials     bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Function describes the simulated function for the Lambda environment
// variables.
type Function struct {
	Name     string
	Version  string
	MemoryMB int
	Handler  string
	TaskRoot string
}

// LambdaEnv returns the reserved variables the Lambda runtime sets for every
// function.
func LambdaEnv(fn Function, region string) []string {
	env := []string{
		"AWS_LAMBDA_FUNCTION_NAME=" + fn.Name,
		"AWS_LAMBDA_FUNCTION_VERSION=" + fn.Version,
		"AWS_LAMBDA_FUNCTION_MEMORY_SIZE=" + strconv.Itoa(fn.MemoryMB),
		"AWS_LAMBDA_LOG_GROUP_NAME=/aws/lambda/" + fn.Name,
		"AWS_LAMBDA_LOG_STREAM_NAME=LAMBDA_INVOKE",
		"AWS_EXECUTION_ENV=AWS_Lambda_nodejs",
		"_HANDLER=" + fn.Handler,
		"LAMBDA_TASK_ROOT=" + fn.TaskRoot,
	}
	if region != "" {
		env = append(env, "AWS_REGION="+region, "AWS_DEFAULT_REGION="+region)
	}
	return env
}

// Resolve returns the region and credential variables described by s. When
// s.Credentials is false only the region is exported and no AWS lookup
// happens.
func Resolve(ctx context.Context, s Settings) ([]string, aws.Config, error) {
	if !s.Credentials {
		cfg := aws.Config{Region: s.Region}
		return regionEnv(cfg.Region), cfg, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if s.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.Region))
	}
	if s.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s.Profile))
	}
	if s.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, s.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}

	env := regionEnv(cfg.Region)
	if cfg.Credentials == nil {
		return env, cfg, nil
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, aws.Config{}, fmt.Errorf("retrieve AWS credentials: %w", err)
	}
	env = append(env,
		"AWS_ACCESS_KEY_ID="+creds.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY="+creds.SecretAccessKey,
	)
	if creds.SessionToken != "" {
		env = append(env, "AWS_SESSION_TOKEN="+creds.SessionToken)
	}
	return env, cfg, nil
}

func regionEnv(region string) []string {
	if region == "" {
		return nil
	}
	return []string{"AWS_REGION=" + region, "AWS_DEFAULT_REGION=" + region}
}
