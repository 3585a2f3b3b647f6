package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/spf13/viper"
)

// SecretSource is the subset of the Secrets Manager API used at startup.
type SecretSource interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// secretAliases maps the short names used in the deployment secret onto
// config keys. Any other key is applied verbatim.
var secretAliases = map[string]string{
	"region":          "auth.region",
	"userPoolId":      "auth.userPoolId",
	"clientId":        "auth.clientId",
	"connectionTable": "storage.connectionTable",
	"messageTable":    "storage.messageTable",
}

func newSecretsManagerSource(ctx context.Context, region string) (SecretSource, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

func applySecret(ctx context.Context, v *viper.Viper, source SecretSource, secretID string) error {
	if secretID == "" {
		return errors.New("secret id is empty")
	}
	out, err := source.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return fmt.Errorf("get secret %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", secretID)
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return fmt.Errorf("secret %s is not a JSON object: %w", secretID, err)
	}
	for key, value := range values {
		if alias, ok := secretAliases[key]; ok {
			key = alias
		}
		v.Set(key, value)
	}
	return nil
}
